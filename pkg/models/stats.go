package models

// NodeStats are the materialized counters of one node.
type NodeStats struct {
	Processed    int64 `json:"processed"`
	Delivered    int64 `json:"delivered"`
	Opened       int64 `json:"opened"`
	Clicked      int64 `json:"clicked"`
	Bounced      int64 `json:"bounced"`
	Unsubscribed int64 `json:"unsubscribed"`
}

// FlowStats is the read model served to flow authors.
type FlowStats struct {
	FlowID        string               `json:"flow_id"`
	TriggerActive int64                `json:"trigger_active"`
	Completed     int64                `json:"completed"`
	Failed        int64                `json:"failed"`
	Cancelled     int64                `json:"cancelled"`
	Stats         map[string]NodeStats `json:"stats"`
}
