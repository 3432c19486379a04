package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownNodeType = errors.New("unknown node type")

// Step is the decoded, closed form of a Node. The engine switches over the
// concrete variants: TriggerStep, EmailStep, DelayStep and ConditionStep.
type Step interface {
	NodeID() string
	isStep()
}

type TriggerStep struct {
	ID string
}

type EmailStep struct {
	ID          string
	TemplateRef string
}

type DelayStep struct {
	ID    string
	Delay DelaySpec
}

type ConditionStep struct {
	ID        string
	Condition ConditionSpec
}

func (s TriggerStep) NodeID() string   { return s.ID }
func (s EmailStep) NodeID() string     { return s.ID }
func (s DelayStep) NodeID() string     { return s.ID }
func (s ConditionStep) NodeID() string { return s.ID }

func (TriggerStep) isStep()   {}
func (EmailStep) isStep()     {}
func (DelayStep) isStep()     {}
func (ConditionStep) isStep() {}

// DelayMode selects how a delay node computes its wake-up instant.
type DelayMode string

const (
	DelayModeRelative DelayMode = "relative"
	DelayModeAbsolute DelayMode = "absolute"
)

// DelayUnit is the unit of a relative delay.
type DelayUnit string

const (
	DelayUnitMinute DelayUnit = "minute"
	DelayUnitHour   DelayUnit = "hour"
	DelayUnitDay    DelayUnit = "day"
	DelayUnitWeek   DelayUnit = "week"
	DelayUnitMonth  DelayUnit = "month"
)

// DelaySpec is the config of a delay node. Relative delays use Amount and
// Unit; absolute delays use Date (YYYY-MM-DD) and an optional Time (HH:MM).
// A spec carrying a Date without Mode is treated as absolute.
type DelaySpec struct {
	Mode   DelayMode `json:"mode,omitempty"`
	Amount int       `json:"amount,omitempty"`
	Unit   DelayUnit `json:"unit,omitempty"`
	Date   string    `json:"date,omitempty"`
	Time   string    `json:"time,omitempty"`
}

// ConditionKind names a condition evaluator.
type ConditionKind string

const (
	ConditionTagExists        ConditionKind = "tag_exists"
	ConditionTagNotExists     ConditionKind = "tag_not_exists"
	ConditionFieldEquals      ConditionKind = "field_equals"
	ConditionFieldContains    ConditionKind = "field_contains"
	ConditionFieldStartsWith  ConditionKind = "field_starts_with"
	ConditionFieldEndsWith    ConditionKind = "field_ends_with"
	ConditionEmailOpened      ConditionKind = "email_opened"
	ConditionLinkClicked      ConditionKind = "link_clicked"
	ConditionProductPurchased ConditionKind = "product_purchased"
	ConditionEventOccurred    ConditionKind = "event_occurred"
	ConditionAbandonedCart    ConditionKind = "abandoned_cart"
)

// ConditionSpec is the config of a condition node. Which operand fields are
// read depends on Kind.
type ConditionSpec struct {
	Kind        ConditionKind `json:"kind"`
	Tag         string        `json:"tag,omitempty"`
	Field       string        `json:"field,omitempty"`
	Value       string        `json:"value,omitempty"`
	TemplateRef string        `json:"template_ref,omitempty"`
	URL         string        `json:"url,omitempty"`
	Product     string        `json:"product,omitempty"`
	Event       string        `json:"event,omitempty"`
	CartTimeout int           `json:"cart_timeout,omitempty"` // minutes
}

type emailConfig struct {
	TemplateRef string `json:"template_ref"`
}

// ParseStep decodes a node's config into its Step variant. It only checks
// that the config has the right shape; semantic checks live with the
// delay and condition packages.
func ParseStep(node Node) (Step, error) {
	switch node.Type {
	case NodeTypeTrigger:
		return TriggerStep{ID: node.ID}, nil
	case NodeTypeEmail:
		var cfg emailConfig
		if err := decodeConfig(node.Config, &cfg); err != nil {
			return nil, fmt.Errorf("node %s: %w", node.ID, err)
		}

		if cfg.TemplateRef == "" {
			return nil, fmt.Errorf("node %s: template_ref is required", node.ID)
		}

		return EmailStep{ID: node.ID, TemplateRef: cfg.TemplateRef}, nil
	case NodeTypeDelay:
		var spec DelaySpec
		if err := decodeConfig(node.Config, &spec); err != nil {
			return nil, fmt.Errorf("node %s: %w", node.ID, err)
		}

		return DelayStep{ID: node.ID, Delay: spec}, nil
	case NodeTypeCondition:
		var spec ConditionSpec
		if err := decodeConfig(node.Config, &spec); err != nil {
			return nil, fmt.Errorf("node %s: %w", node.ID, err)
		}

		return ConditionStep{ID: node.ID, Condition: spec}, nil
	default:
		return nil, fmt.Errorf("node %s: %w: %q", node.ID, ErrUnknownNodeType, node.Type)
	}
}

func decodeConfig(config map[string]any, out any) error {
	if len(config) == 0 {
		return nil
	}

	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}
