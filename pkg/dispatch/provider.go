// Package dispatch sends email steps through a provider exactly once per
// enrollment and node.
package dispatch

import (
	"context"
	"log/slog"
)

// Message is what a provider needs to deliver one templated email.
type Message struct {
	TemplateRef    string            `json:"template_ref"`
	To             string            `json:"to"`
	MemberID       string            `json:"member_id"`
	Fields         map[string]string `json:"fields,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
}

// ProviderResult is the provider's verdict on a message. Accepted false is
// a permanent rejection (invalid address, suppressed recipient).
type ProviderResult struct {
	Accepted  bool
	MessageID string
	Reason    string
}

// Provider delivers messages. A returned error is always treated as transient.
type Provider interface {
	Send(ctx context.Context, msg Message) (ProviderResult, error)
}

// LogProvider accepts every message and only logs it. Used for local development.
type LogProvider struct {
	logger *slog.Logger
}

func NewLogProvider(logger *slog.Logger) *LogProvider {
	return &LogProvider{logger: logger.With("module", "log_provider")}
}

func (p *LogProvider) Send(ctx context.Context, msg Message) (ProviderResult, error) {
	p.logger.InfoContext(ctx, "email dispatched",
		"template_ref", msg.TemplateRef,
		"to", msg.To,
		"idempotency_key", msg.IdempotencyKey,
	)

	return ProviderResult{Accepted: true, MessageID: "log-" + msg.IdempotencyKey}, nil
}
