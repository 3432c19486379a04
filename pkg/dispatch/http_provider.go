package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrRejected is returned as the reason source when the provider refuses a message.
var ErrRejected = errors.New("message rejected by provider")

// HTTPProviderConfig configures the JSON-over-HTTP provider.
type HTTPProviderConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// HTTPProvider posts messages as JSON to an email API.
type HTTPProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

type providerResponse struct {
	MessageID string `json:"message_id"`
	Reason    string `json:"reason"`
}

func NewHTTPProvider(cfg HTTPProviderConfig, logger *slog.Logger) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPProvider{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With("module", "http_provider"),
	}
}

// Send posts msg. 2xx accepts, 408/429/5xx and network failures are
// transient, every other status is a permanent rejection.
func (p *HTTPProvider) Send(ctx context.Context, msg Message) (ProviderResult, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return ProviderResult{}, fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return ProviderResult{}, fmt.Errorf("failed to build provider request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.IdempotencyKey)

	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return ProviderResult{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			p.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	var decoded providerResponse

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err == nil && len(data) > 0 {
		_ = json.Unmarshal(data, &decoded)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return ProviderResult{Accepted: true, MessageID: decoded.MessageID}, nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return ProviderResult{}, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	default:
		reason := decoded.Reason
		if reason == "" {
			reason = fmt.Sprintf("%s: status %d", ErrRejected, resp.StatusCode)
		}

		return ProviderResult{Accepted: false, Reason: reason}, nil
	}
}
