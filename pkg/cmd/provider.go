package cmd

import (
	"log/slog"
	"time"

	"github.com/dukex/nurture/pkg/dispatch"
)

// NewEmailProvider returns the HTTP provider for endpoint, or a provider that
// only logs when no endpoint is configured.
func NewEmailProvider(endpoint, apiKey string, timeout time.Duration, logger *slog.Logger) dispatch.Provider {
	if endpoint == "" {
		logger.Warn("No email provider endpoint configured, messages are only logged")

		return dispatch.NewLogProvider(logger)
	}

	return dispatch.NewHTTPProvider(dispatch.HTTPProviderConfig{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Timeout:  timeout,
	}, logger)
}
