// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/persistence/file"
	"github.com/dukex/nurture/pkg/persistence/postgresql"
)

// ErrUnsupportedPersistence is returned for database URLs with an unknown scheme.
var ErrUnsupportedPersistence = errors.New("unsupported persistence provider")

// NewPersistence opens the store named by databaseURL: file://<dir> or
// postgres://... (postgresql:// is accepted too).
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, rest := parsePersistenceProvider(databaseURL)

	switch provider {
	case "file":
		if rest == "" {
			return nil, fmt.Errorf("%w: file URL needs a directory", ErrUnsupportedPersistence)
		}

		logger.InfoContext(ctx, "Using file persistence", "root", rest)

		return file.NewPersistence(rest), nil
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}

		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPersistence, provider)
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return "", databaseURL
	}

	return strings.ToLower(provider), rest
}
