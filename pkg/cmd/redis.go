package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/nurture/pkg/dispatch"
	"github.com/dukex/nurture/pkg/stats"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to redisURL. An empty URL returns a nil client and
// callers fall back to in-process stores.
func NewRedisClient(ctx context.Context, redisURL string) (redis.UniversalClient, error) {
	if redisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return client, nil
}

// NewLedger returns the dispatch idempotency ledger: Redis when a client is
// given, in-process otherwise.
func NewLedger(client redis.UniversalClient, clock clockwork.Clock) dispatch.Ledger {
	if client == nil {
		return dispatch.NewMemoryLedger(clock)
	}

	return dispatch.NewRedisLedger(client, dispatch.DefaultRetention)
}

// NewCounterStore returns the stats counter store: Redis when a client is
// given, in-process otherwise.
func NewCounterStore(client redis.UniversalClient) stats.CounterStore {
	if client == nil {
		return stats.NewMemoryStore()
	}

	return stats.NewRedisStore(client)
}
