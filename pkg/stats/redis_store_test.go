//go:build integration
// +build integration

package stats_test

import (
	"fmt"
	"testing"

	"github.com/dukex/nurture/pkg/stats"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := t.Context()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func TestRedisStore_AggregatesOnce(t *testing.T) {
	agg := stats.NewAggregator(stats.NewRedisStore(setupRedis(t)), nil, discardLogger())

	for range 2 {
		for _, ev := range journey() {
			require.NoError(t, agg.Record(t.Context(), ev))
		}
	}

	got, err := agg.Query(t.Context(), "flow-1")
	require.NoError(t, err)
	assertJourneyStats(t, got)
}

func TestRedisStore_Reset(t *testing.T) {
	store := stats.NewRedisStore(setupRedis(t))

	applied, err := store.Apply(t.Context(), "flow-1", "e1", []stats.Increment{{Field: stats.CounterCompleted, N: 1}})
	require.NoError(t, err)
	assert.True(t, applied)

	require.NoError(t, store.Reset(t.Context(), "flow-1"))

	applied, err = store.Apply(t.Context(), "flow-1", "e1", []stats.Increment{{Field: stats.CounterCompleted, N: 1}})
	require.NoError(t, err)
	assert.True(t, applied, "reset forgets applied ids")

	got, err := store.Load(t.Context(), "flow-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Completed)
}
