package scheduler

import (
	"context"
	"strconv"
	"sync"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
)

// versionCache keeps published flow versions. Versions are immutable, so
// entries never go stale; the cache is reset when it grows past size.
type versionCache struct {
	flows persistence.FlowRepository
	size  int

	mu      sync.RWMutex
	entries map[string]*models.FlowDefinition
}

func newVersionCache(flows persistence.FlowRepository, size int) *versionCache {
	return &versionCache{
		flows:   flows,
		size:    size,
		entries: make(map[string]*models.FlowDefinition),
	}
}

func (c *versionCache) get(ctx context.Context, flowID string, version int) (*models.FlowDefinition, error) {
	key := flowID + "@" + strconv.Itoa(version)

	c.mu.RLock()
	def, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		return def, nil
	}

	def, err := c.flows.Version(ctx, flowID, version)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.entries) >= c.size {
		c.entries = make(map[string]*models.FlowDefinition)
	}

	c.entries[key] = def
	c.mu.Unlock()

	return def, nil
}
