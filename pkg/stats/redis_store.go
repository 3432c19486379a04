package stats

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dukex/nurture/pkg/models"
	"github.com/redis/go-redis/v9"
)

// applyScript adds the event id to the seen set and, only if it was new,
// increments the hash fields passed as ARGV pairs.
var applyScript = redis.NewScript(`
if redis.call('SADD', KEYS[2], ARGV[1]) == 0 then
	return 0
end
for i = 2, #ARGV, 2 do
	redis.call('HINCRBY', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

// RedisStore keeps counters in a hash per flow and applied event ids in a
// set next to it.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func countersKey(flowID string) string {
	return "nurture:stats:{" + flowID + "}"
}

func seenKey(flowID string) string {
	return "nurture:stats:{" + flowID + "}:seen"
}

func (s *RedisStore) Apply(ctx context.Context, flowID, eventID string, incs []Increment) (bool, error) {
	args := make([]any, 0, 1+2*len(incs))
	args = append(args, eventID)

	for _, inc := range incs {
		args = append(args, inc.Field, inc.N)
	}

	applied, err := applyScript.Run(ctx, s.client, []string{countersKey(flowID), seenKey(flowID)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("failed to apply stats for flow %s: %w", flowID, err)
	}

	return applied == 1, nil
}

func (s *RedisStore) Load(ctx context.Context, flowID string) (*models.FlowStats, error) {
	raw, err := s.client.HGetAll(ctx, countersKey(flowID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load stats for flow %s: %w", flowID, err)
	}

	fields := make(map[string]int64, len(raw))

	for field, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}

		fields[field] = n
	}

	return fromFields(flowID, fields), nil
}

func (s *RedisStore) Reset(ctx context.Context, flowID string) error {
	err := s.client.Del(ctx, countersKey(flowID), seenKey(flowID)).Err()
	if err != nil {
		return fmt.Errorf("failed to reset stats for flow %s: %w", flowID, err)
	}

	return nil
}
