package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisLedgerPrefix = "nurture:dispatch:"
	pendingValue      = "pending"
	sentPrefix        = "sent:"
	rejectedPrefix    = "rejected:"

	// DefaultRetention is how long a settled key is remembered.
	DefaultRetention = 30 * 24 * time.Hour

	reserveAttempts = 3
)

// RedisLedger is a Ledger shared by every scheduler replica.
type RedisLedger struct {
	client    redis.UniversalClient
	retention time.Duration
}

func NewRedisLedger(client redis.UniversalClient, retention time.Duration) *RedisLedger {
	if retention <= 0 {
		retention = DefaultRetention
	}

	return &RedisLedger{client: client, retention: retention}
}

func ledgerKey(key string) string {
	return redisLedgerPrefix + key
}

func (l *RedisLedger) Reserve(ctx context.Context, key string, ttl time.Duration) (Reservation, error) {
	for range reserveAttempts {
		ok, err := l.client.SetNX(ctx, ledgerKey(key), pendingValue, ttl).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("%w: failed to reserve %s: %w", ErrLedger, key, err)
		}

		if ok {
			return Reservation{State: ReservationFresh}, nil
		}

		value, err := l.client.Get(ctx, ledgerKey(key)).Result()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}

		if err != nil {
			return Reservation{}, fmt.Errorf("%w: failed to read %s: %w", ErrLedger, key, err)
		}

		return parseReservation(value), nil
	}

	return Reservation{State: ReservationInFlight}, nil
}

func parseReservation(value string) Reservation {
	switch {
	case strings.HasPrefix(value, sentPrefix):
		return Reservation{State: ReservationSent, MessageID: strings.TrimPrefix(value, sentPrefix)}
	case strings.HasPrefix(value, rejectedPrefix):
		return Reservation{State: ReservationRejected, Reason: strings.TrimPrefix(value, rejectedPrefix)}
	default:
		return Reservation{State: ReservationInFlight}
	}
}

func (l *RedisLedger) MarkSent(ctx context.Context, key, messageID string) error {
	err := l.client.Set(ctx, ledgerKey(key), sentPrefix+messageID, l.retention).Err()
	if err != nil {
		return fmt.Errorf("%w: failed to mark %s sent: %w", ErrLedger, key, err)
	}

	return nil
}

func (l *RedisLedger) MarkRejected(ctx context.Context, key, reason string) error {
	err := l.client.Set(ctx, ledgerKey(key), rejectedPrefix+reason, l.retention).Err()
	if err != nil {
		return fmt.Errorf("%w: failed to mark %s rejected: %w", ErrLedger, key, err)
	}

	return nil
}

func (l *RedisLedger) Release(ctx context.Context, key string) error {
	err := l.client.Del(ctx, ledgerKey(key)).Err()
	if err != nil {
		return fmt.Errorf("%w: failed to release %s: %w", ErrLedger, key, err)
	}

	return nil
}
