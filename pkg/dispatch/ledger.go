package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ReservationState is the ledger's view of an idempotency key.
type ReservationState string

const (
	// ReservationFresh means the caller now owns the key and must send.
	ReservationFresh ReservationState = "fresh"
	// ReservationSent means the message was already accepted.
	ReservationSent ReservationState = "sent"
	// ReservationRejected means the provider already refused the message.
	ReservationRejected ReservationState = "rejected"
	// ReservationInFlight means another worker holds the key.
	ReservationInFlight ReservationState = "in_flight"
)

// Reservation is the outcome of Ledger.Reserve.
type Reservation struct {
	State     ReservationState
	MessageID string
	Reason    string
}

// Ledger records which idempotency keys were dispatched. A pending
// reservation expires after its ttl so a crashed worker does not block the
// key forever.
type Ledger interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (Reservation, error)
	MarkSent(ctx context.Context, key, messageID string) error
	MarkRejected(ctx context.Context, key, reason string) error
	Release(ctx context.Context, key string) error
}

type ledgerEntry struct {
	reservation Reservation
	expiresAt   time.Time
}

// MemoryLedger is an in-process Ledger for single-node deployments and tests.
type MemoryLedger struct {
	clock clockwork.Clock

	mu      sync.Mutex
	entries map[string]ledgerEntry
}

func NewMemoryLedger(clock clockwork.Clock) *MemoryLedger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &MemoryLedger{
		clock:   clock,
		entries: make(map[string]ledgerEntry),
	}
}

func (l *MemoryLedger) Reserve(_ context.Context, key string, ttl time.Duration) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()

	entry, ok := l.entries[key]
	if ok {
		if entry.reservation.State != ReservationInFlight || now.Before(entry.expiresAt) {
			return entry.reservation, nil
		}
	}

	l.entries[key] = ledgerEntry{
		reservation: Reservation{State: ReservationInFlight},
		expiresAt:   now.Add(ttl),
	}

	return Reservation{State: ReservationFresh}, nil
}

func (l *MemoryLedger) MarkSent(_ context.Context, key, messageID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[key] = ledgerEntry{reservation: Reservation{State: ReservationSent, MessageID: messageID}}

	return nil
}

func (l *MemoryLedger) MarkRejected(_ context.Context, key, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[key] = ledgerEntry{reservation: Reservation{State: ReservationRejected, Reason: reason}}

	return nil
}

func (l *MemoryLedger) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, key)

	return nil
}
