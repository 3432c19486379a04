package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/nurture/pkg/models"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultReservationTTL = 5 * time.Minute
)

// SendRequest asks the adapter to send one email step to a member.
type SendRequest struct {
	TemplateRef  string
	Member       *models.Member
	EnrollmentID string
	NodeID       string
	// Visit is the enrollment's arrival ordinal at NodeID.
	Visit int
}

// IdempotencyKey identifies one arrival of an enrollment at an email node.
// Retries of that arrival share the key; a later pass through the same node
// gets a new one.
func (r SendRequest) IdempotencyKey() string {
	return r.EnrollmentID + ":" + r.NodeID + ":" + strconv.Itoa(r.Visit)
}

// Result reports a definitive outcome. Duplicate is set when the ledger
// already held the outcome and the provider was not called.
type Result struct {
	Accepted  bool
	Reason    string
	MessageID string
	Duplicate bool
}

// AdapterConfig configures an Adapter.
type AdapterConfig struct {
	RequestTimeout time.Duration
	ReservationTTL time.Duration
}

// Adapter sends email steps through a Provider at most once per
// idempotency key.
type Adapter struct {
	provider Provider
	ledger   Ledger
	logger   *slog.Logger

	requestTimeout time.Duration
	reservationTTL time.Duration
}

func NewAdapter(provider Provider, ledger Ledger, logger *slog.Logger, cfg AdapterConfig) *Adapter {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = defaultReservationTTL
	}

	return &Adapter{
		provider:       provider,
		ledger:         ledger,
		logger:         logger.With("module", "dispatch"),
		requestTimeout: cfg.RequestTimeout,
		reservationTTL: cfg.ReservationTTL,
	}
}

// Send dispatches req. A non-nil error is always a *DispatchError and means
// the attempt should be retried later.
func (a *Adapter) Send(ctx context.Context, req SendRequest) (Result, error) {
	key := req.IdempotencyKey()

	if req.Member == nil {
		return Result{}, NewDispatchError("send", key, errors.New("member is required"))
	}

	reservation, err := a.ledger.Reserve(ctx, key, a.reservationTTL)
	if err != nil {
		return Result{}, NewDispatchError("reserve", key, err)
	}

	switch reservation.State {
	case ReservationSent:
		return Result{Accepted: true, MessageID: reservation.MessageID, Duplicate: true}, nil
	case ReservationRejected:
		return Result{Accepted: false, Reason: reservation.Reason, Duplicate: true}, nil
	case ReservationInFlight:
		return Result{}, NewDispatchError("reserve", key, ErrInFlight)
	case ReservationFresh:
	}

	sendCtx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()

	res, err := a.provider.Send(sendCtx, Message{
		TemplateRef:    req.TemplateRef,
		To:             req.Member.Email,
		MemberID:       req.Member.ID,
		Fields:         req.Member.Fields,
		IdempotencyKey: key,
	})
	if err != nil {
		releaseErr := a.ledger.Release(ctx, key)
		if releaseErr != nil {
			a.logger.WarnContext(ctx, "failed to release dispatch reservation", "key", key, "error", releaseErr)
		}

		return Result{}, NewDispatchError("send", key, err)
	}

	if !res.Accepted {
		err = a.ledger.MarkRejected(ctx, key, res.Reason)
		if err != nil {
			a.logger.ErrorContext(ctx, "failed to record rejection", "key", key, "error", err)
		}

		return Result{Accepted: false, Reason: res.Reason}, nil
	}

	err = a.ledger.MarkSent(ctx, key, res.MessageID)
	if err != nil {
		// The provider accepted the message; the pending reservation still
		// blocks resends until it expires.
		a.logger.ErrorContext(ctx, "failed to record sent message", "key", key, "error", err)
	}

	return Result{Accepted: true, MessageID: res.MessageID}, nil
}
