// Package scheduler drives due enrollments through the state machine on a
// fixed tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukex/nurture/pkg/eventbus"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/otelhelper"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ErrTickInProgress is returned when Tick is called while another tick runs.
var ErrTickInProgress = errors.New("tick already in progress")

// Advancer executes one step of an enrollment.
type Advancer interface {
	Advance(ctx context.Context, enrollment *models.Enrollment, flow *models.FlowDefinition, now time.Time) (*models.Enrollment, []*models.ExecutionEvent, error)
}

// Config tunes the tick loop.
type Config struct {
	TickInterval time.Duration
	BatchSize    int
	Workers      int
	Lease        time.Duration
	StepTimeout  time.Duration
	CacheSize    int
}

// DefaultConfig returns the settings used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		TickInterval: 10 * time.Second,
		BatchSize:    100,
		Workers:      8,
		Lease:        2 * time.Minute,
		StepTimeout:  30 * time.Second,
		CacheSize:    256,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()

	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}

	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}

	if c.Workers <= 0 {
		c.Workers = def.Workers
	}

	if c.Lease <= 0 {
		c.Lease = def.Lease
	}

	if c.StepTimeout <= 0 {
		c.StepTimeout = def.StepTimeout
	}

	if c.CacheSize <= 0 {
		c.CacheSize = def.CacheSize
	}

	return c
}

type Scheduler struct {
	enrollments persistence.EnrollmentRepository
	versions    *versionCache
	machine     Advancer
	relay       *eventbus.Relay
	clock       clockwork.Clock
	tracer      trace.Tracer
	logger      *slog.Logger
	cfg         Config

	mu sync.Mutex
}

// New creates a scheduler. bus may be nil, in which case persisted events
// stay in the outbox.
func New(
	p persistence.Persistence,
	machine Advancer,
	bus eventbus.EventBus,
	clock clockwork.Clock,
	tracer trace.Tracer,
	logger *slog.Logger,
	cfg Config,
) *Scheduler {
	cfg = cfg.withDefaults()

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	var relay *eventbus.Relay
	if bus != nil {
		relay = eventbus.NewRelay(bus, p.EventRepository(), clock, logger, cfg.BatchSize)
	}

	return &Scheduler{
		enrollments: p.EnrollmentRepository(),
		versions:    newVersionCache(p.FlowRepository(), cfg.CacheSize),
		machine:     machine,
		relay:       relay,
		clock:       clock,
		tracer:      tracer,
		logger:      logger.With("module", "scheduler"),
		cfg:         cfg,
	}
}

// Run ticks until ctx is done. The first tick runs immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Starting scheduler",
		"tick_interval", s.cfg.TickInterval,
		"batch_size", s.cfg.BatchSize,
		"workers", s.cfg.Workers,
	)

	ticker := s.clock.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.runTick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Scheduler stopped")

			return nil
		case <-ticker.Chan():
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	processed, err := s.Tick(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Tick failed", "error", err)

		return
	}

	if processed > 0 {
		s.logger.DebugContext(ctx, "Tick finished", "processed", processed)
	}
}

// Tick claims the due enrollments and advances each by one step, then
// drains the event outbox. It returns how many steps were stored. Failures
// of single enrollments are logged and never fail the tick.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	if !s.mu.TryLock() {
		return 0, ErrTickInProgress
	}
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	token := uuid.NewString()

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "scheduler.tick", attribute.String(otelhelper.ClaimTokenKey, token))
	defer span.End()

	claimed, err := s.enrollments.ClaimDue(ctx, now, s.cfg.BatchSize, s.cfg.Lease, token)
	if err != nil {
		otelhelper.SetError(span, err)

		return 0, fmt.Errorf("failed to claim due enrollments: %w", err)
	}

	span.SetAttributes(attribute.Int(otelhelper.BatchSizeKey, len(claimed)))

	if len(claimed) == 0 {
		s.flushOutbox(ctx)

		return 0, nil
	}

	var processed atomic.Int64

	var g errgroup.Group

	g.SetLimit(s.cfg.Workers)

	for _, enrollment := range claimed {
		g.Go(func() error {
			if s.process(ctx, enrollment.ID, token, now) {
				processed.Add(1)
			}

			return nil
		})
	}

	_ = g.Wait()

	s.flushOutbox(ctx)

	return int(processed.Load()), nil
}

// flushOutbox republishes events whose first publish failed.
func (s *Scheduler) flushOutbox(ctx context.Context) {
	if s.relay == nil {
		return
	}

	flushed, err := s.relay.Flush(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to drain event outbox", "published", flushed, "error", err)

		return
	}

	if flushed > 0 {
		s.logger.DebugContext(ctx, "Drained event outbox", "published", flushed)
	}
}

// process runs one claimed enrollment and reports whether a step was stored.
func (s *Scheduler) process(ctx context.Context, enrollmentID, token string, now time.Time) bool {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
	defer cancel()

	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "scheduler.advance",
		attribute.String(otelhelper.EnrollmentIDKey, enrollmentID))
	defer span.End()

	logger := s.logger.With("enrollment_id", enrollmentID)

	// Reload right before executing so a cancellation that landed after the
	// claim is honored.
	current, err := s.enrollments.Enrollment(ctx, enrollmentID)
	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Failed to reload enrollment", "error", err)
		s.release(ctx, logger, enrollmentID, token)

		return false
	}

	if !current.Status.Runnable() {
		logger.InfoContext(ctx, "Skipping enrollment that is no longer runnable", "status", current.Status)

		return false
	}

	if current.ClaimToken != token {
		logger.InfoContext(ctx, "Skipping enrollment claimed by another worker")

		return false
	}

	logger = logger.With("flow_id", current.FlowID, "node_id", current.CurrentNodeID)
	span.SetAttributes(
		attribute.String(otelhelper.FlowIDKey, current.FlowID),
		attribute.Int(otelhelper.FlowVersionKey, current.FlowVersion),
		attribute.String(otelhelper.NodeIDKey, current.CurrentNodeID),
	)

	flow, err := s.versions.get(ctx, current.FlowID, current.FlowVersion)
	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Failed to load flow version", "flow_version", current.FlowVersion, "error", err)
		s.release(ctx, logger, enrollmentID, token)

		return false
	}

	next, evs, err := s.machine.Advance(ctx, current, flow, now)
	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Failed to advance enrollment", "error", err)
		s.release(ctx, logger, enrollmentID, token)

		return false
	}

	err = s.enrollments.SaveStep(ctx, next, token, evs)
	if persistence.IsClaimLost(err) {
		logger.WarnContext(ctx, "Claim lost, discarding step result")

		return false
	}

	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Failed to save step", "error", err)
		s.release(ctx, logger, enrollmentID, token)

		return false
	}

	if s.relay != nil {
		err = s.relay.Deliver(ctx, evs...)
		if err != nil {
			logger.WarnContext(ctx, "Failed to publish execution events, left in outbox", "error", err)
		}
	}

	return true
}

func (s *Scheduler) release(ctx context.Context, logger *slog.Logger, enrollmentID, token string) {
	err := s.enrollments.ReleaseClaim(context.WithoutCancel(ctx), enrollmentID, token)
	if err != nil && !persistence.IsClaimLost(err) {
		logger.ErrorContext(ctx, "Failed to release claim", "error", err)
	}
}
