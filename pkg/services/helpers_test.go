package services

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/persistence/file"
	"github.com/jonboulle/clockwork"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	persistence persistence.Persistence
	clock       *clockwork.FakeClock
	flows       *Flow
	publishing  *Publishing
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	clock := clockwork.NewFakeClockAt(testNow)
	flows := NewFlow(p, clock, discardLogger())

	return &fixture{
		persistence: p,
		clock:       clock,
		flows:       flows,
		publishing:  NewPublishing(p, flows, clock, discardLogger()),
	}
}
