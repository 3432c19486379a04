// Package delay computes when a waiting enrollment should wake up.
package delay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/nurture/pkg/models"
)

var ErrInvalidDelay = errors.New("invalid delay")

const (
	dateLayout     = "2006-01-02"
	clockLayout    = "15:04"
	dateTimeLayout = dateLayout + " " + clockLayout
)

// LocationLookup resolves the configured timezone of a flow owner.
type LocationLookup interface {
	Location(ctx context.Context, ownerID string) (*time.Location, error)
}

// Locations is a static LocationLookup with a fallback for unknown owners.
type Locations struct {
	Default *time.Location
	Owners  map[string]*time.Location
}

func (l Locations) Location(_ context.Context, ownerID string) (*time.Location, error) {
	if loc, ok := l.Owners[ownerID]; ok && loc != nil {
		return loc, nil
	}

	if l.Default != nil {
		return l.Default, nil
	}

	return time.UTC, nil
}

// Check validates a spec without resolving it.
func Check(spec models.DelaySpec) error {
	_, err := Resolve(spec, time.Unix(0, 0).UTC(), time.UTC)

	return err
}

// Resolve returns the instant a delay fires. Relative day, week and month
// units use calendar arithmetic in loc so that DST shifts and month lengths
// are honored. Absolute instants already in the past resolve to now.
func Resolve(spec models.DelaySpec, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}

	switch mode(spec) {
	case models.DelayModeRelative:
		return resolveRelative(spec, now, loc)
	case models.DelayModeAbsolute:
		return resolveAbsolute(spec, now, loc)
	default:
		return time.Time{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidDelay, spec.Mode)
	}
}

func mode(spec models.DelaySpec) models.DelayMode {
	if spec.Mode != "" {
		return spec.Mode
	}

	if spec.Date != "" {
		return models.DelayModeAbsolute
	}

	return models.DelayModeRelative
}

func resolveRelative(spec models.DelaySpec, now time.Time, loc *time.Location) (time.Time, error) {
	if spec.Amount <= 0 {
		return time.Time{}, fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidDelay, spec.Amount)
	}

	local := now.In(loc)

	switch spec.Unit {
	case models.DelayUnitMinute:
		return now.Add(time.Duration(spec.Amount) * time.Minute), nil
	case models.DelayUnitHour:
		return now.Add(time.Duration(spec.Amount) * time.Hour), nil
	case models.DelayUnitDay:
		return local.AddDate(0, 0, spec.Amount), nil
	case models.DelayUnitWeek:
		return local.AddDate(0, 0, 7*spec.Amount), nil
	case models.DelayUnitMonth:
		return addMonths(local, spec.Amount), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unknown unit %q", ErrInvalidDelay, spec.Unit)
	}
}

// addMonths clamps to the last day of the target month instead of letting
// time.AddDate normalize Jan 31 + 1 month into March.
func addMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()

	if day > last {
		day = last
	}

	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func resolveAbsolute(spec models.DelaySpec, now time.Time, loc *time.Location) (time.Time, error) {
	if spec.Date == "" {
		return time.Time{}, fmt.Errorf("%w: absolute delay requires a date", ErrInvalidDelay)
	}

	clock := spec.Time
	if clock == "" {
		clock = "00:00"
	}

	at, err := time.ParseInLocation(dateTimeLayout, spec.Date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrInvalidDelay, err)
	}

	if at.Before(now) {
		return now, nil
	}

	return at, nil
}
