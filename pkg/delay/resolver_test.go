package delay

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()

	loc, err := time.LoadLocation(name)
	require.NoError(t, err)

	return loc
}

func TestResolve_Relative(t *testing.T) {
	now := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		spec models.DelaySpec
		want time.Time
	}{
		{"minutes", models.DelaySpec{Mode: models.DelayModeRelative, Amount: 30, Unit: models.DelayUnitMinute}, now.Add(30 * time.Minute)},
		{"hours", models.DelaySpec{Amount: 5, Unit: models.DelayUnitHour}, now.Add(5 * time.Hour)},
		{"one day", models.DelaySpec{Mode: models.DelayModeRelative, Amount: 1, Unit: models.DelayUnitDay}, now.Add(24 * time.Hour)},
		{"two weeks", models.DelaySpec{Mode: models.DelayModeRelative, Amount: 2, Unit: models.DelayUnitWeek}, now.AddDate(0, 0, 14)},
		{"month clamps to end of february", models.DelaySpec{Mode: models.DelayModeRelative, Amount: 1, Unit: models.DelayUnitMonth}, time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC)},
		{"thirteen months", models.DelaySpec{Mode: models.DelayModeRelative, Amount: 13, Unit: models.DelayUnitMonth}, time.Date(2027, 2, 28, 10, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.spec, now, time.UTC)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestResolve_MonthIsCalendarAware(t *testing.T) {
	now := time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)

	got, err := Resolve(models.DelaySpec{Amount: 1, Unit: models.DelayUnitMonth}, now, time.UTC)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 4, 15, 8, 0, 0, 0, time.UTC), got.UTC())
	assert.NotEqual(t, now.Add(30*24*time.Hour), got.UTC())
}

func TestResolve_DayAcrossDSTKeepsWallClock(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	// The night of 2026-03-08 is 23 hours long in New York.
	now := time.Date(2026, 3, 7, 9, 0, 0, 0, ny)

	got, err := Resolve(models.DelaySpec{Amount: 1, Unit: models.DelayUnitDay}, now, ny)
	require.NoError(t, err)

	local := got.In(ny)
	assert.Equal(t, 9, local.Hour())
	assert.Equal(t, 8, local.Day())
	assert.Equal(t, 23*time.Hour, got.Sub(now))
}

func TestResolve_Absolute(t *testing.T) {
	tokyo := mustLoad(t, "Asia/Tokyo")
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	got, err := Resolve(models.DelaySpec{Mode: models.DelayModeAbsolute, Date: "2026-05-02", Time: "09:00"}, now, tokyo)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC), got.UTC())

	got, err = Resolve(models.DelaySpec{Date: "2026-05-03"}, now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC), got)
}

func TestResolve_AbsoluteInPastFiresNow(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	got, err := Resolve(models.DelaySpec{Mode: models.DelayModeAbsolute, Date: "2020-01-01", Time: "10:00"}, now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, now, got)
}

func TestResolve_Invalid(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		spec models.DelaySpec
	}{
		{"zero amount", models.DelaySpec{Mode: models.DelayModeRelative, Unit: models.DelayUnitDay}},
		{"negative amount", models.DelaySpec{Mode: models.DelayModeRelative, Amount: -1, Unit: models.DelayUnitDay}},
		{"unknown unit", models.DelaySpec{Mode: models.DelayModeRelative, Amount: 1, Unit: "fortnight"}},
		{"unknown mode", models.DelaySpec{Mode: "eventually"}},
		{"absolute without date", models.DelaySpec{Mode: models.DelayModeAbsolute, Time: "10:00"}},
		{"bad date", models.DelaySpec{Mode: models.DelayModeAbsolute, Date: "01/02/2026"}},
		{"bad time", models.DelaySpec{Mode: models.DelayModeAbsolute, Date: "2026-01-02", Time: "25:00"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.spec, now, time.UTC)
			require.ErrorIs(t, err, ErrInvalidDelay)
			assert.ErrorIs(t, Check(tt.spec), ErrInvalidDelay)
		})
	}
}

func TestLocations(t *testing.T) {
	berlin := mustLoad(t, "Europe/Berlin")
	lookup := Locations{Owners: map[string]*time.Location{"owner-1": berlin}}

	loc, err := lookup.Location(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, berlin, loc)

	loc, err = lookup.Location(context.Background(), "someone-else")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}
