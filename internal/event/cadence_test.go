package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestCadence(t *testing.T) {
	start := time.Date(2025, 4, 20, 11, 57, 42, 0, time.UTC)
	got, err := TestCadence{}.Next(start, 0, 0, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		time.Date(2025, 4, 20, 12, 0, 0, 0, time.UTC),
		time.Date(2025, 4, 20, 12, 5, 0, 0, time.UTC),
		time.Date(2025, 4, 20, 12, 10, 0, 0, time.UTC),
		time.Date(2025, 4, 20, 12, 15, 0, 0, time.UTC),
	}, got)
}

func TestTestCadenceRejectsStepsNotDividingHour(t *testing.T) {
	start := time.Date(2025, 4, 20, 11, 57, 42, 0, time.UTC)
	want, err := TestCadence{}.Next(start, 0, 0, 0, 3)
	require.NoError(t, err)

	for _, every := range []time.Duration{7 * time.Minute, 90 * time.Second, 2 * time.Hour} {
		got, err := TestCadence{Every: every}.Next(start, 0, 0, 0, 3)
		require.NoError(t, err)
		assert.Equal(t, want, got, every.String())
	}

	assert.True(t, ValidCadence(1))
	assert.True(t, ValidCadence(15))
	assert.True(t, ValidCadence(60))
	assert.False(t, ValidCadence(0))
	assert.False(t, ValidCadence(7))
	assert.False(t, ValidCadence(120))
}

func TestTestCadenceOnBoundaryMovesForward(t *testing.T) {
	start := time.Date(2025, 4, 20, 12, 10, 0, 0, time.UTC)
	got, err := TestCadence{Every: 10 * time.Minute}.Next(start, 0, 0, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		time.Date(2025, 4, 20, 12, 20, 0, 0, time.UTC),
		time.Date(2025, 4, 20, 12, 30, 0, 0, time.UTC),
	}, got)
}

func TestTestCadenceDrivesState(t *testing.T) {
	s := NewState(Options{Source: TestCadence{}, Display: time.UTC, Capacity: 3})
	s.SetLocation(reykjavik)
	now := time.Date(2025, 4, 20, 12, 1, 0, 0, time.UTC)
	require.NoError(t, s.Recompute(now))

	// start = 11:56 so the 12:00 slot is first and active at 12:01.
	next, err := s.NextEventInstant()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 4, 20, 12, 0, 0, 0, time.UTC), next)
	assert.True(t, s.IsEventActiveNow(now))
}
