// Package solar finds the instants at which the sun crosses a given
// altitude for an observer on Earth.
package solar

import (
	"errors"
	"fmt"
	"time"

	"github.com/nathan-osman/go-sunrise"

	"plutotime/internal/model"
)

const (
	// DefaultMaxScanDays bounds the day-by-day scan. A full year plus a
	// margin is enough to reach every crossing a location will ever see.
	DefaultMaxScanDays = 400
)

var (
	// ErrComputationExhausted is returned when the scan hits its day bound
	// before collecting the requested number of instants.
	ErrComputationExhausted = errors.New("solar: computation exhausted")

	// ErrInvalidCoordinate aliases model.ErrInvalidCoordinate so callers of
	// this package do not need to import model to test for it.
	ErrInvalidCoordinate = model.ErrInvalidCoordinate
)

// CrossingFunc returns the rising (morning) and setting (evening) instants
// at which the sun reaches altitude degrees on the given day. A zero
// time.Time means the altitude is not crossed in that direction that day.
type CrossingFunc func(lat, lng, altitude float64, year int, month time.Month, day int) (morning, evening time.Time)

// SunriseCrossings is the default CrossingFunc backed by go-sunrise.
func SunriseCrossings(lat, lng, altitude float64, year int, month time.Month, day int) (time.Time, time.Time) {
	return sunrise.TimeOfElevation(lat, lng, altitude, year, month, day)
}

// Calculator computes ordered event instants. The zero value is ready to
// use with DefaultMaxScanDays and SunriseCrossings.
type Calculator struct {
	// MaxScanDays caps the number of days examined per call.
	MaxScanDays int
	// Crossings overrides the per-day computation, mainly for tests.
	Crossings CrossingFunc
}

// Validate checks coordinates before any computation begins.
func Validate(lat, lng float64) error {
	return model.ValidateCoordinates(lat, lng)
}

// Next returns exactly count instants after start, strictly increasing and
// truncated to the minute, at which the sun crosses altitude degrees at
// (lat, lng). Days with no crossing are skipped. If the scan exceeds
// MaxScanDays the instants found so far are discarded and
// ErrComputationExhausted is returned.
//
// Scanning starts one UTC day before start's date: the setting crossing of
// the previous solar day can fall after start at far western longitudes.
func (c Calculator) Next(start time.Time, lat, lng, altitude float64, count int) ([]time.Time, error) {
	if err := Validate(lat, lng); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, fmt.Errorf("solar: count must be positive, got %d", count)
	}

	maxDays := c.MaxScanDays
	if maxDays <= 0 {
		maxDays = DefaultMaxScanDays
	}
	crossings := c.Crossings
	if crossings == nil {
		crossings = SunriseCrossings
	}

	su := start.UTC()
	day := time.Date(su.Year(), su.Month(), su.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)

	out := make([]time.Time, 0, count)
	accept := func(t time.Time) {
		if t.IsZero() {
			return
		}
		t = t.UTC().Truncate(time.Minute)
		if !t.After(start) {
			return
		}
		if n := len(out); n > 0 && !t.After(out[n-1]) {
			return
		}
		out = append(out, t)
	}

	for scanned := 0; scanned < maxDays; scanned++ {
		morning, evening := crossings(lat, lng, altitude, day.Year(), day.Month(), day.Day())
		accept(morning)
		accept(evening)
		if len(out) >= count {
			return out[:count], nil
		}
		day = day.AddDate(0, 0, 1)
	}

	return nil, fmt.Errorf("%w: found %d of %d instants in %d days (lat=%v lng=%v altitude=%v)",
		ErrComputationExhausted, len(out), count, maxDays, lat, lng, altitude)
}
