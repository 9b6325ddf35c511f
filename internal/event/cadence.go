package event

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"plutotime/internal/model"
)

// TestCadence is a debug Source that ignores the sun and emits an instant
// every Every minutes, starting at the first cadence boundary strictly after
// start's minute. It lets the notification path be exercised without
// waiting for real events.
//
// Boundaries are counted from the top of the hour, so Every must be a whole
// number of minutes dividing 60. Any other value uses the 5 minute default.
type TestCadence struct {
	Every time.Duration
}

const defaultCadence = 5 * time.Minute

func (c TestCadence) Next(start time.Time, lat, lng, _ float64, count int) ([]time.Time, error) {
	if err := model.ValidateCoordinates(lat, lng); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, fmt.Errorf("event: count must be positive, got %d", count)
	}
	step := int(c.Every / time.Minute)
	if !ValidCadence(step) || c.Every%time.Minute != 0 {
		step = int(defaultCadence / time.Minute)
	}

	base := start.Truncate(time.Minute)
	m := base.Minute()
	next := ((m + 1 + step - 1) / step) * step
	first := base.Add(time.Duration(next-m) * time.Minute)

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:     rrule.MINUTELY,
		Interval: step,
		Dtstart:  first,
		Count:    count,
	})
	if err != nil {
		return nil, fmt.Errorf("event: build cadence rule: %w", err)
	}
	return r.All(), nil
}

// ValidCadence reports whether a cadence of minutes lines up with the hour.
func ValidCadence(minutes int) bool {
	return minutes > 0 && 60%minutes == 0
}
