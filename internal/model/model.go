package model

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
)

// ErrInvalidCoordinate is returned when a latitude or longitude falls
// outside [-90, 90] / [-180, 180] or is not a number.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// TrackedLocation is the single place for which event instants are computed.
// Its identity (name and coordinates) never changes after construction;
// moving somewhere else means building a new TrackedLocation.
type TrackedLocation struct {
	// Name is the short label shown to the user (e.g. "Reykjavík").
	Name string
	// FullName holds place name components ordered fine-to-coarse:
	// locality, region, country.
	FullName []string

	Latitude  float64
	Longitude float64
}

// NewTrackedLocation validates the coordinates and returns a location whose
// FullName is a private copy of parts. An empty name defaults to the first
// non-blank FullName component.
func NewTrackedLocation(name string, fullName []string, lat, lng float64) (TrackedLocation, error) {
	if err := ValidateCoordinates(lat, lng); err != nil {
		return TrackedLocation{}, err
	}
	parts := make([]string, 0, len(fullName))
	for _, p := range fullName {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if name == "" && len(parts) > 0 {
		name = parts[0]
	}
	return TrackedLocation{
		Name:      name,
		FullName:  parts,
		Latitude:  lat,
		Longitude: lng,
	}, nil
}

// Clone returns a deep copy so callers cannot mutate shared FullName slices.
func (l TrackedLocation) Clone() TrackedLocation {
	l.FullName = slices.Clone(l.FullName)
	return l
}

// DisplayFullName joins FullName as "Reykjavík, Capital Region, Iceland".
func (l TrackedLocation) DisplayFullName() string {
	return strings.Join(l.FullName, ", ")
}

// ValidateCoordinates rejects out-of-range or NaN coordinates.
func ValidateCoordinates(lat, lng float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, lat)
	}
	if math.IsNaN(lng) || lng < -180 || lng > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, lng)
	}
	return nil
}

// TargetCondition names a body and the solar altitude at which the local
// sunlight matches that body's noon.
type TargetCondition struct {
	Body            string
	AltitudeDegrees float64
}

// Pluto is the default target: at -1.5° the sunlight on Earth is about as
// bright as noon on Pluto.
var Pluto = TargetCondition{Body: "Pluto", AltitudeDegrees: -1.5}

// NotificationPreference selects which half of the day gets notifications.
// The split is at local hour 12.
type NotificationPreference struct {
	Morning bool `json:"morning" yaml:"morning"`
	Evening bool `json:"evening" yaml:"evening"`
}

// DefaultNotificationPreference enables both halves.
func DefaultNotificationPreference() NotificationPreference {
	return NotificationPreference{Morning: true, Evening: true}
}

// Allows reports whether an instant at the given local hour should be
// notified.
func (p NotificationPreference) Allows(hour int) bool {
	beforeNoon := hour < 12
	return (beforeNoon && p.Morning) || (!beforeNoon && p.Evening)
}

// FormatLatitudeDMS renders a latitude as degrees, minutes and seconds,
// e.g. 33° 52' 7.68" S.
func FormatLatitudeDMS(lat float64) string {
	if lat < 0 {
		return formatDMS(-lat, "S")
	}
	return formatDMS(lat, "N")
}

// FormatLongitudeDMS is FormatLatitudeDMS for longitudes.
func FormatLongitudeDMS(lng float64) string {
	if lng < 0 {
		return formatDMS(-lng, "W")
	}
	return formatDMS(lng, "E")
}

// formatDMS rounds to hundredths of a second before splitting so the
// seconds field never reads 60.00.
func formatDMS(v float64, dir string) string {
	total := int64(math.Round(v * 360000))
	deg := total / 360000
	mins := total % 360000 / 6000
	hundredths := total % 6000
	return fmt.Sprintf("%d° %d' %d.%02d\" %s", deg, mins, hundredths/100, hundredths%100, dir)
}
