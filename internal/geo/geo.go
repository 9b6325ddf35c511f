// Package geo turns a device position into a TrackedLocation. The position
// provider and reverse geocoder are supplied by the host platform.
package geo

import (
	"context"
	"fmt"
	"strings"

	"plutotime/internal/battery"
	appLog "plutotime/internal/log"
	"plutotime/internal/model"
)

// Accuracy is the positioning precision requested from a Provider.
type Accuracy int

const (
	AccuracyLowest Accuracy = iota
	AccuracyBalanced
)

func (a Accuracy) String() string {
	if a == AccuracyBalanced {
		return "balanced"
	}
	return "lowest"
}

// lowBatteryLevel is the level at or below which positioning drops to the
// cheapest accuracy.
const lowBatteryLevel = 0.2

// Position is a raw device fix.
type Position struct {
	Latitude  float64
	Longitude float64
}

// Address is a reverse-geocoding result. Any field may be empty.
type Address struct {
	City    string
	Name    string
	Region  string
	Country string
}

// Provider returns the current device position.
type Provider interface {
	CurrentPosition(ctx context.Context, accuracy Accuracy) (Position, error)
}

// ReverseGeocoder resolves a position into place names.
type ReverseGeocoder interface {
	Reverse(ctx context.Context, lat, lng float64) (Address, error)
}

// Static is a Provider for a fixed position, used by the CLI.
type Static Position

func (s Static) CurrentPosition(context.Context, Accuracy) (Position, error) {
	return Position(s), nil
}

// AccuracyFor picks balanced accuracy unless the battery is low.
func AccuracyFor(st battery.Status) Accuracy {
	if st.Powered || st.Level() > lowBatteryLevel {
		return AccuracyBalanced
	}
	return AccuracyLowest
}

// NameParts returns [city or name, region, country] with blanks removed.
func NameParts(a Address) []string {
	first := a.City
	if first == "" {
		first = a.Name
	}
	var out []string
	for _, p := range []string{first, a.Region, a.Country} {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Locator composes the collaborators needed to geolocate.
type Locator struct {
	Provider Provider
	Geocoder ReverseGeocoder
	Battery  battery.Reader
}

// Locate reads the battery to choose an accuracy, asks the provider for a
// position and names it via the geocoder. When the geocoder fails or knows
// nothing about the spot, the location is named after its coordinates.
func (l Locator) Locate(ctx context.Context) (model.TrackedLocation, error) {
	accuracy := AccuracyBalanced
	if l.Battery != nil {
		st, err := l.Battery.Read(ctx)
		if err != nil {
			appLog.Warn("battery read failed, using balanced accuracy", "err", err)
		} else {
			accuracy = AccuracyFor(st)
		}
	}

	pos, err := l.Provider.CurrentPosition(ctx, accuracy)
	if err != nil {
		return model.TrackedLocation{}, fmt.Errorf("geo: current position: %w", err)
	}
	if err := model.ValidateCoordinates(pos.Latitude, pos.Longitude); err != nil {
		return model.TrackedLocation{}, err
	}

	var parts []string
	if l.Geocoder != nil {
		addr, err := l.Geocoder.Reverse(ctx, pos.Latitude, pos.Longitude)
		if err != nil {
			appLog.Warn("reverse geocoding failed", "err", err, "lat", pos.Latitude, "lng", pos.Longitude)
		} else {
			parts = NameParts(addr)
		}
	}
	if len(parts) == 0 {
		parts = []string{coordinateLabel(pos)}
	}

	loc, err := model.NewTrackedLocation("", parts, pos.Latitude, pos.Longitude)
	if err != nil {
		return model.TrackedLocation{}, err
	}
	appLog.Info("geolocation succeeded", "name", loc.Name, "accuracy", accuracy.String())
	return loc, nil
}

func coordinateLabel(p Position) string {
	return model.FormatLatitudeDMS(p.Latitude) + " " + model.FormatLongitudeDMS(p.Longitude)
}
