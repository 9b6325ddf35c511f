// Package event owns the tracked location and its cached list of upcoming
// event instants, and answers the temporal questions the rest of the
// application asks about them.
package event

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	appLog "plutotime/internal/log"
	"plutotime/internal/model"
)

const (
	// DefaultWindow is how long an event counts as happening after its instant.
	DefaultWindow = 5 * time.Minute
	// DefaultCapacity is the number of instants kept per location.
	DefaultCapacity = 60
)

var (
	// ErrNoEventScheduled is returned by queries against an empty list.
	ErrNoEventScheduled = errors.New("event: no event scheduled")
	// ErrNoLocation is returned by Recompute before SetLocation was called.
	ErrNoLocation = errors.New("event: no location set")
)

// Source produces count instants after start for a location. The solar
// Calculator and the debug TestCadence both satisfy it.
type Source interface {
	Next(start time.Time, lat, lng, altitude float64, count int) ([]time.Time, error)
}

// ClockFormat selects how FormatClockTime renders the next instant.
type ClockFormat int

const (
	Clock12h ClockFormat = iota
	Clock24h
)

// Phase is derived from the instant list and the current time; it is never
// stored.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseComputed
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseComputed:
		return "computed"
	case PhaseActive:
		return "active"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Options configures a State.
type Options struct {
	Target   model.TargetCondition
	Window   time.Duration
	Capacity int
	Source   Source
	// Display is the zone used for formatting and for the morning/evening
	// split. Nil means time.Local.
	Display *time.Location
}

// State is the explicit, injectable replacement for a process-wide store:
// one tracked location plus its upcoming instants.
//
// Readers get copies. Recompute swaps the list under a write lock so a
// reader never sees a partially updated list. Overlapping Recompute calls
// are not coordinated beyond that; callers serialize them.
type State struct {
	target   model.TargetCondition
	window   time.Duration
	capacity int
	source   Source
	display  *time.Location

	mu       sync.RWMutex
	location *model.TrackedLocation
	instants []time.Time
}

// NewState returns a State with defaults applied for zero Options fields.
func NewState(opts Options) *State {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Display == nil {
		opts.Display = time.Local
	}
	if opts.Target.Body == "" {
		opts.Target = model.Pluto
	}
	return &State{
		target:   opts.Target,
		window:   opts.Window,
		capacity: opts.Capacity,
		source:   opts.Source,
		display:  opts.Display,
	}
}

func (s *State) Window() time.Duration { return s.window }

func (s *State) Target() model.TargetCondition { return s.target }

func (s *State) DisplayLocation() *time.Location { return s.display }

// SetLocation replaces the tracked location and drops the old instants.
// Recompute must be called before the instants are used again.
func (s *State) SetLocation(loc model.TrackedLocation) {
	c := loc.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = &c
	s.instants = nil
}

// Snapshot is the tracked location and its instants at one moment, used to
// roll back a location change whose recompute failed.
type Snapshot struct {
	location *model.TrackedLocation
	instants []time.Time
}

// Snapshot captures the current location and instant list.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{instants: slices.Clone(s.instants)}
	if s.location != nil {
		c := s.location.Clone()
		snap.location = &c
	}
	return snap
}

// Restore puts back a Snapshot taken earlier.
func (s *State) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = nil
	if snap.location != nil {
		c := snap.location.Clone()
		s.location = &c
	}
	s.instants = slices.Clone(snap.instants)
}

// Location returns a copy of the tracked location.
func (s *State) Location() (model.TrackedLocation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.location == nil {
		return model.TrackedLocation{}, false
	}
	return s.location.Clone(), true
}

// Recompute refreshes the instant list from now - Window so an event in
// progress stays at the front of the list. On error the previous list is
// left untouched and the error is returned unchanged.
func (s *State) Recompute(now time.Time) error {
	s.mu.RLock()
	loc := s.location
	s.mu.RUnlock()
	if loc == nil {
		return ErrNoLocation
	}
	if s.source == nil {
		return errors.New("event: no instant source configured")
	}

	start := now.Add(-s.window)
	instants, err := s.source.Next(start, loc.Latitude, loc.Longitude, s.target.AltitudeDegrees, s.capacity)
	if err != nil {
		return err
	}

	s.mu.Lock()
	// Drop the result if the location was replaced while computing.
	if s.location != loc {
		s.mu.Unlock()
		appLog.Debug("discarding instants for replaced location", "name", loc.Name)
		return nil
	}
	s.instants = instants
	s.mu.Unlock()

	if len(instants) == 0 {
		appLog.Warn("instant source returned no events", "name", loc.Name)
		return nil
	}
	appLog.Info("calculated event times", "name", loc.Name, "count", len(instants), "first", instants[0].Format(time.RFC3339))
	return nil
}

// Instants returns a copy of the current list.
func (s *State) Instants() []time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.instants)
}

func (s *State) first() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.instants) == 0 {
		return time.Time{}, false
	}
	return s.instants[0], true
}

// NextEventInstant returns the soonest instant in the list.
func (s *State) NextEventInstant() (time.Time, error) {
	t, ok := s.first()
	if !ok {
		return time.Time{}, ErrNoEventScheduled
	}
	return t, nil
}

// IsEventActiveNow reports whether now is within [first, first+Window].
// Only the first instant is considered.
func (s *State) IsEventActiveNow(now time.Time) bool {
	t, ok := s.first()
	if !ok {
		return false
	}
	dt := now.Sub(t)
	return dt >= 0 && dt <= s.window
}

// NeedsRecompute reports whether the list is empty or its first event has
// fully elapsed.
func (s *State) NeedsRecompute(now time.Time) bool {
	t, ok := s.first()
	if !ok {
		return true
	}
	return now.After(t.Add(s.window))
}

// Phase derives the lifecycle phase at now.
func (s *State) Phase(now time.Time) Phase {
	if _, ok := s.first(); !ok {
		return PhaseUninitialized
	}
	if s.IsEventActiveNow(now) {
		return PhaseActive
	}
	return PhaseComputed
}

// FormatClockTime renders the next instant as "8:05AM" or "20:05" in the
// display zone.
func (s *State) FormatClockTime(format ClockFormat) (string, error) {
	t, err := s.NextEventInstant()
	if err != nil {
		return "", err
	}
	t = t.In(s.display)
	if format == Clock24h {
		return t.Format("15:04"), nil
	}
	return strings.ReplaceAll(t.Format("3:04 PM"), " ", ""), nil
}

// FormatDateLong renders the next instant as "Wednesday, January 1, 2025".
func (s *State) FormatDateLong() (string, error) {
	t, err := s.NextEventInstant()
	if err != nil {
		return "", err
	}
	return t.In(s.display).Format("Monday, January 2, 2006"), nil
}

// FilterNotifiableInstants returns the instants strictly after now whose
// hour in the display zone falls in a half of the day enabled by prefs.
func (s *State) FilterNotifiableInstants(prefs model.NotificationPreference, now time.Time) []time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]time.Time, 0, len(s.instants))
	for _, t := range s.instants {
		if !t.After(now) {
			continue
		}
		if prefs.Allows(t.In(s.display).Hour()) {
			out = append(out, t)
		}
	}
	return out
}
