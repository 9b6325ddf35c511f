// Package store persists the user-facing app state between runs. Event
// instants are deliberately not part of it: they are recomputed on load.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"plutotime/internal/config"
	appLog "plutotime/internal/log"
	"plutotime/internal/model"
)

// Version is written into every save so future layouts can be migrated.
const Version = "1"

// SavedLocation is the persisted form of model.TrackedLocation.
type SavedLocation struct {
	Name     string   `json:"name"`
	FullName []string `json:"full_name"`
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
}

// AppState is everything written to the state file.
type AppState struct {
	Version          string                       `json:"version"`
	PromptsCompleted []bool                       `json:"prompts_completed"`
	Notify           model.NotificationPreference `json:"notify"`
	Location         *SavedLocation               `json:"location,omitempty"`
	YouAreHere       bool                         `json:"you_are_here"`
	Format24Hour     bool                         `json:"format_24h"`
}

// Default returns the state used when no file exists yet.
func Default() AppState {
	return AppState{
		Version:          Version,
		PromptsCompleted: []bool{false, false},
		Notify:           model.DefaultNotificationPreference(),
		YouAreHere:       true,
	}
}

// FromTracked converts a tracked location for saving.
func FromTracked(l model.TrackedLocation) *SavedLocation {
	c := l.Clone()
	return &SavedLocation{Name: c.Name, FullName: c.FullName, Lat: c.Latitude, Lng: c.Longitude}
}

// Tracked validates and converts the saved location back.
func (s SavedLocation) Tracked() (model.TrackedLocation, error) {
	return model.NewTrackedLocation(s.Name, s.FullName, s.Lat, s.Lng)
}

// Store reads and writes AppState at a fixed path. Methods are safe for
// concurrent use.
type Store struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Load returns the saved state. found is false (with Default()) when the
// file does not exist yet.
func (s *Store) Load() (st AppState, found bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (st AppState, found bool, err error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			appLog.Info("no state file found, using defaults", "path", s.path)
			return Default(), false, nil
		}
		return Default(), false, err
	}

	st = Default()
	if err := json.Unmarshal(data, &st); err != nil {
		return Default(), false, fmt.Errorf("store: decode %s: %w", s.path, err)
	}
	if len(st.PromptsCompleted) != 2 {
		st.PromptsCompleted = []bool{false, false}
	}
	appLog.Info("loaded state file", "path", s.path, "version", st.Version)
	return st, true, nil
}

// Save writes st atomically with 0600 permissions.
func (s *Store) Save(st AppState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(st)
}

func (s *Store) saveLocked(st AppState) error {
	st.Version = Version
	data, err := json.MarshalIndent(&st, "", "  ")
	if err != nil {
		return err
	}
	if err := config.WriteFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("store: write %s: %w", s.path, err)
	}
	appLog.Debug("wrote state file", "path", s.path)
	return nil
}

// Update loads, mutates and saves under one lock.
func (s *Store) Update(fn func(*AppState)) (AppState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, _, err := s.loadLocked()
	if err != nil {
		return st, err
	}
	fn(&st)
	st.Version = Version
	return st, s.saveLocked(st)
}
