package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"plutotime/internal/model"
)

// TargetConfig selects the body whose noon light is tracked.
type TargetConfig struct {
	Body            string  `yaml:"body" json:"body"`
	AltitudeDegrees float64 `yaml:"altitude_degrees" json:"altitude_degrees"`
}

// EventConfig tunes the instant list.
type EventConfig struct {
	// WindowMinutes is how long an event counts as "now" after its instant.
	WindowMinutes int `yaml:"window_minutes" json:"window_minutes"`
	// Capacity is the number of upcoming instants kept.
	Capacity int `yaml:"capacity" json:"capacity"`
	// MaxScanDays bounds the solar day scan.
	MaxScanDays int `yaml:"max_scan_days" json:"max_scan_days"`
}

// LocationConfig is the fallback location used before anything is saved.
type LocationConfig struct {
	Name      string   `yaml:"name" json:"name"`
	FullName  []string `yaml:"full_name" json:"full_name"`
	Latitude  float64  `yaml:"lat" json:"lat"`
	Longitude float64  `yaml:"lng" json:"lng"`
}

// MQTTConfig enables the MQTT notification sink when Broker is set.
type MQTTConfig struct {
	Broker   string `yaml:"broker" json:"broker"`
	Topic    string `yaml:"topic" json:"topic"`
	ClientID string `yaml:"client_id" json:"client_id"`
}

type NotifyConfig struct {
	MQTT *MQTTConfig `yaml:"mqtt,omitempty" json:"mqtt,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// DebugConfig switches the solar source for a fixed test cadence.
type DebugConfig struct {
	TestCadence    bool `yaml:"test_cadence" json:"test_cadence"`
	CadenceMinutes int  `yaml:"cadence_minutes" json:"cadence_minutes"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for display and for the
	// morning/evening notification split (e.g. "Atlantic/Reykjavik").
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// StatePath is where the persisted app state (location, preferences) lives.
	StatePath string `yaml:"state_path" json:"state_path"`

	// PlacesPath optionally points at a YAML place catalog. Empty uses the
	// built-in list.
	PlacesPath string `yaml:"places_path" json:"places_path"`

	// PlacesURL, when set, is fetched instead of PlacesPath and cached
	// under CacheDir.
	PlacesURL string `yaml:"places_url" json:"places_url"`
	CacheDir  string `yaml:"cache_dir" json:"cache_dir"`

	// BatteryI2CAddr is the battery controller address; without one the
	// device is assumed to be on mains power.
	BatteryI2CAddr uint16 `yaml:"battery_i2c_addr" json:"battery_i2c_addr"`

	// RefreshCron is how often the re-arm loop checks for elapsed events.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Target          TargetConfig     `yaml:"target" json:"target"`
	Event           EventConfig      `yaml:"event" json:"event"`
	DefaultLocation LocationConfig   `yaml:"default_location" json:"default_location"`
	Notify          NotifyConfig     `yaml:"notify" json:"notify"`
	BasicAuth       *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
	Debug           DebugConfig      `yaml:"debug" json:"debug"`
}

func defaultLocation() LocationConfig {
	return LocationConfig{
		Name:      "Reykjavík",
		FullName:  []string{"Reykjavík", "Capital Region", "Iceland"},
		Latitude:  64.13548,
		Longitude: -21.89541,
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "UTC",
		LogLevel:    "info",
		StatePath:   "/var/lib/plutotime/state.json",
		CacheDir:    "/var/lib/plutotime/cache",
		RefreshCron: "* * * * *",
		Target: TargetConfig{
			Body:            model.Pluto.Body,
			AltitudeDegrees: model.Pluto.AltitudeDegrees,
		},
		Event: EventConfig{
			WindowMinutes: 5,
			Capacity:      60,
			MaxScanDays:   400,
		},
		DefaultLocation: defaultLocation(),
		Debug:           DebugConfig{CadenceMinutes: 5},

		// PiSugar 2/3 default address.
		BatteryI2CAddr: 0x57,
	}
}

// Normalize fills in missing/zero values so partially-filled configs still
// behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.StatePath == "" {
		c.StatePath = d.StatePath
	}
	if c.CacheDir == "" {
		c.CacheDir = d.CacheDir
	}
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	// A zero altitude is a legitimate target (geometric horizon), so only
	// the body name decides whether the target block was set.
	if c.Target.Body == "" {
		c.Target = d.Target
	}
	if c.Event.WindowMinutes <= 0 {
		c.Event.WindowMinutes = d.Event.WindowMinutes
	}
	if c.Event.Capacity <= 0 {
		c.Event.Capacity = d.Event.Capacity
	}
	if c.Event.MaxScanDays <= 0 {
		c.Event.MaxScanDays = d.Event.MaxScanDays
	}
	if model.ValidateCoordinates(c.DefaultLocation.Latitude, c.DefaultLocation.Longitude) != nil ||
		len(c.DefaultLocation.FullName) == 0 {
		c.DefaultLocation = d.DefaultLocation
	}
	// The test cadence counts boundaries from the top of the hour.
	if c.Debug.CadenceMinutes <= 0 || 60%c.Debug.CadenceMinutes != 0 {
		c.Debug.CadenceMinutes = d.Debug.CadenceMinutes
	}
	if c.Notify.MQTT != nil {
		if c.Notify.MQTT.Topic == "" {
			c.Notify.MQTT.Topic = "plutotime/notifications"
		}
		if c.Notify.MQTT.ClientID == "" {
			c.Notify.MQTT.ClientID = "plutotime"
		}
	}
}

// Window returns the event window as a duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.Event.WindowMinutes) * time.Minute
}

// TargetCondition converts the target block to the model type.
func (c *Config) TargetCondition() model.TargetCondition {
	return model.TargetCondition{Body: c.Target.Body, AltitudeDegrees: c.Target.AltitudeDegrees}
}

// TrackedLocation converts DefaultLocation to the model type.
func (c *Config) TrackedLocation() (model.TrackedLocation, error) {
	l := c.DefaultLocation
	return model.NewTrackedLocation(l.Name, l.FullName, l.Latitude, l.Longitude)
}

// DisplayLocation loads Timezone, falling back to UTC.
func (c *Config) DisplayLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC, err
	}
	return loc, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read, unmarshaled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg atomically (temp file + rename) with 0600 permissions,
// creating the parent directory with 0700 if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic is shared with the state store.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".plutotime-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
