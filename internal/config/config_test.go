package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadNormalizesPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
listen: ":9090"
timezone: "Atlantic/Reykjavik"
target:
  body: Horizon
  altitude_degrees: 0
event:
  window_minutes: 10
default_location:
  lat: 200
notify:
  mqtt:
    broker: "tcp://localhost:1883"
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "Horizon", cfg.Target.Body)
	assert.Equal(t, 0.0, cfg.Target.AltitudeDegrees)
	assert.Equal(t, 10*time.Minute, cfg.Window())
	assert.Equal(t, 60, cfg.Event.Capacity)
	assert.Equal(t, 400, cfg.Event.MaxScanDays)
	assert.Equal(t, "* * * * *", cfg.RefreshCron)
	// Out-of-range coordinates fall back to the built-in location.
	assert.Equal(t, 64.13548, cfg.DefaultLocation.Latitude)
	require.NotNil(t, cfg.Notify.MQTT)
	assert.Equal(t, "plutotime/notifications", cfg.Notify.MQTT.Topic)
	assert.Equal(t, "plutotime", cfg.Notify.MQTT.ClientID)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unclosed"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestConversions(t *testing.T) {
	cfg := DefaultConfig()
	target := cfg.TargetCondition()
	assert.Equal(t, "Pluto", target.Body)
	assert.Equal(t, -1.5, target.AltitudeDegrees)

	loc, err := cfg.TrackedLocation()
	require.NoError(t, err)
	assert.Equal(t, "Reykjavík", loc.Name)
	assert.Equal(t, "Reykjavík, Capital Region, Iceland", loc.DisplayFullName())

	cfg.Timezone = "Not/AZone"
	zone, err := cfg.DisplayLocation()
	assert.Error(t, err)
	assert.Equal(t, time.UTC, zone)
}

func TestSaveRequiresPath(t *testing.T) {
	assert.Error(t, Save("", DefaultConfig()))
	assert.Error(t, Save(filepath.Join(t.TempDir(), "c.yaml"), nil))
}

func TestNormalizeCadenceMinutes(t *testing.T) {
	for in, want := range map[int]int{0: 5, -3: 5, 7: 5, 45: 5, 120: 5, 1: 1, 15: 15, 60: 60} {
		cfg := DefaultConfig()
		cfg.Debug.CadenceMinutes = in
		cfg.Normalize()
		assert.Equal(t, want, cfg.Debug.CadenceMinutes, "cadence %d", in)
	}
}
