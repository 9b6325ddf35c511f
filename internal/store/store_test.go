package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plutotime/internal/model"
)

func TestLoadMissingReturnsDefault(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "state.json"))
	st, found, err := s.Load()
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, Default(), st)
	assert.True(t, st.Notify.Morning)
	assert.True(t, st.Notify.Evening)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saves", "state.json")
	s := New(path)

	loc, err := model.NewTrackedLocation("Manchester", []string{"Manchester", "Michigan", "United States"}, 42.15032, -84.03772)
	require.NoError(t, err)

	want := Default()
	want.Location = FromTracked(loc)
	want.Notify = model.NotificationPreference{Morning: true}
	want.Format24Hour = true
	want.PromptsCompleted = []bool{true, true}
	require.NoError(t, s.Save(want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, found, err := s.Load()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)

	back, err := got.Location.Tracked()
	require.NoError(t, err)
	assert.Equal(t, loc, back)
}

func TestSavedFileHasNoInstants(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path)
	st := Default()
	st.Location = &SavedLocation{Name: "Reykjavík", FullName: []string{"Reykjavík"}, Lat: 64.1, Lng: -21.9}
	require.NoError(t, s.Save(st))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "instant"))
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	st, found, err := New(path).Load()
	assert.Error(t, err)
	assert.False(t, found)
	assert.Equal(t, Default(), st)
}

func TestUpdate(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "state.json"))
	st, err := s.Update(func(st *AppState) { st.YouAreHere = false })
	require.NoError(t, err)
	assert.False(t, st.YouAreHere)

	got, found, err := s.Load()
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, got.YouAreHere)
}

func TestTrackedRejectsInvalid(t *testing.T) {
	_, err := SavedLocation{Lat: 100}.Tracked()
	assert.ErrorIs(t, err, model.ErrInvalidCoordinate)
}
