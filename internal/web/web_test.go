package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plutotime/internal/battery"
	"plutotime/internal/config"
	"plutotime/internal/event"
	"plutotime/internal/geo"
	"plutotime/internal/notify"
	"plutotime/internal/places"
	"plutotime/internal/refresh"
	"plutotime/internal/store"
)

var now = time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)

// everyFewHours yields instants at 10:55 and 16:10 UTC each day.
type everyFewHours struct{}

func (everyFewHours) Next(start time.Time, _, _, _ float64, count int) ([]time.Time, error) {
	var out []time.Time
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	for len(out) < count {
		for _, t := range []time.Time{day.Add(10*time.Hour + 55*time.Minute), day.Add(16*time.Hour + 10*time.Minute)} {
			if t.After(start) && len(out) < count {
				out = append(out, t)
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return out, nil
}

// polarFails behaves like everyFewHours except near the poles, where it
// fails the way the solar search does when no crossing exists.
type polarFails struct{ everyFewHours }

func (p polarFails) Next(start time.Time, lat, lng, alt float64, count int) ([]time.Time, error) {
	if lat > 80 {
		return nil, errors.New("no crossing found")
	}
	return p.everyFewHours.Next(start, lat, lng, alt, count)
}

type nopTimer struct{}

func (nopTimer) Stop() bool { return true }

type fixture struct {
	srv   *Server
	h     http.Handler
	state *event.State
	store *store.Store
	sched *notify.Scheduler
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	return newFixtureWithSource(t, cfg, everyFewHours{})
}

func newFixtureWithSource(t *testing.T, cfg *config.Config, src event.Source) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	st := event.NewState(event.Options{Source: src, Capacity: 6, Display: time.UTC})
	stor := store.New(filepath.Join(t.TempDir(), "state.json"))
	sched := notify.NewScheduler(nil,
		notify.WithClock(func() time.Time { return now }),
		notify.WithAfterFunc(func(time.Duration, func()) notify.Timer { return nopTimer{} }),
	)
	runner := refresh.New(cfg.RefreshCron, st, sched, stor)
	srv := NewServer(cfg, Deps{
		State:     st,
		Runner:    runner,
		Scheduler: sched,
		Store:     stor,
		Places:    places.NewCatalog(places.Builtin()),
		Battery:   battery.NewStaticReader(battery.Status{Percent: 15, VoltageMv: 3500}),
		Locator: &geo.Locator{
			Provider: geo.Static{Latitude: -33.8688, Longitude: 151.2093},
		},
	})
	srv.now = func() time.Time { return now }
	return &fixture{srv: srv, h: srv.Handler(), state: st, store: stor, sched: sched}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, httptest.NewRequest(method, path, rd))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestStateBeforeLocation(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[stateResponse](t, rec)
	assert.Nil(t, resp.Location)
	assert.Nil(t, resp.NextEvent)
	assert.Equal(t, "uninitialized", resp.Phase)
	assert.Equal(t, 5, resp.WindowMinutes)

	rec = f.do(t, http.MethodGet, "/calendar.ics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetLocationByQuery(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPut, "/api/location", map[string]string{"query": "reykjav"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[stateResponse](t, rec)
	require.NotNil(t, resp.Location)
	assert.Equal(t, "Reykjavík", resp.Location.Name)
	assert.False(t, resp.YouAreHere)
	require.NotNil(t, resp.NextEvent)
	assert.Equal(t, time.Date(2025, 1, 2, 10, 55, 0, 0, time.UTC), resp.NextEvent.UTC())
	assert.Equal(t, "10:55AM", resp.Clock)
	assert.Equal(t, "Thursday, January 2, 2025", resp.Date)
	assert.Len(t, resp.Instants, 6)

	saved, found, err := f.store.Load()
	require.NoError(t, err)
	assert.True(t, found)
	require.NotNil(t, saved.Location)
	assert.Equal(t, "Reykjavík", saved.Location.Name)
	assert.False(t, saved.YouAreHere)

	pend := f.sched.Pending()
	require.Len(t, pend, 6)
	assert.Equal(t, "It's Pluto Time in Reykjavík!", pend[0].Title)
}

func TestSetLocationByCoordinates(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPut, "/api/location", map[string]any{
		"full_name": []string{"Hobart", "Tasmania", "Australia"},
		"lat":       -42.8821,
		"lng":       147.3272,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hobart, Tasmania, Australia", decode[stateResponse](t, rec).Location.Display)
}

func TestSetLocationRejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/location", map[string]any{"lat": 91.0, "lng": 0.0}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/location", map[string]any{}).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPut, "/api/location", map[string]string{"query": "atlantis"}).Code)

	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/location", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetLocationFailedRecomputeKeepsPrevious(t *testing.T) {
	f := newFixtureWithSource(t, nil, polarFails{})
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/api/location", map[string]string{"query": "reykjav"}).Code)
	before := f.state.Instants()
	require.Len(t, before, 6)

	rec := f.do(t, http.MethodPut, "/api/location", map[string]any{
		"name": "North Pole Camp",
		"lat":  89.9,
		"lng":  0.0,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	saved, found, err := f.store.Load()
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, saved.Location)
	assert.Equal(t, "Reykjavík", saved.Location.Name)

	loc, ok := f.state.Location()
	require.True(t, ok)
	assert.Equal(t, "Reykjavík", loc.Name)
	assert.Equal(t, before, f.state.Instants())

	pend := f.sched.Pending()
	require.Len(t, pend, 6)
	for _, n := range pend {
		assert.Equal(t, "It's Pluto Time in Reykjavík!", n.Title)
	}

	resp := decode[stateResponse](t, f.do(t, http.MethodGet, "/api/state", nil))
	require.NotNil(t, resp.Location)
	assert.Equal(t, "Reykjavík", resp.Location.Name)
}

func TestLocate(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/location/locate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[stateResponse](t, rec)
	assert.True(t, resp.YouAreHere)
	assert.Equal(t, `33° 52' 7.68" S 151° 12' 33.48" E`, resp.Location.Name)
	assert.Equal(t, `33° 52' 7.68" S`, resp.Location.LatitudeDMS)
	assert.Equal(t, `151° 12' 33.48" E`, resp.Location.LongitudeDMS)
	assert.Equal(t, "It's Pluto Time!", f.sched.Pending()[0].Title)
}

func TestPreferences(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/api/location", map[string]string{"query": "reykjav"}).Code)
	require.Len(t, f.sched.Pending(), 6)

	rec := f.do(t, http.MethodPut, "/api/preferences", map[string]bool{"morning": false, "format_24h": true})
	require.Equal(t, http.StatusOK, rec.Code)
	prefs := decode[preferencesDTO](t, rec)
	assert.False(t, prefs.Morning)
	assert.True(t, prefs.Evening)
	assert.True(t, prefs.Format24Hour)

	pend := f.sched.Pending()
	require.Len(t, pend, 3)
	for _, n := range pend {
		assert.Equal(t, 16, n.At.Hour())
	}

	resp := decode[stateResponse](t, f.do(t, http.MethodGet, "/api/state", nil))
	assert.Equal(t, "10:55", resp.Clock)

	rec = f.do(t, http.MethodGet, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]notify.Notification](t, rec), 3)
}

func TestPlacesAndCalendar(t *testing.T) {
	f := newFixture(t, nil)
	got := decode[[]places.Place](t, f.do(t, http.MethodGet, "/api/places?q=manch", nil))
	assert.Len(t, got, 2)
	assert.Empty(t, decode[[]places.Place](t, f.do(t, http.MethodGet, "/api/places?q=m", nil)))

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/api/location", map[string]string{"query": "tromsø"}).Code)
	rec := f.do(t, http.MethodGet, "/calendar.ics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, 6, strings.Count(rec.Body.String(), "BEGIN:VEVENT"))
}

func TestBattery(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/battery", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[batteryResponse](t, rec)
	assert.Equal(t, 15, resp.Percent)
	assert.Equal(t, "lowest", resp.Accuracy)
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "pluto", Password: "charon"}
	f := newFixture(t, cfg)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/state", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.SetBasicAuth("pluto", "charon")
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodDelete, "/api/location", nil).Code)
}
