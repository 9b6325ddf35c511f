package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"plutotime/internal/battery"
	"plutotime/internal/config"
	"plutotime/internal/event"
	"plutotime/internal/geo"
	"plutotime/internal/ics"
	appLog "plutotime/internal/log"
	"plutotime/internal/metrics"
	"plutotime/internal/model"
	"plutotime/internal/notify"
	"plutotime/internal/places"
	"plutotime/internal/refresh"
	"plutotime/internal/store"
)

const batteryCacheTTL = 30 * time.Second

// Deps are the collaborators the HTTP API reads and drives.
type Deps struct {
	State     *event.State
	Runner    *refresh.Runner
	Scheduler *notify.Scheduler
	Store     *store.Store
	Places    *places.Catalog
	Battery   battery.Reader
	Locator   *geo.Locator
}

// Server provides the HTTP API over the tracked location and its events.
type Server struct {
	cfg    *config.Config
	deps   Deps
	router *mux.Router
	now    func() time.Time

	batteryMu    sync.RWMutex
	batteryCache *batteryCache
}

// batteryCache holds the last known battery status and its timestamp.
type batteryCache struct {
	status    battery.Status
	updatedAt time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: mux.NewRouter(),
		now:    time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the full middleware stack around the router.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	h = metrics.Middleware(h)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	h = handlers.LoggingHandler(appLog.Writer(appLog.LevelDebug, "http"), h)
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(h)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="plutotime", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/api/places", s.handlePlaces).Methods(http.MethodGet)
	r.HandleFunc("/api/location", s.handleSetLocation).Methods(http.MethodPut)
	r.HandleFunc("/api/location/locate", s.handleLocate).Methods(http.MethodPost)
	r.HandleFunc("/api/preferences", s.handlePreferences).Methods(http.MethodPut)
	r.HandleFunc("/api/notifications", s.handleNotifications).Methods(http.MethodGet)
	r.HandleFunc("/api/battery", s.handleBattery).Methods(http.MethodGet)
	r.HandleFunc("/calendar.ics", s.handleCalendar).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type locationDTO struct {
	Name         string   `json:"name"`
	FullName     []string `json:"full_name"`
	Display      string   `json:"display"`
	Latitude     float64  `json:"lat"`
	Longitude    float64  `json:"lng"`
	LatitudeDMS  string   `json:"lat_dms"`
	LongitudeDMS string   `json:"lng_dms"`
}

func toLocationDTO(l model.TrackedLocation) *locationDTO {
	return &locationDTO{
		Name:         l.Name,
		FullName:     l.FullName,
		Display:      l.DisplayFullName(),
		Latitude:     l.Latitude,
		Longitude:    l.Longitude,
		LatitudeDMS:  model.FormatLatitudeDMS(l.Latitude),
		LongitudeDMS: model.FormatLongitudeDMS(l.Longitude),
	}
}

type preferencesDTO struct {
	Morning      bool `json:"morning"`
	Evening      bool `json:"evening"`
	Format24Hour bool `json:"format_24h"`
}

// stateResponse is the JSON response shape for /api/state.
type stateResponse struct {
	Location      *locationDTO   `json:"location,omitempty"`
	YouAreHere    bool           `json:"you_are_here"`
	Phase         string         `json:"phase"`
	Active        bool           `json:"active"`
	NextEvent     *time.Time     `json:"next_event,omitempty"`
	Clock         string         `json:"clock,omitempty"`
	Date          string         `json:"date,omitempty"`
	WindowMinutes int            `json:"window_minutes"`
	TimeZone      string         `json:"timezone"`
	Instants      []time.Time    `json:"instants"`
	Preferences   preferencesDTO `json:"preferences"`
}

func (s *Server) buildState(now time.Time) stateResponse {
	st := s.deps.State
	saved := s.loadAppState()

	resp := stateResponse{
		YouAreHere:    saved.YouAreHere,
		Phase:         st.Phase(now).String(),
		Active:        st.IsEventActiveNow(now),
		WindowMinutes: int(st.Window() / time.Minute),
		TimeZone:      st.DisplayLocation().String(),
		Instants:      st.Instants(),
		Preferences: preferencesDTO{
			Morning:      saved.Notify.Morning,
			Evening:      saved.Notify.Evening,
			Format24Hour: saved.Format24Hour,
		},
	}
	if loc, ok := st.Location(); ok {
		resp.Location = toLocationDTO(loc)
	}
	if next, err := st.NextEventInstant(); err == nil {
		resp.NextEvent = &next
		format := event.Clock12h
		if saved.Format24Hour {
			format = event.Clock24h
		}
		resp.Clock, _ = st.FormatClockTime(format)
		resp.Date, _ = st.FormatDateLong()
	}
	return resp
}

func (s *Server) loadAppState() store.AppState {
	if s.deps.Store == nil {
		return store.Default()
	}
	st, _, err := s.deps.Store.Load()
	if err != nil {
		appLog.Error("failed to load app state", err)
		return store.Default()
	}
	return st
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.buildState(s.now()))
}

func (s *Server) handlePlaces(w http.ResponseWriter, r *http.Request) {
	if s.deps.Places == nil {
		writeJSON(w, http.StatusOK, []places.Place{})
		return
	}
	found := s.deps.Places.Search(r.URL.Query().Get("q"))
	if found == nil {
		found = []places.Place{}
	}
	writeJSON(w, http.StatusOK, found)
}

// setLocationRequest picks either a catalog query or explicit coordinates.
type setLocationRequest struct {
	Query     string   `json:"query"`
	Name      string   `json:"name"`
	FullName  []string `json:"full_name"`
	Latitude  *float64 `json:"lat"`
	Longitude *float64 `json:"lng"`
}

func (s *Server) handleSetLocation(w http.ResponseWriter, r *http.Request) {
	var req setLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var (
		loc model.TrackedLocation
		err error
	)
	switch {
	case req.Query != "":
		if s.deps.Places == nil {
			writeError(w, http.StatusNotFound, "no place catalog")
			return
		}
		found := s.deps.Places.Search(req.Query)
		if len(found) == 0 {
			writeError(w, http.StatusNotFound, "no place matches query")
			return
		}
		loc, err = found[0].Tracked()
	case req.Latitude != nil && req.Longitude != nil:
		loc, err = model.NewTrackedLocation(req.Name, req.FullName, *req.Latitude, *req.Longitude)
	default:
		writeError(w, http.StatusBadRequest, "either query or lat/lng is required")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.applyLocation(w, loc, false)
}

// handleLocate resolves the current position through the configured
// locator and tracks it as "you are here".
func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Locator == nil {
		writeError(w, http.StatusNotImplemented, "geolocation is not configured")
		return
	}
	loc, err := s.deps.Locator.Locate(r.Context())
	if err != nil {
		appLog.Error("geolocation failed", err)
		writeError(w, http.StatusBadGateway, "geolocation failed")
		return
	}
	s.applyLocation(w, loc, true)
}

// applyLocation recomputes for loc first and persists only once that
// succeeded, so a failed change leaves state, store and notifications on
// the previous location.
func (s *Server) applyLocation(w http.ResponseWriter, loc model.TrackedLocation, youAreHere bool) {
	var persistErr error
	commit := func() error {
		if s.deps.Store == nil {
			return nil
		}
		_, persistErr = s.deps.Store.Update(func(st *store.AppState) {
			st.Location = store.FromTracked(loc)
			st.YouAreHere = youAreHere
		})
		return persistErr
	}

	now := s.now()
	if err := s.deps.Runner.SetLocation(loc, now, commit); err != nil {
		if persistErr != nil {
			appLog.Error("failed to persist location", err)
			writeError(w, http.StatusInternalServerError, "failed to persist location")
			return
		}
		appLog.Error("recompute after location change failed", err, "name", loc.Name)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	appLog.Info("tracked location changed", "name", loc.Name, "you_are_here", youAreHere)
	writeJSON(w, http.StatusOK, s.buildState(now))
}

type preferencesRequest struct {
	Morning      *bool `json:"morning"`
	Evening      *bool `json:"evening"`
	Format24Hour *bool `json:"format_24h"`
}

func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	var req preferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "no state store")
		return
	}
	saved, err := s.deps.Store.Update(func(st *store.AppState) {
		if req.Morning != nil {
			st.Notify.Morning = *req.Morning
		}
		if req.Evening != nil {
			st.Notify.Evening = *req.Evening
		}
		if req.Format24Hour != nil {
			st.Format24Hour = *req.Format24Hour
		}
		st.PromptsCompleted[1] = true
	})
	if err != nil {
		appLog.Error("failed to persist preferences", err)
		writeError(w, http.StatusInternalServerError, "failed to persist preferences")
		return
	}
	n := s.deps.Runner.Reschedule(s.now())
	appLog.Info("notification preferences changed", "morning", saved.Notify.Morning, "evening", saved.Notify.Evening, "scheduled", n)
	writeJSON(w, http.StatusOK, preferencesDTO{
		Morning:      saved.Notify.Morning,
		Evening:      saved.Notify.Evening,
		Format24Hour: saved.Format24Hour,
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, _ *http.Request) {
	pending := []notify.Notification{}
	if s.deps.Scheduler != nil {
		pending = s.deps.Scheduler.Pending()
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleCalendar(w http.ResponseWriter, _ *http.Request) {
	st := s.deps.State
	loc, ok := st.Location()
	if !ok {
		writeError(w, http.StatusNotFound, "no location tracked")
		return
	}
	body, err := ics.Export(loc, st.Target(), st.Instants(), st.Window())
	if err != nil {
		appLog.Error("calendar export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to export calendar")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// batteryResponse is the JSON response shape for /api/battery.
type batteryResponse struct {
	Percent   int    `json:"percent"`
	VoltageMv int    `json:"voltage_mv"`
	Powered   bool   `json:"powered"`
	Accuracy  string `json:"accuracy"`
}

// handleBattery exposes the power status and the geolocation accuracy it
// selects. Reads are cached briefly to avoid hitting I2C on every call.
func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	s.batteryMu.RLock()
	bc := s.batteryCache
	s.batteryMu.RUnlock()
	if bc != nil && now.Sub(bc.updatedAt) < batteryCacheTTL {
		writeJSON(w, http.StatusOK, toBatteryResponse(bc.status))
		return
	}

	if s.deps.Battery == nil {
		writeError(w, http.StatusInternalServerError, "battery reader unavailable")
		return
	}
	status, err := s.deps.Battery.Read(r.Context())
	if err != nil {
		appLog.Error("battery read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read battery")
		return
	}

	s.batteryMu.Lock()
	s.batteryCache = &batteryCache{status: status, updatedAt: time.Now()}
	s.batteryMu.Unlock()

	writeJSON(w, http.StatusOK, toBatteryResponse(status))
}

func toBatteryResponse(st battery.Status) batteryResponse {
	return batteryResponse{
		Percent:   st.Percent,
		VoltageMv: st.VoltageMv,
		Powered:   st.Powered,
		Accuracy:  geo.AccuracyFor(st).String(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
