// Package refresh keeps the event list current: a cron-driven tick
// recomputes once the first event has elapsed and re-arms notifications
// whenever the list or the preferences change.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"plutotime/internal/event"
	appLog "plutotime/internal/log"
	"plutotime/internal/metrics"
	"plutotime/internal/model"
	"plutotime/internal/notify"
	"plutotime/internal/store"
)

// Preferences supplies the persisted notification settings.
type Preferences interface {
	Load() (store.AppState, bool, error)
}

// Runner owns every recompute of one event.State. Recomputes are
// serialized so two triggers never race on the same location.
type Runner struct {
	state     *event.State
	scheduler *notify.Scheduler
	prefs     Preferences
	spec      string

	mu        sync.Mutex
	wasActive bool
}

// New builds a runner ticking on the given cron spec. scheduler and prefs
// may be nil, in which case nothing is scheduled.
func New(spec string, st *event.State, scheduler *notify.Scheduler, prefs Preferences) *Runner {
	return &Runner{state: st, scheduler: scheduler, prefs: prefs, spec: spec}
}

// SetLocation switches to loc and recomputes. commit, when non-nil, runs
// after a successful recompute and before notifications are re-armed, so it
// can persist the change. If either step fails the previous location and
// instants are restored and the armed notifications are left as they were.
func (r *Runner) SetLocation(loc model.TrackedLocation, now time.Time, commit func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.state.Snapshot()
	r.state.SetLocation(loc)
	if err := r.computeLocked(now); err != nil {
		r.state.Restore(prev)
		return err
	}
	if commit != nil {
		if err := commit(); err != nil {
			r.state.Restore(prev)
			return err
		}
	}
	r.rescheduleLocked(now)
	return nil
}

// Recompute forces a recomputation and reschedules notifications.
func (r *Runner) Recompute(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recomputeLocked(now)
}

func (r *Runner) recomputeLocked(now time.Time) error {
	if err := r.computeLocked(now); err != nil {
		return err
	}
	r.rescheduleLocked(now)
	return nil
}

func (r *Runner) computeLocked(now time.Time) error {
	start := time.Now()
	err := r.state.Recompute(now)
	next, nerr := r.state.NextEventInstant()
	if nerr != nil {
		next = time.Time{}
	}
	metrics.ObserveRecompute(time.Since(start), next, err)
	return err
}

// Reschedule re-arms notifications from the current list, e.g. after the
// preferences changed.
func (r *Runner) Reschedule(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rescheduleLocked(now)
}

func (r *Runner) rescheduleLocked(now time.Time) int {
	if r.scheduler == nil {
		return 0
	}
	loc, ok := r.state.Location()
	if !ok {
		r.scheduler.CancelAll()
		return 0
	}
	st := store.Default()
	if r.prefs != nil {
		loaded, _, err := r.prefs.Load()
		if err != nil {
			appLog.Error("failed to load preferences, using defaults", err)
		} else {
			st = loaded
		}
	}
	instants := notify.Plan(r.state, st.Notify, now)
	msg := notify.Compose(loc, r.state.Target(), st.YouAreHere)
	return r.scheduler.Replace(instants, msg)
}

// Tick is one refresh step: it records active transitions and recomputes
// once the first event has fully elapsed.
func (r *Runner) Tick(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := r.state.IsEventActiveNow(now)
	if active != r.wasActive {
		if active {
			appLog.Info("event window started", "phase", event.PhaseActive.String())
		} else {
			appLog.Info("event window ended")
		}
		r.wasActive = active
		metrics.SetActive(active)
	}

	if !r.state.NeedsRecompute(now) {
		return
	}
	if _, ok := r.state.Location(); !ok {
		return
	}
	if err := r.recomputeLocked(now); err != nil {
		appLog.Error("scheduled recompute failed", err)
	}
}

// Run ticks on the cron spec until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(r.spec, func() { r.Tick(time.Now()) }); err != nil {
		return fmt.Errorf("refresh: invalid cron spec %q: %w", r.spec, err)
	}
	appLog.Info("refresh loop started", "spec", r.spec)
	c.Start()
	r.Tick(time.Now())

	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("refresh loop stopped")
	return nil
}
