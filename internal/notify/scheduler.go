package notify

import (
	"context"
	"slices"
	"sync"
	"time"

	"cloudeng.io/errors"
	"github.com/google/uuid"

	appLog "plutotime/internal/log"
	"plutotime/internal/metrics"
)

const deliverTimeout = 15 * time.Second

// Timer is the part of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// AfterFunc arms f to run after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type pending struct {
	n     Notification
	timer Timer
}

// Scheduler keeps one armed timer per future notification. Replace always
// cancels everything first, so the armed set mirrors the latest plan.
type Scheduler struct {
	sinks     []Sink
	now       func() time.Time
	afterFunc AfterFunc

	mu      sync.Mutex
	pending map[string]*pending
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithAfterFunc overrides time.AfterFunc, for tests.
func WithAfterFunc(f AfterFunc) Option {
	return func(s *Scheduler) { s.afterFunc = f }
}

func NewScheduler(sinks []Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		sinks:     sinks,
		now:       time.Now,
		afterFunc: realAfterFunc,
		pending:   make(map[string]*pending),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Replace cancels all pending notifications and arms one per instant that
// is still in the future. It returns the number armed.
func (s *Scheduler) Replace(instants []time.Time, msg Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()
	now := s.now()
	for _, at := range instants {
		d := at.Sub(now)
		if d <= 0 {
			continue
		}
		n := Notification{
			ID:    uuid.NewString(),
			At:    at,
			Title: msg.Title,
			Body:  msg.Body,
		}
		p := &pending{n: n}
		p.timer = s.afterFunc(d, func() { s.fire(n.ID) })
		s.pending[n.ID] = p
	}
	metrics.SetScheduled(len(s.pending))
	appLog.Info("notifications scheduled", "count", len(s.pending))
	return len(s.pending)
}

// CancelAll stops every pending timer.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	metrics.SetScheduled(0)
}

func (s *Scheduler) cancelLocked() {
	for id, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, id)
	}
}

// Pending lists armed notifications ordered by time.
func (s *Scheduler) Pending() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p.n)
	}
	slices.SortFunc(out, func(a, b Notification) int { return a.At.Compare(b.At) })
	return out
}

func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	remaining := len(s.pending)
	s.mu.Unlock()
	if !ok {
		// Cancelled after the timer had already started.
		return
	}
	metrics.SetScheduled(remaining)

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	if err := s.Deliver(ctx, p.n); err != nil {
		appLog.Error("notification delivery failed", err, "id", id)
	}
}

// Deliver sends n to every sink and aggregates their failures.
func (s *Scheduler) Deliver(ctx context.Context, n Notification) error {
	errs := &errors.M{}
	for _, sink := range s.sinks {
		err := sink.Deliver(ctx, n)
		metrics.ObserveDelivery(err)
		if err != nil {
			appLog.Warn("sink delivery failed", "sink", sink.Name(), "err", err)
		}
		errs.Append(err)
	}
	return errs.Err()
}
