// Package notify turns upcoming event instants into delivered
// notifications: it composes the text, arms one timer per instant and fans
// each firing out to the configured sinks.
package notify

import (
	"context"
	"fmt"
	"time"

	"plutotime/internal/event"
	appLog "plutotime/internal/log"
	"plutotime/internal/model"
)

// Message is the text shared by every notification of one schedule.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Notification is one scheduled delivery.
type Notification struct {
	ID    string    `json:"id"`
	At    time.Time `json:"at"`
	Title string    `json:"title"`
	Body  string    `json:"body"`
}

// Sink delivers a notification somewhere.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// Compose builds the notification text. youAreHere means loc is where the
// user currently is, so the text talks about the light around them; for a
// picked place the text names it.
func Compose(loc model.TrackedLocation, target model.TargetCondition, youAreHere bool) Message {
	if youAreHere {
		return Message{
			Title: fmt.Sprintf("It's %s Time!", target.Body),
			Body:  fmt.Sprintf("Step outside – the sunlight around you now matches high noon on %s.", target.Body),
		}
	}
	return Message{
		Title: fmt.Sprintf("It's %s Time in %s!", target.Body, loc.Name),
		Body:  fmt.Sprintf("The sunlight in %s now matches high noon on %s.", loc.Name, target.Body),
	}
}

// Plan returns the instants that should be handed to the scheduler.
func Plan(st *event.State, prefs model.NotificationPreference, now time.Time) []time.Time {
	return st.FilterNotifiableInstants(prefs, now)
}

// LogSink writes notifications to the application log.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Deliver(_ context.Context, n Notification) error {
	appLog.Info("notification", "id", n.ID, "at", n.At.Format(time.RFC3339), "title", n.Title)
	return nil
}
