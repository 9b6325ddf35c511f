// Package ics renders upcoming event instants as an iCalendar feed so the
// events can be subscribed to from any calendar client.
package ics

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"plutotime/internal/model"
)

const productID = "-//plutotime//event feed//EN"

// uidNamespace scopes the name-based UIDs of exported events.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://plutotime.invalid/events"))

// Export serializes instants as one VEVENT each, lasting window. UIDs are
// derived from the location and instant so re-exports update events in
// place instead of duplicating them.
func Export(loc model.TrackedLocation, target model.TargetCondition, instants []time.Time, window time.Duration) ([]byte, error) {
	if window <= 0 {
		return nil, errors.New("ics: window must be positive")
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetXWRCalName(fmt.Sprintf("%s Time in %s", target.Body, loc.Name))

	stamp := time.Now().UTC()
	summary := fmt.Sprintf("%s Time", target.Body)
	where := loc.DisplayFullName()
	for _, at := range instants {
		at = at.UTC()
		ev := cal.AddEvent(eventUID(loc, at))
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(at)
		ev.SetEndAt(at.Add(window))
		ev.SetSummary(summary)
		if where != "" {
			ev.SetLocation(where)
		}
		ev.SetDescription(fmt.Sprintf("The sunlight now matches high noon on %s.", target.Body))
	}
	return []byte(cal.Serialize()), nil
}

func eventUID(loc model.TrackedLocation, at time.Time) string {
	key := strconv.FormatFloat(loc.Latitude, 'f', 5, 64) + "," +
		strconv.FormatFloat(loc.Longitude, 'f', 5, 64) + "@" +
		strconv.FormatInt(at.Unix(), 10)
	return uuid.NewSHA1(uidNamespace, []byte(key)).String()
}
