package ics

import (
	"bytes"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plutotime/internal/model"
)

var reykjavik = model.TrackedLocation{
	Name:      "Reykjavík",
	FullName:  []string{"Reykjavík", "Capital Region", "Iceland"},
	Latitude:  64.13548,
	Longitude: -21.89541,
}

func TestExport(t *testing.T) {
	a := time.Date(2025, 1, 2, 10, 55, 0, 0, time.UTC)
	b := time.Date(2025, 1, 2, 16, 10, 0, 0, time.UTC)

	body, err := Export(reykjavik, model.Pluto, []time.Time{a, b}, 5*time.Minute)
	require.NoError(t, err)

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 2)

	start, err := events[0].GetStartAt()
	require.NoError(t, err)
	assert.True(t, start.Equal(a))
	end, err := events[0].GetEndAt()
	require.NoError(t, err)
	assert.True(t, end.Equal(a.Add(5*time.Minute)))

	assert.Equal(t, "Pluto Time", events[0].GetProperty(ical.ComponentPropertySummary).Value)
	assert.NotEqual(t, events[0].Id(), events[1].Id())
}

func TestExportStableUIDs(t *testing.T) {
	a := time.Date(2025, 1, 2, 10, 55, 0, 0, time.UTC)
	assert.Equal(t, eventUID(reykjavik, a), eventUID(reykjavik, a.In(time.FixedZone("X", 3600))))
	assert.NotEqual(t, eventUID(reykjavik, a), eventUID(reykjavik, a.Add(time.Minute)))
}

func TestExportEmptyAndInvalid(t *testing.T) {
	body, err := Export(reykjavik, model.Pluto, nil, time.Minute)
	require.NoError(t, err)
	assert.Contains(t, string(body), "BEGIN:VCALENDAR")

	_, err = Export(reykjavik, model.Pluto, nil, 0)
	assert.Error(t, err)
}
