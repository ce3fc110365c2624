package calendar

import (
	"bytes"
	"testing"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joncaseee/pdx-underground-app/internal/model"
)

func TestWrite_RoundTrip(t *testing.T) {
	events := []model.Event{
		{ID: "ev1", Title: "Warehouse Night", Organizer: "Nite Owl", Description: "no cover", DateTime: "2031-06-07T22:00", Likes: 3, ImageURL: "mem://events/a/1"},
		{ID: "ev2", Title: "Undated", DateTime: "tbd"},
		{ID: "ev3", Title: "Matinee", DateTime: "2031-06-08T14:30"},
	}
	var buf bytes.Buffer
	skipped, err := Write(&buf, events, Options{Location: time.UTC, Stamp: time.Date(2031, 6, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, []string{"ev2"}, skipped)

	cal, err := ics.ParseCalendar(&buf)
	require.NoError(t, err)
	got := cal.Events()
	require.Len(t, got, 2)

	assert.Equal(t, "ev1@pdx-underground", got[0].Id())
	assert.Equal(t, "Warehouse Night", got[0].GetProperty(ics.ComponentPropertySummary).Value)
	assert.Equal(t, "20310607T220000Z", got[0].GetProperty(ics.ComponentPropertyDtStart).Value)
	assert.Equal(t, "20310608T010000Z", got[0].GetProperty(ics.ComponentPropertyDtEnd).Value)
	assert.Equal(t, "mem://events/a/1", got[0].GetProperty(ics.ComponentPropertyAttach).Value)
	assert.Equal(t, "Matinee", got[1].GetProperty(ics.ComponentPropertySummary).Value)
	assert.Nil(t, got[1].GetProperty(ics.ComponentPropertyDescription))
}

func TestBuild_ZoneLessTimesUseLocation(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	cal, _ := Build([]model.Event{{ID: "ev1", Title: "Late", DateTime: "2031-06-07T22:00"}}, Options{Location: la})
	start := cal.Events()[0].GetProperty(ics.ComponentPropertyDtStart).Value
	assert.Equal(t, "20310608T050000Z", start)
}
