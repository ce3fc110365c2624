// Package calendar exports feed events as an iCalendar (RFC 5545) file so
// the upcoming list can be subscribed to from a calendar app.
package calendar

import (
	"fmt"
	"io"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/joncaseee/pdx-underground-app/internal/model"
)

const productID = "-//pdx-underground//feed//EN"

// Options controls the export.
type Options struct {
	// Name is shown by calendar apps. Defaults to "PDX Underground".
	Name string
	// Duration is applied to every event, since events carry only a start.
	// Defaults to three hours.
	Duration time.Duration
	// Location interprets zone-less dateTimes. Defaults to time.Local.
	Location *time.Location
	// Stamp is written as DTSTAMP. Defaults to time.Now.
	Stamp time.Time
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "PDX Underground"
	}
	if o.Duration <= 0 {
		o.Duration = 3 * time.Hour
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Stamp.IsZero() {
		o.Stamp = time.Now()
	}
	return o
}

// Build returns a calendar with one VEVENT per event. Events whose
// dateTime does not parse are skipped and returned by id.
func Build(events []model.Event, opts Options) (*ics.Calendar, []string) {
	opts = opts.withDefaults()
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(productID)
	cal.SetXWRCalName(opts.Name)
	cal.SetXWRTimezone(opts.Location.String())

	var skipped []string
	for _, e := range events {
		start, err := model.ParseDateTime(e.DateTime, opts.Location)
		if err != nil {
			skipped = append(skipped, e.ID)
			continue
		}
		ev := cal.AddEvent(e.ID + "@pdx-underground")
		ev.SetDtStampTime(opts.Stamp)
		ev.SetStartAt(start)
		ev.SetEndAt(start.Add(opts.Duration))
		ev.SetSummary(e.Title)
		if desc := description(e); desc != "" {
			ev.SetDescription(desc)
		}
		if e.ImageURL != "" {
			ev.SetProperty(ics.ComponentPropertyAttach, e.ImageURL)
		}
	}
	return cal, skipped
}

// Write serializes events to w.
func Write(w io.Writer, events []model.Event, opts Options) ([]string, error) {
	cal, skipped := Build(events, opts)
	if err := cal.SerializeTo(w); err != nil {
		return skipped, fmt.Errorf("write calendar: %w", err)
	}
	return skipped, nil
}

func description(e model.Event) string {
	var parts []string
	if e.Organizer != "" {
		parts = append(parts, "Hosted by "+e.Organizer)
	}
	if d := strings.TrimSpace(e.Description); d != "" {
		parts = append(parts, d)
	}
	if e.Likes > 0 {
		parts = append(parts, fmt.Sprintf("%d likes", e.Likes))
	}
	return strings.Join(parts, "\n\n")
}
