package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/joncaseee/pdx-underground-app/feed"
	"github.com/joncaseee/pdx-underground-app/internal/model"
)

// when renders an event time relative to now, e.g. "3 days from now (Sat Jun 7 22:00)".
func when(e feed.Event, now time.Time, loc *time.Location) string {
	t, err := model.ParseDateTime(e.DateTime, loc)
	if err != nil {
		return e.DateTime
	}
	return fmt.Sprintf("%s (%s)", humanize.RelTime(t, now, "ago", "from now"), t.In(loc).Format("Mon Jan 2 15:04"))
}

func printEvent(w io.Writer, e feed.Event, now time.Time, loc *time.Location, liked, saved bool) {
	marks := ""
	if liked {
		marks += " liked"
	}
	if saved {
		marks += " saved"
	}
	fmt.Fprintf(w, "%s  %s\n", e.ID, e.Title)
	fmt.Fprintf(w, "    %s by %s, %s likes%s\n", when(e, now, loc), organizer(e), humanize.Comma(e.Likes), marks)
	if desc := strings.TrimSpace(e.Description); desc != "" {
		for _, line := range strings.Split(desc, "\n") {
			fmt.Fprintf(w, "    | %s\n", line)
		}
	}
}

func organizer(e feed.Event) string {
	if e.Organizer != "" {
		return e.Organizer
	}
	return e.UserID
}

func printSnapshot(w io.Writer, s feed.Snapshot, loc *time.Location) {
	fmt.Fprintf(w, "-- %d upcoming as of %s (v%d) --\n", len(s.Events), s.Now.In(loc).Format("Mon Jan 2 15:04"), s.Version)
	for _, e := range s.Events {
		printEvent(w, e, s.Now, loc, s.LikedByMe[e.ID], s.SavedByMe[e.ID])
	}
	if s.Err != nil {
		fmt.Fprintf(w, "!! %v\n", s.Err)
	}
}

func printEvents(w io.Writer, heading string, events []feed.Event, now time.Time, loc *time.Location) {
	fmt.Fprintf(w, "%s (%d)\n", heading, len(events))
	for _, e := range events {
		printEvent(w, e, now, loc, false, false)
	}
}
