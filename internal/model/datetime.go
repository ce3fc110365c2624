package model

import (
	"fmt"
	"time"
)

// Event times are entered without a zone ("2024-06-01T21:00") and are
// interpreted in the feed's location. Zoned values are also accepted.
var dateTimeLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

// ParseDateTime parses an event dateTime in loc.
func ParseDateTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised dateTime %q", ErrValidation, s)
}

// FormatDateTime renders t in the zone-less form used for new events.
func FormatDateTime(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("2006-01-02T15:04")
}
