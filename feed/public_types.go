package feed

import (
	"io"
	"time"

	"github.com/joncaseee/pdx-underground-app/internal/model"
)

// Re-exported record types.
type (
	Event   = model.Event
	Profile = model.Profile
	Role    = model.Role
)

const (
	RoleArtist   = model.RoleArtist
	RolePromoter = model.RolePromoter
)

// ToggleState tracks one like or save intent from the viewer's side.
type ToggleState int

const (
	// Idle means no toggle has been issued from this view.
	Idle ToggleState = iota
	// Pending means the optimistic value is shown and the write is in flight.
	Pending
	// Confirmed means the store accepted the last write.
	Confirmed
	// Reverted means the last write failed and the optimistic value was undone.
	Reverted
)

func (s ToggleState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Reverted:
		return "reverted"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable copy of a view's state.
type Snapshot struct {
	// Events are upcoming events sorted by dateTime ascending.
	Events []Event
	// LikedByMe and SavedByMe hold an entry for every event in Events.
	LikedByMe map[string]bool
	SavedByMe map[string]bool
	// LikeStates and SaveStates only hold events toggled from this view.
	LikeStates map[string]ToggleState
	SaveStates map[string]ToggleState
	// Now is the instant captured when the view subscribed.
	Now time.Time
	// Err is the most recent recoverable failure, if any.
	Err error
	// Version increases with every change.
	Version uint64
}

// LikeState returns the like toggle state for eventID.
func (s Snapshot) LikeState(eventID string) ToggleState { return s.LikeStates[eventID] }

// SaveState returns the save toggle state for eventID.
func (s Snapshot) SaveState(eventID string) ToggleState { return s.SaveStates[eventID] }

// Event returns the event with id from the snapshot.
func (s Snapshot) Event(id string) (Event, bool) {
	for _, e := range s.Events {
		if e.ID == id {
			return e, true
		}
	}
	return Event{}, false
}

// Image is an upload attached to an event or profile.
type Image struct {
	Body        io.Reader
	ContentType string
}

// EventDraft is the input to CreateEvent. Organizer defaults to the
// creator's profile alias.
type EventDraft struct {
	Title       string `yaml:"title"`
	Organizer   string `yaml:"organizer"`
	Description string `yaml:"description"`
	DateTime    string `yaml:"dateTime"`
	Image       *Image `yaml:"-"`
}

// EventEdit lists the fields to change; nil leaves a field untouched.
type EventEdit struct {
	Title       *string
	Organizer   *string
	Description *string
	DateTime    *string
	Image       *Image
}

// UserPage is a user's public profile with their posted and saved events.
type UserPage struct {
	Profile Profile
	Posted  []Event
	Saved   []Event
}
