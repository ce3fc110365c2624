package model

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeEvent converts raw document fields into an Event. Missing counters
// and sets default to zero values here so read sites never need to.
func DecodeEvent(id string, fields map[string]any) (Event, error) {
	var e Event
	if err := decode(fields, &e); err != nil {
		return Event{}, fmt.Errorf("event %s: %w", id, err)
	}
	e.ID = id
	if e.LikedBy == nil {
		e.LikedBy = []string{}
	}
	if e.Likes < 0 {
		e.Likes = 0
	}
	return e, nil
}

// DecodeSavedEvents converts a userSavedEvents document.
func DecodeSavedEvents(userID string, fields map[string]any) (SavedEvents, error) {
	var s SavedEvents
	if err := decode(fields, &s); err != nil {
		return SavedEvents{}, fmt.Errorf("saved events %s: %w", userID, err)
	}
	s.UserID = userID
	if s.SavedEvents == nil {
		s.SavedEvents = []string{}
	}
	return s, nil
}

// DecodeProfile converts a userProfiles document.
func DecodeProfile(userID string, fields map[string]any) (Profile, error) {
	var p Profile
	if err := decode(fields, &p); err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", userID, err)
	}
	p.UserID = userID
	return p, nil
}

// EventFields is the inverse of DecodeEvent for newly created events.
func EventFields(e Event) map[string]any {
	likedBy := make([]any, 0, len(e.LikedBy))
	for _, id := range e.LikedBy {
		likedBy = append(likedBy, id)
	}
	return map[string]any{
		FieldTitle:       e.Title,
		FieldOrganizer:   e.Organizer,
		FieldDescription: e.Description,
		FieldDateTime:    e.DateTime,
		FieldImageURL:    e.ImageURL,
		FieldImagePath:   e.ImagePath,
		FieldUserID:      e.UserID,
		FieldLikes:       e.Likes,
		FieldLikedBy:     likedBy,
	}
}

func decode(fields map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(fields); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}
