package model

// Collection names shared by every document store driver.
const (
	CollectionEvents      = "events"
	CollectionSavedEvents = "userSavedEvents"
	CollectionProfiles    = "userProfiles"
)

// Field names stored on event documents.
const (
	FieldTitle       = "title"
	FieldOrganizer   = "organizer"
	FieldDescription = "description"
	FieldDateTime    = "dateTime"
	FieldImageURL    = "imageUrl"
	FieldImagePath   = "imagePath"
	FieldUserID      = "userId"
	FieldLikes       = "likes"
	FieldLikedBy     = "likedBy"
	FieldCreatedAt   = "createdAt"

	FieldSavedEvents = "savedEvents"

	FieldAlias          = "alias"
	FieldRole           = "role"
	FieldProfilePicture = "profilePicture"
)

// Role is the account kind chosen at sign-up.
type Role string

const (
	RoleArtist   Role = "artist"
	RolePromoter Role = "promoter"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleArtist || r == RolePromoter
}

// Event is a posted event as stored in the events collection.
type Event struct {
	ID          string   `mapstructure:"-" json:"id"`
	Title       string   `mapstructure:"title" json:"title"`
	Organizer   string   `mapstructure:"organizer" json:"organizer"`
	Description string   `mapstructure:"description" json:"description"`
	DateTime    string   `mapstructure:"dateTime" json:"dateTime"`
	ImageURL    string   `mapstructure:"imageUrl" json:"imageUrl,omitempty"`
	ImagePath   string   `mapstructure:"imagePath" json:"imagePath,omitempty"`
	UserID      string   `mapstructure:"userId" json:"userId"`
	Likes       int64    `mapstructure:"likes" json:"likes"`
	LikedBy     []string `mapstructure:"likedBy" json:"likedBy"`

	// OrganizerProfilePicture is joined from the owner's profile for display.
	// It is never written back to the event record.
	OrganizerProfilePicture string `mapstructure:"-" json:"organizerProfilePicture,omitempty"`
}

// LikedByUser reports whether userID is in the likedBy set.
func (e Event) LikedByUser(userID string) bool {
	if userID == "" {
		return false
	}
	for _, id := range e.LikedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// SavedEvents is the per-user bag of saved event ids, keyed by user id.
type SavedEvents struct {
	UserID      string   `mapstructure:"-" json:"userId"`
	SavedEvents []string `mapstructure:"savedEvents" json:"savedEvents"`
}

// Contains reports whether eventID is in the saved set.
func (s SavedEvents) Contains(eventID string) bool {
	for _, id := range s.SavedEvents {
		if id == eventID {
			return true
		}
	}
	return false
}

// Set returns the saved ids as a membership map.
func (s SavedEvents) Set() map[string]bool {
	out := make(map[string]bool, len(s.SavedEvents))
	for _, id := range s.SavedEvents {
		out[id] = true
	}
	return out
}

// Profile is the public profile of a user.
type Profile struct {
	UserID         string `mapstructure:"-" json:"userId"`
	Alias          string `mapstructure:"alias" json:"alias"`
	Role           Role   `mapstructure:"role" json:"role"`
	ProfilePicture string `mapstructure:"profilePicture" json:"profilePicture,omitempty"`
}
