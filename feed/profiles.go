package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/joncaseee/pdx-underground-app/internal/blobstore"
	"github.com/joncaseee/pdx-underground-app/internal/docstore"
	"github.com/joncaseee/pdx-underground-app/internal/model"
)

// CreateProfile records the signed-in user's alias and role at sign-up.
func (c *Client) CreateProfile(ctx context.Context, alias string, role Role) error {
	uid, err := c.requireUser()
	if err != nil {
		return err
	}
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return fmt.Errorf("%w: alias is required", ErrValidation)
	}
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	err = c.store.Set(ctx, model.CollectionProfiles, uid, map[string]any{
		model.FieldAlias: alias,
		model.FieldRole:  string(role),
	}, true)
	c.profiles.Invalidate(uid)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// GetProfile returns uid's profile or ErrNotFound.
func (c *Client) GetProfile(ctx context.Context, uid string) (Profile, error) {
	p, found, err := c.profiles.Get(ctx, uid)
	if err != nil {
		return Profile{}, err
	}
	if !found {
		return Profile{}, fmt.Errorf("profile %s: %w", uid, ErrNotFound)
	}
	return p, nil
}

// UpdateAlias renames the signed-in user. The profile must exist.
func (c *Client) UpdateAlias(ctx context.Context, alias string) error {
	uid, err := c.requireUser()
	if err != nil {
		return err
	}
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return fmt.Errorf("%w: alias is required", ErrValidation)
	}
	err = c.store.Update(ctx, model.CollectionProfiles, uid, docstore.SetField(model.FieldAlias, alias))
	c.profiles.Invalidate(uid)
	if err != nil {
		return fmt.Errorf("update alias: %w", err)
	}
	return nil
}

// UpdateProfilePicture uploads img and points the profile at it.
func (c *Client) UpdateProfilePicture(ctx context.Context, img Image) (string, error) {
	uid, err := c.requireUser()
	if err != nil {
		return "", err
	}
	h, url, err := c.upload(ctx, blobstore.ProfileImagePath(uid, c.now().UnixMilli()), &img)
	if err != nil {
		return "", err
	}
	err = c.store.Update(ctx, model.CollectionProfiles, uid, docstore.SetField(model.FieldProfilePicture, url))
	c.profiles.Invalidate(uid)
	if err != nil {
		c.releaseBlob(ctx, h)
		return "", fmt.Errorf("update profile picture: %w", err)
	}
	return url, nil
}

// UserPage is the public page for uid.
func (c *Client) UserPage(ctx context.Context, uid string) (UserPage, error) {
	p, err := c.GetProfile(ctx, uid)
	if err != nil {
		return UserPage{}, err
	}
	docs, err := c.store.Query(ctx, docstore.Query{
		Collection: model.CollectionEvents,
		Where:      []docstore.Filter{{Field: model.FieldUserID, Value: uid}},
		OrderBy:    model.FieldDateTime,
	})
	if err != nil {
		return UserPage{}, fmt.Errorf("posted events for %s: %w", uid, err)
	}
	posted := make([]Event, 0, len(docs))
	for _, d := range docs {
		e, err := model.DecodeEvent(d.ID, d.Fields)
		if err != nil {
			c.log.Warn().Err(err).Str("event_id", d.ID).Msg("skipping undecodable event")
			continue
		}
		e.OrganizerProfilePicture = p.ProfilePicture
		posted = append(posted, e)
	}
	saved, err := c.SavedEvents(ctx, uid)
	if err != nil {
		return UserPage{}, err
	}
	return UserPage{Profile: p, Posted: posted, Saved: saved}, nil
}

// SavedEvents resolves uid's saved set, ordered by dateTime. Saved ids
// whose event was deleted are skipped.
func (c *Client) SavedEvents(ctx context.Context, uid string) ([]Event, error) {
	doc, err := c.store.Get(ctx, model.CollectionSavedEvents, uid)
	if errors.Is(err, docstore.ErrNotFound) {
		return []Event{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("saved events for %s: %w", uid, err)
	}
	set, err := model.DecodeSavedEvents(uid, doc.Fields)
	if err != nil {
		return nil, err
	}

	out := make([]Event, 0, len(set.SavedEvents))
	owners := make([]string, 0, len(set.SavedEvents))
	for _, id := range set.SavedEvents {
		e, err := c.GetEvent(ctx, id)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		owners = append(owners, e.UserID)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DateTime != out[j].DateTime {
			return out[i].DateTime < out[j].DateTime
		}
		return out[i].ID < out[j].ID
	})

	profiles, err := c.profiles.GetMany(ctx, owners)
	if err != nil {
		c.log.Warn().Err(err).Msg("organizer profile join incomplete")
	}
	for i := range out {
		if p, ok := profiles[out[i].UserID]; ok {
			out[i].OrganizerProfilePicture = p.ProfilePicture
		}
	}
	return out, nil
}
