package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joncaseee/pdx-underground-app/internal/blobstore"
	"github.com/joncaseee/pdx-underground-app/internal/docstore"
	"github.com/joncaseee/pdx-underground-app/internal/model"
)

// CreateEvent posts an event as the signed-in user and returns its id.
// Views see it on their next push.
func (c *Client) CreateEvent(ctx context.Context, d EventDraft) (string, error) {
	uid, err := c.requireUser()
	if err != nil {
		return "", err
	}
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return "", fmt.Errorf("%w: title is required", ErrValidation)
	}
	if _, err := model.ParseDateTime(d.DateTime, c.loc); err != nil {
		return "", err
	}
	organizer := strings.TrimSpace(d.Organizer)
	if organizer == "" {
		if p, found, err := c.profiles.Get(ctx, uid); err == nil && found {
			organizer = p.Alias
		}
	}

	now := c.now()
	e := model.Event{
		Title:       title,
		Organizer:   organizer,
		Description: d.Description,
		DateTime:    d.DateTime,
		UserID:      uid,
		LikedBy:     []string{},
	}
	if d.Image != nil {
		h, url, err := c.upload(ctx, blobstore.EventImagePath(uid, now.UnixMilli()), d.Image)
		if err != nil {
			return "", err
		}
		e.ImagePath, e.ImageURL = string(h), url
	}

	fields := model.EventFields(e)
	fields[model.FieldCreatedAt] = now.UTC().Format(time.RFC3339)
	id, err := c.store.Create(ctx, model.CollectionEvents, fields)
	if err != nil {
		if e.ImagePath != "" {
			c.releaseBlob(ctx, blobstore.Handle(e.ImagePath))
		}
		c.log.Error().Stack().Err(err).Str("user_id", uid).Msg("create event failed")
		return "", fmt.Errorf("create event: %w", err)
	}
	c.log.Info().Str("event_id", id).Str("user_id", uid).Msg("event created")
	return id, nil
}

// EditEvent changes the fields set in edit. Only the owner may edit. A new
// image replaces the old blob, which is then deleted.
func (c *Client) EditEvent(ctx context.Context, eventID string, edit EventEdit) error {
	uid, err := c.requireUser()
	if err != nil {
		return err
	}
	e, err := c.ownedEvent(ctx, uid, eventID)
	if err != nil {
		return err
	}

	var muts []docstore.Mutation
	if edit.Title != nil {
		title := strings.TrimSpace(*edit.Title)
		if title == "" {
			return fmt.Errorf("%w: title is required", ErrValidation)
		}
		muts = append(muts, docstore.SetField(model.FieldTitle, title))
	}
	if edit.Organizer != nil {
		muts = append(muts, docstore.SetField(model.FieldOrganizer, strings.TrimSpace(*edit.Organizer)))
	}
	if edit.Description != nil {
		muts = append(muts, docstore.SetField(model.FieldDescription, *edit.Description))
	}
	if edit.DateTime != nil {
		if _, err := model.ParseDateTime(*edit.DateTime, c.loc); err != nil {
			return err
		}
		muts = append(muts, docstore.SetField(model.FieldDateTime, *edit.DateTime))
	}
	var newImage blobstore.Handle
	if edit.Image != nil {
		h, url, err := c.upload(ctx, blobstore.EventImagePath(uid, c.now().UnixMilli()), edit.Image)
		if err != nil {
			return err
		}
		newImage = h
		muts = append(muts,
			docstore.SetField(model.FieldImagePath, string(h)),
			docstore.SetField(model.FieldImageURL, url))
	}
	if len(muts) == 0 {
		return nil
	}

	if err := c.store.Update(ctx, model.CollectionEvents, eventID, muts...); err != nil {
		if newImage != "" {
			c.releaseBlob(ctx, newImage)
		}
		c.log.Error().Stack().Err(err).Str("event_id", eventID).Msg("edit event failed")
		return fmt.Errorf("edit event %s: %w", eventID, err)
	}
	if newImage != "" && e.ImagePath != "" && e.ImagePath != string(newImage) {
		c.releaseBlob(ctx, blobstore.Handle(e.ImagePath))
	}
	return nil
}

// DeleteEvent removes an event and then its image. Only the owner may
// delete. An image that is already gone is not an error.
func (c *Client) DeleteEvent(ctx context.Context, eventID string) error {
	uid, err := c.requireUser()
	if err != nil {
		return err
	}
	e, err := c.ownedEvent(ctx, uid, eventID)
	if err != nil {
		return err
	}
	if err := c.store.Delete(ctx, model.CollectionEvents, eventID); err != nil {
		c.log.Error().Stack().Err(err).Str("event_id", eventID).Msg("delete event failed")
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}
	if e.ImagePath == "" {
		return nil
	}
	if err := c.blobs.Delete(ctx, blobstore.Handle(e.ImagePath)); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		c.log.Error().Stack().Err(err).Str("event_id", eventID).Str("image", e.ImagePath).Msg("delete event image failed")
		return fmt.Errorf("delete image for event %s: %w", eventID, err)
	}
	return nil
}

// GetEvent reads one event.
func (c *Client) GetEvent(ctx context.Context, eventID string) (Event, error) {
	doc, err := c.store.Get(ctx, model.CollectionEvents, eventID)
	if err != nil {
		return Event{}, fmt.Errorf("get event %s: %w", eventID, err)
	}
	return model.DecodeEvent(eventID, doc.Fields)
}

func (c *Client) ownedEvent(ctx context.Context, uid, eventID string) (model.Event, error) {
	e, err := c.GetEvent(ctx, eventID)
	if err != nil {
		return model.Event{}, err
	}
	if e.UserID != uid {
		return model.Event{}, fmt.Errorf("%w: event %s", ErrNotOwner, eventID)
	}
	return e, nil
}

func (c *Client) upload(ctx context.Context, path string, img *Image) (blobstore.Handle, string, error) {
	if img.Body == nil {
		return "", "", fmt.Errorf("%w: image has no body", ErrValidation)
	}
	h, err := c.blobs.Upload(ctx, path, img.Body, img.ContentType)
	if err != nil {
		c.log.Error().Stack().Err(err).Str("path", path).Msg("image upload failed")
		return "", "", fmt.Errorf("upload %s: %w", path, err)
	}
	url, err := c.blobs.PublicURL(ctx, h)
	if err != nil {
		c.releaseBlob(ctx, h)
		return "", "", fmt.Errorf("public url for %s: %w", path, err)
	}
	return h, url, nil
}

// releaseBlob deletes a blob nothing references any more. Failures only
// leave an orphan behind, so they are logged and dropped.
func (c *Client) releaseBlob(ctx context.Context, h blobstore.Handle) {
	if err := c.blobs.Delete(ctx, h); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		c.log.Warn().Err(err).Str("image", string(h)).Msg("orphaned image left in blob store")
	}
}
