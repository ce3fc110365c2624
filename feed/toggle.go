package feed

import (
	"context"
	"errors"

	ferrors "github.com/joncaseee/pdx-underground-app/internal/errors"

	"github.com/joncaseee/pdx-underground-app/internal/docstore"
	"github.com/joncaseee/pdx-underground-app/internal/model"
)

const (
	kindLike = "like"
	kindSave = "save"
)

func toggleKey(kind, userID, eventID string) string {
	return kind + ":" + userID + ":" + eventID
}

// setLiked moves the likes counter and likedBy set together. The write is
// guarded on membership so the counter always equals the set size and a
// retried or duplicate write is a no-op.
func (c *Client) setLiked(ctx context.Context, userID, eventID string, liked bool) error {
	var (
		cond  docstore.Condition
		muts  []docstore.Mutation
		delta int64 = 1
	)
	if liked {
		cond = docstore.NotContains(model.FieldLikedBy, userID)
		muts = []docstore.Mutation{docstore.ArrayUnion(model.FieldLikedBy, userID)}
	} else {
		delta = -1
		cond = docstore.Contains(model.FieldLikedBy, userID)
		muts = []docstore.Mutation{docstore.ArrayRemove(model.FieldLikedBy, userID)}
	}
	muts = append(muts, docstore.Increment(model.FieldLikes, delta))

	applied, err := c.store.UpdateIf(ctx, model.CollectionEvents, eventID, cond, muts...)
	if err != nil {
		return ferrors.Classify(kindLike, err)
	}
	if !applied {
		c.log.Debug().Str("event_id", eventID).Bool("liked", liked).Msg("like already in requested state")
	}
	return nil
}

// setSaved adds or removes eventID in the user's saved set. The first save
// creates the record.
func (c *Client) setSaved(ctx context.Context, userID, eventID string, saved bool) error {
	var err error
	if saved {
		err = c.store.Upsert(ctx, model.CollectionSavedEvents, userID,
			docstore.ArrayUnion(model.FieldSavedEvents, eventID))
	} else {
		err = c.store.Update(ctx, model.CollectionSavedEvents, userID,
			docstore.ArrayRemove(model.FieldSavedEvents, eventID))
		if errors.Is(err, docstore.ErrNotFound) {
			err = nil
		}
	}
	return ferrors.Classify(kindSave, err)
}

// isLiked reads the authoritative like state for an event outside any view.
func (c *Client) isLiked(ctx context.Context, userID, eventID string) (bool, error) {
	doc, err := c.store.Get(ctx, model.CollectionEvents, eventID)
	if err != nil {
		return false, err
	}
	e, err := model.DecodeEvent(doc.ID, doc.Fields)
	if err != nil {
		return false, err
	}
	return e.LikedByUser(userID), nil
}
