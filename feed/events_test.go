package feed

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joncaseee/pdx-underground-app/internal/blobstore"
	"github.com/joncaseee/pdx-underground-app/internal/model"
)

func png(body string) *Image {
	return &Image{Body: strings.NewReader(body), ContentType: "image/png"}
}

func TestCreateEvent(t *testing.T) {
	h := newHarness(t, "alice")
	ctx := context.Background()
	require.NoError(t, h.client.CreateProfile(ctx, "Alice Cooperative", RolePromoter))
	v := h.subscribe(t, "alice")

	id, err := h.client.CreateEvent(ctx, EventDraft{
		Title:       "  Warehouse Night  ",
		Description: "bring earplugs\nno cover",
		DateTime:    "2031-06-07T22:00",
		Image:       png("img"),
	})
	require.NoError(t, err)

	e := h.event(t, id)
	assert.Equal(t, "Warehouse Night", e.Title)
	assert.Equal(t, "Alice Cooperative", e.Organizer, "organizer defaults to the profile alias")
	assert.Equal(t, "alice", e.UserID)
	assert.Equal(t, int64(0), e.Likes)
	assert.Empty(t, e.LikedBy)
	assert.Equal(t, blobstore.EventImagePath("alice", testNow.UnixMilli()), e.ImagePath)
	assert.Equal(t, "mem://"+e.ImagePath, e.ImageURL)
	assert.True(t, h.blobs.Exists(blobstore.Handle(e.ImagePath)))

	doc, err := h.store.Get(ctx, model.CollectionEvents, id)
	require.NoError(t, err)
	assert.Equal(t, "2031-06-01T20:00:00Z", doc.Fields[model.FieldCreatedAt])

	waitFor(t, v, func(s Snapshot) bool { _, ok := s.Event(id); return ok })
}

func TestCreateEvent_Validation(t *testing.T) {
	h := newHarness(t, "alice")
	ctx := context.Background()

	_, err := h.client.CreateEvent(ctx, EventDraft{Title: " ", DateTime: "2031-06-07T22:00"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.client.CreateEvent(ctx, EventDraft{Title: "x", DateTime: "next friday"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, h.blobs.Len())

	h.auth.SignOut()
	_, err = h.client.CreateEvent(ctx, EventDraft{Title: "x", DateTime: "2031-06-07T22:00"})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestCreateEvent_ReleasesImageWhenWriteFails(t *testing.T) {
	h := newHarness(t, "alice")
	h.store.SetFailure(func(op, _, _ string) error {
		if op == "create" {
			return ErrPermissionDenied
		}
		return nil
	})
	_, err := h.client.CreateEvent(context.Background(), EventDraft{Title: "x", DateTime: "2031-06-07T22:00", Image: png("img")})
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, 0, h.blobs.Len())
}

func TestEditEvent(t *testing.T) {
	h := newHarness(t, "alice")
	ctx := context.Background()
	id, err := h.client.CreateEvent(ctx, EventDraft{Title: "Draft", Organizer: "A", DateTime: "2031-06-07T22:00", Image: png("old")})
	require.NoError(t, err)
	old := h.event(t, id).ImagePath

	title, when := "Final", "2031-06-08T21:00"
	// A later clock gives the replacement a distinct path.
	h.client.now = func() time.Time { return testNow.Add(time.Minute) }
	require.NoError(t, h.client.EditEvent(ctx, id, EventEdit{Title: &title, DateTime: &when, Image: png("new")}))

	e := h.event(t, id)
	assert.Equal(t, "Final", e.Title)
	assert.Equal(t, "A", e.Organizer)
	assert.Equal(t, when, e.DateTime)
	assert.NotEqual(t, old, e.ImagePath)
	assert.True(t, h.blobs.Exists(blobstore.Handle(e.ImagePath)))
	assert.False(t, h.blobs.Exists(blobstore.Handle(old)), "replaced image is deleted")

	bad := "soonish"
	assert.ErrorIs(t, h.client.EditEvent(ctx, id, EventEdit{DateTime: &bad}), ErrValidation)
	assert.NoError(t, h.client.EditEvent(ctx, id, EventEdit{}))
}

func TestEditAndDelete_OwnerOnly(t *testing.T) {
	h := newHarness(t, "alice")
	ctx := context.Background()
	id := h.seed(t, model.Event{Title: "Bob's", DateTime: "2031-06-07T22:00", UserID: "bob"})

	title := "Mine now"
	assert.ErrorIs(t, h.client.EditEvent(ctx, id, EventEdit{Title: &title}), ErrNotOwner)
	assert.ErrorIs(t, h.client.DeleteEvent(ctx, id), ErrNotOwner)
	assert.ErrorIs(t, h.client.DeleteEvent(ctx, "missing"), ErrNotFound)
	assert.Equal(t, "Bob's", h.event(t, id).Title)
}

func TestDeleteEvent_RemovesFromFeedAndReleasesImage(t *testing.T) {
	h := newHarness(t, "alice")
	ctx := context.Background()
	id, err := h.client.CreateEvent(ctx, EventDraft{Title: "Gone soon", DateTime: "2031-06-07T22:00", Image: png("img")})
	require.NoError(t, err)
	handle := blobstore.Handle(h.event(t, id).ImagePath)
	v := h.subscribe(t, "alice")
	require.Len(t, v.Snapshot().Events, 1)

	require.NoError(t, h.client.DeleteEvent(ctx, id))
	waitFor(t, v, func(s Snapshot) bool { return len(s.Events) == 0 })
	assert.False(t, h.blobs.Exists(handle))
}

func TestDeleteEvent_ImageAlreadyAbsent(t *testing.T) {
	h := newHarness(t, "alice")
	ctx := context.Background()
	id, err := h.client.CreateEvent(ctx, EventDraft{Title: "x", DateTime: "2031-06-07T22:00", Image: png("img")})
	require.NoError(t, err)
	require.NoError(t, h.blobs.Delete(ctx, blobstore.Handle(h.event(t, id).ImagePath)))

	require.NoError(t, h.client.DeleteEvent(ctx, id))
	_, err = h.client.GetEvent(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}
