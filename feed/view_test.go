package feed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joncaseee/pdx-underground-app/internal/blobstore"
	"github.com/joncaseee/pdx-underground-app/internal/docstore"
	"github.com/joncaseee/pdx-underground-app/internal/docstore/memstore"
	"github.com/joncaseee/pdx-underground-app/internal/identity"
	"github.com/joncaseee/pdx-underground-app/internal/model"
)

func TestSubscribe_FiltersPastAndOrdersByDateTime(t *testing.T) {
	h := newHarness(t, "alice")
	past := h.seed(t, model.Event{Title: "Yesterday", DateTime: "2031-05-31T20:00", UserID: "bob"})
	later := h.seed(t, model.Event{Title: "Later", DateTime: "2031-07-04T21:00", UserID: "bob"})
	boundary := h.seed(t, model.Event{Title: "Right now", DateTime: "2031-06-01T20:00", UserID: "bob"})
	soon := h.seed(t, model.Event{Title: "Soon", DateTime: "2031-06-02T19:30", UserID: "bob"})

	v := h.subscribe(t, "alice")
	s := v.Snapshot()

	assert.Equal(t, []string{boundary, soon, later}, ids(s.Events), "event at the subscribe instant is included")
	assert.NotContains(t, ids(s.Events), past)
	assert.Equal(t, testNow, s.Now)
	assert.NoError(t, s.Err)
}

func TestSubscribe_NowIsNotReevaluated(t *testing.T) {
	clock := testNow
	h := newHarness(t, "alice", WithClock(func() time.Time { return clock }))
	id := h.seed(t, model.Event{Title: "Tonight", DateTime: "2031-06-01T21:00", UserID: "bob"})
	v := h.subscribe(t, "alice")

	clock = testNow.Add(48 * time.Hour)
	h.seed(t, model.Event{Title: "Other", DateTime: "2031-06-10T21:00", UserID: "bob"})

	s := waitFor(t, v, func(s Snapshot) bool { return len(s.Events) == 2 })
	assert.Equal(t, id, s.Events[0].ID, "event stays listed after it passes")
}

func TestSubscribe_IncludePastAndOwnedBy(t *testing.T) {
	h := newHarness(t, "alice")
	mine := h.seed(t, model.Event{Title: "Mine, old", DateTime: "2030-01-01T20:00", UserID: "alice"})
	h.seed(t, model.Event{Title: "Bob's", DateTime: "2031-07-01T20:00", UserID: "bob"})

	v := h.subscribe(t, "alice", OwnedBy("alice"), IncludePast())
	assert.Equal(t, []string{mine}, ids(v.Snapshot().Events))
}

func TestSubscribe_SkipsUnparseableDateTime(t *testing.T) {
	h := newHarness(t, "alice")
	h.seed(t, model.Event{Title: "Someday", DateTime: "whenever", UserID: "bob"})
	ok := h.seed(t, model.Event{Title: "Fine", DateTime: "2031-06-05T20:00", UserID: "bob"})

	v := h.subscribe(t, "alice")
	assert.Equal(t, []string{ok}, ids(v.Snapshot().Events))
}

func TestLikedByMeFollowsPushes(t *testing.T) {
	h := newHarness(t, "alice")
	ctx := context.Background()
	id := h.seed(t, model.Event{Title: "Show", DateTime: "2031-06-05T20:00", UserID: "bob", Likes: 1, LikedBy: []string{"alice"}})

	v := h.subscribe(t, "alice")
	require.True(t, v.Snapshot().LikedByMe[id])

	_, err := h.store.UpdateIf(ctx, model.CollectionEvents, id, docstore.Contains(model.FieldLikedBy, "alice"),
		docstore.Increment(model.FieldLikes, -1), docstore.ArrayRemove(model.FieldLikedBy, "alice"))
	require.NoError(t, err)

	s := waitFor(t, v, func(s Snapshot) bool { return !s.LikedByMe[id] })
	e, _ := s.Event(id)
	assert.Equal(t, int64(0), e.Likes)
}

func TestSavedByMeIsLive(t *testing.T) {
	h := newHarness(t, "alice")
	id := h.seed(t, model.Event{Title: "Show", DateTime: "2031-06-05T20:00", UserID: "bob"})
	v := h.subscribe(t, "alice")
	require.False(t, v.Snapshot().SavedByMe[id])

	// A second session of the same user saves it.
	require.NoError(t, h.store.Upsert(context.Background(), model.CollectionSavedEvents, "alice",
		docstore.ArrayUnion(model.FieldSavedEvents, id)))
	waitFor(t, v, func(s Snapshot) bool { return s.SavedByMe[id] })
}

func TestToggleLike_TwiceRestoresOriginalState(t *testing.T) {
	h := newHarness(t, "alice")
	ctx := context.Background()
	id := h.seed(t, model.Event{Title: "Show", DateTime: "2031-06-05T20:00", UserID: "bob", Likes: 3, LikedBy: []string{"b", "c", "d"}})
	v := h.subscribe(t, "alice")

	liked, err := v.ToggleLike(ctx, id)
	require.NoError(t, err)
	assert.True(t, liked)
	assert.True(t, v.Snapshot().LikedByMe[id])
	assert.Equal(t, Confirmed, v.Snapshot().LikeState(id))
	e := h.event(t, id)
	assert.Equal(t, int64(4), e.Likes)
	assert.Contains(t, e.LikedBy, "alice")

	liked, err = v.ToggleLike(ctx, id)
	require.NoError(t, err)
	assert.False(t, liked)
	e = h.event(t, id)
	assert.Equal(t, int64(3), e.Likes)
	assert.NotContains(t, e.LikedBy, "alice")
	assert.Equal(t, int64(len(e.LikedBy)), e.Likes)

	waitFor(t, v, func(s Snapshot) bool {
		ev, ok := s.Event(id)
		return ok && ev.Likes == 3 && !s.LikedByMe[id]
	})
}

func TestToggleSave_FirstUseCreatesRecord(t *testing.T) {
	h := newHarness(t, "alice")
	ctx := context.Background()
	id := h.seed(t, model.Event{Title: "Show", DateTime: "2031-06-05T20:00", UserID: "bob"})
	v := h.subscribe(t, "alice")

	_, err := h.store.Get(ctx, model.CollectionSavedEvents, "alice")
	require.ErrorIs(t, err, docstore.ErrNotFound)

	saved, err := v.ToggleSave(ctx, id)
	require.NoError(t, err)
	assert.True(t, saved)
	assert.True(t, v.Snapshot().SavedByMe[id])

	doc, err := h.store.Get(ctx, model.CollectionSavedEvents, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, docstore.AsStrings(doc.Fields[model.FieldSavedEvents]))

	saved, err = v.ToggleSave(ctx, id)
	require.NoError(t, err)
	assert.False(t, saved)
	doc, err = h.store.Get(ctx, model.CollectionSavedEvents, "alice")
	require.NoError(t, err)
	assert.Empty(t, docstore.AsStrings(doc.Fields[model.FieldSavedEvents]))
	waitFor(t, v, func(s Snapshot) bool { return !s.SavedByMe[id] })
}

func TestToggleLike_PushRace(t *testing.T) {
	exec := newGatedExecutor(t)
	h := newHarness(t, "A", WithExecutor(exec))
	ctx := context.Background()
	id := h.seed(t, model.Event{Title: "Show", DateTime: "2031-06-05T20:00", UserID: "owner", Likes: 3})
	v := h.subscribe(t, "A")

	type result struct {
		liked bool
		err   error
	}
	done := make(chan result, 1)
	go func() {
		liked, err := v.ToggleLike(ctx, id)
		done <- result{liked, err}
	}()
	waitFor(t, v, func(s Snapshot) bool { return s.LikeState(id) == Pending && s.LikedByMe[id] })

	// B likes first; the push lands while A's write is still queued.
	applied, err := h.store.UpdateIf(ctx, model.CollectionEvents, id, docstore.NotContains(model.FieldLikedBy, "B"),
		docstore.Increment(model.FieldLikes, 1), docstore.ArrayUnion(model.FieldLikedBy, "B"))
	require.NoError(t, err)
	require.True(t, applied)
	s := waitFor(t, v, func(s Snapshot) bool {
		e, _ := s.Event(id)
		return e.Likes == 4
	})
	assert.False(t, s.LikedByMe[id], "pushed value replaces the optimistic one")

	exec.open()
	r := <-done
	require.NoError(t, r.err)
	assert.True(t, r.liked)

	s = waitFor(t, v, func(s Snapshot) bool {
		e, _ := s.Event(id)
		return e.Likes == 5
	})
	e, _ := s.Event(id)
	assert.Equal(t, []string{"B", "A"}, e.LikedBy)
	assert.True(t, s.LikedByMe[id])
	assert.Equal(t, Confirmed, s.LikeState(id))
}

func TestToggleLike_DoubleToggleSerialized(t *testing.T) {
	exec := newGatedExecutor(t)
	h := newHarness(t, "alice", WithExecutor(exec))
	ctx := context.Background()
	id := h.seed(t, model.Event{Title: "Show", DateTime: "2031-06-05T20:00", UserID: "bob"})
	v := h.subscribe(t, "alice")

	first := make(chan bool, 1)
	go func() {
		liked, _ := v.ToggleLike(ctx, id)
		first <- liked
	}()
	waitFor(t, v, func(s Snapshot) bool { return s.LikedByMe[id] })

	second := make(chan bool, 1)
	go func() {
		liked, _ := v.ToggleLike(ctx, id)
		second <- liked
	}()
	waitFor(t, v, func(s Snapshot) bool { return !s.LikedByMe[id] && s.LikeState(id) == Pending })

	exec.open()
	assert.True(t, <-first)
	assert.False(t, <-second)
	require.NoError(t, h.client.AwaitConsistency(ctx, "alice", id))

	e := h.event(t, id)
	assert.Equal(t, int64(0), e.Likes)
	assert.Empty(t, e.LikedBy)
	waitFor(t, v, func(s Snapshot) bool { return s.LikeState(id) == Confirmed && !s.LikedByMe[id] })
}

func TestToggle_FailureRevertsAndSurfacesError(t *testing.T) {
	h := newHarness(t, "alice")
	ctx := context.Background()
	id := h.seed(t, model.Event{Title: "Show", DateTime: "2031-06-05T20:00", UserID: "bob"})
	v := h.subscribe(t, "alice")

	h.store.SetFailure(func(op, collection, _ string) error {
		if collection == model.CollectionEvents && op == "update" {
			return docstore.ErrPermissionDenied
		}
		return nil
	})
	liked, err := v.ToggleLike(ctx, id)
	require.ErrorIs(t, err, docstore.ErrPermissionDenied)
	assert.False(t, liked)

	s := v.Snapshot()
	assert.False(t, s.LikedByMe[id])
	assert.Equal(t, Reverted, s.LikeState(id))
	assert.ErrorIs(t, s.Err, docstore.ErrPermissionDenied)

	h.store.SetFailure(nil)
	liked, err = v.ToggleLike(ctx, id)
	require.NoError(t, err)
	assert.True(t, liked)
	s = v.Snapshot()
	assert.NoError(t, s.Err, "a confirmed toggle clears the error")
	assert.Equal(t, Confirmed, s.LikeState(id))
}

func TestToggle_RequiresUser(t *testing.T) {
	h := newHarness(t, "")
	id := h.seed(t, model.Event{Title: "Show", DateTime: "2031-06-05T20:00", UserID: "bob"})
	v := h.subscribe(t, "")

	_, err := v.ToggleLike(context.Background(), id)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = v.ToggleSave(context.Background(), id)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Len(t, v.Snapshot().Events, 1, "anonymous browsing still works")
}

func TestToggleLike_EventOutsideView(t *testing.T) {
	h := newHarness(t, "alice")
	ctx := context.Background()
	id := h.seed(t, model.Event{Title: "Old", DateTime: "2030-01-01T20:00", UserID: "bob", Likes: 1, LikedBy: []string{"alice"}})
	v := h.subscribe(t, "alice")
	require.Empty(t, v.Snapshot().Events)

	liked, err := v.ToggleLike(ctx, id)
	require.NoError(t, err)
	assert.False(t, liked, "direction comes from the stored record")
	assert.Equal(t, int64(0), h.event(t, id).Likes)

	_, err = v.ToggleLike(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClose_DropsLateResults(t *testing.T) {
	exec := newGatedExecutor(t)
	h := newHarness(t, "alice", WithExecutor(exec))
	ctx := context.Background()
	id := h.seed(t, model.Event{Title: "Show", DateTime: "2031-06-05T20:00", UserID: "bob"})
	v := h.subscribe(t, "alice")

	done := make(chan error, 1)
	go func() {
		_, err := v.ToggleLike(ctx, id)
		done <- err
	}()
	waitFor(t, v, func(s Snapshot) bool { return s.LikeState(id) == Pending })

	require.NoError(t, v.Close())
	require.NoError(t, v.Close())
	exec.open()
	require.NoError(t, <-done)

	for range v.Updates() {
	}
	assert.Equal(t, 0, h.store.Watchers())
	_, err := v.ToggleLike(ctx, id)
	assert.ErrorIs(t, err, ErrViewClosed)
	assert.ErrorIs(t, v.Refresh(ctx), ErrViewClosed)
}

func TestRefresh_AppliesAuthoritativeState(t *testing.T) {
	h := newHarness(t, "alice")
	ctx := context.Background()
	id := h.seed(t, model.Event{Title: "Show", DateTime: "2031-06-05T20:00", UserID: "bob"})
	v := h.subscribe(t, "alice")

	before := v.Snapshot().Version
	require.NoError(t, v.Refresh(ctx))
	s := v.Snapshot()
	assert.Greater(t, s.Version, before)
	assert.Equal(t, []string{id}, ids(s.Events))
}

func TestView_JoinsOrganizerProfilePicture(t *testing.T) {
	h := newHarness(t, "alice")
	require.NoError(t, h.store.Set(context.Background(), model.CollectionProfiles, "bob", map[string]any{
		model.FieldAlias: "Bob", model.FieldRole: "promoter", model.FieldProfilePicture: "mem://bob.png",
	}, false))
	id := h.seed(t, model.Event{Title: "Show", DateTime: "2031-06-05T20:00", UserID: "bob"})
	anon := h.seed(t, model.Event{Title: "No profile", DateTime: "2031-06-06T20:00", UserID: "ghost"})

	s := h.subscribe(t, "alice").Snapshot()
	e, _ := s.Event(id)
	assert.Equal(t, "mem://bob.png", e.OrganizerProfilePicture)
	e, _ = s.Event(anon)
	assert.Empty(t, e.OrganizerProfilePicture)
}

func TestView_ResubscribesAfterFailure(t *testing.T) {
	store := &flakyStore{Store: memstore.New(), subs: make(chan *docstore.Feed, 8)}
	t.Cleanup(func() { _ = store.Close() })
	c, err := New(store, blobstore.NewMemory(), identity.NewSession("alice"),
		WithClock(func() time.Time { return testNow }), WithLocation(time.UTC))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	v, err := c.Subscribe(context.Background(), "alice")
	require.NoError(t, err)
	first := <-store.subs
	first.Fail(fmt.Errorf("stream reset: %w", docstore.ErrUnavailable))

	select {
	case <-store.subs:
	case <-time.After(5 * time.Second):
		t.Fatal("view did not resubscribe")
	}

	id, err := store.Create(context.Background(), model.CollectionEvents, model.EventFields(model.Event{
		Title: "After", DateTime: "2031-06-05T20:00", UserID: "bob", LikedBy: []string{},
	}))
	require.NoError(t, err)
	s := waitFor(t, v, func(s Snapshot) bool { return len(s.Events) == 1 && s.Err == nil })
	assert.Equal(t, id, s.Events[0].ID)
}

func TestClientClose_ClosesViews(t *testing.T) {
	h := newHarness(t, "alice")
	v := h.subscribe(t, "alice")
	require.NoError(t, h.client.Close())

	_, ok := <-v.Updates()
	for ok {
		_, ok = <-v.Updates()
	}
	_, err := h.client.Subscribe(context.Background(), "alice")
	assert.True(t, errors.Is(err, ErrClientClosed))
}

func TestToggle_LateConfirmationKeepsNewerPush(t *testing.T) {
	type result struct {
		on  bool
		err error
	}

	t.Run("like", func(t *testing.T) {
		exec := newHeldExecutor(t)
		h := newHarness(t, "alice", WithExecutor(exec))
		ctx := context.Background()
		id := h.seed(t, model.Event{Title: "Show", DateTime: "2031-06-05T20:00", UserID: "bob"})
		v := h.subscribe(t, "alice")

		done := make(chan result, 1)
		go func() {
			liked, err := v.ToggleLike(ctx, id)
			done <- result{liked, err}
		}()
		waitFor(t, v, func(s Snapshot) bool {
			e, _ := s.Event(id)
			return e.Likes == 1 && s.LikeState(id) == Pending
		})

		// alice unlikes from another device before the first write is acknowledged.
		applied, err := h.store.UpdateIf(ctx, model.CollectionEvents, id, docstore.Contains(model.FieldLikedBy, "alice"),
			docstore.Increment(model.FieldLikes, -1), docstore.ArrayRemove(model.FieldLikedBy, "alice"))
		require.NoError(t, err)
		require.True(t, applied)
		waitFor(t, v, func(s Snapshot) bool {
			e, _ := s.Event(id)
			return e.Likes == 0 && !s.LikedByMe[id]
		})

		exec.release()
		r := <-done
		require.NoError(t, r.err)
		assert.True(t, r.on)

		s := v.Snapshot()
		assert.Equal(t, Confirmed, s.LikeState(id))
		assert.False(t, s.LikedByMe[id], "newest push wins over the acknowledged write")
		e, _ := s.Event(id)
		assert.Equal(t, int64(0), e.Likes)

		liked, err := v.ToggleLike(ctx, id)
		require.NoError(t, err)
		assert.True(t, liked, "next toggle starts from the pushed value")
	})

	t.Run("save", func(t *testing.T) {
		exec := newHeldExecutor(t)
		h := newHarness(t, "alice", WithExecutor(exec))
		ctx := context.Background()
		id := h.seed(t, model.Event{Title: "Show", DateTime: "2031-06-05T20:00", UserID: "bob"})
		v := h.subscribe(t, "alice")

		done := make(chan result, 1)
		go func() {
			saved, err := v.ToggleSave(ctx, id)
			done <- result{saved, err}
		}()
		require.Eventually(t, func() bool {
			v.mu.Lock()
			defer v.mu.Unlock()
			return v.saved[id]
		}, 5*time.Second, 10*time.Millisecond, "saved list push not applied")
		assert.Equal(t, Pending, v.Snapshot().SaveState(id))

		require.NoError(t, h.store.Update(ctx, model.CollectionSavedEvents, "alice",
			docstore.ArrayRemove(model.FieldSavedEvents, id)))
		waitFor(t, v, func(s Snapshot) bool { return !s.SavedByMe[id] })

		exec.release()
		r := <-done
		require.NoError(t, r.err)
		assert.True(t, r.on)

		s := v.Snapshot()
		assert.Equal(t, Confirmed, s.SaveState(id))
		assert.False(t, s.SavedByMe[id], "newest push wins over the acknowledged write")

		saved, err := v.ToggleSave(ctx, id)
		require.NoError(t, err)
		assert.True(t, saved)
	})
}

func TestSubscribeCurrent_FollowsAuthState(t *testing.T) {
	h := newHarness(t, "alice")
	ctx := context.Background()
	id := h.seed(t, model.Event{Title: "Show", DateTime: "2031-06-05T20:00", UserID: "bob"})

	v, err := h.client.SubscribeCurrent(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	require.Equal(t, "alice", v.UserID())
	assert.Equal(t, 1, h.auth.Listeners())

	h.auth.SignOut()
	s := waitFor(t, v, func(s Snapshot) bool { return errors.Is(s.Err, ErrUnauthenticated) })
	assert.Len(t, s.Events, 1, "feed stays readable after sign-out")

	_, err = v.ToggleLike(ctx, id)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = v.ToggleSave(ctx, id)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Empty(t, h.event(t, id).LikedBy)
	_, err = h.store.Get(ctx, model.CollectionSavedEvents, "alice")
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	h.auth.SignIn("bob")
	_, err = v.ToggleLike(ctx, id)
	assert.ErrorIs(t, err, ErrUnauthenticated, "another user cannot act through alice's view")
	assert.Empty(t, h.event(t, id).LikedBy)

	h.auth.SignIn("alice")
	waitFor(t, v, func(s Snapshot) bool { return s.Err == nil })
	liked, err := v.ToggleLike(ctx, id)
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, []string{"alice"}, h.event(t, id).LikedBy)

	require.NoError(t, v.Close())
	assert.Equal(t, 0, h.auth.Listeners())
	h.auth.SignOut()
}

func TestSubscribe_OtherUserStartsUnauthenticated(t *testing.T) {
	h := newHarness(t, "bob")
	id := h.seed(t, model.Event{Title: "Show", DateTime: "2031-06-05T20:00", UserID: "bob"})
	v := h.subscribe(t, "alice")

	_, err := v.ToggleLike(context.Background(), id)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Empty(t, h.event(t, id).LikedBy)
}

func TestRefresh_DoesNotOverwriteLaterPush(t *testing.T) {
	store := &stallingStore{Store: memstore.New(), entered: make(chan struct{}), proceed: make(chan struct{})}
	t.Cleanup(func() { _ = store.Close() })
	c, err := New(store, blobstore.NewMemory(), identity.NewSession(""),
		WithClock(func() time.Time { return testNow }), WithLocation(time.UTC))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	v, err := c.Subscribe(ctx, "")
	require.NoError(t, err)
	require.Empty(t, v.Snapshot().Events)

	store.armed.Store(true)
	refreshed := make(chan error, 1)
	go func() { refreshed <- v.Refresh(ctx) }()
	<-store.entered

	// Lands while the refresh holds a read taken before it.
	id, err := store.Create(ctx, model.CollectionEvents, model.EventFields(model.Event{
		Title: "Added", DateTime: "2031-06-05T20:00", UserID: "bob", LikedBy: []string{},
	}))
	require.NoError(t, err)
	close(store.proceed)
	require.NoError(t, <-refreshed)

	s := waitFor(t, v, func(s Snapshot) bool { return len(s.Events) == 1 })
	assert.Equal(t, []string{id}, ids(s.Events))
}
