// Package storetest is a compliance suite every docstore driver runs.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/joncaseee/pdx-underground-app/internal/docstore"
)

// Run exercises the docstore.Store contract. makeStore must return a clean,
// isolated store; collection names are randomised so a shared backend is
// acceptable.
func Run(t *testing.T, makeStore func(t *testing.T) docstore.Store) {
	t.Helper()

	t.Run("CRUD", func(t *testing.T) { testCRUD(t, makeStore(t)) })
	t.Run("Mutations", func(t *testing.T) { testMutations(t, makeStore(t)) })
	t.Run("GuardedUpdate", func(t *testing.T) { testGuardedUpdate(t, makeStore(t)) })
	t.Run("Upsert", func(t *testing.T) { testUpsert(t, makeStore(t)) })
	t.Run("Query", func(t *testing.T) { testQuery(t, makeStore(t)) })
	t.Run("Subscribe", func(t *testing.T) { testSubscribe(t, makeStore(t)) })
	t.Run("SubscribeDoc", func(t *testing.T) { testSubscribeDoc(t, makeStore(t)) })
}

func coll(name string) string { return name + "_" + uuid.NewString()[:8] }

func testCRUD(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	c := coll("events")

	id, err := s.Create(ctx, c, map[string]any{"title": "Basement Show", "likes": int64(0)})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Get(ctx, c, id)
	require.NoError(t, err)
	require.Equal(t, "Basement Show", got.Fields["title"])

	require.NoError(t, s.Set(ctx, c, id, map[string]any{"organizer": "Nite Owl"}, true))
	got, err = s.Get(ctx, c, id)
	require.NoError(t, err)
	require.Equal(t, "Basement Show", got.Fields["title"], "merge keeps existing fields")
	require.Equal(t, "Nite Owl", got.Fields["organizer"])

	require.NoError(t, s.Set(ctx, c, id, map[string]any{"title": "Replaced"}, false))
	got, err = s.Get(ctx, c, id)
	require.NoError(t, err)
	require.Equal(t, "Replaced", got.Fields["title"])
	_, hasOrganizer := got.Fields["organizer"]
	require.False(t, hasOrganizer, "non-merge set replaces the document")

	require.NoError(t, s.Delete(ctx, c, id))
	_, err = s.Get(ctx, c, id)
	require.True(t, errors.Is(err, docstore.ErrNotFound), "got %v", err)
	require.NoError(t, s.Delete(ctx, c, id), "deleting a missing document is not an error")
}

func testMutations(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	c := coll("events")

	id, err := s.Create(ctx, c, map[string]any{"likes": int64(3), "likedBy": []any{}})
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, c, id,
		docstore.Increment("likes", 1),
		docstore.ArrayUnion("likedBy", "u1"),
	))
	require.NoError(t, s.Update(ctx, c, id, docstore.ArrayUnion("likedBy", "u1")))
	got, err := s.Get(ctx, c, id)
	require.NoError(t, err)
	likes, ok := docstore.AsInt64(got.Fields["likes"])
	require.True(t, ok)
	require.Equal(t, int64(4), likes)
	require.Equal(t, []string{"u1"}, docstore.AsStrings(got.Fields["likedBy"]))

	require.NoError(t, s.Update(ctx, c, id,
		docstore.Increment("likes", -1),
		docstore.ArrayRemove("likedBy", "u1"),
		docstore.SetField("title", "edited"),
	))
	got, err = s.Get(ctx, c, id)
	require.NoError(t, err)
	likes, _ = docstore.AsInt64(got.Fields["likes"])
	require.Equal(t, int64(3), likes)
	require.Empty(t, docstore.AsStrings(got.Fields["likedBy"]))
	require.Equal(t, "edited", got.Fields["title"])

	err = s.Update(ctx, c, "missing-"+uuid.NewString(), docstore.Increment("likes", 1))
	require.True(t, errors.Is(err, docstore.ErrNotFound), "got %v", err)
}

func testGuardedUpdate(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	c := coll("events")

	id, err := s.Create(ctx, c, map[string]any{"likes": int64(0), "likedBy": []any{}})
	require.NoError(t, err)

	like := []docstore.Mutation{docstore.Increment("likes", 1), docstore.ArrayUnion("likedBy", "u1")}
	applied, err := s.UpdateIf(ctx, c, id, docstore.NotContains("likedBy", "u1"), like...)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = s.UpdateIf(ctx, c, id, docstore.NotContains("likedBy", "u1"), like...)
	require.NoError(t, err)
	require.False(t, applied, "second like must not double count")

	got, err := s.Get(ctx, c, id)
	require.NoError(t, err)
	likes, _ := docstore.AsInt64(got.Fields["likes"])
	require.Equal(t, int64(1), likes)

	applied, err = s.UpdateIf(ctx, c, id, docstore.Contains("likedBy", "u1"),
		docstore.Increment("likes", -1), docstore.ArrayRemove("likedBy", "u1"))
	require.NoError(t, err)
	require.True(t, applied)

	_, err = s.UpdateIf(ctx, c, "missing-"+uuid.NewString(), docstore.Contains("likedBy", "u1"), like...)
	require.True(t, errors.Is(err, docstore.ErrNotFound), "got %v", err)
}

func testUpsert(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	c := coll("userSavedEvents")
	id := "user-" + uuid.NewString()

	require.NoError(t, s.Upsert(ctx, c, id, docstore.ArrayUnion("savedEvents", "ev1")))
	got, err := s.Get(ctx, c, id)
	require.NoError(t, err)
	require.Equal(t, []string{"ev1"}, docstore.AsStrings(got.Fields["savedEvents"]))

	require.NoError(t, s.Upsert(ctx, c, id, docstore.ArrayUnion("savedEvents", "ev2")))
	require.NoError(t, s.Update(ctx, c, id, docstore.ArrayRemove("savedEvents", "ev1")))
	got, err = s.Get(ctx, c, id)
	require.NoError(t, err)
	require.Equal(t, []string{"ev2"}, docstore.AsStrings(got.Fields["savedEvents"]))
}

func testQuery(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	c := coll("events")

	for _, f := range []map[string]any{
		{"dateTime": "2031-03-02T20:00", "userId": "a"},
		{"dateTime": "2031-01-15T19:30", "userId": "b"},
		{"dateTime": "2031-02-01T21:00", "userId": "a"},
	} {
		_, err := s.Create(ctx, c, f)
		require.NoError(t, err)
	}

	docs, err := s.Query(ctx, docstore.Query{Collection: c, OrderBy: "dateTime"})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	require.Equal(t, "2031-01-15T19:30", docs[0].Fields["dateTime"])
	require.Equal(t, "2031-03-02T20:00", docs[2].Fields["dateTime"])

	docs, err = s.Query(ctx, docstore.Query{
		Collection: c,
		Where:      []docstore.Filter{{Field: "userId", Value: "a"}},
		OrderBy:    "dateTime",
		Direction:  docstore.Desc,
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "2031-03-02T20:00", docs[0].Fields["dateTime"])
}

func testSubscribe(t *testing.T, s docstore.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := coll("events")

	first, err := s.Create(ctx, c, map[string]any{"dateTime": "2031-05-01T20:00", "likes": int64(0)})
	require.NoError(t, err)

	sub, err := s.Subscribe(ctx, docstore.Query{Collection: c, OrderBy: "dateTime"})
	require.NoError(t, err)
	defer sub.Close()

	Await(t, sub, func(docs []docstore.Document) bool { return len(docs) == 1 && docs[0].ID == first })

	second, err := s.Create(ctx, c, map[string]any{"dateTime": "2031-04-01T20:00", "likes": int64(0)})
	require.NoError(t, err)
	Await(t, sub, func(docs []docstore.Document) bool {
		return len(docs) == 2 && docs[0].ID == second && docs[1].ID == first
	})

	require.NoError(t, s.Update(ctx, c, first, docstore.Increment("likes", 2)))
	Await(t, sub, func(docs []docstore.Document) bool {
		for _, d := range docs {
			if n, _ := docstore.AsInt64(d.Fields["likes"]); d.ID == first && n == 2 {
				return true
			}
		}
		return false
	})

	require.NoError(t, s.Delete(ctx, c, second))
	Await(t, sub, func(docs []docstore.Document) bool { return len(docs) == 1 })

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "Close is idempotent")
}

func testSubscribeDoc(t *testing.T, s docstore.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := coll("userSavedEvents")
	id := "user-" + uuid.NewString()

	sub, err := s.SubscribeDoc(ctx, c, id)
	require.NoError(t, err)
	defer sub.Close()

	Await(t, sub, func(docs []docstore.Document) bool { return len(docs) == 0 })

	require.NoError(t, s.Upsert(ctx, c, id, docstore.ArrayUnion("savedEvents", "ev1")))
	Await(t, sub, func(docs []docstore.Document) bool {
		return len(docs) == 1 && len(docstore.AsStrings(docs[0].Fields["savedEvents"])) == 1
	})
}

// Await reads snapshots until pred accepts one or a deadline passes.
func Await(t *testing.T, sub docstore.Subscription, pred func([]docstore.Document) bool) []docstore.Document {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case snap, ok := <-sub.C():
			require.True(t, ok, "subscription closed early")
			require.NoError(t, snap.Err)
			if pred(snap.Docs) {
				return snap.Docs
			}
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot")
			return nil
		}
	}
}
