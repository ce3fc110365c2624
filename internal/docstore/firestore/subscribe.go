package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/joncaseee/pdx-underground-app/internal/docstore"
)

func (s *Store) Subscribe(ctx context.Context, q docstore.Query) (docstore.Subscription, error) {
	fq, err := s.query(q)
	if err != nil {
		return nil, err
	}
	it := fq.Snapshots(ctx)
	return s.pump(it.Stop, func() ([]docstore.Document, error) {
		qs, err := it.Next()
		if err != nil {
			return nil, err
		}
		snaps, err := qs.Documents.GetAll()
		if err != nil {
			return nil, err
		}
		return toDocuments(snaps, q), nil
	})
}

func (s *Store) SubscribeDoc(ctx context.Context, collection, id string) (docstore.Subscription, error) {
	it := s.ref(collection, id).Snapshots(ctx)
	return s.pump(it.Stop, func() ([]docstore.Document, error) {
		snap, err := it.Next()
		if err != nil {
			return nil, err
		}
		return docSnapshot(snap), nil
	})
}

func docSnapshot(snap *firestore.DocumentSnapshot) []docstore.Document {
	if snap == nil || !snap.Exists() {
		return []docstore.Document{}
	}
	return []docstore.Document{toDocument(snap)}
}

// pump forwards iterator results into a Feed. The first result is read
// synchronously so Subscribe reports setup errors.
func (s *Store) pump(stop func(), next func() ([]docstore.Document, error)) (docstore.Subscription, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		stop()
		return nil, docstore.ErrClosed
	}
	s.mu.Unlock()

	docs, err := next()
	if err != nil {
		stop()
		return nil, mapErr(err)
	}

	var feed *docstore.Feed
	feed = docstore.NewFeed(func() {
		stop()
		s.mu.Lock()
		delete(s.feeds, feed)
		s.mu.Unlock()
	})
	feed.Push(docstore.Snapshot{Docs: docs})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = feed.Close()
		return nil, docstore.ErrClosed
	}
	s.feeds[feed] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		for {
			docs, err := next()
			if err != nil {
				if errors.Is(err, iterator.Done) || feed.Closed() {
					_ = feed.Close()
					return
				}
				err = mapErr(err)
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					_ = feed.Close()
					return
				}
				s.log.Error().Stack().Err(err).Msg("firestore: snapshot listener failed")
				feed.Fail(err)
				return
			}
			feed.Push(docstore.Snapshot{Docs: docs})
		}
	}()
	return feed, nil
}

// Watchers returns the number of open subscriptions.
func (s *Store) Watchers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.feeds)
}
