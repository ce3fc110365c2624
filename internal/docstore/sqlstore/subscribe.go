package sqlstore

import (
	"context"
	"errors"

	"github.com/joncaseee/pdx-underground-app/internal/changefeed"
	"github.com/joncaseee/pdx-underground-app/internal/docstore"
)

func (s *Store) Subscribe(ctx context.Context, q docstore.Query) (docstore.Subscription, error) {
	return s.watch(ctx, &watcher{q: q})
}

func (s *Store) SubscribeDoc(ctx context.Context, collection, id string) (docstore.Subscription, error) {
	return s.watch(ctx, &watcher{q: docstore.Query{Collection: collection}, docID: id})
}

// watch registers before the first read so no change between the read
// and registration is missed.
func (s *Store) watch(ctx context.Context, w *watcher) (docstore.Subscription, error) {
	w.dirty = make(chan struct{}, 1)
	w.feed = docstore.NewFeed(func() {
		s.mu.Lock()
		delete(s.watchers, w)
		s.mu.Unlock()
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, docstore.ErrClosed
	}
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	docs, err := s.result(ctx, w)
	if err != nil {
		_ = w.feed.Close()
		return nil, err
	}
	w.feed.Push(docstore.Snapshot{Docs: docs})

	s.wg.Add(1)
	go s.run(ctx, w)
	return w.feed, nil
}

func (s *Store) result(ctx context.Context, w *watcher) ([]docstore.Document, error) {
	if w.docID == "" {
		return s.Query(ctx, w.q)
	}
	doc, err := s.Get(ctx, w.q.Collection, w.docID)
	if errors.Is(err, docstore.ErrNotFound) {
		return []docstore.Document{}, nil
	}
	if err != nil {
		return nil, err
	}
	return []docstore.Document{doc}, nil
}

// run re-reads the result on every relevant change. Bursts of signals
// collapse into one read.
func (s *Store) run(ctx context.Context, w *watcher) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			_ = w.feed.Close()
			return
		case <-s.ctx.Done():
			_ = w.feed.Close()
			return
		case <-w.feed.Done():
			return
		case <-w.dirty:
		}

		docs, err := s.result(s.ctx, w)
		if err != nil {
			if s.ctx.Err() != nil {
				_ = w.feed.Close()
				return
			}
			s.log.Error().Stack().Err(err).Str("collection", w.q.Collection).Msg("sqlstore: live query failed")
			w.feed.Fail(err)
			return
		}
		w.feed.Push(docstore.Snapshot{Docs: docs})
	}
}

// onChange marks affected watchers dirty. It never blocks.
func (s *Store) onChange(c changefeed.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.watchers {
		if !c.Resync() {
			if w.q.Collection != c.Collection {
				continue
			}
			if w.docID != "" && w.docID != c.ID {
				continue
			}
		}
		select {
		case w.dirty <- struct{}{}:
		default:
		}
	}
}

// Watchers returns the number of open subscriptions.
func (s *Store) Watchers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}
