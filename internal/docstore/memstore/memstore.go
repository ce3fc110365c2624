// Package memstore is an in-process document store with live queries. It
// backs tests and the "memory" driver for local experiments.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/joncaseee/pdx-underground-app/internal/docstore"
)

type watcher struct {
	q     docstore.Query
	docID string // set for single-document watches
	feed  *docstore.Feed
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	colls    map[string]map[string]map[string]any
	watchers map[*watcher]struct{}
	closed   bool
	failNext func(op, collection, id string) error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		colls:    make(map[string]map[string]map[string]any),
		watchers: make(map[*watcher]struct{}),
	}
}

func (s *Store) Subscribe(ctx context.Context, q docstore.Query) (docstore.Subscription, error) {
	return s.watch(ctx, &watcher{q: q})
}

func (s *Store) SubscribeDoc(ctx context.Context, collection, id string) (docstore.Subscription, error) {
	return s.watch(ctx, &watcher{q: docstore.Query{Collection: collection}, docID: id})
}

func (s *Store) watch(ctx context.Context, w *watcher) (docstore.Subscription, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, docstore.ErrClosed
	}
	w.feed = docstore.NewFeed(func() {
		s.mu.Lock()
		delete(s.watchers, w)
		s.mu.Unlock()
	})
	s.watchers[w] = struct{}{}
	w.feed.Push(docstore.Snapshot{Docs: s.resultLocked(w)})
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = w.feed.Close()
		case <-w.feed.Done():
		}
	}()
	return w.feed, nil
}

func (s *Store) resultLocked(w *watcher) []docstore.Document {
	coll := s.colls[w.q.Collection]
	if w.docID != "" {
		if f, ok := coll[w.docID]; ok {
			return []docstore.Document{{ID: w.docID, Fields: docstore.Clone(f)}}
		}
		return []docstore.Document{}
	}
	docs := make([]docstore.Document, 0, len(coll))
	for id, f := range coll {
		if docstore.Matches(f, w.q.Where) {
			docs = append(docs, docstore.Document{ID: id, Fields: docstore.Clone(f)})
		}
	}
	docstore.Sort(docs, w.q)
	return docs
}

// notifyLocked pushes fresh results to every watcher of collection.
// Feeds never block, so this is safe under the write lock.
func (s *Store) notifyLocked(collection, id string) {
	for w := range s.watchers {
		if w.q.Collection != collection {
			continue
		}
		if w.docID != "" && w.docID != id {
			continue
		}
		w.feed.Push(docstore.Snapshot{Docs: s.resultLocked(w)})
	}
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, docstore.ErrClosed
	}
	return s.resultLocked(&watcher{q: q}), nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return docstore.Document{}, docstore.ErrClosed
	}
	f, ok := s.colls[collection][id]
	if !ok {
		return docstore.Document{}, fmt.Errorf("%s: %w", docstore.Key(collection, id), docstore.ErrNotFound)
	}
	return docstore.Document{ID: id, Fields: docstore.Clone(f)}, nil
}

func (s *Store) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	err := s.write(ctx, "create", collection, id, func(coll map[string]map[string]any) error {
		coll[id] = docstore.Clone(fields)
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error {
	return s.write(ctx, "set", collection, id, func(coll map[string]map[string]any) error {
		cur, ok := coll[id]
		if !merge || !ok {
			coll[id] = docstore.Clone(fields)
			return nil
		}
		for k, v := range fields {
			cur[k] = docstore.Normalize(v)
		}
		return nil
	})
}

func (s *Store) Update(ctx context.Context, collection, id string, muts ...docstore.Mutation) error {
	return s.write(ctx, "update", collection, id, func(coll map[string]map[string]any) error {
		cur, ok := coll[id]
		if !ok {
			return fmt.Errorf("%s: %w", docstore.Key(collection, id), docstore.ErrNotFound)
		}
		return applyCopy(coll, id, cur, muts)
	})
}

func (s *Store) UpdateIf(ctx context.Context, collection, id string, cond docstore.Condition, muts ...docstore.Mutation) (bool, error) {
	applied := false
	err := s.write(ctx, "update", collection, id, func(coll map[string]map[string]any) error {
		cur, ok := coll[id]
		if !ok {
			return fmt.Errorf("%s: %w", docstore.Key(collection, id), docstore.ErrNotFound)
		}
		if !docstore.Holds(cur, cond) {
			return errSkip
		}
		if err := applyCopy(coll, id, cur, muts); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err == errSkip {
		return false, nil
	}
	return applied, err
}

func (s *Store) Upsert(ctx context.Context, collection, id string, muts ...docstore.Mutation) error {
	return s.write(ctx, "upsert", collection, id, func(coll map[string]map[string]any) error {
		cur, ok := coll[id]
		if !ok {
			cur = map[string]any{}
		}
		return applyCopy(coll, id, cur, muts)
	})
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.write(ctx, "delete", collection, id, func(coll map[string]map[string]any) error {
		delete(coll, id)
		return nil
	})
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return docstore.ErrClosed
	}
	return ctx.Err()
}

// Close terminates every live subscription.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	feeds := make([]*docstore.Feed, 0, len(s.watchers))
	for w := range s.watchers {
		feeds = append(feeds, w.feed)
	}
	s.mu.Unlock()
	for _, f := range feeds {
		_ = f.Close()
	}
	return nil
}

// SetFailure installs a hook consulted before every write; a non-nil
// return value fails the write without touching the document. Pass nil to
// clear it.
func (s *Store) SetFailure(fn func(op, collection, id string) error) {
	s.mu.Lock()
	s.failNext = fn
	s.mu.Unlock()
}

// Watchers returns the number of open subscriptions.
func (s *Store) Watchers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers)
}

type skipError struct{}

func (skipError) Error() string { return "condition not met" }

var errSkip error = skipError{}

func (s *Store) write(ctx context.Context, op, collection, id string, fn func(map[string]map[string]any) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.ErrClosed
	}
	if s.failNext != nil {
		if err := s.failNext(op, collection, id); err != nil {
			return err
		}
	}
	coll, ok := s.colls[collection]
	if !ok {
		coll = make(map[string]map[string]any)
		s.colls[collection] = coll
	}
	if err := fn(coll); err != nil {
		return err
	}
	s.notifyLocked(collection, id)
	return nil
}

// applyCopy applies muts to a copy so a failing mutation list leaves the
// stored document untouched.
func applyCopy(coll map[string]map[string]any, id string, cur map[string]any, muts []docstore.Mutation) error {
	next := docstore.Clone(cur)
	if err := docstore.Apply(next, muts...); err != nil {
		return err
	}
	coll[id] = next
	return nil
}
