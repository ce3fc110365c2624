// Package firestore implements docstore.Store on Cloud Firestore, the
// backend the hosted app runs against. Field transforms, query snapshots
// and transactions are native, so this driver is mostly translation.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joncaseee/pdx-underground-app/internal/docstore"
)

// Store is safe for concurrent use.
type Store struct {
	client *firestore.Client
	log    zerolog.Logger

	mu     sync.Mutex
	feeds  map[*docstore.Feed]struct{}
	wg     sync.WaitGroup
	closed bool
}

// Open creates a client for projectID. FIRESTORE_EMULATOR_HOST is honoured
// by the client library.
func Open(ctx context.Context, projectID string, log zerolog.Logger, opts ...option.ClientOption) (*Store, error) {
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", mapErr(err))
	}
	return New(client, log), nil
}

// New wraps client. Close closes it.
func New(client *firestore.Client, log zerolog.Logger) *Store {
	return &Store{client: client, log: log, feeds: make(map[*docstore.Feed]struct{})}
}

func (s *Store) ref(collection, id string) *firestore.DocumentRef {
	return s.client.Collection(collection).Doc(id)
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	snap, err := s.ref(collection, id).Get(ctx)
	if err != nil {
		return docstore.Document{}, fmt.Errorf("%s: %w", docstore.Key(collection, id), mapErr(err))
	}
	return toDocument(snap), nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	fq, err := s.query(q)
	if err != nil {
		return nil, err
	}
	snaps, err := fq.Documents(ctx).GetAll()
	if err != nil {
		return nil, mapErr(err)
	}
	return toDocuments(snaps, q), nil
}

// query applies equality filters only. Ordering happens client-side so a
// filter plus order never needs a composite index.
func (s *Store) query(q docstore.Query) (firestore.Query, error) {
	fq := s.client.Collection(q.Collection).Query
	for _, f := range q.Where {
		if !docstore.ValidField(f.Field) {
			return fq, fmt.Errorf("%w: filter field %q", docstore.ErrInvalidArgument, f.Field)
		}
		fq = fq.Where(f.Field, "==", f.Value)
	}
	return fq, nil
}

func (s *Store) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	ref := s.client.Collection(collection).NewDoc()
	if _, err := ref.Create(ctx, toFirestore(fields)); err != nil {
		return "", mapErr(err)
	}
	return ref.ID, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error {
	var opts []firestore.SetOption
	if merge {
		opts = append(opts, firestore.MergeAll)
	}
	_, err := s.ref(collection, id).Set(ctx, toFirestore(fields), opts...)
	return mapErr(err)
}

func (s *Store) Update(ctx context.Context, collection, id string, muts ...docstore.Mutation) error {
	updates, err := toUpdates(muts)
	if err != nil {
		return err
	}
	if _, err := s.ref(collection, id).Update(ctx, updates); err != nil {
		return fmt.Errorf("%s: %w", docstore.Key(collection, id), mapErr(err))
	}
	return nil
}

// UpdateIf reads and writes inside a transaction; Firestore retries it on
// contention.
func (s *Store) UpdateIf(ctx context.Context, collection, id string, cond docstore.Condition, muts ...docstore.Mutation) (bool, error) {
	updates, err := toUpdates(muts)
	if err != nil {
		return false, err
	}
	ref := s.ref(collection, id)
	var applied bool
	err = s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		applied = false
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if !docstore.Holds(fromFirestoreMap(snap.Data()), cond) {
			return nil
		}
		applied = true
		return tx.Update(ref, updates)
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", docstore.Key(collection, id), mapErr(err))
	}
	return applied, nil
}

// Upsert is a merge Set carrying the transforms, which Firestore applies
// atomically and which creates the document when missing.
func (s *Store) Upsert(ctx context.Context, collection, id string, muts ...docstore.Mutation) error {
	updates, err := toUpdates(muts)
	if err != nil {
		return err
	}
	data := make(map[string]any, len(updates))
	for _, u := range updates {
		data[u.Path] = u.Value
	}
	_, err = s.ref(collection, id).Set(ctx, data, firestore.MergeAll)
	return mapErr(err)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.ref(collection, id).Delete(ctx)
	return mapErr(err)
}

// Ping reads a document that need not exist.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.ref("_health", "ping").Get(ctx)
	if err == nil || status.Code(err) == codes.NotFound {
		return nil
	}
	return mapErr(err)
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	feeds := make([]*docstore.Feed, 0, len(s.feeds))
	for f := range s.feeds {
		feeds = append(feeds, f)
	}
	s.mu.Unlock()
	for _, f := range feeds {
		_ = f.Close()
	}
	s.wg.Wait()
	return s.client.Close()
}

// toUpdates merges mutations per field: increments add up and set
// operations take every value at once, since Firestore rejects two
// transforms on one path.
func toUpdates(muts []docstore.Mutation) ([]firestore.Update, error) {
	if err := docstore.ValidateMutations(muts); err != nil {
		return nil, err
	}
	type acc struct {
		op    docstore.Op
		value any
		delta int64
		vals  []any
	}
	order := []string{}
	byField := map[string]*acc{}
	for _, m := range muts {
		a, ok := byField[m.Field]
		if !ok {
			a = &acc{op: m.Op}
			byField[m.Field] = a
			order = append(order, m.Field)
		} else if a.op != m.Op {
			return nil, fmt.Errorf("%w: conflicting mutations on %q", docstore.ErrInvalidArgument, m.Field)
		}
		switch m.Op {
		case docstore.OpSet:
			a.value = toFirestoreValue(docstore.Normalize(m.Value))
		case docstore.OpIncrement:
			a.delta += m.Delta
		case docstore.OpArrayUnion, docstore.OpArrayRemove:
			a.vals = append(a.vals, m.Value)
		}
	}
	updates := make([]firestore.Update, 0, len(order))
	for _, f := range order {
		a := byField[f]
		u := firestore.Update{Path: f}
		switch a.op {
		case docstore.OpSet:
			u.Value = a.value
		case docstore.OpIncrement:
			u.Value = firestore.Increment(a.delta)
		case docstore.OpArrayUnion:
			u.Value = firestore.ArrayUnion(a.vals...)
		case docstore.OpArrayRemove:
			u.Value = firestore.ArrayRemove(a.vals...)
		}
		updates = append(updates, u)
	}
	return updates, nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, iterator.Done) {
		return err
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %v", docstore.ErrNotFound, err)
	case codes.PermissionDenied, codes.Unauthenticated:
		return fmt.Errorf("%w: %v", docstore.ErrPermissionDenied, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return fmt.Errorf("%w: %v", docstore.ErrUnavailable, err)
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return fmt.Errorf("%w: %v", docstore.ErrInvalidArgument, err)
	case codes.Canceled:
		return fmt.Errorf("%v: %w", err, context.Canceled)
	}
	return err
}
