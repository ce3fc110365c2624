// Package docstore defines the document store the feed synchronizes
// against. Drivers live under internal/docstore/<driver>/ and share the
// mutation semantics implemented in this package.
package docstore

import (
	"context"
)

// Document is a single record. Fields hold driver-normalised values:
// integers as int64, sets as []any, strings as string.
type Document struct {
	ID     string
	Fields map[string]any
}

// Direction orders query results.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// Filter is an equality predicate on a top-level field.
type Filter struct {
	Field string
	Value string
}

// Query selects documents from one collection.
type Query struct {
	Collection string
	Where      []Filter
	OrderBy    string
	Direction  Direction
}

// Snapshot is one full delivery of a live query. Err is set when the
// subscription failed; no further snapshots follow an error.
type Snapshot struct {
	Docs []Document
	Err  error
}

// Subscription is a live query. C delivers the initial result and one full
// snapshot after every change to a matching document. Undelivered
// snapshots are replaced by newer ones, so a slow reader only ever sees the
// latest state. C is closed after Close or after an error snapshot.
type Subscription interface {
	C() <-chan Snapshot
	Close() error
}

// Store exposes the document operations required by the feed.
type Store interface {
	// Subscribe opens a live query.
	Subscribe(ctx context.Context, q Query) (Subscription, error)
	// SubscribeDoc watches one document; snapshots carry zero or one doc.
	SubscribeDoc(ctx context.Context, collection, id string) (Subscription, error)

	Query(ctx context.Context, q Query) ([]Document, error)
	// Get returns ErrNotFound when the document does not exist.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Create stores a new document under a store-assigned id.
	Create(ctx context.Context, collection string, fields map[string]any) (string, error)
	// Set writes fields. With merge, unspecified fields are kept and the
	// document is created if missing; without merge it is replaced.
	Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error
	// Update applies mutations atomically. ErrNotFound if missing.
	Update(ctx context.Context, collection, id string, muts ...Mutation) error
	// UpdateIf applies mutations atomically only when cond holds against the
	// current document. It reports whether they were applied.
	UpdateIf(ctx context.Context, collection, id string, cond Condition, muts ...Mutation) (bool, error)
	// Upsert applies mutations, creating an empty document first if needed.
	Upsert(ctx context.Context, collection, id string, muts ...Mutation) error
	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error

	Ping(ctx context.Context) error
	Close() error
}
