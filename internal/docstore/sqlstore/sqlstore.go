// Package sqlstore keeps documents as JSON in a single SQL table. SQLite
// (modernc) serves the local build and Postgres (pgx) the cloud-dev build.
// Live queries re-read on change signals from a changefeed.Notifier.
package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/joncaseee/pdx-underground-app/internal/changefeed"
	"github.com/joncaseee/pdx-underground-app/internal/changefeed/pgnotify"
	"github.com/joncaseee/pdx-underground-app/internal/docstore"
)

// OpenSQLite opens (or creates) a database file with WAL enabled. A single
// connection serializes writers.
func OpenSQLite(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// OpenPostgres opens a pool using the pgx stdlib driver and verifies
// connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// txNotifier is implemented by notifiers that can enqueue a signal inside
// the writing transaction.
type txNotifier interface {
	NotifyTx(ctx context.Context, ex pgnotify.Execer, c changefeed.Change) error
}

type watcher struct {
	q     docstore.Query
	docID string
	feed  *docstore.Feed
	dirty chan struct{}
}

// Store implements docstore.Store.
type Store struct {
	db       *sql.DB
	d        Dialect
	notifier changefeed.Notifier
	log      zerolog.Logger

	stopListen func()
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	mu       sync.Mutex
	watchers map[*watcher]struct{}
	closed   bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Store) { s.log = l } }

// WithNotifier replaces the in-process hub. Use a networked notifier when
// several processes share the database.
func WithNotifier(n changefeed.Notifier) Option { return func(s *Store) { s.notifier = n } }

// New creates the schema if needed. The store owns db and the notifier and
// closes both.
func New(ctx context.Context, db *sql.DB, d Dialect, opts ...Option) (*Store, error) {
	if _, err := db.ExecContext(ctx, d.Schema); err != nil {
		return nil, fmt.Errorf("%s schema: %w", d.Name, mapErr(err))
	}
	s := &Store{
		db:       db,
		d:        d,
		log:      zerolog.Nop(),
		watchers: make(map[*watcher]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.notifier == nil {
		s.notifier = changefeed.NewHub()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.stopListen = s.notifier.Listen(s.onChange)
	return s, nil
}

// DB exposes the underlying pool for health checks and tooling.
func (s *Store) DB() *sql.DB { return s.db }

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, s.d.q(selectDocSQL), collection, id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return docstore.Document{}, fmt.Errorf("%s: %w", docstore.Key(collection, id), docstore.ErrNotFound)
		}
		return docstore.Document{}, mapErr(err)
	}
	fields, err := decodeBody(body)
	if err != nil {
		return docstore.Document{}, err
	}
	return docstore.Document{ID: id, Fields: fields}, nil
}

// Query filters in SQL and orders with docstore.Sort so every driver
// agrees on ordering.
func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	where := make([]filterArg, 0, len(q.Where))
	for _, f := range q.Where {
		if !docstore.ValidField(f.Field) {
			return nil, fmt.Errorf("%w: filter field %q", docstore.ErrInvalidArgument, f.Field)
		}
		where = append(where, filterArg{path: f.Field, value: f.Value})
	}
	query, args := s.d.queryFor(q.Collection, where)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	docs := []docstore.Document{}
	for rows.Next() {
		var (
			id   string
			body []byte
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, mapErr(err)
		}
		fields, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, docstore.Document{ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	docstore.Sort(docs, q)
	return docs, nil
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

func (s *Store) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	body, err := encodeBody(fields)
	if err != nil {
		return "", err
	}
	err = s.inTx(ctx, collection, id, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.d.q(insertDocSQL), collection, id, body)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error {
	return s.inTx(ctx, collection, id, func(tx *sql.Tx) error {
		next := docstore.Clone(fields)
		if merge {
			cur, err := s.lockOrCreate(ctx, tx, collection, id)
			if err != nil {
				return err
			}
			for k, v := range next {
				cur[k] = v
			}
			next = cur
		}
		return s.write(ctx, tx, collection, id, next)
	})
}

func (s *Store) Update(ctx context.Context, collection, id string, muts ...docstore.Mutation) error {
	if err := docstore.ValidateMutations(muts); err != nil {
		return err
	}
	return s.inTx(ctx, collection, id, func(tx *sql.Tx) error {
		cur, err := s.lock(ctx, tx, collection, id)
		if err != nil {
			return err
		}
		if err := docstore.Apply(cur, muts...); err != nil {
			return err
		}
		return s.write(ctx, tx, collection, id, cur)
	})
}

func (s *Store) UpdateIf(ctx context.Context, collection, id string, cond docstore.Condition, muts ...docstore.Mutation) (bool, error) {
	if err := docstore.ValidateMutations(muts); err != nil {
		return false, err
	}
	applied := false
	err := s.inTx(ctx, collection, id, func(tx *sql.Tx) error {
		cur, err := s.lock(ctx, tx, collection, id)
		if err != nil {
			return err
		}
		if !docstore.Holds(cur, cond) {
			return errSkip
		}
		if err := docstore.Apply(cur, muts...); err != nil {
			return err
		}
		applied = true
		return s.write(ctx, tx, collection, id, cur)
	})
	if errors.Is(err, errSkip) {
		return false, nil
	}
	return applied, err
}

func (s *Store) Upsert(ctx context.Context, collection, id string, muts ...docstore.Mutation) error {
	if err := docstore.ValidateMutations(muts); err != nil {
		return err
	}
	return s.inTx(ctx, collection, id, func(tx *sql.Tx) error {
		cur, err := s.lockOrCreate(ctx, tx, collection, id)
		if err != nil {
			return err
		}
		if err := docstore.Apply(cur, muts...); err != nil {
			return err
		}
		return s.write(ctx, tx, collection, id, cur)
	})
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.inTx(ctx, collection, id, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.d.q(deleteDocSQL), collection, id)
		return err
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return mapErr(s.db.PingContext(ctx))
}

// Close ends every subscription and releases the notifier and database.
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

	s.stopListen()
	s.cancel()
	for _, f := range feeds {
		_ = f.Close()
	}
	s.wg.Wait()
	nerr := s.notifier.Close()
	derr := s.db.Close()
	return errors.Join(nerr, derr)
}

type skipError struct{}

func (skipError) Error() string { return "condition not met" }

var errSkip error = skipError{}

// inTx runs fn in a transaction and signals the change. Notifiers that
// support it enqueue the signal inside the transaction; others are told
// after commit.
func (s *Store) inTx(ctx context.Context, collection, id string, fn func(tx *sql.Tx) error) error {
	if s.isClosed() {
		return docstore.ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		if errors.Is(err, errSkip) || errors.Is(err, docstore.ErrNotFound) || errors.Is(err, docstore.ErrInvalidArgument) {
			return err
		}
		return mapErr(err)
	}

	change := changefeed.Change{Collection: collection, ID: id}
	tn, transactional := s.notifier.(txNotifier)
	if transactional {
		if err := tn.NotifyTx(ctx, tx, change); err != nil {
			return mapErr(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return mapErr(err)
	}
	if !transactional {
		if err := s.notifier.Notify(ctx, change); err != nil {
			s.log.Warn().Err(err).Str("doc", docstore.Key(collection, id)).Msg("sqlstore: change signal failed")
		}
	}
	return nil
}

// lock reads the current body, holding a row lock where the dialect has one.
func (s *Store) lock(ctx context.Context, tx *sql.Tx, collection, id string) (map[string]any, error) {
	var body []byte
	err := tx.QueryRowContext(ctx, s.d.q(selectDocSQL+s.d.ForUpdate), collection, id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", docstore.Key(collection, id), docstore.ErrNotFound)
		}
		return nil, err
	}
	return decodeBody(body)
}

// lockOrCreate inserts an empty document first so concurrent upserts of a
// missing document serialize on the same row.
func (s *Store) lockOrCreate(ctx context.Context, tx *sql.Tx, collection, id string) (map[string]any, error) {
	if _, err := tx.ExecContext(ctx, s.d.q(insertEmptyDocSQL), collection, id); err != nil {
		return nil, err
	}
	return s.lock(ctx, tx, collection, id)
}

func (s *Store) write(ctx context.Context, tx *sql.Tx, collection, id string, fields map[string]any) error {
	body, err := encodeBody(fields)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.d.q(upsertDocSQL), collection, id, body)
	return err
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func encodeBody(fields map[string]any) (string, error) {
	b, err := json.Marshal(docstore.Clone(fields))
	if err != nil {
		return "", fmt.Errorf("%w: encode body: %v", docstore.ErrInvalidArgument, err)
	}
	return string(b), nil
}

func decodeBody(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return docstore.Clone(fields), nil
}
