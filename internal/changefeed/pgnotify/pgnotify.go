// Package pgnotify transports change signals over Postgres LISTEN/NOTIFY so
// every process attached to the same database sees every write.
package pgnotify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/joncaseee/pdx-underground-app/internal/changefeed"
)

// Channel is the NOTIFY channel name.
const Channel = "pdxfeed_changes"

// Notifier publishes with pg_notify over a database/sql pool and receives
// on a dedicated pgx connection.
type Notifier struct {
	dsn string
	db  *sql.DB
	hub *changefeed.Hub
	log zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	conn *pgx.Conn
}

// New opens the listener connection and starts receiving. db is used for
// Notify and is not closed by Close.
func New(ctx context.Context, dsn string, db *sql.DB, log zerolog.Logger) (*Notifier, error) {
	n := &Notifier{dsn: dsn, db: db, hub: changefeed.NewHubFor("postgres"), log: log}
	conn, err := n.connect(ctx)
	if err != nil {
		return nil, err
	}
	n.conn = conn

	runCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.wg.Add(1)
	go n.run(runCtx)
	return n, nil
}

func (n *Notifier) connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, n.dsn)
	if err != nil {
		return nil, fmt.Errorf("pgnotify connect: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("pgnotify listen: %w", err)
	}
	return conn, nil
}

// Notify sends c through the database. Listeners, local ones included,
// receive it when Postgres delivers it back.
func (n *Notifier) Notify(ctx context.Context, c changefeed.Change) error {
	return NotifyTx(ctx, n.db, c)
}

// NotifyTx enqueues c on ex; see the package-level NotifyTx.
func (n *Notifier) NotifyTx(ctx context.Context, ex Execer, c changefeed.Change) error {
	return NotifyTx(ctx, ex, c)
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// NotifyTx queues c on ex. Inside a transaction Postgres holds the signal
// until commit and drops it on rollback.
func NotifyTx(ctx context.Context, ex Execer, c changefeed.Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if _, err := ex.ExecContext(ctx, "SELECT pg_notify($1, $2)", Channel, string(payload)); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

func (n *Notifier) Listen(fn func(changefeed.Change)) func() { return n.hub.Listen(fn) }

// Close stops the listener and drops every local listener.
func (n *Notifier) Close() error {
	n.cancel()
	n.wg.Wait()
	return n.hub.Close()
}

func (n *Notifier) run(ctx context.Context) {
	defer n.wg.Done()
	defer func() {
		n.mu.Lock()
		if n.conn != nil {
			_ = n.conn.Close(context.Background())
			n.conn = nil
		}
		n.mu.Unlock()
	}()

	for {
		n.mu.Lock()
		conn := n.conn
		n.mu.Unlock()

		msg, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			n.log.Warn().Err(err).Msg("pgnotify: connection lost, reconnecting")
			if !n.reconnect(ctx) {
				return
			}
			// Signals sent while disconnected are lost.
			n.hub.Dispatch(changefeed.Change{})
			continue
		}

		var c changefeed.Change
		if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
			n.log.Warn().Err(err).Str("payload", msg.Payload).Msg("pgnotify: bad payload, resyncing")
			c = changefeed.Change{}
		}
		n.hub.Dispatch(c)
	}
}

func (n *Notifier) reconnect(ctx context.Context) bool {
	n.mu.Lock()
	if n.conn != nil {
		_ = n.conn.Close(context.Background())
		n.conn = nil
	}
	n.mu.Unlock()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 100 * time.Millisecond
	exp.MaxInterval = 10 * time.Second
	exp.MaxElapsedTime = 0

	var conn *pgx.Conn
	err := backoff.Retry(func() error {
		c, err := n.connect(ctx)
		if err != nil {
			n.log.Debug().Err(err).Msg("pgnotify: reconnect attempt failed")
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(exp, ctx))
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			n.log.Error().Err(err).Msg("pgnotify: giving up reconnect")
		}
		return false
	}
	n.mu.Lock()
	n.conn = conn
	n.mu.Unlock()
	n.log.Info().Msg("pgnotify: reconnected")
	return true
}
