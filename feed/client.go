// Package feed is the event feed SDK. A Client bundles the document store,
// blob store and identity provider; a View is one live, locally cached
// feed with optimistic like and save toggles.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/joncaseee/pdx-underground-app/internal/blobstore"
	"github.com/joncaseee/pdx-underground-app/internal/docstore"
	"github.com/joncaseee/pdx-underground-app/internal/identity"
	"github.com/joncaseee/pdx-underground-app/internal/profilecache"
	"github.com/joncaseee/pdx-underground-app/internal/shardqueue"
)

// Executor runs toggle writes in FIFO order per key.
type Executor interface {
	Submit(ctx context.Context, key string, job shardqueue.Job) error
	Barrier(ctx context.Context, key string) error
	Stop()
}

type Client struct {
	store    docstore.Store
	blobs    blobstore.Store
	ident    identity.Provider
	exec     Executor
	execCfg  *shardqueue.Config
	ownsExec bool
	profiles *profilecache.Cache
	log      zerolog.Logger
	now      func() time.Time
	loc      *time.Location

	mu    sync.Mutex
	views map[*View]struct{}

	closed uint32
}

// New constructs a Client. The client does not own store, blobs or ident;
// callers close them after Close.
func New(store docstore.Store, blobs blobstore.Store, ident identity.Provider, opts ...Option) (*Client, error) {
	if store == nil || blobs == nil || ident == nil {
		return nil, fmt.Errorf("feed: store, blob store and identity provider are required")
	}
	c := &Client{
		store: store,
		blobs: blobs,
		ident: ident,
		log:   zerolog.Nop(),
		now:   time.Now,
		loc:   time.Local,
		views: make(map[*View]struct{}),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("feed: %w", err)
		}
	}
	if c.exec == nil {
		cfg := shardqueue.Config{Shards: 4, QueueSize: 256}
		if c.execCfg != nil {
			cfg = *c.execCfg
		}
		cfg.Logger = c.log
		c.exec = shardqueue.NewShardExecutor(cfg)
		c.ownsExec = true
	}
	if c.profiles == nil {
		c.profiles = profilecache.New(profilecache.StoreLoader(store), 512, 5*time.Minute,
			profilecache.WithLogger(c.log))
	}
	return c, nil
}

// Close closes every open view and stops the executor if the client
// created it. Safe to call multiple times.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return nil
	}
	c.mu.Lock()
	views := make([]*View, 0, len(c.views))
	for v := range c.views {
		views = append(views, v)
	}
	c.mu.Unlock()
	for _, v := range views {
		_ = v.Close()
	}
	if c.ownsExec {
		c.exec.Stop()
	}
	return nil
}

func (c *Client) isClosed() bool { return atomic.LoadUint32(&c.closed) == 1 }

// CurrentUserID returns the signed-in user, or "".
func (c *Client) CurrentUserID() string { return c.ident.CurrentUserID() }

// AwaitConsistency blocks until every like and save toggle submitted so
// far for (userID, eventID) has finished.
func (c *Client) AwaitConsistency(ctx context.Context, userID, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, k := range []string{kindLike, kindSave} {
		if err := c.exec.Barrier(ctx, toggleKey(k, userID, eventID)); err != nil {
			return mapSubmitErr(err)
		}
	}
	return nil
}

func (c *Client) requireUser() (string, error) {
	if c.isClosed() {
		return "", ErrClientClosed
	}
	uid := c.ident.CurrentUserID()
	if uid == "" {
		return "", ErrUnauthenticated
	}
	return uid, nil
}

func (c *Client) track(v *View) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return ErrClientClosed
	}
	c.views[v] = struct{}{}
	return nil
}

func (c *Client) untrack(v *View) {
	c.mu.Lock()
	delete(c.views, v)
	c.mu.Unlock()
}

func mapSubmitErr(err error) error {
	switch {
	case errors.Is(err, shardqueue.ErrQueueFull):
		return fmt.Errorf("%w: %v", ErrBackPressure, err)
	case errors.Is(err, shardqueue.ErrExecutorClosed):
		return ErrClientClosed
	}
	return err
}
