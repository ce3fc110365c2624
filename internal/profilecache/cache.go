// Package profilecache bounds organizer-profile reads made while joining
// profile pictures onto events. Lookups are cached with a TTL, concurrent
// misses for the same user share one read, and a batch fans out with a
// concurrency limit.
package profilecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/joncaseee/pdx-underground-app/internal/docstore"
	"github.com/joncaseee/pdx-underground-app/internal/model"
)

var (
	lookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pdxfeed",
		Subsystem: "profile_cache",
		Name:      "lookups_total",
		Help:      "Profile lookups by result (hit, miss, error).",
	}, []string{"result"})
)

// Loader reads one profile. It returns docstore.ErrNotFound when the user
// has no profile.
type Loader func(ctx context.Context, userID string) (model.Profile, error)

type entry struct {
	profile model.Profile
	found   bool
}

// Cache is safe for concurrent use.
type Cache struct {
	load        Loader
	lru         *expirable.LRU[string, entry]
	group       singleflight.Group
	concurrency int
	log         zerolog.Logger

	// generation guards against a load that started before Invalidate
	// repopulating the cache with stale data.
	mu  sync.Mutex
	gen map[string]uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithConcurrency caps parallel reads in GetMany. Default 8.
func WithConcurrency(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithLogger sets the logger for lookup failures.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// New returns a cache holding at most size entries for ttl each.
func New(load Loader, size int, ttl time.Duration, opts ...Option) *Cache {
	if size <= 0 {
		size = 512
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &Cache{
		load:        load,
		lru:         expirable.NewLRU[string, entry](size, nil, ttl),
		concurrency: 8,
		log:         zerolog.Nop(),
		gen:         make(map[string]uint64),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// StoreLoader reads profiles from the userProfiles collection.
func StoreLoader(store docstore.Store) Loader {
	return func(ctx context.Context, userID string) (model.Profile, error) {
		doc, err := store.Get(ctx, model.CollectionProfiles, userID)
		if err != nil {
			return model.Profile{}, err
		}
		return model.DecodeProfile(userID, doc.Fields)
	}
}

// Get returns the profile for userID. found is false when the user has no
// profile; that outcome is cached too.
func (c *Cache) Get(ctx context.Context, userID string) (p model.Profile, found bool, err error) {
	if e, ok := c.lru.Get(userID); ok {
		lookups.WithLabelValues("hit").Inc()
		return e.profile, e.found, nil
	}
	lookups.WithLabelValues("miss").Inc()

	gen := c.generation(userID)
	v, err, _ := c.group.Do(userID, func() (interface{}, error) {
		p, err := c.load(ctx, userID)
		switch {
		case err == nil:
			return entry{profile: p, found: true}, nil
		case errors.Is(err, docstore.ErrNotFound):
			return entry{}, nil
		default:
			return nil, err
		}
	})
	if err != nil {
		lookups.WithLabelValues("error").Inc()
		return model.Profile{}, false, fmt.Errorf("load profile %s: %w", userID, err)
	}
	e := v.(entry)
	if c.generation(userID) == gen {
		c.lru.Add(userID, e)
	}
	return e.profile, e.found, nil
}

// GetMany resolves every distinct id in userIDs. Users without a profile
// are absent from the result. Failed lookups are logged and skipped; the
// returned error joins them so callers can decide whether to care.
func (c *Cache) GetMany(ctx context.Context, userIDs []string) (map[string]model.Profile, error) {
	out := make(map[string]model.Profile, len(userIDs))
	var (
		mu   sync.Mutex
		errs []error
	)
	seen := make(map[string]bool, len(userIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, id := range userIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		id := id
		g.Go(func() error {
			p, found, err := c.Get(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.log.Warn().Err(err).Str("user_id", id).Msg("profile lookup failed")
				errs = append(errs, err)
				return nil
			}
			if found {
				out[id] = p
			}
			return nil
		})
	}
	_ = g.Wait()
	return out, errors.Join(errs...)
}

// Put stores p directly, e.g. after the caller wrote it.
func (c *Cache) Put(p model.Profile) {
	c.bump(p.UserID)
	c.lru.Add(p.UserID, entry{profile: p, found: true})
}

// Invalidate drops any cached entry for userID.
func (c *Cache) Invalidate(userID string) {
	c.bump(userID)
	c.lru.Remove(userID)
}

// Len is the number of live entries.
func (c *Cache) Len() int { return c.lru.Len() }

func (c *Cache) generation(userID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[userID]
}

func (c *Cache) bump(userID string) {
	c.mu.Lock()
	c.gen[userID]++
	c.mu.Unlock()
}
