package feed

// Functional options for New. Each one validates its argument so a
// misconfigured client fails at construction instead of at first use.

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/joncaseee/pdx-underground-app/internal/profilecache"
	"github.com/joncaseee/pdx-underground-app/internal/shardqueue"
)

// Option configures a Client during construction in New.
type Option func(*Client) error

// WithLogger sets the logger used for every surfaced failure.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) error {
		c.log = l
		return nil
	}
}

// WithExecutor replaces the toggle executor. The client does not stop an
// executor it did not create.
func WithExecutor(e Executor) Option {
	return func(c *Client) error {
		if e == nil {
			return fmt.Errorf("executor must not be nil")
		}
		c.exec = e
		return nil
	}
}

// WithExecutorConfig configures the executor the client creates and owns.
func WithExecutorConfig(cfg shardqueue.Config) Option {
	return func(c *Client) error {
		if cfg.Shards < 0 || cfg.QueueSize < 0 {
			return fmt.Errorf("executor shards and queue size must be >= 0")
		}
		c.execCfg = &cfg
		return nil
	}
}

// WithProfileCache replaces the organizer profile cache.
func WithProfileCache(pc *profilecache.Cache) Option {
	return func(c *Client) error {
		if pc == nil {
			return fmt.Errorf("profile cache must not be nil")
		}
		c.profiles = pc
		return nil
	}
}

// WithClock overrides time.Now, which views use to capture "now" and new
// events use for createdAt and image paths.
func WithClock(now func() time.Time) Option {
	return func(c *Client) error {
		if now == nil {
			return fmt.Errorf("clock must not be nil")
		}
		c.now = now
		return nil
	}
}

// WithLocation sets the zone zone-less event dateTimes are read in.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) error {
		if loc == nil {
			return fmt.Errorf("location must not be nil")
		}
		c.loc = loc
		return nil
	}
}
