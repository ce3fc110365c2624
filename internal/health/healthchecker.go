// Package health tracks whether the backends a feed client depends on are
// reachable. Checkers probe in the background and expose a cached flag.
package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// HealthChecker is implemented by component-level checkers.
type HealthChecker interface {
	Name() string
	IsHealthy() bool
	Start(ctx context.Context, interval time.Duration)
}

// ServiceHealthChecker aggregates component checkers into a single flag.
type ServiceHealthChecker struct {
	healthy atomic.Int32
	deps    []HealthChecker
	log     zerolog.Logger
}

func NewServiceHealthChecker(log zerolog.Logger, deps ...HealthChecker) *ServiceHealthChecker {
	return &ServiceHealthChecker{deps: deps, log: log}
}

// IsHealthy returns cached service health.
func (h *ServiceHealthChecker) IsHealthy() bool { return h.healthy.Load() == 1 }

// Unhealthy lists the names of dependencies currently failing.
func (h *ServiceHealthChecker) Unhealthy() []string {
	var out []string
	for _, c := range h.deps {
		if !c.IsHealthy() {
			out = append(out, c.Name())
		}
	}
	return out
}

// Start runs every dependency checker and re-evaluates the service flag
// each interval until ctx ends.
func (h *ServiceHealthChecker) Start(ctx context.Context, interval time.Duration) {
	for _, c := range h.deps {
		go c.Start(ctx, interval)
	}
	h.watch(ctx, interval)
}

// watch evaluates the flag without starting dependencies.
func (h *ServiceHealthChecker) watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := int32(0)
	eval := func() {
		cur := int32(1)
		for _, c := range h.deps {
			if !c.IsHealthy() {
				cur = 0
			}
		}
		h.healthy.Store(cur)
		if cur != prev {
			if cur == 1 {
				h.log.Info().Msg("service health: UP")
			} else {
				h.log.Error().Strs("failing", h.Unhealthy()).Msg("service health: DOWN")
			}
			prev = cur
		}
	}

	eval()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eval()
		}
	}
}
