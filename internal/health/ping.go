package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Pinger returns nil when the component is reachable. docstore.Store
// satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker probes a Pinger on an interval.
type PingChecker struct {
	name         string
	target       Pinger
	healthy      atomic.Int32
	log          zerolog.Logger
	probeTimeout time.Duration
}

// NewPingChecker starts unhealthy until the first successful probe.
func NewPingChecker(name string, target Pinger, log zerolog.Logger, probeTimeout time.Duration) *PingChecker {
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}
	return &PingChecker{name: name, target: target, log: log, probeTimeout: probeTimeout}
}

func (hc *PingChecker) Name() string { return hc.name }

// IsHealthy returns the cached status.
func (hc *PingChecker) IsHealthy() bool { return hc.healthy.Load() == 1 }

// Start probes immediately and then every interval until ctx ends.
func (hc *PingChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	hc.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hc.Check(ctx)
		}
	}
}

// Check runs one probe and records the result.
func (hc *PingChecker) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, hc.probeTimeout)
	defer cancel()
	if err := hc.target.Ping(probeCtx); err != nil {
		if hc.healthy.Swap(0) == 1 {
			hc.log.Error().Stack().Str("checker", hc.name).Err(err).Msg("health check failed")
		}
		return false
	}
	hc.healthy.Store(1)
	return true
}
