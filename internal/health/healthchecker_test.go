package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/joncaseee/pdx-underground-app/internal/docstore/memstore"
)

type fakeChecker struct {
	name    string
	healthy atomic.Int32
}

func (f *fakeChecker) Name() string                               { return f.name }
func (f *fakeChecker) IsHealthy() bool                            { return f.healthy.Load() == 1 }
func (f *fakeChecker) Start(ctx context.Context, _ time.Duration) {}

func TestServiceHealthChecker_Transitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := &fakeChecker{name: "a"}
	b := &fakeChecker{name: "b"}
	a.healthy.Store(1)
	b.healthy.Store(1)

	svc := NewServiceHealthChecker(zerolog.Nop(), a, b)
	go svc.Start(ctx, 10*time.Millisecond)

	waitTrue(t, func() bool { return svc.IsHealthy() })

	b.healthy.Store(0)
	waitTrue(t, func() bool { return !svc.IsHealthy() })
	if got := svc.Unhealthy(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("unexpected unhealthy list %v", got)
	}

	b.healthy.Store(1)
	waitTrue(t, func() bool { return svc.IsHealthy() })
}

type flakyPinger struct{ fail atomic.Bool }

func (p *flakyPinger) Ping(ctx context.Context) error {
	if p.fail.Load() {
		return errors.New("unreachable")
	}
	return ctx.Err()
}

func TestPingChecker(t *testing.T) {
	p := &flakyPinger{}
	hc := NewPingChecker("docstore", p, zerolog.Nop(), 0)
	if hc.IsHealthy() {
		t.Fatal("checker must start unhealthy")
	}
	if !hc.Check(context.Background()) || !hc.IsHealthy() {
		t.Fatal("expected healthy after successful probe")
	}
	p.fail.Store(true)
	if hc.Check(context.Background()) || hc.IsHealthy() {
		t.Fatal("expected unhealthy after failed probe")
	}
}

func TestPingChecker_ClosedStore(t *testing.T) {
	store := memstore.New()
	hc := NewPingChecker("docstore", store, zerolog.Nop(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hc.Start(ctx, 10*time.Millisecond)

	waitTrue(t, hc.IsHealthy)
	_ = store.Close()
	waitTrue(t, func() bool { return !hc.IsHealthy() })
}

func waitTrue(t *testing.T, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout")
}
