package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joncaseee/pdx-underground-app/internal/blobstore"
	"github.com/joncaseee/pdx-underground-app/internal/docstore"
	"github.com/joncaseee/pdx-underground-app/internal/docstore/memstore"
	"github.com/joncaseee/pdx-underground-app/internal/identity"
	"github.com/joncaseee/pdx-underground-app/internal/model"
	"github.com/joncaseee/pdx-underground-app/internal/shardqueue"
)

var testNow = time.Date(2031, 6, 1, 20, 0, 0, 0, time.UTC)

type harness struct {
	client *Client
	store  *memstore.Store
	blobs  *blobstore.Memory
	auth   *identity.Session
}

func newHarness(t *testing.T, uid string, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store: memstore.New(),
		blobs: blobstore.NewMemory(),
		auth:  identity.NewSession(uid),
	}
	opts = append([]Option{
		WithClock(func() time.Time { return testNow }),
		WithLocation(time.UTC),
	}, opts...)
	c, err := New(h.store, h.blobs, h.auth, opts...)
	require.NoError(t, err)
	h.client = c
	t.Cleanup(func() {
		_ = c.Close()
		_ = h.store.Close()
	})
	return h
}

// seed writes an event directly to the store, bypassing CreateEvent.
func (h *harness) seed(t *testing.T, e model.Event) string {
	t.Helper()
	if e.LikedBy == nil {
		e.LikedBy = []string{}
	}
	id, err := h.store.Create(context.Background(), model.CollectionEvents, model.EventFields(e))
	require.NoError(t, err)
	return id
}

func (h *harness) event(t *testing.T, id string) model.Event {
	t.Helper()
	e, err := h.client.GetEvent(context.Background(), id)
	require.NoError(t, err)
	return e
}

func (h *harness) subscribe(t *testing.T, uid string, opts ...SubscribeOption) *View {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := h.client.Subscribe(ctx, uid, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

// waitFor returns the first snapshot, current or pushed, accepted by pred.
func waitFor(t *testing.T, v *View, pred func(Snapshot) bool) Snapshot {
	t.Helper()
	if s := v.Snapshot(); pred(s) {
		return s
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-v.Updates():
			require.True(t, ok, "view closed while waiting")
			// Re-read so a coalesced update is never missed.
			if s := v.Snapshot(); pred(s) {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot; last: %+v", v.Snapshot())
			return Snapshot{}
		}
	}
}

func ids(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

// gatedExecutor holds every job until the gate is closed.
type gatedExecutor struct {
	*shardqueue.ShardExecutor
	gate chan struct{}
}

func newGatedExecutor(t *testing.T) *gatedExecutor {
	t.Helper()
	e := &gatedExecutor{
		ShardExecutor: shardqueue.NewShardExecutor(shardqueue.Config{Shards: 2, QueueSize: 16, MaxAttempts: 1}),
		gate:          make(chan struct{}),
	}
	t.Cleanup(e.Stop)
	return e
}

func (e *gatedExecutor) open() { close(e.gate) }

func (e *gatedExecutor) Submit(ctx context.Context, key string, job shardqueue.Job) error {
	return e.ShardExecutor.Submit(ctx, key, gatedJob{Job: job, gate: e.gate})
}

type gatedJob struct {
	shardqueue.Job
	gate <-chan struct{}
}

func (g gatedJob) Run(ctx context.Context) error {
	<-g.gate
	return g.Job.Run(ctx)
}

func (g gatedJob) Complete(err error) {
	if c, ok := g.Job.(shardqueue.Completer); ok {
		c.Complete(err)
	}
}

// heldExecutor runs jobs right away but withholds their completion until
// release is called.
type heldExecutor struct {
	*shardqueue.ShardExecutor
	gate chan struct{}
	once sync.Once
}

func newHeldExecutor(t *testing.T) *heldExecutor {
	t.Helper()
	e := &heldExecutor{
		ShardExecutor: shardqueue.NewShardExecutor(shardqueue.Config{Shards: 2, QueueSize: 16, MaxAttempts: 1}),
		gate:          make(chan struct{}),
	}
	t.Cleanup(func() {
		e.release()
		e.Stop()
	})
	return e
}

func (e *heldExecutor) release() { e.once.Do(func() { close(e.gate) }) }

func (e *heldExecutor) Submit(ctx context.Context, key string, job shardqueue.Job) error {
	return e.ShardExecutor.Submit(ctx, key, heldJob{Job: job, gate: e.gate})
}

type heldJob struct {
	shardqueue.Job
	gate <-chan struct{}
}

func (h heldJob) Complete(err error) {
	<-h.gate
	if c, ok := h.Job.(shardqueue.Completer); ok {
		c.Complete(err)
	}
}

// stallingStore answers the next armed Query with the documents as they were
// when the call arrived, after the test lets it return.
type stallingStore struct {
	*memstore.Store
	armed   atomic.Bool
	entered chan struct{}
	proceed chan struct{}
}

func (s *stallingStore) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	docs, err := s.Store.Query(ctx, q)
	if s.armed.CompareAndSwap(true, false) {
		close(s.entered)
		<-s.proceed
	}
	return docs, err
}

// flakyStore lets a test fail the live event subscriptions it handed out.
type flakyStore struct {
	*memstore.Store
	subs chan *docstore.Feed
}

func (f *flakyStore) Subscribe(ctx context.Context, q docstore.Query) (docstore.Subscription, error) {
	sub, err := f.Store.Subscribe(ctx, q)
	if err == nil {
		f.subs <- sub.(*docstore.Feed)
	}
	return sub, err
}
