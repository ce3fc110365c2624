// Package shardqueue provides a lightweight sharded work-queue that
// guarantees FIFO order per key while allowing parallelism across shards.
//
// The feed uses one key per (intent kind, user, event), so two toggles of
// the same like or save never overlap while unrelated toggles proceed in
// parallel.
package shardqueue

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/joncaseee/pdx-underground-app/internal/errors"
)

type queuedJob struct {
	ctx context.Context
	job Job
}

// ShardExecutor executes Jobs on worker goroutines partitioned by a stable
// hash of the key. FIFO ordering is preserved within a shard; jobs with
// different keys may run in parallel.
type ShardExecutor struct {
	cfg    Config
	queues []chan queuedJob
	done   chan struct{}
	closed uint32

	wg sync.WaitGroup
}

// NewShardExecutor constructs the executor and starts its shard workers.
func NewShardExecutor(cfg Config) *ShardExecutor {
	cfg = cfg.withDefaults()
	p := &ShardExecutor{
		cfg:    cfg,
		queues: make([]chan queuedJob, cfg.Shards),
		done:   make(chan struct{}),
	}
	for i := 0; i < cfg.Shards; i++ {
		ch := make(chan queuedJob, cfg.QueueSize)
		p.queues[i] = ch
		p.wg.Add(1)
		go p.runWorker(i, ch)
	}
	return p
}

// Submit enqueues job for the shard derived from key.
//
//   - Returns nil on success.
//   - Returns ErrExecutorClosed if the executor is stopped.
//   - Returns *QueueFullError (matching ErrQueueFull) if the shard is still
//     full after EnqueueTimeout.
//   - Returns ctx.Err() if ctx is cancelled first.
func (p *ShardExecutor) Submit(ctx context.Context, key string, job Job) error {
	if atomic.LoadUint32(&p.closed) == 1 {
		return ErrExecutorClosed
	}
	select {
	case <-p.done:
		return ErrExecutorClosed
	default:
	}

	shard := p.shardFor(key)
	ch := p.queues[shard]

	timer := time.NewTimer(p.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case ch <- queuedJob{ctx: ctx, job: job}:
		submissionsTotal.WithLabelValues(labelFor(shard)).Inc()
		return nil
	case <-p.done:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		queueFullTotal.WithLabelValues(labelFor(shard)).Inc()
		return &QueueFullError{Shard: shard, Length: len(ch), Capacity: cap(ch)}
	}
}

// Barrier enqueues a no-op job on the shard for key and waits until it
// runs, so every job submitted earlier for that key has finished.
func (p *ShardExecutor) Barrier(ctx context.Context, key string) error {
	done := make(chan struct{})
	j := JobFunc(func(context.Context) error {
		close(done)
		return nil
	})
	if err := p.Submit(ctx, key, j); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Stop lets every worker drain its queue, waits for them, and returns.
// It is idempotent and safe for concurrent use.
func (p *ShardExecutor) Stop() {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return
	}
	p.cfg.Logger.Debug().Int("shards", p.cfg.Shards).Msg("shardqueue: stopping executor")
	close(p.done)
	p.wg.Wait()
	p.cfg.Logger.Debug().Msg("shardqueue: executor stopped, all queues drained")
}

// Close lets ShardExecutor satisfy io.Closer.
func (p *ShardExecutor) Close() error {
	p.Stop()
	return nil
}

// ------------------------- internals -------------------------

func (p *ShardExecutor) runWorker(idx int, ch <-chan queuedJob) {
	defer p.wg.Done()
	label := labelFor(idx)

	for {
		select {
		case qj := <-ch:
			p.process(label, qj)
			queueDepth.WithLabelValues(label).Set(float64(len(ch)))
		case <-p.done:
			drained := 0
			for {
				select {
				case qj := <-ch:
					if qj.job != nil {
						err := p.runOnce(label, qj)
						complete(qj.job, err)
						drained++
					}
				default:
					if drained > 0 {
						p.cfg.Logger.Debug().Int("worker", idx).Int("drained", drained).Msg("shardqueue: drained remaining jobs")
					}
					queueDepth.WithLabelValues(label).Set(0)
					return
				}
			}
		}
	}
}

// process runs one job with retries and reports the final outcome to the
// job if it implements Completer.
func (p *ShardExecutor) process(label string, qj queuedJob) {
	if qj.job == nil {
		return
	}
	// Honour caller context so a cancelled job doesn't stall the shard.
	if err := qj.ctx.Err(); err != nil {
		p.safeHandleError(err)
		complete(qj.job, err)
		return
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.cfg.BaseBackoff
	exp.Multiplier = 2
	exp.MaxInterval = p.cfg.MaxInterval
	exp.Reset()

	var err error
	for attempt := 1; ; attempt++ {
		err = p.runOnce(label, qj)
		if err == nil || errors.IsIrrecoverable(err) || attempt >= p.cfg.MaxAttempts {
			break
		}
		retriesTotal.WithLabelValues(label).Inc()
		wait := exp.NextBackOff()
		select {
		case <-time.After(wait):
			continue
		case <-p.done:
		case <-qj.ctx.Done():
			err = qj.ctx.Err()
		}
		break
	}
	if err != nil {
		p.safeHandleError(err)
	}
	complete(qj.job, err)
}

// runOnce executes a single attempt. A panicking job fails that attempt
// irrecoverably instead of taking the worker down.
func (p *ShardExecutor) runOnce(label string, qj queuedJob) (err error) {
	start := time.Now()
	defer func() {
		runDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			p.cfg.Logger.Error().Interface("panic", r).Msg("shardqueue: job panic")
			err = errors.Classify("job", fmt.Errorf("%w: %v", ErrJobPanic, r))
		}
	}()
	return qj.job.Run(qj.ctx)
}

func (p *ShardExecutor) safeHandleError(err error) {
	if err == nil || p.cfg.ErrorHandler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.cfg.Logger.Error().Interface("panic", r).Msg("shardqueue: error handler panic")
		}
	}()
	p.cfg.ErrorHandler(err)
}

func (p *ShardExecutor) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.cfg.Shards))
}

func complete(j Job, err error) {
	if c, ok := j.(Completer); ok {
		c.Complete(err)
	}
}
