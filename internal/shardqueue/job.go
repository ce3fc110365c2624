package shardqueue

import (
	"context"
	"sync"
)

// Job is a unit of work executed by a ShardExecutor.
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a function to a Job.
type JobFunc func(ctx context.Context) error

// Run implements Job.
func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

// Completer is implemented by jobs that want the final outcome after all
// retries, cancellation, or drain at shutdown.
type Completer interface {
	Complete(err error)
}

// Task is a Job whose final outcome can be awaited.
type Task struct {
	fn   func(ctx context.Context) error
	once sync.Once
	done chan struct{}
	err  error
}

// NewTask wraps fn.
func NewTask(fn func(ctx context.Context) error) *Task {
	return &Task{fn: fn, done: make(chan struct{})}
}

// Run implements Job.
func (t *Task) Run(ctx context.Context) error { return t.fn(ctx) }

// Complete implements Completer. Only the first call has an effect.
func (t *Task) Complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Done is closed once the task has completed.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task completes or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
