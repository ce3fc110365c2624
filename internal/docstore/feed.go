package docstore

import "sync"

// Feed is the Subscription plumbing shared by drivers: a single-slot
// channel where a newer snapshot replaces an undelivered one.
type Feed struct {
	mu     sync.Mutex
	ch     chan Snapshot
	closed bool
	done   chan struct{}
	stop   func()
}

// NewFeed returns a feed. stop is called once on Close to release the
// driver-side watcher.
func NewFeed(stop func()) *Feed {
	return &Feed{ch: make(chan Snapshot, 1), done: make(chan struct{}), stop: stop}
}

// C implements Subscription.
func (f *Feed) C() <-chan Snapshot { return f.ch }

// Done is closed when the feed closes.
func (f *Feed) Done() <-chan struct{} { return f.done }

// Push delivers s, replacing any snapshot the reader has not taken yet.
// It reports false once the feed is closed.
func (f *Feed) Push(s Snapshot) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	select {
	case <-f.ch:
	default:
	}
	f.ch <- s
	return true
}

// Fail delivers an error snapshot and closes the feed. A pending data
// snapshot is discarded so the error is never lost.
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	select {
	case <-f.ch:
	default:
	}
	f.ch <- Snapshot{Err: err}
	f.closed = true
	close(f.ch)
	close(f.done)
	stop := f.stop
	f.stop = nil
	f.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Closed reports whether Close or Fail has run.
func (f *Feed) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Close implements Subscription. It is idempotent.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.ch)
	close(f.done)
	stop := f.stop
	f.stop = nil
	f.mu.Unlock()
	if stop != nil {
		stop()
	}
	return nil
}
