// Package changefeed carries "document changed" signals between writers
// and live queries for stores without native push (the SQL driver). A
// signal names the document; listeners re-read whatever they need.
package changefeed

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrClosed is returned by Notify after Close.
var ErrClosed = errors.New("changefeed: closed")

var delivered = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pdxfeed",
	Subsystem: "changefeed",
	Name:      "delivered_total",
	Help:      "Change signals handed to listeners, by transport.",
}, []string{"transport"})

// Change identifies a written document. The zero Change is a resync: any
// document may have changed, typically after a transport reconnect.
type Change struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// Resync reports whether c is the catch-all signal.
func (c Change) Resync() bool { return c.Collection == "" }

// Notifier publishes changes and fans them out to local listeners.
// Listeners run on the delivering goroutine and must not block.
type Notifier interface {
	Notify(ctx context.Context, c Change) error
	Listen(fn func(Change)) (stop func())
	Close() error
}

// Hub is the in-process Notifier, and the local fan-out used by the
// networked transports.
type Hub struct {
	transport string

	mu        sync.RWMutex
	next      int
	listeners map[int]func(Change)
	closed    bool
}

// NewHub returns a hub labelled "local" in metrics.
func NewHub() *Hub { return NewHubFor("local") }

// NewHubFor returns a hub whose deliveries are labelled transport.
func NewHubFor(transport string) *Hub {
	return &Hub{transport: transport, listeners: make(map[int]func(Change))}
}

// Notify delivers c to every listener before returning.
func (h *Hub) Notify(ctx context.Context, c Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	h.Dispatch(c)
	return nil
}

// Dispatch hands c to the current listeners.
func (h *Hub) Dispatch(c Change) {
	h.mu.RLock()
	fns := make([]func(Change), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()
	for _, fn := range fns {
		fn(c)
	}
	delivered.WithLabelValues(h.transport).Add(float64(len(fns)))
}

func (h *Hub) Listen(fn func(Change)) func() {
	h.mu.Lock()
	id := h.next
	h.next++
	h.listeners[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

// Listeners is the number of registered listeners.
func (h *Hub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Close drops every listener.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	h.listeners = make(map[int]func(Change))
	h.mu.Unlock()
	return nil
}
