package team

import (
	"sync"
	"time"
)

// waiterClosed is the sentinel result delivered when a pending request
// is cancelled or times out
var waiterClosed = map[string]interface{}{"_cancelled": true}

// Waiters is a correlation-id registry for request/response exchanges
// over the bus: register under an id, resolve when the reply arrives,
// with a bounded timer closing abandoned waiters.
type Waiters struct {
	mu sync.Mutex
	m  map[string]chan map[string]interface{}
}

// NewWaiters returns an empty registry
func NewWaiters() *Waiters {
	return &Waiters{m: make(map[string]chan map[string]interface{})}
}

// Register opens a waiter under the correlation id. The returned channel
// receives exactly one result: the reply, or the cancellation sentinel
// when the timeout elapses first.
func (w *Waiters) Register(id string, timeout time.Duration) <-chan map[string]interface{} {
	ch := make(chan map[string]interface{}, 1)

	w.mu.Lock()
	w.m[id] = ch
	w.mu.Unlock()

	time.AfterFunc(timeout, func() { w.Cancel(id) })
	return ch
}

// Resolve delivers the reply to the waiter, if still registered
func (w *Waiters) Resolve(id string, result map[string]interface{}) {
	w.mu.Lock()
	ch, ok := w.m[id]
	delete(w.m, id)
	w.mu.Unlock()

	if ok {
		ch <- result
	}
}

// Cancel closes a pending waiter with the sentinel result. Cancelling a
// non-existent request is a no-op.
func (w *Waiters) Cancel(id string) {
	w.mu.Lock()
	ch, ok := w.m[id]
	delete(w.m, id)
	w.mu.Unlock()

	if ok {
		ch <- waiterClosed
	}
}

// Cancelled reports whether a waiter result is the cancellation sentinel
func Cancelled(result map[string]interface{}) bool {
	v, ok := result["_cancelled"].(bool)
	return ok && v
}
