package recovery

import (
	"sync"
	"time"
)

// ExecutionMonitor bounds one invocation with a single-shot timer. The
// timeout callback fires at most once; Cancel is idempotent and a
// post-fire Cancel is a no-op.
type ExecutionMonitor struct {
	mu        sync.Mutex
	timer     *time.Timer
	fired     bool
	cancelled bool
}

// NewExecutionMonitor arms a timer that invokes onTimeout after d
func NewExecutionMonitor(d time.Duration, onTimeout func()) *ExecutionMonitor {
	m := &ExecutionMonitor{}
	m.timer = time.AfterFunc(d, func() {
		m.mu.Lock()
		if m.cancelled {
			m.mu.Unlock()
			return
		}
		m.fired = true
		m.mu.Unlock()
		onTimeout()
	})
	return m
}

// Cancel disarms the monitor. Safe to call repeatedly and after firing.
func (m *ExecutionMonitor) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelled {
		return
	}
	m.cancelled = true
	m.timer.Stop()
}

// Fired reports whether the timeout callback ran
func (m *ExecutionMonitor) Fired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fired
}
