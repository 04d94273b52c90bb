// Package clock provides the heartbeat clock that drives the kernel.
// The clock is the sole source of logical time: every timeout and every
// scheduling decision in the runtime is expressed in ticks, never in
// wall-clock durations.
package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultInterval is the default heartbeat interval
const DefaultInterval = 4000 * time.Millisecond

// Listener receives tick events. Listeners run synchronously in
// registration order on the clock goroutine; a listener must not block
// beyond its share of the tick budget.
type Listener func(tick int64) error

// Clock emits monotonically increasing tick events at a fixed interval
type Clock struct {
	interval time.Duration
	log      zerolog.Logger

	mu        sync.Mutex
	listeners []namedListener
	running   bool
	tick      int64
	startedAt time.Time
	stopCh    chan struct{}
	doneCh    chan struct{}

	errCh chan error
}

type namedListener struct {
	name string
	fn   Listener
}

// New creates a stopped clock with the given interval.
// A non-positive interval falls back to DefaultInterval.
func New(interval time.Duration) *Clock {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Clock{
		interval: interval,
		log:      log.With().Str("component", "clock").Logger(),
		errCh:    make(chan error, 64),
	}
}

// Register adds a listener. Listeners are invoked in registration order
// on every tick. Registration while running takes effect on the next tick.
func (c *Clock) Register(name string, fn Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, namedListener{name: name, fn: fn})
	c.log.Debug().Str("listener", name).Int("total", len(c.listeners)).Msg("Listener registered")
}

// Start begins emitting ticks. Tick numbering restarts at 0 on every
// start. Starting a running clock fails.
func (c *Clock) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("clock already running")
	}

	c.running = true
	c.tick = 0
	c.startedAt = time.Now()
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	go c.run(c.stopCh, c.doneCh)

	c.log.Info().Dur("interval", c.interval).Msg("Clock started")
	return nil
}

// Stop halts tick emission and waits for the in-flight tick to finish.
// Stopping a stopped clock is a no-op.
func (c *Clock) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	stopCh, doneCh := c.stopCh, c.doneCh
	c.mu.Unlock()

	close(stopCh)
	<-doneCh
	c.log.Info().Int64("final_tick", c.CurrentTick()).Msg("Clock stopped")
}

func (c *Clock) run(stopCh chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			c.fire()
		}
	}
}

// fire dispatches one tick to every listener. A failing or panicking
// listener never prevents the remaining listeners from running; its
// error is pushed onto the error channel and otherwise swallowed.
func (c *Clock) fire() {
	c.mu.Lock()
	tick := c.tick
	c.tick++
	listeners := make([]namedListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		c.invoke(tick, l)
	}
}

func (c *Clock) invoke(tick int64, l namedListener) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("listener %s panicked on tick %d: %v", l.name, tick, r)
			c.log.Error().Str("listener", l.name).Int64("tick", tick).Interface("panic", r).Msg("Listener panicked")
			c.reportError(err)
		}
	}()

	if err := l.fn(tick); err != nil {
		c.log.Warn().Err(err).Str("listener", l.name).Int64("tick", tick).Msg("Listener error")
		c.reportError(fmt.Errorf("listener %s failed on tick %d: %w", l.name, tick, err))
	}
}

func (c *Clock) reportError(err error) {
	select {
	case c.errCh <- err:
	default:
		// Channel full; the error was already logged
	}
}

// Errors exposes listener failures. The channel is buffered; when no one
// drains it, further errors are dropped after logging.
func (c *Clock) Errors() <-chan error {
	return c.errCh
}

// CurrentTick returns the number of the next tick to be emitted, i.e.
// the count of ticks emitted since the last Start.
func (c *Clock) CurrentTick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

// ElapsedMS returns wall-clock milliseconds since Start, 0 when never started
func (c *Clock) ElapsedMS() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startedAt.IsZero() {
		return 0
	}
	return time.Since(c.startedAt).Milliseconds()
}

// IsRunning reports whether the clock is emitting ticks
func (c *Clock) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Interval returns the configured heartbeat interval
func (c *Clock) Interval() time.Duration {
	return c.interval
}

// Advance fires one tick synchronously without the ticker. It is the
// deterministic driver used by tests and by single-step execution; it
// works whether or not the ticker goroutine is running.
func (c *Clock) Advance() int64 {
	c.mu.Lock()
	tick := c.tick
	c.mu.Unlock()
	c.fire()
	return tick
}
