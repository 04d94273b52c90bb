package clock

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_StartStop(t *testing.T) {
	c := New(10 * time.Millisecond)
	require.False(t, c.IsRunning())

	require.NoError(t, c.Start())
	assert.True(t, c.IsRunning())

	// Starting a running clock fails
	err := c.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	c.Stop()
	assert.False(t, c.IsRunning())

	// Stopping a stopped clock is a no-op
	c.Stop()
}

func TestClock_RestartResetsTick(t *testing.T) {
	c := New(time.Hour) // ticker never fires; drive manually

	require.NoError(t, c.Start())
	c.Advance()
	c.Advance()
	c.Advance()
	assert.Equal(t, int64(3), c.CurrentTick())
	c.Stop()

	require.NoError(t, c.Start())
	assert.Equal(t, int64(0), c.CurrentTick())
	c.Stop()
}

func TestClock_ListenersInRegistrationOrder(t *testing.T) {
	c := New(time.Hour)

	var order []string
	c.Register("first", func(tick int64) error {
		order = append(order, "first")
		return nil
	})
	c.Register("second", func(tick int64) error {
		order = append(order, "second")
		return nil
	})
	c.Register("third", func(tick int64) error {
		order = append(order, "third")
		return nil
	})

	c.Advance()
	c.Advance()

	require.Len(t, order, 6)
	assert.Equal(t, []string{"first", "second", "third", "first", "second", "third"}, order)
}

func TestClock_FailingListenerDoesNotBlockOthers(t *testing.T) {
	c := New(time.Hour)

	var ran []string
	c.Register("boom", func(tick int64) error {
		return fmt.Errorf("boom")
	})
	c.Register("panicky", func(tick int64) error {
		panic("kaboom")
	})
	c.Register("survivor", func(tick int64) error {
		ran = append(ran, "survivor")
		return nil
	})

	c.Advance()

	require.Equal(t, []string{"survivor"}, ran)

	// Both failures surface on the error channel
	errs := 0
	for {
		select {
		case <-c.Errors():
			errs++
		default:
			assert.Equal(t, 2, errs)
			return
		}
	}
}

func TestClock_TickNumbersMonotonic(t *testing.T) {
	c := New(time.Hour)

	var seen []int64
	c.Register("collect", func(tick int64) error {
		seen = append(seen, tick)
		return nil
	})

	for i := 0; i < 5; i++ {
		c.Advance()
	}

	assert.Equal(t, []int64{0, 1, 2, 3, 4}, seen)
}

func TestClock_TickerDrivesListeners(t *testing.T) {
	c := New(5 * time.Millisecond)

	got := make(chan int64, 16)
	c.Register("collect", func(tick int64) error {
		select {
		case got <- tick:
		default:
		}
		return nil
	})

	require.NoError(t, c.Start())
	defer c.Stop()

	select {
	case first := <-got:
		assert.Equal(t, int64(0), first)
	case <-time.After(time.Second):
		t.Fatal("no tick within 1s")
	}
}

func TestClock_ElapsedMS(t *testing.T) {
	c := New(time.Hour)
	assert.Equal(t, int64(0), c.ElapsedMS())

	require.NoError(t, c.Start())
	defer c.Stop()
	time.Sleep(15 * time.Millisecond)
	assert.GreaterOrEqual(t, c.ElapsedMS(), int64(10))
}

func TestClock_DefaultInterval(t *testing.T) {
	c := New(0)
	assert.Equal(t, DefaultInterval, c.Interval())
}
