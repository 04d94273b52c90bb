package recovery

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		want Severity
	}{
		{"authentication failed", SeverityCritical},
		{"Permission denied on /etc", SeverityCritical},
		{"connection timeout", SeverityHigh},
		{"network unreachable", SeverityHigh},
		{"dial tcp: ECONNREFUSED", SeverityHigh},
		{"file not found: plan.md", SeverityMedium},
		{"open cfg: ENOENT", SeverityMedium},
		{"syntax error at line 3", SeverityMedium},
		{"something odd happened", SeverityLow},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(errors.New(tc.msg)))
		})
	}
	assert.Equal(t, SeverityLow, Classify(nil))
}

func TestClassify_FirstMatchWins(t *testing.T) {
	// "auth" outranks "timeout" when both appear
	assert.Equal(t, SeverityCritical, Classify(errors.New("auth timeout")))
}

func TestRetryBudget(t *testing.T) {
	assert.Equal(t, 3, RetryBudget(SeverityLow))
	assert.Equal(t, 2, RetryBudget(SeverityMedium))
	assert.Equal(t, 1, RetryBudget(SeverityHigh))
	assert.Equal(t, 0, RetryBudget(SeverityCritical))
}

func TestPlanFor_RetryThenPeerTakeover(t *testing.T) {
	// A bottom agent's executor raises "connection timeout" (HIGH,
	// budget 1). Attempt 0 retries with the 5s base delay; attempt 1
	// requests a same-layer peer takeover.
	p := NewPlanner(0)
	err := fmt.Errorf("connection timeout")

	plan := p.PlanFor(err, 0)
	assert.Equal(t, ActionRetry, plan.Action)
	assert.Equal(t, 5*time.Second, plan.Delay)
	assert.Equal(t, SeverityHigh, plan.Severity)

	plan = p.PlanFor(err, 1)
	assert.Equal(t, ActionPeerTakeover, plan.Action)
	assert.Equal(t, SeverityHigh, plan.Severity)
}

func TestPlanFor_ExponentialBackoff(t *testing.T) {
	p := NewPlanner(0)
	err := fmt.Errorf("weird flakiness") // LOW, budget 3

	assert.Equal(t, 5*time.Second, p.PlanFor(err, 0).Delay)
	assert.Equal(t, 10*time.Second, p.PlanFor(err, 1).Delay)
	assert.Equal(t, 20*time.Second, p.PlanFor(err, 2).Delay)
	assert.Equal(t, ActionEscalateToSupervisor, p.PlanFor(err, 3).Action)
}

func TestPlanFor_CriticalEscalatesToTop(t *testing.T) {
	p := NewPlanner(0)
	plan := p.PlanFor(fmt.Errorf("permission denied"), 0)
	assert.Equal(t, ActionEscalateToTop, plan.Action)
	assert.Equal(t, SeverityCritical, plan.Severity)
}

func TestPlanFor_MediumEscalatesToSupervisor(t *testing.T) {
	p := NewPlanner(0)
	err := fmt.Errorf("syntax error")
	assert.Equal(t, ActionRetry, p.PlanFor(err, 0).Action)
	assert.Equal(t, ActionRetry, p.PlanFor(err, 1).Action)
	assert.Equal(t, ActionEscalateToSupervisor, p.PlanFor(err, 2).Action)
}

func TestExecutionMonitor_Fires(t *testing.T) {
	var fired atomic.Bool
	m := NewExecutionMonitor(10*time.Millisecond, func() { fired.Store(true) })

	require.Eventually(t, fired.Load, time.Second, 5*time.Millisecond)
	assert.True(t, m.Fired())

	// Cancel after firing is a no-op
	m.Cancel()
}

func TestExecutionMonitor_CancelIdempotent(t *testing.T) {
	var fired atomic.Bool
	m := NewExecutionMonitor(50*time.Millisecond, func() { fired.Store(true) })

	m.Cancel()
	m.Cancel()
	m.Cancel()

	time.Sleep(80 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.False(t, m.Fired())
}

func TestExecutorBreaker_TripsOnFailures(t *testing.T) {
	cb := NewExecutorBreaker("executor-test")

	boom := errors.New("backend down")
	for i := 0; i < 6; i++ {
		_, _ = cb.Execute(func() (interface{}, error) { return nil, boom })
	}

	_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	assert.Error(t, err, "breaker should be open after sustained failures")
}
