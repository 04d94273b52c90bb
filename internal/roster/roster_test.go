package roster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAgent(layer Layer) *Agent {
	return NewAgent("task-1", "worker-1", "does things", layer,
		[]Capability{CapExecute}, DefaultAgentConfig())
}

func TestTransition_AllowedPaths(t *testing.T) {
	cases := []struct {
		from, to Status
	}{
		{StatusInitializing, StatusIdle},
		{StatusInitializing, StatusFailed},
		{StatusIdle, StatusWorking},
		{StatusIdle, StatusWaitingApproval},
		{StatusIdle, StatusShuttingDown},
		{StatusWorking, StatusIdle},
		{StatusWorking, StatusBlocked},
		{StatusWorking, StatusFailed},
		{StatusWorking, StatusWaitingApproval},
		{StatusWaitingApproval, StatusWorking},
		{StatusWaitingApproval, StatusIdle},
		{StatusWaitingApproval, StatusBlocked},
		{StatusBlocked, StatusWorking},
		{StatusBlocked, StatusFailed},
		{StatusFailed, StatusWorking},
		{StatusFailed, StatusTerminated},
		{StatusShuttingDown, StatusTerminated},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			a := newAgent(LayerBottom)
			a.ForceStatus(tc.from)
			require.NoError(t, a.Transition(tc.to, "test"))
			assert.Equal(t, tc.to, a.Status())
		})
	}
}

func TestTransition_InvalidPathsFail(t *testing.T) {
	cases := []struct {
		from, to Status
	}{
		{StatusInitializing, StatusWorking},
		{StatusIdle, StatusTerminated},
		{StatusIdle, StatusBlocked},
		{StatusWorking, StatusTerminated},
		{StatusBlocked, StatusIdle},
		{StatusTerminated, StatusIdle},
		{StatusTerminated, StatusWorking},
		{StatusShuttingDown, StatusIdle},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			a := newAgent(LayerBottom)
			a.ForceStatus(tc.from)
			err := a.Transition(tc.to, "test")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid transition")
			assert.Equal(t, tc.from, a.Status(), "failed transition must not change state")
		})
	}
}

func TestTransition_HookObservesChange(t *testing.T) {
	a := newAgent(LayerBottom)

	var gotFrom, gotTo Status
	var gotReason string
	hook := func(agent *Agent, from, to Status, reason string) {
		gotFrom, gotTo, gotReason = from, to, reason
	}

	require.NoError(t, a.Transition(StatusIdle, "init done", hook))
	assert.Equal(t, StatusInitializing, gotFrom)
	assert.Equal(t, StatusIdle, gotTo)
	assert.Equal(t, "init done", gotReason)
}

func TestMetrics_HeartbeatCountersNeverDecrease(t *testing.T) {
	a := newAgent(LayerBottom)

	prev := int64(0)
	for i := 0; i < 20; i++ {
		if i%3 == 0 {
			a.RecordMissedHeartbeat()
		} else {
			a.RecordHeartbeat(int64(i), 2)
		}
		m := a.Metrics()
		sum := m.HeartbeatsResponded + m.HeartbeatsMissed
		assert.GreaterOrEqual(t, sum, prev)
		prev = sum
	}
}

func TestMetrics_IncrementalMean(t *testing.T) {
	a := newAgent(LayerBottom)

	a.RecordTaskResult(true, 100)
	a.RecordTaskResult(true, 200)
	a.RecordTaskResult(false, 300)

	m := a.Metrics()
	assert.Equal(t, int64(2), m.TasksCompleted)
	assert.Equal(t, int64(1), m.TasksFailed)
	assert.InDelta(t, 200.0, m.AvgTaskDurationMS, 0.001)
}

func TestMetrics_WarningsMonotonic(t *testing.T) {
	a := newAgent(LayerMid)
	assert.Equal(t, int64(1), a.RecordWarning())
	assert.Equal(t, int64(2), a.RecordWarning())
	assert.Equal(t, int64(3), a.RecordWarning())
	assert.Equal(t, int64(3), a.Metrics().WarningsReceived)
}

func TestAgent_Subordinates(t *testing.T) {
	a := newAgent(LayerMid)
	a.AddSubordinate("b1")
	a.AddSubordinate("b2")
	a.AddSubordinate("b1") // duplicate ignored
	assert.Equal(t, []string{"b1", "b2"}, a.SubordinateIDs())

	a.RemoveSubordinate("b1")
	assert.Equal(t, []string{"b2"}, a.SubordinateIDs())

	a.RemoveSubordinate("ghost")
	assert.Equal(t, []string{"b2"}, a.SubordinateIDs())
}

func TestAgent_MaySign(t *testing.T) {
	top := newAgent(LayerTop)
	top.Top = &TopAttrs{
		Power:              PowerA,
		VoteWeight:         1,
		SignatureAuthority: []DecisionKind{DecisionTechnicalProposal, DecisionTaskAllocation},
	}

	assert.True(t, top.MaySign(DecisionTechnicalProposal))
	assert.False(t, top.MaySign(DecisionMilestoneConfirmation))

	bottom := newAgent(LayerBottom)
	assert.False(t, bottom.MaySign(DecisionTechnicalProposal))
}

func TestCapabilityVocabulary(t *testing.T) {
	assert.True(t, CapArbitrate.Valid())
	assert.True(t, CapToolCall.Valid())
	assert.False(t, Capability("fly").Valid())
}

func TestRetryBookkeeping(t *testing.T) {
	a := newAgent(LayerBottom)
	assert.Equal(t, 0, a.RetryCount())
	assert.Equal(t, 1, a.IncrementRetry())
	assert.Equal(t, 2, a.IncrementRetry())
	a.ResetRetry()
	assert.Equal(t, 0, a.RetryCount())
}
