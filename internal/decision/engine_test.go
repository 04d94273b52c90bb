package decision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/hivemind/internal/audit"
	"github.com/ajitpratap0/hivemind/internal/bus"
	"github.com/ajitpratap0/hivemind/internal/roster"
	"github.com/ajitpratap0/hivemind/internal/store"
)

const testTask = "task-1"

var tops = []string{"T1", "T2", "T3"}

type fixture struct {
	engine *Engine
	bus    *bus.Bus
	store  *store.MemoryStore
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()

	cfg := DefaultEngineConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	mem := store.NewMemoryStore()
	b := bus.New(bus.DefaultConfig(testTask), nil)
	for _, id := range append([]string{"M1"}, tops...) {
		require.NoError(t, b.RegisterAgent(id))
	}

	rec := audit.NewRecorder(testTask, mem)
	engine := NewEngine(testTask, b, mem.Repositories(), rec, func() []string { return tops }, cfg)
	return &fixture{engine: engine, bus: b, store: mem}
}

func kinds(msgs []*bus.Message) []bus.Kind {
	out := make([]bus.Kind, len(msgs))
	for i, m := range msgs {
		out[i] = m.Kind
	}
	return out
}

func proposal(f *fixture, t *testing.T) *Decision {
	t.Helper()
	d, err := f.engine.Propose(context.Background(), "M1", roster.DecisionTechnicalProposal,
		map[string]interface{}{"proposal": "switch to event sourcing"}, tops)
	require.NoError(t, err)
	return d
}

func TestPropose_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Propose(ctx, "", roster.DecisionTechnicalProposal,
		map[string]interface{}{"proposal": "x"}, tops)
	require.Error(t, err)

	_, err = f.engine.Propose(ctx, "M1", "coin_flip",
		map[string]interface{}{"proposal": "x"}, tops)
	assert.ErrorIs(t, err, ErrUnknownKind)

	// Type-specific content keys
	_, err = f.engine.Propose(ctx, "M1", roster.DecisionTechnicalProposal,
		map[string]interface{}{}, tops)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"proposal"`)

	_, err = f.engine.Propose(ctx, "M1", roster.DecisionTaskAllocation,
		map[string]interface{}{"task_id": "t"}, tops)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"assignee"`)

	// Empty required signer set rejected at proposal time
	_, err = f.engine.Propose(ctx, "M1", roster.DecisionTechnicalProposal,
		map[string]interface{}{"proposal": "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required signer")
}

func TestPropose_SendsSignatureRequests(t *testing.T) {
	f := newFixture(t)
	d := proposal(f, t)

	for _, signer := range tops {
		msgs := f.bus.GetMessages(signer)
		require.Len(t, msgs, 1)
		assert.Equal(t, bus.KindSignatureRequest, msgs[0].Kind)
		assert.Equal(t, d.ID, msgs[0].Content["decision_id"])
	}
}

func TestThreeSignerApproval(t *testing.T) {
	// Propose technical_proposal with required=[T1,T2,T3]. Sign T1 ->
	// pending. Sign T2 -> approved. Sign T3 -> rejected as non-pending.
	// Proposer received exactly one signature_approve.
	f := newFixture(t)
	ctx := context.Background()
	d := proposal(f, t)

	after, err := f.engine.Sign(ctx, d.ID, "T1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, after.Status)

	after, err = f.engine.Sign(ctx, d.ID, "T2")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, after.Status)
	require.NotNil(t, after.ApprovedAt)

	_, err = f.engine.Sign(ctx, d.ID, "T3")
	assert.ErrorIs(t, err, ErrNotPending)

	approvals := 0
	for _, m := range f.bus.GetMessages("M1") {
		if m.Kind == bus.KindSignatureApprove {
			approvals++
		}
	}
	assert.Equal(t, 1, approvals)
}

func TestSign_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := proposal(f, t)

	_, err := f.engine.Sign(ctx, d.ID, "stranger")
	assert.ErrorIs(t, err, ErrNotPermitted)

	_, err = f.engine.Sign(ctx, d.ID, "T1")
	require.NoError(t, err)
	_, err = f.engine.Sign(ctx, d.ID, "T1")
	assert.ErrorIs(t, err, ErrAlreadyActed)

	_, err = f.engine.Sign(ctx, "no-such-decision", "T1")
	require.Error(t, err)
}

func TestMilestoneNeedsThreeSignatures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.engine.Propose(ctx, "M1", roster.DecisionMilestoneConfirmation,
		map[string]interface{}{"milestone": "phase 1 done"}, tops)
	require.NoError(t, err)

	after, err := f.engine.Sign(ctx, d.ID, "T1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, after.Status)

	after, err = f.engine.Sign(ctx, d.ID, "T2")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, after.Status)

	after, err = f.engine.Sign(ctx, d.ID, "T3")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, after.Status)
}

func TestSignersAndVetoersDisjoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := proposal(f, t)

	_, err := f.engine.Sign(ctx, d.ID, "T1")
	require.NoError(t, err)

	after, err := f.engine.Veto(ctx, d.ID, "T2", "too risky")
	require.NoError(t, err)

	// signers ∩ vetoers = ∅ and signers ⊆ required_signers
	for _, s := range after.Signers {
		assert.NotContains(t, after.Vetoers, s)
		assert.Contains(t, after.RequiredSigners, s)
	}
}

func TestVetoThenAppealSuccess(t *testing.T) {
	// T1 vetoes ("risk") -> rejected, audit veto with reason "risk".
	// Proposer appeals. T1 opposes, T2 supports, T3 supports -> appeal
	// success, decision approved.
	f := newFixture(t)
	ctx := context.Background()
	d := proposal(f, t)

	after, err := f.engine.Veto(ctx, d.ID, "T1", "risk")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, after.Status)
	assert.Equal(t, []string{"T1"}, after.Vetoers)

	audits, err := f.store.ListAudits(ctx, testTask, "T1")
	require.NoError(t, err)
	var vetoAudits []*store.AuditRecord
	for _, a := range audits {
		if a.EventType == "veto" {
			vetoAudits = append(vetoAudits, a)
		}
	}
	require.Len(t, vetoAudits, 1)
	assert.Equal(t, "risk", vetoAudits[0].Reason)

	appeal, err := f.engine.Appeal(ctx, d.ID, "M1", "the risk is mitigated by the rollback plan")
	require.NoError(t, err)

	got, err := f.engine.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAppealing, got.Status)

	_, err = f.engine.CastVote(ctx, d.ID, "T1", VoteOppose)
	require.NoError(t, err)
	_, err = f.engine.CastVote(ctx, d.ID, "T2", VoteSupport)
	require.NoError(t, err)
	resolved, err := f.engine.CastVote(ctx, d.ID, "T3", VoteSupport)
	require.NoError(t, err)

	assert.Equal(t, AppealSuccess, resolved.Result)
	require.NotNil(t, resolved.ResolvedAt)

	final, err := f.engine.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, final.Status)

	// Appealer is notified of the result
	var sawResult bool
	for _, m := range f.bus.GetMessages("M1") {
		if m.Kind == bus.KindAppealResult {
			sawResult = true
			assert.Equal(t, AppealSuccess, m.Content["result"])
		}
	}
	assert.True(t, sawResult)
	_ = appeal
}

func TestAppealFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := proposal(f, t)

	_, err := f.engine.Veto(ctx, d.ID, "T1", "nope")
	require.NoError(t, err)
	_, err = f.engine.Appeal(ctx, d.ID, "M1", "please")
	require.NoError(t, err)

	_, err = f.engine.CastVote(ctx, d.ID, "T1", VoteOppose)
	require.NoError(t, err)
	_, err = f.engine.CastVote(ctx, d.ID, "T2", VoteOppose)
	require.NoError(t, err)
	resolved, err := f.engine.CastVote(ctx, d.ID, "T3", VoteSupport)
	require.NoError(t, err)

	assert.Equal(t, AppealFailed, resolved.Result)
	final, err := f.engine.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, final.Status)
}

func TestAppeal_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := proposal(f, t)

	// Appeal on a non-rejected decision is rejected
	_, err := f.engine.Appeal(ctx, d.ID, "M1", "premature")
	assert.ErrorIs(t, err, ErrNotAppealable)

	_, err = f.engine.Veto(ctx, d.ID, "T1", "risk")
	require.NoError(t, err)

	// Appeal from a non-proposer is rejected
	_, err = f.engine.Appeal(ctx, d.ID, "T2", "i object")
	assert.ErrorIs(t, err, ErrNotProposer)
}

func TestCastVote_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := proposal(f, t)

	_, err := f.engine.CastVote(ctx, d.ID, "T1", VoteSupport)
	assert.ErrorIs(t, err, ErrNoAppeal)

	_, err = f.engine.Veto(ctx, d.ID, "T1", "risk")
	require.NoError(t, err)
	_, err = f.engine.Appeal(ctx, d.ID, "M1", "reconsider")
	require.NoError(t, err)

	_, err = f.engine.CastVote(ctx, d.ID, "M1", VoteSupport)
	assert.ErrorIs(t, err, ErrNotVoter)

	_, err = f.engine.CastVote(ctx, d.ID, "T1", VoteSupport)
	require.NoError(t, err)
	_, err = f.engine.CastVote(ctx, d.ID, "T1", VoteOppose)
	assert.ErrorIs(t, err, ErrAlreadyVoted)

	_, err = f.engine.CastVote(ctx, d.ID, "T2", "abstain")
	require.Error(t, err)
}

func TestDecisionTimeout(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Timeout = 30 * time.Millisecond
		c.EnableReminders = false
	})
	d := proposal(f, t)

	require.Eventually(t, func() bool {
		got, err := f.engine.Get(d.ID)
		return err == nil && got.Status == StatusRejected
	}, time.Second, 5*time.Millisecond)

	// Proposer was notified of the timeout
	var sawTimeout bool
	for _, m := range f.bus.GetMessages("M1") {
		if m.Kind == bus.KindSignatureVeto && m.Content["reason"] == "timeout" {
			sawTimeout = true
		}
	}
	assert.True(t, sawTimeout)

	// Operations on the timed-out decision are rejected
	_, err := f.engine.Sign(context.Background(), d.ID, "T1")
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestReminderEscalation(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Timeout = 90 * time.Millisecond
		c.EnableReminders = true
	})
	d := proposal(f, t)

	// Drain the initial requests
	for _, signer := range tops {
		f.bus.GetMessages(signer)
	}

	require.Eventually(t, func() bool {
		got, err := f.engine.Get(d.ID)
		return err == nil && got.Status == StatusRejected
	}, time.Second, 5*time.Millisecond)

	got := kinds(f.bus.GetMessages("T1"))
	require.Len(t, got, 2, "one HIGH and one URGENT reminder expected")
	assert.Equal(t, bus.KindSignatureRequest, got[0])
	assert.Equal(t, bus.KindSignatureRequest, got[1])
}

func TestApprovalCancelsTimers(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Timeout = 50 * time.Millisecond
	})
	ctx := context.Background()
	d := proposal(f, t)

	_, err := f.engine.Sign(ctx, d.ID, "T1")
	require.NoError(t, err)
	_, err = f.engine.Sign(ctx, d.ID, "T2")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	got, err := f.engine.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status, "timeout must not fire after approval")
}
