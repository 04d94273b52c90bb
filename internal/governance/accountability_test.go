package governance

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/hivemind/internal/audit"
	"github.com/ajitpratap0/hivemind/internal/bus"
	"github.com/ajitpratap0/hivemind/internal/roster"
	"github.com/ajitpratap0/hivemind/internal/store"
)

const testTask = "task-1"

type fakeRoster struct {
	mu     sync.Mutex
	agents map[string]*roster.Agent
}

func newFakeRoster(agents ...*roster.Agent) *fakeRoster {
	r := &fakeRoster{agents: make(map[string]*roster.Agent)}
	for _, a := range agents {
		r.agents[a.ID] = a
	}
	return r
}

func (r *fakeRoster) Get(id string) (*roster.Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	return a, ok
}

func (r *fakeRoster) Agents() []*roster.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*roster.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

type fakeLifecycle struct {
	mu           sync.Mutex
	replacements []string
	demotions    []string
	promotions   []string
}

func (l *fakeLifecycle) RequestReplacement(_ context.Context, a *roster.Agent, _ string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replacements = append(l.replacements, a.ID)
}

func (l *fakeLifecycle) RequestDemotionMove(_ context.Context, a *roster.Agent, _ string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.demotions = append(l.demotions, a.ID)
}

func (l *fakeLifecycle) RequestPromotionMove(_ context.Context, a *roster.Agent, _ string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.promotions = append(l.promotions, a.ID)
}

func workerAgent(name string, layer roster.Layer) *roster.Agent {
	a := roster.NewAgent(testTask, name, "worker", layer, []roster.Capability{roster.CapExecute}, roster.DefaultAgentConfig())
	a.ForceStatus(roster.StatusIdle)
	return a
}

type accFixture struct {
	acc       *Accountability
	bus       *bus.Bus
	store     *store.MemoryStore
	lifecycle *fakeLifecycle
	roster    *fakeRoster
}

func newAccFixture(t *testing.T, agents ...*roster.Agent) *accFixture {
	t.Helper()

	mem := store.NewMemoryStore()
	b := bus.New(bus.DefaultConfig(testTask), nil)
	for _, a := range agents {
		require.NoError(t, b.RegisterAgent(a.ID))
	}

	r := newFakeRoster(agents...)
	lc := &fakeLifecycle{}
	rec := audit.NewRecorder(testTask, mem)
	acc := NewAccountability(testTask, b, rec, r, lc, DefaultAccountabilityConfig())

	return &accFixture{acc: acc, bus: b, store: mem, lifecycle: lc, roster: r}
}

func TestIssueWarning_NotifiesAgent(t *testing.T) {
	b1 := workerAgent("b1", roster.LayerBottom)
	f := newAccFixture(t, b1)
	ctx := context.Background()

	f.acc.IssueWarning(ctx, b1, "slow response")

	assert.Equal(t, int64(1), b1.Metrics().WarningsReceived)

	msgs := f.bus.GetMessages(b1.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, bus.KindWarningIssue, msgs[0].Kind)
	assert.Equal(t, bus.PriorityUrgent, msgs[0].Priority)
}

func TestWarningTriadDismissal(t *testing.T) {
	// Three warnings to B1: after the third, B1 is terminated, the
	// supervisor got a dismissal_notice, and the audit trail holds three
	// warning rows plus one dismissal row.
	b1 := workerAgent("b1", roster.LayerBottom)
	m1 := workerAgent("m1", roster.LayerMid)
	b1.Supervisor = m1.ID
	f := newAccFixture(t, b1, m1)
	ctx := context.Background()

	f.acc.IssueWarning(ctx, b1, "first")
	f.acc.IssueWarning(ctx, b1, "second")
	f.acc.IssueWarning(ctx, b1, "third")

	assert.Equal(t, roster.StatusTerminated, b1.Status())

	var sawDismissal bool
	for _, m := range f.bus.GetMessages(m1.ID) {
		if m.Kind == bus.KindDismissalNotice {
			sawDismissal = true
			assert.Equal(t, b1.ID, m.Content["agent"])
		}
	}
	assert.True(t, sawDismissal, "supervisor must receive a dismissal_notice")

	audits, err := f.store.ListAudits(ctx, testTask, b1.ID)
	require.NoError(t, err)
	var warnings, dismissals int
	for _, a := range audits {
		switch a.EventType {
		case "warning":
			warnings++
		case "dismissal":
			dismissals++
		}
	}
	assert.Equal(t, 3, warnings)
	assert.Equal(t, 1, dismissals)

	assert.Equal(t, []string{b1.ID}, f.lifecycle.replacements)
}

func TestDemoteBottomDegradesToWarning(t *testing.T) {
	b1 := workerAgent("b1", roster.LayerBottom)
	f := newAccFixture(t, b1)
	ctx := context.Background()

	f.acc.DemoteAgent(ctx, b1, "underperforming")

	assert.Equal(t, int64(1), b1.Metrics().WarningsReceived)
	assert.NotEqual(t, roster.StatusTerminated, b1.Status())
	assert.Empty(t, f.lifecycle.demotions)

	audits, err := f.store.ListAudits(ctx, testTask, b1.ID)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, "warning", audits[0].EventType)
}

func TestDemoteMidNotifiesAndDelegates(t *testing.T) {
	m1 := workerAgent("m1", roster.LayerMid)
	f := newAccFixture(t, m1)
	ctx := context.Background()

	f.acc.DemoteAgent(ctx, m1, "poor coordination")

	msgs := f.bus.GetMessages(m1.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, bus.KindDemotionNotice, msgs[0].Kind)
	assert.Equal(t, []string{m1.ID}, f.lifecycle.demotions)

	audits, err := f.store.ListAudits(ctx, testTask, m1.ID)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, "demotion", audits[0].EventType)
}

func TestDismissFromAnyState(t *testing.T) {
	for _, status := range []roster.Status{
		roster.StatusInitializing, roster.StatusIdle, roster.StatusWorking,
		roster.StatusWaitingApproval, roster.StatusBlocked, roster.StatusFailed,
	} {
		t.Run(string(status), func(t *testing.T) {
			a := workerAgent("x", roster.LayerBottom)
			a.ForceStatus(status)
			f := newAccFixture(t, a)

			f.acc.DismissAgent(context.Background(), a, "cleanup")
			assert.Equal(t, roster.StatusTerminated, a.Status())
		})
	}
}

func TestWorkItemFailureWarnsAssignees(t *testing.T) {
	b1 := workerAgent("b1", roster.LayerBottom)
	b2 := workerAgent("b2", roster.LayerBottom)
	f := newAccFixture(t, b1, b2)
	ctx := context.Background()

	f.acc.RecordAssignment("wi-9", b1.ID)
	f.acc.RecordAssignment("wi-9", b2.ID)
	f.acc.HandleWorkItemFailure(ctx, "wi-9", "tests failed")

	assert.Equal(t, int64(1), b1.Metrics().WarningsReceived)
	assert.Equal(t, int64(1), b2.Metrics().WarningsReceived)

	// Failure of an unassigned work item is a no-op
	f.acc.HandleWorkItemFailure(ctx, "wi-unknown", "whatever")
}
