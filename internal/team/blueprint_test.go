package team

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/hivemind/internal/roster"
)

func validBlueprint() *Blueprint {
	return &Blueprint{
		Top: []TopRole{
			{
				Name: "architect", Role: "technical strategy",
				Capabilities: []roster.Capability{roster.CapPlan, roster.CapArbitrate},
				Power:        roster.PowerA, VoteWeight: 1,
				SignatureAuthority: []roster.DecisionKind{roster.DecisionTechnicalProposal, roster.DecisionMilestoneConfirmation},
			},
			{
				Name: "allocator", Role: "task allocation",
				Capabilities: []roster.Capability{roster.CapCoordinate, roster.CapArbitrate},
				Power:        roster.PowerB, VoteWeight: 1,
				SignatureAuthority: []roster.DecisionKind{roster.DecisionTaskAllocation, roster.DecisionMilestoneConfirmation},
			},
			{
				Name: "steward", Role: "resource stewardship",
				Capabilities: []roster.Capability{roster.CapReview, roster.CapArbitrate},
				Power:        roster.PowerC, VoteWeight: 1,
				SignatureAuthority: []roster.DecisionKind{roster.DecisionResourceAdjustment, roster.DecisionMilestoneConfirmation},
			},
		},
		Mid: []MidRole{
			{
				Name: "build-lead", Role: "build coordination",
				Capabilities: []roster.Capability{roster.CapCoordinate, roster.CapDelegate},
				Domain:       "build", MaxSubordinates: 10,
			},
			{
				Name: "test-lead", Role: "test coordination",
				Capabilities: []roster.Capability{roster.CapCoordinate, roster.CapDelegate},
				Domain:       "test", MaxSubordinates: 10,
			},
		},
		Bottom: []BottomRole{
			{
				Name: "build-worker-1", Role: "compiles modules",
				Capabilities: []roster.Capability{roster.CapExecute, roster.CapCodeGen},
				Tools:        []string{"shell", "compiler"},
			},
			{
				Name: "test-worker-1", Role: "runs suites",
				Capabilities: []roster.Capability{roster.CapExecute, roster.CapTestExec},
				Tools:        []string{"shell"},
			},
			{
				Name: "util-worker-1", Role: "misc chores",
				Capabilities: []roster.Capability{roster.CapExecute},
				Tools:        []string{"shell"},
			},
		},
	}
}

func TestBlueprint_Valid(t *testing.T) {
	require.NoError(t, validBlueprint().Validate())
}

func TestBlueprint_TopCount(t *testing.T) {
	bp := validBlueprint()
	bp.Top = bp.Top[:2]
	err := bp.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly 3 top roles")
}

func TestBlueprint_TopRequirements(t *testing.T) {
	bp := validBlueprint()
	bp.Top[0].SignatureAuthority = nil
	require.ErrorContains(t, bp.Validate(), "signature authority")

	bp = validBlueprint()
	bp.Top[1].Capabilities = []roster.Capability{roster.CapPlan}
	require.ErrorContains(t, bp.Validate(), "arbitrate")

	bp = validBlueprint()
	bp.Top[2].Power = roster.PowerA
	require.ErrorContains(t, bp.Validate(), "duplicate power")
}

func TestBlueprint_MidRequirements(t *testing.T) {
	bp := validBlueprint()
	bp.Mid = bp.Mid[:1]
	require.ErrorContains(t, bp.Validate(), "mid roles")

	bp = validBlueprint()
	bp.Mid[1].Domain = bp.Mid[0].Domain
	require.ErrorContains(t, bp.Validate(), "duplicate mid domain")

	bp = validBlueprint()
	bp.Mid[0].Capabilities = []roster.Capability{roster.CapCoordinate}
	require.ErrorContains(t, bp.Validate(), "delegate")
}

func TestBlueprint_BottomRequirements(t *testing.T) {
	bp := validBlueprint()
	bp.Bottom = nil
	require.ErrorContains(t, bp.Validate(), "bottom roles")

	bp = validBlueprint()
	bp.Bottom[0].Tools = nil
	require.ErrorContains(t, bp.Validate(), "tools")

	bp = validBlueprint()
	bp.Bottom[0].Capabilities = []roster.Capability{roster.CapReview}
	require.ErrorContains(t, bp.Validate(), "execute")

	bp = validBlueprint()
	bp.Bottom[0].Capabilities = []roster.Capability{"levitate"}
	require.ErrorContains(t, bp.Validate(), "unknown capability")
}

func TestBlueprint_DomainPrefixAttachment(t *testing.T) {
	bp := validBlueprint()
	assert.Equal(t, 0, bp.midForBottom(bp.Bottom[0]), "build-worker matches build domain")
	assert.Equal(t, 1, bp.midForBottom(bp.Bottom[1]), "test-worker matches test domain")
	assert.Equal(t, 0, bp.midForBottom(bp.Bottom[2]), "no prefix match falls back to first mid")
}

func TestLoadBlueprint_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "team.yaml")
	content := `
top:
  - name: architect
    role: technical strategy
    capabilities: [plan, arbitrate]
    power: A
    vote_weight: 1
    signature_authority: [technical_proposal, milestone_confirmation]
  - name: allocator
    role: task allocation
    capabilities: [coordinate, arbitrate]
    power: B
    vote_weight: 1
    signature_authority: [task_allocation, milestone_confirmation]
  - name: steward
    role: resource stewardship
    capabilities: [review, arbitrate]
    power: C
    vote_weight: 1
    signature_authority: [resource_adjustment, milestone_confirmation]
mid:
  - name: build-lead
    role: build coordination
    capabilities: [coordinate, delegate]
    domain: build
    max_subordinates: 8
  - name: test-lead
    role: test coordination
    capabilities: [coordinate, delegate]
    domain: test
    max_subordinates: 8
bottom:
  - name: build-worker-1
    role: compiles modules
    capabilities: [execute]
    tools: [shell]
agent:
  max_retries: 2
  timeout_ms: 15000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	bp, err := LoadBlueprint(path)
	require.NoError(t, err)
	assert.Len(t, bp.Top, 3)
	assert.Len(t, bp.Mid, 2)
	assert.Len(t, bp.Bottom, 1)
	assert.Equal(t, 2, bp.Agent.MaxRetries)
	assert.Equal(t, 15000, bp.Agent.TimeoutMS)

	_, err = LoadBlueprint(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestWaiters(t *testing.T) {
	w := NewWaiters()

	ch := w.Register("req-1", time.Minute)
	w.Resolve("req-1", map[string]interface{}{"status": "idle"})
	result := <-ch
	assert.Equal(t, "idle", result["status"])

	// Cancellation closes the waiter with the sentinel
	ch = w.Register("req-2", time.Minute)
	w.Cancel("req-2")
	assert.True(t, Cancelled(<-ch))

	// Cancelling a non-existent pending request is a no-op
	w.Cancel("req-never")

	// Resolving after cancel is dropped
	w.Resolve("req-2", map[string]interface{}{"late": true})
}

func TestWaiters_Timeout(t *testing.T) {
	w := NewWaiters()
	ch := w.Register("req-slow", 10*time.Millisecond)

	select {
	case result := <-ch:
		assert.True(t, Cancelled(result))
	case <-time.After(time.Second):
		t.Fatal("waiter did not time out")
	}
}
