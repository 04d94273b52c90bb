package governance

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/hivemind/internal/audit"
	"github.com/ajitpratap0/hivemind/internal/bus"
	"github.com/ajitpratap0/hivemind/internal/roster"
)

// governanceSender identifies the governance modules on the bus
const governanceSender = "governance"

// Roster exposes the live team to governance
type Roster interface {
	Get(id string) (*roster.Agent, bool)
	Agents() []*roster.Agent
}

// Lifecycle receives the structural actions governance decides on but
// cannot perform itself: replacing a dismissed agent and moving an
// agent between layers. The team lifecycle implements it.
type Lifecycle interface {
	RequestReplacement(ctx context.Context, agent *roster.Agent, reason string)
	RequestDemotionMove(ctx context.Context, agent *roster.Agent, reason string)
	RequestPromotionMove(ctx context.Context, agent *roster.Agent, reason string)
}

// AccountabilityConfig bounds the accountability regime
type AccountabilityConfig struct {
	WarningThreshold int64
	FailureThreshold int64
}

// DefaultAccountabilityConfig returns the default thresholds
func DefaultAccountabilityConfig() AccountabilityConfig {
	return AccountabilityConfig{WarningThreshold: 3, FailureThreshold: 1}
}

// Accountability accumulates warnings and escalates to demotion and
// dismissal. It also tracks which agents a work item was assigned to so
// a reported failure can be attributed.
type Accountability struct {
	taskID    string
	bus       *bus.Bus
	audit     *audit.Recorder
	roster    Roster
	lifecycle Lifecycle
	config    AccountabilityConfig
	log       zerolog.Logger

	mu          sync.Mutex
	assignments map[string][]string // work item key -> assigned agent ids
}

// NewAccountability creates the accountability module for one task
func NewAccountability(taskID string, b *bus.Bus, rec *audit.Recorder, r Roster, lc Lifecycle, config AccountabilityConfig) *Accountability {
	if config.WarningThreshold <= 0 {
		config.WarningThreshold = 3
	}
	return &Accountability{
		taskID:      taskID,
		bus:         b,
		audit:       rec,
		roster:      r,
		lifecycle:   lc,
		config:      config,
		log:         log.With().Str("component", "accountability").Str("task_id", taskID).Logger(),
		assignments: make(map[string][]string),
	}
}

// RecordAssignment remembers that a work item was assigned to an agent
func (a *Accountability) RecordAssignment(workItem, agentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.assignments[workItem] = append(a.assignments[workItem], agentID)
}

// HandleWorkItemFailure warns every agent the failed work item was
// assigned to
func (a *Accountability) HandleWorkItemFailure(ctx context.Context, workItem, reason string) {
	a.mu.Lock()
	responsible := append([]string(nil), a.assignments[workItem]...)
	a.mu.Unlock()

	if len(responsible) == 0 {
		a.log.Warn().Str("work_item", workItem).Msg("Failure reported for unassigned work item")
		return
	}
	for _, id := range responsible {
		if agent, ok := a.roster.Get(id); ok {
			a.IssueWarning(ctx, agent, fmt.Sprintf("work item %s failed: %s", workItem, reason))
		}
	}
}

// IssueWarning writes a warning audit row and bumps the agent's warning
// counter. Reaching the threshold dismisses the agent instead of
// notifying it.
func (a *Accountability) IssueWarning(ctx context.Context, agent *roster.Agent, reason string) {
	a.audit.Record(ctx, agent.ID, audit.EventWarning, reason, nil)
	count := agent.RecordWarning()

	a.log.Info().
		Str("agent", agent.ID).
		Int64("warnings", count).
		Str("reason", reason).
		Msg("Warning issued")

	if count >= a.config.WarningThreshold {
		a.DismissAgent(ctx, agent, fmt.Sprintf("warning threshold reached (%d)", count))
		return
	}

	a.send(ctx, agent.ID, bus.KindWarningIssue, map[string]interface{}{
		"reason":   reason,
		"warnings": count,
	})
}

// DemoteAgent records a demotion and notifies the agent. A bottom-layer
// agent cannot be demoted further and gets a warning instead; the
// actual layer move is the team lifecycle's coordinated replacement.
func (a *Accountability) DemoteAgent(ctx context.Context, agent *roster.Agent, reason string) {
	if agent.Layer == roster.LayerBottom {
		a.IssueWarning(ctx, agent, fmt.Sprintf("demotion degraded to warning: %s", reason))
		return
	}

	a.audit.Record(ctx, agent.ID, audit.EventDemotion, reason, nil)
	a.send(ctx, agent.ID, bus.KindDemotionNotice, map[string]interface{}{
		"reason": reason,
	})
	if a.lifecycle != nil {
		a.lifecycle.RequestDemotionMove(ctx, agent, reason)
	}

	a.log.Info().Str("agent", agent.ID).Str("reason", reason).Msg("Agent demoted")
}

// DismissAgent terminates the agent, notifies its supervisor, and asks
// the lifecycle for a replacement.
func (a *Accountability) DismissAgent(ctx context.Context, agent *roster.Agent, reason string) {
	a.audit.Record(ctx, agent.ID, audit.EventDismissal, reason, nil)

	if err := terminate(agent, reason); err != nil {
		a.log.Error().Err(err).Str("agent", agent.ID).Msg("Failed to terminate dismissed agent")
	}

	if agent.Supervisor != "" {
		a.send(ctx, agent.Supervisor, bus.KindDismissalNotice, map[string]interface{}{
			"agent":  agent.ID,
			"reason": reason,
		})
	}
	if a.lifecycle != nil {
		a.lifecycle.RequestReplacement(ctx, agent, reason)
	}

	a.log.Warn().Str("agent", agent.ID).Str("reason", reason).Msg("Agent dismissed")
}

// nextTowardTerminated maps every non-terminal status to its next hop
// on a legal path to terminated
var nextTowardTerminated = map[roster.Status]roster.Status{
	roster.StatusInitializing:    roster.StatusFailed,
	roster.StatusIdle:            roster.StatusShuttingDown,
	roster.StatusWorking:         roster.StatusFailed,
	roster.StatusWaitingApproval: roster.StatusBlocked,
	roster.StatusBlocked:         roster.StatusFailed,
	roster.StatusFailed:          roster.StatusTerminated,
	roster.StatusShuttingDown:    roster.StatusTerminated,
}

// terminate walks the agent to terminated along a legal transition path
func terminate(agent *roster.Agent, reason string) error {
	for !agent.IsTerminal() {
		next := nextTowardTerminated[agent.Status()]
		if err := agent.Transition(next, reason); err != nil {
			return err
		}
	}
	return nil
}

func (a *Accountability) send(ctx context.Context, to string, kind bus.Kind, content map[string]interface{}) {
	if a.bus == nil {
		return
	}
	m := bus.NewMessage(governanceSender, to, a.taskID, kind, content).WithPriority(bus.PriorityUrgent)
	if err := a.bus.Send(ctx, m); err != nil {
		a.log.Warn().Err(err).Str("to", to).Str("kind", string(kind)).Msg("Failed to send governance message")
	}
}
