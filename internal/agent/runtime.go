// Package agent implements the per-agent runtime: the tick loop that
// drains the inbox, invokes the layer behavior, acknowledges the
// heartbeat, and routes behavior failures through the recovery
// pipeline. The three layer behaviors live here too.
package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/hivemind/internal/blackboard"
	"github.com/ajitpratap0/hivemind/internal/bus"
	"github.com/ajitpratap0/hivemind/internal/config"
	"github.com/ajitpratap0/hivemind/internal/recovery"
	"github.com/ajitpratap0/hivemind/internal/roster"
)

// RecoveryObserver lets a behavior resolve its in-flight work when a
// tick failure has been planned: keep it armed on a retry, or settle it
// when the plan escalates. Behaviors implement it optionally.
type RecoveryObserver interface {
	OnRecoveryPlan(ctx context.Context, rt *Runtime, plan recovery.Plan, cause error)
}

// Behavior is the layer-specific brain invoked by the runtime each tick
type Behavior interface {
	// OnInit runs once between bus registration and the idle transition
	OnInit(ctx context.Context, rt *Runtime) error
	// OnProcess handles the tick's drained messages. Any error is
	// caught by the runtime and fed to the recovery pipeline.
	OnProcess(ctx context.Context, rt *Runtime, tick int64, msgs []*bus.Message) error
	// OnShutdown runs during graceful shutdown
	OnShutdown(ctx context.Context, rt *Runtime) error
}

// Runtime drives one agent. It exclusively owns the agent record; the
// bus owns the inbox it drains.
type Runtime struct {
	agent     *roster.Agent
	bus       *bus.Bus
	board     *blackboard.Blackboard
	behavior  Behavior
	planner   *recovery.Planner
	topRoster func() []string
	hooks     []roster.TransitionHook
	log       zerolog.Logger

	queue []*bus.Message
}

// NewRuntime wires a runtime for one agent. topRoster supplies top-layer
// ids for critical escalation; hooks observe state transitions.
func NewRuntime(a *roster.Agent, b *bus.Bus, board *blackboard.Blackboard, behavior Behavior, topRoster func() []string, hooks ...roster.TransitionHook) *Runtime {
	return &Runtime{
		agent:     a,
		bus:       b,
		board:     board,
		behavior:  behavior,
		planner:   recovery.NewPlanner(0),
		topRoster: topRoster,
		hooks:     hooks,
		log:       config.NewAgentLogger(a.ID, string(a.Layer)),
	}
}

// Agent returns the runtime's agent record
func (rt *Runtime) Agent() *roster.Agent { return rt.agent }

// Board returns the shared blackboard
func (rt *Runtime) Board() *blackboard.Blackboard { return rt.board }

// Actor returns the agent's identity for blackboard permission checks
func (rt *Runtime) Actor() blackboard.Actor {
	return blackboard.Actor{
		ID:         rt.agent.ID,
		Layer:      rt.agent.Layer,
		Supervisor: rt.agent.Supervisor,
	}
}

// OwnScope returns the blackboard scope and owner an agent writes to
func (rt *Runtime) OwnScope() (blackboard.Scope, string) {
	switch rt.agent.Layer {
	case roster.LayerTop:
		return blackboard.ScopeTop, ""
	case roster.LayerMid:
		return blackboard.ScopeMid, rt.agent.ID
	default:
		return blackboard.ScopeBottom, rt.agent.ID
	}
}

// Transition moves the agent through its state machine with the
// runtime's registered hooks attached
func (rt *Runtime) Transition(to roster.Status, reason string) error {
	return rt.agent.Transition(to, reason, rt.hooks...)
}

// Send routes a message from this agent
func (rt *Runtime) Send(ctx context.Context, to string, kind bus.Kind, content map[string]interface{}, priority bus.Priority) error {
	m := bus.NewMessage(rt.agent.ID, to, rt.agent.TaskID, kind, content).WithPriority(priority)
	return rt.bus.Send(ctx, m)
}

// Init registers with the bus, runs the behavior's init, and moves the
// agent to idle.
func (rt *Runtime) Init(ctx context.Context) error {
	if err := rt.bus.RegisterAgent(rt.agent.ID); err != nil {
		return fmt.Errorf("failed to register agent %s: %w", rt.agent.ID, err)
	}

	_ = rt.Send(ctx, bus.RecipientSystem, bus.KindAgentRegister, map[string]interface{}{
		"layer": string(rt.agent.Layer),
		"name":  rt.agent.Name,
	}, bus.PriorityNormal)

	if err := rt.behavior.OnInit(ctx, rt); err != nil {
		_ = rt.Transition(roster.StatusFailed, fmt.Sprintf("init failed: %v", err))
		return fmt.Errorf("agent %s init failed: %w", rt.agent.ID, err)
	}

	if err := rt.Transition(roster.StatusIdle, "initialized"); err != nil {
		return err
	}

	rt.log.Info().Str("name", rt.agent.Name).Msg("Agent initialized")
	return nil
}

// Tick runs one full heartbeat cycle. The team lifecycle instead calls
// Drain for every agent and then Process for every agent, so messages
// produced in tick k are never visible to a recipient within k.
func (rt *Runtime) Tick(ctx context.Context, tick int64) {
	rt.Drain(tick)
	rt.Process(ctx, tick)
}

// Drain moves the inbox into the runtime's internal queue
func (rt *Runtime) Drain(tick int64) {
	if rt.agent.IsTerminal() || rt.agent.Status() == roster.StatusShuttingDown {
		return
	}
	rt.queue = append(rt.queue, rt.bus.GetMessages(rt.agent.ID)...)
}

// Process invokes the behavior on the drained messages, acknowledges
// the heartbeat, and settles back to idle. Behavior errors are caught
// and recovered, never propagated into the clock.
func (rt *Runtime) Process(ctx context.Context, tick int64) {
	if rt.agent.IsTerminal() || rt.agent.Status() == roster.StatusShuttingDown {
		return
	}

	if len(rt.queue) > 0 && rt.agent.Status() == roster.StatusIdle {
		if err := rt.Transition(roster.StatusWorking, "messages pending"); err != nil {
			rt.log.Warn().Err(err).Msg("Failed to enter working state")
		}
	}

	err := rt.invoke(ctx, tick, rt.queue)

	processed := len(rt.queue)
	rt.queue = rt.queue[:0]

	if err != nil {
		rt.agent.RecordMissedHeartbeat()
		rt.handleError(ctx, tick, err)
		return
	}

	rt.agent.RecordHeartbeat(tick, processed)
	rt.bus.UpdateLastSeen(rt.agent.ID)

	_ = rt.Send(ctx, bus.RecipientSystem, bus.KindHeartbeatAck, map[string]interface{}{
		"tick": tick,
	}, bus.PriorityNormal)

	if rt.agent.Status() == roster.StatusWorking {
		if err := rt.Transition(roster.StatusIdle, "tick complete"); err != nil {
			rt.log.Warn().Err(err).Msg("Failed to settle to idle")
		}
	}

	rt.agent.ResetRetry()
}

// invoke shields the tick loop from behavior panics
func (rt *Runtime) invoke(ctx context.Context, tick int64, msgs []*bus.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("behavior panicked: %v", r)
		}
	}()
	return rt.behavior.OnProcess(ctx, rt, tick, msgs)
}

// handleError runs the recovery pipeline for one failed tick
func (rt *Runtime) handleError(ctx context.Context, tick int64, cause error) {
	plan := rt.planner.PlanFor(cause, rt.agent.RetryCount())

	rt.log.Warn().
		Err(cause).
		Str("action", string(plan.Action)).
		Str("severity", string(plan.Severity)).
		Int("attempt", plan.Attempt).
		Int64("tick", tick).
		Msg("Agent tick failed")

	switch plan.Action {
	case recovery.ActionRetry:
		rt.agent.IncrementRetry()

	case recovery.ActionPeerTakeover:
		rt.agent.ResetRetry()
		_ = rt.Send(ctx, bus.RecipientBroadcast, bus.KindPeerHelpRequest, map[string]interface{}{
			"layer":  string(rt.agent.Layer),
			"reason": cause.Error(),
			"task":   rt.pendingWork(),
		}, bus.PriorityHigh)

	case recovery.ActionEscalateToSupervisor:
		rt.agent.ResetRetry()
		if rt.agent.Supervisor != "" {
			_ = rt.Send(ctx, rt.agent.Supervisor, bus.KindErrorReport, map[string]interface{}{
				"error":    cause.Error(),
				"severity": string(plan.Severity),
			}, bus.PriorityUrgent)
		}

	case recovery.ActionEscalateToTop:
		rt.agent.ResetRetry()
		if rt.topRoster != nil {
			for _, top := range rt.topRoster() {
				_ = rt.Send(ctx, top, bus.KindErrorReport, map[string]interface{}{
					"error":    cause.Error(),
					"severity": string(plan.Severity),
				}, bus.PriorityUrgent)
			}
		}
	}

	// The behavior settles its in-flight work against the plan. This
	// runs after the switch so a takeover broadcast still carries the
	// work item.
	if observer, ok := rt.behavior.(RecoveryObserver); ok {
		observer.OnRecoveryPlan(ctx, rt, plan, cause)
	}
}

// pendingWork exposes behavior state for takeover requests when the
// behavior carries a current work item
func (rt *Runtime) pendingWork() map[string]interface{} {
	if carrier, ok := rt.behavior.(interface{ CurrentWork() map[string]interface{} }); ok {
		return carrier.CurrentWork()
	}
	return nil
}

// Shutdown gracefully stops the agent: shutting_down, behavior
// teardown, bus unregistration, terminated.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	status := rt.agent.Status()
	if status == roster.StatusTerminated {
		return nil
	}

	// Settle to idle, from which shutting_down is reachable; blocked and
	// initializing agents go to failed and terminate directly below
	switch status {
	case roster.StatusWorking, roster.StatusWaitingApproval:
		_ = rt.Transition(roster.StatusIdle, "shutdown requested")
	case roster.StatusBlocked, roster.StatusInitializing:
		_ = rt.Transition(roster.StatusFailed, "shutdown requested")
	}

	if rt.agent.Status() == roster.StatusFailed {
		rt.bus.UnregisterAgent(rt.agent.ID)
		return rt.Transition(roster.StatusTerminated, "shutdown from failed state")
	}

	if err := rt.Transition(roster.StatusShuttingDown, "shutdown requested"); err != nil {
		return err
	}

	if err := rt.behavior.OnShutdown(ctx, rt); err != nil {
		rt.log.Warn().Err(err).Msg("Behavior shutdown error")
	}

	_ = rt.Send(ctx, bus.RecipientSystem, bus.KindAgentUnregister, map[string]interface{}{
		"layer": string(rt.agent.Layer),
	}, bus.PriorityNormal)
	rt.bus.UnregisterAgent(rt.agent.ID)

	if err := rt.Transition(roster.StatusTerminated, "shutdown complete"); err != nil {
		return err
	}

	rt.log.Info().Msg("Agent shut down")
	return nil
}
