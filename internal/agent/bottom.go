package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/hivemind/internal/blackboard"
	"github.com/ajitpratap0/hivemind/internal/bus"
	"github.com/ajitpratap0/hivemind/internal/recovery"
	"github.com/ajitpratap0/hivemind/internal/roster"
)

// Executor performs the actual work of a bottom-layer agent against a
// work item, with the layer and global whiteboards in view. The kernel
// has no opinion on how the work is done.
type Executor func(ctx context.Context, work map[string]interface{}, view *BoardView) (string, error)

// BoardView is the read-only blackboard slice handed to an executor
type BoardView struct {
	Own    *blackboard.Document
	Global *blackboard.Document
}

// BottomBehavior executes assigned work items, reports progress to its
// supervisor, and helps idle peers. A failed work item stays armed
// until the recovery plan for the failure stops being a retry.
type BottomBehavior struct {
	executor Executor
	breaker  *gobreaker.CircuitBreaker

	current       map[string]interface{}
	currentKey    string
	receivedTick  int64
	lastAttemptMS float64
}

// NewBottomBehavior wires a bottom-layer behavior around an executor
func NewBottomBehavior(executor Executor) *BottomBehavior {
	return &BottomBehavior{
		executor: executor,
		breaker:  recovery.NewExecutorBreaker("executor"),
	}
}

// CurrentWork exposes the in-flight work item for peer takeover
func (b *BottomBehavior) CurrentWork() map[string]interface{} {
	return b.current
}

// OnInit implements Behavior
func (b *BottomBehavior) OnInit(ctx context.Context, rt *Runtime) error {
	return nil
}

// OnShutdown implements Behavior
func (b *BottomBehavior) OnShutdown(ctx context.Context, rt *Runtime) error {
	return nil
}

// OnProcess handles one tick: absorb messages, then run the work item
// recorded on a previous tick.
func (b *BottomBehavior) OnProcess(ctx context.Context, rt *Runtime, tick int64, msgs []*bus.Message) error {
	for _, m := range msgs {
		switch m.Kind {
		case bus.KindTaskAssign:
			b.handleAssign(ctx, rt, tick, m)
		case bus.KindPeerHelpRequest:
			b.handleHelpRequest(ctx, rt, tick, m)
		case bus.KindStatusQuery:
			b.handleStatusQuery(ctx, rt, m)
		case bus.KindWarningIssue, bus.KindPromotionNotice:
			// acknowledged implicitly; governance already audited it
		}
	}

	// Work recorded on an earlier tick runs now
	if b.current != nil && tick > b.receivedTick {
		return b.execute(ctx, rt, tick)
	}
	return nil
}

func (b *BottomBehavior) handleAssign(ctx context.Context, rt *Runtime, tick int64, m *bus.Message) {
	if b.current != nil {
		_ = rt.Send(ctx, m.From, bus.KindTaskReject, map[string]interface{}{
			"work_item": m.Content["work_item"],
			"reason":    "busy",
		}, bus.PriorityNormal)
		return
	}

	b.current = m.Content
	b.currentKey = stringField(m.Content, "work_item")
	b.receivedTick = tick

	_ = rt.Send(ctx, m.From, bus.KindTaskAccept, map[string]interface{}{
		"work_item": b.currentKey,
	}, bus.PriorityNormal)
}

// execute runs the executor under the agent's timeout budget and the
// agent's own circuit breaker, writes the result to the own whiteboard, and
// reports upward. On failure the work item stays armed: the recovery
// plan decides through OnRecoveryPlan whether it re-runs or resolves.
func (b *BottomBehavior) execute(ctx context.Context, rt *Runtime, tick int64) error {
	work := b.current
	key := b.currentKey

	if rt.Agent().Status() == roster.StatusIdle {
		if err := rt.Transition(roster.StatusWorking, fmt.Sprintf("executing %s", key)); err != nil {
			return err
		}
	}

	view, err := b.view(ctx, rt)
	if err != nil {
		return err
	}

	start := time.Now()
	execCtx, cancel := context.WithCancel(ctx)
	monitor := recovery.NewExecutionMonitor(rt.Agent().Config.Timeout(), cancel)

	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.executor(execCtx, work, view)
	})
	monitor.Cancel()
	cancel()

	durationMS := float64(time.Since(start).Milliseconds())
	if monitor.Fired() && err != nil {
		err = fmt.Errorf("execution timeout after %s: %w", rt.Agent().Config.Timeout(), err)
	}

	if err != nil {
		b.lastAttemptMS = durationMS
		return fmt.Errorf("work item %s failed: %w", key, err)
	}

	rt.Agent().RecordTaskResult(true, durationMS)
	b.clearWork()

	scope, owner := rt.OwnScope()
	output := fmt.Sprintf("Result for %s:\n\n%v", key, result)
	if err := rt.Board().Append(ctx, scope, owner, rt.Actor(), output); err != nil {
		return fmt.Errorf("failed to record result: %w", err)
	}

	_ = rt.Send(ctx, rt.Agent().Supervisor, bus.KindProgressReport, map[string]interface{}{
		"work_item":   key,
		"status":      "completed",
		"duration_ms": durationMS,
		"tick":        tick,
	}, bus.PriorityNormal)

	return nil
}

func (b *BottomBehavior) clearWork() {
	b.current = nil
	b.currentKey = ""
}

// OnRecoveryPlan resolves a failed execution attempt. Retries leave the
// work item armed so the next tick re-runs it; a peer takeover hands it
// off with the broadcast the runtime already sent; anything else is the
// final failure, reported upward as task_fail so accountability can
// attribute it.
func (b *BottomBehavior) OnRecoveryPlan(ctx context.Context, rt *Runtime, plan recovery.Plan, cause error) {
	if b.current == nil {
		return
	}

	switch plan.Action {
	case recovery.ActionRetry:
		// Re-armed; the backoff delay is advisory under tick scheduling

	case recovery.ActionPeerTakeover:
		b.clearWork()

	default:
		rt.Agent().RecordTaskResult(false, b.lastAttemptMS)
		_ = rt.Send(ctx, rt.Agent().Supervisor, bus.KindTaskFail, map[string]interface{}{
			"work_item": b.currentKey,
			"error":     cause.Error(),
			"attempts":  plan.Attempt + 1,
		}, bus.PriorityHigh)
		b.clearWork()
	}
}

// handleHelpRequest shares the whiteboard with a struggling peer, or
// accepts its work item outright when idle.
func (b *BottomBehavior) handleHelpRequest(ctx context.Context, rt *Runtime, tick int64, m *bus.Message) {
	if stringField(m.Content, "layer") != string(rt.Agent().Layer) {
		return
	}

	if b.current == nil && rt.Agent().Status() != roster.StatusBlocked {
		if task, ok := m.Content["task"].(map[string]interface{}); ok && task != nil {
			b.current = task
			b.currentKey = stringField(task, "work_item")
			b.receivedTick = tick
			_ = rt.Send(ctx, m.From, bus.KindPeerHelpResponse, map[string]interface{}{
				"accepted":  true,
				"work_item": b.currentKey,
			}, bus.PriorityHigh)
			return
		}
	}

	scope, owner := rt.OwnScope()
	doc, err := rt.Board().Read(ctx, scope, owner, rt.Actor())
	if err != nil {
		return
	}
	_ = rt.Send(ctx, m.From, bus.KindPeerHelpResponse, map[string]interface{}{
		"accepted":  false,
		"reference": doc.Content,
	}, bus.PriorityNormal)
}

func (b *BottomBehavior) handleStatusQuery(ctx context.Context, rt *Runtime, m *bus.Message) {
	metrics := rt.Agent().Metrics()
	_ = rt.Send(ctx, m.From, bus.KindStatusReport, map[string]interface{}{
		"status":          string(rt.Agent().Status()),
		"tasks_completed": metrics.TasksCompleted,
		"tasks_failed":    metrics.TasksFailed,
		"current_work":    b.currentKey,
	}, bus.PriorityNormal)
}

func (b *BottomBehavior) view(ctx context.Context, rt *Runtime) (*BoardView, error) {
	scope, owner := rt.OwnScope()
	own, err := rt.Board().Read(ctx, scope, owner, rt.Actor())
	if err != nil {
		return nil, fmt.Errorf("failed to read own whiteboard: %w", err)
	}
	global, err := rt.Board().Read(ctx, blackboard.ScopeGlobal, "", rt.Actor())
	if err != nil {
		return nil, fmt.Errorf("failed to read global whiteboard: %w", err)
	}
	return &BoardView{Own: own, Global: global}, nil
}

func stringField(content map[string]interface{}, key string) string {
	if v, ok := content[key].(string); ok {
		return v
	}
	return ""
}
