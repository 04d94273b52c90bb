package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ajitpratap0/hivemind/internal/bus"
)

// Decomposer splits a task into per-subordinate work items. When nil,
// the behavior falls back to round-robin slicing across subordinates.
type Decomposer func(task map[string]interface{}, subordinates []string) []map[string]interface{}

// AssignObserver learns which agent each work item went to, so failures
// can be attributed later. The accountability module plugs in here.
type AssignObserver func(workItem, agentID string)

// FailureObserver learns of a work item's final failure so the
// accountability module can warn the responsible agents
type FailureObserver func(workItem, reason string)

// summaryCadence is how many acknowledged heartbeats pass between
// upward progress summaries
const summaryCadence = 10

// MidBehavior coordinates a group of bottom-layer subordinates:
// decomposing assignments, aggregating progress, escalating trouble,
// and summarizing upward.
type MidBehavior struct {
	decomposer Decomposer
	onAssign   AssignObserver
	onFailure  FailureObserver

	subStatus map[string]string // subordinate id -> last reported status
	nextSub   int               // round-robin cursor
}

// NewMidBehavior wires a mid-layer behavior. Any observer may be nil.
func NewMidBehavior(decomposer Decomposer, onAssign AssignObserver, onFailure FailureObserver) *MidBehavior {
	return &MidBehavior{
		decomposer: decomposer,
		onAssign:   onAssign,
		onFailure:  onFailure,
		subStatus:  make(map[string]string),
	}
}

// OnInit implements Behavior
func (b *MidBehavior) OnInit(ctx context.Context, rt *Runtime) error {
	return nil
}

// OnShutdown implements Behavior
func (b *MidBehavior) OnShutdown(ctx context.Context, rt *Runtime) error {
	return nil
}

// OnProcess implements Behavior
func (b *MidBehavior) OnProcess(ctx context.Context, rt *Runtime, tick int64, msgs []*bus.Message) error {
	for _, m := range msgs {
		switch m.Kind {
		case bus.KindTaskAssign:
			if err := b.delegate(ctx, rt, m); err != nil {
				return err
			}
		case bus.KindProgressReport:
			b.recordProgress(ctx, rt, m)
		case bus.KindTaskFail:
			b.subStatus[m.From] = "failed"
			if b.onFailure != nil {
				b.onFailure(stringField(m.Content, "work_item"), stringField(m.Content, "error"))
			}
		case bus.KindPeerCoordination:
			_ = rt.Send(ctx, m.From, bus.KindPeerCoordinationResponse, map[string]interface{}{
				"subordinate_status": b.statusSnapshot(),
			}, bus.PriorityNormal)
		case bus.KindStatusQuery:
			_ = rt.Send(ctx, m.From, bus.KindStatusReport, map[string]interface{}{
				"status":       string(rt.Agent().Status()),
				"subordinates": b.statusSnapshot(),
			}, bus.PriorityNormal)
		case bus.KindErrorReport:
			b.subStatus[m.From] = "failed"
		}
	}

	b.escalateTrouble(ctx, rt)

	// Every summaryCadence-th acknowledged heartbeat, summarize upward
	if responded := rt.Agent().Metrics().HeartbeatsResponded; responded > 0 && responded%summaryCadence == 0 {
		b.summarizeUpward(ctx, rt, tick)
	}
	return nil
}

// delegate decomposes an assignment from the top layer and fans the
// pieces out to subordinates.
func (b *MidBehavior) delegate(ctx context.Context, rt *Runtime, m *bus.Message) error {
	subs := rt.Agent().SubordinateIDs()
	if len(subs) == 0 {
		return fmt.Errorf("no subordinates to delegate to")
	}

	var pieces []map[string]interface{}
	if b.decomposer != nil {
		pieces = b.decomposer(m.Content, subs)
	}
	if len(pieces) == 0 {
		pieces = roundRobinSplit(m.Content, subs)
	}

	for i, piece := range pieces {
		target := subs[(b.nextSub+i)%len(subs)]
		workItem := stringField(piece, "work_item")
		if workItem == "" {
			workItem = uuid.NewString()
			piece["work_item"] = workItem
		}

		if err := rt.Send(ctx, target, bus.KindTaskAssign, piece, bus.PriorityNormal); err != nil {
			return fmt.Errorf("failed to assign %s to %s: %w", workItem, target, err)
		}
		if b.onAssign != nil {
			b.onAssign(workItem, target)
		}
		b.subStatus[target] = "assigned"
	}
	b.nextSub = (b.nextSub + len(pieces)) % len(subs)
	return nil
}

// roundRobinSplit is the fallback decomposition: one identical work
// item per subordinate, tagged with its slice index.
func roundRobinSplit(task map[string]interface{}, subs []string) []map[string]interface{} {
	pieces := make([]map[string]interface{}, len(subs))
	for i := range subs {
		piece := make(map[string]interface{}, len(task)+2)
		for k, v := range task {
			piece[k] = v
		}
		piece["work_item"] = uuid.NewString()
		piece["slice"] = i
		pieces[i] = piece
	}
	return pieces
}

// recordProgress folds a subordinate's report into the status map and
// appends it to the own whiteboard.
func (b *MidBehavior) recordProgress(ctx context.Context, rt *Runtime, m *bus.Message) {
	status := stringField(m.Content, "status")
	if status == "" {
		status = "reported"
	}
	b.subStatus[m.From] = status

	scope, owner := rt.OwnScope()
	entry := fmt.Sprintf("Progress from %s: %s (work item %s)",
		m.From, status, stringField(m.Content, "work_item"))
	if err := rt.Board().Append(ctx, scope, owner, rt.Actor(), entry); err != nil {
		// Whiteboard contention is retryable; the report stays in subStatus
		return
	}
}

// escalateTrouble raises an issue_escalation when subordinates are
// blocked or failed: high severity if anything failed, medium otherwise.
func (b *MidBehavior) escalateTrouble(ctx context.Context, rt *Runtime) {
	var blocked, failed []string
	for id, status := range b.subStatus {
		switch status {
		case "blocked":
			blocked = append(blocked, id)
		case "failed":
			failed = append(failed, id)
		}
	}
	if len(blocked) == 0 && len(failed) == 0 {
		return
	}
	if rt.Agent().Supervisor == "" {
		return
	}

	severity := "medium"
	priority := bus.PriorityHigh
	if len(failed) > 0 {
		severity = "high"
		priority = bus.PriorityUrgent
	}
	sort.Strings(blocked)
	sort.Strings(failed)

	_ = rt.Send(ctx, rt.Agent().Supervisor, bus.KindIssueEscalation, map[string]interface{}{
		"severity": severity,
		"blocked":  strings.Join(blocked, ","),
		"failed":   strings.Join(failed, ","),
	}, priority)

	// Escalated subordinates are cleared so the issue is raised once
	for _, id := range failed {
		delete(b.subStatus, id)
	}
	for _, id := range blocked {
		delete(b.subStatus, id)
	}
}

// summarizeUpward sends the periodic progress_report to the supervisor
func (b *MidBehavior) summarizeUpward(ctx context.Context, rt *Runtime, tick int64) {
	if rt.Agent().Supervisor == "" {
		return
	}
	_ = rt.Send(ctx, rt.Agent().Supervisor, bus.KindProgressReport, map[string]interface{}{
		"status":       "summary",
		"tick":         tick,
		"subordinates": b.statusSnapshot(),
	}, bus.PriorityNormal)
}

func (b *MidBehavior) statusSnapshot() map[string]interface{} {
	out := make(map[string]interface{}, len(b.subStatus))
	for id, status := range b.subStatus {
		out[id] = status
	}
	return out
}
