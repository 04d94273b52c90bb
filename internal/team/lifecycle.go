package team

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/hivemind/internal/agent"
	"github.com/ajitpratap0/hivemind/internal/audit"
	"github.com/ajitpratap0/hivemind/internal/blackboard"
	"github.com/ajitpratap0/hivemind/internal/bus"
	"github.com/ajitpratap0/hivemind/internal/clock"
	"github.com/ajitpratap0/hivemind/internal/config"
	"github.com/ajitpratap0/hivemind/internal/decision"
	"github.com/ajitpratap0/hivemind/internal/governance"
	"github.com/ajitpratap0/hivemind/internal/metrics"
	"github.com/ajitpratap0/hivemind/internal/roster"
	"github.com/ajitpratap0/hivemind/internal/store"
)

// TaskStatus tracks the run owned by a team
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
	TaskFailed    TaskStatus = "failed"
)

// Mode selects how much autonomy the team has
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeSemiAuto Mode = "semi-auto"
)

// observerID is the pseudo-agent the lifecycle uses for status queries
const observerID = "observer"

// Options bundles the collaborators a team is built from
type Options struct {
	Config     *config.Config
	Repos      *store.Repositories
	DocStore   blackboard.DocStore
	Executor   agent.Executor
	Decomposer agent.Decomposer
	// Clock overrides the default heartbeat clock (tests use a manual one)
	Clock *clock.Clock
}

// Team owns one task: the clock, the bus, the blackboard, the
// governance modules, and every agent runtime.
type Team struct {
	taskID      string
	description string
	mode        Mode
	cfg         *config.Config
	log         zerolog.Logger

	clock          *clock.Clock
	bus            *bus.Bus
	board          *blackboard.Blackboard
	repos          *store.Repositories
	audit          *audit.Recorder
	engine         *decision.Engine
	accountability *governance.Accountability
	election       *governance.Election
	waiters        *Waiters
	control        *ControlPlane

	mu       sync.Mutex
	status   TaskStatus
	paused   bool
	runtimes []*agent.Runtime // registration order
	byID     map[string]*agent.Runtime
	topIDs   []string
	executor agent.Executor
}

// New instantiates a team from a validated blueprint. The clock is not
// started; call Start.
func New(description string, mode Mode, bp *Blueprint, opts Options) (*Team, error) {
	if err := bp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid blueprint: %w", err)
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}

	taskID := uuid.NewString()
	t := &Team{
		taskID:      taskID,
		description: description,
		mode:        mode,
		cfg:         opts.Config,
		log:         config.NewTaskLogger(taskID),
		status:      TaskPending,
		byID:        make(map[string]*agent.Runtime),
		executor:    opts.Executor,
		waiters:     NewWaiters(),
	}

	if opts.Repos == nil {
		opts.Repos = store.NewMemoryStore().Repositories()
	}
	t.repos = opts.Repos

	if err := t.repos.Tasks.CreateTask(context.Background(), &store.TaskRecord{
		ID:          taskID,
		Description: description,
		Status:      string(TaskPending),
		Mode:        string(mode),
		CreatedAt:   time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}

	busCfg := bus.Config{
		TaskID:                    taskID,
		MaxQueueSize:              opts.Config.Bus.MaxQueueSize,
		TimeoutThresholdTicks:     int64(opts.Config.Bus.TimeoutThresholdTicks),
		EnableCompression:         opts.Config.Bus.EnableCompression,
		CompressionThresholdBytes: opts.Config.Bus.CompressionThresholdBytes,
	}
	t.bus = bus.New(busCfg, &messageSink{repo: t.repos.Messages})
	t.bus.SetTimeoutHandler(t.onAgentTimeouts)

	docs := opts.DocStore
	if docs == nil {
		docs = blackboard.NewMemoryDocStore()
	}
	t.board = blackboard.New(docs, blackboard.Config{
		LockTTL:      opts.Config.LockTTL(),
		CacheTTL:     time.Duration(opts.Config.Blackboard.CacheTTLMS) * time.Millisecond,
		CacheMaxDocs: opts.Config.Blackboard.CacheMaxDocs,
	})

	t.audit = audit.NewRecorder(taskID, t.repos.Audits)

	t.engine = decision.NewEngine(taskID, t.bus, t.repos, t.audit, t.TopRoster, decision.Config{
		Timeout:         opts.Config.DecisionTimeout(),
		EnableReminders: opts.Config.Decision.EnableReminders,
		VoteThreshold:   opts.Config.Decision.SignatureThreshold,
	})

	t.accountability = governance.NewAccountability(taskID, t.bus, t.audit, t, t, governance.AccountabilityConfig{
		WarningThreshold: int64(opts.Config.Governance.WarningThreshold),
		FailureThreshold: int64(opts.Config.Governance.FailureThreshold),
	})
	t.election = governance.NewElection(taskID, t.bus, t.audit, t, t.accountability, t, t.repos.Elections, governance.ElectionConfig{
		IntervalTicks: int64(opts.Config.Election.IntervalTicks),
		Excellent:     opts.Config.Election.Excellent,
		Good:          opts.Config.Election.Good,
		Poor:          opts.Config.Election.Poor,
		Failing:       opts.Config.Election.Failing,
	})

	if err := t.instantiate(bp, opts); err != nil {
		return nil, err
	}

	t.clock = opts.Clock
	if t.clock == nil {
		t.clock = clock.New(opts.Config.HeartbeatInterval())
	}
	t.clock.Register("bus", func(tick int64) error {
		t.bus.Tick(tick)
		return nil
	})
	t.clock.Register("team", t.tick)
	t.clock.Register("election", func(tick int64) error {
		if tick > 0 && tick%int64(opts.Config.Election.IntervalTicks) == 0 {
			metrics.ElectionRounds.Inc()
		}
		return t.election.OnTick(tick)
	})
	t.clock.Register("metrics", func(tick int64) error {
		metrics.TicksTotal.Inc()
		return nil
	})

	t.log.Info().
		Int("agents", len(t.runtimes)).
		Str("mode", string(mode)).
		Msg("Team instantiated")

	return t, nil
}

// instantiate builds the agent graph: mids round-robin across tops,
// bottoms attached by domain prefix, everyone registered in order.
func (t *Team) instantiate(bp *Blueprint, opts Options) error {
	ctx := context.Background()
	agentCfg := bp.Agent
	if agentCfg.MaxRetries == 0 && agentCfg.TimeoutMS == 0 {
		agentCfg = roster.Config{
			MaxRetries: opts.Config.Agent.MaxRetries,
			TimeoutMS:  opts.Config.Agent.TimeoutMS,
		}
	}

	var tops []*roster.Agent
	for _, role := range bp.Top {
		a := roster.NewAgent(t.taskID, role.Name, role.Role, roster.LayerTop, role.Capabilities, agentCfg)
		a.Top = &roster.TopAttrs{
			Power:              role.Power,
			VoteWeight:         role.VoteWeight,
			SignatureAuthority: role.SignatureAuthority,
		}
		tops = append(tops, a)
		t.topIDs = append(t.topIDs, a.ID)
	}

	var mids []*roster.Agent
	for i, role := range bp.Mid {
		a := roster.NewAgent(t.taskID, role.Name, role.Role, roster.LayerMid, role.Capabilities, agentCfg)
		a.Mid = &roster.MidAttrs{Domain: role.Domain, MaxSubordinates: role.MaxSubordinates}
		supervisor := tops[i%len(tops)]
		a.Supervisor = supervisor.ID
		supervisor.AddSubordinate(a.ID)
		mids = append(mids, a)
	}

	var bottoms []*roster.Agent
	for _, role := range bp.Bottom {
		a := roster.NewAgent(t.taskID, role.Name, role.Role, roster.LayerBottom, role.Capabilities, agentCfg)
		a.Bottom = &roster.BottomAttrs{Tools: role.Tools}
		supervisor := mids[bp.midForBottom(role)]
		a.Supervisor = supervisor.ID
		supervisor.AddSubordinate(a.ID)
		bottoms = append(bottoms, a)
	}

	for _, a := range tops {
		behavior := agent.NewTopBehavior(t.engine, t.TopRoster, nil, nil, nil)
		if err := t.admit(ctx, a, behavior); err != nil {
			return err
		}
	}
	for _, a := range mids {
		if err := t.admit(ctx, a, t.midBehavior(opts.Decomposer)); err != nil {
			return err
		}
	}
	for _, a := range bottoms {
		if err := t.admit(ctx, a, agent.NewBottomBehavior(t.executor)); err != nil {
			return err
		}
	}

	// Observer pseudo-agent receives status replies for external queries
	if err := t.bus.RegisterAgent(observerID); err != nil {
		return err
	}
	return nil
}

// admit persists, wires, and initializes one agent runtime
func (t *Team) admit(ctx context.Context, a *roster.Agent, behavior agent.Behavior) error {
	record := &store.AgentRecord{
		ID:           a.ID,
		TaskID:       t.taskID,
		Name:         a.Name,
		Layer:        string(a.Layer),
		Role:         a.Role,
		Status:       string(a.Status()),
		Supervisor:   a.Supervisor,
		Subordinates: a.SubordinateIDs(),
		Capabilities: capStrings(a.Capabilities),
		Config: map[string]interface{}{
			"max_retries": a.Config.MaxRetries,
			"timeout_ms":  a.Config.TimeoutMS,
		},
		CreatedAt: time.Now(),
	}
	if err := t.repos.Agents.CreateAgent(ctx, record); err != nil {
		t.log.Error().Err(err).Str("agent", a.ID).Msg("Failed to persist agent")
	}

	rt := agent.NewRuntime(a, t.bus, t.board, behavior, t.TopRoster, t.statusHook)
	if err := rt.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize agent %s: %w", a.Name, err)
	}

	t.mu.Lock()
	t.runtimes = append(t.runtimes, rt)
	t.byID[a.ID] = rt
	t.mu.Unlock()
	return nil
}

// statusHook mirrors every state transition into the agent store
func (t *Team) statusHook(a *roster.Agent, from, to roster.Status, reason string) {
	if err := t.repos.Agents.UpdateAgentStatus(context.Background(), a.ID, string(to)); err != nil {
		t.log.Debug().Err(err).Str("agent", a.ID).Msg("Failed to persist agent status")
	}
	metrics.StateTransitions.WithLabelValues(string(to)).Inc()
}

// tick drives one heartbeat across the team: every inbox drains before
// any agent processes, so messages of tick k surface in k+1.
func (t *Team) tick(tick int64) error {
	t.mu.Lock()
	if t.paused {
		t.mu.Unlock()
		return nil
	}
	runtimes := make([]*agent.Runtime, len(t.runtimes))
	copy(runtimes, t.runtimes)
	t.mu.Unlock()

	start := time.Now()
	ctx := context.Background()
	for _, rt := range runtimes {
		rt.Drain(tick)
	}
	for _, rt := range runtimes {
		rt.Process(ctx, tick)
	}

	t.pumpObserver()

	metrics.TickDuration.Observe(time.Since(start).Seconds())
	metrics.ActiveAgents.Set(float64(len(t.bus.RegisteredAgents())))
	return nil
}

// pumpObserver routes replies addressed to the observer pseudo-agent to
// their registered waiters, keyed by the replying agent.
func (t *Team) pumpObserver() {
	t.bus.UpdateLastSeen(observerID)
	for _, m := range t.bus.GetMessages(observerID) {
		t.waiters.Resolve(m.From, m.Content)
	}
}

// onAgentTimeouts handles the bus's batched liveness event. A paused
// team accrues no liveness blame.
func (t *Team) onAgentTimeouts(tick int64, agents []string) {
	t.mu.Lock()
	paused := t.paused
	t.mu.Unlock()
	if paused {
		return
	}

	ctx := context.Background()
	for _, id := range agents {
		rt, ok := t.Get(id)
		if !ok {
			continue
		}
		metrics.AgentTimeouts.Inc()
		metrics.WarningsIssued.Inc()
		t.accountability.IssueWarning(ctx, rt, fmt.Sprintf("missed heartbeats past tick %d", tick))
	}
}

// Start marks the task running and starts the heartbeat clock
func (t *Team) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.status != TaskPending && t.status != TaskPaused {
		t.mu.Unlock()
		return fmt.Errorf("cannot start task in status %s", t.status)
	}
	t.status = TaskRunning
	t.paused = false
	t.mu.Unlock()

	t.persistStatus(ctx, TaskRunning, nil)
	if err := t.clock.Start(); err != nil {
		return err
	}
	t.publish("task_started", nil)
	t.log.Info().Msg("Task started")
	return nil
}

// Pause suspends agent processing; the clock keeps ticking so liveness
// and elections stay consistent when resumed.
func (t *Team) Pause(ctx context.Context, reason string) {
	t.mu.Lock()
	t.paused = true
	t.status = TaskPaused
	t.mu.Unlock()

	t.persistStatus(ctx, TaskPaused, nil)
	t.publish("task_paused", map[string]interface{}{"reason": reason})
	t.log.Info().Str("reason", reason).Msg("Task paused")
}

// Resume continues a paused task. Liveness baselines are refreshed so
// the pause itself never reads as missed heartbeats.
func (t *Team) Resume(ctx context.Context) {
	t.mu.Lock()
	t.paused = false
	t.status = TaskRunning
	runtimes := make([]*agent.Runtime, len(t.runtimes))
	copy(runtimes, t.runtimes)
	t.mu.Unlock()

	for _, rt := range runtimes {
		t.bus.UpdateLastSeen(rt.Agent().ID)
	}

	t.persistStatus(ctx, TaskRunning, nil)
	t.publish("task_resumed", nil)
	t.log.Info().Msg("Task resumed")
}

// Cancel stops the clock and dissolves the team
func (t *Team) Cancel(ctx context.Context) error {
	return t.finish(ctx, TaskCancelled)
}

// Complete ends the task successfully
func (t *Team) Complete(ctx context.Context) error {
	return t.finish(ctx, TaskCompleted)
}

// Fail ends the task as failed
func (t *Team) Fail(ctx context.Context, reason string) error {
	t.log.Error().Str("reason", reason).Msg("Task failed")
	return t.finish(ctx, TaskFailed)
}

func (t *Team) finish(ctx context.Context, status TaskStatus) error {
	t.mu.Lock()
	if t.status == TaskCompleted || t.status == TaskCancelled || t.status == TaskFailed {
		t.mu.Unlock()
		return fmt.Errorf("task already finished as %s", t.status)
	}
	t.status = status
	t.mu.Unlock()

	t.clock.Stop()
	if err := t.dissolve(ctx); err != nil {
		t.log.Warn().Err(err).Msg("Dissolution finished with errors")
	}

	now := time.Now()
	t.persistStatus(ctx, status, &now)
	t.publish("task_"+string(status), nil)
	t.log.Info().Str("status", string(status)).Msg("Task finished")
	return nil
}

// dissolve shuts every agent down, in arbitrary order but awaiting each
func (t *Team) dissolve(ctx context.Context) error {
	t.mu.Lock()
	runtimes := make([]*agent.Runtime, len(t.runtimes))
	copy(runtimes, t.runtimes)
	t.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, rt := range runtimes {
		g.Go(func() error {
			return rt.Shutdown(gctx)
		})
	}
	return g.Wait()
}

// Replace swaps a dismissed or demoted agent for a fresh one: new id,
// same configuration except an empty subordinate set, supervisor
// rewired, and the old agent's subordinates inherited. In-flight work
// of the old agent is not recovered; its supervisor re-assigns.
func (t *Team) Replace(ctx context.Context, old *roster.Agent) (*roster.Agent, error) {
	fresh := roster.NewAgent(t.taskID, old.Name, old.Role, old.Layer, old.Capabilities, old.Config)
	fresh.Supervisor = old.Supervisor
	fresh.Top, fresh.Mid, fresh.Bottom = old.Top, old.Mid, old.Bottom

	// Inherit the old agent's subordinates
	for _, subID := range old.SubordinateIDs() {
		if sub, ok := t.Get(subID); ok {
			sub.Supervisor = fresh.ID
		}
		fresh.AddSubordinate(subID)
	}

	// Rewire the supervisor's subordinate set
	if sup, ok := t.Get(old.Supervisor); ok {
		sup.RemoveSubordinate(old.ID)
		sup.AddSubordinate(fresh.ID)
	}

	if old.Layer == roster.LayerTop {
		for i, id := range t.topIDs {
			if id == old.ID {
				t.topIDs[i] = fresh.ID
			}
		}
	}

	var behavior agent.Behavior
	switch old.Layer {
	case roster.LayerTop:
		behavior = agent.NewTopBehavior(t.engine, t.TopRoster, nil, nil, nil)
	case roster.LayerMid:
		behavior = t.midBehavior(nil)
	default:
		behavior = agent.NewBottomBehavior(t.executor)
	}

	if err := t.admit(ctx, fresh, behavior); err != nil {
		return nil, fmt.Errorf("failed to admit replacement for %s: %w", old.ID, err)
	}

	t.removeRuntime(old.ID)

	t.log.Info().
		Str("old", old.ID).
		Str("new", fresh.ID).
		Str("layer", string(old.Layer)).
		Msg("Agent replaced")
	return fresh, nil
}

func (t *Team) removeRuntime(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, agentID)
	for i, rt := range t.runtimes {
		if rt.Agent().ID == agentID {
			t.runtimes = append(t.runtimes[:i], t.runtimes[i+1:]...)
			break
		}
	}
}

// AssignTask hands the task description to every mid coordinator to
// decompose. This is the kick-off message of a run.
func (t *Team) AssignTask(ctx context.Context, content map[string]interface{}) error {
	if content == nil {
		content = map[string]interface{}{}
	}
	if _, ok := content["description"]; !ok {
		content["description"] = t.description
	}

	t.mu.Lock()
	var mids []string
	for _, rt := range t.runtimes {
		if rt.Agent().Layer == roster.LayerMid {
			mids = append(mids, rt.Agent().ID)
		}
	}
	t.mu.Unlock()

	for _, mid := range mids {
		m := bus.NewMessage(t.topIDs[0], mid, t.taskID, bus.KindTaskAssign, content)
		if err := t.bus.Send(ctx, m); err != nil {
			return fmt.Errorf("failed to assign task to %s: %w", mid, err)
		}
	}
	return nil
}

// QueryAgentStatus sends a status_query on behalf of an external caller
// and waits for the agent's report through the correlation registry.
func (t *Team) QueryAgentStatus(ctx context.Context, agentID string, timeout time.Duration) (map[string]interface{}, error) {
	if _, ok := t.Get(agentID); !ok {
		return nil, fmt.Errorf("agent %s not found", agentID)
	}

	ch := t.waiters.Register(agentID, timeout)
	m := bus.NewMessage(observerID, agentID, t.taskID, bus.KindStatusQuery, nil).
		WithPriority(bus.PriorityHigh)
	if err := t.bus.Send(ctx, m); err != nil {
		t.waiters.Cancel(agentID)
		return nil, err
	}

	select {
	case result := <-ch:
		if Cancelled(result) {
			return nil, fmt.Errorf("status query to %s timed out", agentID)
		}
		return result, nil
	case <-ctx.Done():
		t.waiters.Cancel(agentID)
		return nil, ctx.Err()
	}
}

// Governance roster and lifecycle contracts

// Get returns the live agent record by id
func (t *Team) Get(id string) (*roster.Agent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rt, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	return rt.Agent(), true
}

// Agents returns every live agent record
func (t *Team) Agents() []*roster.Agent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*roster.Agent, 0, len(t.runtimes))
	for _, rt := range t.runtimes {
		out = append(out, rt.Agent())
	}
	return out
}

// TopRoster returns the current top-layer agent ids
func (t *Team) TopRoster() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.topIDs...)
}

// RequestReplacement implements governance.Lifecycle for dismissals
func (t *Team) RequestReplacement(ctx context.Context, a *roster.Agent, reason string) {
	if rt, ok := t.runtime(a.ID); ok {
		_ = rt.Shutdown(ctx)
	}
	if _, err := t.Replace(ctx, a); err != nil {
		t.log.Error().Err(err).Str("agent", a.ID).Msg("Replacement failed")
	}
}

// RequestDemotionMove implements governance.Lifecycle: the demoted mid
// is retired from its layer and re-instantiated one layer down; no new
// mid takes its place.
func (t *Team) RequestDemotionMove(ctx context.Context, a *roster.Agent, reason string) {
	if a.Layer != roster.LayerMid {
		return
	}
	t.moveAcrossLayers(ctx, a, roster.LayerBottom, reason)
}

// RequestPromotionMove implements governance.Lifecycle: the promoted
// bottom agent is re-instantiated as a coordinator.
func (t *Team) RequestPromotionMove(ctx context.Context, a *roster.Agent, reason string) {
	if a.Layer != roster.LayerBottom {
		return
	}
	t.moveAcrossLayers(ctx, a, roster.LayerMid, reason)
}

// moveAcrossLayers retires an agent in its current layer and admits a
// fresh agent with the same identity one layer over. Subordinates of a
// retiring mid move to the first remaining live mid; a promoted bottom
// starts with none.
func (t *Team) moveAcrossLayers(ctx context.Context, old *roster.Agent, target roster.Layer, reason string) {
	if rt, ok := t.runtime(old.ID); ok {
		_ = rt.Shutdown(ctx)
	}

	fresh := roster.NewAgent(t.taskID, old.Name, old.Role, target, old.Capabilities, old.Config)
	var behavior agent.Behavior
	switch target {
	case roster.LayerMid:
		fresh.Mid = &roster.MidAttrs{Domain: old.Name, MaxSubordinates: 10}
		fresh.Supervisor = t.topIDs[0]
		behavior = t.midBehavior(nil)
	case roster.LayerBottom:
		fresh.Bottom = &roster.BottomAttrs{Tools: []string{}}
		fresh.Supervisor = t.firstMidID()
		behavior = agent.NewBottomBehavior(t.executor)
	default:
		return
	}

	// Orphaned subordinates of a demoted mid move to another mid
	if old.Layer == roster.LayerMid {
		fallback := t.firstMidID()
		for _, subID := range old.SubordinateIDs() {
			if sub, ok := t.Get(subID); ok && fallback != "" {
				sub.Supervisor = fallback
				if newSup, ok := t.Get(fallback); ok {
					newSup.AddSubordinate(subID)
				}
			}
		}
	}

	if sup, ok := t.Get(fresh.Supervisor); ok {
		sup.AddSubordinate(fresh.ID)
	}
	if sup, ok := t.Get(old.Supervisor); ok {
		sup.RemoveSubordinate(old.ID)
	}

	if err := t.admit(ctx, fresh, behavior); err != nil {
		t.log.Error().Err(err).Str("agent", old.ID).Msg("Layer move failed")
		return
	}
	t.removeRuntime(old.ID)

	t.log.Info().
		Str("old", old.ID).
		Str("new", fresh.ID).
		Str("from", string(old.Layer)).
		Str("to", string(target)).
		Str("reason", reason).
		Msg("Agent moved across layers")
}

// midBehavior builds a coordinator behavior wired into accountability:
// assignments are recorded for attribution and final work-item failures
// warn the responsible agents.
func (t *Team) midBehavior(decomposer agent.Decomposer) agent.Behavior {
	return agent.NewMidBehavior(decomposer, t.accountability.RecordAssignment,
		func(workItem, reason string) {
			t.accountability.HandleWorkItemFailure(context.Background(), workItem, reason)
		})
}

func (t *Team) firstMidID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rt := range t.runtimes {
		if rt.Agent().Layer == roster.LayerMid && !rt.Agent().IsTerminal() {
			return rt.Agent().ID
		}
	}
	return ""
}

func (t *Team) runtime(id string) (*agent.Runtime, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rt, ok := t.byID[id]
	return rt, ok
}

// Accessors

// TaskID returns the task this team owns
func (t *Team) TaskID() string { return t.taskID }

// Status returns the task status
func (t *Team) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Engine exposes the decision engine
func (t *Team) Engine() *decision.Engine { return t.engine }

// Bus exposes the message bus
func (t *Team) Bus() *bus.Bus { return t.bus }

// Board exposes the blackboard
func (t *Team) Board() *blackboard.Blackboard { return t.board }

// Clock exposes the heartbeat clock
func (t *Team) Clock() *clock.Clock { return t.clock }

// SetControlPlane attaches the external control plane
func (t *Team) SetControlPlane(cp *ControlPlane) {
	t.control = cp
}

func (t *Team) publish(event string, payload map[string]interface{}) {
	if t.control != nil {
		t.control.Publish(event, payload)
	}
}

func (t *Team) persistStatus(ctx context.Context, status TaskStatus, completedAt *time.Time) {
	if err := t.repos.Tasks.UpdateTaskStatus(ctx, t.taskID, string(status), completedAt); err != nil {
		t.log.Error().Err(err).Msg("Failed to persist task status")
	}
}

func capStrings(caps []roster.Capability) []string {
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = string(c)
	}
	return out
}

// messageSink adapts the message repository to the bus sink contract
type messageSink struct {
	repo store.MessageRepo
}

func (s *messageSink) AppendMessage(ctx context.Context, m *bus.Message) error {
	metrics.MessagesRouted.Inc()
	if s.repo == nil {
		return nil
	}
	return s.repo.AppendMessage(ctx, &store.MessageRecord{
		ID:              m.ID,
		TaskID:          m.TaskID,
		FromAgent:       m.From,
		ToAgent:         m.To,
		Type:            string(m.Kind),
		Content:         m.Content,
		Timestamp:       m.Timestamp,
		HeartbeatNumber: m.Tick,
	})
}
