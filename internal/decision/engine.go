// Package decision implements the signature protocol: proposals that
// require signatures from a permitted signer set before approval,
// subject to veto, wall-clock timeout with reminders, and appeal with a
// top-layer vote.
package decision

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/hivemind/internal/audit"
	"github.com/ajitpratap0/hivemind/internal/bus"
	"github.com/ajitpratap0/hivemind/internal/recovery"
	"github.com/ajitpratap0/hivemind/internal/roster"
	"github.com/ajitpratap0/hivemind/internal/store"
)

// Status is a decision's lifecycle state. approved and rejected are
// terminal; appealing is only reachable from rejected.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusAppealing Status = "appealing"
)

// engineSender identifies the engine on the bus
const engineSender = "decision-engine"

// Protocol failures surfaced to callers
var (
	ErrNotPending    = errors.New("decision is not pending")
	ErrNotPermitted  = errors.New("agent is not a permitted signer")
	ErrAlreadyActed  = errors.New("agent already signed or vetoed")
	ErrUnknownKind   = errors.New("unknown decision type")
	ErrNotAppealable = errors.New("decision is not appealable")
	ErrNotProposer   = errors.New("only the proposer may appeal")
	ErrAlreadyVoted  = errors.New("voter already voted")
	ErrNotVoter      = errors.New("agent is not on the voting roster")
	ErrNoAppeal      = errors.New("decision has no open appeal")
)

// Decision is one proposal moving through the protocol
type Decision struct {
	ID              string                 `json:"id"`
	TaskID          string                 `json:"task_id"`
	ProposerID      string                 `json:"proposer_id"`
	Kind            roster.DecisionKind    `json:"type"`
	Content         map[string]interface{} `json:"content"`
	RequiredSigners []string               `json:"required_signers"`
	Signers         []string               `json:"signers"`
	Vetoers         []string               `json:"vetoers"`
	Status          Status                 `json:"status"`
	CreatedAt       time.Time              `json:"created_at"`
	ApprovedAt      *time.Time             `json:"approved_at,omitempty"`
	RejectedAt      *time.Time             `json:"rejected_at,omitempty"`
}

// snapshot returns a deep-enough copy for callers
func (d *Decision) snapshot() *Decision {
	clone := *d
	clone.RequiredSigners = append([]string(nil), d.RequiredSigners...)
	clone.Signers = append([]string(nil), d.Signers...)
	clone.Vetoers = append([]string(nil), d.Vetoers...)
	return &clone
}

func (d *Decision) terminal() bool {
	return d.Status == StatusApproved || d.Status == StatusRejected
}

func contains(set []string, id string) bool {
	for _, s := range set {
		if s == id {
			return true
		}
	}
	return false
}

// Config configures the engine
type Config struct {
	Timeout         time.Duration
	EnableReminders bool
	// VoteThreshold is the support fraction an appeal must reach,
	// rounded up against the roster size. Two thirds by default.
	VoteThreshold float64
}

// DefaultEngineConfig returns default decision configuration
func DefaultEngineConfig() Config {
	return Config{
		Timeout:         5 * time.Minute,
		EnableReminders: true,
		VoteThreshold:   2.0 / 3.0,
	}
}

// signatureThreshold returns how many signatures approve a decision kind
func signatureThreshold(kind roster.DecisionKind) int {
	if kind == roster.DecisionMilestoneConfirmation {
		return 3
	}
	return 2
}

// requiredContentKeys maps each decision kind to its mandatory content keys
var requiredContentKeys = map[roster.DecisionKind][]string{
	roster.DecisionTechnicalProposal:     {"proposal"},
	roster.DecisionTaskAllocation:        {"task_id", "assignee"},
	roster.DecisionResourceAdjustment:    {"adjustment"},
	roster.DecisionMilestoneConfirmation: {"milestone"},
}

type timers struct {
	timeout   *recovery.ExecutionMonitor
	reminders []*recovery.ExecutionMonitor
}

func (t *timers) cancel() {
	if t == nil {
		return
	}
	t.timeout.Cancel()
	for _, r := range t.reminders {
		r.Cancel()
	}
}

// Engine owns every decision and appeal record of one task. All
// mutations are serialized under its lock; timers re-enter through the
// same lock so timeout handling observes a consistent state.
type Engine struct {
	taskID    string
	bus       *bus.Bus
	decisions store.DecisionRepo
	appeals   store.AppealRepo
	audit     *audit.Recorder
	topRoster func() []string
	config    Config
	log       zerolog.Logger

	mu      sync.Mutex
	byID    map[string]*Decision
	appeal  map[string]*Appeal // decision id -> open appeal
	pending map[string]*timers
}

// NewEngine creates the decision engine for one task. topRoster supplies
// the current top-layer agent ids for appeal votes.
func NewEngine(taskID string, b *bus.Bus, repos *store.Repositories, rec *audit.Recorder, topRoster func() []string, config Config) *Engine {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.VoteThreshold <= 0 || config.VoteThreshold > 1 {
		config.VoteThreshold = 2.0 / 3.0
	}
	// 0.67 is the conventional config spelling of two thirds; taking it
	// literally would demand 3 of 3 votes instead of 2
	if config.VoteThreshold == 0.67 {
		config.VoteThreshold = 2.0 / 3.0
	}
	e := &Engine{
		taskID:    taskID,
		bus:       b,
		audit:     rec,
		topRoster: topRoster,
		config:    config,
		log:       log.With().Str("component", "decision").Str("task_id", taskID).Logger(),
		byID:      make(map[string]*Decision),
		appeal:    make(map[string]*Appeal),
		pending:   make(map[string]*timers),
	}
	if repos != nil {
		e.decisions = repos.Decisions
		e.appeals = repos.Appeals
	}
	return e
}

// Propose validates and opens a new pending decision, fanning a
// signature request out to every required signer and arming the timeout
// and reminder series.
func (e *Engine) Propose(ctx context.Context, proposer string, kind roster.DecisionKind, content map[string]interface{}, requiredSigners []string) (*Decision, error) {
	if proposer == "" {
		return nil, fmt.Errorf("proposer is required")
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if content == nil {
		return nil, fmt.Errorf("content is required")
	}
	for _, key := range requiredContentKeys[kind] {
		if _, ok := content[key]; !ok {
			return nil, fmt.Errorf("content for %s requires key %q", kind, key)
		}
	}
	if len(requiredSigners) == 0 {
		return nil, fmt.Errorf("at least one required signer is needed")
	}

	d := &Decision{
		ID:              uuid.NewString(),
		TaskID:          e.taskID,
		ProposerID:      proposer,
		Kind:            kind,
		Content:         content,
		RequiredSigners: append([]string(nil), requiredSigners...),
		Signers:         []string{},
		Vetoers:         []string{},
		Status:          StatusPending,
		CreatedAt:       time.Now(),
	}

	e.mu.Lock()
	e.byID[d.ID] = d
	e.pending[d.ID] = e.armTimers(d.ID)
	e.mu.Unlock()

	e.persistDecision(ctx, d)
	if e.audit != nil {
		e.audit.Record(ctx, proposer, audit.EventDecision, fmt.Sprintf("proposed %s", kind), map[string]interface{}{
			"decision_id": d.ID,
		})
	}

	for _, signer := range requiredSigners {
		e.send(ctx, signer, bus.KindSignatureRequest, map[string]interface{}{
			"decision_id": d.ID,
			"type":        string(kind),
			"proposer":    proposer,
			"content":     content,
		}, bus.PriorityNormal)
	}

	e.log.Info().
		Str("decision_id", d.ID).
		Str("type", string(kind)).
		Str("proposer", proposer).
		Int("required_signers", len(requiredSigners)).
		Msg("Decision proposed")

	return d.snapshot(), nil
}

// Sign records one signature. Reaching the per-type threshold approves
// the decision, cancels its timers, and notifies the proposer.
func (e *Engine) Sign(ctx context.Context, decisionID, signer string) (*Decision, error) {
	e.mu.Lock()
	d, ok := e.byID[decisionID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("decision %s not found", decisionID)
	}
	if d.Status != StatusPending {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, decisionID, d.Status)
	}
	if !contains(d.RequiredSigners, signer) {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotPermitted, signer)
	}
	if contains(d.Signers, signer) || contains(d.Vetoers, signer) {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyActed, signer)
	}

	d.Signers = append(d.Signers, signer)
	approved := len(d.Signers) >= signatureThreshold(d.Kind)
	if approved {
		now := time.Now()
		d.Status = StatusApproved
		d.ApprovedAt = &now
		e.cancelTimersLocked(decisionID)
	}
	snap := d.snapshot()
	e.mu.Unlock()

	e.persistDecision(ctx, snap)

	e.log.Info().
		Str("decision_id", decisionID).
		Str("signer", signer).
		Int("signatures", len(snap.Signers)).
		Bool("approved", approved).
		Msg("Decision signed")

	if approved {
		e.send(ctx, snap.ProposerID, bus.KindSignatureApprove, map[string]interface{}{
			"decision_id": decisionID,
			"signers":     snap.Signers,
		}, bus.PriorityNormal)
	}
	return snap, nil
}

// Veto rejects a pending decision. Any permitted signer may veto; the
// rejection is terminal unless successfully appealed.
func (e *Engine) Veto(ctx context.Context, decisionID, vetoer, reason string) (*Decision, error) {
	e.mu.Lock()
	d, ok := e.byID[decisionID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("decision %s not found", decisionID)
	}
	if d.Status != StatusPending {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, decisionID, d.Status)
	}
	if !contains(d.RequiredSigners, vetoer) {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotPermitted, vetoer)
	}
	if contains(d.Signers, vetoer) || contains(d.Vetoers, vetoer) {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyActed, vetoer)
	}

	now := time.Now()
	d.Vetoers = append(d.Vetoers, vetoer)
	d.Status = StatusRejected
	d.RejectedAt = &now
	e.cancelTimersLocked(decisionID)
	snap := d.snapshot()
	e.mu.Unlock()

	e.persistDecision(ctx, snap)
	if e.audit != nil {
		e.audit.Record(ctx, vetoer, audit.EventVeto, reason, map[string]interface{}{
			"decision_id": decisionID,
		})
	}

	e.send(ctx, snap.ProposerID, bus.KindSignatureVeto, map[string]interface{}{
		"decision_id": decisionID,
		"vetoer":      vetoer,
		"reason":      reason,
	}, bus.PriorityHigh)

	e.log.Info().
		Str("decision_id", decisionID).
		Str("vetoer", vetoer).
		Str("reason", reason).
		Msg("Decision vetoed")

	return snap, nil
}

// Get returns a snapshot of one decision
func (e *Engine) Get(decisionID string) (*Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.byID[decisionID]
	if !ok {
		return nil, fmt.Errorf("decision %s not found", decisionID)
	}
	return d.snapshot(), nil
}

// List returns snapshots of every decision, oldest first
func (e *Engine) List() []*Decision {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Decision, 0, len(e.byID))
	for _, d := range e.byID {
		out = append(out, d.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// armTimers schedules the timeout and the escalating reminder series.
// Caller holds e.mu.
func (e *Engine) armTimers(decisionID string) *timers {
	t := &timers{
		timeout: recovery.NewExecutionMonitor(e.config.Timeout, func() {
			e.expire(decisionID)
		}),
	}
	if e.config.EnableReminders {
		t.reminders = append(t.reminders,
			recovery.NewExecutionMonitor(e.config.Timeout*2/3, func() {
				e.remind(decisionID, bus.PriorityHigh)
			}),
			recovery.NewExecutionMonitor(e.config.Timeout*5/6, func() {
				e.remind(decisionID, bus.PriorityUrgent)
			}),
		)
	}
	return t
}

func (e *Engine) cancelTimersLocked(decisionID string) {
	e.pending[decisionID].cancel()
	delete(e.pending, decisionID)
}

// expire rejects a decision that is still pending when its timeout fires
func (e *Engine) expire(decisionID string) {
	e.mu.Lock()
	d, ok := e.byID[decisionID]
	if !ok || d.Status != StatusPending {
		e.mu.Unlock()
		return
	}
	now := time.Now()
	d.Status = StatusRejected
	d.RejectedAt = &now
	delete(e.pending, decisionID)
	snap := d.snapshot()
	e.mu.Unlock()

	ctx := context.Background()
	e.persistDecision(ctx, snap)
	e.send(ctx, snap.ProposerID, bus.KindSignatureVeto, map[string]interface{}{
		"decision_id": decisionID,
		"reason":      "timeout",
	}, bus.PriorityHigh)

	e.log.Warn().Str("decision_id", decisionID).Msg("Decision timed out")
}

// remind re-sends the signature request to signers who have not acted
func (e *Engine) remind(decisionID string, priority bus.Priority) {
	e.mu.Lock()
	d, ok := e.byID[decisionID]
	if !ok || d.Status != StatusPending {
		e.mu.Unlock()
		return
	}
	var outstanding []string
	for _, signer := range d.RequiredSigners {
		if !contains(d.Signers, signer) && !contains(d.Vetoers, signer) {
			outstanding = append(outstanding, signer)
		}
	}
	kind := d.Kind
	proposer := d.ProposerID
	e.mu.Unlock()

	ctx := context.Background()
	for _, signer := range outstanding {
		e.send(ctx, signer, bus.KindSignatureRequest, map[string]interface{}{
			"decision_id": decisionID,
			"type":        string(kind),
			"proposer":    proposer,
			"reminder":    true,
		}, priority)
	}

	e.log.Debug().
		Str("decision_id", decisionID).
		Str("priority", priority.String()).
		Int("outstanding", len(outstanding)).
		Msg("Signature reminder sent")
}

func (e *Engine) send(ctx context.Context, to string, kind bus.Kind, content map[string]interface{}, priority bus.Priority) {
	if e.bus == nil {
		return
	}
	m := bus.NewMessage(engineSender, to, e.taskID, kind, content).WithPriority(priority)
	if err := e.bus.Send(ctx, m); err != nil {
		e.log.Warn().Err(err).Str("to", to).Str("kind", string(kind)).Msg("Failed to send decision message")
	}
}

func (e *Engine) persistDecision(ctx context.Context, d *Decision) {
	if e.decisions == nil {
		return
	}
	record := &store.DecisionRecord{
		ID:             d.ID,
		TaskID:         d.TaskID,
		ProposerID:     d.ProposerID,
		Type:           string(d.Kind),
		Content:        d.Content,
		RequireSigners: d.RequiredSigners,
		Signers:        d.Signers,
		Vetoers:        d.Vetoers,
		Status:         string(d.Status),
		CreatedAt:      d.CreatedAt,
		ApprovedAt:     d.ApprovedAt,
		RejectedAt:     d.RejectedAt,
	}
	var err error
	if d.Status == StatusPending && len(d.Signers) == 0 && len(d.Vetoers) == 0 {
		err = e.decisions.CreateDecision(ctx, record)
	} else {
		err = e.decisions.UpdateDecision(ctx, record)
	}
	if err != nil {
		e.log.Error().Err(err).Str("decision_id", d.ID).Msg("Failed to persist decision")
	}
}
