// Package roster holds the agent data model: identity, layer, capability
// vocabulary, metrics, and the status state machine. It is the shared
// leaf the runtime, governance, and blackboard layers build on.
package roster

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Layer places an agent in the three-tier hierarchy
type Layer string

const (
	LayerTop    Layer = "top"
	LayerMid    Layer = "mid"
	LayerBottom Layer = "bottom"
)

// Valid reports whether l is a defined layer
func (l Layer) Valid() bool {
	return l == LayerTop || l == LayerMid || l == LayerBottom
}

// PowerKind labels the three top-layer agents whose signature authority
// is partitioned so no single one can approve every decision.
type PowerKind string

const (
	PowerA PowerKind = "A"
	PowerB PowerKind = "B"
	PowerC PowerKind = "C"
)

// Capability declares what roles an agent may fill. Closed vocabulary;
// blueprint admission rejects anything outside it.
type Capability string

const (
	CapPlan       Capability = "plan"
	CapExecute    Capability = "execute"
	CapReflect    Capability = "reflect"
	CapToolCall   Capability = "tool_call"
	CapCodeGen    Capability = "code_gen"
	CapTestExec   Capability = "test_exec"
	CapReview     Capability = "review"
	CapCoordinate Capability = "coordinate"
	CapDelegate   Capability = "delegate"
	CapArbitrate  Capability = "arbitrate"
)

var validCapabilities = map[Capability]struct{}{
	CapPlan: {}, CapExecute: {}, CapReflect: {}, CapToolCall: {},
	CapCodeGen: {}, CapTestExec: {}, CapReview: {}, CapCoordinate: {},
	CapDelegate: {}, CapArbitrate: {},
}

// Valid reports whether c is in the closed capability vocabulary
func (c Capability) Valid() bool {
	_, ok := validCapabilities[c]
	return ok
}

// DecisionKind names the decision types a top agent may be authorized to sign
type DecisionKind string

const (
	DecisionTechnicalProposal     DecisionKind = "technical_proposal"
	DecisionTaskAllocation        DecisionKind = "task_allocation"
	DecisionResourceAdjustment    DecisionKind = "resource_adjustment"
	DecisionMilestoneConfirmation DecisionKind = "milestone_confirmation"
)

// Valid reports whether k is a defined decision kind
func (k DecisionKind) Valid() bool {
	switch k {
	case DecisionTechnicalProposal, DecisionTaskAllocation,
		DecisionResourceAdjustment, DecisionMilestoneConfirmation:
		return true
	}
	return false
}

// Config bounds an agent's retry and execution budget
type Config struct {
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
	TimeoutMS  int `json:"timeout_ms" yaml:"timeout_ms"`
}

// DefaultAgentConfig returns the default per-agent budget
func DefaultAgentConfig() Config {
	return Config{MaxRetries: 3, TimeoutMS: 30000}
}

// Timeout returns the execution budget as a duration
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// TopAttrs carries top-layer-specific attributes
type TopAttrs struct {
	Power              PowerKind      `json:"power"`
	VoteWeight         float64        `json:"vote_weight"`
	SignatureAuthority []DecisionKind `json:"signature_authority"`
}

// MidAttrs carries mid-layer-specific attributes
type MidAttrs struct {
	Domain          string `json:"domain"`
	MaxSubordinates int    `json:"max_subordinates"`
}

// BottomAttrs carries bottom-layer-specific attributes
type BottomAttrs struct {
	Tools []string `json:"tools"`
}

// Agent is one participant: identity, position in the hierarchy,
// capabilities, status, and metrics. The record is owned by its runtime;
// everyone else reads snapshots.
type Agent struct {
	mu sync.Mutex

	ID           string       `json:"id"`
	TaskID       string       `json:"task_id"`
	Name         string       `json:"name"`
	Role         string       `json:"role"`
	Layer        Layer        `json:"layer"`
	Supervisor   string       `json:"supervisor,omitempty"`
	Subordinates []string     `json:"subordinates"`
	Capabilities []Capability `json:"capabilities"`
	Config       Config       `json:"config"`

	Top    *TopAttrs    `json:"top,omitempty"`
	Mid    *MidAttrs    `json:"mid,omitempty"`
	Bottom *BottomAttrs `json:"bottom,omitempty"`

	status     Status
	metrics    Metrics
	retryCount int
}

// NewAgent creates an agent in the initializing state
func NewAgent(taskID, name, role string, layer Layer, caps []Capability, cfg Config) *Agent {
	return &Agent{
		ID:           uuid.NewString(),
		TaskID:       taskID,
		Name:         name,
		Role:         role,
		Layer:        layer,
		Subordinates: []string{},
		Capabilities: caps,
		Config:       cfg,
		status:       StatusInitializing,
	}
}

// HasCapability reports whether the agent declares the capability
func (a *Agent) HasCapability(c Capability) bool {
	for _, have := range a.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// MaySign reports whether a top agent's signature authority covers the
// decision kind. Non-top agents never may.
func (a *Agent) MaySign(kind DecisionKind) bool {
	if a.Layer != LayerTop || a.Top == nil {
		return false
	}
	for _, k := range a.Top.SignatureAuthority {
		if k == kind {
			return true
		}
	}
	return false
}

// Status returns the agent's current lifecycle status
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// RetryCount returns the current consecutive-failure counter
func (a *Agent) RetryCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.retryCount
}

// IncrementRetry bumps the consecutive-failure counter and returns the
// new value
func (a *Agent) IncrementRetry() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retryCount++
	return a.retryCount
}

// ResetRetry clears the consecutive-failure counter
func (a *Agent) ResetRetry() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retryCount = 0
}

// AddSubordinate appends an agent id to the subordinate set if absent
func (a *Agent) AddSubordinate(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.Subordinates {
		if s == id {
			return
		}
	}
	a.Subordinates = append(a.Subordinates, id)
}

// RemoveSubordinate drops an agent id from the subordinate set
func (a *Agent) RemoveSubordinate(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, s := range a.Subordinates {
		if s == id {
			a.Subordinates = append(a.Subordinates[:i], a.Subordinates[i+1:]...)
			return
		}
	}
}

// SubordinateIDs returns a copy of the subordinate set
func (a *Agent) SubordinateIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.Subordinates))
	copy(out, a.Subordinates)
	return out
}

func (a *Agent) String() string {
	return fmt.Sprintf("%s(%s/%s)", a.Name, a.Layer, a.ID)
}
