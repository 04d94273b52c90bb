package roster

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Status is an agent's lifecycle state
type Status string

const (
	StatusInitializing    Status = "initializing"
	StatusIdle            Status = "idle"
	StatusWorking         Status = "working"
	StatusWaitingApproval Status = "waiting_approval"
	StatusBlocked         Status = "blocked"
	StatusFailed          Status = "failed"
	StatusShuttingDown    Status = "shutting_down"
	StatusTerminated      Status = "terminated"
)

// allowedTransitions is the complete transition relation. Anything not
// listed is a fault.
var allowedTransitions = map[Status][]Status{
	StatusInitializing:    {StatusIdle, StatusFailed},
	StatusIdle:            {StatusWorking, StatusWaitingApproval, StatusShuttingDown},
	StatusWorking:         {StatusIdle, StatusBlocked, StatusFailed, StatusWaitingApproval},
	StatusWaitingApproval: {StatusWorking, StatusIdle, StatusBlocked},
	StatusBlocked:         {StatusWorking, StatusFailed},
	StatusFailed:          {StatusWorking, StatusTerminated},
	StatusShuttingDown:    {StatusTerminated},
	StatusTerminated:      {},
}

// CanTransition reports whether from → to is in the allowed relation
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionHook observes every successful status change
type TransitionHook func(agent *Agent, from, to Status, reason string)

// Transition moves the agent to a new status with a free-text reason.
// Invalid transitions fail loudly and leave the agent untouched. Hooks
// run after the change, outside the agent's lock; pass nil when no
// observer is wanted.
func (a *Agent) Transition(to Status, reason string, hooks ...TransitionHook) error {
	a.mu.Lock()
	from := a.status
	if !CanTransition(from, to) {
		a.mu.Unlock()
		return fmt.Errorf("invalid transition %s -> %s for agent %s", from, to, a.ID)
	}
	a.status = to
	a.mu.Unlock()

	log.Debug().
		Str("agent", a.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Msg("Agent state transition")

	for _, hook := range hooks {
		if hook != nil {
			hook(a, from, to, reason)
		}
	}
	return nil
}

// ForceStatus sets the status without checking the transition relation.
// Reserved for team instantiation when rehydrating persisted agents.
func (a *Agent) ForceStatus(s Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = s
}

// IsTerminal reports whether the agent has reached its final state
func (a *Agent) IsTerminal() bool {
	return a.Status() == StatusTerminated
}
