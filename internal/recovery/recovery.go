// Package recovery implements the failure pipeline: error severity
// classification, retry budgets with exponential backoff, peer takeover
// and escalation planning, and the per-invocation execution monitor.
package recovery

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Severity classifies an error by how recoverable it is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Action is the planned response to a failure
type Action string

const (
	ActionRetry                Action = "retry"
	ActionPeerTakeover         Action = "peer_takeover"
	ActionEscalateToSupervisor Action = "escalate_to_supervisor"
	ActionEscalateToTop        Action = "escalate_to_top"
)

// DefaultBaseDelay is the base for exponential retry backoff
const DefaultBaseDelay = 5 * time.Second

// classification rules, checked in order; the first match wins
var classifiers = []struct {
	severity   Severity
	substrings []string
}{
	{SeverityCritical, []string{"auth", "permission"}},
	{SeverityHigh, []string{"timeout", "network", "connection", "econnrefused"}},
	{SeverityMedium, []string{"file not found", "file-not-found", "enoent", "syntax"}},
}

// Classify maps an error message to a severity by case-insensitive
// substring match. Unmatched errors are LOW.
func Classify(err error) Severity {
	if err == nil {
		return SeverityLow
	}
	msg := strings.ToLower(err.Error())
	for _, c := range classifiers {
		for _, s := range c.substrings {
			if strings.Contains(msg, s) {
				return c.severity
			}
		}
	}
	return SeverityLow
}

// RetryBudget returns how many retries a severity earns
func RetryBudget(s Severity) int {
	switch s {
	case SeverityLow:
		return 3
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 1
	default:
		return 0
	}
}

// Plan is the recovery decision for one failure
type Plan struct {
	Action   Action
	Severity Severity
	Delay    time.Duration // set when Action is retry
	Attempt  int
}

// Planner turns classified failures into recovery plans
type Planner struct {
	baseDelay time.Duration
}

// NewPlanner creates a planner; a non-positive base delay falls back to
// the default 5 seconds.
func NewPlanner(baseDelay time.Duration) *Planner {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	return &Planner{baseDelay: baseDelay}
}

// PlanFor decides the response to an error on its attempt-th occurrence
// (zero-based). Within budget the plan is a retry with exponential
// backoff; past budget, HIGH failures go to peer takeover, CRITICAL to
// the top layer, everything else to the supervisor.
func (p *Planner) PlanFor(err error, attempt int) Plan {
	severity := Classify(err)
	budget := RetryBudget(severity)

	plan := Plan{Severity: severity, Attempt: attempt}
	switch {
	case attempt < budget:
		plan.Action = ActionRetry
		plan.Delay = p.baseDelay * (1 << attempt)
	case severity == SeverityHigh:
		plan.Action = ActionPeerTakeover
	case severity == SeverityCritical:
		plan.Action = ActionEscalateToTop
	default:
		plan.Action = ActionEscalateToSupervisor
	}

	log.Debug().
		Err(err).
		Str("severity", string(severity)).
		Str("action", string(plan.Action)).
		Int("attempt", attempt).
		Dur("delay", plan.Delay).
		Msg("Recovery plan")

	return plan
}
