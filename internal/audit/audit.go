// Package audit records the append-only accountability trail: every
// warning, demotion, dismissal, promotion, veto, decision, and appeal
// is written as an audit row and mirrored to the structured log.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/hivemind/internal/store"
)

// EventType classifies an audit event. Closed set.
type EventType string

const (
	EventWarning   EventType = "warning"
	EventDemotion  EventType = "demotion"
	EventDismissal EventType = "dismissal"
	EventPromotion EventType = "promotion"
	EventVeto      EventType = "veto"
	EventDecision  EventType = "decision"
	EventAppeal    EventType = "appeal"
)

// Recorder writes audit events. Store failures are logged and swallowed;
// the audit trail must never disrupt coordination.
type Recorder struct {
	taskID string
	repo   store.AuditRepo
	log    zerolog.Logger
}

// NewRecorder creates a recorder for one task. repo may be nil, in which
// case events only reach the log.
func NewRecorder(taskID string, repo store.AuditRepo) *Recorder {
	return &Recorder{
		taskID: taskID,
		repo:   repo,
		log:    log.With().Str("component", "audit").Str("task_id", taskID).Logger(),
	}
}

// Record writes one audit event
func (r *Recorder) Record(ctx context.Context, agentID string, event EventType, reason string, metadata map[string]interface{}) {
	r.log.Info().
		Str("agent", agentID).
		Str("event_type", string(event)).
		Str("reason", reason).
		Msg("Audit event")

	if r.repo == nil {
		return
	}

	row := &store.AuditRecord{
		ID:        uuid.NewString(),
		TaskID:    r.taskID,
		AgentID:   agentID,
		EventType: string(event),
		Reason:    reason,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	if err := r.repo.AppendAudit(ctx, row); err != nil {
		r.log.Error().Err(err).Str("agent", agentID).Msg("Failed to persist audit event")
	}
}
