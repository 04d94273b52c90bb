// Package bus implements the in-process priority message bus that
// carries all agent-to-agent, broadcast, and system traffic for one task.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders message delivery within a recipient's queue
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
	PriorityUrgent Priority = 3
)

// Valid reports whether p is one of the four defined priorities
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// Reserved recipient aliases
const (
	RecipientBroadcast = "broadcast"
	RecipientSystem    = "system"
)

// Kind is the wire-level message type. The set is closed; the bus
// rejects anything outside it.
type Kind string

const (
	KindTaskAssign               Kind = "task_assign"
	KindTaskAccept               Kind = "task_accept"
	KindTaskReject               Kind = "task_reject"
	KindTaskComplete             Kind = "task_complete"
	KindTaskFail                 Kind = "task_fail"
	KindProgressReport           Kind = "progress_report"
	KindStatusQuery              Kind = "status_query"
	KindStatusReport             Kind = "status_report"
	KindDecisionPropose          Kind = "decision_propose"
	KindSignatureRequest         Kind = "signature_request"
	KindSignatureApprove         Kind = "signature_approve"
	KindSignatureVeto            Kind = "signature_veto"
	KindAppealRequest            Kind = "appeal_request"
	KindAppealResult             Kind = "appeal_result"
	KindVoteRequest              Kind = "vote_request"
	KindVoteResponse             Kind = "vote_response"
	KindPeerCoordination         Kind = "peer_coordination"
	KindPeerCoordinationResponse Kind = "peer_coordination_response"
	KindPeerHelpRequest          Kind = "peer_help_request"
	KindPeerHelpResponse         Kind = "peer_help_response"
	KindConflictReport           Kind = "conflict_report"
	KindArbitrationRequest       Kind = "arbitration_request"
	KindArbitrationResult        Kind = "arbitration_result"
	KindErrorReport              Kind = "error_report"
	KindIssueEscalation          Kind = "issue_escalation"
	KindRecoveryCommand          Kind = "recovery_command"
	KindWarningIssue             Kind = "warning_issue"
	KindDemotionNotice           Kind = "demotion_notice"
	KindDismissalNotice          Kind = "dismissal_notice"
	KindPromotionNotice          Kind = "promotion_notice"
	KindElectionStart            Kind = "election_start"
	KindElectionVote             Kind = "election_vote"
	KindElectionResult           Kind = "election_result"
	KindHeartbeatAck             Kind = "heartbeat_ack"
	KindAgentRegister            Kind = "agent_register"
	KindAgentUnregister          Kind = "agent_unregister"
	KindSystemCommand            Kind = "system_command"
)

var validKinds = map[Kind]struct{}{
	KindTaskAssign: {}, KindTaskAccept: {}, KindTaskReject: {},
	KindTaskComplete: {}, KindTaskFail: {}, KindProgressReport: {},
	KindStatusQuery: {}, KindStatusReport: {}, KindDecisionPropose: {},
	KindSignatureRequest: {}, KindSignatureApprove: {}, KindSignatureVeto: {},
	KindAppealRequest: {}, KindAppealResult: {}, KindVoteRequest: {},
	KindVoteResponse: {}, KindPeerCoordination: {}, KindPeerCoordinationResponse: {},
	KindPeerHelpRequest: {}, KindPeerHelpResponse: {}, KindConflictReport: {},
	KindArbitrationRequest: {}, KindArbitrationResult: {}, KindErrorReport: {},
	KindIssueEscalation: {}, KindRecoveryCommand: {}, KindWarningIssue: {},
	KindDemotionNotice: {}, KindDismissalNotice: {}, KindPromotionNotice: {},
	KindElectionStart: {}, KindElectionVote: {}, KindElectionResult: {},
	KindHeartbeatAck: {}, KindAgentRegister: {}, KindAgentUnregister: {},
	KindSystemCommand: {},
}

// Valid reports whether k is in the closed kind set
func (k Kind) Valid() bool {
	_, ok := validKinds[k]
	return ok
}

// Message is one unit of bus traffic. Messages are immutable once sent;
// the bus and its consumers never mutate a delivered message.
type Message struct {
	ID        string                 `json:"id"`
	From      string                 `json:"from"`
	To        string                 `json:"to"` // agent id, "broadcast", or "system"
	TaskID    string                 `json:"task_id"`
	Kind      Kind                   `json:"kind"`
	Content   map[string]interface{} `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Priority  Priority               `json:"priority"`
	ReplyTo   string                 `json:"reply_to,omitempty"`
	Tick      int64                  `json:"tick"` // tick observed by the bus at send time
}

// NewMessage creates a message with generated id, current timestamp, and
// normal priority
func NewMessage(from, to, taskID string, kind Kind, content map[string]interface{}) *Message {
	if content == nil {
		content = make(map[string]interface{})
	}
	return &Message{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		TaskID:    taskID,
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now(),
		Priority:  PriorityNormal,
	}
}

// WithPriority sets the message priority
func (m *Message) WithPriority(p Priority) *Message {
	m.Priority = p
	return m
}

// WithReplyTo marks the message as a reply to a prior message id
func (m *Message) WithReplyTo(id string) *Message {
	m.ReplyTo = id
	return m
}

// IsBroadcast reports whether the message targets every registered agent
func (m *Message) IsBroadcast() bool {
	return m.To == RecipientBroadcast
}

// IsSystem reports whether the message targets the system sink
func (m *Message) IsSystem() bool {
	return m.To == RecipientSystem
}
