// Package store provides narrow CRUD repositories over the kernel's
// persisted records: tasks, agents, messages, decisions, audits,
// elections, and appeals. Message and audit rows are append-only.
package store

import (
	"context"
	"time"
)

// TaskRecord mirrors the tasks table
type TaskRecord struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Mode        string     `json:"mode"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AgentRecord mirrors the agents table
type AgentRecord struct {
	ID           string                 `json:"id"`
	TaskID       string                 `json:"task_id"`
	Name         string                 `json:"name"`
	Layer        string                 `json:"layer"`
	Role         string                 `json:"role"`
	Status       string                 `json:"status"`
	Supervisor   string                 `json:"supervisor,omitempty"`
	Subordinates []string               `json:"subordinates"`
	Capabilities []string               `json:"capabilities"`
	Config       map[string]interface{} `json:"config"`
	CreatedAt    time.Time              `json:"created_at"`
}

// MessageRecord mirrors the messages table
type MessageRecord struct {
	ID              string                 `json:"id"`
	TaskID          string                 `json:"task_id"`
	FromAgent       string                 `json:"from_agent"`
	ToAgent         string                 `json:"to_agent,omitempty"`
	Type            string                 `json:"type"`
	Content         map[string]interface{} `json:"content"`
	Timestamp       time.Time              `json:"timestamp"`
	HeartbeatNumber int64                  `json:"heartbeat_number"`
}

// DecisionRecord mirrors the decisions table
type DecisionRecord struct {
	ID             string                 `json:"id"`
	TaskID         string                 `json:"task_id"`
	ProposerID     string                 `json:"proposer_id"`
	Type           string                 `json:"type"`
	Content        map[string]interface{} `json:"content"`
	RequireSigners []string               `json:"require_signers"`
	Signers        []string               `json:"signers"`
	Vetoers        []string               `json:"vetoers"`
	Status         string                 `json:"status"`
	CreatedAt      time.Time              `json:"created_at"`
	ApprovedAt     *time.Time             `json:"approved_at,omitempty"`
	RejectedAt     *time.Time             `json:"rejected_at,omitempty"`
}

// AuditRecord mirrors the audits table
type AuditRecord struct {
	ID        string                 `json:"id"`
	TaskID    string                 `json:"task_id"`
	AgentID   string                 `json:"agent_id"`
	EventType string                 `json:"event_type"`
	Reason    string                 `json:"reason"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// ElectionRecord mirrors the elections table
type ElectionRecord struct {
	ID            string                 `json:"id"`
	TaskID        string                 `json:"task_id"`
	Round         int64                  `json:"round"`
	Action        string                 `json:"action"`
	TargetAgentID string                 `json:"target_agent_id"`
	Votes         map[string]interface{} `json:"votes,omitempty"`
	Result        map[string]interface{} `json:"result,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// AppealRecord mirrors the appeals table
type AppealRecord struct {
	ID         string                 `json:"id"`
	DecisionID string                 `json:"decision_id"`
	AppealerID string                 `json:"appealer_id"`
	Arguments  string                 `json:"arguments"`
	Votes      map[string]interface{} `json:"votes"`
	Result     string                 `json:"result,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	ResolvedAt *time.Time             `json:"resolved_at,omitempty"`
}

// TaskRepo persists task runs
type TaskRepo interface {
	CreateTask(ctx context.Context, t *TaskRecord) error
	UpdateTaskStatus(ctx context.Context, id, status string, completedAt *time.Time) error
	GetTask(ctx context.Context, id string) (*TaskRecord, error)
}

// AgentRepo persists agent records
type AgentRepo interface {
	CreateAgent(ctx context.Context, a *AgentRecord) error
	UpdateAgentStatus(ctx context.Context, id, status string) error
	GetAgent(ctx context.Context, id string) (*AgentRecord, error)
	ListAgents(ctx context.Context, taskID string) ([]*AgentRecord, error)
}

// MessageRepo appends routed messages; rows are never updated
type MessageRepo interface {
	AppendMessage(ctx context.Context, m *MessageRecord) error
	ListMessages(ctx context.Context, taskID string, limit int) ([]*MessageRecord, error)
}

// DecisionRepo persists signature decisions
type DecisionRepo interface {
	CreateDecision(ctx context.Context, d *DecisionRecord) error
	UpdateDecision(ctx context.Context, d *DecisionRecord) error
	GetDecision(ctx context.Context, id string) (*DecisionRecord, error)
	ListDecisions(ctx context.Context, taskID string) ([]*DecisionRecord, error)
}

// AuditRepo appends accountability events; rows are never updated
type AuditRepo interface {
	AppendAudit(ctx context.Context, a *AuditRecord) error
	ListAudits(ctx context.Context, taskID, agentID string) ([]*AuditRecord, error)
}

// ElectionRepo persists election rounds and their actions
type ElectionRepo interface {
	AppendElection(ctx context.Context, e *ElectionRecord) error
	ListElections(ctx context.Context, taskID string) ([]*ElectionRecord, error)
}

// AppealRepo persists appeals
type AppealRepo interface {
	CreateAppeal(ctx context.Context, a *AppealRecord) error
	UpdateAppeal(ctx context.Context, a *AppealRecord) error
	GetAppeal(ctx context.Context, id string) (*AppealRecord, error)
}

// Repositories bundles the narrow repository set handed to the kernel
type Repositories struct {
	Tasks     TaskRepo
	Agents    AgentRepo
	Messages  MessageRepo
	Decisions DecisionRepo
	Audits    AuditRepo
	Elections ElectionRepo
	Appeals   AppealRepo
}
