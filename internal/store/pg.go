package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DB is the subset of pgxpool.Pool the repositories need. pgxmock
// satisfies it in unit tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore implements every repository over PostgreSQL
type PgStore struct {
	db   DB
	pool *pgxpool.Pool
}

// NewPgStore connects a pool and returns the store. The caller should
// run InitSchema before first use.
func NewPgStore(ctx context.Context, databaseURL string, poolSize int) (*PgStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if poolSize > 0 {
		cfg.MaxConns = int32(poolSize)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Database connection pool created")
	return &PgStore{db: pool, pool: pool}, nil
}

// NewPgStoreWithDB wraps an existing connection (tests use pgxmock here)
func NewPgStoreWithDB(db DB) *PgStore {
	return &PgStore{db: db}
}

// Close releases the pool
func (s *PgStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Repositories returns the repository bundle backed by this store
func (s *PgStore) Repositories() *Repositories {
	return &Repositories{
		Tasks:     s,
		Agents:    s,
		Messages:  s,
		Decisions: s,
		Audits:    s,
		Elections: s,
		Appeals:   s,
	}
}

func marshalJSON(v interface{}) []byte {
	if v == nil {
		return []byte("null")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return raw
}

// CreateTask inserts a task row
func (s *PgStore) CreateTask(ctx context.Context, t *TaskRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO tasks (id, description, status, mode, created_at) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.Description, t.Status, t.Mode, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// UpdateTaskStatus updates a task's status and optional completion time
func (s *PgStore) UpdateTaskStatus(ctx context.Context, id, status string, completedAt *time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE tasks SET status = $2, completed_at = $3 WHERE id = $1`,
		id, status, completedAt)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return nil
}

// GetTask fetches one task row
func (s *PgStore) GetTask(ctx context.Context, id string) (*TaskRecord, error) {
	var t TaskRecord
	err := s.db.QueryRow(ctx,
		`SELECT id, description, status, mode, created_at, completed_at FROM tasks WHERE id = $1`,
		id).Scan(&t.ID, &t.Description, &t.Status, &t.Mode, &t.CreatedAt, &t.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch task: %w", err)
	}
	return &t, nil
}

// CreateAgent inserts an agent row
func (s *PgStore) CreateAgent(ctx context.Context, a *AgentRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO agents (id, task_id, name, layer, role, status, supervisor, subordinates, capabilities, config, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.TaskID, a.Name, a.Layer, a.Role, a.Status, a.Supervisor,
		marshalJSON(a.Subordinates), marshalJSON(a.Capabilities), marshalJSON(a.Config), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

// UpdateAgentStatus updates an agent's status column
func (s *PgStore) UpdateAgentStatus(ctx context.Context, id, status string) error {
	_, err := s.db.Exec(ctx, `UPDATE agents SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update agent status: %w", err)
	}
	return nil
}

// GetAgent fetches one agent row
func (s *PgStore) GetAgent(ctx context.Context, id string) (*AgentRecord, error) {
	var a AgentRecord
	var subordinates, capabilities, config []byte
	err := s.db.QueryRow(ctx,
		`SELECT id, task_id, name, layer, role, status, supervisor, subordinates, capabilities, config, created_at
		 FROM agents WHERE id = $1`, id).
		Scan(&a.ID, &a.TaskID, &a.Name, &a.Layer, &a.Role, &a.Status, &a.Supervisor,
			&subordinates, &capabilities, &config, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch agent: %w", err)
	}
	_ = json.Unmarshal(subordinates, &a.Subordinates)
	_ = json.Unmarshal(capabilities, &a.Capabilities)
	_ = json.Unmarshal(config, &a.Config)
	return &a, nil
}

// ListAgents lists agent rows for one task
func (s *PgStore) ListAgents(ctx context.Context, taskID string) ([]*AgentRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, task_id, name, layer, role, status, supervisor, subordinates, capabilities, config, created_at
		 FROM agents WHERE task_id = $1 ORDER BY name ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var out []*AgentRecord
	for rows.Next() {
		var a AgentRecord
		var subordinates, capabilities, config []byte
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Name, &a.Layer, &a.Role, &a.Status, &a.Supervisor,
			&subordinates, &capabilities, &config, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		_ = json.Unmarshal(subordinates, &a.Subordinates)
		_ = json.Unmarshal(capabilities, &a.Capabilities)
		_ = json.Unmarshal(config, &a.Config)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// AppendMessage appends one message row
func (s *PgStore) AppendMessage(ctx context.Context, m *MessageRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO messages (id, task_id, from_agent, to_agent, type, content, timestamp, heartbeat_number)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.TaskID, m.FromAgent, m.ToAgent, m.Type, marshalJSON(m.Content), m.Timestamp, m.HeartbeatNumber)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// ListMessages returns up to limit most recent message rows for a task
func (s *PgStore) ListMessages(ctx context.Context, taskID string, limit int) ([]*MessageRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, task_id, from_agent, to_agent, type, content, timestamp, heartbeat_number
		 FROM messages WHERE task_id = $1 ORDER BY timestamp DESC LIMIT $2`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*MessageRecord
	for rows.Next() {
		var m MessageRecord
		var content []byte
		if err := rows.Scan(&m.ID, &m.TaskID, &m.FromAgent, &m.ToAgent, &m.Type, &content, &m.Timestamp, &m.HeartbeatNumber); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		_ = json.Unmarshal(content, &m.Content)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// CreateDecision inserts a decision row
func (s *PgStore) CreateDecision(ctx context.Context, d *DecisionRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO decisions (id, task_id, proposer_id, type, content, require_signers, signers, vetoers, status, created_at, approved_at, rejected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.TaskID, d.ProposerID, d.Type, marshalJSON(d.Content),
		marshalJSON(d.RequireSigners), marshalJSON(d.Signers), marshalJSON(d.Vetoers),
		d.Status, d.CreatedAt, d.ApprovedAt, d.RejectedAt)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// UpdateDecision replaces a decision's mutable columns
func (s *PgStore) UpdateDecision(ctx context.Context, d *DecisionRecord) error {
	_, err := s.db.Exec(ctx,
		`UPDATE decisions SET signers = $2, vetoers = $3, status = $4, approved_at = $5, rejected_at = $6 WHERE id = $1`,
		d.ID, marshalJSON(d.Signers), marshalJSON(d.Vetoers), d.Status, d.ApprovedAt, d.RejectedAt)
	if err != nil {
		return fmt.Errorf("failed to update decision: %w", err)
	}
	return nil
}

// GetDecision fetches one decision row
func (s *PgStore) GetDecision(ctx context.Context, id string) (*DecisionRecord, error) {
	var d DecisionRecord
	var content, require, signers, vetoers []byte
	err := s.db.QueryRow(ctx,
		`SELECT id, task_id, proposer_id, type, content, require_signers, signers, vetoers, status, created_at, approved_at, rejected_at
		 FROM decisions WHERE id = $1`, id).
		Scan(&d.ID, &d.TaskID, &d.ProposerID, &d.Type, &content, &require, &signers, &vetoers,
			&d.Status, &d.CreatedAt, &d.ApprovedAt, &d.RejectedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch decision: %w", err)
	}
	_ = json.Unmarshal(content, &d.Content)
	_ = json.Unmarshal(require, &d.RequireSigners)
	_ = json.Unmarshal(signers, &d.Signers)
	_ = json.Unmarshal(vetoers, &d.Vetoers)
	return &d, nil
}

// ListDecisions lists decision rows for one task, oldest first
func (s *PgStore) ListDecisions(ctx context.Context, taskID string) ([]*DecisionRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, task_id, proposer_id, type, content, require_signers, signers, vetoers, status, created_at, approved_at, rejected_at
		 FROM decisions WHERE task_id = $1 ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	var out []*DecisionRecord
	for rows.Next() {
		var d DecisionRecord
		var content, require, signers, vetoers []byte
		if err := rows.Scan(&d.ID, &d.TaskID, &d.ProposerID, &d.Type, &content, &require, &signers, &vetoers,
			&d.Status, &d.CreatedAt, &d.ApprovedAt, &d.RejectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		_ = json.Unmarshal(content, &d.Content)
		_ = json.Unmarshal(require, &d.RequireSigners)
		_ = json.Unmarshal(signers, &d.Signers)
		_ = json.Unmarshal(vetoers, &d.Vetoers)
		out = append(out, &d)
	}
	return out, rows.Err()
}

// AppendAudit appends one audit row
func (s *PgStore) AppendAudit(ctx context.Context, a *AuditRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO audits (id, task_id, agent_id, event_type, reason, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.TaskID, a.AgentID, a.EventType, a.Reason, marshalJSON(a.Metadata), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit: %w", err)
	}
	return nil
}

// ListAudits lists audit rows, filtered by task and optionally by agent
func (s *PgStore) ListAudits(ctx context.Context, taskID, agentID string) ([]*AuditRecord, error) {
	query := `SELECT id, task_id, agent_id, event_type, reason, metadata, created_at
		 FROM audits WHERE task_id = $1`
	args := []any{taskID}
	if agentID != "" {
		query += ` AND agent_id = $2`
		args = append(args, agentID)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audits: %w", err)
	}
	defer rows.Close()

	var out []*AuditRecord
	for rows.Next() {
		var a AuditRecord
		var metadata []byte
		if err := rows.Scan(&a.ID, &a.TaskID, &a.AgentID, &a.EventType, &a.Reason, &metadata, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit: %w", err)
		}
		_ = json.Unmarshal(metadata, &a.Metadata)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// AppendElection appends one election row
func (s *PgStore) AppendElection(ctx context.Context, e *ElectionRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO elections (id, task_id, round, action, target_agent_id, votes, result, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.TaskID, e.Round, e.Action, e.TargetAgentID, marshalJSON(e.Votes), marshalJSON(e.Result), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append election: %w", err)
	}
	return nil
}

// ListElections lists election rows for one task
func (s *PgStore) ListElections(ctx context.Context, taskID string) ([]*ElectionRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, task_id, round, action, target_agent_id, votes, result, created_at
		 FROM elections WHERE task_id = $1 ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list elections: %w", err)
	}
	defer rows.Close()

	var out []*ElectionRecord
	for rows.Next() {
		var e ElectionRecord
		var votes, result []byte
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Round, &e.Action, &e.TargetAgentID, &votes, &result, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan election: %w", err)
		}
		_ = json.Unmarshal(votes, &e.Votes)
		_ = json.Unmarshal(result, &e.Result)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// CreateAppeal inserts an appeal row
func (s *PgStore) CreateAppeal(ctx context.Context, a *AppealRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO appeals (id, decision_id, appealer_id, arguments, votes, result, created_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.DecisionID, a.AppealerID, a.Arguments, marshalJSON(a.Votes), a.Result, a.CreatedAt, a.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to insert appeal: %w", err)
	}
	return nil
}

// UpdateAppeal replaces an appeal's mutable columns
func (s *PgStore) UpdateAppeal(ctx context.Context, a *AppealRecord) error {
	_, err := s.db.Exec(ctx,
		`UPDATE appeals SET votes = $2, result = $3, resolved_at = $4 WHERE id = $1`,
		a.ID, marshalJSON(a.Votes), a.Result, a.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to update appeal: %w", err)
	}
	return nil
}

// GetAppeal fetches one appeal row
func (s *PgStore) GetAppeal(ctx context.Context, id string) (*AppealRecord, error) {
	var a AppealRecord
	var votes []byte
	err := s.db.QueryRow(ctx,
		`SELECT id, decision_id, appealer_id, arguments, votes, result, created_at, resolved_at
		 FROM appeals WHERE id = $1`, id).
		Scan(&a.ID, &a.DecisionID, &a.AppealerID, &a.Arguments, &votes, &a.Result, &a.CreatedAt, &a.ResolvedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch appeal: %w", err)
	}
	_ = json.Unmarshal(votes, &a.Votes)
	return &a, nil
}
