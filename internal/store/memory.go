package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the in-process implementation of every repository.
// It backs library use and tests when no database is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	tasks     map[string]*TaskRecord
	agents    map[string]*AgentRecord
	messages  []*MessageRecord
	decisions map[string]*DecisionRecord
	audits    []*AuditRecord
	elections []*ElectionRecord
	appeals   map[string]*AppealRecord
}

// NewMemoryStore returns an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:     make(map[string]*TaskRecord),
		agents:    make(map[string]*AgentRecord),
		decisions: make(map[string]*DecisionRecord),
		appeals:   make(map[string]*AppealRecord),
	}
}

// Repositories returns the repository bundle backed by this store
func (s *MemoryStore) Repositories() *Repositories {
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

// CreateTask inserts a task row
func (s *MemoryStore) CreateTask(_ context.Context, t *TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	clone := *t
	s.tasks[t.ID] = &clone
	return nil
}

// UpdateTaskStatus updates a task's status and optional completion time
func (s *MemoryStore) UpdateTaskStatus(_ context.Context, id, status string, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	t.Status = status
	if completedAt != nil {
		ts := *completedAt
		t.CompletedAt = &ts
	}
	return nil
}

// GetTask fetches one task row
func (s *MemoryStore) GetTask(_ context.Context, id string) (*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s not found", id)
	}
	clone := *t
	return &clone, nil
}

// CreateAgent inserts an agent row
func (s *MemoryStore) CreateAgent(_ context.Context, a *AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[a.ID]; exists {
		return fmt.Errorf("agent %s already exists", a.ID)
	}
	clone := *a
	s.agents[a.ID] = &clone
	return nil
}

// UpdateAgentStatus updates an agent's status column
func (s *MemoryStore) UpdateAgentStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %s not found", id)
	}
	a.Status = status
	return nil
}

// GetAgent fetches one agent row
func (s *MemoryStore) GetAgent(_ context.Context, id string) (*AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s not found", id)
	}
	clone := *a
	return &clone, nil
}

// ListAgents lists agent rows for one task, ordered by name
func (s *MemoryStore) ListAgents(_ context.Context, taskID string) ([]*AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*AgentRecord
	for _, a := range s.agents {
		if a.TaskID == taskID {
			clone := *a
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AppendMessage appends one message row
func (s *MemoryStore) AppendMessage(_ context.Context, m *MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *m
	s.messages = append(s.messages, &clone)
	return nil
}

// ListMessages returns up to limit most recent message rows for a task
func (s *MemoryStore) ListMessages(_ context.Context, taskID string, limit int) ([]*MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*MessageRecord
	for i := len(s.messages) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.messages[i].TaskID == taskID {
			clone := *s.messages[i]
			out = append(out, &clone)
		}
	}
	return out, nil
}

// CreateDecision inserts a decision row
func (s *MemoryStore) CreateDecision(_ context.Context, d *DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.decisions[d.ID]; exists {
		return fmt.Errorf("decision %s already exists", d.ID)
	}
	clone := *d
	s.decisions[d.ID] = &clone
	return nil
}

// UpdateDecision replaces a decision row
func (s *MemoryStore) UpdateDecision(_ context.Context, d *DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decisions[d.ID]; !ok {
		return fmt.Errorf("decision %s not found", d.ID)
	}
	clone := *d
	s.decisions[d.ID] = &clone
	return nil
}

// GetDecision fetches one decision row
func (s *MemoryStore) GetDecision(_ context.Context, id string) (*DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[id]
	if !ok {
		return nil, fmt.Errorf("decision %s not found", id)
	}
	clone := *d
	return &clone, nil
}

// ListDecisions lists decision rows for one task, oldest first
func (s *MemoryStore) ListDecisions(_ context.Context, taskID string) ([]*DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*DecisionRecord
	for _, d := range s.decisions {
		if d.TaskID == taskID {
			clone := *d
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AppendAudit appends one audit row
func (s *MemoryStore) AppendAudit(_ context.Context, a *AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *a
	s.audits = append(s.audits, &clone)
	return nil
}

// ListAudits lists audit rows, filtered by task and optionally by agent
func (s *MemoryStore) ListAudits(_ context.Context, taskID, agentID string) ([]*AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*AuditRecord
	for _, a := range s.audits {
		if a.TaskID != taskID {
			continue
		}
		if agentID != "" && a.AgentID != agentID {
			continue
		}
		clone := *a
		out = append(out, &clone)
	}
	return out, nil
}

// AppendElection appends one election row
func (s *MemoryStore) AppendElection(_ context.Context, e *ElectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *e
	s.elections = append(s.elections, &clone)
	return nil
}

// ListElections lists election rows for one task
func (s *MemoryStore) ListElections(_ context.Context, taskID string) ([]*ElectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ElectionRecord
	for _, e := range s.elections {
		if e.TaskID == taskID {
			clone := *e
			out = append(out, &clone)
		}
	}
	return out, nil
}

// CreateAppeal inserts an appeal row
func (s *MemoryStore) CreateAppeal(_ context.Context, a *AppealRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.appeals[a.ID]; exists {
		return fmt.Errorf("appeal %s already exists", a.ID)
	}
	clone := *a
	s.appeals[a.ID] = &clone
	return nil
}

// UpdateAppeal replaces an appeal row
func (s *MemoryStore) UpdateAppeal(_ context.Context, a *AppealRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appeals[a.ID]; !ok {
		return fmt.Errorf("appeal %s not found", a.ID)
	}
	clone := *a
	s.appeals[a.ID] = &clone
	return nil
}

// GetAppeal fetches one appeal row
func (s *MemoryStore) GetAppeal(_ context.Context, id string) (*AppealRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appeals[id]
	if !ok {
		return nil, fmt.Errorf("appeal %s not found", id)
	}
	clone := *a
	return &clone, nil
}
