package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PgStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgStoreWithDB(mock), mock
}

func TestPgStore_CreateTask(t *testing.T) {
	s, mock := newMockStore(t)

	task := &TaskRecord{
		ID:          "task-1",
		Description: "ship it",
		Status:      "pending",
		Mode:        "auto",
		CreatedAt:   time.Now(),
	}

	mock.ExpectExec("INSERT INTO tasks").
		WithArgs(task.ID, task.Description, task.Status, task.Mode, task.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.CreateTask(context.Background(), task))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_GetTask(t *testing.T) {
	s, mock := newMockStore(t)

	created := time.Now()
	rows := pgxmock.NewRows([]string{"id", "description", "status", "mode", "created_at", "completed_at"}).
		AddRow("task-1", "ship it", "running", "auto", created, nil)

	mock.ExpectQuery("SELECT id, description, status, mode, created_at, completed_at FROM tasks").
		WithArgs("task-1").
		WillReturnRows(rows)

	got, err := s.GetTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, "running", got.Status)
	assert.Nil(t, got.CompletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_AppendMessage(t *testing.T) {
	s, mock := newMockStore(t)

	m := &MessageRecord{
		ID:              "m1",
		TaskID:          "task-1",
		FromAgent:       "a",
		ToAgent:         "b",
		Type:            "task_assign",
		Content:         map[string]interface{}{"step": 1},
		Timestamp:       time.Now(),
		HeartbeatNumber: 4,
	}

	mock.ExpectExec("INSERT INTO messages").
		WithArgs(m.ID, m.TaskID, m.FromAgent, m.ToAgent, m.Type,
			marshalJSON(m.Content), m.Timestamp, m.HeartbeatNumber).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.AppendMessage(context.Background(), m))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_UpdateDecision(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now()
	d := &DecisionRecord{
		ID:         "d1",
		Signers:    []string{"t1", "t2"},
		Vetoers:    []string{},
		Status:     "approved",
		ApprovedAt: &now,
	}

	mock.ExpectExec("UPDATE decisions SET").
		WithArgs(d.ID, marshalJSON(d.Signers), marshalJSON(d.Vetoers), d.Status, d.ApprovedAt, (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.UpdateDecision(context.Background(), d))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_ListAgents(t *testing.T) {
	s, mock := newMockStore(t)

	created := time.Now()
	rows := pgxmock.NewRows([]string{
		"id", "task_id", "name", "layer", "role", "status", "supervisor",
		"subordinates", "capabilities", "config", "created_at",
	}).
		AddRow("a1", "task-1", "alpha", "mid", "coordinator", "idle", "t1",
			[]byte(`["b1","b2"]`), []byte(`["delegate"]`), []byte(`{"max_retries":3}`), created).
		AddRow("a2", "task-1", "beta", "bottom", "worker", "working", "a1",
			[]byte(`[]`), []byte(`["execute"]`), []byte(`{}`), created)

	mock.ExpectQuery("SELECT id, task_id, name, layer, role, status, supervisor").
		WithArgs("task-1").
		WillReturnRows(rows)

	agents, err := s.ListAgents(context.Background(), "task-1")
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, []string{"b1", "b2"}, agents[0].Subordinates)
	assert.Equal(t, []string{"execute"}, agents[1].Capabilities)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_AppendAudit(t *testing.T) {
	s, mock := newMockStore(t)

	a := &AuditRecord{
		ID:        "au1",
		TaskID:    "task-1",
		AgentID:   "b1",
		EventType: "warning",
		Reason:    "missed heartbeat",
		CreatedAt: time.Now(),
	}

	mock.ExpectExec("INSERT INTO audits").
		WithArgs(a.ID, a.TaskID, a.AgentID, a.EventType, a.Reason, marshalJSON(a.Metadata), a.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.AppendAudit(context.Background(), a))
	require.NoError(t, mock.ExpectationsWereMet())
}
