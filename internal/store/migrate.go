package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// schema is the full DDL. Foreign keys are enforced; message and audit
// rows are only ever inserted.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id           TEXT PRIMARY KEY,
		description  TEXT NOT NULL,
		status       TEXT NOT NULL,
		mode         TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS agents (
		id           TEXT PRIMARY KEY,
		task_id      TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		name         TEXT NOT NULL,
		layer        TEXT NOT NULL,
		role         TEXT NOT NULL,
		status       TEXT NOT NULL,
		supervisor   TEXT NOT NULL DEFAULT '',
		subordinates JSONB NOT NULL DEFAULT '[]',
		capabilities JSONB NOT NULL DEFAULT '[]',
		config       JSONB NOT NULL DEFAULT '{}',
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id               TEXT PRIMARY KEY,
		task_id          TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		from_agent       TEXT NOT NULL,
		to_agent         TEXT,
		type             TEXT NOT NULL,
		content          JSONB NOT NULL DEFAULT '{}',
		timestamp        TIMESTAMPTZ NOT NULL,
		heartbeat_number BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS decisions (
		id              TEXT PRIMARY KEY,
		task_id         TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		proposer_id     TEXT NOT NULL,
		type            TEXT NOT NULL,
		content         JSONB NOT NULL DEFAULT '{}',
		require_signers JSONB NOT NULL DEFAULT '[]',
		signers         JSONB NOT NULL DEFAULT '[]',
		vetoers         JSONB NOT NULL DEFAULT '[]',
		status          TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		approved_at     TIMESTAMPTZ,
		rejected_at     TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS audits (
		id         TEXT PRIMARY KEY,
		task_id    TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		agent_id   TEXT NOT NULL,
		event_type TEXT NOT NULL,
		reason     TEXT NOT NULL,
		metadata   JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS elections (
		id              TEXT PRIMARY KEY,
		task_id         TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		round           BIGINT NOT NULL,
		action          TEXT NOT NULL,
		target_agent_id TEXT NOT NULL,
		votes           JSONB,
		result          JSONB,
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS appeals (
		id          TEXT PRIMARY KEY,
		decision_id TEXT NOT NULL REFERENCES decisions(id) ON DELETE CASCADE,
		appealer_id TEXT NOT NULL,
		arguments   TEXT NOT NULL,
		votes       JSONB NOT NULL DEFAULT '[]',
		result      TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_task ON messages(task_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_audits_task_agent ON audits(task_id, agent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_task ON decisions(task_id)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_task ON agents(task_id)`,
}

// InitSchema creates all tables and indexes if absent
func (s *PgStore) InitSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	log.Info().Int("statements", len(schema)).Msg("Schema initialized")
	return nil
}
