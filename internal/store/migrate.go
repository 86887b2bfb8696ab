package store

import (
	"context"
	"fmt"
)

// Schema statements are idempotent so Migrate can run on every start.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		capabilities JSONB NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'unknown',
		endpoint TEXT,
		metadata JSONB NOT NULL DEFAULT '{}',
		registered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
		trust_score DOUBLE PRECISION NOT NULL DEFAULT 0.5
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_last_seen ON agents(last_seen)`,

	`CREATE TABLE IF NOT EXISTS task_records (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		task_type TEXT NOT NULL,
		outcome TEXT NOT NULL DEFAULT 'pending',
		started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ,
		duration_ms BIGINT,
		error_message TEXT,
		rating DOUBLE PRECISION,
		rated_by TEXT,
		metadata JSONB NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_records_agent ON task_records(agent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_task_records_outcome ON task_records(outcome)`,
	`CREATE INDEX IF NOT EXISTS idx_task_records_started ON task_records(started_at)`,

	`CREATE TABLE IF NOT EXISTS agent_stats (
		agent_id TEXT PRIMARY KEY,
		total_tasks INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		failure_count INTEGER NOT NULL DEFAULT 0,
		avg_duration_ms DOUBLE PRECISION,
		avg_rating DOUBLE PRECISION,
		trust_score DOUBLE PRECISION NOT NULL DEFAULT 0.5,
		last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS activity_events (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		event_type TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		session_id TEXT,
		action TEXT,
		description TEXT,
		entity_ids JSONB NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'success',
		error_message TEXT,
		duration_ms BIGINT,
		metadata JSONB NOT NULL DEFAULT '{}',
		timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_events_agent ON activity_events(agent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_events_session ON activity_events(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_events_type ON activity_events(event_type)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_events_timestamp ON activity_events(timestamp)`,

	`CREATE TABLE IF NOT EXISTS activity_entities (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
