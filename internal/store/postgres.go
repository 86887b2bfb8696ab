package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const agentColumns = `id, name, description, capabilities,
	status, endpoint, metadata,
	registered_at, last_seen,
	trust_score`

// UpsertAgent inserts or replaces the agent row. Both timestamps are
// refreshed and status is forced to online on every call; trust_score
// is left to the reputation tracker.
func (s *PostgresStore) UpsertAgent(ctx context.Context, agent *Agent) error {
	capsJSON, _ := json.Marshal(agent.Capabilities)
	metadataJSON, _ := json.Marshal(agent.Metadata)

	return s.pool.QueryRow(ctx, `
		INSERT INTO agents (id, name, description, capabilities, status, endpoint, metadata)
		VALUES ($1, $2, $3, $4, 'online', $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			capabilities = EXCLUDED.capabilities,
			status = 'online',
			endpoint = EXCLUDED.endpoint,
			metadata = EXCLUDED.metadata,
			registered_at = now(),
			last_seen = now()
		RETURNING status, registered_at, last_seen, trust_score`,
		agent.ID, agent.Name, agent.Description, capsJSON, agent.Endpoint, metadataJSON,
	).Scan(&agent.Status, &agent.RegisteredAt, &agent.LastSeen, &agent.TrustScore)
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+agentColumns+`
		FROM agents WHERE id = $1`, id)
	return scanAgent(row)
}

func (s *PostgresStore) DeleteAgent(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListAgents(ctx context.Context, filter AgentFilter) ([]*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.OnlineOnly {
		query += ` AND status IN ('online', 'busy')`
	}
	if filter.Status != nil {
		n++
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, string(*filter.Status))
	}

	query += " ORDER BY last_seen DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAgents(rows)
}

func (s *PostgresStore) TouchAgent(ctx context.Context, id string, status AgentStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET status = $2, last_seen = now()
		WHERE id = $1`, id, string(status))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) CountAgents(ctx context.Context, onlineOnly bool) (int, error) {
	query := `SELECT COUNT(*) FROM agents`
	if onlineOnly {
		query += ` WHERE status IN ('online', 'busy')`
	}
	var count int
	err := s.pool.QueryRow(ctx, query).Scan(&count)
	return count, err
}

// MarkAgentsOffline flips every non-offline agent whose last_seen is
// older than cutoff and returns how many rows changed.
func (s *PostgresStore) MarkAgentsOffline(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET status = 'offline'
		WHERE last_seen < $1 AND status != 'offline'`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) SetAgentTrustScore(ctx context.Context, id string, score float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE agents SET trust_score = $2 WHERE id = $1`, id, score)
	return err
}

const taskRecordColumns = `id, agent_id, task_type, outcome,
	started_at, completed_at, duration_ms,
	error_message, rating, rated_by, metadata`

func (s *PostgresStore) CreateTaskRecord(ctx context.Context, rec *TaskRecord) error {
	metadataJSON, _ := json.Marshal(rec.Metadata)

	return s.pool.QueryRow(ctx, `
		INSERT INTO task_records (id, agent_id, task_type, outcome, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING started_at`,
		rec.ID, rec.AgentID, rec.TaskType, string(rec.Outcome), metadataJSON,
	).Scan(&rec.StartedAt)
}

func (s *PostgresStore) GetTaskRecord(ctx context.Context, id string) (*TaskRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+taskRecordColumns+`
		FROM task_records WHERE id = $1`, id)
	return scanTaskRecord(row)
}

// CompleteTaskRecord moves a pending record to a terminal outcome. The
// WHERE guard makes the transition one-way: a second completion, or an
// unknown id, returns (nil, nil). Duration is computed in SQL from the
// stored started_at.
func (s *PostgresStore) CompleteTaskRecord(ctx context.Context, id string, outcome TaskOutcome, completedAt time.Time, errorMessage string) (*TaskRecord, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE task_records SET
			outcome = $2,
			completed_at = $3,
			duration_ms = (EXTRACT(EPOCH FROM ($3::timestamptz - started_at)) * 1000)::bigint,
			error_message = $4
		WHERE id = $1 AND outcome = 'pending'
		RETURNING `+taskRecordColumns,
		id, string(outcome), completedAt, errorMessage)
	return scanTaskRecord(row)
}

func (s *PostgresStore) RateTaskRecord(ctx context.Context, id string, rating float64, ratedBy string) (*TaskRecord, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE task_records SET rating = $2, rated_by = $3
		WHERE id = $1
		RETURNING `+taskRecordColumns,
		id, rating, ratedBy)
	return scanTaskRecord(row)
}

func (s *PostgresStore) ListTerminalTaskRecords(ctx context.Context, agentID string, since time.Time) ([]*TaskRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskRecordColumns+`
		FROM task_records
		WHERE agent_id = $1 AND started_at > $2 AND outcome != 'pending'
		ORDER BY started_at DESC`, agentID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTaskRecords(rows)
}

func (s *PostgresStore) UpsertAgentStats(ctx context.Context, stats *AgentStats) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO agent_stats (agent_id, total_tasks, success_count, failure_count,
			avg_duration_ms, avg_rating, trust_score, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (agent_id) DO UPDATE SET
			total_tasks = EXCLUDED.total_tasks,
			success_count = EXCLUDED.success_count,
			failure_count = EXCLUDED.failure_count,
			avg_duration_ms = EXCLUDED.avg_duration_ms,
			avg_rating = EXCLUDED.avg_rating,
			trust_score = EXCLUDED.trust_score,
			last_updated = now()
		RETURNING last_updated`,
		stats.AgentID, stats.TotalTasks, stats.SuccessCount, stats.FailureCount,
		stats.AvgDurationMs, stats.AvgRating, stats.TrustScore,
	).Scan(&stats.LastUpdated)
}

func (s *PostgresStore) GetAgentStats(ctx context.Context, agentID string) (*AgentStats, error) {
	st := &AgentStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT agent_id, total_tasks, success_count, failure_count,
			avg_duration_ms, avg_rating, trust_score, last_updated
		FROM agent_stats WHERE agent_id = $1`, agentID,
	).Scan(
		&st.AgentID, &st.TotalTasks, &st.SuccessCount, &st.FailureCount,
		&st.AvgDurationMs, &st.AvgRating, &st.TrustScore, &st.LastUpdated,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *PostgresStore) ListAgentStats(ctx context.Context, minTasks, limit int) ([]*AgentStats, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT agent_id, total_tasks, success_count, failure_count,
			avg_duration_ms, avg_rating, trust_score, last_updated
		FROM agent_stats
		WHERE total_tasks >= $1
		ORDER BY trust_score DESC
		LIMIT $2`, minTasks, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AgentStats
	for rows.Next() {
		st := &AgentStats{}
		if err := rows.Scan(
			&st.AgentID, &st.TotalTasks, &st.SuccessCount, &st.FailureCount,
			&st.AvgDurationMs, &st.AvgRating, &st.TrustScore, &st.LastUpdated,
		); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

const activityEventColumns = `id, event_type, agent_id, session_id, action, description,
	entity_ids, status, error_message, duration_ms, metadata, timestamp`

func (s *PostgresStore) CreateActivityEvent(ctx context.Context, event *ActivityEvent) error {
	entityIDsJSON, _ := json.Marshal(event.EntityIDs)
	metadataJSON, _ := json.Marshal(event.Metadata)

	return s.pool.QueryRow(ctx, `
		INSERT INTO activity_events (event_type, agent_id, session_id, action, description,
			entity_ids, status, error_message, duration_ms, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, timestamp`,
		event.EventType, event.AgentID, event.SessionID, event.Action, event.Description,
		entityIDsJSON, event.Status, event.ErrorMessage, event.DurationMs, metadataJSON,
	).Scan(&event.ID, &event.Timestamp)
}

func (s *PostgresStore) GetActivityEvent(ctx context.Context, id uuid.UUID) (*ActivityEvent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+activityEventColumns+`
		FROM activity_events WHERE id = $1`, id)
	return scanActivityEvent(row)
}

func (s *PostgresStore) ListActivityEvents(ctx context.Context, filter ActivityFilter) ([]*ActivityEvent, error) {
	query := `SELECT ` + activityEventColumns + ` FROM activity_events WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.AgentID != "" {
		n++
		query += fmt.Sprintf(" AND agent_id = $%d", n)
		args = append(args, filter.AgentID)
	}
	if filter.SessionID != "" {
		n++
		query += fmt.Sprintf(" AND session_id = $%d", n)
		args = append(args, filter.SessionID)
	}
	if filter.EventType != "" {
		n++
		query += fmt.Sprintf(" AND event_type = $%d", n)
		args = append(args, filter.EventType)
	}

	query += " ORDER BY timestamp DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	n++
	query += fmt.Sprintf(" LIMIT $%d", n)
	args = append(args, limit)

	if filter.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*ActivityEvent
	for rows.Next() {
		e, err := scanActivityEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) UpsertEntity(ctx context.Context, entity *ActivityEntity) error {
	if entity.ID == "" {
		entity.ID = uuid.New().String()
	}
	metadataJSON, _ := json.Marshal(entity.Metadata)

	return s.pool.QueryRow(ctx, `
		INSERT INTO activity_entities (id, entity_type, name, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			entity_type = EXCLUDED.entity_type,
			name = EXCLUDED.name,
			metadata = EXCLUDED.metadata
		RETURNING created_at`,
		entity.ID, entity.Type, entity.Name, metadataJSON,
	).Scan(&entity.CreatedAt)
}

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (*ActivityEntity, error) {
	e := &ActivityEntity{}
	var metadataJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, entity_type, name, metadata, created_at
		FROM activity_entities WHERE id = $1`, id,
	).Scan(&e.ID, &e.Type, &e.Name, &metadataJSON, &e.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if metadataJSON != nil {
		_ = json.Unmarshal(metadataJSON, &e.Metadata)
	}
	return e, nil
}

func (s *PostgresStore) GetActivityStats(ctx context.Context, agentID string) (*ActivityStats, error) {
	stats := &ActivityStats{AgentID: agentID, EventsByType: map[string]int{}}

	var errorCount int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'error')
		FROM activity_events WHERE agent_id = $1`, agentID,
	).Scan(&stats.TotalEvents, &errorCount)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT event_type, COUNT(*) FROM activity_events
		WHERE agent_id = $1 GROUP BY event_type`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		stats.EventsByType[eventType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats.TotalEvents > 0 {
		rate := float64(errorCount) / float64(stats.TotalEvents)
		stats.ErrorRate = math.Round(rate*10000) / 10000
	}
	return stats, nil
}

func (s *PostgresStore) GetStats(ctx context.Context) (*ServiceStats, error) {
	stats := &ServiceStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM agents),
			(SELECT COUNT(*) FROM agents WHERE status IN ('online', 'busy')),
			(SELECT COUNT(*) FROM task_records),
			(SELECT COUNT(*) FROM task_records WHERE outcome = 'pending'),
			(SELECT COUNT(*) FROM activity_events),
			(SELECT COUNT(*) FROM activity_entities),
			(SELECT COALESCE(AVG(trust_score), 0) FROM agents)`,
	).Scan(
		&stats.TotalAgents, &stats.OnlineAgents,
		&stats.TotalTasks, &stats.PendingTasks,
		&stats.TotalEvents, &stats.TotalEntities,
		&stats.AvgTrustScore,
	)
	return stats, err
}

func scanAgent(row pgx.Row) (*Agent, error) {
	a := &Agent{}
	var capsJSON, metadataJSON []byte
	var endpoint sql.NullString
	err := row.Scan(
		&a.ID, &a.Name, &a.Description, &capsJSON,
		&a.Status, &endpoint, &metadataJSON,
		&a.RegisteredAt, &a.LastSeen,
		&a.TrustScore,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if endpoint.Valid {
		a.Endpoint = endpoint.String
	}
	if capsJSON != nil {
		_ = json.Unmarshal(capsJSON, &a.Capabilities)
	}
	if metadataJSON != nil {
		_ = json.Unmarshal(metadataJSON, &a.Metadata)
	}
	return a, nil
}

func scanAgents(rows pgx.Rows) ([]*Agent, error) {
	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func scanTaskRecord(row pgx.Row) (*TaskRecord, error) {
	r := &TaskRecord{}
	var errorMessage, ratedBy sql.NullString
	var metadataJSON []byte
	err := row.Scan(
		&r.ID, &r.AgentID, &r.TaskType, &r.Outcome,
		&r.StartedAt, &r.CompletedAt, &r.DurationMs,
		&errorMessage, &r.Rating, &ratedBy, &metadataJSON,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if errorMessage.Valid {
		r.ErrorMessage = errorMessage.String
	}
	if ratedBy.Valid {
		r.RatedBy = ratedBy.String
	}
	if metadataJSON != nil {
		_ = json.Unmarshal(metadataJSON, &r.Metadata)
	}
	return r, nil
}

func scanTaskRecords(rows pgx.Rows) ([]*TaskRecord, error) {
	var records []*TaskRecord
	for rows.Next() {
		r, err := scanTaskRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanActivityEvent(row pgx.Row) (*ActivityEvent, error) {
	e := &ActivityEvent{}
	var sessionID, action, description, errorMessage sql.NullString
	var entityIDsJSON, metadataJSON []byte
	err := row.Scan(
		&e.ID, &e.EventType, &e.AgentID, &sessionID, &action, &description,
		&entityIDsJSON, &e.Status, &errorMessage, &e.DurationMs, &metadataJSON, &e.Timestamp,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sessionID.Valid {
		e.SessionID = sessionID.String
	}
	if action.Valid {
		e.Action = action.String
	}
	if description.Valid {
		e.Description = description.String
	}
	if errorMessage.Valid {
		e.ErrorMessage = errorMessage.String
	}
	if entityIDsJSON != nil {
		_ = json.Unmarshal(entityIDsJSON, &e.EntityIDs)
	}
	if metadataJSON != nil {
		_ = json.Unmarshal(metadataJSON, &e.Metadata)
	}
	return e, nil
}
