package reputation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ICE-CUBA/AgentGraph/internal/store"
)

const (
	// DefaultWindow is the trailing period of task records that feed
	// an agent's trust score.
	DefaultWindow = 30 * 24 * time.Hour

	// DefaultMinLeaderboardTasks keeps agents with too little recorded
	// work off the leaderboard.
	DefaultMinLeaderboardTasks = 5

	// DefaultLeaderboardLimit caps leaderboard responses when the
	// caller does not pick a size.
	DefaultLeaderboardLimit = 10
)

// LeaderboardEntry is one row of the trust leaderboard.
type LeaderboardEntry struct {
	AgentID     string  `json:"agent_id"`
	TrustScore  float64 `json:"trust_score"`
	TotalTasks  int     `json:"total_tasks"`
	SuccessRate float64 `json:"success_rate"`
}

// Tracker records task lifecycles and keeps per-agent trust scores
// current. Completions and ratings trigger a recompute over the
// trailing window; the resulting score is cached in agent_stats and
// mirrored onto the agent record for discovery.
type Tracker struct {
	store               store.Store
	logger              *slog.Logger
	weights             Weights
	window              time.Duration
	minLeaderboardTasks int
}

func NewTracker(s store.Store, logger *slog.Logger, window time.Duration, minLeaderboardTasks int) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	if minLeaderboardTasks <= 0 {
		minLeaderboardTasks = DefaultMinLeaderboardTasks
	}
	return &Tracker{
		store:               s,
		logger:              logger,
		weights:             DefaultWeights(),
		window:              window,
		minLeaderboardTasks: minLeaderboardTasks,
	}
}

// RecordTaskStart opens a pending task record and returns its id,
// generating one when the caller did not bring its own.
func (t *Tracker) RecordTaskStart(ctx context.Context, agentID, taskType, taskID string, metadata map[string]interface{}) (string, error) {
	if taskID == "" {
		taskID = uuid.New().String()
	}
	rec := &store.TaskRecord{
		ID:       taskID,
		AgentID:  agentID,
		TaskType: taskType,
		Outcome:  store.OutcomePending,
		Metadata: metadata,
	}
	if err := t.store.CreateTaskRecord(ctx, rec); err != nil {
		return "", fmt.Errorf("record task start: %w", err)
	}
	t.logger.Debug("task started", "task_id", taskID, "agent_id", agentID, "task_type", taskType)
	return taskID, nil
}

// RecordTaskComplete moves a pending task to a terminal outcome and
// recomputes the agent's trust score. It reports false when the task
// is unknown or already terminal; a completion never applies twice.
func (t *Tracker) RecordTaskComplete(ctx context.Context, taskID string, outcome store.TaskOutcome, errorMessage string) (bool, error) {
	rec, err := t.store.CompleteTaskRecord(ctx, taskID, outcome, time.Now().UTC(), errorMessage)
	if err != nil {
		return false, fmt.Errorf("record task complete: %w", err)
	}
	if rec == nil {
		return false, nil
	}

	t.logger.Debug("task completed",
		"task_id", taskID, "agent_id", rec.AgentID, "outcome", outcome, "duration_ms", rec.DurationMs)
	if err := t.recompute(ctx, rec.AgentID); err != nil {
		return true, err
	}
	return true, nil
}

// RateTask attaches a peer rating to a task and recomputes the trust
// score for the task's agent. Ratings are clamped to [0, 1]. Rating a
// still-pending task is allowed; it just does not contribute until the
// task reaches a terminal outcome.
func (t *Tracker) RateTask(ctx context.Context, taskID string, rating float64, ratedBy string) (bool, error) {
	rec, err := t.store.RateTaskRecord(ctx, taskID, clamp(rating, 0, 1), ratedBy)
	if err != nil {
		return false, fmt.Errorf("rate task: %w", err)
	}
	if rec == nil {
		return false, nil
	}

	t.logger.Debug("task rated", "task_id", taskID, "agent_id", rec.AgentID, "rating", rec.Rating, "rated_by", ratedBy)
	if err := t.recompute(ctx, rec.AgentID); err != nil {
		return true, err
	}
	return true, nil
}

// GetTrustScore returns the agent's cached trust score, or the neutral
// midpoint for agents with no recorded work.
func (t *Tracker) GetTrustScore(ctx context.Context, agentID string) (float64, error) {
	stats, err := t.store.GetAgentStats(ctx, agentID)
	if err != nil {
		return 0, fmt.Errorf("get trust score: %w", err)
	}
	if stats == nil {
		return NeutralScore, nil
	}
	return stats.TrustScore, nil
}

// ExplainTrustScore recomputes the factor breakdown behind the agent's
// trust score from its cached aggregates.
func (t *Tracker) ExplainTrustScore(ctx context.Context, agentID string) (ScoreResult, error) {
	stats, err := t.store.GetAgentStats(ctx, agentID)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("explain trust score: %w", err)
	}
	if stats == nil {
		return NeutralResult(t.weights), nil
	}
	return ComputeScore(ScoreInputs{
		TotalTasks:    stats.TotalTasks,
		SuccessCount:  stats.SuccessCount,
		AvgDurationMs: stats.AvgDurationMs,
		AvgRating:     stats.AvgRating,
	}, t.weights), nil
}

// GetAgentStats returns the cached aggregates, or a defaulted shape at
// the neutral trust score for agents with no recorded work.
func (t *Tracker) GetAgentStats(ctx context.Context, agentID string) (*store.AgentStats, error) {
	stats, err := t.store.GetAgentStats(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("get agent stats: %w", err)
	}
	if stats == nil {
		return &store.AgentStats{AgentID: agentID, TrustScore: NeutralScore}, nil
	}
	return stats, nil
}

// Leaderboard lists the most trusted agents, best first. Agents below
// the minimum task count do not qualify.
func (t *Tracker) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	stats, err := t.store.ListAgentStats(ctx, t.minLeaderboardTasks, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}

	entries := make([]LeaderboardEntry, 0, len(stats))
	for _, st := range stats {
		entry := LeaderboardEntry{
			AgentID:    st.AgentID,
			TrustScore: st.TrustScore,
			TotalTasks: st.TotalTasks,
		}
		if st.TotalTasks > 0 {
			entry.SuccessRate = float64(st.SuccessCount) / float64(st.TotalTasks)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// recompute rebuilds the cached aggregates from the terminal task
// records inside the trailing window and mirrors the fresh trust score
// onto the agent record. With no records in the window the cache is
// left untouched.
func (t *Tracker) recompute(ctx context.Context, agentID string) error {
	since := time.Now().UTC().Add(-t.window)
	records, err := t.store.ListTerminalTaskRecords(ctx, agentID, since)
	if err != nil {
		return fmt.Errorf("recompute stats: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	var (
		success   int
		failure   int
		durations []float64
		ratings   []float64
	)
	for _, rec := range records {
		switch rec.Outcome {
		case store.OutcomeSuccess:
			success++
		case store.OutcomeFailure, store.OutcomeTimeout:
			failure++
		}
		if rec.DurationMs != nil {
			durations = append(durations, float64(*rec.DurationMs))
		}
		if rec.Rating != nil {
			ratings = append(ratings, *rec.Rating)
		}
	}

	in := ScoreInputs{
		TotalTasks:    len(records),
		SuccessCount:  success,
		AvgDurationMs: mean(durations),
		AvgRating:     mean(ratings),
	}
	result := ComputeScore(in, t.weights)

	stats := &store.AgentStats{
		AgentID:       agentID,
		TotalTasks:    in.TotalTasks,
		SuccessCount:  success,
		FailureCount:  failure,
		AvgDurationMs: in.AvgDurationMs,
		AvgRating:     in.AvgRating,
		TrustScore:    result.TrustScore,
	}
	if err := t.store.UpsertAgentStats(ctx, stats); err != nil {
		return fmt.Errorf("recompute stats: %w", err)
	}
	if err := t.store.SetAgentTrustScore(ctx, agentID, result.TrustScore); err != nil {
		return fmt.Errorf("recompute stats: %w", err)
	}

	t.logger.Debug("trust score recomputed",
		"agent_id", agentID, "trust_score", result.TrustScore, "total_tasks", in.TotalTasks)
	return nil
}

// mean returns the average of the samples, nil when there are none.
func mean(samples []float64) *float64 {
	if len(samples) == 0 {
		return nil
	}
	sum := 0.0
	for _, s := range samples {
		sum += s
	}
	avg := sum / float64(len(samples))
	return &avg
}
