package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AgentStatus string

const (
	StatusOnline  AgentStatus = "online"
	StatusBusy    AgentStatus = "busy"
	StatusOffline AgentStatus = "offline"
	StatusUnknown AgentStatus = "unknown"
)

// ParseAgentStatus validates a wire string against the known agent
// statuses. Boundary code uses it to reject unknown values instead of
// coercing them.
func ParseAgentStatus(s string) (AgentStatus, bool) {
	switch st := AgentStatus(s); st {
	case StatusOnline, StatusBusy, StatusOffline, StatusUnknown:
		return st, true
	}
	return "", false
}

type TaskOutcome string

const (
	OutcomePending TaskOutcome = "pending"
	OutcomeSuccess TaskOutcome = "success"
	OutcomeFailure TaskOutcome = "failure"
	OutcomeTimeout TaskOutcome = "timeout"
	OutcomePartial TaskOutcome = "partial"
)

// ParseTerminalOutcome validates a task completion outcome. Pending is
// not a terminal outcome and is rejected here.
func ParseTerminalOutcome(s string) (TaskOutcome, bool) {
	switch o := TaskOutcome(s); o {
	case OutcomeSuccess, OutcomeFailure, OutcomeTimeout, OutcomePartial:
		return o, true
	}
	return "", false
}

// Activity event statuses.
const (
	ActivityStatusSuccess = "success"
	ActivityStatusError   = "error"
	ActivityStatusPending = "pending"
)

// ParseActivityStatus validates an activity event status.
func ParseActivityStatus(s string) (string, bool) {
	switch s {
	case ActivityStatusSuccess, ActivityStatusError, ActivityStatusPending:
		return s, true
	}
	return "", false
}

// Capability is a single advertised skill with optional metadata used
// for filtered discovery (e.g. {"languages": ["en", "es"]}).
type Capability struct {
	Name     string                 `json:"name"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type Agent struct {
	ID           string       `json:"agent_id"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Capabilities []Capability `json:"capabilities"`

	// State
	Status   AgentStatus            `json:"status"`
	Endpoint string                 `json:"endpoint,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Timestamps
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`

	// Reputation
	TrustScore float64 `json:"trust_score"`
}

type AgentFilter struct {
	Status     *AgentStatus
	OnlineOnly bool
}

type TaskRecord struct {
	ID       string      `json:"task_id"`
	AgentID  string      `json:"agent_id"`
	TaskType string      `json:"task_type"`
	Outcome  TaskOutcome `json:"outcome"`

	// Timestamps
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  *int64     `json:"duration_ms,omitempty"`

	// Result
	ErrorMessage string `json:"error_message,omitempty"`

	// Peer rating
	Rating  *float64 `json:"rating,omitempty"`
	RatedBy string   `json:"rated_by,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AgentStats is the cached per-agent aggregate recomputed after each
// task completion or rating.
type AgentStats struct {
	AgentID       string    `json:"agent_id"`
	TotalTasks    int       `json:"total_tasks"`
	SuccessCount  int       `json:"success_count"`
	FailureCount  int       `json:"failure_count"`
	AvgDurationMs *float64  `json:"avg_duration_ms,omitempty"`
	AvgRating     *float64  `json:"avg_rating,omitempty"`
	TrustScore    float64   `json:"trust_score"`
	LastUpdated   time.Time `json:"last_updated"`
}

type ActivityEvent struct {
	ID          uuid.UUID `json:"id"`
	EventType   string    `json:"event_type"`
	AgentID     string    `json:"agent_id"`
	SessionID   string    `json:"session_id,omitempty"`
	Action      string    `json:"action,omitempty"`
	Description string    `json:"description,omitempty"`
	EntityIDs   []string  `json:"entity_ids,omitempty"`

	// Outcome
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMs   *int64 `json:"duration_ms,omitempty"`

	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type ActivityEntity struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Name      string                 `json:"name,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

type ActivityFilter struct {
	AgentID   string
	SessionID string
	EventType string
	Limit     int
	Offset    int
}

type ActivityStats struct {
	AgentID      string         `json:"agent_id"`
	TotalEvents  int            `json:"total_events"`
	EventsByType map[string]int `json:"events_by_type"`
	ErrorRate    float64        `json:"error_rate"`
}

type ServiceStats struct {
	TotalAgents   int     `json:"total_agents"`
	OnlineAgents  int     `json:"online_agents"`
	TotalTasks    int     `json:"total_tasks"`
	PendingTasks  int     `json:"pending_tasks"`
	TotalEvents   int     `json:"total_events"`
	TotalEntities int     `json:"total_entities"`
	AvgTrustScore float64 `json:"avg_trust_score"`
}

type Store interface {
	// Agents
	UpsertAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	DeleteAgent(ctx context.Context, id string) (bool, error)
	ListAgents(ctx context.Context, filter AgentFilter) ([]*Agent, error)
	TouchAgent(ctx context.Context, id string, status AgentStatus) (bool, error)
	CountAgents(ctx context.Context, onlineOnly bool) (int, error)
	MarkAgentsOffline(ctx context.Context, cutoff time.Time) (int, error)
	SetAgentTrustScore(ctx context.Context, id string, score float64) error

	// Task records
	CreateTaskRecord(ctx context.Context, rec *TaskRecord) error
	GetTaskRecord(ctx context.Context, id string) (*TaskRecord, error)
	CompleteTaskRecord(ctx context.Context, id string, outcome TaskOutcome, completedAt time.Time, errorMessage string) (*TaskRecord, error)
	RateTaskRecord(ctx context.Context, id string, rating float64, ratedBy string) (*TaskRecord, error)
	ListTerminalTaskRecords(ctx context.Context, agentID string, since time.Time) ([]*TaskRecord, error)

	// Cached reputation aggregates
	UpsertAgentStats(ctx context.Context, stats *AgentStats) error
	GetAgentStats(ctx context.Context, agentID string) (*AgentStats, error)
	ListAgentStats(ctx context.Context, minTasks, limit int) ([]*AgentStats, error)

	// Activity log
	CreateActivityEvent(ctx context.Context, event *ActivityEvent) error
	GetActivityEvent(ctx context.Context, id uuid.UUID) (*ActivityEvent, error)
	ListActivityEvents(ctx context.Context, filter ActivityFilter) ([]*ActivityEvent, error)
	UpsertEntity(ctx context.Context, entity *ActivityEntity) error
	GetEntity(ctx context.Context, id string) (*ActivityEntity, error)
	GetActivityStats(ctx context.Context, agentID string) (*ActivityStats, error)

	GetStats(ctx context.Context) (*ServiceStats, error)

	Close() error
}
