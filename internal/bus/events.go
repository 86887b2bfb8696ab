package bus

import "time"

// AgentRegisteredEvent is published when an agent joins the directory.
type AgentRegisteredEvent struct {
	AgentID      string    `json:"agent_id"`
	Name         string    `json:"name"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Endpoint     string    `json:"endpoint,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// AgentUnregisteredEvent is published when an agent leaves the
// directory, either explicitly or through an admin purge.
type AgentUnregisteredEvent struct {
	AgentID string    `json:"agent_id"`
	Name    string    `json:"name,omitempty"`
	At      time.Time `json:"at"`
}

// TaskStartEvent is the inbound command opening a task record. TaskID
// is optional; the tracker assigns one when it is empty.
type TaskStartEvent struct {
	AgentID  string                 `json:"agent_id"`
	TaskType string                 `json:"task_type"`
	TaskID   string                 `json:"task_id,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// TaskCompleteEvent is the inbound command closing a task. The task id
// rides in the subject.
type TaskCompleteEvent struct {
	Outcome      string `json:"outcome"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// TaskRateEvent is the inbound peer rating command. The task id rides
// in the subject.
type TaskRateEvent struct {
	Rating  float64 `json:"rating"`
	RatedBy string  `json:"rated_by,omitempty"`
}

// TaskStartedEvent mirrors an accepted task start back onto the bus.
type TaskStartedEvent struct {
	TaskID    string    `json:"task_id"`
	AgentID   string    `json:"agent_id"`
	TaskType  string    `json:"task_type"`
	StartedAt time.Time `json:"started_at"`
}

// TaskCompletedEvent mirrors a recorded completion.
type TaskCompletedEvent struct {
	TaskID       string    `json:"task_id"`
	Outcome      string    `json:"outcome"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}

// TaskRatedEvent mirrors a recorded peer rating.
type TaskRatedEvent struct {
	TaskID  string    `json:"task_id"`
	Rating  float64   `json:"rating"`
	RatedBy string    `json:"rated_by,omitempty"`
	RatedAt time.Time `json:"rated_at"`
}

// ConflictEvent is published when the sharing hub detects an event
// touching an entity claimed by another agent.
type ConflictEvent struct {
	EntityID         string    `json:"entity_id"`
	Owner            string    `json:"owner"`
	ConflictingAgent string    `json:"conflicting_agent"`
	EventID          string    `json:"event_id"`
	DetectedAt       time.Time `json:"detected_at"`
}
