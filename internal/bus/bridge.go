package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ICE-CUBA/AgentGraph/internal/registry"
	"github.com/ICE-CUBA/AgentGraph/internal/reputation"
	"github.com/ICE-CUBA/AgentGraph/internal/sharing"
	"github.com/ICE-CUBA/AgentGraph/internal/store"
)

// Bridge connects the bus to the directory, the reputation tracker and
// the sharing hub, so agents can drive the service over NATS instead
// of HTTP.
type Bridge struct {
	client    Client
	directory *registry.Directory
	tracker   *reputation.Tracker
	hub       *sharing.Hub
	logger    *slog.Logger
}

func NewBridge(client Client, directory *registry.Directory, tracker *reputation.Tracker, hub *sharing.Hub, logger *slog.Logger) *Bridge {
	return &Bridge{
		client:    client,
		directory: directory,
		tracker:   tracker,
		hub:       hub,
		logger:    logger,
	}
}

// SetupSubscriptions wires the inbound NATS handlers. Safe to call
// with a nil client (bus disabled).
func (b *Bridge) SetupSubscriptions() {
	if b.client == nil {
		return
	}

	_ = b.client.Subscribe(SubjectAgentHeartbeat, func(subject string, _ []byte) {
		parts := splitSubject(subject)
		if len(parts) != 4 {
			return
		}
		agentID := parts[2]
		ok, err := b.directory.Heartbeat(context.Background(), agentID)
		if err != nil {
			b.logger.Warn("bus heartbeat failed", "agent_id", agentID, "error", err)
			return
		}
		if !ok {
			b.logger.Debug("bus heartbeat for unknown agent", "agent_id", agentID)
		}
	})

	_ = b.client.Subscribe(SubjectTaskStart, func(_ string, data []byte) {
		var evt TaskStartEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			b.logger.Warn("invalid task start event", "error", err)
			return
		}
		if evt.AgentID == "" || evt.TaskType == "" {
			b.logger.Warn("task start event missing agent_id or task_type")
			return
		}
		taskID, err := b.tracker.RecordTaskStart(context.Background(), evt.AgentID, evt.TaskType, evt.TaskID, evt.Metadata)
		if err != nil {
			b.logger.Warn("bus task start failed", "agent_id", evt.AgentID, "error", err)
			return
		}
		_ = b.client.Publish(SubjectTaskStarted(taskID), TaskStartedEvent{
			TaskID:    taskID,
			AgentID:   evt.AgentID,
			TaskType:  evt.TaskType,
			StartedAt: time.Now().UTC(),
		})
	})

	_ = b.client.Subscribe(SubjectTaskComplete, func(subject string, data []byte) {
		parts := splitSubject(subject)
		if len(parts) != 4 {
			return
		}
		taskID := parts[2]
		var evt TaskCompleteEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			b.logger.Warn("invalid task complete event", "task_id", taskID, "error", err)
			return
		}
		outcome, ok := store.ParseTerminalOutcome(evt.Outcome)
		if !ok {
			b.logger.Warn("task complete event with unknown outcome", "task_id", taskID, "outcome", evt.Outcome)
			return
		}
		applied, err := b.tracker.RecordTaskComplete(context.Background(), taskID, outcome, evt.ErrorMessage)
		if err != nil {
			b.logger.Warn("bus task complete failed", "task_id", taskID, "error", err)
			return
		}
		if !applied {
			return
		}
		_ = b.client.Publish(SubjectTaskCompleted(taskID), TaskCompletedEvent{
			TaskID:       taskID,
			Outcome:      string(outcome),
			ErrorMessage: evt.ErrorMessage,
			CompletedAt:  time.Now().UTC(),
		})
	})

	_ = b.client.Subscribe(SubjectTaskRate, func(subject string, data []byte) {
		parts := splitSubject(subject)
		if len(parts) != 4 {
			return
		}
		taskID := parts[2]
		var evt TaskRateEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			b.logger.Warn("invalid task rate event", "task_id", taskID, "error", err)
			return
		}
		applied, err := b.tracker.RateTask(context.Background(), taskID, evt.Rating, evt.RatedBy)
		if err != nil {
			b.logger.Warn("bus task rate failed", "task_id", taskID, "error", err)
			return
		}
		if !applied {
			return
		}
		_ = b.client.Publish(SubjectTaskRated(taskID), TaskRatedEvent{
			TaskID:  taskID,
			Rating:  evt.Rating,
			RatedBy: evt.RatedBy,
			RatedAt: time.Now().UTC(),
		})
	})
}

// MirrorConflicts republishes hub conflict advisories onto the bus so
// agents that are not connected to the hub still see them.
func (b *Bridge) MirrorConflicts() {
	if b.client == nil || b.hub == nil {
		return
	}
	b.hub.OnConflict(func(event *sharing.ContextEvent, owner string) {
		err := b.client.Publish(SubjectConflict(event.EntityID), ConflictEvent{
			EntityID:         event.EntityID,
			Owner:            owner,
			ConflictingAgent: event.SourceAgentID,
			EventID:          event.ID,
			DetectedAt:       time.Now().UTC(),
		})
		if err != nil {
			b.logger.Warn("conflict mirror publish failed", "entity_id", event.EntityID, "error", err)
		}
	})
}

// splitSubject splits a NATS subject on dots without allocating a
// regexp. NATS subjects never contain empty tokens.
func splitSubject(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}
