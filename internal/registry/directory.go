package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ICE-CUBA/AgentGraph/internal/store"
)

// DefaultHeartbeatTimeout is how long an agent may stay silent before
// it is presented as offline.
const DefaultHeartbeatTimeout = 5 * time.Minute

// Directory is the agent registry: registration, capability discovery,
// and heartbeat-based liveness.
type Directory struct {
	store            store.Store
	logger           *slog.Logger
	heartbeatTimeout time.Duration
}

func NewDirectory(s store.Store, logger *slog.Logger, heartbeatTimeout time.Duration) *Directory {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = DefaultHeartbeatTimeout
	}
	return &Directory{
		store:            s,
		logger:           logger,
		heartbeatTimeout: heartbeatTimeout,
	}
}

// Register inserts or replaces the agent record. Registration always
// refreshes both registered_at and last_seen and forces status to
// online, also when the agent was already registered.
func (d *Directory) Register(ctx context.Context, agent *store.Agent) error {
	if err := d.store.UpsertAgent(ctx, agent); err != nil {
		return fmt.Errorf("register agent: %w", err)
	}
	d.logger.Info("agent registered", "agent_id", agent.ID, "name", agent.Name, "capabilities", len(agent.Capabilities))
	return nil
}

func (d *Directory) Unregister(ctx context.Context, id string) (bool, error) {
	ok, err := d.store.DeleteAgent(ctx, id)
	if err != nil {
		return false, fmt.Errorf("unregister agent: %w", err)
	}
	if ok {
		d.logger.Info("agent unregistered", "agent_id", id)
	}
	return ok, nil
}

// Get returns the persisted record without staleness correction; nil
// when unknown.
func (d *Directory) Get(ctx context.Context, id string) (*store.Agent, error) {
	return d.store.GetAgent(ctx, id)
}

type DiscoverQuery struct {
	Capability string
	Status     *store.AgentStatus
	OnlineOnly bool
	Filters    map[string]interface{}
}

// Discover lists agents matching the query. A status filter wins over
// OnlineOnly. Agents whose last heartbeat is older than the timeout are
// presented as offline without persisting the flip, and drop out of the
// result when that stops them satisfying the requested liveness.
func (d *Directory) Discover(ctx context.Context, q DiscoverQuery) ([]*store.Agent, error) {
	filter := store.AgentFilter{}
	if q.Status != nil {
		filter.Status = q.Status
	} else if q.OnlineOnly {
		filter.OnlineOnly = true
	}

	agents, err := d.store.ListAgents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("discover agents: %w", err)
	}

	now := time.Now()
	matched := make([]*store.Agent, 0, len(agents))
	for _, agent := range agents {
		if q.Capability != "" && !AgentMatches(agent, q.Capability, q.Filters) {
			continue
		}
		if d.isStale(agent, now) {
			agent.Status = store.StatusOffline
		}
		if q.Status != nil && agent.Status != *q.Status {
			continue
		}
		if q.Status == nil && q.OnlineOnly &&
			agent.Status != store.StatusOnline && agent.Status != store.StatusBusy {
			continue
		}
		matched = append(matched, agent)
	}
	return matched, nil
}

// Heartbeat refreshes last_seen and forces status back to online.
func (d *Directory) Heartbeat(ctx context.Context, id string) (bool, error) {
	return d.store.TouchAgent(ctx, id, store.StatusOnline)
}

// UpdateStatus sets the status directly and refreshes last_seen.
func (d *Directory) UpdateStatus(ctx context.Context, id string, status store.AgentStatus) (bool, error) {
	return d.store.TouchAgent(ctx, id, status)
}

func (d *Directory) Count(ctx context.Context, onlineOnly bool) (int, error) {
	return d.store.CountAgents(ctx, onlineOnly)
}

// CleanupStale persists the offline flip for every agent past the
// heartbeat timeout and returns how many were flipped.
func (d *Directory) CleanupStale(ctx context.Context) (int, error) {
	count, err := d.store.MarkAgentsOffline(ctx, time.Now().Add(-d.heartbeatTimeout))
	if err != nil {
		return 0, fmt.Errorf("cleanup stale agents: %w", err)
	}
	if count > 0 {
		d.logger.Info("marked stale agents offline", "count", count)
	}
	return count, nil
}

func (d *Directory) isStale(agent *store.Agent, now time.Time) bool {
	if agent.Status == store.StatusOffline {
		return false
	}
	return now.Sub(agent.LastSeen) > d.heartbeatTimeout
}
