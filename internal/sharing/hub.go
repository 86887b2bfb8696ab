package sharing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultHistorySize bounds the in-memory event history when no
	// explicit size is configured.
	DefaultHistorySize = 1000

	// DefaultEventLimit caps RecentEvents when the filter does not set
	// its own limit.
	DefaultEventLimit = 100

	// ConflictPriority is assigned to synthesized conflict notices so
	// they clear any subscriber's minimum priority filter.
	ConflictPriority = 10

	// queryResultLimit caps the events returned by QueryAgents; the
	// result still reports the total match count.
	queryResultLimit = 20
)

// SendFunc delivers an event to one connected agent. Deliveries run on
// background goroutines detached from the publishing caller, so the
// context is hub-owned, not request-scoped.
type SendFunc func(ctx context.Context, event *ContextEvent) error

// ConflictFunc is notified when a publish touches an entity claimed by
// a different agent. The event is the conflicting publish, owner the
// agent holding the claim.
type ConflictFunc func(event *ContextEvent, owner string)

// connection is the hub's live record for one connected agent. All
// fields are guarded by the hub mutex.
type connection struct {
	agentID        string
	name           string
	connectedAt    time.Time
	lastSeen       time.Time
	send           SendFunc
	eventsSent     int
	eventsReceived int
}

func (c *connection) snapshot() ConnectedAgent {
	return ConnectedAgent{
		AgentID:        c.agentID,
		Name:           c.name,
		ConnectedAt:    c.connectedAt,
		LastSeen:       c.lastSeen,
		EventsSent:     c.eventsSent,
		EventsReceived: c.eventsReceived,
	}
}

// ConnectedAgent is a point-in-time snapshot of one hub connection.
type ConnectedAgent struct {
	AgentID        string    `json:"agent_id"`
	Name           string    `json:"name"`
	ConnectedAt    time.Time `json:"connected_at"`
	LastSeen       time.Time `json:"last_seen"`
	EventsSent     int       `json:"events_sent"`
	EventsReceived int       `json:"events_received"`
}

// EventFilter selects events from the hub history. Zero-valued fields
// are ignored; all set fields must match exactly.
type EventFilter struct {
	SourceAgentID string
	Topic         Topic
	EntityID      string
	Limit         int
}

// QueryResult is the answer to a keyword query over shared context.
// Events holds the most recent matches; Count is the total number of
// matches in history.
type QueryResult struct {
	Question string          `json:"question"`
	Events   []*ContextEvent `json:"events"`
	Count    int             `json:"count"`
}

// HubStats summarizes hub state for the admin surface.
type HubStats struct {
	ConnectedAgents int `json:"connected_agents"`
	EventsHeld      int `json:"events_held"`
	ActiveClaims    int `json:"active_claims"`
	Subscriptions   int `json:"subscriptions"`
	PendingAcks     int `json:"pending_acks"`
}

// Hub is the central coordinator for cross-agent context sharing. It
// tracks connections, routes events through the protocol, detects
// conflicting work on claimed entities, and keeps a bounded event
// history for late joiners.
//
// All state is guarded by a single mutex. Subscriber callbacks,
// conflict callbacks, and deliveries never run while it is held.
type Hub struct {
	protocol    *Protocol
	logger      *slog.Logger
	historySize int

	mu                sync.Mutex
	connected         map[string]*connection
	history           []*ContextEvent
	claims            map[string]string // entity id -> claiming agent id
	conflictCallbacks []ConflictFunc

	deliveries sync.WaitGroup
}

// NewHub returns a hub with an empty history bounded at historySize
// events. A non-positive size falls back to DefaultHistorySize.
func NewHub(historySize int, logger *slog.Logger) *Hub {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Hub{
		protocol:    NewProtocol(logger),
		logger:      logger,
		historySize: historySize,
		connected:   make(map[string]*connection),
		claims:      make(map[string]string),
	}
}

// Protocol exposes the underlying protocol for embedders that need
// direct subscription management.
func (h *Hub) Protocol() *Protocol {
	return h.protocol
}

// ConnectAgent registers an agent as connected and broadcasts a system
// event announcing it. Reconnecting resets the connection's counters.
// The send callback, when non-nil, receives every event routed to the
// agent while it stays connected.
func (h *Hub) ConnectAgent(agentID, name string, send SendFunc) ConnectedAgent {
	if name == "" {
		name = agentID
	}
	now := time.Now().UTC()
	conn := &connection{
		agentID:     agentID,
		name:        name,
		connectedAt: now,
		lastSeen:    now,
		send:        send,
	}
	event := systemEvent(fmt.Sprintf("Agent '%s' connected", name), map[string]interface{}{
		"agent_id": agentID,
		"action":   "connected",
	})

	out := &publishOutcome{}
	h.mu.Lock()
	h.connected[agentID] = conn
	h.publishLocked(event, false, false, out)
	snap := conn.snapshot()
	h.mu.Unlock()

	h.finish(out)
	h.logger.Info("agent connected to hub", "agent_id", agentID, "name", name)
	return snap
}

// DisconnectAgent removes an agent's connection, cancels all of its
// subscriptions, releases its entity claims, and broadcasts a system
// event. Unknown agents are a no-op.
func (h *Hub) DisconnectAgent(agentID string) {
	out := &publishOutcome{}
	h.mu.Lock()
	conn, ok := h.connected[agentID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.connected, agentID)
	h.protocol.UnsubscribeAgent(agentID)
	for entityID, owner := range h.claims {
		if owner == agentID {
			delete(h.claims, entityID)
		}
	}
	event := systemEvent(fmt.Sprintf("Agent '%s' disconnected", conn.name), map[string]interface{}{
		"agent_id": agentID,
		"action":   "disconnected",
	})
	h.publishLocked(event, false, false, out)
	h.mu.Unlock()

	h.finish(out)
	h.logger.Info("agent disconnected from hub", "agent_id", agentID)
}

// ConnectedAgents returns a snapshot of every live connection, ordered
// by agent id.
func (h *Hub) ConnectedAgents() []ConnectedAgent {
	h.mu.Lock()
	agents := make([]ConnectedAgent, 0, len(h.connected))
	for _, conn := range h.connected {
		agents = append(agents, conn.snapshot())
	}
	h.mu.Unlock()

	sort.Slice(agents, func(i, j int) bool { return agents[i].AgentID < agents[j].AgentID })
	return agents
}

// Subscribe registers a subscription for an agent and returns its id.
func (h *Hub) Subscribe(agentID string, opts SubscribeOptions) string {
	return h.protocol.Subscribe(agentID, opts)
}

// Unsubscribe removes a subscription. It reports false for unknown ids.
func (h *Hub) Unsubscribe(subscriptionID string) bool {
	return h.protocol.Unsubscribe(subscriptionID)
}

// Acknowledge reports whether the event is awaiting acknowledgment.
func (h *Hub) Acknowledge(eventID, agentID string) bool {
	return h.protocol.Acknowledge(eventID, agentID)
}

// OnConflict registers a callback invoked whenever a publish collides
// with another agent's entity claim.
func (h *Hub) OnConflict(callback ConflictFunc) {
	h.mu.Lock()
	h.conflictCallbacks = append(h.conflictCallbacks, callback)
	h.mu.Unlock()
}

// Publish records an event in history, routes it to matching
// subscribers, and delivers it asynchronously to connected recipients
// with send callbacks. When the event touches an entity claimed by a
// different agent, a high-priority conflict notice targeting both
// parties is recorded and routed first; the conflicting publish itself
// still goes through.
//
// The returned slice holds the deduplicated ids of agents whose
// subscriptions matched. Publish never blocks on delivery I/O.
func (h *Hub) Publish(event *ContextEvent) []string {
	normalizeEvent(event)

	out := &publishOutcome{}
	h.mu.Lock()
	recipients := h.publishLocked(event, true, true, out)
	h.mu.Unlock()

	h.finish(out)
	return recipients
}

// PublishSync records and routes an event like Publish but skips both
// conflict detection and the asynchronous delivery step. It is meant
// for internal notifications where matching subscribers' callbacks are
// enough.
func (h *Hub) PublishSync(event *ContextEvent) []string {
	normalizeEvent(event)

	out := &publishOutcome{}
	h.mu.Lock()
	recipients := h.publishLocked(event, false, false, out)
	h.mu.Unlock()

	h.finish(out)
	return recipients
}

// ClaimEntity claims exclusive work on an entity. It reports true when
// the claim is granted or the agent already holds it, false when a
// different agent does. Claims are advisory: they gate nothing except
// conflict detection on publish.
func (h *Hub) ClaimEntity(agentID, entityID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if owner, ok := h.claims[entityID]; ok {
		return owner == agentID
	}
	h.claims[entityID] = agentID
	return true
}

// ReleaseEntity releases a claim. Only the claim's owner can release
// it; anyone else, or a release of an unclaimed entity, reports false.
func (h *Hub) ReleaseEntity(agentID, entityID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if owner, ok := h.claims[entityID]; ok && owner == agentID {
		delete(h.claims, entityID)
		return true
	}
	return false
}

// RecentEvents returns events from the bounded history that match the
// filter, oldest first. The result is capped at filter.Limit (default
// DefaultEventLimit), keeping the most recent matches.
func (h *Hub) RecentEvents(filter EventFilter) []*ContextEvent {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultEventLimit
	}

	h.mu.Lock()
	matched := make([]*ContextEvent, 0, len(h.history))
	for _, e := range h.history {
		if filter.SourceAgentID != "" && e.SourceAgentID != filter.SourceAgentID {
			continue
		}
		if filter.Topic != "" && e.Topic != filter.Topic {
			continue
		}
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		matched = append(matched, e)
	}
	h.mu.Unlock()

	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

// QueryAgents answers a free-text question over shared context with
// case-insensitive keyword matching: an event matches when any
// whitespace-separated token of the question appears in its action,
// description, or event type. An empty question matches nothing.
func (h *Hub) QueryAgents(question string) QueryResult {
	tokens := strings.Fields(strings.ToLower(question))

	var matched []*ContextEvent
	if len(tokens) > 0 {
		h.mu.Lock()
		for _, e := range h.history {
			text := strings.ToLower(e.Action + " " + e.Description + " " + e.EventType)
			for _, tok := range tokens {
				if strings.Contains(text, tok) {
					matched = append(matched, e)
					break
				}
			}
		}
		h.mu.Unlock()
	}

	result := QueryResult{Question: question, Events: matched, Count: len(matched)}
	if result.Events == nil {
		result.Events = []*ContextEvent{}
	}
	if len(result.Events) > queryResultLimit {
		result.Events = result.Events[len(result.Events)-queryResultLimit:]
	}
	return result
}

// Stats reports hub occupancy for the admin surface.
func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	stats := HubStats{
		ConnectedAgents: len(h.connected),
		EventsHeld:      len(h.history),
		ActiveClaims:    len(h.claims),
	}
	h.mu.Unlock()

	stats.Subscriptions = h.protocol.SubscriptionCount()
	stats.PendingAcks = h.protocol.PendingAckCount()
	return stats
}

// Flush blocks until every in-flight delivery goroutine has finished.
// Used on shutdown and by tests that assert on deliveries.
func (h *Hub) Flush() {
	h.deliveries.Wait()
}

// publishOutcome collects the work a locked publish defers until the
// hub mutex is released: subscriber and conflict callbacks in routing
// order, and deliveries to dispatch.
type publishOutcome struct {
	post       []func()
	deliveries []delivery
}

type delivery struct {
	agentID string
	send    SendFunc
	event   *ContextEvent
}

// publishLocked appends an event to history, updates counters, runs
// conflict detection, and prepares routing. The hub mutex must be
// held. checkConflict is false for the synthesized conflict notice so
// a conflicting publish cannot recurse into another conflict, and for
// PublishSync which never detects conflicts.
func (h *Hub) publishLocked(event *ContextEvent, checkConflict, withDelivery bool, out *publishOutcome) []string {
	h.history = append(h.history, event)
	if len(h.history) > h.historySize {
		h.history = h.history[len(h.history)-h.historySize:]
	}

	if conn, ok := h.connected[event.SourceAgentID]; ok {
		conn.eventsSent++
	}

	if checkConflict && event.EntityID != "" {
		if owner, ok := h.claims[event.EntityID]; ok && owner != event.SourceAgentID {
			h.publishLocked(h.conflictEvent(event, owner), false, withDelivery, out)

			callbacks := make([]ConflictFunc, len(h.conflictCallbacks))
			copy(callbacks, h.conflictCallbacks)
			out.post = append(out.post, func() { h.notifyConflict(callbacks, event, owner) })
		}
	}

	recipients, routed := h.protocol.prepareRoute(event)
	if len(routed) > 0 {
		out.post = append(out.post, func() { h.protocol.invokeCallbacks(routed, event) })
	}

	if withDelivery {
		now := time.Now().UTC()
		for _, agentID := range recipients {
			conn, ok := h.connected[agentID]
			if !ok {
				continue
			}
			conn.eventsReceived++
			conn.lastSeen = now
			if conn.send != nil {
				out.deliveries = append(out.deliveries, delivery{agentID: agentID, send: conn.send, event: event})
			}
		}
	}
	return recipients
}

// finish runs deferred callbacks in routing order, then dispatches
// deliveries on background goroutines.
func (h *Hub) finish(out *publishOutcome) {
	for _, fn := range out.post {
		fn()
	}
	for _, d := range out.deliveries {
		h.deliveries.Add(1)
		go h.deliver(d)
	}
}

// deliver sends one event to one agent. Failures and panics are logged
// and isolated; they never affect other recipients or the publisher.
func (h *Hub) deliver(d delivery) {
	defer h.deliveries.Done()
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("event delivery panicked",
				"agent_id", d.agentID, "event_id", d.event.ID, "panic", rec)
		}
	}()

	if err := d.send(context.Background(), d.event); err != nil {
		h.logger.Warn("event delivery failed",
			"agent_id", d.agentID, "event_id", d.event.ID, "error", err)
	}
}

func (h *Hub) conflictEvent(event *ContextEvent, owner string) *ContextEvent {
	return &ContextEvent{
		ID:             uuid.New().String(),
		Topic:          TopicConflict,
		SourceAgentID:  SystemAgentID,
		TargetAgentIDs: []string{event.SourceAgentID, owner},
		EventType:      "conflict.detected",
		Action:         "entity_conflict",
		Description:    fmt.Sprintf("Conflict on entity %s", event.EntityID),
		EntityID:       event.EntityID,
		Data: map[string]interface{}{
			"original_owner":    owner,
			"conflicting_agent": event.SourceAgentID,
			"conflicting_event": event,
		},
		Timestamp:   time.Now().UTC(),
		Priority:    ConflictPriority,
		RequiresAck: true,
	}
}

func (h *Hub) notifyConflict(callbacks []ConflictFunc, event *ContextEvent, owner string) {
	for _, cb := range callbacks {
		h.notifyOne(cb, event, owner)
	}
}

func (h *Hub) notifyOne(cb ConflictFunc, event *ContextEvent, owner string) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Warn("conflict callback panicked",
				"entity_id", event.EntityID, "panic", rec)
		}
	}()
	cb(event, owner)
}

func systemEvent(description string, data map[string]interface{}) *ContextEvent {
	return &ContextEvent{
		ID:            uuid.New().String(),
		Topic:         TopicAll,
		SourceAgentID: SystemAgentID,
		EventType:     "system",
		Description:   description,
		Data:          data,
		Timestamp:     time.Now().UTC(),
	}
}

func normalizeEvent(e *ContextEvent) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Topic == "" {
		e.Topic = TopicAll
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}
