// Package sharing implements the context sharing protocol and the hub
// that routes context events between connected agents.
//
// The protocol layer owns subscriptions and matching; the hub layers
// connection tracking, entity claims, conflict detection, and bounded
// event history on top of it.
package sharing

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topic is the routing category of a context event. The string values
// are part of the wire contract and must not change.
type Topic string

const (
	TopicEntityCreated  Topic = "entity.created"
	TopicEntityModified Topic = "entity.modified"
	TopicEntityDeleted  Topic = "entity.deleted"

	TopicActionStarted   Topic = "action.started"
	TopicActionCompleted Topic = "action.completed"
	TopicActionFailed    Topic = "action.failed"

	TopicDecisionMade Topic = "decision.made"

	TopicToolCalled Topic = "tool.called"
	TopicToolResult Topic = "tool.result"

	TopicHelpRequested Topic = "help.requested"
	TopicHandoff       Topic = "handoff"
	TopicConflict      Topic = "conflict.detected"

	// TopicAll matches every topic when subscribed to, and is the
	// default topic for events published without one.
	TopicAll Topic = "*"
)

// ParseTopic validates a wire string against the known topics. Callers
// at API boundaries use it to reject unknown values instead of letting
// them flow into routing.
func ParseTopic(s string) (Topic, bool) {
	switch t := Topic(s); t {
	case TopicEntityCreated, TopicEntityModified, TopicEntityDeleted,
		TopicActionStarted, TopicActionCompleted, TopicActionFailed,
		TopicDecisionMade, TopicToolCalled, TopicToolResult,
		TopicHelpRequested, TopicHandoff, TopicConflict, TopicAll:
		return t, true
	}
	return "", false
}

// SystemAgentID is the reserved source id for events the hub itself
// emits (connection broadcasts, conflict notices).
const SystemAgentID = "system"

// ContextEvent is the unit of context sharing. An agent publishes one
// whenever it does something other agents may care about. Events are
// immutable once published.
type ContextEvent struct {
	ID    string `json:"id"`
	Topic Topic  `json:"topic"`

	SourceAgentID  string   `json:"source_agent_id"`
	TargetAgentIDs []string `json:"target_agent_ids,omitempty"` // empty = broadcast

	EventType   string `json:"event_type,omitempty"`
	Action      string `json:"action,omitempty"`
	Description string `json:"description,omitempty"`

	EntityID   string                 `json:"entity_id,omitempty"`
	EntityType string                 `json:"entity_type,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`

	Timestamp time.Time  `json:"timestamp"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	Priority    int  `json:"priority"`
	RequiresAck bool `json:"requires_ack"`
}

// EventCallback receives events matching a subscription. Callbacks run
// synchronously on the publishing path, outside any hub or protocol
// lock, and must not block for long.
type EventCallback func(event *ContextEvent)

// Subscription is an agent's registered interest in a slice of the
// event stream. All filter sets are AND-ed; an empty set means "any".
type Subscription struct {
	ID      string
	AgentID string

	Topics         map[Topic]struct{}
	EntityIDs      map[string]struct{}
	EntityTypes    map[string]struct{}
	SourceAgentIDs map[string]struct{}

	MinPriority int
	Callback    EventCallback

	IsActive  bool
	CreatedAt time.Time
}

// Matches reports whether an event passes every filter on this
// subscription. Directed events (non-empty TargetAgentIDs) only match
// subscriptions held by one of the targets.
func (s *Subscription) Matches(event *ContextEvent) bool {
	if !s.IsActive {
		return false
	}
	if event.Priority < s.MinPriority {
		return false
	}
	if _, all := s.Topics[TopicAll]; !all {
		if _, ok := s.Topics[event.Topic]; !ok {
			return false
		}
	}
	if len(s.EntityIDs) > 0 {
		if _, ok := s.EntityIDs[event.EntityID]; !ok {
			return false
		}
	}
	if len(s.EntityTypes) > 0 {
		if _, ok := s.EntityTypes[event.EntityType]; !ok {
			return false
		}
	}
	if len(s.SourceAgentIDs) > 0 {
		if _, ok := s.SourceAgentIDs[event.SourceAgentID]; !ok {
			return false
		}
	}
	if len(event.TargetAgentIDs) > 0 {
		targeted := false
		for _, id := range event.TargetAgentIDs {
			if id == s.AgentID {
				targeted = true
				break
			}
		}
		if !targeted {
			return false
		}
	}
	return true
}

// SubscribeOptions carries the optional filters for a new
// subscription. A nil Topics slice defaults to TopicAll.
type SubscribeOptions struct {
	Topics         []Topic
	EntityIDs      []string
	EntityTypes    []string
	SourceAgentIDs []string
	MinPriority    int
	Callback       EventCallback
}

// Protocol manages subscriptions and routes events to the ones that
// match. It is safe for concurrent use.
type Protocol struct {
	logger *slog.Logger

	mu            sync.RWMutex
	subscriptions map[string]*Subscription          // sub id -> subscription
	agentSubs     map[string]map[string]struct{}    // agent id -> sub ids
	pendingAcks   map[string]*ContextEvent          // event id -> event awaiting ack
}

// NewProtocol returns an empty protocol.
func NewProtocol(logger *slog.Logger) *Protocol {
	return &Protocol{
		logger:        logger,
		subscriptions: make(map[string]*Subscription),
		agentSubs:     make(map[string]map[string]struct{}),
		pendingAcks:   make(map[string]*ContextEvent),
	}
}

// Subscribe registers a subscription for an agent and returns its id.
func (p *Protocol) Subscribe(agentID string, opts SubscribeOptions) string {
	sub := &Subscription{
		ID:             uuid.New().String(),
		AgentID:        agentID,
		Topics:         topicSet(opts.Topics),
		EntityIDs:      stringSet(opts.EntityIDs),
		EntityTypes:    stringSet(opts.EntityTypes),
		SourceAgentIDs: stringSet(opts.SourceAgentIDs),
		MinPriority:    opts.MinPriority,
		Callback:       opts.Callback,
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.subscriptions[sub.ID] = sub
	if _, ok := p.agentSubs[agentID]; !ok {
		p.agentSubs[agentID] = make(map[string]struct{})
	}
	p.agentSubs[agentID][sub.ID] = struct{}{}

	return sub.ID
}

// Unsubscribe removes a subscription. It reports false for unknown ids.
func (p *Protocol) Unsubscribe(subscriptionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unsubscribeLocked(subscriptionID)
}

func (p *Protocol) unsubscribeLocked(subscriptionID string) bool {
	sub, ok := p.subscriptions[subscriptionID]
	if !ok {
		return false
	}
	delete(p.subscriptions, subscriptionID)
	if subs, ok := p.agentSubs[sub.AgentID]; ok {
		delete(subs, subscriptionID)
		if len(subs) == 0 {
			delete(p.agentSubs, sub.AgentID)
		}
	}
	return true
}

// UnsubscribeAgent removes every subscription held by an agent and
// returns how many were removed. The hub uses it when an agent
// disconnects.
func (p *Protocol) UnsubscribeAgent(agentID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs, ok := p.agentSubs[agentID]
	if !ok {
		return 0
	}
	removed := 0
	for subID := range subs {
		if p.unsubscribeLocked(subID) {
			removed++
		}
	}
	return removed
}

// MatchingSubscriptions returns every subscription that matches the
// event, without invoking callbacks or touching ack state.
func (p *Protocol) MatchingSubscriptions(event *ContextEvent) []*Subscription {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var matched []*Subscription
	for _, sub := range p.subscriptions {
		if sub.Matches(event) {
			matched = append(matched, sub)
		}
	}
	return matched
}

// routedSub is the snapshot of one matched subscription, taken under
// the read lock so callbacks can run after it is released.
type routedSub struct {
	subID    string
	agentID  string
	callback EventCallback
}

// prepareRoute computes the deduplicated recipients for an event,
// snapshots the callbacks to invoke, and registers the event for
// acknowledgment when required. Callbacks are NOT invoked here; the
// caller runs them via invokeCallbacks once no locks are held.
func (p *Protocol) prepareRoute(event *ContextEvent) (recipients []string, routed []routedSub) {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[string]struct{})
	for _, sub := range p.subscriptions {
		if !sub.Matches(event) {
			continue
		}
		if _, dup := seen[sub.AgentID]; !dup {
			seen[sub.AgentID] = struct{}{}
			recipients = append(recipients, sub.AgentID)
		}
		if sub.Callback != nil {
			routed = append(routed, routedSub{subID: sub.ID, agentID: sub.AgentID, callback: sub.Callback})
		}
	}

	if event.RequiresAck {
		p.pendingAcks[event.ID] = event
	}
	return recipients, routed
}

// invokeCallbacks runs the snapshotted callbacks for an event. A panic
// in one subscriber is logged and does not stop the others.
func (p *Protocol) invokeCallbacks(routed []routedSub, event *ContextEvent) {
	for _, r := range routed {
		p.invoke(r, event)
	}
}

func (p *Protocol) invoke(r routedSub, event *ContextEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Warn("subscription callback panicked",
				"subscription_id", r.subID,
				"agent_id", r.agentID,
				"event_id", event.ID,
				"panic", rec)
		}
	}()
	r.callback(event)
}

// RouteEvent delivers an event to every matching subscription's
// callback and returns the deduplicated agent ids that matched. Events
// with RequiresAck set are recorded as awaiting acknowledgment.
func (p *Protocol) RouteEvent(event *ContextEvent) []string {
	recipients, routed := p.prepareRoute(event)
	p.invokeCallbacks(routed, event)
	return recipients
}

// Acknowledge reports whether the event is known to be awaiting
// acknowledgment. Which agents have acknowledged is not tracked, so a
// second acknowledgment of the same event also reports true.
func (p *Protocol) Acknowledge(eventID, agentID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.pendingAcks[eventID]
	return ok
}

// SubscriptionCount returns the number of live subscriptions.
func (p *Protocol) SubscriptionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscriptions)
}

// PendingAckCount returns the number of events awaiting acknowledgment.
func (p *Protocol) PendingAckCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pendingAcks)
}

func topicSet(topics []Topic) map[Topic]struct{} {
	set := make(map[Topic]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}
	if len(set) == 0 {
		set[TopicAll] = struct{}{}
	}
	return set
}

func stringSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
