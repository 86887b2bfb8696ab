package sharing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestConnectAndDisconnect(t *testing.T) {
	hub := NewHub(0, discardLogger())

	a := hub.ConnectAgent("agent-1", "ResearchAgent", nil)
	if a.AgentID != "agent-1" || a.Name != "ResearchAgent" {
		t.Fatalf("ConnectAgent() = %+v", a)
	}
	hub.ConnectAgent("agent-2", "", nil)

	agents := hub.ConnectedAgents()
	if len(agents) != 2 {
		t.Fatalf("ConnectedAgents() = %d agents, want 2", len(agents))
	}
	if agents[0].AgentID != "agent-1" || agents[1].AgentID != "agent-2" {
		t.Errorf("ConnectedAgents() order = %s, %s", agents[0].AgentID, agents[1].AgentID)
	}
	if agents[1].Name != "agent-2" {
		t.Errorf("empty name should default to agent id, got %q", agents[1].Name)
	}

	// Connection broadcasts are recorded in history.
	events := hub.RecentEvents(EventFilter{SourceAgentID: SystemAgentID})
	if len(events) != 2 {
		t.Fatalf("system events in history = %d, want 2", len(events))
	}
	if events[0].Description != "Agent 'ResearchAgent' connected" {
		t.Errorf("broadcast description = %q", events[0].Description)
	}

	hub.DisconnectAgent("agent-1")
	hub.DisconnectAgent("agent-1") // second disconnect is a no-op

	if got := hub.ConnectedAgents(); len(got) != 1 {
		t.Fatalf("ConnectedAgents() after disconnect = %d, want 1", len(got))
	}
	events = hub.RecentEvents(EventFilter{SourceAgentID: SystemAgentID})
	if len(events) != 3 {
		t.Fatalf("system events after disconnect = %d, want 3", len(events))
	}
	if events[2].Description != "Agent 'ResearchAgent' disconnected" {
		t.Errorf("disconnect broadcast = %q", events[2].Description)
	}
}

func TestPublishRoutesToSubscribers(t *testing.T) {
	hub := NewHub(0, discardLogger())
	hub.ConnectAgent("agent-1", "publisher", nil)
	hub.ConnectAgent("agent-2", "listener", nil)

	var mu sync.Mutex
	var seen []*ContextEvent
	hub.Subscribe("agent-2", SubscribeOptions{
		Topics: []Topic{TopicDecisionMade},
		Callback: func(e *ContextEvent) {
			mu.Lock()
			seen = append(seen, e)
			mu.Unlock()
		},
	})

	recipients := hub.Publish(&ContextEvent{
		Topic:         TopicDecisionMade,
		SourceAgentID: "agent-1",
		Action:        "chose_strategy",
		Description:   "Decided to use approach A",
	})
	if len(recipients) != 1 || recipients[0] != "agent-2" {
		t.Fatalf("Publish() recipients = %v, want [agent-2]", recipients)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0].Action != "chose_strategy" {
		t.Fatalf("subscription callback saw %+v", seen)
	}
	if seen[0].ID == "" || seen[0].Timestamp.IsZero() {
		t.Error("published event missing generated id or timestamp")
	}

	agents := hub.ConnectedAgents()
	if agents[0].EventsSent != 1 {
		t.Errorf("publisher events_sent = %d, want 1", agents[0].EventsSent)
	}
	if agents[1].EventsReceived != 1 {
		t.Errorf("listener events_received = %d, want 1", agents[1].EventsReceived)
	}
}

func TestPublishDirectedEvent(t *testing.T) {
	hub := NewHub(0, discardLogger())
	hub.ConnectAgent("agent-1", "", nil)
	hub.ConnectAgent("agent-2", "", nil)
	hub.ConnectAgent("agent-3", "", nil)

	hub.Subscribe("agent-2", SubscribeOptions{})
	hub.Subscribe("agent-3", SubscribeOptions{})

	recipients := hub.Publish(&ContextEvent{
		Topic:          TopicHandoff,
		SourceAgentID:  "agent-1",
		TargetAgentIDs: []string{"agent-2"},
		Action:         "handoff_task",
	})
	if len(recipients) != 1 || recipients[0] != "agent-2" {
		t.Errorf("directed event recipients = %v, want [agent-2]", recipients)
	}
}

func TestDeliveryToSendCallbacks(t *testing.T) {
	hub := NewHub(0, discardLogger())

	got := make(chan *ContextEvent, 1)
	hub.ConnectAgent("agent-1", "publisher", nil)
	hub.ConnectAgent("agent-2", "receiver", func(ctx context.Context, e *ContextEvent) error {
		got <- e
		return nil
	})
	// A failing recipient must not affect the others.
	hub.ConnectAgent("agent-3", "flaky", func(ctx context.Context, e *ContextEvent) error {
		return errors.New("connection reset")
	})
	hub.Subscribe("agent-2", SubscribeOptions{Topics: []Topic{TopicActionCompleted}})
	hub.Subscribe("agent-3", SubscribeOptions{Topics: []Topic{TopicActionCompleted}})

	recipients := hub.Publish(&ContextEvent{
		Topic:         TopicActionCompleted,
		SourceAgentID: "agent-1",
		Action:        "crawl_finished",
	})
	hub.Flush()

	if len(recipients) != 2 {
		t.Fatalf("recipients = %v, want 2 agents", recipients)
	}
	select {
	case e := <-got:
		if e.Action != "crawl_finished" {
			t.Errorf("delivered event action = %q", e.Action)
		}
	default:
		t.Fatal("no event delivered to agent-2")
	}

	for _, a := range hub.ConnectedAgents() {
		switch a.AgentID {
		case "agent-2", "agent-3":
			if a.EventsReceived != 1 {
				t.Errorf("%s events_received = %d, want 1", a.AgentID, a.EventsReceived)
			}
		}
	}
}

func TestPublishSyncSkipsDelivery(t *testing.T) {
	hub := NewHub(0, discardLogger())

	got := make(chan *ContextEvent, 1)
	hub.ConnectAgent("agent-1", "", func(ctx context.Context, e *ContextEvent) error {
		got <- e
		return nil
	})
	hub.Subscribe("agent-1", SubscribeOptions{Topics: []Topic{TopicActionStarted}})

	recipients := hub.PublishSync(&ContextEvent{Topic: TopicActionStarted, SourceAgentID: "agent-2"})
	hub.Flush()

	if len(recipients) != 1 || recipients[0] != "agent-1" {
		t.Fatalf("PublishSync() recipients = %v, want [agent-1]", recipients)
	}
	select {
	case <-got:
		t.Fatal("PublishSync() must not invoke send callbacks")
	default:
	}
	if a := hub.ConnectedAgents()[0]; a.EventsReceived != 0 {
		t.Errorf("events_received = %d, want 0 for sync publish", a.EventsReceived)
	}
}

func TestClaimAndRelease(t *testing.T) {
	hub := NewHub(0, discardLogger())

	if !hub.ClaimEntity("agent-1", "entity-123") {
		t.Fatal("first claim refused")
	}
	if !hub.ClaimEntity("agent-1", "entity-123") {
		t.Error("re-claim by owner refused")
	}
	if hub.ClaimEntity("agent-2", "entity-123") {
		t.Error("claim by second agent granted while held")
	}
	if hub.ReleaseEntity("agent-2", "entity-123") {
		t.Error("release by non-owner granted")
	}
	if !hub.ReleaseEntity("agent-1", "entity-123") {
		t.Error("release by owner refused")
	}
	if hub.ReleaseEntity("agent-1", "entity-123") {
		t.Error("release of unclaimed entity granted")
	}
	if !hub.ClaimEntity("agent-2", "entity-123") {
		t.Error("claim after release refused")
	}
}

func TestPublishOnClaimedEntityRaisesConflict(t *testing.T) {
	hub := NewHub(0, discardLogger())
	hub.ConnectAgent("agent-1", "owner", nil)
	hub.ConnectAgent("agent-2", "intruder", nil)

	if !hub.ClaimEntity("agent-1", "customer-42") {
		t.Fatal("claim failed")
	}

	var conflictEvents []*ContextEvent
	var conflictOwner string
	hub.OnConflict(func(e *ContextEvent, owner string) {
		conflictEvents = append(conflictEvents, e)
		conflictOwner = owner
	})

	hub.Subscribe("agent-2", SubscribeOptions{Topics: []Topic{TopicEntityModified}})

	// The conflicting publish is advisory: it still routes.
	recipients := hub.Publish(&ContextEvent{
		Topic:         TopicEntityModified,
		SourceAgentID: "agent-2",
		EntityID:      "customer-42",
		Action:        "update_record",
	})
	if len(recipients) != 1 || recipients[0] != "agent-2" {
		t.Fatalf("conflicting publish recipients = %v, want [agent-2]", recipients)
	}

	if len(conflictEvents) != 1 {
		t.Fatalf("conflict callbacks = %d, want 1", len(conflictEvents))
	}
	if conflictEvents[0].Action != "update_record" || conflictOwner != "agent-1" {
		t.Errorf("conflict callback got event %q owner %q", conflictEvents[0].Action, conflictOwner)
	}

	notices := hub.RecentEvents(EventFilter{Topic: TopicConflict})
	if len(notices) != 1 {
		t.Fatalf("conflict notices in history = %d, want exactly 1", len(notices))
	}
	notice := notices[0]
	if notice.SourceAgentID != SystemAgentID {
		t.Errorf("notice source = %q, want system", notice.SourceAgentID)
	}
	if notice.Priority != ConflictPriority || !notice.RequiresAck {
		t.Errorf("notice priority/ack = %d/%v", notice.Priority, notice.RequiresAck)
	}
	if len(notice.TargetAgentIDs) != 2 || notice.TargetAgentIDs[0] != "agent-2" || notice.TargetAgentIDs[1] != "agent-1" {
		t.Errorf("notice targets = %v, want [agent-2 agent-1]", notice.TargetAgentIDs)
	}
	if notice.Data["original_owner"] != "agent-1" || notice.Data["conflicting_agent"] != "agent-2" {
		t.Errorf("notice data = %v", notice.Data)
	}

	// History keeps the conflicting publish first, then the notice.
	all := hub.RecentEvents(EventFilter{EntityID: "customer-42"})
	if len(all) != 2 || all[0].Action != "update_record" || all[1].Topic != TopicConflict {
		t.Errorf("history around conflict = %d events", len(all))
	}

	if !hub.Acknowledge(notice.ID, "agent-2") {
		t.Error("Acknowledge() = false for conflict notice")
	}

	// The owner publishing about its own entity raises nothing.
	hub.Publish(&ContextEvent{
		Topic:         TopicEntityModified,
		SourceAgentID: "agent-1",
		EntityID:      "customer-42",
		Action:        "own_update",
	})
	if got := hub.RecentEvents(EventFilter{Topic: TopicConflict}); len(got) != 1 {
		t.Errorf("conflict notices after owner publish = %d, want still 1", len(got))
	}
}

func TestHistoryBound(t *testing.T) {
	hub := NewHub(5, discardLogger())

	for i := 0; i < 8; i++ {
		hub.Publish(&ContextEvent{
			Topic:         TopicActionCompleted,
			SourceAgentID: "agent-1",
			Action:        fmt.Sprintf("step_%d", i),
		})
	}

	events := hub.RecentEvents(EventFilter{Limit: 100})
	if len(events) != 5 {
		t.Fatalf("history holds %d events, want 5", len(events))
	}
	if events[0].Action != "step_3" || events[4].Action != "step_7" {
		t.Errorf("history window = %q .. %q, want step_3 .. step_7", events[0].Action, events[4].Action)
	}
}

func TestRecentEventsFilters(t *testing.T) {
	hub := NewHub(0, discardLogger())

	hub.Publish(&ContextEvent{Topic: TopicEntityCreated, SourceAgentID: "agent-1", EntityID: "e-1"})
	hub.Publish(&ContextEvent{Topic: TopicEntityModified, SourceAgentID: "agent-2", EntityID: "e-1"})
	hub.Publish(&ContextEvent{Topic: TopicEntityModified, SourceAgentID: "agent-1", EntityID: "e-2"})

	if got := hub.RecentEvents(EventFilter{SourceAgentID: "agent-1"}); len(got) != 2 {
		t.Errorf("by source = %d, want 2", len(got))
	}
	if got := hub.RecentEvents(EventFilter{Topic: TopicEntityModified}); len(got) != 2 {
		t.Errorf("by topic = %d, want 2", len(got))
	}
	if got := hub.RecentEvents(EventFilter{EntityID: "e-1"}); len(got) != 2 {
		t.Errorf("by entity = %d, want 2", len(got))
	}
	if got := hub.RecentEvents(EventFilter{SourceAgentID: "agent-1", EntityID: "e-1"}); len(got) != 1 {
		t.Errorf("combined filters = %d, want 1", len(got))
	}
	if got := hub.RecentEvents(EventFilter{SourceAgentID: "agent-1", Limit: 1}); len(got) != 1 || got[0].EntityID != "e-2" {
		t.Errorf("limit should keep the most recent match")
	}
}

func TestQueryAgents(t *testing.T) {
	hub := NewHub(0, discardLogger())

	hub.Publish(&ContextEvent{
		Topic:         TopicActionStarted,
		SourceAgentID: "agent-1",
		Action:        "customer_research",
		Description:   "Analyzing customer data for Q4",
	})
	hub.Publish(&ContextEvent{
		Topic:         TopicActionCompleted,
		SourceAgentID: "agent-2",
		Action:        "deploy_service",
		Description:   "Rolled out billing service",
	})
	hub.Publish(&ContextEvent{
		Topic:         TopicDecisionMade,
		SourceAgentID: "agent-1",
		EventType:     "analysis",
		Description:   "Customer churn is trending down",
	})

	result := hub.QueryAgents("CUSTOMER")
	if result.Count != 2 || len(result.Events) != 2 {
		t.Fatalf("query count = %d (%d events), want 2", result.Count, len(result.Events))
	}
	if result.Question != "CUSTOMER" {
		t.Errorf("result question = %q", result.Question)
	}

	if got := hub.QueryAgents("billing deploy"); got.Count != 1 {
		t.Errorf("multi-token query count = %d, want 1", got.Count)
	}
	if got := hub.QueryAgents(""); got.Count != 0 || len(got.Events) != 0 {
		t.Errorf("empty query matched %d events", got.Count)
	}
	if got := hub.QueryAgents("quarterly"); got.Count != 0 {
		t.Errorf("unmatched query count = %d, want 0", got.Count)
	}
}

func TestQueryAgentsCapsReturnedEvents(t *testing.T) {
	hub := NewHub(0, discardLogger())

	for i := 0; i < 25; i++ {
		hub.Publish(&ContextEvent{
			Topic:         TopicToolCalled,
			SourceAgentID: "agent-1",
			Action:        fmt.Sprintf("search_call_%d", i),
		})
	}

	result := hub.QueryAgents("search")
	if result.Count != 25 {
		t.Errorf("count = %d, want 25", result.Count)
	}
	if len(result.Events) != 20 {
		t.Fatalf("returned events = %d, want 20", len(result.Events))
	}
	if result.Events[19].Action != "search_call_24" {
		t.Errorf("last returned event = %q, want the most recent match", result.Events[19].Action)
	}
}

func TestDisconnectCascades(t *testing.T) {
	hub := NewHub(0, discardLogger())
	hub.ConnectAgent("agent-1", "", nil)
	hub.ConnectAgent("agent-2", "", nil)

	hub.Subscribe("agent-1", SubscribeOptions{Topics: []Topic{TopicDecisionMade}})
	hub.ClaimEntity("agent-1", "entity-9")

	hub.DisconnectAgent("agent-1")

	recipients := hub.Publish(&ContextEvent{Topic: TopicDecisionMade, SourceAgentID: "agent-2"})
	if len(recipients) != 0 {
		t.Errorf("recipients after disconnect = %v, want none", recipients)
	}
	if !hub.ClaimEntity("agent-2", "entity-9") {
		t.Error("claim after owner disconnect refused; lock not released")
	}
	if got := hub.Stats().Subscriptions; got != 0 {
		t.Errorf("subscriptions after disconnect = %d, want 0", got)
	}
}

func TestHubStats(t *testing.T) {
	hub := NewHub(0, discardLogger())
	hub.ConnectAgent("agent-1", "", nil)
	hub.Subscribe("agent-1", SubscribeOptions{})
	hub.ClaimEntity("agent-1", "entity-1")
	hub.Publish(&ContextEvent{Topic: TopicActionStarted, SourceAgentID: "agent-1", RequiresAck: true})

	stats := hub.Stats()
	if stats.ConnectedAgents != 1 {
		t.Errorf("connected = %d", stats.ConnectedAgents)
	}
	if stats.EventsHeld != 2 { // connect broadcast + publish
		t.Errorf("events held = %d, want 2", stats.EventsHeld)
	}
	if stats.ActiveClaims != 1 || stats.Subscriptions != 1 || stats.PendingAcks != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
