package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ICE-CUBA/AgentGraph/internal/bus"
	"github.com/ICE-CUBA/AgentGraph/internal/registry"
	"github.com/ICE-CUBA/AgentGraph/internal/sharing"
	"github.com/ICE-CUBA/AgentGraph/internal/store"
	"github.com/ICE-CUBA/AgentGraph/internal/webhook"
)

type SharingHandler struct {
	store     store.Store
	directory *registry.Directory
	hub       *sharing.Hub
	bus       bus.Client
	hooks     *webhook.Client
}

func NewSharingHandler(s store.Store, directory *registry.Directory, hub *sharing.Hub, busClient bus.Client, hooks *webhook.Client) *SharingHandler {
	return &SharingHandler{store: s, directory: directory, hub: hub, bus: busClient, hooks: hooks}
}

// Connect registers the calling agent with the hub. Delivery of routed
// events goes to the agent's registered webhook endpoint when it has
// one, otherwise to its bus subject; agents with neither still share
// and query but receive nothing pushed.
func (h *SharingHandler) Connect(w http.ResponseWriter, r *http.Request) {
	agentID := r.Header.Get("X-Agent-ID")

	var body struct {
		Name string `json:"name"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	name := body.Name
	var send sharing.SendFunc
	if agent, err := h.directory.Get(r.Context(), agentID); err == nil && agent != nil {
		if name == "" {
			name = agent.Name
		}
		if h.hooks != nil && webhook.Supports(agent.Endpoint) {
			send = h.hooks.SendFunc(agent.Endpoint, agentID)
		}
	}
	if send == nil && h.bus != nil {
		subject := bus.SubjectAgentEvents(agentID)
		send = func(_ context.Context, event *sharing.ContextEvent) error {
			return h.bus.Publish(subject, event)
		}
	}

	conn := h.hub.ConnectAgent(agentID, name, send)
	writeJSON(w, http.StatusOK, conn)
}

func (h *SharingHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	agentID := r.Header.Get("X-Agent-ID")
	h.hub.DisconnectAgent(agentID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected", "agent_id": agentID})
}

func (h *SharingHandler) ConnectedAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.hub.ConnectedAgents()
	if agents == nil {
		agents = []sharing.ConnectedAgent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

type SubscribeRequest struct {
	Topics         []string `json:"topics,omitempty"`
	EntityIDs      []string `json:"entity_ids,omitempty"`
	EntityTypes    []string `json:"entity_types,omitempty"`
	SourceAgentIDs []string `json:"source_agent_ids,omitempty"`
	MinPriority    int      `json:"min_priority,omitempty"`
}

func (h *SharingHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	agentID := r.Header.Get("X-Agent-ID")

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	topics := make([]sharing.Topic, 0, len(req.Topics))
	for _, raw := range req.Topics {
		topic, ok := sharing.ParseTopic(raw)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown topic " + raw})
			return
		}
		topics = append(topics, topic)
	}

	subID := h.hub.Subscribe(agentID, sharing.SubscribeOptions{
		Topics:         topics,
		EntityIDs:      req.EntityIDs,
		EntityTypes:    req.EntityTypes,
		SourceAgentIDs: req.SourceAgentIDs,
		MinPriority:    req.MinPriority,
	})
	writeJSON(w, http.StatusCreated, map[string]string{"subscription_id": subID})
}

func (h *SharingHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.hub.Unsubscribe(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "subscription not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}

type PublishEventRequest struct {
	Topic          string                 `json:"topic"`
	EventType      string                 `json:"event_type,omitempty"`
	Action         string                 `json:"action,omitempty"`
	Description    string                 `json:"description,omitempty"`
	EntityID       string                 `json:"entity_id,omitempty"`
	EntityType     string                 `json:"entity_type,omitempty"`
	Data           map[string]interface{} `json:"data,omitempty"`
	TargetAgentIDs []string               `json:"target_agent_ids,omitempty"`
	Priority       int                    `json:"priority,omitempty"`
	RequiresAck    bool                   `json:"requires_ack,omitempty"`
	ExpiresAt      *time.Time             `json:"expires_at,omitempty"`
}

func (h *SharingHandler) Publish(w http.ResponseWriter, r *http.Request) {
	agentID := r.Header.Get("X-Agent-ID")

	var req PublishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	topic, ok := sharing.ParseTopic(req.Topic)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown topic " + req.Topic})
		return
	}

	event := &sharing.ContextEvent{
		Topic:          topic,
		SourceAgentID:  agentID,
		TargetAgentIDs: req.TargetAgentIDs,
		EventType:      req.EventType,
		Action:         req.Action,
		Description:    req.Description,
		EntityID:       req.EntityID,
		EntityType:     req.EntityType,
		Data:           req.Data,
		ExpiresAt:      req.ExpiresAt,
		Priority:       req.Priority,
		RequiresAck:    req.RequiresAck,
	}
	recipients := h.hub.Publish(event)
	if recipients == nil {
		recipients = []string{}
	}

	if strings.HasPrefix(string(topic), "entity.") || strings.HasPrefix(string(topic), "action.") {
		var entityIDs []string
		if event.EntityID != "" {
			entityIDs = []string{event.EntityID}
		}
		_ = h.store.CreateActivityEvent(r.Context(), &store.ActivityEvent{
			EventType:   string(topic),
			AgentID:     agentID,
			Action:      event.Action,
			Description: event.Description,
			EntityIDs:   entityIDs,
			Status:      store.ActivityStatusSuccess,
			Metadata:    event.Data,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_id":        event.ID,
		"recipients":      recipients,
		"recipient_count": len(recipients),
	})
}

func (h *SharingHandler) Claim(w http.ResponseWriter, r *http.Request) {
	agentID := r.Header.Get("X-Agent-ID")

	var body struct {
		EntityID string `json:"entity_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.EntityID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "entity_id required"})
		return
	}

	if !h.hub.ClaimEntity(agentID, body.EntityID) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "entity claimed by another agent"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "claimed", "entity_id": body.EntityID})
}

func (h *SharingHandler) Release(w http.ResponseWriter, r *http.Request) {
	agentID := r.Header.Get("X-Agent-ID")

	var body struct {
		EntityID string `json:"entity_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.EntityID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "entity_id required"})
		return
	}

	if !h.hub.ReleaseEntity(agentID, body.EntityID) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "entity not claimed by caller"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released", "entity_id": body.EntityID})
}

func (h *SharingHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	agentID := r.Header.Get("X-Agent-ID")

	var body struct {
		EventID string `json:"event_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.EventID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "event_id required"})
		return
	}

	if !h.hub.Acknowledge(body.EventID, agentID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no pending acknowledgement for event"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (h *SharingHandler) Events(w http.ResponseWriter, r *http.Request) {
	filter := sharing.EventFilter{
		SourceAgentID: r.URL.Query().Get("source_agent_id"),
		EntityID:      r.URL.Query().Get("entity_id"),
	}
	if raw := r.URL.Query().Get("topic"); raw != "" {
		topic, ok := sharing.ParseTopic(raw)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown topic " + raw})
			return
		}
		filter.Topic = topic
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}

	events := h.hub.RecentEvents(filter)
	if events == nil {
		events = []*sharing.ContextEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *SharingHandler) Query(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Question == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question required"})
		return
	}
	writeJSON(w, http.StatusOK, h.hub.QueryAgents(body.Question))
}
