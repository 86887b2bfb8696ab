package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ICE-CUBA/AgentGraph/internal/store"
)

type ActivityHandler struct {
	store store.Store
}

func NewActivityHandler(s store.Store) *ActivityHandler {
	return &ActivityHandler{store: s}
}

type CreateActivityEventRequest struct {
	EventType    string                 `json:"event_type"`
	AgentID      string                 `json:"agent_id,omitempty"`
	SessionID    string                 `json:"session_id,omitempty"`
	Action       string                 `json:"action,omitempty"`
	Description  string                 `json:"description,omitempty"`
	EntityIDs    []string               `json:"entity_ids,omitempty"`
	Status       string                 `json:"status,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	DurationMs   *int64                 `json:"duration_ms,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

func (h *ActivityHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateActivityEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.EventType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "event_type required"})
		return
	}
	if req.AgentID == "" {
		req.AgentID = r.Header.Get("X-Agent-ID")
	}
	if req.Status == "" {
		req.Status = store.ActivityStatusSuccess
	}
	status, ok := store.ParseActivityStatus(req.Status)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status " + req.Status})
		return
	}

	event := &store.ActivityEvent{
		EventType:    req.EventType,
		AgentID:      req.AgentID,
		SessionID:    req.SessionID,
		Action:       req.Action,
		Description:  req.Description,
		EntityIDs:    req.EntityIDs,
		Status:       status,
		ErrorMessage: req.ErrorMessage,
		DurationMs:   req.DurationMs,
		Metadata:     req.Metadata,
	}
	if err := h.store.CreateActivityEvent(r.Context(), event); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

func (h *ActivityHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter := store.ActivityFilter{
		AgentID:   r.URL.Query().Get("agent_id"),
		SessionID: r.URL.Query().Get("session_id"),
		EventType: r.URL.Query().Get("event_type"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid offset"})
			return
		}
		filter.Offset = offset
	}

	events, err := h.store.ListActivityEvents(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if events == nil {
		events = []*store.ActivityEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *ActivityHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event id"})
		return
	}

	event, err := h.store.GetActivityEvent(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if event == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "event not found"})
		return
	}
	writeJSON(w, http.StatusOK, event)
}

type CreateEntityRequest struct {
	ID       string                 `json:"id,omitempty"`
	Type     string                 `json:"type"`
	Name     string                 `json:"name,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (h *ActivityHandler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	var req CreateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "type required"})
		return
	}

	entity := &store.ActivityEntity{
		ID:       req.ID,
		Type:     req.Type,
		Name:     req.Name,
		Metadata: req.Metadata,
	}
	if err := h.store.UpsertEntity(r.Context(), entity); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, entity)
}

func (h *ActivityHandler) GetEntity(w http.ResponseWriter, r *http.Request) {
	entity, err := h.store.GetEntity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if entity == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "entity not found"})
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

func (h *ActivityHandler) AgentStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetActivityStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
