package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ICE-CUBA/AgentGraph/internal/bus"
	"github.com/ICE-CUBA/AgentGraph/internal/registry"
	"github.com/ICE-CUBA/AgentGraph/internal/store"
)

type RegistryHandler struct {
	directory *registry.Directory
	bus       bus.Client
}

func NewRegistryHandler(directory *registry.Directory, busClient bus.Client) *RegistryHandler {
	return &RegistryHandler{directory: directory, bus: busClient}
}

type RegisterAgentRequest struct {
	AgentID      string                 `json:"agent_id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	Capabilities []store.Capability     `json:"capabilities,omitempty"`
	Endpoint     string                 `json:"endpoint,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

func (h *RegistryHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.AgentID == "" || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent_id and name required"})
		return
	}
	for _, c := range req.Capabilities {
		if c.Name == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "capability name required"})
			return
		}
	}

	agent := &store.Agent{
		ID:           req.AgentID,
		Name:         req.Name,
		Description:  req.Description,
		Capabilities: req.Capabilities,
		Endpoint:     req.Endpoint,
		Metadata:     req.Metadata,
	}
	if err := h.directory.Register(r.Context(), agent); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if h.bus != nil {
		names := make([]string, 0, len(agent.Capabilities))
		for _, c := range agent.Capabilities {
			names = append(names, c.Name)
		}
		_ = h.bus.Publish(bus.SubjectAgentRegistered(agent.ID), bus.AgentRegisteredEvent{
			AgentID:      agent.ID,
			Name:         agent.Name,
			Capabilities: names,
			Endpoint:     agent.Endpoint,
			RegisteredAt: agent.RegisteredAt,
		})
	}

	writeJSON(w, http.StatusCreated, agent)
}

func (h *RegistryHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := h.directory.Unregister(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}

	if h.bus != nil {
		_ = h.bus.Publish(bus.SubjectAgentUnregistered(id), bus.AgentUnregisteredEvent{
			AgentID: id,
			At:      time.Now().UTC(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "unregistered", "agent_id": id})
}

func (h *RegistryHandler) Get(w http.ResponseWriter, r *http.Request) {
	agent, err := h.directory.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if agent == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// Discover handles GET /registry/agents. Capability metadata filters
// arrive as filter.<key>=<value> query parameters and match scalar
// metadata by string equality or list metadata by membership.
func (h *RegistryHandler) Discover(w http.ResponseWriter, r *http.Request) {
	q := registry.DiscoverQuery{
		Capability: r.URL.Query().Get("capability"),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status, ok := store.ParseAgentStatus(s)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status " + s})
			return
		}
		q.Status = &status
	}
	if v := r.URL.Query().Get("online_only"); v != "" {
		online, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid online_only"})
			return
		}
		q.OnlineOnly = online
	}
	for key, values := range r.URL.Query() {
		if !strings.HasPrefix(key, "filter.") || len(values) == 0 {
			continue
		}
		if q.Filters == nil {
			q.Filters = make(map[string]interface{})
		}
		q.Filters[strings.TrimPrefix(key, "filter.")] = values[0]
	}

	agents, err := h.directory.Discover(r.Context(), q)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if agents == nil {
		agents = []*store.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

func (h *RegistryHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := h.directory.Heartbeat(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *RegistryHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	status, okStatus := store.ParseAgentStatus(body.Status)
	if !okStatus {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status " + body.Status})
		return
	}

	ok, err := h.directory.UpdateStatus(r.Context(), id, status)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (h *RegistryHandler) Count(w http.ResponseWriter, r *http.Request) {
	onlineOnly := false
	if v := r.URL.Query().Get("online_only"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid online_only"})
			return
		}
		onlineOnly = parsed
	}
	count, err := h.directory.Count(r.Context(), onlineOnly)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
