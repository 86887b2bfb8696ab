package api

import (
	"net/http"

	"github.com/ICE-CUBA/AgentGraph/internal/registry"
	"github.com/ICE-CUBA/AgentGraph/internal/sharing"
	"github.com/ICE-CUBA/AgentGraph/internal/store"
)

type AdminHandler struct {
	store     store.Store
	directory *registry.Directory
	hub       *sharing.Hub
}

func NewAdminHandler(s store.Store, directory *registry.Directory, hub *sharing.Hub) *AdminHandler {
	return &AdminHandler{store: s, directory: directory, hub: hub}
}

type AdminStats struct {
	Service *store.ServiceStats `json:"service"`
	Hub     sharing.HubStats    `json:"hub"`
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, AdminStats{Service: stats, Hub: h.hub.Stats()})
}

func (h *AdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	count, err := h.directory.CleanupStale(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked_offline": count})
}
