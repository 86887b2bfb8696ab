package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ICE-CUBA/AgentGraph/internal/bus"
	"github.com/ICE-CUBA/AgentGraph/internal/config"
	"github.com/ICE-CUBA/AgentGraph/internal/registry"
	"github.com/ICE-CUBA/AgentGraph/internal/reputation"
	"github.com/ICE-CUBA/AgentGraph/internal/sharing"
	"github.com/ICE-CUBA/AgentGraph/internal/store"
	"github.com/ICE-CUBA/AgentGraph/internal/webhook"
)

func NewRouter(s store.Store, directory *registry.Directory, hub *sharing.Hub, tracker *reputation.Tracker, busClient bus.Client, hooks *webhook.Client, cfg *config.Config, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware(cfg.API.RateLimitPerMinute))

	reg := NewRegistryHandler(directory, busClient)
	share := NewSharingHandler(s, directory, hub, busClient, hooks)
	rep := NewReputationHandler(tracker, busClient)
	activity := NewActivityHandler(s)
	admin := NewAdminHandler(s, directory, hub)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AgentIDMiddleware)

		r.Post("/registry/agents", reg.Register)
		r.Get("/registry/agents", reg.Discover)
		r.Get("/registry/agents/{id}", reg.Get)
		r.Delete("/registry/agents/{id}", reg.Unregister)
		r.Post("/registry/agents/{id}/heartbeat", reg.Heartbeat)
		r.Post("/registry/agents/{id}/status", reg.UpdateStatus)
		r.Get("/registry/count", reg.Count)

		r.Post("/share/connect", share.Connect)
		r.Post("/share/disconnect", share.Disconnect)
		r.Get("/share/agents", share.ConnectedAgents)
		r.Post("/share/subscribe", share.Subscribe)
		r.Delete("/share/subscriptions/{id}", share.Unsubscribe)
		r.Post("/share/publish", share.Publish)
		r.Post("/share/claim", share.Claim)
		r.Post("/share/release", share.Release)
		r.Post("/share/ack", share.Acknowledge)
		r.Get("/share/events", share.Events)
		r.Post("/share/query", share.Query)

		r.Post("/reputation/tasks/start", rep.StartTask)
		r.Post("/reputation/tasks/{id}/complete", rep.CompleteTask)
		r.Post("/reputation/tasks/{id}/rate", rep.RateTask)
		r.Get("/reputation/agents/{id}/trust", rep.Trust)
		r.Get("/reputation/agents/{id}/stats", rep.Stats)
		r.Get("/reputation/leaderboard", rep.Leaderboard)

		r.Post("/activity/events", activity.CreateEvent)
		r.Get("/activity/events", activity.ListEvents)
		r.Get("/activity/events/{id}", activity.GetEvent)
		r.Post("/activity/entities", activity.CreateEntity)
		r.Get("/activity/entities/{id}", activity.GetEntity)
		r.Get("/activity/agents/{id}/stats", activity.AgentStats)

		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(cfg.Server.AdminToken))
			r.Get("/stats", admin.Stats)
			r.Post("/registry/cleanup", admin.Cleanup)
		})
	})

	return r
}

func NewMetricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
