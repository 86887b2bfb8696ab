package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ICE-CUBA/AgentGraph/internal/bus"
	"github.com/ICE-CUBA/AgentGraph/internal/reputation"
	"github.com/ICE-CUBA/AgentGraph/internal/store"
)

type ReputationHandler struct {
	tracker *reputation.Tracker
	bus     bus.Client
}

func NewReputationHandler(tracker *reputation.Tracker, busClient bus.Client) *ReputationHandler {
	return &ReputationHandler{tracker: tracker, bus: busClient}
}

type StartTaskRequest struct {
	AgentID  string                 `json:"agent_id,omitempty"`
	TaskType string                 `json:"task_type"`
	TaskID   string                 `json:"task_id,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (h *ReputationHandler) StartTask(w http.ResponseWriter, r *http.Request) {
	var req StartTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.AgentID == "" {
		req.AgentID = r.Header.Get("X-Agent-ID")
	}
	if req.TaskType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "task_type required"})
		return
	}

	taskID, err := h.tracker.RecordTaskStart(r.Context(), req.AgentID, req.TaskType, req.TaskID, req.Metadata)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if h.bus != nil {
		_ = h.bus.Publish(bus.SubjectTaskStarted(taskID), bus.TaskStartedEvent{
			TaskID:    taskID,
			AgentID:   req.AgentID,
			TaskType:  req.TaskType,
			StartedAt: time.Now().UTC(),
		})
	}

	writeJSON(w, http.StatusCreated, map[string]string{"task_id": taskID, "agent_id": req.AgentID})
}

func (h *ReputationHandler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	var body struct {
		Outcome      string `json:"outcome"`
		ErrorMessage string `json:"error_message,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	outcome, ok := store.ParseTerminalOutcome(body.Outcome)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid outcome " + body.Outcome})
		return
	}

	applied, err := h.tracker.RecordTaskComplete(r.Context(), taskID, outcome, body.ErrorMessage)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !applied {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found or already completed"})
		return
	}

	if h.bus != nil {
		_ = h.bus.Publish(bus.SubjectTaskCompleted(taskID), bus.TaskCompletedEvent{
			TaskID:       taskID,
			Outcome:      string(outcome),
			ErrorMessage: body.ErrorMessage,
			CompletedAt:  time.Now().UTC(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "completed", "task_id": taskID, "outcome": string(outcome)})
}

func (h *ReputationHandler) RateTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	var body struct {
		Rating  *float64 `json:"rating"`
		RatedBy string   `json:"rated_by,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Rating == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "rating required"})
		return
	}
	rating := *body.Rating
	if rating < 0 {
		rating = 0
	}
	if rating > 1 {
		rating = 1
	}
	if body.RatedBy == "" {
		body.RatedBy = r.Header.Get("X-Agent-ID")
	}

	applied, err := h.tracker.RateTask(r.Context(), taskID, rating, body.RatedBy)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !applied {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}

	if h.bus != nil {
		_ = h.bus.Publish(bus.SubjectTaskRated(taskID), bus.TaskRatedEvent{
			TaskID:  taskID,
			Rating:  rating,
			RatedBy: body.RatedBy,
			RatedAt: time.Now().UTC(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "rated", "task_id": taskID, "rating": rating})
}

type TrustResponse struct {
	AgentID    string              `json:"agent_id"`
	TrustScore float64             `json:"trust_score"`
	Factors    []reputation.Factor `json:"factors"`
}

func (h *ReputationHandler) Trust(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	result, err := h.tracker.ExplainTrustScore(r.Context(), agentID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, TrustResponse{
		AgentID:    agentID,
		TrustScore: result.TrustScore,
		Factors:    result.Factors,
	})
}

func (h *ReputationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.tracker.GetAgentStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *ReputationHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	entries, err := h.tracker.Leaderboard(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []reputation.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
