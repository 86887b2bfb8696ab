package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ICE-CUBA/AgentGraph/internal/config"
	"github.com/ICE-CUBA/AgentGraph/internal/registry"
	"github.com/ICE-CUBA/AgentGraph/internal/reputation"
	"github.com/ICE-CUBA/AgentGraph/internal/sharing"
	"github.com/ICE-CUBA/AgentGraph/internal/store"
)

// Mocks

type mockStore struct {
	agents   map[string]*store.Agent
	activity []*store.ActivityEvent
	entities map[string]*store.ActivityEntity
}

func newMockStore() *mockStore {
	return &mockStore{
		agents:   make(map[string]*store.Agent),
		entities: make(map[string]*store.ActivityEntity),
	}
}

func (m *mockStore) UpsertAgent(_ context.Context, agent *store.Agent) error {
	now := time.Now().UTC()
	agent.Status = store.StatusOnline
	agent.RegisteredAt = now
	agent.LastSeen = now
	if existing, ok := m.agents[agent.ID]; ok {
		agent.TrustScore = existing.TrustScore
	} else if agent.TrustScore == 0 {
		agent.TrustScore = 0.5
	}
	copied := *agent
	m.agents[agent.ID] = &copied
	return nil
}

func (m *mockStore) GetAgent(_ context.Context, id string) (*store.Agent, error) {
	agent, ok := m.agents[id]
	if !ok {
		return nil, nil
	}
	copied := *agent
	return &copied, nil
}

func (m *mockStore) DeleteAgent(_ context.Context, id string) (bool, error) {
	if _, ok := m.agents[id]; !ok {
		return false, nil
	}
	delete(m.agents, id)
	return true, nil
}

func (m *mockStore) ListAgents(_ context.Context, filter store.AgentFilter) ([]*store.Agent, error) {
	var out []*store.Agent
	for _, agent := range m.agents {
		if filter.OnlineOnly && agent.Status != store.StatusOnline && agent.Status != store.StatusBusy {
			continue
		}
		if filter.Status != nil && agent.Status != *filter.Status {
			continue
		}
		copied := *agent
		out = append(out, &copied)
	}
	return out, nil
}

func (m *mockStore) TouchAgent(_ context.Context, id string, status store.AgentStatus) (bool, error) {
	agent, ok := m.agents[id]
	if !ok {
		return false, nil
	}
	agent.Status = status
	agent.LastSeen = time.Now().UTC()
	return true, nil
}

func (m *mockStore) CountAgents(_ context.Context, onlineOnly bool) (int, error) {
	count := 0
	for _, agent := range m.agents {
		if onlineOnly && agent.Status != store.StatusOnline && agent.Status != store.StatusBusy {
			continue
		}
		count++
	}
	return count, nil
}

func (m *mockStore) MarkAgentsOffline(_ context.Context, cutoff time.Time) (int, error) {
	count := 0
	for _, agent := range m.agents {
		if agent.Status == store.StatusOffline || !agent.LastSeen.Before(cutoff) {
			continue
		}
		agent.Status = store.StatusOffline
		count++
	}
	return count, nil
}

func (m *mockStore) CreateActivityEvent(_ context.Context, event *store.ActivityEvent) error {
	event.ID = uuid.New()
	event.Timestamp = time.Now().UTC()
	m.activity = append(m.activity, event)
	return nil
}

func (m *mockStore) GetActivityEvent(_ context.Context, id uuid.UUID) (*store.ActivityEvent, error) {
	for _, event := range m.activity {
		if event.ID == id {
			return event, nil
		}
	}
	return nil, nil
}

func (m *mockStore) ListActivityEvents(_ context.Context, filter store.ActivityFilter) ([]*store.ActivityEvent, error) {
	var out []*store.ActivityEvent
	for _, event := range m.activity {
		if filter.AgentID != "" && event.AgentID != filter.AgentID {
			continue
		}
		if filter.EventType != "" && event.EventType != filter.EventType {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

func (m *mockStore) UpsertEntity(_ context.Context, entity *store.ActivityEntity) error {
	if entity.ID == "" {
		entity.ID = uuid.New().String()
	}
	entity.CreatedAt = time.Now().UTC()
	copied := *entity
	m.entities[entity.ID] = &copied
	return nil
}

func (m *mockStore) GetEntity(_ context.Context, id string) (*store.ActivityEntity, error) {
	entity, ok := m.entities[id]
	if !ok {
		return nil, nil
	}
	copied := *entity
	return &copied, nil
}

func (m *mockStore) GetStats(_ context.Context) (*store.ServiceStats, error) {
	return &store.ServiceStats{TotalAgents: len(m.agents)}, nil
}

func (m *mockStore) SetAgentTrustScore(_ context.Context, id string, score float64) error {
	if agent, ok := m.agents[id]; ok {
		agent.TrustScore = score
	}
	return nil
}

// Reputation persistence is covered by the handler-level tests with a
// testify store; the routed tests here never reach it.
func (m *mockStore) CreateTaskRecord(context.Context, *store.TaskRecord) error { return nil }
func (m *mockStore) GetTaskRecord(context.Context, string) (*store.TaskRecord, error) {
	return nil, nil
}
func (m *mockStore) CompleteTaskRecord(context.Context, string, store.TaskOutcome, time.Time, string) (*store.TaskRecord, error) {
	return nil, nil
}
func (m *mockStore) RateTaskRecord(context.Context, string, float64, string) (*store.TaskRecord, error) {
	return nil, nil
}
func (m *mockStore) ListTerminalTaskRecords(context.Context, string, time.Time) ([]*store.TaskRecord, error) {
	return nil, nil
}
func (m *mockStore) UpsertAgentStats(context.Context, *store.AgentStats) error { return nil }
func (m *mockStore) GetAgentStats(context.Context, string) (*store.AgentStats, error) {
	return nil, nil
}
func (m *mockStore) ListAgentStats(context.Context, int, int) ([]*store.AgentStats, error) {
	return nil, nil
}
func (m *mockStore) GetActivityStats(_ context.Context, agentID string) (*store.ActivityStats, error) {
	return &store.ActivityStats{AgentID: agentID, EventsByType: map[string]int{}}, nil
}
func (m *mockStore) Close() error { return nil }

type mockBus struct{}

func (m *mockBus) Publish(_ string, _ interface{}) error            { return nil }
func (m *mockBus) Subscribe(_ string, _ func(string, []byte)) error { return nil }
func (m *mockBus) Close()                                           {}

func setupTestRouter() (http.Handler, *mockStore) {
	ms := newMockStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Server: config.ServerConfig{AdminToken: "test-token"},
		API:    config.APIConfig{RateLimitPerMinute: 120},
	}
	directory := registry.NewDirectory(ms, logger, 0)
	hub := sharing.NewHub(0, logger)
	tracker := reputation.NewTracker(ms, logger, 0, 0)
	router := NewRouter(ms, directory, hub, tracker, &mockBus{}, nil, cfg, logger)
	return router, ms
}

func TestRegisterAgent(t *testing.T) {
	router, ms := setupTestRouter()

	body := `{"agent_id":"scout-1","name":"Scout","capabilities":[{"name":"research","metadata":{"languages":["en","es"]}}]}`
	req := httptest.NewRequest("POST", "/api/v1/registry/agents", bytes.NewBufferString(body))
	req.Header.Set("X-Agent-ID", "scout-1")
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var agent store.Agent
	json.NewDecoder(w.Body).Decode(&agent)
	if agent.Status != store.StatusOnline {
		t.Errorf("expected online, got %s", agent.Status)
	}
	if agent.TrustScore != 0.5 {
		t.Errorf("expected neutral trust 0.5, got %f", agent.TrustScore)
	}
	if _, ok := ms.agents["scout-1"]; !ok {
		t.Error("agent not persisted")
	}
}

func TestRegisterAgentMissingName(t *testing.T) {
	router, _ := setupTestRouter()

	body := `{"agent_id":"scout-1"}`
	req := httptest.NewRequest("POST", "/api/v1/registry/agents", bytes.NewBufferString(body))
	req.Header.Set("X-Agent-ID", "scout-1")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGetAgentNotFound(t *testing.T) {
	router, _ := setupTestRouter()

	req := httptest.NewRequest("GET", "/api/v1/registry/agents/ghost", nil)
	req.Header.Set("X-Agent-ID", "caller")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestDiscoverAgents(t *testing.T) {
	router, ms := setupTestRouter()

	now := time.Now().UTC()
	ms.agents["scout-1"] = &store.Agent{
		ID: "scout-1", Name: "Scout", Status: store.StatusOnline, LastSeen: now,
		Capabilities: []store.Capability{{Name: "research", Metadata: map[string]interface{}{"languages": []interface{}{"en", "es"}}}},
	}
	ms.agents["scribe-1"] = &store.Agent{
		ID: "scribe-1", Name: "Scribe", Status: store.StatusOnline, LastSeen: now,
		Capabilities: []store.Capability{{Name: "writing"}},
	}

	req := httptest.NewRequest("GET", "/api/v1/registry/agents?capability=research&filter.languages=es", nil)
	req.Header.Set("X-Agent-ID", "caller")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var agents []*store.Agent
	if err := json.NewDecoder(w.Body).Decode(&agents); err != nil {
		t.Fatalf("failed to decode agents: %v", err)
	}
	if len(agents) != 1 || agents[0].ID != "scout-1" {
		t.Errorf("expected only scout-1, got %+v", agents)
	}
}

func TestDiscoverRejectsUnknownStatus(t *testing.T) {
	router, _ := setupTestRouter()

	req := httptest.NewRequest("GET", "/api/v1/registry/agents?status=sleeping", nil)
	req.Header.Set("X-Agent-ID", "caller")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHeartbeat(t *testing.T) {
	router, ms := setupTestRouter()
	ms.agents["scout-1"] = &store.Agent{ID: "scout-1", Status: store.StatusOffline}

	req := httptest.NewRequest("POST", "/api/v1/registry/agents/scout-1/heartbeat", nil)
	req.Header.Set("X-Agent-ID", "scout-1")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ms.agents["scout-1"].Status != store.StatusOnline {
		t.Errorf("expected online after heartbeat, got %s", ms.agents["scout-1"].Status)
	}
}

func TestHeartbeatUnknownAgent(t *testing.T) {
	router, _ := setupTestRouter()

	req := httptest.NewRequest("POST", "/api/v1/registry/agents/ghost/heartbeat", nil)
	req.Header.Set("X-Agent-ID", "ghost")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestUpdateStatusRejectsUnknown(t *testing.T) {
	router, ms := setupTestRouter()
	ms.agents["scout-1"] = &store.Agent{ID: "scout-1", Status: store.StatusOnline}

	body := `{"status":"sleeping"}`
	req := httptest.NewRequest("POST", "/api/v1/registry/agents/scout-1/status", bytes.NewBufferString(body))
	req.Header.Set("X-Agent-ID", "scout-1")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}

	body = `{"status":"busy"}`
	req = httptest.NewRequest("POST", "/api/v1/registry/agents/scout-1/status", bytes.NewBufferString(body))
	req.Header.Set("X-Agent-ID", "scout-1")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ms.agents["scout-1"].Status != store.StatusBusy {
		t.Errorf("expected busy, got %s", ms.agents["scout-1"].Status)
	}
}

func TestCountAgents(t *testing.T) {
	router, ms := setupTestRouter()
	ms.agents["a"] = &store.Agent{ID: "a", Status: store.StatusOnline}
	ms.agents["b"] = &store.Agent{ID: "b", Status: store.StatusOffline}

	req := httptest.NewRequest("GET", "/api/v1/registry/count?online_only=true", nil)
	req.Header.Set("X-Agent-ID", "caller")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]int
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["count"] != 1 {
		t.Errorf("expected count 1, got %d", resp["count"])
	}
}

func TestMissingAgentID(t *testing.T) {
	router, _ := setupTestRouter()

	req := httptest.NewRequest("GET", "/api/v1/registry/agents", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := setupTestRouter()
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestMetricsRouterHealth(t *testing.T) {
	router := NewMetricsRouter()
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestStatsRequiresAdminToken(t *testing.T) {
	router, _ := setupTestRouter()

	req := httptest.NewRequest("GET", "/api/v1/stats", nil)
	req.Header.Set("X-Agent-ID", "caller")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestStatsWithToken(t *testing.T) {
	router, ms := setupTestRouter()
	ms.agents["a"] = &store.Agent{ID: "a", Status: store.StatusOnline}

	req := httptest.NewRequest("GET", "/api/v1/stats", nil)
	req.Header.Set("X-Agent-ID", "caller")
	req.Header.Set("Authorization", "Bearer test-token")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var stats AdminStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.Service == nil || stats.Service.TotalAgents != 1 {
		t.Errorf("expected 1 total agent, got %+v", stats.Service)
	}
}

func TestCleanupEndpoint(t *testing.T) {
	router, ms := setupTestRouter()
	ms.agents["stale"] = &store.Agent{
		ID:       "stale",
		Status:   store.StatusOnline,
		LastSeen: time.Now().Add(-time.Hour),
	}
	ms.agents["fresh"] = &store.Agent{
		ID:       "fresh",
		Status:   store.StatusOnline,
		LastSeen: time.Now(),
	}

	req := httptest.NewRequest("POST", "/api/v1/registry/cleanup", nil)
	req.Header.Set("X-Agent-ID", "admin")
	req.Header.Set("Authorization", "Bearer test-token")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]int
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["marked_offline"] != 1 {
		t.Errorf("expected 1 marked offline, got %d", resp["marked_offline"])
	}
	if ms.agents["stale"].Status != store.StatusOffline {
		t.Errorf("stale agent not flipped, got %s", ms.agents["stale"].Status)
	}
}

func TestUnregisterAgent(t *testing.T) {
	router, ms := setupTestRouter()
	ms.agents["scout-1"] = &store.Agent{ID: "scout-1", Status: store.StatusOnline}

	req := httptest.NewRequest("DELETE", "/api/v1/registry/agents/scout-1", nil)
	req.Header.Set("X-Agent-ID", "scout-1")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if _, ok := ms.agents["scout-1"]; ok {
		t.Error("agent still present after unregister")
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 on repeat, got %d", w.Code)
	}
}
