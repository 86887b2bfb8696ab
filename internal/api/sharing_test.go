package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ICE-CUBA/AgentGraph/internal/sharing"
)

func postJSON(t *testing.T, router http.Handler, agentID, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, bytes.NewBufferString(body))
	req.Header.Set("X-Agent-ID", agentID)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestShareConnectAndList(t *testing.T) {
	router, _ := setupTestRouter()

	w := postJSON(t, router, "agent-1", "/api/v1/share/connect", `{"name":"Scout"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var conn sharing.ConnectedAgent
	json.NewDecoder(w.Body).Decode(&conn)
	if conn.AgentID != "agent-1" || conn.Name != "Scout" {
		t.Errorf("unexpected connection %+v", conn)
	}

	req := httptest.NewRequest("GET", "/api/v1/share/agents", nil)
	req.Header.Set("X-Agent-ID", "agent-1")
	lw := httptest.NewRecorder()
	router.ServeHTTP(lw, req)

	if lw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", lw.Code)
	}
	var agents []sharing.ConnectedAgent
	json.NewDecoder(lw.Body).Decode(&agents)
	if len(agents) != 1 {
		t.Errorf("expected 1 connected agent, got %d", len(agents))
	}
}

func TestShareClaimLifecycle(t *testing.T) {
	router, _ := setupTestRouter()

	if w := postJSON(t, router, "agent-1", "/api/v1/share/claim", `{"entity_id":"doc-7"}`); w.Code != http.StatusOK {
		t.Fatalf("first claim: expected 200, got %d", w.Code)
	}
	if w := postJSON(t, router, "agent-2", "/api/v1/share/claim", `{"entity_id":"doc-7"}`); w.Code != http.StatusConflict {
		t.Errorf("rival claim: expected 409, got %d", w.Code)
	}
	if w := postJSON(t, router, "agent-1", "/api/v1/share/claim", `{"entity_id":"doc-7"}`); w.Code != http.StatusOK {
		t.Errorf("re-claim by owner: expected 200, got %d", w.Code)
	}
	if w := postJSON(t, router, "agent-2", "/api/v1/share/release", `{"entity_id":"doc-7"}`); w.Code != http.StatusConflict {
		t.Errorf("release by non-owner: expected 409, got %d", w.Code)
	}
	if w := postJSON(t, router, "agent-1", "/api/v1/share/release", `{"entity_id":"doc-7"}`); w.Code != http.StatusOK {
		t.Errorf("release by owner: expected 200, got %d", w.Code)
	}
	if w := postJSON(t, router, "agent-2", "/api/v1/share/claim", `{"entity_id":"doc-7"}`); w.Code != http.StatusOK {
		t.Errorf("claim after release: expected 200, got %d", w.Code)
	}
}

func TestSharePublishRoutesAndMirrors(t *testing.T) {
	router, ms := setupTestRouter()

	postJSON(t, router, "agent-2", "/api/v1/share/connect", `{}`)
	if w := postJSON(t, router, "agent-2", "/api/v1/share/subscribe", `{"topics":["entity.modified"]}`); w.Code != http.StatusCreated {
		t.Fatalf("subscribe: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w := postJSON(t, router, "agent-1", "/api/v1/share/publish",
		`{"topic":"entity.modified","action":"update","description":"tweaked the schema","entity_id":"doc-7","entity_type":"document"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("publish: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		EventID        string   `json:"event_id"`
		Recipients     []string `json:"recipients"`
		RecipientCount int      `json:"recipient_count"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.EventID == "" {
		t.Error("expected generated event id")
	}
	if resp.RecipientCount != 1 || len(resp.Recipients) != 1 || resp.Recipients[0] != "agent-2" {
		t.Errorf("expected agent-2 as sole recipient, got %+v", resp)
	}

	req := httptest.NewRequest("GET", "/api/v1/share/events?entity_id=doc-7", nil)
	req.Header.Set("X-Agent-ID", "agent-1")
	ew := httptest.NewRecorder()
	router.ServeHTTP(ew, req)

	var events []*sharing.ContextEvent
	json.NewDecoder(ew.Body).Decode(&events)
	if len(events) != 1 || events[0].ID != resp.EventID {
		t.Errorf("expected the published event in history, got %+v", events)
	}

	// entity.* traffic is mirrored into the activity log.
	if len(ms.activity) != 1 {
		t.Fatalf("expected 1 activity event, got %d", len(ms.activity))
	}
	if ms.activity[0].EventType != "entity.modified" || ms.activity[0].AgentID != "agent-1" {
		t.Errorf("unexpected activity mirror %+v", ms.activity[0])
	}
}

func TestShareSubscribeUnknownTopic(t *testing.T) {
	router, _ := setupTestRouter()

	w := postJSON(t, router, "agent-1", "/api/v1/share/subscribe", `{"topics":["entity.exploded"]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestSharePublishUnknownTopic(t *testing.T) {
	router, _ := setupTestRouter()

	w := postJSON(t, router, "agent-1", "/api/v1/share/publish", `{"topic":"gossip"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestShareUnsubscribe(t *testing.T) {
	router, _ := setupTestRouter()

	w := postJSON(t, router, "agent-1", "/api/v1/share/subscribe", `{"topics":["handoff"]}`)
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	subID := resp["subscription_id"]
	if subID == "" {
		t.Fatal("expected subscription id")
	}

	req := httptest.NewRequest("DELETE", "/api/v1/share/subscriptions/"+subID, nil)
	req.Header.Set("X-Agent-ID", "agent-1")
	dw := httptest.NewRecorder()
	router.ServeHTTP(dw, req)
	if dw.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", dw.Code)
	}

	dw = httptest.NewRecorder()
	router.ServeHTTP(dw, req)
	if dw.Code != http.StatusNotFound {
		t.Errorf("expected 404 on repeat, got %d", dw.Code)
	}
}

func TestShareAcknowledge(t *testing.T) {
	router, _ := setupTestRouter()

	w := postJSON(t, router, "agent-1", "/api/v1/share/publish", `{"topic":"help.requested","requires_ack":true}`)
	var resp map[string]interface{}
	json.NewDecoder(w.Body).Decode(&resp)
	eventID, _ := resp["event_id"].(string)
	if eventID == "" {
		t.Fatal("expected event id")
	}

	if aw := postJSON(t, router, "agent-2", "/api/v1/share/ack", `{"event_id":"`+eventID+`"}`); aw.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", aw.Code)
	}
	if aw := postJSON(t, router, "agent-2", "/api/v1/share/ack", `{"event_id":"ghost"}`); aw.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown event, got %d", aw.Code)
	}
}

func TestShareQuery(t *testing.T) {
	router, _ := setupTestRouter()

	postJSON(t, router, "agent-1", "/api/v1/share/publish",
		`{"topic":"action.completed","action":"migrate_database","description":"moved users table"}`)
	postJSON(t, router, "agent-2", "/api/v1/share/publish",
		`{"topic":"decision.made","action":"pick_stack","description":"going with postgres"}`)

	w := postJSON(t, router, "agent-3", "/api/v1/share/query", `{"question":"database"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var result sharing.QueryResult
	json.NewDecoder(w.Body).Decode(&result)
	if result.Count != 1 {
		t.Errorf("expected 1 match, got %d", result.Count)
	}

	if w := postJSON(t, router, "agent-3", "/api/v1/share/query", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty question, got %d", w.Code)
	}
}
