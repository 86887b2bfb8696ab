// Package webhook pushes context events to agents over plain HTTP, for
// agents that registered a callback endpoint instead of holding a bus
// connection.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ICE-CUBA/AgentGraph/internal/sharing"
)

// Envelope is the JSON body posted to an agent's endpoint.
type Envelope struct {
	AgentID     string                `json:"agent_id"`
	Event       *sharing.ContextEvent `json:"event"`
	DeliveredAt time.Time             `json:"delivered_at"`
}

// Client posts event envelopes to agent callback endpoints.
type Client struct {
	httpClient *http.Client
}

func NewClient() *Client {
	return &Client{httpClient: &http.Client{Timeout: 10 * time.Second}}
}

// Supports reports whether endpoint is a deliverable webhook target.
func Supports(endpoint string) bool {
	return strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")
}

// Deliver posts event to endpoint. Responses at or above 400 count as
// delivery failures.
func (c *Client) Deliver(ctx context.Context, endpoint, agentID string, event *sharing.ContextEvent) error {
	payload, err := json.Marshal(Envelope{
		AgentID:     agentID,
		Event:       event,
		DeliveredAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook POST %s: %d %s", endpoint, resp.StatusCode, string(body))
	}
	return nil
}

// SendFunc adapts the client into a hub delivery callback bound to one
// agent's endpoint.
func (c *Client) SendFunc(endpoint, agentID string) sharing.SendFunc {
	return func(ctx context.Context, event *sharing.ContextEvent) error {
		return c.Deliver(ctx, endpoint, agentID, event)
	}
}
