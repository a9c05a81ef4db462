package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tasknest/internal/reminder"
	"tasknest/internal/status"
)

// Client queries a running daemon through its status API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the status server listening on addr.
func NewClient(addr string) *Client {
	return &Client{
		baseURL:    "http://" + addr,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
}

// Healthy reports whether the daemon answers its health check.
func (c *Client) Healthy(ctx context.Context) bool {
	var h status.Health
	return c.get(ctx, "/healthz", &h) == nil && h.Status == "ok"
}

// State returns the daemon state.
func (c *Client) State(ctx context.Context) (*status.State, error) {
	var st status.State
	if err := c.get(ctx, "/state", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Reminders returns the armed reminders and the active backend name.
func (c *Client) Reminders(ctx context.Context) ([]reminder.Entry, string, error) {
	var body struct {
		Backend   string           `json:"backend"`
		Reminders []reminder.Entry `json:"reminders"`
	}
	if err := c.get(ctx, "/reminders", &body); err != nil {
		return nil, "", err
	}
	return body.Reminders, body.Backend, nil
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s for %s", resp.Status, path)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
