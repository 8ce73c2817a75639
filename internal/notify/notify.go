// Package notify delivers alarm notifications. Delivery goes through an HTTP
// messaging gateway with chat, email, and pager endpoints; the dispatcher
// decides who hears about which alarm from the catalog contact lists.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Notifier is the delivery surface the dispatcher sends through.
type Notifier interface {
	// Chat posts message to the operations chat room.
	Chat(ctx context.Context, message string) error

	// Email sends one message to every address in to.
	Email(ctx context.Context, to []string, subject, body string) error

	// Page sends a short page to every user id in userIDs.
	Page(ctx context.Context, userIDs []string, message string) error
}

// Gateway is an HTTP client for the messaging gateway. Each delivery is one
// JSON POST to the corresponding endpoint under the base URL.
type Gateway struct {
	baseURL string
	room    string
	client  *http.Client
}

// NewGateway returns a gateway client posting to baseURL. Chat messages are
// addressed to room.
func NewGateway(baseURL, room string) *Gateway {
	return &Gateway{
		baseURL: baseURL,
		room:    room,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Chat implements Notifier.
func (g *Gateway) Chat(ctx context.Context, message string) error {
	return g.post(ctx, "/chat", map[string]any{
		"room":    g.room,
		"message": message,
	})
}

// Email implements Notifier.
func (g *Gateway) Email(ctx context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		return nil
	}
	return g.post(ctx, "/email", map[string]any{
		"to":      to,
		"subject": subject,
		"body":    body,
	})
}

// Page implements Notifier.
func (g *Gateway) Page(ctx context.Context, userIDs []string, message string) error {
	if len(userIDs) == 0 {
		return nil
	}
	return g.post(ctx, "/page", map[string]any{
		"to":      userIDs,
		"message": message,
	})
}

func (g *Gateway) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: gateway returned %s", path, resp.Status)
	}
	return nil
}
