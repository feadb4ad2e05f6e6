// Package threads integrates the external thread service. Priorities
// are read from its REST API; assignment linkage is posted back.
package threads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/boosty-org/assignment-engine/internal/domain"
)

const requestTimeout = 5 * time.Second

// Client talks to the thread service. With no base URL configured it
// degrades to a standalone mode: priority lookups return medium and
// notifications are dropped, so the engine keeps working without the
// upstream.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
}

// GetThreadPriority reads the thread's priority. Unknown threads and
// unrecognized values map to medium rather than failing assignment.
func (c *Client) GetThreadPriority(ctx context.Context, threadID string) (domain.Priority, error) {
	if c.baseURL == "" {
		return domain.PriorityMedium, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/threads/%s", c.baseURL, threadID), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("thread lookup: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return domain.PriorityMedium, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("thread lookup: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Priority string `json:"priority"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("thread lookup: decode: %w", err)
	}
	priority := domain.Priority(strings.ToUpper(body.Priority))
	if !domain.ValidPriority(priority) {
		c.logger.Warn("thread service returned unknown priority",
			zap.String("thread_id", threadID), zap.String("priority", body.Priority))
		return domain.PriorityMedium, nil
	}
	return priority, nil
}

// NotifyAssigned posts the owning agent back to the thread service.
func (c *Client) NotifyAssigned(ctx context.Context, threadID, agentID string) error {
	return c.post(ctx, fmt.Sprintf("/threads/%s/assignment", threadID), map[string]string{"agent_id": agentID})
}

// NotifyClosed tells the thread service the assignment side is settled.
func (c *Client) NotifyClosed(ctx context.Context, threadID string) error {
	return c.post(ctx, fmt.Sprintf("/threads/%s/assignment-closed", threadID), nil)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	if c.baseURL == "" {
		return nil
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("thread notify %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}
