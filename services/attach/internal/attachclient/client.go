// Package attachclient is the HTTP client other services use to talk to the
// attach service, including the client-side readiness poll that runs before a
// message is sent.
package attachclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tutorchat/pkg/domain"
)

// DefaultPollInterval matches the server-side poll cadence.
const DefaultPollInterval = 500 * time.Millisecond

// DefaultPollDeadline bounds the pre-send wait. It is shorter than the
// server-side deadline: the client poll is an optimization, the server poll
// is the backstop.
const DefaultPollDeadline = 2 * time.Second

// Client calls the attach service over HTTP.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	pollDeadline time.Duration
}

// APIError represents an attach service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs an attach service client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 5 * time.Second},
		pollInterval: DefaultPollInterval,
		pollDeadline: DefaultPollDeadline,
	}
}

// WithPolling overrides the readiness poll cadence and deadline.
func (c *Client) WithPolling(interval, deadline time.Duration) *Client {
	if interval > 0 {
		c.pollInterval = interval
	}
	if deadline > 0 {
		c.pollDeadline = deadline
	}
	return c
}

type readinessResponse struct {
	Ready       bool                `json:"ready"`
	Attachments []domain.Attachment `json:"attachments"`
}

// Readiness fetches the current extraction states for the given ids.
func (c *Client) Readiness(ctx context.Context, ids []string) (bool, []domain.Attachment, error) {
	path := "/attachments/ready?ids=" + url.QueryEscape(strings.Join(ids, ","))
	var resp readinessResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return false, nil, err
	}
	return resp.Ready, resp.Attachments, nil
}

// WaitReady polls readiness until all ids are terminal or the deadline
// passes. Timing out is not an error: the caller proceeds and the server-side
// wait covers the remainder.
func (c *Client) WaitReady(ctx context.Context, ids []string) (ready bool, err error) {
	if len(ids) == 0 {
		return true, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.pollDeadline)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		ready, _, err := c.Readiness(ctx, ids)
		if err == nil && ready {
			return true, nil
		}
		if err != nil && ctx.Err() != nil {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, nil
		case <-ticker.C:
		}
	}
}

type messageResponse struct {
	Message domain.Message `json:"message"`
	Content string         `json:"content"`
}

// SendMessage runs the client-side readiness poll, then asks the attach
// service to compose the message with its attachment context.
func (c *Client) SendMessage(ctx context.Context, text string, attachmentIDs []string) (domain.Message, string, error) {
	if _, err := c.WaitReady(ctx, attachmentIDs); err != nil {
		return domain.Message{}, "", err
	}
	payload := map[string]any{"text": text, "attachmentIds": attachmentIDs}
	var resp messageResponse
	if err := c.doJSON(ctx, http.MethodPost, "/messages", payload, &resp); err != nil {
		return domain.Message{}, "", err
	}
	return resp.Message, resp.Content, nil
}

// GetAttachments fetches records for the given ids.
func (c *Client) GetAttachments(ctx context.Context, ids []string) ([]domain.Attachment, error) {
	path := "/attachments?ids=" + url.QueryEscape(strings.Join(ids, ","))
	var resp struct {
		Attachments []domain.Attachment `json:"attachments"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Attachments, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
