// Package api is the HTTP client for the Overture backend: the streaming
// message endpoint, thread listing, cancellation and the permission-response
// fallback path.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const maxErrorBodyBytes = 64 << 10

// ServerError is a non-2xx response from the backend.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Sprintf("server error (status %d)", e.Status)
	}
	return fmt.Sprintf("server error (status %d): %s", e.Status, e.Message)
}

// StreamRequest starts or continues a conversation. A missing ThreadID asks
// the backend to create a new thread.
type StreamRequest struct {
	Prompt         string `json:"prompt"`
	SessionID      string `json:"session_id"`
	ThreadID       string `json:"thread_id,omitempty"`
	ReplyTo        int64  `json:"reply_to,omitempty"`
	ThreadType     string `json:"thread_type,omitempty"`
	PermissionMode string `json:"permission_mode,omitempty"`
}

type cancelRequest struct {
	ThreadID string `json:"thread_id"`
}

// CancelResponse reports what the backend did with a cancellation. A
// not_found status is a valid answer, not an error: the stream may have
// finished before the cancel arrived.
type CancelResponse struct {
	Status   string `json:"status"`
	ThreadID string `json:"thread_id,omitempty"`
}

func (r CancelResponse) Cancelled() bool { return r.Status == "cancelled" }

// ThreadSummary is one row of the thread list endpoint.
type ThreadSummary struct {
	ID          string `json:"id"`
	Type        string `json:"type,omitempty"`
	Title       string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Preview     string `json:"preview,omitempty"`
	ProjectPath string `json:"project_path,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

type threadListResponse struct {
	Threads []ThreadSummary `json:"threads"`
	Total   int             `json:"total"`
}

// ThreadMessage is one persisted message from the thread detail endpoint.
type ThreadMessage struct {
	ID        int64  `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at,omitempty"`
}

// ThreadDetail is the thread detail endpoint's response with messages
// included.
type ThreadDetail struct {
	ID          string          `json:"id"`
	Type        string          `json:"type,omitempty"`
	Title       string          `json:"name,omitempty"`
	ProjectPath string          `json:"project_path,omitempty"`
	Messages    []ThreadMessage `json:"messages"`
}

// Client talks to the backend REST API with bearer auth. The zero value is
// not usable; construct with NewClient.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *slog.Logger
}

func NewClient(baseURL string, token string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
}

// SetToken replaces the bearer token, for refresh flows.
func (c *Client) SetToken(token string) {
	c.token = strings.TrimSpace(token)
}

// OpenStream starts a streaming exchange and returns the response body for
// line-by-line consumption. The caller owns the body and must close it; the
// request context cancels the stream mid-flight.
func (c *Client) OpenStream(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/stream", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	c.addAuth(httpReq)

	// The streaming client must not enforce a total request timeout; streams
	// stay open for minutes. Cancellation comes from ctx.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, c.serverError(resp)
	}
	return resp.Body, nil
}

// CancelStream asks the backend to stop a thread's active stream. Both
// cancelled and not_found come back as a normal response.
func (c *Client) CancelStream(ctx context.Context, threadID string) (CancelResponse, error) {
	resp, err := c.postJSON(ctx, "/v1/cancel", cancelRequest{ThreadID: threadID})
	if err != nil {
		return CancelResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return CancelResponse{}, c.serverError(resp)
	}
	var out CancelResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return CancelResponse{}, err
	}
	return out, nil
}

// RespondToPermission is the HTTP fallback for permission decisions when the
// realtime channel is down.
func (c *Client) RespondToPermission(ctx context.Context, permissionID string, allowed bool) error {
	body := map[string]bool{"approved": allowed}
	resp, err := c.postJSON(ctx, "/v1/permissions/"+permissionID, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.serverError(resp)
	}
	return nil
}

// FetchThreads lists the user's threads.
func (c *Client) FetchThreads(ctx context.Context) ([]ThreadSummary, error) {
	resp, err := c.get(ctx, "/v1/threads")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.serverError(resp)
	}
	var out threadListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Threads, nil
}

// FetchThreadWithMessages loads one thread including its message history.
func (c *Client) FetchThreadWithMessages(ctx context.Context, threadID string) (*ThreadDetail, error) {
	resp, err := c.get(ctx, "/v1/threads/"+threadID+"?include_messages=true")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.serverError(resp)
	}
	var out ThreadDetail
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HealthCheck reports whether the backend answers its health endpoint.
func (c *Client) HealthCheck(ctx context.Context) bool {
	resp, err := c.get(ctx, "/v1/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	c.addAuth(req)
	return c.http.Do(req)
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.addAuth(req)
	return c.http.Do(req)
}

func (c *Client) addAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) serverError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return &ServerError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
