// Package permission owns the pending permission requests of each thread and
// the delivery of the user's decision back to the backend: a non-blocking
// WebSocket send, one timed retry, then an HTTP fallback.
package permission

import (
	"context"
	"encoding/json"
	"time"
)

// Request is one permission prompt from the backend. At most one request is
// live per thread at a time.
type Request struct {
	PermissionID string          `json:"permission_id"`
	ThreadID     string          `json:"thread_id,omitempty"`
	ToolName     string          `json:"tool_name"`
	Description  string          `json:"description"`
	ToolCallID   string          `json:"tool_call_id,omitempty"`
	ToolInput    json.RawMessage `json:"tool_input,omitempty"`

	// ReceivedAt anchors the expiry check; it is client-local time.
	ReceivedAt time.Time `json:"-"`
}

// Decision is the user's answer to a pending request.
type Decision string

const (
	DecisionAllow       Decision = "allow"
	DecisionAllowAlways Decision = "allow_always"
	DecisionDeny        Decision = "deny"
)

// Outcome is the terminal state of one delivery attempt.
type Outcome string

const (
	// OutcomeSentViaPrimary means the WebSocket channel took the response.
	OutcomeSentViaPrimary Outcome = "sent_via_primary"
	// OutcomeSentViaFallback means the HTTP fallback took the response after
	// the WebSocket channel failed twice.
	OutcomeSentViaFallback Outcome = "sent_via_fallback"
	// OutcomeExpired means the request aged past the client-side deadline
	// before any send was attempted.
	OutcomeExpired Outcome = "expired"
	// OutcomeFailed means both channels failed.
	OutcomeFailed Outcome = "failed"
)

// Result reports how a decision was (or was not) delivered.
type Result struct {
	PermissionID string
	ThreadID     string
	Allowed      bool
	Outcome      Outcome
	Reason       string
}

// Sender is the side-channel WebSocket writer. TrySend must never block;
// it reports false when the frame could not be queued.
type Sender interface {
	Connected() bool
	TrySend(v any) bool
}

// FallbackClient is the HTTP API used when the WebSocket channel is down.
type FallbackClient interface {
	RespondToPermission(ctx context.Context, permissionID string, allowed bool) error
}

// commandResponse is the wire frame for a permission decision.
type commandResponse struct {
	Type      string        `json:"type"`
	RequestID string        `json:"request_id"`
	Result    commandResult `json:"result"`
}

type commandResult struct {
	Status string            `json:"status"`
	Data   commandResultData `json:"data"`
}

type commandResultData struct {
	Allowed bool    `json:"allowed"`
	Message *string `json:"message"`
}

func newCommandResponse(permissionID string, allowed bool) commandResponse {
	return commandResponse{
		Type:      "command_response",
		RequestID: permissionID,
		Result: commandResult{
			Status: "success",
			Data:   commandResultData{Allowed: allowed, Message: nil},
		},
	}
}
