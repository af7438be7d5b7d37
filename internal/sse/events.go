package sse

import "encoding/json"

// Meta carries the flattened metadata fields the backend attaches to
// streaming content frames.
type Meta struct {
	Seq       uint64 `json:"seq,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// Event is one decoded event from the backend stream. The concrete types
// below are the only implementations; consumers dispatch with a type switch.
type Event interface {
	// EventType returns the wire name of the event, for logging.
	EventType() string
}

// ContentEvent is a streaming text chunk for the assistant message.
type ContentEvent struct {
	Text string
	Meta Meta
}

// ThreadInfoEvent announces the backend-assigned thread id, optionally with
// a server-generated title.
type ThreadInfoEvent struct {
	ThreadID string
	Title    *string
}

// MessageInfoEvent carries the backend-assigned id of the message being
// streamed.
type MessageInfoEvent struct {
	MessageID int64
}

// DoneEvent signals that the stream finished cleanly.
type DoneEvent struct{}

// ErrorEvent is an error reported by the backend inside the stream.
type ErrorEvent struct {
	Message string
	Code    string
}

// PingEvent is a keepalive. Unknown event types also decode to PingEvent so
// that new server-side events never break an older client.
type PingEvent struct{}

type SkillsInjectedEvent struct {
	Skills []string
}

type OAuthConsentRequiredEvent struct {
	Provider  string
	URL       string
	SkillName string
}

type ContextCompactedEvent struct {
	MessagesRemoved int
	TokensFreed     int
	TokensUsed      int
	TokenLimit      int
}

type ToolCallStartEvent struct {
	ToolName   string
	ToolCallID string
}

type ToolCallArgumentEvent struct {
	ToolCallID string
	Chunk      string
}

type ToolExecutingEvent struct {
	ToolCallID  string
	DisplayName string
	URL         string
}

type ToolResultEvent struct {
	ToolCallID string
	Result     string
}

type ReasoningEvent struct {
	Text string
}

type PermissionRequestEvent struct {
	PermissionID string
	ToolName     string
	Description  string
	ToolCallID   string
	ToolInput    json.RawMessage
}

type TodosUpdatedEvent struct {
	Todos json.RawMessage
}

type SubagentStartedEvent struct {
	TaskID       string
	Description  string
	SubagentType string
}

type SubagentProgressEvent struct {
	TaskID  string
	Message string
}

type SubagentCompletedEvent struct {
	TaskID        string
	Summary       string
	ToolCallCount int
}

type ThreadUpdatedEvent struct {
	ThreadID    string
	Title       *string
	Description *string
}

type UsageEvent struct {
	ContextWindowUsed  int
	ContextWindowLimit int
}

func (ContentEvent) EventType() string              { return "content" }
func (ThreadInfoEvent) EventType() string           { return "thread_info" }
func (MessageInfoEvent) EventType() string          { return "message_info" }
func (DoneEvent) EventType() string                 { return "done" }
func (ErrorEvent) EventType() string                { return "error" }
func (PingEvent) EventType() string                 { return "ping" }
func (SkillsInjectedEvent) EventType() string       { return "skills_injected" }
func (OAuthConsentRequiredEvent) EventType() string { return "oauth_consent_required" }
func (ContextCompactedEvent) EventType() string     { return "context_compacted" }
func (ToolCallStartEvent) EventType() string        { return "tool_call_start" }
func (ToolCallArgumentEvent) EventType() string     { return "tool_call_argument" }
func (ToolExecutingEvent) EventType() string        { return "tool_executing" }
func (ToolResultEvent) EventType() string           { return "tool_result" }
func (ReasoningEvent) EventType() string            { return "reasoning" }
func (PermissionRequestEvent) EventType() string    { return "permission_request" }
func (TodosUpdatedEvent) EventType() string         { return "todos_updated" }
func (SubagentStartedEvent) EventType() string      { return "subagent_started" }
func (SubagentProgressEvent) EventType() string     { return "subagent_progress" }
func (SubagentCompletedEvent) EventType() string    { return "subagent_completed" }
func (ThreadUpdatedEvent) EventType() string        { return "thread_updated" }
func (UsageEvent) EventType() string                { return "usage" }
