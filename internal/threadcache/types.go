package threadcache

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

type ThreadType string

const (
	ThreadTypeConversation ThreadType = "conversation"
	ThreadTypeProgramming  ThreadType = "programming"
)

// Thread is one conversation as the client sees it. Threads created locally
// carry a client-generated pending id until the backend assigns the real one.
type Thread struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description,omitempty"`
	Preview          string          `json:"preview,omitempty"`
	Type             ThreadType      `json:"type"`
	Model            string          `json:"model,omitempty"`
	PermissionMode   string          `json:"permission_mode,omitempty"`
	MessageCount     int             `json:"message_count"`
	WorkingDirectory string          `json:"working_directory,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Todos            json.RawMessage `json:"todos,omitempty"`

	ContextWindowUsed  int `json:"context_window_used,omitempty"`
	ContextWindowLimit int `json:"context_window_limit,omitempty"`
}

// ErrorInfo is one backend-reported error attached to a thread.
type ErrorInfo struct {
	ID        string    `json:"id"`
	ErrorCode string    `json:"error_code"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func NewErrorInfo(errorCode string, message string) ErrorInfo {
	return ErrorInfo{
		ID:        uuid.NewString(),
		ErrorCode: errorCode,
		Message:   message,
		CreatedAt: time.Now(),
	}
}

// Segment is one ordered unit of assistant message content. The concrete
// types are *TextSegment, *ToolEvent and *SubagentEvent; order within a
// message is append order and meaningful.
type Segment interface {
	isSegment()
}

type TextSegment struct {
	Text string `json:"text"`
}

func (*TextSegment) isSegment() {}

type ToolStatus string

const (
	ToolStatusRunning  ToolStatus = "running"
	ToolStatusComplete ToolStatus = "complete"
	ToolStatusFailed   ToolStatus = "failed"
)

// ToolEvent tracks one tool invocation inside a message.
type ToolEvent struct {
	ToolCallID    string     `json:"tool_call_id"`
	FunctionName  string     `json:"function_name"`
	DisplayName   string     `json:"display_name,omitempty"`
	Status        ToolStatus `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   time.Time  `json:"completed_at,omitzero"`
	DurationSecs  float64    `json:"duration_secs,omitempty"`
	ArgsJSON      string     `json:"args_json,omitempty"`
	ResultPreview string     `json:"result_preview,omitempty"`
	ResultIsError bool       `json:"result_is_error,omitempty"`
}

func (*ToolEvent) isSegment() {}

func NewToolEvent(toolCallID string, functionName string) *ToolEvent {
	return &ToolEvent{
		ToolCallID:   toolCallID,
		FunctionName: functionName,
		Status:       ToolStatusRunning,
		StartedAt:    time.Now(),
	}
}

func (e *ToolEvent) Complete() {
	now := time.Now()
	e.Status = ToolStatusComplete
	e.CompletedAt = now
	e.DurationSecs = now.Sub(e.StartedAt).Seconds()
}

func (e *ToolEvent) Fail() {
	now := time.Now()
	e.Status = ToolStatusFailed
	e.CompletedAt = now
	e.DurationSecs = now.Sub(e.StartedAt).Seconds()
}

func (e *ToolEvent) AppendArgChunk(chunk string) {
	e.ArgsJSON += chunk
}

// SetResult stores a truncated preview of the tool output. Long content is
// cut at a rune boundary near the cap, preferring a nearby word boundary.
func (e *ToolEvent) SetResult(content string, isError bool) {
	e.ResultIsError = isError
	e.ResultPreview = truncatePreview(content, maxResultPreviewLen)
}

type SubagentStatus string

const (
	SubagentStatusRunning  SubagentStatus = "running"
	SubagentStatusComplete SubagentStatus = "complete"
)

// SubagentEvent tracks one delegated subagent task inside a message.
type SubagentEvent struct {
	TaskID          string         `json:"task_id"`
	Description     string         `json:"description"`
	SubagentType    string         `json:"subagent_type"`
	Status          SubagentStatus `json:"status"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     time.Time      `json:"completed_at,omitzero"`
	DurationSecs    float64        `json:"duration_secs,omitempty"`
	ProgressMessage string         `json:"progress_message,omitempty"`
	Summary         string         `json:"summary,omitempty"`
	ToolCallCount   int            `json:"tool_call_count,omitempty"`
}

func (*SubagentEvent) isSegment() {}

func NewSubagentEvent(taskID string, description string, subagentType string) *SubagentEvent {
	return &SubagentEvent{
		TaskID:       taskID,
		Description:  description,
		SubagentType: subagentType,
		Status:       SubagentStatusRunning,
		StartedAt:    time.Now(),
	}
}

func (e *SubagentEvent) UpdateProgress(message string) {
	e.ProgressMessage = message
}

func (e *SubagentEvent) Complete(summary string) {
	now := time.Now()
	e.Status = SubagentStatusComplete
	e.CompletedAt = now
	e.DurationSecs = now.Sub(e.StartedAt).Seconds()
	e.Summary = summary
}
