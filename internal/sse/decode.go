package sse

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/tidwall/gjson"
)

var errMalformedPayload = errors.New("malformed JSON payload")

// contentPayload accepts the assorted field names backends use for a text
// chunk, plus the flattened metadata the backend attaches to each frame.
type contentPayload struct {
	Text    *string       `json:"text"`
	Content *string       `json:"content"`
	Data    *string       `json:"data"`
	Chunk   *string       `json:"chunk"`
	Token   *string       `json:"token"`
	Delta   *deltaPayload `json:"delta"`

	Seq       uint64 `json:"seq"`
	Timestamp int64  `json:"timestamp"`
	SessionID string `json:"session_id"`
	ThreadID  string `json:"thread_id"`
}

// deltaPayload is the OpenAI-style nested form.
type deltaPayload struct {
	Content *string `json:"content"`
	Text    *string `json:"text"`
	Data    *string `json:"data"`
}

func firstString(candidates ...*string) string {
	for _, c := range candidates {
		if c != nil {
			return *c
		}
	}
	return ""
}

func decodeContent(eventType string, data string) (Event, error) {
	var p contentPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, &InvalidJSONError{EventType: eventType, Err: err}
	}
	text := firstString(p.Text, p.Content, p.Data, p.Chunk, p.Token)
	if text == "" && p.Delta != nil {
		text = firstString(p.Delta.Content, p.Delta.Text, p.Delta.Data)
	}
	return ContentEvent{
		Text: text,
		Meta: Meta{Seq: p.Seq, Timestamp: p.Timestamp, SessionID: p.SessionID, ThreadID: p.ThreadID},
	}, nil
}

func decodeReasoning(eventType string, data string) (Event, error) {
	if !gjson.Valid(data) {
		return nil, &InvalidJSONError{EventType: eventType, Err: errMalformedPayload}
	}
	text := gjson.Get(data, "text")
	if !text.Exists() {
		text = gjson.Get(data, "content")
	}
	if !text.Exists() {
		text = gjson.Get(data, "data")
	}
	return ReasoningEvent{Text: text.String()}, nil
}

func decodeThreadInfo(eventType string, data string) (Event, error) {
	var p struct {
		ThreadID string  `json:"thread_id"`
		Title    *string `json:"title"`
	}
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, &InvalidJSONError{EventType: eventType, Err: err}
	}
	if p.ThreadID == "" {
		return nil, &InvalidJSONError{EventType: eventType, Err: errors.New("missing thread_id")}
	}
	return ThreadInfoEvent{ThreadID: p.ThreadID, Title: p.Title}, nil
}

// decodeUserMessageSaved maps the saved-message notification to a
// ThreadInfoEvent: its only job here is confirming the real thread id.
func decodeUserMessageSaved(eventType string, data string) (Event, error) {
	if !gjson.Valid(data) {
		return nil, &InvalidJSONError{EventType: eventType, Err: errMalformedPayload}
	}
	threadID := gjson.Get(data, "thread_id").String()
	if threadID == "" {
		// Nothing to confirm without an id; treat as a keepalive.
		return PingEvent{}, nil
	}
	return ThreadInfoEvent{ThreadID: threadID}, nil
}

func decodeMessageInfo(eventType string, data string) (Event, error) {
	var p struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, &InvalidJSONError{EventType: eventType, Err: err}
	}
	return MessageInfoEvent{MessageID: p.MessageID}, nil
}

// decodeDone prefers the variant that carries the final message id; a bare
// done (or one without a string message_id) is a plain completion signal.
func decodeDone(data string) (Event, error) {
	if gjson.Valid(data) {
		if id := gjson.Get(data, "message_id"); id.Type == gjson.String {
			n, _ := strconv.ParseInt(id.String(), 10, 64)
			return MessageInfoEvent{MessageID: n}, nil
		}
	}
	return DoneEvent{}, nil
}

func decodeError(eventType string, data string) (Event, error) {
	var p struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, &InvalidJSONError{EventType: eventType, Err: err}
	}
	return ErrorEvent{Message: p.Message, Code: p.Code}, nil
}

func decodeSkillsInjected(eventType string, data string) (Event, error) {
	var p struct {
		Skills []string `json:"skills"`
	}
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, &InvalidJSONError{EventType: eventType, Err: err}
	}
	return SkillsInjectedEvent{Skills: p.Skills}, nil
}

func decodeOAuthConsent(eventType string, data string) (Event, error) {
	var p struct {
		Provider  string `json:"provider"`
		URL       string `json:"url"`
		SkillName string `json:"skill_name"`
	}
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, &InvalidJSONError{EventType: eventType, Err: err}
	}
	return OAuthConsentRequiredEvent{Provider: p.Provider, URL: p.URL, SkillName: p.SkillName}, nil
}

func decodeContextCompacted(eventType string, data string) (Event, error) {
	var p struct {
		MessagesRemoved int `json:"messages_removed"`
		TokensFreed     int `json:"tokens_freed"`
		TokensUsed      int `json:"tokens_used"`
		TokenLimit      int `json:"token_limit"`
	}
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, &InvalidJSONError{EventType: eventType, Err: err}
	}
	return ContextCompactedEvent{
		MessagesRemoved: p.MessagesRemoved,
		TokensFreed:     p.TokensFreed,
		TokensUsed:      p.TokensUsed,
		TokenLimit:      p.TokenLimit,
	}, nil
}

func decodeToolCallStart(eventType string, data string) (Event, error) {
	if !gjson.Valid(data) {
		return nil, &InvalidJSONError{EventType: eventType, Err: errMalformedPayload}
	}
	name := gjson.Get(data, "function")
	if !name.Exists() {
		name = gjson.Get(data, "tool_name")
	}
	return ToolCallStartEvent{
		ToolName:   name.String(),
		ToolCallID: gjson.Get(data, "tool_call_id").String(),
	}, nil
}

func decodeToolCallArgument(eventType string, data string) (Event, error) {
	if !gjson.Valid(data) {
		return nil, &InvalidJSONError{EventType: eventType, Err: errMalformedPayload}
	}
	chunk := gjson.Get(data, "chunk")
	if !chunk.Exists() {
		chunk = gjson.Get(data, "argument_chunk")
	}
	return ToolCallArgumentEvent{
		ToolCallID: gjson.Get(data, "tool_call_id").String(),
		Chunk:      chunk.String(),
	}, nil
}

func decodeToolExecuting(eventType string, data string) (Event, error) {
	if !gjson.Valid(data) {
		return nil, &InvalidJSONError{EventType: eventType, Err: errMalformedPayload}
	}
	display := gjson.Get(data, "display_name")
	if !display.Exists() {
		display = gjson.Get(data, "function")
	}
	return ToolExecutingEvent{
		ToolCallID:  gjson.Get(data, "tool_call_id").String(),
		DisplayName: display.String(),
		URL:         gjson.Get(data, "url").String(),
	}, nil
}

func decodeToolResult(eventType string, data string) (Event, error) {
	if !gjson.Valid(data) {
		return nil, &InvalidJSONError{EventType: eventType, Err: errMalformedPayload}
	}
	var result string
	if r := gjson.Get(data, "result"); r.Exists() {
		if r.Type == gjson.String {
			result = r.String()
		} else {
			result = r.Raw
		}
	}
	return ToolResultEvent{
		ToolCallID: gjson.Get(data, "tool_call_id").String(),
		Result:     result,
	}, nil
}

func decodePermissionRequest(eventType string, data string) (Event, error) {
	if !gjson.Valid(data) {
		return nil, &InvalidJSONError{EventType: eventType, Err: errMalformedPayload}
	}
	var input json.RawMessage
	if ti := gjson.Get(data, "tool_input"); ti.Exists() {
		input = json.RawMessage(ti.Raw)
	}
	return PermissionRequestEvent{
		PermissionID: gjson.Get(data, "permission_id").String(),
		ToolName:     gjson.Get(data, "tool_name").String(),
		Description:  gjson.Get(data, "description").String(),
		ToolCallID:   gjson.Get(data, "tool_call_id").String(),
		ToolInput:    input,
	}, nil
}

func decodeTodosUpdated(eventType string, data string) (Event, error) {
	if !gjson.Valid(data) {
		return nil, &InvalidJSONError{EventType: eventType, Err: errMalformedPayload}
	}
	todos := json.RawMessage("[]")
	if t := gjson.Get(data, "todos"); t.Exists() {
		todos = json.RawMessage(t.Raw)
	}
	return TodosUpdatedEvent{Todos: todos}, nil
}

func decodeSubagentStarted(eventType string, data string) (Event, error) {
	if !gjson.Valid(data) {
		return nil, &InvalidJSONError{EventType: eventType, Err: errMalformedPayload}
	}
	return SubagentStartedEvent{
		TaskID:       gjson.Get(data, "task_id").String(),
		Description:  gjson.Get(data, "description").String(),
		SubagentType: gjson.Get(data, "subagent_type").String(),
	}, nil
}

func decodeSubagentProgress(eventType string, data string) (Event, error) {
	if !gjson.Valid(data) {
		return nil, &InvalidJSONError{EventType: eventType, Err: errMalformedPayload}
	}
	return SubagentProgressEvent{
		TaskID:  gjson.Get(data, "task_id").String(),
		Message: gjson.Get(data, "message").String(),
	}, nil
}

func decodeSubagentCompleted(eventType string, data string) (Event, error) {
	if !gjson.Valid(data) {
		return nil, &InvalidJSONError{EventType: eventType, Err: errMalformedPayload}
	}
	return SubagentCompletedEvent{
		TaskID:        gjson.Get(data, "task_id").String(),
		Summary:       gjson.Get(data, "summary").String(),
		ToolCallCount: int(gjson.Get(data, "tool_call_count").Int()),
	}, nil
}

func decodeThreadUpdated(eventType string, data string) (Event, error) {
	var p struct {
		ThreadID    string  `json:"thread_id"`
		Title       *string `json:"title"`
		Description *string `json:"description"`
	}
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, &InvalidJSONError{EventType: eventType, Err: err}
	}
	if p.ThreadID == "" {
		return nil, &InvalidJSONError{EventType: eventType, Err: errors.New("missing thread_id")}
	}
	return ThreadUpdatedEvent{ThreadID: p.ThreadID, Title: p.Title, Description: p.Description}, nil
}

func decodeUsage(eventType string, data string) (Event, error) {
	var p struct {
		ContextWindowUsed  int `json:"context_window_used"`
		ContextWindowLimit int `json:"context_window_limit"`
	}
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, &InvalidJSONError{EventType: eventType, Err: err}
	}
	return UsageEvent{ContextWindowUsed: p.ContextWindowUsed, ContextWindowLimit: p.ContextWindowLimit}, nil
}
