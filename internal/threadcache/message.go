package threadcache

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const maxResultPreviewLen = 500

// Message is one message in a thread. While streaming, tokens accumulate in
// PartialContent; Finalize moves them into Content. RenderVersion bumps on
// every mutation so render caches know when to invalidate.
type Message struct {
	ID       int64       `json:"id"`
	ThreadID string      `json:"thread_id"`
	Role     MessageRole `json:"role"`
	Content  string      `json:"content"`

	IsStreaming        bool   `json:"is_streaming,omitempty"`
	PartialContent     string `json:"partial_content,omitempty"`
	ReasoningContent   string `json:"reasoning_content,omitempty"`
	ReasoningCollapsed bool   `json:"reasoning_collapsed,omitempty"`

	Segments      []Segment `json:"segments,omitempty"`
	RenderVersion uint64    `json:"render_version,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (m *Message) invalidateRenderCache() {
	m.RenderVersion++
}

// AppendToken appends a streaming token to both the partial-content
// accumulator and the segment list.
func (m *Message) AppendToken(token string) {
	m.PartialContent += token
	m.addTextSegment(token)
	m.invalidateRenderCache()
}

func (m *Message) AppendReasoningToken(token string) {
	m.ReasoningContent += token
	m.invalidateRenderCache()
}

// Finalize ends streaming: partial content becomes the final content and
// reasoning collapses out of the way.
func (m *Message) Finalize() {
	if !m.IsStreaming {
		return
	}
	m.Content = m.PartialContent
	m.PartialContent = ""
	m.IsStreaming = false
	if m.ReasoningContent != "" {
		m.ReasoningCollapsed = true
	}
	m.invalidateRenderCache()
}

func (m *Message) ToggleReasoningCollapsed() {
	m.ReasoningCollapsed = !m.ReasoningCollapsed
	m.invalidateRenderCache()
}

// addTextSegment coalesces consecutive text into the trailing segment so a
// token-per-segment stream does not explode the segment list.
func (m *Message) addTextSegment(text string) {
	if n := len(m.Segments); n > 0 {
		if last, ok := m.Segments[n-1].(*TextSegment); ok {
			last.Text += text
			return
		}
	}
	if text != "" {
		m.Segments = append(m.Segments, &TextSegment{Text: text})
	}
}

func (m *Message) StartToolEvent(toolCallID string, functionName string) {
	m.Segments = append(m.Segments, NewToolEvent(toolCallID, functionName))
	m.invalidateRenderCache()
}

func (m *Message) GetToolEvent(toolCallID string) *ToolEvent {
	for _, seg := range m.Segments {
		if ev, ok := seg.(*ToolEvent); ok && ev.ToolCallID == toolCallID {
			return ev
		}
	}
	return nil
}

func (m *Message) CompleteToolEvent(toolCallID string) {
	if ev := m.GetToolEvent(toolCallID); ev != nil {
		ev.Complete()
		m.invalidateRenderCache()
	}
}

func (m *Message) FailToolEvent(toolCallID string) {
	if ev := m.GetToolEvent(toolCallID); ev != nil {
		ev.Fail()
		m.invalidateRenderCache()
	}
}

func (m *Message) SetToolDisplayName(toolCallID string, displayName string) {
	if ev := m.GetToolEvent(toolCallID); ev != nil {
		ev.DisplayName = displayName
		m.invalidateRenderCache()
	}
}

func (m *Message) AppendToolArgChunk(toolCallID string, chunk string) {
	if ev := m.GetToolEvent(toolCallID); ev != nil {
		ev.AppendArgChunk(chunk)
		m.invalidateRenderCache()
	}
}

func (m *Message) HasRunningTools() bool {
	for _, seg := range m.Segments {
		if ev, ok := seg.(*ToolEvent); ok && ev.Status == ToolStatusRunning {
			return true
		}
	}
	return false
}

func (m *Message) StartSubagentEvent(taskID string, description string, subagentType string) {
	m.Segments = append(m.Segments, NewSubagentEvent(taskID, description, subagentType))
	m.invalidateRenderCache()
}

func (m *Message) GetSubagentEvent(taskID string) *SubagentEvent {
	for _, seg := range m.Segments {
		if ev, ok := seg.(*SubagentEvent); ok && ev.TaskID == taskID {
			return ev
		}
	}
	return nil
}

func (m *Message) UpdateSubagentProgress(taskID string, message string) {
	if ev := m.GetSubagentEvent(taskID); ev != nil {
		ev.UpdateProgress(message)
		m.invalidateRenderCache()
	}
}

func (m *Message) CompleteSubagentEvent(taskID string, summary string, toolCallCount int) {
	if ev := m.GetSubagentEvent(taskID); ev != nil {
		ev.ToolCallCount = toolCallCount
		ev.Complete(summary)
		m.invalidateRenderCache()
	}
}

func (m *Message) HasRunningSubagents() bool {
	for _, seg := range m.Segments {
		if ev, ok := seg.(*SubagentEvent); ok && ev.Status == SubagentStatusRunning {
			return true
		}
	}
	return false
}

// truncatePreview cuts content to at most max bytes on a rune boundary,
// stepping back to a word boundary when one falls within the last 50 bytes.
func truncatePreview(content string, max int) string {
	if len(content) <= max {
		return content
	}
	end := max
	for end > 0 && !utf8.RuneStart(content[end]) {
		end--
	}
	truncated := content[:end]
	if lastSpace := strings.LastIndexFunc(truncated, unicode.IsSpace); lastSpace > end-50 && lastSpace >= 0 {
		truncated = truncated[:lastSpace]
	}
	return truncated + "..."
}

// truncateTitle derives a thread title from the first message.
func truncateTitle(text string) string {
	if len(text) <= 40 {
		return text
	}
	end := 37
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	return text[:end] + "..."
}
