package sse

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Parser assembles raw stream lines into complete events. One Parser serves
// one stream; it is not safe for concurrent use and never needs to be, since
// a stream is read by a single goroutine.
type Parser struct {
	eventType string
	dataLines []string
}

func NewParser() *Parser {
	return &Parser{}
}

// Feed consumes one line. It returns a non-nil Event when a blank line
// completed a frame, (nil, nil) when the line was absorbed, and a non-nil
// error for a malformed frame. Errors are non-fatal: internal state is
// already cleared, so the caller logs and keeps feeding.
func (p *Parser) Feed(line string) (Event, error) {
	switch l := ClassifyLine(line); l.Kind {
	case LineEvent:
		p.eventType = l.Value
		return nil, nil
	case LineData:
		p.dataLines = append(p.dataLines, l.Value)
		return nil, nil
	case LineComment:
		return nil, nil
	default:
		return p.tryEmit()
	}
}

// Reset drops any partially assembled frame, for reuse across reconnects.
func (p *Parser) Reset() {
	p.eventType = ""
	p.dataLines = p.dataLines[:0]
}

func (p *Parser) tryEmit() (Event, error) {
	if p.eventType == "" && len(p.dataLines) == 0 {
		// Blank line between keepalives.
		return nil, nil
	}

	eventType := p.eventType
	data := strings.Join(p.dataLines, "\n")
	p.eventType = ""
	p.dataLines = p.dataLines[:0]

	// Implicit typing: the backend usually omits the event line and tags the
	// JSON payload instead, e.g. data: {"type":"content","data":"hi",...}
	if eventType == "" && data != "" {
		if t := gjson.Get(data, "type"); t.Type == gjson.String {
			eventType = t.String()
		}
	}

	if eventType == "" {
		if data == "" {
			return nil, nil
		}
		return decodeEvent("content", data)
	}
	if data == "" {
		if eventType == "done" || eventType == "ping" {
			return decodeEvent(eventType, "{}")
		}
		return nil, &MissingDataError{EventType: eventType}
	}
	return decodeEvent(eventType, data)
}

// decodeEvent dispatches a resolved event type to its decoder. Unknown types
// decode to PingEvent so a newer backend never breaks the stream.
func decodeEvent(eventType string, data string) (Event, error) {
	switch eventType {
	case "content", "text", "message", "chunk", "delta", "content_block_delta":
		return decodeContent(eventType, data)
	case "thread_info":
		return decodeThreadInfo(eventType, data)
	case "user_message_saved":
		return decodeUserMessageSaved(eventType, data)
	case "message_info":
		return decodeMessageInfo(eventType, data)
	case "done":
		return decodeDone(data)
	case "ping":
		return PingEvent{}, nil
	case "skills_injected":
		return decodeSkillsInjected(eventType, data)
	case "oauth_consent_required":
		return decodeOAuthConsent(eventType, data)
	case "context_compacted":
		return decodeContextCompacted(eventType, data)
	case "error":
		return decodeError(eventType, data)
	case "tool_call_start":
		return decodeToolCallStart(eventType, data)
	case "tool_call_argument":
		return decodeToolCallArgument(eventType, data)
	case "tool_executing":
		return decodeToolExecuting(eventType, data)
	case "tool_result":
		return decodeToolResult(eventType, data)
	case "reasoning", "thinking":
		return decodeReasoning(eventType, data)
	case "permission_request":
		return decodePermissionRequest(eventType, data)
	case "todos_updated":
		return decodeTodosUpdated(eventType, data)
	case "subagent_started":
		return decodeSubagentStarted(eventType, data)
	case "subagent_progress":
		return decodeSubagentProgress(eventType, data)
	case "subagent_completed":
		return decodeSubagentCompleted(eventType, data)
	case "thread_updated":
		return decodeThreadUpdated(eventType, data)
	case "usage":
		return decodeUsage(eventType, data)
	default:
		return PingEvent{}, nil
	}
}
