package sse

import "strings"

// LineKind classifies one raw line of the event stream.
type LineKind int

const (
	// LineEmpty terminates the event being assembled.
	LineEmpty LineKind = iota
	// LineComment is a keepalive or any line the protocol does not know.
	LineComment
	// LineEvent declares the event type for the frame being assembled.
	LineEvent
	// LineData carries one line of the event payload.
	LineData
)

// Line is the result of classifying one raw line.
type Line struct {
	Kind  LineKind
	Value string
}

// ClassifyLine maps a raw line (trailing newline already stripped) to its
// protocol role. Unrecognized lines are comments, never errors.
func ClassifyLine(line string) Line {
	if line == "" {
		return Line{Kind: LineEmpty}
	}
	if strings.HasPrefix(line, ":") {
		return Line{Kind: LineComment, Value: strings.TrimSpace(line[1:])}
	}
	if rest, ok := strings.CutPrefix(line, "event:"); ok {
		return Line{Kind: LineEvent, Value: strings.TrimSpace(rest)}
	}
	if rest, ok := strings.CutPrefix(line, "data:"); ok {
		return Line{Kind: LineData, Value: strings.TrimSpace(rest)}
	}
	return Line{Kind: LineComment, Value: line}
}
