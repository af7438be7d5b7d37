package threadcache

import "sort"

// fadeTicks is the render window after a successful completion. Failures
// never fade.
const fadeTicks = 30

type DisplayPhase string

const (
	DisplayStarted   DisplayPhase = "started"
	DisplayExecuting DisplayPhase = "executing"
	DisplayCompleted DisplayPhase = "completed"
)

// DisplayStatus is the render state of one tool or subagent activity line,
// driven by the UI tick counter.
type DisplayStatus struct {
	Phase DisplayPhase

	// Function is the raw tool name shown while started.
	Function string
	// DisplayName is the friendlier label shown while executing.
	DisplayName string

	Success     bool
	Summary     string
	CompletedAt uint64
}

// ShouldRender reports whether the line is still visible at the given tick.
// Successes fade after the window; failures persist until dismissed.
func (s DisplayStatus) ShouldRender(currentTick uint64) bool {
	if s.Phase != DisplayCompleted {
		return true
	}
	if !s.Success {
		return true
	}
	return currentTick < s.CompletedAt+fadeTicks
}

func (s DisplayStatus) InProgress() bool {
	return s.Phase == DisplayStarted || s.Phase == DisplayExecuting
}

// DisplayText is the one-line label for the status line.
func (s DisplayStatus) DisplayText() string {
	switch s.Phase {
	case DisplayStarted:
		return s.Function + "..."
	case DisplayExecuting:
		return s.DisplayName
	default:
		return s.Summary
	}
}

// ActivityTracker keeps the per-id display state of in-flight tools and
// subagents for the status area, separate from the message segments that
// render inline.
type ActivityTracker struct {
	tools     map[string]DisplayStatus
	subagents map[string]DisplayStatus
	order     []string
}

func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{
		tools:     make(map[string]DisplayStatus),
		subagents: make(map[string]DisplayStatus),
	}
}

func (t *ActivityTracker) ToolStarted(toolCallID string, function string, tick uint64) {
	if _, ok := t.tools[toolCallID]; !ok {
		t.order = append(t.order, toolCallID)
	}
	t.tools[toolCallID] = DisplayStatus{Phase: DisplayStarted, Function: function, CompletedAt: tick}
}

func (t *ActivityTracker) ToolExecuting(toolCallID string, displayName string) {
	if _, ok := t.tools[toolCallID]; !ok {
		t.order = append(t.order, toolCallID)
	}
	t.tools[toolCallID] = DisplayStatus{Phase: DisplayExecuting, DisplayName: displayName}
}

func (t *ActivityTracker) ToolCompleted(toolCallID string, success bool, summary string, tick uint64) {
	if _, ok := t.tools[toolCallID]; !ok {
		t.order = append(t.order, toolCallID)
	}
	t.tools[toolCallID] = DisplayStatus{
		Phase:       DisplayCompleted,
		Success:     success,
		Summary:     summary,
		CompletedAt: tick,
	}
}

func (t *ActivityTracker) SubagentStarted(taskID string, description string, tick uint64) {
	t.subagents[taskID] = DisplayStatus{Phase: DisplayStarted, Function: description, CompletedAt: tick}
}

func (t *ActivityTracker) SubagentProgress(taskID string, message string) {
	t.subagents[taskID] = DisplayStatus{Phase: DisplayExecuting, DisplayName: message}
}

func (t *ActivityTracker) SubagentCompleted(taskID string, success bool, summary string, tick uint64) {
	t.subagents[taskID] = DisplayStatus{
		Phase:       DisplayCompleted,
		Success:     success,
		Summary:     summary,
		CompletedAt: tick,
	}
}

// ToolsToRender returns the tool lines visible at the given tick, in-progress
// lines first.
func (t *ActivityTracker) ToolsToRender(currentTick uint64) []DisplayStatus {
	visible := make([]DisplayStatus, 0, len(t.tools))
	for _, id := range t.order {
		if s, ok := t.tools[id]; ok && s.ShouldRender(currentTick) {
			visible = append(visible, s)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].InProgress() && !visible[j].InProgress()
	})
	return visible
}

// Clear drops all tracked activity, for thread switches.
func (t *ActivityTracker) Clear() {
	t.tools = make(map[string]DisplayStatus)
	t.subagents = make(map[string]DisplayStatus)
	t.order = nil
}
