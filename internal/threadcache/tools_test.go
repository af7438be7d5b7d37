package threadcache

import (
	"fmt"
	"testing"
)

func TestStartToolTargetsStreamingMessageOnly(t *testing.T) {
	t.Parallel()

	c := New()
	id := c.CreatePendingThread("Hello", ThreadTypeConversation, "")
	c.FinalizeMessage(id, 2)

	// No streaming message: start must be dropped.
	c.StartToolInMessage(id, "c1", "read_file")
	for _, m := range c.GetMessages(id) {
		if m.GetToolEvent("c1") != nil {
			t.Fatalf("tool started outside a streaming message")
		}
	}

	c.AddStreamingMessage(id, "next question")
	c.StartToolInMessage(id, "c2", "read_file")
	msgs := c.GetMessages(id)
	if msgs[len(msgs)-1].GetToolEvent("c2") == nil {
		t.Fatalf("tool not started in streaming message")
	}
}

func TestLateToolCompletionAfterFinalize(t *testing.T) {
	t.Parallel()

	c := New()
	id := c.CreatePendingThread("Hello", ThreadTypeConversation, "")
	c.StartToolInMessage(id, "c1", "execute_bash")

	// Stream ends before the tool result arrives.
	c.FinalizeMessage(id, 2)

	c.CompleteToolInMessage(id, "c1")
	c.SetToolResult(id, "c1", "exit 0", false)

	ev := c.GetMessages(id)[1].GetToolEvent("c1")
	if ev == nil {
		t.Fatalf("tool event lost")
	}
	if ev.Status != ToolStatusComplete {
		t.Fatalf("late completion not applied, status %s", ev.Status)
	}
	if ev.ResultPreview != "exit 0" {
		t.Fatalf("late result not applied: %q", ev.ResultPreview)
	}
}

func TestToolUpdateBeyondSearchDepthIsDropped(t *testing.T) {
	t.Parallel()

	c := New()
	id := c.CreatePendingThread("Hello", ThreadTypeConversation, "")
	c.StartToolInMessage(id, "old-tool", "read_file")
	c.FinalizeMessage(id, 2)

	// Bury the owning message deeper than the search window.
	for i := 0; i < recentSearchDepth; i++ {
		c.AddMessageSimple(id, RoleUser, fmt.Sprintf("filler %d", i))
	}

	c.CompleteToolInMessage(id, "old-tool")

	ev := c.GetMessages(id)[1].GetToolEvent("old-tool")
	if ev.Status != ToolStatusRunning {
		t.Fatalf("update beyond search depth must be dropped, status %s", ev.Status)
	}
}

func TestToolLifecycle(t *testing.T) {
	t.Parallel()

	c := New()
	id := c.CreatePendingThread("Hello", ThreadTypeConversation, "")
	c.StartToolInMessage(id, "c1", "write_file")
	c.AppendToolArgument(id, "c1", `{"path":`)
	c.AppendToolArgument(id, "c1", `"a.txt"}`)
	c.SetToolDisplayName(id, "c1", "Writing a.txt")
	c.FailToolInMessage(id, "c1")

	ev := c.GetMessages(id)[1].GetToolEvent("c1")
	if ev.ArgsJSON != `{"path":"a.txt"}` {
		t.Fatalf("argument chunks not accumulated: %q", ev.ArgsJSON)
	}
	if ev.DisplayName != "Writing a.txt" {
		t.Fatalf("display name not set: %q", ev.DisplayName)
	}
	if ev.Status != ToolStatusFailed || ev.CompletedAt.IsZero() {
		t.Fatalf("fail not recorded: %+v", ev)
	}
}

func TestSubagentLifecycle(t *testing.T) {
	t.Parallel()

	c := New()
	id := c.CreatePendingThread("Hello", ThreadTypeConversation, "")
	c.StartSubagentInMessage(id, "task-1", "Explore the repo", "explorer")
	c.UpdateSubagentProgress(id, "task-1", "Reading files")

	// Completion arrives after the message is done.
	c.FinalizeMessage(id, 2)
	c.CompleteSubagentInMessage(id, "task-1", "Found 3 packages", 7)

	ev := c.GetMessages(id)[1].GetSubagentEvent("task-1")
	if ev == nil {
		t.Fatalf("subagent event lost")
	}
	if ev.Status != SubagentStatusComplete || ev.Summary != "Found 3 packages" || ev.ToolCallCount != 7 {
		t.Fatalf("completion not applied: %+v", ev)
	}
}

func TestSubagentProgressMissIsSilent(t *testing.T) {
	t.Parallel()

	c := New()
	id := c.CreatePendingThread("Hello", ThreadTypeConversation, "")
	// Must not panic or create anything.
	c.UpdateSubagentProgress(id, "ghost-task", "no-op")
	c.CompleteSubagentInMessage(id, "ghost-task", "", 0)

	if c.GetMessages(id)[1].GetSubagentEvent("ghost-task") != nil {
		t.Fatalf("miss created a segment")
	}
}

func TestToolMutationsFollowRedirect(t *testing.T) {
	t.Parallel()

	c := New()
	pending := c.CreatePendingThread("Hello", ThreadTypeConversation, "")
	c.StartToolInMessage(pending, "c1", "read_file")
	c.ReconcileThreadID(pending, "real-id", nil)

	// Completion addressed to the stale id.
	c.CompleteToolInMessage(pending, "c1")

	ev := c.GetMessages("real-id")[1].GetToolEvent("c1")
	if ev.Status != ToolStatusComplete {
		t.Fatalf("redirected completion dropped, status %s", ev.Status)
	}
}
