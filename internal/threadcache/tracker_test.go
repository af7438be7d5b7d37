package threadcache

import "testing"

func TestFadeWindowSuccess(t *testing.T) {
	t.Parallel()

	tr := NewActivityTracker()
	tr.ToolStarted("c1", "read_file", 90)
	tr.ToolCompleted("c1", true, "Read complete", 100)

	status := tr.tools["c1"]
	if !status.ShouldRender(129) {
		t.Fatalf("success must still render inside the fade window")
	}
	if status.ShouldRender(130) {
		t.Fatalf("success must stop rendering after the fade window")
	}
}

func TestFailuresNeverFade(t *testing.T) {
	t.Parallel()

	tr := NewActivityTracker()
	tr.ToolCompleted("c1", false, "Write failed: permission denied", 100)

	if !tr.tools["c1"].ShouldRender(1000) {
		t.Fatalf("failure faded")
	}
}

func TestInProgressAlwaysRenders(t *testing.T) {
	t.Parallel()

	tr := NewActivityTracker()
	tr.ToolStarted("c1", "read_file", 5)
	if !tr.tools["c1"].ShouldRender(100000) {
		t.Fatalf("started tool must render")
	}
	tr.ToolExecuting("c1", "Reading main.go")
	if !tr.tools["c1"].ShouldRender(100000) {
		t.Fatalf("executing tool must render")
	}
}

func TestToolsToRenderOrdersInProgressFirst(t *testing.T) {
	t.Parallel()

	tr := NewActivityTracker()
	tr.ToolCompleted("done-1", true, "Read complete", 100)
	tr.ToolStarted("live-1", "write_file", 101)

	visible := tr.ToolsToRender(110)
	if len(visible) != 2 {
		t.Fatalf("expected 2 visible, got %d", len(visible))
	}
	if !visible[0].InProgress() {
		t.Fatalf("in-progress must sort first")
	}

	// Past the fade window only the live tool remains.
	visible = tr.ToolsToRender(140)
	if len(visible) != 1 || !visible[0].InProgress() {
		t.Fatalf("faded success still listed: %d visible", len(visible))
	}
}

func TestSubagentFade(t *testing.T) {
	t.Parallel()

	tr := NewActivityTracker()
	tr.SubagentStarted("task-1", "Explore repo", 10)
	tr.SubagentProgress("task-1", "Reading files")
	tr.SubagentCompleted("task-1", true, "Done", 200)

	if !tr.subagents["task-1"].ShouldRender(229) {
		t.Fatalf("subagent success must render inside window")
	}
	if tr.subagents["task-1"].ShouldRender(230) {
		t.Fatalf("subagent success must fade after window")
	}
}
