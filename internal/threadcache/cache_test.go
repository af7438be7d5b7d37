package threadcache

import (
	"testing"
	"time"
)

func strptr(s string) *string { return &s }

func TestCreatePendingThreadSeedsMessages(t *testing.T) {
	t.Parallel()

	c := New()
	id := c.CreatePendingThread("Hello there", ThreadTypeConversation, "")

	th := c.GetThread(id)
	if th == nil {
		t.Fatalf("thread not found")
	}
	if th.Title != "Hello there" {
		t.Fatalf("unexpected title %q", th.Title)
	}

	msgs := c.GetMessages(id)
	if len(msgs) != 2 {
		t.Fatalf("expected user + assistant placeholder, got %d messages", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].ID != 1 || msgs[0].Content != "Hello there" {
		t.Fatalf("unexpected user message %+v", msgs[0])
	}
	if msgs[1].Role != RoleAssistant || msgs[1].ID != 0 || !msgs[1].IsStreaming {
		t.Fatalf("unexpected assistant placeholder %+v", msgs[1])
	}
}

func TestCreatePendingThreadTruncatesTitle(t *testing.T) {
	t.Parallel()

	c := New()
	long := "This is a very long first message that should be truncated for the title"
	id := c.CreatePendingThread(long, ThreadTypeConversation, "")

	th := c.GetThread(id)
	if len(th.Title) > 40 {
		t.Fatalf("title too long: %q (%d bytes)", th.Title, len(th.Title))
	}
	if th.Title[len(th.Title)-3:] != "..." {
		t.Fatalf("expected ellipsis suffix, got %q", th.Title)
	}
	if th.Preview != long {
		t.Fatalf("preview must keep the full message")
	}
}

func TestReconcileMovesThreadAndMessages(t *testing.T) {
	t.Parallel()

	c := New()
	pending := c.CreatePendingThread("Hello", ThreadTypeConversation, "")
	c.AppendToMessage(pending, "Response")

	c.ReconcileThreadID(pending, "real-backend-id", nil)

	if got := c.ResolveThreadID(pending); got != "real-backend-id" {
		t.Fatalf("resolve(%q) = %q", pending, got)
	}
	msgs := c.GetMessages("real-backend-id")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages after move, got %d", len(msgs))
	}
	for _, m := range msgs {
		if m.ThreadID != "real-backend-id" {
			t.Fatalf("message still keyed to %q", m.ThreadID)
		}
	}
	for _, th := range c.Threads() {
		if th.ID == pending {
			t.Fatalf("pending id still listed")
		}
	}
}

func TestReconcileIdempotent(t *testing.T) {
	t.Parallel()

	c := New()
	pending := c.CreatePendingThread("Hello", ThreadTypeConversation, "")
	c.AppendToMessage(pending, "partial")

	c.ReconcileThreadID(pending, "real-id", strptr("Server Title"))
	first := len(c.GetMessages("real-id"))
	c.ReconcileThreadID(pending, "real-id", strptr("Server Title"))

	if got := len(c.GetMessages("real-id")); got != first {
		t.Fatalf("message count changed on duplicate reconcile: %d -> %d", first, got)
	}
	if got := c.ResolveThreadID(pending); got != "real-id" {
		t.Fatalf("resolve(%q) = %q", pending, got)
	}
	if c.ThreadCount() != 1 {
		t.Fatalf("expected exactly one thread, got %d", c.ThreadCount())
	}
}

func TestReconcileSameIDUpdatesTitleOnly(t *testing.T) {
	t.Parallel()

	c := New()
	id := c.CreatePendingThread("Hello", ThreadTypeConversation, "")
	c.ReconcileThreadID(id, id, strptr("Updated Title"))

	if got := c.GetThread(id).Title; got != "Updated Title" {
		t.Fatalf("title = %q", got)
	}
	if got := c.ResolveThreadID(id); got != id {
		t.Fatalf("self-reconcile must not install a redirect, got %q", got)
	}
}

func TestTokensRedirectedAfterReconciliation(t *testing.T) {
	t.Parallel()

	c := New()
	pending := c.CreatePendingThread("Hello", ThreadTypeConversation, "")
	c.ReconcileThreadID(pending, "real-id", nil)

	// Late tokens still addressed to the pending id must land.
	c.AppendToMessage(pending, "after reconcile")

	msgs := c.GetMessages("real-id")
	if msgs[1].PartialContent != "after reconcile" {
		t.Fatalf("token lost after reconciliation: %q", msgs[1].PartialContent)
	}
}

func TestUpdateThreadMetadataQueuesForUnknownThread(t *testing.T) {
	t.Parallel()

	c := New()
	if c.UpdateThreadMetadata("future-id", strptr("Queued Title"), strptr("Queued desc")) {
		t.Fatalf("update for unknown thread must report queued, not applied")
	}

	c.UpsertThread(&Thread{ID: "future-id", Title: "placeholder"})
	c.ApplyPendingTitleUpdates("future-id")

	th := c.GetThread("future-id")
	if th.Title != "Queued Title" || th.Description != "Queued desc" {
		t.Fatalf("queued update not applied: %+v", th)
	}

	// A second apply must not re-deliver.
	th.Title = "changed since"
	c.ApplyPendingTitleUpdates("future-id")
	if th.Title != "changed since" {
		t.Fatalf("queued update applied twice")
	}
}

func TestQueuedMetadataAppliedOnReconcile(t *testing.T) {
	t.Parallel()

	c := New()
	pending := c.CreatePendingThread("Hello", ThreadTypeConversation, "")

	// Title arrives addressed to the real id before reconciliation.
	if c.UpdateThreadMetadata("real-id", strptr("Early Title"), nil) {
		t.Fatalf("expected queue, thread does not exist yet")
	}

	c.ReconcileThreadID(pending, "real-id", nil)

	if got := c.GetThread("real-id").Title; got != "Early Title" {
		t.Fatalf("queued title not applied on reconcile: %q", got)
	}
}

func TestUpdateThreadMetadataInPlace(t *testing.T) {
	t.Parallel()

	c := New()
	id := c.CreatePendingThread("Hello", ThreadTypeConversation, "")
	if !c.UpdateThreadMetadata(id, strptr("New"), nil) {
		t.Fatalf("expected in-place update")
	}
	th := c.GetThread(id)
	if th.Title != "New" || th.Description != "" {
		t.Fatalf("partial update wrong: %+v", th)
	}
}

func TestThreadsMRUOrderAndEviction(t *testing.T) {
	t.Parallel()

	c := New()
	base := time.Now()
	c.now = func() time.Time { return base }

	first := c.CreatePendingThread("first", ThreadTypeConversation, "")
	second := c.CreatePendingThread("second", ThreadTypeConversation, "")

	threads := c.Threads()
	if threads[0].ID != second || threads[1].ID != first {
		t.Fatalf("expected MRU order, got %v then %v", threads[0].ID, threads[1].ID)
	}

	c.TouchThread(first)
	if got := c.Threads()[0].ID; got != first {
		t.Fatalf("touch must move thread to front, got %v", got)
	}

	// Idle past the timeout: second disappears, first was just touched.
	c.now = func() time.Time { return base.Add(evictionTimeout + time.Minute) }
	c.TouchThread(first)
	visible := c.Threads()
	if len(visible) != 1 || visible[0].ID != first {
		t.Fatalf("expected only touched thread to survive, got %d", len(visible))
	}
}

func TestErrorFocusNavigation(t *testing.T) {
	t.Parallel()

	c := New()
	id := c.CreatePendingThread("Hello", ThreadTypeConversation, "")
	c.AddErrorSimple(id, "e1", "first")
	c.AddErrorSimple(id, "e2", "second")
	c.AddErrorSimple(id, "e3", "third")

	if c.ErrorCount(id) != 3 {
		t.Fatalf("expected 3 errors")
	}

	c.FocusNextError(id)
	c.FocusNextError(id)
	c.FocusNextError(id)
	if c.FocusedErrorIndex() != 0 {
		t.Fatalf("next must wrap, index %d", c.FocusedErrorIndex())
	}
	c.FocusPrevError(id)
	if c.FocusedErrorIndex() != 2 {
		t.Fatalf("prev must wrap, index %d", c.FocusedErrorIndex())
	}

	if !c.DismissFocusedError(id) {
		t.Fatalf("dismiss focused failed")
	}
	if c.FocusedErrorIndex() != 1 {
		t.Fatalf("index not clamped after dismiss: %d", c.FocusedErrorIndex())
	}
	if c.ErrorCount(id) != 2 {
		t.Fatalf("expected 2 errors left")
	}
}

func TestErrorsFollowRedirect(t *testing.T) {
	t.Parallel()

	c := New()
	pending := c.CreatePendingThread("Hello", ThreadTypeConversation, "")
	c.AddErrorSimple(pending, "boom", "before reconcile")
	c.ReconcileThreadID(pending, "real-id", nil)
	c.AddErrorSimple(pending, "boom2", "after reconcile")

	if got := c.ErrorCount("real-id"); got != 2 {
		t.Fatalf("expected both errors under real id, got %d", got)
	}
	if got := c.ErrorCount(pending); got != 2 {
		t.Fatalf("pending alias must keep reading, got %d", got)
	}
}

func TestClearKeepsRedirects(t *testing.T) {
	t.Parallel()

	c := New()
	pending := c.CreatePendingThread("Hello", ThreadTypeConversation, "")
	c.ReconcileThreadID(pending, "real-id", nil)

	c.Clear()

	if c.ThreadCount() != 0 {
		t.Fatalf("threads not cleared")
	}
	if got := c.ResolveThreadID(pending); got != "real-id" {
		t.Fatalf("redirect lost on clear: %q", got)
	}
}
