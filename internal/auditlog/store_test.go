package auditlog

import (
	"testing"
)

func TestAppendAndListNewestFirst(t *testing.T) {
	t.Parallel()

	s, err := New(Options{StateDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.Append(Entry{Action: "permission_allow", ThreadID: "t1", ToolName: "bash"})
	s.Append(Entry{Action: "permission_deny", ThreadID: "t1", ToolName: "write_file"})
	s.Append(Entry{Action: "permission_delivery", ThreadID: "t1", Outcome: "sent_via_primary"})

	entries, err := s.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Action != "permission_delivery" {
		t.Fatalf("expected newest first, got %q", entries[0].Action)
	}
	if entries[0].Status != "success" {
		t.Fatalf("empty status must default to success, got %q", entries[0].Status)
	}
	if entries[0].CreatedAt == "" {
		t.Fatal("CreatedAt not filled")
	}
}

func TestRotationKeepsRecentEntries(t *testing.T) {
	t.Parallel()

	s, err := New(Options{StateDir: t.TempDir(), MaxBytes: 256, MaxBackups: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 50; i++ {
		s.Append(Entry{Action: "permission_allow", ThreadID: "t1", ToolName: "bash"})
	}

	entries, err := s.List(20)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected entries to survive rotation")
	}
	for _, e := range entries {
		if e.Action != "permission_allow" {
			t.Fatalf("unexpected action %q", e.Action)
		}
	}
}

func TestListLimit(t *testing.T) {
	t.Parallel()

	s, err := New(Options{StateDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 5; i++ {
		s.Append(Entry{Action: "permission_deny"})
	}

	entries, err := s.List(2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}
