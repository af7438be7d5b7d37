package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/overturehq/overture-cli/internal/config"
	"github.com/overturehq/overture-cli/internal/threadcache"
)

func newTestApp(t *testing.T, serverURL string) *App {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	a, err := New(Options{
		Config: &config.Config{
			ServerBaseURL:  serverURL,
			WSHost:         "127.0.0.1:1",
			PermissionMode: "ask",
			HistoryPath:    filepath.Join(t.TempDir(), "history.db"),
			LogFormat:      "text",
			LogLevel:       "error",
		},
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.loop.Start()
	t.Cleanup(func() {
		a.loop.Stop()
		_ = a.store.Close()
	})
	return a
}

func TestSendPromptConsumesStreamAndPersists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/stream" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: thread_info\n")
		fmt.Fprint(w, "data: {\"thread_id\":\"real-1\",\"title\":\"Greetings\"}\n\n")
		fmt.Fprint(w, "data: {\"text\":\"Hello \"}\n\n")
		fmt.Fprint(w, "data: {\"text\":\"there\"}\n\n")
		fmt.Fprint(w, "event: message_info\n")
		fmt.Fprint(w, "data: {\"message_id\":7}\n\n")
		fmt.Fprint(w, "event: done\n")
		fmt.Fprint(w, "data: {}\n\n")
	}))
	defer srv.Close()

	a := newTestApp(t, srv.URL)

	pendingID, err := a.SendPrompt(context.Background(), "", "say hello")
	if err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		var (
			realID  string
			content string
			done    bool
		)
		a.loop.Do(func(c *threadcache.Cache) {
			realID = c.ResolveThreadID(pendingID)
			for _, m := range c.GetMessages(pendingID) {
				if m.ID == 7 {
					content = m.Content
					done = true
				}
			}
		})
		if done {
			if realID != "real-1" {
				t.Fatalf("thread id = %q, want real-1", realID)
			}
			if content != "Hello there" {
				t.Fatalf("content = %q", content)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stream never finalized")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The transcript lands in local history after the stream ends.
	deadline = time.Now().Add(5 * time.Second)
	for {
		msgs, err := a.store.ListMessages(context.Background(), "real-1")
		if err != nil {
			t.Fatalf("ListMessages: %v", err)
		}
		if len(msgs) >= 2 {
			if msgs[0].Role != "user" || msgs[0].Content != "say hello" {
				t.Fatalf("unexpected first message: %+v", msgs[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("history never written, have %d messages", len(msgs))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSendPromptRejectsConcurrentStreamOnSameThread(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"text\":\"working\"}\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	a := newTestApp(t, srv.URL)

	threadID, err := a.SendPrompt(context.Background(), "", "first")
	if err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}

	if _, err := a.SendPrompt(context.Background(), threadID, "second"); err == nil {
		t.Fatal("expected error for already-streaming thread")
	}

	// The rejected prompt must leave no trace in the thread.
	var contents []string
	a.loop.Do(func(c *threadcache.Cache) {
		for _, m := range c.GetMessages(threadID) {
			contents = append(contents, m.Content)
		}
	})
	if len(contents) != 2 {
		t.Fatalf("expected 2 messages after rejection, got %d", len(contents))
	}
	for _, c := range contents {
		if c == "second" {
			t.Fatal("rejected prompt left a message behind")
		}
	}
}

func TestSendPromptFollowUpAfterThreadIDReconciled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/stream" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		if calls.Add(1) == 1 {
			fmt.Fprint(w, "event: thread_info\n")
			fmt.Fprint(w, "data: {\"thread_id\":\"real-7\",\"title\":\"Chat\"}\n\n")
			fmt.Fprint(w, "data: {\"text\":\"first answer\"}\n\n")
		} else {
			fmt.Fprint(w, "data: {\"text\":\"second answer\"}\n\n")
		}
		fmt.Fprint(w, "event: done\n")
		fmt.Fprint(w, "data: {}\n\n")
	}))
	defer srv.Close()

	a := newTestApp(t, srv.URL)

	pendingID, err := a.SendPrompt(context.Background(), "", "first")
	if err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}

	// Wait for the id to reconcile and the first stream to wind down.
	deadline := time.Now().Add(5 * time.Second)
	for {
		var resolved string
		a.loop.Do(func(c *threadcache.Cache) {
			resolved = c.ResolveThreadID(pendingID)
		})
		a.mu.Lock()
		idle := len(a.streams) == 0
		a.mu.Unlock()
		if resolved == "real-7" && idle {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first stream never reconciled and finished")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The old pending id must keep working as a handle for follow-ups.
	if _, err := a.SendPrompt(context.Background(), pendingID, "again"); err != nil {
		t.Fatalf("follow-up on reconciled thread: %v", err)
	}

	deadline = time.Now().Add(5 * time.Second)
	for {
		var seen bool
		a.loop.Do(func(c *threadcache.Cache) {
			for _, m := range c.GetMessages("real-7") {
				if m.Content == "again" {
					seen = true
				}
			}
		})
		if seen {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("follow-up message never landed under the real id")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRefreshAndOpenThreadParseWireTimestamps(t *testing.T) {
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	created := time.Date(2026, 3, 1, 11, 58, 30, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/threads":
			fmt.Fprintf(w, `{"threads":[{"id":"t1","name":"Chat","updated_at":%q}],"total":1}`, updated.Format(time.RFC3339))
		case "/v1/threads/t1":
			fmt.Fprintf(w, `{"id":"t1","name":"Chat","messages":[{"id":1,"role":"user","content":"hi","created_at":%q},{"id":2,"role":"assistant","content":"hello","created_at":"not-a-time"}]}`, created.Format(time.RFC3339))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := newTestApp(t, srv.URL)
	ctx := context.Background()

	if err := a.RefreshThreads(ctx); err != nil {
		t.Fatalf("RefreshThreads: %v", err)
	}
	var threadUpdated time.Time
	a.loop.Do(func(c *threadcache.Cache) {
		if th := c.GetThread("t1"); th != nil {
			threadUpdated = th.UpdatedAt
		}
	})
	if !threadUpdated.Equal(updated) {
		t.Fatalf("thread UpdatedAt = %v, want %v", threadUpdated, updated)
	}

	if err := a.OpenThread(ctx, "t1"); err != nil {
		t.Fatalf("OpenThread: %v", err)
	}
	var stamps []time.Time
	a.loop.Do(func(c *threadcache.Cache) {
		for _, m := range c.GetMessages("t1") {
			stamps = append(stamps, m.CreatedAt)
		}
	})
	if len(stamps) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(stamps))
	}
	if !stamps[0].Equal(created) {
		t.Fatalf("message CreatedAt = %v, want %v", stamps[0], created)
	}
	// Malformed timestamps degrade to the zero time instead of failing.
	if !stamps[1].IsZero() {
		t.Fatalf("malformed created_at parsed as %v, want zero", stamps[1])
	}
}

func TestSendPromptEmptyPrompt(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	a := newTestApp(t, srv.URL)
	if _, err := a.SendPrompt(context.Background(), "", "   "); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}
