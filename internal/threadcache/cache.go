package threadcache

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// evictionTimeout is how long an untouched thread stays visible.
const evictionTimeout = 30 * time.Minute

type pendingMetadata struct {
	title       *string
	description *string
}

// Cache owns the client-side view of threads, their messages, their errors
// and the pending-to-real id redirect table. It is mutated by exactly one
// goroutine (the event loop) and therefore carries no lock; readers take
// snapshots between loop iterations.
type Cache struct {
	threads     map[string]*Thread
	messages    map[string][]*Message
	threadOrder []string

	// pendingToReal redirects client-generated thread ids to the ids the
	// backend assigned. Entries are never removed: an old pending id stays a
	// valid alias for the life of the process. Chains never form because a
	// pending id is always pointed directly at the current real id.
	pendingToReal map[string]string

	// pendingMeta queues metadata updates for thread ids the cache has not
	// seen yet, keyed by the unresolved id.
	pendingMeta map[string]pendingMetadata

	errors            map[string][]ErrorInfo
	focusedErrorIndex int

	lastAccessed map[string]time.Time

	now func() time.Time
}

func New() *Cache {
	return &Cache{
		threads:       make(map[string]*Thread),
		messages:      make(map[string][]*Message),
		pendingToReal: make(map[string]string),
		pendingMeta:   make(map[string]pendingMetadata),
		errors:        make(map[string][]ErrorInfo),
		lastAccessed:  make(map[string]time.Time),
		now:           time.Now,
	}
}

// Clear drops everything except the redirect table, which must survive so
// stale ids held elsewhere keep resolving.
func (c *Cache) Clear() {
	c.threads = make(map[string]*Thread)
	c.messages = make(map[string][]*Message)
	c.threadOrder = nil
	c.pendingMeta = make(map[string]pendingMetadata)
	c.errors = make(map[string][]ErrorInfo)
	c.focusedErrorIndex = 0
	c.lastAccessed = make(map[string]time.Time)
}

// Threads returns threads in most-recently-used order, skipping threads idle
// past the eviction timeout.
func (c *Cache) Threads() []*Thread {
	now := c.now()
	out := make([]*Thread, 0, len(c.threadOrder))
	for _, id := range c.threadOrder {
		if last, ok := c.lastAccessed[id]; ok && now.Sub(last) > evictionTimeout {
			continue
		}
		if th, ok := c.threads[id]; ok {
			out = append(out, th)
		}
	}
	return out
}

func (c *Cache) ThreadCount() int {
	return len(c.threads)
}

// GetThread resolves redirects before lookup, so pending ids keep working
// after reconciliation.
func (c *Cache) GetThread(threadID string) *Thread {
	return c.threads[c.ResolveThreadID(threadID)]
}

// TouchThread marks a thread as just used: refreshes its eviction clock and
// moves it to the front of the MRU order.
func (c *Cache) TouchThread(threadID string) {
	id := c.ResolveThreadID(threadID)
	if _, ok := c.threads[id]; !ok {
		return
	}
	c.lastAccessed[id] = c.now()
	c.moveToFront(id)
}

// UpsertThread inserts or replaces a thread and moves it to the MRU front.
func (c *Cache) UpsertThread(thread *Thread) {
	if thread == nil || thread.ID == "" {
		return
	}
	c.moveToFront(thread.ID)
	c.lastAccessed[thread.ID] = c.now()
	c.threads[thread.ID] = thread
}

// CreatePendingThread creates a locally-optimistic thread keyed by a fresh
// client-generated id, seeded with the user's first message and an empty
// streaming assistant slot. The id is reconciled to the backend's real id
// once the stream announces it.
func (c *Cache) CreatePendingThread(firstMessage string, threadType ThreadType, workingDirectory string) string {
	threadID := uuid.NewString()
	now := c.now()

	c.UpsertThread(&Thread{
		ID:               threadID,
		Title:            truncateTitle(firstMessage),
		Preview:          firstMessage,
		Type:             threadType,
		WorkingDirectory: workingDirectory,
		CreatedAt:        now,
		UpdatedAt:        now,
	})

	c.AddMessage(&Message{
		ID:                 1,
		ThreadID:           threadID,
		Role:               RoleUser,
		Content:            firstMessage,
		ReasoningCollapsed: true,
		CreatedAt:          now,
	})

	// Placeholder assistant message; id 0 until the backend assigns one.
	// Reasoning stays expanded while streaming.
	c.AddMessage(&Message{
		ID:          0,
		ThreadID:    threadID,
		Role:        RoleAssistant,
		IsStreaming: true,
		CreatedAt:   now,
	})

	return threadID
}

// UpdateThreadMetadata applies a title/description update in place and
// returns true. If the thread is unknown the update is queued under the
// unresolved id and false is returned; false means "queued, not applied",
// not failure.
func (c *Cache) UpdateThreadMetadata(threadID string, title *string, description *string) bool {
	resolved := c.ResolveThreadID(threadID)
	th, ok := c.threads[resolved]
	if !ok {
		c.pendingMeta[threadID] = pendingMetadata{title: title, description: description}
		return false
	}
	if title != nil {
		th.Title = *title
	}
	if description != nil {
		th.Description = *description
	}
	return true
}

// SetThreadTodos replaces the thread's todo list snapshot.
func (c *Cache) SetThreadTodos(threadID string, todos json.RawMessage) {
	if th := c.GetThread(threadID); th != nil {
		th.Todos = todos
	}
}

// SetThreadUsage records the latest context window usage for the thread.
func (c *Cache) SetThreadUsage(threadID string, used int, limit int) {
	if th := c.GetThread(threadID); th != nil {
		th.ContextWindowUsed = used
		th.ContextWindowLimit = limit
	}
}

// ApplyPendingTitleUpdates drains any queued metadata update for the given
// id (or an alias of it) into the thread. Each queued update applies exactly
// once.
func (c *Cache) ApplyPendingTitleUpdates(threadID string) {
	resolved := c.ResolveThreadID(threadID)
	th, ok := c.threads[resolved]
	if !ok {
		return
	}
	for _, key := range c.aliasesOf(resolved) {
		if upd, ok := c.pendingMeta[key]; ok {
			if upd.title != nil {
				th.Title = *upd.title
			}
			if upd.description != nil {
				th.Description = *upd.description
			}
			delete(c.pendingMeta, key)
		}
	}
}

// aliasesOf lists every id that resolves to the given real id, itself
// included.
func (c *Cache) aliasesOf(realID string) []string {
	keys := []string{realID}
	for pending, real := range c.pendingToReal {
		if real == realID && pending != realID {
			keys = append(keys, pending)
		}
	}
	return keys
}

func (c *Cache) moveToFront(threadID string) {
	for i, id := range c.threadOrder {
		if id == threadID {
			c.threadOrder = append(c.threadOrder[:i], c.threadOrder[i+1:]...)
			break
		}
	}
	c.threadOrder = append([]string{threadID}, c.threadOrder...)
}
