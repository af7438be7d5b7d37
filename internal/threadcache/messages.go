package threadcache

// GetMessages returns the messages of a thread in order, resolving redirects.
// A nil return means the thread has no message list, which is not an error.
func (c *Cache) GetMessages(threadID string) []*Message {
	return c.messages[c.ResolveThreadID(threadID)]
}

// AddMessage appends a message to its thread's list.
func (c *Cache) AddMessage(m *Message) {
	if m == nil || m.ThreadID == "" {
		return
	}
	c.messages[m.ThreadID] = append(c.messages[m.ThreadID], m)
}

// AddMessageSimple appends a plain finalized message with the next local id.
func (c *Cache) AddMessageSimple(threadID string, role MessageRole, content string) {
	id := int64(len(c.messages[threadID]) + 1)
	c.AddMessage(&Message{
		ID:                 id,
		ThreadID:           threadID,
		Role:               role,
		Content:            content,
		ReasoningCollapsed: true,
		CreatedAt:          c.now(),
	})
}

// SetMessages replaces a thread's message list with the backend's view,
// preserving local messages the backend does not know about yet: anything
// still streaming, still unassigned (id 0), or with an id above the highest
// backend id. Without the merge, a history refresh racing an active stream
// would wipe the message being written.
func (c *Cache) SetMessages(threadID string, messages []*Message) {
	if existing, ok := c.messages[threadID]; ok {
		var maxBackendID int64
		for _, m := range messages {
			if m.ID > maxBackendID {
				maxBackendID = m.ID
			}
		}
		var local []*Message
		for _, m := range existing {
			if m.IsStreaming || m.ID == 0 || m.ID > maxBackendID {
				local = append(local, m)
			}
		}
		if len(local) > 0 {
			c.messages[threadID] = append(messages, local...)
			return
		}
	}
	c.messages[threadID] = messages
}

// AddStreamingMessage starts a follow-up exchange on an existing thread: the
// user message plus a fresh streaming assistant slot. Returns false when the
// thread does not exist.
func (c *Cache) AddStreamingMessage(threadID string, userContent string) bool {
	th, ok := c.threads[threadID]
	if !ok {
		return false
	}
	now := c.now()
	nextID := int64(len(c.messages[threadID]) + 1)

	c.AddMessage(&Message{
		ID:                 nextID,
		ThreadID:           threadID,
		Role:               RoleUser,
		Content:            userContent,
		ReasoningCollapsed: true,
		CreatedAt:          now,
	})
	c.AddMessage(&Message{
		ID:          0,
		ThreadID:    threadID,
		Role:        RoleAssistant,
		IsStreaming: true,
		CreatedAt:   now,
	})

	th.Preview = userContent
	th.UpdatedAt = now
	c.moveToFront(threadID)
	return true
}

// AppendToMessage appends a streaming token to the thread's last streaming
// message. No-op when nothing is streaming.
func (c *Cache) AppendToMessage(threadID string, token string) {
	if m := c.lastStreaming(threadID); m != nil {
		m.AppendToken(token)
	}
}

// AppendReasoningToMessage appends a reasoning token to the thread's last
// streaming message.
func (c *Cache) AppendReasoningToMessage(threadID string, token string) {
	if m := c.lastStreaming(threadID); m != nil {
		m.AppendReasoningToken(token)
	}
}

func (c *Cache) IsThreadStreaming(threadID string) bool {
	for _, m := range c.messages[c.ResolveThreadID(threadID)] {
		if m.IsStreaming {
			return true
		}
	}
	return false
}

// FinalizeMessage assigns the backend message id to the streaming message
// and freezes it.
func (c *Cache) FinalizeMessage(threadID string, messageID int64) {
	if m := c.lastStreaming(threadID); m != nil {
		m.ID = messageID
		m.Finalize()
	}
}

// FinalizeStreaming freezes the streaming message without touching its id,
// for streams that end without ever announcing one.
func (c *Cache) FinalizeStreaming(threadID string) {
	if m := c.lastStreaming(threadID); m != nil {
		m.Finalize()
	}
}

// CancelStreamingMessage ends streaming without a backend id; the partial
// text is kept and marked cancelled.
func (c *Cache) CancelStreamingMessage(threadID string) {
	m := c.lastStreaming(threadID)
	if m == nil {
		return
	}
	m.IsStreaming = false
	if m.ID == 0 {
		m.ID = -1
	}
	switch {
	case m.PartialContent != "":
		m.Content = m.PartialContent + "\n\n[Cancelled]"
		m.PartialContent = ""
	case m.Content != "":
		m.Content += "\n\n[Cancelled]"
	default:
		m.Content = "[Cancelled]"
	}
	m.invalidateRenderCache()
}

// ToggleMessageReasoning toggles the reasoning fold of the message at the
// given index, returning false when there is no reasoning to show.
func (c *Cache) ToggleMessageReasoning(threadID string, messageIndex int) bool {
	msgs := c.messages[c.ResolveThreadID(threadID)]
	if messageIndex < 0 || messageIndex >= len(msgs) {
		return false
	}
	m := msgs[messageIndex]
	if m.ReasoningContent == "" {
		return false
	}
	m.ToggleReasoningCollapsed()
	return true
}

func (c *Cache) FindLastReasoningMessageIndex(threadID string) (int, bool) {
	msgs := c.messages[c.ResolveThreadID(threadID)]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAssistant && msgs[i].ReasoningContent != "" {
			return i, true
		}
	}
	return 0, false
}

func (c *Cache) lastStreaming(threadID string) *Message {
	msgs := c.messages[c.ResolveThreadID(threadID)]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsStreaming {
			return msgs[i]
		}
	}
	return nil
}
