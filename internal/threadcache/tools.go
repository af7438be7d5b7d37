package threadcache

// recentSearchDepth bounds how far back completion signals look for their
// tool or subagent segment. Results can arrive after the owning message was
// finalized, so the live streaming message alone is not enough; a small
// window keeps the scan cheap while catching every realistic straggler.
const recentSearchDepth = 5

// StartToolInMessage adds a running tool segment to the current streaming
// message. Only start targets the streaming message; every later update
// searches recent messages by id instead.
func (c *Cache) StartToolInMessage(threadID string, toolCallID string, functionName string) {
	if m := c.lastStreaming(threadID); m != nil {
		m.StartToolEvent(toolCallID, functionName)
	}
}

// CompleteToolInMessage marks the matching tool segment complete, searching
// the most recent messages newest first. A miss is silently dropped.
func (c *Cache) CompleteToolInMessage(threadID string, toolCallID string) {
	if m := c.findRecentWithTool(threadID, toolCallID); m != nil {
		m.CompleteToolEvent(toolCallID)
	}
}

func (c *Cache) FailToolInMessage(threadID string, toolCallID string) {
	if m := c.findRecentWithTool(threadID, toolCallID); m != nil {
		m.FailToolEvent(toolCallID)
	}
}

func (c *Cache) SetToolResult(threadID string, toolCallID string, content string, isError bool) {
	if m := c.findRecentWithTool(threadID, toolCallID); m != nil {
		if ev := m.GetToolEvent(toolCallID); ev != nil {
			ev.SetResult(content, isError)
			m.invalidateRenderCache()
		}
	}
}

func (c *Cache) SetToolDisplayName(threadID string, toolCallID string, displayName string) {
	if m := c.findRecentWithTool(threadID, toolCallID); m != nil {
		m.SetToolDisplayName(toolCallID, displayName)
	}
}

func (c *Cache) AppendToolArgument(threadID string, toolCallID string, chunk string) {
	if m := c.findRecentWithTool(threadID, toolCallID); m != nil {
		m.AppendToolArgChunk(toolCallID, chunk)
	}
}

// StartSubagentInMessage adds a running subagent segment to the current
// streaming message.
func (c *Cache) StartSubagentInMessage(threadID string, taskID string, description string, subagentType string) {
	if m := c.lastStreaming(threadID); m != nil {
		m.StartSubagentEvent(taskID, description, subagentType)
	}
}

func (c *Cache) UpdateSubagentProgress(threadID string, taskID string, message string) {
	if m := c.findRecentWithSubagent(threadID, taskID); m != nil {
		m.UpdateSubagentProgress(taskID, message)
	}
}

func (c *Cache) CompleteSubagentInMessage(threadID string, taskID string, summary string, toolCallCount int) {
	if m := c.findRecentWithSubagent(threadID, taskID); m != nil {
		m.CompleteSubagentEvent(taskID, summary, toolCallCount)
	}
}

func (c *Cache) findRecentWithTool(threadID string, toolCallID string) *Message {
	msgs := c.messages[c.ResolveThreadID(threadID)]
	seen := 0
	for i := len(msgs) - 1; i >= 0 && seen < recentSearchDepth; i-- {
		seen++
		if msgs[i].GetToolEvent(toolCallID) != nil {
			return msgs[i]
		}
	}
	return nil
}

func (c *Cache) findRecentWithSubagent(threadID string, taskID string) *Message {
	msgs := c.messages[c.ResolveThreadID(threadID)]
	seen := 0
	for i := len(msgs) - 1; i >= 0 && seen < recentSearchDepth; i-- {
		seen++
		if msgs[i].GetSubagentEvent(taskID) != nil {
			return msgs[i]
		}
	}
	return nil
}
