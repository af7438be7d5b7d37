package threadcache

// ResolveThreadID follows at most one redirect hop. Unknown ids pass through
// unchanged.
func (c *Cache) ResolveThreadID(threadID string) string {
	if real, ok := c.pendingToReal[threadID]; ok {
		return real
	}
	return threadID
}

// ReconcileThreadID replaces a pending thread id with the backend-assigned
// real id, moving the thread, its messages and its errors under the new key
// and installing a redirect so the old id keeps resolving. Reconciling the
// same pair twice is safe: when the real id already exists the move is
// skipped, but the redirect is still installed. Queued metadata updates for
// either id are applied afterwards.
func (c *Cache) ReconcileThreadID(pendingID string, realID string, title *string) {
	if pendingID == "" || realID == "" {
		return
	}
	if pendingID == realID {
		if title != nil {
			if th, ok := c.threads[pendingID]; ok {
				th.Title = *title
			}
		}
		c.ApplyPendingTitleUpdates(realID)
		return
	}

	if _, exists := c.threads[realID]; !exists {
		if th, ok := c.threads[pendingID]; ok {
			delete(c.threads, pendingID)
			th.ID = realID
			if title != nil {
				th.Title = *title
			}
			c.threads[realID] = th
		}

		// Patch the MRU order in place rather than re-sorting.
		for i, id := range c.threadOrder {
			if id == pendingID {
				c.threadOrder[i] = realID
				break
			}
		}

		if msgs, ok := c.messages[pendingID]; ok {
			delete(c.messages, pendingID)
			for _, m := range msgs {
				m.ThreadID = realID
			}
			c.messages[realID] = msgs
		}

		if errs, ok := c.errors[pendingID]; ok {
			delete(c.errors, pendingID)
			c.errors[realID] = errs
		}

		if last, ok := c.lastAccessed[pendingID]; ok {
			delete(c.lastAccessed, pendingID)
			c.lastAccessed[realID] = last
		}
	} else if title != nil {
		c.threads[realID].Title = *title
	}

	c.pendingToReal[pendingID] = realID
	c.ApplyPendingTitleUpdates(realID)
}
