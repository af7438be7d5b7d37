package threadcache

// AddError attaches an error to a thread, resolving redirects.
func (c *Cache) AddError(threadID string, e ErrorInfo) {
	resolved := c.ResolveThreadID(threadID)
	c.errors[resolved] = append(c.errors[resolved], e)
}

func (c *Cache) AddErrorSimple(threadID string, errorCode string, message string) {
	c.AddError(threadID, NewErrorInfo(errorCode, message))
}

// GetErrors returns a thread's errors in insertion order, or nil.
func (c *Cache) GetErrors(threadID string) []ErrorInfo {
	return c.errors[c.ResolveThreadID(threadID)]
}

func (c *Cache) ErrorCount(threadID string) int {
	return len(c.GetErrors(threadID))
}

// DismissError removes an error by id, keeping the focused index in range.
func (c *Cache) DismissError(threadID string, errorID string) bool {
	resolved := c.ResolveThreadID(threadID)
	errs, ok := c.errors[resolved]
	if !ok {
		return false
	}
	kept := errs[:0]
	for _, e := range errs {
		if e.ID != errorID {
			kept = append(kept, e)
		}
	}
	removed := len(kept) < len(errs)
	c.errors[resolved] = kept
	if removed && c.focusedErrorIndex >= len(kept) && len(kept) > 0 {
		c.focusedErrorIndex = len(kept) - 1
	}
	return removed
}

// DismissFocusedError removes the currently focused error.
func (c *Cache) DismissFocusedError(threadID string) bool {
	resolved := c.ResolveThreadID(threadID)
	errs, ok := c.errors[resolved]
	if !ok || c.focusedErrorIndex >= len(errs) {
		return false
	}
	c.errors[resolved] = append(errs[:c.focusedErrorIndex], errs[c.focusedErrorIndex+1:]...)
	if n := len(c.errors[resolved]); c.focusedErrorIndex >= n && n > 0 {
		c.focusedErrorIndex = n - 1
	}
	return true
}

func (c *Cache) ClearErrors(threadID string) {
	delete(c.errors, c.ResolveThreadID(threadID))
	c.focusedErrorIndex = 0
}

func (c *Cache) FocusedErrorIndex() int {
	return c.focusedErrorIndex
}

func (c *Cache) FocusNextError(threadID string) {
	if count := c.ErrorCount(threadID); count > 0 {
		c.focusedErrorIndex = (c.focusedErrorIndex + 1) % count
	}
}

func (c *Cache) FocusPrevError(threadID string) {
	count := c.ErrorCount(threadID)
	if count == 0 {
		return
	}
	if c.focusedErrorIndex == 0 {
		c.focusedErrorIndex = count - 1
	} else {
		c.focusedErrorIndex--
	}
}
