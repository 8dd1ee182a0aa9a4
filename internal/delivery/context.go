// Package delivery turns inbound push payloads into shown notifications,
// inbox entries and page broadcasts, exactly once per push.
package delivery

import "sync"

// Context is the per-activation worker state: constructed once when the
// worker comes up, valid until it terminates, and threaded through every
// event handler instead of living in package-level variables.
type Context struct {
	HWID         string
	DefaultTitle string

	mu      sync.Mutex
	clicked map[string]bool
}

// NewContext builds the worker context for one activation.
func NewContext(hwid, defaultTitle string) *Context {
	return &Context{
		HWID:         hwid,
		DefaultTitle: defaultTitle,
		clicked:      make(map[string]bool),
	}
}

// RecordClick remembers that the notification with code was clicked, so the
// following close event can be told apart from a user dismissal.
func (c *Context) RecordClick(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clicked[code] = true
}

// TakeClick reports and consumes a recorded click for code.
func (c *Context) TakeClick(code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	clicked := c.clicked[code]
	delete(c.clicked, code)
	return clicked
}
