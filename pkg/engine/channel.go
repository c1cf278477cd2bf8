package engine

import (
	"strings"
	"sync"
)

// Channel is the live status sink of one running task.
//
// A Channel has a single writer, the task which owns it, and any number of
// readers (the runner's display). Readers always observe a consistent prefix
// of the entries written so far.
type Channel struct {
	mu      sync.RWMutex
	title   string
	entries []string
}

// NewChannel creates a channel with a title and an initial entry.
func NewChannel(title, first string) *Channel {
	c := &Channel{title: title}
	if first != "" {
		c.entries = []string{first}
	}
	return c
}

// Title returns the current title.
func (c *Channel) Title() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.title
}

// SetTitle changes the title, e.g. once the canonical name of an entity is known.
func (c *Channel) SetTitle(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.title = title
}

// Append adds an entry after all prior entries.
func (c *Channel) Append(entry string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

// Replace discards prior entries so that entry is the only one.
func (c *Channel) Replace(entry string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = []string{entry}
}

// Render returns a copy of the ordered entries.
func (c *Channel) Render() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.entries))
	copy(out, c.entries)
	return out
}

// Last returns the most recent entry, or "" if there is none.
func (c *Channel) Last() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.entries) == 0 {
		return ""
	}
	return c.entries[len(c.entries)-1]
}

// String joins all entries with newlines.
func (c *Channel) String() string {
	return strings.Join(c.Render(), "\n")
}
