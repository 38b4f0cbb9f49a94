// Package memory implements an in-process channel for tests.
package memory

import (
	"context"
	"sync"
)

// Channel records every sent message.
type Channel struct {
	name string

	mu   sync.Mutex
	sent []string
	err  error
}

// New creates a memory channel with the given name.
func New(name string) *Channel {
	return &Channel{name: name}
}

// Name identifies the channel.
func (c *Channel) Name() string { return c.name }

// Send records the text, or fails with the configured error.
func (c *Channel) Send(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, text)
	return nil
}

// Sent returns a copy of everything delivered so far.
func (c *Channel) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// Fail makes subsequent sends return err.
func (c *Channel) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}
