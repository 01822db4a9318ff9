package core

import (
	"sync"

	"github.com/google/uuid"
)

const defaultEventBuffer = 16

// Client is one live connection of a user as seen by the core layer.
type Client struct {
	ID     string
	UserID int64
	Name   string
	Events chan *Event

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a client with a fresh connection id and a bounded event queue.
func NewClient(userID int64, name string, buffer int) *Client {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   name,
		Events: make(chan *Event, buffer),
		done:   make(chan struct{}),
	}
}

// Kick signals the connection owning this client to shut down. Safe to call
// more than once.
func (c *Client) Kick() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed once the client has been kicked.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
