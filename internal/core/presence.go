package core

import "sync"

// Presence maps a user id to the single connection currently reachable for
// that user. It is process-local.
type Presence struct {
	mu      sync.RWMutex
	clients map[int64]*Client
}

// NewPresence creates an empty registry.
func NewPresence() *Presence {
	return &Presence{clients: make(map[int64]*Client)}
}

// Register makes c the reachable connection for c.UserID. The last
// registration wins; the displaced client, if any, is returned so the caller
// can close it.
func (p *Presence) Register(c *Client) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.clients[c.UserID]
	p.clients[c.UserID] = c
	if prev == c {
		return nil
	}
	return prev
}

// Unregister removes c only if it is still the registered connection for its
// user. A connection that was already displaced leaves the newer one alone.
func (p *Presence) Unregister(c *Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok := p.clients[c.UserID]
	if !ok || cur.ID != c.ID {
		return false
	}
	delete(p.clients, c.UserID)
	return true
}

// Lookup returns the live connection for userID.
func (p *Presence) Lookup(userID int64) (*Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	c, ok := p.clients[userID]
	return c, ok
}

// Count returns the number of reachable users.
func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}
