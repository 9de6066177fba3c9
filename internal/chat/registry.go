package chat

import (
	"log/slog"
	"sync"
)

// Registry tracks live connections, keyed by a unique connection handle. It
// is mutated only at connect/disconnect boundaries and is passed explicitly
// to the gateway rather than living as a package global.
type Registry struct {
	mu     sync.RWMutex
	nextID int64
	conns  map[int64]*Client
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[int64]*Client)}
}

// Register adds a connection and returns its handle.
func (r *Registry) Register(c *Client) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.conns[id] = c
	slog.Info("Chat connection registered", "conn_id", id, "user_id", c.identity.UserID)
	return id
}

// Unregister removes a connection. Stale unregisters for a reused handle are
// ignored.
func (r *Registry) Unregister(id int64, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.conns[id]; ok && current == c {
		delete(r.conns, id)
		slog.Info("Chat connection unregistered", "conn_id", id, "user_id", c.identity.UserID)
	}
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
