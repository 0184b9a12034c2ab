// Package session tracks the binding between a live connection and the
// display name it announced at JOIN. The registry is a pure in-memory map;
// bindings live exactly as long as the connection.
package session

import "sync"

// Registry maps connection IDs to display names. It is goroutine-safe.
//
// Rebinding a connection overwrites the previous name (last write wins) and
// display names are not required to be unique across connections. Both are
// deliberate: the chat is anonymous-friendly and the surrounding product has
// no account-level identity to enforce.
type Registry struct {
	mu    sync.RWMutex
	names map[string]string // connection ID -> display name
}

// NewRegistry creates an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{
		names: make(map[string]string),
	}
}

// Bind records the display name for a connection. Called at JOIN; repeated
// calls with the same connection overwrite the name.
func (r *Registry) Bind(connID, displayName string) {
	r.mu.Lock()
	r.names[connID] = displayName
	r.mu.Unlock()
}

// Lookup returns the display name bound to a connection, if any.
func (r *Registry) Lookup(connID string) (string, bool) {
	r.mu.RLock()
	name, ok := r.names[connID]
	r.mu.RUnlock()
	return name, ok
}

// Unbind removes a connection's binding. Called on disconnect. Unbinding an
// unknown connection is a no-op.
func (r *Registry) Unbind(connID string) {
	r.mu.Lock()
	delete(r.names, connID)
	r.mu.Unlock()
}

// Count returns the number of bound connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.names)
	r.mu.RUnlock()
	return n
}
