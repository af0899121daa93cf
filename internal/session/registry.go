// Package session tracks the players that have completed login. It is the
// single place the online count and capacity limit are enforced.
package session

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrFull is returned by TryRegister when the registry is at capacity.
	ErrFull = errors.New("session registry is full")
	// ErrAlreadyConnected is returned when the UUID already has a live session.
	ErrAlreadyConnected = errors.New("player is already connected")
)

// Handle lets the registry signal a connection it does not own.
type Handle interface {
	// Disconnect asks the connection to close with reason. It must not block.
	Disconnect(reason string)
	// Closed reports whether the connection has terminated.
	Closed() bool
}

// Entry is a registered player.
type Entry struct {
	UUID     uuid.UUID `json:"uuid"`
	Name     string    `json:"name"`
	ConnID   uint64    `json:"conn_id"`
	Remote   string    `json:"remote"`
	JoinedAt time.Time `json:"joined_at"`

	handle Handle
}

// Registry maps player UUIDs to live sessions and enforces the player cap.
type Registry struct {
	mu      sync.RWMutex
	max     int
	entries map[uuid.UUID]*Entry
}

// NewRegistry creates a registry admitting at most max players.
func NewRegistry(max int) *Registry {
	return &Registry{
		max:     max,
		entries: make(map[uuid.UUID]*Entry),
	}
}

// TryRegister admits e if there is room and its UUID is not already present.
// The check and the insert happen under one lock so concurrent logins can
// never push the count past the cap.
func (r *Registry) TryRegister(e Entry, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[e.UUID]; exists {
		return ErrAlreadyConnected
	}
	if len(r.entries) >= r.max {
		return ErrFull
	}
	if e.JoinedAt.IsZero() {
		e.JoinedAt = time.Now()
	}
	e.handle = h
	r.entries[e.UUID] = &e
	return nil
}

// Unregister removes the session for id if it belongs to connID. Repeated
// calls are no-ops. It reports whether an entry was removed.
func (r *Registry) Unregister(id uuid.UUID, connID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.ConnID != connID {
		return false
	}
	delete(r.entries, id)
	return true
}

// Count returns the number of registered players.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Max returns the player cap.
func (r *Registry) Max() int {
	return r.max
}

// Get returns the entry for id.
func (r *Registry) Get(id uuid.UUID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Lookup finds a player by UUID string or case-insensitive name.
func (r *Registry) Lookup(key string) (Entry, bool) {
	if id, err := uuid.Parse(key); err == nil {
		return r.Get(id)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if strings.EqualFold(e.Name, key) {
			return *e, true
		}
	}
	return Entry{}, false
}

// Snapshot returns all entries ordered by join time.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// Kick asks the connection behind id to disconnect. The entry is removed by
// the connection itself when it terminates.
func (r *Registry) Kick(id uuid.UUID, reason string) bool {
	r.mu.RLock()
	e, ok := r.entries[id]
	var h Handle
	if ok {
		h = e.handle
	}
	r.mu.RUnlock()

	if h == nil {
		return false
	}
	h.Disconnect(reason)
	return true
}

// DisconnectAll asks every registered connection to close.
func (r *Registry) DisconnectAll(reason string) {
	r.mu.RLock()
	handles := make([]Handle, 0, len(r.entries))
	for _, e := range r.entries {
		if e.handle != nil {
			handles = append(handles, e.handle)
		}
	}
	r.mu.RUnlock()

	for _, h := range handles {
		h.Disconnect(reason)
	}
}

// Sweep removes entries whose connection has already terminated and returns
// them. Connections unregister themselves; this catches any that did not.
func (r *Registry) Sweep() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Entry
	for id, e := range r.entries {
		if e.handle != nil && e.handle.Closed() {
			removed = append(removed, *e)
			delete(r.entries, id)
		}
	}
	return removed
}
