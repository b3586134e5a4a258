// Package server coordinates connection registration, message broadcast, and
// pruning of failed peers through the Registry type.
package server

import (
	"sort"
	"sync"
)

// Entry is a registered connection and its display name.
type Entry struct {
	Conn     *Conn
	Username string
}

type registration struct {
	username string
	seq      uint64
}

// Registry is the single source of truth for who is connected. All methods are
// safe for concurrent use.
type Registry struct {
	mutex   sync.RWMutex
	entries map[*Conn]registration
	nextSeq uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[*Conn]registration),
	}
}

// Register inserts conn, or renames it if already present. A renamed entry keeps
// its original position in iteration order.
func (r *Registry) Register(conn *Conn, username string) {
	if conn == nil {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if existing, ok := r.entries[conn]; ok {
		existing.username = username
		r.entries[conn] = existing
		return
	}
	r.nextSeq++
	r.entries[conn] = registration{username: username, seq: r.nextSeq}
}

// Remove deletes conn and reports whether this call removed it. Of several
// concurrent calls for the same conn, exactly one returns true.
func (r *Registry) Remove(conn *Conn) (string, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	reg, ok := r.entries[conn]
	if !ok {
		return "", false
	}
	delete(r.entries, conn)
	return reg.username, true
}

// Unregister deletes conn and returns its username, or UnknownUser if it was
// not registered.
func (r *Registry) Unregister(conn *Conn) string {
	if username, ok := r.Remove(conn); ok {
		return username
	}
	return UnknownUser
}

// Lookup returns the username registered for conn.
func (r *Registry) Lookup(conn *Conn) (string, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	reg, ok := r.entries[conn]
	return reg.username, ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.entries)
}

// Snapshot returns a point-in-time copy of all entries in registration order.
func (r *Registry) Snapshot() []Entry {
	r.mutex.RLock()
	type ordered struct {
		Entry
		seq uint64
	}
	list := make([]ordered, 0, len(r.entries))
	for conn, reg := range r.entries {
		list = append(list, ordered{Entry{Conn: conn, Username: reg.username}, reg.seq})
	}
	r.mutex.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })

	entries := make([]Entry, len(list))
	for i := range list {
		entries[i] = list[i].Entry
	}
	return entries
}

// Usernames returns the registered usernames in registration order.
func (r *Registry) Usernames() []string {
	snapshot := r.Snapshot()
	names := make([]string, len(snapshot))
	for i, e := range snapshot {
		names[i] = e.Username
	}
	return names
}

// Find returns the first entry, in registration order, whose username or
// remote IP equals target exactly.
func (r *Registry) Find(target string) (Entry, bool) {
	for _, e := range r.Snapshot() {
		if e.Username == target || e.Conn.RemoteIP() == target {
			return e, true
		}
	}
	return Entry{}, false
}

// CloseAll removes every entry and closes its connection.
func (r *Registry) CloseAll() int {
	r.mutex.Lock()
	conns := make([]*Conn, 0, len(r.entries))
	for conn := range r.entries {
		conns = append(conns, conn)
	}
	r.entries = make(map[*Conn]registration)
	r.mutex.Unlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil && !isExpectedCloseError(err) {
			conn.logger().Warnf("Error closing connection: %v", err)
		}
	}
	return len(conns)
}
