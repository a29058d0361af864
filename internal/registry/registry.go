// Package registry holds the in-memory session registry: one record per
// server name, each owning at most one live session handle. The registry is
// the only mutable shared structure in the subsystem; the orchestrator
// writes it, the index and preference bridge read it.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/switchboard-ai/switchboard/internal/transport"
)

// State is the lifecycle state of a session record.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// SessionRecord tracks one server's session. The handle is exclusively
// owned: it is never shared with or cached by another record.
type SessionRecord struct {
	ServerName string
	Handle     *transport.Handle
	State      State
	LastError  string
	Operations []transport.OperationDescriptor
}

// SessionID returns the current handle id, or "" when no session is live.
func (r SessionRecord) SessionID() string {
	return r.Handle.ID()
}

// Registry is the session registry. All methods are safe for concurrent
// use; per-record transitions are serialized by the registry lock.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*SessionRecord
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{records: make(map[string]*SessionRecord)}
}

// BeginConnect moves a record into Connecting. A record is created
// Disconnected on first appearance. Returns false if the record is already
// Connecting or Connected: duplicate connect requests are rejected
// idempotently.
func (g *Registry) BeginConnect(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[name]
	if !ok {
		rec = &SessionRecord{ServerName: name, State: StateDisconnected}
		g.records[name] = rec
	}

	switch rec.State {
	case StateConnecting, StateConnected:
		return false
	}

	rec.State = StateConnecting
	rec.LastError = ""
	return true
}

// CompleteConnect installs a fresh handle and operation list on a record in
// Connecting. It enforces handle uniqueness across the registry: no two
// records may ever reference the same handle.
func (g *Registry) CompleteConnect(name string, h *transport.Handle, ops []transport.OperationDescriptor) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[name]
	if !ok || rec.State != StateConnecting {
		return fmt.Errorf("complete connect %s: record not in connecting state", name)
	}

	for other, existing := range g.records {
		if other != name && existing.Handle != nil && existing.Handle.ID() == h.ID() {
			return fmt.Errorf("complete connect %s: handle %s already owned by %s", name, h.ID(), other)
		}
	}

	stored := make([]transport.OperationDescriptor, len(ops))
	copy(stored, ops)
	for i := range stored {
		stored[i].ServerName = name
		stored[i].Enabled = false
	}

	rec.Handle = h
	rec.Operations = stored
	rec.State = StateConnected
	rec.LastError = ""
	return nil
}

// FailConnect moves a record to Error and records the cause.
func (g *Registry) FailConnect(name string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[name]
	if !ok {
		return
	}
	rec.State = StateError
	rec.Handle = nil
	rec.Operations = nil
	if err != nil {
		rec.LastError = err.Error()
	}
}

// Disconnect clears a record's handle and operations and moves it to
// Disconnected, returning the old handle for the caller to close. The old
// handle is invalidated before it is handed back, so the record reaches
// Disconnected before any new Connecting attempt for the name can be
// accepted and no invoker can race onto the stale session.
func (g *Registry) Disconnect(name string) *transport.Handle {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[name]
	if !ok {
		return nil
	}

	old := rec.Handle
	old.Invalidate()
	rec.Handle = nil
	rec.Operations = nil
	rec.State = StateDisconnected
	rec.LastError = ""
	return old
}

// Remove deletes a record entirely, returning its handle if one was live.
func (g *Registry) Remove(name string) *transport.Handle {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[name]
	if !ok {
		return nil
	}
	delete(g.records, name)
	rec.Handle.Invalidate()
	return rec.Handle
}

// Get returns a copy of a record.
func (g *Registry) Get(name string) (SessionRecord, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, ok := g.records[name]
	if !ok {
		return SessionRecord{}, false
	}
	return copyRecord(rec), true
}

// IsActive reports whether a record is Connecting or Connected.
func (g *Registry) IsActive(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, ok := g.records[name]
	return ok && (rec.State == StateConnecting || rec.State == StateConnected)
}

// Snapshot returns copies of all records, ordered by server name.
func (g *Registry) Snapshot() []SessionRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]SessionRecord, 0, len(g.records))
	for _, rec := range g.records {
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerName < out[j].ServerName })
	return out
}

// Connected returns copies of all records currently Connected.
func (g *Registry) Connected() []SessionRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []SessionRecord
	for _, rec := range g.records {
		if rec.State == StateConnected {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerName < out[j].ServerName })
	return out
}

// ConnectedCount returns the number of Connected records.
func (g *Registry) ConnectedCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	count := 0
	for _, rec := range g.records {
		if rec.State == StateConnected {
			count++
		}
	}
	return count
}

// SetOperationEnabled flips an operation's enablement flag. The flag can
// only be true while the owning record is Connected.
func (g *Registry) SetOperationEnabled(server, operation string, enabled bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.records[server]
	if !ok || rec.State != StateConnected {
		return false
	}
	for i := range rec.Operations {
		if rec.Operations[i].Name == operation {
			rec.Operations[i].Enabled = enabled
			return true
		}
	}
	return false
}

func copyRecord(rec *SessionRecord) SessionRecord {
	out := *rec
	out.Operations = make([]transport.OperationDescriptor, len(rec.Operations))
	copy(out.Operations, rec.Operations)
	return out
}
