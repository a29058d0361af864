// Package toolindex derives the operation-name to owning-session lookup from
// the session registry. The index holds no independent state: it is rebuilt
// wholesale on every registry change and safe to discard at any time.
package toolindex

import (
	"sort"
	"sync"

	"github.com/switchboard-ai/switchboard/internal/logging"
	"github.com/switchboard-ai/switchboard/internal/registry"
)

// Entry resolves an operation name to its owning server and session.
type Entry struct {
	ServerName string `json:"serverName"`
	SessionID  string `json:"sessionId"`
}

// Summary reports what the index currently covers.
type Summary struct {
	TotalOperations int            `json:"totalOperations"`
	PerSession      map[string]int `json:"perSession"`
	Servers         []string       `json:"servers"`
}

// Index is the resolution index. Rebuild replaces the whole mapping; there
// is no incremental patching.
type Index struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty index.
func New() *Index {
	return &Index{entries: make(map[string]Entry)}
}

// Rebuild replaces the index contents from a registry snapshot in one pass.
// Only Connected records contribute. On a cross-server name collision the
// later registration wins; that is a configuration issue, not a protocol
// fault, so it is logged rather than raised.
func (x *Index) Rebuild(records []registry.SessionRecord) {
	entries := make(map[string]Entry)

	for _, rec := range records {
		if rec.State != registry.StateConnected || rec.Handle == nil {
			continue
		}
		for _, op := range rec.Operations {
			if prev, ok := entries[op.Name]; ok && prev.ServerName != rec.ServerName {
				logging.Warn().
					Str("operation", op.Name).
					Str("previousServer", prev.ServerName).
					Str("winningServer", rec.ServerName).
					Msg("operation name collision, later registration wins")
			}
			entries[op.Name] = Entry{
				ServerName: rec.ServerName,
				SessionID:  rec.Handle.ID(),
			}
		}
	}

	x.mu.Lock()
	x.entries = entries
	x.mu.Unlock()
}

// Resolve looks up the owning session for an operation name. A miss is a
// normal negative result, e.g. the owning server is disabled or not yet
// connected.
func (x *Index) Resolve(operation string) (Entry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	entry, ok := x.entries[operation]
	return entry, ok
}

// Summarize reports the total operation count, per-session counts, and the
// contributing server names.
func (x *Index) Summarize() Summary {
	x.mu.RLock()
	defer x.mu.RUnlock()

	perSession := make(map[string]int)
	serverSet := make(map[string]bool)
	for _, entry := range x.entries {
		perSession[entry.SessionID]++
		serverSet[entry.ServerName] = true
	}

	servers := make([]string, 0, len(serverSet))
	for name := range serverSet {
		servers = append(servers, name)
	}
	sort.Strings(servers)

	return Summary{
		TotalOperations: len(x.entries),
		PerSession:      perSession,
		Servers:         servers,
	}
}

// Operations returns the indexed operation names, sorted.
func (x *Index) Operations() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	names := make([]string, 0, len(x.entries))
	for name := range x.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
