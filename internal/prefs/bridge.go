// Package prefs reconciles persisted enablement preferences with freshly
// discovered operations. Preferences are advisory input only: they never
// decide whether a session exists, only whether servers and operations are
// offered to the invoking consumer.
package prefs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/switchboard-ai/switchboard/internal/logging"
	"github.com/switchboard-ai/switchboard/internal/registry"
	"github.com/switchboard-ai/switchboard/internal/storage"
)

var (
	serversKey    = []string{"connection", "enabledServers"}
	operationsKey = []string{"connection", "enabledOperations"}
)

// Bridge reads and writes the persisted preference blob and overlays stored
// enablement onto in-memory records. It performs no network or session work.
type Bridge struct {
	store *storage.Store
	reg   *registry.Registry
	mu    sync.Mutex
}

// NewBridge creates a bridge over the given blob store and registry.
func NewBridge(store *storage.Store, reg *registry.Registry) *Bridge {
	return &Bridge{store: store, reg: reg}
}

// operationKey builds the composite "server.operation" preference key.
func operationKey(server, operation string) string {
	return server + "." + operation
}

// load reads one preference map. A missing blob yields an empty map; a
// corrupt blob is non-fatal and also yields an empty map, i.e. everything
// falls back to disabled.
func (b *Bridge) load(key []string) map[string]bool {
	prefs := make(map[string]bool)
	if err := b.store.Get(key, &prefs); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logging.Warn().Err(err).Strs("key", key).Msg("preference blob unreadable, falling back to no preferences")
		}
		return make(map[string]bool)
	}
	return prefs
}

// ServerEnabled reports whether a server is enabled by preference. Servers
// with no stored preference default to enabled; the config's own flag still
// applies on top.
func (b *Bridge) ServerEnabled(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	prefs := b.load(serversKey)
	enabled, ok := prefs[name]
	if !ok {
		return true
	}
	return enabled
}

// SetServerEnabled persists a server toggle. The write goes through
// immediately so a crash between toggle and reconnection never loses
// intent.
func (b *Bridge) SetServerEnabled(name string, enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	prefs := b.load(serversKey)
	prefs[name] = enabled
	if err := b.store.Put(serversKey, prefs); err != nil {
		return fmt.Errorf("persist server preference: %w", err)
	}
	return nil
}

// SetOperationEnabled persists an operation toggle and applies it to the
// live record when one is connected.
func (b *Bridge) SetOperationEnabled(server, operation string, enabled bool) error {
	b.mu.Lock()
	prefs := b.load(operationsKey)
	prefs[operationKey(server, operation)] = enabled
	err := b.store.Put(operationsKey, prefs)
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("persist operation preference: %w", err)
	}

	b.reg.SetOperationEnabled(server, operation, enabled)
	return nil
}

// OperationEnabled reports the stored preference for one operation.
// Operations with no stored preference default to disabled.
func (b *Bridge) OperationEnabled(server, operation string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load(operationsKey)[operationKey(server, operation)]
}

// Apply overlays stored enablement onto the newly discovered operations of
// the given records. Operations without a stored preference stay disabled.
func (b *Bridge) Apply(records []registry.SessionRecord) {
	b.mu.Lock()
	prefs := b.load(operationsKey)
	b.mu.Unlock()

	for _, rec := range records {
		if rec.State != registry.StateConnected {
			continue
		}
		for _, op := range rec.Operations {
			if prefs[operationKey(rec.ServerName, op.Name)] {
				b.reg.SetOperationEnabled(rec.ServerName, op.Name, true)
			}
		}
	}
}
