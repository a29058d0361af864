// Package notify pushes registry changes to the downstream invoking
// consumer. The primary path is synchronous: the orchestrator pushes a
// fresh snapshot before returning control to its caller, so the consumer
// can never act on a session id that has just been superseded. A
// low-frequency background reconciliation exists purely as a safety net.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/switchboard-ai/switchboard/internal/logging"
	"github.com/switchboard-ai/switchboard/internal/registry"
	"github.com/switchboard-ai/switchboard/internal/transport"
)

// Consumer receives the operation/session snapshot. Implementations must
// replace their previous view wholesale on every call.
type Consumer interface {
	UpdateAvailableOperations(ops []transport.OperationDescriptor, sessions []registry.SessionRecord)
}

// Notifier fans snapshots out to registered consumers.
type Notifier struct {
	mu        sync.RWMutex
	consumers []Consumer
	reg       *registry.Registry
}

// New creates a notifier over the given registry.
func New(reg *registry.Registry) *Notifier {
	return &Notifier{reg: reg}
}

// Register adds a consumer and immediately pushes the current snapshot to
// it so it never starts from a stale view.
func (n *Notifier) Register(c Consumer) {
	n.mu.Lock()
	n.consumers = append(n.consumers, c)
	n.mu.Unlock()

	ops, sessions := n.snapshot()
	c.UpdateAvailableOperations(ops, sessions)
}

// Push delivers the current snapshot to every consumer synchronously, in
// the caller's goroutine.
func (n *Notifier) Push() {
	ops, sessions := n.snapshot()

	n.mu.RLock()
	consumers := make([]Consumer, len(n.consumers))
	copy(consumers, n.consumers)
	n.mu.RUnlock()

	for _, c := range consumers {
		c.UpdateAvailableOperations(ops, sessions)
	}
}

// RunReconciler periodically re-pushes the snapshot until the context is
// cancelled. It is not the primary synchronization path; it only papers
// over a missed notification.
func (n *Notifier) RunReconciler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := logging.Component("notify")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Debug().Msg("periodic reconciliation push")
			n.Push()
		}
	}
}

func (n *Notifier) snapshot() ([]transport.OperationDescriptor, []registry.SessionRecord) {
	sessions := n.reg.Connected()

	var ops []transport.OperationDescriptor
	for _, rec := range sessions {
		ops = append(ops, rec.Operations...)
	}
	return ops, sessions
}
