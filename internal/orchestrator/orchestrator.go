// Package orchestrator coordinates connect, disconnect, and reconnect across
// many tool servers concurrently. It is the sole writer of the session
// registry and the owner of the ordering contract: within a reconnect the
// disconnect phase completes before the connect phase starts, and the
// consumer is notified synchronously before control returns to the caller.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/switchboard-ai/switchboard/internal/event"
	"github.com/switchboard-ai/switchboard/internal/logging"
	"github.com/switchboard-ai/switchboard/internal/notify"
	"github.com/switchboard-ai/switchboard/internal/prefs"
	"github.com/switchboard-ai/switchboard/internal/registry"
	"github.com/switchboard-ai/switchboard/internal/toolindex"
	"github.com/switchboard-ai/switchboard/internal/transport"
)

// ErrOperationNotFound reports a resolution miss on invoke. The owning
// server may be disabled or not yet connected; this is an expected result.
var ErrOperationNotFound = errors.New("operation not found")

// OutcomeStatus classifies one server's result within a batch.
type OutcomeStatus string

const (
	OutcomeOK      OutcomeStatus = "ok"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Outcome is the per-server result of a connect attempt.
type Outcome struct {
	ServerName string
	Status     OutcomeStatus
	Err        error
}

// BatchResult aggregates one orchestration cycle. It is order-independent:
// Succeeded+Failed always equals Attempted regardless of completion order.
type BatchResult struct {
	Attempted    int
	Succeeded    int
	Failed       int
	Disconnected int
	Outcomes     []Outcome
	// Connected holds the records live at the end of the cycle, with
	// fresh handles.
	Connected []registry.SessionRecord
}

// Options tune orchestrator policy.
type Options struct {
	// ConnectRetries is the number of additional open attempts after the
	// first, with exponential backoff. Zero means a single attempt.
	ConnectRetries uint64
	// DisconnectGrace is an optional delay between the disconnect and
	// connect phases of a reconnect, giving the remote side time to
	// finish deregistering the old session.
	DisconnectGrace time.Duration
}

// Orchestrator drives the connection lifecycle for a set of tool servers.
type Orchestrator struct {
	reg      *registry.Registry
	dialer   transport.Dialer
	bus      *event.Bus
	bridge   *prefs.Bridge
	index    *toolindex.Index
	notifier *notify.Notifier
	opts     Options
	log      zerolog.Logger

	// cycleMu serializes orchestration cycles so the phases of one
	// reconnect can never interleave with another batch.
	cycleMu sync.Mutex
}

// New wires an orchestrator over its collaborators. The registry, index,
// bridge, and notifier are owned by the caller and shared by reference;
// nothing here is process-global.
func New(reg *registry.Registry, dialer transport.Dialer, bus *event.Bus, bridge *prefs.Bridge, index *toolindex.Index, notifier *notify.Notifier, opts Options) *Orchestrator {
	return &Orchestrator{
		reg:      reg,
		dialer:   dialer,
		bus:      bus,
		bridge:   bridge,
		index:    index,
		notifier: notifier,
		opts:     opts,
		log:      logging.Component("orchestrator"),
	}
}

// Registry exposes the registry for read-side collaborators.
func (o *Orchestrator) Registry() *registry.Registry { return o.reg }

// Index exposes the resolution index.
func (o *Orchestrator) Index() *toolindex.Index { return o.index }

// Bridge exposes the preference bridge.
func (o *Orchestrator) Bridge() *prefs.Bridge { return o.bridge }

// eligible reports whether a config should be attempted by a connect batch:
// enabled in its config, enabled by preference, and not already Connecting
// or Connected.
func (o *Orchestrator) eligible(cfg transport.ServerConfig) bool {
	return cfg.Enabled && o.bridge.ServerEnabled(cfg.Name) && !o.reg.IsActive(cfg.Name)
}

// connectOne performs one guarded connect attempt. Failures of any kind,
// panics included, are folded into the outcome; nothing escapes past this
// boundary.
func (o *Orchestrator) connectOne(ctx context.Context, cfg transport.ServerConfig) (out Outcome) {
	out = Outcome{ServerName: cfg.Name, Status: OutcomeSkipped}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("connect panicked: %v", r)
			o.reg.FailConnect(cfg.Name, err)
			out = Outcome{ServerName: cfg.Name, Status: OutcomeFailed, Err: err}
		}
	}()

	if !o.reg.BeginConnect(cfg.Name) {
		return out
	}

	h, ops, err := o.open(ctx, cfg)
	if err != nil {
		o.reg.FailConnect(cfg.Name, err)
		o.log.Warn().Str("server", cfg.Name).Err(err).Msg("connect failed")
		return Outcome{ServerName: cfg.Name, Status: OutcomeFailed, Err: err}
	}

	if err := o.reg.CompleteConnect(cfg.Name, h, ops); err != nil {
		o.dialer.Close(h)
		o.reg.FailConnect(cfg.Name, err)
		return Outcome{ServerName: cfg.Name, Status: OutcomeFailed, Err: err}
	}

	o.log.Info().
		Str("server", cfg.Name).
		Str("session", h.ID()).
		Int("operations", len(ops)).
		Msg("connected")
	return Outcome{ServerName: cfg.Name, Status: OutcomeOK}
}

// open runs the transport open, with optional exponential-backoff retries.
func (o *Orchestrator) open(ctx context.Context, cfg transport.ServerConfig) (*transport.Handle, []transport.OperationDescriptor, error) {
	if o.opts.ConnectRetries == 0 {
		return o.dialer.Open(ctx, cfg)
	}

	var (
		h   *transport.Handle
		ops []transport.OperationDescriptor
	)
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), o.opts.ConnectRetries), ctx)
	err := backoff.Retry(func() error {
		var attemptErr error
		h, ops, attemptErr = o.dialer.Open(ctx, cfg)
		return attemptErr
	}, policy)
	if err != nil {
		return nil, nil, err
	}
	return h, ops, nil
}

// ConnectOne connects a single server and refreshes the derived views. The
// returned outcome is Skipped when the config is disabled or the record is
// already Connecting/Connected; calling it twice on a connected config is a
// no-op the second time.
func (o *Orchestrator) ConnectOne(ctx context.Context, cfg transport.ServerConfig) Outcome {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	if !o.eligible(cfg) {
		return Outcome{ServerName: cfg.Name, Status: OutcomeSkipped}
	}

	out := o.connectOne(ctx, cfg)
	o.finish()
	return out
}

// ConnectMany connects every eligible config concurrently. Each launch is
// isolated: one server's failure never blocks or aborts a sibling. The
// aggregate always satisfies Succeeded+Failed == Attempted.
func (o *Orchestrator) ConnectMany(ctx context.Context, cfgs []transport.ServerConfig) *BatchResult {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	result := o.connectPhase(ctx, cfgs)
	o.finish()
	o.publishCompletion(result)
	return result
}

// ReconnectMany tears down and re-establishes sessions. With disconnectFirst
// set, every currently-Connected record among cfgs is disconnected before
// any connect begins: the phases are serialized so two live handles for one
// server name can never coexist. Skipping disconnect-first risks silently
// reusing a handle the remote side already discarded.
func (o *Orchestrator) ReconnectMany(ctx context.Context, cfgs []transport.ServerConfig, disconnectFirst bool) *BatchResult {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	disconnected := 0
	if disconnectFirst {
		disconnected = o.disconnectPhase(cfgs)

		if o.opts.DisconnectGrace > 0 && disconnected > 0 {
			select {
			case <-time.After(o.opts.DisconnectGrace):
			case <-ctx.Done():
			}
		}
	}

	result := o.connectPhase(ctx, cfgs)
	result.Disconnected = disconnected
	o.finish()
	o.publishCompletion(result)
	return result
}

// DisconnectOne disconnects a single server. Best-effort: the local record
// always reaches Disconnected, even when the remote side is unreachable,
// and no error surfaces to the caller.
func (o *Orchestrator) DisconnectOne(name string) bool {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	closed := o.disconnectLocked(name)
	o.finish()
	return closed
}

// DisconnectAll disconnects every connected server and refreshes the
// derived views.
func (o *Orchestrator) DisconnectAll() int {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	connected := o.reg.Connected()
	total := len(connected)
	for i, rec := range connected {
		o.disconnectLocked(rec.ServerName)
		o.publishProgress(event.PhaseDisconnect, i+1, total, rec.ServerName, "ok", nil)
	}
	o.finish()
	o.publishCompletion(&BatchResult{Disconnected: total, Connected: o.reg.Connected()})
	return total
}

// Invoke resolves an operation by name and calls it on its owning session.
// Resolution happens per call, so after a reconnect the invocation always
// lands on the fresh session, never a superseded one.
func (o *Orchestrator) Invoke(ctx context.Context, operation string, args json.RawMessage) (string, error) {
	entry, ok := o.index.Resolve(operation)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrOperationNotFound, operation)
	}

	rec, ok := o.reg.Get(entry.ServerName)
	if !ok || rec.State != registry.StateConnected || rec.SessionID() != entry.SessionID {
		// The index lagged a registry change; treat like a miss.
		return "", fmt.Errorf("%w: %s", ErrOperationNotFound, operation)
	}

	return o.dialer.Invoke(ctx, rec.Handle, operation, args)
}

// connectPhase launches connectOne for every eligible config concurrently
// and aggregates the outcomes.
func (o *Orchestrator) connectPhase(ctx context.Context, cfgs []transport.ServerConfig) *BatchResult {
	var eligible []transport.ServerConfig
	for _, cfg := range cfgs {
		if o.eligible(cfg) {
			eligible = append(eligible, cfg)
		}
	}

	result := &BatchResult{Attempted: len(eligible)}
	outcomes := make([]Outcome, len(eligible))

	var wg sync.WaitGroup
	var done atomic.Int64
	total := len(eligible)

	for i, cfg := range eligible {
		wg.Add(1)
		go func(i int, cfg transport.ServerConfig) {
			defer wg.Done()
			out := o.connectOne(ctx, cfg)
			outcomes[i] = out
			o.publishProgress(event.PhaseConnect, int(done.Add(1)), total, cfg.Name, string(out.Status), out.Err)
		}(i, cfg)
	}
	wg.Wait()

	for _, out := range outcomes {
		result.Outcomes = append(result.Outcomes, out)
		switch out.Status {
		case OutcomeOK:
			result.Succeeded++
		case OutcomeFailed:
			result.Failed++
		}
	}

	result.Connected = o.reg.Connected()
	return result
}

// disconnectPhase disconnects every currently-Connected record among cfgs.
// Each disconnect is independently best-effort.
func (o *Orchestrator) disconnectPhase(cfgs []transport.ServerConfig) int {
	var names []string
	for _, cfg := range cfgs {
		if rec, ok := o.reg.Get(cfg.Name); ok && rec.State == registry.StateConnected {
			names = append(names, cfg.Name)
		}
	}

	total := len(names)
	for i, name := range names {
		o.disconnectLocked(name)
		o.publishProgress(event.PhaseDisconnect, i+1, total, name, "ok", nil)
	}
	return total
}

// disconnectLocked clears the local record first, then closes the handle.
// The registry stops reporting Connected before the close is even tried, so
// it never vouches for a handle the orchestrator can no longer trust.
func (o *Orchestrator) disconnectLocked(name string) bool {
	old := o.reg.Disconnect(name)
	if old == nil {
		return false
	}
	o.dialer.Close(old)
	o.log.Info().Str("server", name).Str("session", old.ID()).Msg("disconnected")
	return true
}

// finish refreshes every derived view in the required order: the bridge
// overlays saved enablement, the index rebuilds, and the notifier pushes
// the snapshot to the consumer, all before control returns to the caller.
func (o *Orchestrator) finish() {
	o.bridge.Apply(o.reg.Connected())
	o.index.Rebuild(o.reg.Snapshot())

	sum := o.index.Summarize()
	o.bus.PublishSync(event.Event{
		Type: event.OperationsUpdated,
		Data: event.OperationsUpdatedData{
			OperationCount: sum.TotalOperations,
			SessionCount:   o.reg.ConnectedCount(),
		},
	})

	o.notifier.Push()
}

func (o *Orchestrator) publishProgress(phase event.Phase, current, total int, server, status string, err error) {
	data := event.ProgressData{
		Phase:      phase,
		Current:    current,
		Total:      total,
		ServerName: server,
		Status:     status,
	}
	if err != nil {
		data.Error = err.Error()
	}
	o.bus.PublishSync(event.Event{Type: event.ConnectionProgress, Data: data})
}

func (o *Orchestrator) publishCompletion(result *BatchResult) {
	servers := make([]string, 0, len(result.Connected))
	for _, rec := range result.Connected {
		servers = append(servers, rec.ServerName)
	}
	o.bus.PublishSync(event.Event{
		Type: event.ConnectionCompleted,
		Data: event.CompletionData{
			Total:            result.Attempted,
			Succeeded:        result.Succeeded,
			Failed:           result.Failed,
			Disconnected:     result.Disconnected,
			ConnectedServers: servers,
		},
	})
}
