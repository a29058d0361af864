package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboard-ai/switchboard/internal/event"
	"github.com/switchboard-ai/switchboard/internal/notify"
	"github.com/switchboard-ai/switchboard/internal/prefs"
	"github.com/switchboard-ai/switchboard/internal/registry"
	"github.com/switchboard-ai/switchboard/internal/storage"
	"github.com/switchboard-ai/switchboard/internal/toolindex"
	"github.com/switchboard-ai/switchboard/internal/transport"
)

type fixture struct {
	orch   *Orchestrator
	reg    *registry.Registry
	dialer *transport.FakeDialer
	bus    *event.Bus
	bridge *prefs.Bridge
	index  *toolindex.Index
}

func newFixture(t *testing.T, servers map[string]*transport.FakeServer, opts Options) *fixture {
	t.Helper()

	reg := registry.New()
	dialer := transport.NewFakeDialer(servers)
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })
	bridge := prefs.NewBridge(storage.New(t.TempDir()), reg)
	index := toolindex.New()
	notifier := notify.New(reg)

	return &fixture{
		orch:   New(reg, dialer, bus, bridge, index, notifier, opts),
		reg:    reg,
		dialer: dialer,
		bus:    bus,
		bridge: bridge,
		index:  index,
	}
}

func cfg(name string) transport.ServerConfig {
	return transport.ServerConfig{Name: name, Kind: transport.KindStdio, Address: "srv", Enabled: true}
}

func weatherServers() map[string]*transport.FakeServer {
	return map[string]*transport.FakeServer{
		"weather": {
			Operations: []transport.OperationDescriptor{{Name: "fetchWeather"}},
			Results:    map[string]string{"fetchWeather": "sunny"},
		},
		"search": {
			Operations: []transport.OperationDescriptor{{Name: "search"}},
			Results:    map[string]string{"search": "results"},
		},
	}
}

func TestConnectManyAggregate(t *testing.T) {
	f := newFixture(t, map[string]*transport.FakeServer{
		"good":  {Operations: []transport.OperationDescriptor{{Name: "op"}}},
		"bad":   {OpenErr: errors.New("handshake rejected")},
		"worse": {OpenErr: errors.New("unreachable")},
	}, Options{})

	result := f.orch.ConnectMany(context.Background(), []transport.ServerConfig{
		cfg("good"), cfg("bad"), cfg("worse"),
	})

	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, result.Attempted, result.Succeeded+result.Failed)
	assert.Len(t, result.Outcomes, 3)
	require.Len(t, result.Connected, 1)
	assert.Equal(t, "good", result.Connected[0].ServerName)
}

func TestConnectManySkipsDisabledConfig(t *testing.T) {
	f := newFixture(t, weatherServers(), Options{})

	disabled := cfg("weather")
	disabled.Enabled = false

	result := f.orch.ConnectMany(context.Background(), []transport.ServerConfig{disabled, cfg("search")})

	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 0, f.dialer.OpenCount("weather"))
}

func TestConnectOneIdempotent(t *testing.T) {
	f := newFixture(t, weatherServers(), Options{})

	first := f.orch.ConnectOne(context.Background(), cfg("weather"))
	assert.Equal(t, OutcomeOK, first.Status)

	second := f.orch.ConnectOne(context.Background(), cfg("weather"))
	assert.Equal(t, OutcomeSkipped, second.Status)

	assert.Equal(t, 1, f.dialer.OpenCount("weather"))
	assert.Equal(t, 1, f.reg.ConnectedCount())
	rec, _ := f.reg.Get("weather")
	assert.Len(t, rec.Operations, 1, "no duplicate operations")
}

func TestConnectFailureMarksError(t *testing.T) {
	f := newFixture(t, map[string]*transport.FakeServer{
		"bad": {OpenErr: errors.New("handshake rejected")},
	}, Options{})

	out := f.orch.ConnectOne(context.Background(), cfg("bad"))
	assert.Equal(t, OutcomeFailed, out.Status)

	var openErr *transport.OpenError
	require.ErrorAs(t, out.Err, &openErr)
	assert.Equal(t, "bad", openErr.Server)

	rec, _ := f.reg.Get("bad")
	assert.Equal(t, registry.StateError, rec.State)
	assert.Contains(t, rec.LastError, "handshake rejected")

	// Error state exits via a fresh attempt.
	f.dialer.AddServer("bad", &transport.FakeServer{})
	out = f.orch.ConnectOne(context.Background(), cfg("bad"))
	assert.Equal(t, OutcomeOK, out.Status)
}

func TestReconnectHandleUniqueness(t *testing.T) {
	f := newFixture(t, weatherServers(), Options{})

	f.orch.ConnectMany(context.Background(), []transport.ServerConfig{cfg("weather")})
	h1 := f.dialer.LastHandle("weather")

	result := f.orch.ReconnectMany(context.Background(), []transport.ServerConfig{cfg("weather")}, true)
	require.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Disconnected)

	h2, _ := f.reg.Get("weather")
	assert.NotEqual(t, h1.ID(), h2.SessionID(), "reconnect must never reuse a handle")
	assert.True(t, h1.Invalidated())
	assert.Contains(t, f.dialer.ClosedHandles(), h1.ID())
}

func TestReconnectWithoutDisconnectFirst(t *testing.T) {
	f := newFixture(t, weatherServers(), Options{})

	f.orch.ConnectMany(context.Background(), []transport.ServerConfig{cfg("weather")})
	h1, _ := f.reg.Get("weather")

	// Connected record is not eligible, so nothing happens.
	result := f.orch.ReconnectMany(context.Background(), []transport.ServerConfig{cfg("weather")}, false)
	assert.Equal(t, 0, result.Attempted)
	assert.Equal(t, 0, result.Disconnected)

	h2, _ := f.reg.Get("weather")
	assert.Equal(t, h1.SessionID(), h2.SessionID())
}

func TestEnablementRoundTripAcrossReconnect(t *testing.T) {
	f := newFixture(t, weatherServers(), Options{})
	cfgs := []transport.ServerConfig{cfg("weather")}

	f.orch.ConnectMany(context.Background(), cfgs)
	oldID, _ := f.reg.Get("weather")

	require.NoError(t, f.bridge.SetOperationEnabled("weather", "fetchWeather", true))

	f.orch.ReconnectMany(context.Background(), cfgs, true)

	rec, _ := f.reg.Get("weather")
	assert.NotEqual(t, oldID.SessionID(), rec.SessionID())
	require.Len(t, rec.Operations, 1)
	assert.True(t, rec.Operations[0].Enabled, "enabled flag restored by name despite new session id")
}

func TestResolutionConsistencyAfterBatch(t *testing.T) {
	f := newFixture(t, weatherServers(), Options{})

	f.orch.ConnectMany(context.Background(), []transport.ServerConfig{cfg("weather"), cfg("search")})

	live := make(map[string]bool)
	for _, rec := range f.reg.Connected() {
		live[rec.SessionID()] = true
	}

	sum := f.index.Summarize()
	assert.Equal(t, 2, sum.TotalOperations)
	for _, name := range f.index.Operations() {
		entry, ok := f.index.Resolve(name)
		require.True(t, ok)
		assert.True(t, live[entry.SessionID], "%s resolves to a session not in the registry", name)
	}
}

// Scenario A: one server responds instantly, one times out; the fast one is
// not penalized.
func TestScenarioFastAndTimeout(t *testing.T) {
	f := newFixture(t, map[string]*transport.FakeServer{
		"fast": {Operations: []transport.OperationDescriptor{{Name: "op"}}},
		"slow": {OpenDelay: 5 * time.Second},
	}, Options{})

	slow := cfg("slow")
	slow.Timeout = 50 // ms

	start := time.Now()
	result := f.orch.ConnectMany(context.Background(), []transport.ServerConfig{cfg("fast"), slow})
	elapsed := time.Since(start)

	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Less(t, elapsed, 2*time.Second)

	var timedOut Outcome
	for _, out := range result.Outcomes {
		if out.ServerName == "slow" {
			timedOut = out
		}
	}
	require.Equal(t, OutcomeFailed, timedOut.Status)
	assert.ErrorIs(t, timedOut.Err, context.DeadlineExceeded)

	rec, _ := f.reg.Get("fast")
	assert.Equal(t, registry.StateConnected, rec.State)
}

// Scenario B: invocation after reconnect lands on the new session, never
// the pre-reconnect one.
func TestScenarioInvokeAfterReconnect(t *testing.T) {
	f := newFixture(t, weatherServers(), Options{})
	cfgs := []transport.ServerConfig{cfg("weather")}

	f.orch.ConnectMany(context.Background(), cfgs)
	oldHandle := f.dialer.LastHandle("weather")

	f.orch.ReconnectMany(context.Background(), cfgs, true)

	out, err := f.orch.Invoke(context.Background(), "fetchWeather", nil)
	require.NoError(t, err)
	assert.Equal(t, "sunny", out)

	entry, ok := f.index.Resolve("fetchWeather")
	require.True(t, ok)
	assert.NotEqual(t, oldHandle.ID(), entry.SessionID)
	assert.Equal(t, f.dialer.LastHandle("weather").ID(), entry.SessionID)

	// The stale handle itself is refused.
	_, err = f.dialer.Invoke(context.Background(), oldHandle, "fetchWeather", nil)
	var invErr *transport.InvokeError
	assert.ErrorAs(t, err, &invErr)
}

// Scenario C: a server disabled by persisted preference is skipped entirely
// and its operations vanish from the index.
func TestScenarioDisabledServerSkipped(t *testing.T) {
	f := newFixture(t, map[string]*transport.FakeServer{
		"alpha": {Operations: []transport.OperationDescriptor{{Name: "alphaOp"}}},
		"beta":  {Operations: []transport.OperationDescriptor{{Name: "betaOp"}}},
	}, Options{})
	cfgs := []transport.ServerConfig{cfg("alpha"), cfg("beta")}

	f.orch.ConnectMany(context.Background(), cfgs)
	require.Equal(t, 2, f.reg.ConnectedCount())

	require.NoError(t, f.bridge.SetServerEnabled("alpha", false))
	f.orch.DisconnectAll()
	opens := f.dialer.OpenCount("alpha")

	result := f.orch.ConnectMany(context.Background(), cfgs)

	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, opens, f.dialer.OpenCount("alpha"), "alpha must not even be dialed")

	_, ok := f.index.Resolve("alphaOp")
	assert.False(t, ok)
	_, ok = f.index.Resolve("betaOp")
	assert.True(t, ok)
}

// Scenario D: disconnecting an unreachable server still yields local state
// Disconnected with nothing surfacing to the caller.
func TestScenarioDisconnectUnreachable(t *testing.T) {
	f := newFixture(t, weatherServers(), Options{})

	f.orch.ConnectMany(context.Background(), []transport.ServerConfig{cfg("weather")})

	// Simulate the remote side going away: the dialer no longer knows the
	// server, so Close has nothing remote to talk to.
	f.dialer.AddServer("weather", &transport.FakeServer{OpenErr: errors.New("unreachable")})

	assert.NotPanics(t, func() {
		assert.True(t, f.orch.DisconnectOne("weather"))
	})

	rec, _ := f.reg.Get("weather")
	assert.Equal(t, registry.StateDisconnected, rec.State)
	assert.Nil(t, rec.Handle)
}

func TestProgressAndCompletionEvents(t *testing.T) {
	f := newFixture(t, map[string]*transport.FakeServer{
		"good": {Operations: []transport.OperationDescriptor{{Name: "op"}}},
		"bad":  {OpenErr: errors.New("boom")},
	}, Options{})

	var mu sync.Mutex
	var progress []event.ProgressData
	var completions []event.CompletionData

	f.bus.Subscribe(event.ConnectionProgress, func(e event.Event) {
		mu.Lock()
		progress = append(progress, e.Data.(event.ProgressData))
		mu.Unlock()
	})
	f.bus.Subscribe(event.ConnectionCompleted, func(e event.Event) {
		mu.Lock()
		completions = append(completions, e.Data.(event.CompletionData))
		mu.Unlock()
	})

	f.orch.ConnectMany(context.Background(), []transport.ServerConfig{cfg("good"), cfg("bad")})

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, progress, 2, "one progress event per server per phase")
	for _, p := range progress {
		assert.Equal(t, event.PhaseConnect, p.Phase)
		assert.Equal(t, 2, p.Total)
		if p.ServerName == "bad" {
			assert.Equal(t, "failed", p.Status)
			assert.Contains(t, p.Error, "boom")
		}
	}

	require.Len(t, completions, 1, "exactly one completion summary")
	assert.Equal(t, 2, completions[0].Total)
	assert.Equal(t, 1, completions[0].Succeeded)
	assert.Equal(t, 1, completions[0].Failed)
	assert.Equal(t, []string{"good"}, completions[0].ConnectedServers)
}

func TestConsumerNotifiedBeforeReturn(t *testing.T) {
	f := newFixture(t, weatherServers(), Options{})

	c := &captureConsumer{}
	notifier := notify.New(f.reg)
	notifier.Register(c)

	orch := New(f.reg, f.dialer, f.bus, f.bridge, f.index, notifier, Options{})
	orch.ConnectMany(context.Background(), []transport.ServerConfig{cfg("weather")})

	// No synchronization needed: the push happened before ConnectMany
	// returned.
	ops, sessions := c.view()
	require.Len(t, sessions, 1)
	assert.Equal(t, "weather", sessions[0].ServerName)
	require.Len(t, ops, 1)
	assert.Equal(t, "fetchWeather", ops[0].Name)
}

func TestInvokeMissIsNormal(t *testing.T) {
	f := newFixture(t, weatherServers(), Options{})

	_, err := f.orch.Invoke(context.Background(), "noSuchOp", nil)
	assert.ErrorIs(t, err, ErrOperationNotFound)
}

func TestConnectRetries(t *testing.T) {
	f := newFixture(t, map[string]*transport.FakeServer{
		"flaky": {OpenErr: errors.New("unreachable")},
	}, Options{ConnectRetries: 2})

	out := f.orch.ConnectOne(context.Background(), cfg("flaky"))
	assert.Equal(t, OutcomeFailed, out.Status)
	assert.Equal(t, 3, f.dialer.OpenCount("flaky"), "initial attempt plus two retries")
}

type captureConsumer struct {
	mu       sync.Mutex
	ops      []transport.OperationDescriptor
	sessions []registry.SessionRecord
}

func (c *captureConsumer) UpdateAvailableOperations(ops []transport.OperationDescriptor, sessions []registry.SessionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = ops
	c.sessions = sessions
}

func (c *captureConsumer) view() ([]transport.OperationDescriptor, []registry.SessionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ops, c.sessions
}
