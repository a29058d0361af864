package prefs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboard-ai/switchboard/internal/registry"
	"github.com/switchboard-ai/switchboard/internal/storage"
	"github.com/switchboard-ai/switchboard/internal/transport"
)

func connect(t *testing.T, reg *registry.Registry, d *transport.FakeDialer, name string) {
	t.Helper()
	h, ops, err := d.Open(context.Background(), transport.ServerConfig{Name: name})
	require.NoError(t, err)
	require.True(t, reg.BeginConnect(name))
	require.NoError(t, reg.CompleteConnect(name, h, ops))
}

func newFixture(t *testing.T) (*Bridge, *registry.Registry, *transport.FakeDialer) {
	t.Helper()
	reg := registry.New()
	d := transport.NewFakeDialer(map[string]*transport.FakeServer{
		"weather": {Operations: []transport.OperationDescriptor{
			{Name: "fetchWeather"},
			{Name: "fetchForecast"},
		}},
	})
	return NewBridge(storage.New(t.TempDir()), reg), reg, d
}

func TestServerEnabledDefaultsTrue(t *testing.T) {
	b, _, _ := newFixture(t)
	assert.True(t, b.ServerEnabled("weather"))
}

func TestSetServerEnabledWritesThrough(t *testing.T) {
	b, _, _ := newFixture(t)

	require.NoError(t, b.SetServerEnabled("weather", false))
	assert.False(t, b.ServerEnabled("weather"))

	require.NoError(t, b.SetServerEnabled("weather", true))
	assert.True(t, b.ServerEnabled("weather"))
}

func TestOperationDefaultsDisabled(t *testing.T) {
	b, reg, d := newFixture(t)
	connect(t, reg, d, "weather")

	b.Apply(reg.Connected())

	rec, _ := reg.Get("weather")
	for _, op := range rec.Operations {
		assert.False(t, op.Enabled, "operation %s should stay disabled without a stored preference", op.Name)
	}
}

func TestApplyOverlaysStoredPreference(t *testing.T) {
	b, reg, d := newFixture(t)
	connect(t, reg, d, "weather")

	require.NoError(t, b.SetOperationEnabled("weather", "fetchWeather", true))

	rec, _ := reg.Get("weather")
	assert.True(t, rec.Operations[0].Enabled, "toggle applies to the live record immediately")

	// Reconnect: new session, flags reset, Apply restores them by name.
	reg.Disconnect("weather")
	connect(t, reg, d, "weather")

	rec, _ = reg.Get("weather")
	assert.False(t, rec.Operations[0].Enabled)

	b.Apply(reg.Connected())

	rec, _ = reg.Get("weather")
	assert.True(t, rec.Operations[0].Enabled, "enablement survives a session id change")
	assert.False(t, rec.Operations[1].Enabled)
}

func TestCorruptBlobFallsBackToDisabled(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New()
	d := transport.NewFakeDialer(map[string]*transport.FakeServer{
		"weather": {Operations: []transport.OperationDescriptor{{Name: "fetchWeather"}}},
	})
	b := NewBridge(storage.New(dir), reg)
	connect(t, reg, d, "weather")

	path := filepath.Join(dir, "connection", "enabledOperations.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("{corrupt"), 0644))

	assert.NotPanics(t, func() { b.Apply(reg.Connected()) })

	rec, _ := reg.Get("weather")
	assert.False(t, rec.Operations[0].Enabled)
	assert.False(t, b.OperationEnabled("weather", "fetchWeather"))
}

func TestTogglePersistsAcrossBridgeInstances(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New()
	b1 := NewBridge(storage.New(dir), reg)

	require.NoError(t, b1.SetServerEnabled("alpha", false))
	require.NoError(t, b1.SetOperationEnabled("weather", "fetchWeather", true))

	b2 := NewBridge(storage.New(dir), reg)
	assert.False(t, b2.ServerEnabled("alpha"))
	assert.True(t, b2.OperationEnabled("weather", "fetchWeather"))
}
