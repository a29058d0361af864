package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboard-ai/switchboard/internal/transport"
)

func openHandle(t *testing.T, d *transport.FakeDialer, name string) (*transport.Handle, []transport.OperationDescriptor) {
	t.Helper()
	h, ops, err := d.Open(context.Background(), transport.ServerConfig{Name: name})
	require.NoError(t, err)
	return h, ops
}

func fakeDialer() *transport.FakeDialer {
	return transport.NewFakeDialer(map[string]*transport.FakeServer{
		"alpha": {Operations: []transport.OperationDescriptor{{Name: "fetchWeather"}}},
		"beta":  {Operations: []transport.OperationDescriptor{{Name: "search"}}},
	})
}

func TestBeginConnectCreatesRecord(t *testing.T) {
	reg := New()

	assert.True(t, reg.BeginConnect("alpha"))

	rec, ok := reg.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, StateConnecting, rec.State)
}

func TestBeginConnectRejectsDuplicate(t *testing.T) {
	reg := New()

	require.True(t, reg.BeginConnect("alpha"))
	assert.False(t, reg.BeginConnect("alpha"), "connecting record must reject duplicate")

	d := fakeDialer()
	h, ops := openHandle(t, d, "alpha")
	require.NoError(t, reg.CompleteConnect("alpha", h, ops))
	assert.False(t, reg.BeginConnect("alpha"), "connected record must reject duplicate")
}

func TestErrorStateExitsViaBeginConnect(t *testing.T) {
	reg := New()

	require.True(t, reg.BeginConnect("alpha"))
	reg.FailConnect("alpha", errors.New("handshake rejected"))

	rec, _ := reg.Get("alpha")
	assert.Equal(t, StateError, rec.State)
	assert.Equal(t, "handshake rejected", rec.LastError)

	assert.True(t, reg.BeginConnect("alpha"))
	rec, _ = reg.Get("alpha")
	assert.Equal(t, StateConnecting, rec.State)
	assert.Empty(t, rec.LastError)
}

func TestCompleteConnectRequiresConnecting(t *testing.T) {
	reg := New()
	d := fakeDialer()
	h, ops := openHandle(t, d, "alpha")

	err := reg.CompleteConnect("alpha", h, ops)
	assert.Error(t, err, "record never began connecting")
}

func TestCompleteConnectRejectsSharedHandle(t *testing.T) {
	reg := New()
	d := fakeDialer()
	h, ops := openHandle(t, d, "alpha")

	require.True(t, reg.BeginConnect("alpha"))
	require.NoError(t, reg.CompleteConnect("alpha", h, ops))

	require.True(t, reg.BeginConnect("beta"))
	err := reg.CompleteConnect("beta", h, nil)
	assert.Error(t, err, "two records must never share a handle")
}

func TestDisconnectClearsAndInvalidates(t *testing.T) {
	reg := New()
	d := fakeDialer()
	h, ops := openHandle(t, d, "alpha")

	require.True(t, reg.BeginConnect("alpha"))
	require.NoError(t, reg.CompleteConnect("alpha", h, ops))

	old := reg.Disconnect("alpha")
	require.NotNil(t, old)
	assert.Equal(t, h.ID(), old.ID())
	assert.True(t, old.Invalidated(), "old handle invalidated before hand-back")

	rec, _ := reg.Get("alpha")
	assert.Equal(t, StateDisconnected, rec.State)
	assert.Nil(t, rec.Handle)
	assert.Empty(t, rec.Operations)

	// A fresh connect for the name is accepted after disconnect.
	assert.True(t, reg.BeginConnect("alpha"))
}

func TestDisconnectUnknownServer(t *testing.T) {
	reg := New()
	assert.Nil(t, reg.Disconnect("ghost"))
}

func TestReconnectNeverReusesHandle(t *testing.T) {
	reg := New()
	d := fakeDialer()

	h1, ops := openHandle(t, d, "alpha")
	require.True(t, reg.BeginConnect("alpha"))
	require.NoError(t, reg.CompleteConnect("alpha", h1, ops))

	reg.Disconnect("alpha")

	h2, ops2 := openHandle(t, d, "alpha")
	require.True(t, reg.BeginConnect("alpha"))
	require.NoError(t, reg.CompleteConnect("alpha", h2, ops2))

	rec, _ := reg.Get("alpha")
	assert.NotEqual(t, h1.ID(), rec.SessionID())
	assert.True(t, h1.Invalidated())
	assert.False(t, h2.Invalidated())
}

func TestSetOperationEnabledRequiresConnected(t *testing.T) {
	reg := New()
	d := fakeDialer()
	h, ops := openHandle(t, d, "alpha")

	require.True(t, reg.BeginConnect("alpha"))
	assert.False(t, reg.SetOperationEnabled("alpha", "fetchWeather", true), "not connected yet")

	require.NoError(t, reg.CompleteConnect("alpha", h, ops))
	assert.True(t, reg.SetOperationEnabled("alpha", "fetchWeather", true))
	assert.False(t, reg.SetOperationEnabled("alpha", "unknownOp", true))

	rec, _ := reg.Get("alpha")
	assert.True(t, rec.Operations[0].Enabled)

	reg.Disconnect("alpha")
	assert.False(t, reg.SetOperationEnabled("alpha", "fetchWeather", true))
}

func TestSnapshotIsACopy(t *testing.T) {
	reg := New()
	d := fakeDialer()
	h, ops := openHandle(t, d, "alpha")

	require.True(t, reg.BeginConnect("alpha"))
	require.NoError(t, reg.CompleteConnect("alpha", h, ops))

	snap := reg.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Operations[0].Enabled = true

	rec, _ := reg.Get("alpha")
	assert.False(t, rec.Operations[0].Enabled, "mutating a snapshot must not touch the registry")
}

func TestConnectedAndCounts(t *testing.T) {
	reg := New()
	d := fakeDialer()

	ha, opsA := openHandle(t, d, "alpha")
	require.True(t, reg.BeginConnect("alpha"))
	require.NoError(t, reg.CompleteConnect("alpha", ha, opsA))

	require.True(t, reg.BeginConnect("beta"))
	reg.FailConnect("beta", errors.New("unreachable"))

	connected := reg.Connected()
	require.Len(t, connected, 1)
	assert.Equal(t, "alpha", connected[0].ServerName)
	assert.Equal(t, 1, reg.ConnectedCount())
	assert.Len(t, reg.Snapshot(), 2)
}

func TestRemove(t *testing.T) {
	reg := New()
	d := fakeDialer()
	h, ops := openHandle(t, d, "alpha")

	require.True(t, reg.BeginConnect("alpha"))
	require.NoError(t, reg.CompleteConnect("alpha", h, ops))

	removed := reg.Remove("alpha")
	require.NotNil(t, removed)
	assert.True(t, removed.Invalidated())

	_, ok := reg.Get("alpha")
	assert.False(t, ok)
}
