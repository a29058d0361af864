// Package transport opens and drives sessions against remote tool servers
// using the official MCP Go SDK. One Open yields one exclusively-owned
// session handle plus the operations the server exposes; retry policy
// belongs to the caller.
package transport

import (
	"encoding/json"
	"sync/atomic"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/oklog/ulid/v2"
)

// Kind represents the transport kind of a tool server.
type Kind string

const (
	// KindStdio runs the server as a subprocess speaking over stdin/stdout.
	KindStdio Kind = "stdio"
	// KindSSE talks to a remote server over HTTP with server-sent events.
	KindSSE Kind = "sse"
	// KindStreamable talks to a remote server over streamable HTTP.
	KindStreamable Kind = "http"
)

// ServerConfig describes one tool server. It is immutable per submission;
// callers mutate a copy and resubmit.
type ServerConfig struct {
	Name        string            `json:"name" yaml:"name"`
	Kind        Kind              `json:"kind" yaml:"kind"`
	Address     string            `json:"address" yaml:"address"`
	Path        string            `json:"path,omitempty" yaml:"path,omitempty"`
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Timeout     int               `json:"timeout,omitempty" yaml:"timeout,omitempty"` // milliseconds
}

// OperationDescriptor is the metadata for one remotely callable operation.
// It references its session only by server name; handles are recycled on
// reconnect, so invocation re-resolves by name.
type OperationDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Enabled     bool            `json:"enabled"`
	ServerName  string          `json:"serverName"`
}

// Handle is the opaque token for one live session. Exactly one
// SessionRecord owns a handle at a time; a new Open always mints a new one.
type Handle struct {
	id      string
	server  string
	session *sdkmcp.ClientSession
	invalid atomic.Bool
}

func newHandle(server string, session *sdkmcp.ClientSession) *Handle {
	return &Handle{id: ulid.Make().String(), server: server, session: session}
}

// ID returns the handle's unique identifier.
func (h *Handle) ID() string {
	if h == nil {
		return ""
	}
	return h.id
}

// Server returns the name of the server this handle was opened against.
func (h *Handle) Server() string {
	if h == nil {
		return ""
	}
	return h.server
}

// Invalidate marks the handle unusable. Invoke refuses invalidated
// handles so a racing caller cannot use a superseded session.
func (h *Handle) Invalidate() {
	if h != nil {
		h.invalid.Store(true)
	}
}

// Invalidated reports whether the handle has been invalidated.
func (h *Handle) Invalidated() bool {
	return h == nil || h.invalid.Load()
}
