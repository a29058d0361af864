package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/switchboard-ai/switchboard/internal/logging"
)

// DefaultTimeout applies when a config carries no timeout of its own.
const DefaultTimeout = 5 * time.Second

// Dialer is the transport primitive: open one session to one server, invoke
// operations on it, close it. Implementations perform no retries.
type Dialer interface {
	// Open establishes a session and lists the server's operations.
	Open(ctx context.Context, cfg ServerConfig) (*Handle, []OperationDescriptor, error)
	// Invoke calls one operation on a live session.
	Invoke(ctx context.Context, h *Handle, operation string, args json.RawMessage) (string, error)
	// Close tears down a session. Best-effort: safe against nil and
	// already-invalid handles, never panics.
	Close(h *Handle)
}

// SDKDialer implements Dialer on top of the official MCP Go SDK.
type SDKDialer struct {
	client *sdkmcp.Client
}

// NewSDKDialer creates a dialer identifying itself as switchboard.
func NewSDKDialer() *SDKDialer {
	return &SDKDialer{
		client: sdkmcp.NewClient(&sdkmcp.Implementation{
			Name:    "switchboard",
			Version: "1.0.0",
		}, nil),
	}
}

// Timeout resolves the effective timeout for a config.
func Timeout(cfg ServerConfig) time.Duration {
	if cfg.Timeout > 0 {
		return time.Duration(cfg.Timeout) * time.Millisecond
	}
	return DefaultTimeout
}

// Open establishes a session for the config's transport kind and lists its
// operations. Every failure, timeouts included, comes back as *OpenError.
func (d *SDKDialer) Open(ctx context.Context, cfg ServerConfig) (*Handle, []OperationDescriptor, error) {
	timeout := Timeout(cfg)

	var transport sdkmcp.Transport
	switch cfg.Kind {
	case KindStdio:
		if cfg.Address == "" {
			return nil, nil, &OpenError{Server: cfg.Name, Cause: fmt.Errorf("empty command")}
		}
		cmd := exec.Command(cfg.Address, cfg.Args...)
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
		transport = &sdkmcp.CommandTransport{Command: cmd}

	case KindSSE:
		transport = &sdkmcp.SSEClientTransport{
			Endpoint:   endpointURL(cfg),
			HTTPClient: httpClientWithHeaders(nil, cfg.Headers),
		}

	case KindStreamable:
		transport = &sdkmcp.StreamableClientTransport{
			Endpoint:   endpointURL(cfg),
			HTTPClient: httpClientWithHeaders(nil, cfg.Headers),
		}

	default:
		return nil, nil, &OpenError{Server: cfg.Name, Cause: fmt.Errorf("unknown transport kind: %s", cfg.Kind)}
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session, err := d.client.Connect(connectCtx, transport, nil)
	if err != nil {
		return nil, nil, &OpenError{Server: cfg.Name, Cause: err}
	}

	listCtx, listCancel := context.WithTimeout(ctx, timeout)
	defer listCancel()

	result, err := session.ListTools(listCtx, nil)
	if err != nil {
		session.Close()
		return nil, nil, &OpenError{Server: cfg.Name, Cause: fmt.Errorf("list tools: %w", err)}
	}

	ops := make([]OperationDescriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			schema = nil
		}
		ops = append(ops, OperationDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
			ServerName:  cfg.Name,
		})
	}

	h := newHandle(cfg.Name, session)
	logging.Debug().
		Str("server", cfg.Name).
		Str("handle", h.ID()).
		Int("operations", len(ops)).
		Msg("session opened")
	return h, ops, nil
}

// Invoke calls an operation on a live session and returns its text output.
func (d *SDKDialer) Invoke(ctx context.Context, h *Handle, operation string, args json.RawMessage) (string, error) {
	if h.Invalidated() || h.session == nil {
		return "", &InvokeError{Server: h.Server(), Operation: operation, Cause: fmt.Errorf("handle invalidated")}
	}

	var argsMap map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &argsMap); err != nil {
			return "", &InvokeError{Server: h.Server(), Operation: operation, Cause: fmt.Errorf("parse arguments: %w", err)}
		}
	}

	result, err := h.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      operation,
		Arguments: argsMap,
	})
	if err != nil {
		return "", &InvokeError{Server: h.Server(), Operation: operation, Cause: err}
	}

	var output strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(*sdkmcp.TextContent); ok {
			output.WriteString(text.Text)
		}
	}

	if result.IsError {
		return "", &InvokeError{Server: h.Server(), Operation: operation, Cause: fmt.Errorf("remote error: %s", output.String())}
	}

	return output.String(), nil
}

// Close tears down a session. Safe against nil and already-closed handles.
func (d *SDKDialer) Close(h *Handle) {
	if h == nil {
		return
	}
	h.Invalidate()
	if h.session == nil {
		return
	}
	if err := h.session.Close(); err != nil {
		logging.Debug().
			Str("server", h.Server()).
			Str("handle", h.ID()).
			Err(err).
			Msg("session close failed")
	}
}

func endpointURL(cfg ServerConfig) string {
	if cfg.Path == "" {
		return cfg.Address
	}
	return strings.TrimRight(cfg.Address, "/") + "/" + strings.TrimLeft(cfg.Path, "/")
}

func httpClientWithHeaders(base *http.Client, headers map[string]string) *http.Client {
	if base == nil {
		base = &http.Client{}
	}

	// Copy to avoid mutating a caller-provided client.
	client := *base
	client.Timeout = 0 // per-request contexts carry the timeout

	if len(headers) == 0 {
		return &client
	}

	next := client.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	client.Transport = &headerRoundTripper{headers: headers, next: next}
	return &client
}

type headerRoundTripper struct {
	headers map[string]string
	next    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range h.headers {
		cloned.Header.Set(k, v)
	}
	return h.next.RoundTrip(cloned)
}
