package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// FakeServer scripts the behavior of one server behind a FakeDialer.
type FakeServer struct {
	Operations []OperationDescriptor
	OpenDelay  time.Duration
	OpenErr    error
	InvokeErr  error
	// Results maps operation name to the invoke output.
	Results map[string]string
}

// FakeDialer is an in-memory Dialer for tests. Each Open mints a fresh
// handle; invokes are answered from the scripted FakeServer table.
type FakeDialer struct {
	mu      sync.Mutex
	servers map[string]*FakeServer
	// live maps handle id to server name for handles not yet closed.
	live   map[string]string
	opens  map[string]int
	closed []string
	last   map[string]*Handle
}

// NewFakeDialer creates a FakeDialer with the given scripted servers.
func NewFakeDialer(servers map[string]*FakeServer) *FakeDialer {
	if servers == nil {
		servers = make(map[string]*FakeServer)
	}
	return &FakeDialer{
		servers: servers,
		live:    make(map[string]string),
		opens:   make(map[string]int),
		last:    make(map[string]*Handle),
	}
}

// AddServer registers or replaces a scripted server.
func (d *FakeDialer) AddServer(name string, srv *FakeServer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.servers[name] = srv
}

func (d *FakeDialer) Open(ctx context.Context, cfg ServerConfig) (*Handle, []OperationDescriptor, error) {
	d.mu.Lock()
	srv, ok := d.servers[cfg.Name]
	d.opens[cfg.Name]++
	d.mu.Unlock()

	if !ok {
		return nil, nil, &OpenError{Server: cfg.Name, Cause: fmt.Errorf("unreachable")}
	}

	if srv.OpenDelay > 0 {
		timeout := Timeout(cfg)
		select {
		case <-time.After(srv.OpenDelay):
		case <-time.After(timeout):
			return nil, nil, &OpenError{Server: cfg.Name, Cause: context.DeadlineExceeded}
		case <-ctx.Done():
			return nil, nil, &OpenError{Server: cfg.Name, Cause: ctx.Err()}
		}
	}

	if srv.OpenErr != nil {
		return nil, nil, &OpenError{Server: cfg.Name, Cause: srv.OpenErr}
	}

	h := &Handle{id: ulid.Make().String(), server: cfg.Name}

	ops := make([]OperationDescriptor, len(srv.Operations))
	copy(ops, srv.Operations)
	for i := range ops {
		ops[i].ServerName = cfg.Name
	}

	d.mu.Lock()
	d.live[h.ID()] = cfg.Name
	d.last[cfg.Name] = h
	d.mu.Unlock()

	return h, ops, nil
}

func (d *FakeDialer) Invoke(ctx context.Context, h *Handle, operation string, args json.RawMessage) (string, error) {
	if h.Invalidated() {
		return "", &InvokeError{Server: h.Server(), Operation: operation, Cause: fmt.Errorf("handle invalidated")}
	}

	d.mu.Lock()
	name, open := d.live[h.ID()]
	srv := d.servers[name]
	d.mu.Unlock()

	if !open || srv == nil {
		return "", &InvokeError{Server: h.Server(), Operation: operation, Cause: fmt.Errorf("no such session")}
	}
	if srv.InvokeErr != nil {
		return "", &InvokeError{Server: name, Operation: operation, Cause: srv.InvokeErr}
	}
	if out, ok := srv.Results[operation]; ok {
		return out, nil
	}
	return "", &InvokeError{Server: name, Operation: operation, Cause: fmt.Errorf("unknown operation")}
}

func (d *FakeDialer) Close(h *Handle) {
	if h == nil {
		return
	}
	h.Invalidate()

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.live[h.ID()]; ok {
		delete(d.live, h.ID())
		d.closed = append(d.closed, h.ID())
	}
}

// OpenCount reports how many times a server has been opened.
func (d *FakeDialer) OpenCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens[name]
}

// ClosedHandles returns the ids of handles that have been closed.
func (d *FakeDialer) ClosedHandles() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.closed))
	copy(out, d.closed)
	return out
}

// LastHandle returns the most recently opened handle for a server.
func (d *FakeDialer) LastHandle(name string) *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last[name]
}
