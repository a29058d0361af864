package einobridge

import (
	"sort"
	"sync"

	einotool "github.com/cloudwego/eino/components/tool"

	"github.com/switchboard-ai/switchboard/internal/registry"
	"github.com/switchboard-ai/switchboard/internal/transport"
)

// Registry is the downstream consumer: it holds the tool set the agent loop
// may call. It implements notify.Consumer, replacing its view wholesale on
// every snapshot so it can never offer an operation from a superseded
// session.
type Registry struct {
	mu      sync.RWMutex
	invoker Invoker
	tools   map[string]*OperationTool
}

// NewRegistry creates an empty consumer registry.
func NewRegistry(invoker Invoker) *Registry {
	return &Registry{
		invoker: invoker,
		tools:   make(map[string]*OperationTool),
	}
}

// UpdateAvailableOperations replaces the tool set from a snapshot. Only
// enabled operations are offered to the agent loop.
func (r *Registry) UpdateAvailableOperations(ops []transport.OperationDescriptor, sessions []registry.SessionRecord) {
	tools := make(map[string]*OperationTool)
	for _, op := range ops {
		if !op.Enabled {
			continue
		}
		tools[op.Name] = NewOperationTool(op, r.invoker)
	}

	r.mu.Lock()
	r.tools = tools
	r.mu.Unlock()
}

// Tools returns the offered tools, sorted by name.
func (r *Registry) Tools() []einotool.BaseTool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]einotool.BaseTool, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	return out
}

// Lookup returns the tool for an operation name.
func (r *Registry) Lookup(name string) (einotool.InvokableTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of offered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
