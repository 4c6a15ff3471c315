// Package registry is the explicit tool- and endpoint-registration table
// consulted by the protocol engine. It replaces naming-convention
// discovery with an explicit registration list, grounded on the
// teacher's StaticTool/ToolsContainer pattern in mcpservice/static_tools.go
// and the capability-interface style of hooks/hooks.go.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/wgs4/mmcp/protocol"
)

// ToolInvoker invokes a registered tool with its raw JSON arguments.
// The registry itself does not validate arguments against the descriptor's
// input schema; that responsibility lies with the invoker.
type ToolInvoker func(ctx context.Context, rawArgs []byte) (*protocol.CallToolResult, error)

type toolEntry struct {
	descriptor protocol.Tool
	invoke     ToolInvoker
}

// Registry holds every host-registered tool, custom HTTP endpoint, and
// tool timing hint. A Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	tools     []toolEntry
	toolByKey map[string]int
	endpoints map[string]http.Handler
	timings   map[string]int
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		toolByKey: make(map[string]int),
		endpoints: make(map[string]http.Handler),
		timings:   make(map[string]int),
	}
}

// RegisterTool adds or replaces a tool under descriptor.Name.
func (r *Registry) RegisterTool(descriptor protocol.Tool, invoke ToolInvoker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := toolEntry{descriptor: descriptor, invoke: invoke}
	if idx, exists := r.toolByKey[descriptor.Name]; exists {
		r.tools[idx] = entry
		return
	}
	r.tools = append(r.tools, entry)
	r.toolByKey[descriptor.Name] = len(r.tools) - 1
}

// RegisterEndpoint registers a custom HTTP handler under path, consulted
// by the HTTP transport when a request doesn't match the core MCP
// endpoint.
func (r *Registry) RegisterEndpoint(path string, handler http.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[path] = handler
}

// RegisterTiming records a long-running-tool timing hint in seconds,
// queried via MaxToolTiming.
func (r *Registry) RegisterTiming(name string, seconds int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timings[name] = seconds
}

// ListTools returns every registered tool descriptor, in registration
// order. Pagination is unsupported; callers must not pass a cursor.
func (r *Registry) ListTools() []protocol.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.Tool, len(r.tools))
	for i, e := range r.tools {
		out[i] = e.descriptor
	}
	return out
}

// HasTool reports whether a tool named name is registered.
func (r *Registry) HasTool(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.toolByKey[name]
	return ok
}

// Invoke calls the tool named name with rawArgs and returns its result.
// It returns an error only if name is not registered; tool-level failures
// are reported through CallToolResult.IsError, not a Go error.
func (r *Registry) Invoke(ctx context.Context, name string, rawArgs []byte) (*protocol.CallToolResult, error) {
	r.mu.RLock()
	idx, ok := r.toolByKey[name]
	var invoke ToolInvoker
	if ok {
		invoke = r.tools[idx].invoke
	}
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("registry: unknown tool %q", name)
	}
	result, err := invoke(ctx, rawArgs)
	if err != nil {
		return protocol.ErrorResult("%v", err), nil
	}
	return result, nil
}

// ListCustomEndpoints returns a copy of the path -> handler map registered
// via RegisterEndpoint.
func (r *Registry) ListCustomEndpoints() map[string]http.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]http.Handler, len(r.endpoints))
	for path, h := range r.endpoints {
		out[path] = h
	}
	return out
}

// MaxToolTiming returns the largest timing hint registered via
// RegisterTiming, or 0 if none were registered.
func (r *Registry) MaxToolTiming() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	max := 0
	for _, seconds := range r.timings {
		if seconds > max {
			max = seconds
		}
	}
	return max
}

// Timing returns the timing hint registered for a specific tool name, or
// 0 if none was registered.
func (r *Registry) Timing(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.timings[name]
}
