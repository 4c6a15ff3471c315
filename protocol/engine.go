package protocol

import (
	"context"
	"encoding/json"

	"github.com/wgs4/mmcp/internal/jsonrpc"
	"github.com/wgs4/mmcp/internal/logctx"
)

// ToolInvoker matches registry.ToolInvoker without importing the registry
// package, keeping protocol free of a dependency on the tool-registration
// table's concrete type.
type ToolInvoker func(ctx context.Context, rawArgs []byte) (*CallToolResult, error)

// Registry is the subset of registry.Registry the engine needs to dispatch
// tools/list and tools/call.
type Registry interface {
	ListTools() []Tool
	HasTool(name string) bool
	Invoke(ctx context.Context, name string, rawArgs []byte) (*CallToolResult, error)
}

// Engine dispatches a single validated, gated JSON-RPC request against the
// MCP method set. It is grounded on the teacher's capability-provider
// dispatch pattern (mcpservice/tools.go), generalized here to a stateless
// post-processing step since this server negotiates only a protocol
// version, not per-session capabilities.
type Engine struct {
	Registry Registry
}

// New creates an Engine backed by reg.
func New(reg Registry) *Engine {
	return &Engine{Registry: reg}
}

// Handle dispatches req, already known to be well-formed and past session
// gating, against the negotiated protocolVersion. It returns nil for a
// notification (no id) that produces no body. initialize is not handled
// here; transports route it to lifecycle.Gate.HandleInitialize before a
// session (and therefore a negotiated version) exists.
func (e *Engine) Handle(ctx context.Context, protocolVersion string, req *jsonrpc.Request) *jsonrpc.Response {
	if req.IsNotification() {
		// Notifications never produce a response body; the transport layer
		// acknowledges them (202 on HTTP, nothing on STDIO).
		return nil
	}

	switch req.Method {
	case "ping":
		return mustResultResponse(req.ID, struct{}{})

	case "tools/list":
		return e.handleToolsList(req, protocolVersion)

	case "tools/call":
		return e.handleToolsCall(ctx, protocolVersion, req)

	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "Method not found", nil)
	}
}

type toolsListParams struct {
	Cursor *string `json:"cursor,omitempty"`
}

type toolsListResult struct {
	Tools []Tool `json:"tools"`
}

func (e *Engine) handleToolsList(req *jsonrpc.Request, protocolVersion string) *jsonrpc.Response {
	if len(req.Params) > 0 {
		var params toolsListParams
		if err := json.Unmarshal(req.Params, &params); err == nil && params.Cursor != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "Pagination is not supported", nil)
		}
	}

	tools := ShapeTools(protocolVersion, e.Registry.ListTools())
	return mustResultResponse(req.ID, toolsListResult{Tools: tools})
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (e *Engine) handleToolsCall(ctx context.Context, protocolVersion string, req *jsonrpc.Request) *jsonrpc.Response {
	var params toolsCallParams
	if len(req.Params) == 0 {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "params.name is required", nil)
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "params must be an object", nil)
	}
	if params.Name == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "params.name is required", nil)
	}
	if !e.Registry.HasTool(params.Name) {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "Unknown tool", map[string]any{"name": params.Name})
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})
	result, err := e.Registry.Invoke(ctx, params.Name, params.Arguments)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, err.Error(), nil)
	}

	shaped := ShapeCallToolResult(protocolVersion, result)
	return mustResultResponse(req.ID, shaped)
}

func mustResultResponse(id *jsonrpc.RequestID, result any) *jsonrpc.Response {
	resp, err := jsonrpc.NewResultResponse(id, result)
	if err != nil {
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "failed to encode result", nil)
	}
	return resp
}
