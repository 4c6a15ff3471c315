// Package logctx enriches log/slog records with request, session, RPC
// message, and tool-call context, adapted from the teacher's own
// internal/logctx package but carrying this repo's sessionstore.Status
// instead of the teacher's richer session-state type.
package logctx

import (
	"context"
	"log/slog"

	"github.com/wgs4/mmcp/sessionstore"
)

// Handler wraps another slog.Handler, adding "req", "sess", "rpc", and
// "tool" attribute groups from context values set by WithRequestData,
// WithSessionData, WithRPCMessage, and WithToolCallData.
type Handler struct {
	slog.Handler
}

// Handle implements slog.Handler.
func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}

	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("id", sd.SessionID),
			slog.String("protocol_version", sd.ProtocolVersion),
			slog.String("status", string(sd.Status)),
		))
	}

	if msg, ok := ctx.Value(rpcMsgKey{}).(*RPCMessage); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID),
		))
	}

	if td, ok := ctx.Value(toolCallDataKey{}).(*ToolCallData); ok {
		r.AddAttrs(slog.Group("tool",
			slog.String("name", td.ToolName),
		))
	}

	return h.Handler.Handle(ctx, r)
}

// WithHandler wraps base in a context-enriching Handler.
func WithHandler(base slog.Handler) Handler {
	return Handler{Handler: base}
}

type rpcMsgKey struct{}

// RPCMessage identifies the JSON-RPC message currently being handled.
type RPCMessage struct {
	Method string
	ID     string
}

// WithRPCMessage attaches RPC message identity to ctx for logging.
func WithRPCMessage(ctx context.Context, msg *RPCMessage) context.Context {
	return context.WithValue(ctx, rpcMsgKey{}, msg)
}

type requestDataKey struct{}

// RequestData identifies the inbound transport request currently being
// handled.
type RequestData struct {
	RequestID  string
	Method     string
	RemoteAddr string
	Path       string
}

// WithRequestData attaches request identity to ctx for logging.
func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type sessionDataKey struct{}

// SessionData identifies the session a request or RPC message is
// operating under.
type SessionData struct {
	SessionID       string
	ProtocolVersion string
	Status          sessionstore.Status
}

// WithSessionData attaches session identity to ctx for logging.
func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

type toolCallDataKey struct{}

// ToolCallData identifies the tool being invoked by a tools/call request.
type ToolCallData struct {
	ToolName string
}

// WithToolCallData attaches tool-call identity to ctx for logging.
func WithToolCallData(ctx context.Context, data *ToolCallData) context.Context {
	return context.WithValue(ctx, toolCallDataKey{}, data)
}
