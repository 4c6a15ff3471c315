// Package lifecycle implements the session state machine
// {INITIALIZING -> OPEN -> CLOSED}, version negotiation for initialize,
// and the non-initialize gating sequence both transports run before
// handing a request to the protocol engine. It is grounded on the
// teacher's session-state handling, generalized from the richer
// per-session capability model the teacher tracks down to the simpler
// status/timestamp model this contract needs.
package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/wgs4/mmcp/internal/jsonrpc"
	"github.com/wgs4/mmcp/protocol"
	"github.com/wgs4/mmcp/sessionstore"
)

// Gate coordinates initialize handling, gating, and reaping against a
// single sessionstore.Store.
type Gate struct {
	Store       sessionstore.Store
	MaxUptime   time.Duration
	InitTimeout time.Duration
	ServerName  string
	ServerVer   string
	now         func() time.Time
}

// New creates a Gate. maxUptime and initTimeout of zero fall back to the
// documented defaults of 24h and 60s respectively.
func New(store sessionstore.Store, serverName, serverVersion string, maxUptime, initTimeout time.Duration) *Gate {
	if maxUptime <= 0 {
		maxUptime = 24 * time.Hour
	}
	if initTimeout <= 0 {
		initTimeout = 60 * time.Second
	}
	return &Gate{
		Store:       store,
		MaxUptime:   maxUptime,
		InitTimeout: initTimeout,
		ServerName:  serverName,
		ServerVer:   serverVersion,
		now:         time.Now,
	}
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ClientInfo      map[string]any `json:"clientInfo"`
}

// InitializeOutcome is the result of HandleInitialize: exactly one of
// Result or Err is set.
type InitializeOutcome struct {
	SessionID string
	Result    *protocol.InitializeResult
	Err       *jsonrpc.Error
}

// HandleInitialize implements the initialize-handling rules of the
// session lifecycle. sessionIDHeaderPresent must be true only when the
// caller is the HTTP transport and a session-id header already arrived
// on the request (which is always a client error).
func (g *Gate) HandleInitialize(ctx context.Context, req *jsonrpc.Request, sessionIDHeaderPresent bool) InitializeOutcome {
	if sessionIDHeaderPresent {
		return InitializeOutcome{Err: invalidRequest("Session id must not be supplied on initialize")}
	}
	if req.ID.IsNil() {
		return InitializeOutcome{Err: invalidRequest("initialize requires an id")}
	}

	var params initializeParams
	if len(req.Params) == 0 {
		return InitializeOutcome{Err: invalidRequest("initialize requires params")}
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return InitializeOutcome{Err: invalidRequest("initialize params must be an object")}
	}
	if params.ProtocolVersion == "" {
		return InitializeOutcome{Err: invalidRequest("params.protocolVersion is required")}
	}
	if params.ClientInfo == nil {
		return InitializeOutcome{Err: invalidRequest("params.clientInfo is required")}
	}

	if !protocol.IsValidVersion(params.ProtocolVersion) {
		return InitializeOutcome{Err: unsupportedVersion(params.ProtocolVersion)}
	}
	if !protocol.IsSupportedVersion(params.ProtocolVersion) {
		return InitializeOutcome{Err: unsupportedVersion(params.ProtocolVersion)}
	}

	sessionID := newSessionID()
	now := g.now()
	record := sessionstore.Record{
		SessionID:       sessionID,
		Status:          sessionstore.StatusInitializing,
		OpenedAt:        now.Unix(),
		ClientInfo:      params.ClientInfo,
		ProtocolVersion: params.ProtocolVersion,
	}
	if err := g.Store.Create(ctx, record); err != nil {
		return InitializeOutcome{Err: internalError("failed to create session")}
	}

	return InitializeOutcome{
		SessionID: sessionID,
		Result: &protocol.InitializeResult{
			ProtocolVersion: params.ProtocolVersion,
			Capabilities: protocol.ServerCapabilities{
				Tools: protocol.ToolsCapability{ListChanged: false},
			},
			ServerInfo: protocol.ImplementationInfo{
				Name:    g.ServerName,
				Version: g.ServerVer,
			},
		},
	}
}

// Transport distinguishes which transport is calling GateRequest, since
// the MCP-Protocol-Version header check only applies to HTTP.
type Transport int

const (
	TransportHTTP Transport = iota
	TransportSTDIO
)

// GateResult is the outcome of the non-initialize gating sequence.
type GateResult struct {
	Record       sessionstore.Record
	Transitioned bool
	Err          *jsonrpc.Error
}

// GateRequest runs the five-step gating sequence from the session
// lifecycle against a non-initialize message. protocolVersionHeader and
// headerPresent describe the MCP-Protocol-Version header and are only
// consulted when transport is TransportHTTP; STDIO has no headers and
// never carries this check, per spec.md §4.5 step 3 / SPEC_FULL.md §4.5.
func (g *Gate) GateRequest(ctx context.Context, sessionID string, method string, transport Transport, protocolVersionHeader string, headerPresent bool) GateResult {
	if sessionID == "" {
		return GateResult{Err: invalidRequest("Connection not established")}
	}

	record, ok, err := g.Store.Read(ctx, sessionID)
	if err != nil {
		return GateResult{Err: internalError("failed to read session")}
	}
	if !ok || record.Status == sessionstore.StatusClosed {
		return GateResult{Err: invalidRequest("Session is invalid or closed")}
	}

	if transport == TransportHTTP && record.ProtocolVersion == protocol.LatestVersion {
		if !headerPresent || protocolVersionHeader != record.ProtocolVersion {
			return GateResult{Err: invalidRequest("MCP-Protocol-Version header missing or mismatched")}
		}
	}

	transitioned := false
	if method == "notifications/initialized" && record.Status == sessionstore.StatusInitializing {
		prior, ok, err := g.Store.Update(ctx, sessionID, sessionstore.StatusOpen)
		if err != nil {
			return GateResult{Err: internalError("failed to transition session")}
		}
		if ok && prior == sessionstore.StatusInitializing {
			transitioned = true
			record.Status = sessionstore.StatusOpen
		}
	}

	if record.Status != sessionstore.StatusOpen {
		return GateResult{Err: invalidRequest("Connection not fully initialized")}
	}

	return GateResult{Record: record, Transitioned: transitioned}
}

// Close transitions a session to CLOSED, used by HTTP DELETE and by the
// STDIO transport at end-of-stream.
func (g *Gate) Close(ctx context.Context, sessionID string) (ok bool, err error) {
	_, found, err := g.Store.Update(ctx, sessionID, sessionstore.StatusClosed)
	return found, err
}

// Reap runs the store's reaper using the gate's configured thresholds.
func (g *Gate) Reap(ctx context.Context) error {
	return g.Store.Reap(ctx, g.now(), g.MaxUptime, g.InitTimeout)
}

// newSessionID mints a 128-bit random session id from 16 crypto/rand
// bytes, rendered as 32 lowercase hex digits.
func newSessionID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func invalidRequest(message string) *jsonrpc.Error {
	return &jsonrpc.Error{Code: jsonrpc.ErrorCodeInvalidRequest, Message: message, Data: struct{}{}}
}

func internalError(message string) *jsonrpc.Error {
	return &jsonrpc.Error{Code: jsonrpc.ErrorCodeInternalError, Message: message, Data: struct{}{}}
}

func unsupportedVersion(requested string) *jsonrpc.Error {
	return &jsonrpc.Error{
		Code:    jsonrpc.ErrorCodeInvalidParams,
		Message: "Unsupported protocol version",
		Data: map[string]any{
			"supported": protocol.SupportedVersions,
			"requested": requested,
		},
	}
}
