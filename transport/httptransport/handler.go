// Package httptransport implements the streamable HTTP transport: one
// JSON-RPC request per HTTP request, CORS preflight, DELETE-to-close, and
// version-aware header echoing. It is grounded on the teacher's
// streaminghttp/handler.go routing and header conventions, with the
// server-sent-events half of that file dropped (no streaming responses
// are in scope here) and chi-based routing adopted from inngest-inngest's
// pkg/coreapi/coreapi.go.
package httptransport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/wgs4/mmcp/internal/jsonrpc"
	"github.com/wgs4/mmcp/internal/logctx"
	"github.com/wgs4/mmcp/lifecycle"
	"github.com/wgs4/mmcp/protocol"
	"github.com/wgs4/mmcp/registry"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

const (
	sessionIDHeader     = "Mcp-Session-Id"
	protocolVersionHdr  = "MCP-Protocol-Version"
	expectedDurationHdr = "Mcp-Expected-Duration"
)

// Config wires a Handler to the session gate, protocol engine, and tool
// registry it dispatches through.
type Config struct {
	EndpointPath string
	Gate         *lifecycle.Gate
	Engine       *protocol.Engine
	Registry     *registry.Registry
	Logger       *slog.Logger // default slog.Default()
}

// Handler is an http.Handler implementing the streamable HTTP transport.
type Handler struct {
	router chi.Router
	cfg    Config
	paths  []string
}

// NewHandler builds a Handler from cfg, registering the core MCP endpoint
// (and its /mcp, /mcp/ sub-paths) plus every custom endpoint the tool
// registry advertises.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{cfg: cfg, paths: corePaths(cfg.EndpointPath)}

	r := chi.NewRouter()
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:     []string{"Content-Type", "Accept", "Mcp-Session-Id", "MCP-Protocol-Version", "Authorization"},
		AllowCredentials:   false,
		OptionsPassthrough: true,
	})
	r.Use(corsMiddleware.Handler)
	// The CORS middleware has already set its headers; every OPTIONS request
	// ends here with 204 No Content.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	for _, p := range h.paths {
		r.Handle(p, http.HandlerFunc(h.handleCore))
	}
	for path, endpointHandler := range cfg.Registry.ListCustomEndpoints() {
		r.Handle(path, endpointHandler)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	h.router = r
	return h
}

// ServeHTTP implements http.Handler. Before dispatching, it sweeps the
// session store and caps the request's context to
// min(maxToolTiming, maxUptime), matching the per-process setup spec.md
// §4.6 requires.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.New().String(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})

	// A failed sweep must not block this request; it is retried on the next one.
	if err := h.cfg.Gate.Reap(ctx); err != nil {
		h.cfg.Logger.ErrorContext(ctx, "session reap failed", "error", err)
	}

	limit := h.cfg.Gate.MaxUptime
	if hint := h.cfg.Registry.MaxToolTiming(); hint > 0 {
		hintDuration := time.Duration(hint) * time.Second
		if hintDuration < limit {
			limit = hintDuration
		}
	}
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	h.cfg.Logger.DebugContext(ctx, "handling request")
	h.router.ServeHTTP(w, r.WithContext(ctx))
}

// corePaths lists every path that counts as the core MCP endpoint: the
// configured path itself (with and without a trailing slash) plus its
// /mcp and /mcp/ sub-paths, per spec.md §4.6 step 2.
func corePaths(base string) []string {
	trimmed := strings.TrimSuffix(base, "/")

	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if p == "" {
			p = "/"
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	add(trimmed)
	add(trimmed + "/")
	add(trimmed + "/mcp")
	add(trimmed + "/mcp/")
	return out
}

func (h *Handler) handleCore(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodDelete:
		h.handleDelete(w, r)
	case http.MethodPost:
		h.handlePost(w, r)
	default:
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionIDHeader)
	if sessionID == "" {
		http.Error(w, "missing session header", http.StatusBadRequest)
		return
	}

	ok, err := h.cfg.Gate.Close(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", jsonMediaType.String())
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "closed", "session": sessionID})
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Content-Type") != "" {
		if ctype, err := contenttype.GetMediaType(r); err != nil || !ctype.Matches(jsonMediaType) {
			http.Error(w, "unsupported content type", http.StatusBadRequest)
			return
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	result := protocol.Validate(body)
	switch result.Classification {
	case protocol.Unparseable:
		h.writeError(w, result.ID, jsonrpc.ErrorCodeParseError, "Parse error", nil)
		return
	case protocol.Malformed:
		h.writeError(w, result.ID, result.Code, "Invalid Request", nil)
		return
	}

	req := result.Request
	if req.Method == "initialize" {
		h.handleInitialize(w, r, req)
		return
	}

	sessionID := r.Header.Get(sessionIDHeader)
	headerVersion := r.Header.Get(protocolVersionHdr)

	ctx := logctx.WithRPCMessage(r.Context(), &logctx.RPCMessage{Method: req.Method, ID: req.ID.String()})
	gateResult := h.cfg.Gate.GateRequest(ctx, sessionID, req.Method, lifecycle.TransportHTTP, headerVersion, headerVersion != "")

	if gateResult.Err != nil {
		h.cfg.Logger.WarnContext(ctx, "request rejected by gate", "error", gateResult.Err.Message)
		h.writeError(w, req.ID, gateResult.Err.Code, gateResult.Err.Message, gateResult.Err.Data)
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sessionID,
		ProtocolVersion: gateResult.Record.ProtocolVersion,
		Status:          gateResult.Record.Status,
	})

	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	resp := h.cfg.Engine.Handle(ctx, gateResult.Record.ProtocolVersion, req)
	h.writeResponse(w, sessionID, gateResult.Record.ProtocolVersion, h.timingHintFor(req), resp)
}

func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request, req *jsonrpc.Request) {
	headerPresent := r.Header.Get(sessionIDHeader) != ""
	outcome := h.cfg.Gate.HandleInitialize(r.Context(), req, headerPresent)
	if outcome.Err != nil {
		h.writeError(w, req.ID, outcome.Err.Code, outcome.Err.Message, outcome.Err.Data)
		return
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, outcome.Result)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.writeResponse(w, outcome.SessionID, outcome.Result.ProtocolVersion, 0, resp)
}

func (h *Handler) writeResponse(w http.ResponseWriter, sessionID, protocolVersion string, expectedDurationSeconds int, resp *jsonrpc.Response) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	if sessionID != "" {
		w.Header().Set(sessionIDHeader, sessionID)
	}
	if protocolVersion == protocol.LatestVersion {
		w.Header().Set(protocolVersionHdr, protocolVersion)
	}
	if expectedDurationSeconds > 0 {
		w.Header().Set(expectedDurationHdr, strconv.Itoa(expectedDurationSeconds))
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// timingHintFor returns the registered timing hint in seconds for a
// tools/call request naming a specific tool, or 0 otherwise.
func (h *Handler) timingHintFor(req *jsonrpc.Request) int {
	if req.Method != "tools/call" {
		return 0
	}
	var params struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return 0
	}
	return h.cfg.Registry.Timing(params.Name)
}

func (h *Handler) writeError(w http.ResponseWriter, id *jsonrpc.RequestID, code jsonrpc.ErrorCode, message string, data any) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	resp := jsonrpc.NewErrorResponse(id, code, message, data)
	_ = json.NewEncoder(w).Encode(resp)
}
