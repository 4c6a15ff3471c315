// Package stdiotransport implements the line-delimited JSON-RPC transport
// for a single long-lived process. It supplies the real body the teacher's
// stdio/handler.go left as a stub, following the shape and doc comments
// that stub already declared: "JSON-RPC message framing (newline-delimited)",
// "initialize/initialized lifecycle", "routing".
package stdiotransport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/wgs4/mmcp/internal/jsonrpc"
	"github.com/wgs4/mmcp/internal/logctx"
	"github.com/wgs4/mmcp/lifecycle"
	"github.com/wgs4/mmcp/protocol"
)

// Config wires a Handler to its session gate and protocol engine, and
// optionally overrides its I/O streams and logger for testing.
type Config struct {
	Gate        *lifecycle.Gate
	Engine      *protocol.Engine
	Reader      io.Reader // default os.Stdin
	Writer      io.Writer // default os.Stdout
	Logger      *slog.Logger
	MaxUptime   time.Duration
	InitTimeout time.Duration
}

// Handler runs the STDIO main loop for a single process. The process-local
// session id slot lives on the Handler, populated once a successful
// initialize sets it.
type Handler struct {
	cfg       Config
	sessionID string
}

// NewHandler builds a Handler from cfg, defaulting Reader/Writer to
// os.Stdin/os.Stdout and Logger to slog.Default().
func NewHandler(cfg Config) *Handler {
	if cfg.Reader == nil {
		cfg.Reader = os.Stdin
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxUptime <= 0 {
		cfg.MaxUptime = 24 * time.Hour
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = 60 * time.Second
	}
	return &Handler{cfg: cfg}
}

// Serve runs the STDIO event loop until end-of-stream on the reader, the
// configured maxUptime elapses, or ctx is canceled. It is safe to call at
// most once per Handler.
func (h *Handler) Serve(ctx context.Context) error {
	readTimeout := min(h.cfg.InitTimeout, 60*time.Second)

	lines := make(chan string)
	scanErrs := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(h.cfg.Reader)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErrs <- scanner.Err()
		close(lines)
	}()

	start := time.Now()
	idleCount := 0

loop:
	for {
		if time.Since(start) >= h.cfg.MaxUptime {
			break
		}

		timer := time.NewTimer(readTimeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			break loop

		case line, ok := <-lines:
			timer.Stop()
			if !ok {
				break loop
			}
			idleCount = 0
			h.handleLine(ctx, line)

		case <-timer.C:
			idleCount++
			h.cfg.Logger.Debug("stdio idle", "idle_reads", idleCount, "timeout", readTimeout)
		}
	}

	if h.sessionID != "" {
		if _, err := h.cfg.Gate.Close(ctx, h.sessionID); err != nil {
			h.cfg.Logger.Error("failed to close session on exit", "session", h.sessionID, "error", err)
		}
	}
	if err := h.cfg.Gate.Reap(ctx); err != nil {
		h.cfg.Logger.Error("failed to reap sessions on exit", "error", err)
	}

	// scanErrs only has a value once the scan goroutine's reader has hit
	// EOF or an error; on a ctx cancellation or uptime exit the reader may
	// still be blocked on its next Read, so this must not block the return.
	select {
	case err := <-scanErrs:
		if err != nil {
			return fmt.Errorf("stdiotransport: read error: %w", err)
		}
	default:
	}
	return nil
}

func (h *Handler) handleLine(ctx context.Context, line string) {
	result := protocol.Validate([]byte(line))

	switch result.Classification {
	case protocol.Unparseable:
		h.writeResponse(jsonrpc.NewErrorResponse(jsonrpc.NewRequestID(nil), jsonrpc.ErrorCodeParseError, "Parse error", nil))
		return
	case protocol.Malformed:
		h.writeResponse(jsonrpc.NewErrorResponse(result.ID, result.Code, "Invalid Request", nil))
		return
	}

	req := result.Request
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String()})

	if req.Method == "initialize" {
		outcome := h.cfg.Gate.HandleInitialize(ctx, req, false)
		if outcome.Err != nil {
			h.cfg.Logger.WarnContext(ctx, "initialize rejected", "error", outcome.Err.Message)
			h.writeResponse(jsonrpc.NewErrorResponse(req.ID, outcome.Err.Code, outcome.Err.Message, outcome.Err.Data))
			return
		}
		h.sessionID = outcome.SessionID
		resp, err := jsonrpc.NewResultResponse(req.ID, outcome.Result)
		if err != nil {
			h.writeResponse(jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "failed to encode result", nil))
			return
		}
		h.writeResponse(resp)
		return
	}

	gateResult := h.cfg.Gate.GateRequest(ctx, h.sessionID, req.Method, lifecycle.TransportSTDIO, "", false)
	if gateResult.Err != nil {
		h.cfg.Logger.WarnContext(ctx, "request rejected by gate", "error", gateResult.Err.Message)
		h.writeResponse(jsonrpc.NewErrorResponse(req.ID, gateResult.Err.Code, gateResult.Err.Message, gateResult.Err.Data))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       h.sessionID,
		ProtocolVersion: gateResult.Record.ProtocolVersion,
		Status:          gateResult.Record.Status,
	})

	if req.IsNotification() {
		return
	}

	resp := h.cfg.Engine.Handle(ctx, gateResult.Record.ProtocolVersion, req)
	h.writeResponse(resp)
}

func (h *Handler) writeResponse(resp *jsonrpc.Response) {
	if resp == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		h.cfg.Logger.Error("failed to encode response", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := h.cfg.Writer.Write(data); err != nil {
		h.cfg.Logger.Error("failed to write response", "error", err)
	}
}
