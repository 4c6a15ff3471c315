// Command mmcpd bootstraps a single mmcp process: it decodes Config from
// the environment, opens the configured log files, builds the session
// store, and dispatches to either the HTTP or STDIO transport. Process
// bootstrap lives only here, grounded on the teacher's examples/readme and
// examples/streaming_http_translator main.go wiring style.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/wgs4/mmcp/examples/arithmetic"
	"github.com/wgs4/mmcp/examples/echo"
	"github.com/wgs4/mmcp/internal/logctx"
	"github.com/wgs4/mmcp/lifecycle"
	"github.com/wgs4/mmcp/protocol"
	"github.com/wgs4/mmcp/registry"
	"github.com/wgs4/mmcp/sessionstore"
	"github.com/wgs4/mmcp/sessionstore/filestore"
	"github.com/wgs4/mmcp/sessionstore/redisstore"
	"github.com/wgs4/mmcp/transport/httptransport"
	"github.com/wgs4/mmcp/transport/stdiotransport"
)

// TransportKind selects which transport a process runs.
type TransportKind string

const (
	TransportHTTP  TransportKind = "HTTP"
	TransportSTDIO TransportKind = "STDIO"
)

// Config is the ambient process configuration, decoded from the
// environment via envdecode.
type Config struct {
	EndpointPath   string        `env:"MMCP_ENDPOINT_PATH,default=/mcp"`
	ServerName     string        `env:"MMCP_SERVER_NAME,default=mmcp"`
	ServerVersion  string        `env:"MMCP_SERVER_VERSION,default=0.1.0"`
	MaxUptime      int           `env:"MMCP_MAX_UPTIME_SECONDS,default=86400"`
	RequestTimeout int           `env:"MMCP_INIT_TIMEOUT_SECONDS,default=60"`
	AccessLogPath  string        `env:"MMCP_ACCESS_LOG_PATH"`
	ErrorLogPath   string        `env:"MMCP_ERROR_LOG_PATH"`
	DebugLogPath   string        `env:"MMCP_DEBUG_LOG_PATH"`
	SessionTempDir string        `env:"MMCP_SESSION_TEMP_DIR,default=/tmp/mmcp-sessions"`
	Transport      TransportKind `env:"MMCP_TRANSPORT,required"`
	ListenAddr     string        `env:"MMCP_LISTEN_ADDR,default=127.0.0.1:8080"`
	RedisAddr      string        `env:"MMCP_REDIS_ADDR"`
}

func main() {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, "mmcpd: failed to decode config:", err)
		os.Exit(1)
	}

	logger, closeLogs, err := buildLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mmcpd: failed to open log files:", err)
		os.Exit(1)
	}
	defer closeLogs()
	slog.SetDefault(logger)

	store, err := buildStore(cfg)
	if err != nil {
		logger.Error("failed to build session store", "error", err)
		os.Exit(1)
	}

	reg := registry.New()
	echo.Register(reg)
	arithmetic.Register(reg)

	maxUptime := time.Duration(cfg.MaxUptime) * time.Second
	initTimeout := time.Duration(cfg.RequestTimeout) * time.Second

	gate := lifecycle.New(store, cfg.ServerName, cfg.ServerVersion, maxUptime, initTimeout)
	engine := protocol.New(reg)

	ctx := context.Background()

	switch cfg.Transport {
	case TransportSTDIO:
		h := stdiotransport.NewHandler(stdiotransport.Config{
			Gate:        gate,
			Engine:      engine,
			Logger:      logger,
			MaxUptime:   maxUptime,
			InitTimeout: initTimeout,
		})
		if err := h.Serve(ctx); err != nil {
			logger.Error("stdio transport exited with error", "error", err)
			os.Exit(1)
		}

	case TransportHTTP:
		h := httptransport.NewHandler(httptransport.Config{
			EndpointPath: cfg.EndpointPath,
			Gate:         gate,
			Engine:       engine,
			Registry:     reg,
			Logger:       logger,
		})
		logger.Info("listening", "addr", cfg.ListenAddr, "path", cfg.EndpointPath)
		if err := http.ListenAndServe(cfg.ListenAddr, h); err != nil {
			logger.Error("http transport exited with error", "error", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "mmcpd: unknown transport %q\n", cfg.Transport)
		os.Exit(1)
	}
}

// buildStore picks filestore (the per-process default) unless RedisAddr is
// set, in which case it builds a redisstore so an HTTP deployment running
// as a persistent server rather than one-process-per-request can share
// session state across processes.
func buildStore(cfg Config) (sessionstore.Store, error) {
	if cfg.RedisAddr == "" {
		return filestore.New(cfg.SessionTempDir)
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("mmcpd: redis ping: %w", err)
	}
	return redisstore.New(redisstore.Config{Client: client})
}

// buildLogger opens the three configured log destinations (access, error,
// debug) and composes a single slog.Logger writing structured JSON to
// whichever of them is set, falling back to stderr when none are
// configured. The returned closer must run before process exit.
func buildLogger(cfg Config) (*slog.Logger, func(), error) {
	var writers []io.Writer
	var files []*os.File

	open := func(path string) error {
		if path == "" {
			return nil
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		files = append(files, f)
		writers = append(writers, f)
		return nil
	}

	for _, path := range []string{cfg.AccessLogPath, cfg.ErrorLogPath, cfg.DebugLogPath} {
		if err := open(path); err != nil {
			for _, f := range files {
				_ = f.Close()
			}
			return nil, nil, err
		}
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	base := slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: slog.LevelDebug})
	closer := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	return slog.New(logctx.WithHandler(base)), closer, nil
}
