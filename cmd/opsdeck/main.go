// Command opsdeck is the operations console daemon.
//
// It maintains an authenticated connection to the control-plane gateway,
// mirrors the gateway's event stream and list endpoints into a local store,
// and reconnects automatically when the connection drops.
//
// Usage:
//
//	opsdeck [flags]
//
// Flags:
//
//	-config string     Configuration file path
//	-url string        Gateway websocket URL (overrides config)
//	-role string       Requested role (overrides config)
//	-data-dir string   Directory for identity and token files
//	-log-level string  Log level: debug, info, warn, error (default "info")
//	-trace-file string Append the CBOR connection trace to this file
//
// When no URL is configured, the daemon browses mDNS for a gateway.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/opsdeck/opsdeck-go/pkg/config"
	"github.com/opsdeck/opsdeck-go/pkg/discovery"
	"github.com/opsdeck/opsdeck-go/pkg/gateway"
	"github.com/opsdeck/opsdeck-go/pkg/identity"
	oplog "github.com/opsdeck/opsdeck-go/pkg/log"
	"github.com/opsdeck/opsdeck-go/pkg/poller"
	"github.com/opsdeck/opsdeck-go/pkg/store"
	"github.com/opsdeck/opsdeck-go/pkg/token"
	"github.com/opsdeck/opsdeck-go/pkg/wire"
)

const clientVersion = "0.1.0"

var (
	configPath = flag.String("config", "", "configuration file path")
	urlFlag    = flag.String("url", "", "gateway websocket URL (overrides config)")
	roleFlag   = flag.String("role", "", "requested role (overrides config)")
	dataDir    = flag.String("data-dir", "", "directory for identity and token files")
	logLevel   = flag.String("log-level", "", "log level: debug, info, warn, error")
	traceFile  = flag.String("trace-file", "", "append the CBOR connection trace to this file")
)

// consoleHandler feeds connection callbacks into the event log and slog.
type consoleHandler struct {
	events *store.EventLog
	logger *slog.Logger
}

func (h *consoleHandler) OnStatus(status gateway.Status) {
	switch {
	case status.Connected:
		h.logger.Info("gateway connected")
	case status.Err != nil:
		h.logger.Warn("gateway disconnected",
			"phase", status.Phase.String(), "error", status.Err,
			"code", status.Code, "reason", status.Reason)
	default:
		h.logger.Debug("gateway state change", "phase", status.Phase.String())
	}
}

func (h *consoleHandler) OnEvent(event *wire.Event) {
	seq := h.events.Append(event.Event, event.Payload)
	h.logger.Debug("gateway event", "event", event.Event, "seq", seq)
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	applyFlags(cfg)

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.GatewayURL == "" {
		logger.Info("no gateway URL configured, browsing mDNS")
		url, err := discovery.Discover(context.Background(), 0)
		if err != nil {
			logger.Error("gateway discovery failed", "error", err)
			os.Exit(1)
		}
		cfg.GatewayURL = url
		logger.Info("discovered gateway", "url", url)
	}

	identityStore := identity.NewStore(cfg.DataDir)
	id, err := identityStore.LoadOrCreate()
	if err != nil {
		logger.Error("failed to load device identity", "error", err)
		os.Exit(1)
	}
	logger.Info("device identity ready", "deviceId", id.DeviceID)

	tokens := token.NewStore(cfg.DataDir)

	tracer := newTracer(cfg.TraceFile, cfg.LogLevel, logger)

	events := store.NewEventLog(0)
	table := store.NewTable()
	handler := &consoleHandler{events: events, logger: logger}

	conn := gateway.New(gateway.Config{
		URL:            cfg.GatewayURL,
		Role:           cfg.Role,
		Scopes:         cfg.Scopes,
		AuthToken:      cfg.AuthToken,
		ClientID:       cfg.ClientID,
		ClientVersion:  clientVersion,
		ClientMode:     cfg.ClientMode,
		ReconnectDelay: cfg.ReconnectDelay.Std(),
	}, id, tokens, handler, tracer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("connecting", "url", cfg.GatewayURL, "role", cfg.Role)
	conn.Start()

	p := poller.New(poller.Config{Interval: cfg.PollInterval.Std()}, conn, table, logger)
	go p.Run(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	cancel()
	conn.Stop()
}

// applyFlags overlays command line flags onto the loaded config.
func applyFlags(cfg *config.Config) {
	if *urlFlag != "" {
		cfg.GatewayURL = *urlFlag
	}
	if *roleFlag != "" {
		cfg.Role = *roleFlag
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *traceFile != "" {
		cfg.TraceFile = *traceFile
	}
}

// newLogger builds the console slog logger.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// newTracer picks the connection tracer: the CBOR trace file when
// configured, the slog adapter at debug level, otherwise noop.
func newTracer(path, level string, logger *slog.Logger) oplog.Logger {
	if path != "" {
		tracer, err := oplog.NewFileLogger(path)
		if err == nil {
			// The process exits after Stop; the file is closed by the OS.
			return tracer
		}
		logger.Warn("failed to open trace file, tracing disabled",
			"path", path, "error", err)
	}
	if level == "debug" {
		return oplog.NewSlogAdapter(logger)
	}
	return oplog.NoopLogger{}
}
