// Processd runs the pattern orchestration engine behind an HTTP API.
//
// Configuration is loaded from ~/.config/processd/config.yaml (or -config)
// and PROCESSD_-prefixed environment variables. See internal/config.
//
// Usage:
//
//	# Start server with defaults
//	processd
//
//	# Persist CRM rows and publish run events
//	PROCESSD_STORE_DRIVER=bolt PROCESSD_STORE_PATH=/var/lib/processd/crm.db \
//	PROCESSD_NATS_ENABLED=true processd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/processd/internal/config"
	"github.com/fyrsmithlabs/processd/internal/events"
	"github.com/fyrsmithlabs/processd/internal/http"
	"github.com/fyrsmithlabs/processd/internal/logging"
	"github.com/fyrsmithlabs/processd/internal/pattern"
	"github.com/fyrsmithlabs/processd/internal/store"
	"github.com/fyrsmithlabs/processd/internal/telemetry"
	"github.com/fyrsmithlabs/processd/pkg/engine"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const instrumentationName = "github.com/fyrsmithlabs/processd"

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  processd [-config path]   Start the processd server\n")
			fmt.Fprintf(os.Stderr, "  processd version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("processd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the engine and serves HTTP until ctx is cancelled:
//  1. Initializes logger and telemetry
//  2. Opens the row store and connects to NATS when enabled
//  3. Builds the engine from config and the definitions file
//  4. Serves HTTP, then shuts everything down in reverse order
func run(ctx context.Context, cfg *config.Config) error {
	logger, err := initLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zl := logger.Underlying()

	zl.Info("starting processd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("nats", cfg.NATS.Enabled),
	)

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			zl.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()
	if h := tel.Health(); h.Degraded {
		zl.Warn("telemetry degraded", zap.Strings("problems", h.Problems))
	}

	st, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	if c, ok := st.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				zl.Warn("failed to close store", zap.Error(err))
			}
		}()
	}

	opts := append(engine.FromConfig(cfg.Engine),
		engine.WithLogger(logger),
		engine.WithStore(st),
		engine.WithPrometheus(prometheus.DefaultRegisterer),
		engine.WithTracer(tel.Tracer(instrumentationName)),
		engine.WithMeter(tel.Meter(instrumentationName)),
		engine.WithRunRecording(),
	)
	if cfg.Engine.DefinitionsPath != "" {
		defs, err := pattern.LoadFile(cfg.Engine.DefinitionsPath)
		if err != nil {
			return fmt.Errorf("failed to load definitions: %w", err)
		}
		opts = append(opts, engine.WithDefinitions(defs))
	}

	var serverOpts []http.Option
	if cfg.NATS.Enabled {
		nc, err := connectNATS(cfg.NATS, zl)
		if err != nil {
			return err
		}
		defer nc.Close()
		opts = append(opts, engine.WithPublisher(events.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix)))
		serverOpts = append(serverOpts, http.WithEvents(nc, cfg.NATS.SubjectPrefix))
	}

	// The store is closed by the deferred call above, not by the engine.
	eng, err := engine.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	for _, g := range eng.Audit() {
		zl.Warn("step tool has no contract",
			zap.String("pattern_id", g.PatternID),
			zap.Int("step", g.StepOrder),
			zap.String("tool", g.Tool),
		)
	}

	serverOpts = append(serverOpts, http.WithMeter(tel.Meter(instrumentationName)))
	srv, err := http.NewServer(eng, zl.Named("http"), &http.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, serverOpts...)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, stdhttp.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// initLogger builds the structured logger from observability settings.
func initLogger(obs config.ObservabilityConfig) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig()
	lc.Format = obs.LogFormat
	if obs.LogLevel != "" {
		level, err := logging.LevelFromString(obs.LogLevel)
		if err != nil {
			return nil, err
		}
		lc.Level = level
	}
	if obs.ServiceName != "" {
		lc.Fields = map[string]string{"service": obs.ServiceName}
	}
	lc.Output.OTEL = obs.LogOTEL
	return logging.NewLogger(lc, global.GetLoggerProvider())
}

func openStore(cfg config.StoreConfig) (store.Writer, error) {
	switch cfg.Driver {
	case config.StoreBolt:
		st, err := store.NewBoltStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open store at %s: %w", cfg.Path, err)
		}
		return st, nil
	default:
		return store.NewMemoryStore(), nil
	}
}

func connectNATS(cfg config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("processd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1 * time.Second),
	}
	if cfg.Token.IsSet() {
		opts = append(opts, nats.Token(cfg.Token.Value()))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	logger.Info("connected to NATS", zap.String("url", cfg.URL))
	return nc, nil
}
