// Banditd is the creative-parameter decision daemon.
//
// It serves decision and learning endpoints over HTTP, persists bandit state
// in the configured backend, and matures rewards either through Temporal
// workflows or an in-process sweep loop.
//
// Usage:
//
//	# Start with the default config (~/.config/banditd/config.yaml)
//	banditd
//
//	# Start with an explicit config file
//	banditd -config /etc/banditd/config.yaml
//
//	# Configure via environment
//	SERVER_HTTP_PORT=9090 STORE_BACKEND=nats banditd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/banditd/internal/bandit"
	"github.com/fyrsmithlabs/banditd/internal/config"
	"github.com/fyrsmithlabs/banditd/internal/decisionlog"
	"github.com/fyrsmithlabs/banditd/internal/embeddings"
	"github.com/fyrsmithlabs/banditd/internal/events"
	banditdhttp "github.com/fyrsmithlabs/banditd/internal/http"
	"github.com/fyrsmithlabs/banditd/internal/logging"
	"github.com/fyrsmithlabs/banditd/internal/reward"
	"github.com/fyrsmithlabs/banditd/internal/scheduler"
	"github.com/fyrsmithlabs/banditd/internal/store"
	"github.com/fyrsmithlabs/banditd/internal/telemetry"
	"github.com/fyrsmithlabs/banditd/internal/workflows"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
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
			fmt.Fprintf(os.Stderr, "  banditd            Start the banditd daemon\n")
			fmt.Fprintf(os.Stderr, "  banditd version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("banditd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the banditd server and blocks until context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the structured logger
//  3. Connects to infrastructure (NATS, Postgres, Qdrant as configured)
//  4. Opens the optional embeddings provider and decision log
//  5. Builds the decision engine and the reward maturation driver
//     (Temporal worker when workflows are enabled, sweep loop otherwise)
//  6. Watches the config file for action-space and reward hot reloads
//  7. Starts the HTTP server
//
// Returns http.ErrServerClosed on graceful shutdown.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.Shutdown.Timeout)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	appLogger, err := logging.NewLogger(&cfg.Logging, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := appLogger.Underlying()
	defer func() {
		_ = appLogger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting banditd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.Bool("workflows_enabled", cfg.Workflows.Enabled),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info("Dependencies initialized",
		zap.Bool("nats_connected", deps.natsConn != nil),
		zap.Bool("embedder_ready", deps.embedder != nil),
		zap.Bool("decision_log_ready", deps.decisions != nil))

	shaper, err := reward.NewShaper(cfg.ShaperConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize reward shaper: %w", err)
	}

	engineDeps := bandit.Deps{
		Store:  deps.store,
		Shaper: shaper,
		Logger: logger,
	}
	if deps.decisions != nil {
		engineDeps.Sink = deps.decisions
	}
	if deps.events != nil {
		engineDeps.Events = deps.events
	}
	if deps.starter != nil {
		engineDeps.Lifecycle = deps.starter
	}

	engine, err := bandit.NewEngine(cfg.EngineConfig(), engineDeps)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	// Reward maturation: a Temporal worker drives per-post workflows when
	// enabled, otherwise the in-process sweep loop periodically learns
	// whatever is due.
	if cfg.Workflows.Enabled {
		w, err := workflows.NewWorker(deps.temporal, cfg.Workflows.TaskQueue, engine)
		if err != nil {
			return fmt.Errorf("failed to build temporal worker: %w", err)
		}
		if err := w.Start(); err != nil {
			return fmt.Errorf("failed to start temporal worker: %w", err)
		}
		defer w.Stop()
		logger.Info("Temporal worker started",
			zap.String("task_queue", cfg.Workflows.TaskQueue),
			zap.String("namespace", cfg.Workflows.Namespace))
	} else {
		sweeper, err := scheduler.NewSweeper(engine, logger,
			scheduler.WithInterval(cfg.Scheduler.Interval),
			scheduler.WithBatchSize(cfg.Scheduler.BatchSize),
			scheduler.WithRateLimit(cfg.Scheduler.RateLimit, cfg.Scheduler.Burst))
		if err != nil {
			return fmt.Errorf("failed to build sweeper: %w", err)
		}
		if err := sweeper.Start(); err != nil {
			return fmt.Errorf("failed to start sweeper: %w", err)
		}
		defer func() {
			_ = sweeper.Stop()
		}()
		logger.Info("Reward sweeper started",
			zap.Duration("interval", cfg.Scheduler.Interval),
			zap.Int("batch_size", cfg.Scheduler.BatchSize))
	}

	// Hot reload: action-space and reward edits apply without a restart.
	// Store and transport changes still require one.
	watcher, err := config.NewWatcher(configPath, logger, func(next *config.Config) {
		if err := engine.ReloadSpace(next.ActionSpace()); err != nil {
			logger.Warn("Action space reload rejected", zap.Error(err))
		}
		nextShaper, err := reward.NewShaper(next.ShaperConfig(), logger)
		if err != nil {
			logger.Warn("Reward config reload rejected", zap.Error(err))
			return
		}
		if err := engine.ReloadShaper(nextShaper); err != nil {
			logger.Warn("Reward shaper reload rejected", zap.Error(err))
		}
	})
	if err != nil {
		logger.Warn("Config watcher unavailable, hot reload disabled", zap.Error(err))
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn("Config watcher failed to start, hot reload disabled", zap.Error(err))
	} else {
		defer watcher.Stop()
	}

	srv, err := banditdhttp.NewServer(banditdhttp.Deps{
		Engine:    engine,
		Embedder:  deps.embedder,
		Decisions: deps.decisions,
		Logger:    logger,
	}, &banditdhttp.Config{
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to build http server: %w", err)
	}

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("api_prefix", "/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	// Blocks until context cancellation.
	return srv.Start(ctx)
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	natsConn  *nats.Conn
	store     store.Store
	events    *events.Publisher
	embedder  embeddings.Provider
	decisions *decisionlog.Log
	temporal  client.Client
	starter   *workflows.Starter
	logger    *zap.Logger
}

// Close releases all infrastructure resources. The HTTP server has already
// drained by the time this runs, so ordering only matters for the store
// sitting on top of the NATS connection.
func (d *dependencies) Close() {
	if d.temporal != nil {
		d.temporal.Close()
	}
	if d.decisions != nil {
		if err := d.decisions.Close(); err != nil {
			d.logger.Warn("Decision log close failed", zap.Error(err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("Store close failed", zap.Error(err))
		}
	}
	if d.natsConn != nil {
		d.natsConn.Close()
	}
}

// initDependencies initializes all infrastructure dependencies.
//
// This function:
//  1. Connects to NATS when the nats backend is selected
//  2. Opens the persistence backend (and Qdrant theta store when routed)
//  3. Builds the learn-event publisher on the shared NATS connection
//  4. Opens the optional embeddings provider and decision log
//  5. Dials Temporal when workflows are enabled
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{logger: logger}

	fail := func(err error) (*dependencies, error) {
		deps.Close()
		return nil, err
	}

	if cfg.Store.Backend == store.BackendNATS {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.NATS.Name),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
		)
		if err != nil {
			return fail(fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err))
		}
		deps.natsConn = nc
		logger.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))
	}

	opts := cfg.StoreOptions()
	opts.NATSConn = deps.natsConn
	st, err := store.Open(ctx, opts)
	if err != nil {
		return fail(fmt.Errorf("failed to open store: %w", err))
	}
	deps.store = st
	logger.Info("Store opened",
		zap.String("backend", cfg.Store.Backend),
		zap.String("theta_backend", cfg.Store.ThetaBackend))

	if deps.natsConn != nil && cfg.NATS.LearnSubject != "" {
		pub, err := events.NewPublisher(deps.natsConn, cfg.NATS.LearnSubject, logger)
		if err != nil {
			return fail(fmt.Errorf("failed to build learn publisher: %w", err))
		}
		deps.events = pub
		logger.Info("Learn events enabled", zap.String("subject", cfg.NATS.LearnSubject))
	}

	if cfg.Embeddings.Provider != "" {
		embedder, err := embeddings.NewProvider(embeddings.Config{
			Provider:  cfg.Embeddings.Provider,
			BaseURL:   cfg.Embeddings.BaseURL,
			APIKey:    cfg.Embeddings.APIKey.Value(),
			Model:     cfg.Embeddings.Model,
			Dimension: cfg.Embeddings.Dimension,
			Timeout:   cfg.Embeddings.Timeout,
		})
		if err != nil {
			return fail(fmt.Errorf("failed to create embedding provider: %w", err))
		}
		deps.embedder = embedder
		logger.Info("Embedding provider initialized",
			zap.String("provider", cfg.Embeddings.Provider),
			zap.String("model", cfg.Embeddings.Model),
			zap.Int("dimension", cfg.Embeddings.Dimension))
	}

	if cfg.DecisionLog.Enabled {
		declog, err := decisionlog.Open(decisionlog.Config{
			Path:       cfg.DecisionLog.Path,
			Collection: cfg.DecisionLog.Collection,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("failed to open decision log: %w", err))
		}
		deps.decisions = declog
	}

	if cfg.Workflows.Enabled {
		c, err := client.Dial(client.Options{
			HostPort:  cfg.Workflows.HostPort,
			Namespace: cfg.Workflows.Namespace,
		})
		if err != nil {
			return fail(fmt.Errorf("failed to dial temporal at %s: %w", cfg.Workflows.HostPort, err))
		}
		deps.temporal = c

		starter, err := workflows.NewStarter(c, cfg.Workflows.TaskQueue, cfg.Scheduler.Interval, logger)
		if err != nil {
			return fail(fmt.Errorf("failed to build workflow starter: %w", err))
		}
		deps.starter = starter
		logger.Info("Temporal connected",
			zap.String("host_port", cfg.Workflows.HostPort),
			zap.String("namespace", cfg.Workflows.Namespace))
	}

	return deps, nil
}
