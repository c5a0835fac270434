// Package main is the entry point for the Iris daemon: it wires config,
// storage, the process pool, session manager, async orchestrator, and
// approvals table together and serves until a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/irisrun/iris/internal/approvals"
	"github.com/irisrun/iris/internal/config"
	"github.com/irisrun/iris/internal/events"
	"github.com/irisrun/iris/internal/orchestrator"
	"github.com/irisrun/iris/internal/pool"
	"github.com/irisrun/iris/internal/sessionstore"
	"github.com/irisrun/iris/internal/team"
	"github.com/irisrun/iris/internal/telemetry/logger"
	"github.com/irisrun/iris/internal/telemetry/metrics"
	"github.com/irisrun/iris/internal/transport"
)

func main() {
	configPath := flag.String("config", "teams.yaml", "path to the team registry document")
	dbPath := flag.String("db", "iris.db", "path to the session store sqlite database")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  *logLevel,
		Format: "json",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting iris daemon", zap.String("config", *configPath))

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Open the session store
	absDB, err := filepath.Abs(*dbPath)
	if err != nil {
		log.Fatal("failed to resolve db path", zap.Error(err))
	}
	store, err := sessionstore.Open(absDB)
	if err != nil {
		log.Fatal("failed to open session store", zap.Error(err))
	}
	defer store.Close()
	if err := store.ResetRuntimeState(ctx); err != nil {
		log.Fatal("failed to reset runtime state", zap.Error(err))
	}
	log.Info("opened session store", zap.String("path", absDB))

	// 5. In-process event bus
	bus := events.NewChannelBus()

	// 6. Team registry
	registry := team.NewRegistry(log, cfg.Teams)
	log.Info("loaded team registry", zap.Int("teams", len(registry.All())))

	// 7. Prometheus metrics
	m := metrics.New()
	m.SetPoolMaxProcesses(cfg.Pool.MaxProcesses)

	// 8. Process pool
	poolCfg := pool.Config{
		MaxProcesses:        cfg.Pool.MaxProcesses,
		SpawnTimeout:        cfg.Pool.SpawnTimeout,
		HealthSweepInterval: cfg.Pool.HealthSweepInterval,
	}
	procPool := pool.New(poolCfg, registry, newTransport, m, bus, log)
	log.Info("started process pool", zap.Int("maxProcesses", poolCfg.MaxProcesses))

	// 9. Session manager
	sessions, err := sessionstore.New(ctx, store, registry, cfg.Pool.SessionInitTimeout, log)
	if err != nil {
		log.Fatal("failed to start session manager", zap.Error(err))
	}

	// 10. Async task orchestrator
	orch := orchestrator.New(sessions, procPool, bus, m, log)

	// 11. Pending approvals table
	approvalTable := approvals.New(bus, 30*time.Second, log, m)

	log.Info("iris daemon ready")

	// 12. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down iris daemon...")

	// 13. Graceful shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	approvalTable.ClearAll()

	// orch.Shutdown drains queued tasks and terminates the pool's
	// transports once in-flight work finishes.
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Error("orchestrator shutdown error", zap.Error(err))
	}

	log.Info("iris daemon stopped")
}

// newTransport selects a Local or Remote transport for a team depending on
// whether its config names an SSH remote (§6).
func newTransport(key string, cfg team.TeamConfig, sessionID string, log *logger.Logger) transport.Transport {
	if cfg.IsRemote() {
		return transport.NewRemote(key, cfg, sessionID, log)
	}
	return transport.NewLocal(key, cfg, sessionID, log)
}
