package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/aescanero/agentgraph/internal/application/workers"
	"github.com/aescanero/agentgraph/internal/bootstrap"
	"github.com/aescanero/agentgraph/internal/config"
	"github.com/aescanero/agentgraph/pkg/adapters/metrics/noop"
	"github.com/aescanero/agentgraph/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/agentgraph/pkg/api/grpc"
	"github.com/aescanero/agentgraph/pkg/api/http"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := bootstrap.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if bootstrap.IsSandboxChild(os.Args) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := bootstrap.RunSandboxChild(ctx, cfg, noop.NewCollector(), logger); err != nil {
			logger.Error("sandbox child failed", zap.Error(err))
			os.Exit(2)
		}
		return
	}

	logger.Info("starting agentgraph",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	ctx := context.Background()
	metricsCollector := prometheus.NewCollector(promclient.DefaultRegisterer)

	backends, err := bootstrap.OpenBackends(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open backends", zap.Error(err))
	}

	catalog, err := bootstrap.NewCatalog(cfg, metricsCollector, logger)
	if err != nil {
		logger.Fatal("failed to build agent catalog", zap.Error(err))
	}

	sandbox, err := bootstrap.NewSandbox(cfg, catalog, logger)
	if err != nil {
		logger.Fatal("failed to create sandbox", zap.Error(err))
	}

	orch, err := bootstrap.NewOrchestrator(cfg, backends, sandbox, catalog, metricsCollector, logger)
	if err != nil {
		logger.Fatal("failed to create orchestrator", zap.Error(err))
	}

	healthMonitor := workers.NewHealthMonitor(
		orch.Limiter,
		orch.Manager,
		metricsCollector,
		cfg.Orchestrator.HealthCheckInterval,
		logger,
	)
	healthMonitor.Start()

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:   cfg.HTTPPort,
		Tasks:  orch.Manager,
		Agents: catalog.Agents,
		Tools:  catalog.Tools,
		Health: healthMonitor,
		Logger: logger,
	})

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Health: healthMonitor,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	logger.Info("agentgraph started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("max_concurrent_agents", cfg.Orchestrator.MaxConcurrentAgents),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("events", cfg.Events.Backend),
		zap.String("sandbox", cfg.Sandbox.Backend),
		zap.Strings("agents", catalog.Agents.Types()))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	// Stop intake first, then drain runs
	if err := orch.Manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	healthMonitor.Stop()

	if err := backends.Close(); err != nil {
		logger.Error("backend close error", zap.Error(err))
	}

	logger.Info("agentgraph shut down complete")
}
