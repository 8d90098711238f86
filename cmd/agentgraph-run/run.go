package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aescanero/agentgraph/internal/application/orchestrator"
	"github.com/aescanero/agentgraph/internal/bootstrap"
	"github.com/aescanero/agentgraph/internal/config"
	"github.com/aescanero/agentgraph/internal/graphspec"
	"github.com/aescanero/agentgraph/pkg/adapters/metrics/noop"
	"github.com/aescanero/agentgraph/pkg/domain"
	"github.com/aescanero/agentgraph/pkg/ports"
)

// loadConfig reads the environment and forces in-memory backends
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.Storage.Backend = config.BackendMemory
	cfg.Events.Backend = config.BackendMemory
	if flagMaxConcurrent > 0 {
		cfg.Orchestrator.MaxConcurrentAgents = flagMaxConcurrent
	}
	if flagTimeout != "" {
		d, err := time.ParseDuration(flagTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid --timeout: %w", err)
		}
		cfg.Timeouts.GraphExecutionTimeout = d
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return cfg, nil
}

func loadSpec(path string) (*domain.GraphSpec, error) {
	spec, err := graphspec.Load(path)
	if err != nil {
		return nil, err
	}
	if flagPolicy != "" {
		spec.FailurePolicy = domain.FailurePolicy(flagPolicy)
	}
	return spec, nil
}

func runGraph(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	logger, err := bootstrap.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	spec, err := loadSpec(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := noop.NewCollector()
	backends, err := bootstrap.OpenBackends(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open backends: %w", err)
	}
	defer backends.Close()

	catalog, err := bootstrap.NewCatalog(cfg, metrics, logger)
	if err != nil {
		return err
	}
	sandbox, err := bootstrap.NewSandbox(cfg, catalog, logger)
	if err != nil {
		return err
	}
	orch, err := bootstrap.NewOrchestrator(cfg, backends, sandbox, catalog, metrics, logger)
	if err != nil {
		return err
	}

	if flagWatch {
		if err := backends.Events.Subscribe(ctx, ports.TaskEventsTopic, printEvent); err != nil {
			logger.Warn("failed to subscribe to task events", zap.Error(err))
		}
	}

	taskID, err := orch.Manager.Submit(ctx, spec)
	if err != nil {
		return fmt.Errorf("graph rejected: %w", err)
	}

	// an interrupt cancels the run and still prints its final state
	go func() {
		<-ctx.Done()
		cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Manager.Cancel(cancelCtx, taskID)
	}()

	final, err := orch.Manager.Wait(context.Background(), taskID)
	if err != nil {
		return fmt.Errorf("wait for run: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(final); err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	printSummary(final)
	if final.Status != domain.RunStatusCompleted {
		return &exitError{code: 3}
	}
	return nil
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <graph-file>",
		Short: "Check a graph file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			spec, err := loadSpec(args[0])
			if err != nil {
				return err
			}
			catalog, err := bootstrap.NewCatalog(cfg, noop.NewCollector(), zap.NewNop())
			if err != nil {
				return err
			}
			g, err := orchestrator.NewValidator(catalog.Agents).Validate(spec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s graph is valid: %d nodes\n", okMark, g.Len())
			return nil
		},
	}
}

func runSandboxChild(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	logger, err := bootstrap.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := bootstrap.RunSandboxChild(ctx, cfg, noop.NewCollector(), logger); err != nil {
		return &exitError{code: 2, err: err}
	}
	return nil
}
