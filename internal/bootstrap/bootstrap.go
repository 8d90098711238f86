// Package bootstrap wires configuration into the concrete adapters shared by
// the agentgraph binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aescanero/agentgraph/internal/application/orchestrator"
	"github.com/aescanero/agentgraph/internal/application/runner"
	"github.com/aescanero/agentgraph/internal/application/workers"
	"github.com/aescanero/agentgraph/internal/config"
	memoryevents "github.com/aescanero/agentgraph/pkg/adapters/events/memory"
	"github.com/aescanero/agentgraph/pkg/adapters/events/rabbitmq"
	redisevents "github.com/aescanero/agentgraph/pkg/adapters/events/redis"
	"github.com/aescanero/agentgraph/pkg/adapters/llm"
	"github.com/aescanero/agentgraph/pkg/adapters/sandbox/inprocess"
	"github.com/aescanero/agentgraph/pkg/adapters/sandbox/subprocess"
	memorystorage "github.com/aescanero/agentgraph/pkg/adapters/storage/memory"
	"github.com/aescanero/agentgraph/pkg/adapters/storage/mysql"
	redisstorage "github.com/aescanero/agentgraph/pkg/adapters/storage/redis"
	"github.com/aescanero/agentgraph/pkg/adapters/tools/local"
	"github.com/aescanero/agentgraph/pkg/agents"
	"github.com/aescanero/agentgraph/pkg/ports"
)

// NewLogger builds the production zap logger at level. Output goes to
// stderr, which keeps stdout free for the sandbox child protocol.
func NewLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Catalog is the agent and tool registries handed to the sandbox
type Catalog struct {
	Agents *agents.Registry
	Tools  *local.Registry
}

// NewCatalog registers the built-in agents and local tools. The llm_prompt
// agent is only available when an LLM API key is configured.
func NewCatalog(cfg *config.Config, metrics ports.MetricsCollector, logger *zap.Logger) (*Catalog, error) {
	var llmClient ports.LLMClient
	if cfg.LLM.APIKey != "" {
		c, err := llm.NewClient(&llm.Config{
			Provider:       cfg.LLM.Provider,
			APIKey:         cfg.LLM.APIKey,
			DefaultModel:   cfg.LLM.DefaultModel,
			RequestTimeout: cfg.LLM.RequestTimeout,
			Metrics:        metrics,
			Logger:         logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		llmClient = c
	} else {
		logger.Info("LLM_API_KEY not set, llm_prompt agent disabled")
	}

	registry := agents.NewRegistry()
	if err := agents.RegisterBuiltins(registry, llmClient, cfg.LLM.DefaultModel, cfg.LLM.DefaultMaxTokens); err != nil {
		return nil, err
	}

	return &Catalog{
		Agents: registry,
		Tools:  local.NewDefaultRegistry(metrics, logger),
	}, nil
}

// Backends holds the state store and event bus selected by configuration
type Backends struct {
	Store  ports.StateStore
	Events ports.EventBus

	closers []func() error
}

// OpenBackends connects the configured storage and events backends
func OpenBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backends, error) {
	b := &Backends{}

	var redisClient *goredis.Client
	if cfg.UsesRedis() {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	switch cfg.Storage.Backend {
	case config.BackendMemory:
		b.Store = memorystorage.NewStateStore()
	case config.BackendRedis:
		b.Store = redisstorage.NewStateStore(redisClient, cfg.Storage.StateTTL, logger)
	case config.BackendMySQL:
		store, err := mysql.Open(ctx, cfg.Storage.MySQLDSN, logger)
		if err != nil {
			b.closeRedis(redisClient)
			return nil, err
		}
		b.Store = store
		b.closers = append(b.closers, store.Close)
		logger.Info("connected to MySQL")
	default:
		b.closeRedis(redisClient)
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
	}

	switch cfg.Events.Backend {
	case config.BackendMemory:
		b.Events = memoryevents.NewEventBus(logger)
	case config.BackendRedis:
		bus, err := redisevents.NewStreamsEventBus(
			redisClient,
			cfg.Events.ConsumerGroup,
			fmt.Sprintf("agentgraph-%d", os.Getpid()),
			cfg.Events.StreamMaxLen,
			logger,
		)
		if err != nil {
			_ = b.Close()
			b.closeRedis(redisClient)
			return nil, fmt.Errorf("failed to create event bus: %w", err)
		}
		b.Events = bus
	case config.BackendRabbitMQ:
		bus, err := rabbitmq.NewEventBus(rabbitmq.Config{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
			Prefetch: cfg.RabbitMQ.Prefetch,
		}, logger)
		if err != nil {
			_ = b.Close()
			b.closeRedis(redisClient)
			return nil, fmt.Errorf("failed to create event bus: %w", err)
		}
		b.Events = bus
		logger.Info("connected to RabbitMQ", zap.String("exchange", cfg.RabbitMQ.Exchange))
	default:
		_ = b.Close()
		b.closeRedis(redisClient)
		return nil, fmt.Errorf("unsupported events backend: %s", cfg.Events.Backend)
	}

	// the event bus goes first so readers stop before the client closes
	b.closers = append([]func() error{b.Events.Close}, b.closers...)
	if redisClient != nil {
		b.closers = append(b.closers, redisClient.Close)
	}
	return b, nil
}

func (b *Backends) closeRedis(client *goredis.Client) {
	if client != nil {
		_ = client.Close()
	}
}

// Close releases every backend connection
func (b *Backends) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// NewSandbox builds the configured sandbox backend
func NewSandbox(cfg *config.Config, catalog *Catalog, logger *zap.Logger) (ports.Sandbox, error) {
	switch cfg.Sandbox.Backend {
	case config.BackendInProcess:
		return inprocess.New(catalog.Agents, catalog.Tools, cfg.Sandbox.GracePeriod, logger), nil
	case config.BackendSubprocess:
		executable := cfg.Sandbox.Executable
		if executable == "" {
			self, err := os.Executable()
			if err != nil {
				return nil, fmt.Errorf("failed to resolve sandbox executable: %w", err)
			}
			executable = self
		}
		return subprocess.New(executable, cfg.Sandbox.GracePeriod, logger), nil
	default:
		return nil, fmt.Errorf("unsupported sandbox backend: %s", cfg.Sandbox.Backend)
	}
}

// Orchestrator is the assembled scheduling core
type Orchestrator struct {
	Manager *orchestrator.Manager
	Limiter *workers.Limiter
}

// NewOrchestrator assembles limiter, runner, validator and manager
func NewOrchestrator(
	cfg *config.Config,
	backends *Backends,
	sandbox ports.Sandbox,
	catalog *Catalog,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) (*Orchestrator, error) {
	limiter, err := workers.NewLimiter(cfg.Orchestrator.MaxConcurrentAgents, metrics)
	if err != nil {
		return nil, err
	}

	r := runner.New(sandbox, limiter, runner.BackoffConfig{
		InitialInterval: cfg.Orchestrator.RetryInitialBackoff,
		MaxInterval:     cfg.Orchestrator.RetryMaxBackoff,
		Multiplier:      cfg.Orchestrator.RetryBackoffMultiplier,
	}, metrics, logger)

	mgr := orchestrator.NewManager(
		backends.Store,
		backends.Events,
		metrics,
		r,
		orchestrator.NewValidator(catalog.Agents),
		orchestrator.Settings{
			AgentTimeout:  cfg.Orchestrator.AgentTimeout(),
			RetryAttempts: cfg.Orchestrator.RetryAttempts,
			FailurePolicy: cfg.Orchestrator.FailurePolicy,
			GraphTimeout:  cfg.Timeouts.GraphExecutionTimeout,
		},
		logger,
	)

	return &Orchestrator{Manager: mgr, Limiter: limiter}, nil
}

// IsSandboxChild reports whether args select the sandbox child mode
func IsSandboxChild(args []string) bool {
	return len(args) > 1 && args[1] == subprocess.ExecCommand
}

// RunSandboxChild serves one invocation on stdin/stdout through an
// in-process sandbox. ctx should be cancelled on SIGTERM.
func RunSandboxChild(ctx context.Context, cfg *config.Config, metrics ports.MetricsCollector, logger *zap.Logger) error {
	catalog, err := NewCatalog(cfg, metrics, logger)
	if err != nil {
		return err
	}
	inner := inprocess.New(catalog.Agents, catalog.Tools, cfg.Sandbox.GracePeriod, logger)
	return subprocess.Serve(ctx, inner, os.Stdin, os.Stdout)
}
