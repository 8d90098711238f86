package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/aescanero/agentgraph/pkg/domain"
)

// Backend names
const (
	BackendMemory     = "memory"
	BackendRedis      = "redis"
	BackendMySQL      = "mysql"
	BackendRabbitMQ   = "rabbitmq"
	BackendInProcess  = "inprocess"
	BackendSubprocess = "subprocess"
)

// Config holds all configuration for the agentgraph daemon
type Config struct {
	// Server configuration
	HTTPPort int    `env:"AGENTGRAPH_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"AGENTGRAPH_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Orchestrator configuration
	Orchestrator OrchestratorConfig

	// Sandbox configuration
	Sandbox SandboxConfig

	// Storage and events
	Storage  StorageConfig
	Events   EventsConfig
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig

	// LLM configuration
	LLM LLMConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// OrchestratorConfig holds the run defaults and the limiter capacity
type OrchestratorConfig struct {
	MaxConcurrentAgents    int                  `env:"MAX_CONCURRENT_AGENTS" envDefault:"5"`
	AgentTimeoutSeconds    int                  `env:"AGENT_TIMEOUT_SECONDS" envDefault:"300"`
	RetryAttempts          int                  `env:"RETRY_ATTEMPTS" envDefault:"3"`
	FailurePolicy          domain.FailurePolicy `env:"FAILURE_POLICY" envDefault:"fail_fast"`
	RetryInitialBackoff    time.Duration        `env:"RETRY_INITIAL_BACKOFF" envDefault:"500ms"`
	RetryMaxBackoff        time.Duration        `env:"RETRY_MAX_BACKOFF" envDefault:"30s"`
	RetryBackoffMultiplier float64              `env:"RETRY_BACKOFF_MULTIPLIER" envDefault:"2.0"`
	HealthCheckInterval    time.Duration        `env:"HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// SandboxConfig selects the isolation backend for agent invocations
type SandboxConfig struct {
	Backend     string        `env:"SANDBOX_BACKEND" envDefault:"inprocess"`
	GracePeriod time.Duration `env:"SANDBOX_GRACE_PERIOD" envDefault:"5s"`
	// Executable defaults to the running binary
	Executable string `env:"SANDBOX_EXECUTABLE"`
}

// StorageConfig selects the state store
type StorageConfig struct {
	Backend  string        `env:"STORAGE_BACKEND" envDefault:"redis"`
	StateTTL time.Duration `env:"STATE_TTL" envDefault:"24h"`
	MySQLDSN string        `env:"MYSQL_DSN"`
}

// EventsConfig selects the event bus
type EventsConfig struct {
	Backend       string `env:"EVENTS_BACKEND" envDefault:"redis"`
	ConsumerGroup string `env:"EVENTS_CONSUMER_GROUP" envDefault:"agentgraph"`
	StreamMaxLen  int64  `env:"EVENTS_STREAM_MAX_LEN" envDefault:"10000"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// RabbitMQConfig holds broker connection configuration
type RabbitMQConfig struct {
	URL      string `env:"RABBITMQ_URL"`
	Exchange string `env:"RABBITMQ_EXCHANGE" envDefault:"agentgraph.events"`
	Prefetch int    `env:"RABBITMQ_PREFETCH" envDefault:"32"`
}

// LLMConfig holds LLM provider configuration. The llm_prompt agent is only
// registered when APIKey is set.
type LLMConfig struct {
	Provider       string        `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey         string        `env:"LLM_API_KEY"`
	RequestTimeout time.Duration `env:"LLM_REQUEST_TIMEOUT" envDefault:"120s"`

	// Default model settings
	DefaultModel     string `env:"LLM_DEFAULT_MODEL" envDefault:"claude-3-5-sonnet-20241022"`
	DefaultMaxTokens int    `env:"LLM_DEFAULT_MAX_TOKENS" envDefault:"4096"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	GraphExecutionTimeout time.Duration `env:"TIMEOUT_GRAPH_EXECUTION" envDefault:"3600s"` // 1 hour
	ShutdownTimeout       time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	// Validate orchestrator config
	o := c.Orchestrator
	if o.MaxConcurrentAgents < 1 {
		return fmt.Errorf("max concurrent agents must be at least 1")
	}
	if o.AgentTimeoutSeconds < 1 {
		return fmt.Errorf("agent timeout must be at least 1 second")
	}
	if o.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
	}
	if !o.FailurePolicy.Valid() {
		return fmt.Errorf("invalid failure policy: %s (must be fail_fast or best_effort)", o.FailurePolicy)
	}
	if o.RetryBackoffMultiplier < 1 {
		return fmt.Errorf("retry backoff multiplier must be at least 1")
	}

	switch c.Sandbox.Backend {
	case BackendInProcess, BackendSubprocess:
	default:
		return fmt.Errorf("unsupported sandbox backend: %s", c.Sandbox.Backend)
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required")
		}
	case BackendMySQL:
		if c.Storage.MySQLDSN == "" {
			return fmt.Errorf("MYSQL_DSN is required for the mysql storage backend")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}

	switch c.Events.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required")
		}
	case BackendRabbitMQ:
		if c.RabbitMQ.URL == "" {
			return fmt.Errorf("RABBITMQ_URL is required for the rabbitmq events backend")
		}
	default:
		return fmt.Errorf("unsupported events backend: %s", c.Events.Backend)
	}

	// Validate LLM config
	if c.LLM.APIKey != "" && c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unsupported LLM provider: %s (only 'anthropic' is supported)", c.LLM.Provider)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// UsesRedis reports whether any backend needs a Redis client
func (c *Config) UsesRedis() bool {
	return c.Storage.Backend == BackendRedis || c.Events.Backend == BackendRedis
}

// AgentTimeout returns the default per-attempt agent timeout
func (o OrchestratorConfig) AgentTimeout() time.Duration {
	return time.Duration(o.AgentTimeoutSeconds) * time.Second
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
