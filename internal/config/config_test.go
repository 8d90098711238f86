package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/agentgraph/pkg/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9090, cfg.GRPCPort)
	assert.Equal(t, 5, cfg.Orchestrator.MaxConcurrentAgents)
	assert.Equal(t, 300*time.Second, cfg.Orchestrator.AgentTimeout())
	assert.Equal(t, 3, cfg.Orchestrator.RetryAttempts)
	assert.Equal(t, domain.FailFast, cfg.Orchestrator.FailurePolicy)
	assert.Equal(t, 500*time.Millisecond, cfg.Orchestrator.RetryInitialBackoff)
	assert.Equal(t, BackendInProcess, cfg.Sandbox.Backend)
	assert.Equal(t, BackendRedis, cfg.Storage.Backend)
	assert.Equal(t, time.Hour, cfg.Timeouts.GraphExecutionTimeout)
	assert.Empty(t, cfg.LLM.APIKey)
	assert.True(t, cfg.UsesRedis())
	assert.Equal(t, ":8080", cfg.GetHTTPAddr())
	assert.Equal(t, ":9090", cfg.GetGRPCAddr())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_AGENTS", "2")
	t.Setenv("AGENT_TIMEOUT_SECONDS", "30")
	t.Setenv("RETRY_ATTEMPTS", "5")
	t.Setenv("FAILURE_POLICY", "best_effort")
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("EVENTS_BACKEND", "memory")
	t.Setenv("SANDBOX_BACKEND", "subprocess")
	t.Setenv("TIMEOUT_GRAPH_EXECUTION", "10m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Orchestrator.MaxConcurrentAgents)
	assert.Equal(t, 30*time.Second, cfg.Orchestrator.AgentTimeout())
	assert.Equal(t, 5, cfg.Orchestrator.RetryAttempts)
	assert.Equal(t, domain.BestEffort, cfg.Orchestrator.FailurePolicy)
	assert.Equal(t, BackendSubprocess, cfg.Sandbox.Backend)
	assert.Equal(t, 10*time.Minute, cfg.Timeouts.GraphExecutionTimeout)
	assert.False(t, cfg.UsesRedis())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "zero capacity",
			env:     map[string]string{"MAX_CONCURRENT_AGENTS": "0"},
			wantErr: "max concurrent agents",
		},
		{
			name:    "zero retry attempts",
			env:     map[string]string{"RETRY_ATTEMPTS": "0"},
			wantErr: "retry attempts",
		},
		{
			name:    "unknown policy",
			env:     map[string]string{"FAILURE_POLICY": "sometimes"},
			wantErr: "invalid failure policy",
		},
		{
			name:    "bad port",
			env:     map[string]string{"AGENTGRAPH_HTTP_PORT": "70000"},
			wantErr: "invalid HTTP port",
		},
		{
			name:    "mysql without dsn",
			env:     map[string]string{"STORAGE_BACKEND": "mysql"},
			wantErr: "MYSQL_DSN",
		},
		{
			name:    "rabbitmq without url",
			env:     map[string]string{"EVENTS_BACKEND": "rabbitmq"},
			wantErr: "RABBITMQ_URL",
		},
		{
			name:    "unknown sandbox",
			env:     map[string]string{"SANDBOX_BACKEND": "docker"},
			wantErr: "unsupported sandbox backend",
		},
		{
			name:    "unknown llm provider with key",
			env:     map[string]string{"LLM_API_KEY": "k", "LLM_PROVIDER": "openai"},
			wantErr: "unsupported LLM provider",
		},
		{
			name:    "bad log level",
			env:     map[string]string{"LOG_LEVEL": "verbose"},
			wantErr: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateAcceptsUnknownProviderWithoutKey(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "openai")
	_, err := Load()
	assert.NoError(t, err)
}
