package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aescanero/agentgraph/internal/application/workers"
	"github.com/aescanero/agentgraph/pkg/domain"
	"github.com/aescanero/agentgraph/pkg/ports"
)

// TaskService is the orchestrator surface the API needs
type TaskService interface {
	Submit(ctx context.Context, spec *domain.GraphSpec) (string, error)
	GetStatus(ctx context.Context, taskID string) (*domain.TaskRun, error)
	List(ctx context.Context) ([]domain.RunSummary, error)
	Cancel(ctx context.Context, taskID string) error
}

// HealthReporter reports orchestrator health
type HealthReporter interface {
	GetStatus() *workers.HealthStatus
}

// Server represents the HTTP API server
type Server struct {
	router *gin.Engine
	server *http.Server
	tasks  TaskService
	agents ports.AgentCatalog
	tools  ports.ToolInvoker
	health HealthReporter
	logger *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port   int
	Tasks  TaskService
	Agents ports.AgentCatalog
	Tools  ports.ToolInvoker
	Health HealthReporter
	// Gatherer backs /metrics; nil uses the default registry
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		router: router,
		tasks:  cfg.Tasks,
		agents: cfg.Agents,
		tools:  cfg.Tools,
		health: cfg.Health,
		logger: cfg.Logger,
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.setupRoutes(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(metrics http.Handler) {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(metrics))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/tasks", s.handleSubmitTask)
		v1.GET("/tasks", s.handleListTasks)
		v1.GET("/tasks/:id", s.handleGetTask)
		v1.GET("/tasks/:id/result", s.handleGetResult)
		v1.POST("/tasks/:id/cancel", s.handleCancelTask)
		v1.DELETE("/tasks/:id", s.handleCancelTask)

		v1.GET("/agents", s.handleListAgents)
		v1.GET("/agents/:type", s.handleGetAgent)
		v1.GET("/tools", s.handleListTools)
		v1.POST("/tools/:name/invoke", s.handleInvokeTool)

		v1.GET("/examples", s.handleListExamples)
		v1.POST("/examples/:name/run", s.handleRunExample)
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}
