package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/agentgraph/internal/application/orchestrator"
	"github.com/aescanero/agentgraph/internal/graphspec"
	"github.com/aescanero/agentgraph/pkg/domain"
	"github.com/aescanero/agentgraph/pkg/ports"
)

// TaskSubmitResponse represents a task submission response
type TaskSubmitResponse struct {
	TaskID      string           `json:"task_id"`
	Status      domain.RunStatus `json:"status"`
	SubmittedAt time.Time        `json:"submitted_at"`
}

// TaskResultResponse holds the per-node outcome of a finished run
type TaskResultResponse struct {
	TaskID      string                         `json:"task_id"`
	Status      domain.RunStatus               `json:"status"`
	Error       string                         `json:"error,omitempty"`
	Results     map[string]*domain.AgentResult `json:"results"`
	Errors      map[string]*domain.ErrorInfo   `json:"errors,omitempty"`
	NodeStatus  map[string]domain.NodeStatus   `json:"node_status"`
	CompletedAt *time.Time                     `json:"completed_at,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().UTC()})
		return
	}

	status := s.health.GetStatus()
	code := http.StatusOK
	state := "healthy"
	if !status.Healthy {
		code = http.StatusServiceUnavailable
		state = "unhealthy"
	}
	c.JSON(code, gin.H{
		"status":    state,
		"timestamp": status.Timestamp.UTC(),
		"checks": gin.H{
			"limiter":     status.Limiter,
			"active_runs": status.ActiveRuns,
			"saturated":   status.Saturated,
		},
	})
}

// handleSubmitTask parses a graph document (JSON or YAML) and starts a run
func (s *Server) handleSubmitTask(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil || len(body) == 0 {
		s.respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "request body is required", nil)
		return
	}

	spec, err := graphspec.Parse(body)
	if err != nil {
		s.writeError(c, err)
		return
	}

	taskID, err := s.tasks.Submit(c.Request.Context(), spec)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, TaskSubmitResponse{
		TaskID:      taskID,
		Status:      domain.RunStatusRunning,
		SubmittedAt: time.Now().UTC(),
	})
}

// handleListTasks handles listing runs
func (s *Server) handleListTasks(c *gin.Context) {
	runs, err := s.tasks.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	if status := c.Query("status"); status != "" {
		filtered := runs[:0]
		for _, r := range runs {
			if string(r.Status) == status {
				filtered = append(filtered, r)
			}
		}
		runs = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks": runs,
		"total": len(runs),
	})
}

// handleGetTask returns the full run snapshot
func (s *Server) handleGetTask(c *gin.Context) {
	run, err := s.tasks.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, run)
}

// handleGetResult returns per-node results once the run is terminal
func (s *Server) handleGetResult(c *gin.Context) {
	run, err := s.tasks.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	if !run.Status.IsTerminal() {
		s.respondError(c, http.StatusConflict, "NOT_COMPLETED", "task execution not yet completed", gin.H{
			"status": run.Status,
		})
		return
	}

	resp := TaskResultResponse{
		TaskID:      run.TaskID,
		Status:      run.Status,
		Error:       run.Error,
		Results:     make(map[string]*domain.AgentResult),
		NodeStatus:  make(map[string]domain.NodeStatus, len(run.NodeStates)),
		CompletedAt: run.CompletedAt,
	}
	for id, ns := range run.NodeStates {
		resp.NodeStatus[id] = ns.Status
		if ns.Result != nil {
			resp.Results[id] = ns.Result
		}
		if ns.Error != nil {
			if resp.Errors == nil {
				resp.Errors = make(map[string]*domain.ErrorInfo)
			}
			resp.Errors[id] = ns.Error
		}
	}

	c.JSON(http.StatusOK, resp)
}

// handleCancelTask handles run cancellation
func (s *Server) handleCancelTask(c *gin.Context) {
	taskID := c.Param("id")

	if err := s.tasks.Cancel(c.Request.Context(), taskID); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id":      taskID,
		"status":       "cancelling",
		"requested_at": time.Now().UTC(),
	})
}

// handleListAgents lists registered agent types
func (s *Server) handleListAgents(c *gin.Context) {
	types := []string{}
	if s.agents != nil {
		types = s.agents.Types()
	}
	c.JSON(http.StatusOK, gin.H{"agents": types})
}

// handleListTools lists tools agents can call
func (s *Server) handleListTools(c *gin.Context) {
	if s.tools == nil {
		c.JSON(http.StatusOK, gin.H{"tools": []interface{}{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": s.tools.Tools()})
}

// handleGetAgent describes one registered agent type
func (s *Server) handleGetAgent(c *gin.Context) {
	agentType := c.Param("type")
	if s.agents == nil {
		s.respondError(c, http.StatusNotFound, "NOT_FOUND", "agent type not found", nil)
		return
	}
	if _, ok := s.agents.Lookup(agentType); !ok {
		s.respondError(c, http.StatusNotFound, "NOT_FOUND", "agent type not found", nil)
		return
	}

	tools := []ports.ToolInfo{}
	if s.tools != nil {
		tools = s.tools.Tools()
	}
	c.JSON(http.StatusOK, gin.H{
		"agent_type": agentType,
		"tools":      tools,
	})
}

// ToolInvokeRequest carries the parameters of a direct tool call
type ToolInvokeRequest struct {
	Parameters map[string]interface{} `json:"parameters"`
}

// handleInvokeTool runs a tool outside any task run
func (s *Server) handleInvokeTool(c *gin.Context) {
	name := c.Param("name")
	if !s.hasTool(name) {
		s.respondError(c, http.StatusNotFound, "NOT_FOUND", "tool not found", nil)
		return
	}

	var req ToolInvokeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
	}
	if req.Parameters == nil {
		req.Parameters = map[string]interface{}{}
	}

	out, err := s.tools.Invoke(c.Request.Context(), name, req.Parameters)
	if err != nil {
		info := domain.AsErrorInfo(err)
		s.logger.Warn("tool invocation failed",
			zap.String("tool", name),
			zap.String("kind", string(info.Kind)),
			zap.String("error", info.Message))
		s.respondError(c, http.StatusUnprocessableEntity, "TOOL_FAILED", info.Message, info)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tool": name, "output": out})
}

func (s *Server) hasTool(name string) bool {
	if s.tools == nil {
		return false
	}
	for _, t := range s.tools.Tools() {
		if t.Name == name {
			return true
		}
	}
	return false
}

// handleListExamples lists the built-in example graphs
func (s *Server) handleListExamples(c *gin.Context) {
	examples := make(map[string]*domain.GraphSpec)
	for _, name := range graphspec.Examples() {
		spec, err := graphspec.Example(name)
		if err != nil {
			s.writeError(c, err)
			return
		}
		examples[name] = spec
	}
	c.JSON(http.StatusOK, gin.H{"examples": examples})
}

// handleRunExample submits a built-in example graph
func (s *Server) handleRunExample(c *gin.Context) {
	name := c.Param("name")
	spec, err := graphspec.Example(name)
	if errors.Is(err, domain.ErrNotFound) {
		s.respondError(c, http.StatusNotFound, "NOT_FOUND", "example not found", nil)
		return
	}
	if err != nil {
		s.writeError(c, err)
		return
	}

	taskID, err := s.tasks.Submit(c.Request.Context(), spec)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"example": name,
		"task": TaskSubmitResponse{
			TaskID:      taskID,
			Status:      domain.RunStatusRunning,
			SubmittedAt: time.Now().UTC(),
		},
	})
}

// writeError maps orchestrator errors to status codes
func (s *Server) writeError(c *gin.Context, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		s.respondError(c, http.StatusUnprocessableEntity, "VALIDATION_FAILED", verr.Message, verr)
	case errors.Is(err, domain.ErrNotFound):
		s.respondError(c, http.StatusNotFound, "NOT_FOUND", "task not found", nil)
	case errors.Is(err, domain.ErrAlreadyTerminal):
		s.respondError(c, http.StatusConflict, "ALREADY_TERMINAL", err.Error(), nil)
	case errors.Is(err, graphspec.ErrMalformed):
		s.respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, orchestrator.ErrShuttingDown):
		s.respondError(c, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error(), nil)
	default:
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		s.respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", err.Error())
	}
}

func (s *Server) respondError(c *gin.Context, code int, errCode, message string, details interface{}) {
	c.JSON(code, ErrorResponse{
		Error: ErrorDetail{
			Code:    errCode,
			Message: message,
			Details: details,
		},
	})
}
