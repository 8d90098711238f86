// Package subprocess runs each agent invocation in a child process.
//
// The parent starts "<executable> sandbox-exec", writes the invocation as
// JSON on the child's stdin and reads a Response from its stdout. On timeout
// or cancellation Invoke returns at once. The child receives SIGTERM and, if
// it is still alive after the grace period, SIGKILL.
package subprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/agentgraph/pkg/domain"
	"github.com/aescanero/agentgraph/pkg/ports"
)

// ExecCommand is the argument that switches the binary into child mode
const ExecCommand = "sandbox-exec"

// Response is what the child writes to stdout
type Response struct {
	Result *domain.AgentResult `json:"result,omitempty"`
	Error  *domain.ErrorInfo   `json:"error,omitempty"`
}

// Sandbox implements ports.Sandbox with one child process per invocation
type Sandbox struct {
	executable  string
	args        []string
	env         []string
	gracePeriod time.Duration
	logger      *zap.Logger
}

// Option configures a Sandbox
type Option func(*Sandbox)

// WithArgs replaces the default child arguments
func WithArgs(args ...string) Option {
	return func(s *Sandbox) { s.args = args }
}

// WithEnv sets extra environment variables for the child
func WithEnv(env ...string) Option {
	return func(s *Sandbox) { s.env = env }
}

// New creates a subprocess sandbox
func New(executable string, gracePeriod time.Duration, logger *zap.Logger, opts ...Option) *Sandbox {
	s := &Sandbox{
		executable:  executable,
		args:        []string{ExecCommand},
		gracePeriod: gracePeriod,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Invoke runs one agent call in a fresh child process
func (s *Sandbox) Invoke(ctx context.Context, inv ports.Invocation) (*domain.AgentResult, error) {
	payload, err := json.Marshal(inv)
	if err != nil {
		return nil, domain.Fatal("encode invocation: %v", err)
	}

	attemptCtx := ctx
	cancel := func() {}
	if inv.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(attemptCtx, s.executable, s.args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.gracePeriod
	if len(s.env) > 0 {
		cmd.Env = append(cmd.Environ(), s.env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger := s.logger.With(
		zap.String("task_id", inv.TaskID),
		zap.String("node_id", inv.NodeID),
		zap.String("agent_type", inv.AgentType),
		zap.Int("attempt", inv.Attempt))

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, domain.Fatal("start sandbox process: %v", err)
	}

	exited := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		logger.Debug("sandbox process exited",
			zap.Duration("duration", time.Since(start)),
			zap.Int("stderr_bytes", stderr.Len()),
			zap.Error(err))
		exited <- err
	}()

	var runErr error
	select {
	case runErr = <-exited:
	case <-attemptCtx.Done():
		// the child gets SIGTERM now and SIGKILL after the grace period;
		// cmd.Wait reaps it in the background
	}

	if attemptCtx.Err() != nil {
		if ctx.Err() != nil {
			return nil, domain.Cancelled("invocation cancelled: %v", context.Cause(ctx))
		}
		return nil, domain.TimeoutError("invocation exceeded timeout of %s", inv.Timeout)
	}

	var resp Response
	if decodeErr := json.Unmarshal(stdout.Bytes(), &resp); decodeErr != nil {
		if runErr != nil {
			var exitErr *exec.ExitError
			if errors.As(runErr, &exitErr) {
				logger.Warn("sandbox process crashed",
					zap.Int("exit_code", exitErr.ExitCode()),
					zap.String("stderr", tail(stderr.String(), 2048)))
				return nil, domain.Transient("sandbox process exited with code %d", exitErr.ExitCode())
			}
			return nil, domain.Fatal("wait for sandbox process: %v", runErr)
		}
		return nil, domain.Fatal("decode sandbox response: %v", decodeErr)
	}

	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.Result == nil {
		resp.Result = &domain.AgentResult{}
	}
	return resp.Result, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("...%s", s[len(s)-n:])
}
