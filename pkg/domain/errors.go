package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a task id is unknown
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned by a state store when a compare-and-set loses a race
	ErrVersionConflict = errors.New("version conflict")
	// ErrAlreadyTerminal is returned when an operation needs a run that is still active
	ErrAlreadyTerminal = errors.New("run already in terminal state")
	// ErrValidation is matched by every *ValidationError
	ErrValidation = errors.New("validation failed")
)

// ValidationReason names what made a graph invalid
type ValidationReason string

const (
	ReasonEmptyGraph        ValidationReason = "empty_graph"
	ReasonEmptyID           ValidationReason = "empty_id"
	ReasonDuplicateID       ValidationReason = "duplicate_id"
	ReasonUnknownDependency ValidationReason = "unknown_dependency"
	ReasonSelfDependency    ValidationReason = "self_dependency"
	ReasonCycle             ValidationReason = "cycle"
	ReasonUnknownAgentType  ValidationReason = "unknown_agent_type"
	ReasonInvalidPolicy     ValidationReason = "invalid_policy"
	ReasonInvalidSetting    ValidationReason = "invalid_setting"
)

// ValidationError rejects a malformed graph at submission
type ValidationError struct {
	Reason  ValidationReason `json:"reason"`
	NodeID  string           `json:"node_id,omitempty"`
	Message string           `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("invalid graph (%s) at node %q: %s", e.Reason, e.NodeID, e.Message)
	}
	return fmt.Sprintf("invalid graph (%s): %s", e.Reason, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalidf builds a ValidationError
func Invalidf(reason ValidationReason, nodeID, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: reason, NodeID: nodeID, Message: fmt.Sprintf(format, args...)}
}

// ErrorKind classifies agent failures
type ErrorKind string

const (
	KindTransient          ErrorKind = "transient"
	KindTimeout            ErrorKind = "timeout"
	KindFatal              ErrorKind = "fatal"
	KindCancelled          ErrorKind = "cancelled"
	KindTimedOutExhausted  ErrorKind = "timed_out_exhausted"
	KindTransientExhausted ErrorKind = "transient_exhausted"
)

// ErrorInfo describes why an agent invocation failed
type ErrorInfo struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Transient marks a failure that is worth retrying
func Transient(format string, args ...interface{}) *ErrorInfo {
	return &ErrorInfo{Kind: KindTransient, Message: fmt.Sprintf(format, args...), Retryable: true}
}

// Fatal marks a failure that must not be retried
func Fatal(format string, args ...interface{}) *ErrorInfo {
	return &ErrorInfo{Kind: KindFatal, Message: fmt.Sprintf(format, args...)}
}

// TimeoutError is reported by a sandbox when the wall-clock budget expires
func TimeoutError(format string, args ...interface{}) *ErrorInfo {
	return &ErrorInfo{Kind: KindTimeout, Message: fmt.Sprintf(format, args...), Retryable: true}
}

// Cancelled is reported when the invocation was stopped on request
func Cancelled(format string, args ...interface{}) *ErrorInfo {
	return &ErrorInfo{Kind: KindCancelled, Message: fmt.Sprintf(format, args...)}
}

// AsErrorInfo classifies any error. Errors that carry no classification are
// treated as fatal; context cancellation maps to KindCancelled.
func AsErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	var info *ErrorInfo
	if errors.As(err, &info) {
		return info
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled("%v", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError("%v", err)
	}
	return Fatal("%v", err)
}
