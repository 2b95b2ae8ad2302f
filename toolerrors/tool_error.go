// Package toolerrors provides structured error types for tool invocation
// failures. ToolError preserves error chains and supports errors.Is/As
// while staying plain-data enough to travel through a PostToolUse hook's
// JSON-encoded ToolContext.
package toolerrors

import (
	"errors"
	"fmt"
)

// Kind classifies why a tool call did not produce a result, matching the
// outcome taxonomy the orchestrator's telemetry counters report against
// (success/error/denied/cancelled). A PostToolUse hook or a telemetry
// exporter can switch on Kind without parsing Message.
type Kind string

const (
	// KindExecution is the default: the tool ran and failed, or failed to
	// start, for reasons internal to the tool or its transport.
	KindExecution Kind = "execution"
	// KindDenied means the permission evaluator or a PreToolUse hook
	// refused to run the tool.
	KindDenied Kind = "denied"
	// KindCancelled means the tool's context was cancelled (turn
	// interrupt, timeout) before it produced a result.
	KindCancelled Kind = "cancelled"
	// KindUnavailable means the tool name did not resolve against the
	// current tool spec list (see agent/invariants.Enforce).
	KindUnavailable Kind = "unavailable"
)

// ToolError represents a structured tool failure that preserves message,
// kind, and causal context while still implementing the standard error
// interface. Tool errors may be nested via Cause to retain rich diagnostics
// across retries and agent-as-tool hops.
type ToolError struct {
	// Message is the human-readable summary of the failure.
	Message string
	// Kind classifies the failure for telemetry and hook consumers that
	// need to branch on outcome without parsing Message.
	Kind Kind
	// Cause links to the underlying tool error, enabling error chains with errors.Is/As.
	Cause *ToolError
}

// New constructs a ToolError with the provided message and KindExecution.
// Use when the failure does not wrap an underlying error but still requires
// structured reporting.
func New(message string) *ToolError {
	return NewWithKind(KindExecution, message)
}

// NewWithKind constructs a ToolError with the provided message and kind.
func NewWithKind(kind Kind, message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	return &ToolError{Message: message, Kind: kind}
}

// NewWithCause constructs a KindExecution ToolError that wraps an underlying
// error. The cause is converted into a ToolError chain so error metadata
// survives serialization while still supporting errors.Is/As through Unwrap.
func NewWithCause(message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ToolError{
		Message: message,
		Kind:    KindExecution,
		Cause:   FromError(cause),
	}
}

// FromError converts an arbitrary error into a ToolError chain. An error
// that is already (or wraps) a ToolError is returned as-is, preserving its
// Kind; any other error becomes a KindExecution leaf.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{
		Message: err.Error(),
		Kind:    KindExecution,
		Cause:   FromError(errors.Unwrap(err)),
	}
}

// Errorf formats according to a format specifier and returns the string as a
// KindExecution ToolError.
func Errorf(format string, args ...any) *ToolError {
	return New(fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying tool error to support errors.Is/As.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
