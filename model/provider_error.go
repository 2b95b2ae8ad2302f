package model

import (
	"errors"
	"strconv"
	"strings"
)

// ProviderErrorKind classifies a model provider failure into a small set of
// categories a caller can act on without knowing which provider raised it.
type ProviderErrorKind string

const (
	// ProviderErrorKindAuth indicates authentication/authorization failures.
	ProviderErrorKindAuth ProviderErrorKind = "auth"

	// ProviderErrorKindInvalidRequest indicates the request is invalid and retrying
	// without changing the request will not succeed.
	ProviderErrorKindInvalidRequest ProviderErrorKind = "invalid_request"

	// ProviderErrorKindRateLimited indicates the provider is throttling requests.
	ProviderErrorKindRateLimited ProviderErrorKind = "rate_limited"

	// ProviderErrorKindUnavailable indicates a transient provider failure (5xx,
	// network issues) where a retry may succeed.
	ProviderErrorKindUnavailable ProviderErrorKind = "unavailable"

	// ProviderErrorKindUnknown indicates an unclassified provider failure.
	ProviderErrorKindUnknown ProviderErrorKind = "unknown"
)

// ProviderError describes a failure returned by a model provider (Anthropic,
// OpenAI, Bedrock). It crosses package boundaries so callers (for example
// hooks.PublicErrorFor) can make decisions from a stable, provider-agnostic
// shape instead of sniffing each SDK's own error type.
type ProviderError struct {
	provider  string
	operation string
	http      int
	kind      ProviderErrorKind
	code      string
	message   string
	requestID string
	retryable bool
	cause     error
}

// NewProviderError constructs a ProviderError. provider and kind are required
// and NewProviderError panics if either is empty, since every call site
// classifying a failure already knows both. cause may be nil but should be
// set whenever the original SDK error is available, so Unwrap keeps the
// chain intact for errors.Is/errors.As.
func NewProviderError(provider, operation string, httpStatus int, kind ProviderErrorKind, code, message, requestID string, retryable bool, cause error) *ProviderError {
	if provider == "" {
		panic("model: provider is required")
	}
	if kind == "" {
		panic("model: provider error kind is required")
	}
	return &ProviderError{
		provider:  provider,
		operation: operation,
		http:      httpStatus,
		kind:      kind,
		code:      code,
		message:   message,
		requestID: requestID,
		retryable: retryable,
		cause:     cause,
	}
}

// Provider returns the provider identifier (for example, "bedrock").
func (e *ProviderError) Provider() string { return e.provider }

// Operation returns the provider operation name when known (for example, "converse_stream").
func (e *ProviderError) Operation() string { return e.operation }

// HTTPStatus returns the provider HTTP status code when available, otherwise 0.
func (e *ProviderError) HTTPStatus() int { return e.http }

// Kind returns the coarse-grained provider error classification.
func (e *ProviderError) Kind() ProviderErrorKind { return e.kind }

// Code returns the provider-specific error code when available.
func (e *ProviderError) Code() string { return e.code }

// Message returns the provider error message when available.
func (e *ProviderError) Message() string { return e.message }

// RequestID returns the provider request identifier when available.
func (e *ProviderError) RequestID() string { return e.requestID }

// Retryable reports whether retrying the call may succeed without changing the request.
func (e *ProviderError) Retryable() bool { return e.retryable }

// Temporary reports the same thing as Retryable under the net.Error-style
// name some retry middleware probes for via an interface assertion instead
// of a concrete type switch.
func (e *ProviderError) Temporary() bool { return e.retryable }

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.provider)
	b.WriteByte(' ')
	b.WriteString(string(e.kind))
	b.WriteByte(' ')
	if e.http > 0 {
		b.WriteString(strconv.Itoa(e.http))
		b.WriteByte(' ')
	}
	op := e.operation
	if op == "" {
		op = "request"
	}
	b.WriteByte('(')
	b.WriteString(op)
	b.WriteString("): ")
	if e.code != "" {
		b.WriteString(e.code)
		b.WriteString(": ")
	}
	msg := e.message
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	if msg == "" {
		msg = "provider error"
	}
	b.WriteString(msg)
	return b.String()
}

// Unwrap returns the underlying provider error to preserve the original error chain.
func (e *ProviderError) Unwrap() error { return e.cause }

// AsProviderError returns the first ProviderError in err's chain, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
