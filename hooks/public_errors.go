package hooks

import (
	"context"
	"errors"

	"github.com/agentcore-dev/runtime/model"
)

// These messages are the text a controlplane surfaces to an end user when a
// turn ends in orchestrator.RequestError, rather than exposing an SDK error's
// raw message or a provider's internal error code. A deployment embedding
// this runtime may reassign these variables at startup to customize wording;
// do so before the first request, since these are read without locking.
var (
	// PublicErrorTimeout is emitted when a run fails due to a timeout (provider or runtime).
	PublicErrorTimeout = "The request timed out. Please retry."

	// PublicErrorInternal is emitted when a run fails for an unclassified reason.
	PublicErrorInternal = "The request failed. Please retry."

	// PublicErrorProviderRateLimited is emitted when the model provider is throttling requests.
	PublicErrorProviderRateLimited = "The AI provider is rate-limiting requests. Please wait a moment and retry."

	// PublicErrorProviderUnavailable is emitted when the model provider is temporarily unavailable.
	PublicErrorProviderUnavailable = "The AI provider is temporarily unavailable. Please retry."

	// PublicErrorProviderInvalidRequest is emitted when the provider rejects the request as invalid.
	PublicErrorProviderInvalidRequest = "The AI provider rejected the request."

	// PublicErrorProviderAuth is emitted when provider authentication/authorization fails.
	PublicErrorProviderAuth = "The AI provider authentication failed."

	// PublicErrorProviderUnknown is emitted for unclassified provider failures.
	PublicErrorProviderUnknown = "The AI provider returned an unexpected error. Please retry."
)

// PublicErrorFor classifies err (typically orchestrator.RequestError.Err)
// into one of the PublicError* strings above, so a controlplane can render a
// stable, user-safe message instead of a provider SDK's raw error text. A
// context.DeadlineExceeded anywhere in err's chain takes priority over
// provider classification; a context.Canceled error is not treated specially.
func PublicErrorFor(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return PublicErrorTimeout
	}
	pe, ok := model.AsProviderError(err)
	if !ok {
		return PublicErrorInternal
	}
	switch pe.Kind() {
	case model.ProviderErrorKindRateLimited:
		return PublicErrorProviderRateLimited
	case model.ProviderErrorKindUnavailable:
		return PublicErrorProviderUnavailable
	case model.ProviderErrorKindInvalidRequest:
		return PublicErrorProviderInvalidRequest
	case model.ProviderErrorKindAuth:
		return PublicErrorProviderAuth
	default:
		return PublicErrorProviderUnknown
	}
}
