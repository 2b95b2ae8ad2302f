// Package providererror centralizes provider-failure classification shared by
// every model provider adapter (anthropic, openai, bedrock), grounded on the
// ad hoc isRateLimited helpers each adapter duplicated in the reference
// implementation. Adapters call Classify to turn a raw SDK error into a
// github.com/agentcore-dev/runtime/model.ProviderError with a stable Kind so
// callers can make retry/UX decisions without knowing which provider is in
// use.
package providererror

import (
	"errors"
	"strings"

	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/agentcore-dev/runtime/model"
)

// Classify wraps err as a *model.ProviderError, inferring Kind from whatever
// structured information the underlying SDK error exposes. httpStatus may be
// 0 when the caller has no better signal than the error chain itself.
func Classify(provider, operation string, httpStatus int, err error) *model.ProviderError {
	if err == nil {
		return nil
	}
	if pe, ok := model.AsProviderError(err); ok {
		return pe
	}

	status := httpStatus
	code := ""
	message := err.Error()
	requestID := ""

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
		message = apiErr.ErrorMessage()
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	kind := classifyKind(status, code, err)
	retryable := kind == model.ProviderErrorKindRateLimited || kind == model.ProviderErrorKindUnavailable

	return model.NewProviderError(provider, operation, status, kind, code, message, requestID, retryable, err)
}

func classifyKind(status int, code string, err error) model.ProviderErrorKind {
	if errors.Is(err, model.ErrRateLimited) || status == 429 {
		return model.ProviderErrorKindRateLimited
	}
	switch code {
	case "ThrottlingException", "TooManyRequestsException", "rate_limit_exceeded":
		return model.ProviderErrorKindRateLimited
	case "AccessDeniedException", "UnauthorizedException", "authentication_error", "permission_error":
		return model.ProviderErrorKindAuth
	case "ValidationException", "invalid_request_error":
		return model.ProviderErrorKindInvalidRequest
	case "ServiceUnavailableException", "ModelTimeoutException", "InternalServerException":
		return model.ProviderErrorKindUnavailable
	}
	switch {
	case status == 401 || status == 403:
		return model.ProviderErrorKindAuth
	case status == 400 || status == 422:
		return model.ProviderErrorKindInvalidRequest
	case status >= 500:
		return model.ProviderErrorKindUnavailable
	case status == 0 && isTimeoutOrConnRefused(err):
		return model.ProviderErrorKindUnavailable
	}
	return model.ProviderErrorKindUnknown
}

func isTimeoutOrConnRefused(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "eof")
}
