package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/haasonsaas/stockd/internal/auth"
	"github.com/haasonsaas/stockd/internal/infra"
	"github.com/haasonsaas/stockd/internal/mcp"
	"github.com/haasonsaas/stockd/internal/observability"
	"github.com/haasonsaas/stockd/internal/retry"
	"github.com/haasonsaas/stockd/internal/scheduler"
	"github.com/haasonsaas/stockd/internal/storage"
	"github.com/haasonsaas/stockd/internal/workflow"
)

// Error codes form a closed set; clients may switch on them.
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeTokenInvalid       = "TOKEN_INVALID"
	CodeSessionExpired     = "SESSION_EXPIRED"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeDuplicateEmail     = "DUPLICATE_EMAIL"
	CodeNotFound           = "NOT_FOUND"
	CodeForbidden          = "FORBIDDEN"
	CodeConflict           = "CONFLICT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeUpstreamTimeout    = "UPSTREAM_TIMEOUT"
	CodeInternal           = "INTERNAL_ERROR"
)

// statusByCode is the fixed code-to-HTTP-status mapping.
var statusByCode = map[string]int{
	CodeInvalidCredentials: http.StatusUnauthorized,
	CodeTokenInvalid:       http.StatusUnauthorized,
	CodeSessionExpired:     http.StatusUnauthorized,
	CodeInvalidInput:       http.StatusBadRequest,
	CodeDuplicateEmail:     http.StatusConflict,
	CodeNotFound:           http.StatusNotFound,
	CodeForbidden:          http.StatusForbidden,
	CodeConflict:           http.StatusConflict,
	CodeRateLimited:        http.StatusTooManyRequests,
	CodeServiceUnavailable: http.StatusBadGateway,
	CodeUpstreamTimeout:    http.StatusGatewayTimeout,
	CodeInternal:           http.StatusInternalServerError,
}

// APIError is the user-facing error shape. Message is safe to show; the
// technical cause stays in the logs with the correlation ID.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *APIError) Error() string { return e.Message }

// Status returns the HTTP status for the error code.
func (e *APIError) Status() int {
	if status, ok := statusByCode[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func apiError(code, message string, retryable bool) *APIError {
	return &APIError{Code: code, Message: message, Retryable: retryable}
}

func badRequest(message string) *APIError {
	return apiError(CodeInvalidInput, message, false)
}

const internalMessage = "An unexpected error occurred. Please try again."

// translate maps component errors onto the closed API error catalog.
func translate(err error) *APIError {
	var api *APIError
	if errors.As(err, &api) {
		return api
	}

	// Retry exhaustion carries the interesting error inside.
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) && exhausted.Last != nil {
		err = exhausted.Last
	}

	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return apiError(CodeInvalidCredentials, "Invalid email or password. Please try again.", false)
	case errors.Is(err, auth.ErrSessionExpired):
		return apiError(CodeSessionExpired, "Your session has expired. Please log in again.", false)
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenType), errors.Is(err, auth.ErrUserNotFound):
		return apiError(CodeTokenInvalid, "Authentication token is invalid or expired.", false)
	case errors.Is(err, auth.ErrDuplicateEmail):
		return apiError(CodeDuplicateEmail, "An account with this email already exists.", false)

	case errors.Is(err, workflow.ErrInvalidDefinition),
		errors.Is(err, workflow.ErrUnknownTemplate),
		errors.Is(err, scheduler.ErrInvalidCron):
		return apiError(CodeInvalidInput, err.Error(), false)
	case errors.Is(err, workflow.ErrWorkflowInactive):
		return apiError(CodeConflict, "Workflow is inactive.", false)
	case errors.Is(err, workflow.ErrExecutionNotFound),
		errors.Is(err, scheduler.ErrJobNotFound),
		errors.Is(err, storage.ErrNotFound):
		return apiError(CodeNotFound, "The requested resource was not found.", false)
	case errors.Is(err, storage.ErrAlreadyExists):
		return apiError(CodeConflict, "The resource already exists.", false)

	case errors.Is(err, infra.ErrCircuitOpen):
		return apiError(CodeServiceUnavailable, "Market data is temporarily unavailable. Please retry shortly.", true)
	case errors.Is(err, mcp.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return apiError(CodeUpstreamTimeout, "Upstream request timed out. Please retry.", true)
	case errors.Is(err, mcp.ErrUnavailable), errors.Is(err, mcp.ErrProtocol), errors.Is(err, mcp.ErrToolNotFound):
		return apiError(CodeServiceUnavailable, "Market data is temporarily unavailable. Please retry shortly.", true)
	}

	return apiError(CodeInternal, internalMessage, false)
}

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error         *APIError `json:"error"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// writeError renders err through the catalog. 5xx causes are logged with the
// correlation ID; the client only ever sees the generic message.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	api := translate(err)
	correlationID := observability.CorrelationID(r.Context())

	if api.Status() >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "error", err, "path", r.URL.Path)
	} else {
		logger.DebugContext(r.Context(), "request rejected", "code", api.Code, "error", err, "path", r.URL.Path)
	}

	writeJSON(w, api.Status(), errorBody{Error: api, CorrelationID: correlationID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON parses the request body, rejecting unknown fields so typos in
// client payloads fail loudly instead of silently.
func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return badRequest("request body is not valid JSON: " + err.Error())
	}
	return nil
}
