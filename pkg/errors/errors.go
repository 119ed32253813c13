package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is matches AppErrors by code so copies produced by WithInternal still
// satisfy errors.Is against the sentinel values below.
func (e *AppError) Is(target error) bool {
	other, ok := target.(*AppError)
	if !ok || e == nil || other == nil {
		return false
	}
	return e.Code == other.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// Call-engine errors. These form the error taxonomy for session, escalation,
// signaling and recording operations and are matched with errors.Is throughout.
var (
	// ErrInvalidActor indicates the caller is not authorized for the attempted action.
	ErrInvalidActor = &AppError{
		Code:       "INVALID_ACTOR",
		Message:    "Actor is not authorized for this action",
		StatusCode: http.StatusForbidden,
	}

	// ErrMandatoryResponse is returned when decline is attempted on an emergency session.
	ErrMandatoryResponse = &AppError{
		Code:       "MANDATORY_RESPONSE",
		Message:    "Emergency calls cannot be declined",
		StatusCode: http.StatusForbidden,
	}

	// ErrStaleEscalation rejects an accept that arrived after the escalation level advanced.
	ErrStaleEscalation = &AppError{
		Code:       "STALE_ESCALATION",
		Message:    "Escalation has advanced past this level; re-request against the current target",
		StatusCode: http.StatusConflict,
	}

	// ErrNoPeerConnected signals a transient relay failure; callers should retry with backoff.
	ErrNoPeerConnected = &AppError{
		Code:       "NO_PEER_CONNECTED",
		Message:    "The other participant has no open signaling channel",
		StatusCode: http.StatusServiceUnavailable,
	}

	// ErrEscalationExhausted is terminal: no further rule exists in the chain.
	ErrEscalationExhausted = &AppError{
		Code:       "ESCALATION_EXHAUSTED",
		Message:    "No responder available; manual follow-up required",
		StatusCode: http.StatusGone,
	}

	// ErrAuditWriteFailure is fatal for the triggering operation (fail-closed audit).
	ErrAuditWriteFailure = &AppError{
		Code:       "AUDIT_WRITE_FAILURE",
		Message:    "Audit trail unavailable; operation aborted",
		StatusCode: http.StatusServiceUnavailable,
	}

	// ErrInvalidTransition rejects an operation that is illegal from the session's current state.
	ErrInvalidTransition = &AppError{
		Code:       "INVALID_TRANSITION",
		Message:    "Operation is not valid in the session's current state",
		StatusCode: http.StatusConflict,
	}
)

// Common errors exposed to the rest of the application.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Permission denied",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrRateLimit = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many requests, please slow down",
		StatusCode: http.StatusTooManyRequests,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}
