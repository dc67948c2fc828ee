package api

import (
	"fmt"
	"net/http"
)

// Error is the body of every failed API response:
// {"error":{"code":"NOT_FOUND","message":"target not found"}}.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Error codes. The middleware package writes UNAUTHORIZED, RATE_LIMITED and
// INTERNAL_ERROR on its own.
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeUnsupported      = "UNSUPPORTED"
)

func newError(status int, code, message string) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

var (
	// ErrForbidden hides whether a webhook failed on state, token or signature.
	ErrForbidden      = newError(http.StatusForbidden, ErrCodeForbidden, "Access denied")
	ErrInvalidBody    = newError(http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body")
	ErrInternalServer = newError(http.StatusInternalServerError, ErrCodeInternalError, "Internal server error")

	errKeysDisabled = newError(http.StatusNotImplemented, ErrCodeUnsupported, "Deploy keys are not configured")
)

func NewBadRequest(message string) *Error {
	return newError(http.StatusBadRequest, ErrCodeBadRequest, message)
}

// NewValidationError reports a request that decoded but failed model validation.
func NewValidationError(message string) *Error {
	return newError(http.StatusBadRequest, ErrCodeValidationFailed, message)
}

// NewConflict reports a name clash or a state that forbids the operation.
func NewConflict(message string) *Error {
	return newError(http.StatusConflict, ErrCodeConflict, message)
}

func NewNotFound(message string) *Error {
	return newError(http.StatusNotFound, ErrCodeNotFound, message)
}
