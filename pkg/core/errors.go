// Package core holds the API error type shared by the HTTP and websocket
// surfaces.
package core

import (
	"fmt"
)

// Error is the body of every {"error": ...} response.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`

	RetryAfter *int `json:"retry_after,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrUnavailable    ErrorType = "unavailable_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewRateLimitError creates a rate limit error. retryAfter is in seconds.
func NewRateLimitError(message string, retryAfter int) *Error {
	e := &Error{
		Type:    ErrRateLimit,
		Message: message,
	}
	if retryAfter > 0 {
		e.RetryAfter = &retryAfter
	}
	return e
}

func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// NewUnavailableError reports a collaborator (speech synthesis, call
// storage) that is not configured or not answering.
func NewUnavailableError(message, code string) *Error {
	return &Error{
		Type:    ErrUnavailable,
		Message: message,
		Code:    code,
	}
}

// IsRetryable returns true if the error is retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded, ErrAPI, ErrUnavailable:
		return true
	default:
		return false
	}
}
