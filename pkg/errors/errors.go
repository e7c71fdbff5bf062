// Package errors defines structured error types for the RateX gateway.
// Errors carry a taxonomy code, an HTTP status, and optional metadata so
// the HTTP layer can render generic messages while logs keep the cause.
package errors

import (
	"fmt"
	"net/http"

	"github.com/Largonarco/RateX/pkg/constants"
)

// ================================================================================
// Error Interface
// ================================================================================

// GatewayError is a structured error with taxonomy metadata.
type GatewayError interface {
	error

	// Code returns the taxonomy code.
	Code() constants.ErrorCode

	// HTTPStatus returns the HTTP status code to surface to clients.
	HTTPStatus() int

	// Description returns a client-safe description.
	Description() string

	// Unwrap returns the underlying cause, if any.
	Unwrap() error

	// WithCause attaches a cause to the error chain.
	WithCause(cause error) GatewayError

	// WithMetadata attaches a context key-value pair.
	WithMetadata(key string, value interface{}) GatewayError

	// Metadata returns all attached metadata.
	Metadata() map[string]interface{}
}

// baseError is the internal implementation of GatewayError.
type baseError struct {
	code        constants.ErrorCode
	httpStatus  int
	description string
	message     string
	cause       error
	metadata    map[string]interface{}
}

func (e *baseError) Error() string {
	if e.message != "" {
		return e.message
	}
	return e.description
}

func (e *baseError) Code() constants.ErrorCode { return e.code }

func (e *baseError) HTTPStatus() int { return e.httpStatus }

func (e *baseError) Description() string { return e.description }

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) WithCause(cause error) GatewayError {
	e.cause = cause
	return e
}

func (e *baseError) WithMetadata(key string, value interface{}) GatewayError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

func (e *baseError) Metadata() map[string]interface{} { return e.metadata }

// NewError creates a GatewayError with the given parameters.
func NewError(code constants.ErrorCode, httpStatus int, description string, message string) GatewayError {
	return &baseError{
		code:        code,
		httpStatus:  httpStatus,
		description: description,
		message:     message,
		metadata:    make(map[string]interface{}),
	}
}

// ================================================================================
// Predefined Constructors
// ================================================================================

// ErrValidation creates a validation error (malformed config or request).
func ErrValidation(message string) GatewayError {
	return NewError(
		constants.ErrCodeValidation,
		http.StatusBadRequest,
		"The request or configuration is malformed.",
		message,
	)
}

// ErrInvalidStrategy creates a validation error for an unknown strategy tag.
func ErrInvalidStrategy(tag string) GatewayError {
	return ErrValidation(fmt.Sprintf("unknown rate limit strategy: %q", tag)).
		WithMetadata("strategy", tag)
}

// ErrAppNotFound creates a not-found error for an unknown application id.
func ErrAppNotFound(appID string) GatewayError {
	return NewError(
		constants.ErrCodeNotFound,
		http.StatusNotFound,
		"Application not found.",
		fmt.Sprintf("application not found: %s", appID),
	).WithMetadata("app_id", appID)
}

// ErrTicketNotFound creates a not-found error for an unknown ticket id.
func ErrTicketNotFound(ticketID string) GatewayError {
	return NewError(
		constants.ErrCodeNotFound,
		http.StatusNotFound,
		"Ticket not found.",
		fmt.Sprintf("ticket not found: %s", ticketID),
	).WithMetadata("ticket_id", ticketID)
}

// ErrTransientStore creates a retryable store error (cluster redirect, timeout).
func ErrTransientStore(message string) GatewayError {
	return NewError(
		constants.ErrCodeTransientStore,
		http.StatusServiceUnavailable,
		"The backing store is temporarily unavailable.",
		message,
	)
}

// ErrUpstream wraps a failure talking to a registered upstream API.
func ErrUpstream(message string) GatewayError {
	return NewError(
		constants.ErrCodeUpstream,
		http.StatusBadGateway,
		"The upstream API could not be reached.",
		message,
	)
}

// ErrWorkerException records a worker-side processing failure.
func ErrWorkerException(message string) GatewayError {
	return NewError(
		constants.ErrCodeWorkerException,
		http.StatusInternalServerError,
		"Deferred request processing failed.",
		message,
	)
}

// ErrUnauthorized creates an authentication error.
func ErrUnauthorized(message string) GatewayError {
	return NewError(
		constants.ErrCodeUnauthorized,
		http.StatusUnauthorized,
		"Authentication failed.",
		message,
	)
}

// ErrServer creates a generic internal server error.
func ErrServer(message string) GatewayError {
	return NewError(
		constants.ErrCodeServerError,
		http.StatusInternalServerError,
		"An unexpected error occurred.",
		message,
	)
}

// ErrNodePoolExhausted is returned when the node-id allocator hits its ceiling.
func ErrNodePoolExhausted() GatewayError {
	return ErrServer("Maximum number of node IDs reached")
}

// ================================================================================
// Predicates
// ================================================================================

// As attempts to cast an error to GatewayError.
func As(err error) (GatewayError, bool) {
	ge, ok := err.(GatewayError)
	return ge, ok
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	if ge, ok := As(err); ok {
		return ge.Code() == constants.ErrCodeNotFound
	}
	return false
}

// IsTransient reports whether err is a retryable store error.
func IsTransient(err error) bool {
	if ge, ok := As(err); ok {
		return ge.Code() == constants.ErrCodeTransientStore
	}
	return false
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	if ge, ok := As(err); ok {
		return ge.Code() == constants.ErrCodeValidation
	}
	return false
}

// ================================================================================
// Error Response Builder
// ================================================================================

// ErrorResponse is the JSON body rendered for failed requests. Messages are
// generic: store internals never leak to clients.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ToErrorResponse converts any error to a client-safe ErrorResponse.
func ToErrorResponse(err error) *ErrorResponse {
	if ge, ok := As(err); ok {
		return &ErrorResponse{
			Error:            string(ge.Code()),
			ErrorDescription: ge.Description(),
		}
	}
	return &ErrorResponse{
		Error:            string(constants.ErrCodeServerError),
		ErrorDescription: "An unexpected error occurred",
	}
}

// HTTPStatusOf returns the status code for an error, defaulting to 500.
func HTTPStatusOf(err error) int {
	if ge, ok := As(err); ok {
		return ge.HTTPStatus()
	}
	return http.StatusInternalServerError
}
