// Package errors defines the service error taxonomy.
//
// Every failure that reaches the HTTP layer is expressed as a *ServiceError
// carrying a stable code, an HTTP status and an operational flag. Library
// specific failures are translated at the boundary (see translate.go).
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// ErrorCode is a stable, machine readable error identifier.
type ErrorCode string

const (
	CodeBadRequest         ErrorCode = "BAD_REQUEST"
	CodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	CodeForbidden          ErrorCode = "FORBIDDEN"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeConflict           ErrorCode = "CONFLICT"
	CodeValidationFailed   ErrorCode = "VALIDATION_FAILED"
	CodeTooManyRequests    ErrorCode = "TOO_MANY_REQUESTS"
	CodeInternal           ErrorCode = "INTERNAL_ERROR"
	CodeNotImplemented     ErrorCode = "NOT_IMPLEMENTED"
	CodeBadGateway         ErrorCode = "BAD_GATEWAY"
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeGatewayTimeout     ErrorCode = "GATEWAY_TIMEOUT"
)

// ErrUnavailable marks sentinels of dependencies that are temporarily out of
// reach. Normalize maps anything wrapping it to 503.
var ErrUnavailable = stderrors.New("dependency unavailable")

// kind describes the fixed (status, operational) pair of an error code.
type kind struct {
	status      int
	operational bool
	message     string
}

var kinds = map[ErrorCode]kind{
	CodeBadRequest:         {http.StatusBadRequest, true, "Bad request"},
	CodeUnauthorized:       {http.StatusUnauthorized, true, "Unauthorized"},
	CodeForbidden:          {http.StatusForbidden, true, "Forbidden"},
	CodeNotFound:           {http.StatusNotFound, true, "Resource not found"},
	CodeConflict:           {http.StatusConflict, true, "Resource already exists"},
	CodeValidationFailed:   {http.StatusUnprocessableEntity, true, "Validation failed"},
	CodeTooManyRequests:    {http.StatusTooManyRequests, true, "Too many requests"},
	CodeInternal:           {http.StatusInternalServerError, false, "Internal server error"},
	CodeNotImplemented:     {http.StatusNotImplemented, false, "Not implemented"},
	CodeBadGateway:         {http.StatusBadGateway, false, "Bad gateway"},
	CodeServiceUnavailable: {http.StatusServiceUnavailable, false, "Service unavailable"},
	CodeGatewayTimeout:     {http.StatusGatewayTimeout, false, "Gateway timeout"},
}

// ServiceError is the single error shape understood by the response layer.
type ServiceError struct {
	Code        ErrorCode              `json:"code"`
	Message     string                 `json:"message"`
	HTTPStatus  int                    `json:"-"`
	Operational bool                   `json:"-"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Err         error                  `json:"-"`

	stack string
}

// New builds a ServiceError for code. An empty message falls back to the
// default message of the code.
func New(code ErrorCode, message string, cause error) *ServiceError {
	k, ok := kinds[code]
	if !ok {
		code = CodeInternal
		k = kinds[CodeInternal]
	}
	if strings.TrimSpace(message) == "" {
		message = k.message
	}
	return &ServiceError{
		Code:        code,
		Message:     message,
		HTTPStatus:  k.status,
		Operational: k.operational,
		Err:         cause,
		stack:       captureStack(3),
	}
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a detail entry and returns the receiver.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Stack returns the call stack captured when the error was built.
func (e *ServiceError) Stack() string {
	return e.stack
}

// IsServerError reports whether the error belongs to the 5xx class.
func (e *ServiceError) IsServerError() bool {
	return e.HTTPStatus >= http.StatusInternalServerError
}

// GetServiceError extracts a *ServiceError from err's chain.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// =============================================================================
// Constructors
// =============================================================================

func BadRequest(message string) *ServiceError {
	return New(CodeBadRequest, message, nil)
}

func Unauthorized(message string) *ServiceError {
	return New(CodeUnauthorized, message, nil)
}

func Forbidden(message string) *ServiceError {
	return New(CodeForbidden, message, nil)
}

func NotFound(message string) *ServiceError {
	return New(CodeNotFound, message, nil)
}

func Conflict(message string) *ServiceError {
	return New(CodeConflict, message, nil)
}

func ValidationFailed(message string) *ServiceError {
	return New(CodeValidationFailed, message, nil)
}

func TooManyRequests(message string) *ServiceError {
	return New(CodeTooManyRequests, message, nil)
}

// RateLimitExceeded reports a client exceeding limit requests per window.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(CodeTooManyRequests, "Rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return New(CodeInternal, message, err)
}

func NotImplemented(message string) *ServiceError {
	return New(CodeNotImplemented, message, nil)
}

func BadGateway(message string, err error) *ServiceError {
	return New(CodeBadGateway, message, err)
}

func ServiceUnavailable(message string, err error) *ServiceError {
	return New(CodeServiceUnavailable, message, err)
}

func GatewayTimeout(message string, err error) *ServiceError {
	return New(CodeGatewayTimeout, message, err)
}

// InvalidToken reports a bearer token that failed verification.
func InvalidToken(err error) *ServiceError {
	return New(CodeUnauthorized, "Invalid token", err)
}

func captureStack(skip int) string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	var b strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return b.String()
}
