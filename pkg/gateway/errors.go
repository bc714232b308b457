package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrStreamingUnsupported is returned by Stream on providers that only
// implement synchronous completion. Callers fall back to Complete.
var ErrStreamingUnsupported = errors.New("streaming not supported by this provider")

// ErrorType classifies gateway failures so the workflow engine can decide
// whether an operation is worth retrying and what to surface to the user.
type ErrorType int

const (
	// ErrorTypeUnknown is an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeAuth covers invalid or missing credentials. Never retried.
	ErrorTypeAuth
	// ErrorTypeBadRequest covers malformed requests the provider rejected.
	ErrorTypeBadRequest
	// ErrorTypeTransient covers rate limits, 5xx responses, and network
	// failures that may succeed on retry.
	ErrorTypeTransient
	// ErrorTypeTimeout covers deadline and cancellation failures.
	ErrorTypeTimeout
	// ErrorTypeEmptyResponse covers calls that returned no usable text.
	ErrorTypeEmptyResponse
	// ErrorTypeFormat covers responses that could not be parsed into the
	// requested shape.
	ErrorTypeFormat
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadRequest:
		return "bad_request"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeFormat:
		return "format"
	default:
		return "unknown"
	}
}

// Error is a classified gateway failure.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error.
func NewError(t ErrorType, format string, args ...any) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps an underlying error with a classification.
func WrapError(t ErrorType, err error, format string, args ...any) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err is a gateway error of the given type.
func Is(err error, t ErrorType) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Type == t
	}
	return false
}

// TypeOf returns the classification of err, or ErrorTypeUnknown for errors
// that did not come from a gateway.
func TypeOf(err error) ErrorType {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Type
	}
	return ErrorTypeUnknown
}

// IsRetryable reports whether the failure class may succeed on retry.
func IsRetryable(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeTransient, ErrorTypeTimeout, ErrorTypeEmptyResponse:
		return true
	default:
		return false
	}
}

// classifyError maps an arbitrary provider error onto the shared taxonomy.
// SDK error types differ per provider, so classification falls back to
// message inspection the same way each provider reports its common failures.
func classifyError(err error) *Error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return WrapError(ErrorTypeTimeout, err, "generation call aborted")
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"),
		strings.Contains(msg, "unauthorized"), strings.Contains(msg, "api key"),
		strings.Contains(msg, "authentication"):
		return WrapError(ErrorTypeAuth, err, "authentication failed")
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "overloaded"), strings.Contains(msg, "quota"):
		return WrapError(ErrorTypeTransient, err, "provider throttled the request")
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"), strings.Contains(msg, "connection reset"):
		return WrapError(ErrorTypeTransient, err, "provider unreachable")
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return WrapError(ErrorTypeTimeout, err, "generation call timed out")
	case strings.Contains(msg, "400"), strings.Contains(msg, "invalid request"),
		strings.Contains(msg, "bad request"):
		return WrapError(ErrorTypeBadRequest, err, "provider rejected the request")
	default:
		return WrapError(ErrorTypeUnknown, err, "generation call failed")
	}
}
