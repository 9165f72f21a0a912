package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error codes.
const (
	ErrorCodeInvalidRequest  = "invalid_request"
	ErrorCodeAuthentication  = "authentication_error"
	ErrorCodeRateLimit       = "rate_limit_exceeded"
	ErrorCodeServerError     = "server_error"
	ErrorCodeTimeout         = "timeout"
	ErrorCodeContentFiltered = "content_filtered"
	ErrorCodeEmptyResponse   = "empty_response"
	ErrorCodeUnknown         = "unknown_error"
)

// Error is a typed backend failure.
type Error struct {
	Provider   string `json:"provider"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
	Retryable  bool   `json:"retryable"`
	Err        error  `json:"-"`
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline breach.
func (e *Error) Timeout() bool {
	return e.Code == ErrorCodeTimeout
}

// NewError creates an Error; retryability follows the code.
func NewError(provider, code, message string, err error) *Error {
	return &Error{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Retryable: isRetryableCode(code),
		Err:       err,
	}
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrorCodeRateLimit, ErrorCodeServerError, ErrorCodeTimeout:
		return true
	default:
		return false
	}
}

// IsTimeout reports whether err is, or wraps, a completion timeout or a
// context deadline.
func IsTimeout(err error) bool {
	var ce *Error
	if errors.As(err, &ce) && ce.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// codeForStatus maps an HTTP status to an error code.
func codeForStatus(status int) string {
	switch {
	case status == 400 || status == 404 || status == 422:
		return ErrorCodeInvalidRequest
	case status == 401 || status == 403:
		return ErrorCodeAuthentication
	case status == 408 || status == 504:
		return ErrorCodeTimeout
	case status == 429:
		return ErrorCodeRateLimit
	case status >= 500:
		return ErrorCodeServerError
	default:
		return ErrorCodeUnknown
	}
}

// classifyMessage guesses a code from an error string, for SDKs that do not
// expose typed errors.
func classifyMessage(msg string) string {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "deadline") || strings.Contains(m, "timeout"):
		return ErrorCodeTimeout
	case strings.Contains(m, "throttl") || strings.Contains(m, "rate limit") || strings.Contains(m, "429") || strings.Contains(m, "quota"):
		return ErrorCodeRateLimit
	case strings.Contains(m, "credential") || strings.Contains(m, "unauthorized") || strings.Contains(m, "401") || strings.Contains(m, "403") || strings.Contains(m, "accessdenied"):
		return ErrorCodeAuthentication
	case strings.Contains(m, "validation") || strings.Contains(m, "invalid") || strings.Contains(m, "400"):
		return ErrorCodeInvalidRequest
	case strings.Contains(m, "500") || strings.Contains(m, "503") || strings.Contains(m, "unavailable") || strings.Contains(m, "internal"):
		return ErrorCodeServerError
	default:
		return ErrorCodeUnknown
	}
}

// wrapContextError converts a context failure into a typed Error. It returns
// nil when err is not a context failure.
func wrapContextError(provider string, err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(provider, ErrorCodeTimeout, "call exceeded its deadline", err)
	case errors.Is(err, context.Canceled):
		return NewError(provider, ErrorCodeUnknown, "call canceled", err)
	default:
		return nil
	}
}
