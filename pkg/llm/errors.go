package llm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ErrorType indicates which part of the provider configuration is at fault.
type ErrorType string

const (
	ErrorTypeEndpoint  ErrorType = "endpoint"
	ErrorTypeAuth      ErrorType = "auth"
	ErrorTypeModel     ErrorType = "model"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeResponse  ErrorType = "response"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// Error is a classified embedding-provider failure.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	Cause      error
	StatusCode int
	Model      string
	Endpoint   string
}

// Error implements the error interface. Only the endpoint host is printed so
// URLs carrying tokens in their path or query do not end up in logs.
func (e *Error) Error() string {
	parts := []string{string(e.Type)}

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if host := endpointHost(e.Endpoint); host != "" {
		parts = append(parts, "endpoint="+host)
	}

	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements the retry.RetryableError interface.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a new classified error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

func endpointHost(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}

// ClassifyError categorizes a provider error. Structured go-openai errors are
// classified by HTTP status; anything else falls back to message matching.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	// Cancellation is the caller's decision, never worth retrying.
	if errors.Is(err, context.Canceled) {
		return NewError(ErrorTypeUnknown, "request cancelled", false, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrorTypeEndpoint, "request timeout", true, err)
	}

	if status := statusCodeOf(err); status > 0 {
		classified := classifyStatus(status, err)
		classified.StatusCode = status
		return classified
	}

	lower := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		return NewError(ErrorTypeAuth, "authentication failed", false, err)
	case strings.Contains(lower, "model") &&
		(strings.Contains(lower, "not found") || strings.Contains(lower, "does not exist")):
		return NewError(ErrorTypeModel, "model not found", false, err)
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host"):
		return NewError(ErrorTypeEndpoint, "connection failed", true, err)
	case strings.Contains(lower, "timeout"):
		return NewError(ErrorTypeEndpoint, "request timeout", true, err)
	case strings.Contains(lower, "rate limit"):
		return NewError(ErrorTypeRateLimit, "rate limited", true, err)
	}

	return NewError(ErrorTypeUnknown, "embedding provider error", false, err)
}

func statusCodeOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func classifyStatus(status int, err error) *Error {
	switch {
	case status == 401 || status == 403:
		return NewError(ErrorTypeAuth, "authentication failed", false, err)
	case status == 404:
		if strings.Contains(strings.ToLower(err.Error()), "model") {
			return NewError(ErrorTypeModel, "model not found", false, err)
		}
		return NewError(ErrorTypeEndpoint, "endpoint not found", false, err)
	case status == 429:
		return NewError(ErrorTypeRateLimit, "rate limited", true, err)
	case status >= 500:
		return NewError(ErrorTypeEndpoint, "server error", true, err)
	default:
		return NewError(ErrorTypeUnknown, "request rejected", false, err)
	}
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// GetErrorType extracts the ErrorType from an error.
func GetErrorType(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}
