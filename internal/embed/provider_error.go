package embed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ProviderError is returned by providers for failed calls.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Retryable  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// outcome is the result class of one provider call.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetryable
	outcomeFatal
)

func (o outcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// classify maps a provider error to an outcome. Timeouts, transport
// errors, 429 and 5xx are retryable; everything else is fatal.
func classify(err error) outcome {
	if err == nil {
		return outcomeSuccess
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Retryable {
			return outcomeRetryable
		}
		return outcomeFatal
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return outcomeRetryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return outcomeRetryable
	}
	return outcomeFatal
}

// statusError builds a ProviderError from an HTTP status.
func statusError(provider string, status int, body string) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Message:    body,
		Retryable:  retryableStatus(status),
	}
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status >= http.StatusInternalServerError
}

// transportError wraps a failure to reach the provider.
func transportError(provider string, err error) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Message:   "request failed",
		Retryable: true,
		Cause:     err,
	}
}
