package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrMalformedEnvelope reports a 2xx response whose body is not the
// {success, message, data} envelope.
var ErrMalformedEnvelope = errors.New("httpclient: malformed envelope")

// ErrResponseTooLarge reports a response body over the client's read limit.
var ErrResponseTooLarge = errors.New("httpclient: response too large")

// HTTPError is returned when the backend answered with a non-2xx status.
type HTTPError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("httpclient: backend status %d: %s", e.Status, e.Message)
}

// NetworkError is returned when no response was received: connection
// failures, cancellation and timeouts.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("httpclient: network failure: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the call ran out of time.
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// ValidationError is a client-side rejection; the request is never sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsNetworkFailure reports whether err means no response was received.
func IsNetworkFailure(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// StatusOf returns the backend status carried by err, or 0.
func StatusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}

func newHTTPError(status int, body []byte) *HTTPError {
	message := http.StatusText(status)
	if env, err := DecodeEnvelope(body); err == nil && env.Message != "" {
		message = env.Message
	}
	if message == "" {
		message = "request failed"
	}
	return &HTTPError{Status: status, Message: message, Body: body}
}
