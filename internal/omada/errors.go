package omada

import (
	"errors"
	"fmt"
)

// TransportError reports a request that never produced a usable response:
// a network failure, a timeout, or a non-2xx HTTP status.
type TransportError struct {
	Method string
	Path   string
	// StatusCode is zero when no response was received.
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: HTTP %d: %v", e.Method, e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError reports a response whose envelope carried a non-zero errorCode.
type APIError struct {
	Path string
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: controller error %d: %s", e.Path, e.Code, e.Msg)
}

// VendorMessage returns the controller's own error text.
func (e *APIError) VendorMessage() string { return e.Msg }

// Controller error codes for an access token it no longer accepts.
const (
	codeTokenExpired = -44112
	codeTokenInvalid = -44113
)

// TokenRejected reports whether the controller refused the access token.
func (e *APIError) TokenRejected() bool {
	return e.Code == codeTokenExpired || e.Code == codeTokenInvalid
}

// MalformedResponseError reports a response body that could not be decoded
// into the expected shape.
type MalformedResponseError struct {
	Path string
	Err  error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Path, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// IsTransport reports whether err is, or wraps, a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
