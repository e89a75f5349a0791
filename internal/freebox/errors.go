package freebox

import (
	"errors"
	"fmt"
)

// Gateway error codes that mean the current session token is no longer
// accepted and a new login handshake is required.
const (
	codeAuthRequired = "auth_required"
	codeInvalidToken = "invalid_token"
)

// ErrNotPaired is returned when an operation needs an app credential and
// none is stored for the gateway.
var ErrNotPaired = errors.New("not paired with gateway")

// AuthError means the app credential itself is invalid or was revoked on
// the gateway. It is not retriable; the collaborator must re-pair.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authentication rejected (%s)", e.Code)
	}
	return fmt.Sprintf("authentication rejected (%s): %s", e.Code, e.Message)
}

// SessionError is a transient failure during the login handshake (network,
// timing). Callers retry it with bounded backoff.
type SessionError struct {
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session handshake: %v", e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// TimeoutError means a transport call exceeded its bounded timeout. Polls
// treat it as transient; commands surface it immediately.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timeout: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// APIError means the gateway rejected the specific request. The error is
// data, not a transient fault, and is never retried.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}

// ProtocolError means a response did not match the expected shape. It is
// logged and skips the affected category for the cycle, never fatal.
type ProtocolError struct {
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("protocol error: %s", e.Message)
	}
	return fmt.Sprintf("protocol error: %s: %v", e.Message, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsAuthRejected reports whether err is the gateway refusing the session
// token attached to a request.
func IsAuthRejected(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == codeAuthRequired || apiErr.Code == codeInvalidToken
}

// IsTransient reports whether err is worth retrying with backoff.
func IsTransient(err error) bool {
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}
	var sessionErr *SessionError
	return errors.As(err, &sessionErr)
}
