// Package sj implements the authenticated call pipeline for the Sky Jam
// ("sj") locker service endpoints: an OAuth2 session with transparent token
// refresh, a retrying call dispatcher with idempotent-error classification,
// and the login/logout lifecycle with credential persistence.
package sj

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for auth and transport classification.
// Use errors.Is(err, sj.ErrAuthExpired) to check.
var (
	// ErrAuthExpired means no refresh token is available; the caller must
	// re-authorize interactively.
	ErrAuthExpired = errors.New("sj: authentication expired, no refresh token")

	// ErrAuthExchange means the token endpoint returned a malformed or
	// rejecting response during the authorization-code grant.
	ErrAuthExchange = errors.New("sj: authorization code exchange failed")

	// ErrNotAuthenticated means an operation requiring a session token was
	// attempted before login.
	ErrNotAuthenticated = errors.New("sj: not authenticated")

	ErrUnauthorized = errors.New("sj: unauthorized")
	ErrNotFound     = errors.New("sj: not found")
	ErrServerError  = errors.New("sj: server error")
)

// APIError wraps a sentinel error with the HTTP status code and response
// body of a failed exchange.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sj: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// CallError means the HTTP exchange succeeded but the call's own parser
// rejected the payload. Never retried: re-sending an already-successful
// request cannot change a malformed response.
type CallError struct {
	Call string
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("sj: parsing %s response: %v", e.Call, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusNotFound:
		return ErrNotFound
	case code >= http.StatusInternalServerError:
		return ErrServerError
	default:
		return nil
	}
}
