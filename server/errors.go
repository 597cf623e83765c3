package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// OAuth 2.0 and OpenID Connect error codes
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeLoginRequired           = "login_required"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeServerError             = "server_error"

	// account endpoint and transport codes
	ErrorCodeInvalidCredentials = "invalid_credentials"
	ErrorCodeRateLimitExceeded  = "rate_limit_exceeded"
)

// Error is a protocol error. When RedirectURI is set the error must be
// delivered to the client by redirect; otherwise it is written as a JSON body
// with Status.
type Error struct {
	Code        string
	Description string
	Status      int

	// RedirectURI is the verified client redirect URI, if known
	RedirectURI string

	// State is echoed back to the client
	State string

	cause error
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// Unwrap returns the internal cause, if any
func (e *Error) Unwrap() error {
	return e.cause
}

// Redirectable reports whether the error is delivered by redirect
func (e *Error) Redirectable() bool {
	return e.RedirectURI != ""
}

// RedirectURL returns RedirectURI with error, error_description and state
// added to its query.
func (e *Error) RedirectURL() string {
	u, err := url.Parse(e.RedirectURI)
	if err != nil {
		return e.RedirectURI
	}
	q := u.Query()
	q.Set("error", e.Code)
	if e.Description != "" {
		q.Set("error_description", e.Description)
	}
	if e.State != "" {
		q.Set("state", e.State)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (e *Error) withRedirect(redirectURI, state string) *Error {
	e.RedirectURI = redirectURI
	e.State = state
	return e
}

func (e *Error) withState(state string) *Error {
	e.State = state
	return e
}

func newError(code string, status int, format string, args ...any) *Error {
	return &Error{
		Code:        code,
		Description: fmt.Sprintf(format, args...),
		Status:      status,
	}
}

// ErrInvalidRequest returns an invalid_request error
func ErrInvalidRequest(format string, args ...any) *Error {
	return newError(ErrorCodeInvalidRequest, http.StatusBadRequest, format, args...)
}

// ErrInvalidClient returns an invalid_client error
func ErrInvalidClient(format string, args ...any) *Error {
	return newError(ErrorCodeInvalidClient, http.StatusBadRequest, format, args...)
}

// ErrInvalidGrant returns an invalid_grant error
func ErrInvalidGrant(format string, args ...any) *Error {
	return newError(ErrorCodeInvalidGrant, http.StatusBadRequest, format, args...)
}

// ErrInvalidScope returns an invalid_scope error
func ErrInvalidScope(format string, args ...any) *Error {
	return newError(ErrorCodeInvalidScope, http.StatusBadRequest, format, args...)
}

// ErrUnsupportedResponseType returns an unsupported_response_type error
func ErrUnsupportedResponseType(format string, args ...any) *Error {
	return newError(ErrorCodeUnsupportedResponseType, http.StatusBadRequest, format, args...)
}

// ErrUnsupportedGrantType returns an unsupported_grant_type error
func ErrUnsupportedGrantType(format string, args ...any) *Error {
	return newError(ErrorCodeUnsupportedGrantType, http.StatusBadRequest, format, args...)
}

// ErrLoginRequired returns a login_required error
func ErrLoginRequired(format string, args ...any) *Error {
	return newError(ErrorCodeLoginRequired, http.StatusBadRequest, format, args...)
}

// ErrInvalidToken returns an invalid_token error
func ErrInvalidToken(format string, args ...any) *Error {
	return newError(ErrorCodeInvalidToken, http.StatusUnauthorized, format, args...)
}

// ErrInvalidCredentials returns an invalid_credentials error
func ErrInvalidCredentials() *Error {
	return newError(ErrorCodeInvalidCredentials, http.StatusUnauthorized, "invalid username or password")
}

// ErrServerError wraps an internal failure. The cause is kept for logging and
// never rendered.
func ErrServerError(cause error) *Error {
	e := newError(ErrorCodeServerError, http.StatusInternalServerError, "internal server error")
	e.cause = cause
	return e
}

// AsError converts err to *Error. Errors that are not protocol errors become
// server_error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrServerError(err)
}
