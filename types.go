package oidc

import (
	"github.com/giantswarm/oidc-provider/server"
)

// ErrorResponse is the JSON body of an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`

	// State echoes the state of a rejected authorization request
	State string `json:"state,omitempty"`
}

// TokenResponse is the successful token endpoint response
type TokenResponse = server.TokenResponse

// OpenIDConfiguration is the discovery document
type OpenIDConfiguration = server.OpenIDConfiguration

// LoginRequest is the body accepted by the login endpoint, as JSON or form
type LoginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"` //nolint:gosec // request field, never logged
	ReturnURL string `json:"return_url,omitempty"`
}

// LoginResponse is returned by the login endpoint when there is no return URL
type LoginResponse struct {
	UserID string `json:"user_id"`
}
