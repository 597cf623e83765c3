package oidc

import (
	"github.com/giantswarm/oidc-provider/server"
)

// OAuth 2.0 and OpenID Connect error codes
const (
	ErrorCodeInvalidRequest          = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidClient           = server.ErrorCodeInvalidClient
	ErrorCodeInvalidGrant            = server.ErrorCodeInvalidGrant
	ErrorCodeInvalidScope            = server.ErrorCodeInvalidScope
	ErrorCodeUnsupportedResponseType = server.ErrorCodeUnsupportedResponseType
	ErrorCodeUnsupportedGrantType    = server.ErrorCodeUnsupportedGrantType
	ErrorCodeLoginRequired           = server.ErrorCodeLoginRequired
	ErrorCodeInvalidToken            = server.ErrorCodeInvalidToken
	ErrorCodeServerError             = server.ErrorCodeServerError
	ErrorCodeInvalidCredentials      = server.ErrorCodeInvalidCredentials
	ErrorCodeRateLimitExceeded       = server.ErrorCodeRateLimitExceeded
)

// Error is a protocol error returned by the server package
type Error = server.Error

// AsError converts err to *Error; other errors become server_error
func AsError(err error) *Error {
	return server.AsError(err)
}
