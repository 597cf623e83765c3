package security

// Event type constants for security audit logging.
const (
	// Authorization endpoint

	// EventAuthorizationRejected is logged when an authorization request fails validation
	EventAuthorizationRejected = "authorization_rejected"

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventLoginRequired is logged when prompt=none is requested without a session
	EventLoginRequired = "login_required"

	// EventInvalidRedirect is logged when a redirect_uri does not match the registration
	EventInvalidRedirect = "invalid_redirect"

	// EventScopeEscalationAttempt is logged when a client requests scopes it is not allowed
	EventScopeEscalationAttempt = "scope_escalation_attempt"

	// EventPKCERequired is logged when a PKCE-enforcing client omits code_challenge
	EventPKCERequired = "pkce_required"

	// Token endpoint

	// EventTokenIssued is logged when tokens are minted for a consumed code
	EventTokenIssued = "token_issued"

	// EventCodeRedemptionFailed is logged when a code is unknown, expired or already used
	EventCodeRedemptionFailed = "code_redemption_failed"

	// EventCodeClientMismatch is logged when a code is presented by a different client
	EventCodeClientMismatch = "code_client_mismatch"

	// EventCodeRedirectMismatch is logged when the token request redirect_uri differs from the stored one
	EventCodeRedirectMismatch = "code_redirect_mismatch"

	// EventPKCEValidationFailed is logged when code_verifier does not match the stored challenge
	EventPKCEValidationFailed = "pkce_validation_failed"

	// Account endpoints

	// EventLoginSucceeded is logged when a user authenticates and a session is created
	EventLoginSucceeded = "login_succeeded"

	// EventAuthFailure is logged when credentials are rejected
	EventAuthFailure = "auth_failure"

	// EventLogout is logged when a session is terminated
	EventLogout = "logout"

	// Resource access

	// EventInvalidAccessToken is logged when userinfo receives an unusable bearer token
	EventInvalidAccessToken = "invalid_access_token" //nolint:gosec // event type name, not a credential

	// Abuse

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"
)
