package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/giantswarm/oidc-provider/internal/util"
	"github.com/giantswarm/oidc-provider/storage"
)

// PKCE methods (RFC 7636)
const (
	PKCEMethodPlain = "plain"
	PKCEMethodS256  = "S256"
)

// RFC 7636 length bounds, shared by code_challenge and code_verifier
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
)

// Descriptions that identify a specific security event
const (
	descRedirectURIMismatch = "redirect_uri does not match the registered redirect URI"
	descPKCERequired        = "code_challenge is required for this client"
)

// ResponseTypeCode is the only supported response_type
const ResponseTypeCode = "code"

// PromptNone asks the server not to display any authentication UI
const PromptNone = "none"

// AuthorizationRequest holds the raw parameters of an authorization request
type AuthorizationRequest struct {
	ClientID            string
	ResponseType        string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	Prompt              string
}

// Scopes returns the requested scope tokens
func (r *AuthorizationRequest) Scopes() []string {
	return util.SplitScopes(r.Scope)
}

// ValidatedRequest is an authorization request that passed validation.
// RedirectURI and CodeChallengeMethod hold resolved values.
type ValidatedRequest struct {
	Client              *storage.Client
	RedirectURI         string
	Scope               string
	Scopes              []string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	Prompt              string
}

// ValidateAuthorizationRequest checks req in a fixed order and returns the
// first failure. Errors raised before the redirect URI is resolved are
// returned without RedirectURI; later errors carry it so they can be
// delivered by redirect. It has no side effects.
func (s *Server) ValidateAuthorizationRequest(ctx context.Context, req *AuthorizationRequest) (*ValidatedRequest, error) {
	if req.ClientID == "" {
		return nil, ErrInvalidRequest("client_id is required").withState(req.State)
	}

	if req.ResponseType == "" {
		return nil, ErrInvalidRequest("response_type is required").withState(req.State)
	}
	if req.ResponseType != ResponseTypeCode {
		return nil, ErrUnsupportedResponseType("response_type %q is not supported", req.ResponseType).withState(req.State)
	}

	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrInvalidClient("unknown client").withState(req.State)
		}
		return nil, ErrServerError(fmt.Errorf("failed to look up client: %w", err))
	}

	// The code is always bound to the registered spelling.
	redirectURI := client.RedirectURI
	if req.RedirectURI != "" && !client.MatchesRedirectURI(req.RedirectURI) {
		return nil, ErrInvalidRequest(descRedirectURIMismatch).withState(req.State)
	}

	// From here on errors are delivered to the client by redirect.
	if client.RequirePKCE && req.CodeChallenge == "" {
		return nil, ErrInvalidRequest(descPKCERequired).withRedirect(redirectURI, req.State)
	}

	scopes := req.Scopes()
	if rejected := disallowedScopes(client, scopes); len(rejected) > 0 {
		return nil, ErrInvalidScope("scope not allowed for this client: %s", strings.Join(rejected, " ")).
			withRedirect(redirectURI, req.State)
	}

	method := ""
	if req.CodeChallenge != "" {
		method = req.CodeChallengeMethod
		if method == "" {
			method = s.Config.DefaultPKCEMethod
		}
		if err := validateCodeChallenge(req.CodeChallenge, method); err != nil {
			return nil, ErrInvalidRequest("%s", err.Error()).withRedirect(redirectURI, req.State)
		}
	}

	return &ValidatedRequest{
		Client:              client,
		RedirectURI:         redirectURI,
		Scope:               util.JoinScopes(scopes),
		Scopes:              scopes,
		State:               req.State,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		Prompt:              req.Prompt,
	}, nil
}

// disallowedScopes returns the requested scopes the client may not request
func disallowedScopes(client *storage.Client, requested []string) []string {
	var rejected []string
	for _, scope := range requested {
		if !client.AllowsScope(scope) {
			rejected = append(rejected, scope)
		}
	}
	return rejected
}

// validateCodeChallenge checks the shape of a code_challenge for method
func validateCodeChallenge(challenge, method string) error {
	if len(challenge) < MinCodeVerifierLength || len(challenge) > MaxCodeVerifierLength {
		return fmt.Errorf("code_challenge must be between %d and %d characters", MinCodeVerifierLength, MaxCodeVerifierLength)
	}

	switch method {
	case PKCEMethodS256:
		if !isBase64URL(challenge) {
			return fmt.Errorf("code_challenge must be base64url encoded for S256")
		}
	case PKCEMethodPlain:
		if !isUnreservedString(challenge) {
			return fmt.Errorf("code_challenge contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	return nil
}

// validatePKCE validates the PKCE code verifier against the challenge per RFC 7636
func validatePKCE(challenge, method, verifier string) error {
	if challenge == "" {
		return nil
	}

	if verifier == "" {
		return fmt.Errorf("code_verifier is required when code_challenge is present")
	}

	if len(verifier) < MinCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at least %d characters (RFC 7636)", MinCodeVerifierLength)
	}
	if len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at most %d characters (RFC 7636)", MaxCodeVerifierLength)
	}
	if !isUnreservedString(verifier) {
		return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
	}

	var computedChallenge string
	switch method {
	case PKCEMethodS256:
		hash := sha256.Sum256([]byte(verifier))
		computedChallenge = base64.RawURLEncoding.EncodeToString(hash[:])
	case PKCEMethodPlain:
		computedChallenge = verifier
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	if subtle.ConstantTimeCompare([]byte(computedChallenge), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}

	return nil
}

// isUnreservedString reports whether s only holds RFC 3986 unreserved characters
func isUnreservedString(s string) bool {
	for _, ch := range s {
		isValid := isAlphaNumeric(ch) || ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return false
		}
	}
	return true
}

// isBase64URL reports whether s only holds unpadded base64url characters
func isBase64URL(s string) bool {
	for _, ch := range s {
		if !isAlphaNumeric(ch) && ch != '-' && ch != '_' {
			return false
		}
	}
	return true
}

func isAlphaNumeric(ch rune) bool {
	return (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9')
}
