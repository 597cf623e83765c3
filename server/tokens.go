package server

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/giantswarm/oidc-provider/internal/util"
	"github.com/giantswarm/oidc-provider/storage"
)

// JOSE typ header values
const (
	accessTokenType = "at+jwt"
	idTokenType     = "JWT"
)

// Private claim names
const (
	claimClientID = "client_id"
	claimScope    = "scope"
	claimScp      = "scp"
	claimNonce    = "nonce"
)

// TokenIssuer mints and verifies signed tokens. It performs no I/O and is
// safe for concurrent use.
type TokenIssuer struct {
	keys      *KeySet
	issuer    string
	accessTTL time.Duration
	idTTL     time.Duration
	skew      time.Duration
	now       func() time.Time
}

// NewTokenIssuer creates a token issuer signing with keys
func NewTokenIssuer(keys *KeySet, issuer string, accessTTL, idTTL, skew time.Duration) *TokenIssuer {
	return &TokenIssuer{
		keys:      keys,
		issuer:    issuer,
		accessTTL: accessTTL,
		idTTL:     idTTL,
		skew:      skew,
		now:       time.Now,
	}
}

// AccessTokenTTL returns the access token lifetime
func (t *TokenIssuer) AccessTokenTTL() time.Duration {
	return t.accessTTL
}

// AccessTokenClaims builds the unsigned access token for a consumed code.
// scp carries the individual scope tokens as a JSON array.
func (t *TokenIssuer) AccessTokenClaims(code *storage.AuthorizationCode, issuedAt time.Time) (jwt.Token, error) {
	scopes := util.SplitScopes(code.Scope)
	if scopes == nil {
		scopes = []string{}
	}

	return jwt.NewBuilder().
		Subject(code.UserID).
		Audience([]string{code.ClientID}).
		Issuer(t.issuer).
		IssuedAt(issuedAt).
		Expiration(issuedAt.Add(t.accessTTL)).
		Claim(claimClientID, code.ClientID).
		Claim(claimScope, code.Scope).
		Claim(claimScp, scopes).
		Build()
}

// IDTokenClaims builds the unsigned ID token for a consumed code. A nil
// user produces a token with only the registered claims.
func (t *TokenIssuer) IDTokenClaims(code *storage.AuthorizationCode, user *storage.User, issuedAt time.Time) (jwt.Token, error) {
	builder := jwt.NewBuilder().
		Subject(code.UserID).
		Audience([]string{code.ClientID}).
		Issuer(t.issuer).
		IssuedAt(issuedAt).
		Expiration(issuedAt.Add(t.idTTL)).
		Claim(claimScope, code.Scope)

	if code.Nonce != "" {
		builder = builder.Claim(claimNonce, code.Nonce)
	}
	for name, value := range IdentityClaims(user, util.SplitScopes(code.Scope)) {
		builder = builder.Claim(name, value)
	}

	return builder.Build()
}

// IssueAccessToken signs an access token for code. It returns the token and
// its expiry.
func (t *TokenIssuer) IssueAccessToken(code *storage.AuthorizationCode) (string, time.Time, error) {
	now := t.now()
	tok, err := t.AccessTokenClaims(code, now)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to build access token: %w", err)
	}
	signed, err := t.sign(tok, accessTokenType)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, tok.Expiration(), nil
}

// IssueIDToken signs an ID token for code and user
func (t *TokenIssuer) IssueIDToken(code *storage.AuthorizationCode, user *storage.User) (string, error) {
	tok, err := t.IDTokenClaims(code, user, t.now())
	if err != nil {
		return "", fmt.Errorf("failed to build ID token: %w", err)
	}
	return t.sign(tok, idTokenType)
}

func (t *TokenIssuer) sign(tok jwt.Token, typ string) (string, error) {
	headers := jws.NewHeaders()
	if err := headers.Set(jws.KeyIDKey, t.keys.KeyID()); err != nil {
		return "", fmt.Errorf("failed to set kid header: %w", err)
	}
	if err := headers.Set(jws.TypeKey, typ); err != nil {
		return "", fmt.Errorf("failed to set typ header: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(SigningAlgorithm, t.keys.private, jws.WithProtectedHeaders(headers)))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}

// AccessToken is a verified access token
type AccessToken struct {
	Subject   string
	ClientID  string
	Scope     string
	Scopes    []string
	ExpiresAt time.Time
}

// VerifyAccessToken checks the signature, issuer and lifetime of an access
// token. ID tokens are rejected because they carry no client_id claim.
func (t *TokenIssuer) VerifyAccessToken(raw string) (*AccessToken, error) {
	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKeySet(t.keys.PublicSet()),
		jwt.WithValidate(true),
		jwt.WithIssuer(t.issuer),
		jwt.WithClock(jwt.ClockFunc(t.now)),
		jwt.WithAcceptableSkew(t.skew),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}

	clientID, ok := stringClaim(tok, claimClientID)
	if !ok || clientID == "" {
		return nil, fmt.Errorf("invalid access token: missing client_id")
	}
	if tok.Subject() == "" {
		return nil, fmt.Errorf("invalid access token: missing sub")
	}
	scope, _ := stringClaim(tok, claimScope)

	return &AccessToken{
		Subject:   tok.Subject(),
		ClientID:  clientID,
		Scope:     scope,
		Scopes:    util.SplitScopes(scope),
		ExpiresAt: tok.Expiration(),
	}, nil
}

func stringClaim(tok jwt.Token, name string) (string, bool) {
	v, ok := tok.Get(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
