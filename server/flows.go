package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oidc-provider/instrumentation"
	"github.com/giantswarm/oidc-provider/internal/util"
	"github.com/giantswarm/oidc-provider/security"
	"github.com/giantswarm/oidc-provider/storage"
)

// GrantTypeAuthorizationCode is the only supported grant_type
const GrantTypeAuthorizationCode = "authorization_code"

// TokenTypeBearer is the token_type of issued access tokens
const TokenTypeBearer = "Bearer"

// Authorization outcomes recorded in metrics
const (
	authorizationResultCode  = "code"
	authorizationResultLogin = "login"
)

// AuthorizationResult is the outcome of a successful authorization request.
// When NeedsLogin is set the user agent must be sent to the login page and
// RedirectURL is empty.
type AuthorizationResult struct {
	RedirectURL string
	NeedsLogin  bool
	ClientID    string
}

// TokenRequest holds the parameters of a token request
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	CodeVerifier string
}

// TokenResponse is the successful token endpoint response
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	IDToken     string `json:"id_token"`
	Scope       string `json:"scope,omitempty"`
}

// ============================================================
// Authorization
// ============================================================

// Authorize validates req and, if the session identifies an active user,
// issues an authorization code and returns the client redirect.
func (s *Server) Authorize(ctx context.Context, req *AuthorizationRequest, sessionID string) (*AuthorizationResult, error) {
	ctx, span := s.startSpan(ctx, "oidc.authorize")
	defer span.End()
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrResponseType, req.ResponseType),
		attribute.String(instrumentation.AttrPrompt, req.Prompt),
	)
	instrumentation.AddOAuthFlowAttributes(span, req.ClientID, "", req.Scope)

	validated, err := s.ValidateAuthorizationRequest(ctx, req)
	if err != nil {
		s.rejectAuthorization(ctx, span, req.ClientID, err)
		return nil, err
	}

	user, err := s.ResolveSession(ctx, sessionID)
	if err != nil {
		s.Logger.Error("Failed to resolve session", "client_id", req.ClientID, "error", err)
		err = ErrServerError(err)
		s.rejectAuthorization(ctx, span, req.ClientID, err)
		return nil, err
	}

	if user == nil {
		if validated.Prompt == PromptNone {
			err := ErrLoginRequired("user is not authenticated").withRedirect(validated.RedirectURI, validated.State)
			s.audit(ctx, security.Event{
				Type:     security.EventLoginRequired,
				ClientID: req.ClientID,
			})
			s.rejectAuthorization(ctx, span, req.ClientID, err)
			return nil, err
		}

		if m := s.metrics(); m != nil {
			m.RecordAuthorizationRequest(ctx, req.ClientID, authorizationResultLogin)
		}
		instrumentation.SetSpanSuccess(span)
		return &AuthorizationResult{NeedsLogin: true, ClientID: req.ClientID}, nil
	}

	instrumentation.AddOAuthFlowAttributes(span, "", user.ID, "")

	code, err := s.IssueCode(ctx, validated, user.ID)
	if err != nil {
		s.Logger.Error("Failed to issue authorization code", "client_id", req.ClientID, "error", err)
		err = ErrServerError(err).withRedirect(validated.RedirectURI, validated.State)
		s.rejectAuthorization(ctx, span, req.ClientID, err)
		return nil, err
	}

	redirectURL, err := buildCodeRedirect(validated.RedirectURI, code, validated.State)
	if err != nil {
		err = ErrServerError(err)
		s.rejectAuthorization(ctx, span, req.ClientID, err)
		return nil, err
	}

	if m := s.metrics(); m != nil {
		m.RecordAuthorizationRequest(ctx, req.ClientID, authorizationResultCode)
	}
	instrumentation.SetSpanSuccess(span)

	return &AuthorizationResult{RedirectURL: redirectURL, ClientID: req.ClientID}, nil
}

// IssueCode stores a new authorization code bound to the validated request
// and userID and returns it.
func (s *Server) IssueCode(ctx context.Context, req *ValidatedRequest, userID string) (string, error) {
	now := s.now()

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		record := &storage.AuthorizationCode{
			Code:                generateRandomToken(),
			ClientID:            req.Client.ClientID,
			UserID:              userID,
			RedirectURI:         req.RedirectURI,
			Scope:               req.Scope,
			Nonce:               req.Nonce,
			CodeChallenge:       req.CodeChallenge,
			CodeChallengeMethod: req.CodeChallengeMethod,
			CreatedAt:           now,
			ExpiresAt:           now.Add(AuthorizationCodeTTL),
		}

		err := s.codes.Save(ctx, record)
		if errors.Is(err, storage.ErrCodeCollision) {
			s.Logger.Warn("Authorization code collision, regenerating", "attempt", attempt)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to save authorization code: %w", err)
		}

		s.Logger.Info("Authorization code issued",
			"client_id", record.ClientID,
			"code_prefix", util.SafeTruncate(record.Code, 8),
			"pkce_method", record.CodeChallengeMethod)
		s.audit(ctx, security.Event{
			Type:     security.EventAuthorizationCodeIssued,
			UserID:   userID,
			ClientID: record.ClientID,
			Details:  map[string]any{"scope": record.Scope},
		})
		if m := s.metrics(); m != nil {
			m.RecordCodeIssued(ctx, record.ClientID, record.CodeChallengeMethod)
		}

		return record.Code, nil
	}

	return "", fmt.Errorf("failed to generate a unique authorization code after %d attempts", maxCodeAttempts)
}

// LoginRedirectURL returns the login page URL carrying returnURL
func (s *Server) LoginRedirectURL(returnURL string) string {
	u, err := url.Parse(s.Config.LoginURL)
	if err != nil {
		return s.Config.LoginURL
	}
	q := u.Query()
	q.Set("returnUrl", returnURL)
	u.RawQuery = q.Encode()
	return u.String()
}

func buildCodeRedirect(redirectURI, code, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URI: %w", err)
	}
	q := u.Query()
	q.Set("code", code)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Server) rejectAuthorization(ctx context.Context, span trace.Span, clientID string, err error) {
	oauthErr := AsError(err)

	instrumentation.AddOAuthErrorAttributes(span, oauthErr.Code, oauthErr.Description, oauthErr.Redirectable())
	if m := s.metrics(); m != nil {
		m.RecordAuthorizationRequest(ctx, clientID, oauthErr.Code)
	}
	if oauthErr.Code == ErrorCodeServerError {
		return
	}

	eventType := security.EventAuthorizationRejected
	switch oauthErr.Code {
	case ErrorCodeInvalidScope:
		eventType = security.EventScopeEscalationAttempt
	case ErrorCodeLoginRequired:
		return
	case ErrorCodeInvalidRequest:
		switch oauthErr.Description {
		case descRedirectURIMismatch:
			eventType = security.EventInvalidRedirect
		case descPKCERequired:
			eventType = security.EventPKCERequired
		}
	}

	s.Logger.Warn("Authorization request rejected",
		"client_id", clientID,
		"error", oauthErr.Code,
		"error_description", oauthErr.Description)
	s.audit(ctx, security.Event{
		Type:     eventType,
		ClientID: clientID,
		Details: map[string]any{
			"error":             oauthErr.Code,
			"error_description": oauthErr.Description,
		},
	})
}

// ============================================================
// Token exchange
// ============================================================

// ExchangeAuthorizationCode redeems an authorization code for an access
// token and an ID token. The code is consumed before the client, redirect
// URI and PKCE checks, so a failed check burns it.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "oidc.token")
	defer span.End()
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, req.GrantType))
	instrumentation.AddOAuthFlowAttributes(span, req.ClientID, "", "")

	resp, clientID, err := s.exchange(ctx, req)
	if err != nil {
		oauthErr := AsError(err)
		instrumentation.AddOAuthErrorAttributes(span, oauthErr.Code, oauthErr.Description, false)
		if m := s.metrics(); m != nil {
			m.RecordCodeExchange(ctx, clientID, oauthErr.Code)
		}
		return nil, oauthErr
	}

	if m := s.metrics(); m != nil {
		m.RecordCodeExchange(ctx, clientID, "success")
	}
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}

func (s *Server) exchange(ctx context.Context, req *TokenRequest) (*TokenResponse, string, error) {
	if req.GrantType != GrantTypeAuthorizationCode {
		return nil, req.ClientID, ErrUnsupportedGrantType("grant_type %q is not supported", req.GrantType)
	}
	if req.Code == "" {
		return nil, req.ClientID, ErrInvalidRequest("code is required")
	}

	record, err := s.codes.Consume(ctx, req.Code)
	if err != nil {
		if !errors.Is(err, storage.ErrCodeNotFound) {
			s.Logger.Error("Failed to consume authorization code", "error", err)
			return nil, req.ClientID, ErrServerError(fmt.Errorf("failed to consume authorization code: %w", err))
		}
		s.Logger.Warn("Authorization code redemption failed",
			"client_id", req.ClientID,
			"code_prefix", util.SafeTruncate(req.Code, 8))
		s.audit(ctx, security.Event{
			Type:     security.EventCodeRedemptionFailed,
			ClientID: req.ClientID,
		})
		return nil, req.ClientID, ErrInvalidGrant("authorization code is invalid, expired, or already used")
	}

	// The code is gone from here on. Cancellation of ctx must not undo that,
	// so the remaining work runs detached from it.
	ctx = context.WithoutCancel(ctx)

	clientID := req.ClientID
	if clientID == "" {
		clientID = record.ClientID
	}

	if clientID != record.ClientID {
		s.Logger.Warn("Authorization code presented by a different client",
			"client_id", clientID,
			"code_client_id", record.ClientID,
			"code_prefix", util.SafeTruncate(req.Code, 8))
		s.audit(ctx, security.Event{
			Type:     security.EventCodeClientMismatch,
			UserID:   record.UserID,
			ClientID: clientID,
			Details:  map[string]any{"code_client_id": record.ClientID},
		})
		return nil, clientID, ErrInvalidGrant("authorization code was issued to a different client")
	}

	if req.RedirectURI != "" && !redirectURIsEqual(req.RedirectURI, record.RedirectURI) {
		s.audit(ctx, security.Event{
			Type:     security.EventCodeRedirectMismatch,
			UserID:   record.UserID,
			ClientID: clientID,
		})
		return nil, clientID, ErrInvalidGrant("redirect_uri mismatch")
	}

	if err := validatePKCE(record.CodeChallenge, record.CodeChallengeMethod, req.CodeVerifier); err != nil {
		s.Logger.Warn("PKCE verification failed", "client_id", clientID, "error", err)
		s.audit(ctx, security.Event{
			Type:     security.EventPKCEValidationFailed,
			UserID:   record.UserID,
			ClientID: clientID,
			Details:  map[string]any{"method": record.CodeChallengeMethod},
		})
		if m := s.metrics(); m != nil {
			m.RecordPKCEValidationFailed(ctx, record.CodeChallengeMethod)
		}
		return nil, clientID, ErrInvalidGrant("%s", err.Error())
	}

	user, err := s.users.GetUser(ctx, record.UserID)
	if err != nil {
		if !errors.Is(err, storage.ErrUserNotFound) {
			s.Logger.Error("Failed to look up user", "client_id", clientID, "error", err)
			return nil, clientID, ErrServerError(fmt.Errorf("failed to look up user: %w", err))
		}
		s.Logger.Warn("User of authorization code no longer exists, omitting identity claims",
			"client_id", clientID)
		user = nil
	}

	accessToken, _, err := s.Tokens.IssueAccessToken(record)
	if err != nil {
		s.Logger.Error("Failed to issue access token", "client_id", clientID, "error", err)
		return nil, clientID, ErrServerError(err)
	}
	idToken, err := s.Tokens.IssueIDToken(record, user)
	if err != nil {
		s.Logger.Error("Failed to issue ID token", "client_id", clientID, "error", err)
		return nil, clientID, ErrServerError(err)
	}

	if m := s.metrics(); m != nil {
		m.RecordTokenIssued(ctx, "access_token")
		m.RecordTokenIssued(ctx, "id_token")
	}
	s.Logger.Info("Tokens issued", "client_id", clientID, "scope", record.Scope)
	s.audit(ctx, security.Event{
		Type:     security.EventTokenIssued,
		UserID:   record.UserID,
		ClientID: clientID,
		Details:  map[string]any{"scope": record.Scope},
	})

	return &TokenResponse{
		AccessToken: accessToken,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(s.Tokens.AccessTokenTTL().Seconds()),
		IDToken:     idToken,
		Scope:       record.Scope,
	}, clientID, nil
}

// redirectURIsEqual compares redirect URIs ignoring ASCII case, like the
// authorization endpoint check
func redirectURIsEqual(a, b string) bool {
	return util.EqualFoldASCII(a, b)
}

// ============================================================
// UserInfo
// ============================================================

// UserInfo returns the claims of the access token subject, gated by the
// scopes on the token
func (s *Server) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	ctx, span := s.startSpan(ctx, "oidc.userinfo")
	defer span.End()

	claims, err := s.userInfo(ctx, accessToken, span)
	result := "success"
	if err != nil {
		oauthErr := AsError(err)
		result = oauthErr.Code
		instrumentation.AddOAuthErrorAttributes(span, oauthErr.Code, oauthErr.Description, false)
		err = oauthErr
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	if m := s.metrics(); m != nil {
		m.RecordUserInfoRequest(ctx, result)
	}
	return claims, err
}

func (s *Server) userInfo(ctx context.Context, accessToken string, span trace.Span) (map[string]any, error) {
	if accessToken == "" {
		return nil, ErrInvalidToken("access token is required")
	}

	token, err := s.Tokens.VerifyAccessToken(accessToken)
	if err != nil {
		s.Logger.Debug("Rejected access token", "error", err)
		s.audit(ctx, security.Event{Type: security.EventInvalidAccessToken})
		return nil, ErrInvalidToken("access token is invalid or expired")
	}
	instrumentation.AddOAuthFlowAttributes(span, token.ClientID, token.Subject, token.Scope)

	user, err := s.users.GetUser(ctx, token.Subject)
	switch {
	case errors.Is(err, storage.ErrUserNotFound):
		user = nil
	case err != nil:
		s.Logger.Error("Failed to look up user", "client_id", token.ClientID, "error", err)
		return nil, ErrServerError(fmt.Errorf("failed to look up user: %w", err))
	case !user.IsActive:
		return nil, ErrInvalidToken("user is no longer active")
	}

	claims := IdentityClaims(user, token.Scopes)
	claims["sub"] = token.Subject
	return claims, nil
}

// ============================================================
// Login sessions
// ============================================================

// Login checks credentials and creates a session for the user
func (s *Server) Login(ctx context.Context, login, password string) (*storage.Session, *storage.User, error) {
	ctx, span := s.startSpan(ctx, "oidc.login")
	defer span.End()

	session, user, err := s.login(ctx, login, password)
	if m := s.metrics(); m != nil {
		m.RecordLoginAttempt(ctx, err == nil)
	}
	if err != nil {
		oauthErr := AsError(err)
		instrumentation.AddOAuthErrorAttributes(span, oauthErr.Code, oauthErr.Description, false)
		return nil, nil, oauthErr
	}
	instrumentation.AddOAuthFlowAttributes(span, "", user.ID, "")
	instrumentation.SetSpanSuccess(span)
	return session, user, nil
}

func (s *Server) login(ctx context.Context, login, password string) (*storage.Session, *storage.User, error) {
	if login == "" || password == "" {
		return nil, nil, ErrInvalidRequest("username and password are required")
	}

	user, err := s.users.ValidateCredentials(ctx, login, password)
	if err == nil && !user.IsActive {
		err = storage.ErrInvalidCredentials
	}
	if err != nil {
		if !errors.Is(err, storage.ErrInvalidCredentials) {
			s.Logger.Error("Failed to validate credentials", "error", err)
			return nil, nil, ErrServerError(fmt.Errorf("failed to validate credentials: %w", err))
		}
		s.audit(ctx, security.Event{
			Type:    security.EventAuthFailure,
			Details: map[string]any{"reason": "invalid credentials"},
		})
		return nil, nil, ErrInvalidCredentials()
	}

	now := s.now()
	session := &storage.Session{
		ID:        generateRandomToken(),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.Config.SessionTTL),
	}
	if err := s.sessions.SaveSession(ctx, session); err != nil {
		s.Logger.Error("Failed to save session", "error", err)
		return nil, nil, ErrServerError(fmt.Errorf("failed to save session: %w", err))
	}

	s.Logger.Info("User logged in", "session_prefix", util.SafeTruncate(session.ID, 8))
	s.audit(ctx, security.Event{Type: security.EventLoginSucceeded, UserID: user.ID})

	return session, user, nil
}

// ResolveSession returns the active user of a session. It returns a nil user
// when there is no usable session.
func (s *Server) ResolveSession(ctx context.Context, sessionID string) (*storage.User, error) {
	if sessionID == "" {
		return nil, nil
	}

	session, err := s.sessions.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if security.IsExpired(session.ExpiresAt, s.now()) {
		return nil, nil
	}

	user, err := s.users.GetUser(ctx, session.UserID)
	if errors.Is(err, storage.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session user: %w", err)
	}
	if !user.IsActive {
		return nil, nil
	}

	return user, nil
}

// Logout ends a session. It returns postLogoutRedirectURI when it equals a
// registered client redirect URI, otherwise an empty string.
func (s *Server) Logout(ctx context.Context, sessionID, postLogoutRedirectURI string) (string, error) {
	ctx, span := s.startSpan(ctx, "oidc.logout")
	defer span.End()

	if sessionID != "" {
		var userID string
		if session, err := s.sessions.GetSession(ctx, sessionID); err == nil {
			userID = session.UserID
		}
		if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
			instrumentation.RecordError(span, err)
			s.Logger.Error("Failed to delete session", "error", err)
			return "", ErrServerError(fmt.Errorf("failed to delete session: %w", err))
		}
		if userID != "" {
			s.audit(ctx, security.Event{Type: security.EventLogout, UserID: userID})
		}
	}
	instrumentation.SetSpanSuccess(span)

	if postLogoutRedirectURI == "" {
		return "", nil
	}
	clients, err := s.clients.ListClients(ctx)
	if err != nil {
		s.Logger.Error("Failed to list clients", "error", err)
		return "", nil
	}
	for _, client := range clients {
		if client.MatchesRedirectURI(postLogoutRedirectURI) {
			return postLogoutRedirectURI, nil
		}
	}
	s.Logger.Warn("Ignoring unregistered post_logout_redirect_uri")
	return "", nil
}
