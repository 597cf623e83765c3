package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oidc-provider/instrumentation"
	"github.com/giantswarm/oidc-provider/internal/util"
	"github.com/giantswarm/oidc-provider/security"
	"github.com/giantswarm/oidc-provider/server"
)

// Account endpoint paths
const (
	AccountLoginPath  = "/account/login"
	AccountLogoutPath = "/account/logout"

	// JWKSAliasPath is served in addition to Config.JWKSPath
	JWKSAliasPath = "/.well-known/jwks"
)

const (
	// metadataMaxAge is the public cache lifetime of discovery and JWKS
	metadataMaxAge = time.Hour

	// maxFormBytes bounds request bodies of form and JSON endpoints
	maxFormBytes = 64 << 10
)

// Endpoint names used in metrics and spans
const (
	endpointAuthorization = "authorization"
	endpointToken         = "token"
	endpointJWKS          = "jwks"
	endpointDiscovery     = "discovery"
	endpointUserInfo      = "userinfo"
	endpointLogin         = "login"
	endpointLogout        = "logout"
)

// Handler is a thin HTTP adapter for the authorization server.
// It parses requests and delegates to server.Server for protocol logic.
type Handler struct {
	server *server.Server
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates a new HTTP handler
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		logger: logger,
	}

	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	return h
}

// RegisterRoutes registers every protocol and account endpoint on mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	cfg := h.server.Config
	registered := make(map[string]bool)
	handle := func(path string, fn http.HandlerFunc) {
		if registered[path] {
			return
		}
		registered[path] = true
		mux.HandleFunc(path, fn)
	}

	handle(server.DiscoveryPath, h.ServeDiscovery)
	handle(cfg.AuthorizationPath, h.ServeAuthorization)
	handle(cfg.TokenPath, h.ServeToken)
	handle(cfg.UserInfoPath, h.ServeUserInfo)
	handle(cfg.JWKSPath, h.ServeJWKS)
	handle(JWKSAliasPath, h.ServeJWKS)
	handle(cfg.EndSessionPath, h.ServeLogout)
	handle(AccountLoginPath, h.ServeLogin)
	handle(AccountLogoutPath, h.ServeLogout)
}

// Routes returns a mux with every endpoint registered, wrapped in the
// request id middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return security.RequestIDMiddleware(mux)
}

// ============================================================
// Authorization endpoint
// ============================================================

// ServeAuthorization handles GET and POST requests to the authorization endpoint
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r, span := h.startSpan(r, "oidc.http.authorization")
	defer span.End()

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.methodNotAllowed(w, r, endpointAuthorization, span, startTime, http.MethodGet, http.MethodPost)
		return
	}

	clientIP := h.clientIP(r)
	r = r.WithContext(security.WithClientIP(r.Context(), clientIP))
	if h.checkIPRateLimit(w, r, clientIP, endpointAuthorization) {
		h.finish(span, endpointAuthorization, r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "failed to parse request", http.StatusBadRequest)
		h.finish(span, endpointAuthorization, r.Method, http.StatusBadRequest, startTime)
		return
	}

	req := &server.AuthorizationRequest{
		ClientID:            r.Form.Get("client_id"),
		ResponseType:        r.Form.Get("response_type"),
		RedirectURI:         r.Form.Get("redirect_uri"),
		Scope:               r.Form.Get("scope"),
		State:               r.Form.Get("state"),
		Nonce:               r.Form.Get("nonce"),
		CodeChallenge:       r.Form.Get("code_challenge"),
		CodeChallengeMethod: r.Form.Get("code_challenge_method"),
		Prompt:              r.Form.Get("prompt"),
	}

	result, err := h.server.Authorize(r.Context(), req, h.sessionID(r))
	if err != nil {
		oauthErr := AsError(err)
		h.logger.Info("Authorization request rejected",
			"client_id", req.ClientID,
			"error", oauthErr.Code,
			"redirected", oauthErr.Redirectable())

		if oauthErr.Redirectable() {
			http.Redirect(w, r, oauthErr.RedirectURL(), http.StatusFound)
			h.finish(span, endpointAuthorization, r.Method, http.StatusFound, startTime)
			return
		}

		h.writeErrorResponse(w, ErrorResponse{
			Error:            oauthErr.Code,
			ErrorDescription: oauthErr.Description,
			State:            oauthErr.State,
		}, oauthErr.Status)
		h.finish(span, endpointAuthorization, r.Method, oauthErr.Status, startTime)
		return
	}

	if result.NeedsLogin {
		http.Redirect(w, r, h.server.LoginRedirectURL(authorizationReturnURL(r)), http.StatusFound)
		h.finish(span, endpointAuthorization, r.Method, http.StatusFound, startTime)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
	h.finish(span, endpointAuthorization, r.Method, http.StatusFound, startTime)
}

// authorizationReturnURL rebuilds the authorization request as a GET URL so
// the login page can resume it, including parameters sent by POST.
func authorizationReturnURL(r *http.Request) string {
	if r.Method == http.MethodGet {
		return r.URL.RequestURI()
	}
	return r.URL.Path + "?" + r.Form.Encode()
}

// ============================================================
// Token endpoint
// ============================================================

// ServeToken handles the authorization_code grant
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r, span := h.startSpan(r, "oidc.http.token")
	defer span.End()

	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, r, endpointToken, span, startTime, http.MethodPost)
		return
	}

	clientIP := h.clientIP(r)
	r = r.WithContext(security.WithClientIP(r.Context(), clientIP))
	if h.checkIPRateLimit(w, r, clientIP, endpointToken) {
		h.finish(span, endpointToken, r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "failed to parse request", http.StatusBadRequest)
		h.finish(span, endpointToken, r.Method, http.StatusBadRequest, startTime)
		return
	}

	req := &server.TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		ClientID:     r.PostForm.Get("client_id"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, req.GrantType))

	resp, err := h.server.ExchangeAuthorizationCode(r.Context(), req)
	if err != nil {
		oauthErr := AsError(err)
		h.logger.Info("Token request rejected",
			"client_id", req.ClientID,
			"ip", clientIP,
			"error", oauthErr.Code)
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		h.finish(span, endpointToken, r.Method, oauthErr.Status, startTime)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
	h.finish(span, endpointToken, r.Method, http.StatusOK, startTime)
}

// ============================================================
// Metadata endpoints
// ============================================================

// ServeJWKS publishes the public signing keys
func (h *Handler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r, span := h.startSpan(r, "oidc.http.jwks")
	defer span.End()

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.methodNotAllowed(w, r, endpointJWKS, span, startTime, http.MethodGet, http.MethodHead)
		return
	}

	body, err := h.server.Config.Keys.JWKS()
	if err != nil {
		h.logger.Error("Failed to encode JWKS", "error", err)
		h.writeError(w, ErrorCodeServerError, "internal server error", http.StatusInternalServerError)
		h.finish(span, endpointJWKS, r.Method, http.StatusInternalServerError, startTime)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	security.SetPublicCacheHeaders(w, metadataMaxAge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
	h.finish(span, endpointJWKS, r.Method, http.StatusOK, startTime)
}

// ServeDiscovery serves the OpenID Provider configuration document
func (h *Handler) ServeDiscovery(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r, span := h.startSpan(r, "oidc.http.discovery")
	defer span.End()

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.methodNotAllowed(w, r, endpointDiscovery, span, startTime, http.MethodGet, http.MethodHead)
		return
	}

	doc, err := h.server.Discovery(r.Context())
	if err != nil {
		h.logger.Error("Failed to build discovery document", "error", err)
		h.writeError(w, ErrorCodeServerError, "internal server error", http.StatusInternalServerError)
		h.finish(span, endpointDiscovery, r.Method, http.StatusInternalServerError, startTime)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	security.SetPublicCacheHeaders(w, metadataMaxAge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(doc)
	h.finish(span, endpointDiscovery, r.Method, http.StatusOK, startTime)
}

// ============================================================
// UserInfo endpoint
// ============================================================

// ServeUserInfo returns the claims of the bearer access token's subject
func (h *Handler) ServeUserInfo(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r, span := h.startSpan(r, "oidc.http.userinfo")
	defer span.End()

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.methodNotAllowed(w, r, endpointUserInfo, span, startTime, http.MethodGet, http.MethodPost)
		return
	}

	r = r.WithContext(security.WithClientIP(r.Context(), h.clientIP(r)))
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)

	token, ok := h.extractBearerToken(r)
	if !ok {
		h.writeUnauthorizedError(w, ErrorCodeInvalidToken, "missing bearer token")
		h.finish(span, endpointUserInfo, r.Method, http.StatusUnauthorized, startTime)
		return
	}

	claims, err := h.server.UserInfo(r.Context(), token)
	if err != nil {
		oauthErr := AsError(err)
		if oauthErr.Status == http.StatusUnauthorized {
			h.writeUnauthorizedError(w, oauthErr.Code, oauthErr.Description)
		} else {
			h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		}
		h.finish(span, endpointUserInfo, r.Method, oauthErr.Status, startTime)
		return
	}

	h.writeJSON(w, http.StatusOK, claims)
	h.finish(span, endpointUserInfo, r.Method, http.StatusOK, startTime)
}

// extractBearerToken reads the access token from the Authorization header,
// or from the access_token form field of a POST body.
func (h *Handler) extractBearerToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], server.TokenTypeBearer) {
			return "", false
		}
		token := strings.TrimSpace(parts[1])
		return token, token != ""
	}

	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil {
			if token := r.PostForm.Get("access_token"); token != "" {
				return token, true
			}
		}
	}

	return "", false
}

// ============================================================
// Account endpoints
// ============================================================

// ServeLogin checks credentials and starts a browser session.
// It accepts a form or a JSON LoginRequest.
func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r, span := h.startSpan(r, "oidc.http.login")
	defer span.End()

	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, r, endpointLogin, span, startTime, http.MethodPost)
		return
	}

	clientIP := h.clientIP(r)
	r = r.WithContext(security.WithClientIP(r.Context(), clientIP))
	if h.checkIPRateLimit(w, r, clientIP, endpointLogin) {
		h.finish(span, endpointLogin, r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	login, err := parseLoginRequest(r)
	if err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, err.Error(), http.StatusBadRequest)
		h.finish(span, endpointLogin, r.Method, http.StatusBadRequest, startTime)
		return
	}

	session, user, err := h.server.Login(r.Context(), login.Username, login.Password)
	if err != nil {
		oauthErr := AsError(err)
		h.logger.Info("Login rejected", "ip", clientIP, "error", oauthErr.Code)
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		h.finish(span, endpointLogin, r.Method, oauthErr.Status, startTime)
		return
	}

	http.SetCookie(w, h.sessionCookie(session.ID, session.ExpiresAt))

	if util.IsLocalPath(login.ReturnURL) {
		security.SetSecurityHeaders(w, h.server.Config.Issuer)
		http.Redirect(w, r, login.ReturnURL, http.StatusFound)
		h.finish(span, endpointLogin, r.Method, http.StatusFound, startTime)
		return
	}
	if login.ReturnURL != "" {
		h.logger.Warn("Ignoring non-local return_url after login", "ip", clientIP)
	}

	h.writeJSON(w, http.StatusOK, LoginResponse{UserID: user.ID})
	h.finish(span, endpointLogin, r.Method, http.StatusOK, startTime)
}

func parseLoginRequest(r *http.Request) (*LoginRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, fmt.Errorf("invalid JSON body")
		}
		return &req, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("failed to parse request")
	}
	returnURL := r.Form.Get("return_url")
	if returnURL == "" {
		returnURL = r.Form.Get("returnUrl")
	}
	return &LoginRequest{
		Username:  r.PostForm.Get("username"),
		Password:  r.PostForm.Get("password"),
		ReturnURL: returnURL,
	}, nil
}

// ServeLogout ends the browser session. It redirects to
// post_logout_redirect_uri when that is a registered client redirect URI.
func (h *Handler) ServeLogout(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r, span := h.startSpan(r, "oidc.http.logout")
	defer span.End()

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.methodNotAllowed(w, r, endpointLogout, span, startTime, http.MethodGet, http.MethodPost)
		return
	}

	r = r.WithContext(security.WithClientIP(r.Context(), h.clientIP(r)))

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "failed to parse request", http.StatusBadRequest)
		h.finish(span, endpointLogout, r.Method, http.StatusBadRequest, startTime)
		return
	}

	target, err := h.server.Logout(r.Context(), h.sessionID(r), r.Form.Get("post_logout_redirect_uri"))
	if err != nil {
		oauthErr := AsError(err)
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		h.finish(span, endpointLogout, r.Method, oauthErr.Status, startTime)
		return
	}

	http.SetCookie(w, h.sessionCookie("", time.Time{}))

	if target != "" {
		security.SetSecurityHeaders(w, h.server.Config.Issuer)
		http.Redirect(w, r, target, http.StatusFound)
		h.finish(span, endpointLogout, r.Method, http.StatusFound, startTime)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
	h.finish(span, endpointLogout, r.Method, http.StatusOK, startTime)
}

// sessionCookie builds the session cookie. An empty id clears it.
func (h *Handler) sessionCookie(id string, expiresAt time.Time) *http.Cookie {
	cookie := &http.Cookie{
		Name:     h.server.Config.SessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.server.Config.SecureCookies(),
		SameSite: http.SameSiteLaxMode,
	}
	if id == "" {
		cookie.MaxAge = -1
		return cookie
	}
	cookie.Expires = expiresAt
	return cookie
}

func (h *Handler) sessionID(r *http.Request) string {
	cookie, err := r.Cookie(h.server.Config.SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// ============================================================
// Helpers
// ============================================================

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
}

// checkIPRateLimit writes a 429 response and returns true if clientIP is limited
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, r *http.Request, clientIP, endpoint string) bool {
	if h.server.RateLimiter == nil || h.server.RateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
	h.recordRateLimitExceeded(r.Context(), clientIP, endpoint)
	w.Header().Set("Retry-After", strconv.Itoa(h.server.RateLimiter.RetryAfter()))
	h.writeError(w, ErrorCodeRateLimitExceeded, "rate limit exceeded, please try again later", http.StatusTooManyRequests)
	return true
}

func (h *Handler) recordRateLimitExceeded(ctx context.Context, clientIP, endpoint string) {
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(ctx, endpoint)
	}
	if h.server.Auditor != nil {
		h.server.Auditor.LogEvent(security.Event{
			Type:      security.EventRateLimitExceeded,
			IPAddress: clientIP,
			RequestID: security.GetRequestID(ctx),
			Details:   map[string]any{"endpoint": endpoint},
		})
	}
}

func (h *Handler) startSpan(r *http.Request, name string) (*http.Request, trace.Span) {
	if h.tracer == nil {
		return r, tracenoop.Span{}
	}
	ctx, span := h.tracer.Start(r.Context(), name)
	return r.WithContext(ctx), span
}

// finish records span attributes and HTTP metrics for a completed request
func (h *Handler) finish(span trace.Span, endpoint, method string, status int, startTime time.Time) {
	instrumentation.AddHTTPAttributes(span, method, endpoint, status)
	if status >= http.StatusInternalServerError {
		instrumentation.SetSpanError(span, http.StatusText(status))
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	h.recordHTTPMetrics(endpoint, method, status, startTime)
}

func (h *Handler) recordHTTPMetrics(endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}
	durationMs := float64(time.Since(startTime).Milliseconds())
	h.server.Instrumentation.Metrics().RecordHTTPRequest(context.Background(), method, endpoint, status, durationMs)
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, r *http.Request, endpoint string, span trace.Span, startTime time.Time, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	h.finish(span, endpoint, r.Method, http.StatusMethodNotAllowed, startTime)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	h.writeErrorResponse(w, ErrorResponse{Error: code, ErrorDescription: description}, status)
}

func (h *Handler) writeErrorResponse(w http.ResponseWriter, resp ErrorResponse, status int) {
	h.writeJSON(w, status, resp)
}

// writeUnauthorizedError writes a 401 with an RFC 6750 Bearer challenge
func (h *Handler) writeUnauthorizedError(w http.ResponseWriter, code, description string) {
	w.Header().Set("WWW-Authenticate", formatWWWAuthenticate(h.server.Config.Issuer, code, description))
	h.writeError(w, code, description, http.StatusUnauthorized)
}

// formatWWWAuthenticate builds a Bearer challenge. Values are escaped as
// quoted-strings.
func formatWWWAuthenticate(realm, code, description string) string {
	params := []string{fmt.Sprintf(`realm="%s"`, quoteEscape(realm))}
	if code != "" {
		params = append(params, fmt.Sprintf(`error="%s"`, quoteEscape(code)))
	}
	if description != "" {
		params = append(params, fmt.Sprintf(`error_description="%s"`, quoteEscape(description)))
	}
	return server.TokenTypeBearer + " " + strings.Join(params, ", ")
}

func quoteEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
