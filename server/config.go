package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/giantswarm/oidc-provider/security"
)

// AuthorizationCodeTTL is the fixed lifetime of authorization codes
const AuthorizationCodeTTL = 10 * time.Minute

// Default lifetimes and endpoint locations
const (
	DefaultAccessTokenTTL = 60 * time.Minute
	DefaultIDTokenTTL     = 60 * time.Minute
	DefaultSessionTTL     = 8 * time.Hour

	DefaultLoginURL          = "/account/login"
	DefaultSessionCookieName = "oidc_session"

	DefaultAuthorizationPath = "/authorize"
	DefaultTokenPath         = "/token"
	DefaultUserInfoPath      = "/userinfo"
	DefaultJWKSPath          = "/.well-known/jwks.json"
	DefaultEndSessionPath    = "/logout"
	DiscoveryPath            = "/.well-known/openid-configuration"
)

// Config holds authorization server configuration. Zero values are replaced
// by defaults in New.
type Config struct {
	// Issuer is the issuer identifier and base URL (required)
	Issuer string

	// AccessTokenTTL is how long access tokens are valid. Default: 60 minutes
	AccessTokenTTL time.Duration

	// IDTokenTTL is how long ID tokens are valid. Default: 60 minutes
	IDTokenTTL time.Duration

	// SessionTTL is how long a login session lasts. Default: 8 hours
	SessionTTL time.Duration

	// ClockSkew is the leeway applied when verifying access tokens.
	// Default: 5 seconds
	ClockSkew time.Duration

	// DefaultPKCEMethod is assumed when code_challenge is sent without
	// code_challenge_method. Default: "plain" (RFC 7636 section 4.3)
	DefaultPKCEMethod string

	// LoginURL is where unauthenticated users are sent; the original
	// authorization URL is appended as returnUrl. Default: /account/login
	LoginURL string

	// SessionCookieName names the login session cookie. Default: oidc_session
	SessionCookieName string

	// Endpoint paths, relative to Issuer
	AuthorizationPath string
	TokenPath         string
	UserInfoPath      string
	JWKSPath          string
	EndSessionPath    string

	// AllowInsecureHTTP permits an http:// issuer on a non-loopback host.
	// WARNING: tokens and codes are sent in clear text.
	AllowInsecureHTTP bool

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this
	// server. Default: 1
	TrustedProxyCount int

	// Keys is the signing key set. When nil, New generates a 2048-bit RSA key.
	Keys *KeySet
}

// applySecureDefaults fills unset configuration values
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	config.Issuer = strings.TrimSuffix(config.Issuer, "/")

	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.IDTokenTTL <= 0 {
		config.IDTokenTTL = DefaultIDTokenTTL
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = DefaultSessionTTL
	}
	if config.ClockSkew <= 0 {
		config.ClockSkew = security.DefaultClockSkew
	}
	if config.DefaultPKCEMethod == "" {
		config.DefaultPKCEMethod = PKCEMethodPlain
	}
	if config.LoginURL == "" {
		config.LoginURL = DefaultLoginURL
	}
	if config.SessionCookieName == "" {
		config.SessionCookieName = DefaultSessionCookieName
	}
	if config.AuthorizationPath == "" {
		config.AuthorizationPath = DefaultAuthorizationPath
	}
	if config.TokenPath == "" {
		config.TokenPath = DefaultTokenPath
	}
	if config.UserInfoPath == "" {
		config.UserInfoPath = DefaultUserInfoPath
	}
	if config.JWKSPath == "" {
		config.JWKSPath = DefaultJWKSPath
	}
	if config.EndSessionPath == "" {
		config.EndSessionPath = DefaultEndSessionPath
	}
	if config.TrustedProxyCount <= 0 {
		config.TrustedProxyCount = 1
	}

	if config.TrustProxy {
		logger.Warn("Trusting proxy headers for client IP extraction",
			"trusted_proxy_count", config.TrustedProxyCount,
			"risk", "IP spoofing if the proxy chain is not as configured")
	}

	return config
}

// validate checks the configuration after defaults are applied
func (c *Config) validate(logger *slog.Logger) error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if c.DefaultPKCEMethod != PKCEMethodPlain && c.DefaultPKCEMethod != PKCEMethodS256 {
		return fmt.Errorf("unsupported default PKCE method %q", c.DefaultPKCEMethod)
	}
	for name, path := range map[string]string{
		"authorization": c.AuthorizationPath,
		"token":         c.TokenPath,
		"userinfo":      c.UserInfoPath,
		"jwks":          c.JWKSPath,
		"end_session":   c.EndSessionPath,
	} {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("%s path %q must start with /", name, path)
		}
	}
	return validateHTTPSEnforcement(c, logger)
}

// validateHTTPSEnforcement rejects http:// issuers outside loopback hosts
// unless AllowInsecureHTTP is set.
func validateHTTPSEnforcement(c *Config, logger *slog.Logger) error {
	issuerURL, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}
	if issuerURL.Host == "" {
		return fmt.Errorf("issuer %q must be an absolute URL", c.Issuer)
	}
	if issuerURL.RawQuery != "" || issuerURL.Fragment != "" {
		return fmt.Errorf("issuer %q must not contain a query or fragment", c.Issuer)
	}

	switch issuerURL.Scheme {
	case "https":
		return nil
	case "http":
	default:
		return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", issuerURL.Scheme)
	}

	hostname := issuerURL.Hostname()
	if isLoopbackHost(hostname) {
		logger.Warn("Running over HTTP on a loopback issuer",
			"issuer", c.Issuer,
			"risk", "Credentials exposed on the local machine")
		return nil
	}

	if !c.AllowInsecureHTTP {
		return fmt.Errorf("issuer must use HTTPS (got http://%s); set AllowInsecureHTTP to override", hostname)
	}

	logger.Error("Running over HTTP on a non-loopback issuer",
		"issuer", c.Issuer,
		"risk", "Tokens and codes exposed to network interception")
	return nil
}

func isLoopbackHost(hostname string) bool {
	if strings.EqualFold(hostname, "localhost") {
		return true
	}
	ip := net.ParseIP(hostname)
	return ip != nil && ip.IsLoopback()
}

// endpoint returns the absolute URL of path under the issuer
func (c *Config) endpoint(path string) string {
	return c.Issuer + path
}

// secureCookies reports whether cookies should carry the Secure attribute
func (c *Config) secureCookies() bool {
	return strings.HasPrefix(c.Issuer, "https://")
}

// SecureCookies reports whether session cookies should be marked Secure
func (c *Config) SecureCookies() bool {
	return c.secureCookies()
}
