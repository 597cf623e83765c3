package server

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/oidc-provider/storage/memory"
	"github.com/giantswarm/oidc-provider/storage/mock"
)

func newServerWithIssuer(t *testing.T, issuer string, allowInsecure bool) (*Server, string, error) {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)

	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))
	srv, err := New(mock.NewMockClientRegistry(), mock.NewMockUserStore(), store, store, &Config{
		Issuer:            issuer,
		AllowInsecureHTTP: allowInsecure,
		Keys:              testKeys(t),
	}, logger)
	return srv, logBuf.String(), err
}

func TestValidateHTTPSEnforcement_HTTPS(t *testing.T) {
	issuers := []string{
		"https://id.example.com",
		"https://localhost:8080",
		"https://id.example.com:8443",
		"https://example.com/oidc",
	}

	for _, issuer := range issuers {
		t.Run(issuer, func(t *testing.T) {
			srv, _, err := newServerWithIssuer(t, issuer, false)
			if err != nil {
				t.Fatalf("Expected no error for HTTPS issuer, got: %v", err)
			}
			if !srv.Config.SecureCookies() {
				t.Error("Expected secure cookies for an https issuer")
			}
		})
	}
}

func TestValidateHTTPSEnforcement_HTTPLoopback(t *testing.T) {
	hosts := []string{"localhost", "127.0.0.1", "[::1]", "LOCALHOST"}

	for _, host := range hosts {
		t.Run("HTTP_"+host, func(t *testing.T) {
			srv, logs, err := newServerWithIssuer(t, "http://"+host+":8080", false)
			if err != nil {
				t.Fatalf("Expected no error for loopback HTTP, got: %v", err)
			}
			if !strings.Contains(logs, "Running over HTTP on a loopback issuer") {
				t.Errorf("Expected warning about HTTP, got: %s", logs)
			}
			if srv.Config.SecureCookies() {
				t.Error("Expected insecure cookies for an http issuer")
			}
		})
	}
}

func TestValidateHTTPSEnforcement_HTTPNonLoopbackBlocked(t *testing.T) {
	issuers := []string{
		"http://id.example.com",
		"http://192.168.1.10:8080",
		"http://0.0.0.0:8080",
	}

	for _, issuer := range issuers {
		t.Run(issuer, func(t *testing.T) {
			_, _, err := newServerWithIssuer(t, issuer, false)
			if err == nil {
				t.Fatal("Expected error for non-loopback HTTP issuer")
			}
			if !strings.Contains(err.Error(), "issuer must use HTTPS") {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestValidateHTTPSEnforcement_HTTPNonLoopbackWithFlag(t *testing.T) {
	_, logs, err := newServerWithIssuer(t, "http://id.internal:8080", true)
	if err != nil {
		t.Fatalf("Expected no error with AllowInsecureHTTP, got: %v", err)
	}
	if !strings.Contains(logs, "level=ERROR") || !strings.Contains(logs, "non-loopback issuer") {
		t.Errorf("Expected error-level log for insecure issuer, got: %s", logs)
	}
}

func TestValidateHTTPSEnforcement_InvalidScheme(t *testing.T) {
	for _, issuer := range []string{"ftp://id.example.com", "ws://id.example.com"} {
		t.Run(issuer, func(t *testing.T) {
			_, _, err := newServerWithIssuer(t, issuer, true)
			if err == nil || !strings.Contains(err.Error(), "invalid issuer URL scheme") {
				t.Errorf("Expected scheme error, got: %v", err)
			}
		})
	}
}

func TestApplySecureDefaults_KeepsExplicitValues(t *testing.T) {
	config := applySecureDefaults(&Config{
		Issuer:            "https://id.example.com",
		AccessTokenTTL:    5 * time.Minute,
		LoginURL:          "/signin",
		TrustedProxyCount: 2,
		DefaultPKCEMethod: PKCEMethodS256,
	}, slog.Default())

	if config.AccessTokenTTL != 5*time.Minute {
		t.Errorf("AccessTokenTTL = %v, want 5m", config.AccessTokenTTL)
	}
	if config.LoginURL != "/signin" {
		t.Errorf("LoginURL = %q, want /signin", config.LoginURL)
	}
	if config.TrustedProxyCount != 2 {
		t.Errorf("TrustedProxyCount = %d, want 2", config.TrustedProxyCount)
	}
	if config.DefaultPKCEMethod != PKCEMethodS256 {
		t.Errorf("DefaultPKCEMethod = %q, want S256", config.DefaultPKCEMethod)
	}
}
