package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"net/url"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oidc-provider/storage"
)

// Fixture identifiers
const (
	AcmeClientID    = "acme"
	AcmeRedirectURI = "https://acme.test/cb"

	OpenClientID    = "open-client"
	OpenRedirectURI = "https://open.test/callback"

	TestUserID       = "u1"
	TestUserName     = "alice"
	TestUserEmail    = "alice@example.com"
	TestUserPassword = "correct horse battery staple"

	TestIssuer = "https://id.example.com"
)

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// AcmeClient is a PKCE-enforcing client allowed openid and profile
func AcmeClient() *storage.Client {
	return &storage.Client{
		ClientID:      AcmeClientID,
		ClientName:    "Acme",
		RedirectURI:   AcmeRedirectURI,
		AllowedScopes: []string{"openid", "profile"},
		RequirePKCE:   true,
	}
}

// OpenClient is a client without PKCE enforcement allowed every standard scope
func OpenClient() *storage.Client {
	return &storage.Client{
		ClientID:      OpenClientID,
		ClientName:    "Open",
		RedirectURI:   OpenRedirectURI,
		AllowedScopes: []string{"openid", "profile", "email", "phone", "address"},
	}
}

// TestUser returns a fully populated active user without a password hash
func TestUser() storage.User {
	return storage.User{
		ID:                  TestUserID,
		Username:            TestUserName,
		Email:               TestUserEmail,
		EmailVerified:       true,
		FirstName:           "Alice",
		LastName:            "Liddell",
		PhoneNumber:         "+44-20-7946-0000",
		PhoneNumberVerified: false,
		PictureURL:          "https://id.example.com/avatars/u1.png",
		Address: &storage.Address{
			StreetAddress: "1 Rabbit Hole",
			Locality:      "Oxford",
			PostalCode:    "OX1",
			Country:       "UK",
		},
		IsActive: true,
	}
}

// GenerateTestAuthorizationCode creates a live code record for the acme client
func GenerateTestAuthorizationCode() *storage.AuthorizationCode {
	now := time.Now()
	return &storage.AuthorizationCode{
		Code:        oauth2.GenerateVerifier(),
		ClientID:    AcmeClientID,
		UserID:      TestUserID,
		RedirectURI: AcmeRedirectURI,
		Scope:       "openid profile",
		Nonce:       "n-0S6_WzA2Mj",
		CreatedAt:   now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
}

// GeneratePKCEPair returns an S256 challenge and its verifier
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = oauth2.GenerateVerifier()
	return oauth2.S256ChallengeFromVerifier(verifier), verifier
}

// GenerateRandomString returns a base64url string of length characters
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// ParseRedirect parses a Location header and fails the test on error
func ParseRedirect(t *testing.T, location string) *url.URL {
	t.Helper()
	u, err := url.Parse(location)
	if err != nil {
		t.Fatalf("invalid redirect location %q: %v", location, err)
	}
	return u
}

// AssertTimeEqual asserts two times are equal within a tolerance
func AssertTimeEqual(t *testing.T, got, want time.Time, tolerance time.Duration) {
	t.Helper()
	diff := got.Sub(want)
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		t.Errorf("time mismatch: got %v, want %v (tolerance: %v, diff: %v)", got, want, tolerance, diff)
	}
}
