package storage

import (
	"context"
	"errors"
	"time"

	"github.com/giantswarm/oidc-provider/internal/util"
)

// Sentinel errors returned by storage implementations. Callers classify them
// with errors.Is; implementations may wrap them with additional context.
var (
	// ErrCodeNotFound is returned when an authorization code does not exist,
	// has already been consumed, or has expired. The three cases are
	// deliberately indistinguishable.
	ErrCodeNotFound = errors.New("authorization code not found")

	// ErrCodeCollision is returned when Save is called with a code that is
	// already stored.
	ErrCodeCollision = errors.New("authorization code already exists")

	// ErrClientNotFound is returned when a client_id is not registered.
	ErrClientNotFound = errors.New("client not found")

	// ErrUserNotFound is returned when a user id does not resolve.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidCredentials is returned when a username/password pair does not
	// match an active user.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrSessionNotFound is returned when a session id is unknown or expired.
	ErrSessionNotFound = errors.New("session not found")
)

// ClientRegistry resolves registered OAuth clients. Registries are loaded at
// startup and are read-only afterwards.
type ClientRegistry interface {
	// GetClient returns the client registered under clientID or ErrClientNotFound.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ListClients returns every registered client, ordered by client_id.
	ListClients(ctx context.Context) ([]*Client, error)
}

// UserStore is the credential and profile lookup collaborator.
type UserStore interface {
	// ValidateCredentials checks a login identifier (username, email or id)
	// and secret. It returns ErrInvalidCredentials for any mismatch,
	// including unknown and inactive users.
	ValidateCredentials(ctx context.Context, login, secret string) (*User, error)

	// GetUser returns the profile for id or ErrUserNotFound.
	GetUser(ctx context.Context, id string) (*User, error)
}

// CodeStore persists authorization codes.
//
// Consume is the only read path: it must atomically return and remove the
// record so that two concurrent calls for the same code never both succeed.
type CodeStore interface {
	// Save stores a new authorization code record keyed by code.Code.
	// It returns ErrCodeCollision if the code is already present.
	Save(ctx context.Context, code *AuthorizationCode) error

	// Consume atomically retrieves and deletes a code. Expired records are
	// removed and reported as ErrCodeNotFound.
	Consume(ctx context.Context, code string) (*AuthorizationCode, error)

	// Sweep removes all expired records and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
}

// SessionStore persists login sessions created by the account endpoints.
type SessionStore interface {
	// SaveSession stores a session until its ExpiresAt.
	SaveSession(ctx context.Context, session *Session) error

	// GetSession returns a live session or ErrSessionNotFound.
	GetSession(ctx context.Context, id string) (*Session, error)

	// DeleteSession removes a session. Deleting an unknown session is not an error.
	DeleteSession(ctx context.Context, id string) error
}

// Client is a registered OAuth client. Instances are immutable once loaded.
type Client struct {
	ClientID      string
	ClientName    string
	RedirectURI   string
	AllowedScopes []string
	RequirePKCE   bool
}

// AllowsScope reports whether scope is in the client's allowed set.
func (c *Client) AllowsScope(scope string) bool {
	for _, s := range c.AllowedScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// MatchesRedirectURI compares uri with the registered redirect URI,
// ignoring ASCII case.
func (c *Client) MatchesRedirectURI(uri string) bool {
	return util.EqualFoldASCII(c.RedirectURI, uri)
}

// User is the profile owned by a UserStore.
type User struct {
	ID                  string
	Username            string
	Email               string
	EmailVerified       bool
	FirstName           string
	LastName            string
	PhoneNumber         string
	PhoneNumberVerified bool
	PictureURL          string
	Address             *Address
	IsActive            bool

	// PasswordHash is a bcrypt hash. It never leaves the store.
	PasswordHash string
}

// Address is the postal address of a user.
type Address struct {
	Formatted     string
	StreetAddress string
	Locality      string
	Region        string
	PostalCode    string
	Country       string
}

// IsEmpty reports whether no address field is set.
func (a *Address) IsEmpty() bool {
	return a == nil || (a.Formatted == "" && a.StreetAddress == "" && a.Locality == "" &&
		a.Region == "" && a.PostalCode == "" && a.Country == "")
}

// AuthorizationCode is the record bound to an issued code.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	UserID              string
	RedirectURI         string
	Scope               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// Expired reports whether the record is past its expiry at now.
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Session is an authenticated browser session.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
