package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oidc-provider/storage"
)

// UserRecord is a user seed for NewRegistry. Password is hashed with bcrypt
// when User.PasswordHash is empty.
type UserRecord struct {
	User     storage.User
	Password string
}

// Registry is a static ClientRegistry and UserStore. It is read-only after
// construction and safe for concurrent use.
type Registry struct {
	clients map[string]*storage.Client
	users   map[string]*storage.User

	// lower-cased username and email -> user id
	logins map[string]string

	// compared against when a login does not resolve
	dummyHash []byte
}

var (
	_ storage.ClientRegistry = (*Registry)(nil)
	_ storage.UserStore      = (*Registry)(nil)
)

// NewRegistry builds a registry from clients and users. Duplicate client ids,
// duplicate user ids and ambiguous logins, including a username or email
// equal to another user's id, are rejected.
func NewRegistry(clients []*storage.Client, users []UserRecord) (*Registry, error) {
	r := &Registry{
		clients: make(map[string]*storage.Client, len(clients)),
		users:   make(map[string]*storage.User, len(users)),
		logins:  make(map[string]string, 2*len(users)),
	}

	for _, c := range clients {
		if c == nil || c.ClientID == "" {
			return nil, fmt.Errorf("client_id cannot be empty")
		}
		if _, dup := r.clients[c.ClientID]; dup {
			return nil, fmt.Errorf("duplicate client_id %q", c.ClientID)
		}
		r.clients[c.ClientID] = cloneClient(c)
	}

	for _, rec := range users {
		u := rec.User
		if u.ID == "" {
			return nil, fmt.Errorf("user id cannot be empty")
		}
		if _, dup := r.users[u.ID]; dup {
			return nil, fmt.Errorf("duplicate user id %q", u.ID)
		}

		if u.PasswordHash == "" {
			if rec.Password == "" {
				return nil, fmt.Errorf("user %q has neither password nor password hash", u.ID)
			}
			hash, err := HashPassword(rec.Password)
			if err != nil {
				return nil, fmt.Errorf("hash password for user %q: %w", u.ID, err)
			}
			u.PasswordHash = hash
		}
		if u.Address != nil {
			addr := *u.Address
			u.Address = &addr
		}

		for _, login := range []string{u.Username, u.Email} {
			if login == "" {
				continue
			}
			key := strings.ToLower(login)
			if owner, taken := r.logins[key]; taken && owner != u.ID {
				return nil, fmt.Errorf("login %q is used by users %q and %q", login, owner, u.ID)
			}
			r.logins[key] = u.ID
		}
		r.users[u.ID] = &u
	}

	// Logins resolve user ids first, so no username or email may spell
	// another user's id.
	for id := range r.users {
		if owner, taken := r.logins[strings.ToLower(id)]; taken && owner != id {
			return nil, fmt.Errorf("login of user %q collides with user id %q", owner, id)
		}
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	r.dummyHash = dummy

	return r, nil
}

// HashPassword returns a bcrypt hash of password at the default cost
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// GetClient returns the client registered under clientID
func (r *Registry) GetClient(_ context.Context, clientID string) (*storage.Client, error) {
	c, ok := r.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	return cloneClient(c), nil
}

// ListClients returns all clients sorted by client_id
func (r *Registry) ListClients(_ context.Context) ([]*storage.Client, error) {
	out := make([]*storage.Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, cloneClient(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

// ValidateCredentials resolves login as username, email or user id and
// checks secret against the stored bcrypt hash.
func (r *Registry) ValidateCredentials(_ context.Context, login, secret string) (*storage.User, error) {
	u := r.lookupLogin(login)
	if u == nil {
		_ = bcrypt.CompareHashAndPassword(r.dummyHash, []byte(secret))
		return nil, storage.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(secret)); err != nil {
		return nil, storage.ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, storage.ErrInvalidCredentials
	}
	return publicCopy(u), nil
}

// GetUser returns the user with id
func (r *Registry) GetUser(_ context.Context, id string) (*storage.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return publicCopy(u), nil
}

func (r *Registry) lookupLogin(login string) *storage.User {
	if login == "" {
		return nil
	}
	if u, ok := r.users[login]; ok {
		return u
	}
	if id, ok := r.logins[strings.ToLower(login)]; ok {
		return r.users[id]
	}
	return nil
}

func cloneClient(c *storage.Client) *storage.Client {
	out := *c
	out.AllowedScopes = append([]string(nil), c.AllowedScopes...)
	return &out
}

// publicCopy returns a copy of u without the password hash
func publicCopy(u *storage.User) *storage.User {
	out := *u
	out.PasswordHash = ""
	if u.Address != nil {
		addr := *u.Address
		out.Address = &addr
	}
	return &out
}

// DemoUsers returns two development accounts. Never load them in production.
//
//	user@test.com / user@test.com
//	admin / admin123
func DemoUsers() []UserRecord {
	return []UserRecord{
		{
			User: storage.User{
				ID:                  "user@test.com",
				Username:            "usertest",
				Email:               "user@test.com",
				EmailVerified:       true,
				FirstName:           "John",
				LastName:            "Doe",
				PhoneNumber:         "+1-555-0123",
				PhoneNumberVerified: true,
				Address: &storage.Address{
					Formatted:     "123 Main St, Anytown, ST 12345, USA",
					StreetAddress: "123 Main St",
					Locality:      "Anytown",
					Region:        "ST",
					PostalCode:    "12345",
					Country:       "USA",
				},
				IsActive: true,
			},
			Password: "user@test.com",
		},
		{
			User: storage.User{
				ID:                  "admin",
				Username:            "admin",
				Email:               "admin@example.com",
				EmailVerified:       true,
				FirstName:           "Admin",
				LastName:            "User",
				PhoneNumber:         "+1-555-0001",
				PhoneNumberVerified: true,
				IsActive:            true,
			},
			Password: "admin123",
		},
	}
}
