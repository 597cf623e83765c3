package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/giantswarm/oidc-provider/internal/testutil"
	"github.com/giantswarm/oidc-provider/storage"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	inactive := testutil.TestUser()
	inactive.ID = "u-inactive"
	inactive.Username = "bob"
	inactive.Email = "bob@example.com"
	inactive.IsActive = false

	reg, err := NewRegistry(
		[]*storage.Client{testutil.OpenClient(), testutil.AcmeClient()},
		[]UserRecord{
			{User: testutil.TestUser(), Password: testutil.TestUserPassword},
			{User: inactive, Password: "bob-password"},
		},
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

func TestRegistry_GetClient(t *testing.T) {
	reg := newTestRegistry(t)

	c, err := reg.GetClient(context.Background(), testutil.AcmeClientID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if !c.RequirePKCE || c.RedirectURI != testutil.AcmeRedirectURI {
		t.Errorf("GetClient() = %+v", c)
	}

	if _, err := reg.GetClient(context.Background(), "nope"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient(unknown) error = %v, want ErrClientNotFound", err)
	}
}

func TestRegistry_ListClients_Sorted(t *testing.T) {
	reg := newTestRegistry(t)

	clients, err := reg.ListClients(context.Background())
	if err != nil {
		t.Fatalf("ListClients() error = %v", err)
	}
	if len(clients) != 2 || clients[0].ClientID != testutil.AcmeClientID || clients[1].ClientID != testutil.OpenClientID {
		t.Errorf("ListClients() order = %v", []string{clients[0].ClientID, clients[1].ClientID})
	}
}

func TestRegistry_ValidateCredentials(t *testing.T) {
	reg := newTestRegistry(t)

	tests := []struct {
		name    string
		login   string
		secret  string
		wantErr bool
	}{
		{name: "by username", login: testutil.TestUserName, secret: testutil.TestUserPassword},
		{name: "by email any case", login: "ALICE@example.com", secret: testutil.TestUserPassword},
		{name: "by id", login: testutil.TestUserID, secret: testutil.TestUserPassword},
		{name: "wrong password", login: testutil.TestUserName, secret: "wrong", wantErr: true},
		{name: "unknown user", login: "mallory", secret: "x", wantErr: true},
		{name: "empty login", login: "", secret: testutil.TestUserPassword, wantErr: true},
		{name: "inactive user", login: "bob", secret: "bob-password", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := reg.ValidateCredentials(context.Background(), tt.login, tt.secret)
			if tt.wantErr {
				if !errors.Is(err, storage.ErrInvalidCredentials) {
					t.Errorf("error = %v, want ErrInvalidCredentials", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateCredentials() error = %v", err)
			}
			if u.ID != testutil.TestUserID {
				t.Errorf("user id = %q, want %q", u.ID, testutil.TestUserID)
			}
			if u.PasswordHash != "" {
				t.Error("password hash must not leave the registry")
			}
		})
	}
}

func TestRegistry_GetUser(t *testing.T) {
	reg := newTestRegistry(t)

	u, err := reg.GetUser(context.Background(), testutil.TestUserID)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if u.PasswordHash != "" {
		t.Error("password hash must not leave the registry")
	}
	u.Address.Locality = "changed"

	again, _ := reg.GetUser(context.Background(), testutil.TestUserID)
	if again.Address.Locality != "Oxford" {
		t.Error("GetUser() must return an independent copy")
	}

	if _, err := reg.GetUser(context.Background(), "ghost"); !errors.Is(err, storage.ErrUserNotFound) {
		t.Errorf("GetUser(unknown) error = %v, want ErrUserNotFound", err)
	}
}

func TestNewRegistry_Rejects(t *testing.T) {
	alice := testutil.TestUser()

	tests := []struct {
		name    string
		clients []*storage.Client
		users   []UserRecord
	}{
		{
			name:    "duplicate client",
			clients: []*storage.Client{testutil.AcmeClient(), testutil.AcmeClient()},
		},
		{
			name:    "empty client id",
			clients: []*storage.Client{{RedirectURI: "https://x.test/cb"}},
		},
		{
			name:  "duplicate user id",
			users: []UserRecord{{User: alice, Password: "a"}, {User: alice, Password: "b"}},
		},
		{
			name:  "missing password",
			users: []UserRecord{{User: alice}},
		},
		{
			name: "username equals another user's id",
			users: []UserRecord{
				{User: alice, Password: "a"},
				{User: storage.User{ID: "u2", Username: testutil.TestUserID}, Password: "b"},
			},
		},
		{
			name: "user id equals an earlier user's email",
			users: []UserRecord{
				{User: alice, Password: "a"},
				{User: storage.User{ID: testutil.TestUserEmail, Username: "mallory"}, Password: "b"},
			},
		},
		{
			name: "shared email",
			users: []UserRecord{
				{User: alice, Password: "a"},
				{User: storage.User{ID: "u2", Email: testutil.TestUserEmail}, Password: "b"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.clients, tt.users); err == nil {
				t.Error("NewRegistry() should fail")
			}
		})
	}
}

func TestNewRegistry_PrehashedPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	u := testutil.TestUser()
	u.PasswordHash = hash

	reg, err := NewRegistry(nil, []UserRecord{{User: u}})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if _, err := reg.ValidateCredentials(context.Background(), u.Username, "s3cret"); err != nil {
		t.Errorf("ValidateCredentials() with prehashed password error = %v", err)
	}
}

func TestDemoUsers(t *testing.T) {
	reg, err := NewRegistry(nil, DemoUsers())
	if err != nil {
		t.Fatalf("NewRegistry(DemoUsers()) error = %v", err)
	}

	u, err := reg.ValidateCredentials(context.Background(), "user@test.com", "user@test.com")
	if err != nil {
		t.Fatalf("demo user login error = %v", err)
	}
	if u.Username != "usertest" || u.Address.IsEmpty() {
		t.Errorf("demo user = %+v", u)
	}

	if _, err := reg.ValidateCredentials(context.Background(), "admin", "admin123"); err != nil {
		t.Errorf("demo admin login error = %v", err)
	}
}

func TestRegistry_ClientsAreCopies(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	c, err := reg.GetClient(ctx, testutil.AcmeClientID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	c.AllowedScopes[0] = "admin"
	c.AllowedScopes = append(c.AllowedScopes, "offline_access")
	c.RedirectURI = "https://evil.test/cb"

	listed, err := reg.ListClients(ctx)
	if err != nil {
		t.Fatalf("ListClients() error = %v", err)
	}
	listed[0].AllowedScopes = nil

	again, err := reg.GetClient(ctx, testutil.AcmeClientID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if again.RedirectURI != testutil.AcmeRedirectURI {
		t.Errorf("RedirectURI = %q, registry was mutated through a returned client", again.RedirectURI)
	}
	if again.AllowsScope("admin") || again.AllowsScope("offline_access") || !again.AllowsScope("openid") {
		t.Errorf("AllowedScopes = %v, registry was mutated through a returned client", again.AllowedScopes)
	}
}
