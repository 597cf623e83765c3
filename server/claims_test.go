package server

import (
	"reflect"
	"testing"

	"github.com/giantswarm/oidc-provider/internal/testutil"
	"github.com/giantswarm/oidc-provider/storage"
)

func TestIdentityClaims(t *testing.T) {
	user := testutil.TestUser()

	tests := []struct {
		name   string
		user   *storage.User
		scopes []string
		want   map[string]any
	}{
		{
			name:   "openid only",
			user:   &user,
			scopes: []string{"openid"},
			want:   map[string]any{},
		},
		{
			name:   "profile",
			user:   &user,
			scopes: []string{"openid", "profile"},
			want: map[string]any{
				"name":               "Alice Liddell",
				"preferred_username": "alice",
				"given_name":         "Alice",
				"family_name":        "Liddell",
				"picture":            "https://id.example.com/avatars/u1.png",
			},
		},
		{
			name:   "email",
			user:   &user,
			scopes: []string{"email"},
			want: map[string]any{
				"email":          "alice@example.com",
				"email_verified": true,
			},
		},
		{
			name:   "phone keeps unverified flag",
			user:   &user,
			scopes: []string{"phone"},
			want: map[string]any{
				"phone_number":          "+44-20-7946-0000",
				"phone_number_verified": false,
			},
		},
		{
			name:   "address omits empty fields",
			user:   &user,
			scopes: []string{"address"},
			want: map[string]any{
				"address": &AddressClaim{
					StreetAddress: "1 Rabbit Hole",
					Locality:      "Oxford",
					PostalCode:    "OX1",
					Country:       "UK",
				},
			},
		},
		{
			name:   "nil user",
			user:   nil,
			scopes: []string{"openid", "profile", "email"},
			want:   map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IdentityClaims(tt.user, tt.scopes)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("IdentityClaims() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestIdentityClaims_SparseUser(t *testing.T) {
	user := &storage.User{
		ID:       "u2",
		Username: "bob",
		Address:  &storage.Address{},
		IsActive: true,
	}

	got := IdentityClaims(user, []string{"profile", "email", "phone", "address"})
	want := map[string]any{
		"name":               "bob",
		"preferred_username": "bob",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("IdentityClaims() = %#v, want %#v", got, want)
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		first, last, username string
		want                  string
	}{
		{"Ada", "Lovelace", "ada", "Ada Lovelace"},
		{"Ada", "", "ada", "Ada"},
		{"", "Lovelace", "ada", "ada"},
		{"", "", "ada", "ada"},
	}

	for _, tt := range tests {
		got := displayName(&storage.User{FirstName: tt.first, LastName: tt.last, Username: tt.username})
		if got != tt.want {
			t.Errorf("displayName(%q, %q, %q) = %q, want %q", tt.first, tt.last, tt.username, got, tt.want)
		}
	}
}
