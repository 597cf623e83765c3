package server

import (
	"github.com/giantswarm/oidc-provider/internal/util"
	"github.com/giantswarm/oidc-provider/storage"
)

// Standard OpenID Connect scopes
const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopePhone         = "phone"
	ScopeAddress       = "address"
	ScopeOfflineAccess = "offline_access"
)

// StandardScopes is advertised in discovery alongside client scopes
var StandardScopes = []string{ScopeOpenID, ScopeProfile, ScopeEmail, ScopePhone, ScopeAddress, ScopeOfflineAccess}

// SupportedClaims is advertised in discovery
var SupportedClaims = []string{
	"sub", "iss", "aud", "exp", "iat", "nonce",
	"name", "given_name", "family_name", "preferred_username", "picture",
	"email", "email_verified",
	"phone_number", "phone_number_verified",
	"address",
}

// AddressClaim is the OpenID Connect address claim. Empty fields are omitted.
type AddressClaim struct {
	Formatted     string `json:"formatted,omitempty"`
	StreetAddress string `json:"street_address,omitempty"`
	Locality      string `json:"locality,omitempty"`
	Region        string `json:"region,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
	Country       string `json:"country,omitempty"`
}

// IdentityClaims returns the user claims released for scopes. A nil user
// yields no claims.
func IdentityClaims(user *storage.User, scopes []string) map[string]any {
	claims := make(map[string]any)
	if user == nil {
		return claims
	}

	if util.ContainsScope(scopes, ScopeProfile) {
		setIfNotEmpty(claims, "name", displayName(user))
		setIfNotEmpty(claims, "preferred_username", user.Username)
		setIfNotEmpty(claims, "given_name", user.FirstName)
		setIfNotEmpty(claims, "family_name", user.LastName)
		setIfNotEmpty(claims, "picture", user.PictureURL)
	}

	if util.ContainsScope(scopes, ScopeEmail) && user.Email != "" {
		claims["email"] = user.Email
		claims["email_verified"] = user.EmailVerified
	}

	if util.ContainsScope(scopes, ScopePhone) && user.PhoneNumber != "" {
		claims["phone_number"] = user.PhoneNumber
		claims["phone_number_verified"] = user.PhoneNumberVerified
	}

	if util.ContainsScope(scopes, ScopeAddress) && !user.Address.IsEmpty() {
		claims["address"] = &AddressClaim{
			Formatted:     user.Address.Formatted,
			StreetAddress: user.Address.StreetAddress,
			Locality:      user.Address.Locality,
			Region:        user.Address.Region,
			PostalCode:    user.Address.PostalCode,
			Country:       user.Address.Country,
		}
	}

	return claims
}

// displayName is "first last", else first, else username
func displayName(user *storage.User) string {
	switch {
	case user.FirstName != "" && user.LastName != "":
		return user.FirstName + " " + user.LastName
	case user.FirstName != "":
		return user.FirstName
	default:
		return user.Username
	}
}

func setIfNotEmpty(claims map[string]any, name, value string) {
	if value != "" {
		claims[name] = value
	}
}
