package oidc

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/giantswarm/oidc-provider/storage"
	"github.com/giantswarm/oidc-provider/storage/memory"
)

// RegistryFile is the YAML document listing the issuer, the registered
// clients and the users of a provider.
//
//	issuer: https://id.example.com
//	clients:
//	  - client_id: acme
//	    redirect_uri: https://acme.test/cb
//	    allowed_scopes: [openid, profile]
//	    require_pkce: true
//	users:
//	  - id: u1
//	    username: alice
//	    password_hash: $2a$10$...
type RegistryFile struct {
	Issuer  string         `yaml:"issuer" validate:"omitempty,url"`
	Clients []ClientConfig `yaml:"clients" validate:"required,min=1,dive"`
	Users   []UserConfig   `yaml:"users" validate:"dive"`
}

// ClientConfig is a client entry of a RegistryFile
type ClientConfig struct {
	ClientID      string   `yaml:"client_id" validate:"required"`
	ClientName    string   `yaml:"client_name"`
	RedirectURI   string   `yaml:"redirect_uri" validate:"required,url"`
	AllowedScopes []string `yaml:"allowed_scopes" validate:"required,min=1,dive,required"`
	RequirePKCE   bool     `yaml:"require_pkce"`
}

// UserConfig is a user entry of a RegistryFile. Either Password or
// PasswordHash must be set; plain passwords are hashed at load time.
type UserConfig struct {
	ID                  string         `yaml:"id" validate:"required"`
	Username            string         `yaml:"username" validate:"required"`
	Password            string         `yaml:"password" validate:"required_without=PasswordHash"`
	PasswordHash        string         `yaml:"password_hash" validate:"required_without=Password"`
	Email               string         `yaml:"email" validate:"omitempty,email"`
	EmailVerified       bool           `yaml:"email_verified"`
	FirstName           string         `yaml:"first_name"`
	LastName            string         `yaml:"last_name"`
	PhoneNumber         string         `yaml:"phone_number"`
	PhoneNumberVerified bool           `yaml:"phone_number_verified"`
	PictureURL          string         `yaml:"picture_url" validate:"omitempty,url"`
	Address             *AddressConfig `yaml:"address"`

	// Active defaults to true when omitted
	Active *bool `yaml:"active"`
}

// AddressConfig is the postal address of a UserConfig
type AddressConfig struct {
	Formatted     string `yaml:"formatted"`
	StreetAddress string `yaml:"street_address"`
	Locality      string `yaml:"locality"`
	Region        string `yaml:"region"`
	PostalCode    string `yaml:"postal_code"`
	Country       string `yaml:"country"`
}

// LoadRegistryFile reads, expands and validates a registry file.
// Environment variables in the file are expanded before decoding; references
// to unset variables are kept as written so bcrypt hashes survive.
func LoadRegistryFile(path string) (*RegistryFile, error) {
	content, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}
	return ParseRegistry(content)
}

// ParseRegistry decodes and validates a registry document
func ParseRegistry(content []byte) (*RegistryFile, error) {
	expanded := expandEnv(string(content))

	cfg := new(RegistryFile)
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("decode registry file: %w", err)
	}

	if err := newValidator().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid registry file: %w", err)
	}

	return cfg, nil
}

func expandEnv(s string) string {
	return os.Expand(s, func(name string) string {
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return "$" + name
	})
}

func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

// Registry builds the static client registry and user store described by
// the file. extra users, e.g. memory.DemoUsers, are added after the file's.
func (f *RegistryFile) Registry(extra ...memory.UserRecord) (*memory.Registry, error) {
	clients := make([]*storage.Client, 0, len(f.Clients))
	for _, c := range f.Clients {
		clients = append(clients, &storage.Client{
			ClientID:      c.ClientID,
			ClientName:    c.ClientName,
			RedirectURI:   c.RedirectURI,
			AllowedScopes: c.AllowedScopes,
			RequirePKCE:   c.RequirePKCE,
		})
	}

	users := make([]memory.UserRecord, 0, len(f.Users)+len(extra))
	for _, u := range f.Users {
		users = append(users, memory.UserRecord{
			User:     u.user(),
			Password: u.Password,
		})
	}

	users = append(users, extra...)

	return memory.NewRegistry(clients, users)
}

func (u UserConfig) user() storage.User {
	active := true
	if u.Active != nil {
		active = *u.Active
	}

	user := storage.User{
		ID:                  u.ID,
		Username:            u.Username,
		Email:               u.Email,
		EmailVerified:       u.EmailVerified,
		FirstName:           u.FirstName,
		LastName:            u.LastName,
		PhoneNumber:         u.PhoneNumber,
		PhoneNumberVerified: u.PhoneNumberVerified,
		PictureURL:          u.PictureURL,
		IsActive:            active,
		PasswordHash:        u.PasswordHash,
	}
	if u.Address != nil {
		user.Address = &storage.Address{
			Formatted:     u.Address.Formatted,
			StreetAddress: u.Address.StreetAddress,
			Locality:      u.Address.Locality,
			Region:        u.Address.Region,
			PostalCode:    u.Address.PostalCode,
			Country:       u.Address.Country,
		}
	}
	return user
}
