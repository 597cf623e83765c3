package server

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const (
	// DefaultKeyBits is the RSA modulus size of generated signing keys
	DefaultKeyBits = 2048

	// minKeyBits is the smallest RSA modulus accepted for signing
	minKeyBits = 2048

	// SigningAlgorithm is the only algorithm tokens are signed with
	SigningAlgorithm = jwa.RS256
)

// KeySet is the signing key of the server and its public JWKS form.
// It is read-only after construction.
type KeySet struct {
	kid     string
	private jwk.Key
	public  jwk.Set
}

// GenerateKeySet creates a new RSA signing key. An empty kid is replaced by
// the RFC 7638 thumbprint of the public key.
func GenerateKeySet(bits int, kid string) (*KeySet, error) {
	if bits < minKeyBits {
		return nil, fmt.Errorf("RSA key size %d is below the minimum of %d bits", bits, minKeyBits)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return NewKeySet(priv, kid)
}

// NewKeySet wraps an existing RSA private key
func NewKeySet(priv *rsa.PrivateKey, kid string) (*KeySet, error) {
	if priv == nil {
		return nil, fmt.Errorf("private key is required")
	}
	if priv.N.BitLen() < minKeyBits {
		return nil, fmt.Errorf("RSA key size %d is below the minimum of %d bits", priv.N.BitLen(), minKeyBits)
	}

	key, err := jwk.FromRaw(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWK from private key: %w", err)
	}

	if kid == "" {
		thumbprint, err := key.Thumbprint(crypto.SHA256)
		if err != nil {
			return nil, fmt.Errorf("failed to compute key thumbprint: %w", err)
		}
		kid = base64.RawURLEncoding.EncodeToString(thumbprint)
	}

	for k, v := range map[string]any{
		jwk.KeyIDKey:     kid,
		jwk.AlgorithmKey: SigningAlgorithm,
		jwk.KeyUsageKey:  jwk.ForSignature,
	} {
		if err := key.Set(k, v); err != nil {
			return nil, fmt.Errorf("failed to set %s on key: %w", k, err)
		}
	}

	pub, err := key.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		return nil, fmt.Errorf("failed to build key set: %w", err)
	}

	return &KeySet{kid: kid, private: key, public: set}, nil
}

// LoadKeySetPEM parses a PEM encoded RSA private key (PKCS#1 or PKCS#8)
func LoadKeySetPEM(data []byte, kid string) (*KeySet, error) {
	parsed, err := jwk.ParseKey(data, jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PEM key: %w", err)
	}
	var raw any
	if err := parsed.Raw(&raw); err != nil {
		return nil, fmt.Errorf("failed to get raw key: %w", err)
	}
	priv, ok := raw.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key must be an RSA private key, got %T", raw)
	}
	return NewKeySet(priv, kid)
}

// EncodePrivateKeyPEM encodes priv as a PKCS#8 PEM block
func EncodePrivateKeyPEM(priv *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// KeyID returns the kid published in the JWKS and token headers
func (k *KeySet) KeyID() string {
	return k.kid
}

// PublicSet returns the public JWKS
func (k *KeySet) PublicSet() jwk.Set {
	return k.public
}

// JWKS returns the JSON encoding of the public key set
func (k *KeySet) JWKS() ([]byte, error) {
	return json.Marshal(k.public)
}
