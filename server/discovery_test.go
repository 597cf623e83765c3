package server

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/giantswarm/oidc-provider/internal/testutil"
	"github.com/giantswarm/oidc-provider/storage"
)

func TestDiscovery(t *testing.T) {
	env := newTestEnv(t)
	client := testutil.OpenClient()
	client.ClientID = "reports"
	client.AllowedScopes = []string{"openid", "reports:read"}
	env.clients.ListClientsFunc = func(context.Context) ([]*storage.Client, error) {
		return []*storage.Client{testutil.AcmeClient(), client}, nil
	}

	doc, err := env.srv.Discovery(context.Background())
	if err != nil {
		t.Fatalf("Discovery() error = %v", err)
	}

	if doc.Issuer != testutil.TestIssuer {
		t.Errorf("issuer = %q", doc.Issuer)
	}
	endpoints := [][2]string{
		{doc.AuthorizationEndpoint, testutil.TestIssuer + "/authorize"},
		{doc.TokenEndpoint, testutil.TestIssuer + "/token"},
		{doc.UserInfoEndpoint, testutil.TestIssuer + "/userinfo"},
		{doc.JWKSURI, testutil.TestIssuer + "/.well-known/jwks.json"},
		{doc.EndSessionEndpoint, testutil.TestIssuer + "/logout"},
	}
	for _, e := range endpoints {
		if e[0] != e[1] {
			t.Errorf("endpoint = %q, want %q", e[0], e[1])
		}
	}

	wantScopes := []string{"address", "email", "offline_access", "openid", "phone", "profile", "reports:read"}
	if !reflect.DeepEqual(doc.ScopesSupported, wantScopes) {
		t.Errorf("scopes_supported = %v, want %v", doc.ScopesSupported, wantScopes)
	}
	if !reflect.DeepEqual(doc.CodeChallengeMethodsSupported, []string{"plain", "S256"}) {
		t.Errorf("code_challenge_methods_supported = %v", doc.CodeChallengeMethodsSupported)
	}
	if !reflect.DeepEqual(doc.IDTokenSigningAlgValuesSupported, []string{"RS256"}) {
		t.Errorf("id_token_signing_alg_values_supported = %v", doc.IDTokenSigningAlgValuesSupported)
	}
	if !reflect.DeepEqual(doc.ResponseModesSupported, []string{"query"}) {
		t.Errorf("response_modes_supported = %v", doc.ResponseModesSupported)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, field := range []string{"jwks_uri", "grant_types_supported", "subject_types_supported", "claims_supported", "token_endpoint_auth_methods_supported"} {
		if _, ok := raw[field]; !ok {
			t.Errorf("discovery document misses %q", field)
		}
	}
}
