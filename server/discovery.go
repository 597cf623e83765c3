package server

import (
	"context"
	"fmt"
	"sort"
)

// OpenIDConfiguration is the OpenID Provider metadata document
type OpenIDConfiguration struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserInfoEndpoint                  string   `json:"userinfo_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	EndSessionEndpoint                string   `json:"end_session_endpoint"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	ResponseModesSupported            []string `json:"response_modes_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
}

// Discovery builds the metadata document. scopes_supported is the sorted
// union of the standard scopes and every scope registered by a client.
func (s *Server) Discovery(ctx context.Context) (*OpenIDConfiguration, error) {
	clients, err := s.clients.ListClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}

	seen := make(map[string]struct{})
	for _, scope := range StandardScopes {
		seen[scope] = struct{}{}
	}
	for _, client := range clients {
		for _, scope := range client.AllowedScopes {
			seen[scope] = struct{}{}
		}
	}
	scopes := make([]string, 0, len(seen))
	for scope := range seen {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)

	return &OpenIDConfiguration{
		Issuer:                            s.Config.Issuer,
		AuthorizationEndpoint:             s.Config.endpoint(s.Config.AuthorizationPath),
		TokenEndpoint:                     s.Config.endpoint(s.Config.TokenPath),
		UserInfoEndpoint:                  s.Config.endpoint(s.Config.UserInfoPath),
		JWKSURI:                           s.Config.endpoint(s.Config.JWKSPath),
		EndSessionEndpoint:                s.Config.endpoint(s.Config.EndSessionPath),
		ScopesSupported:                   scopes,
		ResponseTypesSupported:            []string{ResponseTypeCode},
		ResponseModesSupported:            []string{"query"},
		GrantTypesSupported:               []string{GrantTypeAuthorizationCode},
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{SigningAlgorithm.String()},
		TokenEndpointAuthMethodsSupported: []string{"none"},
		CodeChallengeMethodsSupported:     []string{PKCEMethodPlain, PKCEMethodS256},
		ClaimsSupported:                   append([]string(nil), SupportedClaims...),
	}, nil
}
