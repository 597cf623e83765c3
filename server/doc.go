// Package server implements the OpenID Connect authorization server logic.
//
// It validates authorization requests, issues single-use authorization codes,
// redeems them for RS256-signed access and ID tokens, and serves the claims
// of access token subjects. HTTP concerns live in the root package; this
// package only deals with protocol state and returns *Error values that
// describe how a failure must be delivered (JSON body or client redirect).
//
// The Server type delegates to:
//   - Client, user, code and session storage (storage package)
//   - Security features (security package)
//   - Metrics and tracing (instrumentation package)
//
// Key Features:
//   - Authorization code flow with optional or per-client mandatory PKCE
//   - Atomic single-use code redemption
//   - Scope-gated identity claims in ID tokens and userinfo responses
//   - Discovery metadata and JWKS publication
//   - Security auditing and rate limiting
//
// Example usage:
//
//	registry, err := memory.NewRegistry(clients, memory.DemoUsers())
//	store := memory.New()
//	defer store.Stop()
//
//	config := &server.Config{
//	    Issuer: "https://id.example.com",
//	}
//
//	srv, err := server.New(registry, registry, store, store, config, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
package server
