// Package testutil provides fixtures, a controllable clock and PKCE helpers
// shared by the oidc-provider tests.
package testutil
