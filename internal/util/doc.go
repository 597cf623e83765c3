// Package util provides small helpers shared across the provider packages.
//
// Key utilities:
//   - SafeTruncate: truncates secrets before they are logged
//   - SplitScopes / JoinScopes: space-delimited scope parameter handling
//   - IsLocalPath: guards post-login redirects against open redirects
package util
