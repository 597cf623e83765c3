package util

import "strings"

// SafeTruncate truncates s to at most maxLen bytes without panicking.
// It is used to log a short prefix of codes and session ids.
//
// Example:
//
//	SafeTruncate("very-long-code-abc123", 8) // Returns: "very-lon"
//	SafeTruncate("short", 10)                // Returns: "short"
//	SafeTruncate("test", -1)                 // Returns: ""
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// SplitScopes splits a space-delimited scope parameter into its tokens.
// Empty tokens produced by repeated spaces are dropped and duplicates are
// collapsed, keeping first-seen order.
func SplitScopes(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// JoinScopes joins scope tokens into a space-delimited parameter.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ContainsScope reports whether scope is one of the tokens in scopes.
func ContainsScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// IsLocalPath reports whether target is a path on this server, meaning it
// starts with a single slash and carries no scheme or host. Anything else
// could send the user agent to a foreign origin.
func IsLocalPath(target string) bool {
	if target == "" || target[0] != '/' {
		return false
	}
	if len(target) > 1 && (target[1] == '/' || target[1] == '\\') {
		return false
	}
	return !strings.ContainsAny(target, "\r\n")
}

// EqualFoldASCII reports whether a and b are equal under ASCII case folding.
// Unlike strings.EqualFold, non-ASCII bytes must match exactly, so U+017F
// does not equal 's' and U+212A does not equal 'k'.
func EqualFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca == cb {
			continue
		}
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
