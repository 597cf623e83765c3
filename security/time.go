package security

import "time"

// DefaultClockSkew is the leeway granted when comparing token and session
// timestamps issued by another clock.
const DefaultClockSkew = 5 * time.Second

// IsExpired reports whether expiresAt has passed at now, allowing
// DefaultClockSkew. A zero expiry never expires.
func IsExpired(expiresAt, now time.Time) bool {
	return IsExpiredWithSkew(expiresAt, now, DefaultClockSkew)
}

// IsExpiredWithSkew is IsExpired with an explicit leeway
func IsExpiredWithSkew(expiresAt, now time.Time, skew time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(skew))
}
