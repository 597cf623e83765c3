// Package security provides the protective layers around the protocol
// endpoints: audit logging, rate limiting, response headers, client IP
// extraction, request ids and clock-skew aware expiry checks.
//
// # Audit Logging
//
// Auditor writes one structured "security_audit" record per event. User ids
// are hashed before they are logged so audit streams can be shipped to
// systems with wider access than the provider itself.
//
//	auditor := security.NewAuditor(logger, true)
//	auditor.LogCodeIssued(userID, clientID, ip, scope)
//
// # Rate Limiting
//
// RateLimiter keeps one token bucket per identifier (usually the client IP)
// and evicts the least recently used buckets once MaxEntries is reached, so
// a spray of source addresses cannot grow memory without bound.
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//		// respond with 429
//	}
//
// # Client IPs
//
// GetClientIP honours X-Forwarded-For only when the deployment declares a
// trusted proxy chain; otherwise the socket address is used.
package security
