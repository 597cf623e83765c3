package security

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// SetSecurityHeaders sets the response headers shared by every protocol
// endpoint. Responses are marked as not cacheable; metadata endpoints
// override that with SetPublicCacheHeaders afterwards.
func SetSecurityHeaders(w http.ResponseWriter, issuer string) {
	h := w.Header()

	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")

	if parsed, err := url.Parse(issuer); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
}

// SetPublicCacheHeaders marks a response as publicly cacheable for maxAge.
// Used for discovery and JWKS documents.
func SetPublicCacheHeaders(w http.ResponseWriter, maxAge time.Duration) {
	h := w.Header()
	h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(maxAge.Seconds())))
	h.Del("Pragma")
}
