package security

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// GetClientIP returns the address of the client that sent r.
//
// With trustProxy unset the socket address is used and forwarding headers
// are ignored. With trustProxy set, X-Forwarded-For is read from the right:
// the last trustedProxyCount entries (default 1) belong to our own proxies
// and the entry before them is the client. X-Real-IP is the fallback.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := clientFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return remoteHost(r.RemoteAddr)
}

func clientFromForwardedFor(header string, trustedProxyCount int) string {
	if header == "" {
		return ""
	}
	hops := strings.Split(header, ",")

	if trustedProxyCount <= 0 {
		trustedProxyCount = 1
	}
	idx := len(hops) - trustedProxyCount - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(hops[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

type clientIPContextKey struct{}

// WithClientIP stores the resolved client IP in the context
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// ClientIPFromContext returns the client IP stored by WithClientIP
func ClientIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPContextKey{}).(string); ok {
		return ip
	}
	return ""
}
