package observability

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// ClientIPMiddleware resolves the caller address once per request and stores it
// on the request context for ClientIP.
func ClientIPMiddleware(trustedProxyHops int, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ResolveClientIP(r, trustedProxyHops)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIPKey{}, ip)))
	})
}

// ResolveClientIP returns the remote address unless trustedProxyHops proxies
// sit in front of the service. Each trusted proxy appends the address it
// received the request from, so the client is the entry trustedProxyHops
// positions from the right; anything further left was written by the client.
func ResolveClientIP(r *http.Request, trustedProxyHops int) string {
	if trustedProxyHops > 0 {
		var hops []string
		for _, header := range r.Header.Values("X-Forwarded-For") {
			for _, part := range strings.Split(header, ",") {
				if part = strings.TrimSpace(part); part != "" {
					hops = append(hops, part)
				}
			}
		}
		if len(hops) >= trustedProxyHops {
			return hops[len(hops)-trustedProxyHops]
		}
	}

	return remoteHost(r)
}

// ClientIP returns the address resolved by ClientIPMiddleware, or the remote
// address when the middleware did not run.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
