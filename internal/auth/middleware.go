package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"trainerhub-auth/internal/httpjson"
)

type claimsKey struct{}

// ClaimsFromContext returns the access claims placed by Guard.
func ClaimsFromContext(ctx context.Context) (AccessClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(AccessClaims)
	return claims, ok
}

func WithClaims(ctx context.Context, claims AccessClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// AccessTokenFromRequest looks at the Bearer header, then the access-token
// cookie, then the legacy auth-token cookie.
func AccessTokenFromRequest(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}

	if token := cookieValue(r, AccessCookieName); token != "" {
		return token
	}
	return cookieValue(r, LegacyAccessCookieName)
}

// Guard is the single capability check run before protected handlers.
type Guard struct {
	tokens *TokenIssuer
}

func NewGuard(tokens *TokenIssuer) *Guard {
	return &Guard{tokens: tokens}
}

// Require authenticates the request and, when roles are given, checks that the
// caller holds one of them.
func (g *Guard) Require(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := AccessTokenFromRequest(r)
			if token == "" {
				httpjson.Error(w, http.StatusUnauthorized, "authentication required")
				return
			}

			claims, err := g.tokens.Verify(token)
			if err != nil {
				message := "invalid token"
				if errors.Is(err, ErrTokenExpired) {
					message = "token expired"
				}
				httpjson.Error(w, http.StatusUnauthorized, message)
				return
			}

			if len(roles) > 0 && !slices.Contains(roles, claims.Role) {
				httpjson.Error(w, http.StatusForbidden, "forbidden")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// Handle is shorthand for Require(roles...)(handler).
func (g *Guard) Handle(handler http.HandlerFunc, roles ...Role) http.Handler {
	return g.Require(roles...)(handler)
}
