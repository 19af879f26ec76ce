package auth

import (
	"net/http"
	"time"
)

const (
	AccessCookieName    = "access-token"
	RefreshCookieName   = "refresh-token"
	ChallengeCookieName = "two-factor-challenge"

	// LegacyAccessCookieName is a deprecated alias of AccessCookieName kept for
	// clients that still read it.
	LegacyAccessCookieName = "auth-token"
)

// SessionCookies writes and clears the session cookies. Max-age values follow
// the token issuer's lifetimes.
type SessionCookies struct {
	tokens      *TokenIssuer
	secure      bool
	legacyAlias bool
}

func NewSessionCookies(tokens *TokenIssuer, secure, legacyAlias bool) *SessionCookies {
	return &SessionCookies{tokens: tokens, secure: secure, legacyAlias: legacyAlias}
}

func (c *SessionCookies) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge / time.Second),
	}
	if maxAge < 0 {
		cookie.MaxAge = -1
		cookie.Expires = time.Unix(0, 0)
	}
	return cookie
}

func (c *SessionCookies) Set(w http.ResponseWriter, session Session) {
	accessTTL := c.tokens.AccessTTL()
	http.SetCookie(w, c.cookie(AccessCookieName, session.AccessToken, accessTTL))
	if c.legacyAlias {
		http.SetCookie(w, c.cookie(LegacyAccessCookieName, session.AccessToken, accessTTL))
	}
	http.SetCookie(w, c.cookie(RefreshCookieName, session.RefreshToken, c.tokens.RefreshTTL(session.RememberMe)))
}

// Clear expires every session cookie, including the legacy alias.
func (c *SessionCookies) Clear(w http.ResponseWriter) {
	for _, name := range []string{AccessCookieName, LegacyAccessCookieName, RefreshCookieName} {
		http.SetCookie(w, c.cookie(name, "", -1))
	}
}

func (c *SessionCookies) SetChallenge(w http.ResponseWriter, token string) {
	http.SetCookie(w, c.cookie(ChallengeCookieName, token, c.tokens.challengeTTL))
}

func (c *SessionCookies) ClearChallenge(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(ChallengeCookieName, "", -1))
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// ChallengeFromRequest returns the pending two-factor challenge, if any.
func ChallengeFromRequest(r *http.Request) string {
	return cookieValue(r, ChallengeCookieName)
}
