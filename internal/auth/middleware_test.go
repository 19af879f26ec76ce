package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGuardRequire(t *testing.T) {
	env := newTestEnv(t)
	guard := NewGuard(env.tokens)

	issue := func(role Role) string {
		token, _, err := env.tokens.IssueAccessToken(AccessPayload{UserID: "u-" + string(role), Email: "x@test.com", Role: role})
		if err != nil {
			t.Fatalf("IssueAccessToken() error = %v", err)
		}
		return token
	}
	trainer := issue(RoleTrainer)
	admin := issue(RoleAdmin)
	expired := issue(RoleAdmin)
	challenge, _, _ := env.tokens.IssueChallenge("u1", false, "")

	var seen AccessClaims
	protected := guard.Handle(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}, RoleAdmin)

	tests := []struct {
		name       string
		setup      func(r *http.Request)
		advance    time.Duration
		wantStatus int
		wantError  string
	}{
		{name: "no credentials", setup: func(*http.Request) {}, wantStatus: http.StatusUnauthorized, wantError: "authentication required"},
		{name: "garbage bearer", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, wantStatus: http.StatusUnauthorized, wantError: "invalid token"},
		{name: "challenge token", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+challenge) }, wantStatus: http.StatusUnauthorized, wantError: "invalid token"},
		{name: "wrong role", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+trainer) }, wantStatus: http.StatusForbidden, wantError: "forbidden"},
		{name: "admin bearer", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+admin) }, wantStatus: http.StatusNoContent},
		{name: "admin cookie", setup: func(r *http.Request) { r.AddCookie(&http.Cookie{Name: AccessCookieName, Value: admin}) }, wantStatus: http.StatusNoContent},
		{name: "admin legacy cookie", setup: func(r *http.Request) { r.AddCookie(&http.Cookie{Name: LegacyAccessCookieName, Value: admin}) }, wantStatus: http.StatusNoContent},
		{name: "expired", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+expired) }, advance: time.Hour, wantStatus: http.StatusUnauthorized, wantError: "token expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.advance(tt.advance)
			defer env.advance(-tt.advance)

			req := httptest.NewRequest(http.MethodGet, "/api/admin/audit", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantError != "" {
				if got := decode(t, rec).Error; got != tt.wantError {
					t.Errorf("error = %q, want %q", got, tt.wantError)
				}
			}
			if tt.wantStatus == http.StatusNoContent && seen.Role != RoleAdmin {
				t.Errorf("claims in context = %+v", seen)
			}
		})
	}
}

func TestAccessTokenFromRequestPrefersHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	req.AddCookie(&http.Cookie{Name: AccessCookieName, Value: "cookie-token"})

	if got := AccessTokenFromRequest(req); got != "header-token" {
		t.Errorf("AccessTokenFromRequest() = %q, want header-token", got)
	}

	cookieOnly := httptest.NewRequest(http.MethodGet, "/", nil)
	cookieOnly.AddCookie(&http.Cookie{Name: LegacyAccessCookieName, Value: "legacy"})
	cookieOnly.AddCookie(&http.Cookie{Name: AccessCookieName, Value: "canonical"})
	if got := AccessTokenFromRequest(cookieOnly); got != "canonical" {
		t.Errorf("AccessTokenFromRequest() = %q, want canonical", got)
	}
}
