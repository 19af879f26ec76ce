package twofactor

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"trainerhub-auth/internal/auth"
	"trainerhub-auth/internal/observability"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return env
}

func cookiesByName(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func newHandlers(f *fixture) (*auth.Handler, *Handler) {
	logger := observability.NopLogger()
	cookies := auth.NewSessionCookies(f.sessions.Issuer(), false, true)
	return auth.NewHandler(f.sessions, cookies, logger), NewHandler(f.service, f.sessions, cookies, logger)
}

func TestLoginWithTwoFactorChallenge(t *testing.T) {
	f := newFixture(t)
	enrollment := f.enable(t)
	authHandler, handler := newHandlers(f)

	loginReq := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(`{"email":"trainer@test.com","password":"123456"}`))
	loginRec := httptest.NewRecorder()
	authHandler.Login(loginRec, loginReq)

	if loginRec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", loginRec.Code, loginRec.Body.String())
	}
	loginCookies := cookiesByName(loginRec)
	challenge, ok := loginCookies[auth.ChallengeCookieName]
	if !ok || challenge.Value == "" {
		t.Fatal("challenge cookie not set")
	}
	if _, ok := loginCookies[auth.AccessCookieName]; ok {
		t.Fatal("access cookie set before the second factor")
	}

	body := `{"token":"` + f.code(t, enrollment.Secret, f.now) + `","action":"login"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/2fa/verify", bytes.NewBufferString(body))
	req.AddCookie(challenge)
	rec := httptest.NewRecorder()
	handler.Verify(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d, body %s", rec.Code, rec.Body.String())
	}
	cookies := cookiesByName(rec)
	for _, name := range []string{auth.AccessCookieName, auth.LegacyAccessCookieName, auth.RefreshCookieName} {
		if c, ok := cookies[name]; !ok || c.Value == "" {
			t.Errorf("cookie %s not set", name)
		}
	}
	if c, ok := cookies[auth.ChallengeCookieName]; !ok || c.MaxAge >= 0 {
		t.Error("challenge cookie not cleared")
	}

	var data auth.SessionResponse
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &data); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if data.User.Role != auth.RoleTrainer || data.Tokens.AccessToken == "" {
		t.Errorf("unexpected session response %+v", data)
	}
}

func TestVerifyRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	f.enable(t)
	_, handler := newHandlers(f)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "missing token", body: `{"action":"login"}`, wantStatus: http.StatusBadRequest},
		{name: "unknown action", body: `{"token":"123456","action":"other"}`, wantStatus: http.StatusBadRequest},
		{name: "login without challenge", body: `{"token":"123456","action":"login"}`, wantStatus: http.StatusUnauthorized},
		{name: "login with bad challenge", body: `{"token":"123456","action":"login","challengeToken":"garbage"}`, wantStatus: http.StatusUnauthorized},
		{name: "enable without access token", body: `{"token":"123456","action":"enable"}`, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/auth/2fa/verify", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			handler.Verify(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if decodeEnvelope(t, rec).Success {
				t.Error("success = true, want false")
			}
		})
	}
}

func TestSetupAndEnableOverHTTP(t *testing.T) {
	f := newFixture(t)
	_, handler := newHandlers(f)
	guard := auth.NewGuard(f.sessions.Issuer())

	access, _, err := f.sessions.Issuer().IssueAccessToken(auth.AccessPayload{UserID: f.userID, Email: "trainer@test.com", Role: auth.RoleTrainer})
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	setupReq := httptest.NewRequest(http.MethodPost, "/api/auth/2fa/setup", nil)
	setupReq.Header.Set("Authorization", "Bearer "+access)
	setupRec := httptest.NewRecorder()
	guard.Handle(handler.Setup).ServeHTTP(setupRec, setupReq)
	if setupRec.Code != http.StatusOK {
		t.Fatalf("setup status = %d, body %s", setupRec.Code, setupRec.Body.String())
	}

	var enrollment Enrollment
	if err := json.Unmarshal(decodeEnvelope(t, setupRec).Data, &enrollment); err != nil {
		t.Fatalf("decode enrollment: %v", err)
	}

	body := `{"token":"` + f.code(t, enrollment.Secret, f.now) + `","action":"enable"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/2fa/verify", bytes.NewBufferString(body))
	req.AddCookie(&http.Cookie{Name: auth.AccessCookieName, Value: access})
	rec := httptest.NewRecorder()
	handler.Verify(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("enable status = %d, body %s", rec.Code, rec.Body.String())
	}

	again := httptest.NewRequest(http.MethodPost, "/api/auth/2fa/setup", nil)
	again.Header.Set("Authorization", "Bearer "+access)
	againRec := httptest.NewRecorder()
	guard.Handle(handler.Setup).ServeHTTP(againRec, again)
	if againRec.Code != http.StatusConflict {
		t.Errorf("second setup status = %d, want 409", againRec.Code)
	}

	countReq := httptest.NewRequest(http.MethodGet, "/api/auth/2fa/backup-codes", nil)
	countReq.Header.Set("Authorization", "Bearer "+access)
	countRec := httptest.NewRecorder()
	guard.Handle(handler.BackupCodeCount).ServeHTTP(countRec, countReq)
	var count struct {
		Remaining int `json:"remaining"`
	}
	if err := json.Unmarshal(decodeEnvelope(t, countRec).Data, &count); err != nil {
		t.Fatalf("decode count: %v", err)
	}
	if count.Remaining != 10 {
		t.Errorf("remaining = %d, want 10", count.Remaining)
	}

	disableReq := httptest.NewRequest(http.MethodPost, "/api/auth/2fa/disable", bytes.NewBufferString(`{"password":"wrong-one"}`))
	disableReq.Header.Set("Authorization", "Bearer "+access)
	disableRec := httptest.NewRecorder()
	guard.Handle(handler.Disable).ServeHTTP(disableRec, disableReq)
	if disableRec.Code != http.StatusBadRequest {
		t.Errorf("disable with wrong password status = %d, want 400", disableRec.Code)
	}
}
