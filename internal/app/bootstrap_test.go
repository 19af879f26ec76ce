package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trainerhub-auth/internal/config"
)

func testConfig() config.Config {
	cfg := config.Config{
		AppEnv:            "test",
		LogLevel:          "error",
		StorageDriver:     config.StorageMemory,
		JWTSecret:         "0123456789abcdef0123456789abcdef",
		AccessTokenTTL:    time.Hour,
		RefreshTokenTTL:   7 * 24 * time.Hour,
		RememberMeTTL:     30 * 24 * time.Hour,
		ChallengeTokenTTL: 5 * time.Minute,
		BcryptCost:        4,
		LoginMaxAttempts:  5,
		LoginLockDuration: 15 * time.Minute,
		RateLimitEnabled:  true,
		RateLimitBackend:  config.RateLimitMemory,
		RateLimitMax:      3,
		RateLimitWindow:   time.Minute,
		RateLimitRoutes:   []string{"login"},
		TwoFactorIssuer:   "TrainerHub",
		BackupCodeCount:   10,
		LegacyAuthCookie:  true,
		AdminEmail:        "admin@test.com",
		AdminPassword:     "admin-pass",
	}
	cfg.RateLimitResetRoutes = []string{"login", "2fa_verify"}
	return cfg
}

func newRuntime(t *testing.T, cfg config.Config) *Runtime {
	t.Helper()
	runtime, err := Build(context.Background(), Options{Config: &cfg})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(func() { _ = runtime.Close() })
	return runtime
}

func do(t *testing.T, h http.Handler, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "198.51.100.7:40000"
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestSessionFlow(t *testing.T) {
	runtime := newRuntime(t, testConfig())
	h := runtime.Handler

	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}

	rec := do(t, h, http.MethodPost, "/api/auth/register", `{"email":"trainer@test.com","password":"123456","role":"TRAINER"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d body %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/api/auth/login", `{"email":"trainer@test.com","password":"123456"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d body %s", rec.Code, rec.Body.String())
	}
	access := cookieNamed(rec, "access-token")
	legacy := cookieNamed(rec, "auth-token")
	refresh := cookieNamed(rec, "refresh-token")
	if access == nil || legacy == nil || refresh == nil {
		t.Fatal("login did not set all session cookies")
	}
	if access.MaxAge != 3600 || refresh.MaxAge != 604800 {
		t.Errorf("max-age access=%d refresh=%d", access.MaxAge, refresh.MaxAge)
	}

	rec = do(t, h, http.MethodGet, "/api/auth/me", "", legacy)
	if rec.Code != http.StatusOK {
		t.Fatalf("me via legacy cookie status = %d", rec.Code)
	}
	var me struct {
		Data struct {
			User struct {
				Role string `json:"role"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil || me.Data.User.Role != "TRAINER" {
		t.Errorf("me role = %q err = %v", me.Data.User.Role, err)
	}

	if rec := do(t, h, http.MethodGet, "/api/admin/audit", "", access); rec.Code != http.StatusForbidden {
		t.Errorf("trainer audit status = %d, want 403", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/auth/me", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous me status = %d, want 401", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/auth/logout", "", refresh)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/auth/refresh", "", refresh)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Errorf("refresh after logout status = %d location = %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestAdminBootstrapAndAudit(t *testing.T) {
	runtime := newRuntime(t, testConfig())
	h := runtime.Handler

	rec := do(t, h, http.MethodPost, "/api/auth/login", `{"email":"admin@test.com","password":"admin-pass"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin login status = %d body %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/api/admin/audit?action=login&limit=10", "", cookieNamed(rec, "access-token"))
	if rec.Code != http.StatusOK {
		t.Fatalf("audit status = %d body %s", rec.Code, rec.Body.String())
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"action":"login"`)) {
		t.Errorf("audit body missing login entry: %s", rec.Body.String())
	}
}

func TestLoginRateLimit(t *testing.T) {
	runtime := newRuntime(t, testConfig())
	h := runtime.Handler

	for i := 0; i < 3; i++ {
		rec := do(t, h, http.MethodPost, "/api/auth/login", `{"email":"nobody@test.com","password":"123456"}`)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i+1, rec.Code)
		}
	}
	rec := do(t, h, http.MethodPost, "/api/auth/login", `{"email":"nobody@test.com","password":"123456"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}

	// Register is not in RATE_LIMIT_ROUTES for this config.
	for i := 0; i < 5; i++ {
		rec := do(t, h, http.MethodPost, "/api/auth/register", `{"email":"bad"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("register attempt %d status = %d, want 400", i+1, rec.Code)
		}
	}
}

func TestRegisterRateLimitCountsSuccesses(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRoutes = []string{"register"}
	runtime := newRuntime(t, cfg)
	h := runtime.Handler

	for i := 0; i < 3; i++ {
		body := fmt.Sprintf(`{"email":"client%d@test.com","password":"123456","role":"CLIENT"}`, i)
		if rec := do(t, h, http.MethodPost, "/api/auth/register", body); rec.Code != http.StatusCreated {
			t.Fatalf("register %d status = %d body %s", i+1, rec.Code, rec.Body.String())
		}
	}
	rec := do(t, h, http.MethodPost, "/api/auth/register", `{"email":"client9@test.com","password":"123456","role":"CLIENT"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestLoginRateLimitIgnoresForwardedFor(t *testing.T) {
	runtime := newRuntime(t, testConfig())
	h := runtime.Handler

	var rec *httptest.ResponseRecorder
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(`{"email":"nobody@test.com","password":"123456"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		req.RemoteAddr = "198.51.100.7:40000"
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 despite rotating X-Forwarded-For", rec.Code)
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = "short"
	if _, err := Build(context.Background(), Options{Config: &cfg}); err == nil {
		t.Fatal("Build() expected config error")
	}
}
