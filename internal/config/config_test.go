package config

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("STORAGE_DRIVER", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.AccessTokenTTL != time.Hour {
		t.Errorf("AccessTokenTTL = %v, want 1h", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 7*24*time.Hour {
		t.Errorf("RefreshTokenTTL = %v, want 168h", cfg.RefreshTokenTTL)
	}
	if cfg.RememberMeTTL != 30*24*time.Hour {
		t.Errorf("RememberMeTTL = %v, want 720h", cfg.RememberMeTTL)
	}
	if cfg.LoginMaxAttempts != 5 || cfg.LoginLockDuration != 15*time.Minute {
		t.Errorf("lockout = %d/%v, want 5/15m", cfg.LoginMaxAttempts, cfg.LoginLockDuration)
	}
	if !cfg.RateLimitEnabled {
		t.Error("rate limiting should be enabled by default")
	}
	if cfg.SecureCookies() {
		t.Error("cookies should not be secure outside production by default")
	}
}

func TestLoadMissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("STORAGE_DRIVER", "memory")

	if _, err := Load(); err == nil {
		t.Fatal("Load() expected error without JWT_SECRET")
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		JWTSecret:        testSecret,
		StorageDriver:    StorageMemory,
		RateLimitBackend: RateLimitMemory,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "short secret", mutate: func(c *Config) { c.JWTSecret = "short" }, wantErr: "JWT_SECRET"},
		{name: "postgres without url", mutate: func(c *Config) { c.StorageDriver = StoragePostgres }, wantErr: "DATABASE_URL"},
		{name: "unknown driver", mutate: func(c *Config) { c.StorageDriver = "redis" }, wantErr: "STORAGE_DRIVER"},
		{name: "postgres limiter on memory", mutate: func(c *Config) { c.RateLimitBackend = RateLimitPostgres }, wantErr: "RATE_LIMIT_BACKEND"},
		{name: "negative proxy hops", mutate: func(c *Config) { c.TrustedProxyHops = -1 }, wantErr: "TRUSTED_PROXY_HOPS"},
		{name: "admin email only", mutate: func(c *Config) { c.AdminEmail = "admin@test.com" }, wantErr: "ADMIN_PASSWORD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestSecureCookies(t *testing.T) {
	off := false
	cfg := Config{AppEnv: "production"}
	if !cfg.SecureCookies() {
		t.Error("production should default to secure cookies")
	}
	cfg.CookieSecure = &off
	if cfg.SecureCookies() {
		t.Error("COOKIE_SECURE=false should override production")
	}
}

func TestRateLimited(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("RATE_LIMIT_ROUTES", "login, 2fa_verify")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.RateLimited("login") || !cfg.RateLimited("2fa_verify") {
		t.Error("configured routes should be limited")
	}
	if cfg.RateLimited("register") {
		t.Error("register should not be limited")
	}

	cfg.RateLimitEnabled = false
	if cfg.RateLimited("login") {
		t.Error("disabled limiter should not guard any route")
	}

	if !cfg.RateLimitResets("login") || !cfg.RateLimitResets("2fa_verify") {
		t.Error("login and 2fa_verify should reset on success by default")
	}
	if cfg.RateLimitResets("register") {
		t.Error("register should never reset on success by default")
	}
	if cfg.TrustedProxyHops != 0 {
		t.Errorf("TrustedProxyHops = %d, want 0", cfg.TrustedProxyHops)
	}
}
