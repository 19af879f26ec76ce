package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"

	RateLimitMemory   = "memory"
	RateLimitPostgres = "postgres"
)

// Config is read once at startup from the environment.
type Config struct {
	AppEnv   string `env:"APP_ENV"   envDefault:"development"`
	Release  string `env:"APP_RELEASE"`
	Port     string `env:"PORT"      envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	StorageDriver     string        `env:"STORAGE_DRIVER"            envDefault:"postgres"`
	DatabaseURL       string        `env:"DATABASE_URL"`
	RunMigrations     bool          `env:"RUN_MIGRATIONS_ON_STARTUP" envDefault:"true"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS"         envDefault:"10"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS"         envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME"      envDefault:"30m"`
	DBConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME"     envDefault:"10m"`

	JWTSecret         string        `env:"JWT_SECRET,required"`
	AccessTokenTTL    time.Duration `env:"ACCESS_TOKEN_TTL"     envDefault:"1h"`
	RefreshTokenTTL   time.Duration `env:"REFRESH_TOKEN_TTL"    envDefault:"168h"`
	RememberMeTTL     time.Duration `env:"REMEMBER_ME_TTL"      envDefault:"720h"`
	ChallengeTokenTTL time.Duration `env:"CHALLENGE_TOKEN_TTL"  envDefault:"5m"`
	BcryptCost        int           `env:"BCRYPT_COST"          envDefault:"10"`

	LoginMaxAttempts  int           `env:"LOGIN_MAX_ATTEMPTS"  envDefault:"5"`
	LoginLockDuration time.Duration `env:"LOGIN_LOCK_DURATION" envDefault:"15m"`

	RateLimitEnabled bool          `env:"LOGIN_RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitBackend string        `env:"RATE_LIMIT_BACKEND"       envDefault:"memory"`
	RateLimitMax     int           `env:"LOGIN_RATE_LIMIT_MAX"     envDefault:"10"`
	RateLimitWindow  time.Duration `env:"LOGIN_RATE_LIMIT_WINDOW"  envDefault:"1m"`
	RateLimitRoutes  []string      `env:"RATE_LIMIT_ROUTES"        envDefault:"login,register,2fa_verify" envSeparator:","`

	// Routes whose counter is cleared after a successful response.
	RateLimitResetRoutes []string `env:"RATE_LIMIT_RESET_ROUTES" envDefault:"login,2fa_verify" envSeparator:","`

	// Number of reverse proxies in front of the service that append to
	// X-Forwarded-For. Zero ignores the header.
	TrustedProxyHops int `env:"TRUSTED_PROXY_HOPS" envDefault:"0"`

	TwoFactorIssuer string `env:"TWO_FACTOR_ISSUER"  envDefault:"TrainerHub"`
	BackupCodeCount int    `env:"BACKUP_CODE_COUNT"  envDefault:"10"`

	CookieSecure     *bool `env:"COOKIE_SECURE"`
	LegacyAuthCookie bool  `env:"LEGACY_AUTH_COOKIE" envDefault:"true"`

	SentryDSN    string `env:"SENTRY_DSN"`
	OTelEndpoint string `env:"OTEL_EXPORTER_ENDPOINT"`

	CronSecret            string        `env:"CRON_SECRET"`
	RefreshTokenRetention time.Duration `env:"AUTH_REFRESH_TOKEN_RETENTION" envDefault:"336h"`
	RateLimitRetention    time.Duration `env:"AUTH_RATE_LIMIT_RETENTION"    envDefault:"720h"`
	CleanupBatchSize      int           `env:"AUTH_CLEANUP_BATCH_SIZE"      envDefault:"500"`

	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var problems []string

	if len(c.JWTSecret) < 32 {
		problems = append(problems, "JWT_SECRET must be at least 32 bytes")
	}

	switch c.StorageDriver {
	case StoragePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			problems = append(problems, "DATABASE_URL is required for the postgres storage driver")
		}
	case StorageMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown STORAGE_DRIVER %q", c.StorageDriver))
	}

	switch c.RateLimitBackend {
	case RateLimitMemory:
	case RateLimitPostgres:
		if c.StorageDriver != StoragePostgres {
			problems = append(problems, "RATE_LIMIT_BACKEND=postgres requires STORAGE_DRIVER=postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown RATE_LIMIT_BACKEND %q", c.RateLimitBackend))
	}

	if c.TrustedProxyHops < 0 {
		problems = append(problems, "TRUSTED_PROXY_HOPS must not be negative")
	}

	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		problems = append(problems, "ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}

	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// RateLimited reports whether the limiter guards the named route.
func (c Config) RateLimited(route string) bool {
	return c.RateLimitEnabled && containsRoute(c.RateLimitRoutes, route)
}

// RateLimitResets reports whether a successful response on route clears its
// counter.
func (c Config) RateLimitResets(route string) bool {
	return containsRoute(c.RateLimitResetRoutes, route)
}

func containsRoute(routes []string, route string) bool {
	for _, r := range routes {
		if strings.EqualFold(strings.TrimSpace(r), route) {
			return true
		}
	}
	return false
}

func (c Config) Production() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// SecureCookies defaults to true in production unless COOKIE_SECURE overrides it.
func (c Config) SecureCookies() bool {
	if c.CookieSecure != nil {
		return *c.CookieSecure
	}
	return c.Production()
}
