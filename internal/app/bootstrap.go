// Package app wires configuration, storage and HTTP routes into a runnable
// handler shared by the standalone server and the serverless entrypoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"trainerhub-auth/internal/audit"
	"trainerhub-auth/internal/auth"
	"trainerhub-auth/internal/config"
	"trainerhub-auth/internal/db"
	"trainerhub-auth/internal/httpjson"
	"trainerhub-auth/internal/maintenance"
	"trainerhub-auth/internal/observability"
	"trainerhub-auth/internal/ratelimit"
	"trainerhub-auth/internal/twofactor"
)

const serviceName = "trainerhub-auth"

type Options struct {
	LoadDotEnv bool
	// Config is used as-is instead of reading the environment.
	Config *config.Config
}

type Runtime struct {
	Config  config.Config
	Handler http.Handler
	Close   func() error
}

// stores groups the backends selected by STORAGE_DRIVER.
type stores struct {
	auth        auth.Store
	twoFactor   twofactor.Store
	audit       audit.Store
	limiter     ratelimit.Limiter
	rateCleaner maintenance.RateLimitCleaner
	ping        func(context.Context) error
	close       func() error
}

func Build(ctx context.Context, options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	var cfg config.Config
	if options.Config != nil {
		cfg = *options.Config
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	} else {
		loaded, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logger := observability.NewLoggerTo(os.Stdout, cfg.LogLevel)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv, cfg.Release); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTelEndpoint, serviceName)
	if err != nil {
		logger.Error("init_tracing_failed", map[string]any{"error": err.Error()})
	}

	backends, err := openStores(ctx, cfg, logger)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, err
	}

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, backends.auth, auth.TokenConfig{
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		RememberMeTTL: cfg.RememberMeTTL,
		ChallengeTTL:  cfg.ChallengeTokenTTL,
	})
	authService := auth.NewService(backends.auth, tokens, backends.audit, logger, auth.Settings{
		MaxFailedAttempts: cfg.LoginMaxAttempts,
		LockoutDuration:   cfg.LoginLockDuration,
		BcryptCost:        cfg.BcryptCost,
	})
	twoFactorService := twofactor.NewService(backends.twoFactor, authService, backends.audit, logger, twofactor.Settings{
		Issuer:          cfg.TwoFactorIssuer,
		BackupCodeCount: cfg.BackupCodeCount,
	})

	if err := authService.Bootstrap(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		_ = backends.close()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	cookies := auth.NewSessionCookies(tokens, cfg.SecureCookies(), cfg.LegacyAuthCookie)
	guard := auth.NewGuard(tokens)
	authHandler := auth.NewHandler(authService, cookies, logger)
	twoFactorHandler := twofactor.NewHandler(twoFactorService, authService, cookies, logger)
	auditHandler := audit.NewHandler(backends.audit, logger)
	cleanupHandler := maintenance.NewCleanupHandler(backends.auth, backends.rateCleaner, logger, maintenance.Settings{
		CronSecret:            cfg.CronSecret,
		RefreshTokenRetention: cfg.RefreshTokenRetention,
		RateLimitRetention:    cfg.RateLimitRetention,
		BatchSize:             cfg.CleanupBatchSize,
	})

	limit := func(route string, next http.HandlerFunc) http.Handler {
		policy := ratelimit.Policy{Enabled: cfg.RateLimited(route), ResetOnSuccess: cfg.RateLimitResets(route)}
		return ratelimit.Middleware(backends.limiter, route, policy, logger)(next)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/auth/register", limit("register", authHandler.Register))
	mux.Handle("POST /api/auth/login", limit("login", authHandler.Login))
	mux.HandleFunc("POST /api/auth/logout", authHandler.Logout)
	mux.HandleFunc("GET /api/auth/refresh", authHandler.RefreshRedirect)
	mux.HandleFunc("POST /api/auth/refresh", authHandler.Refresh)
	mux.Handle("GET /api/auth/me", guard.Handle(authHandler.Me))
	mux.Handle("POST /api/auth/password", guard.Handle(authHandler.ChangePassword))

	mux.Handle("POST /api/auth/2fa/setup", guard.Handle(twoFactorHandler.Setup))
	mux.Handle("POST /api/auth/2fa/verify", limit("2fa_verify", twoFactorHandler.Verify))
	mux.Handle("POST /api/auth/2fa/disable", guard.Handle(twoFactorHandler.Disable))
	mux.Handle("GET /api/auth/2fa/backup-codes", guard.Handle(twoFactorHandler.BackupCodeCount))
	mux.Handle("POST /api/auth/2fa/backup-codes", guard.Handle(twoFactorHandler.RegenerateBackupCodes))

	mux.Handle("GET /api/admin/audit", guard.Handle(auditHandler.List, auth.RoleAdmin))

	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(backends.ping))

	handler := observability.ClientIPMiddleware(cfg.TrustedProxyHops,
		observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux)))

	logger.Info("app_ready", map[string]any{
		"env":            cfg.AppEnv,
		"storage":        cfg.StorageDriver,
		"rate_limit":     cfg.RateLimitEnabled,
		"rate_backend":   cfg.RateLimitBackend,
		"legacy_cookie":  cfg.LegacyAuthCookie,
		"secure_cookies": cfg.SecureCookies(),
		"proxy_hops":     cfg.TrustedProxyHops,
	})

	return &Runtime{
		Config:  cfg,
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return errors.Join(shutdownTracing(shutdownCtx), backends.close())
		},
	}, nil
}

func openStores(ctx context.Context, cfg config.Config, logger *observability.Logger) (stores, error) {
	if cfg.StorageDriver == config.StorageMemory {
		logger.Warn("memory_storage_enabled", map[string]any{"note": "data is lost on restart"})
		users := auth.NewMemoryStore()
		limiter := ratelimit.NewMemoryLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)
		return stores{
			auth:        users,
			twoFactor:   twofactor.NewMemoryStore(users),
			audit:       audit.NewMemoryStore(),
			limiter:     limiter,
			rateCleaner: limiter,
			ping:        func(context.Context) error { return nil },
			close:       func() error { return nil },
		}, nil
	}

	database, err := db.Open(ctx, cfg.DatabaseURL, db.PoolSettings{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		return stores{}, err
	}

	if cfg.RunMigrations {
		if err := db.RunMigrations(ctx, database, logger); err != nil {
			_ = database.Close()
			return stores{}, fmt.Errorf("run migrations: %w", err)
		}
	}

	s := stores{
		auth:      auth.NewPostgresStore(database),
		twoFactor: twofactor.NewPostgresStore(database),
		audit:     audit.NewPostgresStore(database),
		ping:      database.PingContext,
		close:     database.Close,
	}
	if cfg.RateLimitBackend == config.RateLimitPostgres {
		limiter := ratelimit.NewPostgresLimiter(database, cfg.RateLimitMax, cfg.RateLimitWindow)
		s.limiter = limiter
		s.rateCleaner = limiter
	} else {
		limiter := ratelimit.NewMemoryLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)
		s.limiter = limiter
		s.rateCleaner = limiter
	}
	return s, nil
}

func healthHandler(ping func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}

		httpjson.Write(w, status, body)
	}
}
