// Package maintenance exposes the cron-triggered cleanup of expired auth data.
package maintenance

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"trainerhub-auth/internal/httpjson"
	"trainerhub-auth/internal/observability"
)

type RefreshTokenCleaner interface {
	DeleteStaleRefreshTokens(ctx context.Context, revokedBefore time.Time, batchSize int) (int64, error)
}

type RateLimitCleaner interface {
	DeleteStale(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

type Settings struct {
	CronSecret            string
	RefreshTokenRetention time.Duration
	RateLimitRetention    time.Duration
	BatchSize             int
}

type Result struct {
	DeletedRefreshTokens int64 `json:"deletedRefreshTokens"`
	DeletedRateLimits    int64 `json:"deletedRateLimits"`
}

type CleanupHandler struct {
	tokens           RefreshTokenCleaner
	rateLimits       RateLimitCleaner
	logger           *observability.Logger
	cronSecret       string
	refreshRetention time.Duration
	rateRetention    time.Duration
	batchSize        int
	now              func() time.Time
}

func NewCleanupHandler(tokens RefreshTokenCleaner, rateLimits RateLimitCleaner, logger *observability.Logger, settings Settings) *CleanupHandler {
	batchSize := settings.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	return &CleanupHandler{
		tokens:           tokens,
		rateLimits:       rateLimits,
		logger:           logger,
		cronSecret:       strings.TrimSpace(settings.CronSecret),
		refreshRetention: settings.RefreshTokenRetention,
		rateRetention:    settings.RateLimitRetention,
		batchSize:        batchSize,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Run deletes one batch of revoked/expired refresh tokens and stale rate-limit
// windows.
func (h *CleanupHandler) Run(ctx context.Context) (Result, error) {
	var result Result
	now := h.now()

	deleted, err := h.tokens.DeleteStaleRefreshTokens(ctx, now.Add(-h.refreshRetention), h.batchSize)
	if err != nil {
		return result, err
	}
	result.DeletedRefreshTokens = deleted

	if h.rateLimits != nil {
		deleted, err := h.rateLimits.DeleteStale(ctx, now.Add(-h.rateRetention), h.batchSize)
		if err != nil {
			return result, err
		}
		result.DeletedRateLimits = deleted
	}

	return result, nil
}

// Handle serves /internal/maintenance/cleanup. It is hidden (404) unless a
// cron secret is configured, and requires it as a bearer token.
func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		httpjson.Error(w, http.StatusNotFound, "not found")
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	parts := strings.SplitN(strings.TrimSpace(r.Header.Get("Authorization")), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cronSecret)) != 1 {
		httpjson.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	result, err := h.Run(r.Context())
	if err != nil {
		observability.ReportError(r.Context(), h.logger, "auth_cleanup_failed", err, nil)
		httpjson.Error(w, http.StatusInternalServerError, "cleanup failed")
		return
	}

	h.logger.Info("auth_cleanup_completed", map[string]any{
		"deleted_refresh_tokens": result.DeletedRefreshTokens,
		"deleted_rate_limits":    result.DeletedRateLimits,
	})

	httpjson.OK(w, http.StatusOK, result)
}
