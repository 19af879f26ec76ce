package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresLimiter is a fixed-window counter shared by every instance.
type PostgresLimiter struct {
	db      *sql.DB
	maxHits int
	window  time.Duration
	now     func() time.Time
}

func NewPostgresLimiter(db *sql.DB, maxHits int, window time.Duration) *PostgresLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &PostgresLimiter{
		db:      db,
		maxHits: maxHits,
		window:  window,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (l *PostgresLimiter) Check(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	threshold := now.Add(-l.window)

	var hits int
	var windowStartedAt time.Time
	err := l.db.QueryRowContext(ctx, `
		WITH upsert AS (
			INSERT INTO auth_rate_limits (key, window_started_at, hits, updated_at)
			VALUES ($1, $2, 1, $2)
			ON CONFLICT (key) DO UPDATE
			SET
				hits = CASE
					WHEN auth_rate_limits.window_started_at <= $3 THEN 1
					ELSE auth_rate_limits.hits + 1
				END,
				window_started_at = CASE
					WHEN auth_rate_limits.window_started_at <= $3 THEN $2
					ELSE auth_rate_limits.window_started_at
				END,
				updated_at = $2
			RETURNING hits, window_started_at
		)
		SELECT hits, window_started_at FROM upsert
	`, key, now, threshold).Scan(&hits, &windowStartedAt)
	if err != nil {
		return Decision{}, fmt.Errorf("upsert rate limit window: %w", err)
	}

	if hits <= l.maxHits {
		return Decision{Allowed: true, Remaining: l.maxHits - hits}, nil
	}

	return Decision{
		Allowed:    false,
		RetryAfter: retryAfterAtLeastOneSecond(windowStartedAt.Add(l.window).Sub(now)),
	}, nil
}

func (l *PostgresLimiter) Reset(ctx context.Context, key string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM auth_rate_limits WHERE key = $1`, key); err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}

// DeleteStale removes windows untouched since cutoff, at most batchSize rows.
func (l *PostgresLimiter) DeleteStale(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := l.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT key
			FROM auth_rate_limits
			WHERE updated_at < $1
			ORDER BY updated_at ASC
			LIMIT $2
		)
		DELETE FROM auth_rate_limits t
		USING stale
		WHERE t.key = stale.key
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale rate limits: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale rate limits rows affected: %w", err)
	}

	return affected, nil
}
