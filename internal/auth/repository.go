package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const userColumns = `id, email, password_hash, role, active, failed_login_attempts, locked_until,
	two_factor_secret, two_factor_pending_secret, two_factor_enabled, created_at, updated_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var user User
	var role string
	var lockedUntil sql.NullTime
	if err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &role, &user.Active, &user.FailedLoginAttempts, &lockedUntil,
		&user.TwoFactorSecret, &user.TwoFactorPendingSecret, &user.TwoFactorEnabled, &user.CreatedAt, &user.UpdatedAt,
	); err != nil {
		return User{}, err
	}
	user.Role = Role(role)
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		user.LockedUntil = &value
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, role, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, user.ID, user.Email, user.PasswordHash, string(user.Role), user.Active, user.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user by id: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) RegisterFailedLogin(ctx context.Context, userID string, maxAttempts int, lockDuration time.Duration, now time.Time) (LoginFailure, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return LoginFailure{}, fmt.Errorf("begin failed login tx: %w", err)
	}
	defer tx.Rollback()

	var failed int
	var lockedUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT failed_login_attempts, locked_until
		FROM users
		WHERE id = $1
		FOR UPDATE
	`, userID).Scan(&failed, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LoginFailure{}, ErrUserNotFound
		}
		return LoginFailure{}, fmt.Errorf("lock user row: %w", err)
	}

	if lockedUntil.Valid && now.Before(lockedUntil.Time) {
		until := lockedUntil.Time.UTC()
		if err := tx.Commit(); err != nil {
			return LoginFailure{}, fmt.Errorf("commit existing lock tx: %w", err)
		}
		return LoginFailure{FailedAttempts: failed, LockedUntil: &until}, nil
	}

	failed++
	result := LoginFailure{FailedAttempts: failed}
	var nextLock any
	if failed >= maxAttempts {
		until := now.UTC().Add(lockDuration)
		result.LockedUntil = &until
		nextLock = until
		failed = 0
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users
		SET failed_login_attempts = $2, locked_until = $3, updated_at = $4
		WHERE id = $1
	`, userID, failed, nextLock, now.UTC())
	if err != nil {
		return LoginFailure{}, fmt.Errorf("update failed login counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return LoginFailure{}, fmt.Errorf("commit failed login tx: %w", err)
	}

	return result, nil
}

func (s *PostgresStore) ResetFailedLogins(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET failed_login_attempts = 0, locked_until = NULL
		WHERE id = $1 AND (failed_login_attempts <> 0 OR locked_until IS NOT NULL)
	`, userID)
	if err != nil {
		return fmt.Errorf("reset failed logins: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdatePassword(ctx context.Context, userID, passwordHash string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1
	`, userID, passwordHash, now.UTC())
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) CreateRefreshToken(ctx context.Context, record RefreshTokenRecord) error {
	if err := insertRefreshToken(ctx, s.db, record); err != nil {
		return err
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRefreshToken(ctx context.Context, db execer, record RefreshTokenRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO auth_refresh_tokens (id, user_id, family_id, token_hash, remember_me, device_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, record.ID, record.UserID, record.FamilyID, record.TokenHash, record.RememberMe, record.DeviceID,
		record.ExpiresAt.UTC(), record.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

const refreshColumns = `id, user_id, family_id, token_hash, remember_me, device_id, expires_at, revoked_at, replaced_by, created_at`

func scanRefreshToken(row rowScanner) (RefreshTokenRecord, error) {
	var record RefreshTokenRecord
	var revokedAt sql.NullTime
	var replacedBy sql.NullString
	if err := row.Scan(&record.ID, &record.UserID, &record.FamilyID, &record.TokenHash, &record.RememberMe,
		&record.DeviceID, &record.ExpiresAt, &revokedAt, &replacedBy, &record.CreatedAt); err != nil {
		return RefreshTokenRecord{}, err
	}
	record.ExpiresAt = record.ExpiresAt.UTC()
	if revokedAt.Valid {
		value := revokedAt.Time.UTC()
		record.RevokedAt = &value
	}
	record.ReplacedBy = replacedBy.String
	return record, nil
}

func (s *PostgresStore) GetRefreshToken(ctx context.Context, tokenHash string) (RefreshTokenRecord, error) {
	record, err := scanRefreshToken(s.db.QueryRowContext(ctx,
		`SELECT `+refreshColumns+` FROM auth_refresh_tokens WHERE token_hash = $1`, tokenHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RefreshTokenRecord{}, ErrInvalidToken
		}
		return RefreshTokenRecord{}, fmt.Errorf("read refresh token: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) RotateRefreshToken(ctx context.Context, oldHash string, now time.Time, next func(old RefreshTokenRecord) (RefreshTokenRecord, error)) (RefreshTokenRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RefreshTokenRecord{}, fmt.Errorf("begin refresh rotation tx: %w", err)
	}
	defer tx.Rollback()

	old, err := scanRefreshToken(tx.QueryRowContext(ctx,
		`SELECT `+refreshColumns+` FROM auth_refresh_tokens WHERE token_hash = $1 FOR UPDATE`, oldHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RefreshTokenRecord{}, ErrInvalidToken
		}
		return RefreshTokenRecord{}, fmt.Errorf("read refresh token: %w", err)
	}

	if old.RevokedAt != nil && old.ReplacedBy == "" {
		return RefreshTokenRecord{}, ErrInvalidToken
	}
	if old.RevokedAt != nil {
		if _, err := tx.ExecContext(ctx, `
			UPDATE auth_refresh_tokens
			SET revoked_at = $2
			WHERE family_id = $1 AND revoked_at IS NULL
		`, old.FamilyID, now.UTC()); err != nil {
			return RefreshTokenRecord{}, fmt.Errorf("revoke token family: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return RefreshTokenRecord{}, fmt.Errorf("commit family revocation: %w", err)
		}
		return old, ErrTokenReused
	}

	if !now.Before(old.ExpiresAt) {
		return RefreshTokenRecord{}, ErrInvalidToken
	}

	replacement, err := next(old)
	if err != nil {
		return RefreshTokenRecord{}, err
	}

	if err := insertRefreshToken(ctx, tx, replacement); err != nil {
		return RefreshTokenRecord{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE auth_refresh_tokens
		SET revoked_at = $2, replaced_by = $3
		WHERE id = $1
	`, old.ID, now.UTC(), replacement.ID); err != nil {
		return RefreshTokenRecord{}, fmt.Errorf("revoke old refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return RefreshTokenRecord{}, fmt.Errorf("commit refresh rotation tx: %w", err)
	}

	return replacement, nil
}

func (s *PostgresStore) RevokeRefreshToken(ctx context.Context, tokenHash string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE auth_refresh_tokens
		SET revoked_at = COALESCE(revoked_at, $2)
		WHERE token_hash = $1
	`, tokenHash, now.UTC())
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeUserRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE auth_refresh_tokens
		SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoked refresh tokens rows affected: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) DeleteStaleRefreshTokens(ctx context.Context, revokedBefore time.Time, batchSize int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM auth_refresh_tokens
			WHERE expires_at < NOW() OR (revoked_at IS NOT NULL AND revoked_at < $1)
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM auth_refresh_tokens t
		USING stale
		WHERE t.id = stale.id
	`, revokedBefore.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale refresh tokens rows affected: %w", err)
	}

	return affected, nil
}
