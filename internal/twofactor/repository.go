package twofactor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trainerhub-auth/internal/auth"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetState(ctx context.Context, userID string) (State, error) {
	state := State{UserID: userID}
	err := s.db.QueryRowContext(ctx, `
		SELECT email, two_factor_enabled, two_factor_secret, two_factor_pending_secret
		FROM users
		WHERE id = $1
	`, userID).Scan(&state.Email, &state.Enabled, &state.Secret, &state.PendingSecret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return State{}, auth.ErrUserNotFound
		}
		return State{}, fmt.Errorf("query two-factor state: %w", err)
	}
	return state, nil
}

func (s *PostgresStore) BeginSetup(ctx context.Context, userID, pendingSecret string, codeHashes []string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin two-factor setup tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE users
		SET two_factor_pending_secret = $2, updated_at = $3
		WHERE id = $1 AND two_factor_enabled = FALSE
	`, userID, pendingSecret, now.UTC())
	if err != nil {
		return fmt.Errorf("store pending secret: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrAlreadyEnabled
	}

	if err := replaceCodes(ctx, tx, userID, codeHashes, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit two-factor setup tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Enable(ctx context.Context, userID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET two_factor_secret = two_factor_pending_secret,
			two_factor_pending_secret = '',
			two_factor_enabled = TRUE,
			updated_at = $2
		WHERE id = $1 AND two_factor_pending_secret <> '' AND two_factor_enabled = FALSE
	`, userID, now.UTC())
	if err != nil {
		return fmt.Errorf("enable two-factor: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotPending
	}
	return nil
}

func (s *PostgresStore) Disable(ctx context.Context, userID string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin two-factor disable tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE users
		SET two_factor_secret = '', two_factor_pending_secret = '', two_factor_enabled = FALSE, updated_at = $2
		WHERE id = $1
	`, userID, now.UTC()); err != nil {
		return fmt.Errorf("disable two-factor: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM two_factor_backup_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete backup codes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit two-factor disable tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin backup code tx: %w", err)
	}
	defer tx.Rollback()

	if err := replaceCodes(ctx, tx, userID, codeHashes, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit backup code tx: %w", err)
	}
	return nil
}

func replaceCodes(ctx context.Context, tx *sql.Tx, userID string, codeHashes []string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM two_factor_backup_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete backup codes: %w", err)
	}

	for _, hash := range codeHashes {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate backup code id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO two_factor_backup_codes (id, user_id, code_hash, created_at)
			VALUES ($1, $2, $3, $4)
		`, id.String(), userID, hash, now.UTC()); err != nil {
			return fmt.Errorf("insert backup code: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ConsumeBackupCode(ctx context.Context, userID, codeHash string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE two_factor_backup_codes
		SET used_at = $3
		WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL
	`, userID, codeHash, now.UTC())
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consumed backup code rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) CountBackupCodes(ctx context.Context, userID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM two_factor_backup_codes WHERE user_id = $1 AND used_at IS NULL
	`, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count backup codes: %w", err)
	}
	return count, nil
}
