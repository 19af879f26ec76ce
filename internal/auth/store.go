package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ErrTokenReused marks presentation of an already rotated refresh token. The
// store revokes the whole token family before returning it.
var ErrTokenReused = fmt.Errorf("refresh token reused: %w", ErrInvalidToken)

type UserStore interface {
	CreateUser(ctx context.Context, user User) error
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	// RegisterFailedLogin increments the failure counter atomically. Reaching
	// maxAttempts sets locked_until = now+lockDuration and zeroes the counter.
	RegisterFailedLogin(ctx context.Context, userID string, maxAttempts int, lockDuration time.Duration, now time.Time) (LoginFailure, error)
	ResetFailedLogins(ctx context.Context, userID string) error
	UpdatePassword(ctx context.Context, userID, passwordHash string, now time.Time) error
}

type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, record RefreshTokenRecord) error
	GetRefreshToken(ctx context.Context, tokenHash string) (RefreshTokenRecord, error)
	// RotateRefreshToken validates the token under a row lock and replaces it
	// with the record built by next. Unknown, revoked or expired tokens yield
	// ErrInvalidToken. A token that was already rotated (ReplacedBy set) also
	// revokes its family and yields ErrTokenReused.
	RotateRefreshToken(ctx context.Context, oldHash string, now time.Time, next func(old RefreshTokenRecord) (RefreshTokenRecord, error)) (RefreshTokenRecord, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string, now time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error)
	DeleteStaleRefreshTokens(ctx context.Context, revokedBefore time.Time, batchSize int) (int64, error)
}

type Store interface {
	UserStore
	RefreshTokenStore
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
