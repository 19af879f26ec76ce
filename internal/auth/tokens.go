package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultAccessTTL     = time.Hour
	defaultRefreshTTL    = 7 * 24 * time.Hour
	defaultRememberMeTTL = 30 * 24 * time.Hour
	defaultChallengeTTL  = 5 * time.Minute

	refreshTokenBytes = 48
	tokenIssuer       = "trainerhub-auth"
)

type TokenConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RememberMeTTL time.Duration
	ChallengeTTL  time.Duration
}

// TokenIssuer signs and verifies access and challenge JWTs (HS256) and manages
// the persisted refresh tokens.
type TokenIssuer struct {
	secret        []byte
	store         Store
	accessTTL     time.Duration
	refreshTTL    time.Duration
	rememberMeTTL time.Duration
	challengeTTL  time.Duration
	now           func() time.Time
}

func NewTokenIssuer(secret string, store Store, cfg TokenConfig) *TokenIssuer {
	issuer := &TokenIssuer{
		secret:        []byte(secret),
		store:         store,
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		rememberMeTTL: defaultRememberMeTTL,
		challengeTTL:  defaultChallengeTTL,
		now:           func() time.Time { return time.Now().UTC() },
	}
	if cfg.AccessTTL > 0 {
		issuer.accessTTL = cfg.AccessTTL
	}
	if cfg.RefreshTTL > 0 {
		issuer.refreshTTL = cfg.RefreshTTL
	}
	if cfg.RememberMeTTL > 0 {
		issuer.rememberMeTTL = cfg.RememberMeTTL
	}
	if cfg.ChallengeTTL > 0 {
		issuer.challengeTTL = cfg.ChallengeTTL
	}
	return issuer
}

func (t *TokenIssuer) AccessTTL() time.Duration { return t.accessTTL }

// RefreshTTL is the refresh lifetime for the given remember-me choice.
func (t *TokenIssuer) RefreshTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return t.rememberMeTTL
	}
	return t.refreshTTL
}

func (t *TokenIssuer) IssueAccessToken(payload AccessPayload) (string, AccessClaims, error) {
	now := t.now()
	claims := AccessClaims{
		UserID:    payload.UserID,
		Email:     payload.Email,
		Role:      payload.Role,
		DeviceID:  payload.DeviceID,
		TokenType: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   payload.UserID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", AccessClaims{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, claims, nil
}

// Verify validates an access token. A token is expired from its exp second on.
func (t *TokenIssuer) Verify(token string) (AccessClaims, error) {
	var claims AccessClaims
	if err := t.parse(token, &claims); err != nil {
		return AccessClaims{}, err
	}
	if claims.TokenType != TokenTypeAccess || claims.UserID == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	return claims, nil
}

func (t *TokenIssuer) IssueChallenge(userID string, rememberMe bool, deviceID string) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.challengeTTL)
	claims := ChallengeClaims{
		UserID:     userID,
		RememberMe: rememberMe,
		DeviceID:   deviceID,
		TokenType:  TokenTypeChallenge,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign challenge token: %w", err)
	}
	return signed, expiresAt, nil
}

func (t *TokenIssuer) VerifyChallenge(token string) (ChallengeClaims, error) {
	var claims ChallengeClaims
	if err := t.parse(token, &claims); err != nil {
		return ChallengeClaims{}, err
	}
	if claims.TokenType != TokenTypeChallenge || claims.UserID == "" {
		return ChallengeClaims{}, ErrInvalidToken
	}
	return claims, nil
}

func (t *TokenIssuer) parse(token string, claims jwt.Claims) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrInvalidToken
	}
	if !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}

// IssueRefreshToken persists a new refresh token starting a new family and
// returns the raw value.
func (t *TokenIssuer) IssueRefreshToken(ctx context.Context, userID string, rememberMe bool, deviceID string) (string, RefreshTokenRecord, error) {
	raw, record, err := t.newRefreshRecord(userID, "", rememberMe, deviceID)
	if err != nil {
		return "", RefreshTokenRecord{}, err
	}
	if err := t.store.CreateRefreshToken(ctx, record); err != nil {
		return "", RefreshTokenRecord{}, err
	}
	return raw, record, nil
}

func (t *TokenIssuer) newRefreshRecord(userID, familyID string, rememberMe bool, deviceID string) (string, RefreshTokenRecord, error) {
	raw, err := randomToken(refreshTokenBytes)
	if err != nil {
		return "", RefreshTokenRecord{}, fmt.Errorf("generate refresh token: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", RefreshTokenRecord{}, fmt.Errorf("generate refresh token id: %w", err)
	}
	if familyID == "" {
		familyID = id.String()
	}

	now := t.now()
	return raw, RefreshTokenRecord{
		ID:         id.String(),
		UserID:     userID,
		FamilyID:   familyID,
		TokenHash:  hashToken(raw),
		RememberMe: rememberMe,
		DeviceID:   deviceID,
		ExpiresAt:  now.Add(t.RefreshTTL(rememberMe)),
		CreatedAt:  now,
	}, nil
}

// Refresh exchanges a refresh token for a new access token and a rotated
// refresh token in the same family. The user record is re-read so role
// changes and deactivation take effect.
func (t *TokenIssuer) Refresh(ctx context.Context, rawRefresh string) (Session, error) {
	rawRefresh = strings.TrimSpace(rawRefresh)
	if rawRefresh == "" {
		return Session{}, ErrInvalidToken
	}
	tokenHash := hashToken(rawRefresh)

	current, err := t.store.GetRefreshToken(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	user, err := t.store.GetUserByID(ctx, current.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Session{}, ErrInvalidToken
		}
		return Session{}, err
	}
	if !user.Active {
		return Session{}, ErrInvalidToken
	}

	var newRaw string
	record, err := t.store.RotateRefreshToken(ctx, tokenHash, t.now(), func(old RefreshTokenRecord) (RefreshTokenRecord, error) {
		raw, next, err := t.newRefreshRecord(old.UserID, old.FamilyID, old.RememberMe, old.DeviceID)
		if err != nil {
			return RefreshTokenRecord{}, err
		}
		newRaw = raw
		return next, nil
	})
	if err != nil {
		return Session{User: user}, err
	}

	access, claims, err := t.IssueAccessToken(AccessPayload{
		UserID:   user.ID,
		Email:    user.Email,
		Role:     user.Role,
		DeviceID: record.DeviceID,
	})
	if err != nil {
		return Session{}, err
	}

	return Session{
		User:             user,
		AccessToken:      access,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshToken:     newRaw,
		RefreshExpiresAt: record.ExpiresAt,
		RememberMe:       record.RememberMe,
	}, nil
}

func (t *TokenIssuer) Revoke(ctx context.Context, rawRefresh string) error {
	rawRefresh = strings.TrimSpace(rawRefresh)
	if rawRefresh == "" {
		return ErrInvalidToken
	}
	return t.store.RevokeRefreshToken(ctx, hashToken(rawRefresh), t.now())
}

func (t *TokenIssuer) RevokeAll(ctx context.Context, userID string) (int64, error) {
	return t.store.RevokeUserRefreshTokens(ctx, userID, t.now())
}

// Owner returns the user a refresh token was issued to, revoked or not.
func (t *TokenIssuer) Owner(ctx context.Context, rawRefresh string) (string, error) {
	record, err := t.store.GetRefreshToken(ctx, hashToken(strings.TrimSpace(rawRefresh)))
	if err != nil {
		return "", err
	}
	return record.UserID, nil
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
