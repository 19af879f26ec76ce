package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleClient  Role = "CLIENT"
	RoleTrainer Role = "TRAINER"
	RoleAdmin   Role = "ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleTrainer, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID                     string
	Email                  string
	PasswordHash           string
	Role                   Role
	Active                 bool
	FailedLoginAttempts    int
	LockedUntil            *time.Time
	TwoFactorSecret        string
	TwoFactorPendingSecret string
	TwoFactorEnabled       bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// PublicUser is the user shape returned to clients.
type PublicUser struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Role             Role      `json:"role"`
	TwoFactorEnabled bool      `json:"twoFactorEnabled"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:               u.ID,
		Email:            u.Email,
		Role:             u.Role,
		TwoFactorEnabled: u.TwoFactorEnabled,
		CreatedAt:        u.CreatedAt,
	}
}

const (
	TokenTypeAccess    = "access"
	TokenTypeChallenge = "2fa_challenge"
)

// AccessPayload is the caller-supplied part of an access token.
type AccessPayload struct {
	UserID   string
	Email    string
	Role     Role
	DeviceID string
}

type AccessClaims struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	DeviceID  string `json:"deviceId,omitempty"`
	TokenType string `json:"tokenType"`
	jwt.RegisteredClaims
}

func (c AccessClaims) Payload() AccessPayload {
	return AccessPayload{UserID: c.UserID, Email: c.Email, Role: c.Role, DeviceID: c.DeviceID}
}

// ChallengeClaims bind the second login step to a user that already passed the
// password check.
type ChallengeClaims struct {
	UserID     string `json:"userId"`
	RememberMe bool   `json:"rememberMe,omitempty"`
	DeviceID   string `json:"deviceId,omitempty"`
	TokenType  string `json:"tokenType"`
	jwt.RegisteredClaims
}

type RefreshTokenRecord struct {
	ID         string
	UserID     string
	FamilyID   string
	TokenHash  string
	RememberMe bool
	DeviceID   string
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy string
	CreatedAt  time.Time
}

// Session is the result of a completed login or refresh.
type Session struct {
	User             User
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	RememberMe       bool
}

type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

func (s Session) Tokens(accessTTL time.Duration) Tokens {
	return Tokens{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(accessTTL.Seconds()),
	}
}

// RequestMeta carries the client details recorded in the audit log.
type RequestMeta struct {
	IP        string
	UserAgent string
}

type LoginFailure struct {
	FailedAttempts int
	LockedUntil    *time.Time
}
