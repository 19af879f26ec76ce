package auth

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultMaxAttempts = 5
	defaultLockWindow  = 15 * time.Minute
)

// dummyHash is compared against when the email is unknown so that lookups of
// missing accounts take as long as real ones.
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z3TTBZ/1xbM3SSc9dbX8w7Uu")

// CredentialVerifier checks email/password pairs and maintains the per-user
// failure counter and lockout.
type CredentialVerifier struct {
	users        UserStore
	maxAttempts  int
	lockDuration time.Duration
	now          func() time.Time
}

func NewCredentialVerifier(users UserStore, maxAttempts int, lockDuration time.Duration) *CredentialVerifier {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if lockDuration <= 0 {
		lockDuration = defaultLockWindow
	}

	return &CredentialVerifier{
		users:        users,
		maxAttempts:  maxAttempts,
		lockDuration: lockDuration,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Verify returns ErrUserNotFound, *LockedError, ErrInvalidCredentials or
// ErrAccountDisabled. Callers must not expose ErrUserNotFound to clients.
func (v *CredentialVerifier) Verify(ctx context.Context, email, password string) (User, error) {
	user, err := v.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		}
		return User{}, err
	}

	now := v.now()
	if user.LockedUntil != nil && now.Before(*user.LockedUntil) {
		return User{}, &LockedError{Until: *user.LockedUntil, now: now}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		failure, regErr := v.users.RegisterFailedLogin(ctx, user.ID, v.maxAttempts, v.lockDuration, now)
		if regErr != nil {
			return User{}, regErr
		}
		if failure.LockedUntil != nil {
			return User{}, &LockedError{Until: *failure.LockedUntil, now: now}
		}
		return User{}, ErrInvalidCredentials
	}

	if user.FailedLoginAttempts != 0 || user.LockedUntil != nil {
		if err := v.users.ResetFailedLogins(ctx, user.ID); err != nil {
			return User{}, err
		}
		user.FailedLoginAttempts = 0
		user.LockedUntil = nil
	}

	if !user.Active {
		return User{}, ErrAccountDisabled
	}

	return user, nil
}

// VerifyPassword re-checks the password of a known user without touching the
// failure counter.
func (v *CredentialVerifier) VerifyPassword(ctx context.Context, userID, password string) (User, error) {
	user, err := v.users.GetUserByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}
