package auth

import (
	"context"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"trainerhub-auth/internal/audit"
	"trainerhub-auth/internal/observability"
)

const testSigningSecret = "test-signing-secret-0123456789abcdef"

type testEnv struct {
	store   *MemoryStore
	audit   *audit.MemoryStore
	tokens  *TokenIssuer
	service *Service
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store: NewMemoryStore(),
		audit: audit.NewMemoryStore(),
		now:   time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	env.tokens = NewTokenIssuer(testSigningSecret, env.store, TokenConfig{})
	env.service = NewService(env.store, env.tokens, env.audit, observability.NopLogger(), Settings{
		MaxFailedAttempts: 5,
		LockoutDuration:   15 * time.Minute,
		BcryptCost:        bcrypt.MinCost,
	}).WithClock(func() time.Time { return env.now })
	return env
}

func (e *testEnv) advance(d time.Duration) {
	e.now = e.now.Add(d)
}

// seedUser stores a user with a precomputed hash of password.
func (e *testEnv) seedUser(t *testing.T, id, email, password string, role Role) User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := User{
		ID:           id,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
		CreatedAt:    e.now,
	}
	if err := e.store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return user
}

func auditFilter(userID, action string) audit.Filter {
	return audit.Filter{UserID: userID, Action: action}
}
