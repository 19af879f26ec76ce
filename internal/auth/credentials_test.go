package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestVerifyResetsFailureCounter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", "trainer@test.com", "123456", RoleTrainer)

	for i := 0; i < 3; i++ {
		if _, err := env.service.credentials.Verify(ctx, "trainer@test.com", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d error = %v, want ErrInvalidCredentials", i+1, err)
		}
	}
	stored, _ := env.store.GetUserByID(ctx, "u1")
	if stored.FailedLoginAttempts != 3 {
		t.Fatalf("FailedLoginAttempts = %d, want 3", stored.FailedLoginAttempts)
	}

	user, err := env.service.credentials.Verify(ctx, "trainer@test.com", "123456")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if user.ID != "u1" || user.Role != RoleTrainer {
		t.Errorf("Verify() user = %+v", user)
	}
	stored, _ = env.store.GetUserByID(ctx, "u1")
	if stored.FailedLoginAttempts != 0 {
		t.Errorf("FailedLoginAttempts = %d, want 0", stored.FailedLoginAttempts)
	}
}

func TestVerifyLocksAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", "client@test.com", "correct-horse", RoleClient)

	for i := 0; i < 4; i++ {
		if _, err := env.service.credentials.Verify(ctx, "client@test.com", "nope"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d error = %v, want ErrInvalidCredentials", i+1, err)
		}
	}

	_, err := env.service.credentials.Verify(ctx, "client@test.com", "nope")
	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("fifth attempt error = %v, want *LockedError", err)
	}
	if want := env.now.Add(15 * time.Minute); !locked.Until.Equal(want) {
		t.Errorf("Until = %v, want %v", locked.Until, want)
	}
	if locked.RetryAfter() != 15*time.Minute {
		t.Errorf("RetryAfter = %v, want 15m", locked.RetryAfter())
	}
	if locked.Message() != "Account is locked. Try again in 15 minutes." {
		t.Errorf("Message = %q", locked.Message())
	}

	env.advance(14 * time.Minute)
	if _, err := env.service.credentials.Verify(ctx, "client@test.com", "correct-horse"); !errors.As(err, &locked) {
		t.Fatalf("correct password while locked error = %v, want *LockedError", err)
	}
	if locked.Message() != "Account is locked. Try again in 1 minute." {
		t.Errorf("Message = %q", locked.Message())
	}

	env.advance(time.Minute)
	if _, err := env.service.credentials.Verify(ctx, "client@test.com", "correct-horse"); err != nil {
		t.Fatalf("Verify() after lockout error = %v", err)
	}
	stored, _ := env.store.GetUserByID(ctx, "u1")
	if stored.LockedUntil != nil || stored.FailedLoginAttempts != 0 {
		t.Errorf("lockout not cleared: %+v", stored)
	}
}

func TestVerifyErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", "active@test.com", "123456", RoleClient)
	env.seedUser(t, "u2", "inactive@test.com", "123456", RoleClient)
	if err := env.store.UpdateUser(ctx, "u2", func(u *User) error {
		u.Active = false
		return nil
	}); err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{name: "unknown email", email: "ghost@test.com", password: "123456", wantErr: ErrUserNotFound},
		{name: "wrong password", email: "active@test.com", password: "654321", wantErr: ErrInvalidCredentials},
		{name: "inactive account", email: "inactive@test.com", password: "123456", wantErr: ErrAccountDisabled},
		{name: "inactive account wrong password", email: "inactive@test.com", password: "000000", wantErr: ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.credentials.Verify(ctx, tt.email, tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyPasswordDoesNotCountFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", "trainer@test.com", "123456", RoleTrainer)

	for i := 0; i < 6; i++ {
		if err := env.service.VerifyPassword(ctx, "u1", "bad-password"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("VerifyPassword() error = %v", err)
		}
	}
	if err := env.service.VerifyPassword(ctx, "u1", "123456"); err != nil {
		t.Errorf("VerifyPassword() error = %v", err)
	}
}
