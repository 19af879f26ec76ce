package twofactor

import (
	"context"
	"sync"
	"time"

	"trainerhub-auth/internal/auth"
)

type memoryCode struct {
	hash   string
	usedAt *time.Time
}

// MemoryStore keeps two-factor columns on the shared auth.MemoryStore users and
// the backup codes in its own map.
type MemoryStore struct {
	users *auth.MemoryStore

	mu    sync.Mutex
	codes map[string][]memoryCode
}

func NewMemoryStore(users *auth.MemoryStore) *MemoryStore {
	return &MemoryStore{users: users, codes: make(map[string][]memoryCode)}
}

func (s *MemoryStore) GetState(ctx context.Context, userID string) (State, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return State{}, err
	}
	return State{
		UserID:        user.ID,
		Email:         user.Email,
		Enabled:       user.TwoFactorEnabled,
		Secret:        user.TwoFactorSecret,
		PendingSecret: user.TwoFactorPendingSecret,
	}, nil
}

func (s *MemoryStore) BeginSetup(ctx context.Context, userID, pendingSecret string, codeHashes []string, now time.Time) error {
	err := s.users.UpdateUser(ctx, userID, func(user *auth.User) error {
		if user.TwoFactorEnabled {
			return ErrAlreadyEnabled
		}
		user.TwoFactorPendingSecret = pendingSecret
		user.UpdatedAt = now.UTC()
		return nil
	})
	if err != nil {
		return err
	}
	return s.ReplaceBackupCodes(ctx, userID, codeHashes, now)
}

func (s *MemoryStore) Enable(ctx context.Context, userID string, now time.Time) error {
	return s.users.UpdateUser(ctx, userID, func(user *auth.User) error {
		if user.TwoFactorEnabled || user.TwoFactorPendingSecret == "" {
			return ErrNotPending
		}
		user.TwoFactorSecret = user.TwoFactorPendingSecret
		user.TwoFactorPendingSecret = ""
		user.TwoFactorEnabled = true
		user.UpdatedAt = now.UTC()
		return nil
	})
}

func (s *MemoryStore) Disable(ctx context.Context, userID string, now time.Time) error {
	err := s.users.UpdateUser(ctx, userID, func(user *auth.User) error {
		user.TwoFactorSecret = ""
		user.TwoFactorPendingSecret = ""
		user.TwoFactorEnabled = false
		user.UpdatedAt = now.UTC()
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.codes, userID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ReplaceBackupCodes(_ context.Context, userID string, codeHashes []string, _ time.Time) error {
	codes := make([]memoryCode, 0, len(codeHashes))
	for _, hash := range codeHashes {
		codes = append(codes, memoryCode{hash: hash})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[userID] = codes
	return nil
}

func (s *MemoryStore) ConsumeBackupCode(_ context.Context, userID, codeHash string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	codes := s.codes[userID]
	for i := range codes {
		if codes[i].hash == codeHash && codes[i].usedAt == nil {
			usedAt := now.UTC()
			codes[i].usedAt = &usedAt
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) CountBackupCodes(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, code := range s.codes[userID] {
		if code.usedAt == nil {
			count++
		}
	}
	return count, nil
}
