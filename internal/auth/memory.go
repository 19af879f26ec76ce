package auth

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. Each method holds one lock, which
// gives the same per-record atomicity the Postgres store gets from row locks.
type MemoryStore struct {
	mu            sync.Mutex
	users         map[string]User
	idByEmail     map[string]string
	refreshTokens map[string]RefreshTokenRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]User),
		idByEmail:     make(map[string]string),
		refreshTokens: make(map[string]RefreshTokenRecord),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.idByEmail[user.Email]; exists {
		return ErrEmailTaken
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}
	s.users[user.ID] = user
	s.idByEmail[user.Email] = user.ID
	return nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.idByEmail[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return s.users[id], nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

// UpdateUser applies fn to the stored user under the store lock.
func (s *MemoryStore) UpdateUser(_ context.Context, id string, fn func(*User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	if err := fn(&user); err != nil {
		return err
	}
	s.users[id] = user
	return nil
}

func (s *MemoryStore) RegisterFailedLogin(_ context.Context, userID string, maxAttempts int, lockDuration time.Duration, now time.Time) (LoginFailure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return LoginFailure{}, ErrUserNotFound
	}

	if user.LockedUntil != nil && now.Before(*user.LockedUntil) {
		until := *user.LockedUntil
		return LoginFailure{FailedAttempts: user.FailedLoginAttempts, LockedUntil: &until}, nil
	}

	user.FailedLoginAttempts++
	result := LoginFailure{FailedAttempts: user.FailedLoginAttempts}
	user.LockedUntil = nil
	if user.FailedLoginAttempts >= maxAttempts {
		until := now.UTC().Add(lockDuration)
		result.LockedUntil = &until
		user.LockedUntil = &until
		user.FailedLoginAttempts = 0
	}
	user.UpdatedAt = now.UTC()
	s.users[userID] = user

	return result, nil
}

func (s *MemoryStore) ResetFailedLogins(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	s.users[userID] = user
	return nil
}

func (s *MemoryStore) UpdatePassword(_ context.Context, userID, passwordHash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = now.UTC()
	s.users[userID] = user
	return nil
}

func (s *MemoryStore) CreateRefreshToken(_ context.Context, record RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[record.TokenHash] = record
	return nil
}

func (s *MemoryStore) GetRefreshToken(_ context.Context, tokenHash string) (RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.refreshTokens[tokenHash]
	if !ok {
		return RefreshTokenRecord{}, ErrInvalidToken
	}
	return record, nil
}

func (s *MemoryStore) RotateRefreshToken(_ context.Context, oldHash string, now time.Time, next func(old RefreshTokenRecord) (RefreshTokenRecord, error)) (RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.refreshTokens[oldHash]
	if !ok {
		return RefreshTokenRecord{}, ErrInvalidToken
	}

	if old.RevokedAt != nil && old.ReplacedBy == "" {
		return RefreshTokenRecord{}, ErrInvalidToken
	}
	if old.RevokedAt != nil {
		for hash, record := range s.refreshTokens {
			if record.FamilyID == old.FamilyID && record.RevokedAt == nil {
				revokedAt := now.UTC()
				record.RevokedAt = &revokedAt
				s.refreshTokens[hash] = record
			}
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

	revokedAt := now.UTC()
	old.RevokedAt = &revokedAt
	old.ReplacedBy = replacement.ID
	s.refreshTokens[oldHash] = old
	s.refreshTokens[replacement.TokenHash] = replacement

	return replacement, nil
}

func (s *MemoryStore) RevokeRefreshToken(_ context.Context, tokenHash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.refreshTokens[tokenHash]
	if !ok || record.RevokedAt != nil {
		return nil
	}
	revokedAt := now.UTC()
	record.RevokedAt = &revokedAt
	s.refreshTokens[tokenHash] = record
	return nil
}

func (s *MemoryStore) RevokeUserRefreshTokens(_ context.Context, userID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var revoked int64
	for hash, record := range s.refreshTokens {
		if record.UserID != userID || record.RevokedAt != nil {
			continue
		}
		revokedAt := now.UTC()
		record.RevokedAt = &revokedAt
		s.refreshTokens[hash] = record
		revoked++
	}
	return revoked, nil
}

func (s *MemoryStore) DeleteStaleRefreshTokens(_ context.Context, revokedBefore time.Time, batchSize int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	stale := make([]RefreshTokenRecord, 0)
	for _, record := range s.refreshTokens {
		if record.ExpiresAt.Before(now) || (record.RevokedAt != nil && record.RevokedAt.Before(revokedBefore)) {
			stale = append(stale, record)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	if batchSize > 0 && len(stale) > batchSize {
		stale = stale[:batchSize]
	}

	for _, record := range stale {
		delete(s.refreshTokens, record.TokenHash)
	}
	return int64(len(stale)), nil
}
