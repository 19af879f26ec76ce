package twofactor

import (
	"context"
	"time"
)

type Status string

const (
	StatusDisabled     Status = "DISABLED"
	StatusPendingSetup Status = "PENDING_SETUP"
	StatusEnabled      Status = "ENABLED"
)

// State is the two-factor view of a user row.
type State struct {
	UserID        string
	Email         string
	Enabled       bool
	Secret        string
	PendingSecret string
}

func (s State) Status() Status {
	switch {
	case s.Enabled:
		return StatusEnabled
	case s.PendingSecret != "":
		return StatusPendingSetup
	default:
		return StatusDisabled
	}
}

type Store interface {
	GetState(ctx context.Context, userID string) (State, error)
	// BeginSetup stores the pending secret and replaces the backup codes.
	BeginSetup(ctx context.Context, userID, pendingSecret string, codeHashes []string, now time.Time) error
	// Enable promotes the pending secret to the active one.
	Enable(ctx context.Context, userID string, now time.Time) error
	// Disable clears both secrets and deletes every backup code.
	Disable(ctx context.Context, userID string, now time.Time) error
	ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string, now time.Time) error
	// ConsumeBackupCode marks an unused code as used and reports whether one
	// matched.
	ConsumeBackupCode(ctx context.Context, userID, codeHash string, now time.Time) (bool, error)
	CountBackupCodes(ctx context.Context, userID string) (int, error)
}
