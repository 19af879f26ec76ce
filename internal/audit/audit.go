// Package audit keeps an append-only log of security-relevant actions.
package audit

import (
	"context"
	"time"
)

const (
	ActionRegister        = "register"
	ActionLogin           = "login"
	ActionLoginLocked     = "login_locked"
	ActionLogout          = "logout"
	ActionLogoutAll       = "logout_all"
	ActionTokenRefresh    = "token_refresh"
	ActionTokenReuse      = "refresh_token_reuse"
	ActionPasswordChange  = "password_change"
	ActionTwoFactorSetup  = "2fa_setup"
	ActionTwoFactorEnable = "2fa_enable"
	ActionTwoFactorLogin  = "2fa_login"
	ActionTwoFactorOff    = "2fa_disable"
	ActionBackupCodesNew  = "2fa_backup_codes_regenerate"
	ActionBootstrapAdmin  = "bootstrap_admin"
)

type Entry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId,omitempty"`
	Email     string    `json:"email,omitempty"`
	Action    string    `json:"action"`
	Success   bool      `json:"success"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Filter struct {
	UserID string
	Action string
	Limit  int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (f Filter) normalizedLimit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	if f.Limit > maxListLimit {
		return maxListLimit
	}
	return f.Limit
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

type Lister interface {
	List(ctx context.Context, filter Filter) ([]Entry, error)
}

type Store interface {
	Recorder
	Lister
}
