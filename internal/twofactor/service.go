// Package twofactor implements TOTP enrolment and verification with
// single-use backup codes.
package twofactor

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"trainerhub-auth/internal/audit"
	"trainerhub-auth/internal/auth"
	"trainerhub-auth/internal/observability"
)

var (
	ErrAlreadyEnabled  = errors.New("two-factor authentication is already enabled")
	ErrNotPending      = errors.New("two-factor setup has not been started")
	ErrNotEnabled      = errors.New("two-factor authentication is not enabled")
	ErrInvalidCode     = errors.New("invalid two-factor code")
	ErrInvalidPassword = errors.New("invalid password")
)

const (
	totpPeriod      = 30
	totpSkew        = 1
	totpDigits      = otp.DigitsSix
	totpAlgorithm   = otp.AlgorithmSHA1
	defaultCodes    = 10
	backupCodeAlpha = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// PasswordVerifier re-authenticates a signed-in user. auth.Service satisfies it.
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, userID, password string) error
}

type Settings struct {
	Issuer          string
	BackupCodeCount int
}

type Service struct {
	store     Store
	passwords PasswordVerifier
	audit     audit.Recorder
	logger    *observability.Logger
	tracer    trace.Tracer
	issuer    string
	codeCount int
	now       func() time.Time
}

func NewService(store Store, passwords PasswordVerifier, recorder audit.Recorder, logger *observability.Logger, settings Settings) *Service {
	count := settings.BackupCodeCount
	if count <= 0 {
		count = defaultCodes
	}
	issuer := strings.TrimSpace(settings.Issuer)
	if issuer == "" {
		issuer = "TrainerHub"
	}

	return &Service{
		store:     store,
		passwords: passwords,
		audit:     recorder,
		logger:    logger,
		tracer:    observability.Tracer(),
		issuer:    issuer,
		codeCount: count,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Enrollment is returned once by Setup; the secret and codes are never shown
// again.
type Enrollment struct {
	Secret      string   `json:"secret"`
	URI         string   `json:"uri"`
	BackupCodes []string `json:"backupCodes"`
}

func (s *Service) Status(ctx context.Context, userID string) (Status, error) {
	state, err := s.store.GetState(ctx, userID)
	if err != nil {
		return "", err
	}
	return state.Status(), nil
}

// Setup starts enrolment. Calling it again while pending replaces the pending
// secret and the backup codes.
func (s *Service) Setup(ctx context.Context, userID string, meta auth.RequestMeta) (Enrollment, error) {
	ctx, span := s.tracer.Start(ctx, "twofactor.Setup", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	state, err := s.store.GetState(ctx, userID)
	if err != nil {
		return Enrollment{}, err
	}
	if state.Enabled {
		return Enrollment{}, ErrAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: state.Email,
		Period:      totpPeriod,
		Digits:      totpDigits,
		Algorithm:   totpAlgorithm,
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("generate totp secret: %w", err)
	}

	codes, hashes, err := s.newBackupCodes()
	if err != nil {
		return Enrollment{}, err
	}

	if err := s.store.BeginSetup(ctx, userID, key.Secret(), hashes, s.now()); err != nil {
		return Enrollment{}, err
	}

	s.record(ctx, audit.Entry{UserID: userID, Email: state.Email, Action: audit.ActionTwoFactorSetup, Success: true}, meta)
	return Enrollment{Secret: key.Secret(), URI: key.URL(), BackupCodes: codes}, nil
}

// VerifyAndEnable checks a code against the pending secret and, on success,
// makes it the active secret.
func (s *Service) VerifyAndEnable(ctx context.Context, userID, code string, meta auth.RequestMeta) error {
	ctx, span := s.tracer.Start(ctx, "twofactor.VerifyAndEnable", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	state, err := s.store.GetState(ctx, userID)
	if err != nil {
		return err
	}
	if state.Status() != StatusPendingSetup {
		return ErrNotPending
	}

	if !s.validTOTP(code, state.PendingSecret) {
		s.record(ctx, audit.Entry{UserID: userID, Email: state.Email, Action: audit.ActionTwoFactorEnable, Detail: "invalid code"}, meta)
		return ErrInvalidCode
	}

	if err := s.store.Enable(ctx, userID, s.now()); err != nil {
		return err
	}

	s.record(ctx, audit.Entry{UserID: userID, Email: state.Email, Action: audit.ActionTwoFactorEnable, Success: true}, meta)
	return nil
}

// VerifyLogin accepts a current TOTP code or an unused backup code. A backup
// code is consumed by the call that accepts it.
func (s *Service) VerifyLogin(ctx context.Context, userID, code string, meta auth.RequestMeta) error {
	ctx, span := s.tracer.Start(ctx, "twofactor.VerifyLogin", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	state, err := s.store.GetState(ctx, userID)
	if err != nil {
		return err
	}
	if !state.Enabled {
		return ErrNotEnabled
	}

	if s.validTOTP(code, state.Secret) {
		return nil
	}

	normalized, ok := normalizeBackupCode(code)
	if ok {
		consumed, err := s.store.ConsumeBackupCode(ctx, userID, hashBackupCode(normalized), s.now())
		if err != nil {
			return err
		}
		if consumed {
			span.SetAttributes(attribute.Bool("twofactor.backup_code", true))
			s.logger.Info("backup_code_used", map[string]any{"user_id": userID})
			return nil
		}
	}

	s.record(ctx, audit.Entry{UserID: userID, Email: state.Email, Action: audit.ActionTwoFactorLogin, Detail: "invalid code"}, meta)
	return ErrInvalidCode
}

// Disable turns off an enabled or pending enrollment. Users without one get
// ErrNotEnabled.
func (s *Service) Disable(ctx context.Context, userID, password string, meta auth.RequestMeta) error {
	state, err := s.store.GetState(ctx, userID)
	if err != nil {
		return err
	}
	if state.Status() == StatusDisabled {
		return ErrNotEnabled
	}

	if err := s.checkPassword(ctx, userID, password); err != nil {
		if errors.Is(err, ErrInvalidPassword) {
			s.record(ctx, audit.Entry{UserID: userID, Email: state.Email, Action: audit.ActionTwoFactorOff, Detail: "wrong password"}, meta)
		}
		return err
	}

	if err := s.store.Disable(ctx, userID, s.now()); err != nil {
		return err
	}

	s.record(ctx, audit.Entry{UserID: userID, Email: state.Email, Action: audit.ActionTwoFactorOff, Success: true}, meta)
	return nil
}

func (s *Service) RegenerateBackupCodes(ctx context.Context, userID, password string, meta auth.RequestMeta) ([]string, error) {
	state, err := s.store.GetState(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !state.Enabled {
		return nil, ErrNotEnabled
	}

	if err := s.checkPassword(ctx, userID, password); err != nil {
		return nil, err
	}

	codes, hashes, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := s.store.ReplaceBackupCodes(ctx, userID, hashes, s.now()); err != nil {
		return nil, err
	}

	s.record(ctx, audit.Entry{UserID: userID, Email: state.Email, Action: audit.ActionBackupCodesNew, Success: true}, meta)
	return codes, nil
}

// BackupCodeCount returns the number of unused backup codes.
func (s *Service) BackupCodeCount(ctx context.Context, userID string) (int, error) {
	state, err := s.store.GetState(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !state.Enabled {
		return 0, ErrNotEnabled
	}
	return s.store.CountBackupCodes(ctx, userID)
}

func (s *Service) checkPassword(ctx context.Context, userID, password string) error {
	if password == "" {
		return ErrInvalidPassword
	}
	if err := s.passwords.VerifyPassword(ctx, userID, password); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return ErrInvalidPassword
		}
		return err
	}
	return nil
}

func (s *Service) validTOTP(code, secret string) bool {
	code = strings.TrimSpace(code)
	if secret == "" || len(code) != int(totpDigits) {
		return false
	}

	ok, err := totp.ValidateCustom(code, secret, s.now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    totpDigits,
		Algorithm: totpAlgorithm,
	})
	return err == nil && ok
}

func (s *Service) newBackupCodes() ([]string, []string, error) {
	codes := make([]string, 0, s.codeCount)
	hashes := make([]string, 0, s.codeCount)
	for range s.codeCount {
		code, err := generateBackupCode()
		if err != nil {
			return nil, nil, err
		}
		codes = append(codes, code)
		hashes = append(hashes, hashBackupCode(code))
	}
	return codes, hashes, nil
}

// generateBackupCode returns a code shaped XXXX-XXXX.
func generateBackupCode() (string, error) {
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate backup code: %w", err)
	}

	var b strings.Builder
	for i, v := range raw {
		if i == 4 {
			b.WriteByte('-')
		}
		b.WriteByte(backupCodeAlpha[int(v)%len(backupCodeAlpha)])
	}
	return b.String(), nil
}

// normalizeBackupCode accepts codes typed in any case, with or without the
// dash.
func normalizeBackupCode(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, " ", "")
	code = strings.ReplaceAll(code, "-", "")
	if len(code) != 8 {
		return "", false
	}
	return code[:4] + "-" + code[4:], true
}

func hashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func (s *Service) record(ctx context.Context, entry audit.Entry, meta auth.RequestMeta) {
	if s.audit == nil {
		return
	}
	entry.IP = meta.IP
	entry.UserAgent = meta.UserAgent
	entry.CreatedAt = s.now()
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Error("audit_record_failed", map[string]any{"action": entry.Action, "error": err.Error()})
	}
}
