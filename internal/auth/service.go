package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"trainerhub-auth/internal/audit"
	"trainerhub-auth/internal/observability"
)

var emailRegex = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)

const (
	minPasswordLength = 6
	maxPasswordLength = 72
	maxDeviceIDLength = 128
)

type Settings struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	BcryptCost        int
}

type Service struct {
	store       Store
	credentials *CredentialVerifier
	tokens      *TokenIssuer
	audit       audit.Recorder
	logger      *observability.Logger
	tracer      trace.Tracer
	bcryptCost  int
	now         func() time.Time
}

func NewService(store Store, tokens *TokenIssuer, recorder audit.Recorder, logger *observability.Logger, settings Settings) *Service {
	cost := settings.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}

	return &Service{
		store:       store,
		credentials: NewCredentialVerifier(store, settings.MaxFailedAttempts, settings.LockoutDuration),
		tokens:      tokens,
		audit:       recorder,
		logger:      logger,
		tracer:      observability.Tracer(),
		bcryptCost:  cost,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source of the service and its collaborators.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.credentials.now = now
	s.tokens.now = now
	return s
}

func (s *Service) Issuer() *TokenIssuer { return s.tokens }

type RegisterInput struct {
	Email    string
	Password string
	Role     Role
}

func (s *Service) Register(ctx context.Context, input RegisterInput, meta RequestMeta) (User, error) {
	email := normalizeEmail(input.Email)
	if input.Role == "" {
		input.Role = RoleClient
	}

	var verr ValidationError
	if !emailRegex.MatchString(email) {
		verr.add("email", "must be a valid email address")
	}
	if msg := checkPassword(input.Password); msg != "" {
		verr.add("password", msg)
	}
	if input.Role != RoleClient && input.Role != RoleTrainer {
		verr.add("role", "must be CLIENT or TRAINER")
	}
	if err := verr.orNil(); err != nil {
		return User{}, err
	}

	user, err := s.createUser(ctx, email, input.Password, input.Role)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			s.record(ctx, audit.Entry{Email: email, Action: audit.ActionRegister, Detail: "email taken"}, meta)
		}
		return User{}, err
	}

	s.record(ctx, audit.Entry{UserID: user.ID, Email: user.Email, Action: audit.ActionRegister, Success: true}, meta)
	return user, nil
}

func (s *Service) createUser(ctx context.Context, email, password string, role Role) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	now := s.now()
	user := User{
		ID:           id.String(),
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
	DeviceID   string
}

// LoginResult holds either a Session or, for two-factor users, a challenge
// token to be redeemed through CompleteTwoFactorLogin.
type LoginResult struct {
	Session            *Session
	ChallengeToken     string
	ChallengeExpiresAt time.Time
}

func (r LoginResult) RequiresTwoFactor() bool {
	return r.Session == nil && r.ChallengeToken != ""
}

func (s *Service) Login(ctx context.Context, input LoginInput, meta RequestMeta) (LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Login")
	defer span.End()

	email := normalizeEmail(input.Email)
	var verr ValidationError
	if email == "" {
		verr.add("email", "is required")
	}
	if input.Password == "" {
		verr.add("password", "is required")
	}
	if len(input.DeviceID) > maxDeviceIDLength {
		verr.add("deviceId", "is too long")
	}
	if err := verr.orNil(); err != nil {
		return LoginResult{}, err
	}

	user, err := s.credentials.Verify(ctx, email, input.Password)
	if err != nil {
		s.recordLoginFailure(ctx, email, err, meta)
		span.SetStatus(codes.Error, "login failed")
		return LoginResult{}, err
	}
	span.SetAttributes(attribute.String("user.id", user.ID), attribute.String("user.role", string(user.Role)))

	if user.TwoFactorEnabled {
		challenge, expiresAt, err := s.tokens.IssueChallenge(user.ID, input.RememberMe, input.DeviceID)
		if err != nil {
			return LoginResult{}, err
		}
		s.record(ctx, audit.Entry{UserID: user.ID, Email: user.Email, Action: audit.ActionLogin, Success: true, Detail: "two-factor challenge issued"}, meta)
		return LoginResult{ChallengeToken: challenge, ChallengeExpiresAt: expiresAt}, nil
	}

	session, err := s.startSession(ctx, user, input.RememberMe, input.DeviceID)
	if err != nil {
		return LoginResult{}, err
	}

	s.record(ctx, audit.Entry{UserID: user.ID, Email: user.Email, Action: audit.ActionLogin, Success: true}, meta)
	return LoginResult{Session: &session}, nil
}

func (s *Service) recordLoginFailure(ctx context.Context, email string, err error, meta RequestMeta) {
	entry := audit.Entry{Email: email, Action: audit.ActionLogin}

	var locked *LockedError
	switch {
	case errors.As(err, &locked):
		entry.Action = audit.ActionLoginLocked
		entry.Detail = "locked until " + locked.Until.Format(time.RFC3339)
	case errors.Is(err, ErrUserNotFound):
		entry.Detail = "unknown email"
	case errors.Is(err, ErrInvalidCredentials):
		entry.Detail = "wrong password"
	case errors.Is(err, ErrAccountDisabled):
		entry.Detail = "account disabled"
	default:
		return
	}
	if user, lookupErr := s.store.GetUserByEmail(ctx, email); lookupErr == nil {
		entry.UserID = user.ID
	}
	s.record(ctx, entry, meta)
}

// CompleteTwoFactorLogin issues the session for a challenge whose second
// factor has already been verified by the caller.
func (s *Service) CompleteTwoFactorLogin(ctx context.Context, challenge ChallengeClaims, meta RequestMeta) (Session, error) {
	user, err := s.store.GetUserByID(ctx, challenge.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Session{}, ErrInvalidToken
		}
		return Session{}, err
	}
	if !user.Active {
		return Session{}, ErrAccountDisabled
	}

	session, err := s.startSession(ctx, user, challenge.RememberMe, challenge.DeviceID)
	if err != nil {
		return Session{}, err
	}

	s.record(ctx, audit.Entry{UserID: user.ID, Email: user.Email, Action: audit.ActionTwoFactorLogin, Success: true}, meta)
	return session, nil
}

func (s *Service) startSession(ctx context.Context, user User, rememberMe bool, deviceID string) (Session, error) {
	access, claims, err := s.tokens.IssueAccessToken(AccessPayload{
		UserID:   user.ID,
		Email:    user.Email,
		Role:     user.Role,
		DeviceID: deviceID,
	})
	if err != nil {
		return Session{}, err
	}

	refresh, record, err := s.tokens.IssueRefreshToken(ctx, user.ID, rememberMe, deviceID)
	if err != nil {
		return Session{}, err
	}

	return Session{
		User:             user,
		AccessToken:      access,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshToken:     refresh,
		RefreshExpiresAt: record.ExpiresAt,
		RememberMe:       rememberMe,
	}, nil
}

func (s *Service) Refresh(ctx context.Context, rawRefresh string, meta RequestMeta) (Session, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Refresh")
	defer span.End()

	session, err := s.tokens.Refresh(ctx, rawRefresh)
	if err != nil {
		if errors.Is(err, ErrTokenReused) {
			s.logger.Warn("refresh_token_reuse", map[string]any{"user_id": session.User.ID, "ip": meta.IP})
			s.record(ctx, audit.Entry{UserID: session.User.ID, Email: session.User.Email, Action: audit.ActionTokenReuse, Detail: "token family revoked"}, meta)
		}
		span.SetStatus(codes.Error, "refresh failed")
		return Session{}, err
	}

	s.record(ctx, audit.Entry{UserID: session.User.ID, Email: session.User.Email, Action: audit.ActionTokenRefresh, Success: true}, meta)
	return session, nil
}

type LogoutInput struct {
	RefreshToken string
	// AccessToken identifies the user for logoutAll when no refresh token is
	// presented. Expired tokens are not accepted.
	AccessToken string
	All         bool
}

func (s *Service) Logout(ctx context.Context, input LogoutInput, meta RequestMeta) error {
	userID := ""
	if input.RefreshToken != "" {
		if owner, err := s.tokens.Owner(ctx, input.RefreshToken); err == nil {
			userID = owner
		}
	}
	if userID == "" && input.AccessToken != "" {
		if claims, err := s.tokens.Verify(input.AccessToken); err == nil {
			userID = claims.UserID
		}
	}

	if input.All {
		if userID == "" {
			return ErrInvalidToken
		}
		revoked, err := s.tokens.RevokeAll(ctx, userID)
		if err != nil {
			return err
		}
		s.record(ctx, audit.Entry{UserID: userID, Action: audit.ActionLogoutAll, Success: true, Detail: fmt.Sprintf("%d tokens revoked", revoked)}, meta)
		return nil
	}

	if input.RefreshToken == "" {
		return ErrInvalidToken
	}
	if err := s.tokens.Revoke(ctx, input.RefreshToken); err != nil {
		return err
	}
	s.record(ctx, audit.Entry{UserID: userID, Action: audit.ActionLogout, Success: true}, meta)
	return nil
}

// ChangePassword replaces the password hash and revokes every refresh token
// of the user.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string, meta RequestMeta) error {
	var verr ValidationError
	if currentPassword == "" {
		verr.add("currentPassword", "is required")
	}
	if msg := checkPassword(newPassword); msg != "" {
		verr.add("newPassword", msg)
	}
	if err := verr.orNil(); err != nil {
		return err
	}

	user, err := s.credentials.VerifyPassword(ctx, userID, currentPassword)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.record(ctx, audit.Entry{UserID: userID, Action: audit.ActionPasswordChange, Detail: "wrong current password"}, meta)
		}
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdatePassword(ctx, user.ID, string(hash), s.now()); err != nil {
		return err
	}
	if _, err := s.tokens.RevokeAll(ctx, user.ID); err != nil {
		return err
	}

	s.record(ctx, audit.Entry{UserID: user.ID, Email: user.Email, Action: audit.ActionPasswordChange, Success: true}, meta)
	return nil
}

// VerifyPassword re-authenticates a signed-in user.
func (s *Service) VerifyPassword(ctx context.Context, userID, password string) error {
	_, err := s.credentials.VerifyPassword(ctx, userID, password)
	return err
}

func (s *Service) CurrentUser(ctx context.Context, userID string) (User, error) {
	return s.store.GetUserByID(ctx, userID)
}

// Bootstrap creates the admin account when it does not exist yet. Existing
// accounts are left untouched.
func (s *Service) Bootstrap(ctx context.Context, adminEmail, adminPassword string) error {
	adminEmail = normalizeEmail(adminEmail)
	if adminEmail == "" && adminPassword == "" {
		return nil
	}
	if adminEmail == "" || adminPassword == "" {
		return fmt.Errorf("admin email and password are required together")
	}

	if _, err := s.store.GetUserByEmail(ctx, adminEmail); err == nil {
		return nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return err
	}

	user, err := s.createUser(ctx, adminEmail, adminPassword, RoleAdmin)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil
		}
		return err
	}

	s.logger.Info("admin_bootstrapped", map[string]any{"user_id": user.ID, "email": user.Email})
	s.record(ctx, audit.Entry{UserID: user.ID, Email: user.Email, Action: audit.ActionBootstrapAdmin, Success: true}, RequestMeta{})
	return nil
}

func (s *Service) record(ctx context.Context, entry audit.Entry, meta RequestMeta) {
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

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func checkPassword(password string) string {
	switch {
	case password == "":
		return "is required"
	case len(password) < minPasswordLength:
		return fmt.Sprintf("must be at least %d characters", minPasswordLength)
	case len(password) > maxPasswordLength:
		return fmt.Sprintf("must be at most %d characters", maxPasswordLength)
	}
	return ""
}
