package twofactor

import (
	"errors"
	"net/http"
	"strings"

	"trainerhub-auth/internal/auth"
	"trainerhub-auth/internal/httpjson"
	"trainerhub-auth/internal/observability"
)

const (
	actionEnable = "enable"
	actionLogin  = "login"
)

type Handler struct {
	service  *Service
	sessions *auth.Service
	cookies  *auth.SessionCookies
	logger   *observability.Logger
}

func NewHandler(service *Service, sessions *auth.Service, cookies *auth.SessionCookies, logger *observability.Logger) *Handler {
	return &Handler{service: service, sessions: sessions, cookies: cookies, logger: logger}
}

type verifyRequest struct {
	Token          string `json:"token"`
	Action         string `json:"action"`
	ChallengeToken string `json:"challengeToken"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

// Setup serves POST /api/auth/2fa/setup behind the guard.
func (h *Handler) Setup(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httpjson.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	enrollment, err := h.service.Setup(r.Context(), claims.UserID, auth.RequestMetaFrom(r))
	if err != nil {
		h.writeError(w, r, "2fa_setup", err)
		return
	}

	httpjson.OK(w, http.StatusOK, enrollment)
}

// Verify serves POST /api/auth/2fa/verify. It is not behind the guard: the
// login action authenticates with the challenge token instead of an access
// token.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var body verifyRequest
	if err := httpjson.Decode(w, r, &body, false); err != nil {
		httpjson.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}

	code := strings.TrimSpace(body.Token)
	if code == "" {
		httpjson.FieldErrors(w, "validation failed", map[string]string{"token": "is required"})
		return
	}

	switch strings.ToLower(strings.TrimSpace(body.Action)) {
	case actionEnable:
		h.verifyEnable(w, r, code)
	case actionLogin:
		h.verifyLogin(w, r, code, strings.TrimSpace(body.ChallengeToken))
	default:
		httpjson.FieldErrors(w, "validation failed", map[string]string{"action": "must be enable or login"})
	}
}

func (h *Handler) verifyEnable(w http.ResponseWriter, r *http.Request, code string) {
	token := auth.AccessTokenFromRequest(r)
	if token == "" {
		httpjson.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	claims, err := h.sessions.Issuer().Verify(token)
	if err != nil {
		auth.WriteError(w, r, h.logger, "2fa_enable", err)
		return
	}

	if err := h.service.VerifyAndEnable(r.Context(), claims.UserID, code, auth.RequestMetaFrom(r)); err != nil {
		if errors.Is(err, ErrInvalidCode) {
			httpjson.Error(w, http.StatusBadRequest, "invalid verification code")
			return
		}
		h.writeError(w, r, "2fa_enable", err)
		return
	}

	httpjson.OK(w, http.StatusOK, map[string]any{"enabled": true})
}

func (h *Handler) verifyLogin(w http.ResponseWriter, r *http.Request, code, challengeToken string) {
	if challengeToken == "" {
		challengeToken = auth.ChallengeFromRequest(r)
	}
	if challengeToken == "" {
		httpjson.Error(w, http.StatusUnauthorized, "two-factor challenge required")
		return
	}

	challenge, err := h.sessions.Issuer().VerifyChallenge(challengeToken)
	if err != nil {
		h.cookies.ClearChallenge(w)
		auth.WriteError(w, r, h.logger, "2fa_login", err)
		return
	}

	meta := auth.RequestMetaFrom(r)
	if err := h.service.VerifyLogin(r.Context(), challenge.UserID, code, meta); err != nil {
		h.writeError(w, r, "2fa_login", err)
		return
	}

	session, err := h.sessions.CompleteTwoFactorLogin(r.Context(), challenge, meta)
	if err != nil {
		auth.WriteError(w, r, h.logger, "2fa_login", err)
		return
	}

	h.cookies.ClearChallenge(w)
	h.cookies.Set(w, session)
	httpjson.OK(w, http.StatusOK, auth.NewSessionResponse(session, h.sessions.Issuer().AccessTTL()))
}

func (h *Handler) Disable(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httpjson.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body passwordRequest
	if err := httpjson.Decode(w, r, &body, false); err != nil {
		httpjson.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}

	if err := h.service.Disable(r.Context(), claims.UserID, body.Password, auth.RequestMetaFrom(r)); err != nil {
		h.writeError(w, r, "2fa_disable", err)
		return
	}

	httpjson.OK(w, http.StatusOK, map[string]any{"enabled": false})
}

func (h *Handler) BackupCodeCount(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httpjson.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	remaining, err := h.service.BackupCodeCount(r.Context(), claims.UserID)
	if err != nil {
		h.writeError(w, r, "2fa_backup_codes", err)
		return
	}

	httpjson.OK(w, http.StatusOK, map[string]any{"remaining": remaining})
}

func (h *Handler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httpjson.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body passwordRequest
	if err := httpjson.Decode(w, r, &body, false); err != nil {
		httpjson.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}

	codes, err := h.service.RegenerateBackupCodes(r.Context(), claims.UserID, body.Password, auth.RequestMetaFrom(r))
	if err != nil {
		h.writeError(w, r, "2fa_backup_codes", err)
		return
	}

	httpjson.OK(w, http.StatusOK, map[string]any{"backupCodes": codes})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrAlreadyEnabled):
		httpjson.Error(w, http.StatusConflict, "two-factor authentication is already enabled")
	case errors.Is(err, ErrNotPending):
		httpjson.Error(w, http.StatusBadRequest, "two-factor setup has not been started")
	case errors.Is(err, ErrNotEnabled):
		httpjson.Error(w, http.StatusBadRequest, "two-factor authentication is not enabled")
	case errors.Is(err, ErrInvalidCode):
		httpjson.Error(w, http.StatusUnauthorized, "invalid two-factor code")
	case errors.Is(err, ErrInvalidPassword):
		httpjson.Error(w, http.StatusBadRequest, "password is incorrect")
	case errors.Is(err, auth.ErrUserNotFound):
		httpjson.Error(w, http.StatusNotFound, "user not found")
	default:
		auth.WriteError(w, r, h.logger, op, err)
	}
}
