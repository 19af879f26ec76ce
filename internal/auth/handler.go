package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"trainerhub-auth/internal/httpjson"
	"trainerhub-auth/internal/observability"
)

type Handler struct {
	service *Service
	cookies *SessionCookies
	logger  *observability.Logger
}

func NewHandler(service *Service, cookies *SessionCookies, logger *observability.Logger) *Handler {
	return &Handler{service: service, cookies: cookies, logger: logger}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
	DeviceID   string `json:"deviceId"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	LogoutAll    bool   `json:"logoutAll"`
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type SessionResponse struct {
	User   PublicUser `json:"user"`
	Tokens Tokens     `json:"tokens"`
}

func NewSessionResponse(session Session, accessTTL time.Duration) SessionResponse {
	return SessionResponse{User: session.User.Public(), Tokens: session.Tokens(accessTTL)}
}

func RequestMetaFrom(r *http.Request) RequestMeta {
	return RequestMeta{IP: observability.ClientIP(r), UserAgent: r.UserAgent()}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if err := httpjson.Decode(w, r, &body, false); err != nil {
		httpjson.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}

	user, err := h.service.Register(r.Context(), RegisterInput{
		Email:    body.Email,
		Password: body.Password,
		Role:     Role(strings.ToUpper(strings.TrimSpace(string(body.Role)))),
	}, RequestMetaFrom(r))
	if err != nil {
		WriteError(w, r, h.logger, "register", err)
		return
	}

	httpjson.OK(w, http.StatusCreated, map[string]any{"user": user.Public()})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := httpjson.Decode(w, r, &body, false); err != nil {
		httpjson.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}

	result, err := h.service.Login(r.Context(), LoginInput{
		Email:      body.Email,
		Password:   body.Password,
		RememberMe: body.RememberMe,
		DeviceID:   strings.TrimSpace(body.DeviceID),
	}, RequestMetaFrom(r))
	if err != nil {
		WriteError(w, r, h.logger, "login", err)
		return
	}

	if result.RequiresTwoFactor() {
		h.cookies.SetChallenge(w, result.ChallengeToken)
		httpjson.OK(w, http.StatusOK, map[string]any{
			"requiresTwoFactor": true,
			"challengeToken":    result.ChallengeToken,
			"expiresAt":         result.ChallengeExpiresAt,
		})
		return
	}

	h.writeSession(w, *result.Session, http.StatusOK)
}

func (h *Handler) writeSession(w http.ResponseWriter, session Session, status int) {
	h.cookies.Set(w, session)
	httpjson.OK(w, status, NewSessionResponse(session, h.service.tokens.AccessTTL()))
}

// Logout revokes the presented refresh token (or all of the user's tokens with
// logoutAll) and always clears the session cookies.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var body logoutRequest
	decodeErr := httpjson.Decode(w, r, &body, true)
	if decodeErr != nil {
		// The cookie session still ends on a malformed body.
		body = logoutRequest{}
	}

	refreshToken := strings.TrimSpace(body.RefreshToken)
	if refreshToken == "" {
		refreshToken = cookieValue(r, RefreshCookieName)
	}

	err := h.service.Logout(r.Context(), LogoutInput{
		RefreshToken: refreshToken,
		AccessToken:  AccessTokenFromRequest(r),
		All:          body.LogoutAll,
	}, RequestMetaFrom(r))
	if err != nil && !errors.Is(err, ErrInvalidToken) {
		observability.ReportError(r.Context(), h.logger, "logout_failed", err, nil)
	}

	h.cookies.Clear(w)
	if decodeErr != nil {
		httpjson.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}
	httpjson.OK(w, http.StatusOK, map[string]any{"loggedOut": true, "revoked": err == nil})
}

// RefreshRedirect serves GET /api/auth/refresh for browser navigation.
func (h *Handler) RefreshRedirect(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Refresh(r.Context(), cookieValue(r, RefreshCookieName), RequestMetaFrom(r))
	if err != nil {
		if !errors.Is(err, ErrInvalidToken) {
			observability.ReportError(r.Context(), h.logger, "refresh_failed", err, nil)
		}
		h.cookies.Clear(w)
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	h.cookies.Set(w, session)
	http.Redirect(w, r, safeRedirect(r.URL.Query().Get("redirect")), http.StatusSeeOther)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if err := httpjson.Decode(w, r, &body, true); err != nil {
		httpjson.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}

	refreshToken := strings.TrimSpace(body.RefreshToken)
	if refreshToken == "" {
		refreshToken = cookieValue(r, RefreshCookieName)
	}

	session, err := h.service.Refresh(r.Context(), refreshToken, RequestMetaFrom(r))
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			h.cookies.Clear(w)
		}
		WriteError(w, r, h.logger, "refresh", err)
		return
	}

	h.writeSession(w, session, http.StatusOK)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		httpjson.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	user, err := h.service.CurrentUser(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			httpjson.Error(w, http.StatusNotFound, "user not found")
			return
		}
		WriteError(w, r, h.logger, "me", err)
		return
	}

	httpjson.OK(w, http.StatusOK, map[string]any{"user": user.Public()})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		httpjson.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body changePasswordRequest
	if err := httpjson.Decode(w, r, &body, false); err != nil {
		httpjson.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}

	if err := h.service.ChangePassword(r.Context(), claims.UserID, body.CurrentPassword, body.NewPassword, RequestMetaFrom(r)); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			httpjson.Error(w, http.StatusBadRequest, "current password is incorrect")
			return
		}
		WriteError(w, r, h.logger, "change_password", err)
		return
	}

	h.cookies.Clear(w)
	httpjson.OK(w, http.StatusOK, map[string]any{"passwordChanged": true})
}

// WriteError maps service errors onto the HTTP taxonomy. Authentication
// failures get generic messages; unexpected errors are reported and hidden.
func WriteError(w http.ResponseWriter, r *http.Request, logger *observability.Logger, op string, err error) {
	var validation *ValidationError
	var locked *LockedError

	switch {
	case errors.As(err, &validation):
		httpjson.FieldErrors(w, "validation failed", validation.Fields)
	case errors.Is(err, httpjson.ErrInvalidBody):
		httpjson.Error(w, http.StatusBadRequest, "invalid json body")
	case errors.As(err, &locked):
		httpjson.RetryAfter(w, locked.RetryAfter())
		httpjson.Error(w, http.StatusLocked, locked.Message())
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrInvalidCredentials):
		httpjson.Error(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, ErrTokenExpired), errors.Is(err, ErrInvalidToken):
		httpjson.Error(w, http.StatusUnauthorized, "invalid or expired token")
	case errors.Is(err, ErrAccountDisabled):
		httpjson.Error(w, http.StatusForbidden, "account is disabled")
	case errors.Is(err, ErrForbidden):
		httpjson.Error(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, ErrEmailTaken):
		httpjson.Error(w, http.StatusConflict, "email already registered")
	default:
		observability.ReportError(r.Context(), logger, op+"_failed", err, map[string]any{"path": r.URL.Path})
		httpjson.Error(w, http.StatusInternalServerError, "internal server error")
	}
}

// safeRedirect only allows local absolute paths.
func safeRedirect(target string) string {
	target = strings.TrimSpace(target)
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return "/"
	}
	return target
}
