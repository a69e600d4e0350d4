package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	authsvc "github.com/ivankudzin/skillmarket/internal/services/auth"
)

type AuthHandler struct {
	service *authsvc.Service
	cookies CookieConfig
	logger  *zap.Logger
}

func NewAuthHandler(service *authsvc.Service, cookies CookieConfig, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{service: service, cookies: cookies, logger: logger}
}

// Confirm completes an emailed sign-in link or an OAuth code exchange, sets
// the session cookie and redirects to next.
func (h *AuthHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	next := safeNext(query.Get("next"))

	if h.service == nil {
		redirectAuthError(w, r, "auth service is unavailable")
		return
	}

	tokenHash := strings.TrimSpace(query.Get("token_hash"))
	if tokenHash == "" {
		tokenHash = strings.TrimSpace(query.Get("token"))
	}
	otpType := strings.TrimSpace(query.Get("type"))
	code := strings.TrimSpace(query.Get("code"))

	var (
		session authsvc.SessionRecord
		err     error
	)
	switch {
	case tokenHash != "" && otpType != "":
		session, err = h.service.VerifyOTP(r.Context(), otpType, tokenHash)
	case code != "":
		session, err = h.service.ExchangeCode(r.Context(), code, "")
	default:
		redirectAuthError(w, r, "missing token")
		return
	}
	if err != nil {
		h.logger.Warn("auth confirm failed", zap.String("type", otpType), zap.Error(err))
		message := "could not verify link"
		if errors.Is(err, authsvc.ErrInvalidInput) {
			message = "invalid link"
		}
		redirectAuthError(w, r, message)
		return
	}

	setSessionCookie(w, h.cookies, session)
	http.Redirect(w, r, next, http.StatusFound)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "AUTH_SERVICE_UNAVAILABLE", "auth service is unavailable")
		return
	}

	if identity.SID != "" {
		if err := h.service.Logout(r.Context(), identity.SID); err != nil {
			h.logger.Error("logout failed", zap.String("user_id", identity.UserID), zap.Error(err))
			writeInternal(w, "INTERNAL_ERROR", "failed to logout")
			return
		}
	}

	clearSessionCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// safeNext only allows same-site relative paths so the confirm link cannot be
// turned into an open redirect.
func safeNext(raw string) string {
	next := strings.TrimSpace(raw)
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return next
}

func redirectAuthError(w http.ResponseWriter, r *http.Request, message string) {
	http.Redirect(w, r, "/auth/error?error="+url.QueryEscape(message), http.StatusFound)
}
