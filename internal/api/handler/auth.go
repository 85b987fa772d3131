package handler

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/querydeck/querydeck/internal/api/response"
	"github.com/querydeck/querydeck/internal/security"
)

var validate = validator.New()

// AuthHandler issues guest credentials. Real sign-in happens at the
// external identity provider; this service only mints the self-issued
// guest tokens that back the anonymous flow.
type AuthHandler struct {
	guestIssuer *security.GuestIssuer
	cookieName  string
	cookieTTL   time.Duration
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(guestIssuer *security.GuestIssuer, cookieName string, cookieTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		guestIssuer: guestIssuer,
		cookieName:  cookieName,
		cookieTTL:   cookieTTL,
	}
}

// Guest mints a guest token and sets it as the guest cookie. Callers
// that already present a valid guest cookie keep it; reissuing would
// silently detach them from their sessions.
func (h *AuthHandler) Guest(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(h.cookieName); err == nil && security.IsGuestToken(cookie.Value) {
		response.OK(w, map[string]string{"token": cookie.Value})
		return
	}

	token, err := h.guestIssuer.Issue()
	if err != nil {
		response.InternalError(w, "failed to issue guest token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cookieTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	response.OK(w, map[string]string{"token": token})
}
