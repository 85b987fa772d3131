package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/querydeck/querydeck/internal/api/response"
	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/proxy"
	"github.com/querydeck/querydeck/internal/service"
)

// StreamHandler relays the live event feed for one session. It resolves
// identity itself rather than through the auth middleware: EventSource
// connections cannot set an Authorization header, so the credential may
// arrive as a token query parameter or the guest cookie instead.
type StreamHandler struct {
	resolver    *service.IdentityResolver
	proxy       *proxy.StreamProxy
	guestCookie string
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(resolver *service.IdentityResolver, proxy *proxy.StreamProxy, guestCookie string) *StreamHandler {
	return &StreamHandler{
		resolver:    resolver,
		proxy:       proxy,
		guestCookie: guestCookie,
	}
}

// Stream resolves the caller's identity and relays the upstream feed
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	sessionIDStr := chi.URLParam(r, "sessionID")
	if _, err := uuid.Parse(sessionIDStr); err != nil {
		response.BadRequest(w, "invalid session ID")
		return
	}

	bearer := bearerCredential(r)
	if bearer == "" {
		bearer = r.URL.Query().Get("token")
	}

	var guestValue string
	if cookie, err := r.Cookie(h.guestCookie); err == nil {
		guestValue = cookie.Value
	}

	identity, err := h.resolver.Resolve(r.Context(), bearer, guestValue)
	if err != nil {
		if errors.Is(err, domain.ErrTokenExpired) {
			response.TokenExpired(w)
			return
		}
		response.Unauthorized(w, "unauthorized")
		return
	}

	h.proxy.Relay(w, r, sessionIDStr, identity)
}

// bearerCredential extracts the Authorization bearer value, empty when
// absent or malformed
func bearerCredential(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}
