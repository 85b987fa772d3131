package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/querydeck/querydeck/internal/api/response"
	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/repository/redis"
	"github.com/querydeck/querydeck/internal/service"
)

type contextKey string

const IdentityKey contextKey = "identity"

// AuthMiddleware resolves the caller's identity from the bearer token
// or the guest cookie
type AuthMiddleware struct {
	resolver    *service.IdentityResolver
	guestCookie string
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(resolver *service.IdentityResolver, guestCookie string) *AuthMiddleware {
	return &AuthMiddleware{resolver: resolver, guestCookie: guestCookie}
}

// Authenticate resolves the identity and adds it to the request context.
// An expired bearer token with no guest fallback gets the token-expired
// marker so clients re-authenticate instead of prompting.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := m.resolver.Resolve(r.Context(), bearerToken(r), m.guestCookieValue(r))
		if err != nil {
			if errors.Is(err, domain.ErrTokenExpired) {
				response.TokenExpired(w)
				return
			}
			response.Unauthorized(w, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), IdentityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetIdentity gets the resolved identity from context
func GetIdentity(ctx context.Context) (domain.SessionIdentity, bool) {
	identity, ok := ctx.Value(IdentityKey).(domain.SessionIdentity)
	return identity, ok
}

// bearerToken extracts the credential from the Authorization header,
// empty when absent or malformed
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

func (m *AuthMiddleware) guestCookieValue(r *http.Request) string {
	cookie, err := r.Cookie(m.guestCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// RateLimitMiddleware handles rate limiting
type RateLimitMiddleware struct {
	rateLimiter *redis.RateLimiter
}

// NewRateLimitMiddleware creates a new rate limit middleware
func NewRateLimitMiddleware(rateLimiter *redis.RateLimiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{rateLimiter: rateLimiter}
}

// Limit applies rate limiting keyed by the resolved subject
func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := GetIdentity(r.Context())
		if !ok {
			response.Unauthorized(w, "unauthorized")
			return
		}

		allowed, remaining, resetTime, err := m.rateLimiter.Allow(r.Context(), identity.Subject)
		if err != nil {
			// If the rate limiter is down, let the request through
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", resetTime.Format("2006-01-02T15:04:05Z"))

		if !allowed {
			response.ErrorCode(w, http.StatusTooManyRequests, response.CodeRateLimited, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
