package security

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/querydeck/querydeck/internal/domain"
)

const (
	// GuestTokenPrefix marks self-issued guest tokens carried in the
	// guest cookie. Everything after the prefix is a signed JWT.
	GuestTokenPrefix = "guest."

	// GuestSubjectPrefix namespaces guest subjects away from subjects
	// minted by the real identity provider.
	GuestSubjectPrefix = "guest|"
)

// IsGuestToken reports whether a credential value is a self-issued guest
// token
func IsGuestToken(value string) bool {
	return strings.HasPrefix(value, GuestTokenPrefix)
}

// TokenVerifier verifies bearer credentials against the issuer's public
// key. Guest tokens verify against the same key, so one verifier covers
// both identity kinds.
type TokenVerifier struct {
	keys   *KeySource
	issuer string
}

// NewTokenVerifier creates a new token verifier
func NewTokenVerifier(keys *KeySource, issuer string) *TokenVerifier {
	return &TokenVerifier{keys: keys, issuer: issuer}
}

// Verify validates a credential and returns its canonical subject.
// Expired tokens map to domain.ErrTokenExpired so callers can trigger
// re-authentication instead of a blind retry; every other failure maps
// to domain.ErrUnauthorized.
func (v *TokenVerifier) Verify(credential string) (string, error) {
	credential = strings.TrimPrefix(credential, GuestTokenPrefix)

	token, err := jwt.ParseWithClaims(credential, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.keys.PublicKey()
	}, jwt.WithIssuer(v.issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: %s", domain.ErrTokenExpired, err)
		}
		return "", fmt.Errorf("%w: failed to parse token: %s", domain.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}

	return claims.Subject, nil
}

// GuestIssuer mints self-issued guest tokens. Only deployments holding
// the private key can issue; verification needs the public half alone.
type GuestIssuer struct {
	key    *rsa.PrivateKey
	issuer string
	ttl    time.Duration
}

// NewGuestIssuer parses the signing key and creates an issuer
func NewGuestIssuer(privateKeyPEM, issuer string, ttl time.Duration) (*GuestIssuer, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse guest signing key: %w", err)
	}
	return &GuestIssuer{key: key, issuer: issuer, ttl: ttl}, nil
}

// Issue creates a new guest token with a fresh guest subject
func (g *GuestIssuer) Issue() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   GuestSubjectPrefix + uuid.NewString(),
		ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    g.issuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(g.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign guest token: %w", err)
	}

	return GuestTokenPrefix + signed, nil
}
