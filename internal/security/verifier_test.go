package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querydeck/querydeck/internal/domain"
)

func testKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	return key, string(privPEM)
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.RegisteredClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestTokenVerifier_ValidToken(t *testing.T) {
	key, _ := testKeyPair(t)
	verifier := NewTokenVerifier(NewStaticKeySource(&key.PublicKey), "querydeck")

	token := signToken(t, key, jwt.RegisteredClaims{
		Subject:   "user-42",
		Issuer:    "querydeck",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	subject, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", subject)
}

func TestTokenVerifier_ExpiredToken(t *testing.T) {
	key, _ := testKeyPair(t)
	verifier := NewTokenVerifier(NewStaticKeySource(&key.PublicKey), "querydeck")

	token := signToken(t, key, jwt.RegisteredClaims{
		Subject:   "user-42",
		Issuer:    "querydeck",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})

	_, err := verifier.Verify(token)
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestTokenVerifier_WrongIssuer(t *testing.T) {
	key, _ := testKeyPair(t)
	verifier := NewTokenVerifier(NewStaticKeySource(&key.PublicKey), "querydeck")

	token := signToken(t, key, jwt.RegisteredClaims{
		Subject:   "user-42",
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	_, err := verifier.Verify(token)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestTokenVerifier_WrongKey(t *testing.T) {
	key, _ := testKeyPair(t)
	otherKey, _ := testKeyPair(t)
	verifier := NewTokenVerifier(NewStaticKeySource(&otherKey.PublicKey), "querydeck")

	token := signToken(t, key, jwt.RegisteredClaims{
		Subject:   "user-42",
		Issuer:    "querydeck",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	_, err := verifier.Verify(token)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestGuestIssuer_RoundTrip(t *testing.T) {
	key, privPEM := testKeyPair(t)

	issuer, err := NewGuestIssuer(privPEM, "querydeck", time.Hour)
	require.NoError(t, err)

	token, err := issuer.Issue()
	require.NoError(t, err)

	assert.True(t, IsGuestToken(token))

	// Guest tokens verify against the same key as real ones.
	verifier := NewTokenVerifier(NewStaticKeySource(&key.PublicKey), "querydeck")
	subject, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(subject, GuestSubjectPrefix))
}

func TestGuestIssuer_SubjectsAreUnique(t *testing.T) {
	_, privPEM := testKeyPair(t)

	issuer, err := NewGuestIssuer(privPEM, "querydeck", time.Hour)
	require.NoError(t, err)

	a, err := issuer.Issue()
	require.NoError(t, err)
	b, err := issuer.Issue()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestIsGuestToken(t *testing.T) {
	assert.True(t, IsGuestToken("guest.eyJhbGciOi"))
	assert.False(t, IsGuestToken("eyJhbGciOi"))
	assert.False(t, IsGuestToken(""))
}
