package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querydeck/querydeck/internal/domain"
)

func TestIdentityResolver_ValidBearerWins(t *testing.T) {
	verifier := new(MockVerifier)
	verifier.On("Verify", "good-token").Return("user-42", nil)

	resolver := NewIdentityResolver(verifier, time.Second)

	identity, err := resolver.Resolve(context.Background(), "good-token", "guest-cookie-value")
	require.NoError(t, err)

	assert.Equal(t, domain.IdentityAuthenticated, identity.Kind)
	assert.Equal(t, "user-42", identity.Subject)
	assert.Equal(t, "good-token", identity.Credential)
	assert.False(t, identity.IsGuest())
}

func TestIdentityResolver_InvalidBearerFallsBackToGuest(t *testing.T) {
	verifier := new(MockVerifier)
	verifier.On("Verify", "bad-token").Return("", domain.ErrUnauthorized)
	verifier.On("Verify", "guest-token-value").Return("guest|abc", nil)

	resolver := NewIdentityResolver(verifier, time.Second)

	identity, err := resolver.Resolve(context.Background(), "bad-token", "guest-token-value")
	require.NoError(t, err)

	assert.Equal(t, domain.IdentityGuest, identity.Kind)
	assert.Equal(t, "guest|abc", identity.Subject)
	assert.Equal(t, "guest-token-value", identity.Credential)
	assert.True(t, identity.IsGuest())
}

func TestIdentityResolver_GuestOnly(t *testing.T) {
	verifier := new(MockVerifier)
	verifier.On("Verify", "guest-token-value").Return("guest|abc", nil)

	resolver := NewIdentityResolver(verifier, time.Second)

	identity, err := resolver.Resolve(context.Background(), "", "guest-token-value")
	require.NoError(t, err)

	// Guest tokens verify against the same keys as bearer tokens; the
	// subject comes from the token, not the raw cookie value.
	assert.Equal(t, domain.IdentityGuest, identity.Kind)
	assert.Equal(t, "guest|abc", identity.Subject)
}

func TestIdentityResolver_InvalidGuestCookieRejected(t *testing.T) {
	verifier := new(MockVerifier)
	verifier.On("Verify", "forged-cookie").Return("", domain.ErrUnauthorized)

	resolver := NewIdentityResolver(verifier, time.Second)

	_, err := resolver.Resolve(context.Background(), "", "forged-cookie")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestIdentityResolver_ExpiredGuestTokenSurfaces(t *testing.T) {
	verifier := new(MockVerifier)
	verifier.On("Verify", "stale-guest-token").Return("", domain.ErrTokenExpired)

	resolver := NewIdentityResolver(verifier, time.Second)

	_, err := resolver.Resolve(context.Background(), "", "stale-guest-token")
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestIdentityResolver_ExpiredTokenWithoutGuestSurfaces(t *testing.T) {
	verifier := new(MockVerifier)
	verifier.On("Verify", "stale-token").Return("", domain.ErrTokenExpired)

	resolver := NewIdentityResolver(verifier, time.Second)

	_, err := resolver.Resolve(context.Background(), "stale-token", "")
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestIdentityResolver_ExpiredTokenWithGuestFallsBack(t *testing.T) {
	verifier := new(MockVerifier)
	verifier.On("Verify", "stale-token").Return("", domain.ErrTokenExpired)
	verifier.On("Verify", "guest-token-value").Return("guest|abc", nil)

	resolver := NewIdentityResolver(verifier, time.Second)

	identity, err := resolver.Resolve(context.Background(), "stale-token", "guest-token-value")
	require.NoError(t, err)
	assert.Equal(t, domain.IdentityGuest, identity.Kind)
	assert.Equal(t, "guest|abc", identity.Subject)
}

func TestIdentityResolver_NoCredentialsIsUnauthorized(t *testing.T) {
	verifier := new(MockVerifier)
	resolver := NewIdentityResolver(verifier, time.Second)

	_, err := resolver.Resolve(context.Background(), "", "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestIdentityResolver_SlowVerifierTimesOutToGuest(t *testing.T) {
	slow := &slowVerifier{delay: 500 * time.Millisecond}
	resolver := NewIdentityResolver(slow, 50*time.Millisecond)

	start := time.Now()
	identity, err := resolver.Resolve(context.Background(), "slow-token", "guest-cookie-value")
	require.NoError(t, err)

	// Only verifier degradation admits the raw cookie value; the guest
	// path stays available through a key-provider outage.
	assert.Equal(t, domain.IdentityGuest, identity.Kind)
	assert.Equal(t, "guest-cookie-value", identity.Subject)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestIdentityResolver_Deterministic(t *testing.T) {
	verifier := new(MockVerifier)
	verifier.On("Verify", "good-token").Return("user-42", nil)

	resolver := NewIdentityResolver(verifier, time.Second)

	// Same inputs, same identity, every time.
	for i := 0; i < 5; i++ {
		identity, err := resolver.Resolve(context.Background(), "good-token", "guest-cookie-value")
		require.NoError(t, err)
		assert.Equal(t, "user-42", identity.Subject)
		assert.Equal(t, domain.IdentityAuthenticated, identity.Kind)
	}
}

// slowVerifier simulates a degraded identity provider
type slowVerifier struct {
	delay time.Duration
}

func (s *slowVerifier) Verify(credential string) (string, error) {
	time.Sleep(s.delay)
	return "", errors.New("too late")
}
