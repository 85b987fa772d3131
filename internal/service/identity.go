package service

import (
	"context"
	"errors"
	"time"

	"github.com/querydeck/querydeck/internal/domain"
)

// Verifier validates a credential and returns its canonical subject
type Verifier interface {
	Verify(credential string) (string, error)
}

// IdentityResolver normalizes a caller's credentials into a single
// SessionIdentity. Verification is attempted once per credential with a
// bounded timeout; a failed bearer falls back to the guest cookie so
// the guest path stays available.
type IdentityResolver struct {
	verifier Verifier
	timeout  time.Duration
}

// NewIdentityResolver creates a new identity resolver
func NewIdentityResolver(verifier Verifier, timeout time.Duration) *IdentityResolver {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &IdentityResolver{verifier: verifier, timeout: timeout}
}

// Resolve turns an optional bearer credential and an optional guest
// cookie value into a SessionIdentity. Guest tokens verify against the
// same key infrastructure as bearer tokens; only a degraded verifier
// (timeout, cancellation) lets the raw cookie value through, so the
// guest path survives key-provider outages. Expired tokens with no
// usable fallback surface as domain.ErrTokenExpired so the client can
// re-authenticate silently; everything else invalid is ErrUnauthorized.
func (r *IdentityResolver) Resolve(ctx context.Context, bearer, guestCookie string) (domain.SessionIdentity, error) {
	var bearerErr, guestErr error

	if bearer != "" {
		subject, err := r.verifyOnce(ctx, bearer)
		if err == nil {
			return domain.SessionIdentity{
				Kind:       domain.IdentityAuthenticated,
				Subject:    subject,
				Credential: bearer,
			}, nil
		}
		bearerErr = err
	}

	if guestCookie != "" {
		subject, err := r.verifyOnce(ctx, guestCookie)
		switch {
		case err == nil:
			return domain.SessionIdentity{
				Kind:       domain.IdentityGuest,
				Subject:    subject,
				Credential: guestCookie,
			}, nil
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
			return domain.SessionIdentity{
				Kind:       domain.IdentityGuest,
				Subject:    guestCookie,
				Credential: guestCookie,
			}, nil
		}
		guestErr = err
	}

	if bearerErr != nil && errors.Is(bearerErr, domain.ErrTokenExpired) {
		return domain.SessionIdentity{}, bearerErr
	}
	if guestErr != nil && errors.Is(guestErr, domain.ErrTokenExpired) {
		return domain.SessionIdentity{}, guestErr
	}
	return domain.SessionIdentity{}, domain.ErrUnauthorized
}

// verifyOnce runs a single verification attempt under the resolver's
// timeout. The verifier itself has no context plumbing (key fetch is a
// one-time lazy load), so the bound is enforced around the call.
func (r *IdentityResolver) verifyOnce(ctx context.Context, credential string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		subject string
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		subject, err := r.verifier.Verify(credential)
		ch <- result{subject, err}
	}()

	select {
	case res := <-ch:
		return res.subject, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
