package security

import (
	"crypto/rsa"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeySource provides the token verification key. The key is fetched and
// parsed exactly once per process and reused for every verification;
// a failed fetch is also latched so degraded key infrastructure surfaces
// as a verification error, not a retry storm.
type KeySource struct {
	pemData string
	url     string
	client  *http.Client

	once sync.Once
	key  *rsa.PublicKey
	err  error
}

// NewKeySource creates a key source from inline PEM data or a URL.
// Inline PEM takes precedence.
func NewKeySource(pemData, url string) *KeySource {
	return &KeySource{
		pemData: pemData,
		url:     url,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// NewStaticKeySource wraps an already-parsed key, used by tests and by
// the guest token issuer
func NewStaticKeySource(key *rsa.PublicKey) *KeySource {
	s := &KeySource{}
	s.once.Do(func() { s.key = key })
	return s
}

// PublicKey returns the cached verification key, loading it on first use
func (s *KeySource) PublicKey() (*rsa.PublicKey, error) {
	s.once.Do(func() {
		s.key, s.err = s.load()
	})
	return s.key, s.err
}

func (s *KeySource) load() (*rsa.PublicKey, error) {
	pemData := []byte(s.pemData)

	if len(pemData) == 0 {
		if s.url == "" {
			return nil, fmt.Errorf("no verification key configured")
		}
		resp, err := s.client.Get(s.url)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch verification key: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("failed to fetch verification key: status %d", resp.StatusCode)
		}

		pemData, err = io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if err != nil {
			return nil, fmt.Errorf("failed to read verification key: %w", err)
		}
	}

	key, err := jwt.ParseRSAPublicKeyFromPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse verification key: %w", err)
	}
	return key, nil
}
