package handler_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querydeck/querydeck/internal/api/handler"
	"github.com/querydeck/querydeck/internal/api/middleware"
	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/proxy"
	"github.com/querydeck/querydeck/internal/repository/postgres"
	"github.com/querydeck/querydeck/internal/security"
	"github.com/querydeck/querydeck/internal/service"
)

func testKeys(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return key, string(privPEM)
}

func signedToken(t *testing.T, key *rsa.PrivateKey, subject string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "querydeck",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func newStreamRouter(t *testing.T, key *rsa.PrivateKey, upstreamURL string) http.Handler {
	t.Helper()
	verifier := security.NewTokenVerifier(security.NewStaticKeySource(&key.PublicKey), "querydeck")
	resolver := service.NewIdentityResolver(verifier, time.Second)
	h := handler.NewStreamHandler(resolver, proxy.New(upstreamURL), "qd_guest")

	r := chi.NewRouter()
	r.Get("/stream/{sessionID}", h.Stream)
	return r
}

func TestHealthCheck(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()

	handler.HealthCheck(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, true, response["success"])
}

func TestStreamHandler_NoCredentials(t *testing.T) {
	key, _ := testKeys(t)
	router := newStreamRouter(t, key, "http://localhost:1")

	req := httptest.NewRequest(http.MethodGet, "/stream/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStreamHandler_ExpiredTokenMarker(t *testing.T) {
	key, _ := testKeys(t)
	router := newStreamRouter(t, key, "http://localhost:1")

	req := httptest.NewRequest(http.MethodGet, "/stream/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, key, "user-1", -time.Hour))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var response map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	// The marker clients use to re-authenticate silently.
	assert.Equal(t, "token_expired", response["code"])
}

func TestStreamHandler_InvalidSessionID(t *testing.T) {
	key, _ := testKeys(t)
	router := newStreamRouter(t, key, "http://localhost:1")

	req := httptest.NewRequest(http.MethodGet, "/stream/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamHandler_RelaysWithCredential(t *testing.T) {
	key, _ := testKeys(t)
	token := signedToken(t, key, "user-1", time.Hour)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+token, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"status\":\"done\"}\n\n")
	}))
	defer upstream.Close()

	router := newStreamRouter(t, key, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "/stream/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "data:")
}

func TestStreamHandler_GuestCookieFallback(t *testing.T) {
	key, privPEM := testKeys(t)
	issuer, err := security.NewGuestIssuer(privPEM, "querydeck", time.Hour)
	require.NoError(t, err)
	guestToken, err := issuer.Issue()
	require.NoError(t, err)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The guest credential rides the Authorization header upstream.
		assert.Equal(t, "Bearer "+guestToken, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {}\n\n")
	}))
	defer upstream.Close()

	router := newStreamRouter(t, key, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "/stream/"+uuid.NewString(), nil)
	req.AddCookie(&http.Cookie{Name: "qd_guest", Value: guestToken})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStreamHandler_ForgedGuestCookieRejected(t *testing.T) {
	key, _ := testKeys(t)
	router := newStreamRouter(t, key, "http://localhost:1")

	req := httptest.NewRequest(http.MethodGet, "/stream/"+uuid.NewString(), nil)
	req.AddCookie(&http.Cookie{Name: "qd_guest", Value: "not-a-signed-token"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func newEventsRouter(t *testing.T, key *rsa.PrivateKey) http.Handler {
	t.Helper()
	verifier := security.NewTokenVerifier(security.NewStaticKeySource(&key.PublicKey), "querydeck")
	resolver := service.NewIdentityResolver(verifier, time.Second)
	hub := postgres.NewHub("", "request_update")
	h := handler.NewEventsHandler(resolver, hub, "qd_guest", time.Minute)

	r := chi.NewRouter()
	r.Get("/sse/{sessionID}", h.Events)
	return r
}

func TestEventsHandler_RequiresCredentials(t *testing.T) {
	key, _ := testKeys(t)
	router := newEventsRouter(t, key)

	req := httptest.NewRequest(http.MethodGet, "/sse/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// Nothing streams without a credential: live status updates are
	// not guessable by session id.
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEventsHandler_ExpiredTokenMarker(t *testing.T) {
	key, _ := testKeys(t)
	router := newEventsRouter(t, key)

	// EventSource clients carry the credential as a query parameter.
	target := "/sse/" + uuid.NewString() + "?token=" + signedToken(t, key, "user-1", -time.Hour)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var response map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, "token_expired", response["code"])
}

func TestEventsHandler_StreamsWithValidToken(t *testing.T) {
	key, _ := testKeys(t)
	router := newEventsRouter(t, key)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/sse/"+uuid.NewString(), nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, key, "user-1", time.Hour))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event: connected")
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestAuthHandler_GuestIssuesCookie(t *testing.T) {
	_, privPEM := testKeys(t)
	issuer, err := security.NewGuestIssuer(privPEM, "querydeck", time.Hour)
	require.NoError(t, err)

	h := handler.NewAuthHandler(issuer, "qd_guest", time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/guest", nil)
	rec := httptest.NewRecorder()
	h.Guest(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "qd_guest", cookies[0].Name)
	assert.True(t, security.IsGuestToken(cookies[0].Value))
}

func TestAuthHandler_GuestKeepsExistingCookie(t *testing.T) {
	_, privPEM := testKeys(t)
	issuer, err := security.NewGuestIssuer(privPEM, "querydeck", time.Hour)
	require.NoError(t, err)

	existing, err := issuer.Issue()
	require.NoError(t, err)

	h := handler.NewAuthHandler(issuer, "qd_guest", time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/guest", nil)
	req.AddCookie(&http.Cookie{Name: "qd_guest", Value: existing})
	rec := httptest.NewRecorder()
	h.Guest(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	// No replacement cookie: reissuing would orphan the guest's sessions.
	assert.Empty(t, rec.Result().Cookies())

	var response struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, existing, response.Data["token"])
}

// fakeSessionRepo and fakeRequestRepo back the session handler tests
type fakeSessionRepo struct{ created []*domain.Session }

func (f *fakeSessionRepo) Create(ctx context.Context, s *domain.Session) error {
	f.created = append(f.created, s)
	return nil
}

func (f *fakeSessionRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeSessionRepo) ListByOwner(ctx context.Context, owner string, limit, offset int) ([]domain.Session, error) {
	return nil, nil
}

func (f *fakeSessionRepo) Rename(ctx context.Context, id uuid.UUID, name string) error {
	return nil
}

type fakeRequestRepo struct{}

func (fakeRequestRepo) Create(ctx context.Context, req *domain.Request) error { return nil }

func (fakeRequestRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Request, error) {
	return nil, domain.ErrNotFound
}

func (fakeRequestRepo) ListBySession(ctx context.Context, id uuid.UUID, limit, offset int) ([]domain.Request, error) {
	return nil, nil
}

func (fakeRequestRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.Stage, errMsg string) error {
	return nil
}

func withIdentity(req *http.Request) *http.Request {
	identity := domain.SessionIdentity{Kind: domain.IdentityGuest, Subject: "guest|abc"}
	return req.WithContext(context.WithValue(req.Context(), middleware.IdentityKey, identity))
}

func TestSessionHandler_CreateWithoutBody(t *testing.T) {
	repo := &fakeSessionRepo{}
	h := handler.NewSessionHandler(service.NewSessionService(repo, fakeRequestRepo{}))

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/v1/sessions/", nil))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, repo.created, 1)
	assert.Equal(t, "New Session", repo.created[0].Name)
}

func TestSessionHandler_CreateMalformedBody(t *testing.T) {
	repo := &fakeSessionRepo{}
	h := handler.NewSessionHandler(service.NewSessionService(repo, fakeRequestRepo{}))

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/api/v1/sessions/", strings.NewReader("{not json")))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, repo.created)
}
