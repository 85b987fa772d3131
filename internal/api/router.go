package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/querydeck/querydeck/internal/api/handler"
	customMiddleware "github.com/querydeck/querydeck/internal/api/middleware"
	"github.com/querydeck/querydeck/internal/config"
	"github.com/querydeck/querydeck/internal/proxy"
	"github.com/querydeck/querydeck/internal/repository/postgres"
	"github.com/querydeck/querydeck/internal/repository/redis"
	"github.com/querydeck/querydeck/internal/security"
	"github.com/querydeck/querydeck/internal/service"
	"github.com/querydeck/querydeck/internal/warehouse"
)

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, db *postgres.DB, redisClient *redis.Client, hub *postgres.Hub, wh *warehouse.Warehouse) http.Handler {
	r := chi.NewRouter()

	// Global middleware. No request timeout here: the stream endpoints
	// hold connections open indefinitely, so timeouts apply per-group
	// below.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize security components
	keys := security.NewKeySource(cfg.Auth.PublicKeyPEM, cfg.Auth.PublicKeyURL)
	verifier := security.NewTokenVerifier(keys, cfg.Auth.Issuer)
	resolver := service.NewIdentityResolver(verifier, cfg.Auth.VerifyTimeout)

	// Initialize repositories
	sessionRepo := postgres.NewSessionRepository(db.Pool)
	requestRepo := postgres.NewRequestRepository(db.Pool)
	queryRepo := postgres.NewQueryRepository(db.Pool)

	// Initialize rate limiter and query cache
	rateLimiter := redis.NewRateLimiter(
		redisClient,
		cfg.Security.RateLimit.RequestsPerMinute,
		cfg.Security.RateLimit.Burst,
	)
	queryCache := redis.NewQueryCache(redisClient)

	// Initialize services
	sessionService := service.NewSessionService(sessionRepo, requestRepo)
	queryService := service.NewQueryService(queryRepo, queryCache, wh)

	// Initialize handlers
	sessionHandler := handler.NewSessionHandler(sessionService)
	queryHandler := handler.NewQueryHandler(queryService)
	streamHandler := handler.NewStreamHandler(resolver, proxy.New(cfg.Upstream.BaseURL), cfg.Auth.GuestCookie)
	eventsHandler := handler.NewEventsHandler(resolver, hub, cfg.Auth.GuestCookie, cfg.Stream.HeartbeatInterval)

	// Guest tokens need the private key; deployments without it rely on
	// the identity provider alone.
	var authHandler *handler.AuthHandler
	if cfg.Auth.PrivateKeyPEM != "" {
		guestIssuer, err := security.NewGuestIssuer(cfg.Auth.PrivateKeyPEM, cfg.Auth.Issuer, cfg.Auth.GuestTokenTTL)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize guest issuer, guest sign-in disabled")
		} else {
			authHandler = handler.NewAuthHandler(guestIssuer, cfg.Auth.GuestCookie, cfg.Auth.GuestTokenTTL)
		}
	}

	// Auth middleware
	authMiddleware := customMiddleware.NewAuthMiddleware(resolver, cfg.Auth.GuestCookie)
	rateLimitMiddleware := customMiddleware.NewRateLimitMiddleware(rateLimiter)

	// Streaming routes. These resolve identity themselves and never time
	// out; lifetime is bounded by the client and the upstream.
	r.Get("/stream/{sessionID}", streamHandler.Stream)
	r.Get("/sse/{sessionID}", eventsHandler.Events)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// Health check
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(db))

		// Auth routes (public)
		if authHandler != nil {
			r.Post("/auth/guest", authHandler.Guest)
		}

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Use(rateLimitMiddleware.Limit)

			// Session routes
			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", sessionHandler.List)
				r.Post("/", sessionHandler.Create)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/", sessionHandler.Get)
					r.Get("/requests", sessionHandler.ListRequests)
					r.Post("/requests", sessionHandler.SubmitRequest)
				})
			})

			// Request lookup by id
			r.Get("/requests/{requestID}", sessionHandler.GetRequest)

			// Query metadata and result rows
			r.Route("/queries/{queryID}", func(r chi.Router) {
				r.Get("/", queryHandler.Get)
			})
			r.Get("/data/{queryID}", queryHandler.GetRows)
		})
	})

	return r
}
