package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/querydeck/querydeck/internal/api/response"
	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/repository/postgres"
	"github.com/querydeck/querydeck/internal/service"
)

// EventsHandler serves the upstream event feed: request status changes
// for one session, fed from the database notify channel. The streaming
// proxy sits in front of this endpoint in a split deployment; in a
// single-process deployment clients may attach here directly. Either
// way the caller authenticates: the proxy forwards its Authorization
// header, direct EventSource clients fall back to the token query
// parameter or the guest cookie.
type EventsHandler struct {
	resolver          *service.IdentityResolver
	hub               *postgres.Hub
	guestCookie       string
	heartbeatInterval time.Duration
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(resolver *service.IdentityResolver, hub *postgres.Hub, guestCookie string, heartbeatInterval time.Duration) *EventsHandler {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 15 * time.Second
	}
	return &EventsHandler{
		resolver:          resolver,
		hub:               hub,
		guestCookie:       guestCookie,
		heartbeatInterval: heartbeatInterval,
	}
}

// Events streams stage events for a session until the client disconnects
func (h *EventsHandler) Events(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
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

	if _, err := h.resolver.Resolve(r.Context(), bearer, guestValue); err != nil {
		if errors.Is(err, domain.ErrTokenExpired) {
			response.TokenExpired(w)
			return
		}
		response.Unauthorized(w, "unauthorized")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		response.InternalError(w, "streaming not supported")
		return
	}

	events, cancel := h.hub.Subscribe(sessionID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Hello event so clients can tell an open stream from a stalled
	// connection attempt.
	fmt.Fprintf(w, "event: connected\ndata: {\"session_id\":%q}\n\n", sessionID)
	flusher.Flush()

	log.Info().Str("session_id", sessionID.String()).Msg("Event stream opened")

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Info().Str("session_id", sessionID.String()).Msg("Event stream closed by client")
			return

		case <-heartbeat.C:
			// Comment line keeps intermediaries from timing the
			// connection out between events.
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case event, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to marshal stage event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: request_update\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
