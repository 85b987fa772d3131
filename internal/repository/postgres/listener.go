package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/querydeck/querydeck/internal/domain"
)

// Hub listens on the requests notify channel over one dedicated
// connection and fans stage events out to per-session subscribers. The
// trigger on the requests table publishes every status change; the hub
// preserves arrival order per session by fanning out from a single
// reader goroutine.
type Hub struct {
	dsn     string
	channel string

	mu   sync.RWMutex
	subs map[uuid.UUID]map[chan domain.StageEvent]struct{}
}

// NewHub creates a hub for the given connection string and channel
func NewHub(dsn, channel string) *Hub {
	return &Hub{
		dsn:     dsn,
		channel: channel,
		subs:    make(map[uuid.UUID]map[chan domain.StageEvent]struct{}),
	}
}

// Subscribe registers interest in one session's events. The returned
// cancel function must be called when the consumer goes away.
func (h *Hub) Subscribe(sessionID uuid.UUID) (<-chan domain.StageEvent, func()) {
	ch := make(chan domain.StageEvent, 64)

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan domain.StageEvent]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[sessionID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, sessionID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Run listens for notifications until ctx is cancelled, reconnecting
// with backoff on connection loss
func (h *Hub) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := h.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error().Err(err).Dur("backoff", backoff).Msg("Notify listener disconnected, reconnecting")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (h *Hub) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, h.dsn)
	if err != nil {
		return fmt.Errorf("failed to connect listener: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{h.channel}.Sanitize()); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.channel, err)
	}

	log.Info().Str("channel", h.channel).Msg("Notify listener attached")

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("failed waiting for notification: %w", err)
		}

		event, err := domain.DecodeStageEvent([]byte(notification.Payload))
		if err != nil {
			log.Warn().Err(err).Str("payload", notification.Payload).Msg("Dropping malformed notification")
			continue
		}

		h.publish(event)
	}
}

// publish delivers an event to every subscriber of its session. Sends
// never block the reader: a subscriber that falls 64 events behind
// loses the oldest semantics anyway on reconnect, so the event is
// dropped with a warning instead of stalling all sessions.
func (h *Hub) publish(event domain.StageEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[event.SessionID] {
		select {
		case ch <- event:
		default:
			log.Warn().
				Str("session_id", event.SessionID.String()).
				Str("request_id", event.RequestID.String()).
				Msg("Subscriber too slow, dropping event")
		}
	}
}
