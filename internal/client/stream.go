package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/querydeck/querydeck/internal/domain"
)

// StreamClient attaches to the live event feed for one session and
// decodes stage events. Reconnects are automatic with backoff; the
// consumer sees a single continuous event sequence.
type StreamClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewStreamClient creates a stream client. The HTTP client carries no
// timeout: the connection is expected to stay open indefinitely.
func NewStreamClient(baseURL, token string) *StreamClient {
	return &StreamClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Run attaches to the session's stream and invokes handle for every
// stage event until ctx is cancelled
func (s *StreamClient) Run(ctx context.Context, sessionID uuid.UUID, handle func(domain.StageEvent)) error {
	backoff := time.Second
	for {
		err := s.attach(ctx, sessionID, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Dur("backoff", backoff).Msg("Stream disconnected, reconnecting")

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

func (s *StreamClient) attach(ctx context.Context, sessionID uuid.UUID, handle func(domain.StageEvent)) error {
	url := fmt.Sprintf("%s/stream/%s", s.baseURL, sessionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build stream request: %w", err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("stream rejected with status %d: %s", resp.StatusCode, body)
	}

	decoder := NewFrameDecoder(resp.Body)
	for {
		frame, err := decoder.Next()
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("stream closed by server")
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}

		if frame.Event == "connected" || frame.Data == "" {
			continue
		}

		event, err := domain.DecodeStageEvent([]byte(frame.Data))
		if err != nil {
			log.Warn().Err(err).Str("data", frame.Data).Msg("Skipping malformed event")
			continue
		}

		handle(event)
	}
}
