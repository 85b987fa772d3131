package proxy

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/querydeck/querydeck/internal/domain"
)

// StreamProxy relays a live upstream event feed to one downstream
// caller. It exists because browsers cannot attach Authorization headers
// to EventSource connections: the proxy resolves identity first, then
// opens the single upstream connection with the credential attached.
//
// Each relay is fully independent; instances share nothing but the
// HTTP client, so concurrent sessions need no locking.
type StreamProxy struct {
	upstreamBase string
	client       *http.Client
}

// New creates a stream proxy for the given upstream base URL. The
// client carries no timeout: stream lifetime is owned by the backend and
// the caller's disconnect, never by the proxy.
func New(upstreamBase string) *StreamProxy {
	return &StreamProxy{
		upstreamBase: strings.TrimRight(upstreamBase, "/"),
		client:       &http.Client{},
	}
}

// Relay opens the upstream feed for sessionID and streams it to w
// unmodified. Non-2xx upstream responses are passed through verbatim so
// callers can tell backend unavailability from auth failure. The
// upstream request uses the downstream request's context, so a caller
// disconnect tears the upstream connection down with it.
func (p *StreamProxy) Relay(w http.ResponseWriter, r *http.Request, sessionID string, identity domain.SessionIdentity) {
	upstreamURL := fmt.Sprintf("%s/sse/%s", p.upstreamBase, sessionID)

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, upstreamURL, nil)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to build upstream request")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	req.Header.Set("Authorization", "Bearer "+identity.Credential)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Upstream connection failed")
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Pass the upstream status and body through unchanged. No
		// retry, no masking.
		log.Warn().
			Str("session_id", sessionID).
			Int("status", resp.StatusCode).
			Msg("Upstream returned non-success status")
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		log.Error().Str("session_id", sessionID).Msg("Response writer does not support streaming")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "text/event-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	// Tells nginx-style intermediaries not to buffer the stream.
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Info().
		Str("session_id", sessionID).
		Str("subject", identity.Subject).
		Bool("guest", identity.IsGuest()).
		Msg("Stream relay opened")

	if err := p.copyStream(w, flusher, resp.Body); err != nil {
		// Downstream or upstream went away. The deferred Close above
		// releases the upstream connection either way.
		log.Info().Err(err).Str("session_id", sessionID).Msg("Stream relay closed")
		return
	}

	log.Info().Str("session_id", sessionID).Msg("Upstream closed stream")
}

// copyStream relays bytes chunk by chunk, flushing after every read so
// no event sits in a buffer
func (p *StreamProxy) copyStream(w io.Writer, flusher http.Flusher, body io.Reader) error {
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			flusher.Flush()
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
