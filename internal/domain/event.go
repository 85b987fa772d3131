package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// StageEvent is one request-status update streamed to clients. The
// payload shape matches the notify trigger on the requests table, so the
// same struct decodes both NOTIFY payloads and SSE event data.
type StageEvent struct {
	RequestID      uuid.UUID `json:"request_id"`
	SessionID      uuid.UUID `json:"session_id"`
	Stage          Stage     `json:"status"`
	TextDelta      string    `json:"text_delta,omitempty"`
	SequenceNumber int64     `json:"sequence_number,omitempty"`
	UpdatedAt      float64   `json:"updated_at,omitempty"`
}

// Terminal reports whether the event closes its section
func (e StageEvent) Terminal() bool {
	return e.Stage.Terminal()
}

// DecodeStageEvent parses a JSON payload into a StageEvent and validates
// the stage value
func DecodeStageEvent(data []byte) (StageEvent, error) {
	var raw struct {
		RequestID      uuid.UUID `json:"request_id"`
		SessionID      uuid.UUID `json:"session_id"`
		Status         string    `json:"status"`
		TextDelta      string    `json:"text_delta"`
		SequenceNumber int64     `json:"sequence_number"`
		UpdatedAt      float64   `json:"updated_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return StageEvent{}, fmt.Errorf("failed to decode stage event: %w", err)
	}

	stage, err := ParseStage(raw.Status)
	if err != nil {
		return StageEvent{}, err
	}

	return StageEvent{
		RequestID:      raw.RequestID,
		SessionID:      raw.SessionID,
		Stage:          stage,
		TextDelta:      raw.TextDelta,
		SequenceNumber: raw.SequenceNumber,
		UpdatedAt:      raw.UpdatedAt,
	}, nil
}
