package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageRole represents the sender of a message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ChatMessage is a single message inside a section. Messages are
// append-only; streaming text deltas extend the last assistant message
// in place rather than appending new messages.
type ChatMessage struct {
	UID  uuid.UUID   `json:"uid"`
	Role MessageRole `json:"role"`
	Text string      `json:"text"`
}

// ChatSection is one request/response exchange in a session. Sections
// are never removed within a session's lifetime; status and messages
// mutate in place until a terminal stage latches.
type ChatSection struct {
	ID            uuid.UUID     `json:"id"`
	RequestID     uuid.UUID     `json:"request_id"`
	Status        Stage         `json:"status"`
	Messages      []ChatMessage `json:"messages"`
	Query         *QueryResult  `json:"query,omitempty"`
	LinkedSession *uuid.UUID    `json:"linked_session,omitempty"`
	LastEventAt   time.Time     `json:"last_event_at"`
}

// Prompt returns the user message that opened the section, if any
func (s *ChatSection) Prompt() string {
	for i := range s.Messages {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Text
		}
	}
	return ""
}

// Request is the persisted form of a submitted prompt: one row per
// request, advanced through stages by the worker and broadcast through
// the requests notify trigger.
type Request struct {
	RequestID      uuid.UUID  `json:"request_id"`
	SessionID      uuid.UUID  `json:"session_id"`
	Owner          string     `json:"owner"`
	Prompt         string     `json:"prompt"`
	Status         Stage      `json:"status"`
	Response       string     `json:"response,omitempty"`
	Err            string     `json:"err,omitempty"`
	QueryID        *uuid.UUID `json:"query_id,omitempty"`
	LinkedSession  *uuid.UUID `json:"linked_session,omitempty"`
	SequenceNumber int64      `json:"sequence_number"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RequestRepository defines the interface for request storage
type RequestRepository interface {
	Create(ctx context.Context, req *Request) error
	Get(ctx context.Context, requestID uuid.UUID) (*Request, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]Request, error)
	UpdateStatus(ctx context.Context, requestID uuid.UUID, status Stage, errMsg string) error
}
