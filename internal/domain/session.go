package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session represents one conversation thread: an ordered log of
// request/response exchanges owned by a single subject
type Session struct {
	ID        uuid.UUID `json:"id"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionRepository defines the interface for session storage
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	ListByOwner(ctx context.Context, owner string, limit, offset int) ([]Session, error)
	Rename(ctx context.Context, id uuid.UUID, name string) error
}
