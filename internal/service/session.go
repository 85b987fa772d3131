package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/querydeck/querydeck/internal/domain"
)

// SessionService manages sessions and the requests submitted into them.
// Ownership checks happen here: a session belonging to another subject
// is reported as not found rather than forbidden, so session ids cannot
// be probed.
type SessionService struct {
	sessionRepo domain.SessionRepository
	requestRepo domain.RequestRepository
}

// NewSessionService creates a new session service
func NewSessionService(sessionRepo domain.SessionRepository, requestRepo domain.RequestRepository) *SessionService {
	return &SessionService{
		sessionRepo: sessionRepo,
		requestRepo: requestRepo,
	}
}

// CreateSession creates a new session for a subject
func (s *SessionService) CreateSession(ctx context.Context, owner, name string) (*domain.Session, error) {
	if name == "" {
		name = "New Session"
	}

	now := time.Now()
	session := &domain.Session{
		ID:        uuid.New(),
		Owner:     owner,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	log.Info().
		Str("session_id", session.ID.String()).
		Str("owner", owner).
		Msg("Session created")

	return session, nil
}

// ListSessions returns sessions owned by a subject
func (s *SessionService) ListSessions(ctx context.Context, owner string, limit, offset int) ([]domain.Session, error) {
	return s.sessionRepo.ListByOwner(ctx, owner, limit, offset)
}

// GetSession returns a session after checking ownership
func (s *SessionService) GetSession(ctx context.Context, owner string, sessionID uuid.UUID) (*domain.Session, error) {
	session, err := s.sessionRepo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Owner != owner {
		return nil, domain.ErrNotFound
	}
	return session, nil
}

// SubmitRequest persists a new prompt against a session in the initial
// stage. The worker pipeline picks the row up from there; every later
// stage change is broadcast through the requests notify trigger.
func (s *SessionService) SubmitRequest(ctx context.Context, owner string, sessionID uuid.UUID, prompt string, linkedSession *uuid.UUID) (*domain.Request, error) {
	if _, err := s.GetSession(ctx, owner, sessionID); err != nil {
		return nil, err
	}

	now := time.Now()
	req := &domain.Request{
		RequestID:     uuid.New(),
		SessionID:     sessionID,
		Owner:         owner,
		Prompt:        prompt,
		Status:        domain.StageNew,
		LinkedSession: linkedSession,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.requestRepo.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	log.Info().
		Str("request_id", req.RequestID.String()).
		Str("session_id", sessionID.String()).
		Msg("Request submitted")

	return req, nil
}

// GetRequest returns one request row after checking ownership
func (s *SessionService) GetRequest(ctx context.Context, owner string, requestID uuid.UUID) (*domain.Request, error) {
	req, err := s.requestRepo.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Owner != owner {
		return nil, domain.ErrNotFound
	}
	return req, nil
}

// ListRequests returns a session's requests in submission order, after
// checking ownership. This is the bootstrap read a client uses to seed
// its local view before attaching to the live stream.
func (s *SessionService) ListRequests(ctx context.Context, owner string, sessionID uuid.UUID, limit, offset int) ([]domain.Request, error) {
	if _, err := s.GetSession(ctx, owner, sessionID); err != nil {
		return nil, err
	}
	return s.requestRepo.ListBySession(ctx, sessionID, limit, offset)
}
