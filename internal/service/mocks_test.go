package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/querydeck/querydeck/internal/domain"
)

// MockVerifier mocks the Verifier interface
type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(credential string) (string, error) {
	args := m.Called(credential)
	return args.String(0), args.Error(1)
}

// MockSessionRepository mocks the SessionRepository interface
type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockSessionRepository) ListByOwner(ctx context.Context, owner string, limit, offset int) ([]domain.Session, error) {
	args := m.Called(ctx, owner, limit, offset)
	return args.Get(0).([]domain.Session), args.Error(1)
}

func (m *MockSessionRepository) Rename(ctx context.Context, id uuid.UUID, name string) error {
	args := m.Called(ctx, id, name)
	return args.Error(0)
}

// MockRequestRepository mocks the RequestRepository interface
type MockRequestRepository struct {
	mock.Mock
}

func (m *MockRequestRepository) Create(ctx context.Context, req *domain.Request) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockRequestRepository) Get(ctx context.Context, requestID uuid.UUID) (*domain.Request, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Request), args.Error(1)
}

func (m *MockRequestRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]domain.Request, error) {
	args := m.Called(ctx, sessionID, limit, offset)
	return args.Get(0).([]domain.Request), args.Error(1)
}

func (m *MockRequestRepository) UpdateStatus(ctx context.Context, requestID uuid.UUID, status domain.Stage, errMsg string) error {
	args := m.Called(ctx, requestID, status, errMsg)
	return args.Error(0)
}
