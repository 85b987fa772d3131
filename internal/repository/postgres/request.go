package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/querydeck/querydeck/internal/domain"
)

// RequestRepository implements domain.RequestRepository. Status updates
// fire the requests notify trigger, which is what feeds the SSE hub.
type RequestRepository struct {
	pool *pgxpool.Pool
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(pool *pgxpool.Pool) *RequestRepository {
	return &RequestRepository{pool: pool}
}

func (r *RequestRepository) Create(ctx context.Context, req *domain.Request) error {
	query := `
		INSERT INTO requests (request_id, session_id, owner, prompt, status, linked_session, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		req.RequestID,
		req.SessionID,
		req.Owner,
		req.Prompt,
		req.Status,
		req.LinkedSession,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

func (r *RequestRepository) Get(ctx context.Context, requestID uuid.UUID) (*domain.Request, error) {
	query := `
		SELECT request_id, session_id, owner, prompt, status, COALESCE(response, ''), COALESCE(err, ''),
		       query_id, linked_session, sequence_number, created_at, updated_at
		FROM requests
		WHERE request_id = $1
	`
	var req domain.Request
	err := r.pool.QueryRow(ctx, query, requestID).Scan(
		&req.RequestID,
		&req.SessionID,
		&req.Owner,
		&req.Prompt,
		&req.Status,
		&req.Response,
		&req.Err,
		&req.QueryID,
		&req.LinkedSession,
		&req.SequenceNumber,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return &req, nil
}

func (r *RequestRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]domain.Request, error) {
	query := `
		SELECT request_id, session_id, owner, prompt, status, COALESCE(response, ''), COALESCE(err, ''),
		       query_id, linked_session, sequence_number, created_at, updated_at
		FROM requests
		WHERE session_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var requests []domain.Request
	for rows.Next() {
		var req domain.Request
		if err := rows.Scan(
			&req.RequestID,
			&req.SessionID,
			&req.Owner,
			&req.Prompt,
			&req.Status,
			&req.Response,
			&req.Err,
			&req.QueryID,
			&req.LinkedSession,
			&req.SequenceNumber,
			&req.CreatedAt,
			&req.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, nil
}

func (r *RequestRepository) UpdateStatus(ctx context.Context, requestID uuid.UUID, status domain.Stage, errMsg string) error {
	query := `
		UPDATE requests
		SET status = $1,
		    err = NULLIF($2, ''),
		    sequence_number = sequence_number + 1,
		    updated_at = now()
		WHERE request_id = $3
	`
	tag, err := r.pool.Exec(ctx, query, status, errMsg, requestID)
	if err != nil {
		return fmt.Errorf("failed to update request status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
