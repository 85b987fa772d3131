package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/querydeck/querydeck/internal/domain"
)

// QueryRepository implements domain.QueryRepository. Each query row
// stores at most one parent; the full ancestor chain is reassembled
// root-to-leaf at read time.
type QueryRepository struct {
	pool *pgxpool.Pool
}

// NewQueryRepository creates a new query metadata repository
func NewQueryRepository(pool *pgxpool.Pool) *QueryRepository {
	return &QueryRepository{pool: pool}
}

func (r *QueryRepository) Create(ctx context.Context, q *domain.QueryResult) error {
	columns, err := json.Marshal(q.Columns)
	if err != nil {
		return fmt.Errorf("failed to marshal columns: %w", err)
	}

	var parent *uuid.UUID
	if len(q.Parents) > 0 {
		parent = &q.Parents[len(q.Parents)-1]
	}

	query := `
		INSERT INTO queries (query_id, sql, columns, row_count, parent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.pool.Exec(ctx, query, q.QueryID, q.SQL, columns, q.RowCount, parent, q.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create query: %w", err)
	}
	return nil
}

func (r *QueryRepository) Get(ctx context.Context, queryID uuid.UUID) (*domain.QueryResult, error) {
	// Walk the parent links in one pass and return ancestors in
	// root-to-leaf order. Each query has at most one parent, so the
	// recursion is a simple chain.
	query := `
		WITH RECURSIVE chain AS (
			SELECT query_id, sql, columns, row_count, parent_id, created_at, 0 AS depth
			FROM queries
			WHERE query_id = $1
			UNION ALL
			SELECT q.query_id, q.sql, q.columns, q.row_count, q.parent_id, q.created_at, c.depth + 1
			FROM queries q
			JOIN chain c ON q.query_id = c.parent_id
		)
		SELECT query_id, sql, columns, row_count, created_at, depth
		FROM chain
		ORDER BY depth ASC
	`
	rows, err := r.pool.Query(ctx, query, queryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get query: %w", err)
	}
	defer rows.Close()

	var result *domain.QueryResult
	var ancestors []uuid.UUID
	for rows.Next() {
		var (
			q          domain.QueryResult
			columnsRaw []byte
			depth      int
		)
		if err := rows.Scan(&q.QueryID, &q.SQL, &columnsRaw, &q.RowCount, &q.CreatedAt, &depth); err != nil {
			return nil, fmt.Errorf("failed to scan query: %w", err)
		}
		if len(columnsRaw) > 0 {
			if err := json.Unmarshal(columnsRaw, &q.Columns); err != nil {
				return nil, fmt.Errorf("failed to unmarshal columns: %w", err)
			}
		}
		if depth == 0 {
			result = &q
		} else {
			// Deeper rows are older ancestors; prepend.
			ancestors = append([]uuid.UUID{q.QueryID}, ancestors...)
		}
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read query chain: %w", err)
	}
	if result == nil {
		return nil, domain.ErrNotFound
	}

	result.Parents = ancestors
	return result, nil
}
