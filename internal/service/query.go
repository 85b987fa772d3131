package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/repository/redis"
	"github.com/querydeck/querydeck/internal/warehouse"
)

// QueryService serves stored query metadata and result pages. Metadata
// reads go through the Redis cache; rows are always fetched fresh from
// the warehouse with a pagination window.
type QueryService struct {
	queryRepo  domain.QueryRepository
	queryCache *redis.QueryCache
	warehouse  *warehouse.Warehouse
}

// NewQueryService creates a new query service
func NewQueryService(
	queryRepo domain.QueryRepository,
	queryCache *redis.QueryCache,
	wh *warehouse.Warehouse,
) *QueryService {
	return &QueryService{
		queryRepo:  queryRepo,
		queryCache: queryCache,
		warehouse:  wh,
	}
}

// GetQuery returns metadata for a stored query, cache-aside
func (s *QueryService) GetQuery(ctx context.Context, queryID uuid.UUID) (*domain.QueryResult, error) {
	if s.queryCache != nil {
		if cached, err := s.queryCache.Get(ctx, queryID); err == nil && cached != nil {
			return cached, nil
		}
	}

	query, err := s.queryRepo.Get(ctx, queryID)
	if err != nil {
		return nil, err
	}

	if s.queryCache != nil {
		if err := s.queryCache.Set(ctx, query); err != nil {
			log.Warn().Err(err).Str("query_id", queryID.String()).Msg("Failed to cache query metadata")
		}
	}

	return query, nil
}

// FetchRows returns one page of result rows for a stored query
func (s *QueryService) FetchRows(ctx context.Context, queryID uuid.UUID, limit, offset int, sortBy, sortOrder string) (*domain.RowPage, error) {
	query, err := s.GetQuery(ctx, queryID)
	if err != nil {
		return nil, err
	}

	page, err := s.warehouse.FetchPage(ctx, query, limit, offset, sortBy, sortOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rows for query %s: %w", queryID, err)
	}

	return page, nil
}
