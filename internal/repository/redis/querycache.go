package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/querydeck/querydeck/internal/domain"
)

const (
	queryCachePrefix = "query:"
	queryCacheTTL    = 10 * time.Minute
)

// QueryCache caches resolved query metadata by query id. Query rows are
// immutable once written, so a cache hit never serves stale SQL; the
// TTL only bounds memory.
type QueryCache struct {
	client *Client
}

// NewQueryCache creates a new query metadata cache
func NewQueryCache(client *Client) *QueryCache {
	return &QueryCache{client: client}
}

// Get retrieves cached metadata for a query. A miss returns (nil, nil).
func (c *QueryCache) Get(ctx context.Context, queryID uuid.UUID) (*domain.QueryResult, error) {
	key := queryCachePrefix + queryID.String()

	data, err := c.client.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, nil // Cache miss or Redis unavailable; caller falls through to the database
	}

	var query domain.QueryResult
	if err := json.Unmarshal(data, &query); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached query: %w", err)
	}

	return &query, nil
}

// Set caches metadata for a query
func (c *QueryCache) Set(ctx context.Context, query *domain.QueryResult) error {
	key := queryCachePrefix + query.QueryID.String()

	data, err := json.Marshal(query)
	if err != nil {
		return fmt.Errorf("failed to marshal query: %w", err)
	}

	return c.client.rdb.Set(ctx, key, data, queryCacheTTL).Err()
}
