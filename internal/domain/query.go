package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ColumnInfo describes one result column
type ColumnInfo struct {
	Name     string `json:"name"`
	DataType string `json:"data_type,omitempty"`
}

// QueryResult is the stored metadata for one generated query. Parents
// holds ancestor query ids in root-to-leaf order; each query has at most
// one direct parent, so the chain is a simple list, not a DAG.
type QueryResult struct {
	QueryID   uuid.UUID    `json:"query_id"`
	SQL       string       `json:"sql"`
	Columns   []ColumnInfo `json:"columns"`
	RowCount  int64        `json:"row_count"`
	Parents   []uuid.UUID  `json:"parents,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// ColumnNames returns the ordered column names
func (q *QueryResult) ColumnNames() []string {
	names := make([]string, len(q.Columns))
	for i, c := range q.Columns {
		names[i] = c.Name
	}
	return names
}

// QueryRepository defines the interface for query metadata storage
type QueryRepository interface {
	Get(ctx context.Context, queryID uuid.UUID) (*QueryResult, error)
	Create(ctx context.Context, query *QueryResult) error
}

// RowPage is one page of result rows for a query
type RowPage struct {
	QueryID   uuid.UUID        `json:"query_id"`
	Limit     int              `json:"limit"`
	Offset    int              `json:"offset"`
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	TotalRows int64            `json:"total_rows"`
}

// HasMore reports whether rows beyond this page exist
func (p *RowPage) HasMore() bool {
	return len(p.Rows) == p.Limit && int64(p.Offset+len(p.Rows)) < p.TotalRows
}
