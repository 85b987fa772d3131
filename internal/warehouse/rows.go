package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/querydeck/querydeck/internal/config"
	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/security"
)

// Warehouse fetches result rows by re-executing stored query SQL with a
// pagination window. The analytical database is separate from the
// application database and is selected by driver name (pgx, mysql,
// sqlite).
type Warehouse struct {
	db        *sql.DB
	validator *security.SQLValidator
	maxRows   int
	timeout   time.Duration
}

// Open connects to the warehouse database
func Open(cfg config.WarehouseConfig) (*Warehouse, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping warehouse: %w", err)
	}

	return &Warehouse{
		db:        db,
		validator: security.NewSQLValidator(),
		maxRows:   cfg.MaxRows,
		timeout:   cfg.QueryTimeout,
	}, nil
}

// Close closes the warehouse connection
func (w *Warehouse) Close() error {
	return w.db.Close()
}

// FetchPage executes one page of a stored query. sortBy, when present,
// is validated against the stored column metadata before it reaches the
// SQL text.
func (w *Warehouse) FetchPage(ctx context.Context, query *domain.QueryResult, limit, offset int, sortBy, sortOrder string) (*domain.RowPage, error) {
	if err := w.validator.Validate(query.SQL); err != nil {
		return nil, fmt.Errorf("stored SQL rejected: %w", err)
	}

	if limit <= 0 || limit > w.maxRows {
		limit = w.maxRows
	}
	if offset < 0 {
		offset = 0
	}

	if sortBy != "" {
		canonical, err := ValidateSortColumn(sortBy, query.Columns)
		if err != nil {
			return nil, err
		}
		sortBy = canonical
	}

	paginated := BuildPaginatedSQL(query.SQL, sortBy, sortOrder, limit, offset)

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	rows, err := w.db.QueryContext(ctx, paginated)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query page: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	page := &domain.RowPage{
		QueryID: query.QueryID,
		Limit:   limit,
		Offset:  offset,
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if strings.EqualFold(col, "total_count") {
				page.TotalRows = toInt64(values[i])
				continue
			}
			row[col] = normalizeValue(values[i])
		}
		page.Rows = append(page.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	for _, col := range columns {
		if !strings.EqualFold(col, "total_count") {
			page.Columns = append(page.Columns, col)
		}
	}

	return page, nil
}

// normalizeValue converts driver-specific scan results into
// JSON-friendly values
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case []byte:
		var out int64
		fmt.Sscanf(string(n), "%d", &out)
		return out
	}
	return 0
}
