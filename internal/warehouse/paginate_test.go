package warehouse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querydeck/querydeck/internal/domain"
)

func TestSanitizeSortColumn(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"plain column", "revenue", "revenue", true},
		{"alias qualified", "t.revenue", "revenue", true},
		{"double quoted", `"revenue"`, "revenue", true},
		{"backtick quoted", "`revenue`", "revenue", true},
		{"underscore and digits", "col_2", "col_2", true},
		{"empty", "", "", false},
		{"whitespace", "   ", "", false},
		{"injection attempt", "revenue; DROP TABLE users", "", false},
		{"expression", "sum(revenue)", "", false},
		{"leading digit", "2col", "", false},
		{"double dot", "a.b.c", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SanitizeSortColumn(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestValidateSortColumn(t *testing.T) {
	columns := []domain.ColumnInfo{
		{Name: "Region"},
		{Name: "total_revenue"},
	}

	got, err := ValidateSortColumn("region", columns)
	require.NoError(t, err)
	// Canonical casing from the stored metadata wins.
	assert.Equal(t, "Region", got)

	got, err = ValidateSortColumn("t.total_revenue", columns)
	require.NoError(t, err)
	assert.Equal(t, "total_revenue", got)

	_, err = ValidateSortColumn("no_such_column", columns)
	assert.Error(t, err)

	_, err = ValidateSortColumn("region; --", columns)
	assert.Error(t, err)
}

func TestStripTrailingClauses(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{
			"plain select untouched",
			"SELECT * FROM t",
			"SELECT * FROM t",
		},
		{
			"strips trailing semicolon",
			"SELECT * FROM t;",
			"SELECT * FROM t",
		},
		{
			"strips final order by",
			"SELECT * FROM t ORDER BY a DESC",
			"SELECT * FROM t",
		},
		{
			"strips order by with limit",
			"SELECT * FROM t ORDER BY a LIMIT 10",
			"SELECT * FROM t",
		},
		{
			"strips bare limit offset",
			"SELECT * FROM t LIMIT 10 OFFSET 5",
			"SELECT * FROM t",
		},
		{
			"keeps order by inside cte",
			"WITH x AS (SELECT * FROM t ORDER BY a LIMIT 5) SELECT * FROM x",
			"WITH x AS (SELECT * FROM t ORDER BY a LIMIT 5) SELECT * FROM x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripTrailingClauses(tt.sql))
		})
	}
}

func TestBuildPaginatedSQL(t *testing.T) {
	got := BuildPaginatedSQL("SELECT a, b FROM t;", "a", "desc", 50, 100)

	assert.Contains(t, got, "COUNT(*) OVER () AS total_count")
	assert.Contains(t, got, "SELECT a, b FROM t")
	assert.Contains(t, got, "ORDER BY a DESC")
	assert.Contains(t, got, "LIMIT 50 OFFSET 100")

	// No sort: no ORDER BY in the wrapper.
	got = BuildPaginatedSQL("SELECT a FROM t", "", "", 10, 0)
	assert.NotContains(t, got, "ORDER BY")
	assert.Contains(t, got, "LIMIT 10 OFFSET 0")
}
