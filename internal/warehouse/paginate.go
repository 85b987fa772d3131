package warehouse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/querydeck/querydeck/internal/domain"
)

// Stored SQL gets wrapped in a windowed subquery for pagination. The
// inner query's final ORDER BY and trailing LIMIT/OFFSET/FETCH are
// removed conservatively from the tail only, so clauses inside CTEs and
// subqueries stay untouched.
var (
	// Both patterns are anchored to the end of the statement. An ORDER
	// BY whose expressions contain parentheses or one buried inside a
	// CTE or subquery never matches, which errs on the side of leaving
	// the stored SQL alone.
	trailingLimitRe = regexp.MustCompile(
		`(?is)(\s+LIMIT\s+\d+(\s+OFFSET\s+\d+)?|\s+OFFSET\s+\d+(\s+ROWS?)?(\s+FETCH\s+(FIRST|NEXT)\s+\d+\s+ROWS?\s+ONLY)?|\s+FETCH\s+(FIRST|NEXT)\s+\d+\s+ROWS?\s+ONLY)\s*$`)
	orderByTailRe = regexp.MustCompile(
		`(?is)\s+ORDER\s+BY\s+[^();]*$`)

	// Bare or alias-qualified identifiers only; anything else is
	// rejected rather than escaped.
	identifierRe = regexp.MustCompile(
		`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
)

// stripTrailingClauses removes the final ORDER BY and any trailing
// LIMIT/OFFSET/FETCH from stored SQL so the outer wrapper controls both
func stripTrailingClauses(sql string) string {
	s := strings.TrimSuffix(strings.TrimSpace(sql), ";")

	if loc := trailingLimitRe.FindStringIndex(s); loc != nil {
		s = s[:loc[0]]
	}

	if loc := orderByTailRe.FindStringIndex(s); loc != nil {
		s = s[:loc[0]]
	}

	return strings.TrimSpace(s)
}

// SanitizeSortColumn normalizes a caller-supplied sort column: strips
// accidental quoting, rejects non-identifiers and keeps only the final
// segment of alias-qualified names (the outer SELECT alias).
func SanitizeSortColumn(sortBy string) (string, bool) {
	sb := strings.TrimSpace(sortBy)
	if sb == "" {
		return "", false
	}

	if len(sb) >= 2 {
		quoted := (sb[0] == '"' && sb[len(sb)-1] == '"') || (sb[0] == '`' && sb[len(sb)-1] == '`')
		if quoted {
			sb = strings.TrimSpace(sb[1 : len(sb)-1])
		}
	}

	if !identifierRe.MatchString(sb) {
		return "", false
	}

	if i := strings.LastIndex(sb, "."); i >= 0 {
		sb = sb[i+1:]
	}
	return sb, true
}

// ValidateSortColumn checks a sanitized sort column against the stored
// column metadata and returns the canonical column name
func ValidateSortColumn(sortBy string, columns []domain.ColumnInfo) (string, error) {
	sb, ok := SanitizeSortColumn(sortBy)
	if !ok {
		return "", fmt.Errorf("invalid sort column %q", sortBy)
	}

	for _, col := range columns {
		if strings.EqualFold(col.Name, sb) {
			return col.Name, nil
		}
	}
	return "", fmt.Errorf("unknown sort column %q", sortBy)
}

// BuildPaginatedSQL wraps stored SQL in a windowed subquery with an
// optional ORDER BY and a total row count. limit and offset are
// inlined: they are validated integers, and placeholder syntax differs
// across warehouse drivers.
func BuildPaginatedSQL(sql, sortBy, sortOrder string, limit, offset int) string {
	inner := stripTrailingClauses(sql)

	var b strings.Builder
	b.WriteString("SELECT t.*, COUNT(*) OVER () AS total_count FROM (\n")
	b.WriteString(inner)
	b.WriteString("\n) AS t")

	if sortBy != "" {
		dir := "ASC"
		if strings.EqualFold(sortOrder, "desc") {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY %s %s", sortBy, dir)
	}

	fmt.Fprintf(&b, " LIMIT %d OFFSET %d", limit, offset)
	return b.String()
}
