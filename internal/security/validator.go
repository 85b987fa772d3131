package security

import (
	"regexp"
	"strings"
)

// SQLValidator guards stored query SQL before it is wrapped and executed
// against the warehouse. Stored SQL comes from the generation pipeline,
// but rows are fetched with warehouse credentials, so only read-only
// statements pass.
type SQLValidator struct {
	blockedPatterns []*regexp.Regexp
}

// NewSQLValidator creates a new SQL validator
func NewSQLValidator() *SQLValidator {
	patterns := []string{
		`(?i)\bINSERT\b`,
		`(?i)\bUPDATE\b`,
		`(?i)\bDELETE\b`,
		`(?i)\bDROP\b`,
		`(?i)\bTRUNCATE\b`,
		`(?i)\bALTER\b`,
		`(?i)\bCREATE\b`,
		`(?i)\bGRANT\b`,
		`(?i)\bREVOKE\b`,
		`(?i)\bEXECUTE?\b`,
		`(?i)\bCOPY\b`,
		`(?i)\bINTO\s+(OUTFILE|DUMPFILE)\b`,
		`(?i)\bLOAD_FILE\b`,
		`(?i)pg_(read|write)_file`,
		`(?i)pg_ls_dir`,
		`(?i)lo_(im|ex)port`,
		`(?i)dblink`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}

	return &SQLValidator{blockedPatterns: compiled}
}

// ValidationError represents a SQL validation error
type ValidationError struct {
	Message string
	Pattern string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validate checks whether stored SQL is safe to wrap and execute
func (v *SQLValidator) Validate(sql string) error {
	sql = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sql), ";"))
	if sql == "" {
		return &ValidationError{Message: "empty SQL query"}
	}

	if strings.Contains(sql, ";") {
		return &ValidationError{Message: "multiple statements not allowed"}
	}

	normalized := strings.ToUpper(sql)
	if !strings.HasPrefix(normalized, "SELECT") && !strings.HasPrefix(normalized, "WITH") {
		return &ValidationError{Message: "only SELECT statements allowed"}
	}

	for _, pattern := range v.blockedPatterns {
		if pattern.MatchString(sql) {
			return &ValidationError{
				Message: "blocked SQL pattern detected",
				Pattern: pattern.String(),
			}
		}
	}

	return nil
}
