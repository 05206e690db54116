package sqlgen

import (
	pg_query "github.com/pganalyze/pg_query_go/v5"
	"github.com/rs/zerolog"

	"github.com/cql2omop/cql2omop/internal/domain/placeholder"
	"github.com/cql2omop/cql2omop/internal/platform/dialect"
)

var syntaxEngine = placeholder.NewEngine(zerolog.Nop())

// CheckSyntax parses sql with the PostgreSQL parser after filling every
// placeholder with a single id, so the text checked has the shape the final
// SQL will have. Other dialects are not checked.
func CheckSyntax(sql string, d dialect.Dialect) []Issue {
	if d != dialect.PostgreSQL || sql == "" {
		return nil
	}
	reg := placeholder.Registry{}
	for _, t := range placeholder.Find(sql) {
		reg[t] = []string{"0"}
	}
	filled := syntaxEngine.Substitute(sql, reg, d).SQL

	if _, err := pg_query.Parse(filled); err != nil {
		return []Issue{{
			Severity:   SeverityError,
			Category:   CategorySyntax,
			Message:    "PostgreSQL parser: " + err.Error(),
			Suggestion: "fix the statement so it parses as PostgreSQL",
		}}
	}
	return nil
}
