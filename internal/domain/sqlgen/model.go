package sqlgen

import (
	"context"

	"github.com/cql2omop/cql2omop/internal/domain/cql"
	"github.com/cql2omop/cql2omop/internal/domain/placeholder"
	"github.com/cql2omop/cql2omop/internal/platform/dialect"
)

// Skeleton is generated SQL whose concept sets are still placeholder tokens.
type Skeleton struct {
	SQL              string          `json:"sql"`
	CTEs             []string        `json:"ctes"`
	MainQuery        string          `json:"main_query"`
	PlaceholdersUsed []string        `json:"placeholders_used"`
	Dialect          dialect.Dialect `json:"dialect"`
}

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

type Category string

const (
	CategorySyntax       Category = "syntax"
	CategorySemantic     Category = "semantic"
	CategoryCompleteness Category = "completeness"
	CategoryPerformance  Category = "performance"
)

type Issue struct {
	Severity   Severity `json:"severity"`
	Category   Category `json:"category"`
	Message    string   `json:"message"`
	Location   string   `json:"location,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

type IssueCounts struct {
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Info     int `json:"info"`
}

// ValidationResult is valid exactly when no issue has error severity.
type ValidationResult struct {
	Valid        bool        `json:"valid"`
	Issues       []Issue     `json:"issues"`
	Statistics   IssueCounts `json:"statistics"`
	Improvements []string    `json:"improvements"`
}

// Errors returns the error-severity issues.
func (v *ValidationResult) Errors() []Issue {
	out := []Issue{}
	for _, i := range v.Issues {
		if i.Severity == SeverityError {
			out = append(out, i)
		}
	}
	return out
}

// finalize recomputes the counts and validity from the issues.
func (v *ValidationResult) finalize() {
	v.Statistics = IssueCounts{}
	for _, i := range v.Issues {
		switch i.Severity {
		case SeverityError:
			v.Statistics.Errors++
		case SeverityWarning:
			v.Statistics.Warnings++
		default:
			v.Statistics.Info++
		}
	}
	v.Valid = v.Statistics.Errors == 0
}

type Correction struct {
	CorrectedSQL string   `json:"corrected_sql"`
	ChangesMade  []string `json:"changes_made"`
	Success      bool     `json:"success"`
	Message      string   `json:"message,omitempty"`
}

// Generator writes a SQL skeleton for a measure using exactly the supplied
// placeholder tokens.
type Generator interface {
	Generate(ctx context.Context, s *cql.Structure, hints []placeholder.Hint, d dialect.Dialect) (*Skeleton, error)
}

// Validator reports issues in generated SQL.
type Validator interface {
	Validate(ctx context.Context, sql string, s *cql.Structure, d dialect.Dialect) (*ValidationResult, error)
}

// Corrector rewrites SQL to fix validation errors. Placeholder tokens must
// come back unchanged.
type Corrector interface {
	Correct(ctx context.Context, sql string, v *ValidationResult, d dialect.Dialect) (*Correction, error)
}
