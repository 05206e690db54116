package sqlgen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cql2omop/cql2omop/internal/domain/cql"
	"github.com/cql2omop/cql2omop/internal/platform/dialect"
	"github.com/cql2omop/cql2omop/internal/platform/llm"
)

const validateSystemPrompt = `You review SQL written over the OMOP Common Data Model v5.4 against the
parsed Clinical Quality Language measure it implements. Return a single JSON object
with the keys: issues (list of {severity, category, message, location, suggestion})
and improvements (list of strings).
severity is one of error, warning, info. Use error only for problems that make the
query wrong or unexecutable. category is one of syntax, semantic, completeness,
performance.
Tokens starting with PLACEHOLDER_ are substituted with concept id lists later; they
are correct as written and must not be reported.`

type validateRequest struct {
	Dialect   dialect.Dialect `json:"dialect"`
	SQL       string          `json:"sql"`
	Structure *cql.Structure  `json:"cql_structure"`
}

type validateResponse struct {
	Issues       []Issue  `json:"issues"`
	Improvements []string `json:"improvements"`
}

// LLMValidator combines a deterministic syntax check with a completion
// service review.
type LLMValidator struct {
	completer llm.Completer
	logger    zerolog.Logger
}

func NewLLMValidator(completer llm.Completer, logger zerolog.Logger) *LLMValidator {
	return &LLMValidator{
		completer: completer,
		logger:    logger.With().Str("component", "sql_validator").Logger(),
	}
}

// Validate always returns a result. A failed review is reported as the error
// alongside a result carrying only the syntax check.
func (v *LLMValidator) Validate(ctx context.Context, sql string, s *cql.Structure, d dialect.Dialect) (*ValidationResult, error) {
	res := &ValidationResult{Issues: []Issue{}, Improvements: []string{}}
	res.Issues = append(res.Issues, CheckSyntax(sql, d)...)
	defer func() {
		res.finalize()
		v.logger.Info().
			Bool("valid", res.Valid).
			Int("errors", res.Statistics.Errors).
			Int("warnings", res.Statistics.Warnings).
			Msg("sql validated")
	}()

	body, err := json.MarshalIndent(validateRequest{Dialect: d, SQL: sql, Structure: s}, "", "  ")
	if err != nil {
		return res, fmt.Errorf("encode validation request: %w", err)
	}
	raw, err := v.completer.Complete(ctx, validateSystemPrompt, string(body))
	if err != nil {
		return res, fmt.Errorf("validate sql: %w", err)
	}
	var out validateResponse
	if err := llm.Parse(raw).Decode(&out); err != nil {
		return res, fmt.Errorf("validate sql: %w", err)
	}

	for _, i := range out.Issues {
		res.Issues = append(res.Issues, normalizeIssue(i))
	}
	if out.Improvements != nil {
		res.Improvements = out.Improvements
	}
	return res, nil
}

func normalizeIssue(i Issue) Issue {
	switch Severity(strings.ToLower(strings.TrimSpace(string(i.Severity)))) {
	case SeverityError, "critical", "fatal":
		i.Severity = SeverityError
	case SeverityInfo, "information", "note":
		i.Severity = SeverityInfo
	default:
		i.Severity = SeverityWarning
	}
	switch c := Category(strings.ToLower(strings.TrimSpace(string(i.Category)))); c {
	case CategorySyntax, CategorySemantic, CategoryCompleteness, CategoryPerformance:
		i.Category = c
	default:
		i.Category = CategorySemantic
	}
	return i
}
