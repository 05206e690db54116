package sqlgen

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cql2omop/cql2omop/internal/platform/dialect"
	"github.com/cql2omop/cql2omop/internal/platform/llm"
)

const correctSystemPrompt = `You fix SQL written over the OMOP Common Data Model v5.4. You receive the
SQL and the errors found in it. Return a single JSON object with the keys:
corrected_sql (the complete fixed query) and changes_made (list of strings).
Fix only the reported errors. Every token starting with PLACEHOLDER_ must appear in
corrected_sql exactly as in the input, with no token added or removed.`

type correctRequest struct {
	Dialect dialect.Dialect `json:"dialect"`
	SQL     string          `json:"sql"`
	Errors  []Issue         `json:"errors"`
}

type correctResponse struct {
	CorrectedSQL string   `json:"corrected_sql"`
	ChangesMade  []string `json:"changes_made"`
}

// LLMCorrector fixes validation errors through a completion service and
// rejects corrections that alter placeholder tokens.
type LLMCorrector struct {
	completer llm.Completer
	logger    zerolog.Logger
}

func NewLLMCorrector(completer llm.Completer, logger zerolog.Logger) *LLMCorrector {
	return &LLMCorrector{
		completer: completer,
		logger:    logger.With().Str("component", "sql_corrector").Logger(),
	}
}

// Correct returns sql unchanged when v reports no errors. On any failure the
// returned correction carries the original sql with Success false.
func (c *LLMCorrector) Correct(ctx context.Context, sql string, v *ValidationResult, d dialect.Dialect) (*Correction, error) {
	unchanged := &Correction{CorrectedSQL: sql, ChangesMade: []string{}}
	if v == nil || len(v.Errors()) == 0 {
		unchanged.Success = true
		unchanged.Message = "no errors to fix"
		return unchanged, nil
	}

	body, err := json.MarshalIndent(correctRequest{Dialect: d, SQL: sql, Errors: v.Errors()}, "", "  ")
	if err != nil {
		return unchanged, fmt.Errorf("encode correction request: %w", err)
	}
	raw, err := c.completer.Complete(ctx, correctSystemPrompt, string(body))
	if err != nil {
		return unchanged, fmt.Errorf("correct sql: %w", err)
	}
	var out correctResponse
	if err := llm.Parse(raw).Decode(&out); err != nil {
		return unchanged, fmt.Errorf("correct sql: %w", err)
	}
	corrected := cleanSQL(out.CorrectedSQL)
	if corrected == "" {
		return unchanged, fmt.Errorf("correct sql: %w", ErrEmptySQL)
	}
	if err := CheckTokens(sql, corrected); err != nil {
		c.logger.Error().Err(err).Msg("correction rejected")
		unchanged.Message = "correction discarded because it changed placeholder tokens"
		return unchanged, fmt.Errorf("correct sql: %w", err)
	}

	changes := out.ChangesMade
	if changes == nil {
		changes = []string{}
	}
	c.logger.Info().Int("changes", len(changes)).Int("errors", len(v.Errors())).Msg("sql corrected")
	return &Correction{CorrectedSQL: corrected, ChangesMade: changes, Success: true}, nil
}
