package sqlgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cql2omop/cql2omop/internal/domain/cql"
	"github.com/cql2omop/cql2omop/internal/domain/placeholder"
	"github.com/cql2omop/cql2omop/internal/platform/dialect"
	"github.com/cql2omop/cql2omop/internal/platform/llm"
)

var ErrEmptySQL = errors.New("completion contained no sql")

const generateSystemPrompt = `You write SQL over the OMOP Common Data Model v5.4 from a parsed
Clinical Quality Language measure. Return a single JSON object with the keys:
sql (the complete query), ctes (list of CTE names in order), main_query (the final
SELECT), placeholders_used (list of placeholder tokens referenced).

Concept sets are represented by placeholder tokens supplied with the request.
- Use only the supplied tokens and copy them exactly. Never invent a token.
- Never inline concept ids and never look codes up in the concept table.
- Write concept filters as: <column>_concept_id IN (PLACEHOLDER_...).
- Build one CTE per CQL definition and one per population.
- Write SQL valid for the requested dialect.`

type generateRequest struct {
	Dialect      dialect.Dialect    `json:"dialect"`
	Structure    *cql.Structure     `json:"cql_structure"`
	Placeholders []placeholder.Hint `json:"placeholders"`
}

// LLMGenerator writes SQL skeletons through a completion service.
type LLMGenerator struct {
	completer llm.Completer
	logger    zerolog.Logger
}

func NewLLMGenerator(completer llm.Completer, logger zerolog.Logger) *LLMGenerator {
	return &LLMGenerator{
		completer: completer,
		logger:    logger.With().Str("component", "sql_generator").Logger(),
	}
}

func (g *LLMGenerator) Generate(ctx context.Context, s *cql.Structure, hints []placeholder.Hint, d dialect.Dialect) (*Skeleton, error) {
	body, err := json.MarshalIndent(generateRequest{Dialect: d, Structure: s, Placeholders: hints}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode generation request: %w", err)
	}

	raw, err := g.completer.Complete(ctx, generateSystemPrompt, string(body))
	if err != nil {
		return nil, fmt.Errorf("generate sql: %w", err)
	}

	var sk Skeleton
	if err := llm.Parse(raw).Decode(&sk); err != nil {
		return nil, fmt.Errorf("generate sql: %w", err)
	}
	sk.SQL = cleanSQL(sk.SQL)
	if sk.SQL == "" {
		return nil, fmt.Errorf("generate sql: %w", ErrEmptySQL)
	}
	sk.Dialect = d
	if sk.CTEs == nil {
		sk.CTEs = []string{}
	}
	// The tokens actually present are authoritative over what the model listed.
	sk.PlaceholdersUsed = placeholder.Find(sk.SQL)

	if unknown := Unexpected(sk.SQL, hints); len(unknown) > 0 {
		g.logger.Warn().Strs("placeholders", unknown).Msg("generated sql references tokens that were not supplied")
	}
	g.logger.Info().
		Int("sql_length", len(sk.SQL)).
		Int("ctes", len(sk.CTEs)).
		Int("placeholders", len(sk.PlaceholdersUsed)).
		Msg("sql skeleton generated")
	return &sk, nil
}
