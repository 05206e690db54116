package cql

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cql2omop/cql2omop/internal/platform/llm"
)

// Parser produces the structure of a CQL document.
type Parser interface {
	Parse(ctx context.Context, text string, libraries []Library) (*Structure, error)
}

const parseSystemPrompt = `You analyse Clinical Quality Language (CQL) measure libraries.
Return a single JSON object with the keys: library_name, library_version,
valuesets (list of {name, oid}), codes (list of {name, code, system}),
includes (list of {name, version, alias}), parameters (list of {name, type}),
definitions (list of {name, expression}), populations (object mapping
initial_population, denominator, denominator_exclusion, denominator_exception,
numerator, numerator_exclusion to the defining expression name).
Do not translate the logic. Report only what is declared.`

// LLMParser asks a completion service for the structure and backfills
// anything it leaves out from the declarations themselves.
type LLMParser struct {
	completer llm.Completer
	extractor *Extractor
	logger    zerolog.Logger
}

func NewLLMParser(completer llm.Completer, extractor *Extractor, logger zerolog.Logger) *LLMParser {
	return &LLMParser{
		completer: completer,
		extractor: extractor,
		logger:    logger.With().Str("component", "cql_parser").Logger(),
	}
}

func (p *LLMParser) Parse(ctx context.Context, text string, libraries []Library) (*Structure, error) {
	var b strings.Builder
	b.WriteString("Main library:\n")
	b.WriteString(text)
	for _, lib := range libraries {
		fmt.Fprintf(&b, "\n\nIncluded library %s (version %s):\n%s", lib.Name, lib.Version, lib.Text)
	}

	raw, err := p.completer.Complete(ctx, parseSystemPrompt, b.String())
	if err != nil {
		return nil, fmt.Errorf("parse cql: %w", err)
	}

	parsed := llm.Parse(raw)
	if parsed.Kind == llm.Unwrapped {
		p.logger.Debug().Str("wrapper", parsed.WrapperKey).Msg("unwrapped parser response")
	}
	var s Structure
	if err := parsed.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse cql: %w", err)
	}

	out := Backfill(&s, text, p.extractor)
	if len(libraries) > 0 {
		out.LibraryDefinitions = make(map[string][]Definition, len(libraries))
		for _, lib := range libraries {
			out.LibraryDefinitions[lib.Name] = LexicalStructure(lib.Text, p.extractor).Definitions
		}
	}
	return out, nil
}
