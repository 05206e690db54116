package placeholder

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cql2omop/cql2omop/internal/platform/dialect"
)

// Longest stretch of text before a token inspected for a surrounding form.
const prefixWindow = 256

var (
	inSubqueryPrefix = regexp.MustCompile(`(?i)\bIN\s*\(\s*SELECT\s+value\s+FROM\s+$`)
	selectFromPrefix = regexp.MustCompile(`(?i)\bSELECT\s+value\s+FROM(?:\s+|\s*(\()\s*)$`)
	openParenPrefix  = regexp.MustCompile(`\(\s*$`)
	closeParenSuffix = regexp.MustCompile(`^\s*\)`)
)

// Form is the surface syntax a token occurrence was found in.
type Form int

const (
	FormInSubquery Form = iota + 1 // IN (SELECT value FROM TOKEN)
	FormSelectFrom                 // SELECT value FROM (TOKEN) or SELECT value FROM TOKEN
	FormParenthesized              // (TOKEN)
	FormBare                       // TOKEN
)

// Result is the outcome of substituting one SQL text.
type Result struct {
	SQL              string   `json:"final_sql"`
	Success          bool     `json:"success"`
	Found            []string `json:"placeholders_found"`
	ReplacementsMade int      `json:"replacements_made"`
	Unmapped         []string `json:"unmapped_placeholders"`
	Remaining        []string `json:"remaining_placeholders"`
	TotalConceptIDs  int      `json:"total_concept_ids_used"`
	SQLLengthBefore  int      `json:"sql_length_before"`
	SQLLengthAfter   int      `json:"sql_length_after"`
	Message          string   `json:"message,omitempty"`
	Suggestion       string   `json:"suggestion,omitempty"`
}

// Engine rewrites placeholder tokens in SQL into concept id lists.
type Engine struct {
	logger zerolog.Logger
}

func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{logger: logger.With().Str("component", "placeholder_engine").Logger()}
}

// Substitute replaces every registered token in sql. Each occurrence is
// rewritten according to the form it appears in, checked in this order:
//
//	IN (SELECT value FROM TOKEN)   -> IN (ids), or a VALUES table on sqlserver
//	SELECT value FROM (TOKEN)      -> ids, or a VALUES table on sqlserver
//	(TOKEN)                        -> (ids)
//	TOKEN                          -> (ids)
//
// An empty id list renders as NULL. Tokens missing from the registry are left
// in place and reported as unmapped. The output is rescanned afterwards; the
// result succeeds only when no token remains.
func (e *Engine) Substitute(sql string, registry Registry, d dialect.Dialect) *Result {
	res := &Result{
		SQL:             sql,
		Found:           []string{},
		Unmapped:        []string{},
		Remaining:       []string{},
		SQLLengthBefore: len(sql),
		SQLLengthAfter:  len(sql),
	}
	if strings.TrimSpace(sql) == "" {
		res.Message = "no SQL provided"
		res.Suggestion = "generate SQL with placeholders before finalizing"
		return res
	}

	res.Found = Find(sql)
	if len(registry) == 0 && len(res.Found) > 0 {
		e.logger.Warn().Int("placeholders", len(res.Found)).Msg("no placeholder mappings provided")
	}

	flat := make(map[string][]string)
	for _, t := range res.Found {
		ids, ok := registry[t]
		if !ok {
			res.Unmapped = append(res.Unmapped, t)
			e.logger.Error().Str("placeholder", t).Msg("no mapping found for placeholder")
			continue
		}
		flat[t] = Flatten(ids)
		res.ReplacementsMade++
		res.TotalConceptIDs += len(flat[t])
		if len(flat[t]) == 0 {
			e.logger.Warn().Str("placeholder", t).Msg("no OMOP concepts for placeholder, using NULL")
		}
	}

	var b strings.Builder
	b.Grow(len(sql))
	cursor := 0
	for _, loc := range tokenPattern.FindAllStringIndex(sql, -1) {
		start, end := loc[0], loc[1]
		ids, ok := flat[sql[start:end]]
		if !ok {
			continue
		}
		form, from, to := classify(sql, cursor, start, end)
		b.WriteString(sql[cursor:from])
		b.WriteString(render(form, ids, d))
		cursor = to
	}
	b.WriteString(sql[cursor:])

	res.SQL = b.String()
	res.SQLLengthAfter = len(res.SQL)
	res.Remaining = Find(res.SQL)
	res.Success = len(res.Remaining) == 0

	switch {
	case res.Success:
		e.logger.Info().
			Int("found", len(res.Found)).
			Int("replaced", res.ReplacementsMade).
			Int("concept_ids", res.TotalConceptIDs).
			Msg("placeholders replaced")
	case len(registry) == 0:
		res.Message = "no placeholder mappings provided"
		res.Suggestion = "run the extraction step first to build placeholder mappings"
	default:
		e.logger.Error().Strs("remaining", res.Remaining).Msg("unreplaced placeholders remain")
		res.Message = fmt.Sprintf("%d placeholder(s) could not be resolved", len(res.Remaining))
		res.Suggestion = "check that every value set and code referenced by the SQL was extracted and mapped"
	}
	return res
}

// classify finds the form of the token occurrence at [start, end) and the
// span [from, to) of sql it covers. from never precedes floor.
func classify(sql string, floor, start, end int) (form Form, from, to int) {
	lo := start - prefixWindow
	if lo < floor {
		lo = floor
	}
	prefix := sql[lo:start]
	suffix := sql[end:]

	if m := inSubqueryPrefix.FindStringIndex(prefix); m != nil {
		if s := closeParenSuffix.FindStringIndex(suffix); s != nil {
			return FormInSubquery, lo + m[0], end + s[1]
		}
	}
	if m := selectFromPrefix.FindStringSubmatchIndex(prefix); m != nil {
		if m[2] < 0 {
			return FormSelectFrom, lo + m[0], end
		}
		if s := closeParenSuffix.FindStringIndex(suffix); s != nil {
			return FormSelectFrom, lo + m[0], end + s[1]
		}
	}
	if m := openParenPrefix.FindStringIndex(prefix); m != nil {
		if s := closeParenSuffix.FindStringIndex(suffix); s != nil {
			return FormParenthesized, lo + m[0], end + s[1]
		}
	}
	return FormBare, start, end
}

func render(form Form, ids []string, d dialect.Dialect) string {
	list := "NULL"
	if len(ids) > 0 {
		list = strings.Join(ids, ", ")
	}
	valuesTable := d == dialect.SQLServer && len(ids) > 0

	switch form {
	case FormInSubquery:
		if valuesTable {
			return "IN (SELECT value FROM " + values(ids) + ")"
		}
		return "IN (" + list + ")"
	case FormSelectFrom:
		if valuesTable {
			return "SELECT value FROM " + values(ids)
		}
		return list
	default:
		return "(" + list + ")"
	}
}

// values renders ids as a single-column VALUES table named t(value).
func values(ids []string) string {
	rows := make([]string, len(ids))
	for i, id := range ids {
		rows[i] = "(" + id + ")"
	}
	return "(VALUES " + strings.Join(rows, ", ") + ") AS t(value)"
}
