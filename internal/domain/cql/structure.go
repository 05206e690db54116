package cql

import (
	"regexp"
	"strings"
)

var (
	libraryPattern   = regexp.MustCompile(`(?m)^\s*library\s+(\w+)(?:\s+version\s+'([^']+)')?`)
	parameterPattern = regexp.MustCompile(`(?m)^\s*parameter\s+"([^"]+)"\s+([^\n]+?)\s*$`)
	definePattern    = regexp.MustCompile(`(?m)^\s*define\s+(?:function\s+)?"([^"]+)"`)
)

// Population criteria recognised by name, keyed by their snake_case form.
var populationNames = map[string]string{
	"initial population":     "initial_population",
	"denominator":            "denominator",
	"denominator exclusion":  "denominator_exclusion",
	"denominator exclusions": "denominator_exclusion",
	"denominator exception":  "denominator_exception",
	"denominator exceptions": "denominator_exception",
	"numerator":              "numerator",
	"numerator exclusion":    "numerator_exclusion",
	"numerator exclusions":   "numerator_exclusion",
	"measure population":     "measure_population",
}

// LexicalStructure derives a Structure from declarations alone. It is used
// when no richer parse is available and to backfill fields a parser missed.
func LexicalStructure(text string, e *Extractor) *Structure {
	s := &Structure{
		Populations: map[string]string{},
		Parameters:  []Parameter{},
		Definitions: []Definition{},
	}

	if m := libraryPattern.FindStringSubmatch(text); m != nil {
		s.LibraryName, s.LibraryVersion = m[1], m[2]
	}
	_, s.ValueSets = e.ExtractValueSets(text)
	s.Codes = e.ExtractIndividualCodes(text)
	s.Includes = ParseIncludes(text)

	for _, m := range parameterPattern.FindAllStringSubmatch(text, -1) {
		s.Parameters = append(s.Parameters, Parameter{Name: m[1], Type: strings.TrimSpace(m[2])})
	}
	for _, m := range definePattern.FindAllStringSubmatch(text, -1) {
		name := m[1]
		s.Definitions = append(s.Definitions, Definition{Name: name})
		if key, ok := populationNames[strings.ToLower(name)]; ok {
			s.Populations[key] = name
		}
	}
	return s
}

// Backfill fills empty fields of s from the lexical structure of text. Value
// sets and codes always come from the extractor so generation hints agree
// with the registry.
func Backfill(s *Structure, text string, e *Extractor) *Structure {
	lex := LexicalStructure(text, e)
	if s == nil {
		return lex
	}
	if s.LibraryName == "" {
		s.LibraryName = lex.LibraryName
	}
	if s.LibraryVersion == "" {
		s.LibraryVersion = lex.LibraryVersion
	}
	s.ValueSets = lex.ValueSets
	s.Codes = lex.Codes
	if len(s.Includes) == 0 {
		s.Includes = lex.Includes
	}
	if len(s.Parameters) == 0 {
		s.Parameters = lex.Parameters
	}
	if len(s.Definitions) == 0 {
		s.Definitions = lex.Definitions
	}
	if len(s.Populations) == 0 {
		s.Populations = lex.Populations
	}
	return s
}
