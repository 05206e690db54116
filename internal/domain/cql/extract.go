package cql

import (
	"regexp"

	"github.com/rs/zerolog"
)

var (
	// Only single-quoted OID literals are declarations; a double-quoted OID is
	// not matched.
	valueSetPattern = regexp.MustCompile(`(?i)valueset\s"([^"]+)":\s'urn:oid:((?:\d+\.)*\d+)'`)
	codePattern     = regexp.MustCompile(`(?i)code\s+"([^"]+)":\s+'([^']+)'\s+from\s+"([^"]+)"`)
	oidPattern      = regexp.MustCompile(`^\d+(?:\.\d+)+$`)
)

// Extractor pulls value-set and code declarations out of CQL text. It never
// fails: text without declarations yields empty results.
type Extractor struct {
	logger zerolog.Logger
}

func NewExtractor(logger zerolog.Logger) *Extractor {
	return &Extractor{logger: logger.With().Str("component", "extractor").Logger()}
}

// ExtractValueSets returns the distinct OIDs in first-seen order and one
// reference per OID. When an OID is declared under several names the first
// name wins.
func (e *Extractor) ExtractValueSets(text string) ([]string, []ValueSetReference) {
	oids := []string{}
	refs := []ValueSetReference{}
	seen := make(map[string]string)

	for _, m := range valueSetPattern.FindAllStringSubmatch(text, -1) {
		name, oid := m[1], m[2]
		if first, ok := seen[oid]; ok {
			if first != name {
				e.logger.Info().
					Str("oid", oid).
					Str("kept_name", first).
					Str("duplicate_name", name).
					Msg("value set declared under multiple names")
			}
			continue
		}
		seen[oid] = name
		oids = append(oids, oid)
		refs = append(refs, ValueSetReference{Name: name, OID: oid})
	}

	e.logger.Debug().Int("count", len(oids)).Msg("value sets extracted")
	return oids, refs
}

// ExtractIndividualCodes returns code declarations, one per (system, code).
func (e *Extractor) ExtractIndividualCodes(text string) []IndividualCodeReference {
	refs := []IndividualCodeReference{}
	seen := make(map[string]bool)

	for _, m := range codePattern.FindAllStringSubmatch(text, -1) {
		ref := IndividualCodeReference{Name: m[1], Code: m[2], System: m[3]}
		key := ref.System + "|" + ref.Code
		if seen[key] {
			continue
		}
		seen[key] = true
		refs = append(refs, ref)
	}

	e.logger.Debug().Int("count", len(refs)).Msg("individual codes extracted")
	return refs
}

// ValidateOIDs splits candidates into dot-separated numeric OIDs with at least
// one dot, and everything else.
func ValidateOIDs(oids []string) (valid, invalid []string) {
	valid = []string{}
	invalid = []string{}
	for _, oid := range oids {
		if IsValidOID(oid) {
			valid = append(valid, oid)
		} else {
			invalid = append(invalid, oid)
		}
	}
	return valid, invalid
}

func IsValidOID(oid string) bool {
	return oidPattern.MatchString(oid)
}
