package placeholder

import (
	"regexp"
	"strings"
)

// Prefix starts every placeholder token.
const Prefix = "PLACEHOLDER_"

var tokenPattern = regexp.MustCompile(`PLACEHOLDER_[A-Za-z0-9_]+`)

// Token derives the placeholder for an OID or a system_code identifier:
// dots and dashes become underscores and the result is upper-cased. Any
// other character outside [A-Za-z0-9_] is also replaced with an underscore
// so the token can be spliced into SQL text as-is.
func Token(identifier string) string {
	s := strings.ReplaceAll(identifier, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ToUpper(s)
	return Prefix + strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, s)
}

// ValueSetToken is the placeholder for a value set OID.
func ValueSetToken(oid string) string {
	return Token(oid)
}

// CodeKey identifies an individual code in the registry and as the concept
// set id of its mapping rows.
func CodeKey(system, code string) string {
	return system + "_" + code
}

// CodeToken is the placeholder for an individual code.
func CodeToken(system, code string) string {
	return Token(CodeKey(system, code))
}

// IsToken reports whether s is a well-formed placeholder token.
func IsToken(s string) bool {
	loc := tokenPattern.FindStringIndex(s)
	return loc != nil && loc[0] == 0 && loc[1] == len(s)
}

// Find returns the distinct tokens in sql in order of first appearance.
func Find(sql string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, t := range tokenPattern.FindAllString(sql, -1) {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Count returns how often each token occurs in sql.
func Count(sql string) map[string]int {
	counts := make(map[string]int)
	for _, t := range tokenPattern.FindAllString(sql, -1) {
		counts[t]++
	}
	return counts
}
