package sqlgen

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cql2omop/cql2omop/internal/domain/placeholder"
)

var ErrTokensChanged = errors.New("placeholder tokens changed")

// TokenDiff compares placeholder occurrences of two SQL texts. missing lists
// tokens that occur fewer times in after, added those that occur more often,
// each in order of first appearance.
func TokenDiff(before, after string) (missing, added []string) {
	b, a := placeholder.Count(before), placeholder.Count(after)
	for _, t := range placeholder.Find(before) {
		if a[t] < b[t] {
			missing = append(missing, t)
		}
	}
	for _, t := range placeholder.Find(after) {
		if a[t] > b[t] {
			added = append(added, t)
		}
	}
	return missing, added
}

// CheckTokens returns ErrTokensChanged when after does not carry every
// placeholder token of before exactly as often.
func CheckTokens(before, after string) error {
	missing, added := TokenDiff(before, after)
	if len(missing) == 0 && len(added) == 0 {
		return nil
	}
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing "+strings.Join(missing, ", "))
	}
	if len(added) > 0 {
		parts = append(parts, "added "+strings.Join(added, ", "))
	}
	return fmt.Errorf("%w: %s", ErrTokensChanged, strings.Join(parts, "; "))
}

// Unexpected lists tokens in sql that none of hints supplied.
func Unexpected(sql string, hints []placeholder.Hint) []string {
	known := make(map[string]bool, len(hints))
	for _, h := range hints {
		known[h.Token] = true
	}
	out := []string{}
	for _, t := range placeholder.Find(sql) {
		if !known[t] {
			out = append(out, t)
		}
	}
	return out
}

// cleanSQL strips markdown fences a completion may wrap SQL in.
func cleanSQL(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], " ;") {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
