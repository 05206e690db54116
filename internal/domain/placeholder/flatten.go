package placeholder

import "strings"

// Flatten expands concept id lists whose elements may be parenthesized,
// comma-separated groups such as "(2, 3)", recursively. Pieces are trimmed
// and empty pieces dropped. Flattening a flat list returns it unchanged.
func Flatten(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = appendFlat(out, id)
	}
	return out
}

func appendFlat(out []string, id string) []string {
	s := strings.TrimSpace(id)
	if s == "" {
		return out
	}
	if !wrapped(s) {
		return append(out, s)
	}
	for _, piece := range splitTop(s[1 : len(s)-1]) {
		out = appendFlat(out, piece)
	}
	return out
}

// splitTop splits s on commas that are not nested inside parentheses.
func splitTop(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

// wrapped reports whether s is enclosed by a single matching pair of
// parentheses, so "(1), (2)" is not.
func wrapped(s string) bool {
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return false
	}
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i != len(s)-1 {
				return false
			}
		}
	}
	return depth == 0
}
