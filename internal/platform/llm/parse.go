package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind tags how a completion was interpreted.
type Kind int

const (
	// Direct: the completion is a JSON object with at least one known key.
	Direct Kind = iota
	// Unwrapped: the object was nested under one or more wrapper keys.
	Unwrapped
	// Unparseable: no JSON object could be recovered; Raw holds the text.
	Unparseable
)

func (k Kind) String() string {
	switch k {
	case Direct:
		return "direct"
	case Unwrapped:
		return "unwrapped"
	default:
		return "unparseable"
	}
}

// ExpectedKeys are the top-level keys any of our prompts ask for.
var ExpectedKeys = []string{
	"library_name", "library_version", "sql", "ctes", "errors", "is_valid",
	"corrected_sql", "populations", "definitions", "valuesets", "includes",
	"parameters", "issues", "changes_made",
}

var wrapperKeys = []string{"result", "output", "response", "data", "final", "json", "final JSON"}

const maxUnwrapDepth = 5

// Parsed is the result of interpreting a completion.
type Parsed struct {
	Kind       Kind
	Object     map[string]interface{}
	Raw        string
	WrapperKey string
	Err        error
}

// Parse interprets a completion, trying in order: the text as an object, the
// text with markdown fences removed, and the outermost braces. An object that
// carries none of ExpectedKeys but wraps a single value (or uses a known
// wrapper key) is unwrapped, including wrappers holding JSON as a string.
func Parse(raw string) Parsed {
	obj, err := decodeObject(raw)
	if err != nil {
		return Parsed{Kind: Unparseable, Raw: raw, Err: err}
	}

	p := Parsed{Kind: Direct, Object: obj, Raw: raw}
	for depth := 0; depth < maxUnwrapDepth && !hasExpectedKey(p.Object); depth++ {
		key, inner, ok := unwrap(p.Object)
		if !ok {
			break
		}
		p.Kind = Unwrapped
		p.Object = inner
		if p.WrapperKey == "" {
			p.WrapperKey = key
		} else {
			p.WrapperKey += "." + key
		}
	}
	return p
}

// Decode re-encodes the recovered object into out.
func (p Parsed) Decode(out interface{}) error {
	if p.Kind == Unparseable {
		if p.Err != nil {
			return fmt.Errorf("unparseable completion: %w", p.Err)
		}
		return fmt.Errorf("unparseable completion")
	}
	b, err := json.Marshal(p.Object)
	if err != nil {
		return fmt.Errorf("re-encode completion: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode completion: %w", err)
	}
	return nil
}

func decodeObject(raw string) (map[string]interface{}, error) {
	candidates := []string{strings.TrimSpace(raw), stripFences(raw)}
	if i, j := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); i >= 0 && j > i {
		candidates = append(candidates, raw[i:j+1])
	}

	var lastErr error
	for _, c := range candidates {
		if c == "" {
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(c), &obj); err != nil {
			lastErr = err
			continue
		}
		if obj != nil {
			return obj, nil
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("empty completion")
	}
	return nil, lastErr
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func hasExpectedKey(obj map[string]interface{}) bool {
	for _, k := range ExpectedKeys {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}

func unwrap(obj map[string]interface{}) (string, map[string]interface{}, bool) {
	if len(obj) == 1 {
		for k, v := range obj {
			if inner, ok := asObject(v); ok {
				return k, inner, true
			}
		}
		return "", nil, false
	}
	for _, k := range wrapperKeys {
		if inner, ok := asObject(obj[k]); ok {
			return k, inner, true
		}
	}
	return "", nil, false
}

func asObject(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case string:
		obj, err := decodeObject(t)
		return obj, err == nil
	}
	return nil, false
}
