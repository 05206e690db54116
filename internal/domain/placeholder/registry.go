package placeholder

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/cql2omop/cql2omop/internal/domain/cql"
	"github.com/cql2omop/cql2omop/internal/domain/vsac"
)

type Kind string

const (
	KindValueSet Kind = "valueset"
	KindCode     Kind = "code"
)

// Entry binds one value set or code reference to its token and concept ids.
type Entry struct {
	Key         string   `json:"key"`
	Token       string   `json:"placeholder"`
	Name        string   `json:"name"`
	Kind        Kind     `json:"kind"`
	Library     string   `json:"library,omitempty"`
	ConceptIDs  []string `json:"omop_concept_ids"`
	CodeSystems []string `json:"code_systems_found"`
	Fetched     bool     `json:"fetched"`
}

// Registry maps placeholder tokens to concept id lists.
type Registry map[string][]string

// ValueSetSummary is the human-readable status of one registered value set.
type ValueSetSummary struct {
	Name             string   `json:"name"`
	ConceptCount     int      `json:"concept_count"`
	CodeSystemsFound []string `json:"code_systems_found"`
	Status           string   `json:"status"`
}

const (
	StatusSuccess = "success"
	StatusEmpty   = "empty"
)

// Hint tells SQL generation which token stands for which reference.
type Hint struct {
	Token        string `json:"placeholder"`
	Name         string `json:"name"`
	Kind         Kind   `json:"kind"`
	Library      string `json:"library,omitempty"`
	ConceptCount int    `json:"concept_count"`
}

// Builder accumulates registry entries for one translation. Entries are
// keyed by OID (or system_code for codes); a library entry whose key is
// already taken is stored under "<library>.<key>". Tokens stay derived from
// the identifier alone, so the same value set referenced by two documents
// shares a token, and when two entries produce the same token the one added
// last wins.
type Builder struct {
	logger  zerolog.Logger
	entries []*Entry
	byKey   map[string]*Entry
}

func NewBuilder(logger zerolog.Logger) *Builder {
	return &Builder{
		logger: logger.With().Str("component", "placeholder_registry").Logger(),
		byKey:  make(map[string]*Entry),
	}
}

// AddValueSet registers a value set. vs is the terminology result for the
// OID, nil when it was never fetched. Value sets are registered even when no
// concept ids were mapped so their tokens resolve to NULL instead of
// surviving into the final SQL.
func (b *Builder) AddValueSet(library string, ref cql.ValueSetReference, vs *vsac.ValueSet, conceptIDs []string) *Entry {
	if ref.OID == "" {
		return nil
	}
	e := &Entry{
		Key:         ref.OID,
		Token:       ValueSetToken(ref.OID),
		Name:        ref.Name,
		Kind:        KindValueSet,
		Library:     library,
		ConceptIDs:  nonNil(conceptIDs),
		CodeSystems: []string{},
		Fetched:     vs != nil,
	}
	if vs != nil {
		e.CodeSystems = vs.CodeSystems()
		if vs.Failed() {
			b.logger.Warn().Str("oid", ref.OID).Str("code", vs.Err.Code).Msg("value set fetch failed, registering without concepts")
		}
	}
	b.add(e)
	return e
}

// AddCode registers an individual code when it mapped to at least one
// concept id. Unmapped codes are reported and left out of the registry.
func (b *Builder) AddCode(library string, ref cql.IndividualCodeReference, conceptIDs []string) *Entry {
	if ref.Code == "" || ref.System == "" {
		return nil
	}
	key := CodeKey(ref.System, ref.Code)
	if len(conceptIDs) == 0 {
		b.logger.Warn().Str("code", key).Str("placeholder", CodeToken(ref.System, ref.Code)).Msg("individual code has no OMOP concepts")
		return nil
	}
	e := &Entry{
		Key:         key,
		Token:       CodeToken(ref.System, ref.Code),
		Name:        ref.Name,
		Kind:        KindCode,
		Library:     library,
		ConceptIDs:  conceptIDs,
		CodeSystems: []string{ref.System},
		Fetched:     true,
	}
	b.add(e)
	return e
}

func (b *Builder) add(e *Entry) {
	if _, taken := b.byKey[e.Key]; taken && e.Library != "" {
		e.Key = e.Library + "." + e.Key
	}
	if prev, taken := b.byKey[e.Key]; taken {
		b.logger.Debug().Str("key", e.Key).Str("previous", prev.Name).Str("name", e.Name).Msg("registry entry replaced")
		b.remove(prev)
	}
	b.byKey[e.Key] = e
	b.entries = append(b.entries, e)
}

func (b *Builder) remove(e *Entry) {
	for i, cur := range b.entries {
		if cur == e {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return
		}
	}
}

// Entries returns the registered entries in the order they were added.
func (b *Builder) Entries() []*Entry {
	return b.entries
}

// Registry returns token -> concept ids. Entries sharing a token resolve to
// the last one added.
func (b *Builder) Registry() Registry {
	r := make(Registry, len(b.entries))
	for _, e := range b.entries {
		if prev, ok := r[e.Token]; ok && !sameIDs(prev, e.ConceptIDs) {
			b.logger.Warn().Str("placeholder", e.Token).Str("key", e.Key).Msg("placeholder collision, last entry wins")
		}
		r[e.Token] = e.ConceptIDs
	}
	return r
}

// WarnMissing logs every value set entry that never matched a terminology
// result and returns their keys.
func (b *Builder) WarnMissing() []string {
	missing := []string{}
	for _, e := range b.entries {
		if e.Kind != KindValueSet || e.Fetched {
			continue
		}
		b.logger.Warn().Str("oid", e.Key).Str("placeholder", e.Token).Str("name", e.Name).Msg("value set missing from terminology results")
		missing = append(missing, e.Key)
	}
	return missing
}

// Summary reports each registered value set by registry key.
func (b *Builder) Summary() map[string]ValueSetSummary {
	out := make(map[string]ValueSetSummary)
	for _, e := range b.entries {
		if e.Kind != KindValueSet {
			continue
		}
		status := StatusSuccess
		if len(e.ConceptIDs) == 0 {
			status = StatusEmpty
		}
		out[e.Key] = ValueSetSummary{
			Name:             e.Name,
			ConceptCount:     len(e.ConceptIDs),
			CodeSystemsFound: e.CodeSystems,
			Status:           status,
		}
	}
	return out
}

// Hints lists one hint per distinct token, ordered by token.
func (b *Builder) Hints() []Hint {
	byToken := make(map[string]Hint)
	for _, e := range b.entries {
		byToken[e.Token] = Hint{
			Token:        e.Token,
			Name:         e.Name,
			Kind:         e.Kind,
			Library:      e.Library,
			ConceptCount: len(e.ConceptIDs),
		}
	}
	out := make([]Hint, 0, len(byToken))
	for _, h := range byToken {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
