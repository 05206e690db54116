package omop

import "strconv"

// MappingType records which strategy matched a concept.
type MappingType string

const (
	Verbatim MappingType = "verbatim"
	Standard MappingType = "standard"
	Mapped   MappingType = "mapped"
)

var MappingTypes = []MappingType{Verbatim, Standard, Mapped}

// ConceptMapping is one source code to be looked up in the vocabulary.
type ConceptMapping struct {
	ConceptSetID       string `json:"concept_set_id"`
	ConceptSetName     string `json:"concept_set_name"`
	ConceptCode        string `json:"concept_code"`
	VocabularyID       string `json:"vocabulary_id"`
	OriginalVocabulary string `json:"original_vocabulary"`
	DisplayName        string `json:"display_name"`
	CodeSystem         string `json:"code_system"`
}

// OMOPConcept is a vocabulary row matched for a source code. One source code
// may yield rows under several mapping types.
type OMOPConcept struct {
	ConceptID        int64       `json:"concept_id"`
	ConceptCode      string      `json:"concept_code"`
	VocabularyID     string      `json:"vocabulary_id"`
	DomainID         string      `json:"domain_id"`
	ConceptClassID   string      `json:"concept_class_id"`
	ConceptName      string      `json:"concept_name"`
	StandardConcept  string      `json:"standard_concept,omitempty"`
	SourceConceptID  int64       `json:"source_concept_id,omitempty"`
	RelationshipID   string      `json:"relationship_id,omitempty"`
	MappingType      MappingType `json:"mapping_type"`
	ConceptSetID     string      `json:"concept_set_id"`
	ConceptSetName   string      `json:"concept_set_name"`
	SourceVocabulary string      `json:"source_vocabulary"`
	SourceCode       string      `json:"source_code"`
}

// Options selects which strategies run and where the vocabulary lives.
type Options struct {
	Schema          string
	IncludeVerbatim bool
	IncludeStandard bool
	IncludeMapped   bool
}

// AllStrategies runs every strategy against schema.
func AllStrategies(schema string) Options {
	return Options{Schema: schema, IncludeVerbatim: true, IncludeStandard: true, IncludeMapped: true}
}

// MappedOnly runs only the "Maps to" traversal, as translation does.
func MappedOnly(schema string) Options {
	return Options{Schema: schema, IncludeMapped: true}
}

func (o Options) includes(t MappingType) bool {
	switch t {
	case Verbatim:
		return o.IncludeVerbatim
	case Standard:
		return o.IncludeStandard
	case Mapped:
		return o.IncludeMapped
	}
	return false
}

// Results holds the three independently computed result lists.
type Results struct {
	Verbatim   []OMOPConcept          `json:"verbatim"`
	Standard   []OMOPConcept          `json:"standard"`
	Mapped     []OMOPConcept          `json:"mapped"`
	Errors     map[MappingType]string `json:"errors,omitempty"`
	Schema     string                 `json:"schema"`
	StagedRows int                    `json:"staged_rows"`
	FailedRows int                    `json:"failed_rows"`
}

func newResults(schema string) *Results {
	return &Results{
		Verbatim: []OMOPConcept{},
		Standard: []OMOPConcept{},
		Mapped:   []OMOPConcept{},
		Errors:   map[MappingType]string{},
		Schema:   schema,
	}
}

func (r *Results) ByType(t MappingType) []OMOPConcept {
	switch t {
	case Verbatim:
		return r.Verbatim
	case Standard:
		return r.Standard
	case Mapped:
		return r.Mapped
	}
	return nil
}

func (r *Results) set(t MappingType, rows []OMOPConcept) {
	switch t {
	case Verbatim:
		r.Verbatim = rows
	case Standard:
		r.Standard = rows
	case Mapped:
		r.Mapped = rows
	}
}

// Total is the number of rows across all types.
func (r *Results) Total() int {
	return len(r.Verbatim) + len(r.Standard) + len(r.Mapped)
}

// ConceptIDsBySet groups concept ids by concept set for the given types,
// deduplicated in first-seen order.
func (r *Results) ConceptIDsBySet(types ...MappingType) map[string][]string {
	out := make(map[string][]string)
	seen := make(map[string]map[int64]bool)
	for _, t := range types {
		for _, c := range r.ByType(t) {
			if seen[c.ConceptSetID] == nil {
				seen[c.ConceptSetID] = make(map[int64]bool)
			}
			if seen[c.ConceptSetID][c.ConceptID] {
				continue
			}
			seen[c.ConceptSetID][c.ConceptID] = true
			out[c.ConceptSetID] = append(out[c.ConceptSetID], strconv.FormatInt(c.ConceptID, 10))
		}
	}
	return out
}
