package vsac

const maxSampleConcepts = 3

type ValueSetSummary struct {
	OID          string    `json:"oid"`
	Name         string    `json:"name"`
	ConceptCount int       `json:"concept_count"`
	CodeSystems  []string  `json:"code_systems"`
	Status       string    `json:"status"`
	Error        *Error    `json:"error,omitempty"`
	Guidance     []string  `json:"guidance,omitempty"`
	Samples      []Concept `json:"sample_concepts"`
}

type FetchSummary struct {
	Requested     int               `json:"requested"`
	Successful    int               `json:"successful"`
	Failed        int               `json:"failed"`
	TotalConcepts int               `json:"total_concepts"`
	ValueSets     []ValueSetSummary `json:"valuesets"`
}

// Summarize reports on results in the order of requested.
func Summarize(requested []string, results map[string]*ValueSet) FetchSummary {
	s := FetchSummary{Requested: len(requested), ValueSets: []ValueSetSummary{}}
	for _, oid := range requested {
		vs, ok := results[oid]
		if !ok {
			continue
		}
		vss := ValueSetSummary{
			OID:          oid,
			Name:         vs.DisplayName,
			ConceptCount: len(vs.Concepts),
			CodeSystems:  vs.CodeSystems(),
			Status:       vs.Status,
			Samples:      vs.Concepts[:min(len(vs.Concepts), maxSampleConcepts)],
		}
		if vs.Failed() {
			s.Failed++
			vss.Error = vs.Err
			vss.Guidance = Guidance(vs.Err.Code)
		} else {
			s.Successful++
			s.TotalConcepts += len(vs.Concepts)
		}
		s.ValueSets = append(s.ValueSets, vss)
	}
	return s
}
