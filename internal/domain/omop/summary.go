package omop

import "fmt"

type SetSummary struct {
	ConceptSetID   string `json:"concept_set_id"`
	ConceptSetName string `json:"concept_set_name"`
	SourceConcepts int    `json:"source_concepts"`
	Verbatim       int    `json:"verbatim"`
	Standard       int    `json:"standard"`
	Mapped         int    `json:"mapped"`
}

type Summary struct {
	TotalSourceConcepts  int                    `json:"total_source_concepts"`
	TotalMappings        int                    `json:"total_mappings"`
	UniqueTargetConcepts int                    `json:"unique_target_concepts"`
	Counts               map[MappingType]int    `json:"counts"`
	Percentages          map[MappingType]string `json:"percentages"`
	ByConceptSet         []SetSummary           `json:"by_concept_set"`
}

// Summarize reports coverage of source against r. A type's percentage is the
// share of distinct source codes with at least one row of that type,
// formatted with one decimal; it is "0.0" when there are no source codes.
func Summarize(source []ConceptMapping, r *Results) Summary {
	s := Summary{
		TotalSourceConcepts: len(source),
		Counts:              map[MappingType]int{},
		Percentages:         map[MappingType]string{},
		ByConceptSet:        []SetSummary{},
	}

	type sourceKey struct{ set, code, vocab string }
	sets := make(map[string]*SetSummary)
	var order []string
	for _, c := range source {
		ss, ok := sets[c.ConceptSetID]
		if !ok {
			ss = &SetSummary{ConceptSetID: c.ConceptSetID, ConceptSetName: c.ConceptSetName}
			sets[c.ConceptSetID] = ss
			order = append(order, c.ConceptSetID)
		}
		ss.SourceConcepts++
	}

	unique := make(map[int64]bool)
	if r != nil {
		s.TotalMappings = r.Total()
		for _, t := range MappingTypes {
			covered := make(map[sourceKey]bool)
			for _, c := range r.ByType(t) {
				unique[c.ConceptID] = true
				covered[sourceKey{c.ConceptSetID, c.SourceCode, c.SourceVocabulary}] = true
				if ss, ok := sets[c.ConceptSetID]; ok {
					switch t {
					case Verbatim:
						ss.Verbatim++
					case Standard:
						ss.Standard++
					case Mapped:
						ss.Mapped++
					}
				}
			}
			s.Counts[t] = len(r.ByType(t))
			s.Percentages[t] = percentage(len(covered), len(source))
		}
	} else {
		for _, t := range MappingTypes {
			s.Counts[t] = 0
			s.Percentages[t] = percentage(0, len(source))
		}
	}
	s.UniqueTargetConcepts = len(unique)

	for _, id := range order {
		s.ByConceptSet = append(s.ByConceptSet, *sets[id])
	}
	return s
}

func percentage(n, total int) string {
	if total == 0 {
		return "0.0"
	}
	return fmt.Sprintf("%.1f", float64(n)/float64(total)*100)
}
