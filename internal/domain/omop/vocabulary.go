package omop

import (
	"strings"

	"github.com/cql2omop/cql2omop/internal/domain/vsac"
)

var vocabularyIDs = map[string]string{
	"ICD10CM":              "ICD10CM",
	"ICD-10-CM":            "ICD10CM",
	"SNOMEDCT_US":          "SNOMED",
	"SNOMEDCT":             "SNOMED",
	"SNOMED CT US EDITION": "SNOMED",
	"CPT":                  "CPT4",
	"HCPCS":                "HCPCS",
	"LOINC":                "LOINC",
	"RXNORM":               "RxNorm",
	"ICD9CM":               "ICD9CM",
	"ICD-9-CM":             "ICD9CM",
	"NDC":                  "NDC",
}

// VocabularyID maps a terminology code system name to an OMOP vocabulary_id.
// Unknown names pass through unchanged.
func VocabularyID(codeSystemName string) string {
	if id, ok := vocabularyIDs[strings.ToUpper(strings.TrimSpace(codeSystemName))]; ok {
		return id
	}
	return codeSystemName
}

// FromValueSet flattens a resolved value set into mapping rows keyed by oid.
func FromValueSet(oid, name string, vs *vsac.ValueSet) []ConceptMapping {
	if vs == nil {
		return nil
	}
	out := make([]ConceptMapping, 0, len(vs.Concepts))
	for _, c := range vs.Concepts {
		out = append(out, ConceptMapping{
			ConceptSetID:       oid,
			ConceptSetName:     name,
			ConceptCode:        c.Code,
			VocabularyID:       VocabularyID(c.CodeSystemName),
			OriginalVocabulary: c.CodeSystemName,
			DisplayName:        c.DisplayName,
			CodeSystem:         c.CodeSystem,
		})
	}
	return out
}

// FromCode builds the mapping row for an individually declared code.
func FromCode(setID, name, code, system, display string) ConceptMapping {
	return ConceptMapping{
		ConceptSetID:       setID,
		ConceptSetName:     name,
		ConceptCode:        code,
		VocabularyID:       VocabularyID(system),
		OriginalVocabulary: system,
		DisplayName:        display,
		CodeSystem:         vsac.SystemURI(system),
	}
}
