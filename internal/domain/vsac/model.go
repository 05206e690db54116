package vsac

import "strings"

// Concept is one code inside an expanded value set.
type Concept struct {
	Code              string `json:"code"`
	CodeSystem        string `json:"code_system"`
	CodeSystemName    string `json:"code_system_name"`
	CodeSystemVersion string `json:"code_system_version,omitempty"`
	DisplayName       string `json:"display_name"`
}

// Purpose is the structured form of a value set's Purpose text.
type Purpose struct {
	ClinicalFocus     string `json:"clinical_focus,omitempty"`
	DataElementScope  string `json:"data_element_scope,omitempty"`
	InclusionCriteria string `json:"inclusion_criteria,omitempty"`
	ExclusionCriteria string `json:"exclusion_criteria,omitempty"`
	Raw               string `json:"raw,omitempty"`
}

// Metadata describes a value set independent of its expansion.
type Metadata struct {
	OID          string  `json:"oid"`
	DisplayName  string  `json:"display_name"`
	Version      string  `json:"version"`
	Source       string  `json:"source,omitempty"`
	Type         string  `json:"type,omitempty"`
	Binding      string  `json:"binding,omitempty"`
	Status       string  `json:"status,omitempty"`
	RevisionDate string  `json:"revision_date,omitempty"`
	Description  string  `json:"description,omitempty"`
	Purpose      Purpose `json:"purpose"`
}

// Status values for error shells.
const (
	StatusError = "ERROR"
)

// ValueSet is a resolved value set. A failed fetch is represented by an
// error shell: Status ERROR, no concepts and the failure in Err.
type ValueSet struct {
	Metadata
	Concepts []Concept `json:"concepts"`
	Err      *Error    `json:"error,omitempty"`
}

// Failed reports whether vs is an error shell.
func (vs *ValueSet) Failed() bool {
	return vs.Err != nil
}

// CodeSystems returns the distinct code system names in first-seen order.
func (vs *ValueSet) CodeSystems() []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, c := range vs.Concepts {
		if c.CodeSystemName == "" || seen[c.CodeSystemName] {
			continue
		}
		seen[c.CodeSystemName] = true
		out = append(out, c.CodeSystemName)
	}
	return out
}

func errorShell(oid string, err *Error) *ValueSet {
	return &ValueSet{
		Metadata: Metadata{OID: oid, DisplayName: "Error", Status: StatusError},
		Concepts: []Concept{},
		Err:      err,
	}
}

// Credentials authenticate against the terminology service.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) Trimmed() Credentials {
	return Credentials{Username: strings.TrimSpace(c.Username), Password: strings.TrimSpace(c.Password)}
}

func (c Credentials) Empty() bool {
	t := c.Trimmed()
	return t.Username == "" || t.Password == ""
}
