package vsac

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"regexp"
	"strings"
)

// Shape tags which document form a response was recognised as.
type Shape int

const (
	ShapeDescribed Shape = iota
	ShapePlain
	ShapeUnparseable
)

func (s Shape) String() string {
	switch s {
	case ShapeDescribed:
		return "DescribedValueSet"
	case ShapePlain:
		return "ValueSet"
	default:
		return "unparseable"
	}
}

// Document is the outcome of reading an SVS response.
type Document struct {
	Shape    Shape
	ValueSet *ValueSet
	Raw      string
	Err      error
}

type xmlConcept struct {
	Code              string `xml:"code,attr"`
	CodeSystem        string `xml:"codeSystem,attr"`
	CodeSystemName    string `xml:"codeSystemName,attr"`
	CodeSystemVersion string `xml:"codeSystemVersion,attr"`
	DisplayName       string `xml:"displayName,attr"`
}

// Element names carry no namespace so any svs/ns0/default prefix matches.
type xmlValueSet struct {
	ID           string       `xml:"ID,attr"`
	DisplayName  string       `xml:"displayName,attr"`
	Version      string       `xml:"version,attr"`
	Source       string       `xml:"Source"`
	Type         string       `xml:"Type"`
	Binding      string       `xml:"Binding"`
	Status       string       `xml:"Status"`
	RevisionDate string       `xml:"RevisionDate"`
	Purpose      string       `xml:"Purpose"`
	Description  string       `xml:"Description"`
	Concepts     []xmlConcept `xml:"ConceptList>Concept"`
}

var errNoValueSet = errors.New("no ValueSet element in response")

// ParseDocument reads the first DescribedValueSet, or failing that the first
// ValueSet, from an SVS response.
func ParseDocument(body []byte) Document {
	for _, shape := range []Shape{ShapeDescribed, ShapePlain} {
		vs, err := decodeFirst(body, shape.String())
		if err != nil && !errors.Is(err, errNoValueSet) {
			return Document{Shape: ShapeUnparseable, Raw: string(body), Err: err}
		}
		if vs != nil {
			return Document{Shape: shape, ValueSet: vs, Raw: string(body)}
		}
	}
	return Document{Shape: ShapeUnparseable, Raw: string(body), Err: errNoValueSet}
}

func decodeFirst(body []byte, local string) (*ValueSet, error) {
	d := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return nil, errNoValueSet
		}
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != local {
			continue
		}
		var x xmlValueSet
		if err := d.DecodeElement(&x, &start); err != nil {
			return nil, err
		}
		return x.toValueSet(), nil
	}
}

func (x xmlValueSet) toValueSet() *ValueSet {
	vs := &ValueSet{
		Metadata: Metadata{
			OID:          x.ID,
			DisplayName:  x.DisplayName,
			Version:      x.Version,
			Source:       strings.TrimSpace(x.Source),
			Type:         strings.TrimSpace(x.Type),
			Binding:      strings.TrimSpace(x.Binding),
			Status:       strings.TrimSpace(x.Status),
			RevisionDate: strings.TrimSpace(x.RevisionDate),
			Description:  strings.TrimSpace(x.Description),
			Purpose:      ParsePurpose(x.Purpose),
		},
		Concepts: make([]Concept, 0, len(x.Concepts)),
	}
	for _, c := range x.Concepts {
		vs.Concepts = append(vs.Concepts, Concept(c))
	}
	return vs
}

var (
	clinicalFocusPattern    = regexp.MustCompile(`\(Clinical Focus:\s*([^)]+)\)`)
	dataElementScopePattern = regexp.MustCompile(`\(Data Element Scope:\s*([^)]+)\)`)
	inclusionPattern        = regexp.MustCompile(`\(Inclusion Criteria:\s*([^)]+)\)`)
	exclusionPattern        = regexp.MustCompile(`\(Exclusion Criteria:\s*([^)]+)\)`)
)

// ParsePurpose splits VSAC's parenthesised Purpose sections.
func ParsePurpose(text string) Purpose {
	text = strings.TrimSpace(text)
	find := func(re *regexp.Regexp) string {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
		return ""
	}
	return Purpose{
		ClinicalFocus:     find(clinicalFocusPattern),
		DataElementScope:  find(dataElementScopePattern),
		InclusionCriteria: find(inclusionPattern),
		ExclusionCriteria: find(exclusionPattern),
		Raw:               text,
	}
}
