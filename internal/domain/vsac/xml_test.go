package vsac

import "testing"

const describedResponse = `<?xml version="1.0" encoding="UTF-8"?>
<ns0:RetrieveMultipleValueSetsResponse xmlns:ns0="urn:ihe:iti:svs:2008">
  <ns0:DescribedValueSet ID="2.16.840.1.113883.3.464.1003.103.12.1001" displayName="Diabetes" version="20240117">
    <ns0:ConceptList>
      <ns0:Concept code="E10.9" codeSystem="2.16.840.1.113883.6.90" codeSystemName="ICD10CM" codeSystemVersion="2024" displayName="Type 1 diabetes mellitus without complications"/>
      <ns0:Concept code="44054006" codeSystem="2.16.840.1.113883.6.96" codeSystemName="SNOMEDCT" codeSystemVersion="2023-09" displayName="Diabetes mellitus type 2"/>
    </ns0:ConceptList>
    <ns0:Source>National Committee for Quality Assurance</ns0:Source>
    <ns0:Purpose>(Clinical Focus: This set of values identifies diabetes.),(Data Element Scope: Diagnosis),(Inclusion Criteria: Includes type 1 and type 2 diabetes.),(Exclusion Criteria: Excludes gestational diabetes.)</ns0:Purpose>
    <ns0:Type>Grouping</ns0:Type>
    <ns0:Binding>Static</ns0:Binding>
    <ns0:Status>Active</ns0:Status>
    <ns0:RevisionDate>2024-01-17</ns0:RevisionDate>
  </ns0:DescribedValueSet>
</ns0:RetrieveMultipleValueSetsResponse>`

const plainResponse = `<RetrieveValueSetResponse xmlns="urn:ihe:iti:svs:2008">
  <ValueSet ID="1.2.3" displayName="Plain" version="1">
    <ConceptList>
      <Concept code="123" codeSystem="2.16.840.1.113883.6.1" codeSystemName="LOINC" displayName="A lab"/>
    </ConceptList>
  </ValueSet>
</RetrieveValueSetResponse>`

func TestParseDocument_Described(t *testing.T) {
	doc := ParseDocument([]byte(describedResponse))
	if doc.Shape != ShapeDescribed {
		t.Fatalf("expected DescribedValueSet shape, got %s (%v)", doc.Shape, doc.Err)
	}
	vs := doc.ValueSet
	if vs.OID != "2.16.840.1.113883.3.464.1003.103.12.1001" || vs.DisplayName != "Diabetes" || vs.Version != "20240117" {
		t.Errorf("unexpected metadata: %+v", vs.Metadata)
	}
	if len(vs.Concepts) != 2 {
		t.Fatalf("expected 2 concepts, got %d", len(vs.Concepts))
	}
	if c := vs.Concepts[0]; c.Code != "E10.9" || c.CodeSystemName != "ICD10CM" || c.CodeSystemVersion != "2024" {
		t.Errorf("unexpected concept: %+v", c)
	}
	if vs.Source != "National Committee for Quality Assurance" || vs.Binding != "Static" || vs.Status != "Active" {
		t.Errorf("unexpected metadata: %+v", vs.Metadata)
	}
	if vs.Purpose.DataElementScope != "Diagnosis" || vs.Purpose.ExclusionCriteria != "Excludes gestational diabetes." {
		t.Errorf("unexpected purpose: %+v", vs.Purpose)
	}
}

func TestParseDocument_Plain(t *testing.T) {
	doc := ParseDocument([]byte(plainResponse))
	if doc.Shape != ShapePlain {
		t.Fatalf("expected ValueSet shape, got %s (%v)", doc.Shape, doc.Err)
	}
	if len(doc.ValueSet.Concepts) != 1 || doc.ValueSet.Concepts[0].CodeSystemName != "LOINC" {
		t.Errorf("unexpected concepts: %+v", doc.ValueSet.Concepts)
	}
}

func TestParseDocument_Unparseable(t *testing.T) {
	for _, body := range []string{"", "<html><body>Maintenance</body></html>", "not xml <<<"} {
		doc := ParseDocument([]byte(body))
		if doc.Shape != ShapeUnparseable {
			t.Errorf("%q: expected unparseable, got %s", body, doc.Shape)
		}
		if doc.Raw != body {
			t.Errorf("%q: raw body not preserved", body)
		}
	}
}

func TestParsePurpose_Partial(t *testing.T) {
	p := ParsePurpose("(Clinical Focus: Asthma)")
	if p.ClinicalFocus != "Asthma" || p.InclusionCriteria != "" {
		t.Errorf("unexpected purpose: %+v", p)
	}
	if p.Raw != "(Clinical Focus: Asthma)" {
		t.Errorf("raw purpose not kept: %q", p.Raw)
	}
}
