package cql

import (
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

const sampleMeasure = `library DiabetesHbA1c version '1.0.0'

using QDM version '5.6'

include MATGlobalCommonFunctions version '7.0.000' called Global
include Hospice version '6.0.000' called Hospice

codesystem "LOINC": 'urn:oid:2.16.840.1.113883.6.1'

valueset "Diabetes": 'urn:oid:2.16.840.1.113883.3.464.1003.103.12.1001'
valueset "HbA1c Laboratory Test": 'urn:oid:2.16.840.1.113883.3.464.1003.198.12.1013'
valueset "Diabetes Mellitus": 'urn:oid:2.16.840.1.113883.3.464.1003.103.12.1001'

code "Birth date": '21112-8' from "LOINC" display 'Birth date'

parameter "Measurement Period" Interval<DateTime>

context Patient

define "Initial Population":
  AgeInYearsAt(date from start of "Measurement Period") in Interval[18, 75]

define "Denominator":
  "Initial Population"

define "Numerator":
  exists ["Laboratory Test, Performed": "HbA1c Laboratory Test"]
`

func newTestExtractor() *Extractor {
	return NewExtractor(zerolog.Nop())
}

func TestExtractValueSets_SingleQuoted(t *testing.T) {
	oids, refs := newTestExtractor().ExtractValueSets(`valueset "Diabetes": 'urn:oid:2.16.840.1.113883.3.464.1003.103.12.1001'`)
	want := []string{"2.16.840.1.113883.3.464.1003.103.12.1001"}
	if !reflect.DeepEqual(oids, want) {
		t.Fatalf("expected %v, got %v", want, oids)
	}
	if len(refs) != 1 || refs[0].Name != "Diabetes" {
		t.Errorf("unexpected refs: %+v", refs)
	}
}

func TestExtractValueSets_DoubleQuotedIgnored(t *testing.T) {
	oids, refs := newTestExtractor().ExtractValueSets(`valueset "Diabetes": "urn:oid:2.16.840.1.113883.3.464.1003.103.12.1001"`)
	if len(oids) != 0 || len(refs) != 0 {
		t.Errorf("expected no value sets, got %v %v", oids, refs)
	}
	if oids == nil {
		t.Error("expected empty, non-nil slice")
	}
}

func TestExtractValueSets_DedupesFirstNameWins(t *testing.T) {
	oids, refs := newTestExtractor().ExtractValueSets(sampleMeasure)
	want := []string{
		"2.16.840.1.113883.3.464.1003.103.12.1001",
		"2.16.840.1.113883.3.464.1003.198.12.1013",
	}
	if !reflect.DeepEqual(oids, want) {
		t.Fatalf("expected %v, got %v", want, oids)
	}
	if refs[0].Name != "Diabetes" {
		t.Errorf("expected first-seen name Diabetes, got %q", refs[0].Name)
	}
}

func TestExtractValueSets_CaseInsensitiveKeyword(t *testing.T) {
	oids, _ := newTestExtractor().ExtractValueSets(`VALUESET "X": 'urn:oid:1.2.3'`)
	if !reflect.DeepEqual(oids, []string{"1.2.3"}) {
		t.Errorf("unexpected oids %v", oids)
	}
}

func TestExtractValueSets_Empty(t *testing.T) {
	for _, text := range []string{"", "define \"X\": true", "valueset 'broken"} {
		oids, refs := newTestExtractor().ExtractValueSets(text)
		if len(oids) != 0 || len(refs) != 0 {
			t.Errorf("%q: expected nothing, got %v", text, oids)
		}
	}
}

func TestExtractIndividualCodes(t *testing.T) {
	codes := newTestExtractor().ExtractIndividualCodes(sampleMeasure)
	want := []IndividualCodeReference{{Name: "Birth date", Code: "21112-8", System: "LOINC"}}
	if !reflect.DeepEqual(codes, want) {
		t.Errorf("expected %+v, got %+v", want, codes)
	}
}

func TestExtractIndividualCodes_Dedupes(t *testing.T) {
	text := `code "A": '123' from "SNOMEDCT"
code "B": '123' from "SNOMEDCT"
code "C": '123' from "ICD10CM"`
	codes := newTestExtractor().ExtractIndividualCodes(text)
	if len(codes) != 2 {
		t.Fatalf("expected 2 codes, got %+v", codes)
	}
	if codes[0].Name != "A" || codes[1].System != "ICD10CM" {
		t.Errorf("unexpected codes: %+v", codes)
	}
}

func TestValidateOIDs(t *testing.T) {
	valid, invalid := ValidateOIDs([]string{"1.2.3", "abc", "1", "1.2.3.4"})
	if !reflect.DeepEqual(valid, []string{"1.2.3", "1.2.3.4"}) {
		t.Errorf("unexpected valid set %v", valid)
	}
	if !reflect.DeepEqual(invalid, []string{"abc", "1"}) {
		t.Errorf("unexpected invalid set %v", invalid)
	}
}

func TestIsValidOID(t *testing.T) {
	tests := []struct {
		oid  string
		want bool
	}{
		{"2.16.840.1.113883.3.464", true},
		{"1.2", true},
		{"1.", false},
		{".1.2", false},
		{"1..2", false},
		{"1.2a", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsValidOID(tt.oid); got != tt.want {
			t.Errorf("IsValidOID(%q) = %v, want %v", tt.oid, got, tt.want)
		}
	}
}
