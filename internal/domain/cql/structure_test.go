package cql

import (
	"context"
	"errors"
	"testing"
)

func TestLexicalStructure(t *testing.T) {
	s := LexicalStructure(sampleMeasure, newTestExtractor())

	if s.LibraryName != "DiabetesHbA1c" || s.LibraryVersion != "1.0.0" {
		t.Errorf("unexpected library %q %q", s.LibraryName, s.LibraryVersion)
	}
	if len(s.ValueSets) != 2 || len(s.Codes) != 1 || len(s.Includes) != 2 {
		t.Errorf("unexpected declarations: %d valuesets, %d codes, %d includes", len(s.ValueSets), len(s.Codes), len(s.Includes))
	}
	if len(s.Parameters) != 1 || s.Parameters[0].Type != "Interval<DateTime>" {
		t.Errorf("unexpected parameters: %+v", s.Parameters)
	}
	if len(s.Definitions) != 3 {
		t.Errorf("expected 3 definitions, got %+v", s.Definitions)
	}
	for _, key := range []string{"initial_population", "denominator", "numerator"} {
		if _, ok := s.Populations[key]; !ok {
			t.Errorf("expected population %s", key)
		}
	}
}

type stubCompleter struct {
	out  string
	err  error
	user string
}

func (s *stubCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	s.user = user
	return s.out, s.err
}

func TestLLMParser_BackfillsDeclarations(t *testing.T) {
	c := &stubCompleter{out: `{"result": {"library_name": "FromModel", "definitions": [{"name": "Numerator", "expression": "exists X"}], "valuesets": [{"name": "Invented", "oid": "9.9.9"}]}}`}
	p := NewLLMParser(c, newTestExtractor(), newTestExtractor().logger)

	libs := []Library{{Include: Include{Name: "Hospice", Version: "6.0.000"}, Text: `define "Has Hospice": true`}}
	s, err := p.Parse(context.Background(), sampleMeasure, libs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.LibraryName != "FromModel" {
		t.Errorf("expected model library name to be kept, got %q", s.LibraryName)
	}
	if s.LibraryVersion != "1.0.0" {
		t.Errorf("expected version to be backfilled, got %q", s.LibraryVersion)
	}
	if len(s.ValueSets) != 2 || s.ValueSets[0].Name != "Diabetes" {
		t.Errorf("expected value sets from the extractor, got %+v", s.ValueSets)
	}
	if len(s.Definitions) != 1 || s.Definitions[0].Expression != "exists X" {
		t.Errorf("expected model definitions to be kept, got %+v", s.Definitions)
	}
	if defs := s.LibraryDefinitions["Hospice"]; len(defs) != 1 || defs[0].Name != "Has Hospice" {
		t.Errorf("unexpected library definitions %+v", s.LibraryDefinitions)
	}
	if c.user == "" {
		t.Error("expected prompt to be sent")
	}
}

func TestLLMParser_Errors(t *testing.T) {
	p := NewLLMParser(&stubCompleter{err: errors.New("timeout")}, newTestExtractor(), newTestExtractor().logger)
	if _, err := p.Parse(context.Background(), sampleMeasure, nil); err == nil {
		t.Error("expected completion error to surface")
	}

	p = NewLLMParser(&stubCompleter{out: "I cannot help"}, newTestExtractor(), newTestExtractor().logger)
	if _, err := p.Parse(context.Background(), sampleMeasure, nil); err == nil {
		t.Error("expected unparseable response to surface")
	}
}
