package vsac

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Code system URIs for well-known terminologies.
const (
	SystemLOINC  = "http://loinc.org"
	SystemICD10  = "http://hl7.org/fhir/sid/icd-10-cm"
	SystemICD9   = "http://hl7.org/fhir/sid/icd-9-cm"
	SystemSNOMED = "http://snomed.info/sct"
	SystemRxNorm = "http://www.nlm.nih.gov/research/umls/rxnorm"
	SystemCPT    = "http://www.ama-assn.org/go/cpt"
	SystemHCPCS  = "https://www.cms.gov/Medicare/Coding/HCPCSReleaseCodeSets"
	SystemNDC    = "http://hl7.org/fhir/sid/ndc"
)

var systemURIs = map[string]string{
	"LOINC":       SystemLOINC,
	"ICD10CM":     SystemICD10,
	"ICD-10-CM":   SystemICD10,
	"ICD9CM":      SystemICD9,
	"ICD-9-CM":    SystemICD9,
	"SNOMEDCT":    SystemSNOMED,
	"SNOMEDCT_US": SystemSNOMED,
	"SNOMED":      SystemSNOMED,
	"RXNORM":      SystemRxNorm,
	"CPT":         SystemCPT,
	"HCPCS":       SystemHCPCS,
	"NDC":         SystemNDC,
}

// SystemURI maps a CQL code system name to its canonical URI. Names that
// already look like URIs are returned unchanged.
func SystemURI(name string) string {
	if strings.Contains(name, "://") || strings.HasPrefix(name, "urn:") {
		return name
	}
	if uri, ok := systemURIs[strings.ToUpper(strings.TrimSpace(name))]; ok {
		return uri
	}
	return name
}

type lookupRequest struct {
	System string `json:"system"`
	Code   string `json:"code"`
}

type lookupParameter struct {
	Name        string `json:"name"`
	ValueString string `json:"valueString,omitempty"`
}

type lookupResponse struct {
	ResourceType string            `json:"resourceType"`
	Parameter    []lookupParameter `json:"parameter"`
}

// DisplayLookup resolves the canonical display name of a single code through
// a FHIR terminology server's CodeSystem/$lookup operation. With no server
// configured every code displays as itself.
type DisplayLookup struct {
	http   *resty.Client
	logger zerolog.Logger
}

func NewDisplayLookup(baseURL string, timeout time.Duration, logger zerolog.Logger) *DisplayLookup {
	l := &DisplayLookup{logger: logger.With().Str("component", "code_lookup").Logger()}
	if baseURL != "" {
		l.http = resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/fhir+json").
			SetHeader("Accept", "application/fhir+json")
	}
	return l
}

// LookupDisplay never fails; on any problem the code itself is returned.
func (l *DisplayLookup) LookupDisplay(ctx context.Context, system, code string) string {
	if l == nil || l.http == nil {
		return code
	}

	var out lookupResponse
	resp, err := l.http.R().
		SetContext(ctx).
		SetBody(lookupRequest{System: SystemURI(system), Code: code}).
		SetResult(&out).
		Post("/CodeSystem/$lookup")
	if err != nil || resp.IsError() {
		l.logger.Debug().Err(err).Str("system", system).Str("code", code).Msg("display lookup failed")
		return code
	}
	for _, p := range out.Parameter {
		if p.Name == "display" && p.ValueString != "" {
			return p.ValueString
		}
	}
	return code
}
