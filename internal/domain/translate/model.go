package translate

import (
	"context"
	"errors"

	"github.com/cql2omop/cql2omop/internal/domain/cql"
	"github.com/cql2omop/cql2omop/internal/domain/omop"
	"github.com/cql2omop/cql2omop/internal/domain/placeholder"
	"github.com/cql2omop/cql2omop/internal/domain/sqlgen"
	"github.com/cql2omop/cql2omop/internal/domain/vsac"
)

var (
	// ErrMissingCredentials aborts a request whose value sets must be fetched
	// without terminology credentials.
	ErrMissingCredentials = errors.New("terminology credentials required")
	// ErrDatabaseUnavailable aborts a request that cannot reach the
	// vocabulary database.
	ErrDatabaseUnavailable = errors.New("vocabulary database unavailable")
	ErrInvalidRequest      = errors.New("invalid request")
)

// ValueSetResolver fetches value sets by OID.
type ValueSetResolver interface {
	FetchAll(ctx context.Context, oids []string, version string, creds vsac.Credentials) (map[string]*vsac.ValueSet, error)
	Cache() vsac.Cache
}

// ConceptMapper maps source codes to OMOP concepts.
type ConceptMapper interface {
	Map(ctx context.Context, concepts []omop.ConceptMapping, opts omop.Options) (*omop.Results, error)
	Ping(ctx context.Context) error
}

// DisplayLookup resolves the display name of a single code.
type DisplayLookup interface {
	LookupDisplay(ctx context.Context, system, code string) string
}

// Credentials passed per request override the configured ones.
type Credentials struct {
	VSACUsername string `json:"vsac_username,omitempty"`
	VSACPassword string `json:"vsac_password,omitempty"`
}

// Source is a CQL document plus where its included libraries come from.
// LibraryDir is set by local callers only; HTTP requests use the configured
// directory.
type Source struct {
	CQLText    string            `json:"cql_text"`
	LibraryDir string            `json:"-"`
	Libraries  map[string]string `json:"library_files,omitempty"`
}

type Request struct {
	Source
	Credentials
	Dialect       string `json:"dialect"`
	Schema        string `json:"omop_schema,omitempty"`
	Validate      bool   `json:"validate"`
	CorrectErrors bool   `json:"correct_errors"`
}

// NewRequest returns a request with validation and correction enabled.
func NewRequest() Request {
	return Request{Validate: true, CorrectErrors: true}
}

type Statistics struct {
	LibrariesProcessed   int   `json:"libraries_processed"`
	DefinitionsParsed    int   `json:"definitions_parsed"`
	ValueSetsExtracted   int   `json:"valuesets_extracted"`
	IndividualCodes      int   `json:"individual_codes"`
	OMOPConceptsMapped   int   `json:"omop_concepts_mapped"`
	CTEsGenerated        int   `json:"ctes_generated"`
	PlaceholdersFound    int   `json:"placeholders_found"`
	PlaceholdersReplaced int   `json:"placeholders_replaced"`
	UnmappedPlaceholders int   `json:"unmapped_placeholders"`
	ValidationPassed     *bool `json:"validation_passed"`
	CorrectionsApplied   int   `json:"corrections_applied"`
}

// Stage names, reported in Response.FailedAt.
const (
	StageParse      = "parse"
	StageExtract    = "extract"
	StageGenerate   = "generate"
	StageValidate   = "validate"
	StageCorrect    = "correct"
	StageSubstitute = "substitute"
)

type Response struct {
	Success             bool                                   `json:"success"`
	FinalSQL            *string                                `json:"final_sql"`
	Dialect             string                                 `json:"dialect"`
	Statistics          Statistics                             `json:"statistics"`
	Errors              []string                               `json:"errors"`
	Message             string                                 `json:"message,omitempty"`
	Suggestion          string                                 `json:"suggestion,omitempty"`
	FailedAt            string                                 `json:"failed_at,omitempty"`
	Structure           *cql.Structure                         `json:"cql_structure,omitempty"`
	ValueSetSummary     map[string]placeholder.ValueSetSummary `json:"valueset_summary,omitempty"`
	PlaceholderMappings placeholder.Registry                   `json:"placeholder_mappings,omitempty"`
	MissingValueSets    []string                               `json:"missing_valuesets,omitempty"`
	MissingLibraries    []string                               `json:"missing_libraries,omitempty"`
	Skeleton            *sqlgen.Skeleton                       `json:"skeleton,omitempty"`
	Validation          *sqlgen.ValidationResult               `json:"validation,omitempty"`
	Correction          *sqlgen.Correction                     `json:"correction,omitempty"`
	Substitution        *placeholder.Result                    `json:"substitution,omitempty"`
}

func (r *Response) addError(prefix string, err error) {
	r.Errors = append(r.Errors, prefix+": "+err.Error())
}

type ExtractRequest struct {
	Source
	Credentials
	Schema        string `json:"omop_schema,omitempty"`
	AllStrategies bool   `json:"all_strategies"`
}

type ExtractResponse struct {
	Success             bool                                   `json:"success"`
	ValueSets           []cql.ValueSetReference                `json:"valuesets"`
	Codes               []cql.IndividualCodeReference          `json:"codes"`
	PlaceholderMappings placeholder.Registry                   `json:"placeholder_mappings"`
	Entries             []*placeholder.Entry                   `json:"registry_entries"`
	ValueSetSummary     map[string]placeholder.ValueSetSummary `json:"valueset_summary"`
	FetchSummary        vsac.FetchSummary                      `json:"fetch_summary"`
	MappingSummary      omop.Summary                           `json:"mapping_summary"`
	Schema              string                                 `json:"schema"`
	MissingValueSets    []string                               `json:"missing_valuesets"`
	MissingLibraries    []string                               `json:"missing_libraries"`
	Errors              []string                               `json:"errors"`
}

type FinalizeRequest struct {
	SQL                 string               `json:"sql"`
	PlaceholderMappings placeholder.Registry `json:"placeholder_mappings"`
	Dialect             string               `json:"dialect"`
}

type CodeLookupRequest struct {
	System string `json:"system"`
	Code   string `json:"code"`
	Schema string `json:"omop_schema,omitempty"`
}

// CodeLookupResponse describes one code and its OMOP concepts. ConceptIDs
// holds the "Maps to" targets, or the standard concepts when the code maps
// to nothing.
type CodeLookupResponse struct {
	Code       string        `json:"code"`
	System     string        `json:"system"`
	Vocabulary string        `json:"vocabulary_id"`
	Display    string        `json:"display"`
	Mapped     bool          `json:"mapped"`
	ConceptIDs []int64       `json:"concept_ids"`
	Concepts   *omop.Results `json:"concepts"`
	Errors     []string      `json:"errors"`
}

// ScanResponse lists the declarations found in a CQL text without any
// external lookups.
type ScanResponse struct {
	OIDs        []string                      `json:"oids"`
	InvalidOIDs []string                      `json:"invalid_oids"`
	ValueSets   []cql.ValueSetReference       `json:"valuesets"`
	Codes       []cql.IndividualCodeReference `json:"codes"`
	Includes    []cql.Include                 `json:"includes"`
}

type StatusReport struct {
	Environment    map[string]string `json:"environment"`
	VocabularyDB   string            `json:"vocabulary_database"`
	VocabularyErr  string            `json:"vocabulary_database_error,omitempty"`
	Cache          vsac.CacheStats   `json:"valueset_cache"`
	DefaultDialect string            `json:"default_dialect"`
}
