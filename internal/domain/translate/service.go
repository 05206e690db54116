package translate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cql2omop/cql2omop/internal/domain/cql"
	"github.com/cql2omop/cql2omop/internal/domain/omop"
	"github.com/cql2omop/cql2omop/internal/domain/placeholder"
	"github.com/cql2omop/cql2omop/internal/domain/sqlgen"
	"github.com/cql2omop/cql2omop/internal/domain/vsac"
	"github.com/cql2omop/cql2omop/internal/platform/db"
	"github.com/cql2omop/cql2omop/internal/platform/dialect"
)

// Deps are the collaborators of the pipeline. Parser, Mapper and Lookup may
// be nil: the lexical structure is used without a parser, value-set-free
// requests need no mapper, and code display names fall back to the CQL name.
type Deps struct {
	Parser    cql.Parser
	Extractor *cql.Extractor
	Resolver  ValueSetResolver
	Mapper    ConceptMapper
	Lookup    DisplayLookup
	Generator sqlgen.Generator
	Validator sqlgen.Validator
	Corrector sqlgen.Corrector
}

// Defaults apply when a request leaves a field empty.
type Defaults struct {
	Credentials vsac.Credentials
	Schema      string
	Dialect     dialect.Dialect
	LibraryDir  string
}

// Service runs the translation pipeline. Stages run strictly one after the
// other and the context is checked between them; a stage in progress runs to
// completion.
type Service struct {
	deps     Deps
	engine   *placeholder.Engine
	defaults Defaults
	logger   zerolog.Logger
}

func NewService(deps Deps, defaults Defaults, logger zerolog.Logger) *Service {
	if deps.Extractor == nil {
		deps.Extractor = cql.NewExtractor(logger)
	}
	if defaults.Schema == "" {
		defaults.Schema = "dbo"
	}
	if defaults.Dialect == "" {
		defaults.Dialect = dialect.PostgreSQL
	}
	return &Service{
		deps:     deps,
		engine:   placeholder.NewEngine(logger),
		defaults: defaults,
		logger:   logger.With().Str("component", "translate").Logger(),
	}
}

func checkpoint(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cancelled before %s: %w", stage, err)
	}
	return nil
}

// -- Translate --

// Translate turns CQL into final SQL. The returned error is reserved for
// missing credentials, an unreachable vocabulary database, invalid requests
// and cancellation; every other problem is reported in the response.
func (s *Service) Translate(ctx context.Context, req Request) (*Response, error) {
	d, err := s.dialect(req.Dialect)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.CQLText) == "" {
		return nil, fmt.Errorf("%w: cql_text is required", ErrInvalidRequest)
	}
	resp := &Response{Dialect: string(d), Errors: []string{}}
	log := s.logger.With().Str("dialect", string(d)).Logger()

	// 1. parse
	if err := checkpoint(ctx, StageParse); err != nil {
		return nil, err
	}
	libs, missingLibs := s.libraries(req.Source)
	resp.MissingLibraries = missingLibs
	resp.Statistics.LibrariesProcessed = len(libs)
	structure := s.parse(ctx, req.CQLText, libs, resp)
	resp.Structure = structure
	resp.Statistics.DefinitionsParsed = len(structure.Definitions)
	log.Info().Int("libraries", len(libs)).Int("definitions", len(structure.Definitions)).Msg("cql parsed")

	// 2. extract, resolve and map
	if err := checkpoint(ctx, StageExtract); err != nil {
		return nil, err
	}
	ex, err := s.extract(ctx, req.CQLText, libs, s.credentials(req.Credentials), omop.MappedOnly(s.schema(req.Schema)))
	if err != nil {
		return nil, err
	}
	resp.Errors = append(resp.Errors, ex.errors...)
	resp.Statistics.ValueSetsExtracted = len(ex.oids)
	resp.Statistics.IndividualCodes = len(ex.codeKeys)
	resp.ValueSetSummary = ex.builder.Summary()
	resp.MissingValueSets = ex.missing
	resp.PlaceholderMappings = ex.registry
	for _, ids := range ex.registry {
		resp.Statistics.OMOPConceptsMapped += len(placeholder.Flatten(ids))
	}

	// 3. generate
	if err := checkpoint(ctx, StageGenerate); err != nil {
		return nil, err
	}
	sk, err := s.deps.Generator.Generate(ctx, structure, ex.builder.Hints(), d)
	if err != nil {
		log.Error().Err(err).Msg("sql generation failed")
		resp.addError("sql generation failed", err)
		resp.FailedAt = StageGenerate
		sk = &sqlgen.Skeleton{CTEs: []string{}, PlaceholdersUsed: []string{}, Dialect: d}
	}
	resp.Skeleton = sk
	resp.Statistics.CTEsGenerated = len(sk.CTEs)
	if unknown := sqlgen.Unexpected(sk.SQL, ex.builder.Hints()); len(unknown) > 0 {
		resp.Errors = append(resp.Errors, "generated sql references unknown placeholders: "+strings.Join(unknown, ", "))
	}
	current := sk.SQL

	// 4. validate
	if err := checkpoint(ctx, StageValidate); err != nil {
		return nil, err
	}
	if req.Validate && current != "" {
		v, err := s.deps.Validator.Validate(ctx, current, structure, d)
		if err != nil {
			log.Warn().Err(err).Msg("sql validation had issues")
			resp.addError("validation had issues", err)
		}
		if v != nil {
			resp.Validation = v
			passed := v.Valid
			resp.Statistics.ValidationPassed = &passed
		}
	}

	// 5. correct
	if err := checkpoint(ctx, StageCorrect); err != nil {
		return nil, err
	}
	if req.CorrectErrors && resp.Validation != nil && !resp.Validation.Valid {
		corr, err := s.deps.Corrector.Correct(ctx, current, resp.Validation, d)
		if err != nil {
			log.Error().Err(err).Msg("sql correction failed")
			resp.addError("sql correction failed", err)
		}
		if corr != nil {
			resp.Correction = corr
			if corr.Success {
				current = corr.CorrectedSQL
				resp.Statistics.CorrectionsApplied = len(corr.ChangesMade)
			}
		}
	}

	// 6. substitute
	if err := checkpoint(ctx, StageSubstitute); err != nil {
		return nil, err
	}
	sub := s.engine.Substitute(current, ex.registry, d)
	resp.Substitution = sub
	resp.Statistics.PlaceholdersFound = len(sub.Found)
	resp.Statistics.PlaceholdersReplaced = sub.ReplacementsMade
	resp.Statistics.UnmappedPlaceholders = len(sub.Unmapped)
	if sub.SQL != "" {
		final := sub.SQL
		resp.FinalSQL = &final
	}
	resp.Success = sub.Success
	if !sub.Success {
		resp.Message = sub.Message
		resp.Suggestion = sub.Suggestion
		if resp.FailedAt == "" {
			resp.FailedAt = StageSubstitute
		}
		if len(sub.Remaining) > 0 {
			resp.Errors = append(resp.Errors, "unresolved placeholders remain: "+strings.Join(sub.Remaining, ", "))
		}
	}

	log.Info().
		Bool("success", resp.Success).
		Int("valuesets", resp.Statistics.ValueSetsExtracted).
		Int("placeholders_replaced", resp.Statistics.PlaceholdersReplaced).
		Int("unmapped", resp.Statistics.UnmappedPlaceholders).
		Int("errors", len(resp.Errors)).
		Msg("translation complete")
	return resp, nil
}

func (s *Service) parse(ctx context.Context, text string, libs []cql.Library, resp *Response) *cql.Structure {
	if s.deps.Parser != nil {
		st, err := s.deps.Parser.Parse(ctx, text, libs)
		if err == nil {
			return st
		}
		s.logger.Warn().Err(err).Msg("cql parse failed, using lexical structure")
		resp.addError("cql parse failed, using lexical structure", err)
	}
	st := cql.LexicalStructure(text, s.deps.Extractor)
	if len(libs) > 0 {
		st.LibraryDefinitions = make(map[string][]cql.Definition, len(libs))
		for _, lib := range libs {
			st.LibraryDefinitions[lib.Name] = cql.LexicalStructure(lib.Text, s.deps.Extractor).Definitions
		}
	}
	return st
}

// -- Extract --

// Extract resolves and maps every value set and code of a document and
// returns the placeholder registry without generating SQL.
func (s *Service) Extract(ctx context.Context, req ExtractRequest) (*ExtractResponse, error) {
	if strings.TrimSpace(req.CQLText) == "" {
		return nil, fmt.Errorf("%w: cql_text is required", ErrInvalidRequest)
	}
	opts := omop.MappedOnly(s.schema(req.Schema))
	if req.AllStrategies {
		opts = omop.AllStrategies(opts.Schema)
	}

	libs, missingLibs := s.libraries(req.Source)
	ex, err := s.extract(ctx, req.CQLText, libs, s.credentials(req.Credentials), opts)
	if err != nil {
		return nil, err
	}
	_, valueSets := s.deps.Extractor.ExtractValueSets(req.CQLText)

	return &ExtractResponse{
		Success:             true,
		ValueSets:           valueSets,
		Codes:               s.deps.Extractor.ExtractIndividualCodes(req.CQLText),
		PlaceholderMappings: ex.registry,
		Entries:             ex.builder.Entries(),
		ValueSetSummary:     ex.builder.Summary(),
		FetchSummary:        vsac.Summarize(ex.oids, ex.fetched),
		MappingSummary:      omop.Summarize(ex.concepts, ex.results),
		Schema:              ex.results.Schema,
		MissingValueSets:    ex.missing,
		MissingLibraries:    missingLibs,
		Errors:              ex.errors,
	}, nil
}

// document is one CQL text taking part in a translation.
type document struct {
	library   string
	valueSets []cql.ValueSetReference
	codes     []cql.IndividualCodeReference
}

type extraction struct {
	oids     []string
	codeKeys []string
	fetched  map[string]*vsac.ValueSet
	concepts []omop.ConceptMapping
	results  *omop.Results
	builder  *placeholder.Builder
	registry placeholder.Registry
	missing  []string
	errors   []string
}

func (s *Service) extract(ctx context.Context, text string, libs []cql.Library, creds vsac.Credentials, opts omop.Options) (*extraction, error) {
	ex := &extraction{fetched: map[string]*vsac.ValueSet{}, errors: []string{}}

	docs := []document{s.scanDocument("", text)}
	for _, lib := range libs {
		docs = append(docs, s.scanDocument(lib.Name, lib.Text))
	}

	names := make(map[string]string)
	codes := make(map[string]cql.IndividualCodeReference)
	for _, doc := range docs {
		for _, ref := range doc.valueSets {
			if _, ok := names[ref.OID]; !ok {
				names[ref.OID] = ref.Name
				ex.oids = append(ex.oids, ref.OID)
			}
		}
		for _, ref := range doc.codes {
			key := placeholder.CodeKey(ref.System, ref.Code)
			if _, ok := codes[key]; !ok {
				codes[key] = ref
				ex.codeKeys = append(ex.codeKeys, key)
			}
		}
	}
	valid, invalid := cql.ValidateOIDs(ex.oids)
	for _, oid := range invalid {
		ex.errors = append(ex.errors, "invalid OID skipped: "+oid)
	}
	ex.oids = valid

	if len(ex.oids) > 0 {
		fetched, err := s.deps.Resolver.FetchAll(ctx, ex.oids, "", creds)
		if err != nil {
			if errors.Is(err, vsac.ErrCredentialsRequired) {
				return nil, fmt.Errorf("%w: provide vsac_username and vsac_password or set VSAC_USERNAME/VSAC_PASSWORD", ErrMissingCredentials)
			}
			return nil, fmt.Errorf("fetch value sets: %w", err)
		}
		ex.fetched = fetched
		for _, oid := range ex.oids {
			if vs := fetched[oid]; vs != nil && vs.Failed() {
				ex.errors = append(ex.errors, fmt.Sprintf("value set %s: %s", oid, vs.Err.Error()))
			}
		}
	}

	ex.concepts = []omop.ConceptMapping{}
	for _, oid := range ex.oids {
		ex.concepts = append(ex.concepts, omop.FromValueSet(oid, names[oid], ex.fetched[oid])...)
	}
	for _, key := range ex.codeKeys {
		ref := codes[key]
		display := ref.Name
		if s.deps.Lookup != nil {
			display = s.deps.Lookup.LookupDisplay(ctx, ref.System, ref.Code)
		}
		ex.concepts = append(ex.concepts, omop.FromCode(key, ref.Name, ref.Code, ref.System, display))
	}

	results, err := s.mapConcepts(ctx, ex.concepts, opts)
	if err != nil {
		return nil, err
	}
	ex.results = results
	ex.errors = append(ex.errors, mappingErrors(results)...)

	idsBySet := results.ConceptIDsBySet(omop.Mapped)
	ex.builder = placeholder.NewBuilder(s.logger)
	for _, doc := range docs {
		for _, ref := range doc.valueSets {
			ex.builder.AddValueSet(doc.library, ref, ex.fetched[ref.OID], idsBySet[ref.OID])
		}
		for _, ref := range doc.codes {
			ex.builder.AddCode(doc.library, ref, idsBySet[placeholder.CodeKey(ref.System, ref.Code)])
		}
	}
	ex.missing = ex.builder.WarnMissing()
	ex.registry = ex.builder.Registry()
	return ex, nil
}

func (s *Service) scanDocument(library, text string) document {
	_, valueSets := s.deps.Extractor.ExtractValueSets(text)
	return document{
		library:   library,
		valueSets: valueSets,
		codes:     s.deps.Extractor.ExtractIndividualCodes(text),
	}
}

func (s *Service) mapConcepts(ctx context.Context, concepts []omop.ConceptMapping, opts omop.Options) (*omop.Results, error) {
	if len(concepts) == 0 {
		return &omop.Results{
			Verbatim: []omop.OMOPConcept{},
			Standard: []omop.OMOPConcept{},
			Mapped:   []omop.OMOPConcept{},
			Errors:   map[omop.MappingType]string{},
			Schema:   opts.Schema,
		}, nil
	}
	if s.deps.Mapper == nil {
		return nil, fmt.Errorf("%w: set DATABASE_URL or VOCAB_SQLITE_PATH", ErrDatabaseUnavailable)
	}
	results, err := s.deps.Mapper.Map(ctx, concepts, opts)
	switch {
	case err == nil:
		return results, nil
	case errors.Is(err, omop.ErrInvalidSchema):
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrDatabaseUnavailable, err)
	}
}

func mappingErrors(r *omop.Results) []string {
	types := make([]omop.MappingType, 0, len(r.Errors))
	for t := range r.Errors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, fmt.Sprintf("%s mapping failed: %s", t, r.Errors[t]))
	}
	return out
}

// -- Lookup --

// LookupCode resolves the display name of a single code and maps it to OMOP
// concepts with every strategy.
func (s *Service) LookupCode(ctx context.Context, req CodeLookupRequest) (*CodeLookupResponse, error) {
	system, code := strings.TrimSpace(req.System), strings.TrimSpace(req.Code)
	if system == "" || code == "" {
		return nil, fmt.Errorf("%w: system and code are required", ErrInvalidRequest)
	}

	display := code
	if s.deps.Lookup != nil {
		display = s.deps.Lookup.LookupDisplay(ctx, system, code)
	}
	row := omop.FromCode(placeholder.CodeKey(system, code), code, code, system, display)

	results, err := s.mapConcepts(ctx, []omop.ConceptMapping{row}, omop.AllStrategies(s.schema(req.Schema)))
	if err != nil {
		return nil, err
	}

	ids := conceptIDs(results.Mapped)
	if len(ids) == 0 {
		ids = conceptIDs(results.Standard)
	}
	s.logger.Debug().Str("system", system).Str("code", code).Int("concepts", len(ids)).Msg("code looked up")
	return &CodeLookupResponse{
		Code:       code,
		System:     system,
		Vocabulary: row.VocabularyID,
		Display:    display,
		Mapped:     len(ids) > 0,
		ConceptIDs: ids,
		Concepts:   results,
		Errors:     mappingErrors(results),
	}, nil
}

func conceptIDs(concepts []omop.OMOPConcept) []int64 {
	ids := []int64{}
	seen := make(map[int64]bool, len(concepts))
	for _, c := range concepts {
		if !seen[c.ConceptID] {
			seen[c.ConceptID] = true
			ids = append(ids, c.ConceptID)
		}
	}
	return ids
}

// -- Finalize --

// Finalize substitutes placeholders in previously generated SQL.
func (s *Service) Finalize(req FinalizeRequest) (*placeholder.Result, error) {
	d, err := s.dialect(req.Dialect)
	if err != nil {
		return nil, err
	}
	return s.engine.Substitute(req.SQL, req.PlaceholderMappings, d), nil
}

// -- Scan --

// Scan reports the declarations of a CQL text.
func (s *Service) Scan(text string) *ScanResponse {
	oids, valueSets := s.deps.Extractor.ExtractValueSets(text)
	valid, invalid := cql.ValidateOIDs(oids)
	if invalid == nil {
		invalid = []string{}
	}
	return &ScanResponse{
		OIDs:        valid,
		InvalidOIDs: invalid,
		ValueSets:   valueSets,
		Codes:       s.deps.Extractor.ExtractIndividualCodes(text),
		Includes:    cql.ParseIncludes(text),
	}
}

// -- Cache --

func (s *Service) CacheStats(ctx context.Context) (vsac.CacheStats, error) {
	return s.deps.Resolver.Cache().Stats(ctx)
}

func (s *Service) ClearCache(ctx context.Context) (int, error) {
	n, err := s.deps.Resolver.Cache().Clear(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int("entries", n).Msg("value set cache cleared")
	return n, nil
}

// -- Status --

// Status reports vocabulary database health and cache state. env is the
// redacted configuration to include.
func (s *Service) Status(ctx context.Context, env map[string]string) *StatusReport {
	r := &StatusReport{Environment: env, DefaultDialect: string(s.defaults.Dialect)}
	var p db.Pinger
	if s.deps.Mapper != nil {
		p = s.deps.Mapper
	}
	status, err := db.Check(ctx, p)
	r.VocabularyDB = status
	if err != nil {
		r.VocabularyErr = err.Error()
	}
	if stats, err := s.CacheStats(ctx); err == nil {
		r.Cache = stats
	}
	return r
}

// -- helpers --

func (s *Service) dialect(name string) (dialect.Dialect, error) {
	if strings.TrimSpace(name) == "" {
		return s.defaults.Dialect, nil
	}
	d, err := dialect.Parse(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return d, nil
}

func (s *Service) schema(name string) string {
	if name == "" {
		return s.defaults.Schema
	}
	return name
}

func (s *Service) credentials(c Credentials) vsac.Credentials {
	creds := vsac.Credentials{Username: c.VSACUsername, Password: c.VSACPassword}.Trimmed()
	if creds.Empty() {
		return s.defaults.Credentials.Trimmed()
	}
	return creds
}

// libraries collects the included libraries of src: inline texts first, then
// files found in the library directory. Includes found in neither are
// returned as missing.
func (s *Service) libraries(src Source) ([]cql.Library, []string) {
	includes := cql.ParseIncludes(src.CQLText)
	libs := []cql.Library{}
	var unresolved []cql.Include
	for _, inc := range includes {
		if text, ok := src.Libraries[inc.Name]; ok {
			libs = append(libs, cql.Library{Include: inc, Text: text})
			continue
		}
		unresolved = append(unresolved, inc)
	}

	dir := src.LibraryDir
	if dir == "" {
		dir = s.defaults.LibraryDir
	}
	found, missing := cql.NewLibraryResolver(dir, s.logger).Resolve(unresolved)
	return append(libs, found...), missing
}
