package omop

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrDatabaseUnavailable means no session could be opened at all.
	ErrDatabaseUnavailable = errors.New("omop: vocabulary database unavailable")
	// ErrNoTablesFound means no candidate schema holds the vocabulary tables.
	ErrNoTablesFound = errors.New("omop: concept tables not found in any schema")
	// ErrInvalidSchema rejects schema names that are not plain identifiers.
	ErrInvalidSchema = errors.New("omop: invalid schema name")
)

// FallbackSchemas are searched, in order, when the requested schema lacks
// the vocabulary tables.
var FallbackSchemas = []string{"dbo", "cdm", "public", "omop"}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Mapper resolves source codes to OMOP concepts through a per-call staging
// table.
type Mapper struct {
	store  Store
	logger zerolog.Logger
}

func NewMapper(store Store, logger zerolog.Logger) *Mapper {
	return &Mapper{store: store, logger: logger.With().Str("component", "concept_mapper").Logger()}
}

func (m *Mapper) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// Map stages concepts and runs each selected strategy. Individual insert
// failures are skipped and a failing strategy is recorded in Results.Errors
// without affecting the others. The staging table is dropped and the session
// released before Map returns.
func (m *Mapper) Map(ctx context.Context, concepts []ConceptMapping, opts Options) (*Results, error) {
	if opts.Schema == "" {
		opts.Schema = "dbo"
	}
	if !identPattern.MatchString(opts.Schema) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSchema, opts.Schema)
	}
	if len(concepts) == 0 {
		return newResults(opts.Schema), nil
	}

	conn, err := m.store.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseUnavailable, err)
	}
	defer conn.Release()

	schema, err := m.resolveSchema(ctx, conn, opts.Schema)
	if err != nil {
		m.logger.Error().Err(err).Str("schema", opts.Schema).Msg("schema resolution failed, using requested schema")
		schema = opts.Schema
	}
	res := newResults(schema)

	table := "temp_concepts_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	if err := conn.Exec(ctx, fmt.Sprintf(`CREATE TEMPORARY TABLE %s (
		row_no integer,
		concept_set_id varchar(255),
		concept_set_name varchar(255),
		concept_code varchar(50),
		vocabulary_id varchar(50),
		original_vocabulary varchar(50),
		display_name text
	)`, table)); err != nil {
		return nil, fmt.Errorf("create staging table: %w", err)
	}
	defer func() {
		dropCtx := context.WithoutCancel(ctx)
		if err := conn.Exec(dropCtx, "DROP TABLE IF EXISTS "+table); err != nil {
			m.logger.Warn().Err(err).Str("table", table).Msg("drop staging table failed")
		}
	}()

	res.StagedRows, res.FailedRows = m.stage(ctx, conn, table, concepts)

	for _, t := range MappingTypes {
		if !opts.includes(t) {
			continue
		}
		rows, err := m.query(ctx, conn, t, table, schema)
		if err != nil {
			m.logger.Error().Err(err).Str("mapping_type", string(t)).Msg("mapping query failed")
			res.Errors[t] = err.Error()
			continue
		}
		res.set(t, rows)
	}

	m.logger.Info().
		Str("schema", schema).
		Int("source_concepts", len(concepts)).
		Int("staged", res.StagedRows).
		Int("failed_rows", res.FailedRows).
		Int("verbatim", len(res.Verbatim)).
		Int("standard", len(res.Standard)).
		Int("mapped", len(res.Mapped)).
		Msg("concepts mapped")
	return res, nil
}

func (m *Mapper) resolveSchema(ctx context.Context, conn Conn, requested string) (string, error) {
	candidates := append([]string{requested}, FallbackSchemas...)
	candidates = append(candidates, m.store.DefaultSchema())

	tried := make(map[string]bool, len(candidates))
	for _, s := range candidates {
		if tried[s] {
			continue
		}
		tried[s] = true
		n, err := m.store.CountTables(ctx, conn, s)
		if err != nil {
			m.logger.Debug().Err(err).Str("schema", s).Msg("schema probe failed")
			continue
		}
		if n >= 2 {
			if s != requested {
				m.logger.Warn().Str("requested", requested).Str("schema", s).Msg("vocabulary tables found in fallback schema")
			}
			return s, nil
		}
	}
	return "", ErrNoTablesFound
}

func (m *Mapper) stage(ctx context.Context, conn Conn, table string, concepts []ConceptMapping) (staged, failed int) {
	b := m.store.Bind
	insert := fmt.Sprintf(`INSERT INTO %s
		(row_no, concept_set_id, concept_set_name, concept_code, vocabulary_id, original_vocabulary, display_name)
		VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		table, b(1), b(2), b(3), b(4), b(5), b(6), b(7))

	for i, c := range concepts {
		err := conn.Exec(ctx, insert,
			i, c.ConceptSetID, c.ConceptSetName, c.ConceptCode, c.VocabularyID, c.OriginalVocabulary, c.DisplayName)
		if err != nil {
			failed++
			m.logger.Warn().Err(err).
				Int("row", i).
				Str("concept_set_id", c.ConceptSetID).
				Str("concept_code", c.ConceptCode).
				Msg("staging insert failed")
		}
	}

	rows, err := conn.Query(ctx, "SELECT COUNT(*) FROM "+table)
	if err != nil {
		m.logger.Warn().Err(err).Msg("staging count failed")
		return len(concepts) - failed, failed
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&staged); err != nil {
			return len(concepts) - failed, failed
		}
	}
	if staged != len(concepts)-failed {
		m.logger.Warn().Int("expected", len(concepts)-failed).Int("staged", staged).Msg("staging count mismatch")
	}
	return staged, failed
}

const conceptColumns = `
	%[1]s.concept_id,
	%[1]s.concept_code,
	%[1]s.vocabulary_id,
	COALESCE(%[1]s.domain_id, ''),
	COALESCE(%[1]s.concept_class_id, ''),
	COALESCE(%[1]s.concept_name, ''),
	COALESCE(%[1]s.standard_concept, '')`

const stagedColumns = `
	t.concept_set_id,
	COALESCE(t.concept_set_name, ''),
	COALESCE(t.original_vocabulary, ''),
	t.concept_code`

func mappingQuery(t MappingType, table, schema string) string {
	switch t {
	case Verbatim, Standard:
		filter := ""
		if t == Standard {
			filter = "\nWHERE c.standard_concept = 'S'"
		}
		return fmt.Sprintf(`SELECT %s,
	0, '',%s
FROM %s t
JOIN %s.concept c ON c.concept_code = t.concept_code AND c.vocabulary_id = t.vocabulary_id%s
ORDER BY t.row_no, c.concept_id`,
			fmt.Sprintf(conceptColumns, "c"), stagedColumns, table, schema, filter)
	default:
		return fmt.Sprintf(`SELECT %s,
	src.concept_id, cr.relationship_id,%s
FROM %s t
JOIN %[4]s.concept src ON src.concept_code = t.concept_code AND src.vocabulary_id = t.vocabulary_id
JOIN %[4]s.concept_relationship cr ON cr.concept_id_1 = src.concept_id AND cr.relationship_id = 'Maps to'
JOIN %[4]s.concept c2 ON c2.concept_id = cr.concept_id_2
WHERE c2.standard_concept = 'S'
ORDER BY t.row_no, c2.concept_id`,
			fmt.Sprintf(conceptColumns, "c2"), stagedColumns, table, schema)
	}
}

func (m *Mapper) query(ctx context.Context, conn Conn, t MappingType, table, schema string) ([]OMOPConcept, error) {
	rows, err := conn.Query(ctx, mappingQuery(t, table, schema))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []OMOPConcept{}
	for rows.Next() {
		c := OMOPConcept{MappingType: t}
		if err := rows.Scan(
			&c.ConceptID, &c.ConceptCode, &c.VocabularyID, &c.DomainID, &c.ConceptClassID,
			&c.ConceptName, &c.StandardConcept, &c.SourceConceptID, &c.RelationshipID,
			&c.ConceptSetID, &c.ConceptSetName, &c.SourceVocabulary, &c.SourceCode,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
