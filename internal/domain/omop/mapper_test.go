package omop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// fakeRows serves pre-built rows to Scan.
type fakeRows struct {
	rows [][]any
	i    int
}

func (r *fakeRows) Next() bool {
	r.i++
	return r.i <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.i-1]
	if len(row) != len(dest) {
		return fmt.Errorf("scan: %d columns into %d targets", len(row), len(dest))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int:
			*p = row[i].(int)
		case *int64:
			*p = row[i].(int64)
		case *string:
			*p = row[i].(string)
		default:
			return fmt.Errorf("scan: unsupported target %T", d)
		}
	}
	return nil
}

func (r *fakeRows) Err() error { return nil }
func (r *fakeRows) Close()     {}

// fakeConn records statements and simulates per-row insert failures and
// per-strategy query failures.
type fakeConn struct {
	execs    []string
	inserted int
	failCode string
	failType string
	released bool
	dropped  bool
}

func (c *fakeConn) Exec(ctx context.Context, sql string, args ...any) error {
	c.execs = append(c.execs, sql)
	switch {
	case strings.HasPrefix(sql, "DROP TABLE"):
		c.dropped = true
		if ctx.Err() != nil {
			return ctx.Err()
		}
	case strings.HasPrefix(sql, "INSERT"):
		if args[3] == c.failCode {
			return errors.New("value too long for type character varying(50)")
		}
		c.inserted++
	}
	return nil
}

func (c *fakeConn) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	switch {
	case strings.Contains(sql, "information_schema") || strings.Contains(sql, "pragma_table_list"):
		if args[0] == "cdm" {
			return &fakeRows{rows: [][]any{{2}}}, nil
		}
		return &fakeRows{rows: [][]any{{0}}}, nil
	case strings.HasPrefix(sql, "SELECT COUNT(*) FROM temp_concepts_"):
		return &fakeRows{rows: [][]any{{c.inserted}}}, nil
	}

	typ := "verbatim"
	if strings.Contains(sql, "'Maps to'") {
		typ = "mapped"
	} else if strings.Contains(sql, "standard_concept = 'S'") {
		typ = "standard"
	}
	if typ == c.failType {
		return nil, errors.New(`relation "cdm.concept_relationship" does not exist`)
	}
	return &fakeRows{rows: [][]any{
		{int64(201826), "44054006", "SNOMED", "Condition", "Clinical Finding", "Type 2 diabetes mellitus", "S", int64(0), "", "1.1", "Diabetes", "SNOMEDCT", "44054006"},
	}}, nil
}

func (c *fakeConn) Release() { c.released = true }

type fakeStore struct {
	conn       *fakeConn
	acquireErr error
}

func (s *fakeStore) Acquire(ctx context.Context) (Conn, error) {
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	return s.conn, nil
}
func (s *fakeStore) Bind(n int) string          { return fmt.Sprintf("$%d", n) }
func (s *fakeStore) DefaultSchema() string      { return "public" }
func (s *fakeStore) Ping(context.Context) error { return nil }
func (s *fakeStore) CountTables(ctx context.Context, conn Conn, schema string) (int, error) {
	return countTables(ctx, conn, "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1", schema)
}

func TestMapper_InsertFailuresAreSkipped(t *testing.T) {
	conn := &fakeConn{failCode: "BAD"}
	m := NewMapper(&fakeStore{conn: conn}, zerolog.Nop())

	source := []ConceptMapping{
		{ConceptSetID: "1.1", ConceptCode: "44054006", VocabularyID: "SNOMED"},
		{ConceptSetID: "1.1", ConceptCode: "BAD", VocabularyID: "SNOMED"},
		{ConceptSetID: "1.1", ConceptCode: "E11.9", VocabularyID: "ICD10CM"},
	}
	res, err := m.Map(context.Background(), source, AllStrategies("dbo"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StagedRows != 2 || res.FailedRows != 1 {
		t.Errorf("expected 2 staged and 1 failed, got %d/%d", res.StagedRows, res.FailedRows)
	}
	if res.Schema != "cdm" {
		t.Errorf("expected fallback schema cdm, got %q", res.Schema)
	}
	if len(res.Verbatim) != 1 || len(res.Standard) != 1 || len(res.Mapped) != 1 {
		t.Errorf("expected every strategy to run, got %d/%d/%d", len(res.Verbatim), len(res.Standard), len(res.Mapped))
	}
	if !conn.dropped || !conn.released {
		t.Error("expected staging table dropped and connection released")
	}
}

func TestMapper_StrategiesAreIsolated(t *testing.T) {
	conn := &fakeConn{failType: "mapped"}
	m := NewMapper(&fakeStore{conn: conn}, zerolog.Nop())

	res, err := m.Map(context.Background(), diabetesSource, AllStrategies("cdm"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := res.Errors[Mapped]; !ok {
		t.Error("expected mapped strategy error to be recorded")
	}
	if len(res.Verbatim) != 1 || len(res.Standard) != 1 {
		t.Errorf("expected other strategies to succeed, got %d/%d", len(res.Verbatim), len(res.Standard))
	}
	if len(res.Mapped) != 0 {
		t.Errorf("expected no mapped rows, got %d", len(res.Mapped))
	}
}

func TestMapper_DropSurvivesCancellation(t *testing.T) {
	conn := &fakeConn{}
	m := NewMapper(&fakeStore{conn: conn}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Map(ctx, diabetesSource, MappedOnly("cdm"))

	last := conn.execs[len(conn.execs)-1]
	if !strings.HasPrefix(last, "DROP TABLE IF EXISTS temp_concepts_") {
		t.Fatalf("expected drop to be the last statement, got %q", last)
	}
	if !conn.released {
		t.Error("expected connection to be released")
	}
}

func TestMapper_AcquireFailure(t *testing.T) {
	m := NewMapper(&fakeStore{acquireErr: errors.New("connection refused")}, zerolog.Nop())
	_, err := m.Map(context.Background(), diabetesSource, MappedOnly("dbo"))
	if !errors.Is(err, ErrDatabaseUnavailable) {
		t.Errorf("expected ErrDatabaseUnavailable, got %v", err)
	}
}

func TestMapper_InvalidSchema(t *testing.T) {
	m := NewMapper(&fakeStore{conn: &fakeConn{}}, zerolog.Nop())
	_, err := m.Map(context.Background(), diabetesSource, MappedOnly("dbo; DROP TABLE concept"))
	if !errors.Is(err, ErrInvalidSchema) {
		t.Errorf("expected ErrInvalidSchema, got %v", err)
	}
}

func TestMapper_NoTablesAnywhereStillQueries(t *testing.T) {
	conn := &fakeConn{}
	store := &noTablesStore{fakeStore{conn: conn}}
	m := NewMapper(store, zerolog.Nop())

	res, err := m.Map(context.Background(), diabetesSource, MappedOnly("dbo"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Schema != "dbo" {
		t.Errorf("expected requested schema to be used, got %q", res.Schema)
	}
}

type noTablesStore struct{ fakeStore }

func (s *noTablesStore) CountTables(context.Context, Conn, string) (int, error) { return 0, nil }
