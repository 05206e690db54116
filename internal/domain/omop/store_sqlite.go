package omop

import (
	"context"
	"database/sql"
)

type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore serves vocabulary lookups from a SQLite extract opened with
// the sqlite3 driver. Schemas are SQLite database names (main, or attached).
func NewSQLiteStore(db *sql.DB) Store {
	return &sqliteStore{db: db}
}

func (s *sqliteStore) Acquire(ctx context.Context) (Conn, error) {
	c, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &sqliteConn{c: c}, nil
}

func (s *sqliteStore) Bind(int) string {
	return "?"
}

func (s *sqliteStore) DefaultSchema() string {
	return "main"
}

func (s *sqliteStore) CountTables(ctx context.Context, conn Conn, schema string) (int, error) {
	return countTables(ctx, conn, `
		SELECT COUNT(*) FROM pragma_table_list
		WHERE schema = ? AND name IN ('concept', 'concept_relationship')`, schema)
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type sqliteConn struct {
	c *sql.Conn
}

func (s *sqliteConn) Exec(ctx context.Context, query string, args ...any) error {
	_, err := s.c.ExecContext(ctx, query, args...)
	return err
}

func (s *sqliteConn) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := s.c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqliteRows{rows}, nil
}

func (s *sqliteConn) Release() {
	s.c.Close()
}

type sqliteRows struct {
	*sql.Rows
}

func (r sqliteRows) Close() {
	r.Rows.Close()
}
