package omop

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPGStore serves vocabulary lookups from a Postgres pool.
func NewPGStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) Acquire(ctx context.Context) (Conn, error) {
	c, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &pgConn{c: c}, nil
}

func (s *pgStore) Bind(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (s *pgStore) DefaultSchema() string {
	return "public"
}

func (s *pgStore) CountTables(ctx context.Context, conn Conn, schema string) (int, error) {
	return countTables(ctx, conn, `
		SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = $1 AND table_name IN ('concept', 'concept_relationship')`, schema)
}

func (s *pgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type pgConn struct {
	c *pgxpool.Conn
}

func (p *pgConn) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := p.c.Exec(ctx, sql, args...)
	return err
}

func (p *pgConn) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return p.c.Query(ctx, sql, args...)
}

func (p *pgConn) Release() {
	p.c.Release()
}

func countTables(ctx context.Context, conn Conn, query, schema string) (int, error) {
	rows, err := conn.Query(ctx, query, schema)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}
