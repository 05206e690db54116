package omop

import "context"

// Rows is the cursor returned by Conn.Query. pgx.Rows satisfies it directly.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Conn is a single session. Temporary staging tables live exactly as long
// as the session, so one mapping call must use one Conn throughout.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) error
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	Release()
}

// Store hands out sessions against an OMOP vocabulary database.
type Store interface {
	Acquire(ctx context.Context) (Conn, error)
	// Bind returns the placeholder for the n-th (1-based) query argument.
	Bind(n int) string
	// DefaultSchema is tried last when looking for the vocabulary tables.
	DefaultSchema() string
	// CountTables counts concept and concept_relationship in schema.
	CountTables(ctx context.Context, conn Conn, schema string) (int, error)
	Ping(ctx context.Context) error
}
