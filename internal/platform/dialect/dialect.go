// Package dialect names the SQL dialects the translator can target.
package dialect

import (
	"fmt"
	"strings"
)

// Dialect is a target SQL dialect for generated queries.
type Dialect string

const (
	PostgreSQL Dialect = "postgresql"
	Snowflake  Dialect = "snowflake"
	BigQuery   Dialect = "bigquery"
	SQLServer  Dialect = "sqlserver"
)

// All lists every supported dialect in display order.
var All = []Dialect{PostgreSQL, Snowflake, BigQuery, SQLServer}

// Parse normalizes s and returns the matching dialect. The empty string
// resolves to PostgreSQL. A few common aliases are accepted.
func Parse(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "postgresql", "postgres", "pg":
		return PostgreSQL, nil
	case "snowflake":
		return Snowflake, nil
	case "bigquery", "bq":
		return BigQuery, nil
	case "sqlserver", "mssql", "tsql":
		return SQLServer, nil
	}
	return "", fmt.Errorf("unsupported sql dialect %q (expected one of %s)", s, strings.Join(names(), ", "))
}

// Valid reports whether d is one of the supported dialects.
func (d Dialect) Valid() bool {
	for _, v := range All {
		if d == v {
			return true
		}
	}
	return false
}

func (d Dialect) String() string { return string(d) }

func names() []string {
	out := make([]string, len(All))
	for i, d := range All {
		out[i] = string(d)
	}
	return out
}
