package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	duckdbDriver "github.com/marcboeker/go-duckdb"
)

// Options are per-connection DuckDB settings applied when the pool opens a
// connection. Zero values keep DuckDB's defaults.
type Options struct {
	// Threads caps DuckDB's worker threads.
	Threads int
	// MemoryLimit is a DuckDB size string such as "512MB".
	MemoryLimit string
}

func (o Options) bootQueries() []string {
	var queries []string
	if o.Threads > 0 {
		queries = append(queries, fmt.Sprintf("SET threads = %d", o.Threads))
	}
	if o.MemoryLimit != "" {
		queries = append(queries, fmt.Sprintf("SET memory_limit = '%s'", o.MemoryLimit))
	}
	return queries
}

// OpenDB opens a DuckDB database at dsn (empty for in-memory) and applies
// opts on every pooled connection.
func OpenDB(dsn string, opts Options) (*sql.DB, error) {
	boot := opts.bootQueries()
	connector, err := duckdbDriver.NewConnector(dsn, func(execer driver.ExecerContext) error {
		ctx := context.Background()
		for _, query := range boot {
			if _, err := execer.ExecContext(ctx, query, nil); err != nil {
				return fmt.Errorf("%s: %w", query, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return sql.OpenDB(connector), nil
}
