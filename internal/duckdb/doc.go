// Package duckdb provides the DuckDB plumbing used by the recording store: a
// small reflection ORM, a SELECT query builder and a connector with per
// connection settings.
//
// # ORM
//
// Table maps a struct with `duckdb` tags onto a table. A Table can be rebound
// to a transaction with With, so one story event is written atomically:
//
//	type Group struct {
//	    ID   string `duckdb:"id,pk"`
//	    Name string `duckdb:"name"`
//	}
//
//	groups := duckdb.NewTable[Group](db, "sample_groups")
//	err := groups.With(tx).Upsert(ctx, &Group{...})
//
// # Query Builder
//
//	q, args, err := duckdb.NewQueryBuilder("log_samples").
//	    Select(groups.Columns()...).
//	    Eq("recording_id", id).
//	    OrderBy("timestamp", "id").
//	    Build()
//
// Eq skips empty string values so optional filters can be chained
// unconditionally.
package duckdb
