package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/coral-mesh/remoteprof/internal/retry"
)

// Execer is an interface that matches both *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Table represents a generic database table wrapper for type T.
type Table[T any] struct {
	db              Execer
	tableName       string
	columns         []string
	pkColumns       []string
	immutableFields map[string]bool // Fields that can't be updated
	fieldMap        map[string]int  // Map column name to field index
	upsertQuery     string
}

// NewTable creates a new Table[T] instance.
// T must be a struct with `duckdb` tags.
func NewTable[T any](db Execer, tableName string) *Table[T] {
	var zero T
	t := reflect.TypeOf(zero)
	if t.Kind() != reflect.Struct {
		panic("Table generic type T must be a struct")
	}

	tbl := &Table[T]{
		db:              db,
		tableName:       tableName,
		immutableFields: make(map[string]bool),
		fieldMap:        make(map[string]int),
	}
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("duckdb")
		if tag == "" || tag == "-" {
			continue
		}

		parts := strings.Split(tag, ",")
		col := strings.TrimSpace(parts[0])
		tbl.columns = append(tbl.columns, col)
		tbl.fieldMap[col] = i

		for _, p := range parts[1:] {
			switch strings.TrimSpace(p) {
			case "pk":
				tbl.pkColumns = append(tbl.pkColumns, col)
			case "immutable":
				tbl.immutableFields[col] = true
			}
		}
	}
	tbl.upsertQuery = tbl.buildUpsert()
	return tbl
}

// With returns a copy of the table bound to db, typically a *sql.Tx.
func (t *Table[T]) With(db Execer) *Table[T] {
	bound := *t
	bound.db = db
	return &bound
}

// Name returns the table name.
func (t *Table[T]) Name() string { return t.tableName }

// Columns returns the mapped column names in struct order.
func (t *Table[T]) Columns() []string {
	return append([]string(nil), t.columns...)
}

func (t *Table[T]) isPK(col string) bool {
	for _, pk := range t.pkColumns {
		if pk == col {
			return true
		}
	}
	return false
}

func (t *Table[T]) buildUpsert() string {
	placeholders := make([]string, len(t.columns))
	updates := make([]string, 0, len(t.columns))
	for i, col := range t.columns {
		placeholders[i] = "?"
		// Exclude PKs and immutable fields from update set
		if !t.isPK(col) && !t.immutableFields[col] {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
		}
	}

	// #nosec G201 - table and column names are not user input, they come from struct tags
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.tableName,
		strings.Join(t.columns, ", "),
		strings.Join(placeholders, ", "),
	)
	if len(t.pkColumns) == 0 {
		return query
	}

	clause := "DO NOTHING"
	if len(updates) > 0 {
		clause = "DO UPDATE SET " + strings.Join(updates, ", ")
	}
	return query + fmt.Sprintf(" ON CONFLICT (%s) %s", strings.Join(t.pkColumns, ", "), clause)
}

func (t *Table[T]) values(item *T) []any {
	val := reflect.ValueOf(item).Elem()
	values := make([]any, len(t.columns))
	for i, col := range t.columns {
		values[i] = val.Field(t.fieldMap[col]).Interface()
	}
	return values
}

// conflictRetry is used for statements that may hit DuckDB's optimistic
// concurrency control.
var conflictRetry = retry.Config{
	MaxRetries:     10,
	InitialBackoff: 10 * time.Millisecond,
	MaxBackoff:     500 * time.Millisecond,
	Jitter:         0.1,
}

// Upsert inserts or updates an item in the database.
// It generates an INSERT ... ON CONFLICT statement.
func (t *Table[T]) Upsert(ctx context.Context, item *T) error {
	values := t.values(item)
	exec := func() error {
		_, err := t.db.ExecContext(ctx, t.upsertQuery, values...)
		return err
	}
	// A statement failing inside a transaction aborts it; retrying is only
	// useful in autocommit mode.
	if _, inTx := t.db.(*sql.Tx); inTx {
		return exec()
	}
	return retry.Do(ctx, conflictRetry, exec, isTransactionConflict)
}

// BatchUpsert upserts items with one prepared statement. When the table is
// bound to a *sql.DB the batch runs in its own transaction.
func (t *Table[T]) BatchUpsert(ctx context.Context, items []*T) (err error) {
	if len(items) == 0 {
		return nil
	}

	var tx *sql.Tx
	switch d := t.db.(type) {
	case *sql.Tx:
		tx = d
	case *sql.DB:
		tx, err = d.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback()
			}
		}()
	default:
		return fmt.Errorf("unsupported Execer type for BatchUpsert: %T", t.db)
	}

	stmt, err := tx.PrepareContext(ctx, t.upsertQuery)
	if err != nil {
		return fmt.Errorf("prepare stmt: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, item := range items {
		if _, err = stmt.ExecContext(ctx, t.values(item)...); err != nil {
			return fmt.Errorf("batch exec: %w", err)
		}
	}

	if _, started := t.db.(*sql.DB); started {
		if err = tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	return nil
}

// Get retrieves a single item by its primary key. Composite keys are given
// in declaration order. It returns sql.ErrNoRows when nothing matches.
func (t *Table[T]) Get(ctx context.Context, key ...any) (*T, error) {
	if len(t.pkColumns) == 0 {
		return nil, errors.New("no primary key defined for table")
	}
	if len(key) != len(t.pkColumns) {
		return nil, fmt.Errorf("table %s has %d key columns, got %d values", t.tableName, len(t.pkColumns), len(key))
	}

	b := NewQueryBuilder(t.tableName).Select(t.columns...)
	for i, pk := range t.pkColumns {
		b.Where(pk+" = ?", key[i])
	}
	query, args, err := b.Build()
	if err != nil {
		return nil, err
	}
	return t.scanRow(t.db.QueryRowContext(ctx, query, args...))
}

// List retrieves all items matching simple "column = value" filters, in
// primary key order.
func (t *Table[T]) List(ctx context.Context, filters map[string]any) ([]*T, error) {
	b := NewQueryBuilder(t.tableName).Select(t.columns...)
	cols := make([]string, 0, len(filters))
	for col := range filters {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		if _, ok := t.fieldMap[col]; !ok {
			return nil, fmt.Errorf("column %s does not exist in table %s", col, t.tableName)
		}
		b.Where(col+" = ?", filters[col])
	}
	b.OrderBy(t.pkColumns...)
	return t.Query(ctx, b)
}

// Query runs a builder whose SELECT list is Columns() and scans every row.
func (t *Table[T]) Query(ctx context.Context, b *Builder) ([]*T, error) {
	query, args, err := b.Build()
	if err != nil {
		return nil, err
	}
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", t.tableName, err)
	}
	defer func() { _ = rows.Close() }()

	var items []*T
	for rows.Next() {
		item, err := t.scanRows(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (t *Table[T]) dest(item *T) []any {
	val := reflect.ValueOf(item).Elem()
	dest := make([]any, len(t.columns))
	for i, col := range t.columns {
		dest[i] = val.Field(t.fieldMap[col]).Addr().Interface()
	}
	return dest
}

// scanRow scans a single row into T.
func (t *Table[T]) scanRow(row *sql.Row) (*T, error) {
	var item T
	if err := row.Scan(t.dest(&item)...); err != nil {
		return nil, err
	}
	return &item, nil
}

// scanRows scans the current row from rows into T.
func (t *Table[T]) scanRows(rows *sql.Rows) (*T, error) {
	var item T
	if err := rows.Scan(t.dest(&item)...); err != nil {
		return nil, err
	}
	return &item, nil
}

func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	// Detect various DuckDB transaction conflict patterns
	return strings.Contains(msg, "Conflict on update") ||
		strings.Contains(msg, "conflict") ||
		strings.Contains(msg, "serialization") ||
		strings.Contains(msg, "TransactionContext Error")
}
