package duckdb

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// InterpolateQuery returns a formatted query for logging.
// The output is valid SQL that can be pasted into the duckdb shell.
func InterpolateQuery(query string, args []any) string {
	for _, arg := range args {
		query = strings.Replace(query, "?", literal(arg), 1)
	}

	query = strings.ReplaceAll(query, "\t", " ")
	query = strings.ReplaceAll(query, "\n", "")
	return query
}

func literal(arg any) string {
	if arg == nil {
		return "NULL"
	}
	// Nullable columns are bound as pointers.
	if v := reflect.ValueOf(arg); v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return "NULL"
		}
		return literal(v.Elem().Interface())
	}

	switch v := arg.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case float32, float64:
		return fmt.Sprintf("%v", v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case time.Time:
		// Format without the monotonic clock reading.
		return "'" + v.UTC().Format(time.RFC3339Nano) + "'"
	}
	return fmt.Sprintf("'%v'", arg)
}
