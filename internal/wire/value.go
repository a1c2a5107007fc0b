package wire

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindTime
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindTime:
		return "time"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a tagged variant carried in story payloads.
// The zero Value is null.
type Value struct {
	kind Kind
	num  uint64 // bool, int, float bits, time unix nanos
	str  string
	raw  []byte
	list []Value
	m    *Map
}

func Null() Value           { return Value{} }
func Int(i int64) Value     { return Value{kind: KindInt, num: uint64(i)} }
func Float(f float64) Value { return Value{kind: KindFloat, num: math.Float64bits(f)} }
func String(s string) Value { return Value{kind: KindString, str: s} }
func Bytes(b []byte) Value  { return Value{kind: KindBytes, raw: append([]byte(nil), b...)} }

func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}
func List(vs ...Value) Value {
	return Value{kind: KindList, list: append([]Value(nil), vs...)}
}

// Time stores t with nanosecond precision as unix nanoseconds.
func Time(t time.Time) Value { return Value{kind: KindTime, num: uint64(t.UnixNano())} }

// MapValue wraps m. A nil map yields null.
func MapValue(m *Map) Value {
	if m == nil {
		return Null()
	}
	return Value{kind: KindMap, m: m}
}

// Strings builds a list of string values.
func Strings(ss []string) Value {
	vs := make([]Value, len(ss))
	for i, s := range ss {
		vs[i] = String(s)
	}
	return Value{kind: KindList, list: vs}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the value as a bool. Ints are true when non-zero.
func (v Value) AsBool() (bool, bool) {
	switch v.kind {
	case KindBool, KindInt:
		return v.num != 0, true
	}
	return false, false
}

// AsInt returns the value as an int64. Floats are truncated, bools map to
// 0/1 and times to unix nanoseconds.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt, KindTime:
		return int64(v.num), true
	case KindBool:
		return int64(v.num), true
	case KindFloat:
		f := math.Float64frombits(v.num)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return int64(f), true
	case KindString:
		i, err := strconv.ParseInt(v.str, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// AsFloat returns the value as a float64.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return math.Float64frombits(v.num), true
	case KindInt:
		return float64(int64(v.num)), true
	case KindString:
		f, err := strconv.ParseFloat(v.str, 64)
		return f, err == nil
	}
	return 0, false
}

// AsString returns string values as-is and formats scalar values.
func (v Value) AsString() (string, bool) {
	switch v.kind {
	case KindString:
		return v.str, true
	case KindBytes:
		return string(v.raw), true
	case KindInt:
		return strconv.FormatInt(int64(v.num), 10), true
	case KindFloat:
		return strconv.FormatFloat(math.Float64frombits(v.num), 'g', -1, 64), true
	case KindBool:
		return strconv.FormatBool(v.num != 0), true
	}
	return "", false
}

// AsBytes returns byte and string values.
func (v Value) AsBytes() ([]byte, bool) {
	switch v.kind {
	case KindBytes:
		return v.raw, true
	case KindString:
		return []byte(v.str), true
	}
	return nil, false
}

// AsTime accepts time values, integer unix nanoseconds, float unix seconds
// and RFC 3339 strings.
func (v Value) AsTime() (time.Time, bool) {
	switch v.kind {
	case KindTime, KindInt:
		return time.Unix(0, int64(v.num)).UTC(), true
	case KindFloat:
		f := math.Float64frombits(v.num)
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	case KindString:
		t, err := time.Parse(time.RFC3339Nano, v.str)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	return time.Time{}, false
}

// AsList returns the list elements.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// AsMap returns the nested map.
func (v Value) AsMap() (*Map, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// Equal reports deep equality of two values.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool, KindInt, KindFloat, KindTime:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	case KindBytes:
		return string(v.raw) == string(o.raw)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return v.m.Equal(o.m)
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindTime:
		t, _ := v.AsTime()
		return t.Format(time.RFC3339Nano)
	case KindList:
		return fmt.Sprintf("%v", v.list)
	case KindMap:
		return v.m.String()
	}
	s, _ := v.AsString()
	if v.kind == KindString {
		return strconv.Quote(s)
	}
	return s
}

// Map is an ordered mapping of field name to Value.
// Setting an existing key keeps its original position.
type Map struct {
	keys []string
	vals map[string]Value
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{vals: make(map[string]Value)}
}

// Set stores v under key and returns the map for chaining.
func (m *Map) Set(key string, v Value) *Map {
	if m.vals == nil {
		m.vals = make(map[string]Value)
	}
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = v
	return m
}

// Get returns the value under key.
func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	v, ok := m.vals[key]
	return v, ok
}

// Delete removes key, preserving the order of the remaining keys.
func (m *Map) Delete(key string) {
	if m == nil {
		return
	}
	if _, ok := m.vals[key]; !ok {
		return
	}
	delete(m.vals, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.keys...)
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Range calls fn for each entry in order until fn returns false.
func (m *Map) Range(fn func(key string, v Value) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !fn(k, m.vals[k]) {
			return
		}
	}
}

// Equal reports whether both maps hold the same entries in the same order.
func (m *Map) Equal(o *Map) bool {
	if m.Len() != o.Len() {
		return false
	}
	for i, k := range m.Keys() {
		if o.keys[i] != k || !m.vals[k].Equal(o.vals[k]) {
			return false
		}
	}
	return true
}

// StringMap flattens scalar entries into a string map. Nested lists and maps
// are skipped.
func (m *Map) StringMap() map[string]string {
	out := make(map[string]string, m.Len())
	m.Range(func(k string, v Value) bool {
		if s, ok := v.AsString(); ok {
			out[k] = s
		}
		return true
	})
	return out
}

// FromStringMap builds a map from a Go string map with keys sorted for a
// stable wire order.
func FromStringMap(in map[string]string) *Map {
	m := NewMap()
	for _, k := range sortedKeys(in) {
		m.Set(k, String(in[k]))
	}
	return m
}

func (m *Map) String() string {
	if m == nil {
		return "{}"
	}
	s := "{"
	for i, k := range m.keys {
		if i > 0 {
			s += ", "
		}
		s += k + ": " + m.vals[k].String()
	}
	return s + "}"
}

func sortedKeys(in map[string]string) []string {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
