// Package schema describes the field shape of story payloads.
//
// A Descriptor travels next to every generic payload so the receiving side
// can interpret fields it did not compile against. Descriptors are decode
// metadata only and are never persisted as recording data.
package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// FieldType is the declared type of a payload field.
type FieldType uint8

const (
	TypeUnknown FieldType = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeBytes
	TypeTime
	TypeList
	TypeMap
)

var fieldTypeNames = map[FieldType]string{
	TypeUnknown: "unknown",
	TypeBool:    "bool",
	TypeInt:     "int",
	TypeFloat:   "float",
	TypeString:  "string",
	TypeBytes:   "bytes",
	TypeTime:    "time",
	TypeList:    "list",
	TypeMap:     "map",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return "type(" + strconv.Itoa(int(t)) + ")"
}

// Field describes one named field of an entity.
type Field struct {
	Name     string
	Type     FieldType
	Optional bool
}

// Descriptor describes the field set of one payload kind.
type Descriptor struct {
	// Entity is the producer's entity name, e.g. "PerformanceSample".
	Entity string
	// Version is the producer's schema revision for the entity.
	Version uint32
	Fields  []Field
}

// Field returns the field with the given name.
func (d *Descriptor) Field(name string) (Field, bool) {
	if d == nil {
		return Field{}, false
	}
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Has reports whether the descriptor declares the named field.
func (d *Descriptor) Has(name string) bool {
	_, ok := d.Field(name)
	return ok
}

// Fingerprint returns a stable 64-bit hash of the descriptor shape.
// Field order does not affect the result.
func (d *Descriptor) Fingerprint() uint64 {
	if d == nil {
		return 0
	}
	fields := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		fields = append(fields, fmt.Sprintf("%s:%d:%t", f.Name, f.Type, f.Optional))
	}
	sort.Strings(fields)

	var sb strings.Builder
	sb.WriteString(d.Entity)
	sb.WriteByte('@')
	sb.WriteString(strconv.FormatUint(uint64(d.Version), 10))
	for _, f := range fields {
		sb.WriteByte('|')
		sb.WriteString(f)
	}
	return xxh3.HashString(sb.String())
}

// Validate checks that the descriptor names an entity and has no duplicate
// or empty field names.
func (d *Descriptor) Validate() error {
	if d == nil {
		return fmt.Errorf("descriptor is nil")
	}
	if d.Entity == "" {
		return fmt.Errorf("descriptor entity name is empty")
	}
	seen := make(map[string]struct{}, len(d.Fields))
	for _, f := range d.Fields {
		if f.Name == "" {
			return fmt.Errorf("descriptor %s has a field with an empty name", d.Entity)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("descriptor %s declares field %q twice", d.Entity, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	c := &Descriptor{Entity: d.Entity, Version: d.Version}
	c.Fields = append([]Field(nil), d.Fields...)
	return c
}
