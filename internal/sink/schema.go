package sink

import (
	"encoding/binary"
	"fmt"

	"github.com/dchest/siphash"
)

// ColumnType is one of the three logical column types a module may declare.
type ColumnType int

const (
	Int64 ColumnType = iota
	Float64
	String
)

func (t ColumnType) String() string {
	switch t {
	case Int64:
		return "Int64"
	case Float64:
		return "Float64"
	case String:
		return "String"
	default:
		return "Unknown"
	}
}

// ParseColumnType maps the wire/JSON spelling ("Int64"|"Float64"|"String")
// to a ColumnType.
func ParseColumnType(s string) (ColumnType, error) {
	switch s {
	case "Int64":
		return Int64, nil
	case "Float64":
		return Float64, nil
	case "String":
		return String, nil
	default:
		return 0, fmt.Errorf("sink: unknown column type %q", s)
	}
}

// Column is one named, typed column of a TableSchema. The leading 128-bit
// artifact identifier column is implicit and is never part of this slice.
type Column struct {
	Name string
	Type ColumnType
}

// TableSchema is a table name plus its ordered non-identifier columns.
// Equality is structural and order-sensitive.
type TableSchema struct {
	Name    string
	Columns []Column
}

// Equal reports whether two schemas have the same name-ordered,
// type-matching column list. Table names are not compared; callers compare
// schemas already keyed by name.
func (s TableSchema) Equal(o TableSchema) bool {
	if len(s.Columns) != len(o.Columns) {
		return false
	}
	for i := range s.Columns {
		if s.Columns[i].Name != o.Columns[i].Name || s.Columns[i].Type != o.Columns[i].Type {
			return false
		}
	}
	return true
}

// siphash keys are fixed and arbitrary: the fingerprint only needs to be
// stable within one process run, never persisted or compared cross-run.
const fingerprintK0, fingerprintK1 = 0x9e3779b97f4a7c15, 0xbf58476d1ce4e5b9

// fingerprint computes a fast, order-sensitive digest of a schema's column
// list, used as a cheap pre-check before the full structural Equal compare
// in declare_table. Two schemas with different fingerprints are certainly
// different; equal fingerprints still fall through to Equal to rule out a
// hash collision before anything is trusted.
func fingerprint(s TableSchema) uint64 {
	var buf []byte
	for _, c := range s.Columns {
		var lenBuf [8]byte
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(c.Name)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, c.Name...)
		buf = append(buf, byte(c.Type))
	}
	return siphash.Hash(fingerprintK0, fingerprintK1, buf)
}

// Value is one tagged column value.
type Value struct {
	Kind  ColumnType
	Int   int64
	Float float64
	Str   string
}

func IntValue(v int64) Value    { return Value{Kind: Int64, Int: v} }
func FloatValue(v float64) Value { return Value{Kind: Float64, Float: v} }
func StringValue(v string) Value { return Value{Kind: String, Str: v} }

// MatchesColumn reports whether v's tag matches column c's declared type.
func (v Value) MatchesColumn(c Column) bool { return v.Kind == c.Type }
