// Package record models the host data-flow record system: schemas made of
// typed field descriptors and ordered records holding scalar, nested record or
// array values.
package record

import (
	"fmt"
	"strings"
)

// ScalarKind identifies the declared type of a scalar field.
type ScalarKind int

// Supported scalar kinds
const (
	KindString ScalarKind = iota
	KindBoolean
	KindByte
	KindShort
	KindInt
	KindLong
	KindBigInt
	KindFloat
	KindDouble
)

var kindNames = map[ScalarKind]string{
	KindString:  "STRING",
	KindBoolean: "BOOLEAN",
	KindByte:    "BYTE",
	KindShort:   "SHORT",
	KindInt:     "INT",
	KindLong:    "LONG",
	KindBigInt:  "BIGINT",
	KindFloat:   "FLOAT",
	KindDouble:  "DOUBLE",
}

// String returns the upper-case kind name.
func (k ScalarKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ScalarKind(%d)", int(k))
}

// ParseScalarKind resolves an upper- or lower-case kind name.
func ParseScalarKind(name string) (ScalarKind, bool) {
	upper := strings.ToUpper(name)
	for k, n := range kindNames {
		if n == upper {
			return k, true
		}
	}
	return 0, false
}

// DataType is the closed set of field descriptor kinds: ScalarType,
// RecordType, ChoiceType and ArrayType.
type DataType interface {
	isDataType()
	String() string
}

// ScalarType is a leaf value of a declared kind.
type ScalarType struct {
	Kind ScalarKind
}

// RecordType is a nested record described by its own schema.
type RecordType struct {
	Schema *Schema
}

// ChoiceType holds alternative branches. Every branch must be a RecordType.
type ChoiceType struct {
	Options []DataType
}

// ArrayType is a repeated element.
type ArrayType struct {
	Element DataType
}

func (ScalarType) isDataType() {}
func (RecordType) isDataType() {}
func (ChoiceType) isDataType() {}
func (ArrayType) isDataType()  {}

func (t ScalarType) String() string { return t.Kind.String() }

func (t RecordType) String() string {
	if t.Schema == nil {
		return "RECORD"
	}
	return "RECORD" + t.Schema.String()
}

func (t ChoiceType) String() string {
	parts := make([]string, len(t.Options))
	for i, o := range t.Options {
		parts[i] = o.String()
	}
	return "CHOICE[" + strings.Join(parts, ", ") + "]"
}

func (t ArrayType) String() string {
	if t.Element == nil {
		return "ARRAY[]"
	}
	return "ARRAY[" + t.Element.String() + "]"
}

// Scalar returns a scalar type of the given kind.
func Scalar(kind ScalarKind) DataType {
	return ScalarType{Kind: kind}
}

// RecordOf returns a nested record type.
func RecordOf(s *Schema) DataType {
	return RecordType{Schema: s}
}

// ChoiceOf returns a choice over the given branches.
func ChoiceOf(options ...DataType) DataType {
	return ChoiceType{Options: options}
}

// ArrayOf returns an array of the given element type.
func ArrayOf(element DataType) DataType {
	return ArrayType{Element: element}
}

// Field is a named, typed entry of a schema. Choice fields are anonymous in
// the infoset and usually carry an empty or synthetic name.
type Field struct {
	Name     string
	Type     DataType
	Optional bool
}

// Required builds a required field.
func Required(name string, t DataType) Field {
	return Field{Name: name, Type: t}
}

// Optional builds an optional field.
func Optional(name string, t DataType) Field {
	return Field{Name: name, Type: t, Optional: true}
}

// Schema is an ordered list of fields with an optional name.
type Schema struct {
	Name   string
	Fields []Field
}

// NewSchema creates a schema from the given fields.
func NewSchema(name string, fields ...Field) *Schema {
	return &Schema{Name: name, Fields: fields}
}

// Field returns the field with the given name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldNames returns the field names in declaration order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

func (s *Schema) String() string {
	parts := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		opt := ""
		if f.Optional {
			opt = "?"
		}
		parts[i] = fmt.Sprintf("%s%s: %s", f.Name, opt, f.Type)
	}
	return s.Name + "{" + strings.Join(parts, ", ") + "}"
}
