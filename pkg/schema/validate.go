package schema

import (
	"fmt"

	"github.com/wehubfusion/dfdlrecord/pkg/record"
)

// Validate checks a record schema built in code: every choice option must be
// a record, arrays need an element type, named fields must be unique within a
// schema and schemas must not contain themselves.
func Validate(s *record.Schema) error {
	if s == nil {
		return invalid("", "schema is nil")
	}
	return validateSchema(s, s.Name, make(map[*record.Schema]bool))
}

func validateSchema(s *record.Schema, path string, visiting map[*record.Schema]bool) error {
	if visiting[s] {
		return invalid(path, "schema refers to itself")
	}
	visiting[s] = true
	defer delete(visiting, s)

	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		fieldPath := join(path, f.Name)
		if f.Name != "" {
			if seen[f.Name] {
				return invalid(fieldPath, "duplicate field name")
			}
			seen[f.Name] = true
		}
		if err := validateType(f.Type, fieldPath, visiting); err != nil {
			return err
		}
	}
	return nil
}

func validateType(t record.DataType, path string, visiting map[*record.Schema]bool) error {
	switch t := t.(type) {
	case nil:
		return invalid(path, "field has no type")
	case record.ScalarType:
		return nil
	case record.RecordType:
		if t.Schema == nil {
			return invalid(path, "record has no schema")
		}
		return validateSchema(t.Schema, path, visiting)
	case record.ChoiceType:
		if len(t.Options) == 0 {
			return invalid(path, "choice has no options")
		}
		for i, opt := range t.Options {
			optPath := fmt.Sprintf("%s|%d", path, i)
			rt, ok := opt.(record.RecordType)
			if !ok {
				return invalidChoice(optPath, "choice option must be a record, got %v", opt)
			}
			if err := validateType(rt, optPath, visiting); err != nil {
				return err
			}
		}
		return nil
	case record.ArrayType:
		if t.Element == nil {
			return invalid(path, "array has no element type")
		}
		return validateType(t.Element, path+"[]", visiting)
	}
	return invalid(path, "unsupported type %T", t)
}
