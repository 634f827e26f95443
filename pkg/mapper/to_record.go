package mapper

import (
	"slices"

	"github.com/wehubfusion/dfdlrecord/pkg/infoset"
	"github.com/wehubfusion/dfdlrecord/pkg/record"
)

// fieldValue is one output field. A choice field expands to the fields of the
// selected branch, so one schema field can yield several of these.
type fieldValue struct {
	field record.Field
	value any
}

// ToRecord maps an infoset tree to a record. The returned record carries a
// resolved schema: choices are replaced by the fields of the selected branch
// and nested records by their resolved schemas.
func (m *Mapper) ToRecord(schema *record.Schema, node *infoset.Node) (*record.Record, error) {
	if schema == nil {
		return nil, newError(TypeMismatch, "", "schema is nil")
	}
	if node == nil {
		return nil, newError(RequiredFieldMissing, schema.Name, "infoset is empty")
	}
	return m.nodeToRecord(schema, node, 0)
}

func (m *Mapper) nodeToRecord(schema *record.Schema, parent *infoset.Node, depth int) (*record.Record, error) {
	if err := m.checkDepth(depth, schema.Name); err != nil {
		return nil, err
	}

	var values []fieldValue
	for _, f := range schema.Fields {
		fvs, err := m.fieldValues(f, true, parent, depth)
		if err != nil {
			if f.Optional && IsMappingError(err) {
				continue
			}
			return nil, err
		}
		values = append(values, fvs...)
	}

	resolved := &record.Schema{Name: schema.Name, Fields: make([]record.Field, 0, len(values))}
	for _, fv := range values {
		resolved.Fields = append(resolved.Fields, fv.field)
	}
	rec := record.New(resolved)
	for _, fv := range values {
		rec.Set(fv.field.Name, fv.value)
	}
	return rec, nil
}

// fieldValues maps one schema field. When named is false the parent node
// itself holds the value, which is how array members are mapped.
func (m *Mapper) fieldValues(f record.Field, named bool, parent *infoset.Node, depth int) ([]fieldValue, error) {
	if c, ok := f.Type.(record.ChoiceType); ok {
		return m.choiceValues(c, parent, depth+1)
	}

	if t, ok := f.Type.(record.ArrayType); ok {
		var members []*infoset.Node
		if named {
			var found bool
			_, nested := t.Element.(record.ArrayType)
			members, found = arrayMembers(parent, f.Name, nested)
			if !found {
				return nil, newError(RequiredFieldMissing, f.Name, "not present in child list %v", parent.ChildNames())
			}
		} else {
			members = slices.Collect(parent.Children())
		}
		return m.arrayValues(f, t, members, depth+1)
	}

	child := parent
	if named {
		var ok bool
		child, ok = parent.Child(f.Name)
		if !ok {
			return nil, newError(RequiredFieldMissing, f.Name, "not present in child list %v", parent.ChildNames())
		}
	}

	switch t := f.Type.(type) {
	case record.ScalarType:
		v, err := m.scalarValue(f.Name, t, child)
		if err != nil {
			return nil, err
		}
		return []fieldValue{{field: record.Field{Name: f.Name, Type: t, Optional: f.Optional}, value: v}}, nil

	case record.RecordType:
		if t.Schema == nil {
			return nil, newError(TypeMismatch, f.Name, "record descriptor has no schema")
		}
		sub, err := m.nodeToRecord(t.Schema, child, depth+1)
		if err != nil {
			return nil, err
		}
		return []fieldValue{{
			field: record.Field{Name: f.Name, Type: record.RecordOf(sub.Schema()), Optional: f.Optional},
			value: sub,
		}}, nil

	}
	return nil, newError(TypeMismatch, f.Name, "unsupported descriptor %s", describe(f.Type))
}

func (m *Mapper) scalarValue(name string, t record.ScalarType, node *infoset.Node) (any, error) {
	raw, ok := node.Value()
	if !ok {
		return nil, newError(TypeMismatch, name, "expected a scalar value, node has children %v", node.ChildNames())
	}
	if !m.coerce {
		return raw, nil
	}
	v, err := coerce(t.Kind, raw)
	if err != nil {
		return nil, &MappingError{Kind: CoercionError, Field: name, Err: err}
	}
	return v, nil
}

// choiceValues selects the first branch whose required fields are all present
// among the parent's children and maps every present field of that branch.
func (m *Mapper) choiceValues(c record.ChoiceType, parent *infoset.Node, depth int) ([]fieldValue, error) {
	if err := m.checkDepth(depth, ""); err != nil {
		return nil, err
	}
	branches, err := recordBranches(c)
	if err != nil {
		return nil, err
	}

	for _, branch := range branches {
		present, ok := selectFields(branch, parent.HasChild)
		if !ok || len(present) == 0 {
			continue
		}
		var out []fieldValue
		for _, f := range present {
			fvs, err := m.fieldValues(f, true, parent, depth)
			if err != nil {
				if f.Optional && IsMappingError(err) {
					continue
				}
				return nil, err
			}
			out = append(out, fvs...)
		}
		return out, nil
	}
	return nil, newError(NoChoiceMatch, "", "children %v match none of %s", parent.ChildNames(), c)
}

// arrayMembers finds the members of a named array. The engine may deliver an
// array as a container node or as repeated siblings sharing the array name.
// Members of a nested array are themselves containers, so they are always
// collected as siblings.
func arrayMembers(parent *infoset.Node, name string, nested bool) ([]*infoset.Node, bool) {
	var members []*infoset.Node
	for c := range parent.Children() {
		if c.Name() != name {
			continue
		}
		if c.IsArray() && !nested {
			return slices.Collect(c.Children()), true
		}
		members = append(members, c)
	}
	return members, len(members) > 0
}

// arrayValues maps every member with the element descriptor. The resolved
// element type is a choice over the distinct resolved member types.
func (m *Mapper) arrayValues(f record.Field, t record.ArrayType, members []*infoset.Node, depth int) ([]fieldValue, error) {
	if err := m.checkDepth(depth, f.Name); err != nil {
		return nil, err
	}
	if t.Element == nil {
		return nil, newError(TypeMismatch, f.Name, "array descriptor has no element type")
	}

	values := make([]any, 0, len(members))
	var types []record.DataType
	seen := make(map[string]bool)
	addType := func(dt record.DataType) {
		key := dt.String()
		if !seen[key] {
			seen[key] = true
			types = append(types, dt)
		}
	}

	for _, member := range members {
		if c, ok := t.Element.(record.ChoiceType); ok {
			// each member is a wrapper whose children are the branch fields
			sub, err := m.choiceRecord(c, member, depth+1)
			if err != nil {
				return nil, err
			}
			values = append(values, sub)
			addType(record.RecordOf(sub.Schema()))
			continue
		}
		fvs, err := m.fieldValues(record.Field{Name: f.Name, Type: t.Element}, false, member, depth)
		if err != nil {
			return nil, err
		}
		for _, fv := range fvs {
			values = append(values, fv.value)
			addType(fv.field.Type)
		}
	}

	elem := record.DataType(record.ChoiceOf(types...))
	if len(types) == 0 {
		elem = t.Element
	}
	return []fieldValue{{
		field: record.Field{Name: f.Name, Type: record.ArrayOf(elem), Optional: f.Optional},
		value: values,
	}}, nil
}

func (m *Mapper) choiceRecord(c record.ChoiceType, member *infoset.Node, depth int) (*record.Record, error) {
	fvs, err := m.choiceValues(c, member, depth)
	if err != nil {
		return nil, err
	}
	schema := &record.Schema{Fields: make([]record.Field, 0, len(fvs))}
	for _, fv := range fvs {
		schema.Fields = append(schema.Fields, fv.field)
	}
	rec := record.New(schema)
	for _, fv := range fvs {
		rec.Set(fv.field.Name, fv.value)
	}
	return rec, nil
}
