package mapper

import (
	"reflect"
	"slices"

	"github.com/wehubfusion/dfdlrecord/pkg/infoset"
	"github.com/wehubfusion/dfdlrecord/pkg/record"
)

// ToInfoset maps a record to an infoset tree rooted at an anonymous node. The
// record is walked by the given schema, not by the schema the record carries.
func (m *Mapper) ToInfoset(schema *record.Schema, rec *record.Record) (*infoset.Node, error) {
	if schema == nil {
		return nil, newError(TypeMismatch, "", "schema is nil")
	}
	if rec == nil {
		return nil, newError(RequiredFieldMissing, schema.Name, "record is nil")
	}
	return m.valuesToNode(schema, rec.ToMap(), 0)
}

func (m *Mapper) valuesToNode(schema *record.Schema, values map[string]any, depth int) (*infoset.Node, error) {
	if err := m.checkDepth(depth, schema.Name); err != nil {
		return nil, err
	}
	node := infoset.NewNode("")
	for _, f := range schema.Fields {
		children, err := m.valueNodes(f, values, depth)
		if err != nil {
			if f.Optional && IsMappingError(err) {
				continue
			}
			return nil, err
		}
		for _, c := range children {
			node.AddChild(c)
		}
	}
	return node, nil
}

func (m *Mapper) valueNodes(f record.Field, values map[string]any, depth int) ([]*infoset.Node, error) {
	if c, ok := f.Type.(record.ChoiceType); ok {
		return m.choiceNodes(c, values, depth+1)
	}

	v, ok := values[f.Name]
	if !ok || v == nil {
		return nil, newError(RequiredFieldMissing, f.Name, "not present in record fields %v", keys(values))
	}
	return m.valueToNodes(f.Name, f.Type, v, depth)
}

func (m *Mapper) valueToNodes(name string, t record.DataType, v any, depth int) ([]*infoset.Node, error) {
	switch t := t.(type) {
	case record.ScalarType:
		if _, isMap := asMap(v); isMap {
			return nil, newError(TypeMismatch, name, "expected a scalar value, got a record")
		}
		leaf := infoset.NewNode(name)
		if err := leaf.SetValue(scalarString(v)); err != nil {
			return nil, &MappingError{Kind: ValueAlreadySet, Field: name, Err: err}
		}
		return []*infoset.Node{leaf}, nil

	case record.RecordType:
		if t.Schema == nil {
			return nil, newError(TypeMismatch, name, "record descriptor has no schema")
		}
		sub, ok := asMap(v)
		if !ok {
			return nil, newError(TypeMismatch, name, "expected a record value, got %T", v)
		}
		node, err := m.valuesToNode(t.Schema, sub, depth+1)
		if err != nil {
			return nil, err
		}
		node.SetName(name)
		return []*infoset.Node{node}, nil

	case record.ChoiceType:
		// a choice inside an array: the member wraps the chosen branch
		sub, ok := asMap(v)
		if !ok {
			return nil, newError(TypeMismatch, name, "expected a record value for choice, got %T", v)
		}
		children, err := m.choiceNodes(t, sub, depth+1)
		if err != nil {
			return nil, err
		}
		node := infoset.NewNode(name)
		for _, c := range children {
			node.AddChild(c)
		}
		return []*infoset.Node{node}, nil

	case record.ArrayType:
		// an empty array leaves no sibling behind to parse back
		if elems, ok := asSlice(v); ok && len(elems) == 0 {
			return nil, newError(RequiredFieldMissing, name, "array is empty")
		}
		return m.arrayNodes(name, t, v, depth+1)
	}
	return nil, newError(TypeMismatch, name, "unsupported descriptor %s", describe(t))
}

// arrayNodes expands every element into a sibling node named after the
// array. A value that is not a collection is treated as an array of one.
func (m *Mapper) arrayNodes(name string, t record.ArrayType, v any, depth int) ([]*infoset.Node, error) {
	if err := m.checkDepth(depth, name); err != nil {
		return nil, err
	}
	if t.Element == nil {
		return nil, newError(TypeMismatch, name, "array descriptor has no element type")
	}

	elems, ok := asSlice(v)
	if !ok {
		elems = []any{v}
	}

	var out []*infoset.Node
	for _, elem := range elems {
		if elem == nil {
			return nil, newError(RequiredFieldMissing, name, "array element is null")
		}
		if inner, ok := t.Element.(record.ArrayType); ok {
			// nested arrays keep a container so their members stay grouped
			members, err := m.arrayNodes("", inner, elem, depth+1)
			if err != nil {
				return nil, err
			}
			container := infoset.NewArrayNode(name)
			for _, mbr := range members {
				container.AddChild(mbr)
			}
			out = append(out, container)
			continue
		}
		nodes, err := m.valueToNodes("", t.Element, elem, depth)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			n.SetName(name)
			out = append(out, n)
		}
	}
	return out, nil
}

// choiceNodes selects the first branch whose required fields are all keys of
// the value map and emits nodes for every present field of that branch.
func (m *Mapper) choiceNodes(c record.ChoiceType, values map[string]any, depth int) ([]*infoset.Node, error) {
	if err := m.checkDepth(depth, ""); err != nil {
		return nil, err
	}
	branches, err := recordBranches(c)
	if err != nil {
		return nil, err
	}

	has := func(name string) bool {
		_, ok := values[name]
		return ok
	}
	for _, branch := range branches {
		present, ok := selectFields(branch, has)
		if !ok || len(present) == 0 {
			continue
		}
		var out []*infoset.Node
		for _, f := range present {
			nodes, err := m.valueNodes(f, values, depth)
			if err != nil {
				if f.Optional && IsMappingError(err) {
					continue
				}
				return nil, err
			}
			out = append(out, nodes...)
		}
		return out, nil
	}
	return nil, newError(NoChoiceMatch, "", "record fields %v match none of %s", keys(values), c)
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case *record.Record:
		if t == nil {
			return nil, false
		}
		return t.ToMap(), true
	case map[string]any:
		return t, true
	}
	return nil, false
}

func asSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []byte, string:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func keys(values map[string]any) []string {
	out := make([]string, 0, len(values))
	for k := range values {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
