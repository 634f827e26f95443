package record

import (
	"bytes"

	"github.com/goccy/go-json"
)

// Record is an ordered field-name to value map. Values are scalars, nested
// *Record values or []any arrays.
type Record struct {
	schema *Schema
	names  []string
	values map[string]any
}

// New creates an empty record bound to a schema. The schema may be nil.
func New(schema *Schema) *Record {
	return &Record{
		schema: schema,
		values: make(map[string]any),
	}
}

// Schema returns the schema the record was built with.
func (r *Record) Schema() *Schema {
	return r.schema
}

// Set stores a value. New names are appended after the existing ones.
func (r *Record) Set(name string, value any) {
	if _, exists := r.values[name]; !exists {
		r.names = append(r.names, name)
	}
	r.values[name] = value
}

// Get returns the value stored under name.
func (r *Record) Get(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Fields returns the field names in insertion order.
func (r *Record) Fields() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of fields.
func (r *Record) Len() int {
	return len(r.names)
}

// ToMap returns a shallow copy of the values.
func (r *Record) ToMap() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// ToPlainMap converts the record and every nested record into plain maps.
func (r *Record) ToPlainMap() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = plain(v)
	}
	return out
}

func plain(v any) any {
	switch t := v.(type) {
	case *Record:
		return t.ToPlainMap()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	default:
		return v
	}
}

// MarshalJSON encodes the record as a JSON object in field order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.values[name])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
