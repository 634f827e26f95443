package schema

// Document is a serialized schema description
type Document struct {
	Name   string      `json:"name,omitempty" yaml:"name,omitempty"`
	Fields []*Property `json:"fields" yaml:"fields"`
}

// Property describes one field of a document
type Property struct {
	Name        string      `json:"name,omitempty" yaml:"name,omitempty"`
	Type        FieldType   `json:"type" yaml:"type"`
	Optional    bool        `json:"optional,omitempty" yaml:"optional,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      []*Property `json:"fields,omitempty" yaml:"fields,omitempty"`   // For RECORD type
	Items       *Property   `json:"items,omitempty" yaml:"items,omitempty"`     // For ARRAY type
	Options     []*Property `json:"options,omitempty" yaml:"options,omitempty"` // For CHOICE type
}

// FieldType represents the declared type of a property
type FieldType string

// Supported field types
const (
	TypeString  FieldType = "STRING"
	TypeBoolean FieldType = "BOOLEAN"
	TypeByte    FieldType = "BYTE"
	TypeShort   FieldType = "SHORT"
	TypeInt     FieldType = "INT"
	TypeLong    FieldType = "LONG"
	TypeBigInt  FieldType = "BIGINT"
	TypeFloat   FieldType = "FLOAT"
	TypeDouble  FieldType = "DOUBLE"
	TypeRecord  FieldType = "RECORD"
	TypeChoice  FieldType = "CHOICE"
	TypeArray   FieldType = "ARRAY"
)

// IsValidType checks if a field type is valid
func IsValidType(t FieldType) bool {
	switch t {
	case TypeString, TypeBoolean, TypeByte, TypeShort, TypeInt, TypeLong,
		TypeBigInt, TypeFloat, TypeDouble, TypeRecord, TypeChoice, TypeArray:
		return true
	}
	return false
}

// IsScalar reports whether the type maps to a scalar kind
func (t FieldType) IsScalar() bool {
	return IsValidType(t) && t != TypeRecord && t != TypeChoice && t != TypeArray
}
