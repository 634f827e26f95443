// Package schema reads schema description documents and turns them into
// record schemas the mapper can walk.
package schema

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/wehubfusion/dfdlrecord/pkg/record"
)

// Parser handles parsing of schema descriptions
type Parser struct{}

// NewParser creates a new schema parser
func NewParser() *Parser {
	return &Parser{}
}

// Parse parses a JSON or YAML description. A document whose first
// non-blank character is '{' is read as JSON.
func Parse(data []byte) (*record.Schema, error) {
	return NewParser().Parse(data)
}

// ParseYAML parses a YAML description.
func ParseYAML(data []byte) (*record.Schema, error) {
	return NewParser().ParseYAML(data)
}

// ParseFile reads a description from disk, choosing the format by extension.
func ParseFile(path string) (*record.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema description %s: %w", path, err)
	}
	p := NewParser()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return p.ParseYAML(data)
	case ".json":
		return p.ParseJSON(data)
	}
	return p.Parse(data)
}

// Parse parses a description in either format
func (p *Parser) Parse(data []byte) (*record.Schema, error) {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return p.ParseJSON(data)
	}
	return p.ParseYAML(data)
}

// ParseJSON parses a JSON description
func (p *Parser) ParseJSON(data []byte) (*record.Schema, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ParseError(fmt.Errorf("schema bytes cannot be empty"))
	}
	var doc Document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, ParseError(err)
	}
	return p.Build(&doc)
}

// ParseYAML parses a YAML description
func (p *Parser) ParseYAML(data []byte) (*record.Schema, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ParseError(fmt.Errorf("schema bytes cannot be empty"))
	}
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, ParseError(err)
	}
	return p.Build(&doc)
}

// Build converts a decoded document into a validated record schema
func (p *Parser) Build(doc *Document) (*record.Schema, error) {
	if doc == nil {
		return nil, invalid("", "document is nil")
	}
	if len(doc.Fields) == 0 {
		return nil, invalid(doc.Name, "schema has no fields")
	}
	fields, err := p.buildFields(doc.Fields, doc.Name)
	if err != nil {
		return nil, err
	}
	s := record.NewSchema(doc.Name, fields...)
	if err := Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *Parser) buildFields(props []*Property, path string) ([]record.Field, error) {
	fields := make([]record.Field, 0, len(props))
	for i, prop := range props {
		if prop == nil {
			return nil, invalid(path, "field %d is empty", i)
		}
		fieldPath := join(path, prop.Name)
		if prop.Name == "" && prop.Type != TypeChoice {
			return nil, invalid(path, "field %d of type %s must have a name", i, prop.Type)
		}
		t, err := p.buildType(prop, fieldPath)
		if err != nil {
			return nil, err
		}
		fields = append(fields, record.Field{Name: prop.Name, Type: t, Optional: prop.Optional})
	}
	return fields, nil
}

func (p *Parser) buildType(prop *Property, path string) (record.DataType, error) {
	t := FieldType(strings.ToUpper(string(prop.Type)))
	if t == "" {
		return nil, invalid(path, "property must have a type")
	}
	if !IsValidType(t) {
		return nil, invalid(path, "invalid type: %s", prop.Type)
	}

	switch t {
	case TypeRecord:
		if len(prop.Fields) == 0 {
			return nil, invalid(path, "RECORD must declare fields")
		}
		fields, err := p.buildFields(prop.Fields, path)
		if err != nil {
			return nil, err
		}
		return record.RecordOf(record.NewSchema(prop.Name, fields...)), nil

	case TypeChoice:
		if len(prop.Options) == 0 {
			return nil, invalid(path, "CHOICE must declare options")
		}
		options := make([]record.DataType, 0, len(prop.Options))
		for i, opt := range prop.Options {
			if opt == nil {
				return nil, invalid(path, "option %d is empty", i)
			}
			optPath := fmt.Sprintf("%s|%d", path, i)
			if FieldType(strings.ToUpper(string(opt.Type))) != TypeRecord {
				return nil, invalidChoice(optPath, "choice option must be a RECORD, got %s", opt.Type)
			}
			dt, err := p.buildType(opt, optPath)
			if err != nil {
				return nil, err
			}
			options = append(options, dt)
		}
		return record.ChoiceOf(options...), nil

	case TypeArray:
		if prop.Items == nil {
			return nil, invalid(path, "ARRAY must declare items")
		}
		elem, err := p.buildType(prop.Items, path+"[]")
		if err != nil {
			return nil, err
		}
		return record.ArrayOf(elem), nil
	}

	kind, ok := record.ParseScalarKind(string(t))
	if !ok {
		return nil, invalid(path, "invalid scalar type: %s", prop.Type)
	}
	return record.Scalar(kind), nil
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	if name == "" {
		return path + ".<choice>"
	}
	return path + "." + name
}
