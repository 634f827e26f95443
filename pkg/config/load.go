package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"
)

// File is the layout of a properties file. Variables and tunables may also
// be given inline in Properties, tunables with the "+" prefix.
type File struct {
	Properties map[string]string `yaml:"properties" hcl:"properties,optional"`
	Variables  map[string]string `yaml:"variables" hcl:"variables,optional"`
	Tunables   map[string]string `yaml:"tunables" hcl:"tunables,optional"`
}

// Load reads a YAML (.yaml, .yml) or HCL (.hcl) properties file
func Load(path string) (Properties, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		if f, err = decodeHCL(path, data); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("failed to decode YAML config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return f.Flatten()
}

func decodeHCL(path string, data []byte) (File, error) {
	var f File
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(data, path)
	if diags.HasErrors() {
		return f, fmt.Errorf("failed to parse HCL config %s: %w", path, diags)
	}
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &f); diags.HasErrors() {
		return f, fmt.Errorf("failed to decode HCL config %s: %w", path, diags)
	}
	return f, nil
}

// Flatten flattens the file into one property set
func (f File) Flatten() (Properties, error) {
	out := Properties{}
	for k, v := range f.Properties {
		out[k] = v
	}
	for k, v := range f.Variables {
		if strings.HasPrefix(k, TunablePrefix) || knownProperties[k] {
			return nil, fmt.Errorf("variable name %q is reserved", k)
		}
		out[k] = v
	}
	for k, v := range f.Tunables {
		out[TunablePrefix+strings.TrimPrefix(k, TunablePrefix)] = v
	}
	return out, nil
}

// FromEnv reads properties from environment variables with the given
// prefix. PREFIX_CACHE_SIZE sets cache-size, PREFIX_VAR_<name> sets an
// external variable and PREFIX_TUNABLE_<name> sets a tunable.
func FromEnv(prefix string) Properties {
	return fromEnviron(prefix, os.Environ())
}

func fromEnviron(prefix string, environ []string) Properties {
	out := Properties{}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		name, ok := strings.CutPrefix(key, prefix)
		if !ok || name == "" {
			continue
		}
		if v, ok := strings.CutPrefix(name, "VAR_"); ok && v != "" {
			out[v] = value
			continue
		}
		if t, ok := strings.CutPrefix(name, "TUNABLE_"); ok && t != "" {
			out[TunablePrefix+t] = value
			continue
		}
		prop := strings.ReplaceAll(strings.ToLower(name), "_", "-")
		if prop == "schema-file" {
			prop = PropSchemaFile
		}
		if knownProperties[prop] {
			out[prop] = value
		}
	}
	return out
}
