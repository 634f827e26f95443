// Package enginetest provides a small deterministic engine for tests and
// examples. A source is a JSON document naming a grammar and the record
// schema its infosets follow:
//
//	{"grammar": "digits", "schema": {"fields": [{"name": "value", "type": "INT"}]}}
//
// Grammars:
//   - digits: one record per ASCII digit, leaf "value". Any other byte fails
//     without consuming input.
//   - lines: one record per line, leaf "line". The "separator" external
//     variable overrides the newline terminator. With full validation an
//     empty line is a validation error.
//   - keyvalue: one "k=v" line per record, producing root/k. A line without
//     '=' fails after being consumed.
//   - empty: matches the empty string and never consumes input.
package enginetest

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/wehubfusion/dfdlrecord/pkg/engine"
	"github.com/wehubfusion/dfdlrecord/pkg/record"
	"github.com/wehubfusion/dfdlrecord/pkg/schema"
)

// Grammar names
const (
	GrammarDigits   = "digits"
	GrammarLines    = "lines"
	GrammarKeyValue = "keyvalue"
	GrammarEmpty    = "empty"
)

const savedPrefix = "saved:"

type definition struct {
	Grammar   string            `json:"grammar"`
	Schema    json.RawMessage   `json:"schema"`
	Variables map[string]string `json:"variables,omitempty"`
	Warnings  []string          `json:"warnings,omitempty"`
}

// Engine implements engine.Compiler
type Engine struct {
	// Delay simulates compile cost
	Delay time.Duration

	compiles atomic.Int64
	reloads  atomic.Int64
}

// New creates an engine
func New() *Engine {
	return &Engine{}
}

// Compiles returns how many times Compile ran
func (e *Engine) Compiles() int64 { return e.compiles.Load() }

// Reloads returns how many times Reload ran
func (e *Engine) Reloads() int64 { return e.reloads.Load() }

// Compile implements engine.Compiler
func (e *Engine) Compile(ctx context.Context, source []byte, tunables map[string]string) (engine.ProcessorFactory, error) {
	e.compiles.Add(1)
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	return compile(source, maps.Clone(tunables)), nil
}

// Reload implements engine.Compiler. Saved processors are produced by Save.
func (e *Engine) Reload(ctx context.Context, saved []byte) (engine.ProcessorFactory, error) {
	e.reloads.Add(1)
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	src, ok := bytes.CutPrefix(saved, []byte(savedPrefix))
	if !ok {
		return &Factory{diags: engine.Diagnostics{engine.NewError("not a saved processor")}}, nil
	}
	return compile(src, nil), nil
}

func (e *Engine) wait(ctx context.Context) error {
	if e.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.Delay):
		return nil
	}
}

// Save returns the saved form of a source, accepted by Reload
func Save(source []byte) []byte {
	return append([]byte(savedPrefix), source...)
}

// Source builds a source document
func Source(grammar string, schemaDoc string, variables map[string]string) []byte {
	b, err := json.Marshal(definition{
		Grammar:   grammar,
		Schema:    json.RawMessage(schemaDoc),
		Variables: variables,
	})
	if err != nil {
		panic(err)
	}
	return b
}

// DigitsSource is a digits grammar with an INT "value" field
func DigitsSource() []byte {
	return Source(GrammarDigits, `{"name": "digit", "fields": [{"name": "value", "type": "INT"}]}`, nil)
}

// LinesSource is a lines grammar with a STRING "line" field
func LinesSource() []byte {
	return Source(GrammarLines, `{"name": "line", "fields": [{"name": "line", "type": "STRING"}]}`,
		map[string]string{"separator": "\n"})
}

// KeyValueSource is a keyvalue grammar whose root is a choice between a
// record holding B and a record holding D
func KeyValueSource() []byte {
	return Source(GrammarKeyValue, `{
  "name": "kv",
  "fields": [{"name": "root", "type": "RECORD", "fields": [{"type": "CHOICE", "options": [
    {"type": "RECORD", "fields": [{"name": "B", "type": "INT"}]},
    {"type": "RECORD", "fields": [{"name": "D", "type": "INT"}]}
  ]}]}]
}`, nil)
}

func compile(source []byte, tunables map[string]string) *Factory {
	f := &Factory{tunables: tunables}

	var def definition
	if err := json.Unmarshal(source, &def); err != nil {
		f.diags = append(f.diags, engine.NewError(fmt.Sprintf("source is not a grammar document: %v", err)))
		return f
	}
	switch def.Grammar {
	case GrammarDigits, GrammarLines, GrammarKeyValue, GrammarEmpty:
	default:
		f.diags = append(f.diags, engine.NewError(fmt.Sprintf("unknown grammar %q", def.Grammar)))
		return f
	}
	for _, w := range def.Warnings {
		f.diags = append(f.diags, engine.NewWarning(w))
	}

	s, err := schema.Parse(def.Schema)
	if err != nil {
		f.diags = append(f.diags, engine.NewError(err.Error()))
		return f
	}
	f.def = &def
	f.schema = s
	return f
}

// Factory implements engine.ProcessorFactory
type Factory struct {
	def      *definition
	schema   *record.Schema
	diags    engine.Diagnostics
	tunables map[string]string
}

// IsError implements engine.ProcessorFactory
func (f *Factory) IsError() bool { return f.diags.HasErrors() }

// Diagnostics implements engine.ProcessorFactory
func (f *Factory) Diagnostics() engine.Diagnostics { return f.diags }

// RecordSchema implements engine.ProcessorFactory
func (f *Factory) RecordSchema() *record.Schema { return f.schema }

// Tunables returns the tunables the factory was compiled with
func (f *Factory) Tunables() map[string]string { return maps.Clone(f.tunables) }

// Processor implements engine.ProcessorFactory
func (f *Factory) Processor() (engine.Processor, error) {
	if f.IsError() {
		return nil, fmt.Errorf("factory has errors: %s", f.diags.Errors())
	}
	vars := maps.Clone(f.def.Variables)
	if vars == nil {
		vars = map[string]string{}
	}
	return &Processor{def: f.def, vars: vars}, nil
}
