// Package mapper converts between infoset trees and host records, guided by a
// record schema.
//
// Parsing walks the schema and looks up named children of each infoset node.
// Anonymous choices are resolved by testing, branch by branch in declaration
// order, whether all required fields of the branch are present; the first
// such branch wins even when a later branch would also match. Errors from
// optional fields are swallowed and the field is omitted, errors from required
// fields propagate.
//
// Unparsing is the structural inverse. Array elements are emitted as siblings
// sharing the array's field name, which is how the engine expects repeated
// elements.
package mapper

import (
	"github.com/wehubfusion/dfdlrecord/pkg/infoset"
	"github.com/wehubfusion/dfdlrecord/pkg/record"
)

// DefaultMaxDepth bounds schema nesting during mapping.
const DefaultMaxDepth = 256

// Options configures a Mapper.
type Options struct {
	// CoerceTypes converts scalar literals to their declared kind while parsing.
	// When false every scalar value is kept as a string.
	CoerceTypes bool

	// MaxDepth bounds recursion through nested records, choices and arrays.
	// Zero means DefaultMaxDepth.
	MaxDepth int
}

// Mapper is stateless and safe for concurrent use.
type Mapper struct {
	coerce   bool
	maxDepth int
}

// New creates a mapper.
func New(opts Options) *Mapper {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	return &Mapper{
		coerce:   opts.CoerceTypes,
		maxDepth: opts.MaxDepth,
	}
}

var defaultMapper = New(Options{})

// ToRecord maps an infoset tree to a record without type coercion.
func ToRecord(schema *record.Schema, node *infoset.Node) (*record.Record, error) {
	return defaultMapper.ToRecord(schema, node)
}

// ToInfoset maps a record to an infoset tree.
func ToInfoset(schema *record.Schema, rec *record.Record) (*infoset.Node, error) {
	return defaultMapper.ToInfoset(schema, rec)
}

func (m *Mapper) checkDepth(depth int, field string) error {
	if depth > m.maxDepth {
		return newError(DepthExceeded, field, "depth %d exceeds %d", depth, m.maxDepth)
	}
	return nil
}

// recordBranches checks that every choice option is a record descriptor and
// returns the branch schemas in declaration order.
func recordBranches(c record.ChoiceType) ([]*record.Schema, error) {
	branches := make([]*record.Schema, 0, len(c.Options))
	for i, opt := range c.Options {
		rt, ok := opt.(record.RecordType)
		if !ok || rt.Schema == nil {
			return nil, newError(InvalidChoiceBranch, "", "option %d is %s, expected a record", i, describe(opt))
		}
		branches = append(branches, rt.Schema)
	}
	return branches, nil
}

// selectFields returns the fields of a branch that are present, and whether
// every required field was found. A nested choice field is present when one
// of its own branches is satisfied.
func selectFields(branch *record.Schema, has func(string) bool) ([]record.Field, bool) {
	var present []record.Field
	for _, f := range branch.Fields {
		found := false
		if c, ok := f.Type.(record.ChoiceType); ok {
			found = choiceSatisfied(c, has)
		} else {
			found = has(f.Name)
		}
		if found {
			present = append(present, f)
		} else if !f.Optional {
			return nil, false
		}
	}
	return present, true
}

func choiceSatisfied(c record.ChoiceType, has func(string) bool) bool {
	branches, err := recordBranches(c)
	if err != nil {
		return false
	}
	for _, b := range branches {
		if present, ok := selectFields(b, has); ok && len(present) > 0 {
			return true
		}
	}
	return false
}

func describe(t record.DataType) string {
	if t == nil {
		return "nil"
	}
	return t.String()
}
