// Package engine defines the contract with the external grammar engine that
// compiles data descriptions and parses or unparses infoset trees. The core
// never interprets grammar semantics, only tree shape and bit positions.
package engine

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/wehubfusion/dfdlrecord/pkg/infoset"
	"github.com/wehubfusion/dfdlrecord/pkg/record"
)

// Compiler turns a data description into a processor factory
type Compiler interface {
	// Compile compiles a description with the given tunables. Compile errors
	// in the description are reported through the factory diagnostics; a
	// returned error means the engine itself failed.
	Compile(ctx context.Context, source []byte, tunables map[string]string) (ProcessorFactory, error)

	// Reload restores a processor saved by a previous compile. Tunables are
	// fixed at save time.
	Reload(ctx context.Context, saved []byte) (ProcessorFactory, error)
}

// ProcessorFactory is the result of one compile
type ProcessorFactory interface {
	IsError() bool
	Diagnostics() Diagnostics

	// RecordSchema is the record schema inferred from the description
	RecordSchema() *record.Schema

	Processor() (Processor, error)
}

// Processor runs the compiled grammar. The With* methods return a new
// processor and leave the receiver untouched, so a cached processor can be
// shared between operations.
type Processor interface {
	WithValidationMode(mode ValidationMode) (Processor, error)
	WithExternalVariables(vars map[string]string) (Processor, error)
	WithConfigFile(path string) (Processor, error)

	// Parse reads one infoset from the input at its current position
	Parse(in *InputSource) ParseResult

	// Unparse writes one infoset to w
	Unparse(root *infoset.Node, w io.Writer) UnparseResult
}

// ParseResult is the outcome of one parse call
type ParseResult struct {
	Root *infoset.Node

	// BitPosition is the cumulative number of bits consumed from the input
	BitPosition int64

	Diagnostics Diagnostics
	IsError     bool
}

// UnparseResult is the outcome of one unparse call
type UnparseResult struct {
	Diagnostics Diagnostics
	IsError     bool
}

// ValidationMode selects how strictly the engine validates the infoset
type ValidationMode int

// Validation modes
const (
	ValidationOff ValidationMode = iota
	ValidationLimited
	ValidationFull
)

func (m ValidationMode) String() string {
	switch m {
	case ValidationOff:
		return "off"
	case ValidationLimited:
		return "limited"
	case ValidationFull:
		return "full"
	}
	return fmt.Sprintf("ValidationMode(%d)", int(m))
}

// ParseValidationMode parses "off", "limited" or "full" in any case
func ParseValidationMode(s string) (ValidationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off":
		return ValidationOff, nil
	case "limited":
		return ValidationLimited, nil
	case "full":
		return ValidationFull, nil
	}
	return ValidationOff, fmt.Errorf("unknown validation mode %q", s)
}
