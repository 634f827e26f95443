package stream

import (
	"errors"
	"fmt"

	"github.com/wehubfusion/dfdlrecord/pkg/engine"
	"github.com/wehubfusion/dfdlrecord/pkg/mapper"
)

var (
	// ErrNoProgress means the engine reported success without consuming
	// input. It always aborts the stream.
	ErrNoProgress = errors.New("engine made no progress")

	// ErrLeftoverData means a single-record parse did not consume the whole
	// input.
	ErrLeftoverData = errors.New("leftover data")
)

// EngineError is a parse or unparse the engine reported as failed
type EngineError struct {
	Op          string
	BitPosition int64
	Diagnostics engine.Diagnostics
}

// Error implements the error interface
func (e *EngineError) Error() string {
	return fmt.Sprintf("%s failed at bit %d: %s", e.Op, e.BitPosition, e.Diagnostics.Errors())
}

// perRecord reports whether err is confined to one record: an engine failure
// or a mapping failure. Everything else is fatal to the stream.
func perRecord(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) || mapper.IsMappingError(err)
}
