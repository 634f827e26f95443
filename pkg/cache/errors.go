package cache

import (
	"errors"
	"fmt"

	"github.com/wehubfusion/dfdlrecord/pkg/engine"
)

// ErrClosed is returned by Get after Close
var ErrClosed = errors.New("cache is closed")

// CompileError is a build that failed because of the schema or its
// configuration. It is never cached.
type CompileError struct {
	SchemaRef   string
	Diagnostics engine.Diagnostics
	Err         error
}

// Error implements the error interface
func (e *CompileError) Error() string {
	switch {
	case e.Err != nil && len(e.Diagnostics) > 0:
		return fmt.Sprintf("compiling %s failed: %v: %s", e.SchemaRef, e.Err, e.Diagnostics.Errors())
	case e.Err != nil:
		return fmt.Sprintf("compiling %s failed: %v", e.SchemaRef, e.Err)
	}
	return fmt.Sprintf("compiling %s failed: %s", e.SchemaRef, e.Diagnostics.Errors())
}

// Unwrap returns the underlying error
func (e *CompileError) Unwrap() error {
	return e.Err
}

// SourceError is a schema source that could not be read, for example because
// blob storage was unreachable. Unlike a CompileError it may succeed on retry.
type SourceError struct {
	SchemaRef string
	Err       error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("fetching schema %s failed: %v", e.SchemaRef, e.Err)
}

// Unwrap returns the underlying error
func (e *SourceError) Unwrap() error {
	return e.Err
}
