package errors

import (
	"context"
	"errors"
	"fmt"

	"github.com/wehubfusion/dfdlrecord/pkg/cache"
	"github.com/wehubfusion/dfdlrecord/pkg/mapper"
	"github.com/wehubfusion/dfdlrecord/pkg/schema"
	"github.com/wehubfusion/dfdlrecord/pkg/stream"
)

var (
	// ErrNotConnected indicates that the client is not connected to NATS
	ErrNotConnected = errors.New("not connected to NATS")

	// ErrInvalidMessage indicates that a job message could not be decoded
	ErrInvalidMessage = errors.New("invalid message")

	// ErrInvalidRequest indicates that a request is missing required input
	ErrInvalidRequest = errors.New("invalid request")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrPublishFailed indicates that a result could not be published
	ErrPublishFailed = errors.New("publish failed")
)

// Error codes
const (
	CodeUnknown        = "UNKNOWN_ERROR"
	CodeCompile        = "COMPILE_ERROR"
	CodeSchema         = "SCHEMA_ERROR"
	CodeMapping        = "MAPPING_ERROR"
	CodeEngine         = "ENGINE_ERROR"
	CodeLeftoverData   = "LEFTOVER_DATA"
	CodeNoProgress     = "NO_PROGRESS"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeTimeout        = "TIMEOUT_ERROR"
	CodeIO             = "IO_ERROR"
)

// Error represents a structured error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new coded error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// InvalidRequest wraps err as a bad input error
func InvalidRequest(message string, err error) *Error {
	if err == nil {
		err = ErrInvalidRequest
	} else {
		err = fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return NewError(CodeInvalidRequest, message, err)
}

// Class separates failures caused by the data from failures of the
// operation itself.
type Class int

const (
	// ClassNone is the class of a nil error
	ClassNone Class = iota

	// ClassData failures are deterministic for the input. Retrying the
	// same input fails the same way.
	ClassData

	// ClassFatal failures abort the operation regardless of the stream mode
	// and may succeed on retry.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassData:
		return "data"
	case ClassFatal:
		return "fatal"
	}
	return fmt.Sprintf("Class(%d)", int(c))
}

// Code maps an error to an error code. A coded Error anywhere in the chain
// wins over the typed errors it wraps.
func Code(err error) string {
	if err == nil {
		return ""
	}

	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}

	var compileErr *cache.CompileError
	var sourceErr *cache.SourceError
	var engineErr *stream.EngineError
	var schemaErr *schema.SchemaError
	switch {
	case errors.Is(err, stream.ErrNoProgress):
		return CodeNoProgress
	case errors.Is(err, stream.ErrLeftoverData):
		return CodeLeftoverData
	case errors.As(err, &compileErr):
		return CodeCompile
	case errors.As(err, &sourceErr):
		return CodeIO
	case errors.As(err, &schemaErr):
		return CodeSchema
	case mapper.IsMappingError(err):
		return CodeMapping
	case errors.As(err, &engineErr):
		return CodeEngine
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidMessage):
		return CodeInvalidRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return CodeTimeout
	}
	return CodeUnknown
}

// Classify reports whether err was caused by the data or is fatal to the
// operation. Anything not recognised as a data error is fatal.
func Classify(err error) Class {
	switch Code(err) {
	case "":
		return ClassNone
	case CodeCompile, CodeSchema, CodeMapping, CodeEngine, CodeLeftoverData, CodeInvalidRequest:
		return ClassData
	}
	return ClassFatal
}

// IsDataError reports whether err is caused by the input data
func IsDataError(err error) bool {
	return Classify(err) == ClassData
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsNotConnected checks if an error is a not connected error
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
