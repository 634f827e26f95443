package mapper

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a mapping failure.
type ErrorKind int

const (
	// RequiredFieldMissing means a required field had no source data.
	RequiredFieldMissing ErrorKind = iota + 1
	// NoChoiceMatch means no branch of a choice had all of its required fields.
	NoChoiceMatch
	// InvalidChoiceBranch means a choice branch is not a record descriptor.
	InvalidChoiceBranch
	// CoercionError means a scalar literal could not be converted to its declared kind.
	CoercionError
	// ValueAlreadySet means an infoset node was assigned a value twice.
	ValueAlreadySet
	// TypeMismatch means a value has a different shape than its descriptor.
	TypeMismatch
	// DepthExceeded means the schema nesting exceeded the configured maximum.
	DepthExceeded
)

// Sentinels for errors.Is matching against a *MappingError of the same kind.
var (
	ErrRequiredFieldMissing = errors.New("required field missing")
	ErrNoChoiceMatch        = errors.New("no choice branch matched")
	ErrInvalidChoiceBranch  = errors.New("invalid choice branch")
	ErrCoercion             = errors.New("type coercion failed")
	ErrValueAlreadySet      = errors.New("value already set")
	ErrTypeMismatch         = errors.New("type mismatch")
	ErrDepthExceeded        = errors.New("maximum nesting depth exceeded")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case RequiredFieldMissing:
		return ErrRequiredFieldMissing
	case NoChoiceMatch:
		return ErrNoChoiceMatch
	case InvalidChoiceBranch:
		return ErrInvalidChoiceBranch
	case CoercionError:
		return ErrCoercion
	case ValueAlreadySet:
		return ErrValueAlreadySet
	case TypeMismatch:
		return ErrTypeMismatch
	case DepthExceeded:
		return ErrDepthExceeded
	}
	return nil
}

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case RequiredFieldMissing:
		return "RequiredFieldMissing"
	case NoChoiceMatch:
		return "NoChoiceMatch"
	case InvalidChoiceBranch:
		return "InvalidChoiceBranch"
	case CoercionError:
		return "CoercionError"
	case ValueAlreadySet:
		return "ValueAlreadySet"
	case TypeMismatch:
		return "TypeMismatch"
	case DepthExceeded:
		return "DepthExceeded"
	}
	return "Unknown"
}

// MappingError is returned by ToRecord and ToInfoset. Every mapping error is a
// data error: it concerns one record and never the process.
type MappingError struct {
	Kind    ErrorKind
	Field   string
	Message string
	Err     error
}

// Error implements the error interface
func (e *MappingError) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.Field != "" {
		msg = fmt.Sprintf("%s: field %q", msg, e.Field)
	}
	if e.Message != "" {
		msg = msg + ": " + e.Message
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *MappingError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error kind.
func (e *MappingError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func newError(kind ErrorKind, field, format string, args ...any) *MappingError {
	return &MappingError{
		Kind:    kind,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsMappingError reports whether err is or wraps a *MappingError.
func IsMappingError(err error) bool {
	var me *MappingError
	return errors.As(err, &me)
}
