package schema

import (
	"errors"
	"fmt"
)

// Error codes
const (
	CodeParse               = "SCHEMA_PARSE_ERROR"
	CodeInvalid             = "SCHEMA_INVALID"
	CodeInvalidChoiceBranch = "INVALID_CHOICE_BRANCH"
)

// SchemaError represents a schema-related error
type SchemaError struct {
	Message string
	Code    string
	Path    string
	Err     error
}

// Error implements the error interface
func (e *SchemaError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *SchemaError) Unwrap() error {
	return e.Err
}

// ParseError creates a schema parsing error
func ParseError(err error) *SchemaError {
	return &SchemaError{
		Message: "schema parsing failed",
		Code:    CodeParse,
		Err:     err,
	}
}

func invalid(path, format string, args ...any) *SchemaError {
	return &SchemaError{Message: fmt.Sprintf(format, args...), Code: CodeInvalid, Path: path}
}

func invalidChoice(path, format string, args ...any) *SchemaError {
	return &SchemaError{Message: fmt.Sprintf(format, args...), Code: CodeInvalidChoiceBranch, Path: path}
}

// HasCode reports whether err is a SchemaError with the given code
func HasCode(err error, code string) bool {
	var se *SchemaError
	return errors.As(err, &se) && se.Code == code
}
