package engine

import "strings"

// Diagnostic is one message reported by the engine
type Diagnostic struct {
	Message string
	IsError bool
}

func (d Diagnostic) String() string {
	if d.IsError {
		return "error: " + d.Message
	}
	return "warning: " + d.Message
}

// Diagnostics is an ordered list of engine messages
type Diagnostics []Diagnostic

// NewError builds an error diagnostic
func NewError(msg string) Diagnostic {
	return Diagnostic{Message: msg, IsError: true}
}

// NewWarning builds a warning diagnostic
func NewWarning(msg string) Diagnostic {
	return Diagnostic{Message: msg}
}

// HasErrors reports whether any diagnostic is an error
func (ds Diagnostics) HasErrors() bool {
	for _, d := range ds {
		if d.IsError {
			return true
		}
	}
	return false
}

// Errors returns only the error diagnostics
func (ds Diagnostics) Errors() Diagnostics {
	var out Diagnostics
	for _, d := range ds {
		if d.IsError {
			out = append(out, d)
		}
	}
	return out
}

func (ds Diagnostics) String() string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = d.String()
	}
	return strings.Join(parts, "; ")
}
