package stream

import (
	"fmt"
	"strings"
)

// Mode is the failure policy for a multi-record stream
type Mode int

const (
	// Off treats the whole input as exactly one record. Leftover input is a
	// failure.
	Off Mode = iota
	// AllOrNothing reads records until the input is exhausted and aborts the
	// whole operation on the first failure.
	AllOrNothing
	// BestEffort discards failing records and keeps going.
	BestEffort
)

func (m Mode) String() string {
	switch m {
	case Off:
		return "off"
	case AllOrNothing:
		return "all-or-nothing"
	case BestEffort:
		return "best-effort"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts off, all-or-nothing and best-effort, and also the
// property values OFF, ALL_SUCCESSFUL and ONLY_SUCCESSFUL.
func ParseMode(s string) (Mode, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	switch norm {
	case "", "off":
		return Off, nil
	case "all-or-nothing", "all-successful":
		return AllOrNothing, nil
	case "best-effort", "only-successful":
		return BestEffort, nil
	}
	return Off, fmt.Errorf("unknown stream mode %q", s)
}
