package stage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownKind   = errors.New("unknown stage kind")
	ErrMissingParam  = errors.New("missing required parameter")
	ErrWrongType     = errors.New("wrong parameter type")
	ErrUnknownParam  = errors.New("unknown parameter")
	ErrInvalidName   = errors.New("invalid element name")
	ErrFrozen        = errors.New("registry is frozen")
	ErrDuplicateKind = errors.New("stage kind already registered")
)

// SchemaError reports a stage whose parameters do not satisfy the schema of
// its kind. Err is one of the sentinel errors above.
type SchemaError struct {
	Kind     string
	Param    string
	Expected string
	Actual   string
	Err      error
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stage %q", e.Kind)
	if e.Param != "" {
		fmt.Fprintf(&b, ": param %q", e.Param)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	if e.Expected != "" {
		fmt.Fprintf(&b, " (expected: %s)", e.Expected)
	}
	if e.Actual != "" {
		fmt.Fprintf(&b, " (actual: %s)", e.Actual)
	}
	return b.String()
}

func (e *SchemaError) Unwrap() error { return e.Err }
