package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPathNotFound      = errors.New("path does not exist")
	ErrNotPositive       = errors.New("value must be positive")
	ErrBadFraction       = errors.New("fraction must be N/D with positive N and D")
	ErrFormatMismatch    = errors.New("pixel formats chained without a conversion stage")
	ErrDuplicateName     = errors.New("element name used more than once")
	ErrInvalidName       = errors.New("invalid element name")
	ErrUnsupportedFormat = errors.New("unsupported network format")
	ErrUnknownSource     = errors.New("unknown source type")
)

// ConfigStage is the Stage reported for errors in Config fields
const ConfigStage = "config"

// ValidationError reports a pre-flight check failure for one parameter of one
// stage. Err is one of the sentinel errors above.
type ValidationError struct {
	Stage    string // element name, "<kind>#<index>" for unnamed stages, or ConfigStage
	Kind     string
	Param    string
	Expected string
	Actual   string
	Err      error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stage %s", e.Stage)
	if e.Kind != "" && e.Kind != e.Stage {
		fmt.Fprintf(&b, " (%s)", e.Kind)
	}
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

func (e *ValidationError) Unwrap() error { return e.Err }

// ValidationErrors is every failure found by one validation pass, in
// pipeline order. errors.As finds the first *ValidationError.
type ValidationErrors []*ValidationError

func (v ValidationErrors) Error() string {
	switch len(v) {
	case 0:
		return "no validation errors"
	case 1:
		return v[0].Error()
	default:
		return fmt.Sprintf("%s (and %d more)", v[0].Error(), len(v)-1)
	}
}

func (v ValidationErrors) Unwrap() []error {
	out := make([]error, len(v))
	for i, e := range v {
		out[i] = e
	}
	return out
}

// Find returns the first error for param, if any
func (v ValidationErrors) Find(param string) (*ValidationError, bool) {
	for _, e := range v {
		if e.Param == param {
			return e, true
		}
	}
	return nil, false
}
