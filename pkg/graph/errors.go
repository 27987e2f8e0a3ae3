package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBranchNotOpen    = errors.New("branch closed without being opened")
	ErrBranchOrder      = errors.New("branches must close in reverse order of opening")
	ErrBranchUnclosed   = errors.New("branch opened but never closed")
	ErrBranchOpen       = errors.New("branch already open")
	ErrBranchEndsInSink = errors.New("branch ends in a sink and cannot be merged")
	ErrInvalidLabel     = errors.New("invalid branch label")
	ErrInvalidStage     = errors.New("stage was not created from a registry")
	ErrNoSource         = errors.New("pipeline must begin with a source stage")
	ErrSecondSource     = errors.New("source stage can only be the first stage")
	ErrAfterSink        = errors.New("stage added after a sink")
	ErrUnreachedSink    = errors.New("pipeline does not terminate in a reachable sink")
	ErrEmpty            = errors.New("pipeline has no stages")
)

// TopologyError reports a malformed graph structure.
// Label is the branch involved, if any; Stage is the kind or name of the
// stage involved, if any.
type TopologyError struct {
	Label  string
	Stage  string
	Detail string
	Err    error
}

func (e *TopologyError) Error() string {
	var b strings.Builder
	b.WriteString("topology")
	if e.Label != "" {
		fmt.Fprintf(&b, ": branch %q", e.Label)
	}
	if e.Stage != "" {
		fmt.Fprintf(&b, ": stage %q", e.Stage)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	if e.Detail != "" {
		fmt.Fprintf(&b, " (%s)", e.Detail)
	}
	return b.String()
}

func (e *TopologyError) Unwrap() error { return e.Err }
