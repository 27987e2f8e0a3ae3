// Package gstlaunch hands a serialized pipeline description to GStreamer.
//
// Two engines are provided: Launcher runs the gst-launch-1.0 binary, and
// Native (built with -tags gst) links GStreamer through go-gst and can
// attach a per-frame callback.
package gstlaunch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNativeUnavailable     = errors.New("native GStreamer engine not compiled in (build with -tags gst)")
	ErrCallbackUnsupported   = errors.New("engine does not support frame callbacks")
	ErrCallbackElementAbsent = errors.New("callback element not found in pipeline")
)

// stopTimeout is how long Stop waits for end-of-stream before killing
const stopTimeout = 5 * time.Second

// Verdict tells the engine what to do with a frame after the callback
type Verdict int

const (
	Continue Verdict = iota // pass the frame downstream
	Drop                    // discard the frame
)

func (v Verdict) String() string {
	if v == Drop {
		return "drop"
	}
	return "continue"
}

// Frame is one buffer passing the callback element.
// Data is only valid for the duration of the callback.
type Frame struct {
	Seq    uint64
	Width  int
	Height int
	Format string
	Data   []byte
}

// FrameCallback is invoked on the streaming thread for every frame
type FrameCallback func(Frame) Verdict

// StartOptions configures a run
type StartOptions struct {
	Callback        FrameCallback // optional
	CallbackElement string        // element whose src pad carries the callback
	Width           int           // frame geometry reported to the callback
	Height          int
	Format          string
}

// Engine runs a pipeline description
type Engine interface {
	Name() string
	Start(ctx context.Context, desc string, opts StartOptions) (*Process, error)
}

// Process is one running pipeline
type Process struct {
	RunID   string
	Engine  string
	Started time.Time

	done     chan struct{}
	err      error
	stop     func() error
	stopOnce sync.Once
	stopErr  error
	finOnce  sync.Once
}

// NewProcess creates the handle for a run of an Engine implemented outside
// this package. stop is called at most once, by Stop; the engine calls
// Finish when the pipeline exits.
func NewProcess(engine string, stop func() error) *Process {
	p := newProcess(engine)
	p.stop = stop
	return p
}

func newProcess(engine string) *Process {
	return &Process{
		RunID:   uuid.New().String(),
		Engine:  engine,
		Started: time.Now(),
		done:    make(chan struct{}),
	}
}

// Finish records the exit error and releases waiters
func (p *Process) Finish(err error) {
	p.finish(err)
}

// finish records the exit error and releases waiters. Only the first call counts.
func (p *Process) finish(err error) {
	p.finOnce.Do(func() {
		p.err = err
		close(p.done)
	})
}

// ShortID is the first block of RunID, for log prefixes
func (p *Process) ShortID() string {
	if len(p.RunID) >= 8 {
		return p.RunID[:8]
	}
	return p.RunID
}

// Done is closed when the pipeline has exited
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the pipeline exits and returns its error.
// A pipeline that reached end-of-stream returns nil.
func (p *Process) Wait() error {
	<-p.done
	return p.err
}

// Err returns the exit error, or nil while the pipeline is running
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Stop asks the pipeline to finish (end-of-stream) and kills it if it has
// not exited after a few seconds. Safe to call more than once.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		if p.stop != nil {
			p.stopErr = p.stop()
		}
	})
	return p.stopErr
}
