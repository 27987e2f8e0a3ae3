//go:build gst

package gstlaunch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/tinyzimmer/go-gst/gst"
)

var gstInit sync.Once

// Native runs descriptions in-process through go-gst
type Native struct {
	log logs.Log
}

// NewNative initializes GStreamer
func NewNative(log logs.Log) (*Native, error) {
	gstInit.Do(func() { gst.Init(nil) })
	return &Native{log: log}, nil
}

// Name of the engine
func (n *Native) Name() string {
	return "go-gst"
}

// Start parses desc, installs the frame callback on the src pad of
// opts.CallbackElement and sets the pipeline playing.
func (n *Native) Start(ctx context.Context, desc string, opts StartOptions) (*Process, error) {
	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, fmt.Errorf("parse pipeline: %w", err)
	}

	proc := newProcess(n.Name())
	log := logs.NewPrefixLoggerNoSpace(n.log, "["+n.Name()+" "+proc.ShortID()+"] ")

	if opts.Callback != nil {
		if err := installCallback(pipeline, opts); err != nil {
			return nil, err
		}
		log.Debugf("Frame callback installed on %s", opts.CallbackElement)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("set pipeline playing: %w", err)
	}
	log.Infof("Pipeline playing")

	proc.stop = func() error {
		log.Infof("Sending EOS")
		pipeline.SendEvent(gst.NewEOSEvent())
		select {
		case <-proc.Done():
		case <-time.After(stopTimeout):
			log.Warnf("No EOS after %v, forcing stop", stopTimeout)
			pipeline.SetState(gst.StateNull)
			proc.finish(fmt.Errorf("pipeline did not reach end of stream"))
		}
		return nil
	}

	go func() {
		err := monitorBus(ctx, pipeline, log, proc)
		pipeline.SetState(gst.StateNull)
		proc.finish(err)
	}()

	return proc, nil
}

func installCallback(pipeline *gst.Pipeline, opts StartOptions) error {
	elem, err := pipeline.GetElementByName(opts.CallbackElement)
	if err != nil || elem == nil {
		return fmt.Errorf("%w: %q", ErrCallbackElementAbsent, opts.CallbackElement)
	}
	srcPad := elem.GetStaticPad("src")
	if srcPad == nil {
		return fmt.Errorf("element %q has no src pad", opts.CallbackElement)
	}

	var seq uint64
	srcPad.AddProbe(gst.PadProbeTypeBuffer, func(pad *gst.Pad, info *gst.PadProbeInfo) gst.PadProbeReturn {
		buffer := info.GetBuffer()
		if buffer == nil {
			return gst.PadProbeOK
		}
		mapInfo := buffer.Map(gst.MapRead)
		frame := Frame{
			Seq:    atomic.AddUint64(&seq, 1),
			Width:  opts.Width,
			Height: opts.Height,
			Format: opts.Format,
			Data:   mapInfo.Bytes(),
		}
		verdict := opts.Callback(frame)
		buffer.Unmap()

		if verdict == Drop {
			return gst.PadProbeDrop
		}
		return gst.PadProbeOK
	})
	return nil
}

// monitorBus polls the pipeline bus until end-of-stream or an error.
// Cancelling ctx sends EOS and keeps polling so the pipeline drains.
func monitorBus(ctx context.Context, pipeline *gst.Pipeline, log logs.Log, proc *Process) error {
	bus := pipeline.GetPipelineBus()
	cancelled := false

	for {
		if !cancelled {
			select {
			case <-ctx.Done():
				cancelled = true
				go proc.Stop()
			default:
			}
		}

		// Poll for messages with short timeout for responsive shutdown
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			select {
			case <-proc.Done():
				return proc.Err()
			default:
			}
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			log.Infof("End of stream after %v", time.Since(proc.Started).Round(time.Millisecond))
			return nil

		case gst.MessageError:
			gerr := msg.ParseError()
			log.Errorf("Pipeline error: %v (%s)", gerr.Error(), gerr.DebugString())
			return fmt.Errorf("pipeline error: %s", gerr.Error())

		case gst.MessageWarning:
			gerr := msg.ParseWarning()
			log.Warnf("%v", gerr.Error())

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, new := msg.ParseStateChanged()
				log.Debugf("Pipeline state %v -> %v", old, new)
			}
		}
	}
}
