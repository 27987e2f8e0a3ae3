package pipeline

import (
	"fmt"

	"github.com/video-system/go-inference-pipeline/pkg/graph"
	"github.com/video-system/go-inference-pipeline/pkg/stage"
)

// Element names the runtime looks up in a composed pipeline
const (
	SourceElement   = "src_0"
	TeeElement      = "t"
	MergeElement    = "hmux"
	CallbackElement = "identity_callback"
	DisplayElement  = "hailo_display"
)

type composer struct {
	reg *stage.Registry
	b   *graph.Builder
	err error
}

func (c *composer) create(kind string, p stage.Params) stage.Descriptor {
	if c.err != nil {
		return stage.Descriptor{}
	}
	d, err := c.reg.Create(kind, p)
	if err != nil {
		c.err = fmt.Errorf("compose %s: %w", kind, err)
	}
	return d
}

func (c *composer) add(kind string, p stage.Params) {
	d := c.create(kind, p)
	if c.err != nil {
		return
	}
	if err := c.b.AddStage(d); err != nil {
		c.err = err
	}
}

func (c *composer) queue(name string) {
	c.add(stage.KindQueue, stage.Params{"name": name})
}

// Compose assembles the inference graph for cfg:
//
//	source -> scale -> convert -> tee t
//	  t -> bypass_queue -> hmux.sink_0
//	  t -> convert -> infer -> postprocess -> hmux.sink_1
//	hmux -> identity_callback -> overlay -> convert -> display sink
//
// The result is not validated; call Validate before handing it to an engine.
func Compose(cfg *Config, reg *stage.Registry) (*graph.Graph, error) {
	if cfg == nil {
		return nil, fmt.Errorf("compose: nil config")
	}
	if reg == nil {
		reg = stage.Builtin()
	}
	c := &composer{reg: reg, b: graph.NewBuilder(reg)}

	// Only libcamera can deliver the network format straight from the sensor;
	// every other source gets its format fixed after src_convert.
	nativeFormat := cfg.Source.Type == SourceRPI
	c.source(cfg)

	c.queue("queue_src_scale")
	c.add(stage.KindScale, nil)
	netCaps := stage.Params{
		"width":  cfg.Network.Width,
		"height": cfg.Network.Height,
	}
	if nativeFormat {
		netCaps["format"] = cfg.Network.Format
	}
	if cfg.Source.Type != SourceFile {
		netCaps["framerate"] = cfg.Source.Framerate
	}
	c.add(stage.KindCaps, netCaps)
	c.queue("queue_scale")
	c.add(stage.KindScale, stage.Params{"n-threads": 2})
	c.queue("queue_src_convert")
	c.add(stage.KindConvert, stage.Params{"name": "src_convert", "n-threads": 3, "qos": false})
	c.add(stage.KindCaps, stage.Params{
		"format":             cfg.Network.Format,
		"width":              cfg.Network.Width,
		"height":             cfg.Network.Height,
		"pixel-aspect-ratio": "1/1",
	})

	// Inference branch
	bypass := c.create(stage.KindQueue, stage.Params{"name": "bypass_queue", "max-size-buffers": 20})
	if c.err == nil {
		c.err = c.b.OpenBranch(TeeElement, bypass)
	}
	c.queue("queue_hailonet")
	c.add(stage.KindConvert, stage.Params{"n-threads": 3})
	c.add(stage.KindInfer, stage.Params{
		"hef-path":       cfg.Model.HEFPath,
		"batch-size":     cfg.Model.BatchSize,
		"force-writable": true,
	})
	post := stage.Params{
		"function-name": cfg.Model.FunctionName,
		"so-path":       cfg.Model.PostprocessSO,
		"qos":           false,
	}
	if cfg.Model.ConfigPath != "" {
		post["config-path"] = cfg.Model.ConfigPath
	}
	c.add(stage.KindPostprocess, post)
	c.queue("queue_hmuc")
	if c.err == nil {
		c.err = c.b.CloseBranch(TeeElement, MergeElement)
	}

	// Callback and display
	c.queue("queue_user_callback")
	c.add(stage.KindCallback, stage.Params{"name": CallbackElement})
	c.queue("queue_hailooverlay")
	c.add(stage.KindOverlay, nil)
	c.queue("queue_videoconvert")
	c.add(stage.KindConvert, stage.Params{"n-threads": 3, "qos": false})
	c.queue("queue_hailo_display")
	sync := cfg.Display.SyncEnabled(cfg.Source.Type)
	if cfg.Display.Headless {
		c.add(stage.KindNullSink, stage.Params{"name": DisplayElement, "sync": sync})
	} else {
		c.add(stage.KindDisplaySink, stage.Params{
			"name":                    DisplayElement,
			"video-sink":              cfg.Display.VideoSink,
			"sync":                    sync,
			"text-overlay":            cfg.Display.ShowFPS,
			"signal-fps-measurements": true,
		})
	}

	if c.err != nil {
		return nil, c.err
	}
	return c.b.Build()
}

func (c *composer) source(cfg *Config) {
	src := cfg.Source
	switch src.Type {
	case SourceRPI:
		c.add(stage.KindRPISource, stage.Params{"name": SourceElement, "auto-focus-mode": src.AutoFocusMode})
		c.add(stage.KindCaps, stage.Params{
			"format": cfg.Network.Format,
			"width":  src.Width,
			"height": src.Height,
		})
	case SourceUSB:
		c.add(stage.KindUSBSource, stage.Params{"name": SourceElement, "device": src.Device})
		c.add(stage.KindCaps, stage.Params{
			"width":     src.Width,
			"height":    src.Height,
			"framerate": src.Framerate,
		})
	case SourceFile:
		c.add(stage.KindFileSource, stage.Params{"name": SourceElement, "location": src.Device})
		c.queue("queue_dec")
		c.add(stage.KindDecode, nil)
		c.add(stage.KindConvert, stage.Params{"n-threads": 3})
	case SourceTest:
		c.add(stage.KindTestSource, stage.Params{"name": SourceElement, "is-live": true})
		c.add(stage.KindCaps, stage.Params{
			"width":     src.Width,
			"height":    src.Height,
			"framerate": src.Framerate,
		})
	default:
		if c.err == nil {
			c.err = &ValidationError{Stage: ConfigStage, Param: "source.type", Expected: "rpi, usb, file or test", Actual: src.Type, Err: ErrUnknownSource}
		}
	}
}
