package stage

import "sync"

// Built-in stage kinds
const (
	KindRPISource   = "rpi-source"
	KindUSBSource   = "usb-source"
	KindFileSource  = "file-source"
	KindTestSource  = "test-source"
	KindDecode      = "decode"
	KindCaps        = "caps"
	KindQueue       = "queue"
	KindScale       = "scale"
	KindConvert     = "convert"
	KindTee         = "tee"
	KindMux         = "mux"
	KindInfer       = "infer"
	KindPostprocess = "postprocess"
	KindCallback    = "callback"
	KindOverlay     = "overlay"
	KindDisplaySink = "display-sink"
	KindNullSink    = "null-sink"
)

var (
	builtinOnce sync.Once
	builtin     *Registry
)

// Builtin returns the process-wide registry of known stage kinds.
// It is populated on first use and frozen, so callers can only read it.
func Builtin() *Registry {
	builtinOnce.Do(func() {
		builtin = NewRegistry()
		RegisterBuiltins(builtin)
		builtin.Freeze()
	})
	return builtin
}

// RegisterBuiltins adds the built-in kinds to r, which must not be frozen.
// Callers that need extra kinds build their own registry with this and then
// register more before freezing it.
func RegisterBuiltins(r *Registry) {
	r.MustRegister(KindRPISource, Schema{
		Element: "libcamerasrc",
		Role:    RoleSource,
		Params: []ParamSpec{
			{Key: "auto-focus-mode", Type: TypeString},
		},
	})
	r.MustRegister(KindUSBSource, Schema{
		Element: "v4l2src",
		Role:    RoleSource,
		Params: []ParamSpec{
			{Key: "device", Type: TypeString, Required: true},
		},
	})
	r.MustRegister(KindFileSource, Schema{
		Element: "filesrc",
		Role:    RoleSource,
		Params: []ParamSpec{
			{Key: "location", Type: TypePath, Required: true},
		},
	})
	r.MustRegister(KindTestSource, Schema{
		Element: "videotestsrc",
		Role:    RoleSource,
		Params: []ParamSpec{
			{Key: "pattern", Type: TypeString},
			{Key: "is-live", Type: TypeBool},
			{Key: "num-buffers", Type: TypeInt},
		},
	})
	r.MustRegister(KindDecode, Schema{
		Element: "decodebin",
		Role:    RoleConvert,
	})
	r.MustRegister(KindCaps, Schema{
		Element: "video/x-raw",
		Role:    RoleTransform,
		Caps:    true,
		Params: []ParamSpec{
			{Key: "format", Type: TypeString, Format: true},
			{Key: "width", Type: TypeInt, Positive: true},
			{Key: "height", Type: TypeInt, Positive: true},
			{Key: "framerate", Type: TypeFraction},
			{Key: "pixel-aspect-ratio", Type: TypeFraction},
		},
	})
	r.MustRegister(KindQueue, Schema{
		Element: "queue",
		Role:    RoleTransform,
		Params: []ParamSpec{
			{Key: "leaky", Type: TypeString, Default: "no"},
			{Key: "max-size-buffers", Type: TypeInt, Default: 3},
			{Key: "max-size-bytes", Type: TypeInt, Default: 0},
			{Key: "max-size-time", Type: TypeInt, Default: 0},
		},
	})
	r.MustRegister(KindScale, Schema{
		Element: "videoscale",
		Role:    RoleTransform,
		Params: []ParamSpec{
			{Key: "n-threads", Type: TypeInt, Positive: true},
		},
	})
	r.MustRegister(KindConvert, Schema{
		Element: "videoconvert",
		Role:    RoleConvert,
		Params: []ParamSpec{
			{Key: "n-threads", Type: TypeInt, Positive: true},
			{Key: "qos", Type: TypeBool},
		},
	})
	r.MustRegister(KindTee, Schema{
		Element: "tee",
		Role:    RoleTee,
	})
	r.MustRegister(KindMux, Schema{
		Element: "hailomuxer",
		Role:    RoleMerge,
	})
	r.MustRegister(KindInfer, Schema{
		Element: "hailonet",
		Role:    RoleTransform,
		Params: []ParamSpec{
			{Key: "hef-path", Type: TypePath, Required: true},
			{Key: "batch-size", Type: TypeInt, Required: true, Positive: true},
			{Key: "force-writable", Type: TypeBool},
		},
	})
	r.MustRegister(KindPostprocess, Schema{
		Element: "hailofilter",
		Role:    RoleTransform,
		Params: []ParamSpec{
			{Key: "function-name", Type: TypeString, Required: true},
			{Key: "so-path", Type: TypePath, Required: true},
			{Key: "config-path", Type: TypePath},
			{Key: "qos", Type: TypeBool},
		},
	})
	r.MustRegister(KindCallback, Schema{
		Element: "identity",
		Role:    RoleTransform,
	})
	r.MustRegister(KindOverlay, Schema{
		Element: "hailooverlay",
		Role:    RoleTransform,
	})
	r.MustRegister(KindDisplaySink, Schema{
		Element: "fpsdisplaysink",
		Role:    RoleSink,
		Params: []ParamSpec{
			{Key: "video-sink", Type: TypeString, Required: true},
			{Key: "sync", Type: TypeBool, Required: true},
			{Key: "text-overlay", Type: TypeBool},
			{Key: "signal-fps-measurements", Type: TypeBool},
		},
	})
	r.MustRegister(KindNullSink, Schema{
		Element: "fakesink",
		Role:    RoleSink,
		Params: []ParamSpec{
			{Key: "sync", Type: TypeBool},
		},
	})
}
