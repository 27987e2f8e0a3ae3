package pipeline

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/video-system/go-inference-pipeline/pkg/graph"
	"github.com/video-system/go-inference-pipeline/pkg/stage"
)

// allExist is a Stat that accepts every path
func allExist(string) (fs.FileInfo, error) { return nil, nil }

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Model.HEFPath = "/models/inception_v3.hef"
	cfg.Model.PostprocessSO = "/models/libinception_v3_inference.so"
	return cfg
}

func mustCreate(t *testing.T, kind string, p stage.Params) stage.Descriptor {
	t.Helper()
	d, err := stage.Builtin().Create(kind, p)
	require.NoError(t, err)
	return d
}

func TestSerializeBranchLayout(t *testing.T) {
	b := graph.NewBuilder(stage.Builtin())
	require.NoError(t, b.AddStage(mustCreate(t, stage.KindTestSource, stage.Params{"name": "src"})))
	require.NoError(t, b.OpenBranch("t", mustCreate(t, stage.KindQueue, stage.Params{"name": "bq"})))
	require.NoError(t, b.AddStage(mustCreate(t, stage.KindOverlay, nil)))
	require.NoError(t, b.CloseBranch("t", "m"))
	require.NoError(t, b.AddStage(mustCreate(t, stage.KindNullSink, nil)))
	g, err := b.Build()
	require.NoError(t, err)

	got, err := Serialize(g)
	require.NoError(t, err)
	want := "videotestsrc name=src ! tee name=t ! " +
		"queue name=bq leaky=no max-size-buffers=3 max-size-bytes=0 max-size-time=0 ! m.sink_0 " +
		"t. ! hailooverlay ! m.sink_1 " +
		"hailomuxer name=m ! fakesink"
	require.Equal(t, want, got)
}

func TestSerializeEmptyBranch(t *testing.T) {
	b := graph.NewBuilder(stage.Builtin())
	require.NoError(t, b.AddStage(mustCreate(t, stage.KindTestSource, nil)))
	require.NoError(t, b.OpenBranch("t"))
	require.NoError(t, b.CloseBranch("t", "m"))
	require.NoError(t, b.AddStage(mustCreate(t, stage.KindNullSink, nil)))
	g, err := b.Build()
	require.NoError(t, err)

	got, err := Serialize(g)
	require.NoError(t, err)
	require.Equal(t, "videotestsrc ! tee name=t ! m.sink_0 t. ! m.sink_1 hailomuxer name=m ! fakesink", got)
}

func TestSerializeCaps(t *testing.T) {
	d := mustCreate(t, stage.KindCaps, stage.Params{"height": 299, "format": "RGB", "width": 299})
	require.Equal(t, "video/x-raw, format=RGB, width=299, height=299", SerializeStage(d))
}

func TestDescribeIsDeterministic(t *testing.T) {
	v := Validator{Stat: allExist}
	first, err := v.Describe(testConfig(), nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := v.Describe(testConfig(), nil)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

// Stages inside the inference branch come before the merge point, which comes
// before the display sink.
func TestDescribeBranchOrder(t *testing.T) {
	desc, err := Validator{Stat: allExist}.Describe(testConfig(), nil)
	require.NoError(t, err)

	infer := strings.Index(desc, "hailonet hef-path")
	post := strings.Index(desc, "hailofilter function-name")
	mux := strings.Index(desc, "hailomuxer name=hmux")
	sink := strings.Index(desc, "fpsdisplaysink ")
	require.True(t, infer >= 0 && post > infer, desc)
	require.Greater(t, mux, post)
	require.Greater(t, sink, mux)

	require.True(t, strings.HasPrefix(desc, "libcamerasrc name=src_0 auto-focus-mode=AfModeManual ! video/x-raw, format=RGB, width=1536, height=864 ! "), desc)
	require.Contains(t, desc, "tee name=t ! queue name=bypass_queue leaky=no max-size-buffers=20 max-size-bytes=0 max-size-time=0 ! hmux.sink_0 t. ! queue name=queue_hailonet")
	require.Contains(t, desc, "hailonet hef-path=/models/inception_v3.hef batch-size=1 force-writable=true")
	require.Contains(t, desc, "hailofilter function-name=inception_v3 so-path=/models/libinception_v3_inference.so qos=false")
	require.Contains(t, desc, "identity name=identity_callback")
	require.True(t, strings.HasSuffix(desc, "fpsdisplaysink name=hailo_display video-sink=autovideosink sync=false text-overlay=false signal-fps-measurements=true"), desc)
}

func TestDescribeMissingModel(t *testing.T) {
	dir := t.TempDir()
	so := filepath.Join(dir, "libinception_v3_inference.so")
	require.NoError(t, os.WriteFile(so, []byte{0}, 0o644))

	cfg := DefaultConfig()
	cfg.Model.HEFPath = filepath.Join(dir, "missing.hef")
	cfg.Model.PostprocessSO = so

	desc, err := Describe(cfg, nil)
	require.Error(t, err)
	require.Empty(t, desc)
	require.ErrorIs(t, err, ErrPathNotFound)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, "hef-path", ve.Param)
	require.Equal(t, stage.KindInfer, ve.Kind)
	require.Equal(t, cfg.Model.HEFPath, ve.Actual)
}

func TestStageRoundTrip(t *testing.T) {
	stages := []stage.Descriptor{
		mustCreate(t, stage.KindInfer, stage.Params{"hef-path": "/m/net.hef", "batch-size": 4, "force-writable": true}),
		mustCreate(t, stage.KindFileSource, stage.Params{"name": "src_0", "location": "/videos/my clip.mp4"}),
		mustCreate(t, stage.KindCaps, stage.Params{"format": "NV12", "framerate": "30/1", "pixel-aspect-ratio": "1/1"}),
		mustCreate(t, stage.KindQueue, stage.Params{"name": "q"}),
		mustCreate(t, stage.KindDisplaySink, stage.Params{"video-sink": "xvimagesink sync=false", "sync": true}),
	}
	for _, d := range stages {
		t.Run(d.Kind(), func(t *testing.T) {
			decoded, err := Decode(SerializeStage(d), nil)
			require.NoError(t, err)
			require.Len(t, decoded, 1)

			var want []DecodedParam
			for _, p := range d.Params() {
				want = append(want, DecodedParam{Key: p.Key, Value: p.String()})
			}
			got := decoded[0]
			require.Equal(t, d.Kind(), got.Kind)
			require.Equal(t, d.Name(), got.Name)
			if diff := cmp.Diff(want, got.Params); diff != "" {
				t.Errorf("params mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeFullDescription(t *testing.T) {
	cfg := testConfig()
	g, err := Compose(cfg, nil)
	require.NoError(t, err)
	desc, err := Serialize(g)
	require.NoError(t, err)

	decoded, err := Decode(desc, nil)
	require.NoError(t, err)
	require.Len(t, decoded, len(g.Nodes))

	var loc string
	for _, d := range decoded {
		if d.Kind == stage.KindInfer {
			for _, p := range d.Params {
				if p.Key == "hef-path" {
					loc = Unquote(p.Value)
				}
			}
		}
	}
	require.Equal(t, cfg.Model.HEFPath, loc)
}

func TestTokenize(t *testing.T) {
	toks, err := Tokenize(`filesrc location="/a b/c \"d\".mp4"!fakesink`)
	require.NoError(t, err)
	require.Equal(t, []string{`filesrc`, `location="/a b/c \"d\".mp4"`, "!", "fakesink"}, toks)
	require.Equal(t, `/a b/c "d".mp4`, Unquote(`"/a b/c \"d\".mp4"`))

	_, err = Tokenize(`filesrc location="/a b`)
	require.Error(t, err)
}

func TestComposeSources(t *testing.T) {
	for _, typ := range []string{SourceRPI, SourceUSB, SourceFile, SourceTest} {
		t.Run(typ, func(t *testing.T) {
			cfg := testConfig()
			cfg.Source.Type = typ
			cfg.Source.Device = "/dev/video0"
			if typ == SourceFile {
				cfg.Source.Device = "/videos/in.mp4"
			}
			g, err := Compose(cfg, nil)
			require.NoError(t, err)
			require.NoError(t, Validator{Stat: allExist}.Validate(g, cfg))

			src, ok := g.Find(SourceElement)
			require.True(t, ok)
			require.Equal(t, 0, src.Index)
			_, ok = g.Find(CallbackElement)
			require.True(t, ok)

			if typ == SourceFile {
				kinds := kindsFrom(g, src.Index, 4)
				require.Equal(t, []string{stage.KindFileSource, stage.KindQueue, stage.KindDecode, stage.KindConvert}, kinds)
			}
		})
	}

	cfg := testConfig()
	cfg.Source.Type = "ndi"
	_, err := Compose(cfg, nil)
	require.ErrorIs(t, err, ErrUnknownSource)
}

// kindsFrom follows the first output edge from node i and returns up to n kinds
func kindsFrom(g *graph.Graph, i, n int) []string {
	var kinds []string
	for len(kinds) < n {
		kinds = append(kinds, g.Nodes[i].Stage.Kind())
		out := g.Out(i)
		if len(out) == 0 {
			break
		}
		i = out[0].To
	}
	return kinds
}

func TestComposeHeadless(t *testing.T) {
	cfg := testConfig()
	cfg.Display.Headless = true
	g, err := Compose(cfg, nil)
	require.NoError(t, err)
	n, ok := g.Find(DisplayElement)
	require.True(t, ok)
	require.Equal(t, stage.KindNullSink, n.Stage.Kind())
}

func TestValidateFormatChain(t *testing.T) {
	build := func(t *testing.T, between ...stage.Descriptor) *graph.Graph {
		b := graph.NewBuilder(stage.Builtin())
		require.NoError(t, b.AddStage(mustCreate(t, stage.KindTestSource, nil)))
		require.NoError(t, b.AddStage(mustCreate(t, stage.KindCaps, stage.Params{"format": "RGB"})))
		for _, d := range between {
			require.NoError(t, b.AddStage(d))
		}
		require.NoError(t, b.AddStage(mustCreate(t, stage.KindCaps, stage.Params{"format": "NV12"})))
		require.NoError(t, b.AddStage(mustCreate(t, stage.KindNullSink, nil)))
		g, err := b.Build()
		require.NoError(t, err)
		return g
	}

	err := Validator{Stat: allExist}.Validate(build(t), nil)
	require.ErrorIs(t, err, ErrFormatMismatch)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, "RGB", ve.Expected)
	require.Equal(t, "NV12", ve.Actual)

	// a queue passes the format through
	err = Validator{Stat: allExist}.Validate(build(t, mustCreate(t, stage.KindQueue, nil)), nil)
	require.ErrorIs(t, err, ErrFormatMismatch)

	require.NoError(t, Validator{Stat: allExist}.Validate(build(t, mustCreate(t, stage.KindConvert, nil)), nil))
}

func TestValidateMergeFormats(t *testing.T) {
	b := graph.NewBuilder(stage.Builtin())
	require.NoError(t, b.AddStage(mustCreate(t, stage.KindTestSource, nil)))
	require.NoError(t, b.AddStage(mustCreate(t, stage.KindCaps, stage.Params{"format": "RGB"})))
	require.NoError(t, b.OpenBranch("t"))
	require.NoError(t, b.AddStage(mustCreate(t, stage.KindConvert, nil)))
	require.NoError(t, b.AddStage(mustCreate(t, stage.KindCaps, stage.Params{"format": "NV12"})))
	require.NoError(t, b.CloseBranch("t", "m"))
	require.NoError(t, b.AddStage(mustCreate(t, stage.KindNullSink, nil)))
	g, err := b.Build()
	require.NoError(t, err)

	err = Validate(g, nil)
	require.ErrorIs(t, err, ErrFormatMismatch)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, "m", ve.Stage)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Model.BatchSize = -2
	cfg.Network.Format = "RGB565"
	g, err := Compose(cfg, nil)
	require.NoError(t, err)

	err = Validator{Stat: allExist}.Validate(g, cfg)
	var errs ValidationErrors
	require.True(t, errors.As(err, &errs))

	e, ok := errs.Find("model.batch_size")
	require.True(t, ok)
	require.ErrorIs(t, e, ErrNotPositive)
	require.Equal(t, ConfigStage, e.Stage)

	e, ok = errs.Find("network.format")
	require.True(t, ok)
	require.ErrorIs(t, e, ErrUnsupportedFormat)

	e, ok = errs.Find("batch-size")
	require.True(t, ok)
	require.Equal(t, stage.KindInfer, e.Kind)
}

func TestValidateDuplicateNames(t *testing.T) {
	b := graph.NewBuilder(stage.Builtin())
	require.NoError(t, b.AddStage(mustCreate(t, stage.KindTestSource, nil)))
	require.NoError(t, b.AddStage(mustCreate(t, stage.KindQueue, stage.Params{"name": "q"})))
	require.NoError(t, b.AddStage(mustCreate(t, stage.KindQueue, stage.Params{"name": "q"})))
	require.NoError(t, b.AddStage(mustCreate(t, stage.KindNullSink, nil)))
	g, err := b.Build()
	require.NoError(t, err)

	require.ErrorIs(t, Validate(g, nil), ErrDuplicateName)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("MODEL_DIR", "/opt/models")
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	yaml := `
model:
  hef_path: ${MODEL_DIR}/inception_v3.hef
  batch_size: 2
source:
  type: file
  device: /videos/in.mp4
display:
  show_fps: true
labels:
  input: "cat\ndog\n"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "/opt/models/inception_v3.hef", cfg.Model.HEFPath)
	require.Equal(t, 2, cfg.Model.BatchSize)
	require.Equal(t, "inception_v3", cfg.Model.FunctionName)
	require.Equal(t, 299, cfg.Network.Width)
	require.Equal(t, "RGB", cfg.Network.Format)
	require.Equal(t, "cat\ndog\n", cfg.Labels.Input)
	require.Equal(t, 0.1, cfg.Labels.Threshold)
	require.True(t, cfg.Display.SyncEnabled(cfg.Source.Type))

	off := false
	cfg.Display.Sync = &off
	require.False(t, cfg.Display.SyncEnabled(cfg.Source.Type))

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadConfigZeroThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("labels:\n  threshold: 0\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 0.0, cfg.Labels.Threshold)
	require.Equal(t, DefaultThreshold, DefaultConfig().Labels.Threshold)
}
