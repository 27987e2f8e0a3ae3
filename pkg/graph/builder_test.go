package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/video-system/go-inference-pipeline/pkg/stage"
)

func mustStage(t *testing.T, kind string, params stage.Params) stage.Descriptor {
	t.Helper()
	d, err := stage.Builtin().Create(kind, params)
	require.NoError(t, err)
	return d
}

func requireTopology(t *testing.T, err error, target error) *TopologyError {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, target), "got %v", err)
	var te *TopologyError
	require.True(t, errors.As(err, &te))
	return te
}

func TestLinearChain(t *testing.T) {
	b := NewBuilder(stage.Builtin())
	require.NoError(t, b.AddStage(mustStage(t, stage.KindTestSource, nil)))
	require.NoError(t, b.AddStage(mustStage(t, stage.KindConvert, nil)))
	require.NoError(t, b.AddStage(mustStage(t, stage.KindNullSink, nil)))

	g, err := b.Build()
	require.NoError(t, err)
	require.Len(t, g.Nodes, 3)
	require.Equal(t, []Edge{{From: 0, To: 1}, {From: 1, To: 2}}, g.Edges)
	require.Equal(t, []int{2}, g.Sinks())
}

func TestBypassBranch(t *testing.T) {
	b := NewBuilder(stage.Builtin())
	require.NoError(t, b.AddStage(mustStage(t, stage.KindTestSource, nil)))
	require.NoError(t, b.OpenBranch("bypass", mustStage(t, stage.KindQueue, stage.Params{"name": "bypass_queue"})))
	require.NoError(t, b.AddStage(mustStage(t, stage.KindOverlay, nil)))
	require.NoError(t, b.CloseBranch("bypass", "hmux"))
	require.NoError(t, b.AddStage(mustStage(t, stage.KindNullSink, nil)))

	g, err := b.Build()
	require.NoError(t, err)

	// source, tee, bypass queue, overlay, mux, sink
	require.Len(t, g.Nodes, 6)
	require.Equal(t, stage.KindTee, g.Nodes[1].Stage.Kind())
	require.Equal(t, "bypass", g.Nodes[1].Stage.Name())
	require.Equal(t, "bypass", g.Nodes[3].Branch)
	require.Equal(t, "", g.Nodes[2].Branch)

	mux, ok := g.Find("hmux")
	require.True(t, ok)
	require.Equal(t, 4, mux.Index)
	require.Equal(t, []Edge{
		{From: 2, To: 4, ToPad: "sink_0"},
		{From: 3, To: 4, ToPad: "sink_1"},
	}, g.In(4))
	require.Len(t, g.Out(1), 2)
}

func TestEmptyBranchMergesTeeTwice(t *testing.T) {
	b := NewBuilder(stage.Builtin())
	require.NoError(t, b.AddStage(mustStage(t, stage.KindTestSource, nil)))
	require.NoError(t, b.OpenBranch("t"))
	require.NoError(t, b.CloseBranch("t", "m"))
	require.NoError(t, b.AddStage(mustStage(t, stage.KindNullSink, nil)))

	g, err := b.Build()
	require.NoError(t, err)
	require.Len(t, g.In(2), 2)
}

func TestNestedBranchesCloseLIFO(t *testing.T) {
	b := NewBuilder(stage.Builtin())
	require.NoError(t, b.AddStage(mustStage(t, stage.KindTestSource, nil)))
	require.NoError(t, b.OpenBranch("a"))
	require.NoError(t, b.AddStage(mustStage(t, stage.KindConvert, nil)))
	require.NoError(t, b.OpenBranch("b"))
	require.NoError(t, b.AddStage(mustStage(t, stage.KindOverlay, nil)))
	require.NoError(t, b.CloseBranch("b", "mb"))
	require.NoError(t, b.CloseBranch("a", "ma"))
	require.NoError(t, b.AddStage(mustStage(t, stage.KindNullSink, nil)))

	g, err := b.Build()
	require.NoError(t, err)

	mb, _ := g.Find("mb")
	require.Equal(t, "a", mb.Branch)
	ma, _ := g.Find("ma")
	require.Equal(t, "", ma.Branch)
	require.Equal(t, mb.Index, g.In(ma.Index)[1].From)
}

func TestCloseOutOfOrderFails(t *testing.T) {
	b := NewBuilder(stage.Builtin())
	require.NoError(t, b.AddStage(mustStage(t, stage.KindTestSource, nil)))
	require.NoError(t, b.OpenBranch("a"))
	require.NoError(t, b.OpenBranch("b"))

	te := requireTopology(t, b.CloseBranch("a", "ma"), ErrBranchOrder)
	require.Equal(t, "a", te.Label)

	// sticky
	require.ErrorIs(t, b.AddStage(mustStage(t, stage.KindNullSink, nil)), ErrBranchOrder)
	_, err := b.Build()
	require.ErrorIs(t, err, ErrBranchOrder)
}

func TestCloseWithoutOpenFails(t *testing.T) {
	b := NewBuilder(stage.Builtin())
	require.NoError(t, b.AddStage(mustStage(t, stage.KindTestSource, nil)))
	te := requireTopology(t, b.CloseBranch("ghost", "m"), ErrBranchNotOpen)
	require.Equal(t, "ghost", te.Label)
}

func TestUnclosedBranchFailsBuild(t *testing.T) {
	b := NewBuilder(stage.Builtin())
	require.NoError(t, b.AddStage(mustStage(t, stage.KindTestSource, nil)))
	require.NoError(t, b.OpenBranch("bypass"))
	require.NoError(t, b.AddStage(mustStage(t, stage.KindOverlay, nil)))

	_, err := b.Build()
	te := requireTopology(t, err, ErrBranchUnclosed)
	require.Equal(t, "bypass", te.Label)
}

func TestStructuralErrors(t *testing.T) {
	t.Run("first stage not a source", func(t *testing.T) {
		b := NewBuilder(stage.Builtin())
		requireTopology(t, b.AddStage(mustStage(t, stage.KindConvert, nil)), ErrNoSource)
	})

	t.Run("second source", func(t *testing.T) {
		b := NewBuilder(stage.Builtin())
		require.NoError(t, b.AddStage(mustStage(t, stage.KindTestSource, nil)))
		requireTopology(t, b.AddStage(mustStage(t, stage.KindTestSource, nil)), ErrSecondSource)
	})

	t.Run("stage after sink", func(t *testing.T) {
		b := NewBuilder(stage.Builtin())
		require.NoError(t, b.AddStage(mustStage(t, stage.KindTestSource, nil)))
		require.NoError(t, b.AddStage(mustStage(t, stage.KindNullSink, nil)))
		requireTopology(t, b.AddStage(mustStage(t, stage.KindConvert, nil)), ErrAfterSink)
	})

	t.Run("no sink", func(t *testing.T) {
		b := NewBuilder(stage.Builtin())
		require.NoError(t, b.AddStage(mustStage(t, stage.KindTestSource, nil)))
		_, err := b.Build()
		requireTopology(t, err, ErrUnreachedSink)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := NewBuilder(stage.Builtin()).Build()
		requireTopology(t, err, ErrEmpty)
	})

	t.Run("branch ending in sink", func(t *testing.T) {
		b := NewBuilder(stage.Builtin())
		require.NoError(t, b.AddStage(mustStage(t, stage.KindTestSource, nil)))
		require.NoError(t, b.OpenBranch("rec"))
		require.NoError(t, b.AddStage(mustStage(t, stage.KindNullSink, nil)))
		requireTopology(t, b.CloseBranch("rec", "m"), ErrBranchEndsInSink)
	})

	t.Run("duplicate open label", func(t *testing.T) {
		b := NewBuilder(stage.Builtin())
		require.NoError(t, b.AddStage(mustStage(t, stage.KindTestSource, nil)))
		require.NoError(t, b.OpenBranch("x"))
		requireTopology(t, b.OpenBranch("x"), ErrBranchOpen)
	})

	t.Run("bad label", func(t *testing.T) {
		b := NewBuilder(stage.Builtin())
		require.NoError(t, b.AddStage(mustStage(t, stage.KindTestSource, nil)))
		requireTopology(t, b.OpenBranch("by pass"), ErrInvalidLabel)
	})

	t.Run("zero descriptor", func(t *testing.T) {
		b := NewBuilder(stage.Builtin())
		requireTopology(t, b.AddStage(stage.Descriptor{}), ErrInvalidStage)
	})
}

func TestCustomMergeKind(t *testing.T) {
	reg := stage.NewRegistry()
	stage.RegisterBuiltins(reg)
	reg.MustRegister("compositor", stage.Schema{Element: "compositor", Role: stage.RoleMerge})
	reg.Freeze()

	b := NewBuilder(reg, WithMergeKind("compositor"))
	src, err := reg.Create(stage.KindTestSource, nil)
	require.NoError(t, err)
	sink, err := reg.Create(stage.KindNullSink, nil)
	require.NoError(t, err)

	require.NoError(t, b.AddStage(src))
	require.NoError(t, b.OpenBranch("t"))
	require.NoError(t, b.CloseBranch("t", "comp"))
	require.NoError(t, b.AddStage(sink))

	g, err := b.Build()
	require.NoError(t, err)
	n, ok := g.Find("comp")
	require.True(t, ok)
	require.Equal(t, "compositor", n.Stage.Element())
}
