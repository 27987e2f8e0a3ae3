package graph

import (
	"fmt"

	"github.com/video-system/go-inference-pipeline/pkg/stage"
)

// Option configures a Builder
type Option func(*Builder)

// WithTeeKind sets the stage kind used for branch points
func WithTeeKind(kind string) Option {
	return func(b *Builder) { b.teeKind = kind }
}

// WithMergeKind sets the stage kind used for merge points
func WithMergeKind(kind string) Option {
	return func(b *Builder) { b.mergeKind = kind }
}

type openBranch struct {
	label      string
	tee        int
	bypassTail int
	tail       int
}

// Builder assembles one Graph. A Builder is not safe for concurrent use;
// independent builds need independent Builders.
//
// The first error is sticky: once a call fails, every later call returns
// the same error.
type Builder struct {
	reg       *stage.Registry
	teeKind   string
	mergeKind string

	nodes []Node
	edges []Edge
	tail  int
	open  []*openBranch
	err   error
}

// NewBuilder creates a builder that creates tee and merge stages from reg
func NewBuilder(reg *stage.Registry, opts ...Option) *Builder {
	b := &Builder{
		reg:       reg,
		teeKind:   stage.KindTee,
		mergeKind: stage.KindMux,
		tail:      -1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Err returns the first error encountered
func (b *Builder) Err() error {
	return b.err
}

func (b *Builder) fail(err error) error {
	if b.err == nil {
		b.err = err
	}
	return b.err
}

func (b *Builder) currentTail() int {
	if n := len(b.open); n > 0 {
		return b.open[n-1].tail
	}
	return b.tail
}

func (b *Builder) setTail(i int) {
	if n := len(b.open); n > 0 {
		b.open[n-1].tail = i
		return
	}
	b.tail = i
}

func (b *Builder) currentLabel() string {
	if n := len(b.open); n > 0 {
		return b.open[n-1].label
	}
	return ""
}

func stageID(d stage.Descriptor) string {
	if d.Name() != "" {
		return d.Name()
	}
	return d.Kind()
}

func (b *Builder) appendNode(d stage.Descriptor, branch string) int {
	i := len(b.nodes)
	b.nodes = append(b.nodes, Node{Index: i, Stage: d, Branch: branch})
	return i
}

// canFollow checks that d can be linked after the node at index from
func (b *Builder) canFollow(from int, d stage.Descriptor) error {
	if d.IsZero() {
		return &TopologyError{Label: b.currentLabel(), Err: ErrInvalidStage}
	}
	if from < 0 {
		if d.Role() != stage.RoleSource || len(d.Inputs()) != 0 {
			return &TopologyError{Stage: stageID(d), Err: ErrNoSource}
		}
		return nil
	}
	prev := b.nodes[from].Stage
	if len(prev.Outputs()) == 0 {
		return &TopologyError{Label: b.currentLabel(), Stage: stageID(d), Detail: "after " + stageID(prev), Err: ErrAfterSink}
	}
	if len(d.Inputs()) == 0 {
		return &TopologyError{Label: b.currentLabel(), Stage: stageID(d), Err: ErrSecondSource}
	}
	return nil
}

// AddStage appends d to the innermost open branch, or to the main chain
func (b *Builder) AddStage(d stage.Descriptor) error {
	if b.err != nil {
		return b.err
	}
	tail := b.currentTail()
	if err := b.canFollow(tail, d); err != nil {
		return b.fail(err)
	}
	i := b.appendNode(d, b.currentLabel())
	if tail >= 0 {
		b.edges = append(b.edges, Edge{From: tail, To: i})
	}
	b.setTail(i)
	return nil
}

// OpenBranch splits the pipeline at the current tail with a tee named label.
// The optional bypass stages carry the unmodified stream around the branch
// until it is merged back by CloseBranch.
func (b *Builder) OpenBranch(label string, bypass ...stage.Descriptor) error {
	if b.err != nil {
		return b.err
	}
	if !stage.ValidName(label) {
		return b.fail(&TopologyError{Label: label, Err: ErrInvalidLabel})
	}
	for _, o := range b.open {
		if o.label == label {
			return b.fail(&TopologyError{Label: label, Err: ErrBranchOpen})
		}
	}

	tee, err := b.reg.Create(b.teeKind, stage.Params{"name": label})
	if err != nil {
		return b.fail(fmt.Errorf("create tee for branch %q: %w", label, err))
	}
	tail := b.currentTail()
	if tail < 0 {
		return b.fail(&TopologyError{Label: label, Err: ErrNoSource})
	}
	if err := b.canFollow(tail, tee); err != nil {
		return b.fail(err)
	}

	enclosing := b.currentLabel()
	teeIdx := b.appendNode(tee, enclosing)
	b.edges = append(b.edges, Edge{From: tail, To: teeIdx})
	b.setTail(teeIdx)

	bypassTail := teeIdx
	for _, d := range bypass {
		if err := b.canFollow(bypassTail, d); err != nil {
			return b.fail(err)
		}
		if d.Role() == stage.RoleSink {
			return b.fail(&TopologyError{Label: label, Stage: stageID(d), Detail: "bypass path", Err: ErrBranchEndsInSink})
		}
		i := b.appendNode(d, enclosing)
		b.edges = append(b.edges, Edge{From: bypassTail, To: i})
		bypassTail = i
	}

	b.open = append(b.open, &openBranch{
		label:      label,
		tee:        teeIdx,
		bypassTail: bypassTail,
		tail:       teeIdx,
	})
	return nil
}

// CloseBranch ends the branch opened as label, inserting a merge stage named
// mergePoint that takes the bypass path on sink_0 and the branch on sink_1.
// Branches must be closed innermost first.
func (b *Builder) CloseBranch(label, mergePoint string) error {
	if b.err != nil {
		return b.err
	}
	n := len(b.open)
	found := false
	for _, o := range b.open {
		if o.label == label {
			found = true
		}
	}
	if !found {
		return b.fail(&TopologyError{Label: label, Err: ErrBranchNotOpen})
	}
	top := b.open[n-1]
	if top.label != label {
		return b.fail(&TopologyError{Label: label, Detail: fmt.Sprintf("branch %q is still open", top.label), Err: ErrBranchOrder})
	}
	if b.nodes[top.tail].Stage.Role() == stage.RoleSink {
		return b.fail(&TopologyError{Label: label, Stage: stageID(b.nodes[top.tail].Stage), Err: ErrBranchEndsInSink})
	}

	mux, err := b.reg.Create(b.mergeKind, stage.Params{"name": mergePoint})
	if err != nil {
		return b.fail(fmt.Errorf("create merge for branch %q: %w", label, err))
	}

	b.open = b.open[:n-1]
	i := b.appendNode(mux, b.currentLabel())
	b.edges = append(b.edges,
		Edge{From: top.bypassTail, To: i, ToPad: "sink_0"},
		Edge{From: top.tail, To: i, ToPad: "sink_1"},
	)
	b.setTail(i)
	return nil
}

// Build checks the finished structure and returns the graph
func (b *Builder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if n := len(b.open); n > 0 {
		return nil, b.fail(&TopologyError{Label: b.open[n-1].label, Err: ErrBranchUnclosed})
	}
	if len(b.nodes) == 0 {
		return nil, b.fail(&TopologyError{Err: ErrEmpty})
	}
	last := b.nodes[b.tail].Stage
	if last.Role() != stage.RoleSink {
		return nil, b.fail(&TopologyError{Stage: stageID(last), Detail: "last stage is not a sink", Err: ErrUnreachedSink})
	}

	g := &Graph{
		Nodes: append([]Node(nil), b.nodes...),
		Edges: append([]Edge(nil), b.edges...),
	}
	reached := reachable(g)
	for _, s := range g.Sinks() {
		if !reached[s] {
			return nil, b.fail(&TopologyError{Stage: stageID(g.Nodes[s].Stage), Err: ErrUnreachedSink})
		}
	}
	return g, nil
}

func reachable(g *Graph) []bool {
	seen := make([]bool, len(g.Nodes))
	stack := []int{g.Source()}
	seen[g.Source()] = true
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.Out(i) {
			if !seen[e.To] {
				seen[e.To] = true
				stack = append(stack, e.To)
			}
		}
	}
	return seen
}
