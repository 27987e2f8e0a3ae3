package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/video-system/go-inference-pipeline/pkg/graph"
	"github.com/video-system/go-inference-pipeline/pkg/stage"
)

var ErrUnnamedJunction = errors.New("tee and merge stages must be named")

// SerializeStage renders one stage in launch syntax:
//
//	element name=n key=value ...
//	video/x-raw, key=value, ...
//
// Parameters appear in registration order.
func SerializeStage(d stage.Descriptor) string {
	var b strings.Builder
	b.WriteString(d.Element())
	if d.IsCaps() {
		for _, p := range d.Params() {
			fmt.Fprintf(&b, ", %s=%s", p.Key, p.String())
		}
		return b.String()
	}
	if d.Name() != "" {
		fmt.Fprintf(&b, " name=%s", d.Name())
	}
	for _, p := range d.Params() {
		fmt.Fprintf(&b, " %s=%s", p.Key, p.String())
	}
	return b.String()
}

// segment is one "a ! b ! c" chain of the description
type segment struct {
	key   int         // node index the chain is ordered by
	start int         // first node rendered, or -1 for a tee reference
	ref   *graph.Edge // tee output that starts this chain
}

type serializer struct {
	g        *graph.Graph
	rendered []bool
	linked   []int
	pending  []segment
}

// Serialize renders g as a launch description. The result depends only on
// the graph: the same graph always yields the same string.
//
// The main chain comes first. Each further tee output starts a new chain
// with "<tee>. !" and every merge input ends its chain with
// "<merge>.<pad>"; the merge element itself opens the chain that follows
// it. Chains are emitted in declaration order of their first stage.
func Serialize(g *graph.Graph) (string, error) {
	if g == nil || len(g.Nodes) == 0 {
		return "", fmt.Errorf("serialize: %w", graph.ErrEmpty)
	}
	for _, n := range g.Nodes {
		if junction(g, n.Index) && n.Stage.Name() == "" {
			return "", fmt.Errorf("serialize: %s#%d: %w", n.Stage.Kind(), n.Index, ErrUnnamedJunction)
		}
	}

	s := &serializer{
		g:        g,
		rendered: make([]bool, len(g.Nodes)),
		linked:   make([]int, len(g.Nodes)),
		pending:  []segment{{key: g.Source(), start: g.Source()}},
	}

	var parts []string
	for len(s.pending) > 0 {
		sort.SliceStable(s.pending, func(i, j int) bool {
			a, b := s.pending[i], s.pending[j]
			if a.key != b.key {
				return a.key < b.key
			}
			return a.ref != nil && b.ref == nil
		})
		seg := s.pending[0]
		s.pending = s.pending[1:]
		parts = append(parts, s.chain(seg))
	}

	for i, done := range s.rendered {
		if !done {
			n := g.Nodes[i]
			return "", fmt.Errorf("serialize: stage %s is not reachable from the source", nodeID(n))
		}
	}
	return strings.Join(parts, " "), nil
}

func isMerge(g *graph.Graph, i int) bool {
	return g.Nodes[i].Stage.Role() == stage.RoleMerge || len(g.In(i)) > 1
}

func junction(g *graph.Graph, i int) bool {
	return isMerge(g, i) || len(g.Out(i)) > 1
}

func (s *serializer) chain(seg segment) string {
	var b strings.Builder
	i := seg.start
	if seg.ref != nil {
		fmt.Fprintf(&b, "%s. ! ", s.g.Nodes[seg.ref.From].Stage.Name())
		if s.link(&b, *seg.ref) {
			return b.String()
		}
		i = seg.ref.To
	}

	for {
		b.WriteString(SerializeStage(s.g.Nodes[i].Stage))
		s.rendered[i] = true

		outs := s.g.Out(i)
		if len(outs) == 0 {
			return b.String()
		}
		for _, e := range outs[1:] {
			s.pending = append(s.pending, segment{key: e.To, start: -1, ref: &e})
		}

		b.WriteString(" ! ")
		if s.link(&b, outs[0]) {
			return b.String()
		}
		i = outs[0].To
	}
}

// link writes a pad reference when e enters a merge and reports whether the
// chain ends there. The merge's own chain is queued once all of its inputs
// have been written.
func (s *serializer) link(b *strings.Builder, e graph.Edge) bool {
	if !isMerge(s.g, e.To) {
		return false
	}
	target := s.g.Nodes[e.To].Stage.Name()
	if e.ToPad != "" {
		fmt.Fprintf(b, "%s.%s", target, e.ToPad)
	} else {
		fmt.Fprintf(b, "%s.", target)
	}
	s.linked[e.To]++
	if s.linked[e.To] == len(s.g.In(e.To)) {
		s.pending = append(s.pending, segment{key: e.To, start: e.To})
	}
	return true
}
