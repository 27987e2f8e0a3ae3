// Package graph assembles stage descriptors into a pipeline graph.
//
// Stages are added in declaration order along a main chain. OpenBranch puts a
// tee at the current end of the chain; every stage added while the branch is
// open hangs off that tee, and CloseBranch joins the branch back with the
// bypass path through a merge stage. This is the split-and-rejoin shape used
// to route raw frames around an inference block.
package graph

import (
	"github.com/video-system/go-inference-pipeline/pkg/stage"
)

// Node is one stage placed in the graph
type Node struct {
	Index  int
	Stage  stage.Descriptor
	Branch string // label of the innermost branch the stage was declared in, "" for the main chain
}

// Edge links the output of one node to the input of another.
// ToPad names the input pad on merge stages ("sink_0", "sink_1"), and is
// empty otherwise.
type Edge struct {
	From  int
	To    int
	ToPad string
}

// Graph is a validated DAG with a single source and its stages in declaration order
type Graph struct {
	Nodes []Node
	Edges []Edge
}

// Source returns the index of the source node
func (g *Graph) Source() int {
	return 0
}

// Sinks returns the indices of all sink nodes
func (g *Graph) Sinks() []int {
	var sinks []int
	for _, n := range g.Nodes {
		if n.Stage.Role() == stage.RoleSink {
			sinks = append(sinks, n.Index)
		}
	}
	return sinks
}

// Out returns the edges leaving node i, in the order they were created
func (g *Graph) Out(i int) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.From == i {
			out = append(out, e)
		}
	}
	return out
}

// In returns the edges entering node i, in the order they were created
func (g *Graph) In(i int) []Edge {
	var in []Edge
	for _, e := range g.Edges {
		if e.To == i {
			in = append(in, e)
		}
	}
	return in
}

// Stages returns the descriptors in declaration order
func (g *Graph) Stages() []stage.Descriptor {
	out := make([]stage.Descriptor, len(g.Nodes))
	for i, n := range g.Nodes {
		out[i] = n.Stage
	}
	return out
}

// Find returns the node whose stage carries the given element name
func (g *Graph) Find(name string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.Stage.Name() == name {
			return n, true
		}
	}
	return Node{}, false
}
