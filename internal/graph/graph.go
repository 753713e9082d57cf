package graph

import "github.com/model-lineage/pipeline/internal/lineage"

// Node is one deduplicated record projected into the graph.
type Node struct {
	ID          string
	Kind        lineage.Kind
	Author      string
	Downloads   int64
	Likes       int64
	Tags        []string
	PipelineTag string
	LibraryName string
	URL         string
	Problematic bool
}

// Edge is one validated, deduplicated relationship. Both endpoints are
// guaranteed to exist in the owning graph's node set.
type Edge struct {
	Source string
	Target string
	Type   lineage.RelationType
	Method string
}

// Graph is the loadable projection of a snapshot. Node and edge order
// is deterministic for a given snapshot.
type Graph struct {
	SnapshotID      string
	Nodes           []Node
	Edges           []Edge
	DanglingDropped int
	DuplicateEdges  int
}

func (g *Graph) ModelNodes() []Node {
	return g.nodesOfKind(lineage.KindModel)
}

func (g *Graph) DatasetNodes() []Node {
	return g.nodesOfKind(lineage.KindDataset)
}

func (g *Graph) nodesOfKind(kind lineage.Kind) []Node {
	var out []Node
	for _, n := range g.Nodes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func (g *Graph) EdgesOfType(t lineage.RelationType) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
