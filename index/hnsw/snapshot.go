package hnsw

import "sort"

// NodeSnapshot is the serializable form of one graph node.
type NodeSnapshot struct {
	ID        string
	Neighbors [][]string // index is the level
}

// Export returns all nodes in insertion order, each with its full
// per-level adjacency.
func (g *Graph) Export() []NodeSnapshot {
	nodes := make([]*node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].seq < nodes[j].seq })

	out := make([]NodeSnapshot, 0, len(nodes))
	for _, n := range nodes {
		neighbors := make([][]string, len(n.neighbors))
		for l, list := range n.neighbors {
			neighbors[l] = append([]string(nil), list...)
		}
		out = append(out, NodeSnapshot{ID: n.ID(), Neighbors: neighbors})
	}
	return out
}

func (n *node) ID() string { return n.id }

// Import replaces the graph with the given nodes. Sequence numbers are
// reassigned in slice order and the entry point is recomputed as the
// highest-level node, oldest on ties. The level generator keeps its
// current state; reproducible rebuilds should start from a fresh graph.
func (g *Graph) Import(nodes []NodeSnapshot) {
	g.nodes = make(map[string]*node, len(nodes))
	g.entry = nil
	g.nextSeq = 0

	for _, snap := range nodes {
		neighbors := make([][]string, len(snap.Neighbors))
		for l, list := range snap.Neighbors {
			neighbors[l] = append([]string(nil), list...)
		}
		if len(neighbors) == 0 {
			neighbors = make([][]string, 1)
		}

		n := &node{id: snap.ID, seq: g.nextSeq, neighbors: neighbors}
		g.nodes[snap.ID] = n
		g.nextSeq++

		if g.entry == nil || n.level() > g.entry.level() {
			g.entry = n
		}
	}
}

// Stats summarizes graph shape.
type Stats struct {
	NodeCount   int
	MaxLevel    int
	LevelCounts []int // nodes whose top level is the index
	AvgDegree   float64
	EntryPoint  string
}

// Stats computes a shape summary in one pass over the node table.
func (g *Graph) Stats() Stats {
	s := Stats{EntryPoint: g.EntryPoint()}
	if len(g.nodes) == 0 {
		return s
	}

	maxLevel := 0
	for _, n := range g.nodes {
		if n.level() > maxLevel {
			maxLevel = n.level()
		}
	}

	s.NodeCount = len(g.nodes)
	s.MaxLevel = maxLevel
	s.LevelCounts = make([]int, maxLevel+1)

	var totalDegree int
	for _, n := range g.nodes {
		s.LevelCounts[n.level()]++
		totalDegree += len(n.neighbors[0])
	}
	s.AvgDegree = float64(totalDegree) / float64(len(g.nodes))

	return s
}
