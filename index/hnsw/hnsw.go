// Package hnsw implements a hierarchical navigable small world proximity
// graph over string ids. The graph stores no vectors; all distances come
// from an injected oracle working in cost space (smaller is better), which
// keeps the index agnostic of metric direction and quantization.
package hnsw

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/nearlab/proxima/internal/queue"
)

var (
	// ErrNotReachable is returned when the oracle cannot score the id
	// being inserted, typically because it was not stored first.
	ErrNotReachable = errors.New("hnsw: id not reachable through distance oracle")
)

// DistanceOracle supplies id-to-id distances in cost space. The boolean
// result is false when either id is unknown.
type DistanceOracle interface {
	CostBetween(a, b string) (float32, bool)
}

// CostFunc scores a stored id against an external query, in cost space.
type CostFunc func(id string) (float32, bool)

// Options configures graph construction and search.
type Options struct {
	// M is the target out-degree per node and level. Level 0 allows 2*M.
	M int

	// EfConstruction is the beam width used while wiring inserts.
	EfConstruction int

	// EfSearch is the default query beam width. Search widens it to k
	// when k is larger.
	EfSearch int

	// RandomSeed seeds the level generator for reproducible builds.
	RandomSeed int64
}

// DefaultOptions returns the default graph parameters.
func DefaultOptions() Options {
	return Options{
		M:              32,
		EfConstruction: 200,
		EfSearch:       50,
		RandomSeed:     1,
	}
}

// Candidate is a scored search hit in cost space.
type Candidate struct {
	ID   string
	Cost float32
}

type node struct {
	id  string
	seq uint64
	// neighbors[l] holds the out-edges at level l, l <= len-1.
	neighbors [][]string
}

func (n *node) level() int { return len(n.neighbors) - 1 }

// Graph is a mutable HNSW index. It is not internally synchronized; the
// engine serializes writers and admits concurrent readers.
type Graph struct {
	opts      Options
	oracle    DistanceOracle
	nodes     map[string]*node
	entry     *node
	rng       *rand.Rand
	levelMult float64
	nextSeq   uint64
}

// New creates an empty graph backed by the given distance oracle.
func New(oracle DistanceOracle, optFns ...func(o *Options)) (*Graph, error) {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.M < 2 {
		return nil, fmt.Errorf("hnsw: M must be at least 2, got %d", opts.M)
	}
	if opts.EfConstruction < 1 {
		return nil, fmt.Errorf("hnsw: efConstruction must be positive, got %d", opts.EfConstruction)
	}
	if opts.EfSearch < 1 {
		return nil, fmt.Errorf("hnsw: efSearch must be positive, got %d", opts.EfSearch)
	}

	return &Graph{
		opts:      opts,
		oracle:    oracle,
		nodes:     make(map[string]*node),
		rng:       rand.New(rand.NewSource(opts.RandomSeed)),
		levelMult: 1.0 / math.Log(float64(opts.M)),
	}, nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Has reports whether id is indexed.
func (g *Graph) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// EntryPoint returns the current entry node id, or "" when empty.
func (g *Graph) EntryPoint() string {
	if g.entry == nil {
		return ""
	}
	return g.entry.id
}

// maxDegree returns the edge cap for a level.
func (g *Graph) maxDegree(level int) int {
	if level == 0 {
		return 2 * g.opts.M
	}
	return g.opts.M
}

// drawLevel samples a node level from the exponential distribution with
// mean 1/ln(M).
func (g *Graph) drawLevel() int {
	return int(math.Floor(-math.Log(g.rng.Float64()) * g.levelMult))
}

// Insert wires id into the graph. The oracle must already know the id.
// Inserting an existing id removes the old node first and reuses its
// previously drawn level, so an update does not reshape the hierarchy.
func (g *Graph) Insert(id string) error {
	level := -1
	if existing, ok := g.nodes[id]; ok {
		level = existing.level()
		g.remove(existing)
	}
	if level < 0 {
		level = g.drawLevel()
	}

	return g.insertAtLevel(id, level)
}

func (g *Graph) insertAtLevel(id string, level int) error {
	n := &node{
		id:        id,
		seq:       g.nextSeq,
		neighbors: make([][]string, level+1),
	}

	if g.entry == nil {
		g.nodes[id] = n
		g.entry = n
		g.nextSeq++
		return nil
	}

	costTo := func(other string) (float32, bool) {
		return g.oracle.CostBetween(id, other)
	}

	// Greedy descent through layers above the new node's level.
	ep, ok := g.closestAtUpperLayers(costTo, level)
	if !ok {
		return ErrNotReachable
	}

	entryLevel := g.entry.level()

	// Beam search and wiring from min(level, entryLevel) down to 0.
	for l := min(level, entryLevel); l >= 0; l-- {
		found := g.searchLayer(costTo, ep, g.opts.EfConstruction, l)

		selected := g.selectNeighbors(found, g.opts.M)
		n.neighbors[l] = make([]string, 0, len(selected))
		for _, c := range selected {
			n.neighbors[l] = append(n.neighbors[l], c.ID)
		}

		if len(found) > 0 {
			ep = found[0].ID
		}
	}

	g.nodes[id] = n
	g.nextSeq++

	// Backlinks, with degree-cap pruning on the receiving side.
	for l := 0; l <= min(level, entryLevel); l++ {
		for _, neighborID := range n.neighbors[l] {
			g.link(g.nodes[neighborID], n.id, l)
		}
	}

	if level > entryLevel {
		g.entry = n
	}

	return nil
}

// closestAtUpperLayers walks greedily from the entry point down to
// targetLevel+1, returning the closest id found as the entry for the beam
// phase.
func (g *Graph) closestAtUpperLayers(costTo CostFunc, targetLevel int) (string, bool) {
	ep := g.entry.id
	epCost, ok := costTo(ep)
	if !ok {
		return "", false
	}

	for l := g.entry.level(); l > targetLevel; l-- {
		for {
			improved := false
			for _, neighborID := range g.nodes[ep].neighborsAt(l) {
				c, ok := costTo(neighborID)
				if !ok {
					continue
				}
				if c < epCost {
					ep = neighborID
					epCost = c
					improved = true
				}
			}
			if !improved {
				break
			}
		}
	}

	return ep, true
}

func (n *node) neighborsAt(level int) []string {
	if level > n.level() {
		return nil
	}
	return n.neighbors[level]
}

// searchLayer runs a bounded beam search at one level and returns up to ef
// candidates sorted by ascending cost, ties broken by insertion order.
func (g *Graph) searchLayer(costTo CostFunc, entryID string, ef int, level int) []Candidate {
	epCost, ok := costTo(entryID)
	if !ok {
		return nil
	}

	visited := map[string]struct{}{entryID: {}}

	candidates := queue.NewMin[string](ef)
	results := queue.NewMax[string](ef)

	candidates.PushItem(queue.Item[string]{ID: entryID, Cost: epCost})
	results.PushItem(queue.Item[string]{ID: entryID, Cost: epCost})

	for candidates.Len() > 0 {
		current, _ := candidates.PopItem()

		if worst, ok := results.TopItem(); ok && results.Len() >= ef && current.Cost > worst.Cost {
			break
		}

		for _, neighborID := range g.nodes[current.ID].neighborsAt(level) {
			if _, seen := visited[neighborID]; seen {
				continue
			}
			visited[neighborID] = struct{}{}

			c, ok := costTo(neighborID)
			if !ok {
				continue
			}

			if worst, ok := results.TopItem(); !ok || results.Len() < ef || c < worst.Cost {
				candidates.PushItem(queue.Item[string]{ID: neighborID, Cost: c})
				results.PushItem(queue.Item[string]{ID: neighborID, Cost: c})
				if results.Len() > ef {
					results.PopItem()
				}
			}
		}
	}

	out := make([]Candidate, 0, results.Len())
	for results.Len() > 0 {
		item, _ := results.PopItem()
		out = append(out, Candidate{ID: item.ID, Cost: item.Cost})
	}

	// Max-heap pops worst first; reverse into ascending cost, then make
	// equal costs deterministic by insertion order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	g.sortCandidates(out)

	return out
}

// sortCandidates orders by ascending cost with insertion-order tie-breaks.
func (g *Graph) sortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Cost != cands[j].Cost {
			return cands[i].Cost < cands[j].Cost
		}
		ni, iOK := g.nodes[cands[i].ID]
		nj, jOK := g.nodes[cands[j].ID]
		if iOK && jOK {
			return ni.seq < nj.seq
		}
		return cands[i].ID < cands[j].ID
	})
}

// selectNeighbors applies the diversity heuristic: walk candidates in
// ascending cost order and keep one only if it is closer to the base than
// to every neighbor already kept.
func (g *Graph) selectNeighbors(candidates []Candidate, m int) []Candidate {
	if len(candidates) <= m {
		return candidates
	}

	selected := make([]Candidate, 0, m)

	for _, c := range candidates {
		if len(selected) >= m {
			break
		}

		diverse := true
		for _, s := range selected {
			d, ok := g.oracle.CostBetween(c.ID, s.ID)
			if ok && d < c.Cost {
				diverse = false
				break
			}
		}

		if diverse {
			selected = append(selected, c)
		}
	}

	// Backfill with the nearest skipped candidates if diversity left
	// capacity unused.
	if len(selected) < m {
		kept := make(map[string]struct{}, len(selected))
		for _, s := range selected {
			kept[s.ID] = struct{}{}
		}
		for _, c := range candidates {
			if len(selected) >= m {
				break
			}
			if _, ok := kept[c.ID]; !ok {
				selected = append(selected, c)
			}
		}
		g.sortCandidates(selected)
	}

	return selected
}

// link adds a reverse edge to, pruning n's list with the diversity
// heuristic when the degree cap is exceeded. Pruned edges are removed on
// both sides to keep the graph strictly bidirectional.
func (g *Graph) link(n *node, newID string, level int) {
	list := n.neighbors[level]
	for _, id := range list {
		if id == newID {
			return
		}
	}

	list = append(list, newID)
	limit := g.maxDegree(level)
	if len(list) <= limit {
		n.neighbors[level] = list
		return
	}

	cands := make([]Candidate, 0, len(list))
	for _, id := range list {
		c, ok := g.oracle.CostBetween(n.id, id)
		if !ok {
			continue
		}
		cands = append(cands, Candidate{ID: id, Cost: c})
	}
	g.sortCandidates(cands)

	selected := g.selectNeighbors(cands, limit)

	kept := make(map[string]struct{}, len(selected))
	prunedList := make([]string, 0, len(selected))
	for _, s := range selected {
		kept[s.ID] = struct{}{}
		prunedList = append(prunedList, s.ID)
	}
	n.neighbors[level] = prunedList

	for _, id := range list {
		if _, ok := kept[id]; !ok {
			if dropped, exists := g.nodes[id]; exists {
				g.removeEdgeAt(dropped, n.id, level)
			}
		}
	}
}

// Delete removes id and all edges touching it, synchronously. When the
// entry point is deleted the remaining node with the highest level (oldest
// on ties) is promoted.
func (g *Graph) Delete(id string) bool {
	n, ok := g.nodes[id]
	if !ok {
		return false
	}
	g.remove(n)
	return true
}

func (g *Graph) remove(n *node) {
	for l, list := range n.neighbors {
		for _, neighborID := range list {
			if neighbor, ok := g.nodes[neighborID]; ok {
				g.removeEdgeAt(neighbor, n.id, l)
			}
		}
	}

	delete(g.nodes, n.id)

	if g.entry == n {
		g.entry = g.promoteEntry()
	}
}

func (g *Graph) removeEdgeAt(n *node, target string, level int) {
	if level > n.level() {
		return
	}
	list := n.neighbors[level]
	for i, id := range list {
		if id == target {
			n.neighbors[level] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (g *Graph) promoteEntry() *node {
	var best *node
	for _, n := range g.nodes {
		if best == nil {
			best = n
			continue
		}
		if n.level() > best.level() || (n.level() == best.level() && n.seq < best.seq) {
			best = n
		}
	}
	return best
}

// Search performs the full descent and returns up to k candidates in
// ascending cost order. ef widens to max(ef, k); ef <= 0 uses the
// configured default.
func (g *Graph) Search(costTo CostFunc, k, ef int) []Candidate {
	if g.entry == nil || k <= 0 {
		return nil
	}

	if ef <= 0 {
		ef = g.opts.EfSearch
	}
	if ef < k {
		ef = k
	}

	ep := g.entry.id
	epCost, ok := costTo(ep)
	if !ok {
		return nil
	}

	for l := g.entry.level(); l > 0; l-- {
		for {
			improved := false
			for _, neighborID := range g.nodes[ep].neighborsAt(l) {
				c, ok := costTo(neighborID)
				if !ok {
					continue
				}
				if c < epCost {
					ep = neighborID
					epCost = c
					improved = true
				}
			}
			if !improved {
				break
			}
		}
	}

	found := g.searchLayer(costTo, ep, ef, 0)
	if len(found) > k {
		found = found[:k]
	}
	return found
}
