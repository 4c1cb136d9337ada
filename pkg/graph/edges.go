package graph

import (
	"cmp"
	"slices"
)

type Edge struct {
	From int32 // Source site
	To   int32 // Destination site
}

// Contiguous run of edges (in Transitions order) sharing the same destination
type Segment struct {
	Destination int32
	Start       int // First edge (inclusive)
	End         int // Last edge (exclusive)
}

// Transitions is the destination-grouped view of the edge list used by the
// rank engine: Sources[i] and Weights[i] describe the i-th edge after sorting
// by destination, and every Segment is independently reducible
type Transitions struct {
	Nodes    int       // Number of sites
	Sources  []int32   // Source site of every edge
	Weights  []float64 // 1 / out-degree of the source
	Segments []Segment // One per site with at least one incoming edge
}

// EdgeStore holds the raw edge list; multi-edges are kept
type EdgeStore struct {
	registry *Registry
	edges    []Edge
}

func NewEdgeStore(registry *Registry) *EdgeStore {
	return &EdgeStore{registry: registry}
}

func (s *EdgeStore) Registry() *Registry {
	return s.registry
}

func (s *EdgeStore) AddEdge(from, to int32) {
	s.edges = append(s.edges, Edge{From: from, To: to})
	s.registry.incrementOutDegree(from)
}

// Link resolves both labels and adds the edge between them
func (s *EdgeStore) Link(from, to string) {
	s.AddEdge(s.registry.Resolve(from), s.registry.Resolve(to))
}

func (s *EdgeStore) Edges() []Edge {
	return s.edges
}

func (s *EdgeStore) Len() int {
	return len(s.edges)
}

// Fraction of the source rank flowing across e.
// Every stored edge has a source with out-degree >= 1
func (s *EdgeStore) Weight(e Edge) float64 {
	return 1.0 / float64(s.registry.OutDegree(e.From))
}

func (s *EdgeStore) Transitions() *Transitions {
	sorted := slices.Clone(s.edges)
	// Stable: same-destination edges keep insertion order, so sums are reproducible
	slices.SortStableFunc(sorted, func(a, b Edge) int {
		return cmp.Compare(a.To, b.To)
	})

	t := &Transitions{
		Nodes:   s.registry.Len(),
		Sources: make([]int32, len(sorted)),
		Weights: make([]float64, len(sorted)),
	}
	for i, e := range sorted {
		t.Sources[i] = e.From
		t.Weights[i] = s.Weight(e)
		if i == 0 || sorted[i-1].To != e.To {
			t.Segments = append(t.Segments, Segment{Destination: e.To, Start: i})
		}
		t.Segments[len(t.Segments)-1].End = i + 1
	}
	return t
}

// Sites receiving at least one incoming edge, in ascending order
func (t *Transitions) Destinations() []int32 {
	destinations := make([]int32, len(t.Segments))
	for i, segment := range t.Segments {
		destinations[i] = segment.Destination
	}
	return destinations
}
