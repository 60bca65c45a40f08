// Package roadgraph holds the directed, geographically-anchored road network
// that vehicles move over. It is built once by the caller (the OSM import
// step lives outside this module) and is read-only for the remainder of the
// process: the only mutable state is a reader-biased mutex guarding the
// (never-changing-after-build) adjacency, the same posture used elsewhere
// in the corpus for guarding edge weights under concurrent A* queries.
package roadgraph

import (
	"fmt"
	"math/rand"

	"github.com/puzpuzpuz/xsync/v3"
)

// Vertex is an immutable graph node with a geographic position.
type Vertex struct {
	ID  int64
	Lat float64
	Lon float64
}

// Edge is an immutable directed road segment.
type Edge struct {
	Source    int64
	Target    int64
	LengthM   float64
	RoadClass string
	OneWay    bool
}

// AllowedRoadClasses are the road classes vehicles may traverse. Any other
// class is present in the graph but never selected by edge selection.
var AllowedRoadClasses = map[string]bool{
	"motorway": true, "trunk": true, "primary": true, "secondary": true,
	"tertiary": true, "motorway_link": true, "trunk_link": true,
	"primary_link": true, "secondary_link": true, "tertiary_link": true,
	"unclassified": true, "road": true,
}

// IsValidRoadClass reports whether a road class may be traversed by a vehicle.
func IsValidRoadClass(class string) bool {
	return AllowedRoadClasses[class]
}

// Graph is a directed multigraph over Vertex/Edge. It is safe for concurrent
// read access from many goroutines (vehicle updates, the builder's snapshot
// pass) once loading (LoadEdgeList, or AddVertex/AddEdge) has finished;
// there is no supported mutation afterwards,
// but the mutex below is kept so a future incremental loader does not have
// to change every call site.
type Graph struct {
	vertices map[int64]Vertex
	out      map[int64][]Edge

	mu *xsync.RBMutex
}

// New returns an empty graph ready for AddVertex/AddEdge calls.
func New() *Graph {
	return &Graph{
		vertices: make(map[int64]Vertex),
		out:      make(map[int64][]Edge),
		mu:       xsync.NewRBMutex(),
	}
}

// AddVertex inserts a vertex. Re-adding the same ID overwrites its position.
func (g *Graph) AddVertex(v Vertex) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.vertices[v.ID] = v
	if _, ok := g.out[v.ID]; !ok {
		g.out[v.ID] = nil
	}
}

// AddEdge appends a directed edge. One-way roads should call this once;
// two-way roads should call it twice with source/target swapped, matching
// the OSM import convention the source builder uses.
func (g *Graph) AddEdge(e Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.vertices[e.Source]; !ok {
		return fmt.Errorf("roadgraph: unknown source vertex %d", e.Source)
	}
	if _, ok := g.vertices[e.Target]; !ok {
		return fmt.Errorf("roadgraph: unknown target vertex %d", e.Target)
	}
	g.out[e.Source] = append(g.out[e.Source], e)
	return nil
}

// Vertex returns the vertex for id and whether it exists.
func (g *Graph) Vertex(id int64) (Vertex, bool) {
	token := g.mu.RLock()
	defer g.mu.RUnlock(token)
	v, ok := g.vertices[id]
	return v, ok
}

// OutEdges returns the outgoing edges of v. The returned slice is shared and
// must not be mutated by the caller.
func (g *Graph) OutEdges(v int64) []Edge {
	token := g.mu.RLock()
	defer g.mu.RUnlock(token)
	return g.out[v]
}

// ValidOutEdges returns the outgoing edges of v whose road class is in the
// allowed traversal set.
func (g *Graph) ValidOutEdges(v int64) []Edge {
	all := g.OutEdges(v)
	valid := make([]Edge, 0, len(all))
	for _, e := range all {
		if IsValidRoadClass(e.RoadClass) {
			valid = append(valid, e)
		}
	}
	return valid
}

// HasValidOutgoingEdge reports whether v has at least one traversable
// outgoing edge.
func (g *Graph) HasValidOutgoingEdge(v int64) bool {
	for _, e := range g.OutEdges(v) {
		if IsValidRoadClass(e.RoadClass) {
			return true
		}
	}
	return false
}

// VertexCount returns the number of vertices in the graph.
func (g *Graph) VertexCount() int {
	token := g.mu.RLock()
	defer g.mu.RUnlock(token)
	return len(g.vertices)
}

// RandomValidVertex returns a uniformly random vertex that has at least one
// valid outgoing edge, using rnd for the draw. It returns false if no such
// vertex exists.
func (g *Graph) RandomValidVertex(rnd *rand.Rand) (int64, bool) {
	candidates := g.ValidVertexIDs()
	if len(candidates) == 0 {
		return 0, false
	}
	return candidates[rnd.Intn(len(candidates))], true
}

// ValidVertexIDs returns every vertex ID with at least one traversable
// outgoing edge. Order is unspecified.
func (g *Graph) ValidVertexIDs() []int64 {
	token := g.mu.RLock()
	defer g.mu.RUnlock(token)
	ids := make([]int64, 0, len(g.vertices))
	for id := range g.vertices {
		for _, e := range g.out[id] {
			if IsValidRoadClass(e.RoadClass) {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}

// AllVertexIDs returns every vertex ID in the graph, valid or not. Order is
// unspecified.
func (g *Graph) AllVertexIDs() []int64 {
	token := g.mu.RLock()
	defer g.mu.RUnlock(token)
	ids := make([]int64, 0, len(g.vertices))
	for id := range g.vertices {
		ids = append(ids, id)
	}
	return ids
}
