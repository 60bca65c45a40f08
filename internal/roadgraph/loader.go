package roadgraph

import (
	"fmt"

	"github.com/samber/lo"
)

// RawVertex is the seam the external OSM-to-graph builder hands vertices
// through. It is intentionally minimal: id plus geographic position.
type RawVertex struct {
	ID  int64
	Lat float64
	Lon float64
}

// RawWay is a single OSM-style way: an ordered chain of node references plus
// the attributes that apply to every segment of the chain. Two-way ways are
// expanded into anti-parallel edge pairs; one-way ways are expanded once, in
// declared order — matching the source graph builder's convention.
type RawWay struct {
	NodeIDs    []int64
	HighwayTag string
	OneWay     bool
}

// LoadEdgeList builds a Graph from vertices and ways, precomputing each
// edge's length from the vertex positions with GreatCircleDistance. This is
// the pinned fixture format used by tests and the demo binary; a real OSM
// importer is expected to produce RawVertex/RawWay values and call this the
// same way.
func LoadEdgeList(vertices []RawVertex, ways []RawWay) (*Graph, error) {
	g := New()
	for _, v := range vertices {
		g.AddVertex(Vertex{ID: v.ID, Lat: v.Lat, Lon: v.Lon})
	}

	for _, way := range ways {
		for i := 1; i < len(way.NodeIDs); i++ {
			from, to := way.NodeIDs[i-1], way.NodeIDs[i]
			fv, ok := g.Vertex(from)
			if !ok {
				return nil, fmt.Errorf("roadgraph: way references unknown node %d", from)
			}
			tv, ok := g.Vertex(to)
			if !ok {
				return nil, fmt.Errorf("roadgraph: way references unknown node %d", to)
			}
			dist := GreatCircleDistance(fv.Lat, fv.Lon, tv.Lat, tv.Lon)

			if err := g.AddEdge(Edge{Source: from, Target: to, LengthM: dist, RoadClass: way.HighwayTag, OneWay: way.OneWay}); err != nil {
				return nil, err
			}
			if !way.OneWay {
				if err := g.AddEdge(Edge{Source: to, Target: from, LengthM: dist, RoadClass: way.HighwayTag, OneWay: false}); err != nil {
					return nil, err
				}
			}
		}
	}
	return g, nil
}

// Positions returns the lat/lon of every vertex ID present, skipping any
// unknown IDs. Used by driver.Driver.RoadGraphVertices to resolve vertex IDs
// to coordinates without exposing the graph's internal maps.
func Positions(g *Graph, ids []int64) []Vertex {
	return lo.FilterMap(ids, func(id int64, _ int) (Vertex, bool) {
		return g.Vertex(id)
	})
}
