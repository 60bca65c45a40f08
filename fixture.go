package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fiblab-sim/v2v-interference/internal/roadgraph"
)

// fixtureVertex and fixtureWay are the on-disk JSON shapes for a road-graph
// fixture; the OSM parser that would normally produce this is out of scope,
// so the CLI reads a pre-built graph straight off disk.
type fixtureVertex struct {
	ID  int64   `json:"id"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type fixtureWay struct {
	NodeIDs    []int64 `json:"node_ids"`
	HighwayTag string  `json:"highway"`
	OneWay     bool    `json:"one_way"`
}

type fixtureFile struct {
	Vertices []fixtureVertex `json:"vertices"`
	Ways     []fixtureWay    `json:"ways"`
}

// loadRoadGraph reads a fixture JSON file and builds a roadgraph.Graph from
// it.
func loadRoadGraph(path *Path) (*roadgraph.Graph, error) {
	if path == nil {
		return roadgraph.New(), nil
	}

	raw, err := os.ReadFile(path.Abs())
	if err != nil {
		return nil, fmt.Errorf("reading road graph fixture: %w", err)
	}

	var fixture fixtureFile
	if err := json.Unmarshal(raw, &fixture); err != nil {
		return nil, fmt.Errorf("parsing road graph fixture: %w", err)
	}

	vertices := make([]roadgraph.RawVertex, len(fixture.Vertices))
	for i, v := range fixture.Vertices {
		vertices[i] = roadgraph.RawVertex{ID: v.ID, Lat: v.Lat, Lon: v.Lon}
	}
	ways := make([]roadgraph.RawWay, len(fixture.Ways))
	for i, w := range fixture.Ways {
		ways[i] = roadgraph.RawWay{NodeIDs: w.NodeIDs, HighwayTag: w.HighwayTag, OneWay: w.OneWay}
	}

	return roadgraph.LoadEdgeList(vertices, ways)
}
