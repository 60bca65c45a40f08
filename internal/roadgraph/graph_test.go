package roadgraph_test

import (
	"testing"

	"github.com/fiblab-sim/v2v-interference/internal/roadgraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEdgeListOneWay(t *testing.T) {
	g, err := roadgraph.LoadEdgeList(
		[]roadgraph.RawVertex{
			{ID: 1, Lat: 48.5734, Lon: 7.7521},
			{ID: 2, Lat: 48.5735, Lon: 7.7521},
		},
		[]roadgraph.RawWay{
			{NodeIDs: []int64{1, 2}, HighwayTag: "primary", OneWay: true},
		},
	)
	require.NoError(t, err)

	out := g.OutEdges(1)
	require.Len(t, out, 1)
	assert.Equal(t, int64(2), out[0].Target)
	assert.True(t, out[0].OneWay)
	assert.Empty(t, g.OutEdges(2))
}

func TestLoadEdgeListTwoWay(t *testing.T) {
	g, err := roadgraph.LoadEdgeList(
		[]roadgraph.RawVertex{
			{ID: 1, Lat: 48.5734, Lon: 7.7521},
			{ID: 2, Lat: 48.5735, Lon: 7.7521},
		},
		[]roadgraph.RawWay{
			{NodeIDs: []int64{1, 2}, HighwayTag: "residential", OneWay: false},
		},
	)
	require.NoError(t, err)

	// residential is not in the allowed traversal set, but the
	// edges still exist in the graph.
	assert.Len(t, g.OutEdges(1), 1)
	assert.Len(t, g.OutEdges(2), 1)
	assert.False(t, g.HasValidOutgoingEdge(1))
}

func TestPositionsSkipsUnknownIDs(t *testing.T) {
	g, err := roadgraph.LoadEdgeList(
		[]roadgraph.RawVertex{
			{ID: 1, Lat: 48.5734, Lon: 7.7521},
			{ID: 2, Lat: 48.5735, Lon: 7.7521},
		},
		nil,
	)
	require.NoError(t, err)

	got := roadgraph.Positions(g, []int64{1, 2, 999})
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []int64{1, 2}, []int64{got[0].ID, got[1].ID})
}

func TestValidOutEdgesFiltersRoadClass(t *testing.T) {
	g, err := roadgraph.LoadEdgeList(
		[]roadgraph.RawVertex{
			{ID: 1, Lat: 0, Lon: 0},
			{ID: 2, Lat: 0, Lon: 1},
			{ID: 3, Lat: 1, Lon: 0},
		},
		[]roadgraph.RawWay{
			{NodeIDs: []int64{1, 2}, HighwayTag: "footway", OneWay: true},
			{NodeIDs: []int64{1, 3}, HighwayTag: "primary", OneWay: true},
		},
	)
	require.NoError(t, err)

	valid := g.ValidOutEdges(1)
	require.Len(t, valid, 1)
	assert.Equal(t, int64(3), valid[0].Target)
	assert.True(t, g.HasValidOutgoingEdge(1))
}

func TestGreatCircleDistanceApproxVsHaversine(t *testing.T) {
	// Small separation: approximation branch.
	dSmall := roadgraph.GreatCircleDistance(48.5734, 7.7521, 48.5735, 7.7521)
	assert.InDelta(t, 11.1, dSmall, 1.0)

	// Large separation: haversine branch, sanity-checked against a known
	// distance (Strasbourg to Paris, roughly 400 km).
	dLarge := roadgraph.GreatCircleDistance(48.5734, 7.7521, 48.8566, 2.3522)
	assert.InDelta(t, 400000.0, dLarge, 20000.0)
}
