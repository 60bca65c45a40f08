package interference_test

import (
	"math"
	"testing"

	"github.com/fiblab-sim/v2v-interference/internal/interference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertSymmetric(t *testing.T, adjacency map[int32]map[int32]struct{}) {
	t.Helper()
	for a, neighbors := range adjacency {
		for b := range neighbors {
			_, back := adjacency[b][a]
			assert.True(t, back, "adjacency not symmetric: %d -> %d", a, b)
			assert.NotEqual(t, a, b, "self-loop at %d", a)
		}
	}
}

func TestBuildEmptySnapshotsNeverCrashes(t *testing.T) {
	g := interference.Build(nil, nil, true)
	assert.Empty(t, g.Adjacency)
	assert.Empty(t, g.TransitiveClosure)
}

func TestBuildOneVehicleHasNoAdjacency(t *testing.T) {
	g := interference.Build([]interference.Snapshot{
		{VehicleID: 1, Lat: 48.5, Lon: 7.7, TransmissionRangeM: 500},
	}, nil, true)
	assert.Empty(t, g.Adjacency)
	assert.Empty(t, g.TransitiveClosure)
}

// S1: 3 vehicles at (48.5734,7.7521), (48.5735,7.7521), (48.5740,7.7521),
// range 500m. All three pairs adjacent; closure equals adjacency.
func TestScenarioS1AllPairsInRange(t *testing.T) {
	snapshots := []interference.Snapshot{
		{VehicleID: 1, Lat: 48.5734, Lon: 7.7521, TransmissionRangeM: 500},
		{VehicleID: 2, Lat: 48.5735, Lon: 7.7521, TransmissionRangeM: 500},
		{VehicleID: 3, Lat: 48.5740, Lon: 7.7521, TransmissionRangeM: 500},
	}
	g := interference.Build(snapshots, nil, true)

	assertSymmetric(t, g.Adjacency)
	for _, id := range []int32{1, 2, 3} {
		assert.Len(t, g.Adjacency[id], 2)
	}
	assert.Equal(t, len(g.Adjacency), len(g.TransitiveClosure))
	for id, neighbors := range g.Adjacency {
		assert.ElementsMatch(t, keys(neighbors), keys(g.TransitiveClosure[id]))
	}
}

// S2: same positions, ranges 50m each -> only (v1,v2) adjacent (~11m apart).
func TestScenarioS2ShortRangeOnlyClosePair(t *testing.T) {
	snapshots := []interference.Snapshot{
		{VehicleID: 1, Lat: 48.5734, Lon: 7.7521, TransmissionRangeM: 50},
		{VehicleID: 2, Lat: 48.5735, Lon: 7.7521, TransmissionRangeM: 50},
		{VehicleID: 3, Lat: 48.5740, Lon: 7.7521, TransmissionRangeM: 50},
	}
	g := interference.Build(snapshots, nil, true)

	assert.Contains(t, g.Adjacency[1], int32(2))
	assert.NotContains(t, g.Adjacency[1], int32(3))
	assert.NotContains(t, g.Adjacency[2], int32(3))
	assert.Equal(t, g.Adjacency, g.TransitiveClosure)
}

// S3: ranges {50, 50, 200} — v3 can "hear" v1/v2 but the gate is symmetric,
// so only (v1, v2) is adjacent; v3 stays isolated.
func TestScenarioS3AsymmetricRangeGateExcludesV3(t *testing.T) {
	snapshots := []interference.Snapshot{
		{VehicleID: 1, Lat: 48.5734, Lon: 7.7521, TransmissionRangeM: 50},
		{VehicleID: 2, Lat: 48.5735, Lon: 7.7521, TransmissionRangeM: 50},
		{VehicleID: 3, Lat: 48.5740, Lon: 7.7521, TransmissionRangeM: 200},
	}
	g := interference.Build(snapshots, nil, false)

	assert.Contains(t, g.Adjacency[1], int32(2))
	assert.Empty(t, g.Adjacency[3])
}

// S4: chain of 5 vehicles 90m apart, range 100m -> 4 consecutive adjacency
// edges, closure is the complete graph on 5 nodes.
func TestScenarioS4ChainClosureIsComplete(t *testing.T) {
	snapshots := make([]interference.Snapshot, 5)
	for i := range snapshots {
		snapshots[i] = interference.Snapshot{
			VehicleID:          int32(i + 1),
			Lat:                48.5734 + float64(i)*90.0/111000.0,
			Lon:                7.7521,
			TransmissionRangeM: 100,
		}
	}
	g := interference.Build(snapshots, nil, true)

	for i := int32(1); i <= 4; i++ {
		assert.Contains(t, g.Adjacency[i], i+1)
	}
	assert.NotContains(t, g.Adjacency[1], int32(3))

	for i := int32(1); i <= 5; i++ {
		reachable := g.TransitiveClosure[i]
		assert.Len(t, reachable, 4, "vehicle %d should reach all 4 others", i)
	}
}

// AvgNearby counts candidates examined per vehicle (pre-range-filter), not
// accepted neighbors: with 3 vehicles all-pairs-compared, comparisons=3,
// so avg_nearby = 3*2/3 = 2, even though only the close pair ends up
// adjacent.
func TestAvgNearbyCountsComparisonsNotAcceptedEdges(t *testing.T) {
	snapshots := []interference.Snapshot{
		{VehicleID: 1, Lat: 0, Lon: 0, TransmissionRangeM: 50},
		{VehicleID: 2, Lat: 0.0001, Lon: 0, TransmissionRangeM: 50},
		{VehicleID: 3, Lat: 1.0, Lon: 1.0, TransmissionRangeM: 50},
	}
	g := interference.Build(snapshots, nil, false)

	require.Len(t, g.Adjacency[1], 1, "only the close pair should end up adjacent")
	assert.Equal(t, int64(3), g.Stats.Comparisons)
	assert.Equal(t, float64(3*2)/3.0, g.Stats.AvgNearby)
}

func TestBoundaryExactRangeIncludedEpsilonExcluded(t *testing.T) {
	base := interference.Snapshot{VehicleID: 1, Lat: 0, Lon: 0, TransmissionRangeM: 100}

	exact := interference.Snapshot{VehicleID: 2, Lat: 100.0 / 111000.0, Lon: 0, TransmissionRangeM: 100}
	g := interference.Build([]interference.Snapshot{base, exact}, nil, false)
	assert.Contains(t, g.Adjacency[1], int32(2))

	beyond := interference.Snapshot{VehicleID: 2, Lat: 100.5 / 111000.0, Lon: 0, TransmissionRangeM: 100}
	g2 := interference.Build([]interference.Snapshot{base, beyond}, nil, false)
	assert.NotContains(t, g2.Adjacency[1], int32(2))
}

func TestNeighborhoodPathMatchesAllPairsFallback(t *testing.T) {
	snapshots := []interference.Snapshot{
		{VehicleID: 1, Lat: 0, Lon: 0, TransmissionRangeM: 500, MicroCellID: 0},
		{VehicleID: 2, Lat: 0.001, Lon: 0, TransmissionRangeM: 500, MicroCellID: 0},
		{VehicleID: 3, Lat: 0.05, Lon: 0.05, TransmissionRangeM: 500, MicroCellID: 1},
	}
	neighborhood := &interference.Neighborhood{
		VehiclesPerCell: map[int][]int{0: {0, 1}, 1: {2}},
		CellNeighbors:   map[int]map[int]struct{}{0: {}, 1: {}},
	}

	withIndex := interference.Build(snapshots, neighborhood, false)
	withoutIndex := interference.Build(snapshots, nil, false)

	assertAdjacencySetsEqual(t, withIndex.Adjacency, withoutIndex.Adjacency)
}

func assertAdjacencySetsEqual(t *testing.T, a, b map[int32]map[int32]struct{}) {
	t.Helper()
	require.Equal(t, len(a), len(b))
	for id, neighbors := range a {
		assert.ElementsMatch(t, keys(neighbors), keys(b[id]))
	}
}

func keys(m map[int32]struct{}) []int32 {
	out := make([]int32, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestEquirectangularAsymmetryIsPreserved(t *testing.T) {
	// The distance function deliberately scales longitude by the *first*
	// vehicle's latitude, not the mean of the pair — this can make d(a,b) !=
	// d(b,a) for widely separated points. Confirm the asymmetry exists so a
	// future "fix" doesn't silently break compatibility.
	a := interference.Snapshot{VehicleID: 1, Lat: 0, Lon: 0}
	b := interference.Snapshot{VehicleID: 2, Lat: 45, Lon: 10}

	// Build in both orders, exercising the unexported inRange indirectly
	// through a range that straddles the two distance values.
	da := math.Hypot((b.Lon-a.Lon)*111000*math.Cos(a.Lat*math.Pi/180), (b.Lat-a.Lat)*111000)
	db := math.Hypot((a.Lon-b.Lon)*111000*math.Cos(b.Lat*math.Pi/180), (a.Lat-b.Lat)*111000)
	assert.NotEqual(t, da, db)

	// da ~ 5,116,847 m, db ~ 5,056,291 m: only the b-first order is in range.
	rangeM := (da + db) / 2
	a.TransmissionRangeM, b.TransmissionRangeM = rangeM, rangeM
	aFirst := interference.Build([]interference.Snapshot{a, b}, nil, false)
	bFirst := interference.Build([]interference.Snapshot{b, a}, nil, false)
	assert.Empty(t, aFirst.Adjacency)
	assert.Contains(t, bFirst.Adjacency[1], int32(2))
}
