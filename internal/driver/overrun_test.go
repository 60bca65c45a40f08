package driver

import (
	"testing"
	"time"

	"github.com/fiblab-sim/v2v-interference/internal/metrics"
	"github.com/fiblab-sim/v2v-interference/internal/roadgraph"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// TestTickSkipsDispatchWhenBuildInFlight is a white-box test (package
// driver, not driver_test) because it forces buildInFlight directly rather
// than racing a real background build to simulate an overrun.
func TestTickSkipsDispatchWhenBuildInFlight(t *testing.T) {
	g, err := roadgraph.LoadEdgeList(
		[]roadgraph.RawVertex{{ID: 1, Lat: 0, Lon: 0}, {ID: 2, Lat: 0.001, Lon: 0}},
		[]roadgraph.RawWay{{NodeIDs: []int64{1, 2, 1}, HighwayTag: "primary"}},
	)
	require.NoError(t, err)

	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	d := New(Config{RoadGraph: g, Seed: 1, Metrics: collector})
	d.SetVehicleCount(3)
	d.mu.Lock()
	d.rebuildIndexLocked()
	d.mu.Unlock()

	d.buildInFlight.Store(true)
	before := testutil.ToFloat64(collector.BuildsSkipped)

	d.tick(50 * time.Millisecond)

	after := testutil.ToFloat64(collector.BuildsSkipped)
	require.Equal(t, before+1, after, "an in-flight build at tick boundary must increment BuildsSkipped")
	require.True(t, d.buildInFlight.Load(), "tick must not clear buildInFlight itself when skipping")
}
