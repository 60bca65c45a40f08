// Package driver owns the fixed-interval tick loop that advances vehicles,
// dispatches background interference-graph builds, and publishes results to
// observers. The pause/resume lifecycle is grounded on RoutingServer
// (server.go), whose sync.Cond-guarded Suspend/Resume pattern is adapted
// here from gating inbound RPCs to gating the tick loop itself. The
// tick/build/publish structure is grounded on the source Simulator
// (original_source/src/simulator.cpp).
package driver

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fiblab-sim/v2v-interference/internal/interference"
	"github.com/fiblab-sim/v2v-interference/internal/metrics"
	"github.com/fiblab-sim/v2v-interference/internal/roadgraph"
	"github.com/fiblab-sim/v2v-interference/internal/spatialindex"
	"github.com/fiblab-sim/v2v-interference/internal/vehicle"
	"github.com/sirupsen/logrus"
)

// Defaults per the parameter surface table.
const (
	DefaultSpeedMps           = 14.0
	DefaultTransmissionRangeM = 500.0
	DefaultCollisionRadiusM   = 5.0
	DefaultTickInterval       = 50 * time.Millisecond
	DefaultMacroCount         = 5
	DefaultMicroPerMacro      = 20
)

// macroThresholds and microThresholds implement the InvalidParameter default
// substitution: reconfigure_cells with M=0 or P=0 picks a
// vehicle-count-scaled default instead of silently failing.
var macroThresholds = []struct {
	maxVehicles int
	macroCount  int
}{
	{maxVehicles: 500, macroCount: 10},
	{maxVehicles: 2000, macroCount: 20},
}

var microThresholds = []struct {
	maxVehicles int
	microCount  int
}{
	{maxVehicles: 500, microCount: 10},
	{maxVehicles: 2000, microCount: 15},
}

func defaultMacroCount(vehicleCount int) int {
	for _, t := range macroThresholds {
		if vehicleCount <= t.maxVehicles {
			return t.macroCount
		}
	}
	return 30
}

func defaultMicroCount(vehicleCount int) int {
	for _, t := range microThresholds {
		if vehicleCount <= t.maxVehicles {
			return t.microCount
		}
	}
	return 20
}

// VehicleView is the read-only projection the renderer sees.
type VehicleView struct {
	ID         int32
	Lat, Lon   float64
	HeadingDeg float64
}

// TickNotification is emitted to observers after every tick.
type TickNotification struct {
	DeltaSeconds float64
}

// Driver coordinates vehicle motion and interference-graph builds on a
// single owning goroutine, matching the source's single-thread-owner model.
// Parameter-change methods may be called from any goroutine; they
// serialize against the tick loop through mu.
type Driver struct {
	log *logrus.Entry

	roadGraph *roadgraph.Graph
	index     *spatialindex.Index
	rnd       *rand.Rand

	mu            sync.Mutex
	vehicles      []*vehicle.Vehicle
	nextVehicleID int32
	indexBuilt    bool

	speedMps           float64
	transmissionRangeM float64
	collisionRadiusM   float64
	speedMultiplier    float64
	macroCount         int
	microPerMacro      int

	tickInterval      time.Duration
	computeTransitive atomic.Bool
	buildInFlight     atomic.Bool

	liveGraph atomic.Pointer[interference.Graph]

	pauseMu sync.Mutex
	paused  bool
	pauseC  *sync.Cond

	stopCh   chan struct{}
	stopped  atomic.Bool
	doneCh   chan struct{}
	observer func(TickNotification)

	metrics *metrics.Collector
}

// Config bundles the inputs needed to construct a Driver.
type Config struct {
	RoadGraph    *roadgraph.Graph
	Seed         int64
	TickInterval time.Duration
	Metrics      *metrics.Collector
	Observer     func(TickNotification)
}

// New constructs a Driver with default parameters. Start performs
// first-time spatial-index initialization.
func New(cfg Config) *Driver {
	rnd := rand.New(rand.NewSource(cfg.Seed))
	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	d := &Driver{
		log:                 logrus.WithField("module", "driver"),
		roadGraph:           cfg.RoadGraph,
		index:               spatialindex.New(rnd),
		rnd:                 rnd,
		speedMps:            DefaultSpeedMps,
		transmissionRangeM:  DefaultTransmissionRangeM,
		collisionRadiusM:    DefaultCollisionRadiusM,
		speedMultiplier:     1.0,
		macroCount:          DefaultMacroCount,
		microPerMacro:       DefaultMicroPerMacro,
		tickInterval:        tickInterval,
		observer:            cfg.Observer,
		metrics:             cfg.Metrics,
	}
	d.pauseC = sync.NewCond(&d.pauseMu)
	d.liveGraph.Store(&interference.Graph{
		Adjacency:         map[int32]map[int32]struct{}{},
		TransitiveClosure: map[int32]map[int32]struct{}{},
	})
	return d
}

// Start begins the tick timer on a background goroutine, performing
// first-time spatial-index initialization if it hasn't run yet. Calling
// Start twice is a no-op.
func (d *Driver) Start() {
	if d.stopCh != nil {
		return
	}
	d.mu.Lock()
	if !d.indexBuilt {
		d.rebuildIndexLocked()
	}
	d.mu.Unlock()

	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	go d.run()
}

// Pause stops the timer from advancing ticks but preserves all state.
func (d *Driver) Pause() {
	d.pauseMu.Lock()
	defer d.pauseMu.Unlock()
	d.paused = true
}

// Resume restarts ticking after Pause.
func (d *Driver) Resume() {
	d.pauseMu.Lock()
	defer d.pauseMu.Unlock()
	d.paused = false
	d.pauseC.Broadcast()
}

// TogglePause flips the paused state, broadcasting pauseC on the transition
// back to running so a blocked run loop wakes up immediately.
func (d *Driver) TogglePause() {
	d.pauseMu.Lock()
	defer d.pauseMu.Unlock()
	d.paused = !d.paused
	if !d.paused {
		d.pauseC.Broadcast()
	}
}

// Stop halts the timer and awaits the in-flight build before returning.
func (d *Driver) Stop() {
	if d.stopCh == nil || d.stopped.Swap(true) {
		return
	}
	close(d.stopCh)
	d.pauseMu.Lock()
	d.pauseC.Broadcast() // wake a run loop parked by Pause so it can exit
	d.pauseMu.Unlock()
	<-d.doneCh
	d.awaitBuildIdle()
}

func (d *Driver) run() {
	defer close(d.doneCh)
	ticker := time.NewTicker(d.tickInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-d.stopCh:
			return
		case now := <-ticker.C:
			d.pauseMu.Lock()
			for d.paused && !d.stopped.Load() {
				d.pauseC.Wait()
			}
			d.pauseMu.Unlock()
			if d.stopped.Load() {
				return
			}

			actual := now.Sub(last)
			last = now
			d.tick(actual)
		}
	}
}

// tick runs one iteration of the loop: bound catch-up delta, advance
// vehicles, dispatch a build if none is in flight, notify observers.
func (d *Driver) tick(actual time.Duration) {
	tickStart := time.Now()

	bounded := actual
	if bounded > 2*d.tickInterval {
		bounded = 2 * d.tickInterval
	}
	deltaSeconds := bounded.Seconds()

	d.mu.Lock()
	speedMultiplier := d.speedMultiplier
	effectiveDelta := deltaSeconds * speedMultiplier
	for _, v := range d.vehicles {
		v.Update(effectiveDelta)
	}

	overrun := false
	if len(d.vehicles) > 0 {
		if d.buildInFlight.Load() {
			overrun = true
		} else {
			snapshots, neighborhood := d.assembleSnapshotLocked()
			computeTransitive := d.computeTransitive.Load()
			d.buildInFlight.Store(true)
			go d.runBuild(snapshots, neighborhood, computeTransitive)
		}
	}
	d.mu.Unlock()

	if overrun {
		d.log.Debug("build still in flight at tick boundary, skipping dispatch; renderer sees a stale graph for one more tick")
		if d.metrics != nil {
			d.metrics.BuildsSkipped.Inc()
		}
	}
	if d.metrics != nil {
		d.metrics.VehicleCount.Set(float64(len(d.vehicles)))
		d.metrics.TickDuration.Observe(time.Since(tickStart).Seconds())
	}

	if d.observer != nil {
		d.observer(TickNotification{DeltaSeconds: effectiveDelta})
	}
}

// assembleSnapshotLocked must be called with mu held. It reassigns every
// vehicle to the spatial index for this tick and builds the snapshot +
// neighborhood pair handed to the background build.
func (d *Driver) assembleSnapshotLocked() ([]interference.Snapshot, *interference.Neighborhood) {
	snapshots := make([]interference.Snapshot, len(d.vehicles))
	verticesPerCell := make(map[int][]int)

	for i, v := range d.vehicles {
		lat, lon := v.Position()
		microID := -1
		if d.indexBuilt {
			if id, ok := d.index.Assign(spatialindex.Position{VehicleID: v.ID, Lat: lat, Lon: lon}); ok {
				microID = id
			}
		}
		snapshots[i] = interference.Snapshot{
			VehicleID:          v.ID,
			Lat:                lat,
			Lon:                lon,
			TransmissionRangeM: v.TransmissionRangeM,
			MicroCellID:        microID,
		}
		if microID >= 0 {
			verticesPerCell[microID] = append(verticesPerCell[microID], i)
		}
	}

	if !d.indexBuilt {
		return snapshots, nil
	}
	return snapshots, &interference.Neighborhood{
		VehiclesPerCell: verticesPerCell,
		CellNeighbors:   d.index.CellNeighbors(),
	}
}

func (d *Driver) runBuild(snapshots []interference.Snapshot, neighborhood *interference.Neighborhood, computeTransitive bool) {
	result := interference.Build(snapshots, neighborhood, computeTransitive)
	d.liveGraph.Store(result)
	d.buildInFlight.Store(false)

	d.feedCollisionAvoidance(result)

	if d.metrics != nil {
		d.metrics.BuildDuration.Observe(result.Stats.BuildTimeMs / 1000.0)
		d.metrics.BuildComparisons.Set(float64(result.Stats.Comparisons))
		d.metrics.BuildAvgNearby.Set(result.Stats.AvgNearby)
		d.metrics.BuildsCompleted.Inc()
	}
}

// feedCollisionAvoidance publishes each vehicle's direct-adjacency neighbor
// distances from the graph just built, so next tick's collision avoidance
// sees last tick's interference graph — intentionally one tick stale, per
// the supplemented collision-avoidance wiring.
func (d *Driver) feedCollisionAvoidance(g *interference.Graph) {
	d.mu.Lock()
	defer d.mu.Unlock()

	positions := make(map[int32][2]float64, len(d.vehicles))
	for _, v := range d.vehicles {
		lat, lon := v.Position()
		positions[v.ID] = [2]float64{lat, lon}
	}

	for _, v := range d.vehicles {
		neighbors := g.Adjacency[v.ID]
		if len(neighbors) == 0 {
			v.SetNearbyDistances(nil)
			continue
		}
		self := positions[v.ID]
		distances := make([]float64, 0, len(neighbors))
		for nid := range neighbors {
			other := positions[nid]
			distances = append(distances, roadgraph.GreatCircleDistance(self[0], self[1], other[0], other[1]))
		}
		v.SetNearbyDistances(distances)
	}
}

// Tick runs one iteration of the loop synchronously, as if actual time had
// elapsed since the previous tick. Exposed for benchmarking and tests that
// want deterministic control over tick pacing without running the
// background ticker goroutine.
func (d *Driver) Tick(actual time.Duration) {
	d.tick(actual)
}

// AwaitIdle blocks until no build is in flight.
func (d *Driver) AwaitIdle() {
	d.awaitBuildIdle()
}

func (d *Driver) awaitBuildIdle() {
	for d.buildInFlight.Load() {
		time.Sleep(time.Millisecond)
	}
}

// InterferenceGraph returns the latest published graph. Safe for concurrent
// readers on other goroutines.
func (d *Driver) InterferenceGraph() *interference.Graph {
	return d.liveGraph.Load()
}

// RoadGraphVertices returns the positions of the given road-graph vertex
// IDs, skipping unknown ones. The renderer uses this to draw the underlying
// road network beneath the moving vehicles, a read alongside Vehicles and
// InterferenceGraph.
func (d *Driver) RoadGraphVertices(ids []int64) []roadgraph.Vertex {
	return roadgraph.Positions(d.roadGraph, ids)
}

// Vehicles returns a read-only snapshot of every vehicle's id/position/heading.
func (d *Driver) Vehicles() []VehicleView {
	d.mu.Lock()
	defer d.mu.Unlock()
	views := make([]VehicleView, len(d.vehicles))
	for i, v := range d.vehicles {
		lat, lon := v.Position()
		views[i] = VehicleView{ID: v.ID, Lat: lat, Lon: lon, HeadingDeg: v.HeadingDeg()}
	}
	return views
}

// SetVehicleCount grows or shrinks the vehicle population at the tail.
// Added vehicles receive fresh random start/goal vertices; len(Vehicles())
// must equal n immediately after this returns.
func (d *Driver) SetVehicleCount(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n < 0 {
		n = 0
	}
	current := len(d.vehicles)
	switch {
	case n > current:
		for i := current; i < n; i++ {
			start, ok := d.roadGraph.RandomValidVertex(d.rnd)
			if !ok {
				d.log.Warn("no valid outgoing edge exists anywhere in road graph; vehicle left inert")
				start = 0
			}
			goal, ok := d.roadGraph.RandomValidVertex(d.rnd)
			if !ok {
				goal = start
			}
			id := d.nextVehicleID
			d.nextVehicleID++
			d.vehicles = append(d.vehicles, vehicle.New(id, d.roadGraph, start, goal, d.speedMps, d.transmissionRangeM, d.collisionRadiusM, d.rnd))
		}
	case n < current:
		for _, v := range d.vehicles[n:] {
			d.index.Remove(v.ID)
		}
		d.vehicles = d.vehicles[:n]
	}
}

// SetTransmissionRange updates every vehicle's range and refreshes the
// spatial index's neighbor sets. The neighbor-set refresh is skipped if the
// index hasn't been built yet; the new range is still stored and used by the
// next index build.
func (d *Driver) SetTransmissionRange(r float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transmissionRangeM = r
	for _, v := range d.vehicles {
		v.TransmissionRangeM = r
	}
	if d.indexBuilt {
		d.index.SetMaxTransmissionRange(r)
	}
}

// SetSpeed updates every vehicle's cruising speed.
func (d *Driver) SetSpeed(s float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speedMps = s
	for _, v := range d.vehicles {
		v.SpeedMps = s
	}
}

// SetSpeedMultiplier scales the delta applied to every vehicle each tick.
func (d *Driver) SetSpeedMultiplier(m float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speedMultiplier = m
}

// EnableTransitiveClosure toggles whether builds compute the transitive
// closure.
func (d *Driver) EnableTransitiveClosure(enable bool) {
	d.computeTransitive.Store(enable)
}

// ReconfigureCells discards the current cell layout and rebuilds it with
// macroCount macro-cells and microPerMacro micros each. M=0 or P=0
// substitutes a vehicle-count-scaled default.
// Deferred until any in-flight build completes, then applied before the
// next tick.
func (d *Driver) ReconfigureCells(macroCount, microPerMacro int) {
	d.awaitBuildIdle()

	d.mu.Lock()
	defer d.mu.Unlock()
	if macroCount <= 0 {
		macroCount = defaultMacroCount(len(d.vehicles))
	}
	if microPerMacro <= 0 {
		microPerMacro = defaultMicroCount(len(d.vehicles))
	}
	d.macroCount = macroCount
	d.microPerMacro = microPerMacro
	d.rebuildIndexLocked()
}

func (d *Driver) rebuildIndexLocked() {
	positions := make([]spatialindex.Position, len(d.vehicles))
	for i, v := range d.vehicles {
		lat, lon := v.Position()
		positions[i] = spatialindex.Position{VehicleID: v.ID, Lat: lat, Lon: lon}
	}
	d.index.Build(positions, d.macroCount, d.microPerMacro, d.transmissionRangeM)
	d.indexBuilt = true
}
