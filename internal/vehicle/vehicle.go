// Package vehicle implements the motion model: an agent that traverses one
// road-graph edge at a time, picking successors with anti-loop heuristics
// and maintaining a smoothed compass heading. It is grounded on the
// source's Vehicule class (original_source/src/vehicule.cpp), re-architected
// so neighbors are referenced by vehicle ID through the owning driver
// rather than by raw pointer.
package vehicle

import (
	"math"
	"math/rand"

	"github.com/fiblab-sim/v2v-interference/internal/roadgraph"
)

const (
	maxRecentVertices      = 8
	stuckThreshold         = 3
	headingSmoothingFactor = 0.15
	collisionSlowFactor    = 0.8
)

// Vehicle is an agent traversing the road graph. It holds its own motion
// state; the owning driver is responsible for assigning stable IDs and for
// feeding back neighbor information computed from last tick's interference
// graph.
type Vehicle struct {
	ID int32

	graph *roadgraph.Graph
	rnd   *rand.Rand

	start, goal             int64
	currentVertex           int64
	previousVertex          int64
	nextVertex              int64
	hasCurrentEdge          bool
	currentEdge             roadgraph.Edge
	edgeLengthM             float64
	positionOnEdgeM         float64
	recentVertices          []int64 // ring buffer, oldest first, capacity maxRecentVertices
	stuckCounter            int

	SpeedMps           float64
	TransmissionRangeM float64
	CollisionRadiusM   float64

	currentHeadingDeg float64
	targetHeadingDeg  float64

	nearbyDistancesM []float64 // distances to last tick's direct neighbors, for avoidCollision
}

// New creates a vehicle starting at start and routing toward goal.
func New(id int32, graph *roadgraph.Graph, start, goal int64, speedMps, rangeM, collisionRadiusM float64, rnd *rand.Rand) *Vehicle {
	return &Vehicle{
		ID:                 id,
		graph:              graph,
		rnd:                rnd,
		start:              start,
		goal:               goal,
		currentVertex:      start,
		previousVertex:     start,
		SpeedMps:           speedMps,
		TransmissionRangeM: rangeM,
		CollisionRadiusM:   collisionRadiusM,
	}
}

// CurrentVertex returns the vertex the vehicle most recently departed from
// or is currently at.
func (v *Vehicle) CurrentVertex() int64 { return v.currentVertex }

// HeadingDeg returns the current smoothed heading, 0°=north, clockwise.
func (v *Vehicle) HeadingDeg() float64 { return v.currentHeadingDeg }

// StuckCounter exposes the internal stuck counter, for tests.
func (v *Vehicle) StuckCounter() int { return v.stuckCounter }

// SetNearbyDistances records the distances to this vehicle's direct
// interference-graph neighbors, as of the last published graph. Collision
// avoidance always lags by one tick by design.
func (v *Vehicle) SetNearbyDistances(distances []float64) {
	v.nearbyDistancesM = distances
}

// destReached swaps start/goal and clears the current edge so the next
// Update call picks a fresh edge from the new start.
func (v *Vehicle) destReached() {
	v.start, v.goal = v.goal, v.start
	v.hasCurrentEdge = false
	v.edgeLengthM = 0
	v.positionOnEdgeM = 0
}

func isRecent(recent []int64, target int64) bool {
	for _, r := range recent {
		if r == target {
			return true
		}
	}
	return false
}

func (v *Vehicle) pushRecent(vertex int64) {
	v.recentVertices = append(v.recentVertices, vertex)
	if len(v.recentVertices) > maxRecentVertices {
		v.recentVertices = v.recentVertices[1:]
	}
}

// pickNextEdge selects the next edge to traverse from currentVertex,
// following a fresh > recent > backtrack priority.
func (v *Vehicle) pickNextEdge() {
	candidates := v.graph.ValidOutEdges(v.currentVertex)

	var fresh, recent []roadgraph.Edge
	var backtrack roadgraph.Edge
	hasBacktrack := false

	for _, e := range candidates {
		switch {
		case e.Target == v.previousVertex:
			backtrack = e
			hasBacktrack = true
		case isRecent(v.recentVertices, e.Target):
			recent = append(recent, e)
		default:
			fresh = append(fresh, e)
		}
	}

	var selected roadgraph.Edge
	switch {
	case len(fresh) > 0:
		selected = fresh[v.rnd.Intn(len(fresh))]
		v.stuckCounter = 0
	case len(recent) > 0:
		selected = recent[v.rnd.Intn(len(recent))]
		v.stuckCounter++
	case hasBacktrack:
		selected = backtrack
		v.stuckCounter++
	default:
		v.stuckCounter++
		if v.stuckCounter > stuckThreshold {
			if newGoal, ok := v.graph.RandomValidVertex(v.rnd); ok {
				v.goal = newGoal
				v.stuckCounter = 0
				v.recentVertices = nil
			}
		}
		v.start, v.goal = v.goal, v.start
		v.nextVertex = v.start
		v.hasCurrentEdge = false
		v.edgeLengthM = 0
		v.previousVertex = v.currentVertex
		v.recentVertices = nil
		return
	}

	v.pushRecent(v.currentVertex)

	v.currentEdge = selected
	v.hasCurrentEdge = true
	v.previousVertex = v.currentVertex
	v.nextVertex = selected.Target
	v.edgeLengthM = selected.LengthM
	v.positionOnEdgeM = 0
}

// Position returns the vehicle's current lat/lon, linearly interpolated
// along the current edge (or the vertex position if edgeLengthM is zero).
func (v *Vehicle) Position() (lat, lon float64) {
	if v.edgeLengthM <= 0 {
		vert, _ := v.graph.Vertex(v.currentVertex)
		return vert.Lat, vert.Lon
	}
	s, _ := v.graph.Vertex(v.currentEdge.Source)
	t, _ := v.graph.Vertex(v.currentEdge.Target)

	tparam := v.positionOnEdgeM / v.edgeLengthM
	if tparam < 0 {
		tparam = 0
	} else if tparam > 1 {
		tparam = 1
	}
	return s.Lat + tparam*(t.Lat-s.Lat), s.Lon + tparam*(t.Lon-s.Lon)
}

// Update advances the vehicle by at most SpeedMps*deltaSeconds meters along
// the road graph, picking successor edges as needed, and refreshes heading.
// It never blocks and is safe to call concurrently with reads of other
// vehicles (it only touches its own state and the read-only road graph).
func (v *Vehicle) Update(deltaSeconds float64) {
	if v.currentVertex == v.goal {
		v.destReached()
		return
	}

	if v.edgeLengthM <= 0 {
		v.pickNextEdge()
	}

	prevLat, prevLon := v.Position()

	speed := v.SpeedMps
	if v.isCollisionSlowed() {
		speed *= collisionSlowFactor
	}
	v.positionOnEdgeM += speed * deltaSeconds

	curLat, curLon := v.Position()
	v.updateHeading(prevLat, prevLon, curLat, curLon)

	for v.edgeLengthM > 0 && v.positionOnEdgeM >= v.edgeLengthM {
		overshoot := v.positionOnEdgeM - v.edgeLengthM
		v.previousVertex = v.currentVertex
		v.currentVertex = v.nextVertex

		if v.currentVertex == v.goal {
			v.destReached()
			return
		}

		v.pickNextEdge()
		v.positionOnEdgeM = overshoot
	}
}

func (v *Vehicle) isCollisionSlowed() bool {
	for _, d := range v.nearbyDistancesM {
		if d <= v.CollisionRadiusM {
			return true
		}
	}
	return false
}

func (v *Vehicle) updateHeading(prevLat, prevLon, curLat, curLon float64) {
	dLat := curLat - prevLat
	dLon := curLon - prevLon
	if math.Abs(dLat) <= 1e-10 && math.Abs(dLon) <= 1e-10 {
		return
	}

	target := math.Atan2(dLon, dLat) * 180.0 / math.Pi
	if target < 0 {
		target += 360.0
	}
	v.targetHeadingDeg = target

	diff := target - v.currentHeadingDeg
	if diff > 180.0 {
		diff -= 360.0
	} else if diff < -180.0 {
		diff += 360.0
	}
	v.currentHeadingDeg += diff * headingSmoothingFactor

	if v.currentHeadingDeg < 0 {
		v.currentHeadingDeg += 360.0
	} else if v.currentHeadingDeg >= 360.0 {
		v.currentHeadingDeg -= 360.0
	}
}
