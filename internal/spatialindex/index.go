// Package spatialindex implements the two-level macro/micro clustering used
// to prune the interference builder's distance comparisons from O(n²) to
// O(n·k). It is grounded on the source's SpatialGrid
// (original_source/include/spatial_grid.h), generalized from a fixed regular
// grid to a k-means macro layer per the target design.
package spatialindex

import (
	"container/heap"
	"math"
	"math/rand"

	"github.com/fiblab-sim/v2v-interference/internal/roadgraph"
	"github.com/samber/lo"
)

const kmeansMaxIterations = 30

// Position is the minimal input a vehicle contributes to the index: an
// identity and a geographic location.
type Position struct {
	VehicleID int32
	Lat, Lon  float64
}

// MicroCell is the finer of the two clustering levels.
type MicroCell struct {
	ID            int
	ParentMacroID int
	CenterLat     float64
	CenterLon     float64
	RadiusM       float64
	NeighborIDs   map[int]struct{}
}

// MacroCell is the coarser, k-means-derived clustering level.
type MacroCell struct {
	ID        int
	CenterLat float64
	CenterLon float64
	RadiusM   float64
	MicroIDs  []int
}

// Index is the two-level spatial index. Cell layout is fixed between calls
// to Reconfigure; only the vehicle-to-micro assignment changes each tick.
type Index struct {
	macros map[int]*MacroCell
	micros map[int]*MicroCell

	vehicleToMicro map[int32]int
	microToVehicle map[int][]int32

	maxTransmissionRangeM float64

	nextMacroID int
	nextMicroID int

	rnd *rand.Rand
}

// New returns an empty index. Build must be called before Assign/Nearby are
// meaningful.
func New(rnd *rand.Rand) *Index {
	return &Index{
		macros:         make(map[int]*MacroCell),
		micros:         make(map[int]*MicroCell),
		vehicleToMicro: make(map[int32]int),
		microToVehicle: make(map[int][]int32),
		rnd:            rnd,
	}
}

// Macros returns the current macro-cell layout. The returned map must not be
// mutated by the caller.
func (idx *Index) Macros() map[int]*MacroCell { return idx.macros }

// Micros returns the current micro-cell layout. The returned map must not be
// mutated by the caller.
func (idx *Index) Micros() map[int]*MicroCell { return idx.micros }

// VehicleMicro returns the micro-cell a vehicle is currently assigned to.
func (idx *Index) VehicleMicro(vehicleID int32) (int, bool) {
	id, ok := idx.vehicleToMicro[vehicleID]
	return id, ok
}

// Build discards any existing layout and constructs macroCount macro cells
// via one-shot k-means over positions, then microPerMacro micro cells inside
// each macro, then computes neighbor sets and assigns every vehicle. If
// positions is empty the index ends up with no cells; later Assign/Nearby
// calls are no-ops until the next Build.
func (idx *Index) Build(positions []Position, macroCount, microPerMacro int, maxTransmissionRangeM float64) {
	idx.macros = make(map[int]*MacroCell)
	idx.micros = make(map[int]*MicroCell)
	idx.vehicleToMicro = make(map[int32]int)
	idx.microToVehicle = make(map[int][]int32)
	idx.maxTransmissionRangeM = maxTransmissionRangeM
	idx.nextMacroID = 0
	idx.nextMicroID = 0

	if len(positions) == 0 || macroCount <= 0 {
		return
	}

	idx.buildMacros(positions, macroCount)
	for _, macro := range idx.macros {
		idx.buildMicros(macro, microPerMacro)
	}
	idx.updateNeighborhoods()
	idx.assignAll(positions)
}

// Reconfigure reruns Build with new macro/micro counts against the given
// live positions. It must not be called while a build is in flight; the
// driver enforces that ordering.
func (idx *Index) Reconfigure(positions []Position, macroCount, microPerMacro int) {
	idx.Build(positions, macroCount, microPerMacro, idx.maxTransmissionRangeM)
}

// SetMaxTransmissionRange updates the neighbor-search radius and recomputes
// every micro-cell's neighbor set. It is a silent no-op if the index has not
// been built yet.
func (idx *Index) SetMaxTransmissionRange(rangeM float64) {
	if len(idx.micros) == 0 {
		return
	}
	idx.maxTransmissionRangeM = rangeM
	idx.updateNeighborhoods()
}

type kmeansPoint struct {
	pos       Position
	clusterID int
}

func (idx *Index) buildMacros(positions []Position, macroCount int) {
	if macroCount > len(positions) {
		macroCount = len(positions)
	}

	points := lo.Map(positions, func(p Position, _ int) *kmeansPoint {
		return &kmeansPoint{pos: p}
	})

	perm := idx.rnd.Perm(len(points))
	centers := make([]struct{ lat, lon float64 }, macroCount)
	for c := 0; c < macroCount; c++ {
		centers[c].lat = points[perm[c]].pos.Lat
		centers[c].lon = points[perm[c]].pos.Lon
	}

	for iter := 0; iter < kmeansMaxIterations; iter++ {
		changed := false
		for _, p := range points {
			best, bestDist := 0, math.Inf(1)
			for c, center := range centers {
				d := roadgraph.GreatCircleDistance(p.pos.Lat, p.pos.Lon, center.lat, center.lon)
				if d < bestDist {
					bestDist = d
					best = c
				}
			}
			if p.clusterID != best {
				p.clusterID = best
				changed = true
			}
		}

		sumLat := make([]float64, macroCount)
		sumLon := make([]float64, macroCount)
		count := make([]int, macroCount)
		for _, p := range points {
			sumLat[p.clusterID] += p.pos.Lat
			sumLon[p.clusterID] += p.pos.Lon
			count[p.clusterID]++
		}

		for c := 0; c < macroCount; c++ {
			if count[c] == 0 {
				idx.reseedEmptyCluster(points, centers, c)
				continue
			}
			centers[c].lat = sumLat[c] / float64(count[c])
			centers[c].lon = sumLon[c] / float64(count[c])
		}

		if !changed {
			break
		}
	}

	for c := 0; c < macroCount; c++ {
		radius := 0.0
		for _, p := range points {
			if p.clusterID != c {
				continue
			}
			d := roadgraph.GreatCircleDistance(p.pos.Lat, p.pos.Lon, centers[c].lat, centers[c].lon)
			if d > radius {
				radius = d
			}
		}
		id := idx.nextMacroID
		idx.nextMacroID++
		idx.macros[id] = &MacroCell{
			ID:        id,
			CenterLat: centers[c].lat,
			CenterLon: centers[c].lon,
			RadiusM:   radius,
		}
	}

	// The points' final clusterIDs are not used past this point: buildMicros
	// works from each macro's center and radius alone.
	_ = points
}

// reseedEmptyCluster moves an empty cluster's center to the farthest
// outlier — the point currently farthest from its own assigned center. Each
// call computes every point's distance, heapifies them into a max-heap and
// pops the top, so every re-seed is a full linear pass over the points.
func (idx *Index) reseedEmptyCluster(points []*kmeansPoint, centers []struct{ lat, lon float64 }, clusterID int) {
	pq := make(outlierQueue, 0, len(points))
	for _, p := range points {
		d := roadgraph.GreatCircleDistance(p.pos.Lat, p.pos.Lon, centers[p.clusterID].lat, centers[p.clusterID].lon)
		pq = append(pq, &outlierItem{point: p, distance: d})
	}
	heap.Init(&pq)
	if pq.Len() == 0 {
		return
	}
	farthest := heap.Pop(&pq).(*outlierItem)
	centers[clusterID].lat = farthest.point.pos.Lat
	centers[clusterID].lon = farthest.point.pos.Lon
	farthest.point.clusterID = clusterID
}

func (idx *Index) buildMicros(macro *MacroCell, microPerMacro int) {
	if microPerMacro <= 0 {
		return
	}
	side := int(math.Ceil(math.Sqrt(float64(microPerMacro))))

	// Bounding rectangle sized to the macro radius, converted from meters to
	// degrees using the same 111,000 m/degree convention as the builder.
	const metersPerDegree = 111000.0
	spanDeg := (macro.RadiusM * 2) / metersPerDegree
	if spanDeg == 0 {
		spanDeg = 1e-6
	}
	minLat := macro.CenterLat - spanDeg/2
	minLon := macro.CenterLon - spanDeg/2
	step := spanDeg / float64(side)

	type candidate struct {
		lat, lon float64
		dist     float64
	}
	candidates := make([]candidate, 0, side*side)
	for r := 0; r < side; r++ {
		for c := 0; c < side; c++ {
			lat := minLat + step*(float64(r)+0.5)
			lon := minLon + step*(float64(c)+0.5)
			d := roadgraph.GreatCircleDistance(lat, lon, macro.CenterLat, macro.CenterLon)
			candidates = append(candidates, candidate{lat: lat, lon: lon, dist: d})
		}
	}

	// Keep the microPerMacro cells closest to the macro center.
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].dist < candidates[i].dist {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}
	if len(candidates) > microPerMacro {
		candidates = candidates[:microPerMacro]
	}

	microRadius := macro.RadiusM / float64(side)
	for _, cand := range candidates {
		id := idx.nextMicroID
		idx.nextMicroID++
		idx.micros[id] = &MicroCell{
			ID:            id,
			ParentMacroID: macro.ID,
			CenterLat:     cand.lat,
			CenterLon:     cand.lon,
			RadiusM:       microRadius,
			NeighborIDs:   make(map[int]struct{}),
		}
		macro.MicroIDs = append(macro.MicroIDs, id)
	}
}

// updateNeighborhoods recomputes every micro-cell's neighbor set using the
// conservative radius(M)+radius(M')+max_range bound.
func (idx *Index) updateNeighborhoods() {
	ids := make([]int, 0, len(idx.micros))
	for id := range idx.micros {
		ids = append(ids, id)
	}
	for _, id := range ids {
		idx.micros[id].NeighborIDs = make(map[int]struct{})
	}
	for i := 0; i < len(ids); i++ {
		a := idx.micros[ids[i]]
		for j := i + 1; j < len(ids); j++ {
			b := idx.micros[ids[j]]
			d := roadgraph.GreatCircleDistance(a.CenterLat, a.CenterLon, b.CenterLat, b.CenterLon)
			if d <= a.RadiusM+b.RadiusM+idx.maxTransmissionRangeM {
				a.NeighborIDs[b.ID] = struct{}{}
				b.NeighborIDs[a.ID] = struct{}{}
			}
		}
	}
}

func (idx *Index) assignAll(positions []Position) {
	for _, p := range positions {
		idx.Assign(p)
	}
}

// Assign finds the micro-cell whose center is nearest the vehicle's position
// and records the mapping. It is a no-op if the index has no cells yet.
func (idx *Index) Assign(p Position) (int, bool) {
	if len(idx.micros) == 0 {
		return 0, false
	}
	best, bestDist := -1, math.Inf(1)
	for id, m := range idx.micros {
		d := roadgraph.GreatCircleDistance(p.Lat, p.Lon, m.CenterLat, m.CenterLon)
		if d < bestDist {
			bestDist = d
			best = id
		}
	}
	if old, ok := idx.vehicleToMicro[p.VehicleID]; ok {
		idx.detach(old, p.VehicleID)
	}
	idx.vehicleToMicro[p.VehicleID] = best
	idx.microToVehicle[best] = append(idx.microToVehicle[best], p.VehicleID)
	return best, true
}

// Remove drops a vehicle's cell assignment.
func (idx *Index) Remove(vehicleID int32) {
	if micro, ok := idx.vehicleToMicro[vehicleID]; ok {
		idx.detach(micro, vehicleID)
	}
	delete(idx.vehicleToMicro, vehicleID)
}

func (idx *Index) detach(microID int, vehicleID int32) {
	members := idx.microToVehicle[microID]
	for i, id := range members {
		if id == vehicleID {
			idx.microToVehicle[microID] = append(members[:i], members[i+1:]...)
			break
		}
	}
}

// CellNeighbors exposes each micro-cell's neighbor-id set, keyed by micro
// id. Used by the driver to build the builder's Neighborhood value without
// reaching into the index's internals.
func (idx *Index) CellNeighbors() map[int]map[int]struct{} {
	out := make(map[int]map[int]struct{}, len(idx.micros))
	for id, m := range idx.micros {
		out[id] = m.NeighborIDs
	}
	return out
}

// Nearby returns the union of vehicle IDs assigned to vehicleID's micro cell
// and to each of that cell's neighbor cells. The result may include
// vehicleID itself and makes no ordering promise.
func (idx *Index) Nearby(vehicleID int32) []int32 {
	microID, ok := idx.vehicleToMicro[vehicleID]
	if !ok {
		return nil
	}
	out := append([]int32{}, idx.microToVehicle[microID]...)
	if micro, ok := idx.micros[microID]; ok {
		for neighborID := range micro.NeighborIDs {
			out = append(out, idx.microToVehicle[neighborID]...)
		}
	}
	return out
}
