// Package lightgrid implements the scene light-grid (spec.md C4): a
// uniform 3-D cell grid over the map bounds, each cell holding bounded
// lists of point-light and polygon-light indices, built from BSP leaf PVS
// traversal at map load and refreshed for dynamic lights every frame.
//
// Grounded on voxelrt/rt/gpu/manager.go's updateSectorGrid (open-addressing
// occupancy grid, per-cell capacity, dirty-range coalescing before upload)
// and voxelrt/rt/volume/xbrickmap.go's DirtySectors/DirtyBricks tracking
// (mark-then-coalesce dirty bookkeeping, cleared on a reset boundary the
// way frame_begin clears dynamic-light state here).
package lightgrid

import (
	"math"
	"sort"

	"github.com/gekko3d/rtcore/rtlog"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	MaxPointLightsPerCell = 63
	MaxPolygonsPerCell    = 255
	MaxLightClusters      = 262144
	MaxPolygonVertices    = 7
)

// LightFlags mirrors the ABI bit for environment lights, which participate
// in every cell regardless of PVS (spec.md §8: "the light is marked
// environment (all-cells case)").
type LightFlags uint32

const LightFlagEnvironment LightFlags = 1 << 0

type PointLight struct {
	Origin     mgl32.Vec3
	Radius     float32
	BaseColor  mgl32.Vec3
	Color      mgl32.Vec3 // post-lightstyle
	Dir        mgl32.Vec3
	StopDot    float32
	StopDot2   float32 // or cos(theta) for environment lights
	Style      uint8
	Flags      LightFlags
}

type PolygonLight struct {
	Vertices [MaxPolygonVertices]mgl32.Vec3
	NumVerts int
	Plane    mgl32.Vec4
	Center   mgl32.Vec3
	Area     float32
	Emissive mgl32.Vec3
	Dynamic  bool
	Transform *mgl32.Mat4
}

// EmissiveRecord is one parsed entry from the host's emissive-surface side
// table (the `.rad`-equivalent format spec.md's Non-goals keep text parsing
// out of this module for). The host parses the file and hands typed
// records here; AddStaticPolygonLight consumes SurfaceID/Emissive from it.
type EmissiveRecord struct {
	SurfaceID int
	Emissive  mgl32.Vec3
	Style     uint8
}

// Cell holds the bounded light index lists visible to one grid cell.
type Cell struct {
	PointLights []uint8
	Polygons    []uint8

	numStaticPoint   uint8
	numStaticPolygon uint8

	frameSequence uint64
}

// resetToStaticPrefix truncates the cell's dynamic suffix back to its
// static prefix, reporting whether it actually held dynamic content. The
// caller uses that to re-dirty the cell: last frame's upload may still
// carry the now-discarded dynamic indices, and GPU state is only made to
// match by writing the cell again.
func (c *Cell) resetToStaticPrefix() (hadDynamic bool) {
	hadDynamic = len(c.PointLights) > int(c.numStaticPoint) || len(c.Polygons) > int(c.numStaticPolygon)
	c.PointLights = c.PointLights[:c.numStaticPoint]
	c.Polygons = c.Polygons[:c.numStaticPolygon]
	return hadDynamic
}

// LeafID identifies a BSP leaf; PVS is the bit-set of leafs potentially
// visible from a given leaf. Both are supplied by the host's map model
// (spec.md §6: "Model accessors ... PVS query, leaf traversal"); this
// package only consumes them through the BSPSource interface below so it
// never depends on a concrete BSP parser.
type LeafID int32

// PVS is a leaf-indexed visibility bitset.
type PVS []uint64

func (p PVS) Test(leaf LeafID) bool {
	word := int(leaf) / 64
	if word < 0 || word >= len(p) {
		return false
	}
	return p[word]&(1<<uint(int(leaf)%64)) != 0
}

// AABB is an axis-aligned bounding box in world space.
type AABB struct {
	Min, Max mgl32.Vec3
}

// BSPSource is the subset of the host's map model the light grid needs to
// build static light/cell associations at map load.
type BSPSource interface {
	LeafContaining(origin mgl32.Vec3) LeafID
	LeafPVS(leaf LeafID) PVS
	LeafAABB(leaf LeafID) AABB
	LeafsReferencingSurface(surfaceID int) []LeafID
}

// Grid is the light-cluster acceleration structure.
type Grid struct {
	MinCell  [3]int32
	Size     [3]int32
	CellSize float32

	cells []Cell

	pointLights   []PointLight
	polygonLights []PolygonLight
	numStaticPointLights   int
	numStaticPolygonLights int

	frameCounter uint64
	log          rtlog.Logger
	throttle     *rtlog.Throttle
}

// New creates a grid sized to cover [mapMin,mapMax] at the given cell size,
// clamped so grid_cells stays within MaxLightClusters and grid_size remains
// a power of two per axis (spec.md §3 invariant).
func New(mapMin, mapMax mgl32.Vec3, cellSize float32, log rtlog.Logger) *Grid {
	if log == nil {
		log = rtlog.NewNopLogger()
	}
	minCell := [3]int32{
		int32(math.Floor(float64(mapMin.X() / cellSize))),
		int32(math.Floor(float64(mapMin.Y() / cellSize))),
		int32(math.Floor(float64(mapMin.Z() / cellSize))),
	}
	maxCell := [3]int32{
		int32(math.Ceil(float64(mapMax.X() / cellSize))),
		int32(math.Ceil(float64(mapMax.Y() / cellSize))),
		int32(math.Ceil(float64(mapMax.Z() / cellSize))),
	}
	size := [3]int32{
		nextPow2(maxCell[0] - minCell[0]),
		nextPow2(maxCell[1] - minCell[1]),
		nextPow2(maxCell[2] - minCell[2]),
	}
	total := int64(size[0]) * int64(size[1]) * int64(size[2])
	for total > MaxLightClusters {
		// shrink the largest axis by half until the bound is satisfied;
		// this degrades resolution rather than failing map load outright.
		axis := 0
		for i := 1; i < 3; i++ {
			if size[i] > size[axis] {
				axis = i
			}
		}
		if size[axis] <= 1 {
			break
		}
		size[axis] /= 2
		total = int64(size[0]) * int64(size[1]) * int64(size[2])
	}
	g := &Grid{
		MinCell:  minCell,
		Size:     size,
		CellSize: cellSize,
		cells:    make([]Cell, total),
		log:      log,
		throttle: rtlog.NewThrottle(),
	}
	return g
}

func nextPow2(n int32) int32 {
	if n < 1 {
		return 1
	}
	p := int32(1)
	for p < n {
		p <<= 1
	}
	return p
}

func (g *Grid) NumCells() int { return len(g.cells) }

// CellIndex converts a grid-space cell coordinate to a flat index, or -1 if
// out of range.
func (g *Grid) CellIndex(gx, gy, gz int32) int {
	lx, ly, lz := gx-g.MinCell[0], gy-g.MinCell[1], gz-g.MinCell[2]
	if lx < 0 || ly < 0 || lz < 0 || lx >= g.Size[0] || ly >= g.Size[1] || lz >= g.Size[2] {
		return -1
	}
	return int(lx + ly*g.Size[0] + lz*g.Size[0]*g.Size[1])
}

// cellsForAABB returns the flat indices of every cell the AABB's
// floor/ceil-against-cell_size range touches.
func (g *Grid) cellsForAABB(box AABB) []int {
	minX := int32(math.Floor(float64(box.Min.X() / g.CellSize)))
	minY := int32(math.Floor(float64(box.Min.Y() / g.CellSize)))
	minZ := int32(math.Floor(float64(box.Min.Z() / g.CellSize)))
	maxX := int32(math.Ceil(float64(box.Max.X() / g.CellSize)))
	maxY := int32(math.Ceil(float64(box.Max.Y() / g.CellSize)))
	maxZ := int32(math.Ceil(float64(box.Max.Z() / g.CellSize)))

	var out []int
	for z := minZ; z <= maxZ; z++ {
		for y := minY; y <= maxY; y++ {
			for x := minX; x <= maxX; x++ {
				if idx := g.CellIndex(x, y, z); idx >= 0 {
					out = append(out, idx)
				}
			}
		}
	}
	return out
}

// AddStaticPointLight adds a point light at map-load time, seeding its
// cell set from the leaf containing its origin expanded by that leaf's PVS
// (spec.md §4.4.1). Environment lights (LightFlagEnvironment) are added to
// every cell instead, matching the testable "all-cells case".
func (g *Grid) AddStaticPointLight(src BSPSource, l PointLight) {
	idx := uint8(len(g.pointLights))
	g.pointLights = append(g.pointLights, l)
	g.numStaticPointLights = len(g.pointLights)

	if l.Flags&LightFlagEnvironment != 0 {
		for i := range g.cells {
			g.appendPointLightToCellStatic(i, idx)
		}
		return
	}

	leaf := src.LeafContaining(l.Origin)
	pvs := src.LeafPVS(leaf)
	g.forEachVisibleLeafCell(src, pvs, func(cellIdx int) {
		g.appendPointLightToCellStatic(cellIdx, idx)
	})
}

func (g *Grid) forEachVisibleLeafCell(src BSPSource, pvs PVS, fn func(cellIdx int)) {
	// A full BSP leaf enumeration is owned by the host; the core walks
	// only the leafs the host's PVS bitset reports as visible through
	// LeafAABB, converting each to its cell range exactly as spec.md
	// §4.4.1 describes for emissive-surface cell marking.
	seen := make(map[int]bool)
	for leaf := LeafID(0); int(leaf) < len(pvs)*64; leaf++ {
		if !pvs.Test(leaf) {
			continue
		}
		box := src.LeafAABB(leaf)
		for _, idx := range g.cellsForAABB(box) {
			if !seen[idx] {
				seen[idx] = true
				fn(idx)
			}
		}
	}
}

func (g *Grid) appendPointLightToCellStatic(cellIdx int, lightIdx uint8) {
	c := &g.cells[cellIdx]
	if len(c.PointLights) >= MaxPointLightsPerCell {
		if g.throttle.Allow("cell-point-overflow", 64) {
			g.log.Warnf("lightgrid: cell %d exceeds %d static point lights, dropping", cellIdx, MaxPointLightsPerCell)
		}
		return
	}
	c.PointLights = append(c.PointLights, lightIdx)
	c.numStaticPoint = uint8(len(c.PointLights))
	c.frameSequence = g.frameCounter
}

// AddStaticPolygonLight adds an emissive-surface polygon light at map load,
// marking every cell its referencing leafs' PVS touches.
func (g *Grid) AddStaticPolygonLight(src BSPSource, surfaceID int, p PolygonLight) {
	if p.NumVerts > MaxPolygonVertices {
		g.log.Warnf("lightgrid: polygon light for surface %d clipped from %d to %d vertices", surfaceID, p.NumVerts, MaxPolygonVertices)
		p.NumVerts = MaxPolygonVertices
	}
	idx := uint8(len(g.polygonLights))
	g.polygonLights = append(g.polygonLights, p)
	g.numStaticPolygonLights = len(g.polygonLights)

	marked := make(map[int]bool)
	for _, leaf := range src.LeafsReferencingSurface(surfaceID) {
		pvs := src.LeafPVS(leaf)
		g.forEachVisibleLeafCell(src, pvs, func(cellIdx int) {
			if marked[cellIdx] {
				return
			}
			marked[cellIdx] = true
			g.appendPolygonToCellStatic(cellIdx, idx)
		})
	}
}

func (g *Grid) appendPolygonToCellStatic(cellIdx int, polyIdx uint8) {
	c := &g.cells[cellIdx]
	if len(c.Polygons) >= MaxPolygonsPerCell {
		if g.throttle.Allow("cell-polygon-overflow", 64) {
			g.log.Warnf("lightgrid: cell %d exceeds %d static polygon lights, dropping", cellIdx, MaxPolygonsPerCell)
		}
		return
	}
	c.Polygons = append(c.Polygons, polyIdx)
	c.numStaticPolygon = uint8(len(c.Polygons))
	c.frameSequence = g.frameCounter
}

// FrameBegin resets every cell's dynamic counts back to the static prefix
// and discards dynamic lights added last frame (spec.md §4.4.1-2). A cell
// that actually held dynamic content is re-marked dirty so the now-empty
// dynamic suffix gets re-uploaded and overwrites last frame's stale GPU
// copy, rather than leaving it to linger unreferenced on the device.
func (g *Grid) FrameBegin() {
	g.frameCounter++
	for i := range g.cells {
		if g.cells[i].resetToStaticPrefix() {
			g.cells[i].frameSequence = g.frameCounter
		}
	}
	g.pointLights = g.pointLights[:g.numStaticPointLights]
	g.polygonLights = g.polygonLights[:g.numStaticPolygonLights]
}

// dlightMinIntensity is the empirical floor below which a dynamic light is
// not worth inserting into the grid at all (spec.md §4.4.2).
const dlightMinIntensity = 1.0 / 255.0
const dlightMinRadius = 1.0

// AddDynamicPointLight appends a per-frame light, setting Color to
// BaseColor rescaled by lightstyleValue/255, and returns false (without
// modifying any cell) if the light is below the activity threshold. No
// distance or solid-angle attenuation is applied here;
// PointLightAttenuation is not called.
func (g *Grid) AddDynamicPointLight(src BSPSource, l PointLight, lightstyleValue float32) bool {
	if l.Radius < dlightMinRadius {
		return false
	}
	intensity := l.BaseColor.X() + l.BaseColor.Y() + l.BaseColor.Z()
	if intensity < dlightMinIntensity {
		return false
	}
	l.Color = l.BaseColor.Mul(lightstyleValue / 255.0)

	idx := uint8(len(g.pointLights))
	g.pointLights = append(g.pointLights, l)

	leaf := src.LeafContaining(l.Origin)
	pvs := src.LeafPVS(leaf)
	g.forEachVisibleLeafCell(src, pvs, func(cellIdx int) {
		c := &g.cells[cellIdx]
		if len(c.PointLights) >= MaxPointLightsPerCell {
			if g.throttle.Allow("cell-point-overflow-dynamic", 64) {
				g.log.Warnf("lightgrid: cell %d exceeds %d point lights (dynamic), dropping", cellIdx, MaxPointLightsPerCell)
			}
			return
		}
		c.PointLights = append(c.PointLights, idx)
		c.frameSequence = g.frameCounter
	})
	return true
}

// PointLightAttenuation applies the solid-angle approximation spec.md
// §4.4.2 names: 1 - sqrt(d^2 - r^2)/d, keeping emitted power roughly
// invariant to the light's configured radius.
func PointLightAttenuation(distance, radius float32) float32 {
	if distance <= radius {
		return 1
	}
	return 1 - float32(math.Sqrt(float64(distance*distance-radius*radius)))/distance
}

// AddDynamicPolygonLight appends a per-frame polygon light and marks the
// cells of the leafs referencing it, cleared on the next FrameBegin.
func (g *Grid) AddDynamicPolygonLight(src BSPSource, surfaceID int, p PolygonLight) {
	p.Dynamic = true
	idx := uint8(len(g.polygonLights))
	g.polygonLights = append(g.polygonLights, p)

	marked := make(map[int]bool)
	for _, leaf := range src.LeafsReferencingSurface(surfaceID) {
		pvs := src.LeafPVS(leaf)
		g.forEachVisibleLeafCell(src, pvs, func(cellIdx int) {
			if marked[cellIdx] {
				return
			}
			marked[cellIdx] = true
			c := &g.cells[cellIdx]
			if len(c.Polygons) >= MaxPolygonsPerCell {
				if g.throttle.Allow("cell-polygon-overflow-dynamic", 64) {
					g.log.Warnf("lightgrid: cell %d exceeds %d polygon lights (dynamic), dropping", cellIdx, MaxPolygonsPerCell)
				}
				return
			}
			c.Polygons = append(c.Polygons, idx)
			c.frameSequence = g.frameCounter
		})
	}
}

func (g *Grid) Cell(idx int) *Cell { return &g.cells[idx] }

func (g *Grid) NumStaticPointLights() int   { return g.numStaticPointLights }
func (g *Grid) NumStaticPolygonLights() int { return g.numStaticPolygonLights }
func (g *Grid) NumPointLights() int         { return len(g.pointLights) }
func (g *Grid) NumPolygonLights() int       { return len(g.polygonLights) }

// UploadRange is one coalesced contiguous run of dirty cells.
type UploadRange struct {
	Begin, End int // [Begin, End) cell index range
}

// DirtyRanges coalesces every cell whose frameSequence equals the current
// frame counter into the minimal number of (begin,end) runs, so uploads
// are a small number of ranges rather than one write per cell (spec.md
// §4.4.3 / §8's "number of range writes equals number of maximal runs").
func (g *Grid) DirtyRanges() []UploadRange {
	var dirty []int
	for i := range g.cells {
		if g.cells[i].frameSequence == g.frameCounter {
			dirty = append(dirty, i)
		}
	}
	if len(dirty) == 0 {
		return nil
	}
	sort.Ints(dirty)

	var ranges []UploadRange
	runStart := dirty[0]
	prev := dirty[0]
	for _, idx := range dirty[1:] {
		if idx == prev+1 {
			prev = idx
			continue
		}
		ranges = append(ranges, UploadRange{Begin: runStart, End: prev + 1})
		runStart = idx
		prev = idx
	}
	ranges = append(ranges, UploadRange{Begin: runStart, End: prev + 1})
	return ranges
}
