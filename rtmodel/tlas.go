package rtmodel

import (
	"encoding/binary"
	"errors"
	"math"
	"sort"

	"github.com/gekko3d/rtcore/abi"
	"github.com/gekko3d/rtcore/rtlog"
	"github.com/go-gl/mathgl/mgl32"
)

// ErrUnknownRenderType is returned when a legacy render type has no entry
// in abi.RenderTypeTable. This is fatal for the calling frame but must not
// corrupt the BLAS cache (spec.md §4.5.3).
var ErrUnknownRenderType = errors.New("rtmodel: unknown legacy render type, cannot build draw record")

// DrawRecord is one instance the TLAS build enumerates at frame end:
// a reference to a cached BLAS slot, its world transform, and material mode.
type DrawRecord struct {
	Slot         int
	Transform    mgl32.Mat4
	MaterialMode abi.MaterialMode
	WorldAABB    [2]mgl32.Vec3
}

// TLASNode mirrors the teacher's 64-byte BVHNode layout exactly (see
// voxelrt/rt/bvh/builder.go's ToBytes doc comment for the matching WGSL
// struct); this module builds the same node shape over draw-record AABBs
// instead of voxel-object AABBs.
type TLASNode struct {
	Min, Max             mgl32.Vec3
	Left, Right          int32
	LeafFirst, LeafCount int32
}

func (n TLASNode) toBytes() []byte {
	buf := make([]byte, 64)
	put := func(off int, v float32) { binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v)) }
	put(0, n.Min.X())
	put(4, n.Min.Y())
	put(8, n.Min.Z())
	put(12, 0) // padding to 16-byte align Max
	put(16, n.Max.X())
	put(20, n.Max.Y())
	put(24, n.Max.Z())
	put(28, 0)
	binary.LittleEndian.PutUint32(buf[32:], uint32(n.Left))
	binary.LittleEndian.PutUint32(buf[36:], uint32(n.Right))
	binary.LittleEndian.PutUint32(buf[40:], uint32(n.LeafFirst))
	binary.LittleEndian.PutUint32(buf[44:], uint32(n.LeafCount))
	return buf
}

type aabbItem struct {
	min, max, centroid mgl32.Vec3
	index              int
}

// DefaultDrawRecordLimit bounds how many draw records one TLAS build will accept; past
// that the builder drops the excess and logs, keeping the frame renderable
// (spec.md §4.5.4).
const DefaultDrawRecordLimit = 16384

// Builder builds one TLAS per frame from the visible draw records,
// reusing the teacher's median-split recursive build strategy
// (voxelrt/rt/bvh/builder.go) generalized from object AABBs to
// transform+material draw records.
type Builder struct {
	DrawRecordLimit int
	log             rtlog.Logger
	throttle        *rtlog.Throttle
}

func NewBuilder(log rtlog.Logger) *Builder {
	if log == nil {
		log = rtlog.NewNopLogger()
	}
	return &Builder{DrawRecordLimit: DefaultDrawRecordLimit, log: log, throttle: rtlog.NewThrottle()}
}

// Build produces the packed node buffer for one frame's draw records. If
// len(records) exceeds DrawRecordLimit, the excess is dropped with a
// throttled log line.
func (b *Builder) Build(records []DrawRecord) []byte {
	if len(records) > b.DrawRecordLimit {
		if b.throttle.Allow("draw-record-limit", 30) {
			b.log.Warnf("rtmodel: dropping %d draw records past the configured limit of %d", len(records)-b.DrawRecordLimit, b.DrawRecordLimit)
		}
		records = records[:b.DrawRecordLimit]
	}
	if len(records) == 0 {
		return TLASNode{}.toBytes()
	}

	items := make([]aabbItem, len(records))
	for i, r := range records {
		min, max := r.WorldAABB[0], r.WorldAABB[1]
		items[i] = aabbItem{
			min:      min,
			max:      max,
			centroid: min.Add(max).Mul(0.5),
			index:    i,
		}
	}

	var nodes []TLASNode
	buildRecursive(items, &nodes)

	out := make([]byte, 0, len(nodes)*64)
	for _, n := range nodes {
		out = append(out, n.toBytes()...)
	}
	return out
}

func buildRecursive(items []aabbItem, nodes *[]TLASNode) int32 {
	min, max := enclosingBounds(items)
	nodeIdx := int32(len(*nodes))
	*nodes = append(*nodes, TLASNode{}) // reserve slot

	if len(items) == 1 {
		(*nodes)[nodeIdx] = TLASNode{
			Min: min, Max: max,
			Left: -1, Right: -1,
			LeafFirst: int32(items[0].index), LeafCount: 1,
		}
		return nodeIdx
	}

	axis := longestAxis(min, max)
	sort.Slice(items, func(i, j int) bool { return componentAt(items[i].centroid, axis) < componentAt(items[j].centroid, axis) })
	mid := len(items) / 2

	left := buildRecursive(items[:mid], nodes)
	right := buildRecursive(items[mid:], nodes)

	(*nodes)[nodeIdx] = TLASNode{
		Min: min, Max: max,
		Left: left, Right: right,
		LeafFirst: -1, LeafCount: 0,
	}
	return nodeIdx
}

func enclosingBounds(items []aabbItem) (min, max mgl32.Vec3) {
	min = items[0].min
	max = items[0].max
	for _, it := range items[1:] {
		min = componentMin(min, it.min)
		max = componentMax(max, it.max)
	}
	return min, max
}

func longestAxis(min, max mgl32.Vec3) int {
	ext := max.Sub(min)
	axis := 0
	longest := ext.X()
	if ext.Y() > longest {
		axis, longest = 1, ext.Y()
	}
	if ext.Z() > longest {
		axis = 2
	}
	return axis
}

func componentAt(v mgl32.Vec3, axis int) float32 {
	switch axis {
	case 0:
		return v.X()
	case 1:
		return v.Y()
	default:
		return v.Z()
	}
}

func componentMin(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{minf(a.X(), b.X()), minf(a.Y(), b.Y()), minf(a.Z(), b.Z())}
}

func componentMax(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{maxf(a.X(), b.X()), maxf(a.Y(), b.Y()), maxf(a.Z(), b.Z())}
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
