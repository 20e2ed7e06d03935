// Package rtmodel implements the RT model & TLAS manager (spec.md C5): a
// fixed-size BLAS cache keyed by geometry signature, per-frame kusok
// (per-surface material record) upload through a DE-buffer, and a TLAS
// build over the frame's visible draw records.
//
// Grounded on voxelrt/rt/gpu/manager.go's Allocations/SectorToInfo/
// BrickToSlot bookkeeping (renamed here to the BLAS-cache vocabulary:
// taken/slot/geometry-signature) and on voxelrt/rt/bvh/builder.go's
// median-split BVH builder, reused as the TLAS build strategy.
package rtmodel

import (
	"errors"
	"fmt"

	"github.com/gekko3d/rtcore/abi"
	"github.com/gekko3d/rtcore/arena"
	"github.com/gekko3d/rtcore/rtlog"
	"github.com/go-gl/mathgl/mgl32"
)

var (
	ErrCacheFull         = errors.New("rtmodel: no free or matching BLAS slot")
	ErrKusochkiExhausted = errors.New("rtmodel: no room left for kusochki reservation")
)

// GeomDesc describes one piece of geometry inside a model's BLAS, used to
// compute the geometry signature two models are compared by.
type GeomDesc struct {
	Type      uint32
	Flags     abi.GeometryFlags
	MaxVertex uint32
	Stride    uint32
	Formats   uint32
}

// Signature is the tuple (geom count, per-geom descriptors) that
// get_or_create matches an incoming model request against.
type Signature []GeomDesc

func (s Signature) Equal(o Signature) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// AccelStruct is this module's substitute for a Vulkan acceleration
// structure object (see SPEC_FULL.md §0): an opaque handle over the
// geometry buffer region backing the BLAS, since the wgpu binding this
// module targets has no raw AS type. Build/Update/Compact become
// (re)writes of that region; this package never interprets the bytes.
type AccelStruct struct {
	GeometryBufferOffset uint64
	GeometryByteSize      uint64
	Compacted             bool
}

// ModelRequest is what a caller asks the cache to resolve into a slot.
type ModelRequest struct {
	Geoms         Signature
	NumGeoms      int
	MaxPrims      uint32
	Dynamic       bool
	MaterialMode  abi.MaterialMode
	Color         [4]float32
	PrevTransform mgl32.Mat4
}

// entry is one BLAS cache slot.
type entry struct {
	taken         bool
	valid         bool // has ever held a model; false means "empty slot"
	as            AccelStruct
	geoms         Signature
	maxPrims      uint32
	kusochkiOffset uint32
	numGeoms      int
	dynamic       bool
	materialMode  abi.MaterialMode
	color         [4]float32
	prevTransform mgl32.Mat4
}

// Cache is the fixed-size BLAS cache plus its kusochki DE-buffer.
type Cache struct {
	entries     []entry
	kusochki    *arena.DEBuffer
	maxKusochki uint32
	kusokSize   uint32

	log      rtlog.Logger
	throttle *rtlog.Throttle
}

// New creates a cache with room for maxSlots BLAS entries and a kusochki
// DE-buffer sized for maxKusochki records of kusokSize bytes each, split
// evenly into static/dynamic halves per spec.md's MAX_KUSOCHKI/2 rule.
func New(maxSlots int, maxKusochki uint32, kusokSize uint32, log rtlog.Logger) *Cache {
	if log == nil {
		log = rtlog.NewNopLogger()
	}
	half := uint64(maxKusochki/2) * uint64(kusokSize)
	return &Cache{
		entries:     make([]entry, maxSlots),
		kusochki:    arena.NewDEBuffer(half, half),
		maxKusochki: maxKusochki,
		kusokSize:   kusokSize,
		log:         log,
		throttle:    rtlog.NewThrottle(),
	}
}

// GetOrCreate resolves a model request to a cache slot index, matching the
// first taken=false slot whose geometry signature equals the request,
// falling back to the first empty slot, else failing (spec.md §4.5.1).
func (c *Cache) GetOrCreate(req ModelRequest) (int, error) {
	freeSlot := -1
	for i := range c.entries {
		e := &c.entries[i]
		if e.taken {
			continue
		}
		if e.valid && e.geoms.Equal(req.Geoms) {
			c.claim(i, req, false)
			return i, nil
		}
		if !e.valid && freeSlot == -1 {
			freeSlot = i
		}
	}
	if freeSlot == -1 {
		if c.throttle.Allow("blas-cache-full", 30) {
			c.log.Warnf("rtmodel: BLAS cache full, rejecting new geometry signature")
		}
		return -1, ErrCacheFull
	}

	lifetime := arena.LifetimeStatic
	if req.Dynamic {
		lifetime = arena.LifetimeDynamic
	}
	off, ok := c.kusochki.Alloc(lifetime, uint64(req.NumGeoms)*uint64(c.kusokSize), uint64(c.kusokSize))
	if !ok {
		if c.throttle.Allow("kusochki-exhausted", 30) {
			c.log.Warnf("rtmodel: kusochki reservation failed for %d geoms (dynamic=%v)", req.NumGeoms, req.Dynamic)
		}
		return -1, ErrKusochkiExhausted
	}

	c.claim(freeSlot, req, true)
	c.entries[freeSlot].kusochkiOffset = uint32(off / uint64(c.kusokSize))
	return freeSlot, nil
}

func (c *Cache) claim(i int, req ModelRequest, fresh bool) {
	e := &c.entries[i]
	e.taken = true
	e.valid = true
	e.geoms = req.Geoms
	e.maxPrims = req.MaxPrims
	e.numGeoms = req.NumGeoms
	e.dynamic = req.Dynamic
	e.materialMode = req.MaterialMode
	e.color = req.Color
	e.prevTransform = req.PrevTransform
	if fresh {
		e.as = AccelStruct{}
	}
}

// ReleaseDynamicForFrame marks every dynamic entry taken=false at frame
// end; static entries persist for the life of the map (spec.md §4.5.1).
func (c *Cache) ReleaseDynamicForFrame() {
	for i := range c.entries {
		if c.entries[i].dynamic {
			c.entries[i].taken = false
		}
	}
}

func (c *Cache) Taken(slot int) bool               { return c.entries[slot].taken }
func (c *Cache) KusochkiOffset(slot int) uint32     { return c.entries[slot].kusochkiOffset }
func (c *Cache) NumGeoms(slot int) int              { return c.entries[slot].numGeoms }
func (c *Cache) MaterialMode(slot int) abi.MaterialMode { return c.entries[slot].materialMode }
func (c *Cache) Dynamic(slot int) bool              { return c.entries[slot].dynamic }

// NeedsKusokReupload reports whether (material_mode, color, prev_transform)
// changed since the last upload, per spec.md §4.5.2's bandwidth-saving rule.
func (c *Cache) NeedsKusokReupload(slot int, mode abi.MaterialMode, color [4]float32, transform mgl32.Mat4) bool {
	e := &c.entries[slot]
	if e.materialMode != mode || e.color != color || e.prevTransform != transform {
		return true
	}
	return false
}

// AssignAccelStruct records the (re)built acceleration structure for a
// slot, called after a BLAS build/update completes.
func (c *Cache) AssignAccelStruct(slot int, as AccelStruct) {
	c.entries[slot].as = as
}

func (c *Cache) AccelStructFor(slot int) AccelStruct { return c.entries[slot].as }

// ValidateNoOverlap asserts, in debug builds only, that no two taken
// entries share kusochki ranges or AS-backing byte ranges (spec.md §4.5.4's
// debug-only validation, and the hard invariant in spec.md §3).
func (c *Cache) ValidateNoOverlap() error {
	type span struct{ start, end uint64 }
	var kusochkiSpans, asSpans []span
	for i := range c.entries {
		e := &c.entries[i]
		if !e.taken {
			continue
		}
		ks := span{uint64(e.kusochkiOffset) * uint64(c.kusokSize), uint64(e.kusochkiOffset+uint32(e.numGeoms)) * uint64(c.kusokSize)}
		for _, other := range kusochkiSpans {
			if ks.start < other.end && other.start < ks.end {
				return fmt.Errorf("rtmodel: kusochki overlap between slots: [%d,%d) and [%d,%d)", ks.start, ks.end, other.start, other.end)
			}
		}
		kusochkiSpans = append(kusochkiSpans, ks)

		if e.as.GeometryByteSize == 0 {
			continue
		}
		as := span{e.as.GeometryBufferOffset, e.as.GeometryBufferOffset + e.as.GeometryByteSize}
		for _, other := range asSpans {
			if as.start < other.end && other.start < as.end {
				return fmt.Errorf("rtmodel: AS backing-memory overlap between slots: [%d,%d) and [%d,%d)", as.start, as.end, other.start, other.end)
			}
		}
		asSpans = append(asSpans, as)
	}
	return nil
}
