// Package devmem implements the device-memory pool (spec.md C1): a bounded
// table of device slabs, one per distinct (memory type, property flags,
// allocate flags) triple, each backed by a free-list sub-allocator.
//
// Grounded on the original renderer's ref/vk/vk_devmem.c: MaxSlots,
// DefaultSlabSize and MinAlignment below reproduce that file's
// MAX_DEVMEM_ALLOC_SLOTS (16), DEFAULT_ALLOCATION_SIZE (64 MiB) and the
// suballocator's min_alignment (16 bytes) exactly.
package devmem

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gekko3d/rtcore/rtlog"
)

const (
	MaxSlots         = 16
	DefaultSlabSize  = 64 * 1024 * 1024
	MinAlignment     = 16
)

var (
	ErrNoMemoryType      = errors.New("devmem: no memory type satisfies the requested mask and properties")
	ErrSlotTableFull     = errors.New("devmem: all slab slots are in use")
	ErrAllocationRejected = errors.New("devmem: underlying sub-allocator rejected the request")
)

// PropertyFlags and AllocateFlags mirror VkMemoryPropertyFlags /
// VkMemoryAllocateFlags closely enough to key slots the same way the
// original did, without depending on any particular graphics API's types.
type PropertyFlags uint32

const (
	PropertyDeviceLocal PropertyFlags = 1 << iota
	PropertyHostVisible
	PropertyHostCoherent
	PropertyHostCached
)

type AllocateFlags uint32

const (
	AllocateDeviceAddress AllocateFlags = 1 << iota
)

// TypeSelector resolves a (memoryTypeBits, properties) pair to a concrete
// memory type index the way vkGetPhysicalDeviceMemoryProperties + a linear
// scan would; callers on top of wgpu supply one backed by adapter limits,
// tests supply a fixed stub.
type TypeSelector func(memoryTypeBits uint32, props PropertyFlags) (typeIndex uint32, ok bool)

// Request describes one allocation.
type Request struct {
	Size            uint64
	Alignment       uint64
	Properties      PropertyFlags
	AllocateFlags   AllocateFlags
	MemoryTypeBits  uint32
}

// Handle identifies a live allocation: which slot's slab it lives in, and
// the sub-allocator block within that slab.
type Handle struct {
	SlotIndex  int
	Offset     uint64
	Size       uint64
	MappedPtr  []byte // non-nil when the slab is host-visible
}

type slot struct {
	typeIndex     uint32
	properties    PropertyFlags
	allocateFlags AllocateFlags
	size          uint64
	mapped        []byte
	refcount      int
	alloc         *suballocator
}

// Pool is the device-memory pool. Zero value is not usable; use New.
type Pool struct {
	mu    sync.Mutex
	slots []slot

	selectType TypeSelector
	slabSize   uint64
	log        rtlog.Logger
	throttle   *rtlog.Throttle

	deviceAllocated uint64
	allocatedCurrent uint64
	allocatedTotal   uint64
	freedTotal       uint64
}

type Option func(*Pool)

func WithSlabSize(size uint64) Option {
	return func(p *Pool) { p.slabSize = size }
}

func WithLogger(l rtlog.Logger) Option {
	return func(p *Pool) { p.log = l }
}

func New(selectType TypeSelector, opts ...Option) *Pool {
	p := &Pool{
		selectType: selectType,
		slabSize:   DefaultSlabSize,
		log:        rtlog.NewNopLogger(),
		throttle:   rtlog.NewThrottle(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// optimalSize floors requested sizes up to at least the slab's configured
// minimum, matching the original's optimalSize (which floors to
// DEFAULT_ALLOCATION_SIZE when the request is smaller).
func (p *Pool) optimalSize(requested uint64) uint64 {
	if requested < p.slabSize {
		return p.slabSize
	}
	return requested
}

// Allocate satisfies req, creating a new slab if no existing slot matches.
func (p *Pool) Allocate(req Request) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	typeIndex, ok := p.selectType(req.MemoryTypeBits, req.Properties)
	if !ok {
		return Handle{}, ErrNoMemoryType
	}

	align := req.Alignment
	if align < MinAlignment {
		align = MinAlignment
	}

	for i := range p.slots {
		s := &p.slots[i]
		if s.typeIndex != typeIndex {
			continue
		}
		if s.allocateFlags&req.AllocateFlags != req.AllocateFlags {
			continue
		}
		if s.properties&req.Properties != req.Properties {
			continue
		}
		if off, ok := s.alloc.Alloc(req.Size, align); ok {
			s.refcount++
			p.allocatedCurrent += req.Size
			p.allocatedTotal += req.Size
			return p.handleFor(i, off, req.Size, s), nil
		}
	}

	if len(p.slots) >= MaxSlots {
		return Handle{}, ErrSlotTableFull
	}

	slabSize := p.optimalSize(req.Size)
	s := slot{
		typeIndex:     typeIndex,
		properties:    req.Properties,
		allocateFlags: req.AllocateFlags,
		size:          slabSize,
		alloc:         newSuballocator(slabSize),
	}
	if req.Properties&PropertyHostVisible != 0 {
		s.mapped = make([]byte, slabSize)
	}
	off, ok := s.alloc.Alloc(req.Size, align)
	if !ok {
		return Handle{}, ErrAllocationRejected
	}
	s.refcount = 1
	p.slots = append(p.slots, s)
	slotIdx := len(p.slots) - 1

	p.deviceAllocated += slabSize
	p.allocatedCurrent += req.Size
	p.allocatedTotal += req.Size

	p.log.Debugf("devmem: new slab slot=%d type=%d size=%d properties=%x", slotIdx, typeIndex, slabSize, req.Properties)

	return p.handleFor(slotIdx, off, req.Size, &p.slots[slotIdx]), nil
}

func (p *Pool) handleFor(slotIdx int, off, size uint64, s *slot) Handle {
	h := Handle{SlotIndex: slotIdx, Offset: off, Size: size}
	if s.mapped != nil {
		h.MappedPtr = s.mapped[off : off+size]
	}
	return h
}

// Release returns a block to its slot's sub-allocator. Slabs themselves are
// never freed: Pool has no method that releases a slab.
func (p *Pool) Release(h Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h.SlotIndex < 0 || h.SlotIndex >= len(p.slots) {
		p.log.Errorf("devmem: release of handle with out-of-range slot %d", h.SlotIndex)
		return
	}
	s := &p.slots[h.SlotIndex]
	s.alloc.Free(h.Offset, h.Size)
	s.refcount--
	p.allocatedCurrent -= h.Size
	p.freedTotal += h.Size
}

// Stats mirrors the original's g_vk_devmem counters, exposed for tests and
// the profiler's memory panel.
type Stats struct {
	SlotCount        int
	DeviceAllocated  uint64
	AllocatedCurrent uint64
	AllocatedTotal   uint64
	FreedTotal       uint64
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		SlotCount:        len(p.slots),
		DeviceAllocated:  p.deviceAllocated,
		AllocatedCurrent: p.allocatedCurrent,
		AllocatedTotal:   p.allocatedTotal,
		FreedTotal:       p.freedTotal,
	}
}

func (p *Pool) String() string {
	st := p.Stats()
	return fmt.Sprintf("devmem.Pool{slots=%d device=%d current=%d total=%d freed=%d}",
		st.SlotCount, st.DeviceAllocated, st.AllocatedCurrent, st.AllocatedTotal, st.FreedTotal)
}

// suballocator is a free-list offset allocator over one slab, first-fit,
// guaranteeing the minimum alignment the caller requests.
type suballocator struct {
	size uint64
	free []freeBlock // sorted by offset
}

type freeBlock struct {
	offset uint64
	size   uint64
}

func newSuballocator(size uint64) *suballocator {
	return &suballocator{size: size, free: []freeBlock{{offset: 0, size: size}}}
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + (align - rem)
}

func (a *suballocator) Alloc(size, align uint64) (uint64, bool) {
	for i, b := range a.free {
		start := alignUp(b.offset, align)
		end := start + size
		if end > b.offset+b.size {
			continue
		}
		// split the block: [b.offset,start) stays free if non-empty,
		// [end, b.offset+b.size) stays free if non-empty.
		var replacement []freeBlock
		if start > b.offset {
			replacement = append(replacement, freeBlock{offset: b.offset, size: start - b.offset})
		}
		if end < b.offset+b.size {
			replacement = append(replacement, freeBlock{offset: end, size: b.offset + b.size - end})
		}
		a.free = append(a.free[:i], append(replacement, a.free[i+1:]...)...)
		return start, true
	}
	return 0, false
}

func (a *suballocator) Free(offset, size uint64) {
	// insert and coalesce with adjacent neighbors, keeping a.free sorted.
	nb := freeBlock{offset: offset, size: size}
	idx := 0
	for idx < len(a.free) && a.free[idx].offset < nb.offset {
		idx++
	}
	a.free = append(a.free, freeBlock{})
	copy(a.free[idx+1:], a.free[idx:])
	a.free[idx] = nb

	// merge with next
	if idx+1 < len(a.free) && a.free[idx].offset+a.free[idx].size == a.free[idx+1].offset {
		a.free[idx].size += a.free[idx+1].size
		a.free = append(a.free[:idx+1], a.free[idx+2:]...)
	}
	// merge with previous
	if idx > 0 && a.free[idx-1].offset+a.free[idx-1].size == a.free[idx].offset {
		a.free[idx-1].size += a.free[idx].size
		a.free = append(a.free[:idx], a.free[idx+1:]...)
	}
}
