// Package arena implements the buffer & image arena (spec.md C2): typed
// buffers built on devmem, a flipping (two-half) bump allocator, a
// double-ended buffer with a static prefix and a flipping dynamic suffix,
// and a process-wide staging region keyed by a monotonic frame tag.
//
// The flipping allocator and the DE-buffer's growth strategy are grounded
// on voxelrt/rt/gpu/manager.go's ensureBuffer (geometric growth with
// headroom, old-content preservation) and its SlotAllocator free-list
// discipline; staging's frame-tag reclaim mirrors the same file's
// per-frame buffer lifecycle tied to the app's frame counter.
package arena

import (
	"errors"
	"sync"
)

var ErrAllocFailed = errors.New("arena: allocation failed, region is full")

// Lifetime selects which region of a DE-buffer an allocation lands in.
// This is distinct from BufferLifetime (SingleFrame/Long), which classifies
// a whole buffer or image's allocation policy rather than a sub-range
// within one DE-buffer.
type Lifetime int

const (
	LifetimeStatic Lifetime = iota
	LifetimeDynamic
)

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	if r := v % align; r != 0 {
		return v + (align - r)
	}
	return v
}

// FlippingAllocator is a two-half linear bump arena; allocations from the
// current half are valid only for the current frame. Flip swaps halves and
// resets the new current half, leaving the previous half's contents
// (and watermark) untouched until the next Flip call that makes it current
// again.
type FlippingAllocator struct {
	mu        sync.Mutex
	halfSize  uint64
	cursor    [2]uint64
	current   int
}

func NewFlippingAllocator(halfSize uint64) *FlippingAllocator {
	return &FlippingAllocator{halfSize: halfSize}
}

// Alloc returns the base offset of a halfSize-bounded region: the absolute
// offset is current-half-index*halfSize + local-offset.
func (f *FlippingAllocator) Alloc(size, align uint64) (uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := alignUp(f.cursor[f.current], align)
	end := start + size
	if end > f.halfSize {
		return 0, false
	}
	f.cursor[f.current] = end
	return uint64(f.current)*f.halfSize + start, true
}

// Flip swaps the current half and resets its cursor to zero.
func (f *FlippingAllocator) Flip() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = 1 - f.current
	f.cursor[f.current] = 0
}

// CurrentHalf reports which half (0 or 1) is presently being allocated from.
func (f *FlippingAllocator) CurrentHalf() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Used returns how many bytes of the given half are currently claimed.
func (f *FlippingAllocator) Used(half int) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor[half]
}

// DEBuffer is a double-ended buffer: a static prefix that only grows (map
// load time) and a dynamic suffix implemented as a FlippingAllocator.
// Static and dynamic halves never interleave in offset space: static
// offsets are always < staticCapacity, dynamic offsets are always >=
// staticCapacity, matching the fixture in spec.md §8 (kusochki range for
// static + dynamic).
type DEBuffer struct {
	mu              sync.Mutex
	staticCapacity  uint64
	staticCursor    uint64
	dynamic         *FlippingAllocator
}

// NewDEBuffer creates a DE-buffer whose static prefix may grow up to
// staticCapacity bytes and whose dynamic suffix has two halves of
// dynamicHalfSize bytes each, placed immediately after the static prefix.
func NewDEBuffer(staticCapacity, dynamicHalfSize uint64) *DEBuffer {
	return &DEBuffer{
		staticCapacity: staticCapacity,
		dynamic:        NewFlippingAllocator(dynamicHalfSize),
	}
}

// Alloc reserves size bytes (aligned to align) from the requested half.
// The returned offset already accounts for the static/dynamic split: a
// LifetimeDynamic allocation's offset is always >= staticCapacity.
func (d *DEBuffer) Alloc(lifetime Lifetime, size, align uint64) (uint64, bool) {
	if lifetime == LifetimeStatic {
		d.mu.Lock()
		defer d.mu.Unlock()
		start := alignUp(d.staticCursor, align)
		end := start + size
		if end > d.staticCapacity {
			return 0, false
		}
		d.staticCursor = end
		return start, true
	}
	off, ok := d.dynamic.Alloc(size, align)
	if !ok {
		return 0, false
	}
	return d.staticCapacity + off, true
}

func (d *DEBuffer) Flip() { d.dynamic.Flip() }

func (d *DEBuffer) StaticCapacity() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.staticCapacity
}

func (d *DEBuffer) StaticUsed() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.staticCursor
}
