package devmem

import "testing"

func fixedType(typeIndex uint32, ok bool) TypeSelector {
	return func(memoryTypeBits uint32, props PropertyFlags) (uint32, bool) {
		if !ok {
			return 0, false
		}
		return typeIndex, true
	}
}

func TestAllocateCreatesSlabAtLeastDefaultSize(t *testing.T) {
	p := New(fixedType(0, true))
	h, err := p.Allocate(Request{Size: 1024, Properties: PropertyDeviceLocal, MemoryTypeBits: 0xFFFFFFFF})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st := p.Stats()
	if st.SlotCount != 1 {
		t.Fatalf("expected one slab, got %d", st.SlotCount)
	}
	if st.DeviceAllocated != DefaultSlabSize {
		t.Fatalf("expected slab size to floor to DefaultSlabSize, got %d", st.DeviceAllocated)
	}
	if h.SlotIndex != 0 {
		t.Fatalf("expected slot 0, got %d", h.SlotIndex)
	}
}

func TestNoMemoryTypeFails(t *testing.T) {
	p := New(fixedType(0, false))
	_, err := p.Allocate(Request{Size: 16, MemoryTypeBits: 1})
	if err != ErrNoMemoryType {
		t.Fatalf("expected ErrNoMemoryType, got %v", err)
	}
}

func TestSlotTableFullAfterMaxSlots(t *testing.T) {
	// each distinct typeIndex forces a new slot since none can share one.
	p := New(func(bits uint32, props PropertyFlags) (uint32, bool) { return bits, true })
	for i := uint32(0); i < MaxSlots; i++ {
		_, err := p.Allocate(Request{Size: 16, MemoryTypeBits: i})
		if err != nil {
			t.Fatalf("slot %d: unexpected error %v", i, err)
		}
	}
	_, err := p.Allocate(Request{Size: 16, MemoryTypeBits: MaxSlots})
	if err != ErrSlotTableFull {
		t.Fatalf("expected ErrSlotTableFull, got %v", err)
	}
}

func TestAllocatedCurrentTracksAllocAndFree(t *testing.T) {
	p := New(fixedType(0, true))
	h1, _ := p.Allocate(Request{Size: 100, MemoryTypeBits: 1})
	h2, _ := p.Allocate(Request{Size: 200, MemoryTypeBits: 1})
	if p.Stats().AllocatedCurrent != 300 {
		t.Fatalf("expected allocated_current=300, got %d", p.Stats().AllocatedCurrent)
	}
	p.Release(h1)
	if p.Stats().AllocatedCurrent != 200 {
		t.Fatalf("expected allocated_current=200 after release, got %d", p.Stats().AllocatedCurrent)
	}
	p.Release(h2)
	if p.Stats().AllocatedCurrent != 0 {
		t.Fatalf("expected allocated_current=0 after releasing everything, got %d", p.Stats().AllocatedCurrent)
	}
}

func TestNonOverlappingAllocationsWithinSlab(t *testing.T) {
	p := New(fixedType(0, true))
	h1, _ := p.Allocate(Request{Size: 64, MemoryTypeBits: 1})
	h2, _ := p.Allocate(Request{Size: 64, MemoryTypeBits: 1})
	if h1.SlotIndex != h2.SlotIndex {
		t.Fatal("both allocations should land in the same slab")
	}
	a1, b1 := h1.Offset, h1.Offset+h1.Size
	a2, b2 := h2.Offset, h2.Offset+h2.Size
	overlap := a1 < b2 && a2 < b1
	if overlap {
		t.Fatalf("allocations overlap: [%d,%d) and [%d,%d)", a1, b1, a2, b2)
	}
}

func TestHandleRespectsMinimumAlignment(t *testing.T) {
	p := New(fixedType(0, true))
	h, _ := p.Allocate(Request{Size: 3, MemoryTypeBits: 1})
	_, _ = p.Allocate(Request{Size: 3, MemoryTypeBits: 1})
	h2, _ := p.Allocate(Request{Size: 3, MemoryTypeBits: 1})
	if h2.Offset%MinAlignment != 0 {
		t.Fatalf("offset %d is not aligned to %d", h2.Offset, MinAlignment)
	}
	_ = h
}

func TestMappedPtrPresentOnlyForHostVisible(t *testing.T) {
	p := New(fixedType(0, true))
	deviceLocal, _ := p.Allocate(Request{Size: 16, Properties: PropertyDeviceLocal, MemoryTypeBits: 1})
	if deviceLocal.MappedPtr != nil {
		t.Fatal("device-local allocation should not be mapped")
	}
	hostVisible, _ := p.Allocate(Request{Size: 16, Properties: PropertyHostVisible, MemoryTypeBits: 1})
	if hostVisible.MappedPtr == nil {
		t.Fatal("host-visible allocation should be mapped")
	}
}

func TestReleaseThenReallocateReusesFreedSpace(t *testing.T) {
	p := New(fixedType(0, true))
	h1, _ := p.Allocate(Request{Size: 1000, MemoryTypeBits: 1})
	p.Release(h1)
	h2, _ := p.Allocate(Request{Size: 1000, MemoryTypeBits: 1})
	if h2.Offset != h1.Offset {
		t.Fatalf("expected freed space to be reused at offset %d, got %d", h1.Offset, h2.Offset)
	}
}
