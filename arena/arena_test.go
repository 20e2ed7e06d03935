package arena

import "testing"

func TestFlippingAllocatorFailsWhenFull(t *testing.T) {
	f := NewFlippingAllocator(100)
	if _, ok := f.Alloc(60, 1); !ok {
		t.Fatal("first allocation should fit")
	}
	if _, ok := f.Alloc(60, 1); ok {
		t.Fatal("second allocation exceeding the half size should fail")
	}
}

func TestFlippingAllocatorPreviousHalfUntouchedUntilFlip(t *testing.T) {
	f := NewFlippingAllocator(100)
	f.Alloc(40, 1)
	watermarkBeforeFlip := f.Used(0)
	f.Flip()
	// allocate into the new current half (half 1); half 0's watermark must
	// remain exactly what it was, since it is the "previous frame" region.
	f.Alloc(10, 1)
	if f.Used(0) != watermarkBeforeFlip {
		t.Fatalf("previous half watermark changed: got %d want %d", f.Used(0), watermarkBeforeFlip)
	}
}

func TestFlippingAllocatorAlternatesHalves(t *testing.T) {
	f := NewFlippingAllocator(100)
	if f.CurrentHalf() != 0 {
		t.Fatal("should start on half 0")
	}
	f.Flip()
	if f.CurrentHalf() != 1 {
		t.Fatal("should be on half 1 after one flip")
	}
	f.Flip()
	if f.CurrentHalf() != 0 {
		t.Fatal("should be back on half 0 after two flips")
	}
}

func TestDEBufferStaticAndDynamicNeverInterleave(t *testing.T) {
	d := NewDEBuffer(1000, 200)
	staticOff, ok := d.Alloc(LifetimeStatic, 100, 1)
	if !ok || staticOff >= 1000 {
		t.Fatalf("static allocation must land below the static capacity, got %d ok=%v", staticOff, ok)
	}
	dynOff, ok := d.Alloc(LifetimeDynamic, 50, 1)
	if !ok || dynOff < 1000 {
		t.Fatalf("dynamic allocation must land at or after the static capacity, got %d ok=%v", dynOff, ok)
	}
}

func TestDEBufferKusochkiFixtureFromSpec(t *testing.T) {
	// spec.md §8 fixture 6: 100 static geoms then a 10-geom dynamic model;
	// dynamic offset >= static half's base, static offset < half, dynamic
	// offset >= half.
	const maxKusochki = 1000
	const kusokSize = 4
	half := uint64(maxKusochki / 2 * kusokSize)
	d := NewDEBuffer(half, half)
	var staticOffsets []uint64
	for i := 0; i < 100; i++ {
		off, ok := d.Alloc(LifetimeStatic, kusokSize, 1)
		if !ok {
			t.Fatalf("static alloc %d should succeed", i)
		}
		staticOffsets = append(staticOffsets, off)
	}
	dynOff, ok := d.Alloc(LifetimeDynamic, 10*kusokSize, 1)
	if !ok {
		t.Fatal("dynamic allocation should succeed")
	}
	for _, off := range staticOffsets {
		if off >= half {
			t.Fatalf("static offset %d must be < half %d", off, half)
		}
	}
	if dynOff < half {
		t.Fatalf("dynamic offset %d must be >= half %d", dynOff, half)
	}
}

func TestStagingReclaimFreesSpaceForReuse(t *testing.T) {
	s := NewStaging(1000)
	off1, ok := s.Alloc(400)
	if !ok {
		t.Fatal("first staging alloc should fit")
	}
	tag1 := s.Commit(off1, 400)

	off2, ok := s.Alloc(400)
	if !ok {
		t.Fatal("second staging alloc should fit")
	}
	s.Commit(off2, 400)

	if _, ok := s.Alloc(400); ok {
		t.Fatal("third allocation should not fit before any reclaim")
	}

	s.Reclaim(tag1)
	if s.PendingCount() != 1 {
		t.Fatalf("expected 1 pending range after reclaiming tag1, got %d", s.PendingCount())
	}
}

func TestGrowableBufferGeometricGrowth(t *testing.T) {
	g := NewGrowableBuffer(100, 10)
	var oldCap, newCap uint64
	g.CopyOnGrow = func(o, n uint64) { oldCap, newCap = o, n }

	grew := g.EnsureCapacity(80)
	if grew {
		t.Fatal("should not grow when required fits in current capacity")
	}

	grew = g.EnsureCapacity(500)
	if !grew {
		t.Fatal("should grow when required exceeds capacity")
	}
	if oldCap != 100 {
		t.Fatalf("expected old capacity 100, got %d", oldCap)
	}
	if newCap < 500+10 {
		t.Fatalf("expected new capacity to cover required+headroom, got %d", newCap)
	}
	if g.Capacity() != newCap {
		t.Fatalf("capacity not updated: %d vs %d", g.Capacity(), newCap)
	}
}
