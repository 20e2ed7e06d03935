package rtmodel

import (
	"testing"

	"github.com/gekko3d/rtcore/abi"
	"github.com/go-gl/mathgl/mgl32"
)

func sig(n int) Signature {
	s := make(Signature, n)
	for i := range s {
		s[i] = GeomDesc{Type: 1, MaxVertex: 100, Stride: 32}
	}
	return s
}

func TestDynamicModelReusesSameSlotAcrossFrames(t *testing.T) {
	c := New(8, 1000, 64, nil)
	req := ModelRequest{Geoms: sig(3), NumGeoms: 3, Dynamic: true}

	slot1, err := c.GetOrCreate(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.ReleaseDynamicForFrame()
	slot2, err := c.GetOrCreate(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slot1 != slot2 {
		t.Fatalf("expected the same slot across frames, got %d then %d", slot1, slot2)
	}
}

func TestDistinctSignatureAllocatesDifferentSlot(t *testing.T) {
	c := New(8, 1000, 64, nil)
	reqA := ModelRequest{Geoms: sig(3), NumGeoms: 3, Dynamic: true}
	reqB := ModelRequest{Geoms: sig(5), NumGeoms: 5, Dynamic: true}

	slotA, _ := c.GetOrCreate(reqA)
	c.ReleaseDynamicForFrame()
	slotB, err := c.GetOrCreate(reqB)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slotA == slotB {
		t.Fatal("a distinct geometry signature must not reuse the same slot while the first is still cached")
	}
}

func TestStaticEntryRemainsTakenAcrossFrames(t *testing.T) {
	c := New(4, 1000, 64, nil)
	req := ModelRequest{Geoms: sig(2), NumGeoms: 2, Dynamic: false}
	slot, _ := c.GetOrCreate(req)
	c.ReleaseDynamicForFrame()
	if !c.Taken(slot) {
		t.Fatal("a static entry must remain taken after release_dynamic_for_frame")
	}
}

func TestCacheFullReturnsErrCacheFull(t *testing.T) {
	c := New(1, 1000, 64, nil)
	req := ModelRequest{Geoms: sig(1), NumGeoms: 1, Dynamic: false}
	if _, err := c.GetOrCreate(req); err != nil {
		t.Fatalf("unexpected error on first insert: %v", err)
	}
	other := ModelRequest{Geoms: sig(2), NumGeoms: 2, Dynamic: false}
	if _, err := c.GetOrCreate(other); err != ErrCacheFull {
		t.Fatalf("expected ErrCacheFull, got %v", err)
	}
}

func TestNoTwoTakenEntriesShareKusochkiRange(t *testing.T) {
	c := New(8, 1000, 64, nil)
	c.GetOrCreate(ModelRequest{Geoms: sig(10), NumGeoms: 10, Dynamic: false})
	c.GetOrCreate(ModelRequest{Geoms: sig(20), NumGeoms: 20, Dynamic: false})
	if err := c.ValidateNoOverlap(); err != nil {
		t.Fatalf("unexpected overlap: %v", err)
	}
}

func TestNeedsKusokReuploadDetectsChange(t *testing.T) {
	c := New(4, 1000, 64, nil)
	slot, _ := c.GetOrCreate(ModelRequest{
		Geoms: sig(1), NumGeoms: 1, MaterialMode: abi.MaterialOpaque,
		Color: [4]float32{1, 1, 1, 1}, PrevTransform: mgl32.Ident4(),
	})
	if c.NeedsKusokReupload(slot, abi.MaterialOpaque, [4]float32{1, 1, 1, 1}, mgl32.Ident4()) {
		t.Fatal("unchanged (mode, color, transform) should not require reupload")
	}
	if !c.NeedsKusokReupload(slot, abi.MaterialTranslucent, [4]float32{1, 1, 1, 1}, mgl32.Ident4()) {
		t.Fatal("a changed material mode must require reupload")
	}
}

func TestTLASBuildEmptySceneProducesEmptyNode(t *testing.T) {
	b := NewBuilder(nil)
	bytes := b.Build(nil)
	if len(bytes) != 64 {
		t.Fatalf("expected a single 64-byte empty node, got %d bytes", len(bytes))
	}
}

func TestTLASBuildDropsExcessDrawRecords(t *testing.T) {
	b := NewBuilder(nil)
	b.DrawRecordLimit = 2
	records := make([]DrawRecord, 5)
	for i := range records {
		records[i] = DrawRecord{Slot: i, WorldAABB: [2]mgl32.Vec3{{0, 0, 0}, {1, 1, 1}}}
	}
	out := b.Build(records)
	// 2 leaves + 1 internal node = 3 nodes * 64 bytes
	if len(out) != 3*64 {
		t.Fatalf("expected exactly DrawRecordLimit leaves worth of nodes, got %d bytes", len(out))
	}
}

func TestDrawRecordFromLegacyUnknownTypeFails(t *testing.T) {
	_, err := DrawRecordFromLegacy(0, "nonexistent", mgl32.Ident4(), [2]mgl32.Vec3{})
	if err != ErrUnknownRenderType {
		t.Fatalf("expected ErrUnknownRenderType, got %v", err)
	}
}

func TestDrawRecordFromLegacyKnownTypeSucceeds(t *testing.T) {
	rec, err := DrawRecordFromLegacy(0, "solid", mgl32.Ident4(), [2]mgl32.Vec3{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.MaterialMode != abi.MaterialOpaque {
		t.Fatalf("expected Opaque mode for solid render type, got %v", rec.MaterialMode)
	}
}
