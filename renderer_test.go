package renderer

import (
	"context"
	"image"
	"testing"

	"github.com/gekko3d/rtcore/frame"
	"github.com/gekko3d/rtcore/hostapi"
	"github.com/gekko3d/rtcore/lightgrid"
	"github.com/gekko3d/rtcore/rtconfig"
	"github.com/go-gl/mathgl/mgl32"
)

type fakeHost struct{}

func (fakeHost) LeafContaining(origin mgl32.Vec3) lightgrid.LeafID { return 0 }
func (fakeHost) LeafPVS(leaf lightgrid.LeafID) lightgrid.PVS       { return lightgrid.PVS{^uint64(0)} }
func (fakeHost) LeafAABB(leaf lightgrid.LeafID) lightgrid.AABB {
	return lightgrid.AABB{Min: mgl32.Vec3{-1, -1, -1}, Max: mgl32.Vec3{1, 1, 1}}
}
func (fakeHost) LeafsReferencingSurface(surfaceID int) []lightgrid.LeafID { return []lightgrid.LeafID{0} }
func (fakeHost) LoadImage(path string) (hostapi.ImageData, bool) {
	return hostapi.ImageData{RGBA: image.NewRGBA(image.Rect(0, 0, 1, 1))}, true
}
func (fakeHost) Config() rtconfig.Snapshot          { return rtconfig.DefaultSnapshot() }
func (fakeHost) FrameTime() float64                 { return 0 }
func (fakeHost) Random() float32                    { return 0.5 }
func (fakeHost) Print(line string)                  {}
func (fakeHost) EntityTransform(entityID int) mgl32.Mat4 { return mgl32.Ident4() }

type fakeSwapchain struct{}

func (fakeSwapchain) Acquire(sem *frame.Semaphore) (uint32, frame.AcquireResult) {
	sem.Signal()
	return 0, frame.AcquireSuccess
}
func (fakeSwapchain) Recreate(w, h uint32)          {}
func (fakeSwapchain) CurrentExtent() (uint32, uint32) { return 1920, 1080 }
func (fakeSwapchain) Present(sem *frame.Semaphore) frame.AcquireResult { return frame.AcquireSuccess }

func newTestRenderer() *Renderer {
	cfg := Config{
		MapMin: mgl32.Vec3{-100, -100, -100}, MapMax: mgl32.Vec3{100, 100, 100},
		CellSize: 16, MaxBLASSlots: 8, MaxKusochki: 100, KusokSize: 64,
		GeometryInitialCapacity: 1024,
	}
	return New(fakeHost{}, fakeSwapchain{}, cfg, nil)
}

func TestAddEntityUnknownRenderTypeFails(t *testing.T) {
	r := newTestRenderer()
	err := r.AddEntity(0, "nonexistent", mgl32.Ident4(), [2]mgl32.Vec3{})
	if err == nil {
		t.Fatal("expected an error for an unmapped legacy render type")
	}
}

func TestAddEntityKnownRenderTypeQueuesScene(t *testing.T) {
	r := newTestRenderer()
	if err := r.AddEntity(0, "solid", mgl32.Ident4(), [2]mgl32.Vec3{{0, 0, 0}, {1, 1, 1}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.scene) != 1 {
		t.Fatalf("expected 1 queued entity, got %d", len(r.scene))
	}
}

func TestClearSceneEmptiesQueuedEntities(t *testing.T) {
	r := newTestRenderer()
	r.AddEntity(0, "solid", mgl32.Ident4(), [2]mgl32.Vec3{})
	r.ClearScene()
	if len(r.scene) != 0 {
		t.Fatal("expected clear_scene to empty the entity list")
	}
}

func TestPushPopSceneRoundTrips(t *testing.T) {
	r := newTestRenderer()
	r.AddEntity(0, "solid", mgl32.Ident4(), [2]mgl32.Vec3{})
	r.PushScene()
	if len(r.scene) != 0 {
		t.Fatal("push_scene must start the new scene empty")
	}
	r.AddEntity(1, "alpha_test", mgl32.Ident4(), [2]mgl32.Vec3{})
	r.PopScene()
	if len(r.scene) != 1 || r.scene[0].modelSlot != 0 {
		t.Fatalf("expected the original 1-entity scene restored, got %+v", r.scene)
	}
}

func TestTextureRefcountsAreIndependent(t *testing.T) {
	r := newTestRenderer()
	id := r.UploadTextureFromMemory("textures/foo.png")
	r.AcquireTexture(id)

	r.FreeTexture(id, false) // drop the engine-visibility reference
	if _, ok := r.textures[id]; !ok {
		t.Fatal("texture must survive while a material reference remains")
	}

	r.FreeTexture(id, true) // drop the last material reference
	if _, ok := r.textures[id]; ok {
		t.Fatal("texture should be released once both refcounts reach zero")
	}
}

func TestFreeTextureDoubleReleaseOnOneChannelIsSafe(t *testing.T) {
	r := newTestRenderer()
	id := r.UploadTextureFromMemory("textures/foo.png")
	r.FreeTexture(id, false)
	r.FreeTexture(id, false) // re-release on an already-zero channel must not underflow or panic
	if _, ok := r.textures[id]; ok {
		t.Fatal("expected the texture released after its one engine reference dropped")
	}
}

func TestUploadTextureFromMemoryDedupesByPath(t *testing.T) {
	r := newTestRenderer()
	first := r.UploadTextureFromMemory("textures/shared.png")
	second := r.UploadTextureFromMemory("textures/shared.png")
	if first != second {
		t.Fatalf("expected the same path to resolve to the same handle, got %d and %d", first, second)
	}
	if r.textures[first].engineRefs != 2 {
		t.Fatalf("expected two engine references after uploading the same path twice, got %d", r.textures[first].engineRefs)
	}
	r.FreeTexture(first, false)
	if _, ok := r.textures[first]; !ok {
		t.Fatal("texture must survive the first release: one engine reference remains")
	}
	r.FreeTexture(first, false)
	if _, ok := r.textures[first]; ok {
		t.Fatal("texture should be released once both uploads' engine references drop")
	}
	third := r.UploadTextureFromMemory("textures/shared.png")
	if third == first {
		t.Fatal("a fully released path must mint a fresh handle, not resurrect the old one")
	}
}

func TestApplySurfaceOverrideFoldsIntoRenderFrameWithoutError(t *testing.T) {
	r := newTestRenderer()
	r.ApplySurfaceOverrides([]hostapi.SurfaceOverride{{SurfaceID: 0, SideValue: 1}})
	if err := r.BeginFrame(context.Background()); err != nil {
		t.Fatalf("begin_frame: %v", err)
	}
	r.AddEntity(0, "trans_color_rw", mgl32.Ident4(), [2]mgl32.Vec3{{0, 0, 0}, {1, 1, 1}})
	if _, err := r.RenderFrame(); err != nil {
		t.Fatalf("render_frame: %v", err)
	}
	if err := r.EndFrame(); err != nil {
		t.Fatalf("end_frame: %v", err)
	}
}

func TestBeginRenderEndFrameRoundTrip(t *testing.T) {
	r := newTestRenderer()
	if err := r.BeginFrame(context.Background()); err != nil {
		t.Fatalf("begin_frame: %v", err)
	}
	r.AddEntity(0, "solid", mgl32.Ident4(), [2]mgl32.Vec3{{0, 0, 0}, {1, 1, 1}})
	if _, err := r.RenderFrame(); err != nil {
		t.Fatalf("render_frame: %v", err)
	}
	if err := r.EndFrame(); err != nil {
		t.Fatalf("end_frame: %v", err)
	}
}
