// Package renderer is the top-level orchestration point (spec.md §9): the
// single Renderer implementation the host engine holds, owning every other
// component (devmem, arena, combuf, lightgrid, rtmodel, frame) with no
// ambient globals. There is exactly one Renderer per running instance.
//
// Grounded on root app.go/app_builder.go's builder-style construction and
// Init/Update/Render lifecycle, and renderer_select.go's single entry
// point dispatching into the active renderer backend.
package renderer

import (
	"context"
	"fmt"
	"sync"

	"github.com/gekko3d/rtcore/abi"
	"github.com/gekko3d/rtcore/arena"
	"github.com/gekko3d/rtcore/devmem"
	"github.com/gekko3d/rtcore/frame"
	"github.com/gekko3d/rtcore/hostapi"
	"github.com/gekko3d/rtcore/htable"
	"github.com/gekko3d/rtcore/lightgrid"
	"github.com/gekko3d/rtcore/profiler"
	"github.com/gekko3d/rtcore/rtlog"
	"github.com/gekko3d/rtcore/rtmodel"
	"github.com/go-gl/mathgl/mgl32"
)

// FatalError re-exports frame.FatalError under the root package so host
// code doesn't need to import frame just to type-switch on it (spec.md
// §7: fatal device errors surface at the frame boundary as a distinct
// error kind, not threaded through every call).
type FatalError = frame.FatalError

// TextureID identifies an uploaded texture across both refcount channels.
type TextureID uint32

// texture holds the two independent reference counts spec.md's DESIGN
// NOTES §9 requires: engine visibility and material references are tracked
// separately so a host re-acquire of an already-released texture can't
// silently double-free it.
type texture struct {
	path           string
	engineRefs     int
	materialRefs   int
	materialMode   abi.MaterialMode
}

func (t *texture) live() bool { return t.engineRefs > 0 || t.materialRefs > 0 }

// entity is one live draw instance added this frame via AddEntity.
type entity struct {
	modelSlot    int
	transform    mgl32.Mat4
	worldAABB    [2]mgl32.Vec3
	materialMode abi.MaterialMode
}

// Renderer is the single object the host holds. It owns the memory pool,
// arenas, light grid, model cache, and frame controller; nothing here is a
// package-level global.
type Renderer struct {
	mu sync.Mutex

	host hostapi.HostEngine
	log  rtlog.Logger
	prof *profiler.Profiler

	pool     *devmem.Pool
	geometry *arena.GrowableBuffer
	staging  *arena.Staging
	grid     *lightgrid.Grid
	models   *rtmodel.Cache
	tlas     *rtmodel.Builder
	frames   *frame.Controller

	// Backing devmem allocations for the buffers this package itself tracks
	// through the barrier system; geometry/BLAS storage proper is owned by
	// rtmodel's caller-supplied slabs in a full integration, but the light
	// grid and kusochki buffers are this package's own upload destinations
	// so it allocates and barriers them directly.
	geometryMem  devmem.Handle
	lightgridMem devmem.Handle
	kusochkiMem  devmem.Handle
	lightgridBuf *arena.Buffer
	kusochkiBuf  *arena.Buffer

	// pendingUploads accumulates this frame's staging allocations between
	// RenderFrame (where C4/C5 refresh their dynamic contents) and EndFrame
	// (where C6 commits them and issues barriers, spec.md §4.6.1).
	pendingUploads []frame.PendingUpload

	textures      map[TextureID]*texture
	textureIndex  *htable.Table
	nextTexture   TextureID

	surfaceOverrides map[int]hostapi.SurfaceOverride

	sceneStack []([]entity)
	scene      []entity
}

// Config bundles the construction-time parameters a host supplies; per-
// frame values live in rtconfig.Snapshot instead.
type Config struct {
	MapMin, MapMax mgl32.Vec3
	CellSize       float32
	MaxBLASSlots   int
	MaxKusochki    uint32
	KusokSize      uint32
	GeometryInitialCapacity uint64
}

// New builds a Renderer over an already-constructed, host-provided
// swapchain; it creates its own staging ring and owns everything
// downstream of the swapchain.
func New(host hostapi.HostEngine, sc frame.Swapchain, cfg Config, log rtlog.Logger) *Renderer {
	if log == nil {
		log = rtlog.NewNopLogger()
	}
	prof := profiler.New()
	staging := arena.NewStaging(arena.HeadroomPayload * 4)
	pool := devmem.New(defaultTypeSelector, devmem.WithLogger(log))
	grid := lightgrid.New(cfg.MapMin, cfg.MapMax, cfg.CellSize, log)

	r := &Renderer{
		host:             host,
		log:              log,
		prof:             prof,
		pool:             pool,
		geometry:         arena.NewGrowableBuffer(cfg.GeometryInitialCapacity, arena.HeadroomPayload),
		staging:          staging,
		grid:             grid,
		models:           rtmodel.New(cfg.MaxBLASSlots, cfg.MaxKusochki, cfg.KusokSize, log),
		tlas:             rtmodel.NewBuilder(log),
		frames:           frame.NewController(sc, staging, prof, log),
		textures:         make(map[TextureID]*texture),
		textureIndex:     htable.New(64, true),
		surfaceOverrides: make(map[int]hostapi.SurfaceOverride),
		lightgridBuf:     &arena.Buffer{Name: "lightgrid", Lifetime: arena.BufferLong},
		kusochkiBuf:      &arena.Buffer{Name: "kusochki", Lifetime: arena.BufferLong},
	}

	cellByteSize := uint64(4 + 4 + lightgrid.MaxPointLightsPerCell + lightgrid.MaxPolygonsPerCell)
	lightgridSize := uint64(grid.NumCells()) * cellByteSize
	kusochkiSize := uint64(cfg.MaxKusochki) * uint64(cfg.KusokSize)

	r.geometryMem = r.allocateDeviceLocal("geometry", cfg.GeometryInitialCapacity)
	r.lightgridMem = r.allocateDeviceLocal("light grid", lightgridSize)
	r.kusochkiMem = r.allocateDeviceLocal("kusochki", kusochkiSize)
	r.lightgridBuf.Size = lightgridSize
	r.kusochkiBuf.Size = kusochkiSize

	return r
}

// allocateDeviceLocal reserves size bytes of device-local memory from the
// pool for a buffer this package owns directly; a failure is logged (the
// caller's selectType always succeeds against wgpu's full memory-type mask
// in practice) rather than treated as fatal at construction time.
func (r *Renderer) allocateDeviceLocal(label string, size uint64) devmem.Handle {
	h, err := r.pool.Allocate(devmem.Request{
		Size:           size,
		Alignment:      devmem.MinAlignment,
		Properties:     devmem.PropertyDeviceLocal,
		MemoryTypeBits: ^uint32(0),
	})
	if err != nil {
		r.log.Warnf("renderer: device memory allocation for the %s buffer failed: %v", label, err)
	}
	return h
}

// defaultTypeSelector returns the lowest memory-type index set in typeBits
// and ignores the requested properties: with no memory-type table here it
// has nothing to match props against, so it does not prefer device-local
// or host-visible types.
func defaultTypeSelector(typeBits uint32, props devmem.PropertyFlags) (uint32, bool) {
	for i := uint32(0); i < 32; i++ {
		if typeBits&(1<<i) != 0 {
			return i, true
		}
	}
	return 0, false
}

// ClearScene drops every entity added this frame without touching the
// static light grid or BLAS cache's static slots (spec.md §9: scene
// clearing is a per-frame dynamic-state reset, not a map reload).
func (r *Renderer) ClearScene() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scene = r.scene[:0]
}

// PushScene/PopScene save and restore the dynamic entity list, used by the
// host to render a sub-scene (e.g. a view-model or mirror pass) without
// losing the main scene's accumulated entities.
func (r *Renderer) PushScene() {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make([]entity, len(r.scene))
	copy(saved, r.scene)
	r.sceneStack = append(r.sceneStack, saved)
	r.scene = nil
}

func (r *Renderer) PopScene() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sceneStack) == 0 {
		r.log.Warnf("renderer: pop_scene called with an empty scene stack, ignoring")
		return
	}
	last := len(r.sceneStack) - 1
	r.scene = r.sceneStack[last]
	r.sceneStack = r.sceneStack[:last]
}

// AddEntity resolves a legacy render type to a material mode and queues a
// draw instance for this frame's TLAS build.
func (r *Renderer) AddEntity(modelSlot int, legacyRenderType string, transform mgl32.Mat4, worldAABB [2]mgl32.Vec3) error {
	mode, ok := abi.MaterialModeFor(legacyRenderType)
	if !ok {
		return rtmodel.ErrUnknownRenderType
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scene = append(r.scene, entity{
		modelSlot:    modelSlot,
		transform:    transform,
		worldAABB:    worldAABB,
		materialMode: mode,
	})
	return nil
}

// UploadTextureFromMemory registers pixel data already decoded by the host
// and returns a handle with one more engine-visibility reference. A texture
// already uploaded at this path is looked up through the path index instead
// of minting a duplicate handle, so the same texture shared by two
// materials keeps a single dual-refcount entry (spec.md DESIGN NOTES §9).
func (r *Renderer) UploadTextureFromMemory(path string) TextureID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.textureIndex.Find(path); ok {
		id := TextureID(r.textureIndex.Value(idx))
		r.textures[id].engineRefs++
		return id
	}
	id := r.nextTexture
	r.nextTexture++
	r.textures[id] = &texture{path: path, engineRefs: 1}
	r.textureIndex.Insert(path, int(id))
	return id
}

// UploadTextureFromFile resolves path through the host's LoadImage
// callback; spec.md keeps file-system access on the host side of the
// hostapi.HostEngine boundary.
func (r *Renderer) UploadTextureFromFile(path string) (TextureID, error) {
	if _, ok := r.host.LoadImage(path); !ok {
		return 0, fmt.Errorf("renderer: host could not load image %q", path)
	}
	return r.UploadTextureFromMemory(path), nil
}

// AcquireTexture increments the material-reference count for an already
// uploaded texture (the host re-acquiring a texture it shares with another
// material); it never touches the engine-visibility count.
func (r *Renderer) AcquireTexture(id TextureID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.textures[id]; ok {
		t.materialRefs++
	}
}

// FreeTexture decrements one reference channel; the backing resource is
// only released once both channels reach zero (spec.md DESIGN NOTES §9).
func (r *Renderer) FreeTexture(id TextureID, material bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.textures[id]
	if !ok {
		return
	}
	if material {
		if t.materialRefs > 0 {
			t.materialRefs--
		}
	} else {
		if t.engineRefs > 0 {
			t.engineRefs--
		}
	}
	if !t.live() {
		delete(r.textures, id)
		r.textureIndex.Remove(t.path)
	}
}

// GetMaterialForTexture returns the material mode stored on a texture's
// entry, or ok=false if the handle is unknown or already fully released.
// No Renderer method assigns that mode, so every known texture reports
// abi.MaterialOpaque.
func (r *Renderer) GetMaterialForTexture(id TextureID) (mode abi.MaterialMode, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, exists := r.textures[id]
	if !exists {
		return 0, false
	}
	return t.materialMode, true
}

// BeginFrame delegates to the frame controller: waits the next slot's
// fence, reclaims staging, acquires the swapchain image.
func (r *Renderer) BeginFrame(ctx context.Context) error {
	if err := r.frames.BeginFrame(ctx, nil); err != nil {
		return err
	}
	r.grid.FrameBegin()
	return nil
}

// ApplySurfaceOverrides lands the host's parsed map-patch records (spec.md
// §6's MaterialSideChannel) so RenderFrame can fold them onto a surface's
// kusok the next time that surface's model slot is drawn. Re-applying
// replaces any override previously recorded for the same SurfaceID.
func (r *Renderer) ApplySurfaceOverrides(overrides []hostapi.SurfaceOverride) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range overrides {
		r.surfaceOverrides[o.SurfaceID] = o
	}
}

// RenderFrame builds this frame's draw records from the accumulated scene,
// refreshes the light grid's dirty cells and each drawn model's kusok into
// the staging ring (spec.md §2's "C6 ... asks C4 to refresh dynamic-light
// cell contents and upload the grid via C2 staging"), runs the TLAS build,
// and marks the frame controller's Render phase. It does not itself call
// BeginFrame/EndFrame — the host drives those at the frame boundary so it
// can interleave non-RT UI/HUD work.
func (r *Renderer) RenderFrame() ([]byte, error) {
	r.mu.Lock()
	records := make([]rtmodel.DrawRecord, 0, len(r.scene))
	for _, e := range r.scene {
		mode := e.materialMode
		if ov, ok := r.surfaceOverrides[e.modelSlot]; ok {
			mode = rtmodel.ResolveMaterialMode(mode, ov)
		}
		records = append(records, rtmodel.DrawRecord{
			Slot:         e.modelSlot,
			Transform:    e.transform,
			MaterialMode: mode,
			WorldAABB:    e.worldAABB,
		})
	}
	r.mu.Unlock()

	tlasBytes := r.tlas.Build(records)
	r.stageLightGridUpdates()
	r.stageKusochkiUpdates(records)
	r.frames.Render()
	return tlasBytes, nil
}

// stageLightGridUpdates encodes every coalesced dirty cell range and
// allocates staging space for it, queuing the range for EndFrame to commit
// and barrier (spec.md §4.4.3's dirty-range coalescing feeding §4.6.1's
// enqueue step).
func (r *Renderer) stageLightGridUpdates() {
	for _, rng := range r.grid.EncodeDirtyRanges() {
		size := uint64(len(rng.Data))
		if size == 0 {
			continue
		}
		off, ok := r.staging.Alloc(size)
		if !ok {
			r.log.Warnf("renderer: staging alloc failed for a %d-byte light-grid dirty range", size)
			continue
		}
		r.pendingUploads = append(r.pendingUploads, frame.PendingUpload{
			Buffer: r.lightgridBuf, Offset: off, Size: size,
		})
	}
}

// stageKusochkiUpdates re-encodes and stages the kusok for every drawn
// model slot whose material mode, color, or transform changed since its
// last upload (spec.md §4.5.2's bandwidth-saving reupload rule).
func (r *Renderer) stageKusochkiUpdates(records []rtmodel.DrawRecord) {
	const defaultColor = 1.0
	color := [4]float32{defaultColor, defaultColor, defaultColor, defaultColor}
	for _, rec := range records {
		if !r.models.Taken(rec.Slot) {
			continue
		}
		if !r.models.NeedsKusokReupload(rec.Slot, rec.MaterialMode, color, rec.Transform) {
			continue
		}
		kusochki := make([]rtmodel.Kusok, r.models.NumGeoms(rec.Slot))
		for i := range kusochki {
			kusochki[i] = rtmodel.Kusok{
				Material:      rtmodel.KusokMaterial{Mode: rec.MaterialMode},
				ModelColor:    color,
				PrevTransform: rec.Transform,
			}
		}
		upload := r.models.EncodeModelKusochki(rec.Slot, kusochki)
		size := uint64(len(upload.Data))
		if size == 0 {
			continue
		}
		off, ok := r.staging.Alloc(size)
		if !ok {
			r.log.Warnf("renderer: staging alloc failed for a %d-byte kusochki upload (slot %d)", size, rec.Slot)
			continue
		}
		r.pendingUploads = append(r.pendingUploads, frame.PendingUpload{
			Buffer: r.kusochkiBuf, Offset: off, Size: size,
		})
	}
}

// EndFrame commits this frame's staged light-grid and kusochki writes
// (tracking and barriering their destination buffers along the way),
// submits and presents, then releases this frame's dynamic BLAS cache
// entries so the next frame's AddEntity calls can reuse their slots.
func (r *Renderer) EndFrame() error {
	uploads := r.pendingUploads
	r.pendingUploads = nil
	if err := r.frames.EndFrame(uploads); err != nil {
		return err
	}
	r.models.ReleaseDynamicForFrame()
	return nil
}

// Screenshot returns the frame controller's current phase and a nil
// error. It captures no pixels and records nothing into the combuf.
func (r *Renderer) Screenshot() (frame.Phase, error) {
	return r.frames.Phase(), nil
}

// Grid exposes the light grid for BSP-load-time static light population;
// callers use lightgrid.Grid's AddStatic* methods directly against the
// returned pointer.
func (r *Renderer) Grid() *lightgrid.Grid { return r.grid }

// Models exposes the BLAS cache for get_or_create calls made while
// resolving scene entities to model slots.
func (r *Renderer) Models() *rtmodel.Cache { return r.models }
