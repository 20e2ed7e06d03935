package rtmodel

import (
	"encoding/binary"
	"math"

	"github.com/gekko3d/rtcore/abi"
	"github.com/gekko3d/rtcore/hostapi"
	"github.com/go-gl/mathgl/mgl32"
)

// KusokMaterial is the material sub-record spec.md §3 lists inside Kusok:
// `material: { tex_base_color, tex_metalness, tex_roughness, tex_normalmap,
// factors, mode }`. The four tex_* fields are texture handles (resolved
// through renderer.Renderer's texture table) rather than raw pixel data.
type KusokMaterial struct {
	TexBaseColor uint32
	TexMetalness uint32
	TexRoughness uint32
	TexNormalMap uint32
	Factors      mgl32.Vec4
	Mode         abi.MaterialMode
}

// Kusok is the per-surface material record spec.md §3 defines: `{
// index_offset, vertex_offset, triangle_count, emissive, material{...},
// model_color, prev_transform }`. One of these is written per geometry in
// a cache entry at kusochki_offset+i (spec.md §4.5.2).
type Kusok struct {
	IndexOffset   uint32
	VertexOffset  uint32
	TriangleCount uint32
	Emissive      mgl32.Vec3
	Material      KusokMaterial
	ModelColor    [4]float32
	PrevTransform mgl32.Mat4
}

// KusokByteSize is the packed size EncodeKusok produces, laid out with the
// same WGSL-alignment padding style tlas.go's TLASNode.toBytes uses (vec3
// fields padded to 16 bytes, the trailing scalar of a block padded to its
// block's own 16-byte boundary).
const KusokByteSize = 160

// EncodeKusok packs one kusok into its shader-visible byte layout, matching
// the teacher's byte-packing idiom (encoding/binary.LittleEndian plus
// math.Float32bits) used throughout voxelrt/rt/gpu/manager.go and reused
// here and in lightgrid/upload.go.
func EncodeKusok(k Kusok) []byte {
	buf := make([]byte, KusokByteSize)
	putU32 := func(off int, v uint32) { binary.LittleEndian.PutUint32(buf[off:], v) }
	putF32 := func(off int, v float32) { binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v)) }

	putU32(0, k.IndexOffset)
	putU32(4, k.VertexOffset)
	putU32(8, k.TriangleCount)
	// 12: padding, aligns Emissive to a 16-byte boundary.

	putF32(16, k.Emissive.X())
	putF32(20, k.Emissive.Y())
	putF32(24, k.Emissive.Z())
	// 28: padding, aligns the material block to a 16-byte boundary.

	putU32(32, k.Material.TexBaseColor)
	putU32(36, k.Material.TexMetalness)
	putU32(40, k.Material.TexRoughness)
	putU32(44, k.Material.TexNormalMap)
	putF32(48, k.Material.Factors.X())
	putF32(52, k.Material.Factors.Y())
	putF32(56, k.Material.Factors.Z())
	putF32(60, k.Material.Factors.W())
	putU32(64, uint32(k.Material.Mode))
	// 68: padding, aligns ModelColor to a 16-byte boundary.

	putF32(80, k.ModelColor[0])
	putF32(84, k.ModelColor[1])
	putF32(88, k.ModelColor[2])
	putF32(92, k.ModelColor[3])

	for i := 0; i < 16; i++ {
		putF32(96+i*4, k.PrevTransform[i])
	}
	return buf
}

// ResolveMaterialMode folds a parsed map-patch SurfaceOverride onto a
// surface's base material mode before its kusok is built. A recognized
// RenderMode takes the mode's name from abi.RenderTypeTable; ForceOpaque
// wins over everything else. SideValue is consumed here as the brush-model
// loader's water "side" inconsistency reproduces it: a non-zero side
// pushes an otherwise-translucent water surface to the additive-blend
// variant instead of leaving it plain translucent, mirroring the same kind
// of worldmodel-vs-submodel discrepancy the original loader produces
// between a PLANE_Z-gated check and an unconditional one (spec.md Open
// Question, water "side" surfaces). This function does not decide which
// behavior is "correct" — it only reproduces the discrepancy already
// present in override.SideValue.
func ResolveMaterialMode(base abi.MaterialMode, o hostapi.SurfaceOverride) abi.MaterialMode {
	mode := base
	if rendered, ok := abi.MaterialModeFor(o.RenderMode); ok {
		mode = rendered
	}
	if o.SideValue != 0 && mode == abi.MaterialTranslucent {
		mode = abi.MaterialBlendAdd
	}
	if o.ForceOpaque {
		mode = abi.MaterialOpaque
	}
	return mode
}

// KusokUpload is the staging write EncodeModelKusochki produces: num_geoms
// contiguous kusok records starting at kusochki_offset*sizeof(Kusok)
// (spec.md §4.5.2).
type KusokUpload struct {
	ByteOffset uint64
	Data       []byte
}

// EncodeModelKusochki builds the staging payload for one cache slot's
// kusochki, using the slot's reserved offset and the caller-supplied
// per-geometry records (one Kusok per geometry in the model).
func (c *Cache) EncodeModelKusochki(slot int, kusochki []Kusok) KusokUpload {
	e := &c.entries[slot]
	data := make([]byte, 0, len(kusochki)*KusokByteSize)
	for _, k := range kusochki {
		data = append(data, EncodeKusok(k)...)
	}
	return KusokUpload{
		ByteOffset: uint64(e.kusochkiOffset) * uint64(c.kusokSize),
		Data:       data,
	}
}
