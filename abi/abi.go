// Package abi holds the numeric constants shared with shader code. These
// values are part of the wire contract between this module and the WGSL
// shaders the host compiles; none of them may be renumbered without
// updating both sides in lockstep.
package abi

// MaterialMode selects the shading/blend path a kusok uses.
type MaterialMode uint32

const (
	MaterialOpaque      MaterialMode = 0
	MaterialAlphaTest    MaterialMode = 1
	MaterialTranslucent  MaterialMode = 2
	MaterialBlendAdd     MaterialMode = 3
	MaterialBlendMix     MaterialMode = 4
	MaterialBlendGlow    MaterialMode = 5
)

// GeometryFlags is a bitmask describing how a piece of geometry participates
// in the ray-tracing pass.
type GeometryFlags uint32

const (
	GeomOpaque      GeometryFlags = 1 << 0
	GeomAlphaTest   GeometryFlags = 1 << 1
	GeomBlend       GeometryFlags = 1 << 2
	GeomRefractive  GeometryFlags = 1 << 3
	GeomCastsShadow GeometryFlags = 1 << 4
)

// HitGroup indexes the shader binding table's hit-group region. Each of the
// three material families (regular, alpha-tested, additive) occupies two
// consecutive groups (front/back-face or primary/shadow, depending on the
// pipeline build).
type HitGroup uint32

const (
	HitGroupRegular HitGroup = iota
	HitGroupRegular2
	HitGroupAlphaTest
	HitGroupAlphaTest2
	HitGroupAdditive
	HitGroupAdditive2
	HitGroupCount
)

// MissShader indexes the shader binding table's miss-shader region.
type MissShader uint32

const (
	MissRegular MissShader = iota
	MissShadow
	MissEmpty
	MissCount
)

// RenderTypeMapping is one row of the legacy-render-type -> material-mode
// table (spec.md §4.5.3). It is intentionally a plain data table rather
// than a switch so the one-to-one mapping is auditable at a glance.
type RenderTypeMapping struct {
	LegacyRenderType string
	Mode             MaterialMode
	Additive         bool
	DepthWrite       bool
	DepthTest        bool
	AlphaTest        bool
}

// RenderTypeTable is the hard-coded legacy render-type to material-mode
// mapping. An entry with no match here is an unknown mapping: fatal for the
// calling frame (see rtmodel.ErrUnknownRenderType) but must never corrupt
// the BLAS cache.
var RenderTypeTable = []RenderTypeMapping{
	{LegacyRenderType: "solid", Mode: MaterialOpaque, DepthWrite: true, DepthTest: true},
	{LegacyRenderType: "alpha_test", Mode: MaterialAlphaTest, DepthWrite: true, DepthTest: true, AlphaTest: true},
	{LegacyRenderType: "trans_color_rw", Mode: MaterialTranslucent, DepthWrite: true, DepthTest: true},
	{LegacyRenderType: "trans_color_r", Mode: MaterialTranslucent, DepthWrite: false, DepthTest: true},
	{LegacyRenderType: "trans_add_r", Mode: MaterialBlendAdd, Additive: true, DepthWrite: false, DepthTest: true},
	{LegacyRenderType: "trans_add_one_r", Mode: MaterialBlendAdd, Additive: true, DepthWrite: false, DepthTest: true},
	{LegacyRenderType: "glow", Mode: MaterialBlendGlow, Additive: true, DepthWrite: false, DepthTest: false},
}

// MaterialModeFor looks up the material mode for a legacy render type.
// ok is false for anything not present in RenderTypeTable.
func MaterialModeFor(legacyRenderType string) (mode MaterialMode, ok bool) {
	for _, row := range RenderTypeTable {
		if row.LegacyRenderType == legacyRenderType {
			return row.Mode, true
		}
	}
	return 0, false
}
