package rtmodel

import (
	"github.com/gekko3d/rtcore/abi"
	"github.com/go-gl/mathgl/mgl32"
)

// DrawRecordFromLegacy resolves a legacy render type to its material mode
// via abi.RenderTypeTable and builds a DrawRecord. An unmapped render type
// is fatal for the calling frame (ErrUnknownRenderType) but leaves the
// cache untouched (spec.md §4.5.3).
func DrawRecordFromLegacy(slot int, legacyRenderType string, transform mgl32.Mat4, worldAABB [2]mgl32.Vec3) (DrawRecord, error) {
	mode, ok := abi.MaterialModeFor(legacyRenderType)
	if !ok {
		return DrawRecord{}, ErrUnknownRenderType
	}
	return DrawRecord{
		Slot:         slot,
		Transform:    transform,
		MaterialMode: mode,
		WorldAABB:    worldAABB,
	}, nil
}
