// Package hostapi defines the trait bridge between this module and the
// host game engine (spec.md §6's "External interfaces"): the interface the
// core consumes (HostEngine) and the typed records that flow across it for
// data the host parses but the core interprets (SurfaceOverride,
// lightgrid.EmissiveRecord).
//
// Grounded on root mod_client.go's engine-callback style (the teacher's
// gameplay modules reach the host engine through a narrow interface rather
// than a global) and DESIGN NOTES §9's explicit host/core boundary.
package hostapi

import (
	"image"

	"github.com/gekko3d/rtcore/lightgrid"
	"github.com/gekko3d/rtcore/rtconfig"
	"github.com/go-gl/mathgl/mgl32"
)

// SurfaceOverride is one parsed map-patch record (the text-format overrides
// spec.md keeps out of this module's own parsing responsibility, per its
// Non-goals). The host parses the patch file and hands typed records here;
// rtmodel consumes SideValue to resolve the water "side" surface
// inconsistency spec.md documents as reproduced, not fixed.
type SurfaceOverride struct {
	SurfaceID    int
	RenderMode   string
	SideValue    int
	ForceOpaque  bool
}

// MaterialSideChannel is the host-implemented source of parsed side-channel
// text data: the emissive-surface table and map-patch overrides. This
// module never opens or tokenizes those files itself.
type MaterialSideChannel interface {
	EmissiveRecords() []lightgrid.EmissiveRecord
	SurfaceOverrides() []SurfaceOverride
}

// ImageData is a decoded texture the host hands back from its file-system
// image-load callback; Pix/Stride/Bounds follow image.RGBA's layout so this
// module can upload it without a second decode step.
type ImageData struct {
	RGBA   *image.RGBA
	SRGB   bool
}

// HostEngine is the subset of the host game engine this module calls into:
// model accessors, PVS/leaf queries, image loading, per-frame config, time,
// randomness, and a console sink for diagnostics (spec.md §6).
type HostEngine interface {
	lightgrid.BSPSource

	// LoadImage resolves a texture path through the host's file system /
	// pak archive and returns decoded pixels, or ok=false if absent.
	LoadImage(path string) (img ImageData, ok bool)

	// Config returns this frame's immutable cvar snapshot.
	Config() rtconfig.Snapshot

	// FrameTime returns the current frame's wall time in seconds, used by
	// lightgrid.LightStyles.Value's animation clock.
	FrameTime() float64

	// Random returns a deterministic-per-call pseudo-random float in
	// [0,1), sourced from the host so the core never seeds its own RNG
	// (keeps replay/demo determinism on the host side).
	Random() float32

	// Print writes one line to the host's console/log sink, distinct from
	// rtlog (which is this module's own structured log).
	Print(line string)

	// EntityTransform returns the current world transform for a dynamic
	// entity handle, consumed once per frame when building draw records.
	EntityTransform(entityID int) mgl32.Mat4
}
