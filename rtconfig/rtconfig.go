// Package rtconfig holds the read-only per-frame configuration values the
// core consumes from the host's cvar system (spec.md §1's "per-frame
// read-only cvars" host collaborator boundary).
//
// Grounded on original_source/ref/vk/vk_cvar.c's VK_LoadCvars /
// VK_LoadCvarsAfterInit: rt_enable, rt_bounces and rt_force_disable are
// reproduced as fields here, snapshotted once per frame rather than read
// live from a global cvar table, since this module has no cvar system of
// its own (spec.md's host/core boundary keeps cvar storage on the host
// side; the core only ever sees an immutable per-frame snapshot).
package rtconfig

// Snapshot is the immutable, per-frame view of every config value the
// renderer core is given. hostapi.HostEngine.Config returns one; no package
// in this module calls Config or reads a Snapshot's fields outside this
// package, and the core never mutates it or reads a cvar directly.
type Snapshot struct {
	// RTEnabled mirrors rt_enable: false means raster fallback, dropping
	// straight to the rasterization path with no error (spec.md §9).
	RTEnabled bool

	// RTForceDisable mirrors rt_force_disable: set by the host when the
	// selected device lacks ray tracing capability. When true it overrides
	// RTEnabled regardless of its value.
	RTForceDisable bool

	// RTBounces mirrors rt_bounces: path tracing ray bounce count.
	RTBounces int

	// DebugValidation mirrors the debug cvar (vk_debug_log_ in the
	// original). combuf.Combuf takes its debug flag from the logger's
	// DebugEnabled, not from this field.
	DebugValidation bool

	// LightingModulate mirrors r_lighting_modulate, a scale for
	// lightstyle-driven intensity; the light grid does not apply it.
	LightingModulate float32
}

// RayTracingActive resolves the two related cvars into a single decision:
// whether to take the ray-traced path this frame.
func (s Snapshot) RayTracingActive() bool {
	if s.RTForceDisable {
		return false
	}
	return s.RTEnabled
}

// DefaultSnapshot matches vk_cvar.c's FCVAR_GLCONFIG defaults (rt_enable=1,
// rt_bounces=3) for a device presumed ray-tracing capable; a host without
// RT support is expected to override RTEnabled=false / RTForceDisable=true
// before the first frame.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		RTEnabled:        true,
		RTForceDisable:   false,
		RTBounces:        3,
		DebugValidation:  false,
		LightingModulate: 0.6,
	}
}
