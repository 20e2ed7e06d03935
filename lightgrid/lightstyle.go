package lightgrid

// LightStyles holds the animated-brightness tables supplemented from the
// original renderer's ref/vk/vk_light.c (dropped by the distilled spec but
// present in original_source/): each style is a loop of pattern characters
// 'a'..'z' sampled at 10 steps/second, the classic Quake-family lightstyle
// scheme.
type LightStyles struct {
	tables [][]byte
}

const stepsPerSecond = 10.0

func NewLightStyles() *LightStyles {
	ls := &LightStyles{tables: make([][]byte, 64)}
	// style 0 is always a flat, fully-lit "normal" style.
	ls.tables[0] = []byte{'m'}
	return ls
}

// SetPattern installs a style's animation pattern from its source
// characters ('a'..'z', where 'a' is darkest and 'z' brightest), matching
// the original format exactly so map data needs no reinterpretation.
func (ls *LightStyles) SetPattern(style uint8, pattern string) {
	if int(style) >= len(ls.tables) {
		return
	}
	if pattern == "" {
		ls.tables[style] = []byte{'m'}
		return
	}
	table := make([]byte, len(pattern))
	copy(table, pattern)
	ls.tables[style] = table
}

// Value samples a style at the given frame time, returning a brightness
// suitable for rescaling BaseColor -> Color: 'a' gives 0, 'm' (normal)
// gives 255 and 'z' about 531 (overbright).
func (ls *LightStyles) Value(style uint8, frameTime float64) float32 {
	if int(style) >= len(ls.tables) || len(ls.tables[style]) == 0 {
		return 255
	}
	table := ls.tables[style]
	idx := int(frameTime*stepsPerSecond) % len(table)
	if idx < 0 {
		idx += len(table)
	}
	ch := table[idx]
	if ch < 'a' || ch > 'z' {
		return 255
	}
	level := float32(ch-'a') / 12.0 // 'a'=0, 'm'=1 (normal), 'z'≈2.08
	return level * 255.0
}

// EnvironmentCosThetaMax derives cos(theta_max) for an environment light
// from its configured solid angle (steradians) as the cone half-angle whose
// solid angle is that value (cos = 1 - omega/2pi, clamped to [-1,1]). It
// applies no radiance scaling: the light's emitted power is not adjusted
// for the configured disk size.
func EnvironmentCosThetaMax(solidAngleSteradians float32) float32 {
	if solidAngleSteradians <= 0 {
		return 1
	}
	const twoPi = 2 * 3.14159265358979323846
	cosTheta := 1 - float32(solidAngleSteradians)/twoPi
	if cosTheta < -1 {
		cosTheta = -1
	}
	if cosTheta > 1 {
		cosTheta = 1
	}
	return cosTheta
}
