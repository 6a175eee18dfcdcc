package gen

import "voxelnet.ai/internal/sim/world/logic/mathx"

// Node ids. The order matches Palette.
const (
	Air uint16 = iota
	Stone
	Dirt
	Grass
	Sand
	Glass
)

// Palette is the node name table sent to clients in DEFINITIONS.
var Palette = []string{"AIR", "STONE", "DIRT", "GRASS", "SAND", "GLASS"}

// LightPropagates reports whether a node can be seen through.
func LightPropagates(id uint16) bool {
	return id == Air || id == Glass
}

type Params struct {
	Seed int64

	// Heightmap shape, in nodes.
	BaseHeight int
	Amplitude  int
	GridSize   int
	SandLevel  int
}

func (p Params) withDefaults() Params {
	if p.GridSize <= 0 {
		p.GridSize = 32
	}
	if p.Amplitude <= 0 {
		p.Amplitude = 24
	}
	return p
}

// HeightAt returns the surface height at a column (value noise, bilinear).
func HeightAt(p Params, x, z int) int {
	p = p.withDefaults()
	g := p.GridSize
	gx := mathx.FloorDiv(x, g)
	gz := mathx.FloorDiv(z, g)
	fx := float64(mathx.Mod(x, g)) / float64(g)
	fz := float64(mathx.Mod(z, g)) / float64(g)

	corner := func(cx, cz int) float64 {
		return float64(mathx.Hash2(p.Seed, cx, cz)%1000) / 1000
	}
	v00 := corner(gx, gz)
	v10 := corner(gx+1, gz)
	v01 := corner(gx, gz+1)
	v11 := corner(gx+1, gz+1)
	top := v00 + (v10-v00)*smooth(fx)
	bot := v01 + (v11-v01)*smooth(fx)
	v := top + (bot-top)*smooth(fz)
	return p.BaseHeight + int(v*float64(p.Amplitude)) - p.Amplitude/2
}

func smooth(t float64) float64 { return t * t * (3 - 2*t) }

// NodeAt is the generated node id at a world position given the column height.
func NodeAt(p Params, y, height int) uint16 {
	switch {
	case y > height:
		return Air
	case y == height:
		if height <= p.SandLevel {
			return Sand
		}
		return Grass
	case y > height-3:
		return Dirt
	default:
		return Stone
	}
}
