// Package shell generates the block offsets lying on the surface of a cube of
// a given Chebyshev radius. The outward block search walks these shells one
// radius at a time.
package shell

import (
	"sync"

	"voxelnet.ai/internal/sim/world/kernel/model"
)

// Cache memoizes shell offsets per radius. The returned slices are shared and
// must not be modified by callers.
type Cache struct {
	mu     sync.Mutex
	shells map[int][]model.BlockPos
}

func NewCache() *Cache {
	return &Cache{shells: map[int][]model.BlockPos{}}
}

var defaultCache = NewCache()

// Offsets returns the shell at radius d from the process-wide cache.
func Offsets(d int) []model.BlockPos {
	return defaultCache.Offsets(d)
}

// Offsets returns the offsets whose Chebyshev distance to the origin is d.
// Negative radii yield nil.
func (c *Cache) Offsets(d int) []model.BlockPos {
	if d < 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.shells[d]; ok {
		return s
	}
	s := generate(d)
	c.shells[d] = s
	return s
}

// Radii reports how many radii have been computed so far.
func (c *Cache) Radii() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.shells)
}

// neighbors26 is hand ordered: faces, then edges, then corners.
var neighbors26 = []model.BlockPos{
	// faces
	{X: 0, Y: 0, Z: 1},
	{X: 1, Y: 0, Z: 0},
	{X: 0, Y: 0, Z: -1},
	{X: -1, Y: 0, Z: 0},
	{X: 0, Y: 1, Z: 0},
	{X: 0, Y: -1, Z: 0},
	// edges
	{X: 1, Y: 0, Z: 1},
	{X: 1, Y: 0, Z: -1},
	{X: -1, Y: 0, Z: -1},
	{X: -1, Y: 0, Z: 1},
	{X: 0, Y: 1, Z: 1},
	{X: 1, Y: 1, Z: 0},
	{X: 0, Y: 1, Z: -1},
	{X: -1, Y: 1, Z: 0},
	{X: 0, Y: -1, Z: 1},
	{X: 1, Y: -1, Z: 0},
	{X: 0, Y: -1, Z: -1},
	{X: -1, Y: -1, Z: 0},
	// corners
	{X: 1, Y: 1, Z: 1},
	{X: 1, Y: 1, Z: -1},
	{X: -1, Y: 1, Z: -1},
	{X: -1, Y: 1, Z: 1},
	{X: 1, Y: -1, Z: 1},
	{X: 1, Y: -1, Z: -1},
	{X: -1, Y: -1, Z: -1},
	{X: -1, Y: -1, Z: 1},
}

func generate(d int) []model.BlockPos {
	switch d {
	case 0:
		return []model.BlockPos{{}}
	case 1:
		out := make([]model.BlockPos, len(neighbors26))
		copy(out, neighbors26)
		return out
	}

	side := 2*d + 1
	inner := 2*d - 1
	out := make([]model.BlockPos, 0, side*side*side-inner*inner*inner)

	// Side walls, starting at y=0 and moving outwards in +-y.
	for y := 0; y <= d-1; y++ {
		// x=+-d walls, borders included.
		for z := -d; z <= d; z++ {
			out = append(out, model.BlockPos{X: d, Y: y, Z: z}, model.BlockPos{X: -d, Y: y, Z: z})
			if y != 0 {
				out = append(out, model.BlockPos{X: d, Y: -y, Z: z}, model.BlockPos{X: -d, Y: -y, Z: z})
			}
		}
		// z=+-d walls, borders excluded (already emitted above).
		for x := -d + 1; x <= d-1; x++ {
			out = append(out, model.BlockPos{X: x, Y: y, Z: d}, model.BlockPos{X: x, Y: y, Z: -d})
			if y != 0 {
				out = append(out, model.BlockPos{X: x, Y: -y, Z: d}, model.BlockPos{X: x, Y: -y, Z: -d})
			}
		}
	}

	// Top and bottom caps with their borders.
	for x := -d; x <= d; x++ {
		for z := -d; z <= d; z++ {
			out = append(out, model.BlockPos{X: x, Y: -d, Z: z}, model.BlockPos{X: x, Y: d, Z: z})
		}
	}
	return out
}
