package store

import (
	"voxelnet.ai/internal/sim/world/kernel/model"
	"voxelnet.ai/internal/sim/world/terrain/gen"
)

// Generate builds the content of one block. It touches no shared state and
// is safe to call from emerge workers.
func Generate(p gen.Params, pos model.BlockPos) *Block {
	b := NewBlock(pos)
	o := pos.Origin()
	for z := 0; z < model.BlockSize; z++ {
		for x := 0; x < model.BlockSize; x++ {
			h := gen.HeightAt(p, o.X+x, o.Z+z)
			for y := 0; y < model.BlockSize; y++ {
				b.Nodes[model.LocalIndex(x, y, z)] = gen.NodeAt(p, o.Y+y, h)
			}
		}
	}
	b.Generated = true
	return b
}
