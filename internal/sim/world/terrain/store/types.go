package store

import (
	"time"

	"voxelnet.ai/internal/sim/world/kernel/model"
	"voxelnet.ai/internal/sim/world/terrain/gen"
)

type Block struct {
	Pos   model.BlockPos
	Nodes []uint16 // len = model.NodesPerBlock

	// Generated is false for placeholder blocks that exist in the map but
	// have no content yet.
	Generated bool
	LastUsed  time.Time

	airOnly  bool
	airKnown bool
}

func NewBlock(pos model.BlockPos) *Block {
	return &Block{
		Pos:   pos,
		Nodes: make([]uint16, model.NodesPerBlock),
	}
}

func (b *Block) Get(x, y, z int) uint16 {
	return b.Nodes[model.LocalIndex(x, y, z)]
}

func (b *Block) Set(x, y, z int, id uint16) bool {
	i := model.LocalIndex(x, y, z)
	if b.Nodes[i] == id {
		return false
	}
	b.Nodes[i] = id
	b.airKnown = false
	return true
}

// IsAir reports whether every node in the block is air.
func (b *Block) IsAir() bool {
	if !b.airKnown {
		b.airOnly = true
		for _, id := range b.Nodes {
			if id != gen.Air {
				b.airOnly = false
				break
			}
		}
		b.airKnown = true
	}
	return b.airOnly
}

func (b *Block) Touch(now time.Time) { b.LastUsed = now }

type Limits struct {
	// GenerationLimit bounds |node coordinate| on every axis.
	GenerationLimit int
	MinBlockY       int
	MaxBlockY       int
}

// Map owns all loaded blocks. It is only touched by the world loop goroutine.
type Map struct {
	Gen    gen.Params
	Limits Limits
	Blocks map[model.BlockPos]*Block
}

func NewMap(g gen.Params, limits Limits) *Map {
	if limits.GenerationLimit <= 0 {
		limits.GenerationLimit = 31007
	}
	if limits.MaxBlockY < limits.MinBlockY {
		limits.MinBlockY, limits.MaxBlockY = limits.MaxBlockY, limits.MinBlockY
	}
	return &Map{
		Gen:    g,
		Limits: limits,
		Blocks: map[model.BlockPos]*Block{},
	}
}
