package store

import (
	"sort"

	"voxelnet.ai/internal/sim/world/kernel/model"
	"voxelnet.ai/internal/sim/world/logic/mathx"
)

// OverLimit reports whether a block lies outside the generation limit or the
// configured vertical range.
func (m *Map) OverLimit(p model.BlockPos) bool {
	if p.Y < m.Limits.MinBlockY || p.Y > m.Limits.MaxBlockY {
		return true
	}
	lim := m.Limits.GenerationLimit
	o := p.Origin()
	for _, v := range []int{o.X, o.Y, o.Z} {
		if v < -lim || v+model.BlockSize-1 > lim {
			return true
		}
	}
	return false
}

// BlockNoCreate returns the loaded block at p, or nil. It never generates.
func (m *Map) BlockNoCreate(p model.BlockPos) *Block {
	return m.Blocks[p]
}

// Insert stores a block, replacing any placeholder at the same position.
func (m *Map) Insert(b *Block) {
	if b == nil {
		return
	}
	m.Blocks[b.Pos] = b
}

func (m *Map) LoadedBlockKeys() []model.BlockPos {
	keys := make([]model.BlockPos, 0, len(m.Blocks))
	for k := range m.Blocks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].X != keys[j].X {
			return keys[i].X < keys[j].X
		}
		if keys[i].Y != keys[j].Y {
			return keys[i].Y < keys[j].Y
		}
		return keys[i].Z < keys[j].Z
	})
	return keys
}

// Node returns the node at n. ok is false when the containing block is not
// loaded or not generated.
func (m *Map) Node(n model.NodePos) (id uint16, ok bool) {
	b := m.Blocks[n.Block()]
	if b == nil || !b.Generated {
		return 0, false
	}
	x, y, z := n.Local()
	return b.Get(x, y, z), true
}

// SetNode writes a node into a loaded block. It returns the block position
// and whether anything changed.
func (m *Map) SetNode(n model.NodePos, id uint16) (model.BlockPos, bool) {
	bp := n.Block()
	b := m.Blocks[bp]
	if b == nil || !b.Generated {
		return bp, false
	}
	if mathx.AbsInt(n.X) > m.Limits.GenerationLimit || mathx.AbsInt(n.Y) > m.Limits.GenerationLimit || mathx.AbsInt(n.Z) > m.Limits.GenerationLimit {
		return bp, false
	}
	x, y, z := n.Local()
	return bp, b.Set(x, y, z, id)
}
