package store

import (
	"voxelnet.ai/internal/sim/world/kernel/model"
	"voxelnet.ai/internal/sim/world/terrain/gen"
)

const (
	// Ray march tuning, in nodes.
	occStep        = 1.2
	occStepFactor  = 1.05
	occStartOffset = 1.0
	// Stop short of the target so the march never enters the target block.
	occEndOffset = -float64(model.BlockSize) * 1.732
	// A ray counts as blocked after this many opaque samples.
	occNeededCount = 2
)

// IsBlockOccluded reports whether block p is hidden from a camera at cam by
// opaque nodes. It marches rays from the camera to the block center and its
// eight (slightly overshot) corners; the block is occluded only if every ray
// is blocked. With simple set only the center ray is tested.
func (m *Map) IsBlockOccluded(p model.BlockPos, cam model.NodePos, simple bool) bool {
	const bs2 = model.BlockSize/2 + 1
	center := p.Origin().Add(model.BlockSize/2, model.BlockSize/2, model.BlockSize/2)

	if simple {
		return m.isOccluded(cam, center, occEndOffset)
	}
	for _, d := range [9][3]int{
		{0, 0, 0},
		{bs2, bs2, bs2},
		{bs2, bs2, -bs2},
		{bs2, -bs2, bs2},
		{bs2, -bs2, -bs2},
		{-bs2, bs2, bs2},
		{-bs2, bs2, -bs2},
		{-bs2, -bs2, bs2},
		{-bs2, -bs2, -bs2},
	} {
		if !m.isOccluded(cam, center.Add(d[0], d[1], d[2]), occEndOffset) {
			return false
		}
	}
	return true
}

func (m *Map) isOccluded(from, to model.NodePos, endOffset float64) bool {
	origin := from.Vec()
	dir := to.Vec().Sub(origin)
	dist := dir.Len()
	if dist > 0 {
		dir = dir.Mul(1 / dist)
	}

	step := occStep
	count := 0
	for offset := occStartOffset; offset < dist+endOffset; offset += step {
		n := model.NodeAt(origin.Add(dir.Mul(offset)))
		if id, ok := m.Node(n); ok && !gen.LightPropagates(id) {
			count++
			if count >= occNeededCount {
				return true
			}
		}
		step *= occStepFactor
	}
	return false
}
