package store

import (
	"testing"

	"voxelnet.ai/internal/sim/world/kernel/model"
	"voxelnet.ai/internal/sim/world/terrain/gen"
)

func filledBlock(pos model.BlockPos, id uint16) *Block {
	b := NewBlock(pos)
	for i := range b.Nodes {
		b.Nodes[i] = id
	}
	b.Generated = true
	return b
}

func TestGenerate_Deterministic(t *testing.T) {
	p := gen.Params{Seed: 42, BaseHeight: 8}
	a := Generate(p, model.BlockPos{X: 1, Y: 0, Z: -2})
	b := Generate(p, model.BlockPos{X: 1, Y: 0, Z: -2})
	if !a.Generated {
		t.Fatalf("generated flag not set")
	}
	for i := range a.Nodes {
		if a.Nodes[i] != b.Nodes[i] {
			t.Fatalf("node %d differs: %d vs %d", i, a.Nodes[i], b.Nodes[i])
		}
	}
}

func TestGenerate_HighBlocksAreAir(t *testing.T) {
	p := gen.Params{Seed: 1, BaseHeight: 0, Amplitude: 8}
	b := Generate(p, model.BlockPos{X: 0, Y: 4, Z: 0})
	if !b.IsAir() {
		t.Fatalf("expected block far above the surface to be air only")
	}
	deep := Generate(p, model.BlockPos{X: 0, Y: -4, Z: 0})
	if deep.IsAir() {
		t.Fatalf("expected deep block to contain stone")
	}
}

func TestBlockSetInvalidatesAirFlag(t *testing.T) {
	b := filledBlock(model.BlockPos{}, gen.Air)
	if !b.IsAir() {
		t.Fatalf("expected air block")
	}
	if !b.Set(1, 2, 3, gen.Stone) {
		t.Fatalf("expected change")
	}
	if b.IsAir() {
		t.Fatalf("air flag not recomputed after Set")
	}
	if b.Set(1, 2, 3, gen.Stone) {
		t.Fatalf("expected no change on identical Set")
	}
}

func TestMapNodeAndSetNode(t *testing.T) {
	m := NewMap(gen.Params{}, Limits{MinBlockY: -2, MaxBlockY: 2})
	m.Insert(filledBlock(model.BlockPos{X: -1, Y: 0, Z: 0}, gen.Air))

	n := model.NodePos{X: -3, Y: 4, Z: 5}
	bp, changed := m.SetNode(n, gen.Stone)
	if !changed || bp != (model.BlockPos{X: -1, Y: 0, Z: 0}) {
		t.Fatalf("SetNode = %v,%v", bp, changed)
	}
	if id, ok := m.Node(n); !ok || id != gen.Stone {
		t.Fatalf("Node = %d,%v", id, ok)
	}
	if _, ok := m.Node(model.NodePos{X: 100, Y: 0, Z: 0}); ok {
		t.Fatalf("expected unloaded node to be invalid")
	}
}

func TestMapOverLimit(t *testing.T) {
	m := NewMap(gen.Params{}, Limits{GenerationLimit: 100, MinBlockY: -1, MaxBlockY: 1})
	if m.OverLimit(model.BlockPos{}) {
		t.Fatalf("origin must be inside limits")
	}
	if !m.OverLimit(model.BlockPos{Y: 2}) {
		t.Fatalf("expected y above max to be over limit")
	}
	if !m.OverLimit(model.BlockPos{X: 7}) {
		t.Fatalf("expected x beyond generation limit to be over limit")
	}
}

func TestIsBlockOccluded(t *testing.T) {
	build := func(wall uint16) *Map {
		m := NewMap(gen.Params{}, Limits{MinBlockY: -4, MaxBlockY: 4})
		for y := -1; y <= 1; y++ {
			for z := -1; z <= 1; z++ {
				m.Insert(filledBlock(model.BlockPos{X: 0, Y: y, Z: z}, gen.Air))
				m.Insert(filledBlock(model.BlockPos{X: 1, Y: y, Z: z}, wall))
				m.Insert(filledBlock(model.BlockPos{X: 2, Y: y, Z: z}, wall))
				m.Insert(filledBlock(model.BlockPos{X: 3, Y: y, Z: z}, gen.Air))
			}
		}
		return m
	}
	cam := model.NodePos{X: 8, Y: 8, Z: 8}
	target := model.BlockPos{X: 3, Y: 0, Z: 0}

	if !build(gen.Stone).IsBlockOccluded(target, cam, false) {
		t.Fatalf("expected block behind a stone wall to be occluded")
	}
	if build(gen.Glass).IsBlockOccluded(target, cam, false) {
		t.Fatalf("expected block behind glass to be visible")
	}
	if !build(gen.Stone).IsBlockOccluded(target, cam, true) {
		t.Fatalf("expected simple check to agree for a solid wall")
	}
}
