package model

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"voxelnet.ai/internal/sim/world/logic/mathx"
)

// BlockSize is the edge length of a block in nodes.
const BlockSize = 16

// NodesPerBlock is the node count of one block.
const NodesPerBlock = BlockSize * BlockSize * BlockSize

// BlockPos addresses a block (a BlockSize^3 cube of nodes).
type BlockPos struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// NodePos addresses a single node in world coordinates.
type NodePos struct {
	X int
	Y int
	Z int
}

func (p BlockPos) Add(o BlockPos) BlockPos {
	return BlockPos{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z}
}

func (p BlockPos) Sub(o BlockPos) BlockPos {
	return BlockPos{X: p.X - o.X, Y: p.Y - o.Y, Z: p.Z - o.Z}
}

// DistanceFrom is the shell (Chebyshev) distance between two block positions.
func (p BlockPos) DistanceFrom(o BlockPos) int {
	return mathx.Chebyshev(p.X-o.X, p.Y-o.Y, p.Z-o.Z)
}

// Origin is the lowest-corner node of the block.
func (p BlockPos) Origin() NodePos {
	return NodePos{X: p.X * BlockSize, Y: p.Y * BlockSize, Z: p.Z * BlockSize}
}

// Center returns the block center in node-space float coordinates.
func (p BlockPos) Center() mgl64.Vec3 {
	o := p.Origin()
	half := float64(BlockSize-1) / 2
	return mgl64.Vec3{float64(o.X) + half, float64(o.Y) + half, float64(o.Z) + half}
}

func (p BlockPos) ToArray() [3]int { return [3]int{p.X, p.Y, p.Z} }

func (p BlockPos) String() string { return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z) }

func BlockPosFromArray(a [3]int) BlockPos { return BlockPos{X: a[0], Y: a[1], Z: a[2]} }

func (n NodePos) Block() BlockPos {
	return BlockPos{
		X: mathx.FloorDiv(n.X, BlockSize),
		Y: mathx.FloorDiv(n.Y, BlockSize),
		Z: mathx.FloorDiv(n.Z, BlockSize),
	}
}

// Local returns the node offset inside its block.
func (n NodePos) Local() (x, y, z int) {
	return mathx.Mod(n.X, BlockSize), mathx.Mod(n.Y, BlockSize), mathx.Mod(n.Z, BlockSize)
}

func (n NodePos) Vec() mgl64.Vec3 {
	return mgl64.Vec3{float64(n.X), float64(n.Y), float64(n.Z)}
}

func (n NodePos) Add(dx, dy, dz int) NodePos {
	return NodePos{X: n.X + dx, Y: n.Y + dy, Z: n.Z + dz}
}

func NodePosFromArray(a [3]int) NodePos { return NodePos{X: a[0], Y: a[1], Z: a[2]} }

// NodeAt rounds a float position to the node containing it. Nodes are centered on integers.
func NodeAt(v mgl64.Vec3) NodePos {
	return NodePos{
		X: int(math.Floor(v[0] + 0.5)),
		Y: int(math.Floor(v[1] + 0.5)),
		Z: int(math.Floor(v[2] + 0.5)),
	}
}

// LocalIndex is the flat index of a node inside a block's node array.
func LocalIndex(x, y, z int) int {
	return x + y*BlockSize + z*BlockSize*BlockSize
}
