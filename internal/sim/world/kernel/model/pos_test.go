package model

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestNodeBlockConversion(t *testing.T) {
	cases := []struct {
		n    NodePos
		want BlockPos
	}{
		{NodePos{0, 0, 0}, BlockPos{0, 0, 0}},
		{NodePos{15, 15, 15}, BlockPos{0, 0, 0}},
		{NodePos{16, -1, 31}, BlockPos{1, -1, 1}},
		{NodePos{-16, -17, 0}, BlockPos{-1, -2, 0}},
	}
	for _, c := range cases {
		if got := c.n.Block(); got != c.want {
			t.Fatalf("%+v.Block()=%v want %v", c.n, got, c.want)
		}
	}
	x, y, z := NodePos{-1, 17, 5}.Local()
	if x != 15 || y != 1 || z != 5 {
		t.Fatalf("Local=(%d,%d,%d) want (15,1,5)", x, y, z)
	}
}

func TestNodeAtRoundsToNearest(t *testing.T) {
	if got := NodeAt(mgl64.Vec3{0.49, -0.5, 1.5}); got != (NodePos{0, 0, 2}) {
		t.Fatalf("NodeAt=%+v", got)
	}
}

func TestDistanceFrom(t *testing.T) {
	a := BlockPos{1, 2, 3}
	b := BlockPos{-1, 2, 7}
	if d := a.DistanceFrom(b); d != 4 {
		t.Fatalf("DistanceFrom=%d want 4", d)
	}
}
