package blocksend

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"voxelnet.ai/internal/sim/world/kernel/model"
)

func TestLookDir(t *testing.T) {
	if d := LookDir(0, 0); !d.ApproxEqual(mgl64.Vec3{0, 0, 1}) {
		t.Fatalf("LookDir(0,0) = %v", d)
	}
	if d := LookDir(90, 0); !d.ApproxEqualThreshold(mgl64.Vec3{0, -1, 0}, 1e-9) {
		t.Fatalf("LookDir(90,0) = %v", d)
	}
	if d := LookDir(0, 90); !d.ApproxEqualThreshold(mgl64.Vec3{-1, 0, 0}, 1e-9) {
		t.Fatalf("LookDir(0,90) = %v", d)
	}
}

func TestAdjustDist(t *testing.T) {
	if got := AdjustDist(10, 0); got != 10 {
		t.Fatalf("no zoom: got %d", got)
	}
	if got := AdjustDist(10, 1.5); got != 10 {
		t.Fatalf("wide zoom: got %d", got)
	}
	if got := AdjustDist(10, 0.2); got <= 10 {
		t.Fatalf("narrow zoom must extend distance, got %d", got)
	}
}

func TestIsBlockInSight(t *testing.T) {
	cam := mgl64.Vec3{8, 8, 8}
	dir := mgl64.Vec3{0, 0, 1}
	const fov = 1.2

	if ok, _ := IsBlockInSight(model.BlockPos{Z: 3}, cam, dir, fov, 200); !ok {
		t.Fatalf("block ahead should be in sight")
	}
	if ok, _ := IsBlockInSight(model.BlockPos{Z: -3}, cam, dir, fov, 200); ok {
		t.Fatalf("block behind should not be in sight")
	}
	if ok, dist := IsBlockInSight(model.BlockPos{}, cam, dir, fov, 200); !ok || dist != 0 {
		t.Fatalf("block around the camera: ok=%v dist=%v", ok, dist)
	}
	if ok, dist := IsBlockInSight(model.BlockPos{Z: 20}, cam, dir, fov, 100); ok || dist <= 100 {
		t.Fatalf("far block: ok=%v dist=%v", ok, dist)
	}
	if ok, _ := IsBlockInSight(model.BlockPos{Z: -3}, cam, dir, 2*math.Pi, 200); !ok {
		t.Fatalf("full circle FOV should see behind")
	}
}
