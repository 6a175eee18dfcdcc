package blocksend

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"voxelnet.ai/internal/sim/world/kernel/model"
)

// blockMaxRadius is the radius of a sphere enclosing a block (sqrt(3)/2 * edge).
const blockMaxRadius = 0.866025403784 * model.BlockSize

// 72 degrees (default client FOV) * 1.4, halved. Zoom narrower than this
// extends send distances.
const zoomThresholdFOV = 1.775 / 2

// LookDir turns pitch and yaw (degrees) into a unit gaze vector. Yaw 0 looks
// towards +Z, positive pitch looks down.
func LookDir(pitchDeg, yawDeg float64) mgl64.Vec3 {
	p := mgl64.DegToRad(pitchDeg)
	y := mgl64.DegToRad(yawDeg)
	return mgl64.Vec3{
		-math.Cos(p) * math.Sin(y),
		-math.Sin(p),
		math.Cos(p) * math.Cos(y),
	}
}

// AdjustDist scales a distance so a zoomed-in view sees about as many blocks as
// the default field of view would. fov is the full zoom angle in radians; 0
// means no zoom.
func AdjustDist(dist int, fov float64) int {
	if fov < 0.001 || fov > zoomThresholdFOV {
		return dist
	}
	scale := math.Cbrt((1 - math.Cos(zoomThresholdFOV)) / (1 - math.Cos(fov/2)))
	return int(math.Round(float64(dist) * scale))
}

// IsBlockInSight reports whether any part of block p can be inside the view
// cone of a camera at cam looking along dir (unit) with full angle fov, within
// rangeNodes. dist is the distance from the camera to the block's bounding
// sphere, in nodes, and is returned even when the block is not in sight.
func IsBlockInSight(p model.BlockPos, cam, dir mgl64.Vec3, fov, rangeNodes float64) (ok bool, dist float64) {
	o := p.Origin()
	center := mgl64.Vec3{
		float64(o.X) + model.BlockSize/2,
		float64(o.Y) + model.BlockSize/2,
		float64(o.Z) + model.BlockSize/2,
	}
	rel := center.Sub(cam)
	dist = math.Max(0, rel.Len()-blockMaxRadius)
	if dist > rangeNodes {
		return false, dist
	}
	if dist == 0 {
		return true, dist
	}
	// Widened by 10% to avoid culling blocks at the screen edge.
	half := fov * 0.55
	if half >= math.Pi {
		return true, dist
	}

	// Move the camera back so that a block with any visible part has its
	// center inside the cone.
	adj := blockMaxRadius / math.Cos((math.Pi-fov)/2)
	relAdj := center.Sub(cam.Sub(dir.Mul(adj)))
	l := relAdj.Len()
	if l == 0 {
		return true, dist
	}
	cosAngle := relAdj.Dot(dir) / l
	return cosAngle >= math.Cos(half), dist
}
