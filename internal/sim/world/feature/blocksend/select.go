package blocksend

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"voxelnet.ai/internal/sim/world/kernel/model"
	"voxelnet.ai/internal/sim/world/logic/mathx"
	"voxelnet.ai/internal/sim/world/terrain/store"
)

// Map is the read side of the world the scheduler needs. *store.Map
// implements it.
type Map interface {
	OverLimit(p model.BlockPos) bool
	BlockNoCreate(p model.BlockPos) *store.Block
	IsBlockOccluded(p model.BlockPos, cam model.NodePos, simple bool) bool
}

// Emerger queues block generation. Enqueue never blocks; false means the
// queue is full.
type Emerger interface {
	Enqueue(peerID uint64, p model.BlockPos) bool
}

// Viewer is the player state the selection pass reads. Positions are in
// nodes, speed in nodes per second, angles in radians.
type Viewer struct {
	Pos   mgl64.Vec3
	Speed mgl64.Vec3
	Eye   mgl64.Vec3
	Dir   mgl64.Vec3
	FOV   float64
	// ZoomFOV is the server-set zoom angle in degrees, 0 when unset.
	ZoomFOV float64
	// WantedRange is the client view range in blocks, 0 for the server maximum.
	WantedRange int
}

const (
	defaultFOV = 72 * math.Pi / 180
	// Speeds at or below this (nodes/s) disable prediction and the movement cone.
	minMovingSpeed = 1.0
	// Forward speed (nodes/s) at which the view cone is halved.
	fullNarrowingSpeed = 30.0
)

// GetNextBlocks advances the peer's timers by dt seconds and returns the
// blocks that should be sent next, nearest first within each shell.
// Missing blocks inside the generation distance are queued on em.
func (s *Scheduler) GetNextBlocks(dt float64, v Viewer, m Map, em Emerger) []Candidate {
	s.pauseTimer -= dt
	s.passTimer += dt
	s.timeFromBuilding += dt
	for p := range s.sending {
		s.sending[p] += dt
	}
	if s.pauseTimer >= 0 {
		return nil
	}
	if len(s.sending) >= s.limits.MaxSimultaneousSends {
		return nil
	}

	speed := v.Speed.Len()
	var speedDir mgl64.Vec3
	if speed > minMovingSpeed {
		speedDir = v.Speed.Mul(1 / speed)
	}
	predicted := v.Pos.Add(speedDir.Mul(model.BlockSize))
	center := model.NodeAt(predicted).Block()

	camDir := v.Dir
	if l := camDir.Len(); l > 0 {
		camDir = camDir.Mul(1 / l)
	} else {
		camDir = mgl64.Vec3{0, 0, 1}
	}
	camFOV := v.FOV
	if camFOV <= 0 {
		camFOV = defaultFOV
	}
	if camFOV > 2*math.Pi {
		camFOV = 2 * math.Pi
	}
	camFOV = narrowForSpeed(camFOV, camDir, v.Speed)

	maxSends := s.limits.MaxSimultaneousSends
	if s.timeFromBuilding < s.limits.MinTimeFromBuilding {
		maxSends = s.limits.LimitedMaxSimultaneousSends
	}

	if s.passTimer > s.limits.WatchdogS {
		s.logf("blocks peer=%d name=%q: send pass watchdog after %.1fs, restarting", s.peerID, s.name, s.passTimer)
		s.metrics.watchdog()
		s.passTimer = 0
		s.cursor = 0
	}

	if center != s.lastCenter {
		s.cursor = 0
		s.lastCenter = center
		clear(s.occluded)
	}
	if camDir.Dot(s.lastCamDir) < math.Cos(camFOV*0.1) {
		s.cursor = 0
		s.lastCamDir = camDir
		clear(s.occluded)
	}
	if s.cursor > 0 {
		for p := range s.modified {
			s.cursor = mathx.MinInt(s.cursor, center.DistanceFrom(p))
		}
	}
	clear(s.modified)

	// The zoom angle comes from server-owned state; the client's own FOV can
	// only narrow the extension it grants.
	zoomFOV := 0.0
	if v.ZoomFOV >= 0.001 {
		zoomFOV = math.Max(camFOV, mgl64.DegToRad(v.ZoomFOV))
	}
	wanted := v.WantedRange
	if wanted <= 0 {
		wanted = s.limits.MaxSendDistance
	}
	wanted++

	fullDMax := mathx.MinInt(AdjustDist(s.limits.MaxSendDistance, zoomFOV), wanted)
	dOpt := mathx.MinInt(AdjustDist(s.limits.OptimizeDistance, zoomFOV), wanted)
	dCullOpt := mathx.MinInt(AdjustDist(s.limits.CullOptimizeDistance, zoomFOV), wanted)
	dMaxGen := mathx.MinInt(AdjustDist(s.limits.MaxGenerateDistance, zoomFOV), wanted)
	sightRange := float64(fullDMax * model.BlockSize)

	dStart := s.cursor
	dMax := mathx.MinInt(fullDMax, dStart+s.limits.MaxDIncrementPerTick)

	camNode := model.NodeAt(v.Eye)
	now := s.now()

	var out []Candidate
	nearestEmerged, nearestEmergeFull, nearestSent := -1, -1, -1

	d := dStart
scan:
	for ; d <= dMax; d++ {
		for _, off := range s.offsets(d) {
			p := center.Add(off)

			limit := maxSends
			if d <= s.limits.DisableLimitsMaxD {
				limit = s.limits.MaxSimultaneousSends
			}
			if len(s.sending)+len(out) >= limit {
				break scan
			}

			if m.OverLimit(p) {
				continue
			}
			inSight, dist := IsBlockInSight(p, v.Eye, camDir, camFOV, sightRange)
			if !inSight {
				if speed <= minMovingSpeed {
					continue
				}
				if ok, _ := IsBlockInSight(p, v.Eye, speedDir, s.limits.MovementConeFOV, sightRange); !ok {
					continue
				}
			}
			if _, ok := s.sending[p]; ok {
				continue
			}
			if _, ok := s.sent[p]; ok {
				continue
			}
			if _, ok := s.occluded[p]; ok {
				continue
			}

			block := m.BlockNoCreate(p)
			missing := block == nil || !block.Generated
			if block != nil {
				block.Touch(now)
				if !missing {
					if d >= dOpt && block.IsAir() {
						continue
					}
					if s.limits.OcclusionCulling && m.IsBlockOccluded(p, camNode, d >= dCullOpt) {
						s.occluded[p] = struct{}{}
						s.metrics.occluded()
						continue
					}
				}
			}

			if missing {
				// Nothing is stored on disk, so a block past the
				// generation distance can only wait until it is generated.
				if d > dMaxGen {
					continue
				}
				if !em.Enqueue(s.peerID, p) {
					s.metrics.emerge(false)
					nearestEmergeFull = d
					break scan
				}
				s.metrics.emerge(true)
				if nearestEmerged < 0 {
					nearestEmerged = d
				}
				continue
			}

			if nearestSent < 0 {
				nearestSent = d
			}
			out = append(out, Candidate{PeerID: s.peerID, Pos: p, Priority: dist})
		}
	}

	next := -1
	switch {
	case nearestEmerged >= 0:
		next = nearestEmerged
	case nearestEmergeFull >= 0:
		next = nearestEmergeFull
	case d > fullDMax:
		next = 0
		s.pauseTimer = s.limits.NothingToSendPauseS
		s.logf("blocks peer=%d name=%q: full map send completed after %.2fs, restarting", s.peerID, s.name, s.passTimer)
		s.metrics.passCompleted(s.passTimer)
		if s.onPass != nil {
			s.onPass(PassRecord{PeerID: s.peerID, Name: s.name, Seconds: s.passTimer, Sent: len(s.sent)})
		}
		s.passTimer = 0
	case nearestSent >= 0:
		next = nearestSent
	default:
		next = d
	}
	if next != s.cursor {
		s.cursor = next
		clear(s.occluded)
	}

	s.metrics.selected(len(out))
	return out
}

// narrowForSpeed narrows the cone while moving forward fast so blocks ahead
// come first. dir must be a unit vector.
func narrowForSpeed(fov float64, dir, speed mgl64.Vec3) float64 {
	return fov / (1 + mathx.Clamp(dir.Dot(speed), 0, fullNarrowingSpeed)/fullNarrowingSpeed)
}
