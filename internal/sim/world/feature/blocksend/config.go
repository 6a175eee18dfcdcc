package blocksend

// Limits are the per-peer send knobs. Distances are in blocks, times in seconds.
type Limits struct {
	MaxSimultaneousSends        int
	LimitedMaxSimultaneousSends int
	// Blocks at or below this distance ignore the building throttle.
	DisableLimitsMaxD   int
	MinTimeFromBuilding float64

	MaxSendDistance      int
	OptimizeDistance     int
	CullOptimizeDistance int
	MaxGenerateDistance  int
	OcclusionCulling     bool

	WatchdogS            float64
	NothingToSendPauseS  float64
	MaxDIncrementPerTick int
	// Full cone angle (radians) used for the look-ahead along the movement direction.
	MovementConeFOV float64
}

func DefaultLimits() Limits {
	return Limits{
		MaxSimultaneousSends:        40,
		LimitedMaxSimultaneousSends: 1,
		DisableLimitsMaxD:           1,
		MinTimeFromBuilding:         2.0,
		MaxSendDistance:             12,
		OptimizeDistance:            4,
		CullOptimizeDistance:        25,
		MaxGenerateDistance:         10,
		OcclusionCulling:            true,
		WatchdogS:                   23.2,
		NothingToSendPauseS:         2.0,
		MaxDIncrementPerTick:        2,
		MovementConeFOV:             0.1,
	}
}

func (l Limits) normalized() Limits {
	d := DefaultLimits()
	if l.MaxSimultaneousSends <= 0 {
		l.MaxSimultaneousSends = d.MaxSimultaneousSends
	}
	if l.LimitedMaxSimultaneousSends <= 0 {
		l.LimitedMaxSimultaneousSends = d.LimitedMaxSimultaneousSends
	}
	if l.LimitedMaxSimultaneousSends > l.MaxSimultaneousSends {
		l.LimitedMaxSimultaneousSends = l.MaxSimultaneousSends
	}
	if l.DisableLimitsMaxD < 0 {
		l.DisableLimitsMaxD = 0
	}
	if l.MinTimeFromBuilding < 0 {
		l.MinTimeFromBuilding = 0
	}
	if l.MaxSendDistance < 0 {
		l.MaxSendDistance = 0
	}
	if l.MaxGenerateDistance > l.MaxSendDistance {
		l.MaxGenerateDistance = l.MaxSendDistance
	}
	if l.WatchdogS <= 0 {
		l.WatchdogS = d.WatchdogS
	}
	if l.NothingToSendPauseS < 0 {
		l.NothingToSendPauseS = 0
	}
	if l.MaxDIncrementPerTick <= 0 {
		l.MaxDIncrementPerTick = d.MaxDIncrementPerTick
	}
	if l.MovementConeFOV <= 0 {
		l.MovementConeFOV = d.MovementConeFOV
	}
	return l
}
