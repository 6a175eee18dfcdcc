package world

import (
	"voxelnet.ai/internal/sim/tuning"
	"voxelnet.ai/internal/sim/world/feature/blocksend"
	"voxelnet.ai/internal/sim/world/terrain/gen"
	"voxelnet.ai/internal/sim/world/terrain/store"
)

type WorldConfig struct {
	TickRateHz int
	Seed       int64
	MaxUsers   int

	Blocks    blocksend.Limits
	MapLimits store.Limits
	Gen       gen.Params
	// ZoomFOV is the zoom angle in degrees granted to every player, 0 for none.
	ZoomFOV float64

	EmergeWorkers      int
	EmergeQueueTotal   int
	EmergeQueuePerPeer int

	// Seconds.
	LingerTimeoutS       float64
	PlayerListIntervalS  float64
	LingerCheckIntervalS float64

	AllowRegistration bool
	// AdminName may join past max_users.
	AdminName string
}

// ConfigFromTuning maps the tuning file onto a world config.
func ConfigFromTuning(t tuning.Tuning, seed int64) WorldConfig {
	return WorldConfig{
		TickRateHz: t.TickRateHz,
		Seed:       seed,
		MaxUsers:   t.MaxUsers,
		Blocks: blocksend.Limits{
			MaxSimultaneousSends:        t.MaxSimultaneousBlockSendsPerClient,
			LimitedMaxSimultaneousSends: t.LimitedMaxSimultaneousBlockSends,
			DisableLimitsMaxD:           t.BlockSendDisableLimitsMaxD,
			MinTimeFromBuilding:         t.FullBlockSendEnableMinTimeFromBuilding,
			MaxSendDistance:             t.MaxBlockSendDistance,
			OptimizeDistance:            t.BlockSendOptimizeDistance,
			CullOptimizeDistance:        t.BlockCullOptimizeDistance,
			MaxGenerateDistance:         t.MaxBlockGenerateDistance,
			OcclusionCulling:            t.ServerSideOcclusionCulling,
			WatchdogS:                   t.MapSendWatchdogS,
			NothingToSendPauseS:         t.NothingToSendPauseS,
			MaxDIncrementPerTick:        t.MaxDIncrementPerTick,
			MovementConeFOV:             t.MovementConeFOV,
		},
		MapLimits: store.Limits{
			GenerationLimit: t.MapGenerationLimit,
			MinBlockY:       t.MinBlockY,
			MaxBlockY:       t.MaxBlockY,
		},
		Gen: gen.Params{
			Seed:       seed,
			BaseHeight: t.WorldGen.BaseHeight,
			Amplitude:  t.WorldGen.Amplitude,
			GridSize:   t.WorldGen.GridSize,
			SandLevel:  t.WorldGen.SandLevel,
		},
		ZoomFOV:              t.ZoomFOV,
		EmergeWorkers:        t.Emerge.Workers,
		EmergeQueueTotal:     t.Emerge.QueueLimitTotal,
		EmergeQueuePerPeer:   t.Emerge.QueueLimitPerPeer,
		LingerTimeoutS:       t.LingerTimeoutS,
		PlayerListIntervalS:  t.PlayerListIntervalS,
		LingerCheckIntervalS: t.LingerCheckIntervalS,
		AllowRegistration:    t.Auth.AllowRegistration,
		AdminName:            t.Auth.AdminName,
	}
}
