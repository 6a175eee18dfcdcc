package tuning

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning is the server knob file. Times are seconds, distances are blocks
// unless the name says otherwise.
type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int `yaml:"tick_rate_hz"`

	MaxSimultaneousBlockSendsPerClient     int     `yaml:"max_simultaneous_block_sends_per_client"`
	LimitedMaxSimultaneousBlockSends       int     `yaml:"limited_max_simultaneous_block_sends"`
	BlockSendDisableLimitsMaxD             int     `yaml:"block_send_disable_limits_max_d"`
	FullBlockSendEnableMinTimeFromBuilding float64 `yaml:"full_block_send_enable_min_time_from_building"`

	MaxBlockSendDistance       int  `yaml:"max_block_send_distance"`
	BlockSendOptimizeDistance  int  `yaml:"block_send_optimize_distance"`
	BlockCullOptimizeDistance  int  `yaml:"block_cull_optimize_distance"`
	MaxBlockGenerateDistance   int  `yaml:"max_block_generate_distance"`
	ServerSideOcclusionCulling bool `yaml:"server_side_occlusion_culling"`

	MaxUsers             int     `yaml:"max_users"`
	MapSendWatchdogS     float64 `yaml:"map_send_watchdog_s"`
	NothingToSendPauseS  float64 `yaml:"nothing_to_send_pause_s"`
	MaxDIncrementPerTick int     `yaml:"max_d_increment_per_tick"`
	MovementConeFOV      float64 `yaml:"movement_cone_fov"`
	// Degrees. 0 disables zoom.
	ZoomFOV float64 `yaml:"zoom_fov"`

	// Nodes.
	MapGenerationLimit int `yaml:"map_generation_limit"`
	MinBlockY          int `yaml:"min_block_y"`
	MaxBlockY          int `yaml:"max_block_y"`

	LingerTimeoutS       float64 `yaml:"linger_timeout_s"`
	PlayerListIntervalS  float64 `yaml:"player_list_interval_s"`
	LingerCheckIntervalS float64 `yaml:"linger_check_interval_s"`

	WorldGen  WorldGen  `yaml:"worldgen"`
	Emerge    Emerge    `yaml:"emerge"`
	Auth      Auth      `yaml:"auth"`
	Admission Admission `yaml:"admission"`
}

type WorldGen struct {
	BaseHeight int `yaml:"base_height"`
	Amplitude  int `yaml:"amplitude"`
	GridSize   int `yaml:"grid_size"`
	SandLevel  int `yaml:"sand_level"`
}

type Emerge struct {
	Workers           int `yaml:"workers"`
	QueueLimitTotal   int `yaml:"queue_limit_total"`
	QueueLimitPerPeer int `yaml:"queue_limit_per_peer"`
}

type Auth struct {
	AllowRegistration bool `yaml:"allow_registration"`
	// AdminName may join past max_users.
	AdminName string `yaml:"admin_name"`
}

type Admission struct {
	// Handshakes per second per remote IP.
	PerIPRate  float64 `yaml:"per_ip_rate"`
	PerIPBurst int     `yaml:"per_ip_burst"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		TickRateHz:      10,

		MaxSimultaneousBlockSendsPerClient:     40,
		LimitedMaxSimultaneousBlockSends:       1,
		BlockSendDisableLimitsMaxD:             1,
		FullBlockSendEnableMinTimeFromBuilding: 2.0,

		MaxBlockSendDistance:       12,
		BlockSendOptimizeDistance:  4,
		BlockCullOptimizeDistance:  25,
		MaxBlockGenerateDistance:   10,
		ServerSideOcclusionCulling: true,

		MaxUsers:             15,
		MapSendWatchdogS:     23.2,
		NothingToSendPauseS:  2.0,
		MaxDIncrementPerTick: 2,
		MovementConeFOV:      0.1,

		MapGenerationLimit: 31007,
		MinBlockY:          -4,
		MaxBlockY:          8,

		LingerTimeoutS:       10,
		PlayerListIntervalS:  30,
		LingerCheckIntervalS: 1,

		WorldGen:  WorldGen{BaseHeight: 8, Amplitude: 24, GridSize: 32, SandLevel: 2},
		Emerge:    Emerge{Workers: 2, QueueLimitTotal: 1024, QueueLimitPerPeer: 128},
		Auth:      Auth{AllowRegistration: true},
		Admission: Admission{PerIPRate: 2, PerIPBurst: 4},
	}
}

// Load reads a tuning file over Defaults, so a file only needs the keys it
// changes.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize clamps derived relations between knobs.
func (t *Tuning) Normalize() {
	if t.LimitedMaxSimultaneousBlockSends > t.MaxSimultaneousBlockSendsPerClient {
		t.LimitedMaxSimultaneousBlockSends = t.MaxSimultaneousBlockSendsPerClient
	}
	if t.MaxBlockGenerateDistance > t.MaxBlockSendDistance {
		t.MaxBlockGenerateDistance = t.MaxBlockSendDistance
	}
	if t.BlockSendOptimizeDistance > t.MaxBlockSendDistance {
		t.BlockSendOptimizeDistance = t.MaxBlockSendDistance
	}
	if t.MinBlockY > t.MaxBlockY {
		t.MinBlockY, t.MaxBlockY = t.MaxBlockY, t.MinBlockY
	}
}

var ErrInvalid = errors.New("invalid tuning")

func (t Tuning) Validate() error {
	check := []struct {
		ok   bool
		what string
	}{
		{t.TickRateHz > 0 && t.TickRateHz <= 1000, "tick_rate_hz must be in 1..1000"},
		{t.MaxSimultaneousBlockSendsPerClient > 0, "max_simultaneous_block_sends_per_client must be > 0"},
		{t.LimitedMaxSimultaneousBlockSends > 0, "limited_max_simultaneous_block_sends must be > 0"},
		{t.BlockSendDisableLimitsMaxD >= 0, "block_send_disable_limits_max_d must be >= 0"},
		{t.FullBlockSendEnableMinTimeFromBuilding >= 0, "full_block_send_enable_min_time_from_building must be >= 0"},
		{t.MaxBlockSendDistance > 0 && t.MaxBlockSendDistance <= 64, "max_block_send_distance must be in 1..64"},
		{t.BlockSendOptimizeDistance >= 0, "block_send_optimize_distance must be >= 0"},
		{t.BlockCullOptimizeDistance >= 0, "block_cull_optimize_distance must be >= 0"},
		{t.MaxBlockGenerateDistance >= 0, "max_block_generate_distance must be >= 0"},
		{t.MaxUsers > 0, "max_users must be > 0"},
		{t.MapSendWatchdogS > 0, "map_send_watchdog_s must be > 0"},
		{t.NothingToSendPauseS >= 0, "nothing_to_send_pause_s must be >= 0"},
		{t.MaxDIncrementPerTick > 0, "max_d_increment_per_tick must be > 0"},
		{t.MovementConeFOV > 0 && t.MovementConeFOV < 6.3, "movement_cone_fov must be in (0, 2pi)"},
		{t.ZoomFOV >= 0 && t.ZoomFOV <= 160, "zoom_fov must be in 0..160"},
		{t.MapGenerationLimit > 0, "map_generation_limit must be > 0"},
		{t.LingerTimeoutS > 0, "linger_timeout_s must be > 0"},
		{t.PlayerListIntervalS > 0, "player_list_interval_s must be > 0"},
		{t.LingerCheckIntervalS > 0, "linger_check_interval_s must be > 0"},
		{t.Emerge.Workers > 0, "emerge.workers must be > 0"},
		{t.Emerge.QueueLimitTotal > 0, "emerge.queue_limit_total must be > 0"},
		{t.Emerge.QueueLimitPerPeer > 0, "emerge.queue_limit_per_peer must be > 0"},
		{t.Admission.PerIPRate > 0, "admission.per_ip_rate must be > 0"},
		{t.Admission.PerIPBurst > 0, "admission.per_ip_burst must be > 0"},
	}
	for _, c := range check {
		if !c.ok {
			return fmt.Errorf("%w: %s", ErrInvalid, c.what)
		}
	}
	return nil
}
