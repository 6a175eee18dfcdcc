package blocksend

import (
	"log"
	"math"
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"voxelnet.ai/internal/sim/world/kernel/model"
	"voxelnet.ai/internal/sim/world/logic/shell"
)

// Candidate is one block chosen for transmission. Lower Priority goes first.
type Candidate struct {
	PeerID   uint64
	Pos      model.BlockPos
	Priority float64
}

// SortCandidates orders candidates by priority, then by position so that the
// order is stable across runs.
func SortCandidates(c []Candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].Priority != c[j].Priority {
			return c[i].Priority < c[j].Priority
		}
		if c[i].PeerID != c[j].PeerID {
			return c[i].PeerID < c[j].PeerID
		}
		a, b := c[i].Pos, c[j].Pos
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
}

// PassRecord describes a completed full send pass.
type PassRecord struct {
	PeerID  uint64
	Name    string
	Seconds float64
	Sent    int
}

type Options struct {
	PeerID  uint64
	Name    string
	Limits  Limits
	Logger  *log.Logger
	Metrics *Metrics
	// Shells defaults to the process-wide cache.
	Shells *shell.Cache
	// OnPassComplete is called from GetNextBlocks when a pass completes.
	OnPassComplete func(PassRecord)
	Now            func() time.Time
}

// Scheduler tracks what one peer has received and picks the next blocks to
// send it. It is owned by the world loop and is not safe for concurrent use.
type Scheduler struct {
	peerID  uint64
	name    string
	limits  Limits
	logger  *log.Logger
	metrics *Metrics
	shells  *shell.Cache
	onPass  func(PassRecord)
	now     func() time.Time

	// sending maps a block in flight to the seconds since it was handed to
	// the transport. sending and sent never share a key.
	sending  map[model.BlockPos]float64
	sent     map[model.BlockPos]struct{}
	modified map[model.BlockPos]struct{}
	occluded map[model.BlockPos]struct{}

	cursor     int
	lastCenter model.BlockPos
	lastCamDir mgl64.Vec3

	pauseTimer       float64
	passTimer        float64
	timeFromBuilding float64

	excessAcks uint64
}

func New(opts Options) *Scheduler {
	s := &Scheduler{
		peerID:           opts.PeerID,
		name:             opts.Name,
		limits:           opts.Limits.normalized(),
		logger:           opts.Logger,
		metrics:          opts.Metrics,
		shells:           opts.Shells,
		onPass:           opts.OnPassComplete,
		now:              opts.Now,
		sending:          map[model.BlockPos]float64{},
		sent:             map[model.BlockPos]struct{}{},
		modified:         map[model.BlockPos]struct{}{},
		occluded:         map[model.BlockPos]struct{}{},
		timeFromBuilding: math.MaxFloat32,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Scheduler) PeerID() uint64 { return s.peerID }

// SetName updates the name used in log lines once the peer has introduced itself.
func (s *Scheduler) SetName(name string) { s.name = name }

func (s *Scheduler) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

func (s *Scheduler) offsets(d int) []model.BlockPos {
	if s.shells != nil {
		return s.shells.Offsets(d)
	}
	return shell.Offsets(d)
}

// BeganSending records that p was handed to the transport.
func (s *Scheduler) BeganSending(p model.BlockPos) {
	if _, ok := s.sending[p]; ok {
		return
	}
	delete(s.sent, p)
	s.sending[p] = 0
}

// Acknowledged moves p from in flight to sent. Acks for blocks that are not
// in flight are only counted.
func (s *Scheduler) Acknowledged(p model.BlockPos) {
	if _, ok := s.sending[p]; !ok {
		s.excessAcks++
		s.metrics.excessAck()
		return
	}
	delete(s.sending, p)
	s.sent[p] = struct{}{}
}

// Invalidate forgets that p was sent or is being sent so the next pass
// reconsiders it. It also ends any nothing-to-send pause.
func (s *Scheduler) Invalidate(p model.BlockPos) {
	s.pauseTimer = 0
	_, inFlight := s.sending[p]
	_, done := s.sent[p]
	if !inFlight && !done {
		return
	}
	delete(s.sending, p)
	delete(s.sent, p)
	s.modified[p] = struct{}{}
}

func (s *Scheduler) InvalidateMany(ps []model.BlockPos) {
	for _, p := range ps {
		s.Invalidate(p)
	}
}

// ResendBlockIfOnWire invalidates p only while it is in flight.
func (s *Scheduler) ResendBlockIfOnWire(p model.BlockPos) {
	if _, ok := s.sending[p]; ok {
		s.Invalidate(p)
	}
}

// WorldEdit is a dig or place performed by this peer. Under is the pointed
// node, Above the node on the pointed face (the placement target).
type WorldEdit struct {
	Under model.NodePos
	Above model.NodePos
	Place bool
}

// NotifyWorldEdit throttles bulk sends while the peer is building and makes
// sure the client learns the authoritative result of its edit.
func (s *Scheduler) NotifyWorldEdit(e WorldEdit) {
	s.timeFromBuilding = 0
	if !e.Place {
		s.ResendBlockIfOnWire(e.Under.Block())
		return
	}
	above := e.Above.Block()
	s.Invalidate(above)
	if under := e.Under.Block(); under != above {
		s.Invalidate(under)
	}
}

// RevertWorldEdit resends the blocks of an edit the server refused so the
// client drops its local prediction.
func (s *Scheduler) RevertWorldEdit(e WorldEdit) {
	under := e.Under.Block()
	s.Invalidate(under)
	if !e.Place {
		return
	}
	if above := e.Above.Block(); above != under {
		s.Invalidate(above)
	}
}

func (s *Scheduler) IsSending(p model.BlockPos) bool {
	_, ok := s.sending[p]
	return ok
}

func (s *Scheduler) IsSent(p model.BlockPos) bool {
	_, ok := s.sent[p]
	return ok
}

func (s *Scheduler) IsModified(p model.BlockPos) bool {
	_, ok := s.modified[p]
	return ok
}

func (s *Scheduler) SendingCount() int { return len(s.sending) }
func (s *Scheduler) SentCount() int    { return len(s.sent) }
func (s *Scheduler) Cursor() int       { return s.cursor }
func (s *Scheduler) ExcessAcks() uint64 {
	return s.excessAcks
}

// Info is a point-in-time view of a scheduler for logs and the admin API.
type Info struct {
	PeerID           uint64  `json:"peer_id"`
	Name             string  `json:"name"`
	Sending          int     `json:"sending"`
	Sent             int     `json:"sent"`
	Modified         int     `json:"modified"`
	Occluded         int     `json:"occluded"`
	Cursor           int     `json:"cursor"`
	OldestInFlightS  float64 `json:"oldest_in_flight_s"`
	PauseS           float64 `json:"pause_s"`
	PassS            float64 `json:"pass_s"`
	TimeFromBuilding float64 `json:"time_from_building_s"`
	ExcessAcks       uint64  `json:"excess_acks"`
}

func (s *Scheduler) Info() Info {
	oldest := 0.0
	for _, t := range s.sending {
		if t > oldest {
			oldest = t
		}
	}
	return Info{
		PeerID:           s.peerID,
		Name:             s.name,
		Sending:          len(s.sending),
		Sent:             len(s.sent),
		Modified:         len(s.modified),
		Occluded:         len(s.occluded),
		Cursor:           s.cursor,
		OldestInFlightS:  oldest,
		PauseS:           math.Max(0, s.pauseTimer),
		PassS:            s.passTimer,
		TimeFromBuilding: math.Min(s.timeFromBuilding, 1e6),
		ExcessAcks:       s.excessAcks,
	}
}

// LogInfo writes Info to the scheduler's logger.
func (s *Scheduler) LogInfo() {
	in := s.Info()
	s.logf("blocks peer=%d name=%q sending=%d sent=%d modified=%d occluded=%d cursor=%d oldest_in_flight=%.1fs excess_acks=%d",
		in.PeerID, in.Name, in.Sending, in.Sent, in.Modified, in.Occluded, in.Cursor, in.OldestInFlightS, in.ExcessAcks)
}
