package world

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/prometheus/client_golang/prometheus"

	"voxelnet.ai/internal/persistence/indexdb"
	"voxelnet.ai/internal/sim/emerge"
	"voxelnet.ai/internal/sim/world/feature/blocksend"
	"voxelnet.ai/internal/sim/world/feature/session/lifecycle"
	"voxelnet.ai/internal/sim/world/terrain/gen"
	"voxelnet.ai/internal/sim/world/terrain/store"
)

// Conn is a transport connection handed to the world loop.
type Conn struct {
	PeerID uint64
	Addr   string
	// Out receives encoded server messages. The world never blocks on it.
	Out chan<- []byte
	// Kick receives the reason when the world drops the peer. It must have
	// room for one value.
	Kick chan<- string
}

// Envelope is one raw client message.
type Envelope struct {
	PeerID uint64
	Raw    []byte
}

type LeaveRequest struct {
	PeerID uint64
	Reason string
}

// Accounts stores player passwords. Implementations may block; the world only
// calls them from its auth workers.
type Accounts interface {
	HasAccount(ctx context.Context, name string) (bool, error)
	CheckPassword(ctx context.Context, name, password string) (bool, error)
	SetPassword(ctx context.Context, name, password string) error
}

// SessionIndex records one row per connection. Calls must not block.
type SessionIndex interface {
	RecordSessionStart(sessionID string, peerID uint64, addr string)
	RecordSessionState(sessionID, name, state string)
	RecordSessionEnd(sessionID, reason string)
}

type SessionLogger interface {
	WriteTransition(entry TransitionLogEntry) error
	WritePass(entry PassLogEntry) error
}

type TransitionLogEntry struct {
	At        time.Time `json:"at"`
	PeerID    uint64    `json:"peer_id"`
	SessionID string    `json:"session_id"`
	Name      string    `json:"name,omitempty"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Event     string    `json:"event"`
}

type PassLogEntry struct {
	At        time.Time `json:"at"`
	Tick      uint64    `json:"tick"`
	PeerID    uint64    `json:"peer_id"`
	SessionID string    `json:"session_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Seconds   float64   `json:"seconds"`
	Sent      int       `json:"sent"`
}

type Options struct {
	Logger *log.Logger
	// Registerer receives the world, scheduler, registry and emerge metrics.
	// Nil leaves them unregistered.
	Registerer prometheus.Registerer
	// Accounts defaults to an in-memory store.
	Accounts    Accounts
	AuthWorkers int
	Now         func() time.Time
}

// World owns the map, the connection registry and every peer's scheduler.
// All of that state is only touched by the goroutine running Run.
type World struct {
	cfg    WorldConfig
	logger *log.Logger
	now    func() time.Time

	tick  atomic.Uint64
	stats atomic.Value

	m       *store.Map
	emerge  *emerge.Manager
	reg     *lifecycle.Registry
	peers   *peerTable
	players map[uint64]*player
	spawn   mgl64.Vec3

	accounts    Accounts
	authPending map[uint64]bool
	authCtx     context.Context
	authCancel  context.CancelFunc
	authWG      sync.WaitGroup

	sessionIndex SessionIndex
	sessionLog   SessionLogger

	schedMetrics *blocksend.Metrics
	metrics      *Metrics

	connect   chan Conn
	leave     chan LeaveRequest
	inbox     chan Envelope
	authJobs  chan authJob
	authDone  chan authResult
	statusReq chan statusReq
	stop      chan struct{}

	stopOnce  sync.Once
	closeOnce sync.Once
}

// New builds a world and starts its emerge and auth workers. Call Close once
// Run has returned.
func New(cfg WorldConfig, opts Options) *World {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 10
	}
	if cfg.MaxUsers <= 0 {
		cfg.MaxUsers = 15
	}
	if cfg.Blocks.MaxSimultaneousSends <= 0 {
		cfg.Blocks = blocksend.DefaultLimits()
	}
	if opts.AuthWorkers <= 0 {
		opts.AuthWorkers = 2
	}
	if opts.Accounts == nil {
		opts.Accounts = indexdb.NewMemoryAccounts()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	w := &World{
		cfg:         cfg,
		logger:      opts.Logger,
		now:         now,
		m:           store.NewMap(cfg.Gen, cfg.MapLimits),
		players:     map[uint64]*player{},
		accounts:    opts.Accounts,
		authPending: map[uint64]bool{},

		schedMetrics: blocksend.NewMetrics(opts.Registerer),
		metrics:      NewMetrics(opts.Registerer),

		connect:   make(chan Conn, 64),
		leave:     make(chan LeaveRequest, 64),
		inbox:     make(chan Envelope, 1024),
		authJobs:  make(chan authJob, 64),
		authDone:  make(chan authResult, 64),
		statusReq: make(chan statusReq, 8),
		stop:      make(chan struct{}),
	}
	w.spawn = mgl64.Vec3{0, float64(gen.HeightAt(cfg.Gen, 0, 0) + 1), 0}
	w.peers = &peerTable{conns: map[uint64]*peerConn{}, metrics: w.metrics}
	w.emerge = emerge.NewManager(emerge.Options{
		Workers:           cfg.EmergeWorkers,
		QueueLimitTotal:   cfg.EmergeQueueTotal,
		QueueLimitPerPeer: cfg.EmergeQueuePerPeer,
		Gen:               cfg.Gen,
		Logger:            opts.Logger,
		Metrics:           emerge.NewMetrics(opts.Registerer),
	})
	w.reg = lifecycle.NewRegistry(lifecycle.Options{
		MaxUsers:            cfg.MaxUsers,
		LingerTimeout:       cfg.LingerTimeoutS,
		PlayerListInterval:  cfg.PlayerListIntervalS,
		LingerCheckInterval: cfg.LingerCheckIntervalS,
		Transport:           w.peers,
		Logger:              opts.Logger,
		Metrics:             lifecycle.NewMetrics(opts.Registerer),
		Now:                 now,
		NewScheduler:        w.newScheduler,
		OnTransition:        w.onTransition,
	})

	w.authCtx, w.authCancel = context.WithCancel(context.Background())
	for i := 0; i < opts.AuthWorkers; i++ {
		w.authWG.Add(1)
		go w.authWorker()
	}
	w.stats.Store(Stats{})
	return w
}

func (w *World) SetSessionIndex(idx SessionIndex) { w.sessionIndex = idx }
func (w *World) SetSessionLogger(l SessionLogger) { w.sessionLog = l }

func (w *World) Connect() chan<- Conn          { return w.connect }
func (w *World) Leave() chan<- LeaveRequest    { return w.leave }
func (w *World) Inbox() chan<- Envelope        { return w.inbox }
func (w *World) Done() <-chan struct{}         { return w.stop }
func (w *World) CurrentTick() uint64           { return w.tick.Load() }
func (w *World) TickRateHz() int               { return w.cfg.TickRateHz }
func (w *World) Registry() *lifecycle.Registry { return w.reg }

func (w *World) Stop() { w.stopOnce.Do(func() { close(w.stop) }) }

// Close stops the background workers. It must not run concurrently with Run.
func (w *World) Close() {
	w.closeOnce.Do(func() {
		w.authCancel()
		close(w.authJobs)
		w.authWG.Wait()
		w.emerge.Close()
	})
}

func (w *World) logf(format string, args ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Printf(format, args...)
}

func (w *World) newScheduler(peerID uint64) *blocksend.Scheduler {
	return blocksend.New(blocksend.Options{
		PeerID:         peerID,
		Limits:         w.cfg.Blocks,
		Logger:         w.logger,
		Metrics:        w.schedMetrics,
		OnPassComplete: w.onPassComplete,
		Now:            w.now,
	})
}

func (w *World) onTransition(tr lifecycle.Transition) {
	sid := tr.SessionID.String()
	if w.sessionIndex != nil {
		w.sessionIndex.RecordSessionState(sid, tr.Name, tr.To.String())
	}
	if w.sessionLog != nil {
		_ = w.sessionLog.WriteTransition(TransitionLogEntry{
			At:        tr.At,
			PeerID:    tr.PeerID,
			SessionID: sid,
			Name:      tr.Name,
			From:      tr.From.String(),
			To:        tr.To.String(),
			Event:     tr.Event.String(),
		})
	}
}

func (w *World) onPassComplete(rec blocksend.PassRecord) {
	if w.sessionLog == nil {
		return
	}
	e := PassLogEntry{
		At:      w.now(),
		Tick:    w.tick.Load(),
		PeerID:  rec.PeerID,
		Name:    rec.Name,
		Seconds: rec.Seconds,
		Sent:    rec.Sent,
	}
	if c := w.reg.Client(rec.PeerID); c != nil {
		e.SessionID = c.SessionID.String()
	}
	_ = w.sessionLog.WritePass(e)
}
