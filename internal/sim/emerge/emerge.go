// Package emerge generates missing blocks on a pool of worker goroutines.
// Requests are queued without blocking; a full queue is reported to the caller
// so it can back off.
package emerge

import (
	"context"
	"log"
	"sync"
	"time"

	"voxelnet.ai/internal/sim/world/kernel/model"
	"voxelnet.ai/internal/sim/world/terrain/gen"
	"voxelnet.ai/internal/sim/world/terrain/store"
)

type Options struct {
	Workers           int
	QueueLimitTotal   int
	QueueLimitPerPeer int

	Gen     gen.Params
	Logger  *log.Logger
	Metrics *Metrics
	// Generate defaults to store.Generate.
	Generate func(gen.Params, model.BlockPos) *store.Block
}

// Result is one finished request.
type Result struct {
	Pos      model.BlockPos
	PeerID   uint64
	Block    *store.Block
	Duration time.Duration
}

type Manager struct {
	opts Options

	mu      sync.Mutex
	queued  map[model.BlockPos]uint64 // requesting peer
	perPeer map[uint64]int
	closed  bool

	jobs    chan model.BlockPos
	results chan Result

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(opts Options) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueLimitTotal <= 0 {
		opts.QueueLimitTotal = 1024
	}
	if opts.QueueLimitPerPeer <= 0 {
		opts.QueueLimitPerPeer = 128
	}
	if opts.Generate == nil {
		opts.Generate = store.Generate
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		opts:    opts,
		queued:  map[model.BlockPos]uint64{},
		perPeer: map[uint64]int{},
		jobs:    make(chan model.BlockPos, opts.QueueLimitTotal),
		results: make(chan Result, opts.Workers*4),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

// Enqueue asks for p on behalf of peerID. It returns false when the total or
// the peer's queue is full. A position that is already queued is accepted
// again and stays charged to the first peer.
func (m *Manager) Enqueue(peerID uint64, p model.BlockPos) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	if len(m.queued) >= m.opts.QueueLimitTotal || m.perPeer[peerID] >= m.opts.QueueLimitPerPeer {
		m.opts.Metrics.enqueue(false)
		return false
	}
	if _, ok := m.queued[p]; ok {
		m.opts.Metrics.enqueue(true)
		return true
	}
	m.queued[p] = peerID
	m.perPeer[peerID]++
	// Never blocks: the buffer holds QueueLimitTotal entries.
	m.jobs <- p
	m.opts.Metrics.enqueue(true)
	m.opts.Metrics.queueLen(len(m.queued))
	return true
}

// Completed delivers finished requests. The world loop must drain it.
func (m *Manager) Completed() <-chan Result { return m.results }

// QueueLen is the number of requests queued or being generated.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queued)
}

// PeerQueueLen is the number of outstanding requests made by peerID.
func (m *Manager) PeerQueueLen(peerID uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perPeer[peerID]
}

// Close stops the workers and waits for them. Pending requests are dropped.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.jobs)
	dropped := len(m.queued)
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	if m.opts.Logger != nil && dropped > 0 {
		m.opts.Logger.Printf("emerge: stopped with %d requests pending", dropped)
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for p := range m.jobs {
		if m.ctx.Err() != nil {
			continue
		}
		m.mu.Lock()
		peerID, ok := m.queued[p]
		m.mu.Unlock()
		if !ok {
			continue
		}

		start := time.Now()
		b := m.opts.Generate(m.opts.Gen, p)
		res := Result{Pos: p, PeerID: peerID, Block: b, Duration: time.Since(start)}
		m.opts.Metrics.generated(res.Duration)

		m.mu.Lock()
		delete(m.queued, p)
		if m.perPeer[peerID] <= 1 {
			delete(m.perPeer, peerID)
		} else {
			m.perPeer[peerID]--
		}
		m.opts.Metrics.queueLen(len(m.queued))
		m.mu.Unlock()

		select {
		case m.results <- res:
		case <-m.ctx.Done():
		}
	}
}
