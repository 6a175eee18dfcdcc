package emerge

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"voxelnet.ai/internal/sim/world/kernel/model"
	"voxelnet.ai/internal/sim/world/terrain/gen"
	"voxelnet.ai/internal/sim/world/terrain/store"
)

func waitResult(t *testing.T, m *Manager) Result {
	t.Helper()
	select {
	case r := <-m.Completed():
		return r
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for emerge result")
	}
	return Result{}
}

func TestManager_GeneratesBlock(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := NewManager(Options{Workers: 2, Gen: gen.Params{Seed: 3}})
	defer m.Close()

	p := model.BlockPos{X: 1, Y: -1, Z: 2}
	if !m.Enqueue(7, p) {
		t.Fatalf("enqueue rejected")
	}
	r := waitResult(t, m)
	if r.Pos != p || r.PeerID != 7 || r.Block == nil || !r.Block.Generated {
		t.Fatalf("unexpected result: %+v", r)
	}
	if m.QueueLen() != 0 || m.PeerQueueLen(7) != 0 {
		t.Fatalf("queue not drained: total=%d peer=%d", m.QueueLen(), m.PeerQueueLen(7))
	}
}

func TestManager_QueueLimits(t *testing.T) {
	defer goleak.VerifyNone(t)
	gate := make(chan struct{})
	m := NewManager(Options{
		Workers:           1,
		QueueLimitTotal:   3,
		QueueLimitPerPeer: 2,
		Generate: func(p gen.Params, pos model.BlockPos) *store.Block {
			<-gate
			return store.Generate(p, pos)
		},
	})
	defer m.Close()

	if !m.Enqueue(1, model.BlockPos{X: 0}) || !m.Enqueue(1, model.BlockPos{X: 1}) {
		t.Fatalf("first requests must be accepted")
	}
	if m.Enqueue(1, model.BlockPos{X: 2}) {
		t.Fatalf("per-peer limit not enforced")
	}
	if !m.Enqueue(2, model.BlockPos{X: 3}) {
		t.Fatalf("other peer should still fit")
	}
	if m.Enqueue(3, model.BlockPos{X: 4}) {
		t.Fatalf("total limit not enforced")
	}

	close(gate)
	for i := 0; i < 3; i++ {
		waitResult(t, m)
	}
	if !m.Enqueue(3, model.BlockPos{X: 4}) {
		t.Fatalf("expected room after results were delivered")
	}
	waitResult(t, m)
}

func TestManager_DuplicateRequestIsMerged(t *testing.T) {
	defer goleak.VerifyNone(t)
	gate := make(chan struct{})
	m := NewManager(Options{
		Workers: 1,
		Generate: func(p gen.Params, pos model.BlockPos) *store.Block {
			<-gate
			return store.Generate(p, pos)
		},
	})
	defer m.Close()

	p := model.BlockPos{Y: 1}
	m.Enqueue(1, model.BlockPos{})
	m.Enqueue(1, p)
	if !m.Enqueue(2, p) {
		t.Fatalf("re-enqueue of a queued block must be accepted")
	}
	if m.QueueLen() != 2 {
		t.Fatalf("queue length = %d, want 2", m.QueueLen())
	}
	close(gate)
	waitResult(t, m)
	if r := waitResult(t, m); r.Pos != p || r.PeerID != 1 || r.Block == nil {
		t.Fatalf("merged request should generate for the first peer: %+v", r)
	}
}

func TestManager_CloseRejectsAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := NewManager(Options{Workers: 3})
	m.Close()
	m.Close()
	if m.Enqueue(1, model.BlockPos{}) {
		t.Fatalf("enqueue after close must fail")
	}
}
