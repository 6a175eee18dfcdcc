package world

import (
	"context"
	"time"

	"voxelnet.ai/internal/sim/world/feature/session/lifecycle"
)

// Run drives the world until ctx is cancelled or Stop is called. Connects,
// leaves and client messages are applied at the next tick boundary in the
// order they arrived.
func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer w.shutdownPeers()

	var pendingConns []Conn
	var pendingLeaves []LeaveRequest
	var pendingMsgs []Envelope
	var pendingStatus []statusReq
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case c := <-w.connect:
			pendingConns = append(pendingConns, c)
		case req := <-w.leave:
			pendingLeaves = append(pendingLeaves, req)
		case env := <-w.inbox:
			pendingMsgs = append(pendingMsgs, env)
		case res := <-w.authDone:
			w.handleAuthResult(res)
		case res := <-w.emerge.Completed():
			w.handleEmerged(res)
		case req := <-w.statusReq:
			pendingStatus = append(pendingStatus, req)
		case <-ticker.C:
			now := time.Now()
			dt := now.Sub(last).Seconds()
			last = now
			w.stepInternal(dt, pendingConns, pendingLeaves, pendingMsgs)
			w.handleStatusRequests(pendingStatus)
			pendingConns = pendingConns[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingMsgs = pendingMsgs[:0]
			pendingStatus = pendingStatus[:0]
		}
	}
}

// stepInternal advances one tick of dt seconds.
func (w *World) stepInternal(dt float64, conns []Conn, leaves []LeaveRequest, msgs []Envelope) {
	stepStart := time.Now()
	w.tick.Add(1)

	for _, c := range conns {
		w.handleConnect(c)
	}
	for _, env := range msgs {
		w.handleMessage(env)
	}
	// Leaves go last so messages sent just before a close are still seen.
	for _, req := range leaves {
		w.handleLeave(req)
	}

	w.drainEmerged()
	w.reg.Step(dt)
	sent := w.sendBlocks(dt)

	stepDur := time.Since(stepStart)
	w.metrics.step(stepDur, len(w.m.Blocks))
	w.stats.Store(Stats{
		Tick:         w.tick.Load(),
		Clients:      w.reg.Len(),
		Active:       len(w.reg.ClientIDs(lifecycle.StateActive)),
		LoadedBlocks: len(w.m.Blocks),
		EmergeQueue:  w.emerge.QueueLen(),
		BlocksSent:   sent,
		StepMS:       float64(stepDur.Microseconds()) / 1000,
	})
}
