package world

import (
	"context"
	"errors"

	"voxelnet.ai/internal/sim/world/feature/session/lifecycle"
)

// Stats is a read-only view of the world published after every tick. It is
// safe to read from HTTP handlers.
type Stats struct {
	Tick         uint64  `json:"tick"`
	Clients      int     `json:"clients"`
	Active       int     `json:"active"`
	LoadedBlocks int     `json:"loaded_blocks"`
	EmergeQueue  int     `json:"emerge_queue"`
	BlocksSent   int     `json:"blocks_sent"`
	StepMS       float64 `json:"step_ms"`
}

func (w *World) Stats() Stats {
	if w == nil {
		return Stats{}
	}
	s, _ := w.stats.Load().(Stats)
	return s
}

// Status is the admin view of every connection.
type Status struct {
	Tick         uint64                 `json:"tick"`
	Players      []string               `json:"players"`
	Clients      []lifecycle.ClientInfo `json:"clients"`
	LoadedBlocks int                    `json:"loaded_blocks"`
	EmergeQueue  int                    `json:"emerge_queue"`
}

type statusReq struct {
	Resp chan Status
}

// RequestStatus asks the world loop for a Status. It is safe to call from
// other goroutines; the answer arrives at the next tick boundary.
func (w *World) RequestStatus(ctx context.Context) (Status, error) {
	if w == nil || w.statusReq == nil {
		return Status{}, errors.New("status not available")
	}
	resp := make(chan Status, 1)
	select {
	case w.statusReq <- statusReq{Resp: resp}:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case s := <-resp:
		return s, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (w *World) status() Status {
	players := w.reg.PlayerNames()
	if players == nil {
		players = []string{}
	}
	return Status{
		Tick:         w.tick.Load(),
		Players:      players,
		Clients:      w.reg.Info(),
		LoadedBlocks: len(w.m.Blocks),
		EmergeQueue:  w.emerge.QueueLen(),
	}
}

func (w *World) handleStatusRequests(reqs []statusReq) {
	if len(reqs) == 0 {
		return
	}
	s := w.status()
	for _, r := range reqs {
		if r.Resp == nil {
			continue
		}
		select {
		case r.Resp <- s:
		default:
			// Caller gave up; never block the loop.
		}
	}
}
