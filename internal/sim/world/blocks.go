package world

import (
	"encoding/json"

	"voxelnet.ai/internal/protocol"
	"voxelnet.ai/internal/sim/emerge"
	"voxelnet.ai/internal/sim/encoding"
	"voxelnet.ai/internal/sim/world/feature/blocksend"
	"voxelnet.ai/internal/sim/world/feature/session/lifecycle"
	"voxelnet.ai/internal/sim/world/kernel/model"
)

// handleEmerged stores a generated block and makes every active peer
// reconsider it. Blocks already generated are kept: they may carry edits.
func (w *World) handleEmerged(res emerge.Result) {
	if res.Block == nil {
		return
	}
	if cur := w.m.BlockNoCreate(res.Pos); cur != nil && cur.Generated {
		return
	}
	res.Block.Touch(w.now())
	w.m.Insert(res.Block)
	w.reg.MarkBlockNotSent(res.Pos)
}

func (w *World) drainEmerged() {
	for {
		select {
		case res := <-w.emerge.Completed():
			w.handleEmerged(res)
		default:
			return
		}
	}
}

type encodedKey struct {
	pos model.BlockPos
	ver uint8
}

// sendBlocks runs the selection pass of every active peer and sends the
// nearest candidates first, within a server-wide cap on blocks in flight.
func (w *World) sendBlocks(dt float64) int {
	cands := w.reg.CollectBlocks(dt, w.viewerFor, w.m, w.emerge)
	if len(cands) == 0 {
		return 0
	}
	blocksend.SortCandidates(cands)

	active := w.reg.Clients(lifecycle.StateActive)
	maxInFlight := (len(active)+w.cfg.MaxUsers)*w.cfg.Blocks.MaxSimultaneousSends/4 + 1
	inFlight := 0
	for _, c := range active {
		inFlight += c.Scheduler.SendingCount()
	}

	cache := map[encodedKey][]byte{}
	sent := 0
	for _, cand := range cands {
		if inFlight >= maxInFlight {
			break
		}
		c := w.reg.Client(cand.PeerID)
		if c == nil {
			continue
		}
		b := w.m.BlockNoCreate(cand.Pos)
		if b == nil || !b.Generated {
			continue
		}
		key := encodedKey{pos: cand.Pos, ver: c.SerializationVersion}
		payload, ok := cache[key]
		if !ok {
			data, err := encoding.EncodeVersion(b.Nodes, c.SerializationVersion)
			if err != nil {
				w.logf("block %s ser_ver %d: encode: %v", cand.Pos, c.SerializationVersion, err)
				continue
			}
			payload, err = json.Marshal(protocol.BlockMsg{
				Type:                 protocol.TypeBlock,
				Pos:                  cand.Pos.ToArray(),
				SerializationVersion: c.SerializationVersion,
				Data:                 data,
			})
			if err != nil {
				continue
			}
			cache[key] = payload
		}
		if !w.reg.Send(cand.PeerID, payload) {
			w.metrics.blockDropped()
			continue
		}
		c.Scheduler.BeganSending(cand.Pos)
		w.metrics.blockSent(len(payload))
		inFlight++
		sent++
	}
	return sent
}
