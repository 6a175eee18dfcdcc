package world

import (
	"encoding/json"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"voxelnet.ai/internal/protocol"
	"voxelnet.ai/internal/sim/world/feature/blocksend"
	"voxelnet.ai/internal/sim/world/feature/session/lifecycle"
)

type peerConn struct {
	Conn
	kicked bool
}

// peerTable is the registry's transport. It is only used from the world loop.
type peerTable struct {
	conns   map[uint64]*peerConn
	metrics *Metrics
}

func (t *peerTable) Send(peerID uint64, payload []byte) bool {
	p := t.conns[peerID]
	if p == nil || p.kicked {
		return false
	}
	select {
	case p.Out <- payload:
		return true
	default:
		t.metrics.outboundFull()
		return false
	}
}

// Disconnect asks the transport to close the connection. The peer stays
// registered until the transport reports the leave.
func (t *peerTable) Disconnect(peerID uint64, reason string) {
	p := t.conns[peerID]
	if p == nil || p.kicked {
		return
	}
	p.kicked = true
	select {
	case p.Kick <- reason:
	default:
	}
}

const (
	eyeHeight = 1.625
	// Nodes between the eye and a dug or placed node.
	maxInteractDistance = 10.0
)

// player is the camera state reported in PLAYERPOS. Positions are in nodes,
// angles in degrees.
type player struct {
	pos         mgl64.Vec3
	speed       mgl64.Vec3
	pitch       float64
	yaw         float64
	fov         float64
	wantedRange int
	// zoomFOV is owned by the server; PLAYERPOS never changes it.
	zoomFOV float64
}

func (w *World) newPlayer(pos mgl64.Vec3) *player {
	return &player{pos: pos, zoomFOV: w.cfg.ZoomFOV}
}

func (p *player) eye() mgl64.Vec3 { return p.pos.Add(mgl64.Vec3{0, eyeHeight, 0}) }

func (p *player) viewer() blocksend.Viewer {
	return blocksend.Viewer{
		Pos:         p.pos,
		Speed:       p.speed,
		Eye:         p.eye(),
		Dir:         blocksend.LookDir(p.pitch, p.yaw),
		FOV:         mgl64.DegToRad(p.fov),
		WantedRange: p.wantedRange,
		ZoomFOV:     p.zoomFOV,
	}
}

func (w *World) viewerFor(c *lifecycle.Client) (blocksend.Viewer, bool) {
	p := w.players[c.PeerID]
	if p == nil {
		return blocksend.Viewer{}, false
	}
	return p.viewer(), true
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (w *World) sendJSON(peerID uint64, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		w.logf("peer=%d marshal: %v", peerID, err)
		return false
	}
	return w.reg.Send(peerID, b)
}

// deny sends ACCESS_DENIED, marks the peer denied and asks the transport to
// close it.
func (w *World) deny(peerID uint64, code, reason string) {
	w.metrics.denied(code)
	w.logf("peer=%d denied code=%s reason=%q", peerID, code, reason)
	w.sendJSON(peerID, protocol.AccessDeniedMsg{
		Type:      protocol.TypeAccessDenied,
		Code:      code,
		Reason:    reason,
		Reconnect: code == protocol.ErrShutdown,
	})
	if !w.reg.State(peerID).Terminal() {
		_ = w.reg.Event(peerID, lifecycle.EventSetDenied)
	}
	w.peers.Disconnect(peerID, reason)
}

func (w *World) sendError(peerID uint64, code, msg string) {
	w.sendJSON(peerID, protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Message: msg})
}

func (w *World) handleConnect(c Conn) {
	if _, dup := w.peers.conns[c.PeerID]; dup {
		select {
		case c.Kick <- "duplicate peer id":
		default:
		}
		return
	}
	w.peers.conns[c.PeerID] = &peerConn{Conn: c}
	cl, err := w.reg.CreateClient(c.PeerID, c.Addr)
	if err != nil {
		w.logf("peer=%d create: %v", c.PeerID, err)
		w.peers.Disconnect(c.PeerID, "internal error")
		return
	}
	if w.sessionIndex != nil {
		w.sessionIndex.RecordSessionStart(cl.SessionID.String(), c.PeerID, c.Addr)
	}
}

func (w *World) handleLeave(req LeaveRequest) {
	id := req.PeerID
	delete(w.authPending, id)
	if c := w.reg.Client(id); c != nil {
		wasActive := c.State() >= lifecycle.StateActive
		if !c.State().Terminal() {
			_ = w.reg.Event(id, lifecycle.EventDisconnect)
		}
		w.reg.DeleteClient(id)
		if w.sessionIndex != nil {
			w.sessionIndex.RecordSessionEnd(c.SessionID.String(), req.Reason)
		}
		if wasActive {
			w.logf("peer=%d name=%q left: %s", id, c.Name, req.Reason)
			w.refreshPlayerList()
		}
	}
	delete(w.peers.conns, id)
	delete(w.players, id)
}

// refreshPlayerList rebuilds the cached names and tells every active peer.
func (w *World) refreshPlayerList() {
	w.reg.UpdatePlayerList()
	names := w.reg.PlayerNames()
	if names == nil {
		names = []string{}
	}
	b, err := json.Marshal(protocol.PlayerListMsg{Type: protocol.TypePlayerList, Names: names})
	if err != nil {
		return
	}
	w.reg.SendToAll(lifecycle.StateActive, b)
}

// shutdownPeers tells every connected peer the server is going away.
func (w *World) shutdownPeers() {
	for _, id := range w.reg.ClientIDs(lifecycle.StateInvalid) {
		w.deny(id, protocol.ErrShutdown, "server shutting down")
	}
}
