package world

import (
	"encoding/json"
	"regexp"

	"github.com/go-gl/mathgl/mgl64"

	"voxelnet.ai/internal/protocol"
	"voxelnet.ai/internal/sim/world/feature/blocksend"
	"voxelnet.ai/internal/sim/world/feature/session/lifecycle"
	"voxelnet.ai/internal/sim/world/kernel/model"
	"voxelnet.ai/internal/sim/world/terrain/gen"
)

var playerNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,20}$`)

// Larger lists are truncated; the client batches acknowledgments.
const maxBlockListLen = 255

func decode[T any](raw []byte) (T, error) {
	var m T
	err := json.Unmarshal(raw, &m)
	return m, err
}

func (w *World) handleMessage(env Envelope) {
	c := w.reg.Client(env.PeerID)
	if c == nil || c.State().Terminal() {
		return
	}
	base, err := protocol.DecodeBase(env.Raw)
	if err != nil {
		w.metrics.message("invalid", "bad_request")
		return
	}
	result := "ok"
	switch base.Type {
	case protocol.TypeHello:
		result = w.handleHello(env.PeerID, env.Raw)
	case protocol.TypeAuth:
		result = w.handleAuth(env.PeerID, env.Raw)
	case protocol.TypeInit2:
		result = w.handleInit2(env.PeerID)
	case protocol.TypeClientReady:
		result = w.handleClientReady(env.PeerID, env.Raw)
	case protocol.TypePlayerPos:
		result = w.handlePlayerPos(env.PeerID, env.Raw)
	case protocol.TypeGotBlocks, protocol.TypeDeletedBlocks:
		result = w.handleBlockList(env.PeerID, base.Type, env.Raw)
	case protocol.TypeInteract:
		result = w.handleInteract(env.PeerID, env.Raw)
	case protocol.TypeSudoAuth:
		result = w.handleSudoAuth(env.PeerID, env.Raw)
	case protocol.TypeChangePassword:
		result = w.handleChangePassword(env.PeerID, env.Raw)
	default:
		w.metrics.message("unknown", "ignored")
		return
	}
	w.metrics.message(base.Type, result)
}

// stateError denies a peer that sent a message its state does not allow.
func (w *World) stateError(peerID uint64, err error) string {
	w.deny(peerID, protocol.ErrState, err.Error())
	return "bad_state"
}

func (w *World) handleHello(peerID uint64, raw []byte) string {
	if w.authPending[peerID] {
		return "busy"
	}
	if err := w.reg.Expect(peerID, lifecycle.EventHello); err != nil {
		return w.stateError(peerID, err)
	}
	msg, err := decode[protocol.ClientHelloMsg](raw)
	if err != nil {
		w.deny(peerID, protocol.ErrProtoBadRequest, "malformed HELLO")
		return "bad_request"
	}
	if !playerNameRe.MatchString(msg.Name) {
		w.deny(peerID, protocol.ErrNameInvalid, "name must be 1-20 of A-Z a-z 0-9 _ -")
		return "denied"
	}
	pv, ok := protocol.NegotiateProtocol(msg.MinProtocol, msg.MaxProtocol)
	if !ok {
		w.deny(peerID, protocol.ErrProtoVersion, "unsupported protocol version")
		return "denied"
	}
	sv, ok := protocol.NegotiateSerialization(msg.MaxSerializationVersion)
	if !ok {
		w.deny(peerID, protocol.ErrProtoVersion, "unsupported serialization version")
		return "denied"
	}

	c := w.reg.Client(peerID)
	c.SetName(msg.Name)
	c.ProtocolVersion = pv
	c.PendingSerializationVersion = sv
	if !w.enqueueAuth(authJob{kind: authLookup, peerID: peerID, sessionID: c.SessionID, name: msg.Name}) {
		w.deny(peerID, protocol.ErrTimeout, "server busy")
		return "denied"
	}
	return "ok"
}

func (w *World) handleAuth(peerID uint64, raw []byte) string {
	if w.authPending[peerID] {
		return "busy"
	}
	if err := w.reg.Expect(peerID, lifecycle.EventAuthAccept); err != nil {
		return w.stateError(peerID, err)
	}
	msg, err := decode[protocol.AuthMsg](raw)
	if err != nil {
		w.deny(peerID, protocol.ErrProtoBadRequest, "malformed AUTH")
		return "bad_request"
	}
	c := w.reg.Client(peerID)
	mech := lifecycle.ParseAuthMechanism(msg.Mechanism)
	if mech == lifecycle.AuthNone || mech != c.ChosenMech {
		w.deny(peerID, protocol.ErrAuthFailed, "unexpected auth mechanism")
		return "denied"
	}
	kind := authLogin
	if mech == lifecycle.AuthFirstPassword {
		kind = authRegister
	}
	if !w.enqueueAuth(authJob{kind: kind, peerID: peerID, sessionID: c.SessionID, name: c.Name, password: msg.Password}) {
		w.deny(peerID, protocol.ErrTimeout, "server busy")
		return "denied"
	}
	return "ok"
}

func (w *World) handleInit2(peerID uint64) string {
	if err := w.reg.Event(peerID, lifecycle.EventGotInit2); err != nil {
		return w.stateError(peerID, err)
	}
	w.sendJSON(peerID, protocol.DefinitionsMsg{Type: protocol.TypeDefinitions, Nodes: gen.Palette})
	if err := w.reg.Event(peerID, lifecycle.EventSetDefinitionsSent); err != nil {
		return w.stateError(peerID, err)
	}
	return "ok"
}

func (w *World) handleClientReady(peerID uint64, raw []byte) string {
	msg, err := decode[protocol.ClientReadyMsg](raw)
	if err != nil {
		w.deny(peerID, protocol.ErrProtoBadRequest, "malformed CLIENT_READY")
		return "bad_request"
	}
	if err := w.reg.Event(peerID, lifecycle.EventSetClientReady); err != nil {
		return w.stateError(peerID, err)
	}
	c := w.reg.Client(peerID)
	c.Version = lifecycle.VersionInfo{
		Major:  msg.Version.Major,
		Minor:  msg.Version.Minor,
		Patch:  msg.Version.Patch,
		String: msg.Version.String,
	}
	c.AllowedSudoMechs = lifecycle.AuthPassword
	w.players[peerID] = w.newPlayer(w.spawn)
	w.logf("peer=%d name=%q joined (client %s, ser_ver %d)", peerID, c.Name, c.Version.String, c.SerializationVersion)
	w.refreshPlayerList()
	return "ok"
}

func (w *World) handlePlayerPos(peerID uint64, raw []byte) string {
	if w.reg.ClientAtLeast(peerID, lifecycle.StateActive) == nil {
		return "wrong_state"
	}
	msg, err := decode[protocol.PlayerPosMsg](raw)
	if err != nil {
		return "bad_request"
	}
	if !finite(msg.Pos[0], msg.Pos[1], msg.Pos[2], msg.Speed[0], msg.Speed[1], msg.Speed[2], msg.Pitch, msg.Yaw, msg.FOV) {
		return "bad_request"
	}
	p := w.players[peerID]
	if p == nil {
		p = w.newPlayer(mgl64.Vec3{})
		w.players[peerID] = p
	}
	p.pos = mgl64.Vec3(msg.Pos)
	p.speed = mgl64.Vec3(msg.Speed)
	p.pitch = mgl64.Clamp(msg.Pitch, -90, 90)
	p.yaw = msg.Yaw
	p.fov = mgl64.Clamp(msg.FOV, 0, 360)
	p.wantedRange = msg.WantedRange
	if p.wantedRange < 0 {
		p.wantedRange = 0
	}
	return "ok"
}

func (w *World) handleBlockList(peerID uint64, typ string, raw []byte) string {
	c := w.reg.Client(peerID)
	msg, err := decode[protocol.BlockListMsg](raw)
	if err != nil {
		return "bad_request"
	}
	blocks := msg.Blocks
	if len(blocks) > maxBlockListLen {
		blocks = blocks[:maxBlockListLen]
	}
	for _, a := range blocks {
		p := model.BlockPosFromArray(a)
		if typ == protocol.TypeGotBlocks {
			c.Scheduler.Acknowledged(p)
		} else {
			c.Scheduler.Invalidate(p)
		}
	}
	return "ok"
}

func paletteID(name string) (uint16, bool) {
	if name == "" {
		return gen.Stone, true
	}
	for i, n := range gen.Palette {
		if n == name {
			return uint16(i), i != int(gen.Air)
		}
	}
	return 0, false
}

func (w *World) handleInteract(peerID uint64, raw []byte) string {
	c := w.reg.ClientAtLeast(peerID, lifecycle.StateActive)
	p := w.players[peerID]
	if c == nil || p == nil {
		return "wrong_state"
	}
	msg, err := decode[protocol.InteractMsg](raw)
	if err != nil {
		return "bad_request"
	}
	if msg.Action != protocol.InteractDig && msg.Action != protocol.InteractPlace {
		return "bad_request"
	}
	edit := blocksend.WorldEdit{
		Under: model.NodePosFromArray(msg.Under),
		Above: model.NodePosFromArray(msg.Above),
		Place: msg.Action == protocol.InteractPlace,
	}

	bp, result := w.applyInteract(p, msg, edit)
	if result != "ok" {
		// The client has already drawn its prediction.
		c.Scheduler.RevertWorldEdit(edit)
		return result
	}
	w.reg.MarkBlockNotSent(bp)
	c.Scheduler.NotifyWorldEdit(edit)
	return "ok"
}

// applyInteract performs a dig or place on the map and returns the block
// that changed.
func (w *World) applyInteract(p *player, msg protocol.InteractMsg, e blocksend.WorldEdit) (model.BlockPos, string) {
	if e.Under.Vec().Sub(p.eye()).Len() > maxInteractDistance {
		return model.BlockPos{}, "too_far"
	}

	var target model.NodePos
	var id uint16
	if e.Place {
		nid, ok := paletteID(msg.Node)
		if !ok {
			return model.BlockPos{}, "bad_request"
		}
		cur, ok := w.m.Node(e.Above)
		if !ok || cur != gen.Air {
			return model.BlockPos{}, "noop"
		}
		target, id = e.Above, nid
	} else {
		cur, ok := w.m.Node(e.Under)
		if !ok || cur == gen.Air {
			return model.BlockPos{}, "noop"
		}
		target, id = e.Under, gen.Air
	}

	bp, changed := w.m.SetNode(target, id)
	if !changed {
		return bp, "noop"
	}
	return bp, "ok"
}

func (w *World) handleSudoAuth(peerID uint64, raw []byte) string {
	if w.authPending[peerID] {
		return "busy"
	}
	if err := w.reg.Expect(peerID, lifecycle.EventSudoSuccess); err != nil {
		return w.stateError(peerID, err)
	}
	msg, err := decode[protocol.SudoAuthMsg](raw)
	if err != nil {
		return "bad_request"
	}
	c := w.reg.Client(peerID)
	if c.AllowedSudoMechs == lifecycle.AuthNone {
		w.sendError(peerID, protocol.ErrNoPermission, "sudo not available")
		return "denied"
	}
	if !w.enqueueAuth(authJob{kind: authSudo, peerID: peerID, sessionID: c.SessionID, name: c.Name, password: msg.Password}) {
		w.sendError(peerID, protocol.ErrTimeout, "server busy")
		return "busy"
	}
	return "ok"
}

func (w *World) handleChangePassword(peerID uint64, raw []byte) string {
	if w.authPending[peerID] {
		return "busy"
	}
	if err := w.reg.Expect(peerID, lifecycle.EventSudoLeave); err != nil {
		return w.stateError(peerID, err)
	}
	msg, err := decode[protocol.ChangePasswordMsg](raw)
	if err != nil || msg.NewPassword == "" {
		w.sendJSON(peerID, protocol.PasswordChangedMsg{Type: protocol.TypePasswordChanged, Code: protocol.ErrProtoBadRequest})
		return "bad_request"
	}
	c := w.reg.Client(peerID)
	if !w.enqueueAuth(authJob{kind: authChangePassword, peerID: peerID, sessionID: c.SessionID, name: c.Name, password: msg.NewPassword}) {
		w.sendError(peerID, protocol.ErrTimeout, "server busy")
		return "busy"
	}
	return "ok"
}
