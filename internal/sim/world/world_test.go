package world

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"

	"voxelnet.ai/internal/persistence/indexdb"
	"voxelnet.ai/internal/protocol"
	"voxelnet.ai/internal/sim/encoding"
	"voxelnet.ai/internal/sim/world/feature/blocksend"
	"voxelnet.ai/internal/sim/world/feature/session/lifecycle"
	"voxelnet.ai/internal/sim/world/kernel/model"
	"voxelnet.ai/internal/sim/world/terrain/gen"
	"voxelnet.ai/internal/sim/world/terrain/store"
)

func TestMain(m *testing.M) {
	indexdb.PasswordCost = bcrypt.MinCost
	goleak.VerifyTestMain(m)
}

type testPeer struct {
	id   uint64
	out  chan []byte
	kick chan string
}

func newTestPeer(id uint64) *testPeer {
	return &testPeer{id: id, out: make(chan []byte, 4096), kick: make(chan string, 1)}
}

func (p *testPeer) conn() Conn {
	return Conn{PeerID: p.id, Addr: "127.0.0.1:1", Out: p.out, Kick: p.kick}
}

func (p *testPeer) env(t *testing.T, v any) Envelope {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return Envelope{PeerID: p.id, Raw: b}
}

// next returns the next queued message of type typ, skipping others.
func (p *testPeer) next(t *testing.T, typ string) []byte {
	t.Helper()
	for {
		select {
		case b := <-p.out:
			base, err := protocol.DecodeBase(b)
			if err != nil {
				t.Fatalf("bad server message %q: %v", b, err)
			}
			if base.Type == typ {
				return b
			}
		default:
			t.Fatalf("peer %d: no %s message queued", p.id, typ)
			return nil
		}
	}
}

func (p *testPeer) kicked() bool {
	select {
	case <-p.kick:
		return true
	default:
		return false
	}
}

func testConfig() WorldConfig {
	return WorldConfig{
		TickRateHz: 10,
		Seed:       1,
		MaxUsers:   2,
		Blocks:     blocksend.DefaultLimits(),
		MapLimits:  store.Limits{GenerationLimit: 31007, MinBlockY: -2, MaxBlockY: 2},
		Gen:        gen.Params{Seed: 1},

		EmergeWorkers:      1,
		EmergeQueueTotal:   256,
		EmergeQueuePerPeer: 64,
		AllowRegistration:  true,
		AdminName:          "admin",
	}
}

func newTestWorld(t *testing.T, cfg WorldConfig, accounts Accounts) *World {
	t.Helper()
	w := New(cfg, Options{Accounts: accounts, AuthWorkers: 1})
	t.Cleanup(w.Close)
	return w
}

// awaitAuth applies the next finished auth job like the loop does.
func awaitAuth(t *testing.T, w *World) {
	t.Helper()
	select {
	case res := <-w.authDone:
		w.handleAuthResult(res)
	case <-time.After(5 * time.Second):
		t.Fatalf("auth job did not finish")
	}
}

func hello(name string) protocol.ClientHelloMsg {
	return protocol.ClientHelloMsg{
		Type:                    protocol.TypeHello,
		ProtocolVersion:         protocol.Version,
		MinProtocol:             1,
		MaxProtocol:             1,
		MaxSerializationVersion: 2,
		Name:                    name,
	}
}

// join drives p from connect to Active with password pw.
func join(t *testing.T, w *World, p *testPeer, name, pw string) {
	t.Helper()
	w.stepInternal(0.1, []Conn{p.conn()}, nil, []Envelope{p.env(t, hello(name))})
	awaitAuth(t, w)
	var sh protocol.ServerHelloMsg
	if err := json.Unmarshal(p.next(t, protocol.TypeHello), &sh); err != nil {
		t.Fatalf("server hello: %v", err)
	}
	w.stepInternal(0.1, nil, nil, []Envelope{p.env(t, protocol.AuthMsg{Type: protocol.TypeAuth, Mechanism: sh.AuthMechanism, Password: pw})})
	awaitAuth(t, w)
	p.next(t, protocol.TypeAuthAccept)
	w.stepInternal(0.1, nil, nil, []Envelope{
		p.env(t, protocol.Init2Msg{Type: protocol.TypeInit2}),
		p.env(t, protocol.ClientReadyMsg{Type: protocol.TypeClientReady, Version: protocol.VersionInfo{Major: 1, String: "1.0.0"}}),
	})
	if st := w.reg.State(p.id); st != lifecycle.StateActive {
		t.Fatalf("peer %d state = %s, want Active", p.id, st)
	}
}

func deniedCode(t *testing.T, p *testPeer) string {
	t.Helper()
	var m protocol.AccessDeniedMsg
	if err := json.Unmarshal(p.next(t, protocol.TypeAccessDenied), &m); err != nil {
		t.Fatalf("access denied: %v", err)
	}
	return m.Code
}

type recordingIndex struct {
	mu     sync.Mutex
	starts []string
	states []string
	ends   []string
}

func (r *recordingIndex) RecordSessionStart(sessionID string, _ uint64, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, sessionID)
}

func (r *recordingIndex) RecordSessionState(_, _ string, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recordingIndex) RecordSessionEnd(_ string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends = append(r.ends, reason)
}

func TestWorld_HandshakeRegistersAndSendsBlocks(t *testing.T) {
	accounts := indexdb.NewMemoryAccounts()
	w := newTestWorld(t, testConfig(), accounts)
	idx := &recordingIndex{}
	w.SetSessionIndex(idx)
	p := newTestPeer(1)

	w.stepInternal(0.1, []Conn{p.conn()}, nil, []Envelope{p.env(t, hello("alice"))})
	awaitAuth(t, w)
	var sh protocol.ServerHelloMsg
	if err := json.Unmarshal(p.next(t, protocol.TypeHello), &sh); err != nil {
		t.Fatalf("server hello: %v", err)
	}
	if sh.AuthMechanism != "FIRST_PASSWORD" || sh.SerializationVersion != 2 || sh.Protocol != 1 {
		t.Fatalf("unexpected server hello: %+v", sh)
	}

	w.stepInternal(0.1, nil, nil, []Envelope{p.env(t, protocol.AuthMsg{Type: protocol.TypeAuth, Mechanism: "FIRST_PASSWORD", Password: "pw"})})
	awaitAuth(t, w)
	p.next(t, protocol.TypeAuthAccept)
	if ok, _ := accounts.CheckPassword(context.Background(), "alice", "pw"); !ok {
		t.Fatalf("account was not registered")
	}

	w.stepInternal(0.1, nil, nil, []Envelope{
		p.env(t, protocol.Init2Msg{Type: protocol.TypeInit2}),
		p.env(t, protocol.ClientReadyMsg{Type: protocol.TypeClientReady, Version: protocol.VersionInfo{Major: 1, String: "1.0.0"}}),
	})
	var defs protocol.DefinitionsMsg
	if err := json.Unmarshal(p.next(t, protocol.TypeDefinitions), &defs); err != nil || len(defs.Nodes) != len(gen.Palette) {
		t.Fatalf("definitions: %+v %v", defs, err)
	}
	var pl protocol.PlayerListMsg
	if err := json.Unmarshal(p.next(t, protocol.TypePlayerList), &pl); err != nil || len(pl.Names) != 1 || pl.Names[0] != "alice" {
		t.Fatalf("player list: %+v %v", pl, err)
	}
	c := w.reg.Client(1)
	if c.State() != lifecycle.StateActive || c.SerializationVersion != 2 {
		t.Fatalf("client state=%s ser_ver=%d", c.State(), c.SerializationVersion)
	}

	// Step until generated blocks start flowing.
	var blk protocol.BlockMsg
	deadline := time.Now().Add(10 * time.Second)
	for blk.Type == "" {
		if time.Now().After(deadline) {
			t.Fatalf("no BLOCK sent")
		}
		time.Sleep(5 * time.Millisecond)
		w.stepInternal(0.1, nil, nil, nil)
		select {
		case b := <-p.out:
			_ = json.Unmarshal(b, &blk)
			if blk.Type != protocol.TypeBlock {
				blk = protocol.BlockMsg{}
			}
		default:
		}
	}
	nodes, err := encoding.DecodeVersion(blk.Data, blk.SerializationVersion)
	if err != nil || len(nodes) != model.NodesPerBlock {
		t.Fatalf("decode block: %d nodes, %v", len(nodes), err)
	}
	pos := model.BlockPosFromArray(blk.Pos)
	if !c.Scheduler.IsSending(pos) {
		t.Fatalf("block %s not tracked as in flight", pos)
	}

	w.stepInternal(0.1, nil, nil, []Envelope{p.env(t, protocol.BlockListMsg{Type: protocol.TypeGotBlocks, Blocks: [][3]int{blk.Pos}})})
	if c.Scheduler.IsSending(pos) || !c.Scheduler.IsSent(pos) {
		t.Fatalf("ack did not move %s to sent", pos)
	}
	w.stepInternal(0.1, nil, nil, []Envelope{p.env(t, protocol.BlockListMsg{Type: protocol.TypeDeletedBlocks, Blocks: [][3]int{blk.Pos}})})
	if c.Scheduler.IsSent(pos) {
		t.Fatalf("deleted block %s still marked sent", pos)
	}

	w.stepInternal(0.1, nil, []LeaveRequest{{PeerID: 1, Reason: "closed"}}, nil)
	if w.reg.Client(1) != nil {
		t.Fatalf("client still registered after leave")
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if len(idx.starts) != 1 || len(idx.ends) != 1 || idx.ends[0] != "closed" {
		t.Fatalf("session index: starts=%v ends=%v", idx.starts, idx.ends)
	}
	if idx.states[len(idx.states)-1] != "Disconnecting" {
		t.Fatalf("last recorded state = %v", idx.states)
	}
}

func TestWorld_WrongPasswordDenied(t *testing.T) {
	accounts := indexdb.NewMemoryAccounts()
	if err := accounts.SetPassword(context.Background(), "bob", "secret"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	w := newTestWorld(t, testConfig(), accounts)
	p := newTestPeer(1)

	w.stepInternal(0.1, []Conn{p.conn()}, nil, []Envelope{p.env(t, hello("bob"))})
	awaitAuth(t, w)
	var sh protocol.ServerHelloMsg
	_ = json.Unmarshal(p.next(t, protocol.TypeHello), &sh)
	if sh.AuthMechanism != "PASSWORD" {
		t.Fatalf("mechanism = %q, want PASSWORD", sh.AuthMechanism)
	}

	w.stepInternal(0.1, nil, nil, []Envelope{p.env(t, protocol.AuthMsg{Type: protocol.TypeAuth, Mechanism: "PASSWORD", Password: "nope"})})
	awaitAuth(t, w)
	if code := deniedCode(t, p); code != protocol.ErrAuthFailed {
		t.Fatalf("code = %s", code)
	}
	if !p.kicked() || w.reg.State(1) != lifecycle.StateDenied {
		t.Fatalf("peer not denied: state=%s", w.reg.State(1))
	}
}

func TestWorld_MechanismMismatchDenied(t *testing.T) {
	w := newTestWorld(t, testConfig(), nil)
	p := newTestPeer(1)
	w.stepInternal(0.1, []Conn{p.conn()}, nil, []Envelope{p.env(t, hello("carol"))})
	awaitAuth(t, w)
	w.stepInternal(0.1, nil, nil, []Envelope{p.env(t, protocol.AuthMsg{Type: protocol.TypeAuth, Mechanism: "PASSWORD", Password: "x"})})
	if code := deniedCode(t, p); code != protocol.ErrAuthFailed {
		t.Fatalf("code = %s", code)
	}
}

func TestWorld_HandshakeRejections(t *testing.T) {
	cases := []struct {
		name string
		msg  any
		code string
	}{
		{"out of order", protocol.Init2Msg{Type: protocol.TypeInit2}, protocol.ErrState},
		{"bad name", hello("no spaces"), protocol.ErrNameInvalid},
		{"old client", protocol.ClientHelloMsg{Type: protocol.TypeHello, MinProtocol: 0, MaxProtocol: 0, MaxSerializationVersion: 2, Name: "x"}, protocol.ErrProtoVersion},
		{"no serialization", protocol.ClientHelloMsg{Type: protocol.TypeHello, MinProtocol: 1, MaxProtocol: 1, MaxSerializationVersion: 0, Name: "x"}, protocol.ErrProtoVersion},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := newTestWorld(t, testConfig(), nil)
			p := newTestPeer(1)
			w.stepInternal(0.1, []Conn{p.conn()}, nil, []Envelope{p.env(t, tc.msg)})
			if code := deniedCode(t, p); code != tc.code {
				t.Fatalf("code = %s, want %s", code, tc.code)
			}
			if !p.kicked() {
				t.Fatalf("peer was not kicked")
			}
		})
	}
}

func TestWorld_MalformedAndUnknownMessagesIgnored(t *testing.T) {
	w := newTestWorld(t, testConfig(), nil)
	p := newTestPeer(1)
	w.stepInternal(0.1, []Conn{p.conn()}, nil, []Envelope{
		{PeerID: 1, Raw: []byte("{not json")},
		{PeerID: 1, Raw: []byte(`{"type":"TELEPORT"}`)},
		{PeerID: 1, Raw: []byte(`{"type":"PLAYERPOS","pos":[1,2,3]}`)},
	})
	if w.reg.State(1) != lifecycle.StateCreated || p.kicked() {
		t.Fatalf("peer should be untouched, state=%s", w.reg.State(1))
	}
}

func TestWorld_UserLimitAndAdminBypass(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUsers = 1
	w := newTestWorld(t, cfg, nil)
	join(t, w, newTestPeer(1), "alice", "pw")

	bob := newTestPeer(2)
	w.stepInternal(0.1, []Conn{bob.conn()}, nil, []Envelope{bob.env(t, hello("bob"))})
	awaitAuth(t, w)
	if code := deniedCode(t, bob); code != protocol.ErrServerFull {
		t.Fatalf("code = %s", code)
	}

	admin := newTestPeer(3)
	join(t, w, admin, "admin", "root")
}

func TestWorld_DuplicateNameDenied(t *testing.T) {
	w := newTestWorld(t, testConfig(), nil)
	join(t, w, newTestPeer(1), "alice", "pw")

	dup := newTestPeer(2)
	w.stepInternal(0.1, []Conn{dup.conn()}, nil, []Envelope{dup.env(t, hello("alice"))})
	awaitAuth(t, w)
	if code := deniedCode(t, dup); code != protocol.ErrAlreadyConnected {
		t.Fatalf("code = %s", code)
	}
}

func TestWorld_RegistrationDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.AllowRegistration = false
	w := newTestWorld(t, cfg, nil)
	p := newTestPeer(1)
	w.stepInternal(0.1, []Conn{p.conn()}, nil, []Envelope{p.env(t, hello("newbie"))})
	awaitAuth(t, w)
	if code := deniedCode(t, p); code != protocol.ErrAuthFailed {
		t.Fatalf("code = %s", code)
	}
}

func TestWorld_SudoChangePassword(t *testing.T) {
	accounts := indexdb.NewMemoryAccounts()
	w := newTestWorld(t, testConfig(), accounts)
	p := newTestPeer(1)
	join(t, w, p, "alice", "old")

	w.stepInternal(0.1, nil, nil, []Envelope{p.env(t, protocol.SudoAuthMsg{Type: protocol.TypeSudoAuth, Password: "wrong"})})
	awaitAuth(t, w)
	var em protocol.ErrorMsg
	_ = json.Unmarshal(p.next(t, protocol.TypeError), &em)
	if em.Code != protocol.ErrAuthFailed || w.reg.State(1) != lifecycle.StateActive {
		t.Fatalf("wrong sudo password: %+v state=%s", em, w.reg.State(1))
	}

	w.stepInternal(0.1, nil, nil, []Envelope{p.env(t, protocol.SudoAuthMsg{Type: protocol.TypeSudoAuth, Password: "old"})})
	awaitAuth(t, w)
	p.next(t, protocol.TypeSudoAccept)
	if w.reg.State(1) != lifecycle.StateSudoMode {
		t.Fatalf("state = %s, want SudoMode", w.reg.State(1))
	}

	w.stepInternal(0.1, nil, nil, []Envelope{p.env(t, protocol.ChangePasswordMsg{Type: protocol.TypeChangePassword, NewPassword: "new"})})
	awaitAuth(t, w)
	var pc protocol.PasswordChangedMsg
	_ = json.Unmarshal(p.next(t, protocol.TypePasswordChanged), &pc)
	if !pc.OK || w.reg.State(1) != lifecycle.StateActive {
		t.Fatalf("password change: %+v state=%s", pc, w.reg.State(1))
	}
	if ok, _ := accounts.CheckPassword(context.Background(), "alice", "new"); !ok {
		t.Fatalf("password was not changed")
	}
}

func TestWorld_ChangePasswordOutsideSudoDenied(t *testing.T) {
	w := newTestWorld(t, testConfig(), nil)
	p := newTestPeer(1)
	join(t, w, p, "alice", "pw")
	w.stepInternal(0.1, nil, nil, []Envelope{p.env(t, protocol.ChangePasswordMsg{Type: protocol.TypeChangePassword, NewPassword: "x"})})
	if code := deniedCode(t, p); code != protocol.ErrState {
		t.Fatalf("code = %s", code)
	}
}

func TestWorld_InteractDigEditsMapAndInvalidates(t *testing.T) {
	w := newTestWorld(t, testConfig(), nil)
	p := newTestPeer(1)
	join(t, w, p, "alice", "pw")

	ground := model.NodeAt(w.spawn).Add(0, -1, 0)
	bp := ground.Block()
	w.m.Insert(store.Generate(w.cfg.Gen, bp))
	c := w.reg.Client(1)
	c.Scheduler.BeganSending(bp)

	dig := protocol.InteractMsg{Type: protocol.TypeInteract, Action: protocol.InteractDig, Under: [3]int{ground.X, ground.Y, ground.Z}, Above: [3]int{ground.X, ground.Y + 1, ground.Z}}
	// Handled directly: a full step could pick the block again right away.
	w.handleMessage(p.env(t, dig))
	if id, ok := w.m.Node(ground); !ok || id != gen.Air {
		t.Fatalf("node after dig = %d (loaded %v)", id, ok)
	}
	if c.Scheduler.IsSending(bp) || !c.Scheduler.IsModified(bp) {
		t.Fatalf("dug block %s was not invalidated", bp)
	}

	place := dig
	place.Action = protocol.InteractPlace
	place.Node = "GLASS"
	place.Above = dig.Under
	w.handleMessage(p.env(t, place))
	if id, _ := w.m.Node(ground); id != gen.Glass {
		t.Fatalf("node after place = %d", id)
	}

	far := dig
	far.Action = protocol.InteractDig
	far.Under = [3]int{ground.X, ground.Y - 40, ground.Z}
	w.m.Insert(store.Generate(w.cfg.Gen, model.NodePosFromArray(far.Under).Block()))
	w.handleMessage(p.env(t, far))
	if id, ok := w.m.Node(model.NodePosFromArray(far.Under)); !ok || id == gen.Air {
		t.Fatalf("out of reach dig changed the map")
	}
}

func TestWorld_RejectedInteractResendsBlocks(t *testing.T) {
	w := newTestWorld(t, testConfig(), nil)
	p := newTestPeer(1)
	join(t, w, p, "alice", "pw")
	c := w.reg.Client(1)
	markSent := func(bp model.BlockPos) {
		c.Scheduler.BeganSending(bp)
		c.Scheduler.Acknowledged(bp)
	}

	far := model.NodePos{X: 200}
	markSent(far.Block())
	dig := protocol.InteractMsg{Type: protocol.TypeInteract, Action: protocol.InteractDig, Under: [3]int{200, 0, 0}, Above: [3]int{200, 1, 0}}
	w.handleMessage(p.env(t, dig))
	if c.Scheduler.IsSent(far.Block()) || !c.Scheduler.IsModified(far.Block()) {
		t.Fatalf("out of reach dig left %s marked sent", far.Block())
	}

	// Stand on a block boundary so the place spans two blocks.
	w.handleMessage(p.env(t, protocol.PlayerPosMsg{Type: protocol.TypePlayerPos, Pos: [3]float64{16, 0, 8}, FOV: 72}))
	under, above := model.NodePos{X: 15, Y: 1, Z: 8}, model.NodePos{X: 16, Y: 1, Z: 8}
	markSent(under.Block())
	markSent(above.Block())
	place := protocol.InteractMsg{Type: protocol.TypeInteract, Action: protocol.InteractPlace, Node: "AIR", Under: [3]int{15, 1, 8}, Above: [3]int{16, 1, 8}}
	w.handleMessage(p.env(t, place))
	for _, bp := range []model.BlockPos{under.Block(), above.Block()} {
		if c.Scheduler.IsSent(bp) || !c.Scheduler.IsModified(bp) {
			t.Fatalf("refused place left %s marked sent", bp)
		}
	}
	if id, _ := w.m.Node(above); id != gen.Air {
		t.Fatalf("refused place changed the map: %d", id)
	}
}

func TestWorld_ServerZoomIsNotClientControlled(t *testing.T) {
	cfg := testConfig()
	cfg.ZoomFOV = 30
	w := newTestWorld(t, cfg, nil)
	p := newTestPeer(1)
	join(t, w, p, "alice", "pw")

	w.handleMessage(p.env(t, protocol.PlayerPosMsg{Type: protocol.TypePlayerPos, Pos: [3]float64{0, 10, 0}, FOV: 1}))
	v, ok := w.viewerFor(w.reg.Client(1))
	if !ok {
		t.Fatalf("no viewer for an active peer")
	}
	if v.ZoomFOV != 30 {
		t.Fatalf("zoom = %v, want the configured 30", v.ZoomFOV)
	}
}

func TestWorld_LingeringPeerKicked(t *testing.T) {
	cfg := testConfig()
	cfg.LingerTimeoutS = 1
	cfg.LingerCheckIntervalS = 0.1
	clock := time.Unix(1000, 0)
	w := New(cfg, Options{AuthWorkers: 1, Now: func() time.Time { return clock }})
	t.Cleanup(w.Close)
	p := newTestPeer(1)
	w.stepInternal(0.1, []Conn{p.conn()}, nil, nil)
	clock = clock.Add(2 * time.Second)
	w.stepInternal(0.2, nil, nil, nil)
	if !p.kicked() {
		t.Fatalf("lingering peer was not kicked")
	}
}

func TestWorld_RunStatusAndShutdown(t *testing.T) {
	w := newTestWorld(t, testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	p := newTestPeer(7)
	w.Connect() <- p.conn()

	var st Status
	deadline := time.Now().Add(5 * time.Second)
	for len(st.Clients) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("peer never showed up in status")
		}
		sctx, scancel := context.WithTimeout(ctx, time.Second)
		var err error
		st, err = w.RequestStatus(sctx)
		scancel()
		if err != nil {
			t.Fatalf("RequestStatus: %v", err)
		}
	}
	if st.Clients[0].PeerID != 7 || st.Clients[0].State != "Created" {
		t.Fatalf("unexpected status: %+v", st.Clients)
	}
	if w.Stats().Tick == 0 {
		t.Fatalf("stats were not published")
	}

	w.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop")
	}
	if code := deniedCode(t, p); code != protocol.ErrShutdown {
		t.Fatalf("shutdown code = %s", code)
	}
}
