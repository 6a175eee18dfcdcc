package lifecycle

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"voxelnet.ai/internal/sim/world/feature/blocksend"
	"voxelnet.ai/internal/sim/world/kernel/model"
)

// Transport delivers payloads to peers. Send must not block; it reports
// whether the payload was queued.
type Transport interface {
	Send(peerID uint64, payload []byte) bool
	Disconnect(peerID uint64, reason string)
}

// Transition is reported to Options.OnTransition after every accepted event.
type Transition struct {
	PeerID    uint64
	SessionID uuid.UUID
	Name      string
	From      State
	To        State
	Event     Event
	At        time.Time
}

type Options struct {
	MaxUsers int
	// Seconds.
	LingerTimeout       float64
	PlayerListInterval  float64
	LingerCheckInterval float64

	Transport Transport
	Logger    *log.Logger
	Metrics   *Metrics
	Now       func() time.Time

	// NewScheduler builds the block scheduler owned by a new connection.
	NewScheduler func(peerID uint64) *blocksend.Scheduler
	OnTransition func(Transition)
}

// Registry owns every connection and its lifecycle state. Public methods take
// the lock once; internal helpers ending in Locked expect it held.
type Registry struct {
	mu      sync.Mutex
	clients map[uint64]*Client

	opts        Options
	now         func() time.Time
	logger      *log.Logger
	metrics     *Metrics
	playerNames []string

	playerListTimer float64
	lingerTimer     float64
}

func NewRegistry(opts Options) *Registry {
	if opts.MaxUsers <= 0 {
		opts.MaxUsers = 15
	}
	if opts.LingerTimeout <= 0 {
		opts.LingerTimeout = 10
	}
	if opts.PlayerListInterval <= 0 {
		opts.PlayerListInterval = 30
	}
	if opts.LingerCheckInterval <= 0 {
		opts.LingerCheckInterval = 1
	}
	r := &Registry{
		clients: map[uint64]*Client{},
		opts:    opts,
		now:     opts.Now,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

func (r *Registry) logf(format string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Printf(format, args...)
}

// CreateClient registers a new connection in StateCreated.
func (r *Registry) CreateClient(peerID uint64, addr string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[peerID]; ok {
		return nil, fmt.Errorf("peer %d already registered", peerID)
	}
	c := &Client{
		PeerID:    peerID,
		SessionID: uuid.New(),
		Addr:      addr,
		CreatedAt: r.now(),
		state:     StateCreated,
	}
	if r.opts.NewScheduler != nil {
		c.Scheduler = r.opts.NewScheduler(peerID)
	} else {
		c.Scheduler = blocksend.New(blocksend.Options{PeerID: peerID})
	}
	r.clients[peerID] = c
	r.metrics.moved(StateInvalid, StateCreated)
	return c, nil
}

// DeleteClient drops a connection together with its scheduler. It returns the
// removed client, or nil if the peer was unknown.
func (r *Registry) DeleteClient(peerID uint64) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.clients[peerID]
	if c == nil {
		return nil
	}
	delete(r.clients, peerID)
	r.metrics.moved(c.state, StateInvalid)
	return c
}

// Event applies e to the peer's state. A *StateError means the peer must be
// dropped; ErrUnknownPeer means it is already gone.
func (r *Registry) Event(peerID uint64, e Event) error {
	r.mu.Lock()
	c := r.clients[peerID]
	if c == nil {
		r.mu.Unlock()
		return fmt.Errorf("event %s: peer %d: %w", e, peerID, ErrUnknownPeer)
	}
	from := c.state
	to, err := Next(from, e)
	if err != nil {
		r.mu.Unlock()
		r.metrics.rejected(e)
		r.logf("peer=%d name=%q rejected %s in state %s", peerID, c.Name, e, from)
		return &StateError{PeerID: peerID, From: from, Event: e}
	}
	c.applyTransition(e, to)
	tr := Transition{PeerID: peerID, SessionID: c.SessionID, Name: c.Name, From: from, To: to, Event: e, At: r.now()}
	r.mu.Unlock()

	r.metrics.moved(from, to)
	r.metrics.transition(e)
	if r.opts.OnTransition != nil {
		r.opts.OnTransition(tr)
	}
	return nil
}

// Expect checks that e would be accepted in the peer's current state without
// applying it. It fails the same way Event does. Used before work that must
// not start for a peer that is out of order, such as a password check.
func (r *Registry) Expect(peerID uint64, e Event) error {
	r.mu.Lock()
	c := r.clients[peerID]
	if c == nil {
		r.mu.Unlock()
		return fmt.Errorf("event %s: peer %d: %w", e, peerID, ErrUnknownPeer)
	}
	from := c.state
	name := c.Name
	r.mu.Unlock()
	if _, err := Next(from, e); err != nil {
		r.metrics.rejected(e)
		r.logf("peer=%d name=%q rejected %s in state %s", peerID, name, e, from)
		return &StateError{PeerID: peerID, From: from, Event: e}
	}
	return nil
}

// Client returns the connection for peerID, or nil.
func (r *Registry) Client(peerID uint64) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[peerID]
}

// ClientAtLeast returns the connection only if its state is at least minState.
func (r *Registry) ClientAtLeast(peerID uint64, minState State) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.clients[peerID]
	if c == nil || c.state < minState {
		return nil
	}
	return c
}

// State returns StateInvalid for unknown peers.
func (r *Registry) State(peerID uint64) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.clients[peerID]; c != nil {
		return c.state
	}
	return StateInvalid
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// ClientIDs returns the ids of peers in state minState or later, ascending.
func (r *Registry) ClientIDs(minState State) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clientIDsLocked(minState)
}

func (r *Registry) clientIDsLocked(minState State) []uint64 {
	ids := make([]uint64, 0, len(r.clients))
	for id, c := range r.clients {
		if c.state >= minState {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clients returns the connections in state minState or later, by peer id.
func (r *Registry) Clients(minState State) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clientsLocked(minState)
}

func (r *Registry) clientsLocked(minState State) []*Client {
	ids := r.clientIDsLocked(minState)
	out := make([]*Client, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.clients[id])
	}
	return out
}

// IsUserLimitReached counts peers that got past HELLO.
func (r *Registry) IsUserLimitReached() bool {
	return len(r.ClientIDs(StateHelloSent)) >= r.opts.MaxUsers
}

// Send queues payload for one peer. Unknown peers are ignored.
func (r *Registry) Send(peerID uint64, payload []byte) bool {
	if r.opts.Transport == nil || r.Client(peerID) == nil {
		return false
	}
	return r.opts.Transport.Send(peerID, payload)
}

// SendToAll queues payload for every peer in state minState or later and returns
// how many accepted it.
func (r *Registry) SendToAll(minState State, payload []byte) int {
	if r.opts.Transport == nil {
		return 0
	}
	n := 0
	for _, id := range r.ClientIDs(minState) {
		if r.opts.Transport.Send(id, payload) {
			n++
		}
	}
	return n
}

// MarkBlockNotSent makes every active peer reconsider p.
func (r *Registry) MarkBlockNotSent(p model.BlockPos) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clientsLocked(StateActive) {
		c.Scheduler.Invalidate(p)
	}
}

func (r *Registry) MarkBlocksNotSent(ps []model.BlockPos) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clientsLocked(StateActive) {
		c.Scheduler.InvalidateMany(ps)
	}
}

// PlayerNames is the list cached by the last player list refresh.
func (r *Registry) PlayerNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.playerNames...)
}

// ViewerFunc resolves the camera of an active client; ok false skips it.
type ViewerFunc func(c *Client) (v blocksend.Viewer, ok bool)

// CollectBlocks runs one selection pass for every active peer and returns the
// merged candidates, unsorted.
func (r *Registry) CollectBlocks(dt float64, viewer ViewerFunc, m blocksend.Map, em blocksend.Emerger) []blocksend.Candidate {
	var out []blocksend.Candidate
	for _, c := range r.Clients(StateActive) {
		v, ok := viewer(c)
		if !ok {
			continue
		}
		out = append(out, c.Scheduler.GetNextBlocks(dt, v, m, em)...)
	}
	return out
}

// ClientInfo is a JSON-friendly view of one connection.
type ClientInfo struct {
	PeerID               uint64         `json:"peer_id"`
	SessionID            string         `json:"session_id"`
	Name                 string         `json:"name"`
	Addr                 string         `json:"addr"`
	State                string         `json:"state"`
	UptimeS              float64        `json:"uptime_s"`
	SerializationVersion uint8          `json:"serialization_version"`
	Version              VersionInfo    `json:"version"`
	Blocks               blocksend.Info `json:"blocks"`
}

// Info describes every connection. Call it from the goroutine that owns the
// schedulers.
func (r *Registry) Info() []ClientInfo {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ClientInfo, 0, len(r.clients))
	for _, c := range r.clientsLocked(StateInvalid) {
		out = append(out, ClientInfo{
			PeerID:               c.PeerID,
			SessionID:            c.SessionID.String(),
			Name:                 c.Name,
			Addr:                 c.Addr,
			State:                c.state.String(),
			UptimeS:              c.Uptime(now).Seconds(),
			SerializationVersion: c.SerializationVersion,
			Version:              c.Version,
			Blocks:               c.Scheduler.Info(),
		})
	}
	return out
}
