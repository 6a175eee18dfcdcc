package lifecycle

import (
	"sort"
	"strings"
)

// Step runs periodic housekeeping. dt is in seconds.
func (r *Registry) Step(dt float64) {
	r.playerListTimer += dt
	if r.playerListTimer >= r.opts.PlayerListInterval {
		r.playerListTimer = 0
		r.UpdatePlayerList()
	}

	r.lingerTimer += dt
	if r.lingerTimer < r.opts.LingerCheckInterval {
		return
	}
	r.lingerTimer = 0
	r.KickLingering()
}

// UpdatePlayerList rebuilds the cached list of active player names.
func (r *Registry) UpdatePlayerList() {
	r.mu.Lock()
	names := make([]string, 0, len(r.clients))
	for _, c := range r.clientsLocked(StateActive) {
		if c.Name != "" {
			names = append(names, c.Name)
		}
	}
	sort.Strings(names)
	changed := strings.Join(names, ",") != strings.Join(r.playerNames, ",")
	r.playerNames = names
	r.mu.Unlock()

	if changed {
		r.logf("players (%d): %s", len(names), strings.Join(names, " "))
	}
}

// KickLingering disconnects peers that have not reached HelloSent within the
// linger timeout and returns their ids. Each peer is kicked once; it stays
// registered until the transport reports the leave. The transport is called
// without the registry lock held.
func (r *Registry) KickLingering() []uint64 {
	now := r.now()
	r.mu.Lock()
	var kick []uint64
	for _, c := range r.clientsLocked(StateInvalid) {
		if c.state >= StateHelloSent || c.lingerKicked {
			continue
		}
		if c.Uptime(now).Seconds() <= r.opts.LingerTimeout {
			continue
		}
		c.lingerKicked = true
		kick = append(kick, c.PeerID)
	}
	r.mu.Unlock()

	for _, id := range kick {
		r.logf("peer=%d lingering without HELLO, disconnecting", id)
		if r.opts.Transport != nil {
			r.opts.Transport.Disconnect(id, "handshake timeout")
		}
	}
	r.metrics.kicked(len(kick))
	return kick
}
