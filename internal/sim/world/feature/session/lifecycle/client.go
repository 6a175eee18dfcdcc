package lifecycle

import (
	"time"

	"github.com/google/uuid"

	"voxelnet.ai/internal/sim/world/feature/blocksend"
)

type AuthMechanism int

const (
	AuthNone AuthMechanism = iota
	// AuthFirstPassword registers the account with the password supplied.
	AuthFirstPassword
	AuthPassword
)

func (m AuthMechanism) String() string {
	switch m {
	case AuthFirstPassword:
		return "FIRST_PASSWORD"
	case AuthPassword:
		return "PASSWORD"
	default:
		return "NONE"
	}
}

// ParseAuthMechanism is the inverse of String. Unknown names map to AuthNone.
func ParseAuthMechanism(s string) AuthMechanism {
	switch s {
	case "FIRST_PASSWORD":
		return AuthFirstPassword
	case "PASSWORD":
		return AuthPassword
	default:
		return AuthNone
	}
}

// VersionInfo is what the client reports in CLIENT_READY.
type VersionInfo struct {
	Major  uint8  `json:"major"`
	Minor  uint8  `json:"minor"`
	Patch  uint8  `json:"patch"`
	String string `json:"string"`
}

// Client is one connection. state is only changed through Registry.Event;
// the rest is written by the world loop.
type Client struct {
	PeerID    uint64
	SessionID uuid.UUID
	Addr      string
	Name      string
	CreatedAt time.Time

	ProtocolVersion uint16
	// Offered in HELLO, confirmed on GotInit2.
	PendingSerializationVersion uint8
	SerializationVersion        uint8
	Version                     VersionInfo

	// ChosenMech is the mechanism the server asked for in HELLO. It is reset
	// once authentication (or sudo) succeeds.
	ChosenMech AuthMechanism
	// AllowedSudoMechs is non-zero while a SUDO_AUTH may be answered.
	AllowedSudoMechs AuthMechanism

	Scheduler *blocksend.Scheduler

	state State
	// Set once the linger check has asked the transport to close it.
	lingerKicked bool
}

func (c *Client) State() State { return c.state }

// Uptime is how long the connection has existed.
func (c *Client) Uptime(now time.Time) time.Duration {
	return now.Sub(c.CreatedAt)
}

// SetName records the player name announced in HELLO.
func (c *Client) SetName(name string) {
	c.Name = name
	if c.Scheduler != nil {
		c.Scheduler.SetName(name)
	}
}

func (c *Client) applyTransition(e Event, to State) {
	switch e {
	case EventAuthAccept:
		c.ChosenMech = AuthNone
	case EventGotInit2:
		c.SerializationVersion = c.PendingSerializationVersion
	case EventSudoSuccess:
		c.ChosenMech = AuthNone
		c.AllowedSudoMechs = AuthNone
	}
	c.state = to
}
