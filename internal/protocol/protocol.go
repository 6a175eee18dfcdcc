package protocol

import "encoding/json"

const Version = "1.0"

// Protocol and block serialization versions this server speaks.
const (
	ProtocolVersionMin = 1
	ProtocolVersionMax = 1

	SerializationVersionMin = 1
	SerializationVersionMax = 2
)

// Message types.
const (
	// Both directions.
	TypeHello = "HELLO"

	// Client -> server.
	TypeAuth           = "AUTH"
	TypeInit2          = "INIT2"
	TypeClientReady    = "CLIENT_READY"
	TypePlayerPos      = "PLAYERPOS"
	TypeGotBlocks      = "GOTBLOCKS"
	TypeDeletedBlocks  = "DELETEDBLOCKS"
	TypeInteract       = "INTERACT"
	TypeSudoAuth       = "SUDO_AUTH"
	TypeChangePassword = "CHANGE_PASSWORD"

	// Server -> client.
	TypeAuthAccept      = "AUTH_ACCEPT"
	TypeDefinitions     = "DEFINITIONS"
	TypeBlock           = "BLOCK"
	TypeAccessDenied    = "ACCESS_DENIED"
	TypeSudoAccept      = "SUDO_ACCEPT"
	TypePasswordChanged = "PASSWORD_CHANGED"
	TypePlayerList      = "PLAYER_LIST"
	TypeError           = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// NegotiateSerialization picks the highest serialization version both sides
// support. ok is false when there is none.
func NegotiateSerialization(clientMax int) (ver uint8, ok bool) {
	v := clientMax
	if v > SerializationVersionMax {
		v = SerializationVersionMax
	}
	if v < SerializationVersionMin {
		return 0, false
	}
	return uint8(v), true
}

// NegotiateProtocol picks the highest protocol version in both ranges.
func NegotiateProtocol(clientMin, clientMax int) (ver uint16, ok bool) {
	hi := clientMax
	if hi > ProtocolVersionMax {
		hi = ProtocolVersionMax
	}
	lo := clientMin
	if lo < ProtocolVersionMin {
		lo = ProtocolVersionMin
	}
	if hi < lo {
		return 0, false
	}
	return uint16(hi), true
}
