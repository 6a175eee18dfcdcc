package protocol

// HELLO (client -> server)
type ClientHelloMsg struct {
	Type                    string `json:"type"`
	ProtocolVersion         string `json:"protocol_version"`
	MinProtocol             int    `json:"min_protocol"`
	MaxProtocol             int    `json:"max_protocol"`
	MaxSerializationVersion int    `json:"max_serialization_version"`
	Name                    string `json:"name"`
}

// HELLO (server -> client)
type ServerHelloMsg struct {
	Type                 string `json:"type"`
	ProtocolVersion      string `json:"protocol_version"`
	Protocol             uint16 `json:"protocol"`
	SerializationVersion uint8  `json:"serialization_version"`
	AuthMechanism        string `json:"auth_mechanism"`
	SessionID            string `json:"session_id"`
}

// AUTH (client -> server)
type AuthMsg struct {
	Type      string `json:"type"`
	Mechanism string `json:"mechanism"`
	Password  string `json:"password"`
}

// AUTH_ACCEPT (server -> client)
type AuthAcceptMsg struct {
	Type     string     `json:"type"`
	Spawn    [3]float64 `json:"spawn"`
	MapSeed  int64      `json:"map_seed"`
	TickRate int        `json:"tick_rate_hz"`
}

// INIT2 (client -> server)
type Init2Msg struct {
	Type string `json:"type"`
}

// DEFINITIONS (server -> client)
type DefinitionsMsg struct {
	Type  string   `json:"type"`
	Nodes []string `json:"nodes"`
}

// CLIENT_READY (client -> server)
type ClientReadyMsg struct {
	Type    string      `json:"type"`
	Version VersionInfo `json:"version"`
}

type VersionInfo struct {
	Major  uint8  `json:"major"`
	Minor  uint8  `json:"minor"`
	Patch  uint8  `json:"patch"`
	String string `json:"string"`
}

// PLAYERPOS (client -> server). Positions in nodes, speed in nodes/s, angles
// in degrees.
type PlayerPosMsg struct {
	Type        string     `json:"type"`
	Pos         [3]float64 `json:"pos"`
	Speed       [3]float64 `json:"speed"`
	Pitch       float64    `json:"pitch"`
	Yaw         float64    `json:"yaw"`
	FOV         float64    `json:"fov"`
	WantedRange int        `json:"wanted_range"`
}

// GOTBLOCKS and DELETEDBLOCKS (client -> server)
type BlockListMsg struct {
	Type   string   `json:"type"`
	Blocks [][3]int `json:"blocks"`
}

const (
	InteractDig   = "DIG"
	InteractPlace = "PLACE"
)

// INTERACT (client -> server). Under is the pointed node, Above the node on
// the pointed face.
type InteractMsg struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Under  [3]int `json:"under"`
	Above  [3]int `json:"above"`
	Node   string `json:"node,omitempty"`
}

// BLOCK (server -> client). Data is zstd(RLE) of the node ids.
type BlockMsg struct {
	Type                 string `json:"type"`
	Pos                  [3]int `json:"pos"`
	SerializationVersion uint8  `json:"ser_ver"`
	Data                 []byte `json:"data"`
}

// ACCESS_DENIED (server -> client); the connection is closed afterwards.
type AccessDeniedMsg struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Reason    string `json:"reason,omitempty"`
	Reconnect bool   `json:"reconnect,omitempty"`
}

// SUDO_AUTH (client -> server)
type SudoAuthMsg struct {
	Type     string `json:"type"`
	Password string `json:"password"`
}

// SUDO_ACCEPT (server -> client)
type SudoAcceptMsg struct {
	Type string `json:"type"`
}

// CHANGE_PASSWORD (client -> server), only accepted in sudo mode.
type ChangePasswordMsg struct {
	Type        string `json:"type"`
	NewPassword string `json:"new_password"`
}

// PASSWORD_CHANGED (server -> client)
type PasswordChangedMsg struct {
	Type string `json:"type"`
	OK   bool   `json:"ok"`
	Code string `json:"code,omitempty"`
}

// PLAYER_LIST (server -> client)
type PlayerListMsg struct {
	Type  string   `json:"type"`
	Names []string `json:"names"`
}

// ERROR (server -> client) reports a rejected request that does not end the
// connection.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
