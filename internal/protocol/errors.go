package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"
	ErrState           = "E_STATE"

	// Admission.
	ErrServerFull       = "E_SERVER_FULL"
	ErrRateLimit        = "E_RATE_LIMIT"
	ErrTimeout          = "E_TIMEOUT"
	ErrShutdown         = "E_SHUTDOWN"
	ErrNameInvalid      = "E_NAME_INVALID"
	ErrAlreadyConnected = "E_ALREADY_CONNECTED"

	// Authentication.
	ErrAuthFailed   = "E_AUTH_FAILED"
	ErrNoPermission = "E_NO_PERMISSION"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:  {},
	ErrProtoVersion:     {},
	ErrState:            {},
	ErrServerFull:       {},
	ErrRateLimit:        {},
	ErrTimeout:          {},
	ErrShutdown:         {},
	ErrNameInvalid:      {},
	ErrAlreadyConnected: {},
	ErrAuthFailed:       {},
	ErrNoPermission:     {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
