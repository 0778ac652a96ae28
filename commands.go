package kephasgate

// Opcode identifies the kind of a gateway frame.
type Opcode int

// Gateway opcodes.
const (
	OpDispatch            Opcode = 0
	OpHeartbeat           Opcode = 1
	OpIdentify            Opcode = 2
	OpPresenceUpdate      Opcode = 3
	OpVoiceStateUpdate    Opcode = 4
	OpResume              Opcode = 6
	OpReconnect           Opcode = 7
	OpRequestGuildMembers Opcode = 8
	OpInvalidSession      Opcode = 9
	OpHello               Opcode = 10
	OpHeartbeatAck        Opcode = 11
)

func (op Opcode) String() string {
	switch op {
	case OpDispatch:
		return "dispatch"
	case OpHeartbeat:
		return "heartbeat"
	case OpIdentify:
		return "identify"
	case OpPresenceUpdate:
		return "presence_update"
	case OpVoiceStateUpdate:
		return "voice_state_update"
	case OpResume:
		return "resume"
	case OpReconnect:
		return "reconnect"
	case OpRequestGuildMembers:
		return "request_guild_members"
	case OpInvalidSession:
		return "invalid_session"
	case OpHello:
		return "hello"
	case OpHeartbeatAck:
		return "heartbeat_ack"
	default:
		return "unknown"
	}
}

// Gateway close codes sent by the remote side.
const (
	CloseUnknownError         = 4000
	CloseUnknownOpcode        = 4001
	CloseDecodeError          = 4002
	CloseNotAuthenticated     = 4003
	CloseAuthenticationFailed = 4004
	CloseAlreadyAuthenticated = 4005
	CloseInvalidSeq           = 4007
	CloseRateLimited          = 4008
	CloseSessionTimedOut      = 4009
	CloseInvalidShard         = 4010
	CloseShardingRequired     = 4011
	CloseInvalidAPIVersion    = 4012
	CloseInvalidIntents       = 4013
	CloseDisallowedIntents    = 4014
)

// Standard error messages
const (
	// Protocol errors
	ErrInvalidMessageFormat = "invalid frame format"
	ErrUnknownEvent         = "unknown dispatch event"
	ErrPayloadTooLarge      = "payload exceeds maximum size"

	// Connection errors
	ErrConnectionClosed      = "gateway connection is closed"
	ErrFailedToEncode        = "failed to encode frame"
	ErrHelloTimeout          = "timed out waiting for hello"
	ErrSessionAlreadyRunning = "session already running"
	ErrClientAlreadyRunning  = "client already running"
)
