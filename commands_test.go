package kephasgate_test

import (
	"testing"

	"github.com/luciancaetano/kephasgate"
)

// TestConstants verifies that opcodes, close codes and error messages are well formed
func TestConstants(t *testing.T) {
	t.Parallel()

	t.Run("opcode names", func(t *testing.T) {
		ops := []kephasgate.Opcode{
			kephasgate.OpDispatch,
			kephasgate.OpHeartbeat,
			kephasgate.OpIdentify,
			kephasgate.OpPresenceUpdate,
			kephasgate.OpVoiceStateUpdate,
			kephasgate.OpResume,
			kephasgate.OpReconnect,
			kephasgate.OpRequestGuildMembers,
			kephasgate.OpInvalidSession,
			kephasgate.OpHello,
			kephasgate.OpHeartbeatAck,
		}
		seen := make(map[string]kephasgate.Opcode)
		for _, op := range ops {
			name := op.String()
			if name == "unknown" {
				t.Errorf("opcode %d has no name", int(op))
			}
			if prev, ok := seen[name]; ok {
				t.Errorf("opcodes %d and %d share the name %q", int(prev), int(op), name)
			}
			seen[name] = op
		}
		if got := kephasgate.Opcode(5).String(); got != "unknown" {
			t.Errorf("Opcode(5).String() = %q, want unknown", got)
		}
	})

	t.Run("close codes", func(t *testing.T) {
		codes := []int{
			kephasgate.CloseUnknownError,
			kephasgate.CloseUnknownOpcode,
			kephasgate.CloseDecodeError,
			kephasgate.CloseNotAuthenticated,
			kephasgate.CloseAuthenticationFailed,
			kephasgate.CloseAlreadyAuthenticated,
			kephasgate.CloseInvalidSeq,
			kephasgate.CloseRateLimited,
			kephasgate.CloseSessionTimedOut,
			kephasgate.CloseInvalidShard,
			kephasgate.CloseShardingRequired,
			kephasgate.CloseInvalidAPIVersion,
			kephasgate.CloseInvalidIntents,
			kephasgate.CloseDisallowedIntents,
		}
		seen := make(map[int]bool)
		for _, code := range codes {
			if code < 4000 || code > 4999 {
				t.Errorf("close code %d is outside the application range", code)
			}
			if seen[code] {
				t.Errorf("close code %d is defined twice", code)
			}
			seen[code] = true
		}
	})

	t.Run("error messages", func(t *testing.T) {
		errorMessages := []struct {
			name  string
			value string
		}{
			{"ErrInvalidMessageFormat", kephasgate.ErrInvalidMessageFormat},
			{"ErrUnknownEvent", kephasgate.ErrUnknownEvent},
			{"ErrPayloadTooLarge", kephasgate.ErrPayloadTooLarge},
			{"ErrConnectionClosed", kephasgate.ErrConnectionClosed},
			{"ErrFailedToEncode", kephasgate.ErrFailedToEncode},
			{"ErrHelloTimeout", kephasgate.ErrHelloTimeout},
			{"ErrSessionAlreadyRunning", kephasgate.ErrSessionAlreadyRunning},
			{"ErrClientAlreadyRunning", kephasgate.ErrClientAlreadyRunning},
		}

		for _, em := range errorMessages {
			if em.value == "" {
				t.Errorf("%s should not be empty", em.name)
			}
		}
	})
}
