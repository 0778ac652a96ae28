package protocol

import (
	"github.com/luciancaetano/kephasgate/entity"
)

// Hello is the data of the first frame sent by the remote side.
type Hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // milliseconds
}

// ReadyHeader is the part of the READY dispatch the session needs.
type ReadyHeader struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url,omitempty"`
}

// IdentifyProperties describes the connecting client.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// Identify starts a new session.
type Identify struct {
	Token          string             `json:"token"`
	Properties     IdentifyProperties `json:"properties"`
	Compress       bool               `json:"compress,omitempty"`
	LargeThreshold int                `json:"large_threshold,omitempty"`
	Shard          [2]int             `json:"shard"`
	Presence       *UpdatePresence    `json:"presence,omitempty"`
	Intents        int                `json:"intents"`
}

// Resume replays the events missed since Seq on an existing session.
type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// RequestGuildMembers asks for GUILD_MEMBERS_CHUNK dispatches.
type RequestGuildMembers struct {
	GuildID   entity.ID   `json:"guild_id"`
	Query     *string     `json:"query,omitempty"`
	Limit     int         `json:"limit"`
	Presences bool        `json:"presences,omitempty"`
	UserIDs   []entity.ID `json:"user_ids,omitempty"`
	Nonce     string      `json:"nonce,omitempty"`
}

// UpdatePresence sets the client's own presence.
type UpdatePresence struct {
	Since      *int64     `json:"since"`
	Activities []Activity `json:"activities"`
	Status     string     `json:"status"`
	AFK        bool       `json:"afk"`
}

// Intents select which dispatch groups the remote side sends.
const (
	IntentGuilds                 = 1 << 0
	IntentGuildMembers           = 1 << 1
	IntentGuildBans              = 1 << 2
	IntentGuildEmojis            = 1 << 3
	IntentGuildIntegrations      = 1 << 4
	IntentGuildWebhooks          = 1 << 5
	IntentGuildInvites           = 1 << 6
	IntentGuildVoiceStates       = 1 << 7
	IntentGuildPresences         = 1 << 8
	IntentGuildMessages          = 1 << 9
	IntentGuildMessageReactions  = 1 << 10
	IntentGuildMessageTyping     = 1 << 11
	IntentDirectMessages         = 1 << 12
	IntentDirectMessageReactions = 1 << 13
	IntentDirectMessageTyping    = 1 << 14
	IntentMessageContent         = 1 << 15
)

// IntentsFor returns the intents needed to receive the named dispatch events.
// Names without an intent requirement (READY, RESUMED, USER_UPDATE) add nothing.
func IntentsFor(names ...string) int {
	var intents int
	for _, name := range names {
		switch name {
		case EventGuildCreate, EventGuildUpdate, EventGuildDelete,
			EventGuildRoleCreate, EventGuildRoleUpdate, EventGuildRoleDelete,
			EventChannelCreate, EventChannelUpdate, EventChannelDelete, EventChannelPinsUpdate:
			intents |= IntentGuilds
		case EventGuildMemberAdd, EventGuildMemberUpdate, EventGuildMemberRemove:
			intents |= IntentGuildMembers
		case EventGuildBanAdd, EventGuildBanRemove:
			intents |= IntentGuildBans
		case EventGuildEmojisUpdate:
			intents |= IntentGuildEmojis
		case EventGuildIntegrationsUpdate:
			intents |= IntentGuildIntegrations
		case EventWebhooksUpdate:
			intents |= IntentGuildWebhooks
		case EventInviteCreate, EventInviteDelete:
			intents |= IntentGuildInvites
		case EventPresenceUpdate:
			intents |= IntentGuildPresences
		case EventMessageCreate, EventMessageUpdate, EventMessageDelete, EventMessageDeleteBulk:
			intents |= IntentGuildMessages | IntentDirectMessages
		case EventTypingStart:
			intents |= IntentGuildMessageTyping | IntentDirectMessageTyping
		}
	}
	return intents
}
