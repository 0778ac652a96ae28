package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/luciancaetano/kephasgate"
	"github.com/luciancaetano/kephasgate/entity"
)

// Dispatch event names.
const (
	EventReady                   = "READY"
	EventResumed                 = "RESUMED"
	EventGuildCreate             = "GUILD_CREATE"
	EventGuildUpdate             = "GUILD_UPDATE"
	EventGuildDelete             = "GUILD_DELETE"
	EventGuildBanAdd             = "GUILD_BAN_ADD"
	EventGuildBanRemove          = "GUILD_BAN_REMOVE"
	EventGuildEmojisUpdate       = "GUILD_EMOJIS_UPDATE"
	EventGuildIntegrationsUpdate = "GUILD_INTEGRATIONS_UPDATE"
	EventGuildMemberAdd          = "GUILD_MEMBER_ADD"
	EventGuildMemberUpdate       = "GUILD_MEMBER_UPDATE"
	EventGuildMemberRemove       = "GUILD_MEMBER_REMOVE"
	EventGuildMembersChunk       = "GUILD_MEMBERS_CHUNK"
	EventGuildRoleCreate         = "GUILD_ROLE_CREATE"
	EventGuildRoleUpdate         = "GUILD_ROLE_UPDATE"
	EventGuildRoleDelete         = "GUILD_ROLE_DELETE"
	EventChannelCreate           = "CHANNEL_CREATE"
	EventChannelUpdate           = "CHANNEL_UPDATE"
	EventChannelDelete           = "CHANNEL_DELETE"
	EventChannelPinsUpdate       = "CHANNEL_PINS_UPDATE"
	EventMessageCreate           = "MESSAGE_CREATE"
	EventMessageUpdate           = "MESSAGE_UPDATE"
	EventMessageDelete           = "MESSAGE_DELETE"
	EventMessageDeleteBulk       = "MESSAGE_DELETE_BULK"
	EventPresenceUpdate          = "PRESENCE_UPDATE"
	EventInviteCreate            = "INVITE_CREATE"
	EventInviteDelete            = "INVITE_DELETE"
	EventUserUpdate              = "USER_UPDATE"
	EventWebhooksUpdate          = "WEBHOOKS_UPDATE"
	EventTypingStart             = "TYPING_START"
)

// KnownEvents lists every dispatch name DecodeDispatch understands.
var KnownEvents = []string{
	EventReady, EventResumed,
	EventGuildCreate, EventGuildUpdate, EventGuildDelete,
	EventGuildBanAdd, EventGuildBanRemove,
	EventGuildEmojisUpdate, EventGuildIntegrationsUpdate,
	EventGuildMemberAdd, EventGuildMemberUpdate, EventGuildMemberRemove, EventGuildMembersChunk,
	EventGuildRoleCreate, EventGuildRoleUpdate, EventGuildRoleDelete,
	EventChannelCreate, EventChannelUpdate, EventChannelDelete, EventChannelPinsUpdate,
	EventMessageCreate, EventMessageUpdate, EventMessageDelete, EventMessageDeleteBulk,
	EventPresenceUpdate, EventInviteCreate, EventInviteDelete,
	EventUserUpdate, EventWebhooksUpdate, EventTypingStart,
}

// ErrUnknownEvent is returned by DecodeDispatch for names it does not know.
var ErrUnknownEvent = errors.New(kephasgate.ErrUnknownEvent)

// Payload is the decoded data of a dispatch frame. The set of implementations
// is closed: it is exactly the types declared below.
type Payload interface {
	payload()
}

type Ready struct {
	Version   int                `json:"v"`
	User      User               `json:"user"`
	Guilds    []UnavailableGuild `json:"guilds"`
	SessionID string             `json:"session_id"`
	Shard     []int              `json:"shard,omitempty"`
}

type Resumed struct{}

type GuildCreate struct{ Guild }
type GuildUpdate struct{ Guild }
type GuildDelete struct{ UnavailableGuild }

type GuildBan struct {
	GuildID entity.ID `json:"guild_id"`
	User    User      `json:"user"`
}

type GuildBanAdd struct{ GuildBan }
type GuildBanRemove struct{ GuildBan }

type GuildEmojisUpdate struct {
	GuildID entity.ID `json:"guild_id"`
	Emojis  []Emoji   `json:"emojis"`
}

type GuildIntegrationsUpdate struct {
	GuildID entity.ID `json:"guild_id"`
}

type GuildMemberAdd struct {
	Member
	GuildID entity.ID `json:"guild_id"`
}

// GuildMemberUpdate carries the member fields that changed. Deaf, Mute and
// Pending are only present when the remote side sends them.
type GuildMemberUpdate struct {
	GuildID      entity.ID   `json:"guild_id"`
	User         User        `json:"user"`
	Nick         *string     `json:"nick"`
	Roles        []entity.ID `json:"roles"`
	JoinedAt     *time.Time  `json:"joined_at"`
	PremiumSince *time.Time  `json:"premium_since"`
	Deaf         *bool       `json:"deaf,omitempty"`
	Mute         *bool       `json:"mute,omitempty"`
	Pending      *bool       `json:"pending,omitempty"`
}

type GuildMemberRemove struct {
	GuildID entity.ID `json:"guild_id"`
	User    User      `json:"user"`
}

type GuildMembersChunk struct {
	GuildID    entity.ID   `json:"guild_id"`
	Members    []Member    `json:"members"`
	ChunkIndex int         `json:"chunk_index"`
	ChunkCount int         `json:"chunk_count"`
	NotFound   []entity.ID `json:"not_found,omitempty"`
	Presences  []Presence  `json:"presences,omitempty"`
	Nonce      string      `json:"nonce,omitempty"`
}

type GuildRole struct {
	GuildID entity.ID `json:"guild_id"`
	Role    Role      `json:"role"`
}

type GuildRoleCreate struct{ GuildRole }
type GuildRoleUpdate struct{ GuildRole }

type GuildRoleDelete struct {
	GuildID entity.ID `json:"guild_id"`
	RoleID  entity.ID `json:"role_id"`
}

type ChannelCreate struct{ Channel }
type ChannelUpdate struct{ Channel }
type ChannelDelete struct{ Channel }

type ChannelPinsUpdate struct {
	GuildID          *entity.ID `json:"guild_id,omitempty"`
	ChannelID        entity.ID  `json:"channel_id"`
	LastPinTimestamp *time.Time `json:"last_pin_timestamp,omitempty"`
}

type MessageCreate struct{ Message }
type MessageUpdate struct{ PartialMessage }

type MessageDelete struct {
	ID        entity.ID  `json:"id"`
	ChannelID entity.ID  `json:"channel_id"`
	GuildID   *entity.ID `json:"guild_id,omitempty"`
}

type MessageDeleteBulk struct {
	IDs       []entity.ID `json:"ids"`
	ChannelID entity.ID   `json:"channel_id"`
	GuildID   *entity.ID  `json:"guild_id,omitempty"`
}

type PresenceUpdate struct{ Presence }

type InviteCreate struct {
	ChannelID entity.ID  `json:"channel_id"`
	Code      string     `json:"code"`
	CreatedAt time.Time  `json:"created_at"`
	GuildID   *entity.ID `json:"guild_id,omitempty"`
	Inviter   *User      `json:"inviter,omitempty"`
	MaxAge    int        `json:"max_age"`
	MaxUses   int        `json:"max_uses"`
	Temporary bool       `json:"temporary"`
	Uses      int        `json:"uses"`
}

type InviteDelete struct {
	ChannelID entity.ID  `json:"channel_id"`
	GuildID   *entity.ID `json:"guild_id,omitempty"`
	Code      string     `json:"code"`
}

type UserUpdate struct{ User }

type WebhooksUpdate struct {
	GuildID   entity.ID `json:"guild_id"`
	ChannelID entity.ID `json:"channel_id"`
}

type TypingStart struct {
	ChannelID entity.ID  `json:"channel_id"`
	GuildID   *entity.ID `json:"guild_id,omitempty"`
	UserID    entity.ID  `json:"user_id"`
	Timestamp int64      `json:"timestamp"`
	Member    *Member    `json:"member,omitempty"`
}

func (*Ready) payload()                   {}
func (*Resumed) payload()                 {}
func (*GuildCreate) payload()             {}
func (*GuildUpdate) payload()             {}
func (*GuildDelete) payload()             {}
func (*GuildBanAdd) payload()             {}
func (*GuildBanRemove) payload()          {}
func (*GuildEmojisUpdate) payload()       {}
func (*GuildIntegrationsUpdate) payload() {}
func (*GuildMemberAdd) payload()          {}
func (*GuildMemberUpdate) payload()       {}
func (*GuildMemberRemove) payload()       {}
func (*GuildMembersChunk) payload()       {}
func (*GuildRoleCreate) payload()         {}
func (*GuildRoleUpdate) payload()         {}
func (*GuildRoleDelete) payload()         {}
func (*ChannelCreate) payload()           {}
func (*ChannelUpdate) payload()           {}
func (*ChannelDelete) payload()           {}
func (*ChannelPinsUpdate) payload()       {}
func (*MessageCreate) payload()           {}
func (*MessageUpdate) payload()           {}
func (*MessageDelete) payload()           {}
func (*MessageDeleteBulk) payload()       {}
func (*PresenceUpdate) payload()          {}
func (*InviteCreate) payload()            {}
func (*InviteDelete) payload()            {}
func (*UserUpdate) payload()              {}
func (*WebhooksUpdate) payload()          {}
func (*TypingStart) payload()             {}

// DecodeDispatch decodes the data of a dispatch frame into its payload type.
// Unknown names return ErrUnknownEvent.
func DecodeDispatch(name string, data json.RawMessage) (Payload, error) {
	var p Payload
	switch name {
	case EventReady:
		p = &Ready{}
	case EventResumed:
		return &Resumed{}, nil
	case EventGuildCreate:
		p = &GuildCreate{}
	case EventGuildUpdate:
		p = &GuildUpdate{}
	case EventGuildDelete:
		p = &GuildDelete{}
	case EventGuildBanAdd:
		p = &GuildBanAdd{}
	case EventGuildBanRemove:
		p = &GuildBanRemove{}
	case EventGuildEmojisUpdate:
		p = &GuildEmojisUpdate{}
	case EventGuildIntegrationsUpdate:
		p = &GuildIntegrationsUpdate{}
	case EventGuildMemberAdd:
		p = &GuildMemberAdd{}
	case EventGuildMemberUpdate:
		p = &GuildMemberUpdate{}
	case EventGuildMemberRemove:
		p = &GuildMemberRemove{}
	case EventGuildMembersChunk:
		p = &GuildMembersChunk{}
	case EventGuildRoleCreate:
		p = &GuildRoleCreate{}
	case EventGuildRoleUpdate:
		p = &GuildRoleUpdate{}
	case EventGuildRoleDelete:
		p = &GuildRoleDelete{}
	case EventChannelCreate:
		p = &ChannelCreate{}
	case EventChannelUpdate:
		p = &ChannelUpdate{}
	case EventChannelDelete:
		p = &ChannelDelete{}
	case EventChannelPinsUpdate:
		p = &ChannelPinsUpdate{}
	case EventMessageCreate:
		p = &MessageCreate{}
	case EventMessageUpdate:
		p = &MessageUpdate{}
	case EventMessageDelete:
		p = &MessageDelete{}
	case EventMessageDeleteBulk:
		p = &MessageDeleteBulk{}
	case EventPresenceUpdate:
		p = &PresenceUpdate{}
	case EventInviteCreate:
		p = &InviteCreate{}
	case EventInviteDelete:
		p = &InviteDelete{}
	case EventUserUpdate:
		p = &UserUpdate{}
	case EventWebhooksUpdate:
		p = &WebhooksUpdate{}
	case EventTypingStart:
		p = &TypingStart{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s without data", ErrInvalidFrame, name)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return p, nil
}
