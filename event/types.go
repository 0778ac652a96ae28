package event

import (
	"time"

	"github.com/luciancaetano/kephasgate/entity"
)

// Ready is published once a session has identified.
type Ready struct {
	Meta
	SessionID string
	User      entity.User
	Guilds    []entity.ID
}

func (*Ready) Name() string { return "READY" }

// Resumed is published once a session has resumed.
type Resumed struct {
	Meta
}

func (*Resumed) Name() string { return "RESUMED" }

type GuildCreate struct {
	Meta
	Old   *entity.Guild
	Guild entity.Guild
}

func (*GuildCreate) Name() string            { return "GUILD_CREATE" }
func (e *GuildCreate) Change() entity.Change { return entity.Change{Old: optional(e.Old), New: e.Guild} }

type GuildUpdate struct {
	Meta
	Old *entity.Guild
	New entity.Guild
}

func (*GuildUpdate) Name() string            { return "GUILD_UPDATE" }
func (e *GuildUpdate) Change() entity.Change { return entity.Change{Old: optional(e.Old), New: e.New} }

// GuildDelete is published when the client leaves a guild or the guild
// becomes unavailable. An unavailable guild stays cached with Unavailable set.
type GuildDelete struct {
	Meta
	GuildID     entity.ID
	Unavailable bool
	Old         *entity.Guild
}

func (*GuildDelete) Name() string { return "GUILD_DELETE" }
func (e *GuildDelete) Change() entity.Change {
	return entity.Change{Old: optional(e.Old)}
}

type BanAdd struct {
	Meta
	GuildID entity.ID
	User    entity.User
}

func (*BanAdd) Name() string { return "GUILD_BAN_ADD" }

type BanRemove struct {
	Meta
	GuildID entity.ID
	User    entity.User
}

func (*BanRemove) Name() string { return "GUILD_BAN_REMOVE" }

type EmojisUpdate struct {
	Meta
	GuildID entity.ID
	Old     []entity.Emoji
	New     []entity.Emoji
}

func (*EmojisUpdate) Name() string { return "GUILD_EMOJIS_UPDATE" }

type IntegrationsUpdate struct {
	Meta
	GuildID entity.ID
}

func (*IntegrationsUpdate) Name() string { return "GUILD_INTEGRATIONS_UPDATE" }

type MemberJoin struct {
	Meta
	Member entity.Member
	User   entity.User
}

func (*MemberJoin) Name() string            { return "GUILD_MEMBER_ADD" }
func (e *MemberJoin) Change() entity.Change { return entity.Change{New: e.Member} }

type MemberUpdate struct {
	Meta
	Old  *entity.Member
	New  entity.Member
	User entity.User
}

func (*MemberUpdate) Name() string            { return "GUILD_MEMBER_UPDATE" }
func (e *MemberUpdate) Change() entity.Change { return entity.Change{Old: optional(e.Old), New: e.New} }

type MemberLeave struct {
	Meta
	GuildID entity.ID
	User    entity.User
	Old     *entity.Member
}

func (*MemberLeave) Name() string            { return "GUILD_MEMBER_REMOVE" }
func (e *MemberLeave) Change() entity.Change { return entity.Change{Old: optional(e.Old)} }

// MembersChunk is published for each chunk answering a member request.
type MembersChunk struct {
	Meta
	GuildID    entity.ID
	Members    []entity.Member
	Users      []entity.User
	Presences  []entity.Presence
	NotFound   []entity.ID
	ChunkIndex int
	ChunkCount int
	Nonce      string
}

func (*MembersChunk) Name() string { return "GUILD_MEMBERS_CHUNK" }

type RoleCreate struct {
	Meta
	Role entity.Role
}

func (*RoleCreate) Name() string            { return "GUILD_ROLE_CREATE" }
func (e *RoleCreate) Change() entity.Change { return entity.Change{New: e.Role} }

type RoleUpdate struct {
	Meta
	Old *entity.Role
	New entity.Role
}

func (*RoleUpdate) Name() string            { return "GUILD_ROLE_UPDATE" }
func (e *RoleUpdate) Change() entity.Change { return entity.Change{Old: optional(e.Old), New: e.New} }

type RoleDelete struct {
	Meta
	GuildID entity.ID
	RoleID  entity.ID
	Old     *entity.Role
}

func (*RoleDelete) Name() string            { return "GUILD_ROLE_DELETE" }
func (e *RoleDelete) Change() entity.Change { return entity.Change{Old: optional(e.Old)} }

type ChannelCreate struct {
	Meta
	Old     *entity.Channel
	Channel entity.Channel
}

func (*ChannelCreate) Name() string            { return "CHANNEL_CREATE" }
func (e *ChannelCreate) Change() entity.Change { return entity.Change{Old: optional(e.Old), New: e.Channel} }

type ChannelUpdate struct {
	Meta
	Old *entity.Channel
	New entity.Channel
}

func (*ChannelUpdate) Name() string            { return "CHANNEL_UPDATE" }
func (e *ChannelUpdate) Change() entity.Change { return entity.Change{Old: optional(e.Old), New: e.New} }

// ChannelDelete carries the removed snapshot in Old, and the channel as sent
// by the remote side in Channel.
type ChannelDelete struct {
	Meta
	Channel entity.Channel
	Old     *entity.Channel
}

func (*ChannelDelete) Name() string            { return "CHANNEL_DELETE" }
func (e *ChannelDelete) Change() entity.Change { return entity.Change{Old: optional(e.Old)} }

type ChannelPinsUpdate struct {
	Meta
	ChannelID        entity.ID
	GuildID          entity.ID
	LastPinTimestamp *time.Time
	Old              *entity.Channel
	New              *entity.Channel
}

func (*ChannelPinsUpdate) Name() string { return "CHANNEL_PINS_UPDATE" }
func (e *ChannelPinsUpdate) Change() entity.Change {
	return entity.Change{Old: optional(e.Old), New: optional(e.New)}
}

type MessageCreate struct {
	Meta
	Message entity.Message
	Author  entity.User
	Member  *entity.Member
}

func (*MessageCreate) Name() string            { return "MESSAGE_CREATE" }
func (e *MessageCreate) Change() entity.Change { return entity.Change{New: e.Message} }

type MessageUpdate struct {
	Meta
	Old *entity.Message
	New entity.Message
}

func (*MessageUpdate) Name() string            { return "MESSAGE_UPDATE" }
func (e *MessageUpdate) Change() entity.Change { return entity.Change{Old: optional(e.Old), New: e.New} }

type MessageDelete struct {
	Meta
	MessageID entity.ID
	ChannelID entity.ID
	GuildID   entity.ID
	Old       *entity.Message
}

func (*MessageDelete) Name() string            { return "MESSAGE_DELETE" }
func (e *MessageDelete) Change() entity.Change { return entity.Change{Old: optional(e.Old)} }

type MessageDeleteBulk struct {
	Meta
	MessageIDs []entity.ID
	ChannelID  entity.ID
	GuildID    entity.ID
	Old        []entity.Message
}

func (*MessageDeleteBulk) Name() string { return "MESSAGE_DELETE_BULK" }

// PresenceUpdate carries the presence change and the cached user, if any,
// after user fields from the frame were merged into it.
type PresenceUpdate struct {
	Meta
	Old  *entity.Presence
	New  entity.Presence
	User *entity.User
}

func (*PresenceUpdate) Name() string            { return "PRESENCE_UPDATE" }
func (e *PresenceUpdate) Change() entity.Change { return entity.Change{Old: optional(e.Old), New: e.New} }

type InviteCreate struct {
	Meta
	Invite  entity.Invite
	Inviter *entity.User
}

func (*InviteCreate) Name() string            { return "INVITE_CREATE" }
func (e *InviteCreate) Change() entity.Change { return entity.Change{New: e.Invite} }

type InviteDelete struct {
	Meta
	Code      string
	ChannelID entity.ID
	GuildID   entity.ID
	Old       *entity.Invite
}

func (*InviteDelete) Name() string            { return "INVITE_DELETE" }
func (e *InviteDelete) Change() entity.Change { return entity.Change{Old: optional(e.Old)} }

type UserUpdate struct {
	Meta
	Old *entity.User
	New entity.User
}

func (*UserUpdate) Name() string            { return "USER_UPDATE" }
func (e *UserUpdate) Change() entity.Change { return entity.Change{Old: optional(e.Old), New: e.New} }

type WebhooksUpdate struct {
	Meta
	GuildID   entity.ID
	ChannelID entity.ID
}

func (*WebhooksUpdate) Name() string { return "WEBHOOKS_UPDATE" }

type TypingStart struct {
	Meta
	ChannelID entity.ID
	GuildID   entity.ID
	UserID    entity.ID
	Timestamp time.Time
}

func (*TypingStart) Name() string { return "TYPING_START" }
