package entity

import (
	"maps"
	"slices"
	"time"
)

// ChannelType mirrors the remote channel type enumeration.
type ChannelType int

const (
	ChannelGuildText ChannelType = iota
	ChannelDM
	ChannelGuildVoice
	ChannelGroupDM
	ChannelGuildCategory
	ChannelGuildNews
	ChannelGuildStore
)

// ActivityType mirrors the remote activity type enumeration.
type ActivityType int

const (
	ActivityGame ActivityType = iota
	ActivityStreaming
	ActivityListening
	ActivityWatching
	ActivityCustom
	ActivityCompeting
)

type User struct {
	ID            ID     `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator,omitempty"`
	GlobalName    string `json:"global_name,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
	Bot           bool   `json:"bot,omitempty"`
}

func (User) Kind() Kind { return KindUser }
func (u User) Key() Key { return Key{ID: u.ID} }

// Mention returns the chat mention markup for the user.
func (u User) Mention() string { return "<@" + u.ID.String() + ">" }

type Guild struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon,omitempty"`
	OwnerID     ID     `json:"owner_id,omitempty"`
	MemberCount int    `json:"member_count,omitempty"`
	Large       bool   `json:"large,omitempty"`
	Unavailable bool   `json:"unavailable,omitempty"`
}

func (Guild) Kind() Kind { return KindGuild }
func (g Guild) Key() Key { return Key{ID: g.ID} }

type Channel struct {
	ID               ID          `json:"id"`
	GuildID          ID          `json:"guild_id,omitempty"`
	Type             ChannelType `json:"type"`
	Name             string      `json:"name,omitempty"`
	Topic            string      `json:"topic,omitempty"`
	Position         int         `json:"position,omitempty"`
	ParentID         ID          `json:"parent_id,omitempty"`
	NSFW             bool        `json:"nsfw,omitempty"`
	LastMessageID    ID          `json:"last_message_id,omitempty"`
	LastPinTimestamp *time.Time  `json:"last_pin_timestamp,omitempty"`
}

func (Channel) Kind() Kind { return KindChannel }
func (c Channel) Key() Key { return Key{ID: c.ID} }

type Member struct {
	GuildID      ID         `json:"guild_id"`
	UserID       ID         `json:"user_id"`
	Nick         string     `json:"nick,omitempty"`
	Roles        []ID       `json:"roles,omitempty"`
	JoinedAt     time.Time  `json:"joined_at"`
	PremiumSince *time.Time `json:"premium_since,omitempty"`
	Deaf         bool       `json:"deaf,omitempty"`
	Mute         bool       `json:"mute,omitempty"`
	Pending      bool       `json:"pending,omitempty"`
}

func (Member) Kind() Kind { return KindMember }
func (m Member) Key() Key { return Key{Parent: m.GuildID, ID: m.UserID} }

// HasRole reports whether the member holds role.
func (m Member) HasRole(role ID) bool {
	for _, r := range m.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type Role struct {
	ID          ID     `json:"id"`
	GuildID     ID     `json:"guild_id"`
	Name        string `json:"name"`
	Color       int    `json:"color,omitempty"`
	Hoist       bool   `json:"hoist,omitempty"`
	Position    int    `json:"position,omitempty"`
	Permissions string `json:"permissions,omitempty"`
	Managed     bool   `json:"managed,omitempty"`
	Mentionable bool   `json:"mentionable,omitempty"`
}

func (Role) Kind() Kind { return KindRole }
func (r Role) Key() Key { return Key{Parent: r.GuildID, ID: r.ID} }

type Emoji struct {
	ID            ID     `json:"id"`
	GuildID       ID     `json:"guild_id"`
	Name          string `json:"name,omitempty"`
	Roles         []ID   `json:"roles,omitempty"`
	UserID        ID     `json:"user_id,omitempty"`
	RequireColons bool   `json:"require_colons,omitempty"`
	Managed       bool   `json:"managed,omitempty"`
	Animated      bool   `json:"animated,omitempty"`
	Available     bool   `json:"available,omitempty"`
}

func (Emoji) Kind() Kind { return KindEmoji }
func (e Emoji) Key() Key { return Key{Parent: e.GuildID, ID: e.ID} }

type Activity struct {
	Name      string       `json:"name"`
	Type      ActivityType `json:"type"`
	URL       string       `json:"url,omitempty"`
	State     string       `json:"state,omitempty"`
	Details   string       `json:"details,omitempty"`
	CreatedAt int64        `json:"created_at,omitempty"`
}

type Presence struct {
	GuildID      ID                `json:"guild_id"`
	UserID       ID                `json:"user_id"`
	Status       string            `json:"status"`
	ClientStatus map[string]string `json:"client_status,omitempty"`
	Activities   []Activity        `json:"activities,omitempty"`
}

func (Presence) Kind() Kind { return KindPresence }
func (p Presence) Key() Key { return Key{Parent: p.GuildID, ID: p.UserID} }

type Invite struct {
	Code      string    `json:"code"`
	GuildID   ID        `json:"guild_id,omitempty"`
	ChannelID ID        `json:"channel_id"`
	InviterID ID        `json:"inviter_id,omitempty"`
	MaxAge    int       `json:"max_age"`
	MaxUses   int       `json:"max_uses"`
	Uses      int       `json:"uses"`
	Temporary bool      `json:"temporary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (Invite) Kind() Kind { return KindInvite }
func (i Invite) Key() Key { return Key{Code: i.Code} }

type Message struct {
	ID              ID         `json:"id"`
	ChannelID       ID         `json:"channel_id"`
	GuildID         ID         `json:"guild_id,omitempty"`
	AuthorID        ID         `json:"author_id"`
	Content         string     `json:"content"`
	Timestamp       time.Time  `json:"timestamp"`
	EditedTimestamp *time.Time `json:"edited_timestamp,omitempty"`
	Pinned          bool       `json:"pinned,omitempty"`
	MentionEveryone bool       `json:"mention_everyone,omitempty"`
	Mentions        []ID       `json:"mentions,omitempty"`
	Type            int        `json:"type,omitempty"`
}

func (Message) Kind() Kind { return KindMessage }
func (m Message) Key() Key { return Key{Parent: m.ChannelID, ID: m.ID} }

// Clone returns a copy of c that shares no memory with it.
func (c Channel) Clone() Channel {
	c.LastPinTimestamp = cloneTime(c.LastPinTimestamp)
	return c
}

// Clone returns a copy of m that shares no memory with it.
func (m Member) Clone() Member {
	m.Roles = slices.Clone(m.Roles)
	m.PremiumSince = cloneTime(m.PremiumSince)
	return m
}

// Clone returns a copy of e that shares no memory with it.
func (e Emoji) Clone() Emoji {
	e.Roles = slices.Clone(e.Roles)
	return e
}

// Clone returns a copy of p that shares no memory with it.
func (p Presence) Clone() Presence {
	p.ClientStatus = maps.Clone(p.ClientStatus)
	p.Activities = slices.Clone(p.Activities)
	return p
}

// Clone returns a copy of m that shares no memory with it.
func (m Message) Clone() Message {
	m.Mentions = slices.Clone(m.Mentions)
	m.EditedTimestamp = cloneTime(m.EditedTimestamp)
	return m
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
