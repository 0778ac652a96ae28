package protocol

import (
	"time"

	"github.com/luciancaetano/kephasgate/entity"
)

// Wire shapes of the objects carried by dispatch frames. Optional fields are
// pointers so that "absent" and "zero" stay distinguishable when merging.

type User struct {
	ID            entity.ID `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator"`
	GlobalName    *string   `json:"global_name"`
	Avatar        *string   `json:"avatar"`
	Bot           bool      `json:"bot,omitempty"`
}

// PartialUser is a user object where only the id is guaranteed.
type PartialUser struct {
	ID            entity.ID `json:"id"`
	Username      *string   `json:"username,omitempty"`
	Discriminator *string   `json:"discriminator,omitempty"`
	GlobalName    *string   `json:"global_name,omitempty"`
	Avatar        *string   `json:"avatar,omitempty"`
	Bot           *bool     `json:"bot,omitempty"`
}

type Member struct {
	User         *User       `json:"user,omitempty"`
	GuildID      *entity.ID  `json:"guild_id,omitempty"`
	Nick         *string     `json:"nick"`
	Roles        []entity.ID `json:"roles"`
	JoinedAt     time.Time   `json:"joined_at"`
	PremiumSince *time.Time  `json:"premium_since"`
	Deaf         bool        `json:"deaf"`
	Mute         bool        `json:"mute"`
	Pending      bool        `json:"pending,omitempty"`
}

type Role struct {
	ID          entity.ID `json:"id"`
	Name        string    `json:"name"`
	Color       int       `json:"color"`
	Hoist       bool      `json:"hoist"`
	Position    int       `json:"position"`
	Permissions string    `json:"permissions"`
	Managed     bool      `json:"managed"`
	Mentionable bool      `json:"mentionable"`
}

type Emoji struct {
	ID            *entity.ID  `json:"id"`
	Name          *string     `json:"name"`
	Roles         []entity.ID `json:"roles,omitempty"`
	User          *User       `json:"user,omitempty"`
	RequireColons *bool       `json:"require_colons,omitempty"`
	Managed       *bool       `json:"managed,omitempty"`
	Animated      *bool       `json:"animated,omitempty"`
	Available     *bool       `json:"available,omitempty"`
}

type Channel struct {
	ID               entity.ID  `json:"id"`
	Type             int        `json:"type"`
	GuildID          *entity.ID `json:"guild_id,omitempty"`
	Position         int        `json:"position,omitempty"`
	Name             *string    `json:"name,omitempty"`
	Topic            *string    `json:"topic,omitempty"`
	NSFW             bool       `json:"nsfw,omitempty"`
	LastMessageID    *entity.ID `json:"last_message_id,omitempty"`
	ParentID         *entity.ID `json:"parent_id,omitempty"`
	LastPinTimestamp *time.Time `json:"last_pin_timestamp,omitempty"`
}

type Activity struct {
	Name      string  `json:"name"`
	Type      int     `json:"type"`
	URL       *string `json:"url,omitempty"`
	State     *string `json:"state,omitempty"`
	Details   *string `json:"details,omitempty"`
	CreatedAt int64   `json:"created_at,omitempty"`
}

type Presence struct {
	User         PartialUser       `json:"user"`
	GuildID      *entity.ID        `json:"guild_id,omitempty"`
	Status       string            `json:"status"`
	Activities   []Activity        `json:"activities"`
	ClientStatus map[string]string `json:"client_status,omitempty"`
}

type UnavailableGuild struct {
	ID          entity.ID `json:"id"`
	Unavailable bool      `json:"unavailable,omitempty"`
}

type Guild struct {
	ID          entity.ID  `json:"id"`
	Name        string     `json:"name"`
	Icon        *string    `json:"icon"`
	OwnerID     entity.ID  `json:"owner_id"`
	MemberCount int        `json:"member_count,omitempty"`
	Large       bool       `json:"large,omitempty"`
	Unavailable bool       `json:"unavailable,omitempty"`
	Roles       []Role     `json:"roles"`
	Emojis      []Emoji    `json:"emojis"`
	Members     []Member   `json:"members,omitempty"`
	Channels    []Channel  `json:"channels,omitempty"`
	Presences   []Presence `json:"presences,omitempty"`

	ApproximateMemberCount int `json:"approximate_member_count,omitempty"`
}

type Message struct {
	ID              entity.ID  `json:"id"`
	ChannelID       entity.ID  `json:"channel_id"`
	GuildID         *entity.ID `json:"guild_id,omitempty"`
	Author          User       `json:"author"`
	Member          *Member    `json:"member,omitempty"`
	Content         string     `json:"content"`
	Timestamp       time.Time  `json:"timestamp"`
	EditedTimestamp *time.Time `json:"edited_timestamp"`
	Pinned          bool       `json:"pinned"`
	MentionEveryone bool       `json:"mention_everyone"`
	Mentions        []User     `json:"mentions"`
	Type            int        `json:"type"`
}

// PartialMessage is the shape of MESSAGE_UPDATE: every field but the ids may
// be missing.
type PartialMessage struct {
	ID              entity.ID  `json:"id"`
	ChannelID       entity.ID  `json:"channel_id"`
	GuildID         *entity.ID `json:"guild_id,omitempty"`
	Author          *User      `json:"author,omitempty"`
	Content         *string    `json:"content,omitempty"`
	Timestamp       *time.Time `json:"timestamp,omitempty"`
	EditedTimestamp *time.Time `json:"edited_timestamp,omitempty"`
	Pinned          *bool      `json:"pinned,omitempty"`
	MentionEveryone *bool      `json:"mention_everyone,omitempty"`
	Mentions        *[]User    `json:"mentions,omitempty"`
}
