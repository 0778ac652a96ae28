// Package entity defines the snapshots kept in the cache.
//
// Snapshots are plain values. Once handed out by the cache they are never
// mutated: an update always produces a new value, so an "old" snapshot held by
// an event stays valid after the cache moves on.
package entity

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ID is a snowflake identifier as used by the remote API.
// It encodes to JSON as a quoted decimal string.
type ID = snowflake.ID

// Epoch is the first millisecond of the remote snowflake clock (2015-01-01T00:00:00Z).
const Epoch int64 = 1420070400000

// MaxID is the largest possible snowflake.
const MaxID ID = ID(1<<63 - 1)

// CreatedAt returns the creation time encoded in a snowflake.
func CreatedAt(id ID) time.Time {
	return time.UnixMilli(int64(id)>>22 + Epoch).UTC()
}

// ParseID parses a decimal snowflake string.
func ParseID(s string) (ID, error) {
	return snowflake.ParseString(s)
}

// Kind discriminates the entity types stored in the cache.
type Kind uint8

const (
	KindGuild Kind = iota + 1
	KindChannel
	KindMember
	KindRole
	KindEmoji
	KindPresence
	KindInvite
	KindUser
	KindMessage
)

// Kinds lists every cacheable kind.
var Kinds = []Kind{KindGuild, KindChannel, KindMember, KindRole, KindEmoji, KindPresence, KindInvite, KindUser, KindMessage}

func (k Kind) String() string {
	switch k {
	case KindGuild:
		return "guild"
	case KindChannel:
		return "channel"
	case KindMember:
		return "member"
	case KindRole:
		return "role"
	case KindEmoji:
		return "emoji"
	case KindPresence:
		return "presence"
	case KindInvite:
		return "invite"
	case KindUser:
		return "user"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Key identifies one snapshot within a kind. Scoped entities carry their
// owning parent in Parent (a member is keyed by guild and user). Invites are
// keyed by Code.
type Key struct {
	Parent ID     `json:"parent,omitempty"`
	ID     ID     `json:"id,omitempty"`
	Code   string `json:"code,omitempty"`
}

// Entity is a cacheable snapshot.
type Entity interface {
	Kind() Kind
	Key() Key
}

// Clone returns a copy of e that shares no slices, maps or pointers with it.
func Clone(e Entity) Entity {
	switch v := e.(type) {
	case Channel:
		return v.Clone()
	case Member:
		return v.Clone()
	case Emoji:
		return v.Clone()
	case Presence:
		return v.Clone()
	case Message:
		return v.Clone()
	}
	return e
}

// Change pairs the snapshot before and after a cache mutation.
// Old is nil when nothing was cached under the key.
type Change struct {
	Old Entity
	New Entity
}
