package pipeline

import (
	"github.com/luciancaetano/kephasgate/entity"
	"github.com/luciancaetano/kephasgate/internal/protocol"
)

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// mergePartialUser applies the fields present in p to old. An uncached user
// is only created when the frame carries a username.
func mergePartialUser(old *entity.User, p protocol.PartialUser) *entity.User {
	if old == nil && p.Username == nil {
		return nil
	}
	u := entity.User{ID: p.ID}
	if old != nil {
		u = *old
	}
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.Discriminator != nil {
		u.Discriminator = *p.Discriminator
	}
	if p.GlobalName != nil {
		u.GlobalName = *p.GlobalName
	}
	if p.Avatar != nil {
		u.Avatar = *p.Avatar
	}
	if p.Bot != nil {
		u.Bot = *p.Bot
	}
	return &u
}

func mergeMember(old *entity.Member, u *protocol.GuildMemberUpdate) *entity.Member {
	m := entity.Member{GuildID: u.GuildID, UserID: u.User.ID}
	if old != nil {
		m = *old
	}
	m.Nick = deref(u.Nick)
	if u.Roles != nil {
		m.Roles = u.Roles
	}
	if u.JoinedAt != nil {
		m.JoinedAt = *u.JoinedAt
	}
	m.PremiumSince = u.PremiumSince
	if u.Deaf != nil {
		m.Deaf = *u.Deaf
	}
	if u.Mute != nil {
		m.Mute = *u.Mute
	}
	if u.Pending != nil {
		m.Pending = *u.Pending
	}
	return &m
}

// mergeChannel replaces old with c, keeping the message and pin markers
// when the frame does not carry them.
func mergeChannel(old *entity.Channel, c protocol.Channel) entity.Channel {
	ch := c.Entity()
	if old == nil {
		return ch
	}
	if c.GuildID == nil {
		ch.GuildID = old.GuildID
	}
	if c.LastMessageID == nil {
		ch.LastMessageID = old.LastMessageID
	}
	if c.LastPinTimestamp == nil {
		ch.LastPinTimestamp = old.LastPinTimestamp
	}
	return ch
}

// mergeGuild replaces old with g, keeping the member count when the frame
// does not carry one.
func mergeGuild(old *entity.Guild, g protocol.Guild) entity.Guild {
	guild := g.Entity()
	if old != nil && g.MemberCount == 0 {
		guild.MemberCount = old.MemberCount
	}
	return guild
}

func mergeMessage(old *entity.Message, p protocol.PartialMessage) *entity.Message {
	m := entity.Message{ID: p.ID, ChannelID: p.ChannelID}
	if old != nil {
		m = *old
	}
	if p.GuildID != nil {
		m.GuildID = *p.GuildID
	}
	if p.Author != nil {
		m.AuthorID = p.Author.ID
	}
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Timestamp != nil {
		m.Timestamp = *p.Timestamp
	}
	if p.EditedTimestamp != nil {
		m.EditedTimestamp = p.EditedTimestamp
	}
	if p.Pinned != nil {
		m.Pinned = *p.Pinned
	}
	if p.MentionEveryone != nil {
		m.MentionEveryone = *p.MentionEveryone
	}
	if p.Mentions != nil {
		m.Mentions = protocol.UserIDs(*p.Mentions)
	}
	return &m
}

func inviteOf(p *protocol.InviteCreate) entity.Invite {
	inv := entity.Invite{
		Code:      p.Code,
		GuildID:   deref(p.GuildID),
		ChannelID: p.ChannelID,
		MaxAge:    p.MaxAge,
		MaxUses:   p.MaxUses,
		Uses:      p.Uses,
		Temporary: p.Temporary,
		CreatedAt: p.CreatedAt,
	}
	if p.Inviter != nil {
		inv.InviterID = p.Inviter.ID
	}
	return inv
}
