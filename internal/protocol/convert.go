package protocol

import "github.com/luciancaetano/kephasgate/entity"

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// Entity returns the cache snapshot of u.
func (u User) Entity() entity.User {
	return entity.User{
		ID:            u.ID,
		Username:      u.Username,
		Discriminator: u.Discriminator,
		GlobalName:    deref(u.GlobalName),
		Avatar:        deref(u.Avatar),
		Bot:           u.Bot,
	}
}

// Entity returns the cache snapshot of m in guildID. It reports false when
// m carries no user.
func (m Member) Entity(guildID entity.ID) (entity.Member, bool) {
	if m.User == nil {
		return entity.Member{}, false
	}
	if m.GuildID != nil {
		guildID = *m.GuildID
	}
	return entity.Member{
		GuildID:      guildID,
		UserID:       m.User.ID,
		Nick:         deref(m.Nick),
		Roles:        m.Roles,
		JoinedAt:     m.JoinedAt,
		PremiumSince: m.PremiumSince,
		Deaf:         m.Deaf,
		Mute:         m.Mute,
		Pending:      m.Pending,
	}, true
}

func (r Role) Entity(guildID entity.ID) entity.Role {
	return entity.Role{
		ID:          r.ID,
		GuildID:     guildID,
		Name:        r.Name,
		Color:       r.Color,
		Hoist:       r.Hoist,
		Position:    r.Position,
		Permissions: r.Permissions,
		Managed:     r.Managed,
		Mentionable: r.Mentionable,
	}
}

// Entity returns the cache snapshot of e. Unicode emojis have no id and
// report false.
func (e Emoji) Entity(guildID entity.ID) (entity.Emoji, bool) {
	if e.ID == nil {
		return entity.Emoji{}, false
	}
	em := entity.Emoji{
		ID:            *e.ID,
		GuildID:       guildID,
		Name:          deref(e.Name),
		Roles:         e.Roles,
		RequireColons: deref(e.RequireColons),
		Managed:       deref(e.Managed),
		Animated:      deref(e.Animated),
		Available:     deref(e.Available),
	}
	if e.User != nil {
		em.UserID = e.User.ID
	}
	return em, true
}

func (c Channel) Entity() entity.Channel {
	return entity.Channel{
		ID:               c.ID,
		GuildID:          deref(c.GuildID),
		Type:             entity.ChannelType(c.Type),
		Name:             deref(c.Name),
		Topic:            deref(c.Topic),
		Position:         c.Position,
		ParentID:         deref(c.ParentID),
		NSFW:             c.NSFW,
		LastMessageID:    deref(c.LastMessageID),
		LastPinTimestamp: c.LastPinTimestamp,
	}
}

// Entity returns the cache snapshot of p. The guild id of the frame wins
// over guildID.
func (p Presence) Entity(guildID entity.ID) entity.Presence {
	activities := make([]entity.Activity, 0, len(p.Activities))
	for _, a := range p.Activities {
		activities = append(activities, entity.Activity{
			Name:      a.Name,
			Type:      entity.ActivityType(a.Type),
			URL:       deref(a.URL),
			State:     deref(a.State),
			Details:   deref(a.Details),
			CreatedAt: a.CreatedAt,
		})
	}
	if p.GuildID != nil {
		guildID = *p.GuildID
	}
	return entity.Presence{
		GuildID:      guildID,
		UserID:       p.User.ID,
		Status:       p.Status,
		ClientStatus: p.ClientStatus,
		Activities:   activities,
	}
}

func (g Guild) Entity() entity.Guild {
	return entity.Guild{
		ID:          g.ID,
		Name:        g.Name,
		Icon:        deref(g.Icon),
		OwnerID:     g.OwnerID,
		MemberCount: g.MemberCount,
		Large:       g.Large,
		Unavailable: g.Unavailable,
	}
}

func (m Message) Entity() entity.Message {
	return entity.Message{
		ID:              m.ID,
		ChannelID:       m.ChannelID,
		GuildID:         deref(m.GuildID),
		AuthorID:        m.Author.ID,
		Content:         m.Content,
		Timestamp:       m.Timestamp,
		EditedTimestamp: m.EditedTimestamp,
		Pinned:          m.Pinned,
		MentionEveryone: m.MentionEveryone,
		Mentions:        UserIDs(m.Mentions),
		Type:            m.Type,
	}
}

// UserIDs returns the ids of users, or nil when there are none.
func UserIDs(users []User) []entity.ID {
	if len(users) == 0 {
		return nil
	}
	ids := make([]entity.ID, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}
