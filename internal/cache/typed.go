package cache

import (
	"context"

	"github.com/luciancaetano/kephasgate"
	"github.com/luciancaetano/kephasgate/entity"
)

// Get returns the snapshot of type T stored under key.
func Get[T entity.Entity](ctx context.Context, c kephasgate.Cache, key entity.Key) (T, bool, error) {
	var zero T
	e, ok, err := c.Get(ctx, zero.Kind(), key)
	if err != nil || !ok {
		return zero, false, err
	}
	t, ok := e.(T)
	return t, ok, nil
}

// Query returns every snapshot of type T accepted by match. A nil match
// accepts everything.
func Query[T entity.Entity](ctx context.Context, c kephasgate.Cache, match func(T) bool) ([]T, error) {
	var zero T
	es, err := c.Query(ctx, zero.Kind(), func(e entity.Entity) bool {
		t, ok := e.(T)
		return ok && (match == nil || match(t))
	})
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(es))
	for _, e := range es {
		out = append(out, e.(T))
	}
	return out, nil
}

// UpdateKey merges the snapshot of type T stored under key. merge receives
// nil when the key is absent; returning nil removes the key. The returned
// pointers are nil for an absent side.
func UpdateKey[T entity.Entity](ctx context.Context, c kephasgate.Cache, key entity.Key, merge func(old *T) *T) (old, updated *T, err error) {
	var zero T
	change, err := c.UpdateKey(ctx, zero.Kind(), key, func(e entity.Entity) entity.Entity {
		next := merge(asPtr[T](e))
		if next == nil {
			return nil
		}
		return *next
	})
	if err != nil {
		return nil, nil, err
	}
	return asPtr[T](change.Old), asPtr[T](change.New), nil
}

// Snapshot returns a pointer to a copy of e, or nil when e is nil or not a T.
func Snapshot[T entity.Entity](e entity.Entity) *T {
	return asPtr[T](e)
}

func asPtr[T entity.Entity](e entity.Entity) *T {
	t, ok := e.(T)
	if !ok {
		return nil
	}
	return &t
}

// InGuild matches the guild scoped snapshots of guildID.
func InGuild(guildID entity.ID) func(entity.Entity) bool {
	return func(e entity.Entity) bool {
		return GuildOf(e) == guildID
	}
}

// InChannel matches the messages of channelID.
func InChannel(channelID entity.ID) func(entity.Entity) bool {
	return func(e entity.Entity) bool {
		m, ok := e.(entity.Message)
		return ok && m.ChannelID == channelID
	}
}

// OfUser matches the members and presences of userID.
func OfUser(userID entity.ID) func(entity.Entity) bool {
	return func(e entity.Entity) bool {
		switch v := e.(type) {
		case entity.Member:
			return v.UserID == userID
		case entity.Presence:
			return v.UserID == userID
		}
		return false
	}
}

// GuildOf returns the guild owning e, or zero when e is not guild scoped.
func GuildOf(e entity.Entity) entity.ID {
	switch v := e.(type) {
	case entity.Guild:
		return v.ID
	case entity.Channel:
		return v.GuildID
	case entity.Member:
		return v.GuildID
	case entity.Role:
		return v.GuildID
	case entity.Emoji:
		return v.GuildID
	case entity.Presence:
		return v.GuildID
	case entity.Invite:
		return v.GuildID
	case entity.Message:
		return v.GuildID
	}
	return 0
}

// Purge removes every snapshot scoped to guildID, the guild itself included.
func Purge(ctx context.Context, c kephasgate.Cache, guildID entity.ID) ([]entity.Entity, error) {
	var removed []entity.Entity
	for _, kind := range entity.Kinds {
		if kind == entity.KindUser {
			continue
		}
		es, err := c.Remove(ctx, kind, InGuild(guildID))
		if err != nil {
			return removed, err
		}
		removed = append(removed, es...)
	}
	return removed, nil
}
