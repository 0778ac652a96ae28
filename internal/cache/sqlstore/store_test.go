package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/kephasgate/entity"
	"github.com/luciancaetano/kephasgate/internal/cache"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s, path
}

// TestPutAndGet tests that snapshots round trip through the database
func TestPutAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openTemp(t)

	member := entity.Member{GuildID: 1, UserID: 2, Nick: "nick", Roles: []entity.ID{3, 4}}
	change, err := s.Put(ctx, member)
	require.NoError(t, err)
	assert.Nil(t, change.Old)

	got, ok, err := cache.Get[entity.Member](ctx, s, member.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, member, got)

	member.Nick = "renamed"
	change, err = s.Put(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, "nick", change.Old.(entity.Member).Nick)

	_, ok, err = s.Get(ctx, entity.KindMember, entity.Key{Parent: 9, ID: 2})
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestInviteKeyedByCode tests code keyed snapshots
func TestInviteKeyedByCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openTemp(t)

	require.NoError(t, s.PutAll(ctx, []entity.Entity{
		entity.Invite{Code: "abc", GuildID: 1, Uses: 1},
		entity.Invite{Code: "xyz", GuildID: 1, Uses: 2},
	}))

	inv, ok, err := cache.Get[entity.Invite](ctx, s, entity.Key{Code: "xyz"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, inv.Uses)
}

// TestQueryOrdersByKey tests that query results follow key order
func TestQueryOrdersByKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openTemp(t)

	require.NoError(t, s.PutAll(ctx, []entity.Entity{
		entity.Message{ChannelID: 5, ID: 30, Content: "c"},
		entity.Message{ChannelID: 5, ID: 10, Content: "a"},
		entity.Message{ChannelID: 6, ID: 20, Content: "x"},
		entity.Message{ChannelID: 5, ID: 20, Content: "b"},
	}))

	msgs, err := cache.Query(ctx, s, func(m entity.Message) bool { return m.ChannelID == 5 })
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{msgs[0].Content, msgs[1].Content, msgs[2].Content})
}

// TestUpdateKeyMergesAndRemoves tests merges in a transaction
func TestUpdateKeyMergesAndRemoves(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openTemp(t)
	key := entity.Key{ID: 1}

	old, updated, err := cache.UpdateKey(ctx, s, key, func(old *entity.Guild) *entity.Guild {
		assert.Nil(t, old)
		return &entity.Guild{ID: 1, Name: "g", MemberCount: 1}
	})
	require.NoError(t, err)
	assert.Nil(t, old)
	assert.Equal(t, "g", updated.Name)

	old, updated, err = cache.UpdateKey(ctx, s, key, func(old *entity.Guild) *entity.Guild {
		next := *old
		next.MemberCount++
		return &next
	})
	require.NoError(t, err)
	assert.Equal(t, 1, old.MemberCount)
	assert.Equal(t, 2, updated.MemberCount)

	_, updated, err = cache.UpdateKey(ctx, s, key, func(*entity.Guild) *entity.Guild { return nil })
	require.NoError(t, err)
	assert.Nil(t, updated)

	_, ok, err := s.Get(ctx, entity.KindGuild, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestUpdateKeyRollsBack tests that a rejected merge leaves the row alone
func TestUpdateKeyRollsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openTemp(t)

	_, err := s.Put(ctx, entity.Guild{ID: 1, Name: "g"})
	require.NoError(t, err)

	_, err = s.UpdateKey(ctx, entity.KindGuild, entity.Key{ID: 1}, func(entity.Entity) entity.Entity {
		return entity.Guild{ID: 2}
	})
	assert.Error(t, err)

	g, ok, err := cache.Get[entity.Guild](ctx, s, entity.Key{ID: 1})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "g", g.Name)
}

// TestUpdateAndRemoveMatching tests bulk mutations
func TestUpdateAndRemoveMatching(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openTemp(t)

	require.NoError(t, s.PutAll(ctx, []entity.Entity{
		entity.Emoji{GuildID: 1, ID: 1, Name: "a"},
		entity.Emoji{GuildID: 1, ID: 2, Name: "b"},
		entity.Emoji{GuildID: 2, ID: 3, Name: "c"},
	}))

	changes, err := s.Update(ctx, entity.KindEmoji, cache.InGuild(1), func(e entity.Entity) entity.Entity {
		em := e.(entity.Emoji)
		em.Available = true
		return em
	})
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.False(t, changes[0].Old.(entity.Emoji).Available)
	assert.True(t, changes[0].New.(entity.Emoji).Available)

	removed, err := cache.Purge(ctx, s, 1)
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	rest, err := s.Query(ctx, entity.KindEmoji, nil)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", rest[0].(entity.Emoji).Name)
}

// TestReopenKeepsSnapshots tests persistence across opens
func TestReopenKeepsSnapshots(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "cache.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = s.Put(ctx, entity.User{ID: 42, Username: "kept"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	u, ok, err := cache.Get[entity.User](ctx, s, entity.Key{ID: 42})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "kept", u.Username)

	require.NoError(t, s.Clear(ctx))
	_, ok, err = s.Get(ctx, entity.KindUser, entity.Key{ID: 42})
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestUnknownKind tests that kinds outside the catalogue are rejected
func TestUnknownKind(t *testing.T) {
	t.Parallel()
	s, _ := openTemp(t)

	_, _, err := s.Get(context.Background(), entity.Kind(99), entity.Key{})
	assert.ErrorIs(t, err, ErrUnknownKind)
}
