package cache

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/kephasgate/entity"
)

// TestPutReturnsPrevious tests that Put reports the replaced snapshot
func TestPutReturnsPrevious(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemory()

	change, err := c.Put(ctx, entity.Guild{ID: 1, Name: "first"})
	require.NoError(t, err)
	assert.Nil(t, change.Old)
	assert.Equal(t, entity.Guild{ID: 1, Name: "first"}, change.New)

	change, err = c.Put(ctx, entity.Guild{ID: 1, Name: "second"})
	require.NoError(t, err)
	assert.Equal(t, entity.Guild{ID: 1, Name: "first"}, change.Old)
	assert.Equal(t, entity.Guild{ID: 1, Name: "second"}, change.New)
	assert.Equal(t, 1, c.Len(entity.KindGuild))
}

// TestKeysAreScoped tests that equal ids under different parents do not collide
func TestKeysAreScoped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemory()

	require.NoError(t, c.PutAll(ctx, []entity.Entity{
		entity.Member{GuildID: 1, UserID: 7, Nick: "a"},
		entity.Member{GuildID: 2, UserID: 7, Nick: "b"},
		entity.User{ID: 7, Username: "u"},
	}))

	m, ok, err := Get[entity.Member](ctx, c, entity.Key{Parent: 2, ID: 7})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", m.Nick)

	members, err := Query(ctx, c, func(m entity.Member) bool { return m.UserID == 7 })
	require.NoError(t, err)
	assert.Len(t, members, 2)
	assert.Equal(t, entity.ID(1), members[0].GuildID)
	assert.Equal(t, 1, c.Len(entity.KindUser))
}

// TestSnapshotsAreCopies tests that changing a snapshot handed in or out leaves the cache untouched
func TestSnapshotsAreCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemory()
	key := entity.Key{Parent: 1, ID: 7}

	roles := []entity.ID{10, 11}
	_, err := c.Put(ctx, entity.Member{GuildID: 1, UserID: 7, Roles: roles})
	require.NoError(t, err)
	roles[0] = 98

	got, ok, err := Get[entity.Member](ctx, c, key)
	require.NoError(t, err)
	require.True(t, ok)
	got.Roles[0] = 99

	members, err := Query[entity.Member](ctx, c, nil)
	require.NoError(t, err)
	require.Len(t, members, 1)
	members[0].Roles[1] = 99

	old, updated, err := UpdateKey(ctx, c, key, func(m *entity.Member) *entity.Member {
		m.Roles[0] = 50
		m.Nick = "n"
		return m
	})
	require.NoError(t, err)
	assert.Equal(t, []entity.ID{10, 11}, old.Roles)
	updated.Roles[1] = 99

	again, _, err := Get[entity.Member](ctx, c, key)
	require.NoError(t, err)
	assert.Equal(t, []entity.ID{50, 11}, again.Roles)
	assert.Equal(t, "n", again.Nick)
}

// TestCloneCopiesReferences tests that Clone detaches slices, maps and pointers
func TestCloneCopiesReferences(t *testing.T) {
	t.Parallel()

	p := entity.Presence{
		UserID:       1,
		ClientStatus: map[string]string{"desktop": "online"},
		Activities:   []entity.Activity{{Name: "a"}},
	}
	cp := entity.Clone(p).(entity.Presence)
	cp.ClientStatus["desktop"] = "idle"
	cp.Activities[0].Name = "b"
	assert.Equal(t, "online", p.ClientStatus["desktop"])
	assert.Equal(t, "a", p.Activities[0].Name)

	msg := entity.Message{ID: 1, Mentions: []entity.ID{3}}
	mc := entity.Clone(msg).(entity.Message)
	mc.Mentions[0] = 4
	assert.Equal(t, entity.ID(3), msg.Mentions[0])

	g := entity.Guild{ID: 1}
	assert.Equal(t, g, entity.Clone(g))
	assert.Nil(t, entity.Clone(nil))
}

// TestGetMissing tests the absent result of Get
func TestGetMissing(t *testing.T) {
	t.Parallel()

	g, ok, err := Get[entity.Guild](context.Background(), NewMemory(), entity.Key{ID: 9})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, g)
}

// TestUpdateKey tests merges against present and absent keys
func TestUpdateKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemory()
	key := entity.Key{ID: 3}

	rename := func(name string) func(*entity.Channel) *entity.Channel {
		return func(old *entity.Channel) *entity.Channel {
			next := entity.Channel{ID: 3}
			if old != nil {
				next = *old
			}
			next.Name = name
			return &next
		}
	}

	old, updated, err := UpdateKey(ctx, c, key, rename("general"))
	require.NoError(t, err)
	assert.Nil(t, old)
	require.NotNil(t, updated)
	assert.Equal(t, "general", updated.Name)

	_, err = c.Put(ctx, entity.Channel{ID: 3, Name: "general", Topic: "hi"})
	require.NoError(t, err)

	old, updated, err = UpdateKey(ctx, c, key, rename("lobby"))
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.Equal(t, "general", old.Name)
	assert.Equal(t, entity.Channel{ID: 3, Name: "lobby", Topic: "hi"}, *updated)

	old, updated, err = UpdateKey(ctx, c, key, func(*entity.Channel) *entity.Channel { return nil })
	require.NoError(t, err)
	assert.Equal(t, "lobby", old.Name)
	assert.Nil(t, updated)
	assert.Equal(t, 0, c.Len(entity.KindChannel))
}

// TestUpdateKeyRejectsMovedKey tests that a merge cannot change the key
func TestUpdateKeyRejectsMovedKey(t *testing.T) {
	t.Parallel()
	c := NewMemory()

	_, err := c.UpdateKey(context.Background(), entity.KindGuild, entity.Key{ID: 1}, func(entity.Entity) entity.Entity {
		return entity.Guild{ID: 2}
	})
	assert.Error(t, err)
	assert.Equal(t, 0, c.Len(entity.KindGuild))
}

// TestUpdateMatching tests bulk merges
func TestUpdateMatching(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemory()

	require.NoError(t, c.PutAll(ctx, []entity.Entity{
		entity.Role{GuildID: 1, ID: 10, Position: 1},
		entity.Role{GuildID: 1, ID: 11, Position: 2},
		entity.Role{GuildID: 2, ID: 12, Position: 3},
	}))

	changes, err := c.Update(ctx, entity.KindRole, InGuild(1), func(e entity.Entity) entity.Entity {
		r := e.(entity.Role)
		r.Position++
		return r
	})
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, 1, changes[0].Old.(entity.Role).Position)
	assert.Equal(t, 2, changes[0].New.(entity.Role).Position)

	r, _, err := Get[entity.Role](ctx, c, entity.Key{Parent: 2, ID: 12})
	require.NoError(t, err)
	assert.Equal(t, 3, r.Position)
}

// TestRemove tests that Remove returns what it removed
func TestRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemory()

	require.NoError(t, c.PutAll(ctx, []entity.Entity{
		entity.Message{ChannelID: 5, ID: 2},
		entity.Message{ChannelID: 5, ID: 1},
		entity.Message{ChannelID: 6, ID: 3},
	}))

	removed, err := c.Remove(ctx, entity.KindMessage, InChannel(5))
	require.NoError(t, err)
	require.Len(t, removed, 2)
	assert.Equal(t, entity.ID(1), removed[0].Key().ID)
	assert.Equal(t, 1, c.Len(entity.KindMessage))

	removed, err = c.Remove(ctx, entity.KindMessage, InChannel(5))
	require.NoError(t, err)
	assert.Empty(t, removed)
}

// TestPurge tests that purging a guild leaves other guilds and users alone
func TestPurge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemory()

	require.NoError(t, c.PutAll(ctx, []entity.Entity{
		entity.Guild{ID: 1},
		entity.Guild{ID: 2},
		entity.Channel{ID: 10, GuildID: 1},
		entity.Channel{ID: 11, GuildID: 2},
		entity.Member{GuildID: 1, UserID: 7},
		entity.Role{GuildID: 1, ID: 20},
		entity.Emoji{GuildID: 1, ID: 30},
		entity.Presence{GuildID: 1, UserID: 7},
		entity.Invite{Code: "abc", GuildID: 1},
		entity.Message{ChannelID: 10, GuildID: 1, ID: 40},
		entity.User{ID: 7},
	}))

	removed, err := Purge(ctx, c, 1)
	require.NoError(t, err)
	assert.Len(t, removed, 8)
	assert.Equal(t, 1, c.Len(entity.KindGuild))
	assert.Equal(t, 1, c.Len(entity.KindChannel))
	assert.Equal(t, 1, c.Len(entity.KindUser))
	assert.Equal(t, 0, c.Len(entity.KindMessage))
}

// TestUnknownKind tests that kinds outside the catalogue are rejected
func TestUnknownKind(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemory()

	_, _, err := c.Get(ctx, entity.Kind(200), entity.Key{})
	assert.ErrorIs(t, err, ErrUnknownKind)
	_, err = c.Query(ctx, entity.Kind(0), nil)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

// TestConcurrentUpdateKey tests that merges on one key never lose writes
func TestConcurrentUpdateKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemory()
	key := entity.Key{ID: 1}

	const workers = 16
	const perWorker = 50

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				_, _, err := UpdateKey(ctx, c, key, func(old *entity.Guild) *entity.Guild {
					next := entity.Guild{ID: 1}
					if old != nil {
						next = *old
					}
					next.MemberCount++
					return &next
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	g, ok, err := Get[entity.Guild](ctx, c, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, workers*perWorker, g.MemberCount)
}
