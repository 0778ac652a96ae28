// Package pipeline turns dispatch frames into domain events.
//
// For each frame the Processor decodes the payload, applies its effect to the
// cache, builds the domain event from the snapshots before and after the
// change and publishes it to the Sink. A frame that fails at any step is
// logged and skipped; later frames are processed normally.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/luciancaetano/kephasgate"
	"github.com/luciancaetano/kephasgate/entity"
	"github.com/luciancaetano/kephasgate/event"
	"github.com/luciancaetano/kephasgate/internal/cache"
	"github.com/luciancaetano/kephasgate/internal/metrics"
	"github.com/luciancaetano/kephasgate/internal/protocol"
)

var ErrInvalidConfig = errors.New("invalid pipeline config")

// Config configures a Processor.
type Config struct {
	Cache   kephasgate.Cache
	Sink    *Sink
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Processor applies dispatch frames to the cache and publishes domain
// events. Process is not safe for concurrent use on the same shard: frames of
// one shard must be processed in receive order.
type Processor struct {
	store   kephasgate.Cache
	sink    *Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Processor.
func New(cfg Config) (*Processor, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("%w: nil cache", ErrInvalidConfig)
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("%w: nil sink", ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:   cfg.Cache,
		sink:    cfg.Sink,
		logger:  logger.With("component", "pipeline"),
		metrics: cfg.Metrics,
	}, nil
}

// Run processes frames from in until in is closed or ctx is cancelled.
// Failed frames are skipped.
func (p *Processor) Run(ctx context.Context, in <-chan protocol.Dispatch) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-in:
			if !ok {
				return nil
			}
			if err := p.Process(ctx, d); err != nil && ctx.Err() != nil {
				return nil
			}
		}
	}
}

// Process handles one frame. Unknown event names are dropped and return nil.
// Any other failure is logged, counted and returned; the cache keeps the
// changes applied before the failure.
func (p *Processor) Process(ctx context.Context, d protocol.Dispatch) error {
	payload, err := protocol.DecodeDispatch(d.Name, d.Data)
	if errors.Is(err, protocol.ErrUnknownEvent) {
		p.metrics.Event("unknown")
		p.logger.Debug("Dropping unknown event", "event", d.Name, "shard", d.ShardID)
		return nil
	}
	if err != nil {
		return p.fail(d, err)
	}

	ev, err := p.safeHandle(ctx, d, payload)
	if err != nil {
		return p.fail(d, err)
	}
	p.metrics.Event(d.Name)

	if _, err := p.sink.Publish(ctx, ev); err != nil {
		return err
	}
	return nil
}

func (p *Processor) fail(d protocol.Dispatch, err error) error {
	p.metrics.Failure()
	p.logger.Error("Failed to process event",
		"event", d.Name,
		"shard", d.ShardID,
		"seq", d.Sequence,
		"error", err)
	return fmt.Errorf("process %s: %w", d.Name, err)
}

func (p *Processor) safeHandle(ctx context.Context, d protocol.Dispatch, payload protocol.Payload) (ev event.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Debug("Handler panic", "event", d.Name, "stack", string(debug.Stack()))
			ev, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()

	meta := event.Meta{ShardID: d.ShardID, Sequence: d.Sequence, ReceivedAt: d.ReceivedAt}
	return p.handle(ctx, meta, payload)
}

func (p *Processor) handle(ctx context.Context, meta event.Meta, payload protocol.Payload) (event.Event, error) {
	switch v := payload.(type) {
	case *protocol.Ready:
		return p.ready(ctx, meta, v)
	case *protocol.Resumed:
		return &event.Resumed{Meta: meta}, nil
	case *protocol.GuildCreate:
		old, guild, err := p.guildAvailable(ctx, v.Guild)
		if err != nil {
			return nil, err
		}
		return &event.GuildCreate{Meta: meta, Old: old, Guild: guild}, nil
	case *protocol.GuildUpdate:
		old, guild, err := p.guildAvailable(ctx, v.Guild)
		if err != nil {
			return nil, err
		}
		return &event.GuildUpdate{Meta: meta, Old: old, New: guild}, nil
	case *protocol.GuildDelete:
		return p.guildDelete(ctx, meta, v)
	case *protocol.GuildBanAdd:
		user, err := p.putUser(ctx, v.User)
		if err != nil {
			return nil, err
		}
		return &event.BanAdd{Meta: meta, GuildID: v.GuildID, User: user}, nil
	case *protocol.GuildBanRemove:
		user, err := p.putUser(ctx, v.User)
		if err != nil {
			return nil, err
		}
		return &event.BanRemove{Meta: meta, GuildID: v.GuildID, User: user}, nil
	case *protocol.GuildEmojisUpdate:
		return p.emojisUpdate(ctx, meta, v)
	case *protocol.GuildIntegrationsUpdate:
		return &event.IntegrationsUpdate{Meta: meta, GuildID: v.GuildID}, nil
	case *protocol.GuildMemberAdd:
		return p.memberAdd(ctx, meta, v)
	case *protocol.GuildMemberUpdate:
		return p.memberUpdate(ctx, meta, v)
	case *protocol.GuildMemberRemove:
		return p.memberRemove(ctx, meta, v)
	case *protocol.GuildMembersChunk:
		return p.membersChunk(ctx, meta, v)
	case *protocol.GuildRoleCreate:
		role := v.Role.Entity(v.GuildID)
		if _, err := p.store.Put(ctx, role); err != nil {
			return nil, err
		}
		return &event.RoleCreate{Meta: meta, Role: role}, nil
	case *protocol.GuildRoleUpdate:
		role := v.Role.Entity(v.GuildID)
		change, err := p.store.Put(ctx, role)
		if err != nil {
			return nil, err
		}
		return &event.RoleUpdate{Meta: meta, Old: cache.Snapshot[entity.Role](change.Old), New: role}, nil
	case *protocol.GuildRoleDelete:
		old, err := p.removeKey(ctx, entity.KindRole, entity.Key{Parent: v.GuildID, ID: v.RoleID})
		if err != nil {
			return nil, err
		}
		return &event.RoleDelete{Meta: meta, GuildID: v.GuildID, RoleID: v.RoleID, Old: cache.Snapshot[entity.Role](old)}, nil
	case *protocol.ChannelCreate:
		old, ch, err := p.putChannel(ctx, v.Channel)
		if err != nil {
			return nil, err
		}
		return &event.ChannelCreate{Meta: meta, Old: old, Channel: ch}, nil
	case *protocol.ChannelUpdate:
		old, ch, err := p.putChannel(ctx, v.Channel)
		if err != nil {
			return nil, err
		}
		return &event.ChannelUpdate{Meta: meta, Old: old, New: ch}, nil
	case *protocol.ChannelDelete:
		return p.channelDelete(ctx, meta, v)
	case *protocol.ChannelPinsUpdate:
		return p.pinsUpdate(ctx, meta, v)
	case *protocol.MessageCreate:
		return p.messageCreate(ctx, meta, v)
	case *protocol.MessageUpdate:
		old, updated, err := cache.UpdateKey(ctx, p.store, entity.Key{Parent: v.ChannelID, ID: v.ID}, func(old *entity.Message) *entity.Message {
			return mergeMessage(old, v.PartialMessage)
		})
		if err != nil {
			return nil, err
		}
		return &event.MessageUpdate{Meta: meta, Old: old, New: *updated}, nil
	case *protocol.MessageDelete:
		old, err := p.removeKey(ctx, entity.KindMessage, entity.Key{Parent: v.ChannelID, ID: v.ID})
		if err != nil {
			return nil, err
		}
		return &event.MessageDelete{
			Meta:      meta,
			MessageID: v.ID,
			ChannelID: v.ChannelID,
			GuildID:   deref(v.GuildID),
			Old:       cache.Snapshot[entity.Message](old),
		}, nil
	case *protocol.MessageDeleteBulk:
		return p.messageDeleteBulk(ctx, meta, v)
	case *protocol.PresenceUpdate:
		return p.presenceUpdate(ctx, meta, v)
	case *protocol.InviteCreate:
		return p.inviteCreate(ctx, meta, v)
	case *protocol.InviteDelete:
		old, err := p.removeKey(ctx, entity.KindInvite, entity.Key{Code: v.Code})
		if err != nil {
			return nil, err
		}
		return &event.InviteDelete{
			Meta:      meta,
			Code:      v.Code,
			ChannelID: v.ChannelID,
			GuildID:   deref(v.GuildID),
			Old:       cache.Snapshot[entity.Invite](old),
		}, nil
	case *protocol.UserUpdate:
		user := v.User.Entity()
		change, err := p.store.Put(ctx, user)
		if err != nil {
			return nil, err
		}
		return &event.UserUpdate{Meta: meta, Old: cache.Snapshot[entity.User](change.Old), New: user}, nil
	case *protocol.WebhooksUpdate:
		return &event.WebhooksUpdate{Meta: meta, GuildID: v.GuildID, ChannelID: v.ChannelID}, nil
	case *protocol.TypingStart:
		return &event.TypingStart{
			Meta:      meta,
			ChannelID: v.ChannelID,
			GuildID:   deref(v.GuildID),
			UserID:    v.UserID,
			Timestamp: time.Unix(v.Timestamp, 0),
		}, nil
	default:
		return nil, fmt.Errorf("no handler for %T", payload)
	}
}

func (p *Processor) removeKey(ctx context.Context, kind entity.Kind, key entity.Key) (entity.Entity, error) {
	change, err := p.store.UpdateKey(ctx, kind, key, func(entity.Entity) entity.Entity { return nil })
	if err != nil {
		return nil, err
	}
	return change.Old, nil
}

func (p *Processor) putUser(ctx context.Context, u protocol.User) (entity.User, error) {
	user := u.Entity()
	if _, err := p.store.Put(ctx, user); err != nil {
		return entity.User{}, err
	}
	return user, nil
}

func (p *Processor) ready(ctx context.Context, meta event.Meta, v *protocol.Ready) (event.Event, error) {
	user, err := p.putUser(ctx, v.User)
	if err != nil {
		return nil, err
	}

	ids := make([]entity.ID, 0, len(v.Guilds))
	for _, g := range v.Guilds {
		ids = append(ids, g.ID)
		_, _, err := cache.UpdateKey(ctx, p.store, entity.Key{ID: g.ID}, func(old *entity.Guild) *entity.Guild {
			stub := entity.Guild{ID: g.ID}
			if old != nil {
				stub = *old
			}
			stub.Unavailable = true
			return &stub
		})
		if err != nil {
			return nil, err
		}
	}
	return &event.Ready{Meta: meta, SessionID: v.SessionID, User: user, Guilds: ids}, nil
}

// guildAvailable stores a full guild with everything it carries.
func (p *Processor) guildAvailable(ctx context.Context, g protocol.Guild) (*entity.Guild, entity.Guild, error) {
	old, updated, err := cache.UpdateKey(ctx, p.store, entity.Key{ID: g.ID}, func(old *entity.Guild) *entity.Guild {
		guild := mergeGuild(old, g)
		return &guild
	})
	if err != nil {
		return nil, entity.Guild{}, err
	}

	var related []entity.Entity
	for _, r := range g.Roles {
		related = append(related, r.Entity(g.ID))
	}
	for _, e := range g.Emojis {
		if em, ok := e.Entity(g.ID); ok {
			related = append(related, em)
		}
	}
	for _, c := range g.Channels {
		ch := c.Entity()
		ch.GuildID = g.ID
		related = append(related, ch)
	}
	for _, m := range g.Members {
		if member, ok := m.Entity(g.ID); ok {
			related = append(related, member, m.User.Entity())
		}
	}
	for _, pr := range g.Presences {
		related = append(related, pr.Entity(g.ID))
	}
	if err := p.store.PutAll(ctx, related); err != nil {
		return nil, entity.Guild{}, err
	}
	return old, *updated, nil
}

func (p *Processor) guildDelete(ctx context.Context, meta event.Meta, v *protocol.GuildDelete) (event.Event, error) {
	ev := &event.GuildDelete{Meta: meta, GuildID: v.ID, Unavailable: v.Unavailable}

	if v.Unavailable {
		old, _, err := cache.UpdateKey(ctx, p.store, entity.Key{ID: v.ID}, func(old *entity.Guild) *entity.Guild {
			g := entity.Guild{ID: v.ID}
			if old != nil {
				g = *old
			}
			g.Unavailable = true
			return &g
		})
		if err != nil {
			return nil, err
		}
		ev.Old = old
		return ev, nil
	}

	removed, err := cache.Purge(ctx, p.store, v.ID)
	if err != nil {
		return nil, err
	}
	for _, e := range removed {
		if g, ok := e.(entity.Guild); ok {
			ev.Old = &g
		}
	}
	return ev, nil
}

func (p *Processor) emojisUpdate(ctx context.Context, meta event.Meta, v *protocol.GuildEmojisUpdate) (event.Event, error) {
	removed, err := p.store.Remove(ctx, entity.KindEmoji, cache.InGuild(v.GuildID))
	if err != nil {
		return nil, err
	}

	ev := &event.EmojisUpdate{Meta: meta, GuildID: v.GuildID}
	for _, e := range removed {
		ev.Old = append(ev.Old, e.(entity.Emoji))
	}

	var fresh []entity.Entity
	for _, e := range v.Emojis {
		if em, ok := e.Entity(v.GuildID); ok {
			ev.New = append(ev.New, em)
			fresh = append(fresh, em)
		}
	}
	if err := p.store.PutAll(ctx, fresh); err != nil {
		return nil, err
	}
	return ev, nil
}

func (p *Processor) adjustMemberCount(ctx context.Context, guildID entity.ID, delta int) error {
	_, _, err := cache.UpdateKey(ctx, p.store, entity.Key{ID: guildID}, func(old *entity.Guild) *entity.Guild {
		if old == nil {
			return nil
		}
		g := *old
		g.MemberCount = max(g.MemberCount+delta, 0)
		return &g
	})
	return err
}

func (p *Processor) memberAdd(ctx context.Context, meta event.Meta, v *protocol.GuildMemberAdd) (event.Event, error) {
	member, ok := v.Member.Entity(v.GuildID)
	if !ok {
		return nil, fmt.Errorf("%w: member without user", protocol.ErrInvalidFrame)
	}
	user := v.User.Entity()
	if err := p.store.PutAll(ctx, []entity.Entity{user, member}); err != nil {
		return nil, err
	}
	if err := p.adjustMemberCount(ctx, v.GuildID, 1); err != nil {
		return nil, err
	}
	return &event.MemberJoin{Meta: meta, Member: member, User: user}, nil
}

func (p *Processor) memberUpdate(ctx context.Context, meta event.Meta, v *protocol.GuildMemberUpdate) (event.Event, error) {
	user, err := p.putUser(ctx, v.User)
	if err != nil {
		return nil, err
	}
	key := entity.Key{Parent: v.GuildID, ID: v.User.ID}
	old, updated, err := cache.UpdateKey(ctx, p.store, key, func(old *entity.Member) *entity.Member {
		return mergeMember(old, v)
	})
	if err != nil {
		return nil, err
	}
	return &event.MemberUpdate{Meta: meta, Old: old, New: *updated, User: user}, nil
}

func (p *Processor) memberRemove(ctx context.Context, meta event.Meta, v *protocol.GuildMemberRemove) (event.Event, error) {
	user, err := p.putUser(ctx, v.User)
	if err != nil {
		return nil, err
	}
	old, err := p.removeKey(ctx, entity.KindMember, entity.Key{Parent: v.GuildID, ID: v.User.ID})
	if err != nil {
		return nil, err
	}
	if err := p.adjustMemberCount(ctx, v.GuildID, -1); err != nil {
		return nil, err
	}
	return &event.MemberLeave{Meta: meta, GuildID: v.GuildID, User: user, Old: cache.Snapshot[entity.Member](old)}, nil
}

func (p *Processor) membersChunk(ctx context.Context, meta event.Meta, v *protocol.GuildMembersChunk) (event.Event, error) {
	ev := &event.MembersChunk{
		Meta:       meta,
		GuildID:    v.GuildID,
		NotFound:   v.NotFound,
		ChunkIndex: v.ChunkIndex,
		ChunkCount: v.ChunkCount,
		Nonce:      v.Nonce,
	}

	var all []entity.Entity
	for _, m := range v.Members {
		member, ok := m.Entity(v.GuildID)
		if !ok {
			continue
		}
		user := m.User.Entity()
		ev.Members = append(ev.Members, member)
		ev.Users = append(ev.Users, user)
		all = append(all, member, user)
	}
	for _, pr := range v.Presences {
		presence := pr.Entity(v.GuildID)
		ev.Presences = append(ev.Presences, presence)
		all = append(all, presence)
	}
	if err := p.store.PutAll(ctx, all); err != nil {
		return nil, err
	}
	return ev, nil
}

func (p *Processor) putChannel(ctx context.Context, c protocol.Channel) (*entity.Channel, entity.Channel, error) {
	old, updated, err := cache.UpdateKey(ctx, p.store, entity.Key{ID: c.ID}, func(old *entity.Channel) *entity.Channel {
		ch := mergeChannel(old, c)
		return &ch
	})
	if err != nil {
		return nil, entity.Channel{}, err
	}
	return old, *updated, nil
}

func (p *Processor) channelDelete(ctx context.Context, meta event.Meta, v *protocol.ChannelDelete) (event.Event, error) {
	old, err := p.removeKey(ctx, entity.KindChannel, entity.Key{ID: v.ID})
	if err != nil {
		return nil, err
	}
	if _, err := p.store.Remove(ctx, entity.KindMessage, cache.InChannel(v.ID)); err != nil {
		return nil, err
	}
	return &event.ChannelDelete{Meta: meta, Channel: v.Channel.Entity(), Old: cache.Snapshot[entity.Channel](old)}, nil
}

func (p *Processor) pinsUpdate(ctx context.Context, meta event.Meta, v *protocol.ChannelPinsUpdate) (event.Event, error) {
	old, updated, err := cache.UpdateKey(ctx, p.store, entity.Key{ID: v.ChannelID}, func(old *entity.Channel) *entity.Channel {
		if old == nil {
			return nil
		}
		ch := *old
		ch.LastPinTimestamp = v.LastPinTimestamp
		return &ch
	})
	if err != nil {
		return nil, err
	}
	return &event.ChannelPinsUpdate{
		Meta:             meta,
		ChannelID:        v.ChannelID,
		GuildID:          deref(v.GuildID),
		LastPinTimestamp: v.LastPinTimestamp,
		Old:              old,
		New:              updated,
	}, nil
}

func (p *Processor) messageCreate(ctx context.Context, meta event.Meta, v *protocol.MessageCreate) (event.Event, error) {
	msg := v.Message.Entity()
	author := v.Author.Entity()
	ev := &event.MessageCreate{Meta: meta, Message: msg, Author: author}

	all := []entity.Entity{msg, author}
	if v.Member != nil && v.GuildID != nil {
		m := *v.Member
		m.User = &v.Author
		if member, ok := m.Entity(*v.GuildID); ok {
			ev.Member = &member
			all = append(all, member)
		}
	}
	if err := p.store.PutAll(ctx, all); err != nil {
		return nil, err
	}

	_, _, err := cache.UpdateKey(ctx, p.store, entity.Key{ID: msg.ChannelID}, func(old *entity.Channel) *entity.Channel {
		if old == nil {
			return nil
		}
		ch := *old
		ch.LastMessageID = msg.ID
		return &ch
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (p *Processor) messageDeleteBulk(ctx context.Context, meta event.Meta, v *protocol.MessageDeleteBulk) (event.Event, error) {
	ev := &event.MessageDeleteBulk{
		Meta:       meta,
		MessageIDs: v.IDs,
		ChannelID:  v.ChannelID,
		GuildID:    deref(v.GuildID),
	}
	for _, id := range v.IDs {
		old, err := p.removeKey(ctx, entity.KindMessage, entity.Key{Parent: v.ChannelID, ID: id})
		if err != nil {
			return nil, err
		}
		if m := cache.Snapshot[entity.Message](old); m != nil {
			ev.Old = append(ev.Old, *m)
		}
	}
	return ev, nil
}

func (p *Processor) presenceUpdate(ctx context.Context, meta event.Meta, v *protocol.PresenceUpdate) (event.Event, error) {
	presence := v.Presence.Entity(0)
	change, err := p.store.Put(ctx, presence)
	if err != nil {
		return nil, err
	}

	_, user, err := cache.UpdateKey(ctx, p.store, entity.Key{ID: v.User.ID}, func(old *entity.User) *entity.User {
		return mergePartialUser(old, v.User)
	})
	if err != nil {
		return nil, err
	}
	return &event.PresenceUpdate{
		Meta: meta,
		Old:  cache.Snapshot[entity.Presence](change.Old),
		New:  presence,
		User: user,
	}, nil
}

func (p *Processor) inviteCreate(ctx context.Context, meta event.Meta, v *protocol.InviteCreate) (event.Event, error) {
	invite := inviteOf(v)
	all := []entity.Entity{invite}

	ev := &event.InviteCreate{Meta: meta, Invite: invite}
	if v.Inviter != nil {
		inviter := v.Inviter.Entity()
		ev.Inviter = &inviter
		all = append(all, inviter)
	}
	if err := p.store.PutAll(ctx, all); err != nil {
		return nil, err
	}
	return ev, nil
}
