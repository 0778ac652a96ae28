package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/luciancaetano/kephasgate/entity"
	"github.com/luciancaetano/kephasgate/internal/paginate"
	"github.com/luciancaetano/kephasgate/internal/protocol"
)

// MaxMembersPerPage is the largest page of ListMembers.
const MaxMembersPerPage = 1000

type MessageReference struct {
	MessageID entity.ID `json:"message_id"`
	ChannelID entity.ID `json:"channel_id,omitempty"`
	GuildID   entity.ID `json:"guild_id,omitempty"`
}

type CreateMessageParams struct {
	Content   string            `json:"content,omitempty"`
	TTS       bool              `json:"tts,omitempty"`
	Nonce     string            `json:"nonce,omitempty"`
	Reference *MessageReference `json:"message_reference,omitempty"`
}

// EditMessageParams carries the fields to change; nil fields are left alone.
type EditMessageParams struct {
	Content *string `json:"content,omitempty"`
}

// ModifyMemberParams carries the fields to change; nil fields are left alone.
type ModifyMemberParams struct {
	Nick      *string     `json:"nick,omitempty"`
	Roles     []entity.ID `json:"roles,omitempty"`
	Mute      *bool       `json:"mute,omitempty"`
	Deaf      *bool       `json:"deaf,omitempty"`
	ChannelID *entity.ID  `json:"channel_id,omitempty"`
}

type CreateInviteParams struct {
	MaxAge    int  `json:"max_age"`
	MaxUses   int  `json:"max_uses"`
	Temporary bool `json:"temporary,omitempty"`
	Unique    bool `json:"unique,omitempty"`
}

type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"` // milliseconds
	MaxConcurrency int `json:"max_concurrency"`
}

// GatewayBot is the recommended gateway setup for the token.
type GatewayBot struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// ResetIn returns when the session start budget refills.
func (l SessionStartLimit) ResetIn() time.Duration {
	return time.Duration(l.ResetAfter) * time.Millisecond
}

type idObject struct {
	ID entity.ID `json:"id"`
}

type invite struct {
	Code      string         `json:"code"`
	Guild     *idObject      `json:"guild,omitempty"`
	Channel   *idObject      `json:"channel,omitempty"`
	Inviter   *protocol.User `json:"inviter,omitempty"`
	MaxAge    int            `json:"max_age"`
	MaxUses   int            `json:"max_uses"`
	Uses      int            `json:"uses"`
	Temporary bool           `json:"temporary"`
	CreatedAt time.Time      `json:"created_at"`
}

func (i invite) entity() entity.Invite {
	inv := entity.Invite{
		Code:      i.Code,
		MaxAge:    i.MaxAge,
		MaxUses:   i.MaxUses,
		Uses:      i.Uses,
		Temporary: i.Temporary,
		CreatedAt: i.CreatedAt,
	}
	if i.Guild != nil {
		inv.GuildID = i.Guild.ID
	}
	if i.Channel != nil {
		inv.ChannelID = i.Channel.ID
	}
	if i.Inviter != nil {
		inv.InviterID = i.Inviter.ID
	}
	return inv
}

// lookup fetches a single resource into v. A 404 reports false.
func (c *Client) lookup(ctx context.Context, path string, query url.Values, v any) (bool, error) {
	resp, err := c.Execute(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, resp.Decode(v)
}

func (c *Client) call(ctx context.Context, req Request, v any) error {
	resp, err := c.Execute(ctx, req)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return resp.Decode(v)
}

func (c *Client) GetGuild(ctx context.Context, guildID entity.ID) (entity.Guild, bool, error) {
	var g protocol.Guild
	ok, err := c.lookup(ctx, fmt.Sprintf("/guilds/%d", guildID), url.Values{"with_counts": {"true"}}, &g)
	if !ok || err != nil {
		return entity.Guild{}, false, err
	}
	guild := g.Entity()
	if guild.MemberCount == 0 {
		guild.MemberCount = g.ApproximateMemberCount
	}
	return guild, true, nil
}

func (c *Client) GetChannel(ctx context.Context, channelID entity.ID) (entity.Channel, bool, error) {
	var ch protocol.Channel
	ok, err := c.lookup(ctx, fmt.Sprintf("/channels/%d", channelID), nil, &ch)
	if !ok || err != nil {
		return entity.Channel{}, false, err
	}
	return ch.Entity(), true, nil
}

func (c *Client) GetMember(ctx context.Context, guildID, userID entity.ID) (entity.Member, bool, error) {
	var m protocol.Member
	ok, err := c.lookup(ctx, fmt.Sprintf("/guilds/%d/members/%d", guildID, userID), nil, &m)
	if !ok || err != nil {
		return entity.Member{}, false, err
	}
	member, ok := m.Entity(guildID)
	return member, ok, nil
}

func (c *Client) GetMessage(ctx context.Context, channelID, messageID entity.ID) (entity.Message, bool, error) {
	var m protocol.Message
	ok, err := c.lookup(ctx, fmt.Sprintf("/channels/%d/messages/%d", channelID, messageID), nil, &m)
	if !ok || err != nil {
		return entity.Message{}, false, err
	}
	return m.Entity(), true, nil
}

func (c *Client) GetUser(ctx context.Context, userID entity.ID) (entity.User, bool, error) {
	var u protocol.User
	ok, err := c.lookup(ctx, fmt.Sprintf("/users/%d", userID), nil, &u)
	if !ok || err != nil {
		return entity.User{}, false, err
	}
	return u.Entity(), true, nil
}

// GetMessages fetches one page of channel history at cursor.
func (c *Client) GetMessages(ctx context.Context, channelID entity.ID, cursor paginate.Cursor) ([]entity.Message, error) {
	q := url.Values{}
	q.Set(cursor.Direction.String(), cursor.ID.String())
	if cursor.Limit > 0 {
		q.Set("limit", strconv.Itoa(min(cursor.Limit, paginate.MaxPageSize)))
	}

	var page []protocol.Message
	req := Request{Method: http.MethodGet, Path: fmt.Sprintf("/channels/%d/messages", channelID), Query: q}
	if err := c.call(ctx, req, &page); err != nil {
		return nil, err
	}
	out := make([]entity.Message, 0, len(page))
	for _, m := range page {
		out = append(out, m.Entity())
	}
	return out, nil
}

// MessageFetcher returns a page fetcher over the history of a channel.
func (c *Client) MessageFetcher(channelID entity.ID) paginate.Fetcher[entity.Message] {
	return func(ctx context.Context, cursor paginate.Cursor) ([]entity.Message, error) {
		return c.GetMessages(ctx, channelID, cursor)
	}
}

// ListMembers fetches up to limit members with a user id above after.
func (c *Client) ListMembers(ctx context.Context, guildID, after entity.ID, limit int) ([]entity.Member, error) {
	q := url.Values{}
	q.Set("after", after.String())
	q.Set("limit", strconv.Itoa(min(max(limit, 1), MaxMembersPerPage)))

	var page []protocol.Member
	req := Request{Method: http.MethodGet, Path: fmt.Sprintf("/guilds/%d/members", guildID), Query: q}
	if err := c.call(ctx, req, &page); err != nil {
		return nil, err
	}
	out := make([]entity.Member, 0, len(page))
	for _, m := range page {
		if member, ok := m.Entity(guildID); ok {
			out = append(out, member)
		}
	}
	return out, nil
}

// MemberFetcher returns a page fetcher over the members of a guild. Members
// are only listed forwards, so the cursor direction is ignored.
func (c *Client) MemberFetcher(guildID entity.ID) paginate.Fetcher[entity.Member] {
	return func(ctx context.Context, cursor paginate.Cursor) ([]entity.Member, error) {
		return c.ListMembers(ctx, guildID, cursor.ID, cursor.Limit)
	}
}

func (c *Client) GetPinnedMessages(ctx context.Context, channelID entity.ID) ([]entity.Message, error) {
	var page []protocol.Message
	req := Request{Method: http.MethodGet, Path: fmt.Sprintf("/channels/%d/pins", channelID)}
	if err := c.call(ctx, req, &page); err != nil {
		return nil, err
	}
	out := make([]entity.Message, 0, len(page))
	for _, m := range page {
		out = append(out, m.Entity())
	}
	return out, nil
}

func (c *Client) CreateMessage(ctx context.Context, channelID entity.ID, params CreateMessageParams) (entity.Message, error) {
	var m protocol.Message
	req := Request{Method: http.MethodPost, Path: fmt.Sprintf("/channels/%d/messages", channelID), Body: params}
	if err := c.call(ctx, req, &m); err != nil {
		return entity.Message{}, err
	}
	return m.Entity(), nil
}

func (c *Client) EditMessage(ctx context.Context, channelID, messageID entity.ID, params EditMessageParams) (entity.Message, error) {
	var m protocol.Message
	req := Request{Method: http.MethodPatch, Path: fmt.Sprintf("/channels/%d/messages/%d", channelID, messageID), Body: params}
	if err := c.call(ctx, req, &m); err != nil {
		return entity.Message{}, err
	}
	return m.Entity(), nil
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID entity.ID, reason string) error {
	req := Request{Method: http.MethodDelete, Path: fmt.Sprintf("/channels/%d/messages/%d", channelID, messageID), Reason: reason}
	return c.call(ctx, req, nil)
}

func (c *Client) TriggerTyping(ctx context.Context, channelID entity.ID) error {
	return c.call(ctx, Request{Method: http.MethodPost, Path: fmt.Sprintf("/channels/%d/typing", channelID)}, nil)
}

func (c *Client) ModifyGuildMember(ctx context.Context, guildID, userID entity.ID, params ModifyMemberParams, reason string) (entity.Member, error) {
	var m protocol.Member
	req := Request{
		Method: http.MethodPatch,
		Path:   fmt.Sprintf("/guilds/%d/members/%d", guildID, userID),
		Body:   params,
		Reason: reason,
	}
	if err := c.call(ctx, req, &m); err != nil {
		return entity.Member{}, err
	}
	member, ok := m.Entity(guildID)
	if !ok {
		return entity.Member{}, fmt.Errorf("modify member %d: response without user", userID)
	}
	return member, nil
}

func (c *Client) CreateInvite(ctx context.Context, channelID entity.ID, params CreateInviteParams, reason string) (entity.Invite, error) {
	var inv invite
	req := Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/channels/%d/invites", channelID),
		Body:   params,
		Reason: reason,
	}
	if err := c.call(ctx, req, &inv); err != nil {
		return entity.Invite{}, err
	}
	return inv.entity(), nil
}

func (c *Client) GetGatewayBot(ctx context.Context) (GatewayBot, error) {
	var gb GatewayBot
	err := c.call(ctx, Request{Method: http.MethodGet, Path: "/gateway/bot"}, &gb)
	return gb, err
}
