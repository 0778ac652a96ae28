package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/luciancaetano/kephasgate"
	"github.com/luciancaetano/kephasgate/entity"
	"github.com/luciancaetano/kephasgate/event"
	"github.com/luciancaetano/kephasgate/internal/cache"
	"github.com/luciancaetano/kephasgate/internal/gateway"
	"github.com/luciancaetano/kephasgate/internal/metrics"
	"github.com/luciancaetano/kephasgate/internal/paginate"
	"github.com/luciancaetano/kephasgate/internal/pipeline"
	"github.com/luciancaetano/kephasgate/internal/ratelimit"
	"github.com/luciancaetano/kephasgate/internal/rest"
)

var (
	ErrInvalidConfig = errors.New("gate: invalid config")
	ErrInvalidLimit  = errors.New("gate: limit must be positive")
	ErrStarted       = errors.New(kephasgate.ErrClientAlreadyRunning)
)

// Unlimited is the limit that reads a collection to its end.
const Unlimited = math.MaxInt

var _ kephasgate.Client = (*Client)(nil)

// Client is a sharded gateway client with a shared cache.
type Client struct {
	logger    *slog.Logger
	store     kephasgate.Cache
	rest      *rest.Client
	manager   *gateway.Manager
	processor *pipeline.Processor
	sink      *pipeline.Sink
	dispatch  []chan gateway.Dispatch
	started   atomic.Bool
}

// New validates cfg and builds an idle client. No connection is made before
// Start.
//
// Example:
//
//	client, err := gate.New(gate.Config{
//	    Token:   token,
//	    Shards:  2,
//	    Intents: gate.DefaultIntents,
//	})
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidConfig)
	}
	if cfg.Shards == 0 {
		cfg.Shards = 1
	}
	if cfg.Shards < 0 {
		return nil, fmt.Errorf("%w: shard count %d", ErrInvalidConfig, cfg.Shards)
	}
	if cfg.EventBuffer == 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	if cfg.EventBuffer < 0 {
		return nil, fmt.Errorf("%w: negative event buffer", ErrInvalidConfig)
	}
	if cfg.IdentifyWindow == 0 {
		cfg.IdentifyWindow = ratelimit.IdentifyPolicy.Window
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m, err := metrics.New(cfg.Registerer)
	if err != nil {
		return nil, err
	}
	store := cfg.Cache
	if store == nil {
		store = cache.NewMemory()
	}

	identify, err := ratelimit.New(
		ratelimit.WithIdentifyPolicy(ratelimit.Policy{Capacity: 1, Window: cfg.IdentifyWindow}),
		ratelimit.WithWaitObserver(m.Wait),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	restClient, err := rest.NewClient(rest.Config{
		Token:      cfg.Token,
		BaseURL:    cfg.RestBaseURL,
		HTTPClient: cfg.HTTPClient,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
		Metrics:    m,
	})
	if err != nil {
		return nil, err
	}

	sink := pipeline.NewSink(cfg.EventBuffer, cfg.Overflow, logger, m)
	processor, err := pipeline.New(pipeline.Config{Cache: store, Sink: sink, Logger: logger, Metrics: m})
	if err != nil {
		return nil, err
	}

	c := &Client{
		logger:    logger.With("component", "client"),
		store:     store,
		rest:      restClient,
		processor: processor,
		sink:      sink,
	}
	for range cfg.Shards {
		c.dispatch = append(c.dispatch, make(chan gateway.Dispatch, cfg.EventBuffer))
	}

	c.manager, err = gateway.NewManager(gateway.ManagerConfig{
		Session: gateway.SessionConfig{
			Token:             cfg.Token,
			URL:               cfg.GatewayURL,
			ShardCount:        cfg.Shards,
			Intents:           cfg.Intents,
			LargeThreshold:    cfg.LargeThreshold,
			Presence:          cfg.Presence,
			Dialer:            gateway.WebsocketDialer{},
			IdentifyLimiter:   identify,
			MaxConcurrency:    cfg.IdentifyConcurrency,
			HelloTimeout:      cfg.HelloTimeout,
			CommandsPerMinute: cfg.CommandsPerMinute,
			Logger:            logger,
			Metrics:           m,
		},
		Sink: func(shardID int) chan<- gateway.Dispatch {
			return c.dispatch[shardID]
		},
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Start connects every shard and runs one pipeline worker per shard until
// ctx is cancelled or a shard fails fatally. The event channel is closed
// when Start returns. A client can be started once.
func (c *Client) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrStarted
	}
	defer c.sink.Close()

	c.logger.Info("Starting client", "shards", len(c.dispatch))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.manager.Run(ctx)
	})
	for _, ch := range c.dispatch {
		g.Go(func() error {
			return c.processor.Run(ctx, ch)
		})
	}

	err := g.Wait()
	if err != nil {
		c.logger.Error("Client stopped", "error", err)
	} else {
		c.logger.Info("Client stopped")
	}
	return err
}

// Events returns the domain event stream.
func (c *Client) Events() <-chan event.Event {
	return c.sink.Events()
}

// Cache returns the entity cache shared by every shard.
func (c *Client) Cache() kephasgate.Cache {
	return c.store
}

// Rest returns the REST client.
func (c *Client) Rest() *rest.Client {
	return c.rest
}

// State returns the session state of a shard.
func (c *Client) State(shardID int) (State, bool) {
	s, ok := c.manager.Session(shardID)
	if !ok {
		return gateway.StateDisconnected, false
	}
	return s.State(), true
}

// ShardFor returns the shard receiving the events of a guild.
func (c *Client) ShardFor(guildID entity.ID) int {
	return c.manager.ShardFor(guildID)
}

// Send writes a gateway command on the shard that owns guildID.
func (c *Client) Send(ctx context.Context, guildID entity.ID, op kephasgate.Opcode, payload json.RawMessage) error {
	return c.manager.Send(ctx, c.manager.ShardFor(guildID), op, payload)
}

// RequestGuildMembers asks for members of a guild. They arrive as
// GUILD_MEMBERS_CHUNK events and are cached by the pipeline.
func (c *Client) RequestGuildMembers(ctx context.Context, req MemberRequest) error {
	if req.Query == nil && len(req.UserIDs) == 0 {
		all := ""
		req.Query = &all
	}
	return c.manager.Send(ctx, c.manager.ShardFor(req.GuildID), kephasgate.OpRequestGuildMembers, req)
}

// UpdatePresence sets the presence on every shard.
func (c *Client) UpdatePresence(ctx context.Context, p Presence) error {
	if p.Activities == nil {
		p.Activities = []Activity{}
	}
	var errs []error
	for _, s := range c.manager.Sessions() {
		if err := s.Send(ctx, kephasgate.OpPresenceUpdate, p); err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", s.ShardID(), err))
		}
	}
	return errors.Join(errs...)
}

func messageID(m entity.Message) entity.ID { return m.ID }
func memberID(m entity.Member) entity.ID   { return m.UserID }

// pageSize requests no more than limit items per page.
func pageSize(limit int) int {
	return min(limit, paginate.MaxPageSize)
}

// page validates limit and p before any request is made.
func page[T any](ctx context.Context, p paginate.Params[T], limit int) (iter.Seq2[T, error], error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	p.PageSize = pageSize(limit)
	p.Limit = limit
	pager, err := paginate.New(p)
	if err != nil {
		return nil, err
	}
	return pager.All(ctx), nil
}

// MessagesBefore lazily reads up to limit messages of a channel, starting
// at the youngest message older than before. Pass Unlimited to read the
// whole history.
//
// Example:
//
//	msgs, err := client.MessagesBefore(ctx, channelID, entity.MaxID, 500)
//	if err != nil {
//	    return err
//	}
//	for msg, err := range msgs {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(msg.Content)
//	}
func (c *Client) MessagesBefore(ctx context.Context, channelID, before entity.ID, limit int) (iter.Seq2[entity.Message, error], error) {
	p := paginate.Backwards(messageID, c.rest.MessageFetcher(channelID))
	p.Start = before
	return page(ctx, p, limit)
}

// MessagesAfter lazily reads up to limit messages of a channel, starting at
// the oldest message younger than after.
func (c *Client) MessagesAfter(ctx context.Context, channelID, after entity.ID, limit int) (iter.Seq2[entity.Message, error], error) {
	p := paginate.Forwards(messageID, c.rest.MessageFetcher(channelID))
	p.Start = after
	return page(ctx, p, limit)
}

// MessagesAround reads up to limit messages centred on around in one
// request.
func (c *Client) MessagesAround(ctx context.Context, channelID, around entity.ID, limit int) (iter.Seq2[entity.Message, error], error) {
	return page(ctx, paginate.Params[entity.Message]{
		Start:     around,
		Direction: paginate.Around,
		Key:       messageID,
		Fetch:     c.rest.MessageFetcher(channelID),
	}, limit)
}

// Members lazily lists up to limit members of a guild by ascending user id.
func (c *Client) Members(ctx context.Context, guildID entity.ID, limit int) (iter.Seq2[entity.Member, error], error) {
	return page(ctx, paginate.Forwards(memberID, c.rest.MemberFetcher(guildID)), limit)
}

// Guild returns a guild from the cache, or from REST when it is not cached
// or unavailable.
func (c *Client) Guild(ctx context.Context, guildID entity.ID) (entity.Guild, bool, error) {
	g, ok, err := cache.Get[entity.Guild](ctx, c.store, entity.Key{ID: guildID})
	if err != nil || (ok && !g.Unavailable) {
		return g, ok, err
	}
	return c.rest.GetGuild(ctx, guildID)
}

// Channel returns a channel from the cache or from REST.
func (c *Client) Channel(ctx context.Context, channelID entity.ID) (entity.Channel, bool, error) {
	return lookup(ctx, c.store, entity.Key{ID: channelID}, func() (entity.Channel, bool, error) {
		return c.rest.GetChannel(ctx, channelID)
	})
}

// Member returns a member from the cache or from REST.
func (c *Client) Member(ctx context.Context, guildID, userID entity.ID) (entity.Member, bool, error) {
	return lookup(ctx, c.store, entity.Key{Parent: guildID, ID: userID}, func() (entity.Member, bool, error) {
		return c.rest.GetMember(ctx, guildID, userID)
	})
}

// User returns a user from the cache or from REST.
func (c *Client) User(ctx context.Context, userID entity.ID) (entity.User, bool, error) {
	return lookup(ctx, c.store, entity.Key{ID: userID}, func() (entity.User, bool, error) {
		return c.rest.GetUser(ctx, userID)
	})
}

func lookup[T entity.Entity](ctx context.Context, store kephasgate.Cache, key entity.Key, fetch func() (T, bool, error)) (T, bool, error) {
	v, ok, err := cache.Get[T](ctx, store, key)
	if err != nil || ok {
		return v, ok, err
	}
	return fetch()
}
