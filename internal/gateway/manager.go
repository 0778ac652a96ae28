package gateway

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/luciancaetano/kephasgate"
	"github.com/luciancaetano/kephasgate/entity"
	"github.com/luciancaetano/kephasgate/internal/ratelimit"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Session is the template of every shard's session. ShardID is set per
	// shard; ShardCount is the total number of shards.
	Session SessionConfig

	// Sink returns the sink of a shard. When nil every shard uses Session.Sink.
	Sink func(shardID int) chan<- Dispatch
}

// Manager runs the sessions of all shards of one token.
type Manager struct {
	count    int
	sessions []*Session
}

// NewManager creates one session per shard. The sessions share one identify
// limiter and one dialer.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	tmpl := cfg.Session
	if tmpl.ShardCount < 1 {
		return nil, fmt.Errorf("%w: shard count %d", ErrInvalidConfig, tmpl.ShardCount)
	}
	if tmpl.IdentifyLimiter == nil {
		l, err := ratelimit.New()
		if err != nil {
			return nil, err
		}
		tmpl.IdentifyLimiter = l
	}

	m := &Manager{count: tmpl.ShardCount}
	for id := 0; id < tmpl.ShardCount; id++ {
		sc := tmpl
		sc.ShardID = id
		if cfg.Sink != nil {
			sc.Sink = cfg.Sink(id)
		}
		s, err := NewSession(sc)
		if err != nil {
			return nil, fmt.Errorf("shard %d: %w", id, err)
		}
		m.sessions = append(m.sessions, s)
	}
	return m, nil
}

// Run runs every session until ctx is cancelled or one of them fails, which
// stops the others.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range m.sessions {
		g.Go(func() error {
			return s.Run(ctx)
		})
	}
	return g.Wait()
}

// Sessions returns the sessions ordered by shard id.
func (m *Manager) Sessions() []*Session {
	return m.sessions
}

// Session returns the session of a shard.
func (m *Manager) Session(shardID int) (*Session, bool) {
	if shardID < 0 || shardID >= len(m.sessions) {
		return nil, false
	}
	return m.sessions[shardID], true
}

// Send sends an application command on a shard.
func (m *Manager) Send(ctx context.Context, shardID int, op kephasgate.Opcode, payload any) error {
	s, ok := m.Session(shardID)
	if !ok {
		return fmt.Errorf("no shard %d", shardID)
	}
	return s.Send(ctx, op, payload)
}

// ShardFor returns the shard receiving the events of a guild.
func (m *Manager) ShardFor(guildID entity.ID) int {
	return ShardFor(guildID, m.count)
}

// ShardFor returns the shard of a guild among count shards.
func ShardFor(guildID entity.ID, count int) int {
	if count < 1 {
		return 0
	}
	return int((uint64(guildID) >> 22) % uint64(count))
}
