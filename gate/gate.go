// Package gate wires sessions, pipelines, the cache and the REST client into
// one kephasgate.Client.
package gate

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luciancaetano/kephasgate"
	"github.com/luciancaetano/kephasgate/internal/cache"
	"github.com/luciancaetano/kephasgate/internal/cache/sqlstore"
	"github.com/luciancaetano/kephasgate/internal/gateway"
	"github.com/luciancaetano/kephasgate/internal/pipeline"
	"github.com/luciancaetano/kephasgate/internal/protocol"
)

type Overflow = pipeline.Overflow
type State = gateway.State
type Presence = protocol.UpdatePresence
type Activity = protocol.Activity
type MemberRequest = protocol.RequestGuildMembers

const (
	OverflowBlock      = pipeline.OverflowBlock
	OverflowDropNewest = pipeline.OverflowDropNewest
)

// DefaultIntents receive every dispatch the cache is built from except
// privileged presences and message content.
const DefaultIntents = protocol.IntentGuilds |
	protocol.IntentGuildMembers |
	protocol.IntentGuildBans |
	protocol.IntentGuildEmojis |
	protocol.IntentGuildInvites |
	protocol.IntentGuildMessages |
	protocol.IntentDirectMessages

// DefaultEventBuffer is the size of the domain event buffer.
const DefaultEventBuffer = 256

// Config configures a Client. Only Token is required.
type Config struct {
	Token   string
	Shards  int // defaults to 1
	Intents int

	GatewayURL     string // defaults to the public gateway
	RestBaseURL    string // defaults to the public REST API
	LargeThreshold int
	Presence       *Presence

	// IdentifyConcurrency is the max_concurrency of the token. Shards whose
	// ids are equal modulo IdentifyConcurrency share one identify bucket.
	IdentifyConcurrency int
	// IdentifyWindow is the time between two identifies of one bucket.
	IdentifyWindow    time.Duration
	HelloTimeout      time.Duration
	CommandsPerMinute int
	MaxRetries        int

	EventBuffer int // defaults to DefaultEventBuffer
	Overflow    Overflow

	// Cache stores the entity snapshots. An in-memory cache is used when nil.
	Cache      kephasgate.Cache
	HTTPClient *http.Client

	// Registerer receives the Prometheus collectors. Nil disables metrics.
	Registerer prometheus.Registerer
	Logger     *slog.Logger
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() kephasgate.Cache {
	return cache.NewMemory()
}

// SQLiteCache is a cache persisted in a SQLite database file.
type SQLiteCache = sqlstore.Store

// OpenSQLiteCache opens or creates the cache database at path. Snapshots
// written by an earlier run are kept; call Clear to start empty.
func OpenSQLiteCache(ctx context.Context, path string) (*SQLiteCache, error) {
	return sqlstore.Open(ctx, path)
}

// ParseOverflow parses "block" or "drop-newest".
func ParseOverflow(s string) (Overflow, error) {
	return pipeline.ParseOverflow(s)
}
