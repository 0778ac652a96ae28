package kephasgate

import (
	"context"
	"encoding/json"

	"github.com/luciancaetano/kephasgate/entity"
	"github.com/luciancaetano/kephasgate/event"
)

// Client defines a sharded gateway client backed by a shared entity cache.
//
// The client keeps one session per shard. Frames received on a shard are
// applied to the cache and published as domain events, in receive order,
// on the channel returned by Events.
//
// Example usage:
//
//	import "github.com/luciancaetano/kephasgate/gate"
//
//	client, err := gate.New(gate.Config{Token: token, Shards: 2})
//	if err != nil {
//	    return err
//	}
//
//	go func() {
//	    for ev := range client.Events() {
//	        if up, ok := ev.(*event.MemberUpdate); ok && up.Old != nil {
//	            log.Printf("nick %q -> %q", up.Old.Nick, up.New.Nick)
//	        }
//	    }
//	}()
//
//	client.Start(ctx)
type Client interface {
	// Start connects every shard and processes frames until the context is
	// cancelled or a shard hits a fatal fault.
	//
	// Transient transport faults are recovered by resuming and never surface
	// here. Returns nil when the context is cancelled.
	Start(ctx context.Context) error

	// Events returns the domain event stream.
	//
	// The channel is closed after Start returns. Events of one shard arrive
	// in the order their frames were received.
	Events() <-chan event.Event

	// Cache returns the entity cache shared by every shard.
	Cache() Cache

	// Send writes a gateway command on the shard that owns guildID.
	//
	// Commands pass through the per-session outbound limiter and may block
	// until a slot is available or the context is cancelled.
	//
	// Example:
	//
	//	client.Send(ctx, guildID, kephasgate.OpRequestGuildMembers, payload)
	Send(ctx context.Context, guildID entity.ID, op Opcode, payload json.RawMessage) error
}

// Cache is the boundary of the entity store.
//
// Implementations must be safe for concurrent use by every shard. Each
// mutation is atomic per key: Update runs its merge function while the key is
// held, so two shards touching the same entity never interleave a
// read-modify-write.
//
// Snapshots returned by the cache are copies; callers may keep them after the
// cache has moved on.
type Cache interface {
	// Get returns the snapshot stored under key, or false when absent.
	Get(ctx context.Context, kind entity.Kind, key entity.Key) (entity.Entity, bool, error)

	// Query returns every snapshot of kind accepted by match. A nil match
	// accepts all.
	Query(ctx context.Context, kind entity.Kind, match func(entity.Entity) bool) ([]entity.Entity, error)

	// Put inserts or replaces a snapshot and returns the replaced one.
	Put(ctx context.Context, e entity.Entity) (entity.Change, error)

	// PutAll inserts or replaces a batch of snapshots.
	PutAll(ctx context.Context, es []entity.Entity) error

	// Update replaces every snapshot of kind accepted by match with the
	// result of merge, returning the before/after pairs.
	Update(ctx context.Context, kind entity.Kind, match func(entity.Entity) bool, merge func(entity.Entity) entity.Entity) ([]entity.Change, error)

	// UpdateKey merges the snapshot stored under key. merge receives nil when
	// nothing is cached; returning nil leaves the key absent.
	UpdateKey(ctx context.Context, kind entity.Kind, key entity.Key, merge func(entity.Entity) entity.Entity) (entity.Change, error)

	// Remove deletes every snapshot of kind accepted by match and returns the
	// removed snapshots.
	Remove(ctx context.Context, kind entity.Kind, match func(entity.Entity) bool) ([]entity.Entity, error)
}
