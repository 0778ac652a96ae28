// Package event defines the domain events published by the client.
//
// Every event is produced exactly once from one gateway frame and is never
// modified afterwards. Events that describe a cache change carry the snapshot
// before the change (nil when nothing was cached) and after it.
//
// Consumers switch on the concrete type:
//
//	switch ev := ev.(type) {
//	case *event.MemberUpdate:
//	    ...
//	case *event.MessageCreate:
//	    ...
//	}
package event

import (
	"time"

	"github.com/luciancaetano/kephasgate/entity"
)

// Event is implemented by every domain event type in this package.
type Event interface {
	// Name returns the dispatch name of the frame the event came from.
	Name() string
	// Shard returns the index of the shard that received the frame.
	Shard() int
	// Metadata returns the frame metadata.
	Metadata() Meta
}

// Snapshotter is implemented by events that describe a cache change.
type Snapshotter interface {
	Event
	// Change returns the snapshots before and after the change. Old is nil
	// when the entity was not cached; New is nil when the entity was removed.
	Change() entity.Change
}

// Meta carries the frame metadata shared by every event.
type Meta struct {
	ShardID    int
	Sequence   int64
	ReceivedAt time.Time
}

func (m Meta) Shard() int     { return m.ShardID }
func (m Meta) Metadata() Meta { return m }

func optional[T entity.Entity](v *T) entity.Entity {
	if v == nil {
		return nil
	}
	return *v
}
