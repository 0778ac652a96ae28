// Package kephasgate provides a sharded client for a session-oriented real-time gateway
// paired with a rate-limited REST API.
//
// The client keeps a local cache of the remote object graph (guilds, channels, members,
// roles, emojis, presences, invites, users and messages) up to date from the gateway's
// push frames, and publishes each change as a domain event carrying the snapshot before
// and after the change.
//
// # Architecture
//
// Frames travel through four stages:
//
//	transport -> session (hello, identify/resume, heartbeat) -> pipeline (cache + events) -> Events()
//
// Each shard owns one session and one pipeline worker, so frames of a shard are processed
// strictly in order while shards run in parallel. Shards share the cache and the identify
// rate limiter, both safe for concurrent use.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/kephasgate/gate"
//	)
//
//	client, err := gate.New(gate.Config{
//	    Token:   os.Getenv("KEPHASGATE_TOKEN"),
//	    Shards:  1,
//	    Intents: gate.DefaultIntents,
//	})
//
//	go func() {
//	    for ev := range client.Events() {
//	        log.Printf("%s on shard %d", ev.Name(), ev.Shard())
//	    }
//	}()
//
//	client.Start(ctx)
//
// # Frame Format
//
// Gateway frames are JSON objects:
//
//	{"op": 0, "s": 42, "t": "GUILD_CREATE", "d": {...}}
//
// Outbound commands are limited to 4096 bytes. Inbound frames are limited to 16MB.
//
// # Sessions
//
// A session identifies after taking an identify permit that is shared by every shard
// using the same token. After a transport failure it reconnects and resumes with the last
// session id and sequence number. When the remote side declares the session invalid, the
// session id is cleared and the next connection identifies again.
//
// Heartbeats are sent at the interval announced by hello. A heartbeat that is still
// unacknowledged at the next tick marks the connection dead.
//
// # Rate Limiting
//
// Identify attempts and REST calls go through keyed window buckets:
//
//	// REST bucket per route, refilled from the X-RateLimit headers
//	// identify bucket shared across shards, 1 permit per 5 seconds
//
// Gateway commands sent by the application are limited per session to 120 per minute.
//
// # Pagination
//
// Large collections (messages, members) are read lazily through cursor pagination.
// Limits must be positive; gate.Unlimited reads to the end:
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
//
// # Important
//
//   - The cache hands out copies; changing a snapshot never changes the cached entity
//   - Unknown dispatch events are dropped silently
//   - A frame that fails to process is logged and skipped without stopping the shard
package kephasgate
