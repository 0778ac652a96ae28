package gateway

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/luciancaetano/kephasgate"
	"github.com/luciancaetano/kephasgate/entity"
	"github.com/luciancaetano/kephasgate/internal/gatewaytest"
	"github.com/luciancaetano/kephasgate/internal/protocol"
	"github.com/luciancaetano/kephasgate/internal/ratelimit"
)

// TestShardFor tests the guild to shard mapping
func TestShardFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		guild entity.ID
		count int
		want  int
	}{
		{0, 1, 0},
		{5 << 22, 2, 1},
		{4 << 22, 2, 0},
		{(7 << 22) | 12345, 4, 3},
		{175928847299117063, 16, int((uint64(175928847299117063) >> 22) % 16)},
		{99, 0, 0},
	}

	for _, tt := range tests {
		if got := ShardFor(tt.guild, tt.count); got != tt.want {
			t.Errorf("ShardFor(%d, %d) = %d, want %d", tt.guild, tt.count, got, tt.want)
		}
	}
}

func newTestManager(t *testing.T, server *gatewaytest.Server, shards int) (*Manager, *collector, context.CancelFunc, chan error) {
	t.Helper()

	identify, err := ratelimit.New(ratelimit.WithPolicy("identify:", ratelimit.Policy{Capacity: 1, Window: 20 * time.Millisecond}))
	if err != nil {
		t.Fatalf("ratelimit.New() failed: %v", err)
	}

	sink := make(chan Dispatch, 64)
	cfg := testConfig(server.URL(), sink)
	cfg.ShardCount = shards
	cfg.IdentifyLimiter = identify

	m, err := NewManager(ManagerConfig{Session: cfg})
	if err != nil {
		t.Fatalf("NewManager() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	c := collect(ctx, sink)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(cancel)
	return m, c, cancel, done
}

// TestManagerRunsAllShards tests that every shard identifies with its own shard pair
func TestManagerRunsAllShards(t *testing.T) {
	t.Parallel()

	server := gatewaytest.New(gatewaytest.Config{})
	defer server.Close()

	m, sink, cancel, done := newTestManager(t, server, 2)
	waitFor(t, "two READY", func() bool {
		return sink.count(protocol.EventReady) == 2
	})

	var shards []int
	for _, id := range server.Identifies() {
		if id.Shard[1] != 2 {
			t.Errorf("identify shard count = %d, want 2", id.Shard[1])
		}
		shards = append(shards, id.Shard[0])
	}
	sort.Ints(shards)
	if len(shards) != 2 || shards[0] != 0 || shards[1] != 1 {
		t.Errorf("identified shards = %v, want [0 1]", shards)
	}

	if _, ok := m.Session(2); ok {
		t.Error("Session(2) should not exist")
	}
	if got := m.ShardFor(5 << 22); got != 1 {
		t.Errorf("ShardFor() = %d, want 1", got)
	}
	if err := m.Send(context.Background(), 3, kephasgate.OpPresenceUpdate, nil); err == nil {
		t.Error("Send() to a missing shard should fail")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop")
	}
	for _, s := range m.Sessions() {
		if s.State() != StateClosed {
			t.Errorf("shard %d state = %v, want closed", s.ShardID(), s.State())
		}
	}
}

// TestManagerFatalStopsAll tests that a fatal shard error stops the other shards
func TestManagerFatalStopsAll(t *testing.T) {
	t.Parallel()

	server := gatewaytest.New(gatewaytest.Config{})
	defer server.Close()

	m, sink, _, done := newTestManager(t, server, 2)
	waitFor(t, "two READY", func() bool {
		return sink.count(protocol.EventReady) == 2
	})

	if err := server.CloseConn(kephasgate.CloseAuthenticationFailed, "bad token"); err != nil {
		t.Fatalf("CloseConn() failed: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrAuthenticationFailed) {
			t.Errorf("Run() = %v, want ErrAuthenticationFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop")
	}
	for _, s := range m.Sessions() {
		if s.State() != StateClosed {
			t.Errorf("shard %d state = %v, want closed", s.ShardID(), s.State())
		}
	}
}

// TestNewManagerValidation tests that invalid shard counts are rejected
func TestNewManagerValidation(t *testing.T) {
	t.Parallel()

	cfg := testConfig("ws://example.invalid", make(chan Dispatch))
	cfg.ShardCount = 0
	if _, err := NewManager(ManagerConfig{Session: cfg}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewManager() error = %v, want ErrInvalidConfig", err)
	}
}
