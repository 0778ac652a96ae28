package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/luciancaetano/kephasgate/event"
	"github.com/luciancaetano/kephasgate/internal/metrics"
)

// Overflow selects what Publish does when the sink buffer is full.
type Overflow int

const (
	// OverflowBlock makes Publish wait for room or for its context.
	// A slow consumer then slows down the shards feeding the sink.
	OverflowBlock Overflow = iota
	// OverflowDropNewest discards the event being published. Drops are
	// counted and logged.
	OverflowDropNewest
)

func (o Overflow) String() string {
	switch o {
	case OverflowBlock:
		return "block"
	case OverflowDropNewest:
		return "drop-newest"
	default:
		return fmt.Sprintf("Overflow(%d)", int(o))
	}
}

// ParseOverflow parses the names returned by Overflow.String.
func ParseOverflow(s string) (Overflow, error) {
	switch s {
	case "block", "":
		return OverflowBlock, nil
	case "drop-newest":
		return OverflowDropNewest, nil
	}
	return 0, fmt.Errorf("unknown overflow policy %q", s)
}

// Sink delivers domain events to one consumer through a buffered channel.
type Sink struct {
	ch       chan event.Event
	overflow Overflow
	logger   *slog.Logger
	metrics  *metrics.Metrics

	closeOnce sync.Once
}

// NewSink creates a sink buffering size events.
func NewSink(size int, overflow Overflow, logger *slog.Logger, m *metrics.Metrics) *Sink {
	if size < 0 {
		size = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		ch:       make(chan event.Event, size),
		overflow: overflow,
		logger:   logger.With("component", "sink"),
		metrics:  m,
	}
}

// Events returns the channel consumers read from. It is closed by Close.
func (s *Sink) Events() <-chan event.Event {
	return s.ch
}

// Publish hands ev to the consumer according to the overflow policy.
// It returns false when the event was dropped.
func (s *Sink) Publish(ctx context.Context, ev event.Event) (bool, error) {
	if s.overflow == OverflowDropNewest {
		select {
		case s.ch <- ev:
			return true, nil
		default:
			s.metrics.Dropped()
			s.logger.Warn("Event dropped, sink full",
				"event", ev.Name(),
				"shard", ev.Shard(),
				"buffer", cap(s.ch))
			return false, nil
		}
	}

	select {
	case s.ch <- ev:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Close closes the events channel. Publish must not be called afterwards.
func (s *Sink) Close() {
	s.closeOnce.Do(func() {
		close(s.ch)
	})
}
