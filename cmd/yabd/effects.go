package main

import (
	"context"
	"log/slog"
)

// SnapshotSink consumes controller snapshots. Sinks are called from the
// publisher goroutine only, one snapshot at a time.
type SnapshotSink interface {
	PublishSnapshot(ctx context.Context, snap StateSnapshot)
}

// runPublisher fans controller snapshots out to every sink until ctx is
// canceled or src is closed.
func runPublisher(ctx context.Context, src <-chan StateSnapshot, logger *slog.Logger, sinks ...SnapshotSink) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-src:
			if !ok {
				logger.Debug("snapshot publisher stopping (source ended)")
				return
			}
			for _, s := range sinks {
				s.PublishSnapshot(ctx, snap)
			}
		}
	}
}

// chanSink forwards snapshots to a channel without blocking.
type chanSink struct {
	ch     chan<- StateSnapshot
	name   string
	logger *slog.Logger
}

func (s chanSink) PublishSnapshot(ctx context.Context, snap StateSnapshot) {
	select {
	case s.ch <- snap:
	default:
		s.logger.Debug("snapshot sink full, dropping snapshot", "sink", s.name)
	}
}

// settledSink passes on state changes and the end of a ramp, but not the
// intermediate ramp steps. Remote sinks use it so a ramp does not turn into
// a publish per tick.
type settledSink struct {
	next SnapshotSink
	prev StateSnapshot
	have bool
}

func newSettledSink(next SnapshotSink) *settledSink {
	return &settledSink{next: next}
}

func (s *settledSink) PublishSnapshot(ctx context.Context, snap StateSnapshot) {
	skip := s.have && snap.Ramping && s.prev.Ramping && onlyBrightnessMoved(s.prev, snap)
	s.prev, s.have = snap, true
	if skip {
		return
	}
	s.next.PublishSnapshot(ctx, snap)
}
