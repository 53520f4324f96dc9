// ABOUTME: In-memory fan-out of tunnel status transitions
// ABOUTME: Each subscriber has its own unbounded queue so no transition is ever dropped

package tunnel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// statusBroadcaster delivers every published Status to every subscriber in
// publication order. Slow subscribers queue instead of losing transitions.
type statusBroadcaster struct {
	mu     sync.Mutex
	subs   map[string]*subscriber
	done   chan struct{}
	closed bool
	logger *slog.Logger
}

type subscriber struct {
	mu     sync.Mutex
	queue  []Status
	notify chan struct{}
	out    chan Status
}

func newStatusBroadcaster(logger *slog.Logger) *statusBroadcaster {
	return &statusBroadcaster{
		subs:   make(map[string]*subscriber),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// subscribe registers a subscriber whose first delivery is initial. The
// channel is closed when ctx is cancelled or the broadcaster is closed.
func (b *statusBroadcaster) subscribe(ctx context.Context, initial Status) <-chan Status {
	s := &subscriber{
		notify: make(chan struct{}, 1),
		out:    make(chan Status),
	}
	s.push(initial)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.out)
		return s.out
	}
	subID := uuid.New().String()
	b.subs[subID] = s
	b.mu.Unlock()

	b.logger.Debug("status subscriber added", "sub_id", subID)
	go b.pump(ctx, subID, s)
	return s.out
}

// publish queues st for every subscriber. It never blocks on a subscriber.
func (b *statusBroadcaster) publish(st Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s.push(st)
	}
}

func (s *subscriber) push(st Status) {
	s.mu.Lock()
	s.queue = append(s.queue, st)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) drain() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.queue
	s.queue = nil
	return batch
}

// pump moves queued statuses to the subscriber channel in order.
func (b *statusBroadcaster) pump(ctx context.Context, subID string, s *subscriber) {
	defer func() {
		b.mu.Lock()
		delete(b.subs, subID)
		b.mu.Unlock()
		close(s.out)
		b.logger.Debug("status subscriber removed", "sub_id", subID)
	}()

	for {
		for _, st := range s.drain() {
			select {
			case s.out <- st:
			case <-ctx.Done():
				return
			case <-b.done:
				return
			}
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return
		case <-b.done:
			return
		}
	}
}

func (b *statusBroadcaster) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// close stops all subscribers and closes their channels.
func (b *statusBroadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}
