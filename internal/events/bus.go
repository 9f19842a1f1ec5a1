package events

import (
	"context"
	"sync"
	"time"
)

// Topic names the collection that changed.
type Topic string

const (
	TopicQueue       Topic = "queue"
	TopicAttachments Topic = "attachments"
)

// Event is one change notification.
type Event struct {
	Sequence  uint64    `json:"seq"`
	Topic     Topic     `json:"topic"`
	Timestamp time.Time `json:"ts"`
}

// Publisher is the narrow surface mutating components depend on.
type Publisher interface {
	Publish(topic Topic) uint64
}

// Bus keeps a bounded history of events and wakes long-poll waiters and
// channel subscribers when new ones arrive.
type Bus struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []Event
	nextSeq  uint64
	subs     map[*Subscription]struct{}
}

// NewBus constructs a bus retaining at most capacity events.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	b := &Bus{capacity: capacity, subs: make(map[*Subscription]struct{})}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Publish records a change on topic and returns its sequence number.
func (b *Bus) Publish(topic Topic) uint64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	b.nextSeq++
	evt := Event{Sequence: b.nextSeq, Topic: topic, Timestamp: time.Now().UTC()}
	if len(b.buffer) == b.capacity {
		copy(b.buffer, b.buffer[1:])
		b.buffer = b.buffer[:b.capacity-1]
	}
	b.buffer = append(b.buffer, evt)
	for sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			sub.dropped++
		}
	}
	b.cond.Broadcast()
	b.mu.Unlock()
	return evt.Sequence
}

// Sequence returns the most recently assigned sequence number.
func (b *Bus) Sequence() uint64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextSeq
}

// Fetch returns events with sequence greater than since. When wait is true,
// Fetch blocks until at least one event is available or ctx ends.
func (b *Bus) Fetch(ctx context.Context, since uint64, wait bool) ([]Event, uint64, error) {
	if b == nil {
		return nil, since, nil
	}

	stop := make(chan struct{})
	defer close(stop)
	if wait && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				b.mu.Lock()
				b.cond.Broadcast()
				b.mu.Unlock()
			case <-stop:
			}
		}()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		events := b.snapshotLocked(since)
		if len(events) > 0 || !wait {
			return events, b.nextSeq, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, b.nextSeq, err
		}
		b.cond.Wait()
	}
}

func (b *Bus) snapshotLocked(since uint64) []Event {
	for i, evt := range b.buffer {
		if evt.Sequence > since {
			out := make([]Event, len(b.buffer)-i)
			copy(out, b.buffer[i:])
			return out
		}
	}
	return nil
}

// Subscription delivers events on a buffered channel.
type Subscription struct {
	bus     *Bus
	ch      chan Event
	dropped int
	once    sync.Once
}

// Subscribe registers a channel subscriber with the given buffer size.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &Subscription{bus: b, ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// C returns the delivery channel. It is closed by Close.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped reports how many events were discarded because the channel was full.
func (s *Subscription) Dropped() int {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.dropped
}

// Close unregisters the subscription.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}

// Subscribers reports how many channel subscriptions are open.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
