package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Topic names what happened. Subscribers filter on it.
type Topic string

const (
	NotificationAdded Topic = "notification.added"
	HistoryAdded      Topic = "history.added"
	EventSuppressed   Topic = "event.suppressed"
	TickCompleted     Topic = "tick.completed"
	StorageDegraded   Topic = "storage.degraded"
	ViewerChanged     Topic = "viewer.changed"
)

// Event is an in-process signal. Data should be small and JSON-serializable.
//
//   - Publish never blocks.
//   - Subscribers get a buffered channel; when it is full the event is
//     dropped for that subscriber and counted.
type Event struct {
	Topic Topic     `json:"topic"`
	Time  time.Time `json:"time"`
	Data  any       `json:"data,omitempty"`
}

type Bus interface {
	Publish(e Event)
	// Subscribe delivers every event whose topic is in topics, or all events
	// when topics is empty.
	Subscribe(buffer int, topics ...Topic) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch     chan Event
	topics map[Topic]struct{}
}

func (s *sub) wants(t Topic) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[t]
	return ok
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*sub
	seq     atomic.Uint64
	dropped atomic.Uint64
}

// Publish sends while holding the read lock. Sends never block, and
// unsubscribe closes a channel only under the write lock.
func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Topic) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, topics ...Topic) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s := &sub{ch: make(chan Event, buffer)}
	if len(topics) > 0 {
		s.topics = make(map[Topic]struct{}, len(topics))
		for _, t := range topics {
			s.topics[t] = struct{}{}
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
