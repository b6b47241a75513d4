package events

import (
	"sync"
	"sync/atomic"

	"janus/core/types"
)

const defaultSubscriptionBuffer = 64

// Feed delivers typed payloads to live subscribers. Slow subscribers never
// block the emitter: payloads that do not fit a subscriber's buffer are
// dropped and counted.
type Feed struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	dropped atomic.Uint64
}

// Subscription is a live view on a Feed.
type Subscription struct {
	id     uint64
	feed   *Feed
	ch     chan *types.Event
	once   sync.Once
	closed chan struct{}
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a subscriber with the provided buffer size.
func (f *Feed) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	sub := &Subscription{
		id:     f.nextID,
		feed:   f,
		ch:     make(chan *types.Event, buffer),
		closed: make(chan struct{}),
	}
	f.subs[sub.id] = sub
	return sub
}

// Emit implements Emitter. Events without a typed payload are ignored.
func (f *Feed) Emit(evt Event) {
	payload, ok := PayloadOf(evt)
	if !ok {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, sub := range f.subs {
		select {
		case sub.ch <- payload.Clone():
		default:
			f.dropped.Add(1)
		}
	}
}

// Subscribers reports the number of active subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Dropped reports how many payloads were discarded for full buffers.
func (f *Feed) Dropped() uint64 { return f.dropped.Load() }

// C returns the delivery channel. It is closed on Unsubscribe.
func (s *Subscription) C() <-chan *types.Event { return s.ch }

// Done is closed once the subscription is cancelled.
func (s *Subscription) Done() <-chan struct{} { return s.closed }

// Unsubscribe detaches the subscription. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s.id)
		close(s.ch)
		s.feed.mu.Unlock()
		close(s.closed)
	})
}
