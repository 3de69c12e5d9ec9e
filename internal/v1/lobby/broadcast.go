package lobby

import (
	"sync"

	"github.com/boardgamehub/relay/internal/v1/metrics"
)

// Broadcaster fans host frames out to every subscribed client connection.
// Delivery is per-subscriber in-order. A subscriber whose buffer is full is
// disconnected rather than served stale state: its channel is closed and
// the subscription is marked lagged. This keeps the relay's memory bound.
type Broadcaster struct {
	mu       sync.Mutex
	subs     map[uint64]*Subscription
	nextID   uint64
	capacity int
	closed   bool
}

// Subscription is one client's view of the room broadcast. Read frames from
// C; a closed C means the broadcast ended — check Lagged to learn whether
// this subscriber fell behind or the whole channel shut down.
type Subscription struct {
	C <-chan []byte

	ch     chan []byte
	b      *Broadcaster
	id     uint64
	lagged bool
}

// NewBroadcaster creates a fan-out channel whose subscribers each buffer up
// to capacity frames.
func NewBroadcaster(capacity int) *Broadcaster {
	return &Broadcaster{
		subs:     make(map[uint64]*Subscription),
		capacity: capacity,
	}
}

// Subscribe registers a new receiver. Subscribing to a closed broadcaster
// yields a subscription whose channel is already closed.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan []byte, b.capacity)
	sub := &Subscription{C: ch, ch: ch, b: b, id: b.nextID}
	b.nextID++

	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Send delivers a frame to every subscriber and returns how many received
// it. Zero subscribers is not an error; the caller decides whether to warn.
// Subscribers with a full buffer are dropped.
func (b *Broadcaster) Send(frame []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0
	}

	delivered := 0
	for id, sub := range b.subs {
		select {
		case sub.ch <- frame:
			delivered++
		default:
			// Laggards are disconnected, never buffered without bound.
			sub.lagged = true
			close(sub.ch)
			delete(b.subs, id)
			metrics.BroadcastLagDisconnects.Inc()
		}
	}
	return delivered
}

// SubscriberCount reports the current number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close shuts the broadcast down, closing every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Lagged reports whether this subscription was dropped for falling behind.
func (s *Subscription) Lagged() bool {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return s.lagged
}

// Cancel removes the subscription. Safe to call more than once and safe to
// call after the subscriber was dropped for lagging.
func (s *Subscription) Cancel() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	if _, ok := s.b.subs[s.id]; !ok {
		return
	}
	close(s.ch)
	delete(s.b.subs, s.id)
}
