// Package bus is the in-process fan-out behind the server-push stream.
// Publishing is best-effort: it never fails, never blocks, and a subscriber
// whose buffer is full simply misses that frame.
package bus

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultBuffer is the per-subscriber queue depth.
const DefaultBuffer = 200

type frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Subscription is one registered consumer queue.
type Subscription struct {
	ch chan []byte
}

// C is the receive side of the subscription: JSON-encoded
// {"type":…,"payload":…} frames.
func (s *Subscription) C() <-chan []byte { return s.ch }

// Bus fans domain events out to live subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	log    zerolog.Logger
}

// New returns a bus with the given logger and default buffering.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		buffer: DefaultBuffer,
		log:    log,
	}
}

// Subscribe registers a new bounded queue.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan []byte, b.buffer)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the queue. Safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Publish encodes {type, payload} and offers it to every subscriber without
// blocking. Frames are dropped for subscribers that cannot keep up.
func (b *Bus) Publish(event string, payload any) {
	data, err := json.Marshal(frame{Type: event, Payload: payload})
	if err != nil {
		b.log.Warn().Err(err).Str("event", event).Msg("bus: payload not serializable, dropping")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- data:
		default:
			b.log.Warn().Str("event", event).Msg("bus: subscriber queue full, dropping frame")
		}
	}
}

// SubscriberCount reports the number of live queues.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
