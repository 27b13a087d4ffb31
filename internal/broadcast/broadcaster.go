// Package broadcast implements the in-process fan-out bridging publishers to
// live subscriber streams. One topic per channel id, created on first use.
package broadcast

import (
	"encoding/json"
	"sync"

	"github.com/oklog/ulid/v2"
)

// DefaultCapacity is the per-subscriber backlog size.
const DefaultCapacity = 16

// Message is a validated channel payload in its wire form, stamped with a
// ULID at publish time. The id is monotonic within a process, so consumers
// can order and de-duplicate events across reconnects.
type Message struct {
	ID   string
	Data json.RawMessage
}

// Broadcaster maps channel ids to topics. It is owned by the server and
// passed explicitly to every handler that needs it.
type Broadcaster struct {
	mu       sync.Mutex
	capacity int
	topics   map[string]*Topic
}

func New(capacity int) *Broadcaster {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Broadcaster{
		capacity: capacity,
		topics:   make(map[string]*Topic),
	}
}

// Topic returns the topic for a channel id, creating it if absent. When two
// callers race, exactly one topic is installed and both observe it.
func (b *Broadcaster) Topic(channelID string) *Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	topic, ok := b.topics[channelID]
	if !ok {
		topic = &Topic{
			capacity: b.capacity,
			subs:     make(map[*Subscription]struct{}),
		}
		b.topics[channelID] = topic
	}
	return topic
}

// Remove drops the topic for a deleted channel and closes all of its live
// subscriber streams. Publishing to the id afterwards creates a fresh topic,
// but the channel registry rejects such requests before they get here.
func (b *Broadcaster) Remove(channelID string) {
	b.mu.Lock()
	topic, ok := b.topics[channelID]
	delete(b.topics, channelID)
	b.mu.Unlock()
	if !ok {
		return
	}

	topic.mu.Lock()
	defer topic.mu.Unlock()
	for sub := range topic.subs {
		sub.closeOnce.Do(func() { close(sub.closed) })
	}
	topic.subs = make(map[*Subscription]struct{})
}

// Topic is a multi-producer, multi-consumer delivery pipe with a bounded
// backlog per subscriber.
type Topic struct {
	mu       sync.Mutex
	capacity int
	subs     map[*Subscription]struct{}
}

// Publish stamps data with a fresh id, enqueues it for every current
// subscriber, and returns the stamped message along with how many
// subscribers received it. Zero subscribers is a normal outcome, not an
// error.
//
// A full backlog never blocks the publisher or other subscribers: the oldest
// buffered message for that subscriber is dropped and the subscriber is
// flagged as lagged so its stream can terminate instead of silently serving
// stale data.
func (t *Topic) Publish(data json.RawMessage) (Message, int) {
	msg := Message{ID: ulid.Make().String(), Data: data}

	t.mu.Lock()
	defer t.mu.Unlock()

	delivered := 0
	for sub := range t.subs {
		select {
		case sub.ch <- msg:
		default:
			select {
			case <-sub.ch: // drop oldest
			default:
			}
			sub.laggedOnce.Do(func() { close(sub.lagged) })
			select {
			case sub.ch <- msg:
			default:
			}
		}
		delivered++
	}
	return msg, delivered
}

// Subscribe registers a new subscriber. The stream carries only messages
// published after Subscribe returns.
func (t *Topic) Subscribe() *Subscription {
	sub := &Subscription{
		topic:  t,
		ch:     make(chan Message, t.capacity),
		lagged: make(chan struct{}),
		closed: make(chan struct{}),
	}
	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()
	return sub
}

// Subscribers reports the number of currently attached subscriptions.
func (t *Topic) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Subscription is one subscriber's view of a topic.
type Subscription struct {
	topic      *Topic
	ch         chan Message
	lagged     chan struct{}
	laggedOnce sync.Once
	closed     chan struct{}
	closeOnce  sync.Once
}

// Messages delivers buffered messages in publish order.
func (s *Subscription) Messages() <-chan Message { return s.ch }

// Lagged is closed when this subscriber's backlog overflowed. The caller
// should end the stream and resubscribe.
func (s *Subscription) Lagged() <-chan struct{} { return s.lagged }

// Closed is closed when the backing topic is removed.
func (s *Subscription) Closed() <-chan struct{} { return s.closed }

// Cancel detaches the subscription, releasing its backlog. Safe to call more
// than once; it never affects other subscribers or the publisher.
func (s *Subscription) Cancel() {
	s.topic.mu.Lock()
	delete(s.topic.subs, s)
	s.topic.mu.Unlock()
}
