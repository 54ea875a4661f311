// Package notify is the transport-agnostic fan-out channel for new-article
// events. Delivery is best-effort: publishers never block and slow
// subscribers lose events rather than stalling ingestion.
package notify

import "sync"

// EventTypeNewArticle is the only event type the pipeline currently emits.
const EventTypeNewArticle = "new-article"

// Event describes a newly persisted article.
type Event struct {
	Type      string `json:"type"`
	ArticleID int64  `json:"article_id"`
	Slug      string `json:"slug"`
	Category  string `json:"category"`
}

const subscriberBuffer = 16

// Broadcaster is a channel-based pub/sub hub.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called to release the subscription; the channel is closed afterwards.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers event to every subscriber whose buffer has room and drops
// it for the rest.
func (b *Broadcaster) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub <- event:
		default:
		}
	}
}

// Close tears down all subscriptions. Publish becomes a no-op.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub)
	}
}
