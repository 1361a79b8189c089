package registry

import "sync"

// ChangeSubscription is the handle subscribeChanges() returns; Close is
// idempotent.
type ChangeSubscription struct {
	ch     chan ChangeEvent
	bus    *eventBus
	mu     sync.Mutex
	closed bool
}

func (s *ChangeSubscription) Events() <-chan ChangeEvent { return s.ch }

func (s *ChangeSubscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.bus.remove(s)
	close(s.ch)
}

// eventBus delivers ChangeEvents to subscribers without ever blocking the
// publisher: a full subscriber channel drops the event and increments a
// counter, the same non-blocking delivery policy used elsewhere in this
// codebase for channel-backed subscriptions.
type eventBus struct {
	mu          sync.Mutex
	subscribers map[*ChangeSubscription]struct{}
	published   int64
	delivered   int64
	dropped     int64
}

func newEventBus() *eventBus {
	return &eventBus{subscribers: make(map[*ChangeSubscription]struct{})}
}

func (b *eventBus) Subscribe(bufferSize int) *ChangeSubscription {
	sub := &ChangeSubscription{ch: make(chan ChangeEvent, bufferSize), bus: b}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *eventBus) remove(sub *ChangeSubscription) {
	b.mu.Lock()
	delete(b.subscribers, sub)
	b.mu.Unlock()
}

func (b *eventBus) Publish(ev ChangeEvent) {
	b.mu.Lock()
	subs := make([]*ChangeSubscription, 0, len(b.subscribers))
	for sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.published++
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
			b.mu.Lock()
			b.delivered++
			b.mu.Unlock()
		default:
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
		}
	}
}

// Metrics reports this bus's publish/deliver/drop counters.
type Metrics struct {
	Published int64
	Delivered int64
	Dropped   int64
}

func (b *eventBus) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Metrics{Published: b.published, Delivered: b.delivered, Dropped: b.dropped}
}
