// Package bus provides the in-process event bus that carries normalized
// trade events from the monitor to the copy-trading engine. One ordered,
// buffered channel exists per subscription; Publish blocks when a
// subscriber is full rather than dropping, so ordering and completeness
// per lead trader are preserved end to end.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mahd-Mehn/MM-zypherfunk/internal/domain"
)

const defaultBuffer = 64

type subscriber struct {
	traderID string // empty = wildcard
	ch       chan *domain.TradeEvent
	done     chan struct{}
}

// Bus implements ports.EventBus with ordered per-subscriber channels.
// Subscriber channels are never closed (a publisher may be blocked on one
// at any moment); consumers stop by calling their cancel function and
// abandoning the channel.
type Bus struct {
	mu     sync.Mutex
	subs   []*subscriber
	buffer int
	closed bool
}

// New creates a bus whose subscriber channels hold up to buffer events.
// A buffer of 0 or less uses the default.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{buffer: buffer}
}

// Publish delivers the event, in subscription order, to every subscriber
// interested in the event's trader. It blocks on a full subscriber rather
// than dropping the event; returns the context error on cancellation.
func (b *Bus) Publish(ctx context.Context, event *domain.TradeEvent) error {
	if event == nil {
		return fmt.Errorf("cannot publish a nil event")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("event bus is closed")
	}
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.traderID == "" || s.traderID == event.TraderID {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		select {
		case s.ch <- event:
		case <-s.done:
			// Subscriber canceled mid-publish; skip it.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe returns an ordered channel of events for one trader and a
// cancel function that removes the subscription.
func (b *Bus) Subscribe(traderID string) (<-chan *domain.TradeEvent, func()) {
	return b.subscribe(traderID)
}

// SubscribeAll returns an ordered channel receiving events for every trader.
func (b *Bus) SubscribeAll() (<-chan *domain.TradeEvent, func()) {
	return b.subscribe("")
}

func (b *Bus) subscribe(traderID string) (<-chan *domain.TradeEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &subscriber{
		traderID: traderID,
		ch:       make(chan *domain.TradeEvent, b.buffer),
		done:     make(chan struct{}),
	}
	if b.closed {
		close(s.done)
		return s.ch, func() {}
	}
	b.subs = append(b.subs, s)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			close(s.done)
			for i, sub := range b.subs {
				if sub == s {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
	return s.ch, cancel
}

// Close shuts the bus down. Publishing after Close returns an error;
// subscribers are signaled through their done channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.done)
	}
	b.subs = nil
}
