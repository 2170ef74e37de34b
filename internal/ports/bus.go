package ports

import (
	"context"

	"github.com/Mahd-Mehn/MM-zypherfunk/internal/domain"
)

// EventBus carries normalized trade events from the monitor to consumers,
// keyed by lead trader identity. Delivery is at-least-once (the monitor's
// dedup makes that acceptable) but the bus must never silently drop a
// message under backpressure: Publish blocks until every subscriber has
// room or the context is canceled.
type EventBus interface {
	// Publish delivers the event to every interested subscriber in order.
	Publish(ctx context.Context, event *domain.TradeEvent) error
	// Subscribe returns an ordered channel of events for one trader. The
	// returned cancel function removes the subscription and unblocks any
	// publisher waiting on it; the channel itself is never closed, so a
	// subscriber must stop receiving after it cancels.
	Subscribe(traderID string) (<-chan *domain.TradeEvent, func())
	// SubscribeAll returns an ordered channel receiving every event.
	SubscribeAll() (<-chan *domain.TradeEvent, func())
	// Close shuts the bus down: pending publishers are released and
	// further publishes fail. Subscriber channels stay open (a publisher
	// may still hold a reference) and simply stop receiving.
	Close()
}
