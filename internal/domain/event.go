package domain

import (
	"fmt"
	"time"
)

// TradeEventType classifies a normalized trade or position event.
type TradeEventType string

const (
	EventOrderPlaced         TradeEventType = "order_placed"
	EventOrderFilled         TradeEventType = "order_filled"
	EventOrderPartiallyFill  TradeEventType = "order_partially_filled"
	EventOrderCanceled       TradeEventType = "order_canceled"
	EventPositionOpened      TradeEventType = "position_opened"
	EventPositionClosed      TradeEventType = "position_closed"
	EventPositionUpdated     TradeEventType = "position_updated"
	EventStopLossTriggered   TradeEventType = "stop_loss_triggered"
	EventTakeProfitTriggered TradeEventType = "take_profit_triggered"
)

// IsCopyable reports whether followers should replicate this event kind.
// Intermediate and canceled states are never copied.
func (t TradeEventType) IsCopyable() bool {
	switch t {
	case EventOrderFilled, EventPositionOpened, EventPositionUpdated:
		return true
	default:
		return false
	}
}

// TradeEvent is an immutable, normalized fact derived from a raw venue
// order or position record. Events are published on the bus keyed by the
// lead trader's identity.
type TradeEvent struct {
	ID             string                 // Deterministic dedup ID, see EventID
	Type           TradeEventType         // Classified event kind
	TraderID       string                 // Lead trader identity
	Venue          string                 // Venue the event was observed on
	Symbol         string                 // Trading symbol
	Side           OrderSide              // BUY or SELL
	OrderType      OrderType              // Order type as reported by the venue
	Quantity       float64                // Requested quantity
	FilledQuantity float64                // Quantity filled so far
	Price          float64                // Price, 0 when the venue reports none
	Timestamp      time.Time              // Time the event was observed
	OrderID        string                 // Source order or position identifier
	Raw            map[string]interface{} // Raw venue payload, for diagnostics
}

// EventID derives the deterministic event identifier from the venue, the
// order/position identifier and the observed status. Re-observing the same
// state always yields the same ID, which is what the dedup layer keys on.
func EventID(venue, sourceID, status string) string {
	return fmt.Sprintf("%s_%s_%s", venue, sourceID, status)
}
