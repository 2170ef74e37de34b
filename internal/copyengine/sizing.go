package copyengine

import (
	"fmt"

	"github.com/Mahd-Mehn/MM-zypherfunk/internal/domain"
	"github.com/Mahd-Mehn/MM-zypherfunk/internal/ports"
)

// computeQuantity derives the follower's replica quantity from the lead
// event and the follower's sizing configuration. A returned quantity of 0
// with a nil error means "do not copy" and is not a failure.
//
// Sizing modes:
//   - fixed_amount: FixedAmountUSD / event price. Requires a price; a
//     zero or absent price is a configuration error for this mode.
//   - proportional: lead quantity scaled by ProportionPercent.
//   - smart_scale: reserved for equity-ratio scaling; mirrors the lead
//     quantity exactly until that signal is available.
//
// Clamps: a notional below MinTradeSizeUSD aborts the copy (the size
// would round to economically meaningless); a notional above
// MaxTradeSizeUSD caps the quantity so the notional equals the max.
func computeQuantity(cfg *domain.CopyConfig, event *domain.TradeEvent) (float64, error) {
	leadQty := event.Quantity
	price := event.Price

	var qty float64
	switch cfg.Mode {
	case domain.SizingFixedAmount:
		if price <= 0 {
			return 0, fmt.Errorf("%w: fixed_amount sizing requires an event price", ports.ErrConfigurationError)
		}
		qty = cfg.FixedAmountUSD / price

	case domain.SizingProportional:
		qty = leadQty * (cfg.ProportionPercent / 100.0)

	case domain.SizingSmartScale:
		qty = leadQty

	default:
		return 0, fmt.Errorf("%w: unknown sizing mode %q", ports.ErrConfigurationError, cfg.Mode)
	}

	if qty <= 0 {
		return 0, nil
	}

	notional := qty * price
	if cfg.MinTradeSizeUSD > 0 && notional < cfg.MinTradeSizeUSD {
		return 0, nil
	}
	if cfg.MaxTradeSizeUSD > 0 && notional > cfg.MaxTradeSizeUSD {
		qty = cfg.MaxTradeSizeUSD / price
	}
	return qty, nil
}
