// Package pnl reconstructs closed round-trip trades from raw fills using
// strict price-time (FIFO) lot matching and derives a composite
// reputation score from them. FIFO, not weighted-average cost, because
// each matched lot needs its own entry timestamp for duration and ROI.
package pnl

import (
	"math"
	"sort"
	"time"

	"github.com/Mahd-Mehn/MM-zypherfunk/internal/domain"
)

// Composite score weights and subscore scaling, chosen so that
// consistency, profitability, average return and sample size all
// contribute and no single lucky trade can reach a top score.
const (
	weightWinRate      = 0.30
	weightProfitFactor = 0.30
	weightROI          = 0.20
	weightActivity     = 0.20

	profitFactorScale = 33.0 // profit factor 3.03 saturates the subscore
	roiScale          = 5.0  // 20% average ROI saturates the subscore
	activityScale     = 2.0  // 50 closed trades saturate the subscore
)

// profitFactorCap stands in for "infinite" profit factor when a trader
// has gross profit and no gross loss. It is the smallest value that
// already saturates the profit-factor subscore, keeping scores finite
// and reproducible.
const profitFactorCap = 100.0 / profitFactorScale

// lot is an open quantity of a symbol acquired at one price and time,
// tracked until fully matched against opposing executions.
type lot struct {
	quantity    float64
	initialQty  float64
	price       float64
	side        domain.OrderSide
	timestamp   time.Time
	originalFee float64
}

// Calculator converts unordered fill histories into closed trades and
// reputation scores. It is stateless between calls; every calculation
// starts from empty lot books.
type Calculator struct{}

// NewCalculator creates a calculator instance.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// ClosedTrades reconstructs the closed round-trips from a fill history.
// Executions are sorted by timestamp; per symbol, each execution is
// matched FIFO against open lots of the opposite side, and any leftover
// quantity opens a new lot. Symbols never share lots.
func (c *Calculator) ClosedTrades(executions []domain.TradeExecution) []domain.ClosedTrade {
	sorted := make([]domain.TradeExecution, len(executions))
	copy(sorted, executions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	books := make(map[string][]*lot)
	var closed []domain.ClosedTrade

	for _, exec := range sorted {
		if exec.Quantity <= 0 || exec.Price <= 0 {
			// Malformed fill; skip it and keep the batch going.
			continue
		}

		book := books[exec.Symbol]
		remaining := exec.Quantity

		for remaining > 0 && len(book) > 0 && book[0].side != exec.Side {
			oldest := book[0]
			matched := math.Min(remaining, oldest.quantity)

			var gross float64
			var side domain.TradeSide
			if oldest.side == domain.Buy {
				gross = (exec.Price - oldest.price) * matched
				side = domain.Long
			} else {
				gross = (oldest.price - exec.Price) * matched
				side = domain.Short
			}

			// Prorate each side's fee by the matched fraction of its
			// original quantity.
			entryFee := oldest.originalFee * (matched / oldest.initialQty)
			exitFee := exec.Fee * (matched / exec.Quantity)
			totalFee := entryFee + exitFee
			net := gross - totalFee

			invested := oldest.price * matched
			var roi float64
			if invested > 0 {
				roi = net / invested * 100
			}

			closed = append(closed, domain.ClosedTrade{
				Symbol:     exec.Symbol,
				EntryTime:  oldest.timestamp,
				ExitTime:   exec.Timestamp,
				Duration:   exec.Timestamp.Sub(oldest.timestamp),
				Side:       side,
				Quantity:   matched,
				EntryPrice: oldest.price,
				ExitPrice:  exec.Price,
				GrossPNL:   gross,
				Fee:        totalFee,
				NetPNL:     net,
				ROIPercent: roi,
			})

			remaining -= matched
			oldest.quantity -= matched
			if oldest.quantity <= 0 {
				book = book[1:]
			}
		}

		if remaining > 0 {
			book = append(book, &lot{
				quantity:    remaining,
				initialQty:  remaining,
				price:       exec.Price,
				side:        exec.Side,
				timestamp:   exec.Timestamp,
				originalFee: exec.Fee * (remaining / exec.Quantity),
			})
		}
		books[exec.Symbol] = book
	}

	return closed
}

// Score aggregates closed trades into a reputation score. The result is
// fully determined by its inputs: generatedAt is supplied by the caller
// so repeated calculations over the same trades are reproducible.
func (c *Calculator) Score(traderID string, closed []domain.ClosedTrade, generatedAt time.Time) domain.ReputationScore {
	score := domain.ReputationScore{
		TraderID:    traderID,
		GeneratedAt: generatedAt,
	}
	if len(closed) == 0 {
		return score
	}

	var grossProfit, grossLoss, roiSum float64
	for _, trade := range closed {
		score.TotalTrades++
		score.TotalPNLUSD += trade.NetPNL
		roiSum += trade.ROIPercent
		if trade.NetPNL > 0 {
			score.WinningTrades++
			grossProfit += trade.NetPNL
		} else {
			score.LosingTrades++
			grossLoss += -trade.NetPNL
		}
	}

	score.WinRate = float64(score.WinningTrades) / float64(score.TotalTrades) * 100
	score.AverageROI = roiSum / float64(score.TotalTrades)

	switch {
	case grossLoss > 0:
		score.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		score.ProfitFactor = profitFactorCap
	default:
		score.ProfitFactor = 0
	}

	winRateScore := math.Min(score.WinRate, 100)
	pfScore := math.Min(score.ProfitFactor*profitFactorScale, 100)
	roiScore := math.Min(math.Max(score.AverageROI*roiScale, 0), 100)
	activityScore := math.Min(float64(score.TotalTrades)*activityScale, 100)

	composite := winRateScore*weightWinRate +
		pfScore*weightProfitFactor +
		roiScore*weightROI +
		activityScore*weightActivity
	score.Score = math.Round(composite*100) / 100

	return score
}
