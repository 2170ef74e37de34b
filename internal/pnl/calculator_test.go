package pnl

import (
	"math"
	"testing"
	"time"

	"github.com/Mahd-Mehn/MM-zypherfunk/internal/domain"
)

func floatEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func exec(symbol string, side domain.OrderSide, qty, price, fee float64, at time.Time) domain.TradeExecution {
	return domain.TradeExecution{
		ID:        symbol + at.String(),
		UserID:    "trader-1",
		Symbol:    symbol,
		Side:      side,
		Quantity:  qty,
		Price:     price,
		Fee:       fee,
		Timestamp: at,
		Venue:     "binance",
	}
}

func TestClosedTrades_FIFOMatching(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	calc := NewCalculator()

	// Two buys at different prices, one sell crossing both lots and
	// leaving a partial lot open.
	executions := []domain.TradeExecution{
		exec("BTCUSDT", domain.Buy, 1.0, 40000, 40, base),
		exec("BTCUSDT", domain.Buy, 0.5, 42000, 21, base.Add(time.Hour)),
		exec("BTCUSDT", domain.Sell, 1.2, 45000, 54, base.Add(2*time.Hour)),
	}

	closed := calc.ClosedTrades(executions)
	if len(closed) != 2 {
		t.Fatalf("expected 2 closed trades, got %d", len(closed))
	}

	first := closed[0]
	if first.Side != domain.Long {
		t.Errorf("first trade side = %s, want long", first.Side)
	}
	if !floatEq(first.Quantity, 1.0) {
		t.Errorf("first trade quantity = %f, want 1.0", first.Quantity)
	}
	if !floatEq(first.EntryPrice, 40000) || !floatEq(first.ExitPrice, 45000) {
		t.Errorf("first trade prices = %f/%f, want 40000/45000", first.EntryPrice, first.ExitPrice)
	}
	if !floatEq(first.GrossPNL, 5000) {
		t.Errorf("first trade gross = %f, want 5000", first.GrossPNL)
	}
	// Entry fee fully consumed (40), exit fee prorated: 54 * 1.0/1.2 = 45.
	if !floatEq(first.Fee, 85) {
		t.Errorf("first trade fee = %f, want 85", first.Fee)
	}
	if !floatEq(first.NetPNL, 4915) {
		t.Errorf("first trade net = %f, want 4915", first.NetPNL)
	}
	if !floatEq(first.ROIPercent, 4915.0/40000*100) {
		t.Errorf("first trade ROI = %f", first.ROIPercent)
	}
	if first.Duration != 2*time.Hour {
		t.Errorf("first trade duration = %s, want 2h", first.Duration)
	}

	second := closed[1]
	if !floatEq(second.Quantity, 0.2) {
		t.Errorf("second trade quantity = %f, want 0.2", second.Quantity)
	}
	if !floatEq(second.EntryPrice, 42000) {
		t.Errorf("second trade entry = %f, want 42000", second.EntryPrice)
	}
	if !floatEq(second.GrossPNL, 600) {
		t.Errorf("second trade gross = %f, want 600", second.GrossPNL)
	}
	// Entry fee 21 * 0.2/0.5 = 8.4, exit fee 54 * 0.2/1.2 = 9.
	if !floatEq(second.Fee, 17.4) {
		t.Errorf("second trade fee = %f, want 17.4", second.Fee)
	}
	// The remaining 0.3 of the second lot stays open and produces no trade.
}

func TestClosedTrades_ShortRoundTrip(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	calc := NewCalculator()

	executions := []domain.TradeExecution{
		exec("ETHUSDT", domain.Sell, 2.0, 3000, 0, base),
		exec("ETHUSDT", domain.Buy, 2.0, 2800, 0, base.Add(30*time.Minute)),
	}

	closed := calc.ClosedTrades(executions)
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed trade, got %d", len(closed))
	}
	trade := closed[0]
	if trade.Side != domain.Short {
		t.Errorf("side = %s, want short", trade.Side)
	}
	if !floatEq(trade.GrossPNL, 400) {
		t.Errorf("gross = %f, want 400", trade.GrossPNL)
	}
	if !floatEq(trade.EntryPrice, 3000) || !floatEq(trade.ExitPrice, 2800) {
		t.Errorf("prices = %f/%f, want 3000/2800", trade.EntryPrice, trade.ExitPrice)
	}
}

func TestClosedTrades_SymbolsDoNotShareLots(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	calc := NewCalculator()

	executions := []domain.TradeExecution{
		exec("BTCUSDT", domain.Buy, 1.0, 40000, 0, base),
		exec("ETHUSDT", domain.Sell, 1.0, 3000, 0, base.Add(time.Minute)),
	}

	closed := calc.ClosedTrades(executions)
	if len(closed) != 0 {
		t.Fatalf("expected no closed trades across symbols, got %d", len(closed))
	}
}

func TestClosedTrades_UnsortedInput(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	calc := NewCalculator()

	// Out of order on purpose; the calculator must sort by timestamp.
	executions := []domain.TradeExecution{
		exec("BTCUSDT", domain.Sell, 1.0, 45000, 0, base.Add(time.Hour)),
		exec("BTCUSDT", domain.Buy, 1.0, 40000, 0, base),
	}

	closed := calc.ClosedTrades(executions)
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed trade, got %d", len(closed))
	}
	if closed[0].Side != domain.Long {
		t.Errorf("side = %s, want long", closed[0].Side)
	}
	if !floatEq(closed[0].GrossPNL, 5000) {
		t.Errorf("gross = %f, want 5000", closed[0].GrossPNL)
	}
}

func TestClosedTrades_SkipsMalformedFills(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	calc := NewCalculator()

	executions := []domain.TradeExecution{
		exec("BTCUSDT", domain.Buy, 0, 40000, 0, base),
		exec("BTCUSDT", domain.Buy, 1.0, -5, 0, base.Add(time.Minute)),
		exec("BTCUSDT", domain.Buy, 1.0, 40000, 0, base.Add(2*time.Minute)),
		exec("BTCUSDT", domain.Sell, 1.0, 41000, 0, base.Add(3*time.Minute)),
	}

	closed := calc.ClosedTrades(executions)
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed trade, got %d", len(closed))
	}
	if !floatEq(closed[0].GrossPNL, 1000) {
		t.Errorf("gross = %f, want 1000", closed[0].GrossPNL)
	}
}

func TestScore_NoTrades(t *testing.T) {
	calc := NewCalculator()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	score := calc.Score("trader-1", nil, at)
	if score.TraderID != "trader-1" {
		t.Errorf("traderID = %s", score.TraderID)
	}
	if score.Score != 0 || score.TotalTrades != 0 || score.WinRate != 0 {
		t.Errorf("zero-history score must be zero, got %+v", score)
	}
	if !score.GeneratedAt.Equal(at) {
		t.Errorf("generatedAt = %s, want %s", score.GeneratedAt, at)
	}
}

func TestScore_Composite(t *testing.T) {
	calc := NewCalculator()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	closed := []domain.ClosedTrade{
		{NetPNL: 100, ROIPercent: 10},
		{NetPNL: -50, ROIPercent: -5},
	}

	score := calc.Score("trader-1", closed, at)
	if score.TotalTrades != 2 || score.WinningTrades != 1 || score.LosingTrades != 1 {
		t.Fatalf("counts = %d/%d/%d", score.TotalTrades, score.WinningTrades, score.LosingTrades)
	}
	if !floatEq(score.WinRate, 50) {
		t.Errorf("winRate = %f, want 50", score.WinRate)
	}
	if !floatEq(score.ProfitFactor, 2) {
		t.Errorf("profitFactor = %f, want 2", score.ProfitFactor)
	}
	if !floatEq(score.TotalPNLUSD, 50) {
		t.Errorf("totalPNL = %f, want 50", score.TotalPNLUSD)
	}
	// 50*0.30 + (2*33)*0.30 + (2.5*5)*0.20 + (2*2)*0.20 = 38.1
	if !floatEq(score.Score, 38.1) {
		t.Errorf("score = %f, want 38.1", score.Score)
	}
}

func TestScore_LosslessTraderIsCapped(t *testing.T) {
	calc := NewCalculator()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	closed := []domain.ClosedTrade{
		{NetPNL: 10, ROIPercent: 1},
		{NetPNL: 20, ROIPercent: 2},
	}

	score := calc.Score("trader-1", closed, at)
	if !floatEq(score.ProfitFactor, profitFactorCap) {
		t.Errorf("profitFactor = %f, want cap %f", score.ProfitFactor, profitFactorCap)
	}
	if score.Score <= 0 || score.Score > 100 {
		t.Errorf("score out of range: %f", score.Score)
	}
}

func TestScore_Deterministic(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	calc := NewCalculator()

	executions := []domain.TradeExecution{
		exec("BTCUSDT", domain.Buy, 1.0, 40000, 40, base),
		exec("BTCUSDT", domain.Sell, 1.0, 45000, 45, base.Add(time.Hour)),
		exec("ETHUSDT", domain.Sell, 3.0, 3000, 9, base.Add(2*time.Hour)),
		exec("ETHUSDT", domain.Buy, 3.0, 3100, 9, base.Add(3*time.Hour)),
	}
	at := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	first := calc.Score("trader-1", calc.ClosedTrades(executions), at)
	second := calc.Score("trader-1", calc.ClosedTrades(executions), at)
	if first != second {
		t.Errorf("score not reproducible:\n%+v\n%+v", first, second)
	}
}
