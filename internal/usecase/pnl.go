package usecase

import (
	"github.com/shopspring/decimal"
	"github.com/vitos/options_signal_engine/internal/domain"
)

var (
	optionMultiplier = decimal.NewFromInt(domain.OptionMultiplier)
	hundred          = decimal.NewFromInt(100)
)

// ComputePnL returns profit and percent return of a position marked at price.
// Long positions gain when price rises, short positions when it falls. The
// percentage is relative to the entry notional.
func ComputePnL(entryPrice float64, quantity int, price float64) (pnl, pnlPct float64) {
	entry := decimal.NewFromFloat(entryPrice)
	mark := decimal.NewFromFloat(price)
	qty := decimal.NewFromInt(int64(quantity))

	// (mark-entry)*qty covers both directions since short quantities are negative.
	profit := mark.Sub(entry).Mul(qty).Mul(optionMultiplier)

	notional := entry.Mul(qty.Abs()).Mul(optionMultiplier)
	pct := decimal.Zero
	if !notional.IsZero() {
		pct = profit.Div(notional).Mul(hundred)
	}

	pnl, _ = profit.Round(2).Float64()
	pnlPct, _ = pct.Round(2).Float64()
	return pnl, pnlPct
}
