// Package perp implements the margin, funding and liquidation accounting
// engine for a single cash-settled perpetual futures market. Trades fill
// immediately at the oracle price; there is no order book. All amounts are
// decimal fixed-point: sums and products are exact, divisions round half
// away from zero at the shopspring default precision.
package perp

import (
	"github.com/shopspring/decimal"
)

// Position is the per-account trading state. Margin is the collateral value
// as of LastPrice/LastFundingIndex; unrealized profit/loss and funding
// accrued since then are folded in on the next settling operation.
type Position struct {
	ID               uint64
	Account          string
	Size             decimal.Decimal // positive long, negative short, zero flat
	Margin           decimal.Decimal
	LastPrice        decimal.Decimal
	LastFundingIndex int
}

// IsOpen reports whether the position has nonzero size.
func (p Position) IsOpen() bool {
	return !p.Size.IsZero()
}

// Notional is the USD-equivalent value of the position at price.
func (p Position) Notional(price decimal.Decimal) decimal.Decimal {
	return p.Size.Abs().Mul(price)
}

// maxZero clamps negative values to zero.
func maxZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
