package perp

import (
	"github.com/shopspring/decimal"
)

// ProfitLoss returns the unrealized profit or loss of a position at price,
// relative to its last settlement basis.
func ProfitLoss(pos Position, price decimal.Decimal) decimal.Decimal {
	return pos.Size.Mul(price.Sub(pos.LastPrice))
}

// AccruedFunding returns the funding accumulated by a position since its
// last settlement point.
func AccruedFunding(pos Position, funding *FundingTracker) decimal.Decimal {
	if !pos.IsOpen() {
		return decimal.Zero
	}
	return pos.Size.Mul(funding.NetFundingPerUnit(pos.LastFundingIndex))
}

// RemainingMargin folds unrealized profit/loss and accrued funding into a
// position's margin, clamped at zero.
func RemainingMargin(pos Position, price decimal.Decimal, funding *FundingTracker) decimal.Decimal {
	return maxZero(pos.Margin.Add(ProfitLoss(pos, price)).Add(AccruedFunding(pos, funding)))
}

// AccessibleMargin returns the portion of remaining margin that can be
// withdrawn without breaching max leverage or dropping an open position
// below the minimum initial margin. A liquidatable position has no
// accessible margin.
func AccessibleMargin(pos Position, price decimal.Decimal, funding *FundingTracker, params Parameters) decimal.Decimal {
	remaining := RemainingMargin(pos, price, funding)
	if !pos.IsOpen() {
		return remaining
	}
	if CanLiquidate(pos, price, funding, params) {
		return decimal.Zero
	}
	if !params.MaxLeverage.IsPositive() {
		return decimal.Zero
	}
	// The minimum margin consistent with the current size at max leverage.
	required := pos.Notional(price).Div(params.MaxLeverage)
	if required.LessThan(params.MinInitialMargin) {
		required = params.MinInitialMargin
	}
	return maxZero(remaining.Sub(required))
}
