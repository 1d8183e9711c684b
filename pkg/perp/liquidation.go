package perp

import (
	"github.com/shopspring/decimal"
)

// LiquidationFee returns the fee paid to the executor of a liquidation:
// the ratio of the position's notional, floored by the minimum keeper fee.
func LiquidationFee(pos Position, price decimal.Decimal, params Parameters) decimal.Decimal {
	fee := params.LiquidationFeeRatio.Mul(pos.Notional(price))
	if fee.LessThan(params.MinKeeperFee) {
		return params.MinKeeperFee
	}
	return fee
}

// LiquidationMargin returns the maintenance margin below which a position
// is force-closed: the liquidation fee plus a buffer proportional to
// notional, keeping the fee payable and the market debt covered at the
// liquidation instant.
func LiquidationMargin(pos Position, price decimal.Decimal, params Parameters) decimal.Decimal {
	return LiquidationFee(pos, price, params).Add(params.LiquidationBufferRatio.Mul(pos.Notional(price)))
}

// CanLiquidate reports whether the position's remaining margin has fallen
// to or below its liquidation margin. Flat positions are never
// liquidatable. Callers must only invoke this with a valid price.
func CanLiquidate(pos Position, price decimal.Decimal, funding *FundingTracker, params Parameters) bool {
	if !pos.IsOpen() {
		return false
	}
	return RemainingMargin(pos, price, funding).LessThanOrEqual(LiquidationMargin(pos, price, params))
}

// ApproxLiquidationPrice estimates the price at which the position becomes
// liquidatable, treating funding accrued to date as fixed and evaluating
// the liquidation margin at the current price. The estimate is advisory:
// the exact CanLiquidate check at execution time is authoritative. Returns
// zero for flat positions; results below zero clamp to zero.
func ApproxLiquidationPrice(pos Position, currentPrice decimal.Decimal, fundingPerUnit decimal.Decimal, params Parameters) decimal.Decimal {
	if !pos.IsOpen() {
		return decimal.Zero
	}
	// Solve remainingMargin(p) == liquidationMargin for the probe price p:
	// margin + fundingPerUnit*size + size*(p - lastPrice) == liquidationMargin.
	shortfall := LiquidationMargin(pos, currentPrice, params).Sub(pos.Margin)
	return maxZero(pos.LastPrice.Add(shortfall.Div(pos.Size)).Sub(fundingPerUnit))
}
