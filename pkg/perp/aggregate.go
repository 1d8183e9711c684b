package perp

import (
	"github.com/shopspring/decimal"
)

// sizeCapTolerance is the flat quote-unit allowance on top of the per-side
// value cap, absorbing price movement between quote and fill.
var sizeCapTolerance = decimal.NewFromInt(100)

// MarketAggregate tracks total skew, total size and the entry debt
// correction so aggregate market debt is an O(1) read: it never requires
// iterating positions. Not safe for concurrent use: the owning market
// serializes access.
type MarketAggregate struct {
	skew                decimal.Decimal // sum of position sizes
	size                decimal.Decimal // sum of abs(position size)
	entryDebtCorrection decimal.Decimal
}

// NewMarketAggregate creates a zeroed aggregate.
func NewMarketAggregate() *MarketAggregate {
	return &MarketAggregate{}
}

// ApplyPositionChange folds one position's transition into the aggregate.
// The debt correction accumulates (margin - size*price) deltas so that
// marketDebt(price) = skew*price + entryDebtCorrection.
func (a *MarketAggregate) ApplyPositionChange(oldSize, oldMargin, oldPrice, newSize, newMargin, newPrice decimal.Decimal) {
	a.skew = a.skew.Add(newSize).Sub(oldSize)
	a.size = a.size.Add(newSize.Abs()).Sub(oldSize.Abs())

	oldCorrection := oldMargin.Sub(oldSize.Mul(oldPrice))
	newCorrection := newMargin.Sub(newSize.Mul(newPrice))
	a.entryDebtCorrection = a.entryDebtCorrection.Add(newCorrection).Sub(oldCorrection)
}

// Skew returns the signed sum of all open position sizes.
func (a *MarketAggregate) Skew() decimal.Decimal {
	return a.skew
}

// Size returns the sum of absolute position sizes.
func (a *MarketAggregate) Size() decimal.Decimal {
	return a.size
}

// EntryDebtCorrection returns the debt correction accumulator.
func (a *MarketAggregate) EntryDebtCorrection() decimal.Decimal {
	return a.entryDebtCorrection
}

// MarketDebt returns the aggregate remaining margin of all positions at
// price, clamped at zero.
func (a *MarketAggregate) MarketDebt(price decimal.Decimal) decimal.Decimal {
	return maxZero(a.skew.Mul(price).Add(a.entryDebtCorrection))
}

// sideSizes splits total size into long and short side totals.
func (a *MarketAggregate) sideSizes() (long, short decimal.Decimal) {
	two := decimal.NewFromInt(2)
	long = a.size.Add(a.skew).Div(two)
	short = a.size.Sub(a.skew).Div(two)
	return long, short
}

// MaxOrderSizes returns the largest long and short order sizes the market
// currently admits at price, given the per-side value cap.
func (a *MarketAggregate) MaxOrderSizes(price decimal.Decimal, params Parameters) (long, short decimal.Decimal) {
	if !price.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	capSize := params.MaxSingleSideValueUSD.Div(price)
	longSide, shortSide := a.sideSizes()
	return maxZero(capSize.Sub(longSide)), maxZero(capSize.Sub(shortSide))
}

// OrderSizeTooLarge reports whether changing a position from oldSize to
// newSize would push its side of the market past the value cap. Orders
// that reduce a side's absolute size are always permitted, even over cap.
func (a *MarketAggregate) OrderSizeTooLarge(price, oldSize, newSize decimal.Decimal, params Parameters) bool {
	if newSize.IsZero() {
		return false
	}
	sameSide := oldSize.Sign() == newSize.Sign()
	if sameSide && newSize.Abs().LessThanOrEqual(oldSize.Abs()) {
		return false
	}

	newSkew := a.skew.Sub(oldSize).Add(newSize)
	newMarketSize := a.size.Sub(oldSize.Abs()).Add(newSize.Abs())

	two := decimal.NewFromInt(2)
	var sideSize decimal.Decimal
	if newSize.IsPositive() {
		sideSize = newMarketSize.Add(newSkew).Div(two)
	} else {
		sideSize = newMarketSize.Sub(newSkew).Div(two)
	}
	return sideSize.Mul(price).GreaterThan(params.MaxSingleSideValueUSD.Add(sizeCapTolerance))
}
