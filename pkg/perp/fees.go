package perp

import (
	"github.com/shopspring/decimal"
)

// OrderFee prices the execution fee for a trade of sizeDelta at price:
// abs(sizeDelta) * price * (baseFee + dynamicFeeRate). The same rate
// applies whether the trade increases or reduces skew; there is no
// skew-reducing discount.
func OrderFee(sizeDelta, price, dynamicFeeRate, baseFee decimal.Decimal) decimal.Decimal {
	return sizeDelta.Abs().Mul(price).Mul(baseFee.Add(dynamicFeeRate))
}
