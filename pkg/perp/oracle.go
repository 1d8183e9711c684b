package perp

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PriceFeed supplies the reference asset price and the volatility
// classification. Staleness and "too volatile" are decided by the feed,
// not by the engine.
type PriceFeed interface {
	// AssetPrice returns the current price and whether it is invalid
	// (stale, unset or non-positive).
	AssetPrice() (price decimal.Decimal, invalid bool)

	// DynamicFeeRate returns the volatility surcharge applied on top of
	// the base fee, and whether the market is currently too volatile to
	// trade at all.
	DynamicFeeRate() (rate decimal.Decimal, tooVolatile bool)
}

// ManualPriceFeed is a PriceFeed fed by explicit updates. The price goes
// invalid once it is older than maxAge.
type ManualPriceFeed struct {
	mu          sync.RWMutex
	price       decimal.Decimal
	updatedAt   time.Time
	maxAge      time.Duration
	dynamicRate decimal.Decimal
	tooVolatile bool
	now         func() time.Time
}

// NewManualPriceFeed creates a feed with no price set. maxAge <= 0 disables
// the staleness check.
func NewManualPriceFeed(maxAge time.Duration) *ManualPriceFeed {
	return &ManualPriceFeed{
		maxAge: maxAge,
		now:    time.Now,
	}
}

// SetPrice records a new price observation.
func (f *ManualPriceFeed) SetPrice(price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = price
	f.updatedAt = f.now()
}

// SetDynamicFeeRate records the volatility assessment.
func (f *ManualPriceFeed) SetDynamicFeeRate(rate decimal.Decimal, tooVolatile bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dynamicRate = rate
	f.tooVolatile = tooVolatile
}

// AssetPrice implements PriceFeed.
func (f *ManualPriceFeed) AssetPrice() (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.updatedAt.IsZero() || !f.price.IsPositive() {
		return decimal.Zero, true
	}
	if f.maxAge > 0 && f.now().Sub(f.updatedAt) > f.maxAge {
		return f.price, true
	}
	return f.price, false
}

// DynamicFeeRate implements PriceFeed.
func (f *ManualPriceFeed) DynamicFeeRate() (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dynamicRate, f.tooVolatile
}
