package perp

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestManualPriceFeed(t *testing.T) {
	t.Run("UnsetPriceIsInvalid", func(t *testing.T) {
		f := NewManualPriceFeed(0)
		_, invalid := f.AssetPrice()
		assert.True(t, invalid)
	})

	t.Run("NonPositivePriceIsInvalid", func(t *testing.T) {
		f := NewManualPriceFeed(0)
		f.SetPrice(decimal.Zero)
		_, invalid := f.AssetPrice()
		assert.True(t, invalid)

		f.SetPrice(dec("-1"))
		_, invalid = f.AssetPrice()
		assert.True(t, invalid)
	})

	t.Run("FreshPriceIsValid", func(t *testing.T) {
		f := NewManualPriceFeed(0)
		f.SetPrice(dec("100"))
		price, invalid := f.AssetPrice()
		assert.False(t, invalid)
		assert.True(t, price.Equal(dec("100")))
	})

	t.Run("StalePriceGoesInvalid", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		f := NewManualPriceFeed(time.Minute)
		f.now = func() time.Time { return now }

		f.SetPrice(dec("100"))
		_, invalid := f.AssetPrice()
		assert.False(t, invalid)

		now = now.Add(61 * time.Second)
		price, invalid := f.AssetPrice()
		assert.True(t, invalid)
		assert.True(t, price.Equal(dec("100")), "stale price is still reported")

		// a fresh observation revives the feed
		f.SetPrice(dec("101"))
		_, invalid = f.AssetPrice()
		assert.False(t, invalid)
	})

	t.Run("DynamicFeeRate", func(t *testing.T) {
		f := NewManualPriceFeed(0)
		rate, tooVolatile := f.DynamicFeeRate()
		assert.True(t, rate.IsZero())
		assert.False(t, tooVolatile)

		f.SetDynamicFeeRate(dec("0.002"), true)
		rate, tooVolatile = f.DynamicFeeRate()
		assert.True(t, rate.Equal(dec("0.002")))
		assert.True(t, tooVolatile)
	})
}

func TestSimpleCollateralLedger(t *testing.T) {
	l := NewSimpleCollateralLedger()

	assert.ErrorIs(t, l.Debit("alice", dec("1")), ErrInsufficientBalance)

	assert.NoError(t, l.Credit("alice", dec("100")))
	assert.NoError(t, l.Debit("alice", dec("40")))
	assert.True(t, l.Balance("alice").Equal(dec("60")))

	assert.ErrorIs(t, l.Debit("alice", dec("61")), ErrInsufficientBalance)
	assert.True(t, l.Balance("alice").Equal(dec("60")), "failed debit leaves the balance alone")
}

func TestStaticSettingsUpdate(t *testing.T) {
	s := NewStaticSettings(DefaultParameters())
	assert.True(t, s.Parameters().MaxLeverage.Equal(dec("10")))

	updated := DefaultParameters()
	updated.MaxLeverage = dec("20")
	s.Update(updated)
	assert.True(t, s.Parameters().MaxLeverage.Equal(dec("20")))
}

func TestStaticGate(t *testing.T) {
	g := NewStaticGate()
	assert.False(t, g.IsSuspended("tBTC-PERP"))

	g.Suspend("tBTC-PERP")
	assert.True(t, g.IsSuspended("tBTC-PERP"))
	assert.False(t, g.IsSuspended("tETH-PERP"))

	g.Resume("tBTC-PERP")
	assert.False(t, g.IsSuspended("tBTC-PERP"))

	g.Suspend("")
	assert.True(t, g.IsSuspended("tBTC-PERP"), "empty key suspends everything")
	assert.True(t, g.IsSuspended("tETH-PERP"))
}
