package perp

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// testParameters keeps funding and the size cap out of the way unless a
// test opts in.
func testParameters() Parameters {
	p := DefaultParameters()
	p.MaxSingleSideValueUSD = decimal.NewFromInt(100_000_000)
	p.SkewScaleUSD = decimal.NewFromInt(100_000_000)
	return p
}

type fixture struct {
	t          *testing.T
	now        time.Time
	feed       *ManualPriceFeed
	settings   *StaticSettings
	collateral *SimpleCollateralLedger
	feePool    *MemoryFeePool
	gate       *StaticGate
	sink       *MemorySink
	market     *Market
}

func newFixture(t *testing.T, params Parameters) *fixture {
	t.Helper()

	f := &fixture{
		t:          t,
		now:        time.Unix(1_700_000_000, 0),
		feed:       NewManualPriceFeed(0),
		settings:   NewStaticSettings(params),
		collateral: NewSimpleCollateralLedger(),
		feePool:    NewMemoryFeePool(),
		gate:       NewStaticGate(),
		sink:       NewMemorySink(),
	}
	f.feed.now = func() time.Time { return f.now }

	market, err := NewMarket(MarketConfig{
		Key:        "tBTC-PERP",
		Feed:       f.feed,
		Settings:   f.settings,
		Collateral: f.collateral,
		FeePool:    f.feePool,
		Gate:       f.gate,
		Sink:       f.sink,
		Now:        func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.market = market
	return f
}

func (f *fixture) setPrice(s string) {
	f.feed.SetPrice(dec(s))
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) fund(account, amount string) {
	require.NoError(f.t, f.collateral.Credit(account, dec(amount)))
}

// openPosition funds, deposits and trades in one step.
func (f *fixture) openPosition(account, margin, size string) {
	f.t.Helper()
	f.fund(account, margin)
	require.NoError(f.t, f.market.TransferMargin(account, dec(margin)))
	require.NoError(f.t, f.market.ModifyPosition(account, dec(size)))
}

// checkAggregateInvariants verifies the aggregate matches a full ledger
// scan: skew == Σ size and size == Σ abs(size).
func (f *fixture) checkAggregateInvariants() {
	f.t.Helper()

	sumSize := decimal.Zero
	sumAbs := decimal.Zero
	f.market.ledger.ForEach(func(p Position) {
		sumSize = sumSize.Add(p.Size)
		sumAbs = sumAbs.Add(p.Size.Abs())
	})
	require.True(f.t, f.market.aggregate.Skew().Equal(sumSize),
		"skew %s != sum of sizes %s", f.market.aggregate.Skew(), sumSize)
	require.True(f.t, f.market.aggregate.Size().Equal(sumAbs),
		"size %s != sum of abs sizes %s", f.market.aggregate.Size(), sumAbs)
}
