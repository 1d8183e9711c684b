package perp

import (
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/shopspring/decimal"
)

// Market orchestrates the ledger, funding, fee, aggregate and liquidation
// components into the externally callable operations. Every public
// operation runs as one exclusive critical section over the market state:
// the price is read once, funding is settled exactly once, every
// precondition is validated before any stored field mutates, and failures
// leave state unchanged.
type Market struct {
	key string

	mu        sync.Mutex
	ledger    *PositionLedger
	funding   *FundingTracker
	aggregate *MarketAggregate

	feed       PriceFeed
	settings   Settings
	collateral CollateralLedger
	feePool    FeePool
	gate       SuspensionGate
	sink       EventSink
	logger     log.Logger
	now        func() time.Time
}

// MarketConfig carries the collaborators a Market is constructed with.
// Collaborators are fixed at construction; there is no runtime lookup.
type MarketConfig struct {
	Key        string
	Feed       PriceFeed
	Settings   Settings
	Collateral CollateralLedger
	FeePool    FeePool
	Gate       SuspensionGate
	Sink       EventSink  // optional, defaults to NopSink
	Logger     log.Logger // optional, defaults to a no-op logger
	Now        func() time.Time
}

// NewMarket creates a market with an empty ledger and a fresh funding
// sequence.
func NewMarket(cfg MarketConfig) (*Market, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("market key required")
	}
	if cfg.Feed == nil || cfg.Settings == nil || cfg.Collateral == nil || cfg.FeePool == nil || cfg.Gate == nil {
		return nil, fmt.Errorf("market %s: missing collaborator", cfg.Key)
	}
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNoOpLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Market{
		key:        cfg.Key,
		ledger:     NewPositionLedger(),
		funding:    NewFundingTracker(cfg.Now()),
		aggregate:  NewMarketAggregate(),
		feed:       cfg.Feed,
		settings:   cfg.Settings,
		collateral: cfg.Collateral,
		feePool:    cfg.FeePool,
		gate:       cfg.Gate,
		sink:       cfg.Sink,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}, nil
}

// Key returns the market key.
func (m *Market) Key() string {
	return m.key
}

// TransferMargin deposits (positive delta) or withdraws (negative delta)
// collateral for an account, folding accrued profit/loss and funding into
// the stored margin. A zero delta performs only the fold and is safe to
// call repeatedly. Withdrawals are capped by the accessible margin.
func (m *Market) TransferMargin(account string, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gate.IsSuspended(m.key) {
		return ErrNotPermitted
	}
	price, invalid := m.feed.AssetPrice()
	if invalid {
		return ErrInvalidPrice
	}
	params := m.settings.Parameters()
	m.recomputeFunding(price, params)

	pos := m.ledger.Get(account)
	if pos.ID == 0 && delta.IsZero() {
		return nil
	}

	remaining := RemainingMargin(pos, price, m.funding)
	newMargin := remaining.Add(delta)
	if newMargin.IsNegative() {
		return ErrInsufficientMargin
	}
	if delta.IsNegative() && pos.IsOpen() {
		accessible := AccessibleMargin(pos, price, m.funding, params)
		if delta.Neg().GreaterThan(accessible) {
			return ErrInsufficientMargin
		}
	}

	// Move the currency before touching position state; a failed debit
	// must leave the position untouched.
	switch delta.Sign() {
	case 1:
		if err := m.collateral.Debit(account, delta); err != nil {
			return fmt.Errorf("debit margin: %w", err)
		}
	case -1:
		if err := m.collateral.Credit(account, delta.Neg()); err != nil {
			return fmt.Errorf("credit margin: %w", err)
		}
	}

	m.ledger.AssignIDIfAbsent(account)

	// An open position rolls its pnl/funding basis forward; a flat one has
	// no basis to roll.
	basisPrice, basisIndex := pos.LastPrice, pos.LastFundingIndex
	if pos.IsOpen() {
		basisPrice, basisIndex = price, m.funding.LastIndex()
	}
	m.ledger.Write(account, newMargin, pos.Size, basisPrice, basisIndex)
	m.aggregate.ApplyPositionChange(pos.Size, pos.Margin, pos.LastPrice, pos.Size, newMargin, basisPrice)

	m.sink.Publish(MarginTransferred{
		Account:   account,
		Delta:     delta,
		Timestamp: m.now(),
	})
	m.logger.Debug("margin transferred", "market", m.key, "account", account, "delta", delta.String())
	return nil
}

// ModifyPosition executes a trade of sizeDelta at the current oracle
// price, charging the order fee to the position's margin.
func (m *Market) ModifyPosition(account string, sizeDelta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sizeDelta.IsZero() {
		return ErrNilOrder
	}
	return m.tradeLocked(account, sizeDelta)
}

// ClosePosition closes the account's open position entirely, charging the
// same fee a voluntary trade of the full size would pay.
func (m *Market) ClosePosition(account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos := m.ledger.Get(account)
	if !pos.IsOpen() {
		return ErrNoPositionOpen
	}
	return m.tradeLocked(account, pos.Size.Neg())
}

// tradeLocked runs the shared trade path. Callers hold the market lock
// and have rejected zero size deltas.
func (m *Market) tradeLocked(account string, sizeDelta decimal.Decimal) error {
	if m.gate.IsSuspended(m.key) {
		return ErrNotPermitted
	}
	price, invalid := m.feed.AssetPrice()
	if invalid {
		return ErrInvalidPrice
	}
	dynamicRate, tooVolatile := m.feed.DynamicFeeRate()
	if tooVolatile {
		return ErrPriceTooVolatile
	}
	params := m.settings.Parameters()
	m.recomputeFunding(price, params)

	pos := m.ledger.Get(account)
	if CanLiquidate(pos, price, m.funding, params) {
		return ErrCanLiquidate
	}

	fee := OrderFee(sizeDelta, price, dynamicRate, params.BaseFee)
	remaining := RemainingMargin(pos, price, m.funding)
	newMargin := remaining.Sub(fee)
	if newMargin.IsNegative() {
		return ErrInsufficientMargin
	}

	newSize := pos.Size.Add(sizeDelta)
	if !newSize.IsZero() {
		// Leverage is measured against margin before the fee, with a
		// 0.01x allowance for fee rounding.
		if remaining.IsZero() {
			return ErrInsufficientMargin
		}
		leverage := newSize.Abs().Mul(price).Div(remaining)
		if leverage.GreaterThan(params.MaxLeverage.Add(leverageBuffer)) {
			return ErrMaxLeverageExceeded
		}
	}
	if pos.Size.IsZero() && !newSize.IsZero() && newMargin.LessThan(params.MinInitialMargin) {
		return ErrInsufficientMargin
	}
	if m.aggregate.OrderSizeTooLarge(price, pos.Size, newSize, params) {
		return ErrMaxMarketSizeExceeded
	}

	if fee.IsPositive() {
		m.feePool.ReceiveFees(fee)
	}

	fundingIndex := m.funding.LastIndex()
	m.ledger.AssignIDIfAbsent(account)
	m.ledger.Write(account, newMargin, newSize, price, fundingIndex)
	m.aggregate.ApplyPositionChange(pos.Size, pos.Margin, pos.LastPrice, newSize, newMargin, price)

	written := m.ledger.Get(account)
	m.sink.Publish(PositionModified{
		ID:           written.ID,
		Account:      account,
		Margin:       newMargin,
		Size:         newSize,
		TradeSize:    sizeDelta,
		Price:        price,
		FundingIndex: fundingIndex,
		Fee:          fee,
		Timestamp:    m.now(),
	})
	m.logger.Debug("position modified",
		"market", m.key, "account", account,
		"tradeSize", sizeDelta.String(), "size", newSize.String(),
		"price", price.String(), "fee", fee.String())
	return nil
}

// Liquidate force-closes an undercollateralized position. The executor is
// paid min(remainingMargin, liquidationFee) in margin currency; any
// surplus margin is routed to the fee pool.
func (m *Market) Liquidate(account, executor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gate.IsSuspended(m.key) {
		return ErrNotPermitted
	}
	price, invalid := m.feed.AssetPrice()
	if invalid {
		return ErrInvalidPrice
	}
	params := m.settings.Parameters()
	m.recomputeFunding(price, params)

	pos := m.ledger.Get(account)
	if !CanLiquidate(pos, price, m.funding, params) {
		return ErrCannotLiquidate
	}

	remaining := RemainingMargin(pos, price, m.funding)
	fee := LiquidationFee(pos, price, params)
	if fee.GreaterThan(remaining) {
		fee = remaining
	}

	if fee.IsPositive() {
		if err := m.collateral.Credit(executor, fee); err != nil {
			return fmt.Errorf("pay keeper fee: %w", err)
		}
	}
	if surplus := remaining.Sub(fee); surplus.IsPositive() {
		m.feePool.ReceiveFees(surplus)
	}

	m.aggregate.ApplyPositionChange(pos.Size, pos.Margin, pos.LastPrice, decimal.Zero, decimal.Zero, price)
	m.ledger.Clear(account)

	m.sink.Publish(PositionLiquidated{
		ID:        pos.ID,
		Account:   account,
		Executor:  executor,
		Size:      pos.Size,
		Price:     price,
		Fee:       fee,
		Timestamp: m.now(),
	})
	m.logger.Info("position liquidated",
		"market", m.key, "account", account, "executor", executor,
		"size", pos.Size.String(), "price", price.String(), "fee", fee.String())
	return nil
}

// recomputeFunding is the settlement point: it appends the next cumulative
// funding entry before any margin read or write. Call with the lock held.
func (m *Market) recomputeFunding(price decimal.Decimal, params Parameters) {
	index, rate, appended := m.funding.Recompute(m.aggregate.Skew(), price, params, m.now())
	if !appended {
		return
	}
	m.sink.Publish(FundingRecomputed{
		FundingIndex: index,
		Rate:         rate,
		Timestamp:    m.funding.LastRecomputedAt(),
	})
}

// Position returns a snapshot of the account's position.
func (m *Market) Position(account string) Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Get(account)
}

// RemainingMargin returns the account's margin with unrealized pnl and
// funding folded in, at the current price.
func (m *Market) RemainingMargin(account string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	price, invalid := m.feed.AssetPrice()
	if invalid {
		return decimal.Zero, ErrInvalidPrice
	}
	return RemainingMargin(m.ledger.Get(account), price, m.funding), nil
}

// AccessibleMargin returns the withdrawable portion of the account's
// remaining margin.
func (m *Market) AccessibleMargin(account string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	price, invalid := m.feed.AssetPrice()
	if invalid {
		return decimal.Zero, ErrInvalidPrice
	}
	return AccessibleMargin(m.ledger.Get(account), price, m.funding, m.settings.Parameters()), nil
}

// CanLiquidate reports whether the account's position is currently
// liquidatable. Liquidation is disallowed while the price is invalid.
func (m *Market) CanLiquidate(account string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	price, invalid := m.feed.AssetPrice()
	if invalid {
		return false
	}
	return CanLiquidate(m.ledger.Get(account), price, m.funding, m.settings.Parameters())
}

// ApproxLiquidationPrice returns the advisory liquidation price estimate
// for the account, including funding accrued but not yet recorded.
func (m *Market) ApproxLiquidationPrice(account string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	price, invalid := m.feed.AssetPrice()
	if invalid {
		return decimal.Zero, ErrInvalidPrice
	}
	params := m.settings.Parameters()
	pos := m.ledger.Get(account)
	fundingPerUnit := m.funding.NetFundingPerUnit(pos.LastFundingIndex).
		Add(m.funding.UnrecordedFunding(m.aggregate.Skew(), price, params, m.now()))
	return ApproxLiquidationPrice(pos, price, fundingPerUnit, params), nil
}

// CurrentFundingRate returns the instantaneous daily funding rate.
func (m *Market) CurrentFundingRate() (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	price, invalid := m.feed.AssetPrice()
	if invalid {
		return decimal.Zero, ErrInvalidPrice
	}
	return CurrentFundingRate(m.aggregate.Skew(), price, m.settings.Parameters()), nil
}

// MaxOrderSizes returns the largest admissible long and short order sizes
// at the current price.
func (m *Market) MaxOrderSizes() (long, short decimal.Decimal, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	price, invalid := m.feed.AssetPrice()
	if invalid {
		return decimal.Zero, decimal.Zero, ErrInvalidPrice
	}
	long, short = m.aggregate.MaxOrderSizes(price, m.settings.Parameters())
	return long, short, nil
}

// MarketSummary is an O(1) snapshot of aggregate market state.
type MarketSummary struct {
	Key           string          `json:"key"`
	Price         decimal.Decimal `json:"price"`
	PriceInvalid  bool            `json:"priceInvalid"`
	Skew          decimal.Decimal `json:"skew"`
	Size          decimal.Decimal `json:"size"`
	MarketDebt    decimal.Decimal `json:"marketDebt"`
	FundingRate   decimal.Decimal `json:"fundingRate"`
	FundingIndex  int             `json:"fundingIndex"`
	OpenPositions int             `json:"openPositions"`
	NextOrderID   uint64          `json:"nextOrderId"`
}

// Summary returns the current market summary. With an invalid price the
// price-dependent fields are zero.
func (m *Market) Summary() MarketSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := MarketSummary{
		Key:           m.key,
		Skew:          m.aggregate.Skew(),
		Size:          m.aggregate.Size(),
		FundingIndex:  m.funding.LastIndex(),
		OpenPositions: m.ledger.OpenCount(),
		NextOrderID:   m.ledger.NextID(),
	}
	price, invalid := m.feed.AssetPrice()
	s.Price, s.PriceInvalid = price, invalid
	if !invalid {
		s.MarketDebt = m.aggregate.MarketDebt(price)
		s.FundingRate = CurrentFundingRate(m.aggregate.Skew(), price, m.settings.Parameters())
	}
	return s
}

// CompactFunding drops funding sequence entries no open position
// references and returns the number dropped.
func (m *Market) CompactFunding() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	minLive, ok := m.ledger.MinOpenFundingIndex()
	if !ok {
		minLive = m.funding.LastIndex()
	}
	dropped := m.funding.Compact(minLive)
	if dropped > 0 {
		m.logger.Debug("funding sequence compacted", "market", m.key, "dropped", dropped)
	}
	return dropped
}
