package perp

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Parameters is the governance-mutable market configuration.
type Parameters struct {
	BaseFee                decimal.Decimal // taker fee rate, e.g. 0.003
	MaxLeverage            decimal.Decimal
	MaxSingleSideValueUSD  decimal.Decimal // cap per side of the market
	MaxFundingRate         decimal.Decimal // max daily funding rate
	SkewScaleUSD           decimal.Decimal // skew notional that saturates funding
	MinKeeperFee           decimal.Decimal
	LiquidationFeeRatio    decimal.Decimal
	LiquidationBufferRatio decimal.Decimal
	MinInitialMargin       decimal.Decimal
}

// Settings supplies market parameters. Implementations may mutate them at
// any time; the engine reads them fresh on every operation.
type Settings interface {
	Parameters() Parameters
}

// StaticSettings is a Settings backed by an in-memory snapshot.
type StaticSettings struct {
	mu     sync.RWMutex
	params Parameters
}

// NewStaticSettings creates settings holding the given parameters.
func NewStaticSettings(params Parameters) *StaticSettings {
	return &StaticSettings{params: params}
}

// Parameters returns the current parameter snapshot.
func (s *StaticSettings) Parameters() Parameters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// Update replaces the parameter snapshot.
func (s *StaticSettings) Update(params Parameters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = params
}

// DefaultParameters returns a sane configuration for a mid-cap market.
func DefaultParameters() Parameters {
	return Parameters{
		BaseFee:                decimal.RequireFromString("0.003"),
		MaxLeverage:            decimal.NewFromInt(10),
		MaxSingleSideValueUSD:  decimal.NewFromInt(1_000_000),
		MaxFundingRate:         decimal.RequireFromString("0.1"),
		SkewScaleUSD:           decimal.NewFromInt(1_000_000),
		MinKeeperFee:           decimal.NewFromInt(20),
		LiquidationFeeRatio:    decimal.RequireFromString("0.0035"),
		LiquidationBufferRatio: decimal.RequireFromString("0.0025"),
		MinInitialMargin:       decimal.NewFromInt(100),
	}
}
