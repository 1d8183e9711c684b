package perp

import "errors"

// Engine errors. Every mutating operation fails with exactly one of these
// and leaves market state untouched.
var (
	ErrInvalidPrice          = errors.New("invalid price")
	ErrPriceTooVolatile      = errors.New("price too volatile")
	ErrInsufficientMargin    = errors.New("insufficient margin")
	ErrMaxLeverageExceeded   = errors.New("max leverage exceeded")
	ErrMaxMarketSizeExceeded = errors.New("max market size exceeded")
	ErrNilOrder              = errors.New("nil order")
	ErrNoPositionOpen        = errors.New("no position open")
	ErrCanLiquidate          = errors.New("position can be liquidated")
	ErrCannotLiquidate       = errors.New("position cannot be liquidated")
	ErrNotPermitted          = errors.New("not permitted")

	// ErrInsufficientBalance is returned by the collateral ledger when an
	// account cannot cover a debit.
	ErrInsufficientBalance = errors.New("insufficient balance")
)
