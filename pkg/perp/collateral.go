package perp

import (
	"sync"

	"github.com/shopspring/decimal"
)

// CollateralLedger moves margin currency in and out of the market's
// custody. Debit and credit must each be atomic so that concurrent market
// instances sharing one ledger cannot double-spend margin.
type CollateralLedger interface {
	Debit(account string, amount decimal.Decimal) error
	Credit(account string, amount decimal.Decimal) error
}

// FeePool receives trading fees and liquidation surplus.
type FeePool interface {
	ReceiveFees(amount decimal.Decimal)
}

// SuspensionGate reports whether a market, or the whole system, is
// suspended.
type SuspensionGate interface {
	IsSuspended(marketKey string) bool
}

// SimpleCollateralLedger is an in-memory CollateralLedger guarded by a
// single mutex.
type SimpleCollateralLedger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

// NewSimpleCollateralLedger creates an empty ledger.
func NewSimpleCollateralLedger() *SimpleCollateralLedger {
	return &SimpleCollateralLedger{
		balances: make(map[string]decimal.Decimal),
	}
}

// Debit removes amount from an account, failing with
// ErrInsufficientBalance if the account cannot cover it.
func (l *SimpleCollateralLedger) Debit(account string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balances[account]
	if balance.LessThan(amount) {
		return ErrInsufficientBalance
	}
	l.balances[account] = balance.Sub(amount)
	return nil
}

// Credit adds amount to an account.
func (l *SimpleCollateralLedger) Credit(account string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[account] = l.balances[account].Add(amount)
	return nil
}

// Balance returns the current balance of an account.
func (l *SimpleCollateralLedger) Balance(account string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

// MemoryFeePool is a FeePool that accumulates fees in memory.
type MemoryFeePool struct {
	mu    sync.Mutex
	total decimal.Decimal
}

// NewMemoryFeePool creates an empty pool.
func NewMemoryFeePool() *MemoryFeePool {
	return &MemoryFeePool{}
}

// ReceiveFees implements FeePool.
func (p *MemoryFeePool) ReceiveFees(amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = p.total.Add(amount)
}

// Total returns the fees accumulated so far.
func (p *MemoryFeePool) Total() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// StaticGate is an in-memory SuspensionGate. The empty key suspends the
// whole system.
type StaticGate struct {
	mu        sync.RWMutex
	suspended map[string]bool
}

// NewStaticGate creates a gate with nothing suspended.
func NewStaticGate() *StaticGate {
	return &StaticGate{suspended: make(map[string]bool)}
}

// Suspend marks a market key as suspended.
func (g *StaticGate) Suspend(marketKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suspended[marketKey] = true
}

// Resume clears a suspension.
func (g *StaticGate) Resume(marketKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.suspended, marketKey)
}

// IsSuspended implements SuspensionGate.
func (g *StaticGate) IsSuspended(marketKey string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.suspended[""] || g.suspended[marketKey]
}
