package perp

import (
	"github.com/shopspring/decimal"
)

// PositionLedger owns the account -> Position map and the monotonic id
// sequence. It performs no validation of its own; the market facade is
// responsible for every invariant. Not safe for concurrent use: the
// owning market serializes access.
type PositionLedger struct {
	positions map[string]*Position
	nextID    uint64
	openCount int
}

// NewPositionLedger creates an empty ledger. The first assigned id is 1.
func NewPositionLedger() *PositionLedger {
	return &PositionLedger{
		positions: make(map[string]*Position),
		nextID:    1,
	}
}

// Get returns a snapshot of the account's position. An account that has
// never deposited has id zero and all-zero fields.
func (l *PositionLedger) Get(account string) Position {
	if p, ok := l.positions[account]; ok {
		return *p
	}
	return Position{Account: account}
}

// AssignIDIfAbsent assigns the next position id to the account if it has
// none, and returns the account's id. Ids are never reused, and an
// account's id survives open/close/reopen cycles.
func (l *PositionLedger) AssignIDIfAbsent(account string) uint64 {
	if p, ok := l.positions[account]; ok {
		return p.ID
	}
	p := &Position{ID: l.nextID, Account: account}
	l.nextID++
	l.positions[account] = p
	return p.ID
}

// Write stores the account's margin, size and settlement basis. The
// account must already have an id.
func (l *PositionLedger) Write(account string, margin, size, price decimal.Decimal, fundingIndex int) {
	p := l.positions[account]
	if p == nil {
		return
	}
	wasOpen := p.IsOpen()
	p.Margin = margin
	p.Size = size
	p.LastPrice = price
	p.LastFundingIndex = fundingIndex

	if wasOpen && !p.IsOpen() {
		l.openCount--
	} else if !wasOpen && p.IsOpen() {
		l.openCount++
	}
}

// Clear zeroes the account's margin and size, keeping the id.
func (l *PositionLedger) Clear(account string) {
	p := l.positions[account]
	if p == nil {
		return
	}
	if p.IsOpen() {
		l.openCount--
	}
	p.Margin = decimal.Zero
	p.Size = decimal.Zero
}

// OpenCount returns the number of positions with nonzero size.
func (l *PositionLedger) OpenCount() int {
	return l.openCount
}

// NextID returns the id the next new account will receive.
func (l *PositionLedger) NextID() uint64 {
	return l.nextID
}

// ForEach visits every position that has ever been assigned an id.
func (l *PositionLedger) ForEach(fn func(Position)) {
	for _, p := range l.positions {
		fn(*p)
	}
}

// MinOpenFundingIndex returns the smallest lastFundingIndex among open
// positions, and false if no position is open.
func (l *PositionLedger) MinOpenFundingIndex() (int, bool) {
	found := false
	min := 0
	for _, p := range l.positions {
		if !p.IsOpen() {
			continue
		}
		if !found || p.LastFundingIndex < min {
			min = p.LastFundingIndex
			found = true
		}
	}
	return min, found
}
