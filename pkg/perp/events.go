package perp

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Event is an observability record emitted after a successful state
// transition. Events never drive internal control flow.
type Event interface {
	// Type is a short stable identifier, used as a routing key by sinks.
	Type() string
}

// PositionModified is emitted whenever a trade changes a position.
type PositionModified struct {
	ID           uint64          `json:"id"`
	Account      string          `json:"account"`
	Margin       decimal.Decimal `json:"margin"`
	Size         decimal.Decimal `json:"size"`
	TradeSize    decimal.Decimal `json:"tradeSize"`
	Price        decimal.Decimal `json:"price"`
	FundingIndex int             `json:"fundingIndex"`
	Fee          decimal.Decimal `json:"fee"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Type implements Event.
func (PositionModified) Type() string { return "position_modified" }

// PositionLiquidated is emitted when a position is force-closed.
type PositionLiquidated struct {
	ID        uint64          `json:"id"`
	Account   string          `json:"account"`
	Executor  string          `json:"executor"`
	Size      decimal.Decimal `json:"size"`
	Price     decimal.Decimal `json:"price"`
	Fee       decimal.Decimal `json:"fee"`
	Timestamp time.Time       `json:"timestamp"`
}

// Type implements Event.
func (PositionLiquidated) Type() string { return "position_liquidated" }

// FundingRecomputed is emitted when a new funding sequence entry is
// appended.
type FundingRecomputed struct {
	FundingIndex int             `json:"fundingIndex"`
	Rate         decimal.Decimal `json:"rate"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Type implements Event.
func (FundingRecomputed) Type() string { return "funding_recomputed" }

// MarginTransferred is emitted when collateral moves in or out of a
// position.
type MarginTransferred struct {
	Account   string          `json:"account"`
	Delta     decimal.Decimal `json:"delta"`
	Timestamp time.Time       `json:"timestamp"`
}

// Type implements Event.
func (MarginTransferred) Type() string { return "margin_transferred" }

// EventSink consumes emitted events. Publish is called while the market
// lock is held, so implementations must not call back into the market.
type EventSink interface {
	Publish(ev Event)
}

// NopSink drops all events.
type NopSink struct{}

// Publish implements EventSink.
func (NopSink) Publish(Event) {}

// MemorySink records events in order, for tests and inspection.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Publish implements EventSink.
func (s *MemorySink) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns a copy of everything published so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// MultiSink fans events out to several sinks.
type MultiSink []EventSink

// Publish implements EventSink.
func (m MultiSink) Publish(ev Event) {
	for _, s := range m {
		s.Publish(ev)
	}
}
