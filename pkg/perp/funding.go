package perp

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	one            = decimal.NewFromInt(1)
	secondsPerDay  = decimal.NewFromInt(86400)
	negativeOne    = decimal.NewFromInt(-1)
	leverageBuffer = decimal.RequireFromString("0.01") // tolerance on the max leverage gate
)

// FundingTracker computes the instantaneous funding rate from skew and
// maintains the cumulative funding-per-unit sequence. Entries below the
// base offset have been compacted away; indices handed out to positions
// are absolute and stay valid across compaction. Not safe for concurrent
// use: the owning market serializes access.
type FundingTracker struct {
	sequence         []decimal.Decimal // sequence[i] holds entry base+i
	base             int
	lastRecomputedAt time.Time
}

// NewFundingTracker starts a sequence with a single zero entry at index 0.
func NewFundingTracker(now time.Time) *FundingTracker {
	return &FundingTracker{
		sequence:         []decimal.Decimal{decimal.Zero},
		lastRecomputedAt: now,
	}
}

// CurrentFundingRate returns the instantaneous daily funding rate:
// -clamp(skew*price/skewScaleUSD, -1, 1) * maxFundingRate. Net longs pay
// net shorts, so positive skew yields a negative rate.
func CurrentFundingRate(skew, price decimal.Decimal, params Parameters) decimal.Decimal {
	if !params.SkewScaleUSD.IsPositive() {
		return decimal.Zero
	}
	ratio := skew.Mul(price).Div(params.SkewScaleUSD)
	if ratio.GreaterThan(one) {
		ratio = one
	} else if ratio.LessThan(negativeOne) {
		ratio = negativeOne
	}
	return ratio.Neg().Mul(params.MaxFundingRate)
}

// UnrecordedFunding returns the funding per unit of position size accrued
// since the last recompute: rate * price * elapsed time in days.
func (f *FundingTracker) UnrecordedFunding(skew, price decimal.Decimal, params Parameters, now time.Time) decimal.Decimal {
	elapsed := now.Sub(f.lastRecomputedAt)
	if elapsed <= 0 {
		return decimal.Zero
	}
	days := decimal.New(elapsed.Nanoseconds(), -9).Div(secondsPerDay)
	return CurrentFundingRate(skew, price, params).Mul(price).Mul(days)
}

// Recompute appends the next cumulative entry and advances the timestamp.
// This is the single settlement point: it must run before any operation
// that reads or writes margin. With zero elapsed time the sequence is left
// alone. Returns the latest index, the rate used, and whether an entry was
// appended.
func (f *FundingTracker) Recompute(skew, price decimal.Decimal, params Parameters, now time.Time) (int, decimal.Decimal, bool) {
	rate := CurrentFundingRate(skew, price, params)
	if !now.After(f.lastRecomputedAt) {
		return f.LastIndex(), rate, false
	}
	unrecorded := f.UnrecordedFunding(skew, price, params, now)
	f.sequence = append(f.sequence, f.last().Add(unrecorded))
	f.lastRecomputedAt = now
	return f.LastIndex(), rate, true
}

// LastIndex returns the absolute index of the latest sequence entry.
func (f *FundingTracker) LastIndex() int {
	return f.base + len(f.sequence) - 1
}

// ValueAt returns the cumulative funding per unit at an absolute index.
// Indices older than the compaction base resolve to the oldest retained
// entry.
func (f *FundingTracker) ValueAt(index int) decimal.Decimal {
	i := index - f.base
	if i < 0 {
		i = 0
	} else if i >= len(f.sequence) {
		i = len(f.sequence) - 1
	}
	return f.sequence[i]
}

// NetFundingPerUnit returns the funding accrued per unit of position size
// between fromIndex and the latest entry.
func (f *FundingTracker) NetFundingPerUnit(fromIndex int) decimal.Decimal {
	return f.last().Sub(f.ValueAt(fromIndex))
}

// LastRecomputedAt returns the timestamp of the latest settlement point.
func (f *FundingTracker) LastRecomputedAt() time.Time {
	return f.lastRecomputedAt
}

// Len returns the number of retained sequence entries.
func (f *FundingTracker) Len() int {
	return len(f.sequence)
}

// Compact drops entries below minLiveIndex, which must be the smallest
// lastFundingIndex still referenced by an open position. The latest entry
// is always retained. Returns the number of entries dropped.
func (f *FundingTracker) Compact(minLiveIndex int) int {
	newBase := minLiveIndex
	if max := f.LastIndex(); newBase > max {
		newBase = max
	}
	if newBase <= f.base {
		return 0
	}
	dropped := newBase - f.base
	f.sequence = append([]decimal.Decimal(nil), f.sequence[dropped:]...)
	f.base = newBase
	return dropped
}

func (f *FundingTracker) last() decimal.Decimal {
	return f.sequence[len(f.sequence)-1]
}
