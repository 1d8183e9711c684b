package perp

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerAssignIDIfAbsent(t *testing.T) {
	l := NewPositionLedger()

	id1 := l.AssignIDIfAbsent("alice")
	assert.Equal(t, uint64(1), id1)

	t.Run("Idempotent", func(t *testing.T) {
		assert.Equal(t, uint64(1), l.AssignIDIfAbsent("alice"))
		assert.Equal(t, uint64(2), l.NextID())
	})

	t.Run("StrictlyIncreasing", func(t *testing.T) {
		assert.Equal(t, uint64(2), l.AssignIDIfAbsent("bob"))
		assert.Equal(t, uint64(3), l.AssignIDIfAbsent("carol"))
	})

	t.Run("StableAcrossClear", func(t *testing.T) {
		l.Write("alice", dec("1000"), dec("5"), dec("100"), 0)
		l.Clear("alice")
		assert.Equal(t, uint64(1), l.AssignIDIfAbsent("alice"))
	})
}

func TestLedgerGet(t *testing.T) {
	l := NewPositionLedger()

	t.Run("UnknownAccountIsZero", func(t *testing.T) {
		pos := l.Get("nobody")
		assert.Equal(t, uint64(0), pos.ID)
		assert.True(t, pos.Size.IsZero())
		assert.True(t, pos.Margin.IsZero())
	})

	t.Run("ReturnsSnapshot", func(t *testing.T) {
		l.AssignIDIfAbsent("alice")
		l.Write("alice", dec("1000"), dec("5"), dec("100"), 2)

		pos := l.Get("alice")
		pos.Margin = dec("9999") // mutating the copy must not leak

		again := l.Get("alice")
		assert.True(t, again.Margin.Equal(dec("1000")))
		assert.Equal(t, 2, again.LastFundingIndex)
	})
}

func TestLedgerOpenCount(t *testing.T) {
	l := NewPositionLedger()
	l.AssignIDIfAbsent("alice")
	l.AssignIDIfAbsent("bob")
	require.Equal(t, 0, l.OpenCount())

	l.Write("alice", dec("1000"), dec("5"), dec("100"), 0)
	l.Write("bob", dec("500"), dec("-3"), dec("100"), 0)
	assert.Equal(t, 2, l.OpenCount())

	// Rewriting an open position does not double count.
	l.Write("alice", dec("1000"), dec("7"), dec("100"), 1)
	assert.Equal(t, 2, l.OpenCount())

	l.Write("alice", dec("1000"), decimal.Zero, dec("100"), 1)
	assert.Equal(t, 1, l.OpenCount())

	l.Clear("bob")
	assert.Equal(t, 0, l.OpenCount())
}

func TestLedgerMinOpenFundingIndex(t *testing.T) {
	l := NewPositionLedger()

	_, ok := l.MinOpenFundingIndex()
	assert.False(t, ok)

	l.AssignIDIfAbsent("alice")
	l.AssignIDIfAbsent("bob")
	l.AssignIDIfAbsent("carol")
	l.Write("alice", dec("1000"), dec("5"), dec("100"), 7)
	l.Write("bob", dec("500"), dec("-3"), dec("100"), 3)
	l.Write("carol", dec("200"), decimal.Zero, dec("100"), 1) // flat, ignored

	min, ok := l.MinOpenFundingIndex()
	require.True(t, ok)
	assert.Equal(t, 3, min)
}
