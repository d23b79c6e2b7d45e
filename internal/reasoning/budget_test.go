package reasoning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudget_RateLimit(t *testing.T) {
	now := time.Now()
	b := NewBudget(1.0, 3)
	b.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Reserve(), "request %d should fit the window", i)
	}
	err := b.Reserve()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, 0, b.Remaining())
}

func TestBudget_WindowRollsOver(t *testing.T) {
	now := time.Now()
	b := NewBudget(1.0, 2)
	b.now = func() time.Time { return now }

	require.NoError(t, b.Reserve())
	require.NoError(t, b.Reserve())
	require.ErrorIs(t, b.Reserve(), ErrRateLimitExceeded)

	now = now.Add(61 * time.Second)
	assert.Equal(t, 2, b.Remaining())
	require.NoError(t, b.Reserve())
}

func TestBudget_CostCeiling(t *testing.T) {
	b := NewBudget(0.5, 10)
	assert.False(t, b.Exceeded())

	b.AddCost(0.3)
	assert.False(t, b.Exceeded())
	assert.InDelta(t, 0.3, b.Cost(), 1e-9)

	b.AddCost(0.25)
	assert.True(t, b.Exceeded())
}

func TestBudget_ResetClearsCostOnly(t *testing.T) {
	now := time.Now()
	b := NewBudget(1.0, 1)
	b.now = func() time.Time { return now }

	require.NoError(t, b.Reserve())
	b.AddCost(0.9)

	b.Reset()
	assert.Equal(t, 0.0, b.Cost())
	// The rate window is shared process-wide and survives Reset.
	assert.ErrorIs(t, b.Reserve(), ErrRateLimitExceeded)
}
