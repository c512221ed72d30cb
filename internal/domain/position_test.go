package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/trade_engine/internal/domain"
)

func filledPosition() *domain.Position {
	return &domain.Position{
		ID:          "pos-1",
		Pair:        "ETH/BTC",
		StakeAmount: 0.001,
		Amount:      90.99181073703367,
		OpenRate:    0.00001099,
		Fee:         0.0025,
		IsOpen:      true,
		OpenedAt:    time.Date(2017, 11, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestPosition_ProfitOnClose(t *testing.T) {
	pos := filledPosition()

	assert.InDelta(t, 0.00006217, pos.Profit(0.00001173), 1e-9)
	assert.InDelta(t, 0.0620, pos.ProfitRatio(0.00001173), 1e-4)
}

func TestPosition_ProfitUpAndDown(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		profit   float64
		ratioPct float64
	}{
		{"Price Up", 0.00001172, 0.00006126, 6.11},
		{"Price Down", 0.00001044, -0.00005492, -5.48},
		{"Break Even Before Fees", 0.00001099, -0.00000500, -0.50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := filledPosition()
			assert.InDelta(t, tt.profit, pos.Profit(tt.rate), 1e-8)
			assert.InDelta(t, tt.ratioPct, pos.ProfitRatio(tt.rate)*100, 0.005)
		})
	}
}

func TestPosition_ApplyBuyThenSellFill(t *testing.T) {
	now := time.Date(2017, 11, 1, 12, 0, 0, 0, time.UTC)
	pos := &domain.Position{
		ID:          "pos-2",
		Pair:        "ETH/BTC",
		StakeAmount: 0.001,
		Fee:         0.0025,
		OpenOrderID: "buy-1",
		IsOpen:      true,
		OpenedAt:    now.Add(-time.Hour),
	}
	require.NoError(t, pos.Validate())
	assert.Equal(t, domain.SideBuy, pos.PendingSide())

	err := pos.ApplyFill(&domain.Order{ID: "buy-1", Rate: 0.00001099, Amount: 90.99181073, Filled: true}, now)
	require.NoError(t, err)
	assert.Equal(t, 0.00001099, pos.OpenRate)
	assert.Equal(t, 90.99181073, pos.Amount)
	assert.Empty(t, pos.OpenOrderID)
	assert.True(t, pos.IsOpen)
	require.NoError(t, pos.Validate())

	pos.OpenOrderID = "sell-1"
	assert.Equal(t, domain.SideSell, pos.PendingSide())
	err = pos.ApplyFill(&domain.Order{ID: "sell-1", Rate: 0.00001173, Amount: 90.99181073, Filled: true}, now)
	require.NoError(t, err)

	assert.False(t, pos.IsOpen)
	require.NotNil(t, pos.CloseRate)
	require.NotNil(t, pos.ClosedAt)
	require.NotNil(t, pos.CloseProfit)
	assert.Equal(t, 0.00001173, *pos.CloseRate)
	assert.InDelta(t, 0.0620, *pos.CloseProfit, 1e-4)
	assert.InDelta(t, 0.00006217, pos.Profit(0), 1e-8)
	assert.Equal(t, time.Hour, pos.Duration(now.Add(time.Hour)))
	require.NoError(t, pos.Validate())
}

func TestPosition_ApplyFillRejects(t *testing.T) {
	now := time.Now()

	t.Run("Unfilled Order", func(t *testing.T) {
		pos := &domain.Position{ID: "p", OpenOrderID: "o", IsOpen: true}
		assert.Error(t, pos.ApplyFill(&domain.Order{ID: "o"}, now))
	})

	t.Run("Foreign Order", func(t *testing.T) {
		pos := &domain.Position{ID: "p", OpenOrderID: "o", IsOpen: true}
		assert.Error(t, pos.ApplyFill(&domain.Order{ID: "other", Filled: true}, now))
	})

	t.Run("Closed Position", func(t *testing.T) {
		rate := 1.0
		pos := &domain.Position{ID: "p", OpenOrderID: "o", IsOpen: false, CloseRate: &rate, ClosedAt: &now}
		err := pos.ApplyFill(&domain.Order{ID: "o", Filled: true}, now)

		var closedErr *domain.ClosedPositionError
		require.True(t, errors.As(err, &closedErr))
		assert.Equal(t, "p", closedErr.PositionID)
		assert.ErrorIs(t, err, domain.ErrClosedPosition)
	})
}

func TestPosition_ValidateDetectsInconsistentClose(t *testing.T) {
	now := time.Now()
	pos := filledPosition()
	pos.ClosedAt = &now
	assert.Error(t, pos.Validate())

	pos = filledPosition()
	pos.IsOpen = false
	assert.Error(t, pos.Validate())

	pos = &domain.Position{ID: "p", IsOpen: true}
	assert.Error(t, pos.Validate(), "unfilled position needs an outstanding order")
}
