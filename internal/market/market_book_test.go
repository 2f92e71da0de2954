package market

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sibyl/internal/common"
)

func newLimitOrder(side common.Side, outcome common.Outcome, price, qty string) *common.Order {
	return &common.Order{
		ID:       uuid.New(),
		UserID:   uuid.New(),
		Side:     side,
		Outcome:  outcome,
		Type:     common.Limit,
		Price:    decimal.RequireFromString(price),
		Quantity: decimal.RequireFromString(qty),
		Status:   common.StatusOpen,
	}
}

// S4 — LMSR price response.
func TestMarketBook_S4_LMSRPriceResponse(t *testing.T) {
	mb, err := NewMarketBook(decimal.NewFromInt(100))
	require.NoError(t, err)

	order := newLimitOrder(common.Buy, common.OutcomeYes, "0.5", "10")
	mb.ProcessLimit(order)

	sum := mb.CurrentYesPrice.Add(mb.CurrentNoPrice)
	assert.True(t, sum.Sub(decimal.NewFromInt(1)).Abs().LessThan(decimal.NewFromFloat(0.0001)), "yes+no should sum to 1, got %s", sum)

	expectedYes := decimal.RequireFromString("105").Div(decimal.RequireFromString("205"))
	diff := mb.CurrentYesPrice.Sub(expectedYes).Abs()
	assert.True(t, diff.LessThan(decimal.NewFromFloat(0.001)), "expected yes ~%s, got %s", expectedYes, mb.CurrentYesPrice)
}

// S5 — Midpoint fallback with one-sided info.
func TestMarketBook_S5_MidpointOneSided(t *testing.T) {
	mb, err := NewMarketBook(decimal.Zero)
	require.NoError(t, err)

	order := newLimitOrder(common.Buy, common.OutcomeYes, "0.40", "10")
	mb.ProcessLimit(order)

	assert.True(t, mb.CurrentYesPrice.Equal(decimal.RequireFromString("0.40")))
	assert.True(t, mb.CurrentNoPrice.Equal(decimal.RequireFromString("0.60")))
}

func TestMarketBook_Midpoint_NoInformation(t *testing.T) {
	mb, err := NewMarketBook(decimal.Zero)
	require.NoError(t, err)

	assert.True(t, mb.CurrentYesPrice.Equal(decimal.NewFromFloat(0.5)))
	assert.True(t, mb.CurrentNoPrice.Equal(decimal.NewFromFloat(0.5)))
}

func TestMarketBook_Midpoint_BothSidesPresent(t *testing.T) {
	mb, err := NewMarketBook(decimal.Zero)
	require.NoError(t, err)

	mb.ProcessLimit(newLimitOrder(common.Buy, common.OutcomeYes, "0.40", "10"))
	mb.ProcessLimit(newLimitOrder(common.Sell, common.OutcomeYes, "0.60", "10"))

	sum := mb.CurrentYesPrice.Add(mb.CurrentNoPrice)
	assert.True(t, sum.Equal(decimal.NewFromInt(1)))
}

func TestMarketBook_NegativeLiquidityRejected(t *testing.T) {
	_, err := NewMarketBook(decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, ErrInvalidLiquidity)
}

func TestMarketBook_CreateMarket_BudgetCapsSpend(t *testing.T) {
	mb, err := NewMarketBook(decimal.Zero)
	require.NoError(t, err)

	mb.ProcessLimit(newLimitOrder(common.Sell, common.OutcomeYes, "0.50", "100"))

	taker := &common.Order{
		ID:       uuid.New(),
		UserID:   uuid.New(),
		Side:     common.Buy,
		Outcome:  common.OutcomeYes,
		Type:     common.Market,
		Quantity: decimal.NewFromInt(100),
		Status:   common.StatusOpen,
	}

	outs := mb.CreateMarket(taker, decimal.NewFromInt(10))

	require.Len(t, outs, 1)
	assert.True(t, outs[0].MatchQty.Equal(decimal.NewFromInt(20)), "10 budget / 0.50 price = 20 shares affordable")
	assert.Equal(t, common.StatusOpen, taker.Status)
}
