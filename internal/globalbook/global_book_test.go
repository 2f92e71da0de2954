package globalbook

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sibyl/internal/common"
)

func newOrder(marketID uuid.UUID, side common.Side, typ common.OrderType, price, qty string) *common.Order {
	return &common.Order{
		ID:       uuid.New(),
		MarketID: marketID,
		UserID:   uuid.New(),
		Side:     side,
		Outcome:  common.OutcomeYes,
		Type:     typ,
		Price:    decimal.RequireFromString(price),
		Quantity: decimal.RequireFromString(qty),
		Status:   common.StatusOpen,
	}
}

func TestProcess_CreatesMarketOnFirstUse(t *testing.T) {
	g := New()
	marketID := uuid.New()

	order := newOrder(marketID, common.Buy, common.Limit, "0.5", "10")
	outs, err := g.Process(order, decimal.NewFromInt(100), decimal.Zero)

	require.NoError(t, err)
	assert.Empty(t, outs)

	// b=100 with 0.5×10 resting on YES bids: F_Y=5, F_N=0, so yes = 105/205.
	yes, no, ok := g.Prices(marketID)
	require.True(t, ok)
	assert.True(t, yes.Equal(decimal.NewFromInt(105).Div(decimal.NewFromInt(205))))
	_ = no
}

func TestProcess_RoutesMarketOrders(t *testing.T) {
	g := New()
	marketID := uuid.New()

	resting := newOrder(marketID, common.Sell, common.Limit, "0.55", "10")
	_, err := g.Process(resting, decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	taker := newOrder(marketID, common.Buy, common.Market, "0", "10")
	outs, err := g.Process(taker, decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.True(t, outs[0].FillPrice.Equal(decimal.RequireFromString("0.55")))
}

func TestRemove_CancelPath(t *testing.T) {
	g := New()
	marketID := uuid.New()

	resting := newOrder(marketID, common.Buy, common.Limit, "0.30", "10")
	_, err := g.Process(resting, decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	removed, err := g.Remove(marketID, resting.ID, resting.Outcome, resting.Side, resting.Price)
	require.NoError(t, err)
	assert.True(t, removed)

	snap, ok := g.Snapshot(marketID)
	require.True(t, ok)
	assert.Empty(t, snap.YesBids)
}

func TestRemove_UnknownMarket(t *testing.T) {
	g := New()
	_, err := g.Remove(uuid.New(), uuid.New(), common.OutcomeYes, common.Buy, decimal.Zero)
	assert.ErrorIs(t, err, ErrMarketNotLoaded)
}

func TestEnsureMarketThenRest_Rehydration(t *testing.T) {
	g := New()
	marketID := uuid.New()

	_, err := g.EnsureMarket(marketID, decimal.NewFromInt(50))
	require.NoError(t, err)

	order := newOrder(marketID, common.Buy, common.Limit, "0.40", "5")
	require.NoError(t, g.Rest(order))

	snap, ok := g.Snapshot(marketID)
	require.True(t, ok)
	require.Len(t, snap.YesBids, 1)
	assert.True(t, snap.YesBids[0].Shares.Equal(decimal.RequireFromString("5")))
}

// Concurrent Process calls across distinct markets must not race or
// corrupt the map — exercised under -race.
func TestProcess_ConcurrentDistinctMarkets(t *testing.T) {
	g := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		marketID := uuid.New()
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			order := newOrder(id, common.Buy, common.Limit, "0.5", "1")
			_, _ = g.Process(order, decimal.NewFromInt(10), decimal.Zero)
		}(marketID)
	}
	wg.Wait()
}
