package consumer

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sibyl/internal/bus"
	"sibyl/internal/common"
	"sibyl/internal/dispatch"
	"sibyl/internal/globalbook"
	"sibyl/internal/metrics"
	"sibyl/internal/settlement"
	"sibyl/internal/store"
)

type fakeOrderStore struct {
	mu      sync.Mutex
	orders  map[uuid.UUID]*common.Order
	updates []statusUpdate
}

type statusUpdate struct {
	id     uuid.UUID
	status common.OrderStatus
	filled decimal.Decimal
}

func newFakeOrderStore(orders ...*common.Order) *fakeOrderStore {
	m := make(map[uuid.UUID]*common.Order)
	for _, o := range orders {
		m[o.ID] = o
	}
	return &fakeOrderStore{orders: m}
}

func (f *fakeOrderStore) GetOrder(_ context.Context, id uuid.UUID) (*common.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, store.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrderStore) ListOpenOrders(context.Context) ([]*common.Order, error) { return nil, nil }

func (f *fakeOrderStore) UpdateOrderStatus(_ context.Context, id uuid.UUID, status common.OrderStatus, filled decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, statusUpdate{id: id, status: status, filled: filled})
	if o, ok := f.orders[id]; ok {
		o.Status = status
		o.FilledQuantity = filled
	}
	return nil
}

type fakeMarketStore struct {
	market *common.Market
}

func (f *fakeMarketStore) GetMarket(context.Context, uuid.UUID) (*common.Market, error) {
	return f.market, nil
}
func (f *fakeMarketStore) ListOpenMarkets(context.Context) ([]*common.Market, error) { return nil, nil }

type fakeUserStore struct {
	balance decimal.Decimal
}

func (f *fakeUserStore) GetUser(_ context.Context, id uuid.UUID) (*common.User, error) {
	return &common.User{ID: id, Balance: f.balance}, nil
}

type fakeTx struct {
	mu        sync.Mutex
	committed bool
}

func (t *fakeTx) UpdateOppositeOrder(context.Context, uuid.UUID, common.OrderStatus, decimal.Decimal) error {
	return nil
}
func (t *fakeTx) InsertTrade(context.Context, *common.Trade) error { return nil }
func (t *fakeTx) AdjustHolding(context.Context, uuid.UUID, uuid.UUID, common.Outcome, decimal.Decimal) error {
	return nil
}
func (t *fakeTx) AdjustBalance(context.Context, uuid.UUID, decimal.Decimal) error { return nil }
func (t *fakeTx) Commit(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.committed = true
	return nil
}
func (t *fakeTx) Rollback(context.Context) error { return nil }

type fakeTxStore struct{}

func (fakeTxStore) BeginSettlement(context.Context) (store.Tx, error) {
	return &fakeTx{}, nil
}

type fakeDispatchDeps struct{}

func (fakeDispatchDeps) PublishPriceUpdate(context.Context, bus.PriceUpdate) error         { return nil }
func (fakeDispatchDeps) PublishOrderBookUpdate(context.Context, bus.OrderBookUpdate) error { return nil }
func (fakeDispatchDeps) PublishBookUpdate(context.Context, string, []byte) error           { return nil }
func (fakeDispatchDeps) Subscribed(string) bool                                           { return false }
func (fakeDispatchDeps) Broadcast(string, any)                                            {}

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
		Status:   common.StatusUnspecified,
	}
}

func TestProcessCreate_MatchesSettlesAndAcks(t *testing.T) {
	marketID := uuid.New()
	resting := newOrder(marketID, common.Sell, common.Limit, "0.55", "10")
	resting.Status = common.StatusOpen

	taker := newOrder(marketID, common.Buy, common.Limit, "0.55", "5")
	taker.Status = common.StatusUnspecified

	books := globalbook.New()
	_, err := books.EnsureMarket(marketID, decimal.Zero)
	require.NoError(t, err)
	require.NoError(t, books.Rest(resting))

	orders := newFakeOrderStore(taker, resting)
	markets := &fakeMarketStore{market: &common.Market{ID: marketID, LiquidityB: decimal.Zero}}
	users := &fakeUserStore{balance: decimal.NewFromInt(1000)}

	settle := settlement.New(orders, fakeTxStore{})
	d := dispatch.New(books, fakeDispatchDeps{}, fakeDispatchDeps{}, fakeDispatchDeps{}, nil)

	svc := New(nil, orders, markets, users, books, settle, d, nil)

	msg := &bus.Message{Subject: bus.SubjectOrderCreate, OrderID: taker.ID.String()}
	require.NoError(t, svc.process(context.Background(), msg))

	assert.Equal(t, common.StatusFilled, orders.orders[taker.ID].Status)
	assert.True(t, orders.orders[taker.ID].FilledQuantity.Equal(decimal.NewFromInt(5)))
}

func TestProcessCreate_RecordsMetrics(t *testing.T) {
	marketID := uuid.New()
	resting := newOrder(marketID, common.Sell, common.Limit, "0.55", "10")
	resting.Status = common.StatusOpen

	taker := newOrder(marketID, common.Buy, common.Limit, "0.55", "5")
	taker.Status = common.StatusUnspecified

	books := globalbook.New()
	_, err := books.EnsureMarket(marketID, decimal.Zero)
	require.NoError(t, err)
	require.NoError(t, books.Rest(resting))

	orders := newFakeOrderStore(taker, resting)
	markets := &fakeMarketStore{market: &common.Market{ID: marketID, LiquidityB: decimal.Zero}}
	users := &fakeUserStore{balance: decimal.NewFromInt(1000)}

	settle := settlement.New(orders, fakeTxStore{})
	d := dispatch.New(books, fakeDispatchDeps{}, fakeDispatchDeps{}, fakeDispatchDeps{}, nil)
	counters := metrics.New()

	svc := New(nil, orders, markets, users, books, settle, d, counters)

	msg := &bus.Message{Subject: bus.SubjectOrderCreate, OrderID: taker.ID.String()}
	require.NoError(t, svc.process(context.Background(), msg))

	assert.Equal(t, int64(1), counters.OrdersReceived.Load())
	assert.Equal(t, int64(1), counters.OrdersMatched.Load())
	assert.Equal(t, int64(2), counters.TradesSettled.Load())
}

func TestProcessCreate_AlreadyOpenShortCircuits(t *testing.T) {
	marketID := uuid.New()
	order := newOrder(marketID, common.Buy, common.Limit, "0.5", "1")
	order.Status = common.StatusOpen

	orders := newFakeOrderStore(order)
	markets := &fakeMarketStore{market: &common.Market{ID: marketID}}
	books := globalbook.New()
	settle := settlement.New(orders, fakeTxStore{})
	d := dispatch.New(books, fakeDispatchDeps{}, fakeDispatchDeps{}, fakeDispatchDeps{}, nil)

	svc := New(nil, orders, markets, &fakeUserStore{}, books, settle, d, nil)
	msg := &bus.Message{Subject: bus.SubjectOrderCreate, OrderID: order.ID.String()}

	require.NoError(t, svc.process(context.Background(), msg))
	assert.Empty(t, orders.updates)
}

func TestProcessCreate_UnknownOrderAcksAndDrops(t *testing.T) {
	orders := newFakeOrderStore()
	markets := &fakeMarketStore{}
	books := globalbook.New()
	settle := settlement.New(orders, fakeTxStore{})
	d := dispatch.New(books, fakeDispatchDeps{}, fakeDispatchDeps{}, fakeDispatchDeps{}, nil)

	svc := New(nil, orders, markets, &fakeUserStore{}, books, settle, d, nil)
	msg := &bus.Message{Subject: bus.SubjectOrderCreate, OrderID: uuid.New().String()}

	require.NoError(t, svc.process(context.Background(), msg))
}

func TestProcessCancel_RemovesFromBookAndCancels(t *testing.T) {
	marketID := uuid.New()
	order := newOrder(marketID, common.Buy, common.Limit, "0.5", "10")
	order.Status = common.StatusOpen

	books := globalbook.New()
	_, err := books.EnsureMarket(marketID, decimal.Zero)
	require.NoError(t, err)
	require.NoError(t, books.Rest(order))

	orders := newFakeOrderStore(order)
	markets := &fakeMarketStore{market: &common.Market{ID: marketID}}
	settle := settlement.New(orders, fakeTxStore{})
	d := dispatch.New(books, fakeDispatchDeps{}, fakeDispatchDeps{}, fakeDispatchDeps{}, nil)

	svc := New(nil, orders, markets, &fakeUserStore{}, books, settle, d, nil)
	msg := &bus.Message{Subject: bus.SubjectOrderCancel, OrderID: order.ID.String()}

	require.NoError(t, svc.process(context.Background(), msg))
	assert.Equal(t, common.StatusCancelled, orders.orders[order.ID].Status)
}
