// Package store defines the relational and time-series persistence
// contracts the matching core depends on (§6's Persistent schemas and
// Columnar time series), plus their Postgres/ClickHouse implementations.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sibyl/internal/common"
)

// ErrOrderNotFound and ErrMarketNotFound are the "not found" kind from
// §7: reported to the caller, no side effects.
var (
	ErrOrderNotFound  = errors.New("store: order not found")
	ErrMarketNotFound = errors.New("store: market not found")
	ErrUserNotFound   = errors.New("store: user not found")
)

// MarketStore reads market rows, including their liquidity_b, needed to
// route orders into the Global Book.
type MarketStore interface {
	GetMarket(ctx context.Context, id uuid.UUID) (*common.Market, error)
	ListOpenMarkets(ctx context.Context) ([]*common.Market, error)
}

// UserStore reads User rows, needed to cap a BUY market order's spend at
// the taker's current balance (§4.1/§4.2's budget parameter).
type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*common.User, error)
}

// OrderStore reads/writes Order rows.
type OrderStore interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*common.Order, error)
	ListOpenOrders(ctx context.Context) ([]*common.Order, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, status common.OrderStatus, filledQuantity decimal.Decimal) error
}

// Tx is one settlement transaction's handle: the set of effects §4.4 step
// 5 requires to commit together or not at all.
type Tx interface {
	UpdateOppositeOrder(ctx context.Context, orderID uuid.UUID, status common.OrderStatus, filledQuantity decimal.Decimal) error
	InsertTrade(ctx context.Context, trade *common.Trade) error
	AdjustHolding(ctx context.Context, userID, marketID uuid.UUID, outcome common.Outcome, deltaShares decimal.Decimal) error
	AdjustBalance(ctx context.Context, userID uuid.UUID, delta decimal.Decimal) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxStore begins a settlement transaction.
type TxStore interface {
	BeginSettlement(ctx context.Context) (Tx, error)
}

// TimeSeriesStore writes the ClickHouse-shaped columnar rows of §6.
type TimeSeriesStore interface {
	WritePriceUpdate(ctx context.Context, marketID uuid.UUID, yesPrice, noPrice decimal.Decimal, ts int64) error
	WriteOrderBookSnapshot(ctx context.Context, marketID uuid.UUID, ts int64, yesBids, yesAsks, noBids, noAsks []LevelRow) error
}

// LevelRow is one (price, shares, users) entry of a book-snapshot array
// column.
type LevelRow struct {
	Price  decimal.Decimal
	Shares decimal.Decimal
	Users  int
}
