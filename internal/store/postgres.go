package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"sibyl/internal/common"
)

// Postgres is a pgxpool-backed implementation of MarketStore, OrderStore,
// and TxStore, covering the relational schemas of §6: markets, orders,
// user_trades, user_holdings, users.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool to databaseURL.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) GetMarket(ctx context.Context, id uuid.UUID) (*common.Market, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, name, description, logo, status, liquidity_b, final_outcome, market_expiry, created_at, updated_at
		FROM markets WHERE id = $1`, id)

	var m common.Market
	var status, finalOutcome string
	if err := row.Scan(&m.ID, &m.Name, &m.Description, &m.Logo, &status, &m.LiquidityB, &finalOutcome, &m.Expiry, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMarketNotFound
		}
		return nil, fmt.Errorf("postgres: get market: %w", err)
	}
	m.Status = parseMarketStatus(status)
	m.FinalOutcome = parseFinalOutcome(finalOutcome)
	return &m, nil
}

func (p *Postgres) ListOpenMarkets(ctx context.Context) ([]*common.Market, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, description, logo, status, liquidity_b, final_outcome, market_expiry, created_at, updated_at
		FROM markets WHERE status = 'OPEN' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open markets: %w", err)
	}
	defer rows.Close()

	var out []*common.Market
	for rows.Next() {
		var m common.Market
		var status, finalOutcome string
		if err := rows.Scan(&m.ID, &m.Name, &m.Description, &m.Logo, &status, &m.LiquidityB, &finalOutcome, &m.Expiry, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		m.Status = parseMarketStatus(status)
		m.FinalOutcome = parseFinalOutcome(finalOutcome)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (p *Postgres) GetOrder(ctx context.Context, id uuid.UUID) (*common.Order, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, user_id, market_id, side, outcome, type, price, quantity, filled_quantity, status, created_at, updated_at
		FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("postgres: get order: %w", err)
	}
	return o, nil
}

func (p *Postgres) ListOpenOrders(ctx context.Context) ([]*common.Order, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, market_id, side, outcome, type, price, quantity, filled_quantity, status, created_at, updated_at
		FROM orders WHERE status = 'OPEN' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open orders: %w", err)
	}
	defer rows.Close()

	var out []*common.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status common.OrderStatus, filledQuantity decimal.Decimal) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE orders SET status = $2, filled_quantity = $3, updated_at = now() WHERE id = $1`,
		id, status.String(), filledQuantity)
	if err != nil {
		return fmt.Errorf("postgres: update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (p *Postgres) GetUser(ctx context.Context, id uuid.UUID) (*common.User, error) {
	row := p.pool.QueryRow(ctx, `SELECT id, identity, balance FROM users WHERE id = $1`, id)

	var u common.User
	if err := row.Scan(&u.ID, &u.Identity, &u.Balance); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("postgres: get user: %w", err)
	}
	return &u, nil
}

// BeginSettlement opens the single transaction that §4.4 step 5 commits
// all five effects through (opposite order, two trades, two holdings
// adjustments, two balance adjustments).
func (p *Postgres) BeginSettlement(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin settlement: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) UpdateOppositeOrder(ctx context.Context, orderID uuid.UUID, status common.OrderStatus, filledQuantity decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE orders SET status = $2, filled_quantity = $3, updated_at = now() WHERE id = $1`,
		orderID, status.String(), filledQuantity)
	if err != nil {
		return fmt.Errorf("postgres: update opposite order: %w", err)
	}
	return nil
}

func (t *pgTx) InsertTrade(ctx context.Context, trade *common.Trade) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO user_trades (id, buy_order_id, sell_order_id, user_id, market_id, outcome, price, quantity, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		trade.ID, trade.BuyOrderID, trade.SellOrderID, trade.UserID, trade.MarketID,
		trade.Outcome.String(), trade.Price, trade.Quantity, trade.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: insert trade: %w", err)
	}
	return nil
}

func (t *pgTx) AdjustHolding(ctx context.Context, userID, marketID uuid.UUID, outcome common.Outcome, deltaShares decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO user_holdings (id, user_id, market_id, outcome, shares)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, market_id, outcome) DO UPDATE SET shares = user_holdings.shares + $5`,
		uuid.New(), userID, marketID, outcome.String(), deltaShares)
	if err != nil {
		return fmt.Errorf("postgres: adjust holding: %w", err)
	}
	return nil
}

func (t *pgTx) AdjustBalance(ctx context.Context, userID uuid.UUID, delta decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE users SET balance = balance + $2 WHERE id = $1`, userID, delta)
	if err != nil {
		return fmt.Errorf("postgres: adjust balance: %w", err)
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit settlement: %w", err)
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*common.Order, error) {
	var o common.Order
	var side, outcome, orderType, status string
	if err := row.Scan(&o.ID, &o.UserID, &o.MarketID, &side, &outcome, &orderType, &o.Price, &o.Quantity, &o.FilledQuantity, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Side = parseSide(side)
	o.Outcome = parseOutcome(outcome)
	o.Type = parseOrderType(orderType)
	o.Status = parseOrderStatus(status)
	return &o, nil
}

func parseSide(s string) common.Side {
	if s == "SELL" {
		return common.Sell
	}
	return common.Buy
}

func parseOutcome(s string) common.Outcome {
	switch s {
	case "YES":
		return common.OutcomeYes
	case "NO":
		return common.OutcomeNo
	default:
		return common.OutcomeUnspecified
	}
}

func parseOrderType(s string) common.OrderType {
	if s == "MARKET" {
		return common.Market
	}
	return common.Limit
}

func parseOrderStatus(s string) common.OrderStatus {
	switch s {
	case "OPEN":
		return common.StatusOpen
	case "FILLED":
		return common.StatusFilled
	case "CANCELLED":
		return common.StatusCancelled
	case "EXPIRED":
		return common.StatusExpired
	case "PENDING_UPDATE":
		return common.StatusPendingUpdate
	default:
		return common.StatusUnspecified
	}
}

func parseMarketStatus(s string) common.MarketStatus {
	switch s {
	case "CLOSED":
		return common.MarketClosed
	case "SETTLED":
		return common.MarketSettled
	default:
		return common.MarketOpen
	}
}

func parseFinalOutcome(s string) common.FinalOutcome {
	switch s {
	case "YES":
		return common.FinalYes
	case "NO":
		return common.FinalNo
	default:
		return common.FinalUnspecified
	}
}
