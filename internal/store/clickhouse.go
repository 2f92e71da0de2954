package store

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ClickHouseWriter appends rows to the columnar time-series tables of §6:
// market_price_data and market_order_book. Writes are fire-and-forget from
// the caller's perspective (dispatch logs failures at Warn, per §7's
// "dispatch partial failure" policy) rather than transactional.
type ClickHouseWriter struct {
	conn clickhouse.Conn
}

// NewClickHouseWriter opens a connection using the given DSN-style options.
func NewClickHouseWriter(ctx context.Context, addr string) (*ClickHouseWriter, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}
	return &ClickHouseWriter{conn: conn}, nil
}

// Close releases the underlying connection.
func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}

func (w *ClickHouseWriter) WritePriceUpdate(ctx context.Context, marketID uuid.UUID, yesPrice, noPrice decimal.Decimal, ts int64) error {
	err := w.conn.Exec(ctx, `
		INSERT INTO market_price_data (market_id, yes_price, no_price, ts, created_at)
		VALUES (?, ?, ?, ?, now())`,
		marketID.String(), yesPrice.InexactFloat64(), noPrice.InexactFloat64(), ts)
	if err != nil {
		return fmt.Errorf("clickhouse: write price update: %w", err)
	}
	return nil
}

func (w *ClickHouseWriter) WriteOrderBookSnapshot(ctx context.Context, marketID uuid.UUID, ts int64, yesBids, yesAsks, noBids, noAsks []LevelRow) error {
	err := w.conn.Exec(ctx, `
		INSERT INTO market_order_book (market_id, ts, created_at, yes_bids, yes_asks, no_bids, no_asks)
		VALUES (?, ?, now(), ?, ?, ?, ?)`,
		marketID.String(), ts,
		encodeLevelRows(yesBids), encodeLevelRows(yesAsks), encodeLevelRows(noBids), encodeLevelRows(noAsks))
	if err != nil {
		return fmt.Errorf("clickhouse: write order book snapshot: %w", err)
	}
	return nil
}

// encodeLevelRows renders levels as ClickHouse Tuple(Float64, Float64, Int32)
// array literals, the conventional shape for a nested array-of-tuples column.
func encodeLevelRows(levels []LevelRow) []struct {
	Price  float64
	Shares float64
	Users  int32
} {
	out := make([]struct {
		Price  float64
		Shares float64
		Users  int32
	}, len(levels))
	for i, l := range levels {
		out[i] = struct {
			Price  float64
			Shares float64
			Users  int32
		}{
			Price:  l.Price.InexactFloat64(),
			Shares: l.Shares.InexactFloat64(),
			Users:  int32(l.Users),
		}
	}
	return out
}
