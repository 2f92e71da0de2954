// Package rehydrate implements the Startup Rehydrator (§4.6): on process
// start, load every OPEN market and OPEN order and rebuild the Global
// Book's in-memory state so price-time priority matches what existed
// before the process last stopped.
package rehydrate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"sibyl/internal/common"
	"sibyl/internal/globalbook"
	"sibyl/internal/store"
)

// Run loads every OPEN market and OPEN order, in creation-time order, and
// replays them into books. Orders with OutcomeUnspecified cannot rest on
// either Outcome Book and are skipped with a warning (§C.1).
func Run(ctx context.Context, markets store.MarketStore, orders store.OrderStore, books *globalbook.GlobalBook) error {
	openMarkets, err := markets.ListOpenMarkets(ctx)
	if err != nil {
		return fmt.Errorf("rehydrate: list open markets: %w", err)
	}
	for _, m := range openMarkets {
		if _, err := books.EnsureMarket(m.ID, m.LiquidityB); err != nil {
			return fmt.Errorf("rehydrate: ensure market %s: %w", m.ID, err)
		}
	}

	openOrders, err := orders.ListOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("rehydrate: list open orders: %w", err)
	}

	var rested int
	for _, o := range openOrders {
		if o.Outcome != common.OutcomeYes && o.Outcome != common.OutcomeNo {
			log.Warn().Str("order_id", o.ID.String()).Msg("rehydrate: skipping order with unspecified outcome")
			continue
		}
		if err := books.Rest(o); err != nil {
			if err == globalbook.ErrMarketNotLoaded {
				log.Warn().Str("order_id", o.ID.String()).Str("market_id", o.MarketID.String()).
					Msg("rehydrate: order references a market that is not OPEN, skipping")
				continue
			}
			return fmt.Errorf("rehydrate: rest order %s: %w", o.ID, err)
		}
		rested++
	}

	log.Info().Int("markets", len(openMarkets)).Int("orders_rested", rested).Msg("rehydrate: complete")
	return nil
}
