// Package settlement implements the Settlement Pipeline: per-match atomic
// transactions that apply a MatchOut's effects to the opposite order,
// trades, holdings, and balances (§4.4 step 5 of the matching spec).
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"sibyl/internal/book"
	"sibyl/internal/common"
	"sibyl/internal/store"
)

// Pipeline settles the matches produced by one taker order against the
// relational store.
type Pipeline struct {
	orders store.OrderStore
	txs    store.TxStore
}

// New builds a Pipeline over the given order store and transaction source.
func New(orders store.OrderStore, txs store.TxStore) *Pipeline {
	return &Pipeline{orders: orders, txs: txs}
}

// Settle runs one settlement transaction per MatchOut, in order. On the
// first failure it stops and returns the error without attempting the
// remaining matches — the caller must not ack the triggering bus message
// (§7: transient I/O and invariant-violation kinds are both "not ack'd").
func (p *Pipeline) Settle(ctx context.Context, taker *common.Order, matches []book.MatchOut) error {
	for _, m := range matches {
		if err := p.settleOne(ctx, taker, m); err != nil {
			return fmt.Errorf("settlement: match taker=%s maker=%s: %w", m.TakerID, m.MakerID, err)
		}
	}
	return nil
}

func (p *Pipeline) settleOne(ctx context.Context, taker *common.Order, m book.MatchOut) error {
	maker, err := p.orders.GetOrder(ctx, m.MakerID)
	if err != nil {
		return fmt.Errorf("load maker order: %w", err)
	}

	tx, err := p.txs.BeginSettlement(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	if err := p.apply(ctx, tx, taker, maker, m); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Error().Err(rbErr).Msg("settlement: rollback failed after apply error")
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (p *Pipeline) apply(ctx context.Context, tx store.Tx, taker, maker *common.Order, m book.MatchOut) error {
	oppositeStatus := common.StatusOpen
	if m.MakerFilledQuantity.GreaterThanOrEqual(m.MakerQuantity) {
		oppositeStatus = common.StatusFilled
	}
	if err := tx.UpdateOppositeOrder(ctx, m.MakerID, oppositeStatus, m.MakerFilledQuantity); err != nil {
		return fmt.Errorf("update opposite order: %w", err)
	}

	buyerID, sellerID, buyOrderID, sellOrderID := resolveBuyerSeller(taker, maker)
	notional := m.FillPrice.Mul(m.MatchQty)
	now := time.Now()

	takerTrade := &common.Trade{
		ID:              uuid.New(),
		MarketID:        taker.MarketID,
		Outcome:         taker.Outcome,
		CurrentOrderID:  taker.ID,
		OppositeOrderID: maker.ID,
		BuyOrderID:      buyOrderID,
		SellOrderID:     sellOrderID,
		UserID:          taker.UserID,
		Price:           m.FillPrice,
		Quantity:        m.MatchQty,
		Timestamp:       now,
	}
	makerTrade := &common.Trade{
		ID:              uuid.New(),
		MarketID:        taker.MarketID,
		Outcome:         taker.Outcome,
		CurrentOrderID:  maker.ID,
		OppositeOrderID: taker.ID,
		BuyOrderID:      buyOrderID,
		SellOrderID:     sellOrderID,
		UserID:          maker.UserID,
		Price:           m.FillPrice,
		Quantity:        m.MatchQty,
		Timestamp:       now,
	}
	if err := tx.InsertTrade(ctx, takerTrade); err != nil {
		return fmt.Errorf("insert taker trade: %w", err)
	}
	if err := tx.InsertTrade(ctx, makerTrade); err != nil {
		return fmt.Errorf("insert maker trade: %w", err)
	}

	if err := tx.AdjustHolding(ctx, buyerID, taker.MarketID, taker.Outcome, m.MatchQty); err != nil {
		return fmt.Errorf("credit buyer holding: %w", err)
	}
	if err := tx.AdjustHolding(ctx, sellerID, taker.MarketID, taker.Outcome, m.MatchQty.Neg()); err != nil {
		return fmt.Errorf("debit seller holding: %w", err)
	}
	if err := tx.AdjustBalance(ctx, buyerID, notional.Neg()); err != nil {
		return fmt.Errorf("debit buyer balance: %w", err)
	}
	if err := tx.AdjustBalance(ctx, sellerID, notional); err != nil {
		return fmt.Errorf("credit seller balance: %w", err)
	}
	return nil
}

// resolveBuyerSeller maps taker/maker onto buyer/seller by side, since the
// taker can be either side of the trade.
func resolveBuyerSeller(taker, maker *common.Order) (buyerID, sellerID uuid.UUID, buyOrderID, sellOrderID uuid.UUID) {
	if taker.Side == common.Buy {
		return taker.UserID, maker.UserID, taker.ID, maker.ID
	}
	return maker.UserID, taker.UserID, maker.ID, taker.ID
}
