// Package book implements the Outcome Book: the two-sided, price-time
// priority limit order book for one outcome (YES or NO) of one market.
// It is the lowest layer of the matching stack; the Market Book (see
// internal/market) owns one pair of these per market and adds pricing on
// top.
package book

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"sibyl/internal/common"
)

// ErrInvariantViolation signals that a book invariant (§3 of the matching
// spec: total_remaining consistency, non-negative remaining, price-time
// ordering) was found broken. It is fatal to the message that triggered
// the check; callers log it and do not ack the triggering bus message.
var ErrInvariantViolation = errors.New("book: invariant violation")

// PriceLevel is the orders resting at one price, insertion-ordered (time
// priority), with a cached total of their remaining quantity.
type PriceLevel struct {
	Price          decimal.Decimal
	Orders         []*common.Order
	TotalRemaining decimal.Decimal
}

type levelTree = btree.BTreeG[*PriceLevel]

// LevelSnapshot is the externally-visible view of one PriceLevel:
// {price, shares, users}, per §4.1's snapshot() operation.
type LevelSnapshot struct {
	Price  decimal.Decimal
	Shares decimal.Decimal
	Users  int
}

// MatchOut records one fill produced by Match or CreateMarketOrder, in the
// shape §4.1 specifies: taker/maker ids, the matched quantity, the fill
// price (always the resting maker's price), and the maker's post-fill
// quantity/filled_quantity so the caller can persist the opposite order
// without re-reading it from the book.
type MatchOut struct {
	TakerID             uuid.UUID
	MakerID             uuid.UUID
	MatchQty            decimal.Decimal
	FillPrice           decimal.Decimal
	MakerQuantity       decimal.Decimal
	MakerFilledQuantity decimal.Decimal
}

// OutcomeBook is bids and asks, each a price-ordered map of PriceLevel.
// Bids are ordered so the best (highest) price sorts first; asks so the
// best (lowest) price sorts first — matching the teacher's orderbook.go
// comparator convention.
type OutcomeBook struct {
	bids *levelTree
	asks *levelTree
}

// NewOutcomeBook returns an empty, ready-to-use OutcomeBook.
func NewOutcomeBook() *OutcomeBook {
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.GreaterThan(b.Price)
	})
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.LessThan(b.Price)
	})
	return &OutcomeBook{bids: bids, asks: asks}
}

func (b *OutcomeBook) sideTree(side common.Side) *levelTree {
	if side == common.Sell {
		return b.asks
	}
	return b.bids
}

// Add appends order to the PriceLevel keyed by its price on its own side
// (BUY rests in bids, SELL rests in asks), creating the level if absent.
func (b *OutcomeBook) Add(order *common.Order) {
	tree := b.sideTree(order.Side)
	key := &PriceLevel{Price: order.Price}
	level, ok := tree.GetMut(key)
	if !ok {
		level = &PriceLevel{Price: order.Price}
		tree.SetMut(level)
	}
	level.Orders = append(level.Orders, order)
	level.TotalRemaining = level.TotalRemaining.Add(order.Remaining())
}

// Remove locates orderID within the PriceLevel at price on side, drops it,
// and drops the level entirely if it becomes empty. Reports whether an
// order was found and removed.
func (b *OutcomeBook) Remove(orderID uuid.UUID, side common.Side, price decimal.Decimal) bool {
	tree := b.sideTree(side)
	level, ok := tree.GetMut(&PriceLevel{Price: price})
	if !ok {
		return false
	}
	idx := -1
	for i, o := range level.Orders {
		if o.ID == orderID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}
	removed := level.Orders[idx]
	level.Orders = append(level.Orders[:idx], level.Orders[idx+1:]...)
	level.TotalRemaining = level.TotalRemaining.Sub(removed.Remaining())
	if len(level.Orders) == 0 {
		tree.Delete(level)
	}
	return true
}

// Amend moves order to newPrice/newQuantity, resetting status to OPEN and
// losing time priority (it re-enters at the back of the new level). A
// no-op (returns false) when neither field changes.
func (b *OutcomeBook) Amend(order *common.Order, newPrice, newQuantity decimal.Decimal) bool {
	if order.Price.Equal(newPrice) && order.Quantity.Equal(newQuantity) {
		return false
	}
	b.Remove(order.ID, order.Side, order.Price)
	order.Price = newPrice
	order.Quantity = newQuantity
	order.FilledQuantity = decimal.Zero
	order.Status = common.StatusOpen
	b.Add(order)
	return true
}

// BestBid returns the maximum bid price, if any bids rest.
func (b *OutcomeBook) BestBid() (decimal.Decimal, bool) {
	level, ok := b.bids.Min()
	if !ok {
		return decimal.Zero, false
	}
	return level.Price, true
}

// BestAsk returns the minimum ask price, if any asks rest.
func (b *OutcomeBook) BestAsk() (decimal.Decimal, bool) {
	level, ok := b.asks.Min()
	if !ok {
		return decimal.Zero, false
	}
	return level.Price, true
}

// Snapshot returns an ordered (best-first) view of both sides, one entry
// per non-empty PriceLevel.
func (b *OutcomeBook) Snapshot() (bids, asks []LevelSnapshot) {
	b.bids.Scan(func(level *PriceLevel) bool {
		bids = append(bids, LevelSnapshot{Price: level.Price, Shares: level.TotalRemaining, Users: len(level.Orders)})
		return true
	})
	b.asks.Scan(func(level *PriceLevel) bool {
		asks = append(asks, LevelSnapshot{Price: level.Price, Shares: level.TotalRemaining, Users: len(level.Orders)})
		return true
	})
	return bids, asks
}

// Match walks the opposite side in best-price order, matching order
// against resting makers in price-then-insertion-time priority, per
// §4.1. It never rests order itself — that is the caller's job
// (process_limit adds the residual; a market order's residual is left
// unrested). Returns the list of fills produced.
func (b *OutcomeBook) Match(order *common.Order) []MatchOut {
	if order.Status != common.StatusOpen {
		return nil
	}
	if order.Quantity.IsZero() {
		order.Status = common.StatusFilled
		return nil
	}

	opposite := b.asks
	if order.Side == common.Sell {
		opposite = b.bids
	}
	hasLimit := !order.Price.IsZero()

	var candidates []*PriceLevel
	opposite.Scan(func(level *PriceLevel) bool {
		if hasLimit {
			if order.Side == common.Buy && level.Price.GreaterThan(order.Price) {
				return false
			}
			if order.Side == common.Sell && level.Price.LessThan(order.Price) {
				return false
			}
		}
		candidates = append(candidates, level)
		return true
	})

	var outs []MatchOut
	var emptied []*PriceLevel
	for _, level := range candidates {
		if order.Remaining().IsZero() {
			break
		}
		survivors := make([]*common.Order, 0, len(level.Orders))
		touched := false
		for _, maker := range level.Orders {
			if order.Remaining().IsZero() || maker.UserID == order.UserID || maker.ID == order.ID {
				survivors = append(survivors, maker)
				continue
			}
			matchQty := decimal.Min(order.Remaining(), maker.Remaining())
			if matchQty.IsZero() {
				survivors = append(survivors, maker)
				continue
			}
			order.FilledQuantity = order.FilledQuantity.Add(matchQty)
			maker.FilledQuantity = maker.FilledQuantity.Add(matchQty)
			touched = true

			outs = append(outs, MatchOut{
				TakerID:             order.ID,
				MakerID:             maker.ID,
				MatchQty:            matchQty,
				FillPrice:           level.Price,
				MakerQuantity:       maker.Quantity,
				MakerFilledQuantity: maker.FilledQuantity,
			})

			if maker.Remaining().IsPositive() {
				survivors = append(survivors, maker)
			}
		}
		if touched {
			level.Orders = survivors
			level.TotalRemaining = recomputeRemaining(survivors)
			if len(level.Orders) == 0 {
				emptied = append(emptied, level)
			}
		}
	}
	for _, level := range emptied {
		opposite.Delete(level)
	}

	if order.FilledQuantity.Equal(order.Quantity) {
		order.Status = common.StatusFilled
	}
	return outs
}

// CreateMarketOrder forces order.Price to zero (no limit) and delegates to
// Match, per §4.1. Any unfilled remainder is left unrested: market orders
// never enter a PriceLevel.
func (b *OutcomeBook) CreateMarketOrder(order *common.Order) []MatchOut {
	order.Price = decimal.Zero
	return b.Match(order)
}

func recomputeRemaining(orders []*common.Order) decimal.Decimal {
	total := decimal.Zero
	for _, o := range orders {
		total = total.Add(o.Remaining())
	}
	return total
}
