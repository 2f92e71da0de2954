// Package market implements the Market Book: the pair of Outcome Books
// (YES/NO) for one prediction market, plus the hybrid LMSR/midpoint
// pricing model layered on top of them (§4.2 of the matching spec).
package market

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sibyl/internal/book"
	"sibyl/internal/common"
)

// ErrInvalidLiquidity is returned when a MarketBook is constructed with a
// negative liquidity_b; zero is valid and selects midpoint pricing.
var ErrInvalidLiquidity = errors.New("market: liquidity_b must be >= 0")

var (
	half   = decimal.NewFromFloat(0.5)
	one    = decimal.NewFromInt(1)
	two    = decimal.NewFromInt(2)
	midCap = decimal.NewFromFloat(0.95)
)

// MarketBook owns the two Outcome Books of one market and the current
// YES/NO prices derived from them.
type MarketBook struct {
	Yes *book.OutcomeBook
	No  *book.OutcomeBook

	CurrentYesPrice decimal.Decimal
	CurrentNoPrice  decimal.Decimal

	LiquidityB decimal.Decimal

	executedYesBuyVolume decimal.Decimal
	executedNoBuyVolume  decimal.Decimal
}

// NewMarketBook creates an empty MarketBook at the initial 0.5/0.5 price.
func NewMarketBook(liquidityB decimal.Decimal) (*MarketBook, error) {
	if liquidityB.IsNegative() {
		return nil, ErrInvalidLiquidity
	}
	return &MarketBook{
		Yes:                  book.NewOutcomeBook(),
		No:                   book.NewOutcomeBook(),
		CurrentYesPrice:      half,
		CurrentNoPrice:       half,
		LiquidityB:           liquidityB,
		executedYesBuyVolume: decimal.Zero,
		executedNoBuyVolume:  decimal.Zero,
	}, nil
}

func (mb *MarketBook) outcomeBook(outcome common.Outcome) *book.OutcomeBook {
	if outcome == common.OutcomeNo {
		return mb.No
	}
	return mb.Yes
}

// ProcessLimit routes order to its outcome's book for matching, rests any
// unfilled remainder, and recomputes prices. Per §4.2.
func (mb *MarketBook) ProcessLimit(order *common.Order) []book.MatchOut {
	ob := mb.outcomeBook(order.Outcome)
	outs := ob.Match(order)
	if (order.Status == common.StatusOpen || order.Status == common.StatusPendingUpdate) && order.Remaining().IsPositive() {
		ob.Add(order)
	}
	mb.updateMarketPrice()
	return outs
}

// CreateMarket routes order to its outcome's book as a market order. budget
// is an advisory spend cap for BUY orders (decimal.Zero means unlimited,
// per the open-question decision in SPEC_FULL.md §D): the quantity
// actually sent to the book is capped so that Σ fill_price×match_qty does
// not exceed budget, with the last level's quantity trimmed to land under
// it. Executed buy volume is tracked for the LMSR price model.
func (mb *MarketBook) CreateMarket(order *common.Order, budget decimal.Decimal) []book.MatchOut {
	ob := mb.outcomeBook(order.Outcome)

	requested := order.Quantity
	if order.Side == common.Buy && budget.IsPositive() {
		order.Quantity = affordableQuantity(ob, budget, requested)
	}

	outs := ob.CreateMarketOrder(order)

	order.Quantity = requested
	if order.FilledQuantity.GreaterThanOrEqual(order.Quantity) {
		order.Status = common.StatusFilled
	} else {
		order.Status = common.StatusOpen
	}

	if order.Side == common.Buy && len(outs) > 0 {
		spent := decimal.Zero
		for _, out := range outs {
			spent = spent.Add(out.FillPrice.Mul(out.MatchQty))
		}
		mb.addExecutedBuyVolume(order.Outcome, spent)
	}

	mb.updateMarketPrice()
	return outs
}

// Rest adds order directly to its outcome's book without matching, for
// Startup Rehydrator use (§4.6): previously-persisted OPEN orders re-enter
// the book in creation-time order, never through the matching path.
func (mb *MarketBook) Rest(order *common.Order) {
	mb.outcomeBook(order.Outcome).Add(order)
	mb.updateMarketPrice()
}

// Amend delegates to the owning Outcome Book and recomputes prices.
func (mb *MarketBook) Amend(order *common.Order, newPrice, newQuantity decimal.Decimal) bool {
	changed := mb.outcomeBook(order.Outcome).Amend(order, newPrice, newQuantity)
	mb.updateMarketPrice()
	return changed
}

// Remove delegates to the owning Outcome Book and recomputes prices.
func (mb *MarketBook) Remove(orderID uuid.UUID, outcome common.Outcome, side common.Side, price decimal.Decimal) bool {
	removed := mb.outcomeBook(outcome).Remove(orderID, side, price)
	mb.updateMarketPrice()
	return removed
}

// BookSnapshot is the externally-visible state of a MarketBook at one
// instant: current prices plus both outcomes' ordered book levels. Used
// by Update Dispatch (§4.5), taken under the Global Book's brief read lock.
type BookSnapshot struct {
	YesPrice decimal.Decimal
	NoPrice  decimal.Decimal
	YesBids  []book.LevelSnapshot
	YesAsks  []book.LevelSnapshot
	NoBids   []book.LevelSnapshot
	NoAsks   []book.LevelSnapshot
}

// Snapshot returns the current prices and both outcome books' levels.
func (mb *MarketBook) Snapshot() BookSnapshot {
	yesBids, yesAsks := mb.Yes.Snapshot()
	noBids, noAsks := mb.No.Snapshot()
	return BookSnapshot{
		YesPrice: mb.CurrentYesPrice,
		NoPrice:  mb.CurrentNoPrice,
		YesBids:  yesBids,
		YesAsks:  yesAsks,
		NoBids:   noBids,
		NoAsks:   noAsks,
	}
}

func (mb *MarketBook) addExecutedBuyVolume(outcome common.Outcome, amount decimal.Decimal) {
	if outcome == common.OutcomeNo {
		mb.executedNoBuyVolume = mb.executedNoBuyVolume.Add(amount)
		return
	}
	mb.executedYesBuyVolume = mb.executedYesBuyVolume.Add(amount)
}

// affordableQuantity walks the opposite side's asks best-first, trimming
// the final level so total notional spend stays within budget.
func affordableQuantity(ob *book.OutcomeBook, budget, requested decimal.Decimal) decimal.Decimal {
	_, asks := ob.Snapshot()
	remainingBudget := budget
	remainingQty := requested
	affordable := decimal.Zero

	for _, level := range asks {
		if remainingQty.IsZero() || !remainingBudget.IsPositive() {
			break
		}
		levelQty := decimal.Min(level.Shares, remainingQty)
		cost := level.Price.Mul(levelQty)
		if cost.GreaterThan(remainingBudget) {
			if level.Price.IsPositive() {
				levelQty = remainingBudget.Div(level.Price)
			}
			cost = level.Price.Mul(levelQty)
		}
		affordable = affordable.Add(levelQty)
		remainingQty = remainingQty.Sub(levelQty)
		remainingBudget = remainingBudget.Sub(cost)
	}
	return affordable
}

// updateMarketPrice recomputes CurrentYesPrice/CurrentNoPrice per §4.2:
// LMSR-anchored when LiquidityB > 0, order-book midpoint otherwise.
func (mb *MarketBook) updateMarketPrice() {
	if mb.LiquidityB.IsPositive() {
		mb.updateLMSR()
		return
	}
	mb.updateMidpoint()
}

func (mb *MarketBook) updateLMSR() {
	fy := sumBidNotional(mb.Yes).Add(mb.executedYesBuyVolume)
	fn := sumBidNotional(mb.No).Add(mb.executedNoBuyVolume)
	total := fy.Add(fn)
	if total.IsZero() {
		mb.CurrentYesPrice = half
		mb.CurrentNoPrice = half
		return
	}

	b := mb.LiquidityB
	denom := b.Mul(two).Add(total)
	wY := b.Add(fy).Div(denom)
	wN := b.Add(fn).Div(denom)
	sum := wY.Add(wN)

	mb.CurrentYesPrice = wY.Div(sum)
	mb.CurrentNoPrice = wN.Div(sum)
}

func sumBidNotional(ob *book.OutcomeBook) decimal.Decimal {
	bids, _ := ob.Snapshot()
	total := decimal.Zero
	for _, level := range bids {
		total = total.Add(level.Price.Mul(level.Shares))
	}
	return total
}

func (mb *MarketBook) updateMidpoint() {
	mY, okY := midpoint(mb.Yes)
	mN, okN := midpoint(mb.No)

	switch {
	case okY && okN:
		sum := mY.Add(mN)
		mb.CurrentYesPrice = mY.Div(sum)
		mb.CurrentNoPrice = mN.Div(sum)
	case okY:
		capped := decimal.Min(mY, midCap)
		mb.CurrentYesPrice = capped
		mb.CurrentNoPrice = one.Sub(capped)
	case okN:
		capped := decimal.Min(mN, midCap)
		mb.CurrentNoPrice = capped
		mb.CurrentYesPrice = one.Sub(capped)
	default:
		mb.CurrentYesPrice = half
		mb.CurrentNoPrice = half
	}
}

func midpoint(ob *book.OutcomeBook) (decimal.Decimal, bool) {
	bid, bidOk := ob.BestBid()
	ask, askOk := ob.BestAsk()
	switch {
	case bidOk && askOk:
		return bid.Add(ask).Div(two), true
	case bidOk:
		return bid, true
	case askOk:
		return ask, true
	default:
		return decimal.Zero, false
	}
}
