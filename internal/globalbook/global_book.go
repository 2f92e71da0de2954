// Package globalbook implements the Global Book: a thread-safe container
// mapping market id to MarketBook, guarded by a single reader-writer lock
// per §4.3 and §5 of the matching spec. Matching acquires the writer lock;
// snapshot reads (dispatch, price queries) take the reader lock. No
// suspension point may occur while either lock is held.
package globalbook

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sibyl/internal/book"
	"sibyl/internal/common"
	"sibyl/internal/market"
)

// ErrMarketNotLoaded is returned when an operation references a market id
// the Global Book has never seen and is not allowed to create implicitly
// (amend/remove/cancel — only Process and EnsureMarket create books).
var ErrMarketNotLoaded = errors.New("globalbook: market not loaded")

// GlobalBook is the process-wide map of market id to MarketBook.
type GlobalBook struct {
	mu      sync.RWMutex
	markets map[uuid.UUID]*market.MarketBook
}

// New returns an empty GlobalBook.
func New() *GlobalBook {
	return &GlobalBook{markets: make(map[uuid.UUID]*market.MarketBook)}
}

func (g *GlobalBook) getOrCreateLocked(marketID uuid.UUID, liquidityB decimal.Decimal) (*market.MarketBook, error) {
	if mb, ok := g.markets[marketID]; ok {
		return mb, nil
	}
	mb, err := market.NewMarketBook(liquidityB)
	if err != nil {
		return nil, err
	}
	g.markets[marketID] = mb
	return mb, nil
}

// EnsureMarket creates the MarketBook for marketID with liquidityB if it
// does not already exist, returning the existing one otherwise. Used by
// the Startup Rehydrator (§4.6) before resting any orders.
func (g *GlobalBook) EnsureMarket(marketID uuid.UUID, liquidityB decimal.Decimal) (*market.MarketBook, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getOrCreateLocked(marketID, liquidityB)
}

// Rest adds order directly to its market's book without matching, for
// rehydration. The market must already have been created with EnsureMarket.
func (g *GlobalBook) Rest(order *common.Order) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	mb, ok := g.markets[order.MarketID]
	if !ok {
		return ErrMarketNotLoaded
	}
	mb.Rest(order)
	return nil
}

// Process creates the order's MarketBook on first reference (with
// liquidityB), then routes order to process_limit or create_market based
// on its type, per §4.3. This is the sole entry point for matching and
// must be called with the order already marked OPEN.
func (g *GlobalBook) Process(order *common.Order, liquidityB, budget decimal.Decimal) ([]book.MatchOut, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	mb, err := g.getOrCreateLocked(order.MarketID, liquidityB)
	if err != nil {
		return nil, err
	}

	if order.Type == common.Market {
		return mb.CreateMarket(order, budget), nil
	}
	return mb.ProcessLimit(order), nil
}

// Amend delegates to the order's MarketBook.
func (g *GlobalBook) Amend(marketID uuid.UUID, order *common.Order, newPrice, newQuantity decimal.Decimal) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	mb, ok := g.markets[marketID]
	if !ok {
		return false, ErrMarketNotLoaded
	}
	return mb.Amend(order, newPrice, newQuantity), nil
}

// Remove delegates to the order's MarketBook — the cancel path of §4.4.
func (g *GlobalBook) Remove(marketID uuid.UUID, orderID uuid.UUID, outcome common.Outcome, side common.Side, price decimal.Decimal) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	mb, ok := g.markets[marketID]
	if !ok {
		return false, ErrMarketNotLoaded
	}
	return mb.Remove(orderID, outcome, side, price), nil
}

// Snapshot takes the reader lock briefly and returns the current state of
// one market's book, for Update Dispatch (§4.5).
func (g *GlobalBook) Snapshot(marketID uuid.UUID) (market.BookSnapshot, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	mb, ok := g.markets[marketID]
	if !ok {
		return market.BookSnapshot{}, false
	}
	return mb.Snapshot(), true
}

// Prices returns just the current YES/NO prices of one market, for quick
// reads that don't need the full book snapshot.
func (g *GlobalBook) Prices(marketID uuid.UUID) (yes, no decimal.Decimal, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	mb, found := g.markets[marketID]
	if !found {
		return decimal.Zero, decimal.Zero, false
	}
	return mb.CurrentYesPrice, mb.CurrentNoPrice, true
}
