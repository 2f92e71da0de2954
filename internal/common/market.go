package common

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Market is a single two-outcome (YES/NO) prediction market. LiquidityB is
// the LMSR liquidity parameter used by the owning MarketBook's pricing
// model; it is supplied to the Global Book by the caller on every touch
// rather than looked up internally (see SPEC_FULL.md §C.2).
type Market struct {
	ID           uuid.UUID
	Name         string
	Description  string
	Logo         string
	Status       MarketStatus
	LiquidityB   decimal.Decimal
	FinalOutcome FinalOutcome
	Expiry       time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsOpen reports whether the market currently accepts new orders.
func (m *Market) IsOpen() bool {
	return m.Status == MarketOpen
}
