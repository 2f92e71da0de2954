package common

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade is one fill between two orders. Both sides of a match produce a
// Trade row (one from the taker's perspective, one from the maker's); the
// pair is deduplicated downstream on (MarketID, CurrentOrderID,
// OppositeOrderID, Timestamp) per SPEC_FULL.md §D. BuyOrderID/SellOrderID
// mirror the persistent Postgres schema from spec.md §6 so a single row
// answers both "what filled against me" and "who was the counterparty on
// the buy/sell side" without a join.
type Trade struct {
	ID              uuid.UUID
	MarketID        uuid.UUID
	Outcome         Outcome
	CurrentOrderID  uuid.UUID
	OppositeOrderID uuid.UUID
	BuyOrderID      uuid.UUID
	SellOrderID     uuid.UUID
	UserID          uuid.UUID
	Price           decimal.Decimal
	Quantity        decimal.Decimal
	Timestamp       time.Time
}
