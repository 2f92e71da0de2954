package common

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Holding is a user's share position in one outcome of one market.
type Holding struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	MarketID uuid.UUID
	Outcome  Outcome
	Shares   decimal.Decimal
}
