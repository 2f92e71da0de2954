package common

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPrice    = errors.New("price must be in [0, 1]")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidOutcome  = errors.New("outcome must be YES or NO")
)

// Order is a single resting or incoming limit/market order on one outcome
// of one market. Price and Quantity are fixed-point decimals; MARKET orders
// always carry a zero Price (see §4.1 of the matching spec).
type Order struct {
	ID             uuid.UUID
	MarketID       uuid.UUID
	UserID         uuid.UUID
	Side           Side
	Outcome        Outcome
	Type           OrderType
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	Status         OrderStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Remaining is the unfilled quantity still eligible to match or rest.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// IsFilled reports whether the order has no remaining quantity.
func (o *Order) IsFilled() bool {
	return o.FilledQuantity.GreaterThanOrEqual(o.Quantity)
}

// Validate checks the input-validation rules from §7: non-negative price in
// [0,1] for limit orders, positive quantity, a concrete outcome.
func (o *Order) Validate() error {
	if o.Outcome != OutcomeYes && o.Outcome != OutcomeNo {
		return ErrInvalidOutcome
	}
	if o.Type == Limit {
		if o.Price.IsNegative() || o.Price.GreaterThan(decimal.NewFromInt(1)) {
			return ErrInvalidPrice
		}
	}
	if !o.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	return nil
}
