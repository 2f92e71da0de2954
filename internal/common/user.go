package common

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User is an exchange account: an identity plus a cash balance available
// to fund orders. Identity issuance/auth lives outside this module
// (authcontract only validates tokens on incoming requests).
type User struct {
	ID       uuid.UUID
	Identity string
	Balance  decimal.Decimal
}

// CanAfford reports whether the user's balance covers cost.
func (u *User) CanAfford(cost decimal.Decimal) bool {
	return u.Balance.GreaterThanOrEqual(cost)
}
