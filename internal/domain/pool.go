package domain

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/vaultswap/internal/units"
)

// PoolShare is derived from the pool reads; it is never stored.
type PoolShare struct {
	Balance       units.Amount    `json:"balance"`
	TotalSupply   units.Amount    `json:"total_supply"`
	TotalDeposits units.Amount    `json:"total_deposits"`
	Value         units.Amount    `json:"value"`
	OwnershipPct  decimal.Decimal `json:"ownership_pct"`
}

// OwnershipPercent returns balance / supply * 100, or zero when either is
// unknown or the supply is zero.
func OwnershipPercent(balance, supply units.Amount) decimal.Decimal {
	if !balance.Known() || !supply.Known() || supply.Sign() <= 0 {
		return decimal.Zero
	}
	if balance.Precision() != supply.Precision() {
		balance = balance.Rescale(supply.Precision())
	}
	return balance.Decimal().Div(supply.Decimal()).Mul(decimal.NewFromInt(100))
}
