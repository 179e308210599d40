package domain

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/vaultswap/internal/units"
)

// Loan is one borrow position in the lending core.
type Loan struct {
	ID              *big.Int        `json:"id"`
	Borrower        *common.Address `json:"borrower"`
	Collateral      units.Amount    `json:"collateral"`
	Principal       units.Amount    `json:"principal"`
	InterestRateBps *big.Int        `json:"interest_rate_bps"`
	// AccruedInterest is unknown until calculateInterest is queried.
	AccruedInterest units.Amount `json:"accrued_interest"`
	// HealthFactor is the contract-reported health percentage, unknown until
	// getHealthFactor is queried.
	HealthFactor  *big.Int `json:"health_factor"`
	Active        Tristate `json:"active"`
	UnknownFields []string `json:"unknown_fields,omitempty"`
}

// Debt returns principal plus accrued interest in stablecoin precision.
func (l Loan) Debt() (units.Amount, error) {
	return l.Principal.Add(l.AccruedInterest)
}

// HealthStatus classifies a loan's health percentage.
type HealthStatus string

const (
	HealthHealthy      HealthStatus = "healthy"
	HealthAtRisk       HealthStatus = "at-risk"
	HealthLiquidatable HealthStatus = "liquidatable"
	HealthUnknown      HealthStatus = "unknown"
)

// HealthThresholds are percent boundaries used by Classify.
type HealthThresholds struct {
	Healthy     decimal.Decimal
	Liquidation decimal.Decimal
}

// DefaultHealthThresholds: healthy at 180% and above, liquidation below 120%.
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		Healthy:     decimal.NewFromInt(180),
		Liquidation: decimal.NewFromInt(120),
	}
}

// Classify maps a health percentage to a status.
func (t HealthThresholds) Classify(pct decimal.Decimal) HealthStatus {
	switch {
	case pct.GreaterThanOrEqual(t.Healthy):
		return HealthHealthy
	case pct.GreaterThanOrEqual(t.Liquidation):
		return HealthAtRisk
	default:
		return HealthLiquidatable
	}
}

var errZeroDebt = errors.New("health: debt is zero")

// HealthPercent returns collateral_value * 100 / debt, where collateral value
// is collateral (vault precision) times price (price-feed precision) and debt
// is in stablecoin precision. Every input is converted into stablecoin
// precision before dividing.
func HealthPercent(collateral, price, debt units.Amount) (decimal.Decimal, error) {
	if !collateral.Known() || !price.Known() || !debt.Known() {
		return decimal.Zero, units.ErrUnknownAmount
	}
	if debt.Sign() <= 0 {
		return decimal.Zero, errZeroDebt
	}
	value := CollateralValue(collateral, price)
	return value.Decimal().Mul(decimal.NewFromInt(100)).Div(debt.Decimal()), nil
}

// CollateralValue converts a collateral amount at the given price into a
// stablecoin-precision amount.
func CollateralValue(collateral, price units.Amount) units.Amount {
	if !collateral.Known() || !price.Known() {
		return units.Unknown(units.StablePrecision)
	}
	v := new(big.Int).Mul(collateral.BigInt(), price.BigInt())
	shift := int(collateral.Precision()) + int(price.Precision()) - int(units.StablePrecision)
	if shift > 0 {
		v.Quo(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(shift)), nil))
	} else if shift < 0 {
		v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-shift)), nil))
	}
	return units.New(v, units.StablePrecision)
}
