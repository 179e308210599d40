package domain

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/vaultswap/internal/units"
)

// ProtocolConstants is a snapshot of the lending core's constants. A nil
// member could not be read or parsed.
type ProtocolConstants struct {
	BasisPoints          *big.Int `json:"basis_points"`
	CollateralRatio      *big.Int `json:"collateral_ratio"`
	LiquidationThreshold *big.Int `json:"liquidation_threshold"`
	LiquidationPenalty   *big.Int `json:"liquidation_penalty"`
	BaseInterestRate     *big.Int `json:"base_interest_rate"`
	UnknownFields        []string `json:"unknown_fields,omitempty"`
}

// Percent converts a basis-point constant into a percentage.
func (c ProtocolConstants) Percent(bps *big.Int) (decimal.Decimal, bool) {
	if bps == nil || c.BasisPoints == nil || c.BasisPoints.Sign() == 0 {
		return decimal.Zero, false
	}
	return decimal.NewFromBigInt(bps, 0).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromBigInt(c.BasisPoints, 0)), true
}

// Thresholds derives health thresholds from the snapshot, falling back to
// the given defaults for members that are unknown.
func (c ProtocolConstants) Thresholds(fallback HealthThresholds) HealthThresholds {
	out := fallback
	if pct, ok := c.Percent(c.LiquidationThreshold); ok {
		out.Liquidation = pct
	}
	if out.Healthy.LessThan(out.Liquidation) {
		out.Healthy = out.Liquidation
	}
	return out
}

// ProtocolStats are the lending core's aggregate counters.
type ProtocolStats struct {
	TotalBorrowed   units.Amount `json:"total_borrowed"`
	TotalCollateral units.Amount `json:"total_collateral"`
	LoanCount       *big.Int     `json:"loan_count"`
	Paused          Tristate     `json:"paused"`
	UnknownFields   []string     `json:"unknown_fields,omitempty"`
}
