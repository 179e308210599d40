// Package mapper converts decoded contract call results into domain entities.
// Every function is total: a malformed member becomes an explicit unknown
// marker and the rest of the entity is kept.
package mapper

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/units"
)

// BigInt extracts a non-negative integer, or nil.
func BigInt(raw any) *big.Int {
	switch v := raw.(type) {
	case *big.Int:
		if v == nil || v.Sign() < 0 {
			return nil
		}
		return new(big.Int).Set(v)
	case uint8:
		return new(big.Int).SetUint64(uint64(v))
	case uint64:
		return new(big.Int).SetUint64(v)
	}
	return nil
}

// Amount interprets raw as base units at precision.
func Amount(raw any, precision uint8) units.Amount {
	v := BigInt(raw)
	if v == nil {
		return units.Unknown(precision)
	}
	return units.New(v, precision)
}

// Bool maps a decoded bool to a tristate.
func Bool(raw any) domain.Tristate {
	if b, ok := raw.(bool); ok {
		return domain.TristateOf(b)
	}
	return domain.Unknown
}

// Address extracts an address, or nil.
func Address(raw any) *common.Address {
	if a, ok := raw.(common.Address); ok {
		return &a
	}
	return nil
}

// Timestamp converts unix seconds. Zero means "never" and maps to nil
// without being reported as malformed.
func Timestamp(raw any) (*time.Time, bool) {
	v := BigInt(raw)
	if v == nil || !v.IsInt64() {
		return nil, false
	}
	if v.Sign() == 0 {
		return nil, true
	}
	t := time.Unix(v.Int64(), 0).UTC()
	return &t, true
}

func at(out []any, i int) any {
	if i < len(out) {
		return out[i]
	}
	return nil
}

// VaultPosition maps getVaultPosition's six members.
func VaultPosition(out []any) domain.VaultPosition {
	var p domain.VaultPosition
	var unknown []string

	if p.VaultID = BigInt(at(out, 0)); p.VaultID == nil {
		unknown = append(unknown, "vault_id")
	}
	if p.Staked = Amount(at(out, 1), units.VaultPrecision); !p.Staked.Known() {
		unknown = append(unknown, "staked")
	}
	if p.YieldAccrued = Amount(at(out, 2), units.VaultPrecision); !p.YieldAccrued.Known() {
		unknown = append(unknown, "yield_accrued")
	}
	var ok bool
	if p.LastYieldUpdate, ok = Timestamp(at(out, 3)); !ok {
		unknown = append(unknown, "last_yield_update")
	}
	if p.LockTime, ok = Timestamp(at(out, 4)); !ok {
		unknown = append(unknown, "lock_time")
	}
	if p.Active = Bool(at(out, 5)); p.Active == domain.Unknown {
		unknown = append(unknown, "active")
	}
	p.UnknownFields = unknown
	return p
}

// LoanDetails maps getLoanDetails' seven members: borrower, collateral,
// principal, interest rate, health factor, accrued interest, active.
func LoanDetails(id *big.Int, out []any) domain.Loan {
	l := domain.Loan{ID: id}
	var unknown []string

	if l.Borrower = Address(at(out, 0)); l.Borrower == nil {
		unknown = append(unknown, "borrower")
	}
	if l.Collateral = Amount(at(out, 1), units.CollateralPrecision); !l.Collateral.Known() {
		unknown = append(unknown, "collateral")
	}
	if l.Principal = Amount(at(out, 2), units.StablePrecision); !l.Principal.Known() {
		unknown = append(unknown, "principal")
	}
	if l.InterestRateBps = BigInt(at(out, 3)); l.InterestRateBps == nil {
		unknown = append(unknown, "interest_rate_bps")
	}
	if l.HealthFactor = BigInt(at(out, 4)); l.HealthFactor == nil {
		unknown = append(unknown, "health_factor")
	}
	if l.AccruedInterest = Amount(at(out, 5), units.StablePrecision); !l.AccruedInterest.Known() {
		unknown = append(unknown, "accrued_interest")
	}
	if l.Active = Bool(at(out, 6)); l.Active == domain.Unknown {
		unknown = append(unknown, "active")
	}
	l.UnknownFields = unknown
	return l
}

// Constants maps the five constant reads in the order BASIS_POINTS,
// COLLATERAL_RATIO, LIQUIDATION_THRESHOLD, LIQUIDATION_PENALTY,
// baseInterestRate.
func Constants(vals []any) domain.ProtocolConstants {
	var c domain.ProtocolConstants
	targets := []struct {
		name string
		dst  **big.Int
	}{
		{"basis_points", &c.BasisPoints},
		{"collateral_ratio", &c.CollateralRatio},
		{"liquidation_threshold", &c.LiquidationThreshold},
		{"liquidation_penalty", &c.LiquidationPenalty},
		{"base_interest_rate", &c.BaseInterestRate},
	}
	for i, t := range targets {
		if *t.dst = BigInt(at(vals, i)); *t.dst == nil {
			c.UnknownFields = append(c.UnknownFields, t.name)
		}
	}
	return c
}

// ProtocolStats maps totalBorrowed, totalCollateral, loanIdCounter and
// paused.
func ProtocolStats(vals []any) domain.ProtocolStats {
	var s domain.ProtocolStats
	if s.TotalBorrowed = Amount(at(vals, 0), units.StablePrecision); !s.TotalBorrowed.Known() {
		s.UnknownFields = append(s.UnknownFields, "total_borrowed")
	}
	if s.TotalCollateral = Amount(at(vals, 1), units.CollateralPrecision); !s.TotalCollateral.Known() {
		s.UnknownFields = append(s.UnknownFields, "total_collateral")
	}
	if s.LoanCount = BigInt(at(vals, 2)); s.LoanCount == nil {
		s.UnknownFields = append(s.UnknownFields, "loan_count")
	}
	if s.Paused = Bool(at(vals, 3)); s.Paused == domain.Unknown {
		s.UnknownFields = append(s.UnknownFields, "paused")
	}
	return s
}

// VaultParams maps SECONDS_PER_YEAR and YIELD_RATE.
func VaultParams(vals []any) domain.VaultParams {
	return domain.VaultParams{
		SecondsPerYear: BigInt(at(vals, 0)),
		YieldRate:      Amount(at(vals, 1), units.VaultPrecision),
	}
}

// LoanIDs maps getUserLoans. ok is false when the result is not a list of
// integers; malformed members are skipped.
func LoanIDs(out []any) (ids []*big.Int, ok bool) {
	raw, isList := at(out, 0).([]*big.Int)
	if !isList {
		return nil, false
	}
	ids = make([]*big.Int, 0, len(raw))
	for _, id := range raw {
		if v := BigInt(id); v != nil {
			ids = append(ids, v)
		}
	}
	return ids, true
}

// Single extracts the first member of a single-output read.
func Single(out []any) any {
	return at(out, 0)
}
