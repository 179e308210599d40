package domain

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultswap/internal/units"
)

func usd(n int64) units.Amount {
	return units.New(new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000)), units.StablePrecision)
}

func TestHealthPercent(t *testing.T) {
	// 1 BTC of collateral at $65,000.
	collateral := units.ToBaseUnits("1", units.VaultPrecision)
	price := units.ToBaseUnits("65000", units.PricePrecision)
	th := DefaultHealthThresholds()

	tests := []struct {
		name   string
		debt   units.Amount
		minPct string
		maxPct string
		status HealthStatus
	}{
		{name: "healthy", debt: usd(30_000), minPct: "216.66", maxPct: "216.67", status: HealthHealthy},
		{name: "liquidation boundary", debt: usd(54_167), minPct: "119.99", maxPct: "120", status: HealthLiquidatable},
		{name: "at risk", debt: usd(50_000), minPct: "130", maxPct: "130", status: HealthAtRisk},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pct, err := HealthPercent(collateral, price, tt.debt)
			require.NoError(t, err)
			assert.True(t, pct.GreaterThanOrEqual(decimal.RequireFromString(tt.minPct)), pct.String())
			assert.True(t, pct.LessThanOrEqual(decimal.RequireFromString(tt.maxPct)), pct.String())
			assert.Equal(t, tt.status, th.Classify(pct))
		})
	}
}

func TestHealthPercentUnknownOrZeroDebt(t *testing.T) {
	collateral := units.ToBaseUnits("1", units.VaultPrecision)
	price := units.ToBaseUnits("65000", units.PricePrecision)

	_, err := HealthPercent(collateral, units.Unknown(units.PricePrecision), usd(1))
	assert.ErrorIs(t, err, units.ErrUnknownAmount)

	_, err = HealthPercent(collateral, price, units.Zero(units.StablePrecision))
	assert.Error(t, err)
}

func TestCollateralValue(t *testing.T) {
	v := CollateralValue(units.ToBaseUnits("2.5", units.VaultPrecision), units.ToBaseUnits("65000", units.PricePrecision))
	assert.Equal(t, units.StablePrecision, v.Precision())
	assert.Equal(t, "162500", v.String())
}

func TestFieldFail(t *testing.T) {
	f := Ready(units.ToBaseUnits("1", units.StablePrecision), time.Now())

	stale := f.Fail(errors.New("rpc down"), true)
	assert.Equal(t, FieldReady, stale.State)
	assert.True(t, stale.Stale)
	assert.Equal(t, "rpc down", stale.Err)
	_, ok := stale.Get()
	assert.True(t, ok)

	gone := f.Fail(errors.New("rpc down"), false)
	assert.Equal(t, FieldUnavailable, gone.State)
	_, ok = gone.Get()
	assert.False(t, ok)

	never := Loading[units.Amount]().Fail(nil, true)
	assert.Equal(t, FieldUnavailable, never.State)
	assert.Equal(t, "unavailable", never.Err)
}

func TestViewClear(t *testing.T) {
	v := NewView(common.HexToAddress("0x1"), 1, FieldReady)
	v.LoadedAt = time.Now()
	v.Clear()

	assert.Equal(t, FieldUnknown, v.CollateralBalance.State)
	assert.Equal(t, FieldUnknown, v.Loans.State)
	assert.Equal(t, FieldUnknown, v.PoolShareValue.State)
	assert.True(t, v.LoadedAt.IsZero())
}

func TestViewAssessLoans(t *testing.T) {
	v := NewView(common.HexToAddress("0x1"), 1, FieldUnknown)
	v.Loans = Ready([]Loan{
		{
			ID:              big.NewInt(1),
			Collateral:      units.ToBaseUnits("1", units.VaultPrecision),
			Principal:       usd(30_000),
			AccruedInterest: units.Zero(units.StablePrecision),
			Active:          Yes,
		},
		{
			ID:              big.NewInt(2),
			Collateral:      units.ToBaseUnits("1", units.VaultPrecision),
			Principal:       usd(30_000),
			AccruedInterest: units.Unknown(units.StablePrecision),
			Active:          Yes,
		},
	}, time.Now())

	// No price yet: everything unknown.
	for _, lh := range v.AssessLoans(DefaultHealthThresholds()) {
		assert.Equal(t, HealthUnknown, lh.Status)
	}

	v.Price = Ready(units.ToBaseUnits("65000", units.PricePrecision), time.Now())
	got := v.AssessLoans(DefaultHealthThresholds())
	require.Len(t, got, 2)
	assert.Equal(t, HealthHealthy, got[0].Status)
	assert.Equal(t, "65000", got[0].CollateralValue.String())
	assert.Equal(t, HealthUnknown, got[1].Status)
}

func TestViewLoanComparesFullID(t *testing.T) {
	v := NewView(common.HexToAddress("0x1"), 1, FieldUnknown)
	_, ok := v.Loan(big.NewInt(3))
	assert.False(t, ok)

	v.Loans = Ready([]Loan{{ID: big.NewInt(3)}}, time.Now())
	l, ok := v.Loan(big.NewInt(3))
	require.True(t, ok)
	assert.Equal(t, int64(3), l.ID.Int64())

	wrapped := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(3))
	_, ok = v.Loan(wrapped)
	assert.False(t, ok)
	_, ok = v.Loan(nil)
	assert.False(t, ok)
}

func TestOwnershipPercent(t *testing.T) {
	bal := units.ToBaseUnits("25", units.SharePrecision)
	supply := units.ToBaseUnits("100", units.SharePrecision)
	assert.True(t, decimal.NewFromInt(25).Equal(OwnershipPercent(bal, supply)))
	assert.True(t, OwnershipPercent(bal, units.Zero(units.SharePrecision)).IsZero())
	assert.True(t, OwnershipPercent(units.Unknown(units.SharePrecision), supply).IsZero())
}

func TestParseActionAndTrigger(t *testing.T) {
	a, err := ParseAction("repay")
	require.NoError(t, err)
	assert.Equal(t, ActionRepay, a)

	_, err = ParseAction("swap")
	assert.ErrorIs(t, err, ErrUnsupportedAction)

	assert.Equal(t, Trigger("repay:7"), TriggerFor(ActionRepay, Params{LoanID: big.NewInt(7)}))
	assert.Equal(t, Trigger("repay:8"), TriggerFor(ActionRepay, Params{LoanID: big.NewInt(8)}))
	assert.Equal(t, Trigger("mint-test-asset:stablecoin"), TriggerFor(ActionMintTestAsset, Params{Asset: AssetStablecoin}))
	assert.Equal(t, Trigger("borrow"), TriggerFor(ActionBorrow, Params{LoanID: big.NewInt(1)}))
}

func TestKindOf(t *testing.T) {
	err := &ActionError{Kind: KindReverted, Action: ActionBorrow, Reason: "paused"}
	assert.Equal(t, KindReverted, KindOf(err))
	assert.Equal(t, "borrow on-chain-revert: paused", err.Error())
	assert.Equal(t, KindUnknown, KindOf(errors.New("x")))
}
