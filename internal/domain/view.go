package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/vaultswap/internal/units"
)

// View is the aggregated dashboard for one address. Every member is loaded
// independently and may be unavailable while the rest are populated.
type View struct {
	Owner    common.Address `json:"owner"`
	ChainID  uint64         `json:"chain_id"`
	LoadedAt time.Time      `json:"loaded_at"`

	CollateralBalance Field[units.Amount] `json:"collateral_balance"`
	StableBalance     Field[units.Amount] `json:"stable_balance"`

	Vault        Field[VaultPosition] `json:"vault"`
	PendingYield Field[units.Amount]  `json:"pending_yield"`
	VaultParams  Field[VaultParams]   `json:"vault_params"`

	Loans     Field[[]Loan]            `json:"loans"`
	Price     Field[units.Amount]      `json:"price"`
	Constants Field[ProtocolConstants] `json:"constants"`
	Stats     Field[ProtocolStats]     `json:"stats"`

	PoolBalance       Field[units.Amount] `json:"pool_balance"`
	PoolTotalSupply   Field[units.Amount] `json:"pool_total_supply"`
	PoolTotalDeposits Field[units.Amount] `json:"pool_total_deposits"`
	PoolShareValue    Field[units.Amount] `json:"pool_share_value"`
}

// NewView returns a view for owner with every field in the given state.
func NewView(owner common.Address, chainID uint64, state FieldState) *View {
	v := &View{Owner: owner, ChainID: chainID}
	v.reset(state)
	return v
}

// Clear marks every field unknown. Used when the wallet disconnects.
func (v *View) Clear() {
	v.reset(FieldUnknown)
	v.LoadedAt = time.Time{}
}

func (v *View) reset(state FieldState) {
	v.CollateralBalance = Field[units.Amount]{State: state}
	v.StableBalance = Field[units.Amount]{State: state}
	v.Vault = Field[VaultPosition]{State: state}
	v.PendingYield = Field[units.Amount]{State: state}
	v.VaultParams = Field[VaultParams]{State: state}
	v.Loans = Field[[]Loan]{State: state}
	v.Price = Field[units.Amount]{State: state}
	v.Constants = Field[ProtocolConstants]{State: state}
	v.Stats = Field[ProtocolStats]{State: state}
	v.PoolBalance = Field[units.Amount]{State: state}
	v.PoolTotalSupply = Field[units.Amount]{State: state}
	v.PoolTotalDeposits = Field[units.Amount]{State: state}
	v.PoolShareValue = Field[units.Amount]{State: state}
}

// Clone returns a copy that shares no mutable slices with v.
func (v *View) Clone() *View {
	if v == nil {
		return nil
	}
	out := *v
	if v.Loans.Value != nil {
		out.Loans.Value = append([]Loan(nil), v.Loans.Value...)
	}
	return &out
}

// PoolShare derives the caller's pool share when every input is ready.
func (v *View) PoolShare() (PoolShare, bool) {
	bal, ok1 := v.PoolBalance.Get()
	supply, ok2 := v.PoolTotalSupply.Get()
	deposits, ok3 := v.PoolTotalDeposits.Get()
	value, ok4 := v.PoolShareValue.Get()
	if !ok1 || !ok2 {
		return PoolShare{}, false
	}
	if !ok3 {
		deposits = units.Unknown(units.StablePrecision)
	}
	if !ok4 {
		value = units.Unknown(units.StablePrecision)
	}
	return PoolShare{
		Balance:       bal,
		TotalSupply:   supply,
		TotalDeposits: deposits,
		Value:         value,
		OwnershipPct:  OwnershipPercent(bal, supply),
	}, true
}

// Loan returns the cached loan with the given id.
func (v *View) Loan(id *big.Int) (Loan, bool) {
	loans, ok := v.Loans.Get()
	if !ok || id == nil {
		return Loan{}, false
	}
	for _, l := range loans {
		if l.ID != nil && l.ID.Cmp(id) == 0 {
			return l, true
		}
	}
	return Loan{}, false
}

// Problems lists the names of fields that are unavailable or stale.
func (v *View) Problems() []string {
	var out []string
	check := func(name string, state FieldState, stale bool) {
		if state == FieldUnavailable || stale {
			out = append(out, name)
		}
	}
	check("collateral_balance", v.CollateralBalance.State, v.CollateralBalance.Stale)
	check("stable_balance", v.StableBalance.State, v.StableBalance.Stale)
	check("vault", v.Vault.State, v.Vault.Stale)
	check("pending_yield", v.PendingYield.State, v.PendingYield.Stale)
	check("vault_params", v.VaultParams.State, v.VaultParams.Stale)
	check("loans", v.Loans.State, v.Loans.Stale)
	check("price", v.Price.State, v.Price.Stale)
	check("constants", v.Constants.State, v.Constants.Stale)
	check("stats", v.Stats.State, v.Stats.Stale)
	check("pool_balance", v.PoolBalance.State, v.PoolBalance.Stale)
	check("pool_total_supply", v.PoolTotalSupply.State, v.PoolTotalSupply.Stale)
	check("pool_total_deposits", v.PoolTotalDeposits.State, v.PoolTotalDeposits.Stale)
	check("pool_share_value", v.PoolShareValue.State, v.PoolShareValue.Stale)
	return out
}

// LoanHealth is a loan with its derived health figures.
type LoanHealth struct {
	Loan
	CollateralValue units.Amount    `json:"collateral_value"`
	HealthPct       decimal.Decimal `json:"health_pct"`
	Status          HealthStatus    `json:"status"`
}

// AssessLoans derives health for every cached loan using the view's price
// and the protocol liquidation threshold, falling back to fallback when the
// constants are unavailable. Loans missing an input are HealthUnknown.
func (v *View) AssessLoans(fallback HealthThresholds) []LoanHealth {
	loans, ok := v.Loans.Get()
	if !ok {
		return nil
	}
	thresholds := fallback
	if c, ok := v.Constants.Get(); ok {
		thresholds = c.Thresholds(fallback)
	}
	price, havePrice := v.Price.Get()
	if !havePrice {
		price = units.Unknown(units.PricePrecision)
	}

	out := make([]LoanHealth, 0, len(loans))
	for _, l := range loans {
		lh := LoanHealth{
			Loan:            l,
			CollateralValue: CollateralValue(l.Collateral, price),
			Status:          HealthUnknown,
		}
		if debt, err := l.Debt(); err == nil {
			if pct, err := HealthPercent(l.Collateral, price, debt); err == nil {
				lh.HealthPct = pct
				lh.Status = thresholds.Classify(pct)
			}
		}
		out = append(out, lh)
	}
	return out
}
