package orchestrator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/vaultswap/internal/chain"
	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/mapper"
	"github.com/alanyoungcy/vaultswap/internal/units"
)

// defaultMintAmount is minted when mint-test-asset is given no amount.
const defaultMintAmount = "100"

// request is a parsed action: the human inputs converted at the precision of
// the token they denominate.
type request struct {
	action     domain.Action
	params     domain.Params
	amount     units.Amount
	collateral units.Amount
	mintToken  chain.LogicalName
}

// allowanceCheck describes the approval an asset-inbound action may need.
type allowanceCheck struct {
	token   domain.ContractRef
	spender common.Address
	amount  *big.Int
}

// plan is the ordered set of writes for one action.
type plan struct {
	approval *allowanceCheck
	primary  domain.ContractCall
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// parse checks the parts of an action that need neither a wallet nor the
// last-known view.
func (o *Orchestrator) parse(action domain.Action, p domain.Params) (request, error) {
	req := request{action: action, params: p}
	if action.NeedsLoan() && p.LoanID == nil {
		return req, invalid("a loan id is required")
	}
	if p.LoanID != nil && p.LoanID.Sign() < 0 {
		return req, invalid("loan id must not be negative")
	}

	var err error
	switch action {
	case domain.ActionDepositCollateral, domain.ActionWithdrawCollateral, domain.ActionAddCollateral:
		req.amount, err = positive(p.Amount, units.CollateralPrecision, "amount")
	case domain.ActionPoolDeposit:
		req.amount, err = positive(p.Amount, units.StablePrecision, "amount")
	case domain.ActionPoolWithdraw:
		req.amount, err = positive(p.Amount, units.SharePrecision, "shares")
	case domain.ActionBorrow:
		if req.collateral, err = positive(p.Collateral, units.CollateralPrecision, "collateral"); err == nil {
			req.amount, err = positive(p.Amount, units.StablePrecision, "borrow amount")
		}
	case domain.ActionMintTestAsset:
		if !o.resolver.ResolveChain().MintEnabled {
			return req, fmt.Errorf("%w: %w", domain.ErrInvalidInput, domain.ErrMintDisabled)
		}
		precision := units.CollateralPrecision
		req.mintToken = chain.CollateralToken
		switch p.Asset {
		case "", domain.AssetCollateral:
		case domain.AssetStablecoin:
			precision = units.StablePrecision
			req.mintToken = chain.Stablecoin
		default:
			return req, invalid("unknown asset %q", p.Asset)
		}
		amount := p.Amount
		if amount == "" {
			amount = defaultMintAmount
		}
		req.amount, err = positive(amount, precision, "amount")
	case domain.ActionClaimYield, domain.ActionRepay, domain.ActionLiquidate:
	default:
		return req, fmt.Errorf("%w: %q", domain.ErrUnsupportedAction, action)
	}
	return req, err
}

func positive(human string, precision uint8, what string) (units.Amount, error) {
	a := units.ToBaseUnits(human, precision)
	if a.Sign() <= 0 {
		return a, invalid("%s must be greater than zero", what)
	}
	return a, nil
}

// advise compares the request against the last-known view. Unknown cached
// values never block a submission; the contract remains the final arbiter.
func advise(req request, v *domain.View) error {
	if v == nil {
		return nil
	}
	staked := units.Unknown(units.VaultPrecision)
	if pos, ok := v.Vault.Get(); ok {
		staked = pos.Staked
	}

	switch req.action {
	case domain.ActionDepositCollateral:
		if bal, ok := v.CollateralBalance.Get(); ok {
			return notAbove(req.amount, bal, "deposit exceeds wallet balance")
		}
	case domain.ActionWithdrawCollateral:
		return notAbove(req.amount, staked, "withdrawal exceeds staked balance")
	case domain.ActionBorrow:
		return notAbove(req.collateral, staked, "collateral exceeds staked balance")
	case domain.ActionAddCollateral:
		return notAbove(req.amount, staked, "collateral exceeds staked balance")
	case domain.ActionPoolDeposit:
		if bal, ok := v.StableBalance.Get(); ok {
			return notAbove(req.amount, bal, "deposit exceeds wallet balance")
		}
	case domain.ActionPoolWithdraw:
		if bal, ok := v.PoolBalance.Get(); ok {
			return notAbove(req.amount, bal, "withdrawal exceeds pool share balance")
		}
	case domain.ActionRepay, domain.ActionLiquidate:
		if l, ok := v.Loan(req.params.LoanID); ok && l.Active == domain.No {
			return invalid("loan %s is not active", req.params.LoanID)
		}
	}
	return nil
}

// notAbove fails when requested exceeds have. Both sides must share a
// precision; an unknown have passes.
func notAbove(requested, have units.Amount, msg string) error {
	if !have.Known() {
		return nil
	}
	c, err := requested.Cmp(have)
	if err != nil {
		return invalid("%s: %v", msg, err)
	}
	if c > 0 {
		return invalid("%s (%s > %s)", msg, requested, have)
	}
	return nil
}

// build resolves contracts and assembles the writes. Repay reads the loan's
// outstanding debt fresh so the approval covers principal plus interest.
func (o *Orchestrator) build(ctx context.Context, req request, holder common.Address) (plan, error) {
	var (
		pl  plan
		err error
	)
	call := func(name chain.LogicalName, method string, args ...any) (domain.ContractCall, error) {
		ref, err := o.resolver.ResolveContract(name)
		if err != nil {
			return domain.ContractCall{}, err
		}
		return domain.ContractCall{Contract: ref, Method: method, Args: args}, nil
	}
	approve := func(token, spender chain.LogicalName, amount *big.Int) (*allowanceCheck, error) {
		t, err := o.resolver.ResolveContract(token)
		if err != nil {
			return nil, err
		}
		s, err := o.resolver.ResolveContract(spender)
		if err != nil {
			return nil, err
		}
		return &allowanceCheck{token: t, spender: s.Address, amount: amount}, nil
	}

	switch req.action {
	case domain.ActionDepositCollateral:
		if pl.approval, err = approve(chain.CollateralToken, chain.Vault, req.amount.BigInt()); err == nil {
			pl.primary, err = call(chain.Vault, "depositBTC", req.amount.BigInt())
		}
	case domain.ActionWithdrawCollateral:
		pl.primary, err = call(chain.Vault, "withdrawBTC", req.amount.BigInt())
	case domain.ActionClaimYield:
		pl.primary, err = call(chain.Vault, "claimYield")
	case domain.ActionBorrow:
		pl.primary, err = call(chain.LendingCore, "borrow", req.collateral.BigInt(), req.amount.BigInt())
	case domain.ActionRepay:
		var debt *big.Int
		if debt, err = o.outstandingDebt(ctx, req.params.LoanID); err != nil {
			return pl, err
		}
		if pl.approval, err = approve(chain.Stablecoin, chain.LendingCore, debt); err == nil {
			pl.primary, err = call(chain.LendingCore, "repay", req.params.LoanID)
		}
	case domain.ActionAddCollateral:
		pl.primary, err = call(chain.LendingCore, "addCollateral", req.params.LoanID, req.amount.BigInt())
	case domain.ActionLiquidate:
		pl.primary, err = call(chain.LendingCore, "liquidate", req.params.LoanID)
	case domain.ActionPoolDeposit:
		if pl.approval, err = approve(chain.Stablecoin, chain.LiquidityPool, req.amount.BigInt()); err == nil {
			pl.primary, err = call(chain.LiquidityPool, "deposit", req.amount.BigInt())
		}
	case domain.ActionPoolWithdraw:
		pl.primary, err = call(chain.LiquidityPool, "withdraw", req.amount.BigInt())
	case domain.ActionMintTestAsset:
		pl.primary, err = call(req.mintToken, "mint", holder, req.amount.BigInt())
	default:
		err = fmt.Errorf("%w: %q", domain.ErrUnsupportedAction, req.action)
	}
	return pl, err
}

// outstandingDebt returns principal plus accrued interest in stablecoin base
// units.
func (o *Orchestrator) outstandingDebt(ctx context.Context, loanID *big.Int) (*big.Int, error) {
	core, err := o.resolver.ResolveContract(chain.LendingCore)
	if err != nil {
		return nil, err
	}
	out, err := o.rpc.ReadContract(ctx, domain.ContractCall{Contract: core, Method: "getLoanDetails", Args: []any{loanID}})
	if err != nil {
		return nil, &readError{what: "loan details", err: err}
	}
	loan := mapper.LoanDetails(loanID, out)
	if loan.Active == domain.No {
		return nil, invalid("loan %s is not active", loanID)
	}
	out, err = o.rpc.ReadContract(ctx, domain.ContractCall{Contract: core, Method: "calculateInterest", Args: []any{loanID}})
	if err != nil {
		return nil, &readError{what: "accrued interest", err: err}
	}
	loan.AccruedInterest = mapper.Amount(mapper.Single(out), units.StablePrecision)
	debt, err := loan.Debt()
	if err != nil {
		return nil, &readError{what: "loan debt", err: err}
	}
	return debt.BigInt(), nil
}

// readError marks failures of the fresh reads an action depends on.
type readError struct {
	what string
	err  error
}

func (e *readError) Error() string { return fmt.Sprintf("read %s: %v", e.what, e.err) }
func (e *readError) Unwrap() error { return e.err }
