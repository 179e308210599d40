package reader

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/vaultswap/internal/chain"
	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/mapper"
	"github.com/alanyoungcy/vaultswap/internal/units"
)

var (
	errMalformed  = errors.New("malformed result")
	errDependency = errors.New("prerequisite read failed")
)

type outcome[T any] struct {
	val T
	err error
}

// results holds one outcome per view field. Each stage-one goroutine writes
// exactly one member, so no locking is needed until Wait returns.
type results struct {
	collateral outcome[units.Amount]
	stable     outcome[units.Amount]
	vault      outcome[domain.VaultPosition]
	pending    outcome[units.Amount]
	params     outcome[domain.VaultParams]
	loanIDs    outcome[[]*big.Int]
	price      outcome[units.Amount]
	constants  outcome[domain.ProtocolConstants]
	stats      outcome[domain.ProtocolStats]
	poolBal    outcome[units.Amount]
	poolSupply outcome[units.Amount]
	poolDep    outcome[units.Amount]

	loans      outcome[[]domain.Loan]
	shareValue outcome[units.Amount]
	// loanGaps names stage-two refinements that failed without failing the
	// whole loan list.
	loanGaps []string
}

// runStages performs the independent reads, then the reads that depend on
// their results. No goroutine cancels its siblings.
func (a *Aggregator) runStages(ctx context.Context, owner common.Address) *results {
	r := &results{}

	var g errgroup.Group
	g.Go(func() error {
		r.collateral = a.amount(ctx, units.CollateralPrecision, chain.CollateralToken, "balanceOf", owner)
		return nil
	})
	g.Go(func() error {
		r.stable = a.amount(ctx, units.StablePrecision, chain.Stablecoin, "balanceOf", owner)
		return nil
	})
	g.Go(func() error {
		out, err := a.read(ctx, chain.Vault, "getVaultPosition", owner)
		if err != nil {
			r.vault.err = err
			return nil
		}
		r.vault.val = mapper.VaultPosition(out)
		return nil
	})
	g.Go(func() error {
		r.pending = a.amount(ctx, units.VaultPrecision, chain.Vault, "getPendingYield", owner)
		return nil
	})
	g.Go(func() error {
		vals, err := a.readSingles(ctx, chain.Vault, "SECONDS_PER_YEAR", "YIELD_RATE")
		if err != nil {
			r.params.err = err
			return nil
		}
		r.params.val = mapper.VaultParams(vals)
		return nil
	})
	g.Go(func() error {
		out, err := a.read(ctx, chain.LendingCore, "getUserLoans", owner)
		if err != nil {
			r.loanIDs.err = err
			return nil
		}
		ids, ok := mapper.LoanIDs(out)
		if !ok {
			r.loanIDs.err = fmt.Errorf("getUserLoans: %w", errMalformed)
			return nil
		}
		r.loanIDs.val = ids
		return nil
	})
	g.Go(func() error {
		r.price = a.amount(ctx, units.PricePrecision, chain.LendingCore, "getLatestPrice")
		return nil
	})
	g.Go(func() error {
		vals, err := a.readSingles(ctx, chain.LendingCore,
			"BASIS_POINTS", "COLLATERAL_RATIO", "LIQUIDATION_THRESHOLD", "LIQUIDATION_PENALTY", "baseInterestRate")
		if err != nil {
			r.constants.err = err
			return nil
		}
		r.constants.val = mapper.Constants(vals)
		return nil
	})
	g.Go(func() error {
		vals, err := a.readSingles(ctx, chain.LendingCore, "totalBorrowed", "totalCollateral", "loanIdCounter", "paused")
		if err != nil {
			r.stats.err = err
			return nil
		}
		r.stats.val = mapper.ProtocolStats(vals)
		return nil
	})
	g.Go(func() error {
		r.poolBal = a.amount(ctx, units.SharePrecision, chain.LiquidityPool, "balanceOf", owner)
		return nil
	})
	g.Go(func() error {
		r.poolSupply = a.amount(ctx, units.SharePrecision, chain.LiquidityPool, "totalSupply")
		return nil
	})
	g.Go(func() error {
		r.poolDep = a.amount(ctx, units.StablePrecision, chain.LiquidityPool, "totalDeposits")
		return nil
	})
	_ = g.Wait()

	if ctx.Err() != nil {
		return r
	}

	var g2 errgroup.Group
	g2.Go(func() error {
		r.loans, r.loanGaps = a.loadLoans(ctx, r.loanIDs)
		return nil
	})
	g2.Go(func() error {
		r.shareValue = a.shareValue(ctx, r.poolBal)
		return nil
	})
	_ = g2.Wait()
	return r
}

func (a *Aggregator) amount(ctx context.Context, precision uint8, name chain.LogicalName, method string, args ...any) outcome[units.Amount] {
	out, err := a.read(ctx, name, method, args...)
	if err != nil {
		return outcome[units.Amount]{err: err}
	}
	amt, err := amountOf(out, precision)
	if err != nil {
		return outcome[units.Amount]{err: fmt.Errorf("%s.%s: %w", name, method, err)}
	}
	return outcome[units.Amount]{val: amt}
}

func amountOf(out []any, precision uint8) (units.Amount, error) {
	amt := mapper.Amount(mapper.Single(out), precision)
	if !amt.Known() {
		return amt, errMalformed
	}
	return amt, nil
}

// readSingles reads several zero-argument getters concurrently and returns
// their first outputs in order. Any failure fails the group.
func (a *Aggregator) readSingles(ctx context.Context, name chain.LogicalName, methods ...string) ([]any, error) {
	vals := make([]any, len(methods))
	var g errgroup.Group
	for i, m := range methods {
		g.Go(func() error {
			out, err := a.read(ctx, name, m)
			if err != nil {
				return err
			}
			vals[i] = mapper.Single(out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vals, nil
}

// loadLoans fetches details, health and accrued interest for every loan id.
// A details failure fails the list. The tuple's health and interest members
// are zero placeholders, so those two come only from their own reads; a
// failed or malformed read leaves the member unknown and is reported as a gap.
func (a *Aggregator) loadLoans(ctx context.Context, ids outcome[[]*big.Int]) (outcome[[]domain.Loan], []string) {
	if ids.err != nil {
		return outcome[[]domain.Loan]{err: fmt.Errorf("%w: %v", errDependency, ids.err)}, nil
	}

	loans := make([]domain.Loan, len(ids.val))
	var (
		mu   sync.Mutex
		gaps []string
		g    errgroup.Group
	)
	gap := func(id *big.Int, what string) {
		mu.Lock()
		gaps = append(gaps, fmt.Sprintf("loan %s %s", id, what))
		mu.Unlock()
	}

	for i, id := range ids.val {
		g.Go(func() error {
			out, err := a.read(ctx, chain.LendingCore, "getLoanDetails", id)
			if err != nil {
				return fmt.Errorf("loan %s: %w", id, err)
			}
			loan := withoutPlaceholders(mapper.LoanDetails(id, out))

			if out, err := a.read(ctx, chain.LendingCore, "getHealthFactor", id); err == nil {
				loan.HealthFactor = mapper.BigInt(mapper.Single(out))
			}
			if loan.HealthFactor == nil {
				loan.UnknownFields = append(loan.UnknownFields, "health_factor")
				gap(id, "health factor")
			}
			if out, err := a.read(ctx, chain.LendingCore, "calculateInterest", id); err == nil {
				loan.AccruedInterest = mapper.Amount(mapper.Single(out), units.StablePrecision)
			}
			if !loan.AccruedInterest.Known() {
				loan.UnknownFields = append(loan.UnknownFields, "accrued_interest")
				gap(id, "accrued interest")
			}
			loans[i] = loan
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcome[[]domain.Loan]{err: err}, nil
	}
	return outcome[[]domain.Loan]{val: loans}, gaps
}

// withoutPlaceholders clears the details tuple's health and interest members.
func withoutPlaceholders(l domain.Loan) domain.Loan {
	l.HealthFactor = nil
	l.AccruedInterest = units.Unknown(units.StablePrecision)
	kept := l.UnknownFields[:0]
	for _, f := range l.UnknownFields {
		if f != "health_factor" && f != "accrued_interest" {
			kept = append(kept, f)
		}
	}
	l.UnknownFields = kept
	return l
}

// shareValue values the caller's pool shares. A zero balance is worth zero
// without a call.
func (a *Aggregator) shareValue(ctx context.Context, bal outcome[units.Amount]) outcome[units.Amount] {
	if bal.err != nil {
		return outcome[units.Amount]{err: fmt.Errorf("%w: %v", errDependency, bal.err)}
	}
	if bal.val.Sign() <= 0 {
		return outcome[units.Amount]{val: units.Zero(units.StablePrecision)}
	}
	return a.amount(ctx, units.StablePrecision, chain.LiquidityPool, "getShareValue", bal.val.BigInt())
}

// apply merges the outcomes into v and returns the names of failed fields.
func (r *results) apply(v *domain.View, retain bool, now time.Time) []string {
	var failed []string
	mergeField(&v.CollateralBalance, r.collateral, "collateral balance", retain, now, &failed)
	mergeField(&v.StableBalance, r.stable, "stablecoin balance", retain, now, &failed)
	mergeField(&v.Vault, r.vault, "vault position", retain, now, &failed)
	mergeField(&v.PendingYield, r.pending, "pending yield", retain, now, &failed)
	mergeField(&v.VaultParams, r.params, "vault parameters", retain, now, &failed)
	mergeField(&v.Loans, r.loans, "loans", retain, now, &failed)
	mergeField(&v.Price, r.price, "BTC price", retain, now, &failed)
	mergeField(&v.Constants, r.constants, "protocol constants", retain, now, &failed)
	mergeField(&v.Stats, r.stats, "protocol stats", retain, now, &failed)
	mergeField(&v.PoolBalance, r.poolBal, "pool balance", retain, now, &failed)
	mergeField(&v.PoolTotalSupply, r.poolSupply, "pool total supply", retain, now, &failed)
	mergeField(&v.PoolTotalDeposits, r.poolDep, "pool total deposits", retain, now, &failed)
	mergeField(&v.PoolShareValue, r.shareValue, "pool share value", retain, now, &failed)
	return append(failed, r.loanGaps...)
}

func mergeField[T any](f *domain.Field[T], o outcome[T], name string, retain bool, now time.Time, failed *[]string) {
	if o.err != nil {
		*f = f.Fail(o.err, retain)
		*failed = append(*failed, name)
		return
	}
	*f = domain.Ready(o.val, now)
}
