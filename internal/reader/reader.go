// Package reader aggregates independent contract reads into one dashboard
// view that tolerates partial failure.
package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/vaultswap/internal/chain"
	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/units"
)

// Mode selects how a load treats values already shown.
type Mode int

const (
	// ModeInitial starts every field in the loading state.
	ModeInitial Mode = iota
	// ModeBackground keeps last-known values and replaces them field by
	// field only on success.
	ModeBackground
)

func (m Mode) String() string {
	if m == ModeBackground {
		return "background"
	}
	return "initial"
}

// Resolver is the subset of chain.Resolver the aggregator needs.
type Resolver interface {
	ResolveChain() chain.ChainDescriptor
	ResolveContract(name chain.LogicalName) (domain.ContractRef, error)
}

// Options configures an Aggregator. Zero values are valid.
type Options struct {
	// Cache mirrors the last view per address. Optional.
	Cache domain.ViewCache
	// ReadTimeout bounds each contract read. Zero means no per-read bound.
	ReadTimeout time.Duration
	Logger      *slog.Logger
}

// Aggregator loads dashboard views. It remembers the last view per address so
// background refreshes never blank a field that was already shown.
type Aggregator struct {
	resolver    Resolver
	rpc         domain.ContractReader
	notifier    domain.Notifier
	cache       domain.ViewCache
	readTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu   sync.Mutex
	last map[common.Address]*domain.View
}

// New creates an Aggregator.
func New(resolver Resolver, rpc domain.ContractReader, notifier domain.Notifier, opts Options) *Aggregator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		resolver:    resolver,
		rpc:         rpc,
		notifier:    notifier,
		cache:       opts.Cache,
		readTimeout: opts.ReadTimeout,
		logger:      logger.With(slog.String("component", "reader")),
		now:         time.Now,
		last:        make(map[common.Address]*domain.View),
	}
}

// LoadView reads every dashboard field for owner. Individual read failures
// are recorded on their field and reported in one aggregate notification; the
// returned error is non-nil only when ctx was cancelled, in which case the
// partial result is discarded without notifying anyone.
func (a *Aggregator) LoadView(ctx context.Context, owner common.Address, mode Mode) (*domain.View, error) {
	target := a.resolver.ResolveChain()
	start := a.now()

	view := a.baseline(ctx, owner, target.ID, mode)

	res := a.runStages(ctx, owner)
	if ctx.Err() != nil {
		a.logger.Debug("view load abandoned",
			slog.String("owner", owner.Hex()),
			slog.String("mode", mode.String()),
		)
		return nil, ctx.Err()
	}

	failed := res.apply(view, mode == ModeBackground, a.now())
	view.LoadedAt = a.now()

	a.mu.Lock()
	a.last[owner] = view.Clone()
	a.mu.Unlock()

	if a.cache != nil {
		if err := a.cache.Save(ctx, view); err != nil {
			a.logger.Warn("view cache save failed",
				slog.String("owner", owner.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	a.logger.Info("view loaded",
		slog.String("owner", owner.Hex()),
		slog.String("mode", mode.String()),
		slog.Uint64("chain_id", target.ID),
		slog.Int("failed", len(failed)),
		slog.Duration("took", a.now().Sub(start)),
	)

	if len(failed) > 0 {
		a.notifyFailures(ctx, failed)
	}
	return view, nil
}

// baseline returns the view the load starts from.
func (a *Aggregator) baseline(ctx context.Context, owner common.Address, chainID uint64, mode Mode) *domain.View {
	if mode == ModeInitial {
		return domain.NewView(owner, chainID, domain.FieldLoading)
	}
	if v := a.Snapshot(ctx, owner); v != nil && v.ChainID == chainID {
		return v
	}
	return domain.NewView(owner, chainID, domain.FieldLoading)
}

// Snapshot returns the last-known view for owner without any network read,
// or nil when nothing is known. Views restored from the shared cache are
// marked stale since they were produced by another process.
func (a *Aggregator) Snapshot(ctx context.Context, owner common.Address) *domain.View {
	a.mu.Lock()
	v, ok := a.last[owner]
	a.mu.Unlock()
	if ok {
		return v.Clone()
	}
	if a.cache == nil {
		return nil
	}
	cached, err := a.cache.Load(ctx, owner)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			a.logger.Warn("view cache load failed",
				slog.String("owner", owner.Hex()),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
	markStale(cached)
	return cached
}

// Forget drops everything remembered about owner. Called on wallet
// disconnect; the next render sees DisconnectedView.
func (a *Aggregator) Forget(ctx context.Context, owner common.Address) {
	a.mu.Lock()
	delete(a.last, owner)
	a.mu.Unlock()
	if a.cache != nil {
		if err := a.cache.Delete(ctx, owner); err != nil {
			a.logger.Warn("view cache delete failed",
				slog.String("owner", owner.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// DisconnectedView is what a consumer renders when no wallet is connected:
// every field unknown.
func (a *Aggregator) DisconnectedView(owner common.Address) *domain.View {
	return domain.NewView(owner, a.resolver.ResolveChain().ID, domain.FieldUnknown)
}

// MaxBorrow asks the lending core how much stablecoin can be borrowed
// against collateral.
func (a *Aggregator) MaxBorrow(ctx context.Context, collateral units.Amount) (units.Amount, error) {
	if !collateral.Known() {
		return units.Unknown(units.StablePrecision), units.ErrUnknownAmount
	}
	if collateral.Precision() != units.CollateralPrecision {
		return units.Unknown(units.StablePrecision), fmt.Errorf("reader: max borrow: %w", units.ErrPrecisionMismatch)
	}
	out, err := a.read(ctx, chain.LendingCore, "getMaxBorrowAmount", collateral.BigInt())
	if err != nil {
		return units.Unknown(units.StablePrecision), fmt.Errorf("reader: max borrow: %w", err)
	}
	return amountOf(out, units.StablePrecision)
}

func (a *Aggregator) notifyFailures(ctx context.Context, failed []string) {
	n := domain.Notification{
		Event:       "read_failure",
		Title:       "Some data could not be loaded",
		Description: fmt.Sprintf("Unavailable: %s", strings.Join(failed, ", ")),
		Severity:    domain.SeverityError,
	}
	if err := a.notifier.Notify(ctx, n); err != nil {
		a.logger.Warn("read failure notification failed", slog.String("error", err.Error()))
	}
}

// read resolves the contract and performs one eth_call.
func (a *Aggregator) read(ctx context.Context, name chain.LogicalName, method string, args ...any) ([]any, error) {
	ref, err := a.resolver.ResolveContract(name)
	if err != nil {
		return nil, err
	}
	if a.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.readTimeout)
		defer cancel()
	}
	out, err := a.rpc.ReadContract(ctx, domain.ContractCall{Contract: ref, Method: method, Args: args})
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", name, method, err)
	}
	return out, nil
}

func markStale(v *domain.View) {
	v.CollateralBalance.Stale = v.CollateralBalance.State == domain.FieldReady
	v.StableBalance.Stale = v.StableBalance.State == domain.FieldReady
	v.Vault.Stale = v.Vault.State == domain.FieldReady
	v.PendingYield.Stale = v.PendingYield.State == domain.FieldReady
	v.VaultParams.Stale = v.VaultParams.State == domain.FieldReady
	v.Loans.Stale = v.Loans.State == domain.FieldReady
	v.Price.Stale = v.Price.State == domain.FieldReady
	v.Constants.Stale = v.Constants.State == domain.FieldReady
	v.Stats.Stale = v.Stats.State == domain.FieldReady
	v.PoolBalance.Stale = v.PoolBalance.State == domain.FieldReady
	v.PoolTotalSupply.Stale = v.PoolTotalSupply.State == domain.FieldReady
	v.PoolTotalDeposits.Stale = v.PoolTotalDeposits.State == domain.FieldReady
	v.PoolShareValue.Stale = v.PoolShareValue.State == domain.FieldReady
}
