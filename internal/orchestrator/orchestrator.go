// Package orchestrator runs user actions as ordered, allowance-gated
// transaction sequences and reports one terminal outcome per action.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/vaultswap/internal/chain"
	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/mapper"
)

// Resolver is the subset of chain.Resolver the orchestrator needs.
type Resolver interface {
	ResolveChain() chain.ChainDescriptor
	ResolveContract(name chain.LogicalName) (domain.ContractRef, error)
}

// ViewSource supplies the last-known view used for advisory validation.
type ViewSource interface {
	Snapshot(ctx context.Context, owner common.Address) *domain.View
}

// RefreshFunc reloads the whole view for owner after a settled action.
type RefreshFunc func(ctx context.Context, owner common.Address)

// Options configures an Orchestrator. Zero values are valid.
type Options struct {
	// Locks guards triggers across processes. Optional.
	Locks   domain.LockManager
	LockTTL time.Duration
	// Journal records every submitted transaction. Optional.
	Journal domain.TxJournal
	// SettlementTimeout bounds each receipt wait. Zero waits indefinitely.
	SettlementTimeout time.Duration
	Refresh           RefreshFunc
	Logger            *slog.Logger
}

// Orchestrator submits actions. One instance serves the whole process: it
// owns the in-flight map and serialises network switches on the shared
// wallet session.
type Orchestrator struct {
	resolver Resolver
	rpc      domain.ContractReader
	waiter   domain.ReceiptWaiter
	wallet   domain.Wallet
	views    ViewSource
	notifier domain.Notifier

	locks             domain.LockManager
	lockTTL           time.Duration
	journal           domain.TxJournal
	settlementTimeout time.Duration
	refresh           RefreshFunc
	logger            *slog.Logger

	inflight *InFlight
	switchMu sync.Mutex

	obsMu     sync.RWMutex
	observers []func(domain.Transition)
}

// New creates an Orchestrator.
func New(
	resolver Resolver,
	rpc domain.ContractReader,
	waiter domain.ReceiptWaiter,
	wallet domain.Wallet,
	views ViewSource,
	notifier domain.Notifier,
	opts Options,
) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Orchestrator{
		resolver:          resolver,
		rpc:               rpc,
		waiter:            waiter,
		wallet:            wallet,
		views:             views,
		notifier:          notifier,
		locks:             opts.Locks,
		lockTTL:           ttl,
		journal:           opts.Journal,
		settlementTimeout: opts.SettlementTimeout,
		refresh:           opts.Refresh,
		logger:            logger.With(slog.String("component", "orchestrator")),
		inflight:          NewInFlight(),
	}
}

// OnTransition registers fn to receive every phase change.
func (o *Orchestrator) OnTransition(fn func(domain.Transition)) {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	o.observers = append(o.observers, fn)
}

// InFlight reports whether trigger has a submission running.
func (o *Orchestrator) InFlight(trigger domain.Trigger) bool {
	return o.inflight.Active(trigger)
}

// ActiveTriggers lists every trigger with a submission running.
func (o *Orchestrator) ActiveTriggers() []domain.Trigger {
	return o.inflight.List()
}

// run carries the state of one submission.
type run struct {
	action  domain.Action
	trigger domain.Trigger
	owner   common.Address
	chainID uint64
	phase   domain.Phase
}

// Submit runs action to a terminal outcome. It returns the settled receipt
// of the primary write, or an *domain.ActionError. A terminal notification is
// sent in either case; a duplicate of an in-flight trigger gets a warning.
func (o *Orchestrator) Submit(ctx context.Context, action domain.Action, p domain.Params) (domain.Receipt, error) {
	trigger := domain.TriggerFor(action, p)
	r := &run{action: action, trigger: trigger, phase: domain.PhaseIdle}

	if !o.inflight.TryStart(trigger) {
		ae := o.actionErr(r, domain.KindInFlight, "", domain.ErrInFlight)
		o.notify(ctx, failureNotification(ae))
		return domain.Receipt{}, ae
	}
	defer o.inflight.Done(trigger)

	receipt, err := o.submit(ctx, r, p)
	if err != nil {
		var ae *domain.ActionError
		if !errors.As(err, &ae) {
			ae = o.actionErr(r, domain.KindUnknown, "", err)
		}
		o.emit(r, domain.PhaseFailed, common.Hash{}, ae.Error())
		o.logger.Warn("action failed",
			slog.String("action", string(action)),
			slog.String("trigger", string(trigger)),
			slog.String("kind", string(ae.Kind)),
			slog.String("error", ae.Error()),
		)
		o.notify(ctx, failureNotification(ae))
		return receipt, ae
	}

	o.emit(r, domain.PhaseSettled, receipt.TxHash, "")
	o.logger.Info("action settled",
		slog.String("action", string(action)),
		slog.String("trigger", string(trigger)),
		slog.String("tx_hash", receipt.TxHash.Hex()),
		slog.Uint64("block", receipt.BlockNumber),
	)
	o.notify(ctx, successNotification(action, receipt))
	if o.refresh != nil {
		o.refresh(context.WithoutCancel(ctx), r.owner)
	}
	return receipt, nil
}

func (o *Orchestrator) submit(ctx context.Context, r *run, p domain.Params) (domain.Receipt, error) {
	req, err := o.parse(r.action, p)
	if err != nil {
		return domain.Receipt{}, o.inputErr(r, err)
	}

	signer, ok := o.wallet.Session()
	if !ok {
		return domain.Receipt{}, o.actionErr(r, domain.KindNoSigner, "", domain.ErrNoSigner)
	}
	r.owner = signer.Address()

	if o.views != nil {
		if err := advise(req, o.views.Snapshot(ctx, r.owner)); err != nil {
			return domain.Receipt{}, o.inputErr(r, err)
		}
	}

	target := o.resolver.ResolveChain()
	r.chainID = target.ID
	if err := o.ensureNetwork(ctx, r, signer, target); err != nil {
		return domain.Receipt{}, err
	}

	if o.locks != nil {
		unlock, err := o.locks.Acquire(ctx, o.lockKey(r), o.lockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			return domain.Receipt{}, o.actionErr(r, domain.KindInFlight, "", domain.ErrInFlight)
		case err != nil:
			o.logger.Warn("action lock unavailable, continuing with local guard",
				slog.String("trigger", string(r.trigger)),
				slog.String("error", err.Error()),
			)
		default:
			defer unlock()
		}
	}

	pl, err := o.build(ctx, req, r.owner)
	if err != nil {
		return domain.Receipt{}, o.buildErr(r, err)
	}

	var approval *domain.Receipt
	if pl.approval != nil {
		if approval, err = o.ensureAllowance(ctx, r, signer, pl.approval); err != nil {
			return domain.Receipt{}, err
		}
	}

	receipt, err := o.write(ctx, r, signer, pl.primary, "primary", domain.PhaseSubmittingPrimary)
	receipt.Approval = approval
	return receipt, err
}

// ensureNetwork switches the shared signer to target if needed. Only one
// switch is ever outstanding.
func (o *Orchestrator) ensureNetwork(ctx context.Context, r *run, signer domain.Signer, target chain.ChainDescriptor) error {
	o.switchMu.Lock()
	defer o.switchMu.Unlock()

	current, err := signer.ChainID(ctx)
	if err != nil {
		return o.actionErr(r, domain.KindNetworkMismatch, "could not read wallet network", err)
	}
	if current == target.ID {
		return nil
	}

	o.logger.Info("switching wallet network",
		slog.Uint64("from", current),
		slog.Uint64("to", target.ID),
	)
	if err := signer.SwitchChain(ctx, target.ID); err != nil {
		if isUserRejection(err) {
			return o.actionErr(r, domain.KindUserRejected, "network switch rejected in wallet", err)
		}
		return o.actionErr(r, domain.KindNetworkMismatch, fmt.Sprintf("switch to %s failed", target.Name), err)
	}
	if current, err = signer.ChainID(ctx); err != nil || current != target.ID {
		return o.actionErr(r, domain.KindNetworkMismatch, fmt.Sprintf("wallet is not on %s", target.Name), domain.ErrNetworkMismatch)
	}
	return nil
}

// ensureAllowance reads the allowance fresh and, when it falls short,
// submits and settles an approval for exactly the required amount.
func (o *Orchestrator) ensureAllowance(ctx context.Context, r *run, signer domain.Signer, ac *allowanceCheck) (*domain.Receipt, error) {
	out, err := o.rpc.ReadContract(ctx, domain.ContractCall{
		Contract: ac.token,
		Method:   "allowance",
		Args:     []any{r.owner, ac.spender},
	})
	if err != nil {
		return nil, o.actionErr(r, domain.KindReadFailure, "could not read allowance", err)
	}
	current := mapper.BigInt(mapper.Single(out))
	if current == nil {
		return nil, o.actionErr(r, domain.KindReadFailure, "allowance result was malformed", nil)
	}
	if current.Cmp(ac.amount) >= 0 {
		o.logger.Debug("allowance sufficient",
			slog.String("token", ac.token.Name),
			slog.String("allowance", current.String()),
		)
		return nil, nil
	}

	approve := domain.ContractCall{
		Contract: ac.token,
		Method:   "approve",
		Args:     []any{ac.spender, new(big.Int).Set(ac.amount)},
	}
	receipt, err := o.write(ctx, r, signer, approve, "approval", domain.PhaseSubmittingApproval)
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// write submits call, waits for settlement and checks the receipt status.
// The wait is detached from ctx: a submitted write is never abandoned.
func (o *Orchestrator) write(ctx context.Context, r *run, signer domain.Signer, call domain.ContractCall, kind string, phase domain.Phase) (domain.Receipt, error) {
	o.emit(r, phase, common.Hash{}, "")
	rec := domain.TxRecord{
		ID:       uuid.NewString(),
		Owner:    r.owner.Hex(),
		ChainID:  r.chainID,
		Action:   r.action,
		Trigger:  r.trigger,
		Kind:     kind,
		Contract: call.Contract.Name,
		Method:   call.Method,
		Status:   domain.TxPending,
	}

	hash, err := signer.WriteContract(ctx, call)
	if err != nil {
		errKind, reason := classifyWrite(err)
		rec.Status = domain.TxFailed
		rec.Error = reason
		o.record(ctx, rec)
		return domain.Receipt{}, o.actionErr(r, errKind, reason, err)
	}
	rec.TxHash = hash.Hex()
	o.record(ctx, rec)
	o.logger.Info("transaction submitted",
		slog.String("action", string(r.action)),
		slog.String("kind", kind),
		slog.String("method", call.Method),
		slog.String("tx_hash", hash.Hex()),
	)

	o.emit(r, domain.PhaseAwaitingConfirmation, hash, "")
	waitCtx := context.WithoutCancel(ctx)
	if o.settlementTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(waitCtx, o.settlementTimeout)
		defer cancel()
	}
	receipt, err := o.waiter.WaitForTransactionReceipt(waitCtx, r.chainID, hash)
	if err != nil {
		o.update(ctx, rec.ID, domain.TxFailed, hash, 0, err.Error())
		return domain.Receipt{TxHash: hash}, o.actionErr(r, domain.KindUnknown,
			fmt.Sprintf("settlement of %s not confirmed", hash.Hex()), err)
	}
	if !receipt.Succeeded() {
		o.update(ctx, rec.ID, domain.TxReverted, hash, receipt.BlockNumber, domain.ErrReverted.Error())
		return receipt, o.actionErr(r, domain.KindReverted,
			fmt.Sprintf("%s reverted in block %d", call.Method, receipt.BlockNumber), domain.ErrReverted)
	}
	o.update(ctx, rec.ID, domain.TxSettled, hash, receipt.BlockNumber, "")
	return receipt, nil
}

func (o *Orchestrator) emit(r *run, phase domain.Phase, hash common.Hash, reason string) {
	r.phase = phase
	t := domain.Transition{
		Trigger: r.trigger,
		Action:  r.action,
		Phase:   phase,
		TxHash:  hash,
		Reason:  reason,
		At:      time.Now(),
	}
	o.obsMu.RLock()
	observers := append([]func(domain.Transition){}, o.observers...)
	o.obsMu.RUnlock()
	for _, fn := range observers {
		fn(t)
	}
}

func (o *Orchestrator) record(ctx context.Context, rec domain.TxRecord) {
	if o.journal == nil {
		return
	}
	if err := o.journal.Record(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Warn("journal record failed",
			slog.String("tx_hash", rec.TxHash),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) update(ctx context.Context, id string, status domain.TxStatus, hash common.Hash, block uint64, msg string) {
	if o.journal == nil {
		return
	}
	if err := o.journal.UpdateStatus(context.WithoutCancel(ctx), id, status, hash.Hex(), block, msg); err != nil {
		o.logger.Warn("journal update failed",
			slog.String("tx_hash", hash.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) notify(ctx context.Context, n domain.Notification) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		o.logger.Warn("notification failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) lockKey(r *run) string {
	return fmt.Sprintf("action:%d:%s:%s", r.chainID, r.owner.Hex(), r.trigger)
}

func (o *Orchestrator) actionErr(r *run, kind domain.ErrorKind, reason string, err error) *domain.ActionError {
	return &domain.ActionError{Kind: kind, Action: r.action, Phase: r.phase, Reason: reason, Err: err}
}

func (o *Orchestrator) inputErr(r *run, err error) *domain.ActionError {
	if errors.Is(err, domain.ErrUnsupportedAction) {
		return o.actionErr(r, domain.KindUnknown, err.Error(), err)
	}
	return o.actionErr(r, domain.KindInvalidInput, err.Error(), err)
}

func (o *Orchestrator) buildErr(r *run, err error) *domain.ActionError {
	var re *readError
	switch {
	case errors.As(err, &re):
		return o.actionErr(r, domain.KindReadFailure, re.Error(), err)
	case errors.Is(err, domain.ErrInvalidInput):
		return o.actionErr(r, domain.KindInvalidInput, err.Error(), err)
	}
	return o.actionErr(r, domain.KindUnknown, err.Error(), err)
}
