package orchestrator

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultswap/internal/chain"
	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/units"
)

type harness struct {
	tl        *timeline
	rpc       *fakeRPC
	signer    *fakeSigner
	waiter    *fakeWaiter
	wallet    *fakeWallet
	views     *fakeViews
	notifier  *fakeNotifier
	journal   *fakeJournal
	refreshes int
	refreshMu sync.Mutex
	orch      *Orchestrator
}

func newHarness(t *testing.T, testNetwork bool, opts ...func(*Options)) *harness {
	t.Helper()
	tl := &timeline{}
	h := &harness{
		tl:       tl,
		rpc:      &fakeRPC{tl: tl, handlers: map[string]func([]any) ([]any, error){}},
		signer:   &fakeSigner{tl: tl, chainID: chain.SepoliaChainID, writeErrs: map[string]error{}},
		waiter:   &fakeWaiter{tl: tl, reverted: map[common.Hash]bool{}},
		views:    &fakeViews{view: domain.NewView(holder, chain.SepoliaChainID, domain.FieldUnknown)},
		notifier: &fakeNotifier{},
		journal:  &fakeJournal{},
	}
	if !testNetwork {
		h.signer.chainID = chain.MainnetChainID
		h.views.view.ChainID = chain.MainnetChainID
	}
	h.wallet = &fakeWallet{signer: h.signer}

	net := chain.Network{Contracts: contracts()}
	resolver, err := chain.NewResolver(chain.Config{TestNetwork: testNetwork, Mainnet: net, Testnet: net})
	require.NoError(t, err)

	o := Options{
		Journal: h.journal,
		Refresh: func(context.Context, common.Address) {
			h.refreshMu.Lock()
			h.refreshes++
			h.refreshMu.Unlock()
		},
	}
	for _, fn := range opts {
		fn(&o)
	}
	h.orch = New(resolver, h.rpc, h.waiter, h.wallet, h.views, h.notifier, o)
	return h
}

func (h *harness) refreshCount() int {
	h.refreshMu.Lock()
	defer h.refreshMu.Unlock()
	return h.refreshes
}

func (h *harness) allowance(v *big.Int) {
	h.rpc.handlers["collateral_token.allowance"] = func([]any) ([]any, error) { return []any{v}, nil }
	h.rpc.handlers["stablecoin.allowance"] = func([]any) ([]any, error) { return []any{v}, nil }
}

func (h *harness) staked(s string) {
	pos := domain.VaultPosition{VaultID: big.NewInt(1), Staked: units.ToBaseUnits(s, units.VaultPrecision), Active: domain.Yes}
	h.views.view.Vault = domain.Ready(pos, time.Now())
}

func wei(s string, p uint8) *big.Int { return units.ToBaseUnits(s, p).BigInt() }

func TestWithdrawAboveStakeIsBlocked(t *testing.T) {
	h := newHarness(t, true)
	h.staked("2.5")

	_, err := h.orch.Submit(context.Background(), domain.ActionWithdrawCollateral, domain.Params{Amount: "3.0"})
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, h.tl.all(), "no network call may be made")
	assert.Equal(t, 0, h.refreshCount())

	sent := h.notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.SeverityWarning, sent[0].Severity)
}

func TestWithdrawWithinStakeProceeds(t *testing.T) {
	h := newHarness(t, true)
	h.staked("2.5")

	_, err := h.orch.Submit(context.Background(), domain.ActionWithdrawCollateral, domain.Params{Amount: "2.5"})
	require.NoError(t, err)
	writes := h.signer.all()
	require.Len(t, writes, 1)
	assert.Equal(t, "withdrawBTC", writes[0].call.Method)
	assert.Equal(t, wei("2.5", 18), writes[0].call.Args[0])
}

func TestZeroAndMalformedAmountsBlocked(t *testing.T) {
	for _, amt := range []string{"", "0", "1.2.3", "abc", "."} {
		h := newHarness(t, true)
		_, err := h.orch.Submit(context.Background(), domain.ActionDepositCollateral, domain.Params{Amount: amt})
		assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err), amt)
		assert.Empty(t, h.tl.all(), amt)
	}
}

func TestDepositApprovesBeforeDeposit(t *testing.T) {
	h := newHarness(t, true)
	h.allowance(big.NewInt(0))

	var phases []domain.Phase
	h.orch.OnTransition(func(tr domain.Transition) { phases = append(phases, tr.Phase) })

	receipt, err := h.orch.Submit(context.Background(), domain.ActionDepositCollateral, domain.Params{Amount: "10"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"read collateral_token.allowance",
		"write collateral_token.approve",
		"settled 0001",
		"write vault.depositBTC",
		"settled 0002",
	}, h.tl.all())

	writes := h.signer.all()
	require.Len(t, writes, 2)
	assert.Equal(t, addressOf(chain.Vault), writes[0].call.Args[0])
	assert.Equal(t, wei("10", 18), writes[0].call.Args[1])
	assert.Equal(t, wei("10", 18), writes[1].call.Args[0])

	require.NotNil(t, receipt.Approval)
	assert.Equal(t, writes[0].hash, receipt.Approval.TxHash)
	assert.Equal(t, writes[1].hash, receipt.TxHash)

	assert.Equal(t, []domain.Phase{
		domain.PhaseSubmittingApproval,
		domain.PhaseAwaitingConfirmation,
		domain.PhaseSubmittingPrimary,
		domain.PhaseAwaitingConfirmation,
		domain.PhaseSettled,
	}, phases)
	assert.Equal(t, 1, h.refreshCount())
	assert.False(t, h.orch.InFlight(domain.Trigger(domain.ActionDepositCollateral)))
}

func TestSufficientAllowanceSkipsApproval(t *testing.T) {
	h := newHarness(t, true)
	h.allowance(wei("20", 18))

	receipt, err := h.orch.Submit(context.Background(), domain.ActionDepositCollateral, domain.Params{Amount: "10"})
	require.NoError(t, err)
	assert.Nil(t, receipt.Approval)
	assert.Equal(t, 1, h.tl.count("write "))
	assert.Equal(t, 1, h.tl.count("write vault.depositBTC"))
}

func TestAllowanceReadEveryTime(t *testing.T) {
	h := newHarness(t, true)
	h.allowance(wei("20", 18))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.orch.Submit(ctx, domain.ActionPoolDeposit, domain.Params{Amount: "5"})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, h.tl.count("read stablecoin.allowance"))
}

func TestNoSignerFailsFast(t *testing.T) {
	h := newHarness(t, true)
	h.wallet.signer = nil

	_, err := h.orch.Submit(context.Background(), domain.ActionClaimYield, domain.Params{})
	assert.Equal(t, domain.KindNoSigner, domain.KindOf(err))
	assert.ErrorIs(t, err, domain.ErrNoSigner)
	assert.Empty(t, h.tl.all())
	require.Len(t, h.notifier.all(), 1)
}

func TestRevertTriggersNoRefresh(t *testing.T) {
	h := newHarness(t, true)
	h.waiter.reverted[common.BigToHash(big.NewInt(1))] = true

	receipt, err := h.orch.Submit(context.Background(), domain.ActionClaimYield, domain.Params{})
	assert.Equal(t, domain.KindReverted, domain.KindOf(err))
	assert.ErrorIs(t, err, domain.ErrReverted)
	assert.Equal(t, uint64(0), receipt.Status)
	assert.Equal(t, 0, h.refreshCount())

	recs, _ := h.journal.ListByOwner(context.Background(), holder.Hex(), domain.ListOpts{})
	require.Len(t, recs, 1)
	assert.Equal(t, domain.TxReverted, recs[0].Status)
}

func TestApprovalRetainedWhenPrimaryFails(t *testing.T) {
	h := newHarness(t, true)
	h.allowance(big.NewInt(0))
	h.signer.writeErrs["deposit"] = &dataError{msg: "execution reverted: pool paused"}

	receipt, err := h.orch.Submit(context.Background(), domain.ActionPoolDeposit, domain.Params{Amount: "25"})
	require.Error(t, err)

	var ae *domain.ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, domain.KindReverted, ae.Kind)
	assert.Equal(t, "pool paused", ae.Reason)
	assert.Equal(t, domain.PhaseSubmittingPrimary, ae.Phase)

	require.NotNil(t, receipt.Approval)
	assert.True(t, receipt.Approval.Succeeded())
	assert.Equal(t, 0, h.refreshCount())

	recs, _ := h.journal.ListByOwner(context.Background(), holder.Hex(), domain.ListOpts{})
	require.Len(t, recs, 2)
	assert.Equal(t, "approval", recs[0].Kind)
	assert.Equal(t, domain.TxSettled, recs[0].Status)
	assert.Equal(t, "primary", recs[1].Kind)
	assert.Equal(t, domain.TxFailed, recs[1].Status)
}

func TestRepayApprovesPrincipalPlusInterest(t *testing.T) {
	h := newHarness(t, true)
	h.allowance(big.NewInt(0))
	h.rpc.handlers["lending_core.getLoanDetails"] = func([]any) ([]any, error) {
		return []any{holder, wei("1", 18), wei("30000", 6), big.NewInt(500), big.NewInt(216), big.NewInt(0), true}, nil
	}
	h.rpc.handlers["lending_core.calculateInterest"] = func([]any) ([]any, error) {
		return []any{wei("12.5", 6)}, nil
	}

	_, err := h.orch.Submit(context.Background(), domain.ActionRepay, domain.Params{LoanID: big.NewInt(7)})
	require.NoError(t, err)

	writes := h.signer.all()
	require.Len(t, writes, 2)
	assert.Equal(t, "approve", writes[0].call.Method)
	assert.Equal(t, addressOf(chain.LendingCore), writes[0].call.Args[0])
	assert.Equal(t, wei("30012.5", 6), writes[0].call.Args[1])
	assert.Equal(t, "repay", writes[1].call.Method)
	assert.Equal(t, big.NewInt(7), writes[1].call.Args[0])
}

func TestRepayRequiresLoanID(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.orch.Submit(context.Background(), domain.ActionRepay, domain.Params{})
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
}

func TestBorrowCollateralAboveStakeBlocked(t *testing.T) {
	h := newHarness(t, true)
	h.staked("1")

	_, err := h.orch.Submit(context.Background(), domain.ActionBorrow, domain.Params{Collateral: "1.5", Amount: "1000"})
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))

	_, err = h.orch.Submit(context.Background(), domain.ActionBorrow, domain.Params{Collateral: "1", Amount: "1000"})
	require.NoError(t, err)
	writes := h.signer.all()
	require.Len(t, writes, 1)
	assert.Equal(t, wei("1", 18), writes[0].call.Args[0])
	assert.Equal(t, wei("1000", 6), writes[0].call.Args[1])
}

func TestPoolDepositComparesInStablePrecision(t *testing.T) {
	h := newHarness(t, true)
	h.views.view.StableBalance = domain.Ready(units.ToBaseUnits("100", units.StablePrecision), time.Now())

	_, err := h.orch.Submit(context.Background(), domain.ActionPoolDeposit, domain.Params{Amount: "100.000001"})
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
	assert.Empty(t, h.tl.all())
}

func TestNetworkSwitchBeforeWrite(t *testing.T) {
	h := newHarness(t, true)
	h.signer.chainID = chain.MainnetChainID

	_, err := h.orch.Submit(context.Background(), domain.ActionClaimYield, domain.Params{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"switch 11155111",
		"write vault.claimYield",
		"settled 0001",
	}, h.tl.all())
}

func TestConcurrentActionsSwitchOnce(t *testing.T) {
	h := newHarness(t, true)
	h.signer.chainID = chain.MainnetChainID

	var wg sync.WaitGroup
	for _, a := range []domain.Action{domain.ActionClaimYield, domain.ActionLiquidate} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Submit(context.Background(), a, domain.Params{LoanID: big.NewInt(3)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, h.tl.count("switch "))
	assert.Equal(t, 2, h.refreshCount())
}

func TestFailedSwitchIsNetworkMismatch(t *testing.T) {
	h := newHarness(t, true)
	h.signer.chainID = chain.MainnetChainID
	h.signer.switchErr = assert.AnError

	_, err := h.orch.Submit(context.Background(), domain.ActionClaimYield, domain.Params{})
	assert.Equal(t, domain.KindNetworkMismatch, domain.KindOf(err))
	assert.Equal(t, 0, h.tl.count("write "))
}

func TestUserRejection(t *testing.T) {
	h := newHarness(t, true)
	h.signer.writeErrs["claimYield"] = errRejected

	_, err := h.orch.Submit(context.Background(), domain.ActionClaimYield, domain.Params{})
	assert.Equal(t, domain.KindUserRejected, domain.KindOf(err))
	sent := h.notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.SeverityWarning, sent[0].Severity)
}

func TestInFlightIsPerTrigger(t *testing.T) {
	h := newHarness(t, true)
	h.waiter.gate = make(chan struct{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Submit(ctx, domain.ActionClaimYield, domain.Params{})
		done <- err
	}()
	require.Eventually(t, func() bool {
		return h.orch.InFlight(domain.Trigger(domain.ActionClaimYield))
	}, time.Second, time.Millisecond)

	_, err := h.orch.Submit(ctx, domain.ActionClaimYield, domain.Params{})
	assert.Equal(t, domain.KindInFlight, domain.KindOf(err))
	assert.ErrorIs(t, err, domain.ErrInFlight)
	sent := h.notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "action_failed", sent[0].Event)
	assert.Equal(t, domain.SeverityWarning, sent[0].Severity)
	assert.Equal(t, "This action is already in progress.", sent[0].Description)

	other := make(chan error, 1)
	go func() {
		_, err := h.orch.Submit(ctx, domain.ActionLiquidate, domain.Params{LoanID: big.NewInt(9)})
		other <- err
	}()
	require.Eventually(t, func() bool {
		return h.orch.InFlight(domain.Trigger("liquidate:9"))
	}, time.Second, time.Millisecond)
	assert.Len(t, h.orch.ActiveTriggers(), 2)

	close(h.waiter.gate)
	require.NoError(t, <-done)
	require.NoError(t, <-other)
	assert.Empty(t, h.orch.ActiveTriggers())
}

func TestSubmittedWriteSurvivesCallerCancel(t *testing.T) {
	h := newHarness(t, true)
	h.waiter.gate = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Submit(ctx, domain.ActionClaimYield, domain.Params{})
		done <- err
	}()
	require.Eventually(t, func() bool { return h.tl.count("write ") == 1 }, time.Second, time.Millisecond)
	cancel()
	close(h.waiter.gate)

	require.NoError(t, <-done)
	assert.Equal(t, 1, h.refreshCount())
}

func TestMintOnlyOnTestNetwork(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.orch.Submit(context.Background(), domain.ActionMintTestAsset, domain.Params{})
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
	assert.ErrorIs(t, err, domain.ErrMintDisabled)

	h = newHarness(t, true)
	_, err = h.orch.Submit(context.Background(), domain.ActionMintTestAsset, domain.Params{Asset: domain.AssetStablecoin})
	require.NoError(t, err)
	writes := h.signer.all()
	require.Len(t, writes, 1)
	assert.Equal(t, string(chain.Stablecoin), writes[0].call.Contract.Name)
	assert.Equal(t, holder, writes[0].call.Args[0])
	assert.Equal(t, wei("100", 6), writes[0].call.Args[1])
}

func TestDistributedLockHeld(t *testing.T) {
	h := newHarness(t, true, func(o *Options) { o.Locks = &fakeLocks{held: true} })
	_, err := h.orch.Submit(context.Background(), domain.ActionClaimYield, domain.Params{})
	assert.Equal(t, domain.KindInFlight, domain.KindOf(err))
	assert.Equal(t, 0, h.tl.count("write "))
}

func TestTransitionObserversEachSeeEveryPhase(t *testing.T) {
	h := newHarness(t, true)
	var mu sync.Mutex
	seen := map[string][]domain.Phase{}
	for _, name := range []string{"a", "b"} {
		h.orch.OnTransition(func(tr domain.Transition) {
			mu.Lock()
			seen[name] = append(seen[name], tr.Phase)
			mu.Unlock()
		})
	}

	_, err := h.orch.Submit(context.Background(), domain.ActionClaimYield, domain.Params{})
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen["a"])
	assert.Equal(t, seen["a"], seen["b"])
	assert.Equal(t, domain.PhaseSettled, seen["a"][len(seen["a"])-1])
}

func TestRepayInactiveLoanMatchesFullID(t *testing.T) {
	h := newHarness(t, true)
	big64 := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(3))
	h.views.view.Loans = domain.Ready([]domain.Loan{{ID: big.NewInt(3), Active: domain.No}}, time.Now())

	_, err := h.orch.Submit(context.Background(), domain.ActionLiquidate, domain.Params{LoanID: big64})
	require.NoError(t, err)

	_, err = h.orch.Submit(context.Background(), domain.ActionLiquidate, domain.Params{LoanID: big.NewInt(3)})
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
	assert.Equal(t, 1, h.tl.count("write "))
}

func TestRevertReason(t *testing.T) {
	strType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: strType}}.Pack("health factor too low")
	require.NoError(t, err)
	payload := append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...)

	tests := []struct {
		name string
		err  error
		want string
		ok   bool
	}{
		{"encoded data", &dataError{msg: "execution reverted", data: hexutil.Encode(payload)}, "health factor too low", true},
		{"unrelated error", assert.AnError, "", false},
		{"plain revert text", &dataError{msg: "call failed: execution reverted: not owner"}, "not owner", true},
		{"bare revert", &dataError{msg: "execution reverted"}, "execution reverted", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RevertReason(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInFlightTracker(t *testing.T) {
	f := NewInFlight()
	assert.True(t, f.TryStart("a"))
	assert.False(t, f.TryStart("a"))
	assert.True(t, f.TryStart("b"))
	f.Done("a")
	assert.False(t, f.Active("a"))
	assert.True(t, f.Active("b"))
	f.Done("a")
	assert.Equal(t, []domain.Trigger{"b"}, f.List())
}
