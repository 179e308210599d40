package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Action names one user operation the orchestrator can submit.
type Action string

const (
	ActionDepositCollateral  Action = "deposit-collateral"
	ActionWithdrawCollateral Action = "withdraw-collateral"
	ActionClaimYield         Action = "claim-yield"
	ActionBorrow             Action = "borrow"
	ActionRepay              Action = "repay"
	ActionAddCollateral      Action = "add-collateral"
	ActionLiquidate          Action = "liquidate"
	ActionPoolDeposit        Action = "pool-deposit"
	ActionPoolWithdraw       Action = "pool-withdraw"
	ActionMintTestAsset      Action = "mint-test-asset"
)

// Actions lists every supported action.
var Actions = []Action{
	ActionDepositCollateral,
	ActionWithdrawCollateral,
	ActionClaimYield,
	ActionBorrow,
	ActionRepay,
	ActionAddCollateral,
	ActionLiquidate,
	ActionPoolDeposit,
	ActionPoolWithdraw,
	ActionMintTestAsset,
}

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedAction, s)
}

// AssetInbound reports whether the action moves tokens from the holder into
// a contract and therefore needs an allowance.
func (a Action) AssetInbound() bool {
	switch a {
	case ActionDepositCollateral, ActionPoolDeposit, ActionRepay:
		return true
	}
	return false
}

// NeedsLoan reports whether the action targets a specific loan id.
func (a Action) NeedsLoan() bool {
	switch a {
	case ActionRepay, ActionAddCollateral, ActionLiquidate:
		return true
	}
	return false
}

// Asset selects which test token mint-test-asset mints.
type Asset string

const (
	AssetCollateral Asset = "collateral"
	AssetStablecoin Asset = "stablecoin"
)

// Params carries the user input of one action. Amounts are human decimal
// strings; the orchestrator converts them at the target token's precision.
type Params struct {
	Owner      common.Address `json:"owner"`
	Amount     string         `json:"amount,omitempty"`
	Collateral string         `json:"collateral,omitempty"`
	LoanID     *big.Int       `json:"loan_id,omitempty"`
	Asset      Asset          `json:"asset,omitempty"`
}

// Trigger identifies the control that started an action. Separate triggers
// keep separate in-flight flags.
type Trigger string

// TriggerFor derives the trigger identity of an action.
func TriggerFor(a Action, p Params) Trigger {
	switch {
	case a.NeedsLoan() && p.LoanID != nil:
		return Trigger(fmt.Sprintf("%s:%s", a, p.LoanID))
	case a == ActionMintTestAsset && p.Asset != "":
		return Trigger(fmt.Sprintf("%s:%s", a, p.Asset))
	}
	return Trigger(a)
}

// Phase is one state of the per-action state machine.
type Phase string

const (
	PhaseIdle                 Phase = "idle"
	PhaseSubmittingApproval   Phase = "submitting-approval"
	PhaseSubmittingPrimary    Phase = "submitting-primary"
	PhaseAwaitingConfirmation Phase = "awaiting-confirmation"
	PhaseSettled              Phase = "settled"
	PhaseFailed               Phase = "failed"
)

// Terminal reports whether no further transition follows.
func (p Phase) Terminal() bool {
	return p == PhaseSettled || p == PhaseFailed
}

// Transition is emitted whenever an action changes phase.
type Transition struct {
	Trigger Trigger     `json:"trigger"`
	Action  Action      `json:"action"`
	Phase   Phase       `json:"phase"`
	TxHash  common.Hash `json:"tx_hash,omitempty"`
	Reason  string      `json:"reason,omitempty"`
	At      time.Time   `json:"at"`
}

// Receipt is the settled outcome of a transaction.
type Receipt struct {
	TxHash      common.Hash `json:"tx_hash"`
	BlockNumber uint64      `json:"block_number"`
	Status      uint64      `json:"status"`
	GasUsed     uint64      `json:"gas_used"`
	// Approval is the settled approval that preceded the primary write, if
	// one was needed.
	Approval *Receipt `json:"approval,omitempty"`
}

// Succeeded reports whether the transaction executed without reverting.
func (r Receipt) Succeeded() bool { return r.Status == 1 }
