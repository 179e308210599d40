package orchestrator

import (
	"fmt"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

var actionTitles = map[domain.Action]string{
	domain.ActionDepositCollateral:  "Deposit",
	domain.ActionWithdrawCollateral: "Withdrawal",
	domain.ActionClaimYield:         "Yield claim",
	domain.ActionBorrow:             "Borrow",
	domain.ActionRepay:              "Repayment",
	domain.ActionAddCollateral:      "Collateral top-up",
	domain.ActionLiquidate:          "Liquidation",
	domain.ActionPoolDeposit:        "Pool deposit",
	domain.ActionPoolWithdraw:       "Pool withdrawal",
	domain.ActionMintTestAsset:      "Test mint",
}

func title(a domain.Action) string {
	if t, ok := actionTitles[a]; ok {
		return t
	}
	return string(a)
}

func successNotification(a domain.Action, r domain.Receipt) domain.Notification {
	desc := fmt.Sprintf("Transaction %s settled in block %d.", r.TxHash.Hex(), r.BlockNumber)
	if r.Approval != nil {
		desc = fmt.Sprintf("Approval %s and transaction %s settled.", r.Approval.TxHash.Hex(), r.TxHash.Hex())
	}
	return domain.Notification{
		Event:       "action_settled",
		Title:       title(a) + " confirmed",
		Description: desc,
		Severity:    domain.SeveritySuccess,
	}
}

func failureNotification(e *domain.ActionError) domain.Notification {
	sev := domain.SeverityError
	var desc string
	switch e.Kind {
	case domain.KindNoSigner:
		desc = "Connect a wallet first."
	case domain.KindUserRejected:
		sev = domain.SeverityWarning
		desc = "The request was rejected in the wallet."
	case domain.KindInvalidInput:
		sev = domain.SeverityWarning
		desc = e.Reason
	case domain.KindReverted:
		desc = "Transaction reverted: " + e.Reason
	case domain.KindInFlight:
		sev = domain.SeverityWarning
		desc = "This action is already in progress."
	default:
		desc = e.Error()
	}
	return domain.Notification{
		Event:       "action_failed",
		Title:       title(e.Action) + " failed",
		Description: desc,
		Severity:    sev,
	}
}
