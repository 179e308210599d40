package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

// ActionService defines what the action handler requires from the
// transaction orchestrator.
type ActionService interface {
	Submit(ctx context.Context, action domain.Action, p domain.Params) (domain.Receipt, error)
	ActiveTriggers() []domain.Trigger
}

// ActionHandler triggers orchestrated actions.
type ActionHandler struct {
	actions ActionService
	wallet  domain.Wallet
	logger  *slog.Logger
}

// NewActionHandler creates an ActionHandler.
func NewActionHandler(actions ActionService, wallet domain.Wallet, logger *slog.Logger) *ActionHandler {
	return &ActionHandler{
		actions: actions,
		wallet:  wallet,
		logger:  logHandler(logger, "action"),
	}
}

// actionRequest is the JSON body of an action submission. LoanID is a
// decimal string so ids beyond 2^53 survive JSON.
type actionRequest struct {
	Amount     string `json:"amount"`
	Collateral string `json:"collateral"`
	LoanID     string `json:"loan_id"`
	Asset      string `json:"asset"`
}

func (req actionRequest) params() (domain.Params, error) {
	p := domain.Params{
		Amount:     req.Amount,
		Collateral: req.Collateral,
		Asset:      domain.Asset(req.Asset),
	}
	if req.LoanID != "" {
		id, ok := new(big.Int).SetString(req.LoanID, 10)
		if !ok || id.Sign() < 0 {
			return p, fmt.Errorf("loan_id %q is not a non-negative integer", req.LoanID)
		}
		p.LoanID = id
	}
	return p, nil
}

type actionResponse struct {
	Action  domain.Action  `json:"action"`
	Receipt domain.Receipt `json:"receipt"`
}

// Submit runs one action for the connected wallet and waits for its
// terminal outcome.
// POST /api/actions/{action}
func (h *ActionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	action, err := domain.ParseAction(pathParam(r, "action"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var req actionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	p, err := req.params()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if signer, ok := h.wallet.Session(); ok {
		p.Owner = signer.Address()
	}

	receipt, err := h.actions.Submit(r.Context(), action, p)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: action failed",
				slog.String("action", string(action)),
				slog.String("error", err.Error()),
			)
		}
		writeJSON(w, status, map[string]any{
			"error":   err.Error(),
			"kind":    domain.KindOf(err),
			"receipt": receipt,
		})
		return
	}

	writeJSON(w, http.StatusOK, actionResponse{Action: action, Receipt: receipt})
}

// InFlight lists the triggers with an action currently in progress.
// GET /api/actions/inflight
func (h *ActionHandler) InFlight(w http.ResponseWriter, r *http.Request) {
	triggers := h.actions.ActiveTriggers()
	if triggers == nil {
		triggers = []domain.Trigger{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"in_flight": triggers})
}
