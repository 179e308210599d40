package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/reader"
	"github.com/alanyoungcy/vaultswap/internal/units"
)

// ViewService defines what the view handler requires from the read
// aggregator.
type ViewService interface {
	LoadView(ctx context.Context, owner common.Address, mode reader.Mode) (*domain.View, error)
	Snapshot(ctx context.Context, owner common.Address) *domain.View
	DisconnectedView(owner common.Address) *domain.View
	MaxBorrow(ctx context.Context, collateral units.Amount) (units.Amount, error)
}

// ViewHandler serves the aggregated dashboard.
type ViewHandler struct {
	views      ViewService
	wallet     domain.Wallet
	thresholds domain.HealthThresholds
	logger     *slog.Logger
}

// NewViewHandler creates a ViewHandler.
func NewViewHandler(views ViewService, wallet domain.Wallet, thresholds domain.HealthThresholds, logger *slog.Logger) *ViewHandler {
	return &ViewHandler{
		views:      views,
		wallet:     wallet,
		thresholds: thresholds,
		logger:     logHandler(logger, "view"),
	}
}

// viewResponse is the view plus figures derived from it.
type viewResponse struct {
	*domain.View
	Connected  bool                `json:"connected"`
	PoolShare  *domain.PoolShare   `json:"pool_share,omitempty"`
	LoanHealth []domain.LoanHealth `json:"loan_health,omitempty"`
	Problems   []string            `json:"problems,omitempty"`
}

// GetView returns the dashboard for an address. Without an address query
// parameter the connected wallet is used; a disconnected session yields a
// view whose fields are all unknown. fresh=false serves the last-known
// snapshot without touching the chain.
// GET /api/view?address=0x...&fresh=true
func (h *ViewHandler) GetView(w http.ResponseWriter, r *http.Request) {
	owner, explicit, err := parseAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	signer, connected := h.wallet.Session()
	if !explicit {
		if !connected {
			writeJSON(w, http.StatusOK, h.respond(h.views.DisconnectedView(common.Address{}), false))
			return
		}
		owner = signer.Address()
	}

	var v *domain.View
	if r.URL.Query().Get("fresh") == "false" {
		v = h.views.Snapshot(r.Context(), owner)
	}
	if v == nil {
		v, err = h.views.LoadView(r.Context(), owner, reader.ModeInitial)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			h.logger.ErrorContext(r.Context(), "handler: load view failed",
				slog.String("owner", owner.Hex()),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadGateway, "failed to load view")
			return
		}
	}

	writeJSON(w, http.StatusOK, h.respond(v, connected))
}

// MaxBorrow returns the stablecoin amount borrowable against a collateral
// amount.
// GET /api/max-borrow?collateral=1.5
func (h *ViewHandler) MaxBorrow(w http.ResponseWriter, r *http.Request) {
	collateral := units.ToBaseUnits(r.URL.Query().Get("collateral"), units.CollateralPrecision)
	if collateral.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "collateral must be a positive amount")
		return
	}
	amt, err := h.views.MaxBorrow(r.Context(), collateral)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: max borrow failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to read max borrow amount")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"collateral": collateral,
		"max_borrow": amt,
	})
}

func (h *ViewHandler) respond(v *domain.View, connected bool) viewResponse {
	resp := viewResponse{
		View:       v,
		Connected:  connected,
		LoanHealth: v.AssessLoans(h.thresholds),
		Problems:   v.Problems(),
	}
	if ps, ok := v.PoolShare(); ok {
		resp.PoolShare = &ps
	}
	return resp
}
