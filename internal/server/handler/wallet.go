package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

// SessionControl is the wallet session surface the handler drives.
type SessionControl interface {
	domain.Wallet
	Address() common.Address
	Connected() bool
	Connect()
	Disconnect()
}

// Forgetter drops remembered views for an address.
type Forgetter interface {
	Forget(ctx context.Context, owner common.Address)
}

// WalletHandler exposes the wallet session.
type WalletHandler struct {
	wallet SessionControl
	views  Forgetter
	logger *slog.Logger
}

// NewWalletHandler creates a WalletHandler.
func NewWalletHandler(wallet SessionControl, views Forgetter, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{wallet: wallet, views: views, logger: logHandler(logger, "wallet")}
}

func (h *WalletHandler) status() map[string]any {
	_, canSign := h.wallet.Session()
	return map[string]any{
		"address":   h.wallet.Address(),
		"connected": h.wallet.Connected(),
		"can_sign":  canSign,
	}
}

// GetWallet reports the session state.
// GET /api/wallet
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

// Connect re-enables a key session.
// POST /api/wallet/connect
func (h *WalletHandler) Connect(w http.ResponseWriter, r *http.Request) {
	h.wallet.Connect()
	writeJSON(w, http.StatusOK, h.status())
}

// Disconnect ends the session and drops every remembered view of the
// address, so later reads render unknown fields.
// POST /api/wallet/disconnect
func (h *WalletHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.wallet.Disconnect()
	h.views.Forget(r.Context(), h.wallet.Address())
	h.logger.InfoContext(r.Context(), "wallet session ended", slog.String("address", h.wallet.Address().Hex()))
	writeJSON(w, http.StatusOK, h.status())
}
