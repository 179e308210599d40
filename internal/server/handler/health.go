package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/vaultswap/internal/chain"
)

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	network chain.ChainDescriptor
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler reporting the resolved network.
func NewHealthHandler(network chain.ChainDescriptor, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{network: network, logger: logger}
}

// HealthCheck responds with a simple JSON status indicating the server is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"network":      h.network.Name,
		"chain_id":     h.network.ID,
		"mint_enabled": h.network.MintEnabled,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
