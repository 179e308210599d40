package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

// JournalHandler serves the transaction journal.
type JournalHandler struct {
	journal domain.TxJournal
	wallet  domain.Wallet
	logger  *slog.Logger
}

// NewJournalHandler creates a JournalHandler. journal may be nil when no
// database is configured.
func NewJournalHandler(journal domain.TxJournal, wallet domain.Wallet, logger *slog.Logger) *JournalHandler {
	return &JournalHandler{journal: journal, wallet: wallet, logger: logHandler(logger, "journal")}
}

// ListJournal returns submitted transactions for an owner, newest first.
// GET /api/journal?owner=0x...&limit=50&offset=0
func (h *JournalHandler) ListJournal(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "transaction journal not configured")
		return
	}

	owner, ok, err := parseAddress(r, "owner")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		signer, connected := h.wallet.Session()
		if !connected {
			writeError(w, http.StatusBadRequest, "owner query parameter required")
			return
		}
		owner = signer.Address()
	}

	records, err := h.journal.ListByOwner(r.Context(), owner.Hex(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list journal failed",
			slog.String("owner", owner.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list journal")
		return
	}
	if records == nil {
		records = []domain.TxRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}
