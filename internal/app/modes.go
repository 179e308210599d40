package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/vaultswap/internal/crypto"
	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/reader"
	"github.com/alanyoungcy/vaultswap/internal/server"
	"github.com/alanyoungcy/vaultswap/internal/server/handler"
	"github.com/alanyoungcy/vaultswap/internal/server/ws"
)

// viewOutput is what view and watch print.
type viewOutput struct {
	*domain.View
	PoolShare  *domain.PoolShare   `json:"pool_share,omitempty"`
	LoanHealth []domain.LoanHealth `json:"loan_health,omitempty"`
	Problems   []string            `json:"problems,omitempty"`
}

func newViewOutput(v *domain.View, th domain.HealthThresholds) viewOutput {
	out := viewOutput{View: v, LoanHealth: v.AssessLoans(th), Problems: v.Problems()}
	if ps, ok := v.PoolShare(); ok {
		out.PoolShare = &ps
	}
	return out
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("app: write output: %w", err)
	}
	return nil
}

// owner returns the address views are loaded for.
func owner(deps *Dependencies) (common.Address, error) {
	addr := deps.Wallet.Address()
	if addr == (common.Address{}) {
		return addr, errors.New("app: no wallet address configured")
	}
	return addr, nil
}

// ViewMode loads the dashboard once and prints it. Without an address the
// all-unknown disconnected view is printed.
func (a *App) ViewMode(ctx context.Context, deps *Dependencies) error {
	addr, err := owner(deps)
	if err != nil {
		return a.printJSON(newViewOutput(deps.Reader.DisconnectedView(addr), deps.Thresholds))
	}
	v, err := deps.Reader.LoadView(ctx, addr, reader.ModeInitial)
	if err != nil {
		return fmt.Errorf("app: load view: %w", err)
	}
	return a.printJSON(newViewOutput(v, deps.Thresholds))
}

// WatchMode loads the dashboard, then refreshes it silently on an interval
// until ctx is cancelled. Each view is printed and mirrored to the shared
// view channel; loans whose health worsens raise a warning notification.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	addr, err := owner(deps)
	if err != nil {
		return err
	}
	alerts := newHealthAlerts(deps.Notifier, deps.Thresholds, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.watchLoop(ctx, deps.Reader, deps.Wallet, addr, func(v *domain.View) {
			deps.publish(ctx, v, a.logger)
			alerts.check(ctx, v)
			if err := a.printJSON(newViewOutput(v, deps.Thresholds)); err != nil {
				a.logger.Warn("watch output failed", slog.String("error", err.Error()))
			}
		})
	})
	return ignoreCanceled(g.Wait())
}

// viewLoader is the part of the read aggregator the refresh loop needs.
type viewLoader interface {
	LoadView(ctx context.Context, owner common.Address, mode reader.Mode) (*domain.View, error)
	DisconnectedView(owner common.Address) *domain.View
}

// session reports whether a keyed wallet is currently connected.
type session interface {
	HasKey() bool
	Connected() bool
}

// watchLoop runs the initial load and the background refreshes for addr,
// handing every view to onView. While a keyed wallet is disconnected nothing
// is read and the all-unknown view is handed on instead; reconnecting starts
// over with an initial load.
func (a *App) watchLoop(ctx context.Context, views viewLoader, sess session, addr common.Address, onView func(*domain.View)) error {
	interval := a.cfg.Reader.RefreshInterval.Duration
	if interval <= 0 {
		interval = 30 * time.Second
	}
	mode := reader.ModeInitial
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if sess.HasKey() && !sess.Connected() {
			onView(views.DisconnectedView(addr))
			mode = reader.ModeInitial
		} else if v, err := views.LoadView(ctx, addr, mode); err != nil {
			a.logger.Debug("view load failed", slog.String("error", err.Error()))
		} else {
			onView(v)
			mode = reader.ModeBackground
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SubmitMode runs one action and prints its receipt together with the view
// reloaded after settlement. It waits for that reload before returning.
func (a *App) SubmitMode(ctx context.Context, deps *Dependencies) error {
	action, err := domain.ParseAction(a.submit.Action)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	p := domain.Params{
		Owner:      deps.Wallet.Address(),
		Amount:     a.submit.Amount,
		Collateral: a.submit.Collateral,
		Asset:      domain.Asset(a.submit.Asset),
	}
	if a.submit.LoanID != "" {
		id, ok := new(big.Int).SetString(a.submit.LoanID, 10)
		if !ok {
			return fmt.Errorf("app: loan id %q is not an integer", a.submit.LoanID)
		}
		p.LoanID = id
	}

	// Advisory checks compare against the last-known view.
	if _, err := deps.Reader.LoadView(ctx, p.Owner, reader.ModeInitial); err != nil {
		return fmt.Errorf("app: load view: %w", err)
	}

	deps.Orchestrator.OnTransition(func(t domain.Transition) {
		a.logger.Info("action transition",
			slog.String("trigger", string(t.Trigger)),
			slog.String("phase", string(t.Phase)),
			slog.String("tx_hash", t.TxHash.Hex()),
		)
	})

	var (
		mu        sync.Mutex
		refreshed *domain.View
	)
	deps.OnRefresh(func(v *domain.View) {
		mu.Lock()
		refreshed = v
		mu.Unlock()
	})

	receipt, err := deps.Orchestrator.Submit(ctx, action, p)
	if err != nil {
		_ = a.printJSON(map[string]any{"action": action, "error": err.Error(), "kind": domain.KindOf(err), "receipt": receipt})
		return fmt.Errorf("app: submit %s: %w", action, err)
	}

	if err := deps.WaitRefresh(ctx); err != nil {
		a.logger.Warn("post-settlement refresh not awaited", slog.String("error", err.Error()))
	}
	out := map[string]any{"action": action, "receipt": receipt}
	mu.Lock()
	if refreshed != nil {
		out["view"] = newViewOutput(refreshed, deps.Thresholds)
	}
	mu.Unlock()
	return a.printJSON(out)
}

// ServeMode runs the HTTP and websocket surface. The connected wallet's view
// is refreshed in the background and streamed to websocket clients together
// with action transitions and notifications.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	var source ws.ViewSource
	if deps.ViewBus != nil {
		source = deps.ViewBus
	}
	hub := ws.NewHub(source, a.logger, ws.Config{
		Network:   deps.Network.Name,
		StartedAt: time.Now().UTC(),
	})
	deps.Notifier.AddSender(hub)
	deps.Orchestrator.OnTransition(hub.PublishTransition)
	// With Redis the hub already receives views from the shared channel.
	if deps.ViewBus == nil {
		deps.OnRefresh(hub.PublishView)
	}

	g.Go(func() error {
		return hub.Run(ctx)
	})

	if addr, err := owner(deps); err == nil {
		alerts := newHealthAlerts(deps.Notifier, deps.Thresholds, a.logger)
		g.Go(func() error {
			return a.watchLoop(ctx, deps.Reader, deps.Wallet, addr, func(v *domain.View) {
				deps.publish(ctx, v, a.logger)
				alerts.check(ctx, v)
				if deps.ViewBus == nil {
					hub.PublishView(v)
				}
			})
		})
	}

	cfg := server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}
	if deps.RateLimiter != nil {
		cfg.ActionLimiter = deps.RateLimiter
	}
	var journal domain.TxJournal
	if deps.Journal != nil {
		journal = deps.Journal
	}
	srv := server.NewServer(cfg, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Network, a.logger),
		View:    handler.NewViewHandler(deps.Reader, deps.Wallet, deps.Thresholds, a.logger),
		Actions: handler.NewActionHandler(deps.Orchestrator, deps.Wallet, a.logger),
		Journal: handler.NewJournalHandler(journal, deps.Wallet, a.logger),
		Wallet:  handler.NewWalletHandler(deps.Wallet, deps.Reader, a.logger),
	}, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return ignoreCanceled(g.Wait())
}

// ignoreCanceled treats shutdown by signal as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// EncryptKeyMode seals the configured raw key into the encrypted key file.
func (a *App) EncryptKeyMode(ctx context.Context) error {
	data, err := crypto.EncryptKey(a.cfg.Wallet.PrivateKey, a.cfg.Wallet.KeyPassword)
	if err != nil {
		return fmt.Errorf("app: encrypt key: %w", err)
	}
	if err := os.WriteFile(a.cfg.Wallet.EncryptedKeyPath, data, 0o600); err != nil {
		return fmt.Errorf("app: write key file: %w", err)
	}
	addr, err := crypto.KeyFileAddress(a.cfg.Wallet.EncryptedKeyPath)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "encrypted key written",
		slog.String("path", a.cfg.Wallet.EncryptedKeyPath),
		slog.String("address", addr.Hex()),
	)
	return a.printJSON(map[string]string{"address": addr.Hex(), "path": a.cfg.Wallet.EncryptedKeyPath})
}

// healthAlerts raises a warning when a loan's health status worsens between
// two views.
type healthAlerts struct {
	notifier   domain.Notifier
	thresholds domain.HealthThresholds
	logger     *slog.Logger

	mu   sync.Mutex
	last map[string]domain.HealthStatus
}

func newHealthAlerts(n domain.Notifier, th domain.HealthThresholds, logger *slog.Logger) *healthAlerts {
	return &healthAlerts{notifier: n, thresholds: th, logger: logger, last: make(map[string]domain.HealthStatus)}
}

var statusRank = map[domain.HealthStatus]int{
	domain.HealthHealthy:      0,
	domain.HealthAtRisk:       1,
	domain.HealthLiquidatable: 2,
}

func (h *healthAlerts) check(ctx context.Context, v *domain.View) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, lh := range v.AssessLoans(h.thresholds) {
		if lh.ID == nil || lh.Active == domain.No || lh.Status == domain.HealthUnknown {
			continue
		}
		id := lh.ID.String()
		prev, seen := h.last[id]
		h.last[id] = lh.Status
		if lh.Status == domain.HealthHealthy {
			continue
		}
		if seen && statusRank[lh.Status] <= statusRank[prev] {
			continue
		}
		err := h.notifier.Notify(ctx, domain.Notification{
			Event:       "loan_health",
			Title:       fmt.Sprintf("Loan #%s is %s", id, strings.ReplaceAll(string(lh.Status), "-", " ")),
			Description: fmt.Sprintf("Health %s%%, collateral value $%s", lh.HealthPct.StringFixed(2), lh.CollateralValue.String()),
			Severity:    domain.SeverityWarning,
		})
		if err != nil {
			h.logger.Warn("loan health notification failed",
				slog.String("loan_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}
