// Package app provides the top-level application lifecycle for the vaultswap
// client. It wires together all dependencies (RPC client, wallet session,
// read aggregator, transaction orchestrator, optional Redis and Postgres,
// notifications) and runs the configured mode.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alanyoungcy/vaultswap/internal/config"
)

// SubmitRequest is the action run by submit mode.
type SubmitRequest struct {
	Action     string
	Amount     string
	Collateral string
	LoanID     string
	Asset      string
}

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	out     io.Writer
	submit  SubmitRequest
	closers []func()
}

// Option customises an App.
type Option func(*App)

// WithSubmit sets the action run by submit mode.
func WithSubmit(req SubmitRequest) Option {
	return func(a *App) { a.submit = req }
}

// WithOutput redirects mode output, stdout by default.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *App {
	a := &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		out:    os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, and blocks until the mode finishes or the context is
// cancelled. Cleanup runs in Close.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Bool("test_network", a.cfg.Network.TestNetwork),
	)

	// encrypt-key touches no network.
	if mode == "encrypt-key" {
		return a.EncryptKeyMode(ctx)
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch mode {
	case "view":
		return a.ViewMode(ctx, deps)
	case "watch":
		return a.WatchMode(ctx, deps)
	case "submit":
		return a.SubmitMode(ctx, deps)
	case "serve":
		return a.ServeMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
