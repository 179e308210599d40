package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/vaultswap/internal/cache/redis"
	"github.com/alanyoungcy/vaultswap/internal/chain"
	"github.com/alanyoungcy/vaultswap/internal/config"
	"github.com/alanyoungcy/vaultswap/internal/crypto"
	"github.com/alanyoungcy/vaultswap/internal/domain"
	"github.com/alanyoungcy/vaultswap/internal/evm"
	"github.com/alanyoungcy/vaultswap/internal/notify"
	"github.com/alanyoungcy/vaultswap/internal/orchestrator"
	"github.com/alanyoungcy/vaultswap/internal/reader"
	"github.com/alanyoungcy/vaultswap/internal/store/postgres"
)

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	Resolver *chain.Resolver
	Network  chain.ChainDescriptor
	Client   *evm.Client
	Wallet   *evm.Wallet

	Reader       *reader.Aggregator
	Orchestrator *orchestrator.Orchestrator
	Notifier     *notify.Notifier
	Thresholds   domain.HealthThresholds

	// Optional infrastructure; nil when not configured.
	Journal     *postgres.JournalStore
	ViewBus     *redis.ViewBus
	RateLimiter *redis.RateLimiter

	refreshHooks []func(*domain.View)
	refreshes    sync.WaitGroup
}

// OnRefresh registers fn to receive every view reloaded after a settled
// action. Must be called before any action is submitted.
func (d *Dependencies) OnRefresh(fn func(*domain.View)) {
	d.refreshHooks = append(d.refreshHooks, fn)
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Resolver ---
	resolver, err := chain.NewResolver(chainConfig(cfg))
	if err != nil {
		return fail(fmt.Errorf("wire: resolver: %w", err))
	}
	if err := resolver.Validate(); err != nil {
		return fail(fmt.Errorf("wire: resolver: %w", err))
	}
	deps.Resolver = resolver
	deps.Network = resolver.ResolveChain()

	thresholds, err := healthThresholds(cfg)
	if err != nil {
		return fail(fmt.Errorf("wire: thresholds: %w", err))
	}
	deps.Thresholds = thresholds

	// --- RPC client ---
	client, err := evm.Dial(ctx, deps.Network.RPCURL, deps.Network.ID, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: rpc: %w", err))
	}
	closers = append(closers, client.Close)
	deps.Client = client

	// --- Wallet ---
	wallet, err := buildWallet(cfg, client, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: wallet: %w", err))
	}
	deps.Wallet = wallet

	// --- Notifications ---
	senders := []notify.Sender{notify.NewLogSender(logger)}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.MinSeverity, logger)

	readerOpts := reader.Options{
		ReadTimeout: cfg.Reader.ReadTimeout.Duration,
		Logger:      logger,
	}
	orchOpts := orchestrator.Options{
		LockTTL:           cfg.Orchestrator.LockTTL.Duration,
		SettlementTimeout: cfg.Orchestrator.SettlementTimeout.Duration,
		Logger:            logger,
	}

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		readerOpts.Cache = redis.NewViewCache(redisClient, deps.Network.ID, cfg.Reader.CacheTTL.Duration)
		orchOpts.Locks = redis.NewLockManager(redisClient)
		deps.ViewBus = redis.NewViewBus(redisClient)
		if cfg.Redis.ActionsPerMin > 0 {
			deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Redis.ActionsPerMin, time.Minute)
		}
	}

	// --- PostgreSQL (optional) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Journal = postgres.NewJournalStore(pgClient.Pool())
		orchOpts.Journal = deps.Journal
	}

	// --- Read aggregator and orchestrator ---
	deps.Reader = reader.New(resolver, client, deps.Notifier, readerOpts)
	orchOpts.Refresh = deps.refresh(logger)
	deps.Orchestrator = orchestrator.New(resolver, client, client, wallet, deps.Reader, deps.Notifier, orchOpts)

	return deps, cleanup, nil
}

// refresh returns the post-settlement refresh: one background reload of the
// whole view, detached from the action that triggered it.
func (d *Dependencies) refresh(logger *slog.Logger) orchestrator.RefreshFunc {
	return func(ctx context.Context, owner common.Address) {
		d.refreshes.Add(1)
		go func() {
			defer d.refreshes.Done()
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
			defer cancel()
			v, err := d.Reader.LoadView(rctx, owner, reader.ModeBackground)
			if err != nil {
				logger.Debug("post-action refresh abandoned", slog.String("error", err.Error()))
				return
			}
			d.publish(rctx, v, logger)
			for _, fn := range d.refreshHooks {
				fn(v)
			}
		}()
	}
}

// WaitRefresh blocks until every post-settlement refresh started so far has
// finished, or ctx ends.
func (d *Dependencies) WaitRefresh(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.refreshes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// publish mirrors v to the shared view channel when Redis is wired.
func (d *Dependencies) publish(ctx context.Context, v *domain.View, logger *slog.Logger) {
	if d.ViewBus == nil {
		return
	}
	if err := d.ViewBus.Publish(ctx, v); err != nil {
		logger.Warn("view publish failed", slog.String("error", err.Error()))
	}
}

func chainConfig(cfg *config.Config) chain.Config {
	return chain.Config{
		TestNetwork: cfg.Network.TestNetwork,
		Mainnet: chain.Network{
			RPCURL:    cfg.Network.MainnetRPC,
			Contracts: contractMap(cfg.Contracts.Mainnet),
		},
		Testnet: chain.Network{
			RPCURL:    cfg.Network.TestnetRPC,
			Contracts: contractMap(cfg.Contracts.Testnet),
		},
	}
}

func contractMap(set config.ContractSet) map[chain.LogicalName]common.Address {
	out := make(map[chain.LogicalName]common.Address, len(chain.LogicalNames))
	for name, addr := range map[chain.LogicalName]string{
		chain.CollateralToken: set.CollateralToken,
		chain.Stablecoin:      set.Stablecoin,
		chain.Vault:           set.Vault,
		chain.LendingCore:     set.LendingCore,
		chain.LiquidityPool:   set.LiquidityPool,
	} {
		if common.IsHexAddress(addr) {
			out[name] = common.HexToAddress(addr)
		}
	}
	return out
}

func healthThresholds(cfg *config.Config) (domain.HealthThresholds, error) {
	healthy, err := decimal.NewFromString(cfg.Orchestrator.HealthyThreshold)
	if err != nil {
		return domain.HealthThresholds{}, fmt.Errorf("healthy_threshold: %w", err)
	}
	liq, err := decimal.NewFromString(cfg.Orchestrator.LiquidationThreshold)
	if err != nil {
		return domain.HealthThresholds{}, fmt.Errorf("liquidation_threshold: %w", err)
	}
	return domain.HealthThresholds{Healthy: healthy, Liquidation: liq}, nil
}

// buildWallet loads the signing key when one is configured, otherwise a
// watch-only session for the configured address or key file address.
func buildWallet(cfg *config.Config, client *evm.Client, logger *slog.Logger) (*evm.Wallet, error) {
	src := crypto.KeySource{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	}
	if src.Configured() {
		key, err := crypto.LoadKey(src)
		if err != nil {
			return nil, err
		}
		return evm.NewWallet(key, map[uint64]*evm.Client{client.ChainID(): client}, client.ChainID(), logger)
	}
	if cfg.Wallet.Address != "" {
		return evm.NewWatchWallet(common.HexToAddress(cfg.Wallet.Address), logger), nil
	}
	return evm.NewWatchWallet(common.Address{}, logger), nil
}
