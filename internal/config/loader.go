package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies VAULTSWAP_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known VAULTSWAP_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Network ──
	setBool(&cfg.Network.TestNetwork, "VAULTSWAP_NETWORK_TEST_NETWORK")
	setStr(&cfg.Network.MainnetRPC, "VAULTSWAP_NETWORK_MAINNET_RPC")
	setStr(&cfg.Network.TestnetRPC, "VAULTSWAP_NETWORK_TESTNET_RPC")

	// ── Contracts ──
	setContracts(&cfg.Contracts.Mainnet, "VAULTSWAP_CONTRACTS_MAINNET_")
	setContracts(&cfg.Contracts.Testnet, "VAULTSWAP_CONTRACTS_TESTNET_")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "VAULTSWAP_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "VAULTSWAP_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "VAULTSWAP_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.Address, "VAULTSWAP_WALLET_ADDRESS")

	// ── Orchestrator ──
	setDuration(&cfg.Orchestrator.SettlementTimeout, "VAULTSWAP_ORCHESTRATOR_SETTLEMENT_TIMEOUT")
	setDuration(&cfg.Orchestrator.LockTTL, "VAULTSWAP_ORCHESTRATOR_LOCK_TTL")
	setStr(&cfg.Orchestrator.HealthyThreshold, "VAULTSWAP_ORCHESTRATOR_HEALTHY_THRESHOLD")
	setStr(&cfg.Orchestrator.LiquidationThreshold, "VAULTSWAP_ORCHESTRATOR_LIQUIDATION_THRESHOLD")

	// ── Reader ──
	setDuration(&cfg.Reader.ReadTimeout, "VAULTSWAP_READER_READ_TIMEOUT")
	setDuration(&cfg.Reader.RefreshInterval, "VAULTSWAP_READER_REFRESH_INTERVAL")
	setDuration(&cfg.Reader.CacheTTL, "VAULTSWAP_READER_CACHE_TTL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "VAULTSWAP_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "VAULTSWAP_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VAULTSWAP_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VAULTSWAP_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VAULTSWAP_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "VAULTSWAP_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "VAULTSWAP_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "VAULTSWAP_REDIS_KEY_PREFIX")
	setInt(&cfg.Redis.ActionsPerMin, "VAULTSWAP_REDIS_ACTIONS_PER_MIN")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "VAULTSWAP_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "VAULTSWAP_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "VAULTSWAP_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "VAULTSWAP_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "VAULTSWAP_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "VAULTSWAP_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "VAULTSWAP_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "VAULTSWAP_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "VAULTSWAP_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "VAULTSWAP_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "VAULTSWAP_POSTGRES_RUN_MIGRATIONS")

	// ── Server ──
	setInt(&cfg.Server.Port, "VAULTSWAP_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "VAULTSWAP_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "VAULTSWAP_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "VAULTSWAP_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "VAULTSWAP_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "VAULTSWAP_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "VAULTSWAP_NOTIFY_EVENTS")
	setStr(&cfg.Notify.MinSeverity, "VAULTSWAP_NOTIFY_MIN_SEVERITY")

	// ── Top-level ──
	setStr(&cfg.Mode, "VAULTSWAP_MODE")
	setStr(&cfg.LogLevel, "VAULTSWAP_LOG_LEVEL")
}

func setContracts(dst *ContractSet, prefix string) {
	setStr(&dst.CollateralToken, prefix+"COLLATERAL_TOKEN")
	setStr(&dst.Stablecoin, prefix+"STABLECOIN")
	setStr(&dst.Vault, prefix+"VAULT")
	setStr(&dst.LendingCore, prefix+"LENDING_CORE")
	setStr(&dst.LiquidityPool, prefix+"LIQUIDITY_POOL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
