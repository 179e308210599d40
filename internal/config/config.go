// Package config defines the top-level configuration for the vaultswap client
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by VAULTSWAP_* environment variables.
type Config struct {
	Network      NetworkConfig      `toml:"network"`
	Contracts    ContractsConfig    `toml:"contracts"`
	Wallet       WalletConfig       `toml:"wallet"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Reader       ReaderConfig       `toml:"reader"`
	Redis        RedisConfig        `toml:"redis"`
	Postgres     PostgresConfig     `toml:"postgres"`
	Server       ServerConfig       `toml:"server"`
	Notify       NotifyConfig       `toml:"notify"`
	Mode         string             `toml:"mode"`
	LogLevel     string             `toml:"log_level"`
}

// NetworkConfig selects the network. TestNetwork picks the test network and
// enables test-asset minting.
type NetworkConfig struct {
	TestNetwork bool   `toml:"test_network"`
	MainnetRPC  string `toml:"mainnet_rpc"`
	TestnetRPC  string `toml:"testnet_rpc"`
}

// ContractSet holds the deployed addresses on one network.
type ContractSet struct {
	CollateralToken string `toml:"collateral_token"`
	Stablecoin      string `toml:"stablecoin"`
	Vault           string `toml:"vault"`
	LendingCore     string `toml:"lending_core"`
	LiquidityPool   string `toml:"liquidity_pool"`
}

// ContractsConfig holds per-network contract addresses.
type ContractsConfig struct {
	Mainnet ContractSet `toml:"mainnet"`
	Testnet ContractSet `toml:"testnet"`
}

// WalletConfig holds key material. Without a key, Address selects a
// read-only session.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	Address          string `toml:"address"`
}

// OrchestratorConfig tunes action submission.
type OrchestratorConfig struct {
	SettlementTimeout duration `toml:"settlement_timeout"`
	LockTTL           duration `toml:"lock_ttl"`
	// HealthyThreshold is the health percentage at and above which a loan is
	// reported healthy.
	HealthyThreshold string `toml:"healthy_threshold"`
	// LiquidationThreshold is used until the protocol constant is read.
	LiquidationThreshold string `toml:"liquidation_threshold"`
}

// ReaderConfig tunes the read aggregator.
type ReaderConfig struct {
	ReadTimeout     duration `toml:"read_timeout"`
	RefreshInterval duration `toml:"refresh_interval"`
	CacheTTL        duration `toml:"cache_ttl"`
}

// RedisConfig holds Redis connection parameters. Redis is optional.
type RedisConfig struct {
	Enabled       bool   `toml:"enabled"`
	Addr          string `toml:"addr"`
	Password      string `toml:"password"`
	DB            int    `toml:"db"`
	PoolSize      int    `toml:"pool_size"`
	MaxRetries    int    `toml:"max_retries"`
	TLSEnabled    bool   `toml:"tls_enabled"`
	KeyPrefix     string `toml:"key_prefix"`
	ActionsPerMin int    `toml:"actions_per_min"`
}

// PostgresConfig holds the transaction journal database. Postgres is
// optional.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	MinSeverity       string   `toml:"min_severity"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Network: NetworkConfig{
			TestNetwork: true,
			MainnetRPC:  "https://ethereum-rpc.publicnode.com",
			TestnetRPC:  "https://ethereum-sepolia-rpc.publicnode.com",
		},
		Orchestrator: OrchestratorConfig{
			SettlementTimeout:    duration{5 * time.Minute},
			LockTTL:              duration{10 * time.Minute},
			HealthyThreshold:     "180",
			LiquidationThreshold: "120",
		},
		Reader: ReaderConfig{
			ReadTimeout:     duration{15 * time.Second},
			RefreshInterval: duration{30 * time.Second},
			CacheTTL:        duration{24 * time.Hour},
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			PoolSize:      20,
			MaxRetries:    3,
			KeyPrefix:     "vaultswap",
			ActionsPerMin: 30,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "vaultswap",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			MinSeverity: "info",
		},
		Mode:     "view",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"view":        true,
	"watch":       true,
	"submit":      true,
	"serve":       true,
	"encrypt-key": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSeverities = map[string]bool{
	"info":    true,
	"success": true,
	"warning": true,
	"error":   true,
}

// ActiveContracts returns the address set of the selected network.
func (c *Config) ActiveContracts() ContractSet {
	if c.Network.TestNetwork {
		return c.Contracts.Testnet
	}
	return c.Contracts.Mainnet
}

// ActiveRPC returns the RPC endpoint of the selected network.
func (c *Config) ActiveRPC() string {
	if c.Network.TestNetwork {
		return c.Network.TestnetRPC
	}
	return c.Network.MainnetRPC
}

// HasKey reports whether any signing key source is configured.
func (c *Config) HasKey() bool {
	return c.Wallet.PrivateKey != "" || c.Wallet.EncryptedKeyPath != ""
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: view, watch, submit, serve, encrypt-key)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// encrypt-key only needs a raw key, a path and a password.
	if mode == "encrypt-key" {
		if c.Wallet.PrivateKey == "" || c.Wallet.EncryptedKeyPath == "" || c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: encrypt-key needs private_key, encrypted_key_path and key_password")
		}
		return joinErrs(errs)
	}

	// Network
	if c.ActiveRPC() == "" {
		errs = append(errs, "network: rpc url of the selected network must not be empty")
	}

	// Contracts. Every address of the selected network must be a hex address.
	set := c.ActiveContracts()
	for _, kv := range []struct{ name, addr string }{
		{"collateral_token", set.CollateralToken},
		{"stablecoin", set.Stablecoin},
		{"vault", set.Vault},
		{"lending_core", set.LendingCore},
		{"liquidity_pool", set.LiquidityPool},
	} {
		if !common.IsHexAddress(kv.addr) {
			errs = append(errs, fmt.Sprintf("contracts: %s address %q is not a hex address", kv.name, kv.addr))
		}
	}

	// Wallet
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}
	if c.Wallet.Address != "" && !common.IsHexAddress(c.Wallet.Address) {
		errs = append(errs, fmt.Sprintf("wallet: address %q is not a hex address", c.Wallet.Address))
	}
	if mode == "submit" && !c.HasKey() {
		errs = append(errs, "wallet: submit mode needs private_key or encrypted_key_path")
	}
	if (mode == "view" || mode == "watch") && !c.HasKey() && c.Wallet.Address == "" {
		errs = append(errs, "wallet: set address or a key for mode "+mode)
	}

	// Orchestrator
	healthy, err1 := decimal.NewFromString(c.Orchestrator.HealthyThreshold)
	liq, err2 := decimal.NewFromString(c.Orchestrator.LiquidationThreshold)
	switch {
	case err1 != nil:
		errs = append(errs, fmt.Sprintf("orchestrator: healthy_threshold %q is not a number", c.Orchestrator.HealthyThreshold))
	case err2 != nil:
		errs = append(errs, fmt.Sprintf("orchestrator: liquidation_threshold %q is not a number", c.Orchestrator.LiquidationThreshold))
	case healthy.LessThan(liq):
		errs = append(errs, "orchestrator: healthy_threshold must not be below liquidation_threshold")
	}
	if c.Orchestrator.SettlementTimeout.Duration < 0 {
		errs = append(errs, "orchestrator: settlement_timeout must not be negative")
	}

	// Reader
	if c.Reader.ReadTimeout.Duration <= 0 {
		errs = append(errs, "reader: read_timeout must be > 0")
	}
	if mode == "watch" && c.Reader.RefreshInterval.Duration <= 0 {
		errs = append(errs, "reader: refresh_interval must be > 0 for watch mode")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Server
	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	// Notify
	if !validSeverities[strings.ToLower(c.Notify.MinSeverity)] {
		errs = append(errs, fmt.Sprintf("notify: unknown min_severity %q", c.Notify.MinSeverity))
	}

	return joinErrs(errs)
}

func joinErrs(errs []string) error {
	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
