// Package config defines the top-level configuration for the rebalancer and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by REBALANCER_* environment variables.
type Config struct {
	Rebalance RebalanceConfig `toml:"rebalance"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Executor  ExecutorConfig  `toml:"executor"`
	History   HistoryConfig   `toml:"history"`
	Vaults    VaultsConfig    `toml:"vaults"`
	Custody   CustodyConfig   `toml:"custody"`
	Balance   BalanceConfig   `toml:"balance"`
	Store     StoreConfig     `toml:"store"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// RebalanceConfig is the opportunity policy. Yields are decimal fractions.
type RebalanceConfig struct {
	MinAPYDiff        float64       `toml:"min_apy_diff"`
	MinPositionUSD    float64       `toml:"min_position_usd"`
	FixedCostUSD      float64       `toml:"fixed_cost_usd"`
	ProfitMultiplier  float64       `toml:"profit_multiplier"`
	MinIdleBalanceUSD float64       `toml:"min_idle_balance_usd"`
	Cooldown          duration      `toml:"cooldown"`
	MaxPerDay         int           `toml:"max_per_day"`
	Weights           WeightsConfig `toml:"weights"`
}

// WeightsConfig blends gain, size and yield delta into a priority score.
type WeightsConfig struct {
	Gain           float64 `toml:"gain"`
	Size           float64 `toml:"size"`
	Delta          float64 `toml:"delta"`
	UninvestedBase float64 `toml:"uninvested_base"`
	// FlatUninvested scores idle-balance moves as uninvested_base alone.
	FlatUninvested bool    `toml:"flat_uninvested"`
}

// SchedulerConfig controls how cycles are driven.
type SchedulerConfig struct {
	// Strategy is the cycle strategy: "two_phase" or "fused".
	Strategy        string   `toml:"strategy"`
	Interval        duration `toml:"interval"`
	RunOnStartup    bool     `toml:"run_on_startup"`
	CycleTimeout    duration `toml:"cycle_timeout"`
	LockTTL         duration `toml:"lock_ttl"`
	BatchSize       int      `toml:"batch_size"`
	TopN            int      `toml:"top_n"`
	ExecutionPacing duration `toml:"execution_pacing"`
	AccountPacing   duration `toml:"account_pacing"`
}

// ExecutorConfig holds the step delays and bookkeeping bounds.
type ExecutorConfig struct {
	WithdrawConfirmationDelay duration `toml:"withdraw_confirmation_delay"`
	StepConfirmationDelay     duration `toml:"step_confirmation_delay"`
	DedupTTL                  duration `toml:"dedup_ttl"`
	BookkeepingTimeout        duration `toml:"bookkeeping_timeout"`
	// WaitForReceipts polls receipts instead of sleeping. Local custody only.
	WaitForReceipts     bool     `toml:"wait_for_receipts"`
	ReceiptPollInterval duration `toml:"receipt_poll_interval"`
}

// HistoryConfig bounds the history list and drives archival.
type HistoryConfig struct {
	Retention int `toml:"retention"`
	// ArchiveAfter is the age past which executions move to S3. Zero
	// disables archival.
	ArchiveAfter    duration `toml:"archive_after"`
	ArchiveInterval duration `toml:"archive_interval"`
	PurgeArchived   bool     `toml:"purge_archived"`
}

// VaultsConfig selects the protocols and the eligibility filter.
type VaultsConfig struct {
	ChainID        int64    `toml:"chain_id"`
	AssetAddress   string   `toml:"asset_address"`
	AssetDecimals  int      `toml:"asset_decimals"`
	Sources        []string `toml:"sources"`
	MorphoURL      string   `toml:"morpho_url"`
	AaveURL        string   `toml:"aave_url"`
	MinAPY         float64  `toml:"min_apy"`
	MinTVLUSD      float64  `toml:"min_tvl_usd"`
	CacheTTL       duration `toml:"cache_ttl"`
	RequestTimeout duration `toml:"request_timeout"`
}

// CustodyConfig selects and configures the transaction submission backend.
type CustodyConfig struct {
	// Backend is "remote" (server-wallet API) or "local" (keys held here).
	Backend string `toml:"backend"`

	BaseURL       string   `toml:"base_url"`
	AppID         string   `toml:"app_id"`
	AppSecret     string   `toml:"app_secret"`
	SigningSecret string   `toml:"signing_secret"`
	Sponsor       bool     `toml:"sponsor"`
	Timeout       duration `toml:"timeout"`

	RPCURL        string            `toml:"rpc_url"`
	KeyDir        string            `toml:"key_dir"`
	KeyPassword   string            `toml:"key_password"`
	Keys          map[string]string `toml:"keys"`
	GasMultiplier float64           `toml:"gas_multiplier"`
}

// BalanceConfig selects where idle wallet balances come from.
type BalanceConfig struct {
	// Source is "custody" (remote balance endpoint), "chain" (balanceOf via
	// RPC) or "none".
	Source       string `toml:"source"`
	RPCURL       string `toml:"rpc_url"`
	BalanceAsset string `toml:"balance_asset"`
	BalanceChain string `toml:"balance_chain"`
}

// StoreConfig selects the backing store for queue, cooldown, history,
// registry, lock and signal bus.
type StoreConfig struct {
	Backend string `toml:"backend"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// PostgresConfig holds connection parameters for the execution ledger.
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the admin API settings.
type ServerConfig struct {
	Enabled      bool     `toml:"enabled"`
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	APIKey       string   `toml:"api_key"`
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   duration `toml:"rate_window"`
	WriteTimeout duration `toml:"write_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "12h", "2s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so that TOML can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Base mainnet USDC.
const defaultAssetAddress = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"

// Defaults returns a Config populated with the reference policy and local
// development endpoints.
func Defaults() Config {
	return Config{
		Mode:     "two_phase",
		LogLevel: "info",
		Rebalance: RebalanceConfig{
			MinAPYDiff:        0.005,
			MinPositionUSD:    100,
			FixedCostUSD:      0.10,
			ProfitMultiplier:  3,
			MinIdleBalanceUSD: 1,
			Cooldown:          duration{12 * time.Hour},
			MaxPerDay:         2,
			Weights: WeightsConfig{
				Gain:           100,
				Size:           0.01,
				Delta:          10000,
				UninvestedBase: 1000,
			},
		},
		Scheduler: SchedulerConfig{
			Strategy:        "two_phase",
			Interval:        duration{time.Hour},
			RunOnStartup:    true,
			CycleTimeout:    duration{10 * time.Minute},
			LockTTL:         duration{15 * time.Minute},
			BatchSize:       10,
			TopN:            5,
			ExecutionPacing: duration{2 * time.Second},
			AccountPacing:   duration{time.Second},
		},
		Executor: ExecutorConfig{
			WithdrawConfirmationDelay: duration{3 * time.Second},
			StepConfirmationDelay:     duration{2 * time.Second},
			DedupTTL:                  duration{10 * time.Minute},
			BookkeepingTimeout:        duration{10 * time.Second},
			ReceiptPollInterval:       duration{2 * time.Second},
		},
		History: HistoryConfig{
			Retention:       1000,
			ArchiveAfter:    duration{30 * 24 * time.Hour},
			ArchiveInterval: duration{24 * time.Hour},
		},
		Vaults: VaultsConfig{
			ChainID:        8453,
			AssetAddress:   defaultAssetAddress,
			AssetDecimals:  6,
			Sources:        []string{"morpho", "aave-v3"},
			MorphoURL:      "https://api.morpho.org/graphql",
			AaveURL:        "https://api.v3.aave.com/graphql",
			MinAPY:         0.01,
			MinTVLUSD:      1_000_000,
			CacheTTL:       duration{5 * time.Minute},
			RequestTimeout: duration{15 * time.Second},
		},
		Custody: CustodyConfig{
			Backend:       "remote",
			BaseURL:       "https://api.privy.io",
			Sponsor:       true,
			Timeout:       duration{30 * time.Second},
			GasMultiplier: 1.2,
		},
		Balance: BalanceConfig{
			Source:       "custody",
			BalanceAsset: "usdc",
			BalanceChain: "base",
		},
		Store: StoreConfig{
			Backend: "redis",
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "rebalancer:",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "rebalancer",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "rebalancer",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:      true,
			Port:         8080,
			CORSOrigins:  []string{"http://localhost:3000"},
			RateLimit:    120,
			RateWindow:   duration{time.Minute},
			WriteTimeout: duration{5 * time.Minute},
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"two_phase": true,
	"fused":     true,
	"once":      true,
	"server":    true,
}

// validStrategies enumerates the accepted values for Scheduler.Strategy.
var validStrategies = map[string]bool{
	"two_phase": true,
	"fused":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSources = map[string]bool{
	"morpho":  true,
	"aave-v3": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: two_phase, fused, once, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Rebalance policy
	r := c.Rebalance
	if r.MinAPYDiff < 0 {
		errs = append(errs, "rebalance: min_apy_diff must be >= 0")
	}
	if r.MinAPYDiff >= 1 {
		errs = append(errs, fmt.Sprintf("rebalance: min_apy_diff is a fraction, got %g", r.MinAPYDiff))
	}
	if r.MinPositionUSD < 0 || r.FixedCostUSD < 0 || r.MinIdleBalanceUSD < 0 {
		errs = append(errs, "rebalance: usd thresholds must be >= 0")
	}
	if r.ProfitMultiplier <= 0 {
		errs = append(errs, "rebalance: profit_multiplier must be > 0")
	}
	if r.Cooldown.Duration <= 0 {
		errs = append(errs, "rebalance: cooldown must be > 0")
	}
	if r.MaxPerDay < 1 {
		errs = append(errs, "rebalance: max_per_day must be >= 1")
	}

	// Scheduler
	s := c.Scheduler
	if !validStrategies[s.Strategy] {
		errs = append(errs, fmt.Sprintf("scheduler: unknown strategy %q (valid: two_phase, fused)", s.Strategy))
	}
	if s.Interval.Duration < 0 {
		errs = append(errs, "scheduler: interval must be >= 0")
	}
	if s.CycleTimeout.Duration <= 0 {
		errs = append(errs, "scheduler: cycle_timeout must be > 0")
	}
	if s.LockTTL.Duration < s.CycleTimeout.Duration {
		errs = append(errs, "scheduler: lock_ttl must be >= cycle_timeout")
	}
	if s.BatchSize < 1 {
		errs = append(errs, "scheduler: batch_size must be >= 1")
	}
	if s.TopN < 1 {
		errs = append(errs, "scheduler: top_n must be >= 1")
	}
	if s.ExecutionPacing.Duration < 0 || s.AccountPacing.Duration < 0 {
		errs = append(errs, "scheduler: pacing must be >= 0")
	}

	// Executor
	if c.Executor.WithdrawConfirmationDelay.Duration < 0 || c.Executor.StepConfirmationDelay.Duration < 0 {
		errs = append(errs, "executor: confirmation delays must be >= 0")
	}
	if c.Executor.WaitForReceipts && c.Custody.Backend != "local" {
		errs = append(errs, "executor: wait_for_receipts requires custody.backend = local")
	}

	// History
	if c.History.Retention < 1 {
		errs = append(errs, "history: retention must be >= 1")
	}
	if c.History.ArchiveAfter.Duration > 0 && c.History.ArchiveInterval.Duration <= 0 {
		errs = append(errs, "history: archive_interval must be > 0 when archive_after is set")
	}

	// Vaults
	v := c.Vaults
	if v.ChainID <= 0 {
		errs = append(errs, "vaults: chain_id must be positive")
	}
	if !common.IsHexAddress(v.AssetAddress) {
		errs = append(errs, fmt.Sprintf("vaults: asset_address %q is not a hex address", v.AssetAddress))
	}
	if v.AssetDecimals <= 0 || v.AssetDecimals > 36 {
		errs = append(errs, "vaults: asset_decimals must be 1-36")
	}
	if len(v.Sources) == 0 {
		errs = append(errs, "vaults: at least one source is required")
	}
	for _, src := range v.Sources {
		if !validSources[src] {
			errs = append(errs, fmt.Sprintf("vaults: unknown source %q (valid: morpho, aave-v3)", src))
		}
	}

	// Custody
	switch c.Custody.Backend {
	case "remote":
		if c.Custody.BaseURL == "" {
			errs = append(errs, "custody: base_url must not be empty")
		}
		if c.Custody.AppID == "" || c.Custody.AppSecret == "" {
			errs = append(errs, "custody: app_id and app_secret are required for the remote backend")
		}
	case "local":
		if c.Custody.RPCURL == "" {
			errs = append(errs, "custody: rpc_url is required for the local backend")
		}
		if c.Custody.KeyDir == "" && len(c.Custody.Keys) == 0 {
			errs = append(errs, "custody: either key_dir or keys must be set for the local backend")
		}
		if c.Custody.KeyDir != "" && c.Custody.KeyPassword == "" {
			errs = append(errs, "custody: key_password is required when key_dir is set")
		}
	default:
		errs = append(errs, fmt.Sprintf("custody: unknown backend %q (valid: remote, local)", c.Custody.Backend))
	}

	// Balance
	switch c.Balance.Source {
	case "none":
	case "custody":
		if c.Custody.Backend != "remote" {
			errs = append(errs, "balance: source custody requires custody.backend = remote")
		}
	case "chain":
		if c.Balance.RPCURL == "" && c.Custody.RPCURL == "" {
			errs = append(errs, "balance: rpc_url is required for source chain")
		}
	default:
		errs = append(errs, fmt.Sprintf("balance: unknown source %q (valid: custody, chain, none)", c.Balance.Source))
	}

	// Store
	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: redis, memory)", c.Store.Backend))
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be within 0..pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archival reads executions from postgres; enable postgres")
		}
	}

	// Server
	if c.Server.Enabled || c.Mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
