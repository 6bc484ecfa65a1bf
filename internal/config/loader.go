package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path on top of Defaults, then applies
// REBALANCER_* environment overrides (a .env file in the working directory
// is loaded first when present). An empty path skips the file. The result
// has NOT been validated; call Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

const envPrefix = "REBALANCER_"

// applyEnvOverrides overwrites fields whose REBALANCER_* variable is set and
// non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Top-level ──
	setStr(&cfg.Mode, envPrefix+"MODE")
	setStr(&cfg.LogLevel, envPrefix+"LOG_LEVEL")

	// ── Rebalance ──
	setFloat64(&cfg.Rebalance.MinAPYDiff, envPrefix+"REBALANCE_MIN_APY_DIFF")
	setFloat64(&cfg.Rebalance.MinPositionUSD, envPrefix+"REBALANCE_MIN_POSITION_USD")
	setFloat64(&cfg.Rebalance.FixedCostUSD, envPrefix+"REBALANCE_FIXED_COST_USD")
	setFloat64(&cfg.Rebalance.ProfitMultiplier, envPrefix+"REBALANCE_PROFIT_MULTIPLIER")
	setFloat64(&cfg.Rebalance.MinIdleBalanceUSD, envPrefix+"REBALANCE_MIN_IDLE_BALANCE_USD")
	setDuration(&cfg.Rebalance.Cooldown, envPrefix+"REBALANCE_COOLDOWN")
	setInt(&cfg.Rebalance.MaxPerDay, envPrefix+"REBALANCE_MAX_PER_DAY")

	// ── Scheduler ──
	setStr(&cfg.Scheduler.Strategy, envPrefix+"SCHEDULER_STRATEGY")
	setDuration(&cfg.Scheduler.Interval, envPrefix+"SCHEDULER_INTERVAL")
	setBool(&cfg.Scheduler.RunOnStartup, envPrefix+"SCHEDULER_RUN_ON_STARTUP")
	setDuration(&cfg.Scheduler.CycleTimeout, envPrefix+"SCHEDULER_CYCLE_TIMEOUT")
	setDuration(&cfg.Scheduler.LockTTL, envPrefix+"SCHEDULER_LOCK_TTL")
	setInt(&cfg.Scheduler.BatchSize, envPrefix+"SCHEDULER_BATCH_SIZE")
	setInt(&cfg.Scheduler.TopN, envPrefix+"SCHEDULER_TOP_N")
	setDuration(&cfg.Scheduler.ExecutionPacing, envPrefix+"SCHEDULER_EXECUTION_PACING")
	setDuration(&cfg.Scheduler.AccountPacing, envPrefix+"SCHEDULER_ACCOUNT_PACING")

	// ── Executor ──
	setDuration(&cfg.Executor.WithdrawConfirmationDelay, envPrefix+"EXECUTOR_WITHDRAW_CONFIRMATION_DELAY")
	setDuration(&cfg.Executor.StepConfirmationDelay, envPrefix+"EXECUTOR_STEP_CONFIRMATION_DELAY")
	setDuration(&cfg.Executor.DedupTTL, envPrefix+"EXECUTOR_DEDUP_TTL")
	setBool(&cfg.Executor.WaitForReceipts, envPrefix+"EXECUTOR_WAIT_FOR_RECEIPTS")

	// ── History ──
	setInt(&cfg.History.Retention, envPrefix+"HISTORY_RETENTION")
	setDuration(&cfg.History.ArchiveAfter, envPrefix+"HISTORY_ARCHIVE_AFTER")
	setDuration(&cfg.History.ArchiveInterval, envPrefix+"HISTORY_ARCHIVE_INTERVAL")
	setBool(&cfg.History.PurgeArchived, envPrefix+"HISTORY_PURGE_ARCHIVED")

	// ── Vaults ──
	setInt64(&cfg.Vaults.ChainID, envPrefix+"VAULTS_CHAIN_ID")
	setStr(&cfg.Vaults.AssetAddress, envPrefix+"VAULTS_ASSET_ADDRESS")
	setStringSlice(&cfg.Vaults.Sources, envPrefix+"VAULTS_SOURCES")
	setStr(&cfg.Vaults.MorphoURL, envPrefix+"VAULTS_MORPHO_URL")
	setStr(&cfg.Vaults.AaveURL, envPrefix+"VAULTS_AAVE_URL")
	setFloat64(&cfg.Vaults.MinAPY, envPrefix+"VAULTS_MIN_APY")
	setFloat64(&cfg.Vaults.MinTVLUSD, envPrefix+"VAULTS_MIN_TVL_USD")
	setDuration(&cfg.Vaults.CacheTTL, envPrefix+"VAULTS_CACHE_TTL")

	// ── Custody ──
	setStr(&cfg.Custody.Backend, envPrefix+"CUSTODY_BACKEND")
	setStr(&cfg.Custody.BaseURL, envPrefix+"CUSTODY_BASE_URL")
	setStr(&cfg.Custody.AppID, envPrefix+"CUSTODY_APP_ID")
	setStr(&cfg.Custody.AppSecret, envPrefix+"CUSTODY_APP_SECRET")
	setStr(&cfg.Custody.SigningSecret, envPrefix+"CUSTODY_SIGNING_SECRET")
	setBool(&cfg.Custody.Sponsor, envPrefix+"CUSTODY_SPONSOR")
	setStr(&cfg.Custody.RPCURL, envPrefix+"CUSTODY_RPC_URL")
	setStr(&cfg.Custody.KeyDir, envPrefix+"CUSTODY_KEY_DIR")
	setStr(&cfg.Custody.KeyPassword, envPrefix+"CUSTODY_KEY_PASSWORD")
	setFloat64(&cfg.Custody.GasMultiplier, envPrefix+"CUSTODY_GAS_MULTIPLIER")

	// ── Balance ──
	setStr(&cfg.Balance.Source, envPrefix+"BALANCE_SOURCE")
	setStr(&cfg.Balance.RPCURL, envPrefix+"BALANCE_RPC_URL")

	// ── Store ──
	setStr(&cfg.Store.Backend, envPrefix+"STORE_BACKEND")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, envPrefix+"REDIS_ADDR")
	setStr(&cfg.Redis.Password, envPrefix+"REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, envPrefix+"REDIS_DB")
	setInt(&cfg.Redis.PoolSize, envPrefix+"REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, envPrefix+"REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, envPrefix+"REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, envPrefix+"REDIS_KEY_PREFIX")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, envPrefix+"POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform convention; the prefixed key wins
	setStr(&cfg.Postgres.DSN, envPrefix+"POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, envPrefix+"POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, envPrefix+"POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, envPrefix+"POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, envPrefix+"POSTGRES_USER")
	setStr(&cfg.Postgres.Password, envPrefix+"POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, envPrefix+"POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, envPrefix+"POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, envPrefix+"POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, envPrefix+"POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, envPrefix+"S3_ENABLED")
	setStr(&cfg.S3.Endpoint, envPrefix+"S3_ENDPOINT")
	setStr(&cfg.S3.Region, envPrefix+"S3_REGION")
	setStr(&cfg.S3.Bucket, envPrefix+"S3_BUCKET")
	setStr(&cfg.S3.AccessKey, envPrefix+"S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, envPrefix+"S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, envPrefix+"S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, envPrefix+"S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, envPrefix+"SERVER_ENABLED")
	setInt(&cfg.Server.Port, envPrefix+"SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, envPrefix+"SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, envPrefix+"SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, envPrefix+"SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, envPrefix+"NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, envPrefix+"NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, envPrefix+"NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, envPrefix+"NOTIFY_EVENTS")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
