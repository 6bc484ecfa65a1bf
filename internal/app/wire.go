package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/alanyoungcy/yieldrebalancer/internal/blob/s3"
	"github.com/alanyoungcy/yieldrebalancer/internal/cache/memory"
	"github.com/alanyoungcy/yieldrebalancer/internal/cache/redis"
	"github.com/alanyoungcy/yieldrebalancer/internal/catalog"
	"github.com/alanyoungcy/yieldrebalancer/internal/config"
	"github.com/alanyoungcy/yieldrebalancer/internal/crypto"
	"github.com/alanyoungcy/yieldrebalancer/internal/custody"
	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
	"github.com/alanyoungcy/yieldrebalancer/internal/notify"
	"github.com/alanyoungcy/yieldrebalancer/internal/platform/aave"
	"github.com/alanyoungcy/yieldrebalancer/internal/platform/chain"
	"github.com/alanyoungcy/yieldrebalancer/internal/platform/morpho"
	"github.com/alanyoungcy/yieldrebalancer/internal/server/handler"
	"github.com/alanyoungcy/yieldrebalancer/internal/store/postgres"
)

// Dependencies bundles every collaborator the modes need. It is built by
// Wire and torn down by the returned cleanup function. Optional fields are
// nil when their backend is not configured.
type Dependencies struct {
	// Rebalance state
	Queue     domain.OpportunityQueue
	Cooldowns domain.CooldownStore
	History   domain.HistoryLog
	Registry  domain.AccountRegistry

	// Coordination
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Durable records (postgres)
	Executions *postgres.ExecutionStore
	Cycles     domain.CycleStore
	Audit      domain.AuditStore

	// Blob storage (s3)
	BlobReader domain.BlobReader
	Archiver   *s3blob.Archiver

	// Chain data and custody
	Catalog   *catalog.Catalog
	Positions domain.PositionProvider
	Balances  domain.BalanceProvider
	Custody   domain.Custody
	Confirmer domain.Confirmer

	Notifier *notify.Notifier

	// HealthChecks feeds GET /api/health.
	HealthChecks map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from cfg and
// returns them together with a cleanup function to call on shutdown.
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

	deps := &Dependencies{HealthChecks: make(map[string]handler.Pinger)}

	// --- Rebalance state: redis or in-process ---
	switch cfg.Store.Backend {
	case "memory":
		logger.WarnContext(ctx, "using in-memory store; queue, cooldowns and history are lost on restart")
		deps.Queue = memory.NewQueue()
		deps.Cooldowns = memory.NewCooldownStore()
		deps.History = memory.NewHistoryLog(cfg.History.Retention)
		deps.Registry = memory.NewRegistry()
		deps.LockManager = memory.NewLockManager()
		deps.SignalBus = memory.NewSignalBus()
		deps.RateLimiter = memory.NewRateLimiter()
	default:
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
		deps.HealthChecks["redis"] = handler.PingFunc(redisClient.Ping)

		deps.Queue = redis.NewOpportunityQueue(redisClient)
		deps.Cooldowns = redis.NewCooldownStore(redisClient)
		deps.History = redis.NewHistoryLog(redisClient, cfg.History.Retention)
		deps.Registry = redis.NewAccountRegistry(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- PostgreSQL ---
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
		deps.HealthChecks["postgres"] = handler.PingFunc(pgClient.Ping)

		pool := pgClient.Pool()
		deps.Executions = postgres.NewExecutionStore(pool)
		deps.Cycles = postgres.NewCycleStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.HealthChecks["s3"] = handler.PingFunc(s3Client.Health)

		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		if deps.Executions != nil {
			deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), reader, deps.Executions, deps.Audit, logger)
			if cfg.History.PurgeArchived {
				deps.Archiver.SetPurger(deps.Executions)
			}
		}
	}

	// --- Vault catalog and positions ---
	var (
		vaultSources    []catalog.VaultSource
		positionSources []catalog.PositionSource
	)
	timeout := cfg.Vaults.RequestTimeout.Duration
	for _, name := range cfg.Vaults.Sources {
		switch name {
		case domain.ProtocolMorpho:
			c := morpho.NewClient(cfg.Vaults.MorphoURL, cfg.Vaults.ChainID, cfg.Vaults.AssetAddress, timeout)
			vaultSources = append(vaultSources, c)
			positionSources = append(positionSources, c)
		case domain.ProtocolAaveV3:
			c := aave.NewClient(cfg.Vaults.AaveURL, cfg.Vaults.ChainID, cfg.Vaults.AssetAddress, timeout)
			vaultSources = append(vaultSources, c)
			positionSources = append(positionSources, c)
		default:
			return fail(fmt.Errorf("wire: vault source %q: %w", name, domain.ErrUnsupportedProtocol))
		}
	}
	cat, err := catalog.New(vaultSources, catalog.Filter{
		MinAPY:    cfg.Vaults.MinAPY,
		MinTVLUSD: cfg.Vaults.MinTVLUSD,
	}, cfg.Vaults.CacheTTL.Duration, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: catalog: %w", err))
	}
	closers = append(closers, cat.Close)
	deps.Catalog = cat
	deps.Positions = catalog.NewPositions(positionSources, logger)

	// --- Custody ---
	var rpc *ethclient.Client
	dialRPC := func(url string) (*ethclient.Client, error) {
		if rpc != nil {
			return rpc, nil
		}
		c, err := ethclient.DialContext(ctx, url)
		if err != nil {
			return nil, err
		}
		closers = append(closers, c.Close)
		rpc = c
		return c, nil
	}

	var remote *custody.Remote
	switch cfg.Custody.Backend {
	case "local":
		client, err := dialRPC(cfg.Custody.RPCURL)
		if err != nil {
			return fail(fmt.Errorf("wire: custody rpc: %w", err))
		}
		keys := crypto.NewKeyRing(cfg.Custody.KeyDir, cfg.Custody.KeyPassword, cfg.Custody.Keys)
		deps.Custody = custody.NewLocal(custody.LocalConfig{
			ChainID:       cfg.Vaults.ChainID,
			AssetAddress:  cfg.Vaults.AssetAddress,
			GasMultiplier: cfg.Custody.GasMultiplier,
		}, client, keys, logger)
		if cfg.Executor.WaitForReceipts {
			deps.Confirmer = custody.NewReceiptConfirmer(client, cfg.Executor.ReceiptPollInterval.Duration)
		}
	default:
		remote = custody.NewRemote(custody.RemoteConfig{
			BaseURL:       cfg.Custody.BaseURL,
			AppID:         cfg.Custody.AppID,
			AppSecret:     cfg.Custody.AppSecret,
			SigningSecret: cfg.Custody.SigningSecret,
			ChainID:       cfg.Vaults.ChainID,
			Sponsor:       cfg.Custody.Sponsor,
			AssetAddress:  cfg.Vaults.AssetAddress,
			BalanceAsset:  cfg.Balance.BalanceAsset,
			BalanceChain:  cfg.Balance.BalanceChain,
			Timeout:       cfg.Custody.Timeout.Duration,
		})
		deps.Custody = remote
	}

	// --- Idle balances ---
	switch cfg.Balance.Source {
	case "custody":
		if remote == nil {
			return fail(fmt.Errorf("wire: balance source custody needs the remote custody backend"))
		}
		deps.Balances = remote
	case "chain":
		url := cfg.Balance.RPCURL
		if url == "" {
			url = cfg.Custody.RPCURL
		}
		client, err := dialRPC(url)
		if err != nil {
			return fail(fmt.Errorf("wire: balance rpc: %w", err))
		}
		deps.Balances = chain.NewBalanceReader(client, cfg.Vaults.AssetAddress, int32(cfg.Vaults.AssetDecimals))
	}
	if rpc != nil {
		deps.HealthChecks["rpc"] = handler.PingFunc(func(ctx context.Context) error {
			_, err := rpc.BlockNumber(ctx)
			return err
		})
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("store", cfg.Store.Backend),
		slog.Bool("postgres", deps.Executions != nil),
		slog.Bool("archive", deps.Archiver != nil),
		slog.String("custody", cfg.Custody.Backend),
		slog.String("balance", cfg.Balance.Source),
		slog.Int("vault_sources", len(vaultSources)),
		slog.Int("notifiers", len(senders)),
		slog.Duration("catalog_ttl", cfg.Vaults.CacheTTL.Duration),
	)

	return deps, cleanup, nil
}
