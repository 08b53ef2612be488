package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/batch"
	s3blob "github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/blob/s3"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/cache/redis"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/chain"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/config"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/crypto"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/domain"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/executor"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/flow"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/platform/polymarket"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/service"
	"github.com/EthGlobalBangkok/polyswap-dapp-sub001/internal/store/postgres"
)

// Dependencies bundles every component the application needs to run. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	OrderStore domain.OrderStore
	AuditStore domain.AuditStore

	// Caches and coordination
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Chain and off-chain legs
	ChainClient *chain.Client
	Signer      *crypto.Signer
	Clob        *polymarket.ClobClient

	// Flows
	Broadcaster *flow.Broadcaster
	Canceller   *flow.Canceller
	Reconciler  *flow.Reconciler

	// Application facade
	Service *service.SwapService
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

	deps := &Dependencies{}

	// --- Session key and signer ---
	keyHex, err := crypto.LoadSessionKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: session key: %w", err)
	}
	signer, err := crypto.NewSigner(keyHex, cfg.Chain.ChainID)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: signer: %w", err)
	}
	deps.Signer = signer

	// --- Chain client and contracts ---
	chainClient, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.ChainID)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	closers = append(closers, chainClient.Close)
	deps.ChainClient = chainClient

	contracts := chain.Contracts{
		ComposableCoW:   common.HexToAddress(cfg.Chain.ComposableCow),
		OrderHandler:    common.HexToAddress(cfg.Chain.OrderHandler),
		FallbackHandler: common.HexToAddress(cfg.Chain.FallbackHandler),
		Settlement:      common.HexToAddress(cfg.Chain.Settlement),
		VaultRelayer:    common.HexToAddress(cfg.Chain.VaultRelayer),
		MultiSend:       common.HexToAddress(cfg.Chain.MultiSend),
	}

	// The settlement domain separator keys every domain-verifier lookup, so it
	// is read once at startup rather than per plan.
	domainSeparator, err := chainClient.DomainSeparator(ctx, contracts.Settlement)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: settlement domain separator: %w", err)
	}

	// --- PostgreSQL ---
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.OrderStore = postgres.NewOrderStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage ---
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: s3: %w", err)
	}
	closers = append(closers, func() { _ = s3Client.Close() })

	deps.BlobWriter = s3blob.NewWriter(s3Client)
	deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.OrderStore, deps.AuditStore, logger)

	// --- Polymarket CLOB client ---
	var hmacAuth *crypto.HMACAuth
	if cfg.Polymarket.ApiKey != "" {
		hmacAuth = &crypto.HMACAuth{
			Key:        cfg.Polymarket.ApiKey,
			Secret:     cfg.Polymarket.ApiSecret,
			Passphrase: cfg.Polymarket.ApiPassphrase,
		}
	}
	clob := polymarket.NewClobClient(cfg.Polymarket.ClobHost, signer, hmacAuth)
	if hmacAuth == nil {
		if err := clob.DeriveAPIKey(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: derive clob api key: %w", err)
		}
	}
	deps.Clob = clob

	// --- Flows ---
	planner := batch.NewBuilder(chainClient, contracts, domainSeparator, logger)
	exec := executor.NewExecutor(chainClient, signer, contracts.MultiSend, logger)
	waiter := chain.NewWaiter(chainClient, logger)
	verifier := crypto.NewVerifier(cfg.Chain.ChainID, chainClient)
	notifier := service.NewBusNotifier(deps.SignalBus, logger)

	broadcaster := flow.NewBroadcaster(deps.OrderStore, clob, planner, exec, waiter, notifier, logger)
	broadcaster.SetBudgets(
		cfg.Flow.OrderBudget.Duration,
		cfg.Flow.SetupBudget.Duration,
		cfg.Flow.PropagationDelay.Duration,
	)
	deps.Broadcaster = broadcaster

	canceller := flow.NewCanceller(deps.OrderStore, clob, planner, exec, waiter, verifier, notifier, logger)
	canceller.SetBudget(cfg.Flow.CancelBudget.Duration)
	deps.Canceller = canceller

	reconciler := flow.NewReconciler(deps.OrderStore, clob, chainClient, deps.LockManager, deps.AuditStore, logger)
	reconciler.SetInterval(cfg.Flow.ReconcileInterval.Duration)
	deps.Reconciler = reconciler

	// --- Application facade ---
	deps.Service = service.NewSwapService(
		deps.OrderStore,
		deps.AuditStore,
		deps.LockManager,
		deps.RateLimiter,
		planner,
		broadcaster,
		canceller,
		clob,
		logger,
	)

	return deps, cleanup, nil
}
