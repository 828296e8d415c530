package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/hiveln-bridge/bridge/config"
	"github.com/hiveln-bridge/bridge/internal/btcaddr"
	"github.com/hiveln-bridge/bridge/internal/convert"
	"github.com/hiveln-bridge/bridge/internal/database"
	"github.com/hiveln-bridge/bridge/internal/exchange"
	"github.com/hiveln-bridge/bridge/internal/hiveapi"
	"github.com/hiveln-bridge/bridge/internal/hivewatcher"
	"github.com/hiveln-bridge/bridge/internal/ledger"
	"github.com/hiveln-bridge/bridge/internal/ledgercache"
	"github.com/hiveln-bridge/bridge/internal/lnaddress"
	"github.com/hiveln-bridge/bridge/internal/lnd"
	"github.com/hiveln-bridge/bridge/internal/lnwatcher"
	"github.com/hiveln-bridge/bridge/internal/notify"
	"github.com/hiveln-bridge/bridge/internal/rates"
	"github.com/hiveln-bridge/bridge/internal/rebalance"
	"github.com/hiveln-bridge/bridge/internal/router"
	"github.com/hiveln-bridge/bridge/pkg/cache"
	"github.com/hiveln-bridge/bridge/pkg/logger"
	streams "github.com/hiveln-bridge/bridge/pkg/queue"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

var Cfg config.BridgeConfig

// exchangeProviderNames is the fallback order every fiat-price lookup
// tries: coinbase, then coingecko, then bitstamp.
var exchangeProviderNames = []string{"coinbase", "coingecko", "bitstamp"}

// rebalanceThresholds are the minimum order size and notional value the
// rebalancer pools sub-threshold conversions against before batching a
// trade. No pack exchange client publishes these live, so fixed
// conservative defaults are passed to rebalance.StaticThresholds.
const (
	rebalanceMinQty      = 10.0
	rebalanceMinNotional = 100.0
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := logger.Init(logger.GetEnv()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	_, filename, _, _ := runtime.Caller(0)
	root := filepath.Dir(filepath.Dir(filepath.Dir(filename)))
	configPath := config.Path(root).Join("config.toml")

	if err := config.Load(configPath, &Cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("bridge starting")

	var redisCfg cache.Config
	if err := copier.Copy(&redisCfg, &Cfg.Redis); err != nil {
		return fmt.Errorf("failed to copy cache config: %w", err)
	}
	if err := cache.Init(redisCfg); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cache.Close()

	var dbCfg database.Config
	if err := copier.Copy(&dbCfg, &Cfg.Database); err != nil {
		return fmt.Errorf("failed to copy database config: %w", err)
	}
	db, err := database.NewDB(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database connection: %w", err)
	}
	defer db.Close()
	if err := db.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	trackedOpRepo := database.NewTrackedOpRepository(db)
	ledgerRepo := database.NewLedgerRepository(db)
	pendingRebalanceRepo := database.NewPendingRebalanceRepository(db)
	rateRepo := database.NewRateRepository(db)
	errorCodeRepo := database.NewErrorCodeRepository(db)

	hiveClient, err := hiveapi.NewClient(Cfg.Hive.RPCNodes, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize hive client: %w", err)
	}

	lndClient, err := lnd.NewClient(lnd.Config{
		GRPCHost:              Cfg.LND.GRPCHost,
		GRPCPort:              Cfg.LND.GRPCPort,
		TLSCertPath:           Cfg.LND.TLSCertPath,
		MacaroonPath:          Cfg.LND.MacaroonPath,
		Network:               Cfg.LND.Network,
		PaymentTimeoutSeconds: Cfg.LND.PaymentTimeoutSeconds,
		MaxPaymentFeeSats:     Cfg.LND.MaxPaymentFeeSats,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to lnd: %w", err)
	}
	defer lndClient.Close()

	nodeInfo, err := lndClient.GetInfo(context.Background())
	if err != nil {
		return fmt.Errorf("failed to fetch lnd node info: %w", err)
	}
	logger.Info("connected to lnd", zap.String("alias", nodeInfo.Alias), zap.Bool("synced", nodeInfo.SyncedToChain))

	providers := make([]exchange.PriceProvider, 0, len(exchangeProviderNames))
	for _, name := range exchangeProviderNames {
		p, err := exchange.NewProvider(name, "", nil)
		if err != nil {
			return fmt.Errorf("failed to initialize %s price provider: %w", name, err)
		}
		providers = append(providers, p)
	}
	fallbackPrices := exchange.NewFallbackProvider(exchangeProviderNames, providers)

	fiat := Cfg.Exchange.QuoteAsset
	if fiat == "" {
		fiat = "USD"
	}
	trader := exchange.NewPriceTrader(fallbackPrices, fiat)

	exchangeName := Cfg.Exchange.Provider
	if exchangeName == "" {
		exchangeName = exchangeProviderNames[0]
	}
	if Cfg.Exchange.ColdStorageAddress != "" {
		valid, err := btcaddr.ValidateAddress(Cfg.Exchange.ColdStorageAddress, Cfg.LND.Network)
		if err != nil {
			return fmt.Errorf("failed to validate cold storage address: %w", err)
		}
		if !valid {
			return fmt.Errorf("configured cold storage address is not a valid %s bitcoin address", Cfg.LND.Network)
		}
	}
	ldg := ledger.New(ledgerRepo, nil)
	balanceCache := ledgercache.New(ldg)
	ldg.WithInvalidator(balanceCache)
	treasury := ledger.NewTreasury(ldg, lndClient)

	rebalancer := rebalance.New(pendingRebalanceRepo,
		rebalance.StaticThresholds{MinQty: rebalanceMinQty, MinNotional: rebalanceMinNotional},
		trader, exchangeName, ldg).WithTreasuryLock(treasury)

	resolver := lnaddress.New(nil)

	rateTTL := rates.ProdCacheTTL
	if Cfg.Dev.Enabled {
		rateTTL = rates.DevCacheTTL
	}
	rateSource := rates.New(rateRepo, noopQuoteSource{}, rateTTL)

	policyBlob := []byte("{}")
	if Cfg.Policy.BlobPath != "" {
		blob, err := os.ReadFile(Cfg.Policy.BlobPath)
		if err != nil {
			return fmt.Errorf("failed to read policy blob: %w", err)
		}
		policyBlob = blob
	}
	policyCfg, err := convert.ParsePolicyBlob(policyBlob)
	if err != nil {
		return fmt.Errorf("failed to parse policy blob: %w", err)
	}
	policy := convert.NewAtomicPolicy(policyCfg)

	engine := &convert.Engine{
		Ledger:            ldg,
		Hive:              hiveClient,
		LN:                lndClient,
		Resolver:          resolver,
		Rebalancer:        rebalancer,
		Rates:             rateSource,
		Policy:            policy,
		ServerHiveAccount: Cfg.Hive.TreasuryAccount,
		NodeSub:           nodeInfo.Alias,
	}

	redisClient := cache.Client
	streamQueue := streams.NewStreamQueue(redisClient)

	rt := router.New(trackedOpRepo, engine, streamQueue)

	catchUpLag := time.Duration(Cfg.Hive.CatchUpLagSeconds) * time.Second
	hiveWatcher := hivewatcher.New(hiveClient, trackedOpRepo, hivewatcher.Config{
		Accounts:           Cfg.Hive.Accounts,
		TrackedCustomIDs:   Cfg.Hive.TrackedCustomIDs,
		WatchedWitness:     Cfg.Hive.WatchedWitness,
		StartHeight:        uint64(Cfg.Hive.StartBlockHeight),
		CatchUpLag:         catchUpLag,
		CatchUpBatchBlocks: Cfg.Hive.CatchUpBatchBlocks,
	}).WithPublisher(streamQueue)

	lnWatcher := lnwatcher.New(lndClient, trackedOpRepo).WithPublisher(streamQueue)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 3)
	go func() { errCh <- hiveWatcher.Run(ctx) }()
	go func() { errCh <- lnWatcher.Run(ctx) }()
	go func() { errCh <- rt.Run(ctx, "router-1") }()

	dispatcher := buildDispatcher(Cfg)
	logger.SetNotifyDispatcher(dispatcher)
	machineID, err := os.Hostname()
	if err != nil || machineID == "" {
		machineID = "bridge"
	}
	logger.SetCodeDeduper(notify.NewCodeDeduper(errorCodeRepo, machineID, notify.DefaultReAlertInterval))
	logger.RebindRuntime()

	logger.Info("bridge running",
		zap.Strings("hive_accounts", Cfg.Hive.Accounts),
		zap.String("lnd_alias", nodeInfo.Alias))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logger.Error("subsystem exited unexpectedly", zap.Error(err))
		}
	}

	cancel()
	time.Sleep(3 * time.Second)
	logger.Info("bridge shut down gracefully")

	return nil
}

// noopQuoteSource reports zero quotes. No HIVE/HBD price feed exists in
// this pack; production wiring replaces this with a real QuoteSource, but
// a zero-value placeholder lets the rest of the service start and degrade
// to rates.Source's fallback-from-history path rather than failing to boot.
type noopQuoteSource struct{}

func (noopQuoteSource) CurrentQuotes(context.Context) (float64, float64, float64, float64, error) {
	return 0, 0, 0, 0, fmt.Errorf("rates: no quote source configured")
}

func buildDispatcher(cfg config.BridgeConfig) *notify.Dispatcher {
	var defaultBots []notify.Bot
	var extraBots []notify.Bot
	for i, url := range cfg.Notify.Bots {
		name := fmt.Sprintf("bot-%d", i)
		defaultBots = append(defaultBots, notify.NewWebhookBot(name, url, "text", nil))
	}
	return notify.New(defaultBots, extraBots, cfg.Notify.SilencedSources)
}
