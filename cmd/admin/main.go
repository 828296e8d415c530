package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/hiveln-bridge/bridge/config"
	"github.com/hiveln-bridge/bridge/internal/database"
	"github.com/hiveln-bridge/bridge/internal/ledger"
	"github.com/hiveln-bridge/bridge/internal/ledgercache"
	"github.com/hiveln-bridge/bridge/internal/lnd"
	"github.com/hiveln-bridge/bridge/pkg/cache"
	"github.com/hiveln-bridge/bridge/pkg/logger"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

var Cfg config.BridgeConfig

// httpAddr is the admin UI's listen address. No pack repo runs an HTTP
// server, so this is stdlib net/http rather than adopting a router
// framework none of the retrieved repos demonstrate.
const httpAddr = ":8081"

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

	ledgerRepo := database.NewLedgerRepository(db)
	ldg := ledger.New(ledgerRepo, nil)
	ldg.WithInvalidator(ledgercache.New(ldg))
	treasury := ledger.NewTreasury(ldg, lndClient)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /treasury", treasuryHandler(treasury))
	mux.HandleFunc("GET /accounts", accountsHandler(ldg))

	server := &http.Server{Addr: httpAddr, Handler: mux}
	go func() {
		logger.Info("admin http server listening", zap.String("addr", httpAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin http server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func treasuryHandler(treasury *ledger.Treasury) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := treasury.Snapshot(r.Context())
		if err != nil {
			logger.Error("admin: treasury snapshot failed", zap.Error(err))
			http.Error(w, "treasury snapshot unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	}
}

func accountsHandler(ldg *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := ldg.ListAccounts(r.Context())
		if err != nil {
			logger.Error("admin: list accounts failed", zap.Error(err))
			http.Error(w, "accounts unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(accounts)
	}
}
