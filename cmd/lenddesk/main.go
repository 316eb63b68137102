package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"LendDesk/internal/history"
	"LendDesk/internal/ledger"
	"LendDesk/internal/observability"
	"LendDesk/internal/price"
	"LendDesk/internal/repay"
	"LendDesk/internal/server"
)

// Config is loaded from environment variables.
type Config struct {
	// Remote endpoints
	ChainRPCURL   string
	SignerRPCURL  string
	PriceFeedURL  string
	BearerToken   string
	RPCTimeout    time.Duration
	ConfirmBudget time.Duration

	// Protocol constants for this deployment
	ProtocolFeeRate  int64
	CustodyRecipient string
	FeeRecipient     string

	// Price cache
	PriceTTL time.Duration

	// Optional infrastructure
	PostgresURL string // empty disables the attempt history
	NATSURL     string // empty disables the pushed price feed

	// Listeners
	HTTPAddr    string
	MetricsAddr string

	MigrationsDir string
}

func DefaultConfig() Config {
	return Config{
		ChainRPCURL:      envOrDefault("LEND_CHAIN_RPC_URL", "http://localhost:8545"),
		SignerRPCURL:     envOrDefault("LEND_SIGNER_RPC_URL", "http://localhost:8550"),
		PriceFeedURL:     envOrDefault("LEND_PRICE_FEED_URL", "http://localhost:8560"),
		BearerToken:      os.Getenv("LEND_RPC_BEARER_TOKEN"),
		RPCTimeout:       envDurationOrDefault("LEND_RPC_TIMEOUT", 10*time.Second),
		ConfirmBudget:    envDurationOrDefault("LEND_CONFIRMATION_BUDGET", 2*time.Minute),
		ProtocolFeeRate:  int64(envIntOrDefault("LEND_PROTOCOL_FEE_RATE", 50_000)),
		CustodyRecipient: envOrDefault("LEND_CUSTODY_RECIPIENT", ""),
		FeeRecipient:     envOrDefault("LEND_FEE_RECIPIENT", ""),
		PriceTTL:         envDurationOrDefault("LEND_PRICE_TTL", 30*time.Second),
		PostgresURL:      os.Getenv("LEND_POSTGRES_DSN"),
		NATSURL:          os.Getenv("LEND_NATS_URL"),
		HTTPAddr:         envOrDefault("LEND_HTTP_ADDR", ":8080"),
		MetricsAddr:      envOrDefault("LEND_METRICS_ADDR", ":9091"),
		MigrationsDir:    envOrDefault("LEND_MIGRATIONS_DIR", "migrations"),
	}
}

func main() {
	logger := observability.NewLogger("main")
	logger.Info().Msg("lenddesk starting")

	cfg := DefaultConfig()
	if !common.IsHexAddress(cfg.CustodyRecipient) {
		logger.Fatal().Str("value", cfg.CustodyRecipient).Msg("LEND_CUSTODY_RECIPIENT must be a hex address")
	}
	if !common.IsHexAddress(cfg.FeeRecipient) {
		logger.Fatal().Str("value", cfg.FeeRecipient).Msg("LEND_FEE_RECIPIENT must be a hex address")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Chain and signer RPC ---
	chainClient, err := ledger.NewRPCClient(ledger.RPCConfig{
		BaseURL:     cfg.ChainRPCURL,
		BearerToken: cfg.BearerToken,
		Timeout:     cfg.RPCTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("chain rpc client")
	}
	signerClient, err := ledger.NewRPCClient(ledger.RPCConfig{
		BaseURL: cfg.SignerRPCURL,
		Timeout: cfg.RPCTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("signer rpc client")
	}
	chain := ledger.NewRPCLedger(chainClient)
	signer := ledger.NewRPCSigner(signerClient)

	// --- Prices ---
	source, err := price.NewHTTPSource(cfg.PriceFeedURL, cfg.RPCTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("price source")
	}
	prices := price.NewCache(source, cfg.PriceTTL, observability.NewLogger("price"))
	prices.SetMetrics(metrics)

	// --- Optional Postgres attempt history ---
	var store *history.Store
	if cfg.PostgresURL != "" {
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres open")
		}
		defer db.Close()

		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			logger.Fatal().Err(err).Msg("postgres ping")
		}
		migrator := history.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrate"))
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
		store = history.NewStore(db)
		logger.Info().Msg("attempt history enabled")
	} else {
		logger.Info().Msg("attempt history disabled (LEND_POSTGRES_DSN not set)")
	}

	// --- Optional NATS price feed ---
	var feed *price.Feed
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()

		js, err := jetstream.New(nc)
		if err != nil {
			logger.Fatal().Err(err).Msg("jetstream")
		}
		if err := price.EnsureStream(ctx, js); err != nil {
			logger.Fatal().Err(err).Msg("ensure price stream")
		}
		feed = price.NewFeed(js, prices, observability.NewLogger("pricefeed"))
		if err := feed.Subscribe(ctx); err != nil {
			logger.Fatal().Err(err).Msg("subscribe price feed")
		}
		defer feed.Stop()
		logger.Info().Msg("pushed price updates enabled")
	}

	// --- Orchestrator ---
	orch := repay.NewOrchestrator(chain, signer, repay.Config{
		ProtocolFeeRate:    cfg.ProtocolFeeRate,
		CustodyRecipient:   common.HexToAddress(cfg.CustodyRecipient),
		FeeRecipient:       common.HexToAddress(cfg.FeeRecipient),
		ConfirmationBudget: cfg.ConfirmBudget,
	}, store, observability.NewLogger("repay"), metrics)

	// --- Metrics server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server")
		}
	}()

	// --- HTTP API ---
	api := server.New(cfg.HTTPAddr, server.Deps{
		Chain:        chain,
		Orchestrator: orch,
		Prices:       prices,
		Store:        store,
		Health:       healthChecker,
		Metrics:      metrics,
		Logger:       observability.NewLogger("http"),
	})

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- api.Start(ctx)
	}()

	healthChecker.SetReady(true)
	logger.Info().Msg("lenddesk ready")

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
		if err := <-apiErr; err != nil {
			logger.Error().Err(err).Msg("http server")
		}
	case err := <-apiErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server")
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsServer.Shutdown(shutdownCtx)

	logger.Info().Msg("lenddesk stopped")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOrDefault(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
