package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/pendergraft/reportchain/internal/chains/evm"
	"github.com/pendergraft/reportchain/internal/classifier"
	"github.com/pendergraft/reportchain/internal/config"
	"github.com/pendergraft/reportchain/internal/evidence"
	"github.com/pendergraft/reportchain/internal/ledger"
	"github.com/pendergraft/reportchain/internal/middleware/ratelimit"
	"github.com/pendergraft/reportchain/internal/observability/metrics"
	"github.com/pendergraft/reportchain/internal/observability/tracing"
	"github.com/pendergraft/reportchain/internal/reports/domain"
	reportsTransport "github.com/pendergraft/reportchain/internal/reports/transport"
	"github.com/pendergraft/reportchain/internal/rewards"
	"github.com/pendergraft/reportchain/internal/server"
	"github.com/pendergraft/reportchain/internal/storage"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "reportchain-server",
		Short:   "reportchain server - scam report ledger gateway",
		Version: version,
	}

	// Default behavior (no subcommand) is to serve
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe()
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newKeysCmd())
	rootCmd.AddCommand(newJournalCmd())

	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := setupLogger(cfg)
	logger.Info("starting reportchain-server", "version", version)

	ctx := context.Background()

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	metrics.Init(cfg.Metrics.Enabled, cfg.Metrics.ServiceName)

	tp, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Metrics.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	chain, err := evm.Dial(ctx, evm.Config{
		RPCURL:         cfg.Chain.RPCURL,
		ChainID:        cfg.Chain.ChainID,
		PrivateKey:     cfg.Chain.PrivateKey,
		CallTimeout:    time.Duration(cfg.Chain.CallTimeoutSeconds) * time.Second,
		ReceiptTimeout: time.Duration(cfg.Chain.ReceiptTimeoutSeconds) * time.Second,
	}, logger)
	if err != nil {
		return fmt.Errorf("connecting to chain: %w", err)
	}
	defer chain.Close()

	svc, err := newReportService(cfg, chain, store, tp, logger)
	if err != nil {
		return err
	}

	submitLimiter, err := newSubmitLimiter(ctx, cfg.RateLimit)
	if err != nil {
		return fmt.Errorf("initializing submission limiter: %w", err)
	}
	if submitLimiter != nil {
		defer submitLimiter.close()
	}

	opts := []server.Option{
		server.WithVersion(version),
		server.WithTracing(tp.Enabled()),
		server.WithReadinessCheck("marketplace", func(ctx context.Context) error {
			return chain.CheckDeployed(ctx, common.HexToAddress(cfg.Chain.MarketplaceAddress), cfg.Chain.MarketplaceCodeHash)
		}),
		server.WithReadinessCheck("rewards", func(ctx context.Context) error {
			return chain.CheckDeployed(ctx, common.HexToAddress(cfg.Chain.RewardsAddress), "")
		}),
	}
	if submitLimiter != nil {
		opts = append(opts, server.WithSubmitLimiter(submitLimiter.Limiter))
	}

	srv := server.New(cfg, store, svc, logger, opts...)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig)
	}

	// in-flight submissions may be waiting on receipts
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Chain.ReceiptTimeoutSeconds+5)*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// newReportService binds both contracts and assembles the report service
// with its logging and tracing layers.
func newReportService(cfg *config.Config, chain *evm.Client, store storage.Store, tp *tracing.Provider, logger *slog.Logger) (reportsTransport.Service, error) {
	marketplaceABI, err := ledger.ABI()
	if err != nil {
		return nil, fmt.Errorf("parsing marketplace ABI: %w", err)
	}
	marketplace, err := chain.Contract("marketplace", cfg.Chain.MarketplaceAddress, marketplaceABI)
	if err != nil {
		return nil, err
	}

	rewardsABI, err := rewards.ABI()
	if err != nil {
		return nil, fmt.Errorf("parsing rewards ABI: %w", err)
	}
	rewardsContract, err := chain.Contract("rewards", cfg.Chain.RewardsAddress, rewardsABI)
	if err != nil {
		return nil, err
	}

	scheme, err := evidence.ParseScheme(cfg.Evidence.SelfReportScheme)
	if err != nil {
		return nil, fmt.Errorf("SELF_REPORT_EVIDENCE_SCHEME: %w", err)
	}

	impl := domain.NewService(
		classifier.New(cfg.Classifier.URL, time.Duration(cfg.Classifier.TimeoutSeconds)*time.Second, logger),
		ledger.NewGateway(marketplace, ledger.GasLimits{Submit: cfg.Chain.SubmitGasLimit, Status: cfg.Chain.StatusGasLimit}, logger),
		rewards.NewGateway(rewardsContract, cfg.Chain.RewardGasLimit, logger),
		store,
		scheme,
		logger,
	)
	return domain.LoggingMiddleware(logger)(domain.TracingMiddleware(tp.Tracer())(impl)), nil
}

type submitLimiter struct {
	ratelimit.Limiter
	close func()
}

// newSubmitLimiter returns nil when rate limiting is disabled. A Redis URL
// shares the budget across replicas; otherwise it is kept in memory.
func newSubmitLimiter(ctx context.Context, cfg config.RateLimitConfig) (*submitLimiter, error) {
	if !cfg.Enabled || cfg.SubmitRPM <= 0 {
		return nil, nil
	}

	if cfg.RedisURL != "" {
		client, err := ratelimit.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return &submitLimiter{
			Limiter: ratelimit.NewRedisLimiter(client, "reportchain:submit", cfg.SubmitRPM, cfg.SubmitBurst),
			close:   func() { _ = client.Close() },
		}, nil
	}

	rl := ratelimit.New(ratelimit.Config{
		Enabled:        true,
		RequestsPerMin: cfg.SubmitRPM,
		BurstSize:      cfg.SubmitBurst,
		CleanupMinutes: cfg.CleanupMinutes,
	})
	return &submitLimiter{Limiter: rl, close: rl.Stop}, nil
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler).With("service", cfg.Metrics.ServiceName)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
