package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"tradecore/internal/config"
	"tradecore/internal/engine"
	"tradecore/internal/httpapi"
	"tradecore/internal/ledger"
	"tradecore/internal/position"
	"tradecore/internal/reconcile"
	"tradecore/internal/store"
	"tradecore/internal/task"
	"tradecore/internal/util"
	"tradecore/internal/venue"
	"tradecore/pkg/creds"
)

func main() {
	cfgPath := "config/tradecore.yaml"
	if p := os.Getenv("TRADECORE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	// Storage: SQLite order journal plus parquet fill export. Both optional;
	// trading runs in memory without them.
	var journal store.OrderJournal
	if cfg.Storage.SQLitePath != "" {
		db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("opening order journal: %v", err)
		}
		defer db.Close()
		journal = db
	}
	var exporter store.FillExporter
	if cfg.Storage.DataDir != "" {
		exporter = store.NewParquetStore(cfg.Storage.DataDir)
	}

	var provider *creds.Static
	if cfg.Venue.APIKey != "" {
		provider = creds.NewStatic(creds.Credentials{
			APIKey:     cfg.Venue.APIKey,
			ClientID:   cfg.Venue.ClientID,
			APISecret:  cfg.Venue.APISecret,
			TOTPSecret: cfg.Venue.TOTPSecret,
		})
	} else {
		// Config carries no credentials; fall back to the environment.
		provider = creds.FromEnv()
	}

	var v venue.Venue
	if cfg.Trading.PaperMode || cfg.Venue.Name == "sim" {
		v = venue.NewSimVenue(provider, true)
	} else {
		v = venue.NewAlpacaVenue(cfg.Venue.APIKey, cfg.Venue.APISecret, cfg.Venue.BaseURL, cfg.Venue.SessionTTL.Std())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	authCtx, authCancel := context.WithTimeout(ctx, 15*time.Second)
	if err := v.Authenticate(authCtx); err != nil {
		// Not fatal: the session is re-established on the next venue call.
		logger.Warn("initial venue authentication failed", "venue", v.Name(), "error", err)
	}
	authCancel()

	led := ledger.New(v, journal)
	agg := position.NewAggregator()
	rec := reconcile.New(v, led, agg, exporter, reconcile.Config{
		Interval:         cfg.Reconcile.Interval.Std(),
		GracePeriod:      cfg.Reconcile.GracePeriod.Std(),
		MaxFetchAttempts: cfg.Reconcile.MaxFetchAttempts,
		RetryBaseDelay:   cfg.Reconcile.RetryBaseDelay.Std(),
	})

	risk := engine.NewRiskManager(cfg.Trading.MaxPositionPct, cfg.Trading.MaxDailyLossPct)
	var limiter *util.RateLimiter
	if cfg.Trading.OrdersPerMinute > 0 {
		limiter = util.NewRateLimiter(cfg.Trading.OrdersPerMinute)
	}
	eng := engine.NewEngine(v, led, rec, agg, risk, limiter)

	registry := task.NewRegistry()
	runner := task.NewRunner(registry, eng)

	go rec.Run(ctx)
	if interval := cfg.Trading.StrategyInterval.Std(); interval > 0 {
		go runner.Run(ctx, interval)
	}

	srv := httpapi.NewServer(eng, runner, logger)
	httpServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler: srv.Handler(),
	}

	go func() {
		logger.Info("tradecore server listening", "addr", httpServer.Addr, "venue", v.Name())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down tradecore server")

	// Drain in-flight requests; an in-flight submit is never abandoned.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
