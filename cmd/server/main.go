package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/api"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/config"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/database"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/logging"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/repository"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/scheduler"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/service"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/version"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/yahoo"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	log.DefaultLogger = *logger

	// Open database connection
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	logger.Info().Str("path", cfg.Database.Path).Str("version", version.Version).Msg("connected to database")

	// Create repositories
	userRepo := repository.NewUserRepository(db)
	portfolioRepo := repository.NewPortfolioRepository(db)
	allocationRepo := repository.NewAllocationRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	metricsRepo := repository.NewMetricsRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	prices := yahoo.NewFinanceClient(cfg.Prices.RateLimit, cfg.Prices.Timeout)

	// Create services
	allocationService := service.NewAllocationService(
		portfolioRepo,
		allocationRepo,
		transactionRepo,
		prices,
		cfg.Engine.DriftThreshold,
	)
	metricsService := service.NewMetricsService(
		allocationService,
		transactionRepo,
		metricsRepo,
		cfg.Engine.MetricsFreshness,
		logger,
	)
	ledgerService := service.NewLedgerService(
		db,
		portfolioRepo,
		transactionRepo,
		outboxRepo,
		prices,
		metricsService,
		logger,
	)
	suggestionService := service.NewSuggestionService(
		db,
		portfolioRepo,
		transactionRepo,
		allocationService,
		ledgerService,
		logger,
	)
	regenerationService := service.NewRegenerationService(
		db,
		outboxRepo,
		transactionRepo,
		portfolioRepo,
		allocationService,
		suggestionService,
		cfg.Regeneration.SettleDelay,
		cfg.Regeneration.MaxAttempts,
		logger,
	)
	portfolioService, err := service.NewPortfolioService(
		db,
		userRepo,
		portfolioRepo,
		allocationRepo,
		transactionRepo,
		outboxRepo,
		prices,
		allocationService,
		metricsService,
		service.PortfolioServiceOptions{
			FreePortfolioLimit: cfg.Engine.FreePortfolioLimit,
			BacktestKey:        cfg.Backtest.FernetKey,
			BacktestSeedTTL:    cfg.Backtest.SeedTTL,
		},
		logger,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create portfolio service")
	}
	systemService := service.NewSystemService(db, outboxRepo)

	// Background jobs
	jobs := scheduler.New(logger)
	if err := jobs.Add("regeneration", cfg.Regeneration.Schedule, regenerationService.ProcessPending); err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule regeneration")
	}
	if err := jobs.Add("metrics-sweep", cfg.Regeneration.SweepSchedule, metricsService.RefreshStale); err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule metrics sweep")
	}
	jobs.Start()

	// Create router
	router := api.NewRouter(api.Services{
		System:      systemService,
		Portfolio:   portfolioService,
		Ledger:      ledgerService,
		Suggestions: suggestionService,
		Users:       userRepo,
	}, cfg, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	jobs.Stop(ctx)

	logger.Info().Msg("server exited")
}
