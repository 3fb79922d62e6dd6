// Package api wires HTTP handlers, middleware and routes.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phuslu/log"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/api/handlers"
	custommiddleware "github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/api/middleware"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/config"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/repository"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/service"
)

// Services groups the services the router exposes.
type Services struct {
	System      *service.SystemService
	Portfolio   *service.PortfolioService
	Ledger      *service.LedgerService
	Suggestions *service.SuggestionService
	Users       *repository.UserRepository
}

// NewRouter creates and configures the HTTP router
func NewRouter(svc Services, cfg *config.Config, logger *log.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(custommiddleware.NewLogger(logger))
	r.Use(middleware.Recoverer)

	// CORS middleware
	corsMiddleware := custommiddleware.NewCORS(cfg.CORS.AllowedOrigins)
	r.Use(corsMiddleware.Handler)

	systemHandler := handlers.NewSystemHandler(svc.System, logger)
	portfolioHandler := handlers.NewPortfolioHandler(svc.Portfolio)
	transactionHandler := handlers.NewTransactionHandler(svc.Ledger, svc.Suggestions)
	suggestionHandler := handlers.NewSuggestionHandler(svc.Suggestions)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// System namespace
		r.Route("/system", func(r chi.Router) {
			r.Get("/health", systemHandler.Health)
			r.Get("/version", systemHandler.Version)
		})

		// Everything else acts on behalf of a caller.
		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.UserContext(svc.Users, logger))

			r.Route("/portfolio", func(r chi.Router) {
				r.Get("/", portfolioHandler.Portfolios)
				r.Post("/", portfolioHandler.CreatePortfolio)

				r.Route("/{uuid}", func(r chi.Router) {
					r.Use(custommiddleware.ValidateUUIDParam("uuid"))
					r.Get("/", portfolioHandler.GetPortfolio)
					r.Put("/", portfolioHandler.UpdatePortfolio)
					r.Delete("/", portfolioHandler.DeletePortfolio)
					r.Post("/tracking", portfolioHandler.StartTracking)

					r.Post("/assets", portfolioHandler.AddAsset)
					r.Put("/assets", portfolioHandler.ReplaceAssets)
					r.Put("/assets/{ticker}", portfolioHandler.UpdateAssetWeight)
					r.Delete("/assets/{ticker}", portfolioHandler.RemoveAsset)

					r.Get("/holdings", portfolioHandler.Holdings)
					r.Get("/drift", portfolioHandler.Drift)
					r.Get("/closed-positions", portfolioHandler.ClosedPositions)
					r.Get("/metrics", portfolioHandler.Metrics)
					r.Post("/backtest-seed", portfolioHandler.BacktestSeed)

					r.Get("/cash-balance", transactionHandler.CashBalance)
					r.Post("/cash-balance/recalculate", transactionHandler.RecalculateCashBalance)
					r.Get("/transactions", transactionHandler.TransactionPerPortfolio)
					r.Post("/transactions", transactionHandler.CreateTransaction)
					r.Delete("/transactions/pending", transactionHandler.DeletePending)

					r.Get("/suggestions/{type}", suggestionHandler.Suggestions)
					r.Post("/suggestions", suggestionHandler.CreatePending)
					r.Post("/rebalance", suggestionHandler.ExecuteRebalancing)
				})
			})

			r.Route("/transaction", func(r chi.Router) {
				r.Post("/confirm-batch", transactionHandler.ConfirmBatch)
				r.Post("/reject-batch", transactionHandler.RejectBatch)

				r.Route("/{uuid}", func(r chi.Router) {
					r.Use(custommiddleware.ValidateUUIDParam("uuid"))
					r.Post("/confirm", transactionHandler.ConfirmTransaction)
					r.Post("/reject", transactionHandler.RejectTransaction)
				})
			})

			r.Post("/backtest/open", portfolioHandler.OpenBacktestSeed)
		})
	})

	return r
}
